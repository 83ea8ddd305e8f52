package tenancy

import (
	"context"
	"fmt"
	"strings"

	"github.com/goliatone/go-logger/glog"
)

// Logger is the structured logger contract shared with go-logger.
type Logger = glog.Logger

// LoggerProvider hands out named loggers.
type LoggerProvider = glog.LoggerProvider

// ResolveLogger returns the provider and the named logger to use. An explicit
// logger wins over the provider; a provider returning nil falls back to the
// explicit logger or the default one.
func ResolveLogger(name string, provider LoggerProvider, logger Logger) (LoggerProvider, Logger) {
	if provider != nil {
		if named := provider.GetLogger(name); named != nil {
			return provider, named
		}
	}

	if logger == nil {
		logger = defaultLogger()
	}

	return staticProvider{logger: logger}, logger
}

type staticProvider struct {
	logger Logger
}

func (p staticProvider) GetLogger(string) Logger {
	return p.logger
}

func defaultLogger() Logger {
	return defLogger{}
}

type defLogger struct{}

func (d defLogger) Trace(msg string, args ...any) {}

func (d defLogger) Debug(msg string, args ...any) {}

func (d defLogger) Info(msg string, args ...any) {
	fmt.Print(format("INF", msg, args...))
}

func (d defLogger) Warn(msg string, args ...any) {
	fmt.Print(format("WRN", msg, args...))
}

func (d defLogger) Error(msg string, args ...any) {
	fmt.Print(format("ERR", msg, args...))
}

func (d defLogger) Fatal(msg string, args ...any) {
	fmt.Print(format("FTL", msg, args...))
}

func (d defLogger) WithContext(context.Context) Logger {
	return d
}

func format(level, msg string, args ...any) string {
	var b strings.Builder
	b.WriteString("[")
	b.WriteString(level)
	b.WriteString("] TENANCY ")
	b.WriteString(msg)
	for i := 0; i+1 < len(args); i += 2 {
		fmt.Fprintf(&b, " %v=%v", args[i], args[i+1])
	}
	if len(args)%2 == 1 {
		fmt.Fprintf(&b, " %v", args[len(args)-1])
	}
	b.WriteString("\n")
	return b.String()
}
