package main

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-logger/glog"
	persistence "github.com/goliatone/go-persistence-bun"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
	tenancy "github.com/goliatone/go-tenancy"
	"github.com/goliatone/go-tenancy/activitymap"
	"github.com/goliatone/go-tenancy/kvstore"
	"github.com/goliatone/go-tenancy/middleware/tokenware"
	"github.com/goliatone/go-tenancy/provider/kratos"
	"github.com/goliatone/go-tenancy/provider/token"
	"github.com/goliatone/go-tenancy/repository"
	_ "github.com/mattn/go-sqlite3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
)

// signingKeyID is the kid expected on tokens signed with the shared key.
const signingKeyID = "default"

//go:embed data/fixtures/*.yml
var fixturesFS embed.FS

type App struct {
	config   *tenancy.Config
	bunDB    *bun.DB
	store    *repository.Store
	identity tenancy.IdentityClient
	kv       tenancy.KeyValueStore
	registry *prometheus.Registry
	engine   *tenancy.Engine
	srv      router.Server[*fiber.App]
	metrics  *http.Server
	logger   *glog.BaseLogger
	closers  []func() error
}

func (a *App) Config() *tenancy.Config {
	return a.config
}

func (a *App) SetDB(db *bun.DB) {
	a.bunDB = db
}

func (a *App) SetLogger(lgr *glog.BaseLogger) *App {
	a.logger = lgr
	return a
}

func (a *App) GetLogger(name string) glog.Logger {
	return a.logger.GetLogger(name)
}

func (a *App) SetHTTPServer(srv router.Server[*fiber.App]) {
	a.srv = srv
}

func (a *App) onClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.GetLogger("app").Warn("shutdown step failed", "error", err)
		}
	}
}

func main() {

	cfg, err := tenancy.LoadConfig()
	if err != nil {
		panic(err)
	}

	lgr := glog.NewLogger(
		glog.WithLoggerTypePretty(),
		glog.WithLevel(glog.Trace),
		glog.WithName("tenancyd"),
		glog.WithAddSource(false),
		glog.WithRichErrorHandler(errors.ToSlogAttributes),
	)

	fmt.Println("============")
	printable := *cfg
	if printable.JWTSigningKey != "" {
		printable.JWTSigningKey = "***"
	}
	fmt.Println(print.MaybeHighlightJSON(printable))
	fmt.Println("============")

	app := &App{config: cfg}
	app.SetLogger(lgr)

	ctx := context.Background()

	if err := WithPersistence(ctx, app); err != nil {
		panic(err)
	}

	if err := WithIdentity(ctx, app); err != nil {
		panic(err)
	}

	if err := WithKeyValueStore(ctx, app); err != nil {
		panic(err)
	}

	WithMetrics(app)

	if err := WithEngine(ctx, app); err != nil {
		panic(err)
	}

	if err := WithHTTPServer(ctx, app); err != nil {
		panic(err)
	}

	TenantRoutes(app)
	AdminRoutes(app)

	app.srv.Serve(cfg.HTTPAddr)

	sig := WaitExitSignal()
	app.GetLogger("app").Info("shutting down", "signal", sig.String())
	app.Close()
}

func WithPersistence(ctx context.Context, app *App) error {
	cfg := app.Config().Persistence()

	sqldb, err := sql.Open(cfg.GetDriver(), cfg.GetServer())
	if err != nil {
		return err
	}

	for _, model := range repository.Models() {
		persistence.RegisterModel(model)
	}

	client, err := persistence.New(cfg, sqldb, sqlitedialect.New())
	if err != nil {
		return err
	}
	client.SetLogger(app.GetLogger("persistence"))

	if err := repository.CreateSchema(ctx, client.DB()); err != nil {
		return err
	}

	if app.Config().DatabaseSeed {
		client.RegisterFixtures(fixturesFS).AddOptions(persistence.WithTrucateTables())
		if err := client.Seed(ctx); err != nil {
			return err
		}
	}

	store := repository.NewStore(client.DB())
	if err := store.Validate(); err != nil {
		return err
	}

	app.SetDB(client.DB())
	app.store = store
	app.onClose(client.DB().Close)
	return nil
}

// WithIdentity picks the token client when token verification is configured
// and the Kratos client otherwise.
func WithIdentity(_ context.Context, app *App) error {
	cfg := app.Config()

	if cfg.JWKSURL != "" || cfg.JWTSigningKey != "" {
		tcfg := token.Config{
			JWKSURL:         cfg.JWKSURL,
			RefreshInterval: cfg.JWKSRefresh,
			Issuer:          cfg.JWTIssuer,
			Audience:        cfg.JWTAudience,
		}
		if cfg.JWTSigningKey != "" {
			tcfg.SigningKeys = map[string][]byte{signingKeyID: []byte(cfg.JWTSigningKey)}
		}

		client, err := token.NewClient(tcfg, token.WithLogger(app.GetLogger("identity:token")))
		if err != nil {
			return err
		}
		app.identity = client
		app.onClose(func() error {
			client.Close()
			return nil
		})
		return nil
	}

	app.identity = kratos.NewClient(kratos.Config{
		BaseURL:      cfg.KratosURL,
		Timeout:      cfg.KratosTimeout,
		PollInterval: cfg.KratosPollInterval,
	}, kratos.WithLogger(app.GetLogger("identity:kratos")))
	return nil
}

func WithKeyValueStore(ctx context.Context, app *App) error {
	cfg := app.Config()
	if cfg.RedisAddr == "" {
		app.kv = tenancy.NewMemoryStore()
		return nil
	}

	store := kvstore.NewRedisStore(
		redis.NewClient(&redis.Options{Addr: cfg.RedisAddr}),
		kvstore.WithPrefix(cfg.RedisPrefix),
		kvstore.WithLogger(app.GetLogger("kv:redis")),
	)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := store.Ping(pingCtx); err != nil {
		return err
	}

	app.kv = store
	app.onClose(store.Close)
	return nil
}

func WithMetrics(app *App) {
	if !app.Config().MetricsEnabled {
		return
	}

	app.registry = prometheus.NewRegistry()
	app.metrics = &http.Server{
		Addr:              app.Config().MetricsAddr,
		Handler:           tenancy.MetricsHandler(app.registry),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := app.metrics.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			app.GetLogger("metrics").Error("metrics server stopped", "error", err)
		}
	}()

	app.onClose(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return app.metrics.Shutdown(ctx)
	})
}

func WithEngine(ctx context.Context, app *App) error {
	activityLogger := app.GetLogger("activity")

	opts := append(app.Config().EngineOptions(),
		tenancy.WithLoggerProvider(app.logger),
		tenancy.WithKeyValueStore(app.kv),
		tenancy.WithActivitySink(activitymap.Sink(func(_ context.Context, event activitymap.Normalized) error {
			activityLogger.Info("activity",
				"verb", event.Verb,
				"actor", event.ActorID,
				"object_type", event.ObjectType,
				"object_id", event.ObjectID,
			)
			return nil
		})),
	)
	if app.registry != nil {
		opts = append(opts, tenancy.WithMetrics(tenancy.NewCollector(app.registry)))
	}

	engine, err := tenancy.NewEngine(app.identity, app.store, opts...)
	if err != nil {
		return err
	}

	if err := engine.Start(ctx); err != nil {
		return err
	}

	app.engine = engine
	app.onClose(engine.Close)
	return nil
}

func WithHTTPServer(_ context.Context, app *App) error {
	srv := router.NewFiberAdapter(func(a *fiber.App) *fiber.App {
		return router.DefaultFiberOptions(fiber.New(fiber.Config{
			UnescapePath:      true,
			EnablePrintRoutes: true,
			StrictRouting:     false,
		}))
	})

	srv.Router().WithLogger(app.GetLogger("router"))

	if client, ok := app.identity.(*token.Client); ok {
		srv.Router().Use(tokenware.New(tokenware.Config{
			Sink:     client,
			Optional: true,
			Logger:   app.GetLogger("identity:bearer"),
		}))
	}

	opts := []tenancy.SessionControllerOption{
		tenancy.WithControllerEngine(app.engine),
		tenancy.WithControllerLogger(app.GetLogger("session:ctrl")),
	}

	if client, ok := app.identity.(*kratos.Client); ok {
		srv.Router().Use(SessionTokenIdentity(client.SessionToken, app.engine))
		opts = append(opts, tenancy.WithControllerSessionToken(client.SessionToken))
	}

	tenancy.RegisterSessionRoutes(srv.Router(), opts...)

	app.SetHTTPServer(srv)
	return nil
}

func TenantRoutes(app *App) {
	p := app.srv.Router()

	active := tenancy.SessionMiddleware(app.engine, tenancy.SessionMiddlewareConfig{
		RequireActive: true,
	})

	p.Get("/tenant", TenantShow(app), active)
	p.Post("/invoices", SectionWrite(tenancy.SectionInvoices), active, tenancy.RequireWrite(app.engine, tenancy.SectionInvoices))
	p.Post("/settings", SectionWrite(tenancy.SectionSettings), active, tenancy.RequireWrite(app.engine, tenancy.SectionSettings))
	p.Post("/users", SectionWrite(tenancy.SectionUsers), active, tenancy.RequireWrite(app.engine, tenancy.SectionUsers))
}

func TenantShow(app *App) router.HandlerFunc {
	return func(ctx router.Context) error {
		session, ok := tenancy.GetRouterSession(ctx, "")
		if !ok {
			return ctx.JSON(router.StatusUnauthorized, router.ViewContext{"error": "no active tenant"})
		}
		return ctx.JSON(router.StatusOK, router.ViewContext{
			"tenant_id": session.ActiveTenantID,
			"role":      session.ActiveRole,
			"isolation": app.engine.IsolationReport(),
		})
	}
}

func SectionWrite(section tenancy.Section) router.HandlerFunc {
	return func(ctx router.Context) error {
		tenantID, _ := tenancy.TenantFromContext(ctx.Context())
		return ctx.JSON(router.StatusOK, router.ViewContext{
			"section":   section,
			"tenant_id": tenantID,
			"written":   true,
		})
	}
}

func WaitExitSignal() os.Signal {
	ch := make(chan os.Signal, 3)
	signal.Notify(ch,
		syscall.SIGINT,
		syscall.SIGQUIT,
		syscall.SIGTERM,
	)
	return <-ch
}
