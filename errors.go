package tenancy

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	TextCodeUnauthorizedTenantSwitch = "UNAUTHORIZED_TENANT_SWITCH"
	TextCodeInvalidTenantID          = "INVALID_TENANT_ID"
	TextCodeNoSession                = "NO_ACTIVE_SESSION"
	TextCodeSignOutFailed            = "SIGN_OUT_FAILED"
	TextCodeMissingCollaborator      = "MISSING_COLLABORATOR"
	TextCodeWriteForbidden           = "WRITE_FORBIDDEN"
	TextCodePlatformAdminRequired    = "PLATFORM_ADMIN_REQUIRED"
)

// ErrUnauthorizedTenantSwitch describes a selection of a tenant outside the
// resolved memberships. It is logged, never returned to the UI.
var ErrUnauthorizedTenantSwitch = goerrors.New("attempted unauthorized tenant switch", goerrors.CategoryAuthz).
	WithTextCode(TextCodeUnauthorizedTenantSwitch).
	WithCode(goerrors.CodeForbidden)

// ErrInvalidTenantID describes an empty or malformed tenant id.
var ErrInvalidTenantID = goerrors.New("invalid tenant id", goerrors.CategoryBadInput).
	WithTextCode(TextCodeInvalidTenantID).
	WithCode(goerrors.CodeBadRequest)

// ErrNoSession is returned by operations that require a resolved session.
var ErrNoSession = goerrors.New("no active session", goerrors.CategoryAuth).
	WithTextCode(TextCodeNoSession).
	WithCode(goerrors.CodeUnauthorized)

// ErrWriteForbidden is returned when the active role cannot write to a section.
var ErrWriteForbidden = goerrors.New("write access denied for the active role", goerrors.CategoryAuthz).
	WithTextCode(TextCodeWriteForbidden).
	WithCode(goerrors.CodeForbidden)

// ErrPlatformAdminRequired is returned when a route needs a platform administrator.
var ErrPlatformAdminRequired = goerrors.New("platform administrator required", goerrors.CategoryAuthz).
	WithTextCode(TextCodePlatformAdminRequired).
	WithCode(goerrors.CodeForbidden)

// ErrSignOutFailed wraps identity provider sign-out failures.
var ErrSignOutFailed = goerrors.New("sign out failed", goerrors.CategoryOperation).
	WithTextCode(TextCodeSignOutFailed).
	WithCode(goerrors.CodeInternal)

// ErrMissingCollaborator is returned when the engine is built without a required port.
var ErrMissingCollaborator = goerrors.New("missing collaborator", goerrors.CategoryInternal).
	WithTextCode(TextCodeMissingCollaborator).
	WithCode(goerrors.CodeInternal)

// OnboardingReason tags why a tenant could not be resolved.
type OnboardingReason string

const (
	ReasonNoProfile          OnboardingReason = "no_profile"
	ReasonNoTenantLink       OnboardingReason = "no_tenant_link"
	ReasonTenantNotFound     OnboardingReason = "tenant_not_found"
	ReasonTenantIncomplete   OnboardingReason = "tenant_incomplete"
	ReasonTenantPending      OnboardingReason = "tenant_pending"
	ReasonTenantRejected     OnboardingReason = "tenant_rejected"
	ReasonNetworkUnreachable OnboardingReason = "network_unreachable"
	ReasonPermissionDenied   OnboardingReason = "permission_denied"
	ReasonUnknown            OnboardingReason = "unknown"
)

var onboardingMessages = map[OnboardingReason]string{
	ReasonNoProfile:          "Your user profile could not be found. Contact your administrator to finish setting up your account.",
	ReasonNoTenantLink:       "Your account is not linked to any company yet. Ask your company owner for an invitation.",
	ReasonTenantNotFound:     "The company linked to your account no longer exists.",
	ReasonTenantIncomplete:   "The company linked to your account has incomplete information. Contact support.",
	ReasonTenantPending:      "Your company is pending approval. You will be able to sign in once it is approved.",
	ReasonTenantRejected:     "Your company registration was rejected. Contact support for more details.",
	ReasonNetworkUnreachable: "We could not reach the server. Check your connection and try again.",
	ReasonPermissionDenied:   "You do not have permission to access this company's data.",
	ReasonUnknown:            "Something went wrong while loading your company. Try signing in again.",
}

// Message returns the user facing message for the reason.
func (r OnboardingReason) Message() string {
	if msg, ok := onboardingMessages[r]; ok {
		return msg
	}
	return onboardingMessages[ReasonUnknown]
}

// IsTransport reports whether the reason stems from a collaborator failure
// rather than the user's onboarding data.
func (r OnboardingReason) IsTransport() bool {
	switch r {
	case ReasonNetworkUnreachable, ReasonPermissionDenied, ReasonUnknown:
		return true
	default:
		return false
	}
}

// OnboardingError is a blocking, non-fatal resolution outcome.
type OnboardingError struct {
	Reason  OnboardingReason
	Message string
	Err     error
}

// NewOnboardingError builds an OnboardingError using the reason's default message.
func NewOnboardingError(reason OnboardingReason, cause error) *OnboardingError {
	return &OnboardingError{
		Reason:  reason,
		Message: reason.Message(),
		Err:     cause,
	}
}

func (e *OnboardingError) Error() string {
	if e == nil {
		return "onboarding error"
	}
	if e.Err != nil {
		return fmt.Sprintf("onboarding blocked (%s): %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("onboarding blocked (%s)", e.Reason)
}

func (e *OnboardingError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches other onboarding errors by reason.
func (e *OnboardingError) Is(target error) bool {
	var other *OnboardingError
	if !stderrors.As(target, &other) || other == nil || e == nil {
		return false
	}
	return other.Reason == e.Reason
}

// ToRichError converts the onboarding error into a go-errors value suitable
// for transport.
func (e *OnboardingError) ToRichError() *goerrors.Error {
	if e == nil {
		return nil
	}

	category, code := goerrors.CategoryAuth, goerrors.CodeForbidden
	switch e.Reason {
	case ReasonNoProfile, ReasonTenantNotFound:
		category, code = goerrors.CategoryNotFound, goerrors.CodeNotFound
	case ReasonTenantIncomplete:
		category, code = goerrors.CategoryValidation, goerrors.CodeConflict
	case ReasonNetworkUnreachable:
		category, code = goerrors.CategoryOperation, goerrors.CodeInternal
	case ReasonPermissionDenied:
		category, code = goerrors.CategoryAuthz, goerrors.CodeForbidden
	case ReasonUnknown:
		category, code = goerrors.CategoryInternal, goerrors.CodeInternal
	}

	meta := map[string]any{"reason": string(e.Reason)}
	if e.Err != nil {
		meta["cause"] = e.Err.Error()
	}

	rich := goerrors.New(e.Message, category).
		WithTextCode(strings.ToUpper(string(e.Reason))).
		WithCode(code).
		WithMetadata(meta)
	if e.Err != nil {
		rich.Source = e.Err
	}
	return rich
}

// codedError is implemented by collaborator errors exposing a string code,
// e.g. "permission-denied" or "unavailable".
type codedError interface {
	Code() string
}

// statusError is implemented by collaborator errors exposing an HTTP status.
type statusError interface {
	StatusCode() int
}

var networkSignatures = []string{
	"network",
	"unavailable",
	"unreachable",
	"connection refused",
	"connection reset",
	"no such host",
	"timeout",
	"timed out",
	"deadline exceeded",
	"offline",
	"eof",
}

var permissionSignatures = []string{
	"permission-denied",
	"permission denied",
	"permission_denied",
	"insufficient permissions",
	"missing or insufficient permissions",
	"forbidden",
	"unauthorized",
	"unauthenticated",
}

// ClassifyFailure maps an arbitrary collaborator failure into the transport
// part of the onboarding taxonomy.
func ClassifyFailure(err error) OnboardingReason {
	if err == nil {
		return ReasonUnknown
	}

	var onboarding *OnboardingError
	if stderrors.As(err, &onboarding) && onboarding != nil {
		return onboarding.Reason
	}

	if stderrors.Is(err, context.DeadlineExceeded) {
		return ReasonNetworkUnreachable
	}

	var netErr net.Error
	if stderrors.As(err, &netErr) {
		return ReasonNetworkUnreachable
	}

	var rich *goerrors.Error
	if goerrors.As(err, &rich) && rich != nil {
		switch rich.Category {
		case goerrors.CategoryAuth, goerrors.CategoryAuthz:
			return ReasonPermissionDenied
		case goerrors.CategoryOperation:
			return ReasonNetworkUnreachable
		}
	}

	var status statusError
	if stderrors.As(err, &status) {
		switch status.StatusCode() {
		case http.StatusUnauthorized, http.StatusForbidden:
			return ReasonPermissionDenied
		case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return ReasonNetworkUnreachable
		}
	}

	var coded codedError
	if stderrors.As(err, &coded) {
		if reason, ok := matchSignature(coded.Code()); ok {
			return reason
		}
	}

	if reason, ok := matchSignature(err.Error()); ok {
		return reason
	}

	return ReasonUnknown
}

func matchSignature(s string) (OnboardingReason, bool) {
	s = strings.ToLower(s)
	for _, sig := range permissionSignatures {
		if strings.Contains(s, sig) {
			return ReasonPermissionDenied, true
		}
	}
	for _, sig := range networkSignatures {
		if strings.Contains(s, sig) {
			return ReasonNetworkUnreachable, true
		}
	}
	return "", false
}
