package tenancy

import (
	"fmt"

	goerrors "github.com/goliatone/go-errors"
)

const textCodeInvalidStateTransition = "INVALID_RESOLUTION_STATE_TRANSITION"

// ErrInvalidStateTransition is returned when the engine attempts a transition
// the resolution lifecycle does not allow.
var ErrInvalidStateTransition = goerrors.New("invalid resolution state transition", goerrors.CategoryValidation).
	WithTextCode(textCodeInvalidStateTransition).
	WithCode(goerrors.CodeConflict)

// StateKind is the externally observable resolution state.
type StateKind string

const (
	StateUnresolved           StateKind = "unresolved"
	StateResolving            StateKind = "resolving"
	StateOnboardingBlocked    StateKind = "onboarding_blocked"
	StateAwaitingTenantChoice StateKind = "awaiting_tenant_choice"
	StateNoMembership         StateKind = "no_membership"
	StateActive               StateKind = "active"
)

// every state may move to Unresolved (sign-out) and Resolving (new identity)
var stateTransitions = map[StateKind]map[StateKind]struct{}{
	StateUnresolved: {
		StateResolving: {},
	},
	StateResolving: {
		StateOnboardingBlocked:    {},
		StateAwaitingTenantChoice: {},
		StateNoMembership:         {},
		StateActive:               {},
	},
	StateOnboardingBlocked: {
		StateNoMembership: {},
	},
	StateAwaitingTenantChoice: {
		StateActive: {},
	},
	StateNoMembership: {
		StateActive: {},
	},
	StateActive: {
		StateAwaitingTenantChoice: {},
		StateNoMembership:         {},
		StateActive:               {},
	},
}

// canTransition reports whether from may move to to.
func canTransition(from, to StateKind) bool {
	if to == StateUnresolved || to == StateResolving {
		return true
	}
	next, ok := stateTransitions[from]
	if !ok {
		return false
	}
	_, ok = next[to]
	return ok
}

func transitionError(from, to StateKind) error {
	return goerrors.Wrap(
		fmt.Errorf("%s -> %s", from, to),
		goerrors.CategoryValidation,
		ErrInvalidStateTransition.Message,
	).WithTextCode(textCodeInvalidStateTransition).
		WithMetadata(map[string]any{
			"from": string(from),
			"to":   string(to),
		})
}

// State is an immutable snapshot of the engine.
//
// Session is set only in Active; OnboardingError only in OnboardingBlocked.
// AwaitingTenantChoice carries a Session without active tenant for regular
// users, and no Session for platform administrators.
type State struct {
	Kind            StateKind        `json:"kind"`
	Identity        *Identity        `json:"identity,omitempty"`
	Session         *Session         `json:"session,omitempty"`
	OnboardingError *OnboardingError `json:"-"`
	PlatformAdmin   bool             `json:"platform_admin,omitempty"`
}

// ActiveTenantID returns the active tenant or "" outside the Active state.
func (s State) ActiveTenantID() string {
	if s.Kind != StateActive || s.Session == nil {
		return ""
	}
	return s.Session.ActiveTenantID
}

// ActiveRole returns the active role or RoleNone outside the Active state.
func (s State) ActiveRole() Role {
	if s.Kind != StateActive || s.Session == nil {
		return RoleNone
	}
	return s.Session.ActiveRole
}

// Settled reports whether resolution finished for the current identity.
func (s State) Settled() bool {
	return s.Kind != StateResolving && s.Kind != StateUnresolved
}

func (s State) clone() State {
	out := s
	out.Session = s.Session.Clone()
	if s.Identity != nil {
		id := *s.Identity
		out.Identity = &id
	}
	return out
}

// validate enforces the single observable state invariant.
func (s State) validate() error {
	switch s.Kind {
	case StateActive:
		if s.Session == nil || s.OnboardingError != nil {
			return fmt.Errorf("active state requires a session and no onboarding error")
		}
		if s.Session.ActiveTenantID == "" {
			return fmt.Errorf("active state requires an active tenant")
		}
		return s.Session.Validate()
	case StateOnboardingBlocked:
		if s.OnboardingError == nil || s.Session != nil {
			return fmt.Errorf("onboarding blocked state requires an onboarding error and no session")
		}
	default:
		if s.OnboardingError != nil {
			return fmt.Errorf("%s state cannot carry an onboarding error", s.Kind)
		}
		if s.Session != nil && s.Session.ActiveTenantID != "" {
			return fmt.Errorf("%s state cannot carry an active tenant", s.Kind)
		}
	}
	return nil
}
