package rbac

import (
	"context"
	"errors"

	"github.com/aqarfund/aqar/internal/auth"
	"github.com/aqarfund/aqar/internal/shared"
)

// Decision outcomes reported to the DecisionRecorder.
const (
	OutcomeAllow           = "allow"
	OutcomeDeny            = "deny"
	OutcomeUnauthenticated = "unauthenticated"
	OutcomeError           = "error"
)

// TokenVerifier turns a bearer token into an identity.
type TokenVerifier interface {
	Verify(token string) (auth.Identity, error)
}

// RoleLookup resolves the current role names of a user.
type RoleLookup interface {
	RoleNames(ctx context.Context, userID int64) ([]string, error)
}

// PermissionSource resolves the effective permission set of a user.
type PermissionSource interface {
	EffectivePermissions(ctx context.Context, userID int64) (PermissionSet, error)
}

// DecisionRecorder observes authorization decisions.
type DecisionRecorder interface {
	ObserveAuthzDecision(check, outcome string)
}

// Guard performs authentication and authorization checks independent of transport.
// Roles and permissions are always read from the store, never from token claims.
type Guard struct {
	tokens   TokenVerifier
	roles    RoleLookup
	perms    PermissionSource
	recorder DecisionRecorder
}

// NewGuard constructs a Guard. recorder may be nil.
func NewGuard(tokens TokenVerifier, roles RoleLookup, perms PermissionSource, recorder DecisionRecorder) *Guard {
	return &Guard{tokens: tokens, roles: roles, perms: perms, recorder: recorder}
}

// RequireAuth verifies token and returns the identity it carries.
func (g *Guard) RequireAuth(token string) (auth.Identity, error) {
	if token == "" {
		g.observe("auth", OutcomeUnauthenticated)
		return auth.Identity{}, shared.ErrUnauthorized
	}
	identity, err := g.tokens.Verify(token)
	if err != nil {
		g.observe("auth", OutcomeUnauthenticated)
		if errors.Is(err, shared.ErrUnauthorized) {
			return auth.Identity{}, err
		}
		return auth.Identity{}, shared.ErrUnauthorized
	}
	g.observe("auth", OutcomeAllow)
	return identity, nil
}

// RequireRole fails with ErrForbidden unless the identity currently holds
// one of allowed. An empty allow-list admits nobody.
func (g *Guard) RequireRole(ctx context.Context, identity auth.Identity, allowed ...string) error {
	if identity.Anonymous() {
		g.observe("role", OutcomeUnauthenticated)
		return shared.ErrUnauthorized
	}
	want := normalizeRoleNames(allowed)
	if len(want) == 0 {
		g.observe("role", OutcomeDeny)
		return shared.ErrForbidden
	}
	held, err := g.roles.RoleNames(ctx, identity.UserID)
	if err != nil {
		g.observe("role", OutcomeError)
		return err
	}
	set := NewPermissionSet(held...)
	if set.HasAny(want...) {
		g.observe("role", OutcomeAllow)
		return nil
	}
	g.observe("role", OutcomeDeny)
	return shared.ErrForbidden
}

// RequirePermission fails with ErrForbidden unless name is in the identity's
// effective permission set.
func (g *Guard) RequirePermission(ctx context.Context, identity auth.Identity, name string) error {
	return g.check(ctx, "permission", identity, func(set PermissionSet) bool { return set.Has(name) })
}

// RequireAnyPermission fails with ErrForbidden unless at least one of names is held.
func (g *Guard) RequireAnyPermission(ctx context.Context, identity auth.Identity, names ...string) error {
	return g.check(ctx, "any_permission", identity, func(set PermissionSet) bool { return set.HasAny(names...) })
}

// RequireAllPermissions fails with ErrForbidden unless every one of names is
// held. An empty list is rejected rather than treated as vacuously satisfied.
func (g *Guard) RequireAllPermissions(ctx context.Context, identity auth.Identity, names ...string) error {
	required := normalizePermissions(names)
	return g.check(ctx, "all_permissions", identity, func(set PermissionSet) bool {
		return len(required) > 0 && set.HasAll(required...)
	})
}

func (g *Guard) check(ctx context.Context, kind string, identity auth.Identity, allowed func(PermissionSet) bool) error {
	if identity.Anonymous() {
		g.observe(kind, OutcomeUnauthenticated)
		return shared.ErrUnauthorized
	}
	set, err := g.perms.EffectivePermissions(ctx, identity.UserID)
	if err != nil {
		g.observe(kind, OutcomeError)
		return err
	}
	if allowed(set) {
		g.observe(kind, OutcomeAllow)
		return nil
	}
	g.observe(kind, OutcomeDeny)
	return shared.ErrForbidden
}

func (g *Guard) observe(check, outcome string) {
	if g.recorder != nil {
		g.recorder.ObserveAuthzDecision(check, outcome)
	}
}
