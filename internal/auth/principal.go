// Package auth models who is calling and what they may do.
//
// A Principal is built once per request from a verified token and passed by
// value. Every permission decision goes through Authorize.
package auth

import "context"

// Role is the numeric role id carried in tokens.
type Role int

// RoleSuperadmin is allowed every action on every section.
const RoleSuperadmin Role = 99

// Action is one of the permission verbs of a section.
type Action string

const (
	ActionView   Action = "view"
	ActionCreate Action = "create"
	ActionEdit   Action = "edit"
	ActionDelete Action = "delete"
)

// Sections guarded by this service.
const (
	SectionChains    = "offers-chains"
	SectionCampaigns = "campaigns"
)

// Capabilities maps a section to the actions granted on it.
type Capabilities map[string]map[Action]bool

// Allows reports whether action is granted on section.
func (c Capabilities) Allows(section string, action Action) bool {
	return c[section][action]
}

// Principal is the authenticated caller.
type Principal struct {
	UserID       string
	Role         Role
	Capabilities Capabilities
}

// IsSuperadmin reports whether the principal bypasses capability checks.
func (p Principal) IsSuperadmin() bool {
	return p.Role == RoleSuperadmin
}

// Anonymous is used when authentication is disabled. It acts as superadmin.
var Anonymous = Principal{UserID: "anonymous", Role: RoleSuperadmin}

type principalKey struct{}

// WithPrincipal returns a copy of ctx carrying p.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// FromContext returns the principal attached by the authentication middleware.
func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}
