// Package identity models the authenticated caller that every request
// carries once the security middleware has verified its bearer token.
package identity

import "context"

// Role is the capability class of a caller.
type Role string

const (
	RoleConsumer Role = "consumer"
	RoleVendor   Role = "vendor"
	// RoleAdmin is a superset capability: it satisfies every role check.
	RoleAdmin Role = "admin"
	// RoleService identifies internal service-to-service callers.
	RoleService Role = "service"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleConsumer, RoleVendor, RoleAdmin, RoleService:
		return true
	default:
		return false
	}
}

// Identity is the resolved caller of a request.
type Identity struct {
	UserID string
	Role   Role
	// Token is the raw bearer token, forwarded on upstream calls.
	Token string `json:"-"`
}

// IsAdmin reports whether the caller holds the admin capability.
func (id Identity) IsAdmin() bool {
	return id.Role == RoleAdmin
}

// HasRole reports whether id holds one of the allowed roles. Admin holds all.
func HasRole(id Identity, allowed ...Role) bool {
	if id.IsAdmin() {
		return true
	}
	for _, r := range allowed {
		if id.Role == r {
			return true
		}
	}
	return false
}

// Owns reports whether the caller is the given user or an admin.
func Owns(id Identity, userID string) bool {
	return id.IsAdmin() || (id.UserID != "" && id.UserID == userID)
}

type ctxKey struct{}

// WithContext returns a copy of ctx carrying id.
func WithContext(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext extracts the identity stored by WithContext.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(Identity)
	return id, ok
}
