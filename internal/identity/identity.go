// Package identity carries the authenticated caller through a request
// context.
package identity

import (
	"context"

	"github.com/Guillaume29200/esport-cms/internal/logging"
)

const (
	RoleMember = "member"
	RoleAdmin  = "admin"
)

// Identity is the caller resolved from a bearer token.
type Identity struct {
	UserID    string `json:"user_id"`
	Username  string `json:"username"`
	Role      string `json:"role"`
	SessionID string `json:"-"`
}

func (i Identity) IsAdmin() bool { return i.Role == RoleAdmin }

type ctxKey struct{}

// With stores id in ctx and mirrors the user ID and role into the logging
// context.
func With(ctx context.Context, id Identity) context.Context {
	ctx = logging.WithUserID(ctx, id.UserID, id.Role)
	return context.WithValue(ctx, ctxKey{}, id)
}

// From returns the identity stored in ctx.
func From(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(Identity)
	return id, ok && id.UserID != ""
}
