// Package caller carries the identity the staff gate attaches to a request.
package caller

import "context"

// Identity is the authenticated staff member behind a request.
type Identity struct {
	Username string `json:"username"`
	Name     string `json:"name"`
}

type ctxKey struct{}

// With returns a context carrying id.
func With(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// From returns the identity attached to ctx, if any.
func From(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(Identity)
	return id, ok
}

// Username returns the caller's username or "" when anonymous.
func Username(ctx context.Context) string {
	id, _ := From(ctx)
	return id.Username
}
