package middleware

import (
	"context"

	"github.com/actionchat/actionchat/pkg/models"
)

type contextKey string

const identityKey contextKey = "identity"

// SetIdentity stores the authenticated caller in the context.
// Called by the auth middleware after successful authentication.
func SetIdentity(ctx context.Context, id *models.Identity) context.Context {
	if id == nil {
		return ctx
	}
	return context.WithValue(ctx, identityKey, id)
}

// GetIdentity retrieves the authenticated caller from the context.
// Returns nil if no identity is set.
func GetIdentity(ctx context.Context) *models.Identity {
	if v, ok := ctx.Value(identityKey).(*models.Identity); ok {
		return v
	}
	return nil
}
