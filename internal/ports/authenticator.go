package ports

import (
	"context"
	"firestorm/internal/types"
)

// Authenticator is the auth/session collaborator.
type Authenticator interface {
	SignUp(ctx context.Context, cred types.Credential) (*types.User, error)
	SignIn(ctx context.Context, cred types.Credential) (*types.User, error)
	SignOut(ctx context.Context) error

	// CurrentUser returns nil when nobody is signed in.
	CurrentUser(ctx context.Context) *types.User

	// OnAuthStateChanged registers fn to be called with the user on sign-in and with nil on
	// sign-out. The returned func unregisters it.
	OnAuthStateChanged(fn func(*types.User)) func()

	// IDToken returns a bearer token for the current user, or "" if nobody is signed in.
	IDToken(ctx context.Context) (string, error)
}
