package gate

import (
	"context"
	"errors"
	"fmt"

	"grievanceportal/internal/store"
	"grievanceportal/pkg/auth"
)

// ErrUnauthenticated covers every way a connection attempt can fail
// authentication. Callers reject all of them identically so the close
// reason leaks nothing about which check failed.
var ErrUnauthenticated = errors.New("unauthenticated")

// IdentityStore resolves token subjects to portal identities.
type IdentityStore interface {
	GetIdentity(ctx context.Context, id int64) (*store.Identity, error)
}

// Verifier authenticates websocket handshakes from the session token
// passed in the query string.
type Verifier struct {
	secret []byte
	store  IdentityStore
}

func NewVerifier(secret []byte, identityStore IdentityStore) *Verifier {
	return &Verifier{secret: secret, store: identityStore}
}

// Verify validates the token and resolves it to an active identity. A
// missing, malformed or expired token, an unknown subject and a
// deactivated identity all fail the same way.
func (v *Verifier) Verify(ctx context.Context, token string) (*store.Identity, error) {
	if token == "" {
		return nil, ErrUnauthenticated
	}

	claims, err := auth.ValidateJWT(token, v.secret)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnauthenticated, err)
	}

	ident, err := v.store.GetIdentity(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, store.ErrIdentityNotFound) {
			return nil, ErrUnauthenticated
		}
		return nil, fmt.Errorf("resolve token subject: %w", err)
	}
	if !ident.Active {
		return nil, ErrUnauthenticated
	}
	return ident, nil
}
