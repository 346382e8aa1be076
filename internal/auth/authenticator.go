package auth

import (
	"context"
	"errors"
	"fmt"
)

// Authenticator turns a bearer token into a live identity.
type Authenticator struct {
	issuer *TokenIssuer
	users  UserRepository
}

// NewAuthenticator creates an Authenticator.
func NewAuthenticator(issuer *TokenIssuer, users UserRepository) *Authenticator {
	return &Authenticator{issuer: issuer, users: users}
}

// Authenticate validates token and re-loads its subject. A missing or
// inactive subject yields ErrPrincipalIneligible. The returned identity
// carries the stored role, which may differ from the token's claim.
func (a *Authenticator) Authenticate(ctx context.Context, token string) (Identity, error) {
	claims, err := a.issuer.Parse(token)
	if err != nil {
		return Identity{}, err
	}

	user, err := a.users.GetByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return Identity{}, ErrPrincipalIneligible
		}
		return Identity{}, fmt.Errorf("loading principal: %w", err)
	}
	if !user.IsActive {
		return Identity{}, ErrPrincipalIneligible
	}
	return user.Identity(), nil
}
