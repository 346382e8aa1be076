package auth

import (
	"context"
	"errors"
	"fmt"
)

// Verifier checks an email and password pair against stored principals.
type Verifier struct {
	users UserRepository
}

// NewVerifier creates a credential verifier backed by users.
func NewVerifier(users UserRepository) *Verifier {
	return &Verifier{users: users}
}

// Verify returns the principal's identity when the credentials match an
// active account.
//
// Empty fields yield ErrInvalidInput. An unknown email, an inactive
// account and a wrong password all yield ErrInvalidCredentials, and an
// unknown email still pays for a bcrypt comparison. So does a password
// longer than bcrypt can hash, which never matches. Any other error is a
// storage failure.
func (v *Verifier) Verify(ctx context.Context, email, password string) (Identity, error) {
	if email == "" || password == "" {
		return Identity{}, ErrInvalidInput
	}
	if len(password) > maxPasswordBytes {
		equaliseTiming(password[:maxPasswordBytes])
		return Identity{}, ErrInvalidCredentials
	}

	user, err := v.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			equaliseTiming(password)
			return Identity{}, ErrInvalidCredentials
		}
		return Identity{}, fmt.Errorf("looking up principal: %w", err)
	}

	if !VerifyPassword(password, user.PasswordHash) || !user.IsActive {
		return Identity{}, ErrInvalidCredentials
	}
	return user.Identity(), nil
}
