package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// SeedOwnerParams describes the owner account ensured at startup.
type SeedOwnerParams struct {
	Email      string
	Password   string
	Name       string
	BcryptCost int
}

// SeedOutcome reports what SeedOwner did.
type SeedOutcome string

// Seed outcomes.
const (
	SeedCreated   SeedOutcome = "created"
	SeedUpdated   SeedOutcome = "updated"
	SeedUnchanged SeedOutcome = "unchanged"
)

// SeedOwner makes sure an active account with the configured email and
// password exists.
//
// A missing account is created with role OWNER. An existing account is
// reactivated if inactive and has its password reset if the configured
// password no longer matches; its role is left as is.
func SeedOwner(ctx context.Context, users UserRepository, params SeedOwnerParams, logger *slog.Logger) (SeedOutcome, error) {
	if params.Email == "" || params.Password == "" {
		return "", fmt.Errorf("seeding owner: %w", ErrInvalidInput)
	}

	existing, err := users.GetByEmail(ctx, params.Email)
	switch {
	case errors.Is(err, ErrUserNotFound):
		return createSeedOwner(ctx, users, params, logger)
	case err != nil:
		return "", fmt.Errorf("looking up seed owner: %w", err)
	}

	updated := false
	if !existing.IsActive {
		if _, err := users.SetActive(ctx, existing.ID, true); err != nil {
			return "", fmt.Errorf("reactivating seed owner: %w", err)
		}
		updated = true
	}

	if !VerifyPassword(params.Password, existing.PasswordHash) {
		hash, err := HashPassword(params.Password, params.BcryptCost)
		if err != nil {
			return "", fmt.Errorf("hashing seed password: %w", err)
		}
		if err := users.UpdatePassword(ctx, existing.ID, hash); err != nil {
			return "", fmt.Errorf("resetting seed owner password: %w", err)
		}
		logger.Warn("seed owner password reset to configured value", "email", params.Email)
		updated = true
	}

	if !updated {
		logger.Info("seed owner ready", "email", params.Email)
		return SeedUnchanged, nil
	}
	logger.Info("seed owner updated", "email", params.Email)
	return SeedUpdated, nil
}

func createSeedOwner(ctx context.Context, users UserRepository, params SeedOwnerParams, logger *slog.Logger) (SeedOutcome, error) {
	hash, err := HashPassword(params.Password, params.BcryptCost)
	if err != nil {
		return "", fmt.Errorf("hashing seed password: %w", err)
	}

	name := params.Name
	if name == "" {
		name = "Owner"
	}
	owner := &User{
		Name:         name,
		Email:        params.Email,
		PasswordHash: hash,
		Role:         RoleOwner,
		IsActive:     true,
	}
	if err := users.Create(ctx, owner); err != nil {
		return "", fmt.Errorf("creating seed owner: %w", err)
	}

	logger.Info("seed owner created", "email", params.Email, "user_id", owner.ID)
	return SeedCreated, nil
}
