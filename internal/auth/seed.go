package auth

import (
	"context"
	"fmt"
	"log/slog"
)

// SuperUserID is the id reserved for the seeded Super account.
const SuperUserID int64 = 1

// SuperCredentials are the initial details of the Super account.
type SuperCredentials struct {
	Username string
	Email    string
	Password string
}

// SeedSuper creates the Super account at id 1 if no row with that id
// exists, deleted or not. It reports whether an account was created.
func SeedSuper(ctx context.Context, userRepo UserRepository, creds SuperCredentials, logger *slog.Logger) (bool, error) {
	exists, err := userRepo.Exists(ctx, SuperUserID)
	if err != nil {
		return false, fmt.Errorf("checking super user: %w", err)
	}
	if exists {
		logger.Info("super user exists, skipping seed")
		return false, nil
	}

	hash, err := HashPassword(creds.Password)
	if err != nil {
		return false, fmt.Errorf("hashing super password: %w", err)
	}

	super := &User{
		ID:           SuperUserID,
		Username:     creds.Username,
		Email:        creds.Email,
		Level:        LevelSuper,
		PasswordHash: hash,
	}
	if err := userRepo.Create(ctx, super); err != nil {
		return false, fmt.Errorf("creating super user: %w", err)
	}

	logger.Warn("super user created",
		"username", creds.Username,
		"action_required", "change the default password if it was not set via GATEKEEPER_SUPER_PASSWORD",
	)
	return true, nil
}
