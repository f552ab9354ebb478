package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jonathan/apply-autopilot/internal/types"
)

// ErrNoVault is returned when credentials are read or written without a vault key.
var ErrNoVault = errors.New("credential vault is not configured")

// SetCredentials seals and stores a user's portal credentials.
func (db *DB) SetCredentials(ctx context.Context, userID uuid.UUID, identity string, secret types.Secret) error {
	if db.box == nil {
		return ErrNoVault
	}
	if identity == "" || secret.Empty() {
		return fmt.Errorf("identity and secret are required")
	}

	sealed, err := db.box.Seal([]byte(secret.Reveal()))
	if err != nil {
		return fmt.Errorf("failed to seal secret: %w", err)
	}

	_, err = db.pool.Exec(ctx,
		`INSERT INTO portal_credentials (user_id, identity, sealed_secret)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (user_id) DO UPDATE SET identity = $2, sealed_secret = $3, updated_at = NOW()`,
		userID, identity, sealed,
	)
	if err != nil {
		return fmt.Errorf("failed to store credentials: %w", err)
	}
	return nil
}

// GetCredentials resolves a user's portal credentials. It returns
// types.ErrNotConfigured when none are stored.
func (db *DB) GetCredentials(ctx context.Context, userID uuid.UUID) (types.Credentials, error) {
	if db.box == nil {
		return types.Credentials{}, ErrNoVault
	}

	var identity string
	var sealed []byte
	err := db.pool.QueryRow(ctx,
		`SELECT identity, sealed_secret FROM portal_credentials WHERE user_id = $1`,
		userID,
	).Scan(&identity, &sealed)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return types.Credentials{}, types.ErrNotConfigured
		}
		return types.Credentials{}, fmt.Errorf("failed to get credentials: %w", err)
	}

	plain, err := db.box.Open(sealed)
	if err != nil {
		return types.Credentials{}, fmt.Errorf("failed to open credentials: %w", err)
	}
	return types.Credentials{Identity: identity, Secret: types.NewSecret(string(plain))}, nil
}

// DeleteCredentials removes a user's stored credentials.
func (db *DB) DeleteCredentials(ctx context.Context, userID uuid.UUID) error {
	_, err := db.pool.Exec(ctx, `DELETE FROM portal_credentials WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("failed to delete credentials: %w", err)
	}
	return nil
}
