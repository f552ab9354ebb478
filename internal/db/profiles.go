package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jonathan/apply-autopilot/internal/types"
)

// UpsertProfile stores a user's profile snapshot.
func (db *DB) UpsertProfile(ctx context.Context, userID uuid.UUID, profile types.UserProfile) error {
	profileJSON, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("failed to marshal profile: %w", err)
	}
	_, err = db.pool.Exec(ctx,
		`INSERT INTO user_profiles (user_id, profile)
		 VALUES ($1, $2)
		 ON CONFLICT (user_id) DO UPDATE SET profile = $2, updated_at = NOW()`,
		userID, profileJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to store profile: %w", err)
	}
	return nil
}

// GetProfile returns a user's profile, or types.ErrProfileNotFound.
func (db *DB) GetProfile(ctx context.Context, userID uuid.UUID) (types.UserProfile, error) {
	var profileJSON []byte
	err := db.pool.QueryRow(ctx,
		`SELECT profile FROM user_profiles WHERE user_id = $1`,
		userID,
	).Scan(&profileJSON)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return types.UserProfile{}, types.ErrProfileNotFound
		}
		return types.UserProfile{}, fmt.Errorf("failed to get profile: %w", err)
	}

	var profile types.UserProfile
	if err := json.Unmarshal(profileJSON, &profile); err != nil {
		return types.UserProfile{}, fmt.Errorf("failed to unmarshal profile: %w", err)
	}
	return profile, nil
}

// SetFinalSearchURL stores the search URL produced by a user's saved filters.
func (db *DB) SetFinalSearchURL(ctx context.Context, userID uuid.UUID, searchURL string) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO saved_filters (user_id, final_search_url)
		 VALUES ($1, $2)
		 ON CONFLICT (user_id) DO UPDATE SET final_search_url = $2, updated_at = NOW()`,
		userID, searchURL,
	)
	if err != nil {
		return fmt.Errorf("failed to store search url: %w", err)
	}
	return nil
}

// GetFinalSearchURL returns the user's saved search URL, or "" when none is saved.
func (db *DB) GetFinalSearchURL(ctx context.Context, userID uuid.UUID) (string, error) {
	var searchURL string
	err := db.pool.QueryRow(ctx,
		`SELECT final_search_url FROM saved_filters WHERE user_id = $1`,
		userID,
	).Scan(&searchURL)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("failed to get search url: %w", err)
	}
	return searchURL, nil
}
