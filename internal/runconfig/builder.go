// Package runconfig assembles validated run configurations from a user's
// stored profile, saved search, and per-request overrides.
package runconfig

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jonathan/apply-autopilot/internal/types"
)

// ErrNoSearchURL is returned when neither the request, the saved filters, nor
// the defaults provide a search URL.
var ErrNoSearchURL = errors.New("no search url configured")

// ProfileStore reads user profiles.
type ProfileStore interface {
	GetProfile(ctx context.Context, userID uuid.UUID) (types.UserProfile, error)
}

// FilterStore reads the search URL produced by a user's saved filters.
type FilterStore interface {
	GetFinalSearchURL(ctx context.Context, userID uuid.UUID) (string, error)
}

// Overrides are per-request values that win over stored ones.
type Overrides struct {
	SearchURL string
	MaxPages  int
	Profile   *types.UserProfile
}

// Builder builds run configurations. Profiles and Filters may be nil when
// every request carries its own values.
type Builder struct {
	Profiles         ProfileStore
	Filters          FilterStore
	DefaultSearchURL string
	DefaultMaxPages  int
}

// Build resolves the configuration for userID.
func (b *Builder) Build(ctx context.Context, userID uuid.UUID, ov Overrides) (types.RunConfiguration, error) {
	if userID == uuid.Nil {
		return types.RunConfiguration{}, fmt.Errorf("user id is required")
	}

	searchURL, err := b.searchURL(ctx, userID, ov.SearchURL)
	if err != nil {
		return types.RunConfiguration{}, err
	}

	profile, err := b.profile(ctx, userID, ov.Profile)
	if err != nil {
		return types.RunConfiguration{}, err
	}

	maxPages := ov.MaxPages
	if maxPages <= 0 {
		maxPages = b.DefaultMaxPages
	}

	cfg := types.NewRunConfiguration(userID, searchURL, maxPages, profile)
	if err := cfg.Validate(); err != nil {
		return types.RunConfiguration{}, fmt.Errorf("invalid run configuration: %w", err)
	}
	return cfg, nil
}

func (b *Builder) searchURL(ctx context.Context, userID uuid.UUID, override string) (string, error) {
	if override != "" {
		return override, nil
	}
	if b.Filters != nil {
		saved, err := b.Filters.GetFinalSearchURL(ctx, userID)
		if err != nil {
			return "", fmt.Errorf("failed to load saved filters: %w", err)
		}
		if saved != "" {
			return saved, nil
		}
	}
	if b.DefaultSearchURL != "" {
		return b.DefaultSearchURL, nil
	}
	return "", ErrNoSearchURL
}

func (b *Builder) profile(ctx context.Context, userID uuid.UUID, override *types.UserProfile) (types.UserProfile, error) {
	if override != nil {
		return *override, nil
	}
	if b.Profiles == nil {
		return types.UserProfile{}, types.ErrProfileNotFound
	}
	profile, err := b.Profiles.GetProfile(ctx, userID)
	if err != nil {
		if errors.Is(err, types.ErrProfileNotFound) {
			return types.UserProfile{}, err
		}
		return types.UserProfile{}, fmt.Errorf("failed to load profile: %w", err)
	}
	return profile, nil
}
