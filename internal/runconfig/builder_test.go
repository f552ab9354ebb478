package runconfig

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/jonathan/apply-autopilot/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProfiles map[uuid.UUID]types.UserProfile

func (s stubProfiles) GetProfile(_ context.Context, userID uuid.UUID) (types.UserProfile, error) {
	p, ok := s[userID]
	if !ok {
		return types.UserProfile{}, types.ErrProfileNotFound
	}
	return p, nil
}

type stubFilters struct {
	url string
	err error
}

func (s stubFilters) GetFinalSearchURL(context.Context, uuid.UUID) (string, error) {
	return s.url, s.err
}

func TestBuild(t *testing.T) {
	user := uuid.New()
	profile := types.UserProfile{Name: "Asha Rao", YearsOfExperience: 4}
	profiles := stubProfiles{user: profile}

	tests := []struct {
		name      string
		builder   Builder
		overrides Overrides
		wantURL   string
		wantPages int
	}{
		{
			name:      "saved filters win over the default",
			builder:   Builder{Profiles: profiles, Filters: stubFilters{url: "https://portal.example.com/saved?k=go"}, DefaultSearchURL: "https://portal.example.com/jobs", DefaultMaxPages: 5},
			wantURL:   "https://portal.example.com/saved?k=go",
			wantPages: 5,
		},
		{
			name:      "empty saved filters fall back to the default",
			builder:   Builder{Profiles: profiles, Filters: stubFilters{}, DefaultSearchURL: "https://portal.example.com/jobs"},
			wantURL:   "https://portal.example.com/jobs",
			wantPages: types.DefaultMaxPages,
		},
		{
			name:      "request overrides win",
			builder:   Builder{Profiles: profiles, Filters: stubFilters{url: "https://portal.example.com/saved"}},
			overrides: Overrides{SearchURL: "https://portal.example.com/java-jobs?k=java", MaxPages: 2},
			wantURL:   "https://portal.example.com/java-jobs?k=java",
			wantPages: 2,
		},
		{
			name:      "page count is clamped",
			builder:   Builder{Profiles: profiles, DefaultSearchURL: "https://portal.example.com/jobs"},
			overrides: Overrides{MaxPages: 500},
			wantURL:   "https://portal.example.com/jobs",
			wantPages: types.MaxPagesCeiling,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := tt.builder.Build(context.Background(), user, tt.overrides)
			require.NoError(t, err)
			assert.Equal(t, tt.wantURL, cfg.SearchURL)
			assert.Equal(t, tt.wantPages, cfg.MaxPages)
			assert.Equal(t, user, cfg.UserID)
			assert.Equal(t, user, cfg.Credentials.UserID)
			assert.Equal(t, profile, cfg.Profile)
		})
	}
}

func TestBuild_Errors(t *testing.T) {
	user := uuid.New()
	profiles := stubProfiles{user: {Name: "Asha Rao"}}

	_, err := (&Builder{Profiles: profiles}).Build(context.Background(), user, Overrides{})
	assert.ErrorIs(t, err, ErrNoSearchURL)

	_, err = (&Builder{Profiles: stubProfiles{}, DefaultSearchURL: "https://portal.example.com/jobs"}).Build(context.Background(), user, Overrides{})
	assert.ErrorIs(t, err, types.ErrProfileNotFound)

	_, err = (&Builder{Profiles: profiles, Filters: stubFilters{err: errors.New("db down")}}).Build(context.Background(), user, Overrides{})
	assert.ErrorContains(t, err, "failed to load saved filters")

	_, err = (&Builder{Profiles: profiles}).Build(context.Background(), user, Overrides{SearchURL: "not a url"})
	assert.ErrorContains(t, err, "invalid run configuration")

	_, err = (&Builder{Profiles: profiles, DefaultSearchURL: "https://portal.example.com/jobs"}).Build(context.Background(), uuid.Nil, Overrides{})
	assert.Error(t, err)
}

func TestBuild_ProfileOverride(t *testing.T) {
	override := types.UserProfile{Name: "Ravi Kumar", NoticePeriod: "Immediate"}
	cfg, err := (&Builder{DefaultSearchURL: "https://portal.example.com/jobs"}).Build(context.Background(), uuid.New(), Overrides{Profile: &override})
	require.NoError(t, err)
	assert.Equal(t, override, cfg.Profile)
}
