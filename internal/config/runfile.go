package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/jonathan/apply-autopilot/internal/schemas"
	"github.com/jonathan/apply-autopilot/internal/types"
)

// Run file stores.
const (
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

// DefaultSQLitePath is where one-shot runs keep outcomes when no path is given.
const DefaultSQLitePath = "autopilot.db"

// RunFile is the JSON document accepted by the one-shot run command. All
// fields are optional; missing values come from the environment or flags.
type RunFile struct {
	UserID    string `json:"user_id,omitempty"`
	SearchURL string `json:"search_url,omitempty"`
	MaxPages  int    `json:"max_pages,omitempty"`

	MinPositive int `json:"min_positive,omitempty"`
	MaxNegative int `json:"max_negative,omitempty"`

	Store      string `json:"store,omitempty"`
	SQLitePath string `json:"sqlite_path,omitempty"`
	Headless   *bool  `json:"headless,omitempty"`

	// Identity is the portal login used with a local run; the secret is
	// read from PORTAL_SECRET or prompted for.
	Identity string `json:"identity,omitempty"`

	Profile *types.UserProfile `json:"profile,omitempty"`
}

// LoadRunFile reads a run file and validates it against the embedded schema.
func LoadRunFile(path string) (*RunFile, error) {
	if path == "" {
		return nil, fmt.Errorf("run file path is empty")
	}
	if !filepath.IsAbs(path) {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get current directory: %w", err)
		}
		path = filepath.Join(cwd, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read run file %s: %w", path, err)
	}
	if err := schemas.ValidateRunFile(data); err != nil {
		return nil, fmt.Errorf("run file %s does not match schema: %w", path, err)
	}

	var rf RunFile
	if err := json.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("failed to parse run file JSON: %w", err)
	}
	return &rf, nil
}

// Validate checks the values the schema cannot express.
func (r *RunFile) Validate() error {
	if r.UserID != "" {
		if _, err := uuid.Parse(r.UserID); err != nil {
			return fmt.Errorf("config error: invalid 'user_id': %w", err)
		}
	}
	if r.SearchURL != "" {
		u, err := url.Parse(r.SearchURL)
		if err != nil || !u.IsAbs() || u.Host == "" {
			return fmt.Errorf("config error: 'search_url' must be an absolute URL")
		}
	}
	if r.MaxPages < 0 || r.MaxPages > types.MaxPagesCeiling {
		return fmt.Errorf("config error: 'max_pages' must be between 0 and %d", types.MaxPagesCeiling)
	}
	if r.MinPositive < 0 || r.MaxNegative < 0 {
		return fmt.Errorf("config error: match thresholds must be non-negative")
	}
	switch r.Store {
	case "", StoreSQLite, StorePostgres:
	default:
		return fmt.Errorf("config error: unknown 'store' %q", r.Store)
	}
	return nil
}

// MergeWithDefaults returns a copy with empty fields filled from defaults.
func (r *RunFile) MergeWithDefaults(defaults RunFile) RunFile {
	result := *r

	if result.UserID == "" {
		result.UserID = defaults.UserID
	}
	if result.SearchURL == "" {
		result.SearchURL = defaults.SearchURL
	}
	if result.Store == "" {
		result.Store = defaults.Store
	}
	if result.Store == "" {
		result.Store = StoreSQLite
	}
	if result.SQLitePath == "" {
		result.SQLitePath = defaults.SQLitePath
	}
	if result.SQLitePath == "" {
		result.SQLitePath = DefaultSQLitePath
	}
	if result.Identity == "" {
		result.Identity = defaults.Identity
	}
	if result.Headless == nil {
		result.Headless = defaults.Headless
	}
	if result.Profile == nil {
		result.Profile = defaults.Profile
	}

	if result.MaxPages == 0 {
		result.MaxPages = defaults.MaxPages
	}
	if result.MinPositive == 0 {
		result.MinPositive = defaults.MinPositive
	}
	// Zero is a meaningful negative threshold, so it only falls back when the
	// file sets neither threshold.
	if r.MinPositive == 0 && r.MaxNegative == 0 {
		result.MaxNegative = defaults.MaxNegative
	}

	return result
}

// Defaults returns the run file view of the environment configuration.
func (c *Config) Defaults() RunFile {
	headless := c.Portal.Headless
	store := StoreSQLite
	if c.DatabaseURL != "" {
		store = StorePostgres
	}
	return RunFile{
		SearchURL:   c.Portal.SearchURL,
		MaxPages:    c.Run.MaxPages,
		MinPositive: c.Run.MinPositive,
		MaxNegative: c.Run.MaxNegative,
		Store:       store,
		SQLitePath:  DefaultSQLitePath,
		Headless:    &headless,
	}
}
