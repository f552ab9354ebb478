// Package config loads process configuration from the environment and
// one-shot run files from disk.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jonathan/apply-autopilot/internal/evaluate"
	"github.com/jonathan/apply-autopilot/internal/llm"
	"github.com/jonathan/apply-autopilot/internal/prompts"
	"github.com/jonathan/apply-autopilot/internal/types"
)

// Config is the process configuration. Every field has an environment variable.
type Config struct {
	// Storage
	DatabaseURL    string // DATABASE_URL
	RedisURL       string // REDIS_URL, enables the cross-process run lock
	CredentialsKey string // CREDENTIALS_KEY, base64 secretbox key

	// HTTP
	Port int // PORT
	JWT  JWTConfig

	LLM    LLMConfig
	Portal PortalConfig
	Run    RunDefaults

	SchedulerInterval time.Duration // SCHEDULER_INTERVAL

	LogFile  string     // LOG_FILE
	LogLevel slog.Level // LOG_LEVEL
}

// LLMConfig selects the answer backend.
type LLMConfig struct {
	Provider llm.Provider // LLM_PROVIDER
	Model    string       // LLM_MODEL, overrides the provider's default lite model
	APIKey   string       // GEMINI_API_KEY or OPENAI_API_KEY depending on provider
	BaseURL  string       // OLLAMA_HOST
}

// PortalConfig describes the job portal and the browser driving it.
type PortalConfig struct {
	SearchURL     string // PORTAL_SEARCH_URL
	SelectorsFile string // PORTAL_SELECTORS_FILE
	Headless      bool   // PORTAL_HEADLESS
	ChromePath    string // PORTAL_CHROME_PATH
}

// RunDefaults are the defaults applied to every run.
type RunDefaults struct {
	MaxPages       int           // RUN_MAX_PAGES
	MinPositive    int           // MATCH_MIN_POSITIVE
	MaxNegative    int           // MATCH_MAX_NEGATIVE
	LoginTimeout   time.Duration // RUN_LOGIN_TIMEOUT
	StepTimeout    time.Duration // RUN_STEP_TIMEOUT
	PacingInterval time.Duration // RUN_PACING_INTERVAL
}

// Load reads the configuration from the environment, applying defaults.
func Load() (*Config, error) {
	cfg := &Config{
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		RedisURL:       os.Getenv("REDIS_URL"),
		CredentialsKey: os.Getenv("CREDENTIALS_KEY"),
		Port:           envInt("PORT", 8080),
		LogFile:        os.Getenv("LOG_FILE"),
		LogLevel:       ParseLevel(os.Getenv("LOG_LEVEL")),

		SchedulerInterval: envDuration("SCHEDULER_INTERVAL", 30*time.Second),

		Portal: PortalConfig{
			SearchURL:     os.Getenv("PORTAL_SEARCH_URL"),
			SelectorsFile: os.Getenv("PORTAL_SELECTORS_FILE"),
			Headless:      envBool("PORTAL_HEADLESS", true),
			ChromePath:    os.Getenv("PORTAL_CHROME_PATH"),
		},
		Run: RunDefaults{
			MaxPages:       envInt("RUN_MAX_PAGES", types.DefaultMaxPages),
			MinPositive:    envInt("MATCH_MIN_POSITIVE", evaluate.DefaultPolicy().MinPositive),
			MaxNegative:    envInt("MATCH_MAX_NEGATIVE", evaluate.DefaultPolicy().MaxNegative),
			LoginTimeout:   envDuration("RUN_LOGIN_TIMEOUT", 60*time.Second),
			StepTimeout:    envDuration("RUN_STEP_TIMEOUT", 45*time.Second),
			PacingInterval: envDuration("RUN_PACING_INTERVAL", 2*time.Second),
		},
	}

	cfg.LLM = LLMConfig{
		Provider: llm.Provider(strings.ToLower(envString("LLM_PROVIDER", string(llm.ProviderGemini)))),
		Model:    os.Getenv("LLM_MODEL"),
		BaseURL:  os.Getenv("OLLAMA_HOST"),
	}
	switch cfg.LLM.Provider {
	case llm.ProviderOpenAI:
		cfg.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
	case llm.ProviderOllama:
	default:
		cfg.LLM.APIKey = os.Getenv("GEMINI_API_KEY")
	}

	jwtCfg, err := loadJWTConfig()
	if err != nil {
		return nil, err
	}
	cfg.JWT = jwtCfg

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges. Required-ness of optional services is
// checked by the commands that need them.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("config error: PORT must be between 1 and 65535, got %d", c.Port)
	}
	switch c.LLM.Provider {
	case llm.ProviderGemini, llm.ProviderOpenAI, llm.ProviderOllama:
	default:
		return fmt.Errorf("config error: unsupported LLM_PROVIDER %q", c.LLM.Provider)
	}
	if c.Run.MinPositive < 0 || c.Run.MaxNegative < 0 {
		return fmt.Errorf("config error: match thresholds must be non-negative")
	}
	if c.Run.MaxPages < 1 || c.Run.MaxPages > types.MaxPagesCeiling {
		return fmt.Errorf("config error: RUN_MAX_PAGES must be between 1 and %d", types.MaxPagesCeiling)
	}
	return nil
}

// Policy returns the match policy built from the run defaults.
func (c *Config) Policy() evaluate.Policy {
	return evaluate.Policy{MinPositive: c.Run.MinPositive, MaxNegative: c.Run.MaxNegative}
}

// LLMClientConfig returns the llm package configuration for the selected provider.
func (c *Config) LLMClientConfig() *llm.Config {
	out := llm.ConfigFor(c.LLM.Provider)
	if c.LLM.Model != "" {
		out = out.WithModel(llm.TierLite, c.LLM.Model)
	}
	if c.LLM.BaseURL != "" {
		out.BaseURL = c.LLM.BaseURL
	}
	if set, err := prompts.Load(); err == nil {
		out.SystemInstruction = set.System
	}
	return out
}

// ParseLevel maps a LOG_LEVEL value to a slog level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
