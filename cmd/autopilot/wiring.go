package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jonathan/apply-autopilot/internal/answer"
	"github.com/jonathan/apply-autopilot/internal/config"
	"github.com/jonathan/apply-autopilot/internal/db"
	"github.com/jonathan/apply-autopilot/internal/llm"
	"github.com/jonathan/apply-autopilot/internal/orchestrator"
	"github.com/jonathan/apply-autopilot/internal/site"
	"github.com/jonathan/apply-autopilot/internal/vault"
)

// connectDB opens the Postgres pool and attaches the credential vault when
// CREDENTIALS_KEY is set.
func connectDB(ctx context.Context, cfg *config.Config) (*db.DB, error) {
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable is required")
	}
	database, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if cfg.CredentialsKey == "" {
		return database, nil
	}
	box, err := vault.FromBase64(cfg.CredentialsKey)
	if err != nil {
		database.Close()
		return nil, fmt.Errorf("invalid CREDENTIALS_KEY: %w", err)
	}
	return database.WithVault(box), nil
}

// newLauncher builds the Chrome launcher and returns the selector table it uses.
func newLauncher(cfg *config.Config, headless bool) (*site.ChromeLauncher, *site.Selectors, error) {
	sel, err := site.LoadSelectors(cfg.Portal.SelectorsFile)
	if err != nil {
		return nil, nil, err
	}
	launcher := site.NewChromeLauncher(site.ChromeOptions{
		Headless:    headless,
		ExecPath:    cfg.Portal.ChromePath,
		StepTimeout: cfg.Run.StepTimeout,
		Selectors:   sel,
	})
	return launcher, sel, nil
}

// newAnswerer builds the answer provider. Without a usable backend it still
// answers every question, falling back to the rule table and the fixed reply.
func newAnswerer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*answer.Provider, func() error) {
	noop := func() error { return nil }

	if cfg.LLM.APIKey == "" && cfg.LLM.Provider != llm.ProviderOllama {
		logger.Warn("no LLM API key configured, free-text questions get the fallback answer",
			slog.String("provider", string(cfg.LLM.Provider)))
		return answer.New(nil, answer.DefaultOptions(), logger), noop
	}

	client, err := llm.NewClient(ctx, cfg.LLMClientConfig(), cfg.LLM.APIKey)
	if err != nil {
		logger.Warn("failed to create LLM client, free-text questions get the fallback answer",
			slog.String("provider", string(cfg.LLM.Provider)),
			slog.Any("error", err))
		return answer.New(nil, answer.DefaultOptions(), logger), noop
	}
	return answer.New(client, answer.DefaultOptions(), logger), client.Close
}

// orchestratorOptions applies the environment run defaults on top of the
// orchestrator defaults.
func orchestratorOptions(cfg *config.Config, sel *site.Selectors) orchestrator.Options {
	opts := orchestrator.DefaultOptions()
	opts.Policy = cfg.Policy()
	if sel != nil {
		opts.PageParam = sel.PageParam()
	}
	if cfg.Run.LoginTimeout > 0 {
		opts.LoginTimeout = cfg.Run.LoginTimeout
	}
	if cfg.Run.StepTimeout > 0 {
		opts.StepTimeout = cfg.Run.StepTimeout
	}
	if cfg.Run.PacingInterval != 0 {
		opts.PacingInterval = cfg.Run.PacingInterval
	}
	return opts
}
