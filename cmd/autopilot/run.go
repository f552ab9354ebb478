package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/jonathan/apply-autopilot/internal/config"
	"github.com/jonathan/apply-autopilot/internal/evaluate"
	"github.com/jonathan/apply-autopilot/internal/localstore"
	"github.com/jonathan/apply-autopilot/internal/observability"
	"github.com/jonathan/apply-autopilot/internal/orchestrator"
	"github.com/jonathan/apply-autopilot/internal/results"
	"github.com/jonathan/apply-autopilot/internal/runconfig"
	"github.com/jonathan/apply-autopilot/internal/runlog"
	"github.com/jonathan/apply-autopilot/internal/supervisor"
	"github.com/jonathan/apply-autopilot/internal/types"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var (
	runConfigPath string
	runUserID     string
	runSearchURL  string
	runMaxPages   int
	runIdentity   string
	runStore      string
	runSQLitePath string
	runHeadless   bool
	runVerbose    bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the automation once in the foreground",
	Long: `Run one automation pass in the foreground, printing the run log as it happens
and the outcome table at the end. Ctrl-C asks the run to stop at the next
page, job, or chatbot boundary; a second Ctrl-C aborts.

Settings come from an optional JSON run file (--config), then flags, then the
environment. Without DATABASE_URL outcomes go to a local SQLite file and the
portal login is taken from --identity and PORTAL_SECRET or a prompt.`,
	RunE: runOnce,
}

func init() {
	bindRunFlags(runCmd.Flags())
	rootCmd.AddCommand(runCmd)
}

func bindRunFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&runConfigPath, "config", "c", "", "Path to a JSON run file")
	fs.StringVar(&runUserID, "user", "", "User ID (UUID)")
	fs.StringVar(&runSearchURL, "search-url", "", "Search results URL to walk")
	fs.IntVar(&runMaxPages, "max-pages", 0, "Maximum result pages to visit")
	fs.StringVar(&runIdentity, "identity", "", "Portal login identity for local runs")
	fs.StringVar(&runStore, "store", "", "Outcome store: sqlite or postgres")
	fs.StringVar(&runSQLitePath, "sqlite", "", "SQLite file for local runs")
	fs.BoolVar(&runHeadless, "headless", true, "Run the browser headless")
	fs.BoolVarP(&runVerbose, "verbose", "v", false, "Also print info-level application logs")
}

func runOnce(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	rf, err := resolveRunFile(cmd.Flags(), cfg.Defaults())
	if err != nil {
		return err
	}

	level := cfg.LogLevel
	if !runVerbose && level < slog.LevelWarn {
		level = slog.LevelWarn
	}
	logger, closeLog := config.SetupLogger(cfg.LogFile, level)
	defer func() { _ = closeLog() }()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stores, err := openRunStores(ctx, cfg, rf)
	if err != nil {
		return err
	}
	defer stores.close()

	runCfg, err := stores.builder.Build(ctx, stores.userID, runconfig.Overrides{
		SearchURL: rf.SearchURL,
		MaxPages:  rf.MaxPages,
		Profile:   rf.Profile,
	})
	if err != nil {
		return err
	}

	headless := true
	if rf.Headless != nil {
		headless = *rf.Headless
	}
	launcher, sel, err := newLauncher(cfg, headless)
	if err != nil {
		return err
	}
	answers, closeAnswers := newAnswerer(ctx, cfg, logger)
	defer func() { _ = closeAnswers() }()

	opts := orchestratorOptions(cfg, sel)
	opts.Policy = evaluate.Policy{MinPositive: rf.MinPositive, MaxNegative: rf.MaxNegative}

	events := runlog.New(logger)
	sink := results.NewSink(stores.outcomes)
	sup := supervisor.New(supervisor.Deps{
		Launcher: launcher,
		Runner:   orchestrator.New(stores.creds, answers, events, sink, opts),
		Events:   events,
		Sink:     sink,
		Logger:   logger,
	})

	notify, unsubscribe := events.Subscribe()
	defer unsubscribe()

	handle, err := sup.Start(ctx, runCfg)
	if err != nil {
		return err
	}

	printer := observability.NewPrinter(os.Stdout)
	seen := 0
	flush := func() {
		for _, ev := range events.Since(seen) {
			printer.PrintEvent(ev)
			seen = ev.Seq
		}
	}

	interrupted := ctx.Done()
	for finished := false; !finished; {
		select {
		case <-notify:
		case <-handle.Done():
			finished = true
		case <-interrupted:
			interrupted = nil
			// Restore default signal handling so a second Ctrl-C aborts.
			stop()
			_ = sup.Stop()
			fmt.Fprintln(os.Stderr, "Stopping after the current step, press Ctrl-C again to abort")
		}
		flush()
	}

	result, err := handle.Wait(context.Background())
	if err != nil {
		return err
	}
	printer.PrintSummary(result.State, result.Summary, result.Error)
	printer.PrintOutcomes(sink.Outcomes())

	if result.State == types.RunStateFailed {
		return fmt.Errorf("run failed: %s", result.Error)
	}
	return nil
}

// resolveRunFile applies changed flags over the run file and fills the rest
// from the environment defaults.
func resolveRunFile(flags *pflag.FlagSet, defaults config.RunFile) (config.RunFile, error) {
	rf := &config.RunFile{}
	if runConfigPath != "" {
		loaded, err := config.LoadRunFile(runConfigPath)
		if err != nil {
			return config.RunFile{}, err
		}
		rf = loaded
	}

	if flags.Changed("user") {
		rf.UserID = runUserID
	}
	if flags.Changed("search-url") {
		rf.SearchURL = runSearchURL
	}
	if flags.Changed("max-pages") {
		rf.MaxPages = runMaxPages
	}
	if flags.Changed("identity") {
		rf.Identity = runIdentity
	}
	if flags.Changed("store") {
		rf.Store = runStore
	}
	if flags.Changed("sqlite") {
		rf.SQLitePath = runSQLitePath
	}
	if flags.Changed("headless") {
		headless := runHeadless
		rf.Headless = &headless
	}

	merged := rf.MergeWithDefaults(defaults)
	if err := merged.Validate(); err != nil {
		return config.RunFile{}, err
	}
	return merged, nil
}

// runStores are the per-store collaborators of a one-shot run.
type runStores struct {
	userID   uuid.UUID
	outcomes results.Store
	creds    orchestrator.CredentialResolver
	builder  *runconfig.Builder
	close    func()
}

func openRunStores(ctx context.Context, cfg *config.Config, rf config.RunFile) (*runStores, error) {
	builder := &runconfig.Builder{
		DefaultSearchURL: rf.SearchURL,
		DefaultMaxPages:  rf.MaxPages,
	}

	if rf.Store == config.StorePostgres {
		if rf.UserID == "" {
			return nil, fmt.Errorf("--user is required with the postgres store")
		}
		userID, err := uuid.Parse(rf.UserID)
		if err != nil {
			return nil, fmt.Errorf("invalid user id: %w", err)
		}
		database, err := connectDB(ctx, cfg)
		if err != nil {
			return nil, err
		}
		builder.Profiles = database
		builder.Filters = database

		var creds orchestrator.CredentialResolver = database
		if rf.Identity != "" {
			secret, err := portalSecret()
			if err != nil {
				database.Close()
				return nil, err
			}
			creds = staticCredentials{identity: rf.Identity, secret: secret}
		}
		return &runStores{
			userID:   userID,
			outcomes: database,
			creds:    creds,
			builder:  builder,
			close:    database.Close,
		}, nil
	}

	if rf.Identity == "" {
		return nil, fmt.Errorf("--identity is required for local runs")
	}
	userID, err := localUserID(rf.UserID, rf.Identity)
	if err != nil {
		return nil, err
	}
	secret, err := portalSecret()
	if err != nil {
		return nil, err
	}
	store, err := localstore.Open(rf.SQLitePath)
	if err != nil {
		return nil, err
	}
	return &runStores{
		userID:   userID,
		outcomes: store,
		creds:    staticCredentials{identity: rf.Identity, secret: secret},
		builder:  builder,
		close:    func() { _ = store.Close() },
	}, nil
}

// localUserNamespace scopes user IDs derived from a portal identity.
var localUserNamespace = uuid.MustParse("6f1c3e52-9a4b-4f0e-8d7a-2b5c1e9f0a31")

// localUserID returns the explicit user ID, or one derived from the portal
// identity so repeated local runs share duplicate detection.
func localUserID(explicit, identity string) (uuid.UUID, error) {
	if explicit != "" {
		id, err := uuid.Parse(explicit)
		if err != nil {
			return uuid.Nil, fmt.Errorf("invalid user id: %w", err)
		}
		return id, nil
	}
	return uuid.NewSHA1(localUserNamespace, []byte(identity)), nil
}

// staticCredentials resolves every user to the same login.
type staticCredentials struct {
	identity string
	secret   types.Secret
}

func (c staticCredentials) GetCredentials(context.Context, uuid.UUID) (types.Credentials, error) {
	if c.identity == "" || c.secret.Empty() {
		return types.Credentials{}, types.ErrNotConfigured
	}
	return types.Credentials{Identity: c.identity, Secret: c.secret}, nil
}

// portalSecret reads PORTAL_SECRET, falling back to stdin when it is unset.
func portalSecret() (types.Secret, error) {
	if v := os.Getenv("PORTAL_SECRET"); v != "" {
		return types.NewSecret(v), nil
	}
	secret, err := readSecret(os.Stdin, os.Stderr, "Portal password: ")
	if err != nil {
		return types.Secret{}, err
	}
	if secret.Empty() {
		return types.Secret{}, fmt.Errorf("no portal password given, set PORTAL_SECRET or enter one at the prompt")
	}
	return secret, nil
}
