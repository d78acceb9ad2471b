package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/genx/internal/auth"
	"github.com/desertthunder/genx/internal/models"
	"github.com/desertthunder/genx/internal/push"
	"github.com/desertthunder/genx/internal/repositories"
	"github.com/desertthunder/genx/internal/services"
	"github.com/desertthunder/genx/internal/shared"
	"github.com/desertthunder/genx/internal/tasks"
	"github.com/urfave/cli/v3"
)

// Runner holds all dependencies for CLI commands and provides methods for each command action.
//
// Connected dependencies (database, session, push channel, API client) are opened on
// first use by [Runner.connect] so commands like setup work without a backend.
type Runner struct {
	config     *shared.Config
	configPath string
	httpClient *http.Client
	logger     *log.Logger
	output     io.Writer
	notifier   tasks.Notifier

	store    auth.Store
	remote   *auth.HTTPRemote
	session  *auth.Session
	push     *push.Client
	api      *services.Client
	resolver services.URLResolver
	history  *repositories.GenerationRepository
	closers  []func() error
}

// RunnerOpts contains configuration options for creating a Runner.
type RunnerOpts struct {
	Config     *shared.Config
	ConfigPath string
	HTTPClient *http.Client
	Logger     *log.Logger
	Output     io.Writer
	Notifier   tasks.Notifier
}

// NewRunner creates a new Runner with the provided configuration
func NewRunner(opts RunnerOpts) *Runner {
	if opts.Config == nil {
		opts.Config = shared.DefaultConfig()
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: opts.Config.API.Timeout()}
	}

	r := &Runner{
		config:     opts.Config,
		configPath: opts.ConfigPath,
		httpClient: opts.HTTPClient,
		logger:     opts.Logger,
		output:     opts.Output,
		notifier:   opts.Notifier,
	}
	if r.notifier == nil {
		r.notifier = consoleNotifier{r}
	}
	return r
}

func (r *Runner) register() []*cli.Command {
	commands := []*cli.Command{}
	for _, fn := range [](func(*Runner) *cli.Command){
		setupCommand, authCommand, generateCommand, quotaCommand, taskCommand, historyCommand, eventsCommand, tuiCommand,
	} {
		commands = append(commands, fn(r))
	}

	return commands
}

// Before loads the config file named by --config and applies GENX_ overrides.
func (r *Runner) Before(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	if cmd.Bool("verbose") {
		shared.SetLogLevel(r.logger, log.DebugLevel)
	}

	if path := cmd.String("config"); path != "" {
		r.configPath = path
	}
	if _, err := os.Stat(r.configPath); err == nil {
		config, err := shared.LoadConfig(r.configPath)
		if err != nil {
			return ctx, err
		}
		r.config = config
	} else {
		r.logger.Debug("config file not found, using defaults", "path", r.configPath)
	}

	if err := shared.ApplyEnv(ctx, r.config, nil); err != nil {
		return ctx, err
	}
	return ctx, nil
}

// SetLogger replaces the logger used by the runner and any dependency opened afterwards.
func (r *Runner) SetLogger(logger *log.Logger) {
	r.logger = logger
}

// connect opens the history database, the session store and the backend clients,
// then restores the session silently.
func (r *Runner) connect(ctx context.Context) error {
	if r.session != nil {
		return nil
	}

	db, err := shared.OpenDatabase(r.config.Database)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	r.closers = append(r.closers, db.Close)
	r.history = repositories.NewGenerationRepository(db)

	switch r.config.Session.Backend {
	case "redis":
		store, err := repositories.NewRedisSessionStore(ctx, r.config.Session)
		if err != nil {
			return err
		}
		r.store = store
		r.closers = append(r.closers, store.Close)
	default:
		r.store = repositories.NewSessionRepository(db, r.config.Session.Profile)
	}

	remote, err := auth.NewHTTPRemote(r.config.API.AuthURL, &http.Client{Timeout: r.config.API.Timeout()})
	if err != nil {
		return err
	}
	r.remote = remote

	resolver, err := services.NewResolver(r.config.Storage)
	if err != nil {
		return fmt.Errorf("failed to create result resolver: %w", err)
	}
	r.resolver = resolver

	session := auth.NewSession(remote, r.store, r.logger)
	r.api = services.NewClient(r.config.API, session, r.httpClient, r.logger)

	opts := push.OptionsFromConfig(r.config.API, r.config.Push, session.Token)
	opts.Logger = r.logger
	r.push = push.NewClient(opts)
	session.OnChange(r.push.SyncToken)
	r.closers = append(r.closers, func() error { r.push.Disconnect(); return nil })
	r.session = session

	state := session.Restore(ctx)
	r.logger.Debug("session restored", "state", state)
	return nil
}

// requireAuth connects and fails unless the session holds a token.
func (r *Runner) requireAuth(ctx context.Context) error {
	if err := r.connect(ctx); err != nil {
		return err
	}
	if r.session.State() != auth.StateAuthenticated {
		return fmt.Errorf("%w: run 'genx auth login' first", shared.ErrNotAuthenticated)
	}
	return nil
}

// Close releases everything [Runner.connect] opened, newest first.
func (r *Runner) Close() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	r.closers = nil
	return errors.Join(errs...)
}

func (r *Runner) newTracker() *tasks.Tracker {
	return tasks.NewTracker(r.push, r.api, tasks.CadenceFromConfig(r.config.Tracker), r.logger)
}

// newGenerator wires a generator for kind against the connected dependencies.
func (r *Runner) newGenerator(kind models.Kind) *tasks.Generator {
	return tasks.NewGenerator(kind, tasks.GeneratorOptions{
		API:      r.api,
		Tracker:  r.newTracker(),
		Resolver: r.resolver,
		Quota:    tasks.QuotaGate{API: r.api},
		Notifier: r.notifier,
		History:  r.history,
		Logger:   r.logger,
	})
}

func (r *Runner) writeJSON(data any, pretty bool) error {
	var output []byte
	var err error

	if pretty {
		output, err = json.MarshalIndent(data, "", "  ")
	} else {
		output, err = json.Marshal(data)
	}

	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	if _, err := r.output.Write(output); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}

	if _, err := r.output.Write([]byte("\n")); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}

	return nil
}

func (r *Runner) writePlain(format string, args ...any) error {
	text := fmt.Sprintf(format, args...)
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlainln(format string, args ...any) error {
	text := "\n" + fmt.Sprintf(format, args...) + "\n"
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlainHeader(title string) {
	r.writePlain("═══════════════════════════════════════\n")
	r.writePlain("%v\n", title)
	r.writePlain("═══════════════════════════════════════\n")
}

// consoleNotifier prints generator messages to the runner output.
type consoleNotifier struct{ r *Runner }

func (c consoleNotifier) Success(msg string) { c.r.writePlain("✓ %s\n", msg) }
func (c consoleNotifier) Error(msg string)   { c.r.writePlain("✗ %s\n", msg) }
func (c consoleNotifier) Warn(msg string)    { c.r.writePlain("⚠ %s\n", msg) }
