package hydra

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync/atomic"

	"github.com/hydranotes/hydra/pkg/events"
	"github.com/hydranotes/hydra/pkg/identity"
	"github.com/hydranotes/hydra/pkg/logger"
	"github.com/hydranotes/hydra/pkg/store"
	"github.com/hydranotes/hydra/pkg/store/memory"
	"github.com/hydranotes/hydra/pkg/store/mongo"
	"github.com/hydranotes/hydra/pkg/store/postgres"
	"github.com/hydranotes/hydra/pkg/store/surrealdb"
	"github.com/hydranotes/hydra/pkg/tree"
	"github.com/rs/zerolog"
)

// Version is reported by the health endpoint.
const Version = "0.1.0"

// App wires the store connection, the tree manager and the change feed together.
// The store is opened once per process and shared by every request.
type App struct {
	config   *Config
	store    *store.ReadOnlyStore
	manager  *tree.Manager
	hub      *events.Hub
	verifier identity.Verifier
	log      zerolog.Logger
	logData  *logger.LogData
	readOnly atomic.Bool

	// Out receives command output such as tokens and reports.
	Out io.Writer
}

// Option customizes an App built by NewWithStore.
type Option func(*appOptions)

type appOptions struct {
	treeOpts []tree.Option
	log      *zerolog.Logger
}

// WithTreeOptions passes options through to the tree manager.
func WithTreeOptions(opts ...tree.Option) Option {
	return func(o *appOptions) { o.treeOpts = append(o.treeOpts, opts...) }
}

// WithLogger replaces the logger built from the log config section.
func WithLogger(l zerolog.Logger) Option {
	return func(o *appOptions) { o.log = &l }
}

// New validates config, opens the configured store and builds the App.
func New(ctx context.Context, config *Config) (*App, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	s, err := openStore(ctx, config)
	if err != nil {
		return nil, err
	}
	app, err := NewWithStore(config, s)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	return app, nil
}

// NewWithStore builds the App around an already opened store. The App takes
// ownership of s and closes it in Close.
func NewWithStore(config *Config, s store.Store, opts ...Option) (*App, error) {
	var o appOptions
	for _, opt := range opts {
		opt(&o)
	}

	app := &App{config: config, Out: os.Stdout}
	if o.log != nil {
		app.log = *o.log
	} else {
		logData, err := logger.New().
			FromPath(config.Log.Path).
			Level(config.Log.Level).
			Format(config.Log.Format).
			Make()
		if err != nil {
			return nil, fmt.Errorf("failed to create logger: %w", err)
		}
		app.logData = logData
		app.log = logData.Logger
	}

	verifier, err := newVerifier(config.Auth)
	if err != nil {
		_ = app.logData.Close()
		return nil, err
	}
	app.verifier = verifier

	app.readOnly.Store(config.Server.ReadOnly)
	app.store = store.NewReadOnlyStore(s, app.readOnly.Load)
	app.hub = events.NewHub(app.log.With().Str("component", "events").Logger())

	treeOpts := append([]tree.Option{
		tree.WithNotifier(app.hub),
		tree.WithLogger(app.log.With().Str("component", "tree").Logger()),
	}, o.treeOpts...)
	app.manager = tree.NewManager(app.store, treeOpts...)
	return app, nil
}

func openStore(ctx context.Context, config *Config) (store.Store, error) {
	switch config.Store.Backend {
	case BackendMemory:
		return memory.New(), nil
	case BackendMongo:
		s, err := mongo.New(ctx, mongo.Config{
			URI:          config.MongoDB.URI,
			Database:     config.MongoDB.Database,
			Transactions: config.MongoDB.Transactions,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open mongo store: %w", err)
		}
		return s, nil
	case BackendPostgres:
		s, err := postgres.New(config.Postgres.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres store: %w", err)
		}
		return s, nil
	case BackendSurrealDB:
		s, err := surrealdb.New(ctx, surrealdb.Config{
			URL:       config.SurrealDB.URL,
			Namespace: config.SurrealDB.Namespace,
			Database:  config.SurrealDB.Database,
			Username:  config.SurrealDB.User,
			Password:  config.SurrealDB.Pass,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open surrealdb store: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", config.Store.Backend)
	}
}

func newVerifier(cfg AuthConfig) (identity.Verifier, error) {
	if cfg.Mode == AuthModeDev {
		return identity.DevVerifier{}, nil
	}
	v, err := identity.NewJWTVerifier(cfg.JWTSecret, cfg.JWTAlgorithm)
	if err != nil {
		return nil, fmt.Errorf("failed to create token verifier: %w", err)
	}
	return v, nil
}

// Close releases the store connection and the log file.
func (a *App) Close() error {
	var errs []error
	if err := a.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close store: %w", err))
	}
	if err := a.logData.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close log file: %w", err))
	}
	return errors.Join(errs...)
}

func (a *App) Config() *Config { return a.config }

// Store returns the shared store, wrapped so writes fail while read-only.
func (a *App) Store() store.Store { return a.store }

func (a *App) Manager() *tree.Manager { return a.manager }

func (a *App) Hub() *events.Hub { return a.hub }

func (a *App) Logger() zerolog.Logger { return a.log }

// SetReadOnly switches write rejection on or off at runtime.
func (a *App) SetReadOnly(readOnly bool) {
	a.readOnly.Store(readOnly)
	a.log.Info().Bool("read_only", readOnly).Msg("read-only mode changed")
}

func (a *App) IsReadOnly() bool {
	return a.readOnly.Load()
}
