package hydra

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/hydranotes/hydra/pkg/identity"
	"github.com/hydranotes/hydra/pkg/metrics"
	"github.com/hydranotes/hydra/pkg/models"
	"github.com/hydranotes/hydra/pkg/tree"
)

// Command is one CLI action executed against an App.
type Command interface {
	Name() string
}

// RunCommand serves the HTTP API.
type RunCommand struct {
	// Port overrides server.port when set.
	Port string
}

func (c *RunCommand) Name() string { return "serve" }

// MigrateCommand creates the tables and indexes of the configured store.
type MigrateCommand struct{}

func (c *MigrateCommand) Name() string { return "migrate" }

// RepairCommand runs the structural repair job.
type RepairCommand struct {
	Owner       string
	DryRun      bool
	Concurrency int
}

func (c *RepairCommand) Name() string { return "repair" }

// TokenCommand mints a development token.
type TokenCommand struct {
	User     string
	Email    string
	FullName string
}

func (c *TokenCommand) Name() string { return "token" }

// Execute dispatches cmd.
func (a *App) Execute(ctx context.Context, cmd Command) error {
	switch c := cmd.(type) {
	case *RunCommand:
		return a.Run(ctx, c)
	case *MigrateCommand:
		return a.Migrate(ctx)
	case *RepairCommand:
		_, err := a.Repair(ctx, c)
		return err
	case *TokenCommand:
		return c.Run(a.config, a.Out)
	default:
		return fmt.Errorf("unknown command type: %T", cmd)
	}
}

// Migrate prepares the store schema. It is idempotent.
func (a *App) Migrate(ctx context.Context) error {
	a.log.Info().Str("store", a.config.Store.Backend).Msg("running migrations")
	if err := a.store.Migrate(ctx); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	a.log.Info().Msg("migrations complete")
	return nil
}

// Repair runs the repair job and writes the report as JSON to Out. It bypasses the
// read-only switch so repairs can run while the API rejects writes.
func (a *App) Repair(ctx context.Context, cmd *RepairCommand) (tree.RepairReport, error) {
	repairer := tree.NewRepairer(a.store.Unwrap(), tree.RealClock{}, a.log.With().Str("component", "repair").Logger())
	report, err := repairer.Run(ctx, tree.RepairOptions{
		Owner:       models.UserID(cmd.Owner),
		DryRun:      cmd.DryRun,
		Concurrency: cmd.Concurrency,
	})
	if err != nil {
		return report, fmt.Errorf("repair failed: %w", err)
	}

	if !report.DryRun {
		total := report.Total()
		metrics.RecordRepairFixes("children", total.ChildrenFixed)
		metrics.RecordRepairFixes("depth", total.DepthFixed)
		metrics.RecordRepairFixes("orphan", total.OrphansDeleted+total.OrphansPromoted)
		metrics.RecordRepairFixes("cycle", total.CyclesBroken)
	}

	enc := json.NewEncoder(a.Out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return report, fmt.Errorf("failed to write report: %w", err)
	}
	return report, nil
}

// Run prints a signed token for the user. It needs only the auth section of config,
// so no store is opened.
func (c *TokenCommand) Run(config *Config, out io.Writer) error {
	if c.User == "" {
		return errors.New("a user id is required")
	}
	issuer, err := newIssuer(config.Auth)
	if err != nil {
		return fmt.Errorf("failed to create token issuer: %w", err)
	}
	email := c.Email
	if email == "" {
		email = c.User + "@localhost"
	}
	token, err := issuer.Issue(identity.User{ID: models.UserID(c.User), Email: email, Name: c.FullName})
	if err != nil {
		return fmt.Errorf("failed to issue token: %w", err)
	}
	_, err = fmt.Fprintln(out, token)
	return err
}

func newIssuer(cfg AuthConfig) (*identity.Issuer, error) {
	ttl := time.Duration(cfg.JWTExpirationHours) * time.Hour
	return identity.NewIssuer(cfg.JWTSecret, cfg.JWTAlgorithm, ttl)
}
