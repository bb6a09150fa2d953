package tree

import (
	"context"
	"time"

	"github.com/hydranotes/hydra/pkg/models"
	"github.com/rs/zerolog"
)

// Clock provides the current time. Production code uses RealClock; tests use a stub.
type Clock interface {
	Now() time.Time
}

// RealClock returns the wall clock in UTC at millisecond precision, the finest
// precision every backend preserves.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now().UTC().Truncate(time.Millisecond) }

// IDGenerator assigns identifiers to new blocks.
type IDGenerator interface {
	NewID() models.BlockID
}

// UUIDGenerator generates random UUID block ids.
type UUIDGenerator struct{}

func (UUIDGenerator) NewID() models.BlockID { return models.NewBlockID() }

// ChangeType names a kind of mutation in the change feed.
type ChangeType string

const (
	ChangeCreated ChangeType = "created"
	ChangeUpdated ChangeType = "updated"
	ChangeMoved   ChangeType = "moved"
	ChangeDeleted ChangeType = "deleted"
)

// Change describes one committed mutation.
type Change struct {
	Type     ChangeType      `json:"type"`
	OwnerID  models.UserID   `json:"-"`
	BlockID  models.BlockID  `json:"block_id"`
	ParentID *models.BlockID `json:"parent_id"`
	Version  int             `json:"version"`
	// Affected is the number of blocks touched, e.g. the size of a deleted subtree.
	Affected int       `json:"affected"`
	At       time.Time `json:"at"`
}

// Notifier receives committed changes. Publish must not block.
type Notifier interface {
	Publish(ctx context.Context, change Change)
}

type nopNotifier struct{}

func (nopNotifier) Publish(context.Context, Change) {}

// Option configures a Manager.
type Option func(*Manager)

// WithClock sets the clock used for created_at, updated_at and deleted_at.
func WithClock(c Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// WithIDGenerator sets the source of new block ids.
func WithIDGenerator(g IDGenerator) Option {
	return func(m *Manager) { m.ids = g }
}

// WithNotifier sets where successful mutations are published.
func WithNotifier(n Notifier) Option {
	return func(m *Manager) { m.notifier = n }
}

// WithLogger sets the logger for mutations and store failures.
func WithLogger(l zerolog.Logger) Option {
	return func(m *Manager) { m.log = l }
}

// WithMaxAncestorWalk bounds the ancestor walk of the move cycle check.
func WithMaxAncestorWalk(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.maxAncestorWalk = n
		}
	}
}
