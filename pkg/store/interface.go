// Package store provides the persistence layer abstraction for the block tree.
//
// The [Store] interface is the narrow command/query surface the tree manager relies on:
// point lookups scoped by owner and liveness, sibling order lookup, bounded traversal of
// the children edge list, field updates, atomic push/pull on a parent's children, and
// batch soft-delete and depth adjustments.
//
// Implementations:
//
//   - [github.com/hydranotes/hydra/pkg/store/memory.Store]: in-process maps, used by tests
//     and single-node development
//   - [github.com/hydranotes/hydra/pkg/store/mongo.Store]: MongoDB documents with $push,
//     $pull and $graphLookup
//   - [github.com/hydranotes/hydra/pkg/store/postgres.Store]: PostgreSQL through GORM with
//     jsonb children and recursive CTE traversal
//   - [github.com/hydranotes/hydra/pkg/store/surrealdb.Store]: SurrealDB through SurrealQL
//     with RecordID typed IDs
//
// # Ownership and liveness
//
// Every read takes the owner and filters out soft-deleted blocks, except where a method
// documents otherwise. A block that exists but belongs to another owner is reported as
// [ErrNotFound], never as a permission error.
//
// # Transactions
//
// [Store.WithinTx] runs a unit of work atomically where the backend allows it. Some
// backends defer every write issued through the [Tx] until the function returns, so a
// unit of work must perform all of its reads before its first write and must not read
// its own writes.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/hydranotes/hydra/pkg/models"
)

var (
	// ErrNotFound is returned when a block is missing, owned by someone else, or deleted.
	ErrNotFound = errors.New("block not found")

	// ErrReadOnly is returned by writes while the store is in read-only mode.
	ErrReadOnly = errors.New("operation denied: store is in read-only mode")

	// ErrDuplicate is returned when inserting a block whose id already exists.
	ErrDuplicate = errors.New("block already exists")
)

// Unbounded passed as maxDepth makes Descendants follow the tree to its actual depth.
const Unbounded = -1

// MaxBlockDepth is the deepest depth a block may have. The tree manager refuses
// creates and moves that would go past it.
const MaxBlockDepth = 1000

// MaxTraversalDepth caps unbounded traversals so corrupted data cannot loop forever.
// It is above MaxBlockDepth, so the subtree of any valid block is always reached in full.
const MaxTraversalDepth = MaxBlockDepth + 24

// Reader is the query half of the store.
type Reader interface {
	// GetBlock returns the live block with the given id owned by owner.
	GetBlock(ctx context.Context, owner models.UserID, id models.BlockID) (*models.Block, error)

	// LookupBlock returns the block with the given id owned by owner whether or not it
	// is deleted. The repair job uses it to tell a deleted parent from a missing one.
	LookupBlock(ctx context.Context, owner models.UserID, id models.BlockID) (*models.Block, error)

	// MaxSiblingOrder returns the highest order among live blocks sharing parent.
	// A nil parent means root blocks. found is false when there are no siblings.
	MaxSiblingOrder(ctx context.Context, owner models.UserID, parent *models.BlockID) (max int, found bool, err error)

	// Descendants returns live blocks reachable from id through children edges, at most
	// maxDepth hops away (or Unbounded). The block itself is not included and traversal
	// does not continue below a deleted block. The result is sorted with SortByLevel.
	Descendants(ctx context.Context, owner models.UserID, id models.BlockID, maxDepth int) ([]*models.Block, error)

	// ListBlocks returns one page of live blocks matching q, sorted with SortBySiblingOrder,
	// and the total number of matches ignoring paging.
	ListBlocks(ctx context.Context, owner models.UserID, q ListQuery) ([]*models.Block, int, error)

	// ListOwners returns every owner with at least one live block.
	ListOwners(ctx context.Context) ([]models.UserID, error)
}

// Writer is the command half of the store.
type Writer interface {
	InsertBlock(ctx context.Context, block *models.Block) error

	// UpdateBlock applies p to the live block id. It returns ErrNotFound if no live block
	// matched.
	UpdateBlock(ctx context.Context, owner models.UserID, id models.BlockID, p Patch) error

	// PushChild appends child to parent's children and sets parent's updated_at. It
	// returns ErrNotFound if parent is not live, unless the backend defers writes.
	PushChild(ctx context.Context, owner models.UserID, parent, child models.BlockID, at time.Time) error

	// PullChild removes every occurrence of child from parent's children and sets
	// parent's updated_at. Pulling from a parent that no longer exists is not an error.
	PullChild(ctx context.Context, owner models.UserID, parent, child models.BlockID, at time.Time) error

	// SoftDelete marks every live block in ids as deleted at the given time.
	SoftDelete(ctx context.Context, owner models.UserID, ids []models.BlockID, at time.Time) error

	// ShiftDepth adds delta to the depth of every live block in ids.
	ShiftDepth(ctx context.Context, owner models.UserID, ids []models.BlockID, delta int, at time.Time) error
}

// Tx is the view of a store inside WithinTx.
type Tx interface {
	Reader
	Writer
}

// Store is a block persistence backend.
type Store interface {
	Reader
	Writer

	// WithinTx runs fn as one unit of work. If fn returns an error nothing it wrote is
	// kept, where the backend supports rollback.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	// Migrate creates tables and indexes.
	Migrate(ctx context.Context) error

	Close() error
}

// FilterKind selects which parent a listing is restricted to.
type FilterKind int

const (
	// FilterRoots lists blocks without a parent.
	FilterRoots FilterKind = iota
	// FilterAll lists blocks regardless of parent.
	FilterAll
	// FilterParent lists the children of ParentFilter.ParentID.
	FilterParent
)

// ParentFilter is the tri-state parent restriction of a listing.
type ParentFilter struct {
	Kind     FilterKind
	ParentID models.BlockID
}

func Roots() ParentFilter { return ParentFilter{Kind: FilterRoots} }
func All() ParentFilter   { return ParentFilter{Kind: FilterAll} }

func ChildrenOf(id models.BlockID) ParentFilter {
	return ParentFilter{Kind: FilterParent, ParentID: id}
}

// Matches reports whether b satisfies the filter.
func (f ParentFilter) Matches(b *models.Block) bool {
	switch f.Kind {
	case FilterRoots:
		return b.ParentID == nil
	case FilterParent:
		return b.ParentID != nil && *b.ParentID == f.ParentID
	default:
		return true
	}
}

// ListQuery is a paged listing request. A Limit of zero or less means no limit.
type ListQuery struct {
	Filter ParentFilter
	Limit  int
	Offset int
}
