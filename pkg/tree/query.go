package tree

import (
	"context"
	"fmt"

	"github.com/hydranotes/hydra/pkg/models"
	"github.com/hydranotes/hydra/pkg/store"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// Listing and traversal bounds.
const (
	DefaultListLimit = 100
	MaxListLimit     = 500
	MaxChildren      = 500
	DefaultTreeDepth = 10
	MaxTreeDepth     = 20
)

// ParentFilterAll selects every block in ListBlocks regardless of parent.
const ParentFilterAll = "all"

// Query is the read side of the block tree.
type Query struct {
	store store.Reader
	log   zerolog.Logger
	trees singleflight.Group
}

// NewQuery returns a Query reading from r.
func NewQuery(r store.Reader, log zerolog.Logger) *Query {
	return &Query{store: r, log: log}
}

// GetBlock returns one live block.
func (q *Query) GetBlock(ctx context.Context, owner models.UserID, rawID string) (*models.Block, error) {
	id, err := ParseBlockID(rawID)
	if err != nil {
		return nil, err
	}
	b, err := q.store.GetBlock(ctx, owner, id)
	if err != nil {
		return nil, storeError(err, "Block not found")
	}
	return b, nil
}

// GetChildren returns the live children of a block by order, at most MaxChildren of
// them, and their total count.
func (q *Query) GetChildren(ctx context.Context, owner models.UserID, rawID string) ([]*models.Block, int, error) {
	id, err := ParseBlockID(rawID)
	if err != nil {
		return nil, 0, err
	}
	if _, err := q.store.GetBlock(ctx, owner, id); err != nil {
		return nil, 0, storeError(err, "Block not found")
	}
	children, total, err := q.store.ListBlocks(ctx, owner, store.ListQuery{
		Filter: store.ChildrenOf(id),
		Limit:  MaxChildren,
	})
	if err != nil {
		return nil, 0, storeError(err, "")
	}
	return children, total, nil
}

// ListBlocks lists one page of blocks. parentFilter is "" for root blocks, "all" for
// every block, or the id of the parent whose children are listed. A limit outside
// 1..MaxListLimit is clamped, zero meaning DefaultListLimit.
func (q *Query) ListBlocks(ctx context.Context, owner models.UserID, parentFilter string, limit, offset int) ([]*models.Block, int, error) {
	var filter store.ParentFilter
	switch parentFilter {
	case "":
		filter = store.Roots()
	case ParentFilterAll:
		filter = store.All()
	default:
		id, err := models.ParseBlockID(parentFilter)
		if err != nil {
			return nil, 0, invalidReference("Invalid parent_id format", err)
		}
		filter = store.ChildrenOf(id)
	}

	switch {
	case limit == 0:
		limit = DefaultListLimit
	case limit < 1:
		limit = 1
	case limit > MaxListLimit:
		limit = MaxListLimit
	}
	offset = max(offset, 0)

	blocks, total, err := q.store.ListBlocks(ctx, owner, store.ListQuery{Filter: filter, Limit: limit, Offset: offset})
	if err != nil {
		return nil, 0, storeError(err, "")
	}
	return blocks, total, nil
}

type subtree struct {
	root        *models.Block
	descendants []*models.Block
}

// GetBlockTree returns a block and its live descendants at most maxDepth hops below
// it, sorted by level then order. maxDepth is clamped to 1..MaxTreeDepth, zero meaning
// DefaultTreeDepth. Identical concurrent requests share one traversal, so callers must
// not modify the returned blocks.
func (q *Query) GetBlockTree(ctx context.Context, owner models.UserID, rawID string, maxDepth int) (*models.Block, []*models.Block, error) {
	id, err := ParseBlockID(rawID)
	if err != nil {
		return nil, nil, err
	}
	switch {
	case maxDepth == 0:
		maxDepth = DefaultTreeDepth
	case maxDepth < 1:
		maxDepth = 1
	case maxDepth > MaxTreeDepth:
		maxDepth = MaxTreeDepth
	}

	// The shared traversal outlives any one caller, and each caller stops waiting when
	// its own context ends.
	key := fmt.Sprintf("%s/%s/%d", owner, id, maxDepth)
	ch := q.trees.DoChan(key, func() (any, error) {
		ctx := context.WithoutCancel(ctx)
		root, err := q.store.GetBlock(ctx, owner, id)
		if err != nil {
			return nil, storeError(err, "Block not found")
		}
		descendants, err := q.store.Descendants(ctx, owner, id, maxDepth)
		if err != nil {
			return nil, storeError(err, "Block not found")
		}
		return subtree{root: root, descendants: descendants}, nil
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return nil, nil, storeError(ctx.Err(), "")
	case res = <-ch:
	}
	if res.Err != nil {
		return nil, nil, res.Err
	}
	if res.Shared {
		q.log.Debug().Str("owner", owner.String()).Str("block", id.String()).Msg("tree request coalesced")
	}
	t := res.Val.(subtree)
	return t.root, t.descendants, nil
}
