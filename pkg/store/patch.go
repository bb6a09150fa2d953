package store

import (
	"cmp"
	"slices"
	"time"

	"github.com/hydranotes/hydra/pkg/models"
)

// Patch is a partial update of a block. Nil pointers and absent optionals leave the
// field untouched. UpdatedAt is always written.
type Patch struct {
	Content    *models.Content
	BlockType  *models.BlockType
	BlockProps models.Optional[*models.BlockProps]
	UIState    models.Optional[*models.UIState]

	ParentID models.Optional[*models.BlockID]
	Order    *int
	Depth    *int
	Children models.Optional[models.BlockIDs]

	// BumpVersion increments version by one as part of the same write.
	BumpVersion bool
	UpdatedAt   time.Time
}

// Apply writes the patch into b. Backends without native partial updates use it, and
// it is the reference the others are tested against.
func (p Patch) Apply(b *models.Block) {
	if p.Content != nil {
		b.Content = *p.Content
	}
	if p.BlockType != nil {
		b.BlockType = *p.BlockType
	}
	if v, ok := p.BlockProps.Get(); ok {
		b.BlockProps = v
	}
	if v, ok := p.UIState.Get(); ok {
		b.UIState = v
	}
	if v, ok := p.ParentID.Get(); ok {
		b.ParentID = v
	}
	if p.Order != nil {
		b.Order = *p.Order
	}
	if p.Depth != nil {
		b.Depth = *p.Depth
	}
	if v, ok := p.Children.Get(); ok {
		b.Children = slices.Clone(v)
		if b.Children == nil {
			b.Children = models.BlockIDs{}
		}
	}
	if p.BumpVersion {
		b.Version++
	}
	b.UpdatedAt = p.UpdatedAt
}

// SortBySiblingOrder sorts blocks by order, breaking ties by creation time.
func SortBySiblingOrder(blocks []*models.Block) {
	slices.SortStableFunc(blocks, func(a, b *models.Block) int {
		if c := cmp.Compare(a.Order, b.Order); c != 0 {
			return c
		}
		return a.CreatedAt.Compare(b.CreatedAt)
	})
}

// SortByLevel sorts traversal results by their hop distance from the start block,
// each level by sibling order. Blocks missing from levels sort first.
func SortByLevel(blocks []*models.Block, levels map[models.BlockID]int) {
	slices.SortStableFunc(blocks, func(a, b *models.Block) int {
		if c := cmp.Compare(levels[a.ID], levels[b.ID]); c != 0 {
			return c
		}
		if c := cmp.Compare(a.Order, b.Order); c != 0 {
			return c
		}
		return a.CreatedAt.Compare(b.CreatedAt)
	})
}

// Page slices an already sorted result according to q.
func Page[T any](items []T, q ListQuery) []T {
	if q.Offset > 0 {
		if q.Offset >= len(items) {
			return []T{}
		}
		items = items[q.Offset:]
	}
	if q.Limit > 0 && q.Limit < len(items) {
		items = items[:q.Limit]
	}
	return items
}
