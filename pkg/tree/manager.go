// Package tree implements the block tree operations: creation, partial update, move
// and cascading soft delete, plus the read side (point lookup, listing, children and
// subtree projection) and a repair job that restores structural invariants.
//
// All operations are scoped by owner. Structural writes of one operation run inside a
// single store transaction, with every read issued before the first write.
package tree

import (
	"context"
	"errors"

	"github.com/hydranotes/hydra/pkg/models"
	"github.com/hydranotes/hydra/pkg/store"
	"github.com/rs/zerolog"
)

// DefaultMaxAncestorWalk bounds the ancestor chain walked by the move cycle check. It
// covers the chain above any parent allowed by store.MaxBlockDepth.
const DefaultMaxAncestorWalk = store.MaxBlockDepth

// Manager performs the mutating block operations. It embeds Query for the reads.
type Manager struct {
	*Query

	store           store.Store
	clock           Clock
	ids             IDGenerator
	notifier        Notifier
	log             zerolog.Logger
	maxAncestorWalk int
}

// NewManager returns a Manager writing to s. Without options it uses the wall clock,
// random UUIDs, no change feed and a silent logger.
func NewManager(s store.Store, opts ...Option) *Manager {
	m := &Manager{
		store:           s,
		clock:           RealClock{},
		ids:             UUIDGenerator{},
		notifier:        nopNotifier{},
		log:             zerolog.Nop(),
		maxAncestorWalk: DefaultMaxAncestorWalk,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.Query = NewQuery(s, m.log)
	return m
}

// CreateBlock creates a block under the given parent, or a root block when no parent
// is given, and appends it to the parent's children.
func (m *Manager) CreateBlock(ctx context.Context, owner models.UserID, req CreateRequest) (*models.Block, error) {
	parentID, err := optionalID(req.ParentID)
	if err != nil {
		return nil, err
	}
	blockType := req.BlockType
	if blockType == "" {
		blockType = models.BlockTypeBullet
	}
	if !blockType.Valid() {
		return nil, invalidOperation("Invalid block type")
	}
	if req.Order != nil && *req.Order < 0 {
		return nil, invalidOperation("Order must be non-negative")
	}

	content := models.DefaultContent()
	if req.Content != nil {
		content = normalizeContent(*req.Content)
	}
	uiState := req.UIState
	if uiState == nil {
		def := models.DefaultUIState()
		uiState = &def
	}

	now := m.clock.Now()
	block := &models.Block{
		ID:         m.ids.NewID(),
		OwnerID:    owner,
		ParentID:   parentID,
		Children:   models.BlockIDs{},
		Content:    content,
		BlockType:  blockType,
		BlockProps: req.BlockProps,
		UIState:    uiState,
		PortalsIn:  models.BlockIDs{},
		References: models.References{},
		Backlinks:  models.BlockIDs{},
		Tags:       models.Tags{},
		Version:    1,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	err = storeError(m.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if parentID != nil {
			parent, err := tx.GetBlock(ctx, owner, *parentID)
			if err != nil {
				return storeError(err, "Parent block not found")
			}
			block.Depth = parent.Depth + 1
			if block.Depth > store.MaxBlockDepth {
				return tooDeep()
			}
		}
		if req.Order != nil {
			block.Order = *req.Order
		} else {
			highest, found, err := tx.MaxSiblingOrder(ctx, owner, parentID)
			if err != nil {
				return storeError(err, "")
			}
			if found {
				block.Order = highest + 1
			}
		}

		if err := tx.InsertBlock(ctx, block); err != nil {
			return storeError(err, "")
		}
		if parentID != nil {
			if err := tx.PushChild(ctx, owner, *parentID, block.ID, now); err != nil {
				return storeError(err, "Parent block not found")
			}
		}
		return nil
	}), "")
	if err != nil {
		m.logFailure(err, "create", owner, block.ID)
		return nil, err
	}

	m.log.Debug().Str("owner", owner.String()).Str("block", block.ID.String()).Int("depth", block.Depth).Msg("block created")
	m.publish(ctx, Change{Type: ChangeCreated, OwnerID: owner, BlockID: block.ID, ParentID: block.ParentID, Version: block.Version, Affected: 1, At: now})
	return block.Clone(), nil
}

// UpdateBlock applies the fields present in req and increments the version. It never
// changes the block's position in the tree.
func (m *Manager) UpdateBlock(ctx context.Context, owner models.UserID, rawID string, req UpdateRequest) (*models.Block, error) {
	id, err := ParseBlockID(rawID)
	if err != nil {
		return nil, err
	}

	now := m.clock.Now()
	patch := store.Patch{
		BlockProps:  req.BlockProps,
		UIState:     req.UIState,
		BumpVersion: true,
		UpdatedAt:   now,
	}
	if c, ok := req.Content.Get(); ok && c != nil {
		content := normalizeContent(*c)
		patch.Content = &content
	}
	if t, ok := req.BlockType.Get(); ok && t != "" {
		if !t.Valid() {
			return nil, invalidOperation("Invalid block type")
		}
		patch.BlockType = &t
	}

	err = storeError(m.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if _, err := tx.GetBlock(ctx, owner, id); err != nil {
			return storeError(err, "Block not found")
		}
		return storeError(tx.UpdateBlock(ctx, owner, id, patch), "Block not found")
	}), "")
	if err != nil {
		m.logFailure(err, "update", owner, id)
		return nil, err
	}

	updated, err := m.store.GetBlock(ctx, owner, id)
	if err != nil {
		return nil, storeError(err, "Block not found")
	}
	m.log.Debug().Str("owner", owner.String()).Str("block", id.String()).Int("version", updated.Version).Msg("block updated")
	m.publish(ctx, Change{Type: ChangeUpdated, OwnerID: owner, BlockID: id, ParentID: updated.ParentID, Version: updated.Version, Affected: 1, At: now})
	return updated, nil
}

// MoveBlock reparents a block and sets its sibling order. Siblings keep their stored
// order. The block's descendants have their depth shifted to follow the new position.
func (m *Manager) MoveBlock(ctx context.Context, owner models.UserID, rawID string, req MoveRequest) (*models.Block, error) {
	id, err := ParseBlockID(rawID)
	if err != nil {
		return nil, err
	}
	newParentID, err := optionalID(req.NewParentID)
	if err != nil {
		return nil, err
	}
	if newParentID != nil && *newParentID == id {
		return nil, invalidOperation("Cannot move block to itself")
	}
	if req.NewOrder == nil || *req.NewOrder < 0 {
		return nil, invalidOperation("Order must be non-negative")
	}
	newOrder := *req.NewOrder

	now := m.clock.Now()
	var affected int
	err = storeError(m.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		block, err := tx.GetBlock(ctx, owner, id)
		if err != nil {
			return storeError(err, "Block not found")
		}

		newDepth := 0
		if newParentID != nil {
			parent, err := tx.GetBlock(ctx, owner, *newParentID)
			if err != nil {
				return storeError(err, "New parent block not found")
			}
			if err := m.checkAncestors(ctx, tx, owner, id, parent); err != nil {
				return err
			}
			newDepth = parent.Depth + 1
		}

		delta := newDepth - block.Depth
		var descendants []models.BlockID
		if delta != 0 {
			found, err := tx.Descendants(ctx, owner, id, store.Unbounded)
			if err != nil {
				return storeError(err, "Block not found")
			}
			descendants = blockIDs(found)
			deepest := block.Depth
			for _, d := range found {
				deepest = max(deepest, d.Depth)
			}
			if deepest+delta > store.MaxBlockDepth {
				return tooDeep()
			}
		}
		affected = 1 + len(descendants)

		// Writes from here on. The new parent gains the block before the old one loses
		// it, so an interrupted move leaves it listed twice rather than nowhere.
		sameParent := equalParents(block.ParentID, newParentID)
		if newParentID != nil && !sameParent {
			if err := tx.PushChild(ctx, owner, *newParentID, id, now); err != nil {
				return storeError(err, "New parent block not found")
			}
		}
		patch := store.Patch{
			ParentID:    models.Some(newParentID),
			Order:       &newOrder,
			Depth:       &newDepth,
			BumpVersion: true,
			UpdatedAt:   now,
		}
		if err := tx.UpdateBlock(ctx, owner, id, patch); err != nil {
			return storeError(err, "Block not found")
		}
		if block.ParentID != nil && !sameParent {
			if err := tx.PullChild(ctx, owner, *block.ParentID, id, now); err != nil {
				return storeError(err, "")
			}
		}
		if len(descendants) > 0 {
			if err := tx.ShiftDepth(ctx, owner, descendants, delta, now); err != nil {
				return storeError(err, "")
			}
		}
		return nil
	}), "")
	if err != nil {
		m.logFailure(err, "move", owner, id)
		return nil, err
	}

	moved, err := m.store.GetBlock(ctx, owner, id)
	if err != nil {
		return nil, storeError(err, "Block not found")
	}
	m.log.Debug().Str("owner", owner.String()).Str("block", id.String()).Int("depth", moved.Depth).Int("affected", affected).Msg("block moved")
	m.publish(ctx, Change{Type: ChangeMoved, OwnerID: owner, BlockID: id, ParentID: moved.ParentID, Version: moved.Version, Affected: affected, At: now})
	return moved, nil
}

// checkAncestors walks up from parent and fails if id is one of its ancestors.
func (m *Manager) checkAncestors(ctx context.Context, tx store.Reader, owner models.UserID, id models.BlockID, parent *models.Block) error {
	seen := map[models.BlockID]bool{parent.ID: true}
	cur := parent
	for steps := 0; cur.ParentID != nil; steps++ {
		if steps >= m.maxAncestorWalk {
			return invalidOperation("Ancestor chain too deep")
		}
		next := *cur.ParentID
		if next == id {
			return invalidOperation("Cannot move block into its own descendant")
		}
		if seen[next] {
			return invalidOperation("Ancestor chain contains a cycle")
		}
		seen[next] = true

		ancestor, err := tx.GetBlock(ctx, owner, next)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				// A dangling chain ends at a missing or deleted ancestor.
				return nil
			}
			return storeError(err, "")
		}
		cur = ancestor
	}
	return nil
}

// DeleteBlock soft deletes a block and its whole live subtree and removes it from its
// parent's children.
func (m *Manager) DeleteBlock(ctx context.Context, owner models.UserID, rawID string) error {
	id, err := ParseBlockID(rawID)
	if err != nil {
		return err
	}

	now := m.clock.Now()
	var (
		parentID *models.BlockID
		affected int
	)
	err = storeError(m.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		block, err := tx.GetBlock(ctx, owner, id)
		if err != nil {
			return storeError(err, "Block not found")
		}
		parentID = block.ParentID

		descendants, err := tx.Descendants(ctx, owner, id, store.Unbounded)
		if err != nil {
			return storeError(err, "Block not found")
		}
		ids := append([]models.BlockID{id}, blockIDs(descendants)...)
		affected = len(ids)

		if err := tx.SoftDelete(ctx, owner, ids, now); err != nil {
			return storeError(err, "")
		}
		if parentID != nil {
			if err := tx.PullChild(ctx, owner, *parentID, id, now); err != nil {
				return storeError(err, "")
			}
		}
		return nil
	}), "")
	if err != nil {
		m.logFailure(err, "delete", owner, id)
		return err
	}

	m.log.Debug().Str("owner", owner.String()).Str("block", id.String()).Int("affected", affected).Msg("block deleted")
	m.publish(ctx, Change{Type: ChangeDeleted, OwnerID: owner, BlockID: id, ParentID: parentID, Affected: affected, At: now})
	return nil
}

func (m *Manager) publish(ctx context.Context, c Change) {
	m.notifier.Publish(ctx, c)
}

func (m *Manager) logFailure(err error, op string, owner models.UserID, id models.BlockID) {
	if KindOf(err) != KindStoreUnavailable {
		return
	}
	m.log.Error().Err(err).Str("op", op).Str("owner", owner.String()).Str("block", id.String()).Msg("store failure")
}

func normalizeContent(c models.Content) models.Content {
	if c.ContentType == "" {
		c.ContentType = models.ContentTypeText
	}
	return c
}

func equalParents(a, b *models.BlockID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func blockIDs(blocks []*models.Block) []models.BlockID {
	ids := make([]models.BlockID, 0, len(blocks))
	for _, b := range blocks {
		ids = append(ids, b.ID)
	}
	return ids
}
