// Package memory provides an in-process implementation of [store.Store].
//
// Blocks live in a map guarded by a read/write mutex. WithinTx holds the write lock for
// the whole unit of work and restores a snapshot if the unit fails, so it gives the same
// all-or-nothing behaviour as the database backends. Traversal follows children edges
// like the document stores do. Data does not survive a restart.
package memory

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/hydranotes/hydra/pkg/models"
	"github.com/hydranotes/hydra/pkg/store"
)

// Store is a concurrency safe in-memory block store.
type Store struct {
	mu sync.RWMutex
	st *state
}

var _ store.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{st: newState()}
}

func (s *Store) Migrate(ctx context.Context) error { return nil }
func (s *Store) Close() error                      { return nil }

func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.st.clone()
	if err := fn(ctx, s.st); err != nil {
		s.st = snapshot
		return err
	}
	return nil
}

func (s *Store) GetBlock(ctx context.Context, owner models.UserID, id models.BlockID) (*models.Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.GetBlock(ctx, owner, id)
}

func (s *Store) LookupBlock(ctx context.Context, owner models.UserID, id models.BlockID) (*models.Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.LookupBlock(ctx, owner, id)
}

func (s *Store) MaxSiblingOrder(ctx context.Context, owner models.UserID, parent *models.BlockID) (int, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.MaxSiblingOrder(ctx, owner, parent)
}

func (s *Store) Descendants(ctx context.Context, owner models.UserID, id models.BlockID, maxDepth int) ([]*models.Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.Descendants(ctx, owner, id, maxDepth)
}

func (s *Store) ListBlocks(ctx context.Context, owner models.UserID, q store.ListQuery) ([]*models.Block, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.ListBlocks(ctx, owner, q)
}

func (s *Store) ListOwners(ctx context.Context) ([]models.UserID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.ListOwners(ctx)
}

func (s *Store) InsertBlock(ctx context.Context, block *models.Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.InsertBlock(ctx, block)
}

func (s *Store) UpdateBlock(ctx context.Context, owner models.UserID, id models.BlockID, p store.Patch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.UpdateBlock(ctx, owner, id, p)
}

func (s *Store) PushChild(ctx context.Context, owner models.UserID, parent, child models.BlockID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.PushChild(ctx, owner, parent, child, at)
}

func (s *Store) PullChild(ctx context.Context, owner models.UserID, parent, child models.BlockID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.PullChild(ctx, owner, parent, child, at)
}

func (s *Store) SoftDelete(ctx context.Context, owner models.UserID, ids []models.BlockID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.SoftDelete(ctx, owner, ids, at)
}

func (s *Store) ShiftDepth(ctx context.Context, owner models.UserID, ids []models.BlockID, delta int, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.ShiftDepth(ctx, owner, ids, delta, at)
}

// Raw returns a copy of a block regardless of owner or liveness. Tests use it to
// inspect soft-deleted rows.
func (s *Store) Raw(id models.BlockID) (*models.Block, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.st.blocks[id]
	return b.Clone(), ok
}

// Put stores a copy of block as is, bypassing every invariant. Tests use it to seed
// corrupted trees.
func (s *Store) Put(block *models.Block) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.put(block.Clone())
}

// state is the unlocked data the Store guards. It implements store.Tx so WithinTx can
// hand it to the unit of work while the lock is held.
type state struct {
	blocks map[models.BlockID]*models.Block
	seq    map[models.BlockID]uint64
	next   uint64
}

func newState() *state {
	return &state{
		blocks: make(map[models.BlockID]*models.Block),
		seq:    make(map[models.BlockID]uint64),
	}
}

func (st *state) clone() *state {
	c := &state{
		blocks: make(map[models.BlockID]*models.Block, len(st.blocks)),
		seq:    make(map[models.BlockID]uint64, len(st.seq)),
		next:   st.next,
	}
	for id, b := range st.blocks {
		c.blocks[id] = b.Clone()
	}
	for id, n := range st.seq {
		c.seq[id] = n
	}
	return c
}

func (st *state) put(b *models.Block) {
	if _, ok := st.seq[b.ID]; !ok {
		st.next++
		st.seq[b.ID] = st.next
	}
	st.blocks[b.ID] = b
}

func (st *state) live(owner models.UserID, id models.BlockID) (*models.Block, bool) {
	b, ok := st.blocks[id]
	if !ok || b.OwnerID != owner || !b.IsLive() {
		return nil, false
	}
	return b, true
}

// scan returns the owner's live blocks matching keep, in insertion order.
func (st *state) scan(owner models.UserID, keep func(*models.Block) bool) []*models.Block {
	var out []*models.Block
	for _, b := range st.blocks {
		if b.OwnerID == owner && b.IsLive() && keep(b) {
			out = append(out, b)
		}
	}
	slices.SortFunc(out, func(a, b *models.Block) int {
		return cmp.Compare(st.seq[a.ID], st.seq[b.ID])
	})
	return out
}

func (st *state) GetBlock(ctx context.Context, owner models.UserID, id models.BlockID) (*models.Block, error) {
	b, ok := st.live(owner, id)
	if !ok {
		return nil, store.ErrNotFound
	}
	return b.Clone(), nil
}

func (st *state) LookupBlock(ctx context.Context, owner models.UserID, id models.BlockID) (*models.Block, error) {
	b, ok := st.blocks[id]
	if !ok || b.OwnerID != owner {
		return nil, store.ErrNotFound
	}
	return b.Clone(), nil
}

func (st *state) MaxSiblingOrder(ctx context.Context, owner models.UserID, parent *models.BlockID) (int, bool, error) {
	filter := store.Roots()
	if parent != nil {
		filter = store.ChildrenOf(*parent)
	}
	siblings := st.scan(owner, filter.Matches)
	if len(siblings) == 0 {
		return 0, false, nil
	}
	highest := siblings[0].Order
	for _, b := range siblings[1:] {
		highest = max(highest, b.Order)
	}
	return highest, true, nil
}

func (st *state) Descendants(ctx context.Context, owner models.UserID, id models.BlockID, maxDepth int) ([]*models.Block, error) {
	root, ok := st.live(owner, id)
	if !ok {
		return nil, store.ErrNotFound
	}
	if maxDepth == store.Unbounded || maxDepth > store.MaxTraversalDepth {
		maxDepth = store.MaxTraversalDepth
	}

	visited := map[models.BlockID]bool{id: true}
	levels := make(map[models.BlockID]int)
	var out []*models.Block
	frontier := root.Children
	for hop := 1; hop <= maxDepth && len(frontier) > 0; hop++ {
		var next models.BlockIDs
		for _, childID := range frontier {
			if visited[childID] {
				continue
			}
			child, ok := st.live(owner, childID)
			if !ok {
				continue
			}
			visited[childID] = true
			levels[childID] = hop
			out = append(out, child.Clone())
			next = append(next, child.Children...)
		}
		frontier = next
	}
	store.SortByLevel(out, levels)
	return out, nil
}

func (st *state) ListBlocks(ctx context.Context, owner models.UserID, q store.ListQuery) ([]*models.Block, int, error) {
	matches := st.scan(owner, q.Filter.Matches)
	store.SortBySiblingOrder(matches)
	page := store.Page(matches, q)
	out := make([]*models.Block, len(page))
	for i, b := range page {
		out[i] = b.Clone()
	}
	return out, len(matches), nil
}

func (st *state) ListOwners(ctx context.Context) ([]models.UserID, error) {
	seen := make(map[models.UserID]bool)
	var owners []models.UserID
	for _, b := range st.blocks {
		if b.IsLive() && !seen[b.OwnerID] {
			seen[b.OwnerID] = true
			owners = append(owners, b.OwnerID)
		}
	}
	slices.Sort(owners)
	return owners, nil
}

func (st *state) InsertBlock(ctx context.Context, block *models.Block) error {
	if block.ID.IsZero() {
		block.ID = models.NewBlockID()
	}
	if _, exists := st.blocks[block.ID]; exists {
		return store.ErrDuplicate
	}
	st.put(block.Clone())
	return nil
}

func (st *state) UpdateBlock(ctx context.Context, owner models.UserID, id models.BlockID, p store.Patch) error {
	b, ok := st.live(owner, id)
	if !ok {
		return store.ErrNotFound
	}
	p.Apply(b)
	return nil
}

func (st *state) PushChild(ctx context.Context, owner models.UserID, parent, child models.BlockID, at time.Time) error {
	b, ok := st.live(owner, parent)
	if !ok {
		return store.ErrNotFound
	}
	b.Children = append(b.Children, child)
	b.UpdatedAt = at
	return nil
}

func (st *state) PullChild(ctx context.Context, owner models.UserID, parent, child models.BlockID, at time.Time) error {
	b, ok := st.blocks[parent]
	if !ok || b.OwnerID != owner {
		return nil
	}
	b.Children = slices.DeleteFunc(b.Children, func(id models.BlockID) bool { return id == child })
	b.UpdatedAt = at
	return nil
}

func (st *state) SoftDelete(ctx context.Context, owner models.UserID, ids []models.BlockID, at time.Time) error {
	for _, id := range ids {
		if b, ok := st.live(owner, id); ok {
			deletedAt := at
			b.DeletedAt = &deletedAt
			b.UpdatedAt = at
		}
	}
	return nil
}

func (st *state) ShiftDepth(ctx context.Context, owner models.UserID, ids []models.BlockID, delta int, at time.Time) error {
	for _, id := range ids {
		if b, ok := st.live(owner, id); ok {
			b.Depth += delta
			b.UpdatedAt = at
		}
	}
	return nil
}
