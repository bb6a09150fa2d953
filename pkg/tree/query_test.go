package tree

import (
	"context"
	"testing"
	"time"

	"github.com/hydranotes/hydra/pkg/hydratesting"
	"github.com/hydranotes/hydra/pkg/models"
	"github.com/hydranotes/hydra/pkg/store"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListBlocks_Paging(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	var roots []*models.Block
	for range 5 {
		roots = append(roots, f.create(t, nil, "root"))
	}
	f.create(t, roots[0], "child")

	page, total, err := f.m.ListBlocks(ctx, alice, "", 2, 1)
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	assert.Equal(t, []models.BlockID{roots[1].ID, roots[2].ID}, ids(page))

	all, total, err := f.m.ListBlocks(ctx, alice, ParentFilterAll, 1000, -3)
	require.NoError(t, err)
	assert.Equal(t, 6, total)
	assert.Len(t, all, 6)

	one, _, err := f.m.ListBlocks(ctx, alice, ParentFilterAll, -1, 0)
	require.NoError(t, err)
	assert.Len(t, one, 1)

	past, total, err := f.m.ListBlocks(ctx, alice, "", 10, 50)
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	assert.Empty(t, past)
}

func TestListBlocks_Filters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	root := f.create(t, nil, "root")
	child := f.create(t, root, "child")

	children, total, err := f.m.ListBlocks(ctx, alice, root.ID.String(), 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, []models.BlockID{child.ID}, ids(children))

	_, _, err = f.m.ListBlocks(ctx, alice, "roots-please", 0, 0)
	require.ErrorIs(t, err, ErrInvalidReference)
	assert.Contains(t, err.Error(), "Invalid parent_id format")

	_, total, err = f.m.ListBlocks(ctx, bob, ParentFilterAll, 0, 0)
	require.NoError(t, err)
	assert.Zero(t, total, "owners never see each other's blocks")
}

func TestGetChildren(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	root := f.create(t, nil, "root")
	first := f.create(t, root, "first")
	second := f.create(t, root, "second")
	f.create(t, first, "grandchild")

	children, total, err := f.m.GetChildren(ctx, alice, root.ID.String())
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Equal(t, []models.BlockID{first.ID, second.ID}, ids(children))

	_, _, err = f.m.GetChildren(ctx, alice, hydratesting.SeqID(999).String())
	require.ErrorIs(t, err, ErrNotFound)

	_, _, err = f.m.GetChildren(ctx, bob, root.ID.String())
	require.ErrorIs(t, err, ErrNotFound)
}

func TestGetBlockTree_DepthBound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.create(t, nil, "a")
	b1 := f.create(t, a, "b1")
	b2 := f.create(t, a, "b2")
	c := f.create(t, b1, "c")
	d := f.create(t, c, "d")

	root, descendants, err := f.m.GetBlockTree(ctx, alice, a.ID.String(), 2)
	require.NoError(t, err)
	assert.Equal(t, a.ID, root.ID)
	assert.Equal(t, []models.BlockID{b1.ID, b2.ID, c.ID}, ids(descendants), "level by level, each level by order")

	_, descendants, err = f.m.GetBlockTree(ctx, alice, a.ID.String(), 0)
	require.NoError(t, err)
	assert.Equal(t, []models.BlockID{b1.ID, b2.ID, c.ID, d.ID}, ids(descendants))

	_, descendants, err = f.m.GetBlockTree(ctx, alice, a.ID.String(), -5)
	require.NoError(t, err)
	assert.Equal(t, []models.BlockID{b1.ID, b2.ID}, ids(descendants), "depth is clamped to at least one hop")

	_, descendants, err = f.m.GetBlockTree(ctx, alice, d.ID.String(), 0)
	require.NoError(t, err)
	assert.Empty(t, descendants)
}

func TestGetBlockTree_ClampsToMaxDepth(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	top := f.create(t, nil, "0")
	parent := top
	for range MaxTreeDepth + 3 {
		parent = f.create(t, parent, "level")
	}

	_, descendants, err := f.m.GetBlockTree(ctx, alice, top.ID.String(), 100)
	require.NoError(t, err)
	assert.Len(t, descendants, MaxTreeDepth)
}

func TestGetBlockTree_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.create(t, nil, "a")

	_, _, err := f.m.GetBlockTree(ctx, alice, "nope", 0)
	require.ErrorIs(t, err, ErrInvalidReference)

	_, _, err = f.m.GetBlockTree(ctx, bob, a.ID.String(), 0)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestGetBlock_InvalidID(t *testing.T) {
	f := newFixture(t)

	_, err := f.m.GetBlock(context.Background(), alice, "123")
	require.ErrorIs(t, err, ErrInvalidReference)
	assert.Equal(t, KindInvalidReference, KindOf(err))
	assert.Equal(t, "invalid_reference", KindOf(err).String())
}

// gatedReader holds Descendants until release is closed.
type gatedReader struct {
	store.Reader
	entered chan struct{}
	release chan struct{}
}

func (g *gatedReader) Descendants(ctx context.Context, owner models.UserID, id models.BlockID, maxDepth int) ([]*models.Block, error) {
	g.entered <- struct{}{}
	<-g.release
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return g.Reader.Descendants(ctx, owner, id, maxDepth)
}

func TestGetBlockTree_CancelledCallerDoesNotFailOthers(t *testing.T) {
	f := newFixture(t)
	root := f.create(t, nil, "root")
	f.create(t, root, "child")

	gate := &gatedReader{Reader: f.store, entered: make(chan struct{}, 2), release: make(chan struct{})}
	q := NewQuery(gate, zerolog.Nop())

	first, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, _, err := q.GetBlockTree(first, alice, root.ID.String(), 3)
		firstErr <- err
	}()
	<-gate.entered

	type result struct {
		descendants []*models.Block
		err         error
	}
	second := make(chan result, 1)
	go func() {
		_, d, err := q.GetBlockTree(context.Background(), alice, root.ID.String(), 3)
		second <- result{d, err}
	}()
	// Give the second caller time to join the traversal in flight.
	time.Sleep(50 * time.Millisecond)

	cancel()
	select {
	case err := <-firstErr:
		assert.ErrorIs(t, err, ErrStoreUnavailable)
	case <-time.After(time.Second):
		t.Fatal("cancelled caller kept waiting")
	}

	close(gate.release)
	select {
	case r := <-second:
		require.NoError(t, r.err)
		assert.Len(t, r.descendants, 1)
	case <-time.After(time.Second):
		t.Fatal("second caller never returned")
	}
}
