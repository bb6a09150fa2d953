package tree

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/hydranotes/hydra/pkg/hydratesting"
	"github.com/hydranotes/hydra/pkg/models"
	"github.com/hydranotes/hydra/pkg/store/memory"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type seed struct {
	id       uint64
	parent   uint64
	children []uint64
	depth    int
	order    int
	deleted  bool
}

func seedStore(t *testing.T, owner models.UserID, seeds ...seed) *memory.Store {
	t.Helper()
	s := memory.New()
	for _, sd := range seeds {
		b := &models.Block{
			ID:        hydratesting.SeqID(sd.id),
			OwnerID:   owner,
			Children:  models.BlockIDs{},
			Depth:     sd.depth,
			Order:     sd.order,
			Content:   models.DefaultContent(),
			BlockType: models.BlockTypeBullet,
			Version:   1,
			CreatedAt: hydratesting.DefaultTime,
			UpdatedAt: hydratesting.DefaultTime,
		}
		if sd.parent != 0 {
			b.ParentID = hydratesting.SeqID(sd.parent).Ptr()
		}
		for _, c := range sd.children {
			b.Children = append(b.Children, hydratesting.SeqID(c))
		}
		if sd.deleted {
			at := hydratesting.DefaultTime
			b.DeletedAt = &at
		}
		s.Put(b)
	}
	return s
}

func raw(t *testing.T, s *memory.Store, n uint64) *models.Block {
	t.Helper()
	b, ok := s.Raw(hydratesting.SeqID(n))
	require.True(t, ok)
	return b
}

func seqIDs(ns ...uint64) models.BlockIDs {
	out := models.BlockIDs{}
	for _, n := range ns {
		out = append(out, hydratesting.SeqID(n))
	}
	return out
}

func runRepair(t *testing.T, s *memory.Store, opts RepairOptions) OwnerReport {
	t.Helper()
	r := NewRepairer(s, hydratesting.NewStubClock(), zerolog.Nop())
	report, err := r.Run(context.Background(), opts)
	require.NoError(t, err)
	require.Len(t, report.Owners, 1)
	return report.Owners[0]
}

func TestRepair_CleanTreeIsUntouched(t *testing.T) {
	s := seedStore(t, alice,
		seed{id: 1, children: []uint64{2, 3}},
		seed{id: 2, parent: 1, depth: 1, children: []uint64{4}},
		seed{id: 3, parent: 1, depth: 1, order: 1},
		seed{id: 4, parent: 2, depth: 2},
	)

	rep := runRepair(t, s, RepairOptions{})
	assert.Equal(t, 4, rep.Scanned)
	assert.Zero(t, rep.Fixes())
}

func TestRepair_RebuildsChildren(t *testing.T) {
	s := seedStore(t, alice,
		seed{id: 1, children: []uint64{99, 3, 3}},
		seed{id: 2, parent: 1, depth: 1, order: 0},
		seed{id: 3, parent: 1, depth: 1, order: 1},
		seed{id: 4, parent: 1, depth: 1, order: 2},
	)

	rep := runRepair(t, s, RepairOptions{})
	assert.Equal(t, 1, rep.ChildrenFixed)
	if diff := cmp.Diff(seqIDs(3, 2, 4), raw(t, s, 1).Children); diff != "" {
		t.Errorf("children mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 1, raw(t, s, 1).Version, "repair never bumps versions")
}

func TestRepair_FinishesInterruptedDelete(t *testing.T) {
	s := seedStore(t, alice,
		seed{id: 1, children: []uint64{}},
		seed{id: 2, parent: 1, depth: 1, children: []uint64{3}, deleted: true},
		seed{id: 3, parent: 2, depth: 2, children: []uint64{4}},
		seed{id: 4, parent: 3, depth: 3},
	)

	rep := runRepair(t, s, RepairOptions{})
	assert.Equal(t, 2, rep.OrphansDeleted)
	assert.False(t, raw(t, s, 3).IsLive())
	assert.False(t, raw(t, s, 4).IsLive())
	assert.True(t, raw(t, s, 1).IsLive())
	assert.Equal(t, hydratesting.DefaultTime, *raw(t, s, 4).DeletedAt)
}

func TestRepair_PromotesBlocksWithMissingParent(t *testing.T) {
	s := seedStore(t, alice,
		seed{id: 2, parent: 77, depth: 3, children: []uint64{3}},
		seed{id: 3, parent: 2, depth: 4},
	)

	rep := runRepair(t, s, RepairOptions{})
	assert.Equal(t, 1, rep.OrphansPromoted)
	assert.Equal(t, 2, rep.DepthFixed)

	promoted := raw(t, s, 2)
	assert.Nil(t, promoted.ParentID)
	assert.Equal(t, 0, promoted.Depth)
	assert.Equal(t, 1, raw(t, s, 3).Depth)
}

func TestRepair_BreaksCycles(t *testing.T) {
	s := seedStore(t, alice,
		seed{id: 1, parent: 2, depth: 1, children: []uint64{2}},
		seed{id: 2, parent: 1, depth: 1, children: []uint64{1}},
		seed{id: 3, parent: 1, depth: 2},
	)

	rep := runRepair(t, s, RepairOptions{})
	assert.Equal(t, 1, rep.CyclesBroken)

	var roots int
	for _, n := range []uint64{1, 2} {
		if raw(t, s, n).ParentID == nil {
			roots++
		}
	}
	assert.Equal(t, 1, roots, "exactly one cycle member is promoted")

	again := runRepair(t, s, RepairOptions{})
	assert.Zero(t, again.Fixes(), "a repaired tree needs no further fixes")

	m := NewManager(s)
	root := raw(t, s, 1)
	if root.ParentID != nil {
		root = raw(t, s, 2)
	}
	_, descendants, err := m.GetBlockTree(context.Background(), alice, root.ID.String(), 0)
	require.NoError(t, err)
	assert.Len(t, descendants, 2)
}

func TestRepair_DryRunWritesNothing(t *testing.T) {
	s := seedStore(t, alice,
		seed{id: 1, children: []uint64{}},
		seed{id: 2, parent: 1, depth: 5},
	)

	rep := runRepair(t, s, RepairOptions{DryRun: true})
	assert.Equal(t, 1, rep.ChildrenFixed)
	assert.Equal(t, 1, rep.DepthFixed)
	assert.Empty(t, raw(t, s, 1).Children)
	assert.Equal(t, 5, raw(t, s, 2).Depth)
}

func TestRepair_AllOwners(t *testing.T) {
	s := memory.New()
	f := &fixture{store: s, clock: hydratesting.NewStubClock(), feed: &recorder{}}
	f.m = NewManager(s, WithClock(f.clock))
	f.create(t, nil, "alice root")
	_, err := f.m.CreateBlock(context.Background(), bob, CreateRequest{})
	require.NoError(t, err)

	r := NewRepairer(s, nil, zerolog.Nop())
	report, err := r.Run(context.Background(), RepairOptions{Concurrency: 2})
	require.NoError(t, err)
	require.Len(t, report.Owners, 2)
	assert.Equal(t, alice, report.Owners[0].Owner)
	assert.Equal(t, bob, report.Owners[1].Owner)
	assert.Equal(t, 2, report.Total().Scanned)
	assert.Zero(t, report.Total().Fixes())
}
