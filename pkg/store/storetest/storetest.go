// Package storetest is the conformance suite every store.Store backend must pass.
//
// Backends run it from their own tests:
//
//	func TestMemoryStore(t *testing.T) {
//		suite.Run(t, &storetest.Suite{NewStore: func(t *testing.T) store.Store { return memory.New() }, Rollback: true})
//	}
//
// Each test works under a fresh owner so a suite can share one database.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hydranotes/hydra/pkg/models"
	"github.com/hydranotes/hydra/pkg/store"
	"github.com/stretchr/testify/suite"
)

// Suite exercises the store contract.
type Suite struct {
	suite.Suite

	// NewStore returns the store under test. It is called once per suite.
	NewStore func(t *testing.T) store.Store

	// Rollback reports that WithinTx discards writes when the unit of work fails.
	Rollback bool

	s     store.Store
	owner models.UserID
	at    time.Time
}

func (s *Suite) SetupSuite() {
	s.s = s.NewStore(s.T())
	s.Require().NoError(s.s.Migrate(context.Background()))
}

func (s *Suite) TearDownSuite() {
	if s.s != nil {
		s.Require().NoError(s.s.Close())
	}
}

func (s *Suite) SetupTest() {
	s.owner = models.UserID("owner-" + uuid.NewString())
	s.at = time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
}

func (s *Suite) ctx() context.Context { return context.Background() }

// insert stores a live block under parent, keeping the parent's children in step.
func (s *Suite) insert(parent *models.Block, order int) *models.Block {
	s.at = s.at.Add(time.Second)
	b := &models.Block{
		ID:        models.NewBlockID(),
		OwnerID:   s.owner,
		Children:  models.BlockIDs{},
		Order:     order,
		Content:   models.Content{Text: fmt.Sprintf("block %d", order), ContentType: models.ContentTypeText},
		BlockType: models.BlockTypeBullet,
		Version:   1,
		CreatedAt: s.at,
		UpdatedAt: s.at,
	}
	if parent != nil {
		b.ParentID = parent.ID.Ptr()
		b.Depth = parent.Depth + 1
	}
	s.Require().NoError(s.s.InsertBlock(s.ctx(), b))
	if parent != nil {
		s.Require().NoError(s.s.PushChild(s.ctx(), s.owner, parent.ID, b.ID, s.at))
		parent.Children = append(parent.Children, b.ID)
	}
	return b
}

func (s *Suite) get(id models.BlockID) *models.Block {
	b, err := s.s.GetBlock(s.ctx(), s.owner, id)
	s.Require().NoError(err)
	return b
}

func ids(blocks []*models.Block) []models.BlockID {
	out := make([]models.BlockID, len(blocks))
	for i, b := range blocks {
		out[i] = b.ID
	}
	return out
}

func (s *Suite) TestInsertAndGet() {
	root := s.insert(nil, 0)
	root.Tags = models.Tags{"work"}

	got := s.get(root.ID)
	s.Equal(root.ID, got.ID)
	s.Equal(s.owner, got.OwnerID)
	s.Nil(got.ParentID)
	s.Equal("block 0", got.Content.Text)
	s.Equal(models.BlockTypeBullet, got.BlockType)
	s.Equal(1, got.Version)
	s.True(root.CreatedAt.Equal(got.CreatedAt), "created_at %v != %v", root.CreatedAt, got.CreatedAt)
	s.Empty(got.Children)
	s.True(got.IsLive())
}

func (s *Suite) TestInsertDuplicate() {
	root := s.insert(nil, 0)
	dup := root.Clone()
	err := s.s.InsertBlock(s.ctx(), dup)
	s.ErrorIs(err, store.ErrDuplicate)
}

func (s *Suite) TestGetIsOwnerScoped() {
	root := s.insert(nil, 0)

	_, err := s.s.GetBlock(s.ctx(), "someone-else", root.ID)
	s.ErrorIs(err, store.ErrNotFound)
	_, err = s.s.GetBlock(s.ctx(), s.owner, models.NewBlockID())
	s.ErrorIs(err, store.ErrNotFound)
}

func (s *Suite) TestSoftDeleteHidesBlock() {
	root := s.insert(nil, 0)
	child := s.insert(root, 0)

	s.Require().NoError(s.s.SoftDelete(s.ctx(), s.owner, []models.BlockID{child.ID}, s.at))

	_, err := s.s.GetBlock(s.ctx(), s.owner, child.ID)
	s.ErrorIs(err, store.ErrNotFound)

	raw, err := s.s.LookupBlock(s.ctx(), s.owner, child.ID)
	s.Require().NoError(err)
	s.Require().NotNil(raw.DeletedAt)
	s.True(s.at.Equal(*raw.DeletedAt))

	_, err = s.s.LookupBlock(s.ctx(), "someone-else", child.ID)
	s.ErrorIs(err, store.ErrNotFound)

	blocks, total, err := s.s.ListBlocks(s.ctx(), s.owner, store.ListQuery{Filter: store.All()})
	s.Require().NoError(err)
	s.Equal(1, total)
	s.Equal([]models.BlockID{root.ID}, ids(blocks))
}

func (s *Suite) TestMaxSiblingOrder() {
	_, found, err := s.s.MaxSiblingOrder(s.ctx(), s.owner, nil)
	s.Require().NoError(err)
	s.False(found)

	root := s.insert(nil, 0)
	s.insert(nil, 7)
	s.insert(root, 3)

	highest, found, err := s.s.MaxSiblingOrder(s.ctx(), s.owner, nil)
	s.Require().NoError(err)
	s.True(found)
	s.Equal(7, highest)

	highest, found, err = s.s.MaxSiblingOrder(s.ctx(), s.owner, root.ID.Ptr())
	s.Require().NoError(err)
	s.True(found)
	s.Equal(3, highest)
}

func (s *Suite) TestPushAndPullChild() {
	root := s.insert(nil, 0)
	a := s.insert(root, 0)
	b := s.insert(root, 1)
	s.Equal(models.BlockIDs{a.ID, b.ID}, s.get(root.ID).Children)

	later := s.at.Add(time.Minute)
	s.Require().NoError(s.s.PullChild(s.ctx(), s.owner, root.ID, a.ID, later))
	got := s.get(root.ID)
	s.Equal(models.BlockIDs{b.ID}, got.Children)
	s.True(later.Equal(got.UpdatedAt))

	err := s.s.PushChild(s.ctx(), s.owner, models.NewBlockID(), a.ID, later)
	s.ErrorIs(err, store.ErrNotFound)

	s.NoError(s.s.PullChild(s.ctx(), s.owner, models.NewBlockID(), a.ID, later))
}

func (s *Suite) TestUpdateBlock() {
	root := s.insert(nil, 0)
	other := s.insert(nil, 1)
	later := s.at.Add(time.Minute)
	heading := models.BlockTypeHeading
	order := 5
	depth := 1
	marker := "todo"

	err := s.s.UpdateBlock(s.ctx(), s.owner, root.ID, store.Patch{
		Content:     &models.Content{Text: "changed", ContentType: models.ContentTypeText},
		BlockType:   &heading,
		BlockProps:  models.Some(&models.BlockProps{MarkerType: &marker}),
		ParentID:    models.Some(other.ID.Ptr()),
		Order:       &order,
		Depth:       &depth,
		BumpVersion: true,
		UpdatedAt:   later,
	})
	s.Require().NoError(err)

	got := s.get(root.ID)
	s.Equal("changed", got.Content.Text)
	s.Equal(models.BlockTypeHeading, got.BlockType)
	s.Require().NotNil(got.BlockProps)
	s.Equal("todo", *got.BlockProps.MarkerType)
	s.Equal(other.ID.Ptr(), got.ParentID)
	s.Equal(5, got.Order)
	s.Equal(1, got.Depth)
	s.Equal(2, got.Version)
	s.True(later.Equal(got.UpdatedAt))

	err = s.s.UpdateBlock(s.ctx(), s.owner, root.ID, store.Patch{
		BlockProps: models.Some[*models.BlockProps](nil),
		ParentID:   models.Some[*models.BlockID](nil),
		UpdatedAt:  later,
	})
	s.Require().NoError(err)
	got = s.get(root.ID)
	s.Nil(got.BlockProps)
	s.Nil(got.ParentID)
	s.Equal(2, got.Version, "version only moves when asked")
	s.Equal("changed", got.Content.Text)

	// Back at the root level it lists with the other roots.
	roots, total, err := s.s.ListBlocks(s.ctx(), s.owner, store.ListQuery{Filter: store.Roots()})
	s.Require().NoError(err)
	s.Equal(2, total)
	s.ElementsMatch([]models.BlockID{root.ID, other.ID}, ids(roots))

	err = s.s.UpdateBlock(s.ctx(), s.owner, models.NewBlockID(), store.Patch{UpdatedAt: later})
	s.ErrorIs(err, store.ErrNotFound)
}

func (s *Suite) TestDescendants() {
	root := s.insert(nil, 0)
	a := s.insert(root, 0)
	b := s.insert(root, 1)
	a1 := s.insert(a, 0)
	a1x := s.insert(a1, 0)

	all, err := s.s.Descendants(s.ctx(), s.owner, root.ID, store.Unbounded)
	s.Require().NoError(err)
	s.Equal([]models.BlockID{a.ID, b.ID, a1.ID, a1x.ID}, ids(all))

	two, err := s.s.Descendants(s.ctx(), s.owner, root.ID, 2)
	s.Require().NoError(err)
	s.Equal([]models.BlockID{a.ID, b.ID, a1.ID}, ids(two))

	leaf, err := s.s.Descendants(s.ctx(), s.owner, a1x.ID, store.Unbounded)
	s.Require().NoError(err)
	s.Empty(leaf)

	_, err = s.s.Descendants(s.ctx(), s.owner, models.NewBlockID(), store.Unbounded)
	s.ErrorIs(err, store.ErrNotFound)
}

func (s *Suite) TestDescendantsStopAtDeleted() {
	root := s.insert(nil, 0)
	a := s.insert(root, 0)
	a1 := s.insert(a, 0)
	b := s.insert(root, 1)
	s.Require().NoError(s.s.SoftDelete(s.ctx(), s.owner, []models.BlockID{a.ID}, s.at))

	got, err := s.s.Descendants(s.ctx(), s.owner, root.ID, store.Unbounded)
	s.Require().NoError(err)
	s.Equal([]models.BlockID{b.ID}, ids(got))
	s.NotContains(ids(got), a1.ID)
}

func (s *Suite) TestDescendantsSurviveCycles() {
	root := s.insert(nil, 0)
	a := s.insert(root, 0)
	b := s.insert(a, 0)
	// b lists its own grandparent as a child.
	s.Require().NoError(s.s.PushChild(s.ctx(), s.owner, b.ID, root.ID, s.at))

	got, err := s.s.Descendants(s.ctx(), s.owner, root.ID, store.Unbounded)
	s.Require().NoError(err)
	s.ElementsMatch([]models.BlockID{a.ID, b.ID}, ids(got))
}

func (s *Suite) TestListBlocks() {
	r0 := s.insert(nil, 0)
	r1 := s.insert(nil, 1)
	r2 := s.insert(nil, 2)
	c0 := s.insert(r0, 0)

	roots, total, err := s.s.ListBlocks(s.ctx(), s.owner, store.ListQuery{Filter: store.Roots()})
	s.Require().NoError(err)
	s.Equal(3, total)
	s.Equal([]models.BlockID{r0.ID, r1.ID, r2.ID}, ids(roots))

	page, total, err := s.s.ListBlocks(s.ctx(), s.owner, store.ListQuery{Filter: store.Roots(), Limit: 1, Offset: 1})
	s.Require().NoError(err)
	s.Equal(3, total)
	s.Equal([]models.BlockID{r1.ID}, ids(page))

	children, total, err := s.s.ListBlocks(s.ctx(), s.owner, store.ListQuery{Filter: store.ChildrenOf(r0.ID)})
	s.Require().NoError(err)
	s.Equal(1, total)
	s.Equal([]models.BlockID{c0.ID}, ids(children))

	_, total, err = s.s.ListBlocks(s.ctx(), s.owner, store.ListQuery{Filter: store.All()})
	s.Require().NoError(err)
	s.Equal(4, total)

	empty, total, err := s.s.ListBlocks(s.ctx(), "nobody-"+s.owner, store.ListQuery{Filter: store.All()})
	s.Require().NoError(err)
	s.Zero(total)
	s.Empty(empty)
}

func (s *Suite) TestListBlocksTiesByCreation() {
	first := s.insert(nil, 0)
	second := s.insert(nil, 0)

	blocks, _, err := s.s.ListBlocks(s.ctx(), s.owner, store.ListQuery{Filter: store.Roots()})
	s.Require().NoError(err)
	s.Equal([]models.BlockID{first.ID, second.ID}, ids(blocks))
}

func (s *Suite) TestListOwners() {
	s.insert(nil, 0)

	owners, err := s.s.ListOwners(s.ctx())
	s.Require().NoError(err)
	s.Contains(owners, s.owner)
}

func (s *Suite) TestShiftDepth() {
	root := s.insert(nil, 0)
	a := s.insert(root, 0)
	a1 := s.insert(a, 0)

	s.Require().NoError(s.s.ShiftDepth(s.ctx(), s.owner, []models.BlockID{a.ID, a1.ID}, 2, s.at))
	s.Equal(3, s.get(a.ID).Depth)
	s.Equal(4, s.get(a1.ID).Depth)
	s.Equal(0, s.get(root.ID).Depth)
}

func (s *Suite) TestWithinTxCommits() {
	root := s.insert(nil, 0)
	child := &models.Block{
		ID:        models.NewBlockID(),
		OwnerID:   s.owner,
		ParentID:  root.ID.Ptr(),
		Children:  models.BlockIDs{},
		Depth:     1,
		Content:   models.DefaultContent(),
		BlockType: models.BlockTypeBullet,
		Version:   1,
		CreatedAt: s.at,
		UpdatedAt: s.at,
	}

	err := s.s.WithinTx(s.ctx(), func(ctx context.Context, tx store.Tx) error {
		if _, err := tx.GetBlock(ctx, s.owner, root.ID); err != nil {
			return err
		}
		if err := tx.InsertBlock(ctx, child); err != nil {
			return err
		}
		return tx.PushChild(ctx, s.owner, root.ID, child.ID, s.at)
	})
	s.Require().NoError(err)

	s.Equal(models.BlockIDs{child.ID}, s.get(root.ID).Children)
	s.Equal(1, s.get(child.ID).Depth)
}

func (s *Suite) TestWithinTxRollsBack() {
	if !s.Rollback {
		s.T().Skip("store does not roll back units of work")
	}
	root := s.insert(nil, 0)
	boom := errors.New("boom")

	err := s.s.WithinTx(s.ctx(), func(ctx context.Context, tx store.Tx) error {
		if err := tx.SoftDelete(ctx, s.owner, []models.BlockID{root.ID}, s.at); err != nil {
			return err
		}
		return boom
	})
	s.ErrorIs(err, boom)
	s.True(s.get(root.ID).IsLive())
}
