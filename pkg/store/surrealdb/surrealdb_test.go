package surrealdb

import (
	"testing"
	"time"

	"github.com/hydranotes/hydra/pkg/models"
	"github.com/hydranotes/hydra/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBatch_PrefixesVariables(t *testing.T) {
	b := &batch{}
	b.add("UPDATE $ids SET depth += $delta WHERE owner_id = $owner", map[string]any{
		"ids": 1, "delta": 2, "owner": "alice",
	})
	b.add("UPDATE $id SET children -= $child WHERE owner_id = $owner", map[string]any{
		"id": 3, "child": 4, "owner": "alice",
	})

	require.Len(t, b.stmts, 2)
	assert.Equal(t, "UPDATE $s0_ids SET depth += $s0_delta WHERE owner_id = $s0_owner", b.stmts[0])
	assert.Equal(t, "UPDATE $s1_id SET children -= $s1_child WHERE owner_id = $s1_owner", b.stmts[1])
	assert.Equal(t, map[string]any{
		"s0_ids": 1, "s0_delta": 2, "s0_owner": "alice",
		"s1_id": 3, "s1_child": 4, "s1_owner": "alice",
	}, b.vars)
}

func TestPatchSets(t *testing.T) {
	at := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
	parent := models.NewBlockID()
	order := 4
	sets, vars := patchSets(store.Patch{
		ParentID:    models.Some(&parent),
		Order:       &order,
		BlockProps:  models.Some[*models.BlockProps](nil),
		BumpVersion: true,
		UpdatedAt:   at,
	})

	assert.Equal(t, []string{
		"updated_at = $updated_at",
		"`block_props` = NONE",
		"`parent_id` = $parent_id",
		"`order` = $order",
		"version += 1",
	}, sets)
	assert.Equal(t, parent.RecordID(), vars["parent_id"])
	assert.Equal(t, 4, vars["order"])
	assert.NotContains(t, vars, "block_props")
}

func TestBlockDoc_RoundTrip(t *testing.T) {
	at := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
	parent := models.NewBlockID()
	b := &models.Block{
		ID:        models.NewBlockID(),
		OwnerID:   "alice",
		ParentID:  &parent,
		Content:   models.DefaultContent(),
		BlockType: models.BlockTypeHeading,
		UIState:   &models.UIState{CollapsedSeparator: " + ", LastExpandTimestamp: &at},
		Version:   2,
		CreatedAt: at,
		UpdatedAt: at,
	}

	got := newBlockDoc(b).block()
	assert.Equal(t, b.ID, got.ID)
	assert.Equal(t, b.ParentID, got.ParentID)
	assert.Equal(t, b.UIState, got.UIState)
	assert.Equal(t, at, got.CreatedAt)
	assert.Nil(t, got.DeletedAt)
	assert.NotNil(t, got.Children)
	assert.NotNil(t, got.Tags)
}
