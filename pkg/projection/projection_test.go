package projection

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/hydranotes/hydra/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	parentID = models.MustParseBlockID("6f1c1f9e-3c1a-4c55-9a57-1b5d1f0d2a01")
	blockID  = models.MustParseBlockID("6f1c1f9e-3c1a-4c55-9a57-1b5d1f0d2a02")
	childID  = models.MustParseBlockID("6f1c1f9e-3c1a-4c55-9a57-1b5d1f0d2a03")
)

func TestBlock_Full(t *testing.T) {
	loc := time.FixedZone("CET", 3600)
	created := time.Date(2024, 1, 15, 11, 30, 0, 0, loc)
	marker := "todo"
	b := &models.Block{
		ID:         blockID,
		OwnerID:    "alice",
		ParentID:   parentID.Ptr(),
		Children:   models.BlockIDs{childID},
		Order:      2,
		Depth:      1,
		Content:    models.Content{Text: "hi", ContentType: "text"},
		BlockType:  models.BlockTypeMarker,
		BlockProps: &models.BlockProps{MarkerType: &marker},
		UIState:    &models.UIState{IsCollapsed: true, CollapsedSeparator: " | "},
		Tags:       models.Tags{"work"},
		References: models.References{{TargetID: childID.String(), RefType: models.RefTypeInlineLink, Position: &models.Span{Start: 0, End: 2}}},
		Version:    4,
		CreatedAt:  created,
		UpdatedAt:  created.Add(time.Minute),
	}

	want := BlockResponse{
		ID:         blockID.String(),
		OwnerID:    "alice",
		ParentID:   ptr(parentID.String()),
		Children:   []string{childID.String()},
		Order:      2,
		Depth:      1,
		Content:    models.Content{Text: "hi", ContentType: "text"},
		BlockType:  models.BlockTypeMarker,
		BlockProps: &models.BlockProps{MarkerType: &marker},
		UIState:    models.UIState{IsCollapsed: true, CollapsedSeparator: " | "},
		PortalsIn:  []string{},
		References: []models.Reference{{TargetID: childID.String(), RefType: models.RefTypeInlineLink, Position: &models.Span{Start: 0, End: 2}}},
		Backlinks:  []string{},
		Tags:       []string{"work"},
		Version:    4,
		CreatedAt:  time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC),
		UpdatedAt:  time.Date(2024, 1, 15, 10, 31, 0, 0, time.UTC),
	}
	if diff := cmp.Diff(want, Block(b)); diff != "" {
		t.Errorf("projection mismatch (-want +got):\n%s", diff)
	}
}

func TestBlock_Defaults(t *testing.T) {
	got := Block(&models.Block{ID: blockID, OwnerID: "alice"})

	assert.Nil(t, got.ParentID)
	assert.Nil(t, got.PortalOf)
	assert.Nil(t, got.BlockProps)
	assert.Equal(t, models.DefaultUIState(), got.UIState)
	assert.Equal(t, models.BlockTypeBullet, got.BlockType)
	assert.Equal(t, models.ContentTypeText, got.Content.ContentType)
	assert.Equal(t, 1, got.Version)
	assert.NotNil(t, got.Children)
	assert.NotNil(t, got.Tags)
	assert.NotNil(t, got.References)

	data, err := json.Marshal(got)
	require.NoError(t, err)
	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Contains(t, raw, "parent_id")
	assert.Nil(t, raw["parent_id"])
	assert.NotContains(t, raw, "block_props")
	assert.Equal(t, []any{}, raw["children"])
}

func TestBlock_DoesNotAlias(t *testing.T) {
	marker := "a"
	b := &models.Block{ID: blockID, BlockProps: &models.BlockProps{MarkerType: &marker}, Tags: models.Tags{"x"}}
	got := Block(b)

	got.Tags[0] = "changed"
	got.BlockProps.MarkerColor = ptr("red")
	assert.Equal(t, "x", b.Tags[0])
	assert.Nil(t, b.BlockProps.MarkerColor)
}

func TestTreeAndList(t *testing.T) {
	root := &models.Block{ID: parentID}
	tree := Tree(root, nil)
	assert.Equal(t, parentID.String(), tree.Block.ID)
	assert.NotNil(t, tree.Descendants)
	assert.Empty(t, tree.Descendants)

	list := List([]*models.Block{root, {ID: childID}}, 7)
	assert.Equal(t, 7, list.Total)
	require.Len(t, list.Blocks, 2)
	assert.Equal(t, childID.String(), list.Blocks[1].ID)
}

func ptr[T any](v T) *T { return &v }
