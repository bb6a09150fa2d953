package models_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/go-cmp/cmp"
	"github.com/hydranotes/hydra/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

func TestBlockIDCBOREncodesRecordID(t *testing.T) {
	id := models.NewBlockID()

	data, err := id.MarshalCBOR()
	require.NoError(t, err)

	var tag cbor.Tag
	require.NoError(t, cbor.Unmarshal(data, &tag))
	assert.Equal(t, uint64(8), tag.Number)
	assert.Equal(t, []any{"blocks", id.String()}, tag.Content)

	var decoded models.BlockID
	require.NoError(t, decoded.UnmarshalCBOR(data))
	assert.Equal(t, id, decoded)
}

func TestBlockIDCBORRejectsOtherTable(t *testing.T) {
	data, err := cbor.Marshal(cbor.Tag{Number: 8, Content: []any{"pages", models.NewBlockID().String()}})
	require.NoError(t, err)

	var decoded models.BlockID
	err = decoded.UnmarshalCBOR(data)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected table blocks")
}

func TestBlockIDBSONRoundTrip(t *testing.T) {
	type doc struct {
		ID     models.BlockID  `bson:"_id"`
		Parent *models.BlockID `bson:"parent_id,omitempty"`
	}
	parent := models.NewBlockID()
	in := doc{ID: models.NewBlockID(), Parent: &parent}

	raw, err := bson.Marshal(in)
	require.NoError(t, err)

	var asMap bson.M
	require.NoError(t, bson.Unmarshal(raw, &asMap))
	assert.Equal(t, in.ID.String(), asMap["_id"])
	assert.Equal(t, parent.String(), asMap["parent_id"])

	var out doc
	require.NoError(t, bson.Unmarshal(raw, &out))
	assert.Equal(t, in.ID, out.ID)
	require.NotNil(t, out.Parent)
	assert.Equal(t, parent, *out.Parent)
}

func TestRootBlockBSONRoundTrip(t *testing.T) {
	at := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
	in := models.Block{
		ID:        models.NewBlockID(),
		OwnerID:   "u",
		Children:  models.BlockIDs{models.NewBlockID()},
		Content:   models.DefaultContent(),
		BlockType: models.BlockTypeBullet,
		Version:   1,
		CreatedAt: at,
		UpdatedAt: at,
	}

	raw, err := bson.Marshal(in)
	require.NoError(t, err)

	var asMap bson.M
	require.NoError(t, bson.Unmarshal(raw, &asMap))
	assert.NotContains(t, asMap, "parent_id")
	assert.NotContains(t, asMap, "portal_of")

	var out models.Block
	require.NoError(t, bson.Unmarshal(raw, &out))
	assert.Equal(t, in.ID, out.ID)
	assert.True(t, out.IsRoot())
	assert.Nil(t, out.PortalOf)
	assert.Equal(t, in.Children, out.Children)
}

func TestBlockIDsCompareWithCmp(t *testing.T) {
	a, b := models.NewBlockID(), models.NewBlockID()
	assert.Empty(t, cmp.Diff(models.BlockIDs{a, b}, models.BlockIDs{a, b}))
	assert.NotEmpty(t, cmp.Diff(models.BlockIDs{a, b}, models.BlockIDs{b, a}))
	assert.True(t, a.Equal(a))
	assert.False(t, a.Equal(b))
}

func TestBlockIDScan(t *testing.T) {
	id := models.NewBlockID()

	var fromString models.BlockID
	require.NoError(t, fromString.Scan(id.String()))
	assert.Equal(t, id, fromString)

	var fromBytes models.BlockID
	require.NoError(t, fromBytes.Scan([]byte(id.String())))
	assert.Equal(t, id, fromBytes)

	var fromNil models.BlockID
	require.NoError(t, fromNil.Scan(nil))
	assert.True(t, fromNil.IsZero())

	assert.Error(t, fromNil.Scan(42))
}

func TestParseBlockID(t *testing.T) {
	_, err := models.ParseBlockID("not-a-uuid")
	require.Error(t, err)

	id := models.NewBlockID()
	parsed, err := models.ParseBlockID(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)
}

func TestOptionalJSON(t *testing.T) {
	type payload struct {
		Props models.Optional[*models.BlockProps] `json:"block_props"`
		Type  models.Optional[models.BlockType]   `json:"block_type"`
	}

	var absent payload
	require.NoError(t, json.Unmarshal([]byte(`{}`), &absent))
	assert.False(t, absent.Props.IsSet())
	assert.False(t, absent.Type.IsSet())

	var null payload
	require.NoError(t, json.Unmarshal([]byte(`{"block_props":null}`), &null))
	props, ok := null.Props.Get()
	assert.True(t, ok)
	assert.Nil(t, props)

	var present payload
	require.NoError(t, json.Unmarshal([]byte(`{"block_type":"heading"}`), &present))
	assert.Equal(t, models.BlockTypeHeading, present.Type.OrElse(models.BlockTypeBullet))
}

func TestBlockCloneIsDeep(t *testing.T) {
	parent := models.NewBlockID()
	ts := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
	color := "red"
	b := &models.Block{
		ID:         models.NewBlockID(),
		ParentID:   &parent,
		Children:   models.BlockIDs{models.NewBlockID()},
		BlockProps: &models.BlockProps{MarkerColor: &color},
		UIState:    &models.UIState{LastExpandTimestamp: &ts},
		References: models.References{{TargetID: "x", Position: &models.Span{Start: 1, End: 2}}},
		Tags:       models.Tags{"a"},
	}

	c := b.Clone()
	require.Equal(t, b, c)

	c.Children[0] = models.NewBlockID()
	*c.ParentID = models.NewBlockID()
	*c.BlockProps.MarkerColor = "blue"
	c.References[0].Position.Start = 9
	c.Tags[0] = "b"

	assert.NotEqual(t, b.Children[0], c.Children[0])
	assert.Equal(t, parent, *b.ParentID)
	assert.Equal(t, "red", *b.BlockProps.MarkerColor)
	assert.Equal(t, 1, b.References[0].Position.Start)
	assert.Equal(t, "a", b.Tags[0])
}

func TestBlockTypeValid(t *testing.T) {
	assert.True(t, models.BlockTypeMarker.Valid())
	assert.False(t, models.BlockType("todo").Valid())
	assert.False(t, models.BlockType("").Valid())
}
