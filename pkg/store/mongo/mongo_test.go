package mongo

import (
	"testing"

	"github.com/hydranotes/hydra/pkg/models"
	"github.com/hydranotes/hydra/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

func TestRegistry_DecodesNullParent(t *testing.T) {
	id := models.NewBlockID()
	raw, err := bson.Marshal(bson.D{
		{Key: "_id", Value: id.String()},
		{Key: "owner_id", Value: "alice"},
		{Key: "parent_id", Value: nil},
		{Key: "portal_of", Value: nil},
		{Key: "children", Value: bson.A{}},
	})
	require.NoError(t, err)

	var block models.Block
	require.NoError(t, bson.UnmarshalWithRegistry(Registry(), raw, &block))
	assert.Equal(t, id, block.ID)
	assert.True(t, block.IsRoot())
	assert.Nil(t, block.PortalOf)
}

func TestRegistry_DecodesParent(t *testing.T) {
	parent := models.NewBlockID()
	raw, err := bson.Marshal(bson.D{
		{Key: "_id", Value: models.NewBlockID().String()},
		{Key: "parent_id", Value: parent.String()},
	})
	require.NoError(t, err)

	var block models.Block
	require.NoError(t, bson.UnmarshalWithRegistry(Registry(), raw, &block))
	require.NotNil(t, block.ParentID)
	assert.Equal(t, parent, *block.ParentID)
}

func TestPatchUpdate_MoveToRootUnsetsParent(t *testing.T) {
	update := patchUpdate(store.Patch{
		ParentID:    models.Some[*models.BlockID](nil),
		Order:       new(int),
		BumpVersion: true,
	})
	assert.Equal(t, bson.M{"parent_id": ""}, update["$unset"])
	set := update["$set"].(bson.M)
	assert.NotContains(t, set, "parent_id")
	assert.Equal(t, 0, set["order"])
	assert.Equal(t, bson.M{"version": 1}, update["$inc"])
}

func TestPatchUpdate_SetsParent(t *testing.T) {
	parent := models.NewBlockID()
	update := patchUpdate(store.Patch{ParentID: models.Some(&parent)})
	assert.NotContains(t, update, "$unset")
	assert.Equal(t, parent, update["$set"].(bson.M)["parent_id"])
	assert.NotContains(t, update, "$inc")
}
