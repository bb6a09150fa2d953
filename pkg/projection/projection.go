// Package projection maps stored blocks to the shape exposed by the API.
//
// The mapping is pure and total: identifiers become strings, absent lists become empty
// lists, an absent ui_state becomes the default state and timestamps are rendered in
// UTC. It never fails for a block read from a store.
package projection

import (
	"time"

	"github.com/hydranotes/hydra/pkg/models"
)

// BlockResponse is the external representation of a block.
type BlockResponse struct {
	ID         string             `json:"id"`
	OwnerID    string             `json:"owner_id"`
	ParentID   *string            `json:"parent_id"`
	Children   []string           `json:"children"`
	Order      int                `json:"order"`
	Depth      int                `json:"depth"`
	Content    models.Content     `json:"content"`
	BlockType  models.BlockType   `json:"block_type"`
	BlockProps *models.BlockProps `json:"block_props,omitempty"`
	UIState    models.UIState     `json:"ui_state"`
	PortalsIn  []string           `json:"portals_in"`
	PortalOf   *string            `json:"portal_of"`
	References []models.Reference `json:"references"`
	Backlinks  []string           `json:"backlinks"`
	Tags       []string           `json:"tags"`
	Version    int                `json:"version"`
	CreatedAt  time.Time          `json:"created_at"`
	UpdatedAt  time.Time          `json:"updated_at"`
}

// TreeResponse is a block with its descendants.
type TreeResponse struct {
	Block       BlockResponse   `json:"block"`
	Descendants []BlockResponse `json:"descendants"`
}

// ListResponse is one page of blocks.
type ListResponse struct {
	Blocks []BlockResponse `json:"blocks"`
	Total  int             `json:"total"`
}

// Block projects one block.
func Block(b *models.Block) BlockResponse {
	content := b.Content
	if content.ContentType == "" {
		content.ContentType = models.ContentTypeText
	}
	blockType := b.BlockType
	if blockType == "" {
		blockType = models.BlockTypeBullet
	}
	uiState := models.DefaultUIState()
	if b.UIState != nil {
		uiState = *b.UIState
		if uiState.LastExpandTimestamp != nil {
			ts := uiState.LastExpandTimestamp.UTC()
			uiState.LastExpandTimestamp = &ts
		}
	}
	var props *models.BlockProps
	if b.BlockProps != nil {
		p := *b.BlockProps
		props = &p
	}
	version := b.Version
	if version == 0 {
		version = 1
	}
	refs := make([]models.Reference, len(b.References))
	copy(refs, b.References)
	tags := make([]string, len(b.Tags))
	copy(tags, b.Tags)

	return BlockResponse{
		ID:         b.ID.String(),
		OwnerID:    b.OwnerID.String(),
		ParentID:   idString(b.ParentID),
		Children:   idStrings(b.Children),
		Order:      b.Order,
		Depth:      b.Depth,
		Content:    content,
		BlockType:  blockType,
		BlockProps: props,
		UIState:    uiState,
		PortalsIn:  idStrings(b.PortalsIn),
		PortalOf:   idString(b.PortalOf),
		References: refs,
		Backlinks:  idStrings(b.Backlinks),
		Tags:       tags,
		Version:    version,
		CreatedAt:  b.CreatedAt.UTC(),
		UpdatedAt:  b.UpdatedAt.UTC(),
	}
}

// Blocks projects a list, never returning nil.
func Blocks(blocks []*models.Block) []BlockResponse {
	out := make([]BlockResponse, len(blocks))
	for i, b := range blocks {
		out[i] = Block(b)
	}
	return out
}

func Tree(root *models.Block, descendants []*models.Block) TreeResponse {
	return TreeResponse{Block: Block(root), Descendants: Blocks(descendants)}
}

func List(blocks []*models.Block, total int) ListResponse {
	return ListResponse{Blocks: Blocks(blocks), Total: total}
}

func idString(id *models.BlockID) *string {
	if id == nil {
		return nil
	}
	s := id.String()
	return &s
}

func idStrings(ids models.BlockIDs) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}
