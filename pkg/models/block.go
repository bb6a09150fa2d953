package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"slices"
	"time"
)

// BlockType represents the type of an outline block
type BlockType string

const (
	BlockTypeBullet  BlockType = "bullet"
	BlockTypeMarker  BlockType = "marker"
	BlockTypeHeading BlockType = "heading"
)

// Valid reports whether t is one of the known block types.
func (t BlockType) Valid() bool {
	switch t {
	case BlockTypeBullet, BlockTypeMarker, BlockTypeHeading:
		return true
	}
	return false
}

// ContentTypeText is the only content type blocks currently carry.
const ContentTypeText = "text"

// DefaultCollapsedSeparator is the glyph shown between collapsed children.
const DefaultCollapsedSeparator = " + "

// RefType discriminates inline links from backlinks.
type RefType string

const (
	RefTypeInlineLink RefType = "inline_link"
	RefTypeBacklink   RefType = "backlink"
)

// Content is the text payload of a block.
type Content struct {
	Text        string `json:"text" bson:"text"`
	ContentType string `json:"content_type" bson:"content_type"`
}

func DefaultContent() Content {
	return Content{ContentType: ContentTypeText}
}

func (c Content) Value() (driver.Value, error) { return jsonValue(c) }
func (c *Content) Scan(value any) error        { return jsonScan(value, c) }

// BlockProps holds type specific metadata, e.g. the marker subtype of a marker block.
type BlockProps struct {
	MarkerType  *string `json:"marker_type,omitempty" bson:"marker_type,omitempty"`
	MarkerColor *string `json:"marker_color,omitempty" bson:"marker_color,omitempty"`
}

func (p BlockProps) Value() (driver.Value, error) { return jsonValue(p) }
func (p *BlockProps) Scan(value any) error        { return jsonScan(value, p) }

// UIState is presentation state persisted alongside the block. It has no bearing on
// the tree structure.
type UIState struct {
	IsCollapsed         bool       `json:"is_collapsed" bson:"is_collapsed"`
	CollapsedSeparator  string     `json:"collapsed_separator" bson:"collapsed_separator"`
	LastExpandTimestamp *time.Time `json:"last_expand_timestamp" bson:"last_expand_timestamp"`
}

func DefaultUIState() UIState {
	return UIState{CollapsedSeparator: DefaultCollapsedSeparator}
}

func (s UIState) Value() (driver.Value, error) { return jsonValue(s) }
func (s *UIState) Scan(value any) error        { return jsonScan(value, s) }

// Span is a character range inside block text.
type Span struct {
	Start int `json:"start" bson:"start"`
	End   int `json:"end" bson:"end"`
}

// Reference is an inline cross-reference to another block. Targets are not validated.
type Reference struct {
	TargetID string  `json:"target_id" bson:"target_id"`
	RefType  RefType `json:"ref_type" bson:"ref_type"`
	Position *Span   `json:"position,omitempty" bson:"position,omitempty"`
}

// BlockIDs is an ordered list of block IDs stored as a single column.
type BlockIDs []BlockID

func (ids BlockIDs) Value() (driver.Value, error) {
	if ids == nil {
		ids = BlockIDs{}
	}
	return jsonValue(ids)
}

func (ids *BlockIDs) Scan(value any) error { return jsonScan(value, ids) }

// Contains reports whether id is in the list.
func (ids BlockIDs) Contains(id BlockID) bool {
	return slices.Contains(ids, id)
}

// References is the list form of Reference stored as a single column.
type References []Reference

func (r References) Value() (driver.Value, error) {
	if r == nil {
		r = References{}
	}
	return jsonValue(r)
}

func (r *References) Scan(value any) error { return jsonScan(value, r) }

// Tags is a set of tag names attached to a block.
type Tags []string

func (t Tags) Value() (driver.Value, error) {
	if t == nil {
		t = Tags{}
	}
	return jsonValue(t)
}

func (t *Tags) Scan(value any) error { return jsonScan(value, t) }

// Block is a single node in a user's outline.
type Block struct {
	ID         BlockID     `gorm:"type:uuid;primaryKey" json:"id" bson:"_id"`
	OwnerID    UserID      `gorm:"column:owner_id;not null;index:idx_blocks_owner_parent_order,priority:1;index:idx_blocks_owner_depth,priority:1;index:idx_blocks_owner_updated,priority:1;index:idx_blocks_owner_deleted,priority:1" json:"owner_id" bson:"owner_id"`
	ParentID   *BlockID    `gorm:"column:parent_id;type:uuid;index:idx_blocks_owner_parent_order,priority:2" json:"parent_id,omitempty" bson:"parent_id,omitempty"`
	Children   BlockIDs    `gorm:"column:children;type:jsonb;not null;default:'[]'" json:"children" bson:"children"`
	Order      int         `gorm:"column:order;not null;default:0;index:idx_blocks_owner_parent_order,priority:3" json:"order" bson:"order"`
	Depth      int         `gorm:"column:depth;not null;default:0;index:idx_blocks_owner_depth,priority:2" json:"depth" bson:"depth"`
	Content    Content     `gorm:"column:content;type:jsonb" json:"content" bson:"content"`
	BlockType  BlockType   `gorm:"column:block_type;not null;default:'bullet'" json:"block_type" bson:"block_type"`
	BlockProps *BlockProps `gorm:"column:block_props;type:jsonb" json:"block_props,omitempty" bson:"block_props"`
	UIState    *UIState    `gorm:"column:ui_state;type:jsonb" json:"ui_state,omitempty" bson:"ui_state"`
	PortalsIn  BlockIDs    `gorm:"column:portals_in;type:jsonb" json:"portals_in" bson:"portals_in"`
	PortalOf   *BlockID    `gorm:"column:portal_of;type:uuid" json:"portal_of,omitempty" bson:"portal_of,omitempty"`
	References References  `gorm:"column:references;type:jsonb" json:"references" bson:"references"`
	Backlinks  BlockIDs    `gorm:"column:backlinks;type:jsonb" json:"backlinks" bson:"backlinks"`
	Tags       Tags        `gorm:"column:tags;type:jsonb" json:"tags" bson:"tags"`
	Version    int         `gorm:"column:version;not null;default:1" json:"version" bson:"version"`
	CreatedAt  time.Time   `gorm:"column:created_at" json:"created_at" bson:"created_at"`
	UpdatedAt  time.Time   `gorm:"column:updated_at;index:idx_blocks_owner_updated,priority:2" json:"updated_at" bson:"updated_at"`
	DeletedAt  *time.Time  `gorm:"column:deleted_at;index:idx_blocks_owner_deleted,priority:2" json:"deleted_at,omitempty" bson:"deleted_at"`
}

// TableName keeps the GORM table aligned with the other backends.
func (Block) TableName() string { return BlocksTable }

func (b *Block) IsRoot() bool { return b.ParentID == nil }
func (b *Block) IsLive() bool { return b.DeletedAt == nil }

// Clone returns a deep copy of b.
func (b *Block) Clone() *Block {
	if b == nil {
		return nil
	}
	c := *b
	c.ParentID = clonePtr(b.ParentID)
	c.PortalOf = clonePtr(b.PortalOf)
	c.DeletedAt = clonePtr(b.DeletedAt)
	c.Children = slices.Clone(b.Children)
	c.PortalsIn = slices.Clone(b.PortalsIn)
	c.Backlinks = slices.Clone(b.Backlinks)
	c.Tags = slices.Clone(b.Tags)
	if b.References != nil {
		c.References = make(References, len(b.References))
		for i, r := range b.References {
			r.Position = clonePtr(r.Position)
			c.References[i] = r
		}
	}
	if b.BlockProps != nil {
		props := BlockProps{
			MarkerType:  clonePtr(b.BlockProps.MarkerType),
			MarkerColor: clonePtr(b.BlockProps.MarkerColor),
		}
		c.BlockProps = &props
	}
	if b.UIState != nil {
		state := *b.UIState
		state.LastExpandTimestamp = clonePtr(b.UIState.LastExpandTimestamp)
		c.UIState = &state
	}
	return &c
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func jsonValue(v any) (driver.Value, error) {
	return json.Marshal(v)
}

func jsonScan(value any, target any) error {
	switch v := value.(type) {
	case nil:
		return nil
	case []byte:
		return json.Unmarshal(v, target)
	case string:
		return json.Unmarshal([]byte(v), target)
	default:
		return fmt.Errorf("cannot scan type %T into %T", value, target)
	}
}
