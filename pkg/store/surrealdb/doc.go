package surrealdb

import (
	"time"

	"github.com/hydranotes/hydra/pkg/models"
	sdkmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// blockDoc is the record layout of a block. It differs from models.Block only where
// SurrealDB needs native types: datetimes instead of time.Time and record links for
// parent and portal ids. Optional fields are omitted rather than stored as NULL so
// "= NONE" filters match them.
type blockDoc struct {
	ID         models.BlockID     `json:"id"`
	OwnerID    models.UserID      `json:"owner_id"`
	ParentID   *models.BlockID    `json:"parent_id,omitempty"`
	Children   []models.BlockID   `json:"children"`
	Order      int                `json:"order"`
	Depth      int                `json:"depth"`
	Content    models.Content     `json:"content"`
	BlockType  models.BlockType   `json:"block_type"`
	BlockProps *models.BlockProps `json:"block_props,omitempty"`
	UIState    *uiStateDoc        `json:"ui_state,omitempty"`
	PortalsIn  []models.BlockID   `json:"portals_in"`
	PortalOf   *models.BlockID    `json:"portal_of,omitempty"`
	References models.References  `json:"references"`
	Backlinks  []models.BlockID   `json:"backlinks"`
	Tags       []string           `json:"tags"`
	Version    int                `json:"version"`
	CreatedAt  *datetime          `json:"created_at"`
	UpdatedAt  *datetime          `json:"updated_at"`
	DeletedAt  *datetime          `json:"deleted_at,omitempty"`
}

// datetime marshals through a pointer receiver, so it is always held by pointer.
type datetime = sdkmodels.CustomDateTime

type uiStateDoc struct {
	IsCollapsed         bool      `json:"is_collapsed"`
	CollapsedSeparator  string    `json:"collapsed_separator"`
	LastExpandTimestamp *datetime `json:"last_expand_timestamp,omitempty"`
}

func toDatetime(t *time.Time) *datetime {
	if t == nil {
		return nil
	}
	return &datetime{Time: *t}
}

func fromDatetime(d *datetime) *time.Time {
	if d == nil {
		return nil
	}
	t := d.Time.UTC()
	return &t
}

func timeOf(d *datetime) time.Time {
	if d == nil {
		return time.Time{}
	}
	return d.Time.UTC()
}

func newUIStateDoc(s *models.UIState) *uiStateDoc {
	if s == nil {
		return nil
	}
	return &uiStateDoc{
		IsCollapsed:         s.IsCollapsed,
		CollapsedSeparator:  s.CollapsedSeparator,
		LastExpandTimestamp: toDatetime(s.LastExpandTimestamp),
	}
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func newBlockDoc(b *models.Block) *blockDoc {
	return &blockDoc{
		ID:         b.ID,
		OwnerID:    b.OwnerID,
		ParentID:   b.ParentID,
		Children:   nonNil(b.Children),
		Order:      b.Order,
		Depth:      b.Depth,
		Content:    b.Content,
		BlockType:  b.BlockType,
		BlockProps: b.BlockProps,
		UIState:    newUIStateDoc(b.UIState),
		PortalsIn:  nonNil(b.PortalsIn),
		PortalOf:   b.PortalOf,
		References: nonNil(b.References),
		Backlinks:  nonNil(b.Backlinks),
		Tags:       nonNil(b.Tags),
		Version:    b.Version,
		CreatedAt:  &datetime{Time: b.CreatedAt},
		UpdatedAt:  &datetime{Time: b.UpdatedAt},
		DeletedAt:  toDatetime(b.DeletedAt),
	}
}

func (d *blockDoc) block() *models.Block {
	b := &models.Block{
		ID:         d.ID,
		OwnerID:    d.OwnerID,
		ParentID:   d.ParentID,
		Children:   nonNil(d.Children),
		Order:      d.Order,
		Depth:      d.Depth,
		Content:    d.Content,
		BlockType:  d.BlockType,
		BlockProps: d.BlockProps,
		PortalsIn:  nonNil(d.PortalsIn),
		PortalOf:   d.PortalOf,
		References: nonNil(d.References),
		Backlinks:  nonNil(d.Backlinks),
		Tags:       nonNil(d.Tags),
		Version:    d.Version,
		CreatedAt:  timeOf(d.CreatedAt),
		UpdatedAt:  timeOf(d.UpdatedAt),
		DeletedAt:  fromDatetime(d.DeletedAt),
	}
	if d.UIState != nil {
		b.UIState = &models.UIState{
			IsCollapsed:         d.UIState.IsCollapsed,
			CollapsedSeparator:  d.UIState.CollapsedSeparator,
			LastExpandTimestamp: fromDatetime(d.UIState.LastExpandTimestamp),
		}
	}
	return b
}
