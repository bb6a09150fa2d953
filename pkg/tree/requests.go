package tree

import (
	"github.com/go-playground/validator/v10"
	"github.com/hydranotes/hydra/pkg/models"
)

var validate = validator.New()

// CreateRequest is the input of CreateBlock. A nil or empty ParentID creates a root block.
type CreateRequest struct {
	ParentID   *string            `json:"parent_id"`
	Content    *models.Content    `json:"content"`
	BlockType  models.BlockType   `json:"block_type" validate:"omitempty,oneof=bullet marker heading"`
	BlockProps *models.BlockProps `json:"block_props"`
	UIState    *models.UIState    `json:"ui_state"`
	Order      *int               `json:"order" validate:"omitempty,min=0"`
}

// Validate checks the request shape.
func (r *CreateRequest) Validate() error {
	return validate.Struct(r)
}

// UpdateRequest is the input of UpdateBlock. Only fields present in the payload are
// applied. A null content or block type is ignored; a null block_props or ui_state
// clears the field.
type UpdateRequest struct {
	Content    models.Optional[*models.Content]    `json:"content"`
	BlockType  models.Optional[models.BlockType]   `json:"block_type"`
	BlockProps models.Optional[*models.BlockProps] `json:"block_props"`
	UIState    models.Optional[*models.UIState]    `json:"ui_state"`
}

// Validate checks the request shape.
func (r *UpdateRequest) Validate() error {
	if t, ok := r.BlockType.Get(); ok && t != "" {
		return validate.Var(string(t), "oneof=bullet marker heading")
	}
	return nil
}

// MoveRequest is the input of MoveBlock. A nil or empty NewParentID moves the block to
// the root level.
type MoveRequest struct {
	NewParentID *string `json:"new_parent_id"`
	NewOrder    *int    `json:"new_order" validate:"required,min=0"`
}

// Validate checks the request shape.
func (r *MoveRequest) Validate() error {
	return validate.Struct(r)
}

// optionalID parses an optional id string. nil or "" yields nil.
func optionalID(s *string) (*models.BlockID, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	id, err := ParseBlockID(*s)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

// ParseBlockID parses a block id, returning an InvalidReference error when it is malformed.
func ParseBlockID(s string) (models.BlockID, error) {
	id, err := models.ParseBlockID(s)
	if err != nil {
		return models.BlockID{}, invalidReference("Invalid block ID format", err)
	}
	return id, nil
}
