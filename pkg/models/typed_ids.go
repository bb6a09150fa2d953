package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	surrealdb_models "github.com/surrealdb/surrealdb.go/pkg/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
)

// BlocksTable is the table (or collection) name blocks are stored under.
const BlocksTable = "blocks"

// BlockID is a typed ID for blocks
type BlockID struct {
	uuid uuid.UUID
}

func NewBlockID() BlockID {
	return BlockID{uuid: uuid.New()}
}

func NewBlockIDFromUUID(id uuid.UUID) BlockID {
	return BlockID{uuid: id}
}

func ParseBlockID(s string) (BlockID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return BlockID{}, fmt.Errorf("invalid block ID: %w", err)
	}
	return BlockID{uuid: id}, nil
}

// MustParseBlockID is ParseBlockID that panics, for tests and constants.
func MustParseBlockID(s string) BlockID {
	id, err := ParseBlockID(s)
	if err != nil {
		panic(err)
	}
	return id
}

func (b BlockID) String() string { return b.uuid.String() }
func (b BlockID) IsZero() bool   { return b.uuid == uuid.Nil }

// Equal reports whether b and o name the same block. go-cmp uses it to compare ids.
func (b BlockID) Equal(o BlockID) bool { return b.uuid == o.uuid }

// Ptr returns a pointer to a copy of b.
func (b BlockID) Ptr() *BlockID { return &b }

func (b BlockID) RecordID() surrealdb_models.RecordID {
	return surrealdb_models.RecordID{
		Table: BlocksTable,
		ID:    b.uuid.String(),
	}
}

func (b BlockID) MarshalJSON() ([]byte, error) {
	return json.Marshal(b.uuid.String())
}

func (b *BlockID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return err
	}
	b.uuid = id
	return nil
}

func (b BlockID) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal(cbor.Tag{
		Number:  8,
		Content: []any{BlocksTable, b.uuid.String()},
	})
}

func (b *BlockID) UnmarshalCBOR(data []byte) error {
	return unmarshalCBORID(data, BlocksTable, &b.uuid)
}

func (b BlockID) MarshalBSONValue() (bsontype.Type, []byte, error) {
	return bson.MarshalValue(b.uuid.String())
}

func (b *BlockID) UnmarshalBSONValue(t bsontype.Type, data []byte) error {
	s, ok := bson.RawValue{Type: t, Value: data}.StringValueOK()
	if !ok {
		return fmt.Errorf("cannot decode BSON %s into block ID", t)
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return fmt.Errorf("invalid block ID in BSON: %w", err)
	}
	b.uuid = id
	return nil
}

func (b BlockID) Value() (driver.Value, error) {
	if b.IsZero() {
		return nil, nil
	}
	return b.uuid.String(), nil
}

func (b *BlockID) Scan(value any) error {
	return scanUUID(value, &b.uuid)
}

func (BlockID) GormDataType() string { return "uuid" }

// UserID identifies the owner of a block. It is the subject issued by the identity
// provider and is treated as an opaque string.
type UserID string

func (u UserID) String() string { return string(u) }
func (u UserID) IsZero() bool   { return u == "" }

func (u UserID) Value() (driver.Value, error) {
	return string(u), nil
}

func (u *UserID) Scan(value any) error {
	switch v := value.(type) {
	case nil:
		*u = ""
	case string:
		*u = UserID(v)
	case []byte:
		*u = UserID(v)
	default:
		return fmt.Errorf("cannot scan type %T into UserID", value)
	}
	return nil
}

func scanUUID(value any, target *uuid.UUID) error {
	if value == nil {
		*target = uuid.Nil
		return nil
	}

	switch v := value.(type) {
	case string:
		id, err := uuid.Parse(v)
		if err != nil {
			return err
		}
		*target = id
	case []byte:
		var (
			id  uuid.UUID
			err error
		)
		if len(v) == 16 {
			id, err = uuid.FromBytes(v)
		} else {
			id, err = uuid.ParseBytes(v)
		}
		if err != nil {
			return err
		}
		*target = id
	default:
		return fmt.Errorf("cannot scan type %T into UUID", value)
	}
	return nil
}

// unmarshalCBORID decodes a SurrealDB RecordID, which travels as CBOR tag 8
// wrapping [table_name, id_string].
func unmarshalCBORID(data []byte, expectedTable string, target *uuid.UUID) error {
	if len(data) == 0 {
		return fmt.Errorf("empty CBOR data")
	}

	// major type 6 is a tag
	if majorType := data[0] >> 5; majorType != 6 {
		return fmt.Errorf("expected CBOR tag for RecordID, got major type %d", majorType)
	}

	var tag cbor.Tag
	if err := cbor.Unmarshal(data, &tag); err != nil {
		return fmt.Errorf("failed to unmarshal CBOR tag: %w", err)
	}
	if tag.Number != 8 {
		return fmt.Errorf("expected RecordID tag (8), got %d", tag.Number)
	}

	arr, ok := tag.Content.([]any)
	if !ok || len(arr) != 2 {
		return fmt.Errorf("invalid RecordID format: expected [table, id] array")
	}
	table, ok := arr[0].(string)
	if !ok {
		return fmt.Errorf("invalid RecordID format: table name must be string")
	}
	if table != expectedTable {
		return fmt.Errorf("expected table %s, got %s", expectedTable, table)
	}
	idStr, ok := arr[1].(string)
	if !ok {
		return fmt.Errorf("invalid RecordID format: ID must be string")
	}

	parsed, err := uuid.Parse(idStr)
	if err != nil {
		return fmt.Errorf("invalid UUID in RecordID: %w", err)
	}
	*target = parsed
	return nil
}
