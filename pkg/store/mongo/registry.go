package mongo

import (
	"reflect"

	"github.com/hydranotes/hydra/pkg/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsoncodec"
	"go.mongodb.org/mongo-driver/bson/bsonrw"
	"go.mongodb.org/mongo-driver/bson/bsontype"
)

var tBlockIDPtr = reflect.TypeOf((*models.BlockID)(nil))

// Registry is the default BSON registry plus a decoder that reads a null block
// reference as a nil *BlockID. Documents written by earlier versions of the service
// store roots with parent_id: null.
func Registry() *bsoncodec.Registry {
	reg := bson.NewRegistry()
	reg.RegisterTypeDecoder(tBlockIDPtr, bsoncodec.ValueDecoderFunc(decodeBlockIDPtr))
	return reg
}

func decodeBlockIDPtr(_ bsoncodec.DecodeContext, vr bsonrw.ValueReader, val reflect.Value) error {
	if !val.IsValid() || val.Type() != tBlockIDPtr {
		return bsoncodec.ValueDecoderError{Name: "BlockIDPtrDecodeValue", Types: []reflect.Type{tBlockIDPtr}, Received: val}
	}

	switch vr.Type() {
	case bsontype.Null:
		val.Set(reflect.Zero(tBlockIDPtr))
		return vr.ReadNull()
	case bsontype.Undefined:
		val.Set(reflect.Zero(tBlockIDPtr))
		return vr.ReadUndefined()
	}

	t, data, err := bsonrw.Copier{}.CopyValueToBytes(vr)
	if err != nil {
		return err
	}
	var id models.BlockID
	if err := id.UnmarshalBSONValue(t, data); err != nil {
		return err
	}
	val.Set(reflect.ValueOf(&id))
	return nil
}
