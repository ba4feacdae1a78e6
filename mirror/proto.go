package mirror

import (
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/eternovinculo/visitguard/codec"
)

// ProtoCodec stores a Record as a google.protobuf.Struct, for clients that
// share the record with protobuf-speaking tooling.
type ProtoCodec struct {
	inner codec.Protobuf[*structpb.Struct]
}

var _ codec.Codec[Record] = ProtoCodec{}

func NewProtoCodec() ProtoCodec {
	return ProtoCodec{inner: codec.NewProtobuf(func() *structpb.Struct { return &structpb.Struct{} })}
}

func (c ProtoCodec) Encode(r Record) ([]byte, error) {
	kinds := make(map[string]any, len(r.Kinds))
	for kind, ids := range r.Kinds {
		m := make(map[string]any, len(ids))
		for id, at := range ids {
			m[id] = at
		}
		kinds[kind] = m
	}
	s, err := structpb.NewStruct(map[string]any{
		"version": r.Version,
		"kinds":   kinds,
	})
	if err != nil {
		return nil, fmt.Errorf("proto record: %w", err)
	}
	return c.inner.Encode(s)
}

func (c ProtoCodec) Decode(b []byte) (Record, error) {
	s, err := c.inner.Decode(b)
	if err != nil {
		return Record{}, err
	}
	rec := Record{
		Version: int(s.GetFields()["version"].GetNumberValue()),
		Kinds:   make(map[string]map[string]int64),
	}
	for kind, v := range s.GetFields()["kinds"].GetStructValue().GetFields() {
		ids := v.GetStructValue()
		if ids == nil {
			return Record{}, fmt.Errorf("proto record: kind %q is not a struct", kind)
		}
		m := make(map[string]int64, len(ids.GetFields()))
		for id, at := range ids.GetFields() {
			m[id] = int64(at.GetNumberValue())
		}
		rec.Kinds[kind] = m
	}
	return rec, nil
}
