package dynamic

import (
	"fmt"
	"sort"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// Encode converts v to its protobuf wire form.
func Encode(v Value) *structpb.Value {
	switch v.kind {
	case KindBool:
		return structpb.NewBoolValue(v.b)
	case KindNumber:
		return structpb.NewNumberValue(v.n)
	case KindString:
		return structpb.NewStringValue(v.s)
	case KindDocument:
		return structpb.NewStructValue(EncodeDocument(v.doc))
	case KindList:
		items := make([]*structpb.Value, len(v.list))
		for i, item := range v.list {
			items[i] = Encode(item)
		}
		return structpb.NewListValue(&structpb.ListValue{Values: items})
	default:
		return structpb.NewNullValue()
	}
}

// EncodeDocument converts d to a protobuf Struct. A nil document encodes as empty.
func EncodeDocument(d *Document) *structpb.Struct {
	out := &structpb.Struct{Fields: make(map[string]*structpb.Value, d.Len())}
	d.Range(func(key string, value Value) bool {
		out.Fields[key] = Encode(value)
		return true
	})
	return out
}

// Decode converts a wire value back into a Value. Nil and unset values decode as null.
func Decode(pv *structpb.Value) Value {
	if pv == nil {
		return Null()
	}
	switch kind := pv.GetKind().(type) {
	case *structpb.Value_BoolValue:
		return Bool(kind.BoolValue)
	case *structpb.Value_NumberValue:
		return Number(kind.NumberValue)
	case *structpb.Value_StringValue:
		return String(kind.StringValue)
	case *structpb.Value_StructValue:
		return DocumentOf(DecodeDocument(kind.StructValue))
	case *structpb.Value_ListValue:
		items := make([]Value, len(kind.ListValue.GetValues()))
		for i, item := range kind.ListValue.GetValues() {
			items[i] = Decode(item)
		}
		return ListOf(items...)
	default:
		return Null()
	}
}

// DecodeDocument converts a Struct into a Document. Keys are visited in sorted
// order, so when two keys differ only in case the first spelling in that order
// is kept and the last value wins.
func DecodeDocument(s *structpb.Struct) *Document {
	doc := NewDocument()
	fields := s.GetFields()
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		doc.Set(key, Decode(fields[key]))
	}
	return doc
}

// MarshalDocumentJSON renders d as protojson.
func MarshalDocumentJSON(d *Document) ([]byte, error) {
	data, err := protojson.Marshal(EncodeDocument(d))
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	return data, nil
}

// UnmarshalDocumentJSON parses a JSON object into a Document.
func UnmarshalDocumentJSON(data []byte) (*Document, error) {
	var s structpb.Struct
	if err := protojson.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return DecodeDocument(&s), nil
}
