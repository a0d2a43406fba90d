// Package dynamic models loosely typed data as a closed tagged union and
// converts it to and from the protobuf Struct wire form.
package dynamic

import (
	"fmt"
	"math"
	"strconv"
)

// Kind tags the variant a Value holds.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindDocument
	KindList
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindDocument:
		return "document"
	case KindList:
		return "list"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Value is one of null, bool, number, string, document or list.
// The zero Value is null.
type Value struct {
	kind Kind
	b    bool
	n    float64
	s    string
	doc  *Document
	list []Value
}

// Null returns the null value.
func Null() Value { return Value{} }

// Bool wraps b.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Number wraps f.
func Number(f float64) Value { return Value{kind: KindNumber, n: f} }

// String wraps s.
func String(s string) Value { return Value{kind: KindString, s: s} }

// DocumentOf wraps d. A nil document becomes an empty one.
func DocumentOf(d *Document) Value {
	if d == nil {
		d = NewDocument()
	}
	return Value{kind: KindDocument, doc: d}
}

// ListOf wraps items.
func ListOf(items ...Value) Value {
	if items == nil {
		items = []Value{}
	}
	return Value{kind: KindList, list: items}
}

// Kind reports the variant held.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is null.
func (v Value) IsNull() bool { return v.kind == KindNull }

// AsBool returns the bool held, if any.
func (v Value) AsBool() (bool, bool) { return v.b, v.kind == KindBool }

// AsNumber returns the number held, if any.
func (v Value) AsNumber() (float64, bool) { return v.n, v.kind == KindNumber }

// AsString returns the string held, if any.
func (v Value) AsString() (string, bool) { return v.s, v.kind == KindString }

// AsDocument returns the document held, if any.
func (v Value) AsDocument() (*Document, bool) { return v.doc, v.kind == KindDocument }

// AsList returns the list held, if any.
func (v Value) AsList() ([]Value, bool) { return v.list, v.kind == KindList }

// Native converts v to plain Go values: nil, bool, float64, string,
// map[string]any or []any.
func (v Value) Native() any {
	switch v.kind {
	case KindBool:
		return v.b
	case KindNumber:
		return v.n
	case KindString:
		return v.s
	case KindDocument:
		out := make(map[string]any, v.doc.Len())
		v.doc.Range(func(key string, value Value) bool {
			out[key] = value.Native()
			return true
		})
		return out
	case KindList:
		out := make([]any, len(v.list))
		for i, item := range v.list {
			out[i] = item.Native()
		}
		return out
	default:
		return nil
	}
}

// String renders v for logs and tables.
func (v Value) String() string {
	switch v.kind {
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindNumber:
		if v.n == math.Trunc(v.n) && math.Abs(v.n) < 1e15 {
			return strconv.FormatFloat(v.n, 'f', 0, 64)
		}
		return strconv.FormatFloat(v.n, 'g', -1, 64)
	case KindString:
		return v.s
	case KindDocument:
		return fmt.Sprintf("document(%d)", v.doc.Len())
	case KindList:
		return fmt.Sprintf("list(%d)", len(v.list))
	default:
		return "null"
	}
}
