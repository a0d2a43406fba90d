package dynamic

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"time"
)

// FromNative converts a Go value into a Value. Integers and floats become
// numbers, times become RFC 3339 UTC strings, maps become documents with keys
// in sorted order, errors and Stringers become their text, and anything else
// unknown is rendered with fmt.Sprint.
func FromNative(x any) Value {
	switch typed := x.(type) {
	case nil:
		return Null()
	case Value:
		return typed
	case *Document:
		return DocumentOf(typed)
	case bool:
		return Bool(typed)
	case string:
		return String(typed)
	case float64:
		return Number(typed)
	case float32:
		return Number(float64(typed))
	case int:
		return Number(float64(typed))
	case int64:
		return Number(float64(typed))
	case json.Number:
		f, err := typed.Float64()
		if err != nil {
			return String(typed.String())
		}
		return Number(f)
	case time.Time:
		return String(typed.UTC().Format(time.RFC3339Nano))
	case *time.Time:
		if typed == nil {
			return Null()
		}
		return String(typed.UTC().Format(time.RFC3339Nano))
	case map[string]any:
		doc := NewDocument()
		for _, key := range sortedKeys(typed) {
			doc.Set(key, FromNative(typed[key]))
		}
		return DocumentOf(doc)
	case []any:
		items := make([]Value, len(typed))
		for i, item := range typed {
			items[i] = FromNative(item)
		}
		return ListOf(items...)
	case error:
		return String(typed.Error())
	case fmt.Stringer:
		return String(typed.String())
	}
	return fromReflect(reflect.ValueOf(x))
}

func fromReflect(rv reflect.Value) Value {
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return Null()
		}
		return FromNative(rv.Elem().Interface())
	case reflect.Bool:
		return Bool(rv.Bool())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return Number(float64(rv.Int()))
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return Number(float64(rv.Uint()))
	case reflect.Float32, reflect.Float64:
		return Number(rv.Float())
	case reflect.String:
		return String(rv.String())
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return Null()
		}
		items := make([]Value, rv.Len())
		for i := range items {
			items[i] = FromNative(rv.Index(i).Interface())
		}
		return ListOf(items...)
	case reflect.Map:
		if rv.IsNil() {
			return Null()
		}
		keys := make([]string, 0, rv.Len())
		values := make(map[string]reflect.Value, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			key := fmt.Sprint(iter.Key().Interface())
			keys = append(keys, key)
			values[key] = iter.Value()
		}
		sort.Strings(keys)
		doc := NewDocument()
		for _, key := range keys {
			doc.Set(key, FromNative(values[key].Interface()))
		}
		return DocumentOf(doc)
	default:
		if !rv.IsValid() {
			return Null()
		}
		return String(fmt.Sprint(rv.Interface()))
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
