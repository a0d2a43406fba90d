package dynamic

import "strings"

// Document is an insertion-ordered map with case-insensitive keys.
// The first spelling of a key is kept when it is set again.
type Document struct {
	keys   []string
	values []Value
	index  map[string]int
}

// NewDocument returns an empty document.
func NewDocument() *Document {
	return &Document{index: make(map[string]int)}
}

// Set stores value under key, replacing any case-insensitive match.
func (d *Document) Set(key string, value Value) *Document {
	if d.index == nil {
		d.index = make(map[string]int)
	}
	folded := strings.ToLower(key)
	if i, ok := d.index[folded]; ok {
		d.values[i] = value
		return d
	}
	d.index[folded] = len(d.keys)
	d.keys = append(d.keys, key)
	d.values = append(d.values, value)
	return d
}

// Get looks key up case-insensitively.
func (d *Document) Get(key string) (Value, bool) {
	if d == nil {
		return Value{}, false
	}
	i, ok := d.index[strings.ToLower(key)]
	if !ok {
		return Value{}, false
	}
	return d.values[i], true
}

// Keys returns the keys in insertion order.
func (d *Document) Keys() []string {
	if d == nil {
		return nil
	}
	out := make([]string, len(d.keys))
	copy(out, d.keys)
	return out
}

// Len returns the number of keys.
func (d *Document) Len() int {
	if d == nil {
		return 0
	}
	return len(d.keys)
}

// Range calls fn for each entry in insertion order until fn returns false.
func (d *Document) Range(fn func(key string, value Value) bool) {
	if d == nil {
		return
	}
	for i, key := range d.keys {
		if !fn(key, d.values[i]) {
			return
		}
	}
}
