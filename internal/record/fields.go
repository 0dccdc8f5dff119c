package record

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Fields is a string-keyed map that remembers insertion order. The zero value
// is an empty map ready for use.
type Fields struct {
	keys   []string
	values map[string]any
}

// NewFields returns an empty Fields.
func NewFields() *Fields {
	return &Fields{values: map[string]any{}}
}

// Get returns the value stored under key.
func (f *Fields) Get(key string) (any, bool) {
	if f == nil || f.values == nil {
		return nil, false
	}
	v, ok := f.values[key]
	return v, ok
}

// Has reports whether key is present, even with a nil value.
func (f *Fields) Has(key string) bool {
	_, ok := f.Get(key)
	return ok
}

// Set stores value under key. New keys are appended; existing keys keep
// their position.
func (f *Fields) Set(key string, value any) {
	if f.values == nil {
		f.values = map[string]any{}
	}
	if _, ok := f.values[key]; !ok {
		f.keys = append(f.keys, key)
	}
	f.values[key] = value
}

// Delete removes key and returns its former position, or -1 if absent.
func (f *Fields) Delete(key string) int {
	if f == nil || f.values == nil {
		return -1
	}
	if _, ok := f.values[key]; !ok {
		return -1
	}
	delete(f.values, key)
	for i, k := range f.keys {
		if k == key {
			f.keys = append(f.keys[:i], f.keys[i+1:]...)
			return i
		}
	}
	return -1
}

// insertAt puts key back at position idx. Used to undo a Delete.
func (f *Fields) insertAt(idx int, key string, value any) {
	if idx < 0 || idx > len(f.keys) {
		f.Set(key, value)
		return
	}
	if f.values == nil {
		f.values = map[string]any{}
	}
	f.keys = append(f.keys, "")
	copy(f.keys[idx+1:], f.keys[idx:])
	f.keys[idx] = key
	f.values[key] = value
}

// Keys returns the keys in insertion order.
func (f *Fields) Keys() []string {
	if f == nil {
		return nil
	}
	out := make([]string, len(f.keys))
	copy(out, f.keys)
	return out
}

// Len returns the number of keys.
func (f *Fields) Len() int {
	if f == nil {
		return 0
	}
	return len(f.keys)
}

// Clone returns a shallow copy.
func (f *Fields) Clone() *Fields {
	out := NewFields()
	if f == nil {
		return out
	}
	for _, k := range f.keys {
		out.Set(k, f.values[k])
	}
	return out
}

// Map returns the contents as a plain map. Order is lost.
func (f *Fields) Map() map[string]any {
	out := make(map[string]any, f.Len())
	if f == nil {
		return out
	}
	for _, k := range f.keys {
		out[k] = f.values[k]
	}
	return out
}

// MarshalYAML encodes the fields as a mapping in insertion order.
func (f *Fields) MarshalYAML() (any, error) {
	node := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	for _, k := range f.keys {
		var val yaml.Node
		if err := val.Encode(f.values[k]); err != nil {
			return nil, fmt.Errorf("encode %s: %w", k, err)
		}
		key := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: k}
		node.Content = append(node.Content, key, &val)
	}
	return node, nil
}

// UnmarshalYAML decodes a mapping node, keeping document order.
func (f *Fields) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: document is not a mapping", node.Line)
	}
	f.keys = nil
	f.values = map[string]any{}
	for i := 0; i+1 < len(node.Content); i += 2 {
		k, v := node.Content[i], node.Content[i+1]
		if k.Kind != yaml.ScalarNode {
			return fmt.Errorf("line %d: mapping key is not a scalar", k.Line)
		}
		if f.Has(k.Value) {
			return fmt.Errorf("line %d: duplicate key %q", k.Line, k.Value)
		}
		var val any
		if err := v.Decode(&val); err != nil {
			return fmt.Errorf("line %d: key %q: %w", v.Line, k.Value, err)
		}
		f.Set(k.Value, val)
	}
	return nil
}
