// Package record implements validated, ordered key/value records that can be
// chained over ancestor records and persisted as YAML document streams.
package record

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// Schema describes one kind of record.
type Schema struct {
	Kind     string   // e.g. "beamtime"
	UIDKey   string   // field holding the immutable identifier
	Required []string // fields that must be present in the merged view
}

// Record is an ordered mapping backed by one or more maps. maps[0] is the
// record's own map; any further maps belong to ancestors and are consulted in
// order after it. All writes go to the own map.
type Record struct {
	schema Schema
	maps   []*Fields
}

// New creates a single-map record from own. A uid is minted unless own
// already carries one.
func New(schema Schema, own *Fields) (*Record, error) {
	return newRecord(schema, own, nil)
}

// NewChain creates a record whose lookups fall through to parent's backing
// maps after its own.
func NewChain(schema Schema, own *Fields, parent *Record) (*Record, error) {
	if parent == nil {
		return nil, fmt.Errorf("record: %s: parent record is required", schema.Kind)
	}
	return newRecord(schema, own, parent.maps)
}

func newRecord(schema Schema, own *Fields, ancestors []*Fields) (*Record, error) {
	if own == nil {
		own = NewFields()
	}
	r := &Record{schema: schema}
	r.maps = append([]*Fields{own}, ancestors...)
	if schema.UIDKey != "" {
		if uid := storedUID(own, schema.UIDKey); uid != "" {
			own.Set(schema.UIDKey, uid)
		} else {
			own.Set(schema.UIDKey, NewUID())
		}
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// storedUID returns the uid own already carries. Hand-edited files may hold
// an unquoted numeric uid, which is normalized back to text.
func storedUID(own *Fields, key string) string {
	v, ok := own.Get(key)
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Kind returns the schema kind.
func (r *Record) Kind() string { return r.schema.Kind }

// UID returns the record identifier.
func (r *Record) UID() string {
	if r.schema.UIDKey == "" {
		return ""
	}
	v, _ := r.maps[0].Get(r.schema.UIDKey)
	s, _ := v.(string)
	return s
}

// Get resolves key against the own map first, then each ancestor in order.
func (r *Record) Get(key string) (any, bool) {
	for _, m := range r.maps {
		if v, ok := m.Get(key); ok {
			return v, true
		}
	}
	return nil, false
}

// Has reports whether key resolves anywhere in the chain.
func (r *Record) Has(key string) bool {
	_, ok := r.Get(key)
	return ok
}

// String returns the resolved value of key formatted as text, or "" when the
// key is absent or nil.
func (r *Record) String(key string) string {
	v, ok := r.Get(key)
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Float returns the resolved value of key as a float64 when it is numeric.
func (r *Record) Float(key string) (float64, bool) {
	v, ok := r.Get(key)
	if !ok {
		return 0, false
	}
	return ToFloat(v)
}

// Keys returns the ordered union of keys: own keys first, then keys that only
// ancestors carry, in ancestor order.
func (r *Record) Keys() []string {
	seen := map[string]bool{}
	var out []string
	for _, m := range r.maps {
		for _, k := range m.Keys() {
			if !seen[k] {
				seen[k] = true
				out = append(out, k)
			}
		}
	}
	return out
}

// Len returns the number of keys in the merged view.
func (r *Record) Len() int { return len(r.Keys()) }

// View returns a copy of the merged field view.
func (r *Record) View() *Fields {
	out := NewFields()
	for _, k := range r.Keys() {
		v, _ := r.Get(k)
		out.Set(k, v)
	}
	return out
}

// Own returns a copy of the record's own map.
func (r *Record) Own() *Fields { return r.maps[0].Clone() }

// Maps returns copies of every backing map, own map first.
func (r *Record) Maps() []*Fields {
	out := make([]*Fields, len(r.maps))
	for i, m := range r.maps {
		out[i] = m.Clone()
	}
	return out
}

// Depth returns the number of backing maps.
func (r *Record) Depth() int { return len(r.maps) }

// Validate fails when a required field is absent from the merged view.
func (r *Record) Validate() error {
	var missing []string
	for _, k := range r.schema.Required {
		if !r.Has(k) {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return &MissingFieldsError{Kind: r.schema.Kind, Fields: missing}
	}
	return nil
}

// Set writes key into the own map and validates. A failed validation leaves
// the record unchanged.
func (r *Record) Set(key string, value any) error {
	if key == "" {
		return fmt.Errorf("record: %s: empty key", r.schema.Kind)
	}
	if key == r.schema.UIDKey {
		return fmt.Errorf("record: %s: %s: %w", r.schema.Kind, key, ErrImmutableField)
	}
	own := r.maps[0]
	prev, had := own.Get(key)
	own.Set(key, value)
	if err := r.Validate(); err != nil {
		if had {
			own.Set(key, prev)
		} else {
			own.Delete(key)
		}
		return err
	}
	return nil
}

// SetWith writes key like Set, then runs check against the updated record.
// When check fails the own map is restored in place and check's error is
// returned.
func (r *Record) SetWith(key string, value any, check func() error) error {
	own := r.maps[0]
	prev, had := own.Get(key)
	if err := r.Set(key, value); err != nil {
		return err
	}
	if check == nil {
		return nil
	}
	if err := check(); err != nil {
		if had {
			own.Set(key, prev)
		} else {
			own.Delete(key)
		}
		return err
	}
	return nil
}

// Delete removes key from the own map and validates. Keys held only by an
// ancestor cannot be deleted through the child.
func (r *Record) Delete(key string) error {
	if key == r.schema.UIDKey {
		return fmt.Errorf("record: %s: %s: %w", r.schema.Kind, key, ErrImmutableField)
	}
	own := r.maps[0]
	prev, had := own.Get(key)
	if !had {
		return fmt.Errorf("record: %s: %s: %w", r.schema.Kind, key, ErrFieldNotFound)
	}
	idx := own.Delete(key)
	if err := r.Validate(); err != nil {
		own.insertAt(idx, key, prev)
		return err
	}
	return nil
}

// Export writes one YAML document per backing map, own map first.
func (r *Record) Export(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	for i, m := range r.maps {
		if err := enc.Encode(m); err != nil {
			return fmt.Errorf("record: %s: encode document %d: %w", r.schema.Kind, i, err)
		}
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("record: %s: flush: %w", r.schema.Kind, err)
	}
	return nil
}

// ToFloat converts the numeric types YAML decoding produces into float64.
func ToFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case uint:
		return float64(n), true
	}
	return 0, false
}
