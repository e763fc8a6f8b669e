package domain

import (
	"bytes"
	"encoding/json"
)

// Optional is a partial-update field. It tells an absent key apart from an
// explicit null, so clearing a field offline still reaches the API.
// Fields use the omitzero tag; only absent fields are left out.
type Optional[T any] struct {
	Set   bool
	Null  bool
	Value T
}

// Some returns a field set to v
func Some[T any](v T) Optional[T] {
	return Optional[T]{Set: true, Value: v}
}

// Null returns a field explicitly cleared
func Null[T any]() Optional[T] {
	return Optional[T]{Set: true, Null: true}
}

// IsZero reports an absent field
func (o Optional[T]) IsZero() bool {
	return !o.Set
}

// Present reports whether the field carries a non-null value
func (o Optional[T]) Present() bool {
	return o.Set && !o.Null
}

func (o Optional[T]) MarshalJSON() ([]byte, error) {
	if !o.Set || o.Null {
		return []byte("null"), nil
	}
	return json.Marshal(o.Value)
}

// UnmarshalJSON only runs for keys present in the document
func (o *Optional[T]) UnmarshalJSON(data []byte) error {
	o.Set = true
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		o.Null = true
		var zero T
		o.Value = zero
		return nil
	}
	o.Null = false
	return json.Unmarshal(data, &o.Value)
}
