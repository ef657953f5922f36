package mud

import "encoding/json"

// Optional holds a value together with an explicit presence flag.
type Optional[T any] struct {
	Value T
	Set   bool
}

// Some returns a present Optional holding v.
func Some[T any](v T) Optional[T] {
	return Optional[T]{Value: v, Set: true}
}

// Get returns the value and whether it is present.
func (o Optional[T]) Get() (T, bool) {
	return o.Value, o.Set
}

// OrElse returns the value if present, otherwise def.
func (o Optional[T]) OrElse(def T) T {
	if o.Set {
		return o.Value
	}
	return def
}

// IsZero reports absence; yaml omitempty consults it.
func (o Optional[T]) IsZero() bool {
	return !o.Set
}

// MarshalJSON renders an absent value as null.
func (o Optional[T]) MarshalJSON() ([]byte, error) {
	if !o.Set {
		return []byte("null"), nil
	}
	return json.Marshal(o.Value)
}

// MarshalYAML renders the bare value.
func (o Optional[T]) MarshalYAML() (interface{}, error) {
	if !o.Set {
		return nil, nil
	}
	return o.Value, nil
}
