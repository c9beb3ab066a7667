package indicator

import (
	"bytes"
	"encoding/json"
	"reflect"
)

// Optional is a patch field that may be absent. The zero value is absent.
// A present Optional holding a nil pointer is a real value ("clear"), not
// absence.
type Optional[T any] struct {
	value T
	set   bool
}

// Some returns a present Optional holding v.
func Some[T any](v T) Optional[T] {
	return Optional[T]{value: v, set: true}
}

// Get returns the value and whether it is present.
func (o Optional[T]) Get() (T, bool) { return o.value, o.set }

// IsSet reports whether the field is present.
func (o Optional[T]) IsSet() bool { return o.set }

// IsZero reports absence, so `omitzero` drops absent fields on encode.
func (o Optional[T]) IsZero() bool { return !o.set }

// MarshalJSON encodes the held value.
func (o Optional[T]) MarshalJSON() ([]byte, error) {
	if !o.set {
		return []byte("null"), nil
	}
	return json.Marshal(o.value)
}

// UnmarshalJSON marks the field present whenever its key appears in the
// document. An explicit null is only a value for pointer and interface
// types; for anything else it reads as absent.
func (o *Optional[T]) UnmarshalJSON(b []byte) error {
	var v T
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		switch reflect.TypeFor[T]().Kind() {
		case reflect.Pointer, reflect.Interface:
			o.value, o.set = v, true
		default:
			o.value, o.set = v, false
		}
		return nil
	}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	o.value = v
	o.set = true
	return nil
}
