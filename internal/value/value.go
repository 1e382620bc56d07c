// Package value provides the type-erased container processors use to exchange
// parameters, inputs and results, together with compiled property paths into
// nested fields of such values.
package value

import (
	"encoding/json"
	"fmt"
	"reflect"
)

// Type identifies the dynamic type of a Value. The zero Type is invalid and
// matches nothing.
type Type struct {
	rt reflect.Type
}

// TypeOf returns the Type of T.
func TypeOf[T any]() Type {
	return Type{rt: reflect.TypeFor[T]()}
}

// TypeFor returns the Type of the dynamic value v.
func TypeFor(v any) Type {
	if v == nil {
		return Type{}
	}
	return Type{rt: reflect.TypeOf(v)}
}

func (t Type) Valid() bool          { return t.rt != nil }
func (t Type) Equal(other Type) bool { return t.rt == other.rt }
func (t Type) Reflect() reflect.Type { return t.rt }

func (t Type) String() string {
	if t.rt == nil {
		return "<invalid>"
	}
	return t.rt.String()
}

// Value holds any Go value along with its type.
type Value struct {
	v any
}

// Of wraps v.
func Of(v any) Value { return Value{v: v} }

// Values wraps each argument.
func Values(vs ...any) []Value {
	out := make([]Value, len(vs))
	for i, v := range vs {
		out[i] = Of(v)
	}
	return out
}

func (v Value) Interface() any { return v.v }
func (v Value) IsZero() bool   { return v.v == nil }
func (v Value) Type() Type     { return TypeFor(v.v) }

// Matches reports whether the value's type is exactly t.
func (v Value) Matches(t Type) bool {
	return v.v != nil && t.Valid() && v.Type().Equal(t)
}

// ConvertTo returns the value converted to t, following Go conversion rules
// for numeric and string kinds.
func (v Value) ConvertTo(t Type) (Value, error) {
	if !t.Valid() {
		return Value{}, fmt.Errorf("convert to invalid type")
	}
	if v.Matches(t) {
		return v, nil
	}
	if v.v == nil {
		return Value{}, fmt.Errorf("convert nil to %s", t)
	}
	rv := reflect.ValueOf(v.v)
	if !rv.Type().ConvertibleTo(t.rt) {
		return Value{}, fmt.Errorf("cannot convert %s to %s", rv.Type(), t)
	}
	return Value{v: rv.Convert(t.rt).Interface()}, nil
}

func (v Value) String() string {
	return fmt.Sprintf("%v", v.v)
}

func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.v)
}

// UnmarshalJSON decodes into a generic payload (maps, slices, float64).
// Callers needing a concrete type decode the raw bytes themselves.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	v.v = raw
	return nil
}

// Get returns the payload of v as T.
func Get[T any](v Value) (T, error) {
	t, ok := v.v.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("value of type %s is not %s", v.Type(), reflect.TypeFor[T]())
	}
	return t, nil
}

// MustGet is like Get but panics on a type mismatch.
func MustGet[T any](v Value) T {
	t, err := Get[T](v)
	if err != nil {
		panic(err)
	}
	return t
}
