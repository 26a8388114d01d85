package ydoc

import (
	"fmt"
	"math"
	"reflect"
	"sort"
)

// Value is the tagged scalar form stored in the document. It is one of Null,
// Bool, Number, BigInt, String, Bytes, List or Object.
type Value interface {
	isValue()
}

type (
	// Null is the absent value.
	Null struct{}
	// Bool is a boolean.
	Bool bool
	// Number is an IEEE-754 double.
	Number float64
	// BigInt holds integers whose magnitude exceeds what a Number represents exactly.
	BigInt int64
	// String is UTF-8 text.
	String string
	// Bytes is a raw byte buffer.
	Bytes []byte
	// List is an ordered sequence of values.
	List []Value
	// Object is a string-keyed map of values.
	Object map[string]Value
)

func (Null) isValue()   {}
func (Bool) isValue()   {}
func (Number) isValue() {}
func (BigInt) isValue() {}
func (String) isValue() {}
func (Bytes) isValue()  {}
func (List) isValue()   {}
func (Object) isValue() {}

// maxSafeInteger is the largest integer a float64 holds without rounding.
const maxSafeInteger = 1<<53 - 1

// ToValue converts a Go value to its tagged form. Supported inputs are nil,
// bool, signed and unsigned integers, floats, string, []byte, slices and
// string-keyed maps of supported values, and Values themselves. Integers within
// ±(2^53-1) become Numbers, larger ones BigInts.
func ToValue(v any) (Value, error) {
	switch x := v.(type) {
	case nil:
		return Null{}, nil
	case Value:
		return x, nil
	case bool:
		return Bool(x), nil
	case int:
		return intValue(int64(x)), nil
	case int8:
		return intValue(int64(x)), nil
	case int16:
		return intValue(int64(x)), nil
	case int32:
		return intValue(int64(x)), nil
	case int64:
		return intValue(x), nil
	case uint:
		return uintValue(uint64(x))
	case uint8:
		return Number(x), nil
	case uint16:
		return Number(x), nil
	case uint32:
		return Number(x), nil
	case uint64:
		return uintValue(x)
	case float32:
		return Number(x), nil
	case float64:
		return Number(x), nil
	case string:
		return String(x), nil
	case []byte:
		return Bytes(append([]byte(nil), x...)), nil
	case []any:
		out := make(List, len(x))
		for i, e := range x {
			ev, err := ToValue(e)
			if err != nil {
				return nil, fmt.Errorf("list element %d: %w", i, err)
			}
			out[i] = ev
		}
		return out, nil
	case map[string]any:
		out := make(Object, len(x))
		for k, e := range x {
			ev, err := ToValue(e)
			if err != nil {
				return nil, fmt.Errorf("object key %q: %w", k, err)
			}
			out[k] = ev
		}
		return out, nil
	}
	return reflectValue(reflect.ValueOf(v))
}

// reflectValue handles typed slices and maps, e.g. []int or map[string]string.
func reflectValue(rv reflect.Value) (Value, error) {
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		out := make(List, rv.Len())
		for i := range out {
			ev, err := ToValue(rv.Index(i).Interface())
			if err != nil {
				return nil, fmt.Errorf("list element %d: %w", i, err)
			}
			out[i] = ev
		}
		return out, nil
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			break
		}
		out := make(Object, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			k := iter.Key().String()
			ev, err := ToValue(iter.Value().Interface())
			if err != nil {
				return nil, fmt.Errorf("object key %q: %w", k, err)
			}
			out[k] = ev
		}
		return out, nil
	}
	if !rv.IsValid() {
		return Null{}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedValue, rv.Type())
}

func intValue(i int64) Value {
	if i > maxSafeInteger || i < -maxSafeInteger {
		return BigInt(i)
	}
	return Number(i)
}

func uintValue(u uint64) (Value, error) {
	if u > math.MaxInt64 {
		return nil, fmt.Errorf("%w: uint64 %d exceeds int64", ErrUnsupportedValue, u)
	}
	return intValue(int64(u)), nil
}

// FromValue converts a tagged value back to plain Go: nil, bool, float64,
// int64, string, []byte, []any and map[string]any.
func FromValue(v Value) any {
	switch x := v.(type) {
	case nil, Null:
		return nil
	case Bool:
		return bool(x)
	case Number:
		return float64(x)
	case BigInt:
		return int64(x)
	case String:
		return string(x)
	case Bytes:
		return []byte(x)
	case List:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = FromValue(e)
		}
		return out
	case Object:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = FromValue(e)
		}
		return out
	}
	panic(fmt.Sprintf("unknown value type %T", v))
}

// valuesEqual compares two tagged values structurally.
func valuesEqual(a, b Value) bool {
	if a == nil {
		a = Null{}
	}
	if b == nil {
		b = Null{}
	}
	switch x := a.(type) {
	case Null:
		_, ok := b.(Null)
		return ok
	case Bool, Number, BigInt, String:
		return a == b
	case Bytes:
		y, ok := b.(Bytes)
		return ok && string(x) == string(y)
	case List:
		y, ok := b.(List)
		if !ok || len(x) != len(y) {
			return false
		}
		for i := range x {
			if !valuesEqual(x[i], y[i]) {
				return false
			}
		}
		return true
	case Object:
		y, ok := b.(Object)
		if !ok || len(x) != len(y) {
			return false
		}
		for k, xv := range x {
			yv, ok := y[k]
			if !ok || !valuesEqual(xv, yv) {
				return false
			}
		}
		return true
	}
	return false
}

// Attrs are formatting attributes of a text run. A Null value clears the attribute.
type Attrs map[string]Value

// attrsFromGo converts host attribute maps, rejecting unsupported values.
func attrsFromGo(m map[string]any) (Attrs, error) {
	if m == nil {
		return nil, nil
	}
	out := make(Attrs, len(m))
	for k, v := range m {
		tv, err := ToValue(v)
		if err != nil {
			return nil, fmt.Errorf("attribute %q: %w", k, err)
		}
		out[k] = tv
	}
	return out, nil
}

func (a Attrs) clone() Attrs {
	out := make(Attrs, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

func (a Attrs) equal(b Attrs) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		w, ok := b[k]
		if !ok || !valuesEqual(v, w) {
			return false
		}
	}
	return true
}

// get returns the attribute value, Null when absent.
func (a Attrs) get(k string) Value {
	if v, ok := a[k]; ok {
		return v
	}
	return Null{}
}

// apply sets k to v, deleting it when v is Null.
func (a Attrs) apply(k string, v Value) {
	if _, null := v.(Null); null || v == nil {
		delete(a, k)
		return
	}
	a[k] = v
}

func (a Attrs) sortedKeys() []string {
	keys := make([]string, 0, len(a))
	for k := range a {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// toGo renders attributes for callers; nil when empty.
func (a Attrs) toGo() map[string]any {
	if len(a) == 0 {
		return nil
	}
	out := make(map[string]any, len(a))
	for k, v := range a {
		out[k] = FromValue(v)
	}
	return out
}
