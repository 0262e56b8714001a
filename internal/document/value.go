package document

import (
	"encoding/json"
	"fmt"
	"strconv"

	"golang.org/x/text/unicode/norm"

	"github.com/graftkit/graft/internal/schema"
)

// Value is a sealed interface over the scalar types an attribute can hold.
// Only Null, String, Int, Float, and Bool implement it. Nested structures
// are never attribute values; they are associations and parse separately.
type Value interface {
	value() // sealed
}

// Null represents an explicit null attribute value.
type Null struct{}

func (Null) value() {}

// String represents a string attribute value.
type String string

func (String) value() {}

// Int represents an integer attribute value. Always int64.
type Int int64

func (Int) value() {}

// Float represents a floating-point attribute value.
type Float float64

func (Float) value() {}

// Bool represents a boolean attribute value.
type Bool bool

func (Bool) value() {}

// FromGo converts a JSON-decoded Go value into a Value.
// Numbers decode to Int when integral, Float otherwise.
// Maps and slices are rejected: those are association shapes, not scalars.
func FromGo(v any) (Value, error) {
	switch val := v.(type) {
	case nil:
		return Null{}, nil
	case string:
		return String(val), nil
	case bool:
		return Bool(val), nil
	case int:
		return Int(int64(val)), nil
	case int64:
		return Int(val), nil
	case float64:
		if val == float64(int64(val)) {
			return Int(int64(val)), nil
		}
		return Float(val), nil
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return Int(i), nil
		}
		f, err := val.Float64()
		if err != nil {
			return nil, fmt.Errorf("number out of range: %s", val)
		}
		return Float(f), nil
	default:
		return nil, fmt.Errorf("unsupported attribute value type %T", v)
	}
}

// GoValue converts a Value back to the plain Go representation used by
// database drivers and JSON encoding: nil, string, int64, float64, or bool.
func GoValue(v Value) any {
	switch val := v.(type) {
	case nil, Null:
		return nil
	case String:
		return string(val)
	case Int:
		return int64(val)
	case Float:
		return float64(val)
	case Bool:
		return bool(val)
	default:
		panic(fmt.Sprintf("unknown Value type %T", v))
	}
}

// Equal reports whether two attribute values are the same. Strings are
// NFC-normalized before comparison so that visually identical submissions
// do not register as edits. A nil Value is treated as Null.
func Equal(a, b Value) bool {
	if a == nil {
		a = Null{}
	}
	if b == nil {
		b = Null{}
	}
	switch av := a.(type) {
	case Null:
		_, ok := b.(Null)
		return ok
	case String:
		bv, ok := b.(String)
		if !ok {
			return false
		}
		return norm.NFC.String(string(av)) == norm.NFC.String(string(bv))
	case Int:
		bv, ok := b.(Int)
		return ok && av == bv
	case Float:
		bv, ok := b.(Float)
		return ok && av == bv
	case Bool:
		bv, ok := b.(Bool)
		return ok && av == bv
	default:
		return false
	}
}

// Matches reports whether the value is acceptable for an attribute kind.
// Null matches every kind; Int additionally satisfies float attributes.
func Matches(v Value, kind schema.AttrKind) bool {
	if kind == schema.KindAny {
		return true
	}
	switch v.(type) {
	case nil, Null:
		return true
	case String:
		return kind == schema.KindString
	case Int:
		return kind == schema.KindInt || kind == schema.KindFloat
	case Float:
		return kind == schema.KindFloat
	case Bool:
		return kind == schema.KindBool
	default:
		return false
	}
}

// Format renders a Value for log output and error messages.
func Format(v Value) string {
	switch val := v.(type) {
	case nil, Null:
		return "null"
	case String:
		return strconv.Quote(string(val))
	case Int:
		return strconv.FormatInt(int64(val), 10)
	case Float:
		return strconv.FormatFloat(float64(val), 'g', -1, 64)
	case Bool:
		return strconv.FormatBool(bool(val))
	default:
		return fmt.Sprintf("%v", v)
	}
}
