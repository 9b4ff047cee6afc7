package bytecode

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ValueKind identifies the dynamic type of a Value.
type ValueKind uint8

const (
	KindNil ValueKind = iota
	KindInt
	KindFloat
	KindString
)

var valueKindNames = map[ValueKind]string{
	KindNil:    "nil",
	KindInt:    "int",
	KindFloat:  "float",
	KindString: "string",
}

func (k ValueKind) String() string {
	if name, ok := valueKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("ValueKind(%d)", k)
}

// Value is a runtime value: an integer, a float, a string or nil. Nil only
// arises from calls that return nothing.
type Value struct {
	Kind  ValueKind `cbor:"1,keyasint"`
	Int   int64     `cbor:"2,keyasint,omitempty"`
	Float float64   `cbor:"3,keyasint,omitempty"`
	Str   string    `cbor:"4,keyasint,omitempty"`
}

// Nil is the value pushed by calls that return nothing.
var Nil = Value{}

// IntValue returns an integer value.
func IntValue(i int64) Value { return Value{Kind: KindInt, Int: i} }

// FloatValue returns a float value.
func FloatValue(f float64) Value { return Value{Kind: KindFloat, Float: f} }

// StringValue returns a string value.
func StringValue(s string) Value { return Value{Kind: KindString, Str: s} }

// BoolValue returns 1 for true and 0 for false.
func BoolValue(b bool) Value {
	if b {
		return IntValue(1)
	}
	return IntValue(0)
}

// IsNumber reports whether v is an int or a float.
func (v Value) IsNumber() bool {
	return v.Kind == KindInt || v.Kind == KindFloat
}

// AsFloat returns a numeric value widened to float64.
func (v Value) AsFloat() float64 {
	if v.Kind == KindInt {
		return float64(v.Int)
	}
	return v.Float
}

// Truthy reports the numeric truthiness of v: zero is false. ok is false
// for non-numeric values.
func (v Value) Truthy() (truth, ok bool) {
	switch v.Kind {
	case KindInt:
		return v.Int != 0, true
	case KindFloat:
		return v.Float != 0, true
	}
	return false, false
}

// String renders v the way print writes it.
func (v Value) String() string {
	switch v.Kind {
	case KindInt:
		return strconv.FormatInt(v.Int, 10)
	case KindFloat:
		return formatFloat(v.Float)
	case KindString:
		return v.Str
	}
	return "nil"
}

// GoString renders v as a literal, quoting strings. Used by the
// disassembler and in error messages.
func (v Value) GoString() string {
	if v.Kind == KindString {
		return strconv.Quote(v.Str)
	}
	return v.String()
}

// formatFloat renders the shortest decimal form with at least one
// fractional digit.
func formatFloat(f float64) string {
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return strconv.FormatFloat(f, 'g', -1, 64)
	}
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

// Equal reports whether a and b are equal. Values of different kinds are
// unequal, except that ints and floats compare numerically.
func Equal(a, b Value) bool {
	if a.IsNumber() && b.IsNumber() {
		if a.Kind == KindInt && b.Kind == KindInt {
			return a.Int == b.Int
		}
		return a.AsFloat() == b.AsFloat()
	}
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case KindString:
		return a.Str == b.Str
	case KindNil:
		return true
	}
	return false
}
