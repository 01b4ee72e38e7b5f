package nodemap

import (
	"strconv"

	"github.com/pkg/errors"
)

// Kind is the declared type of a feature node.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindEnumeration
	KindInteger
	KindFloat
	KindString
	KindCategory
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindEnumeration:
		return "enumeration"
	case KindInteger:
		return "integer"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindCategory:
		return "category"
	default:
		return "unknown"
	}
}

// Value is a type-tagged node value. The zero Value has KindUnknown and is
// never accepted by WriteValue.
type Value struct {
	kind Kind
	i    int64
	f    float64
	s    string
}

// IntValue wraps an integer node value.
func IntValue(v int64) Value { return Value{kind: KindInteger, i: v} }

// FloatValue wraps a float node value.
func FloatValue(v float64) Value { return Value{kind: KindFloat, f: v} }

// StringValue wraps a string node value.
func StringValue(v string) Value { return Value{kind: KindString, s: v} }

// EnumValue wraps the integer code of an enumeration entry.
func EnumValue(code int64) Value { return Value{kind: KindEnumeration, i: code} }

// Kind returns the value's type tag.
func (v Value) Kind() Kind { return v.kind }

// AsInt returns the integer payload or ErrTypeMismatch.
func (v Value) AsInt() (int64, error) {
	if v.kind != KindInteger {
		return 0, v.mismatch(KindInteger)
	}
	return v.i, nil
}

// AsFloat returns the float payload or ErrTypeMismatch.
func (v Value) AsFloat() (float64, error) {
	if v.kind != KindFloat {
		return 0, v.mismatch(KindFloat)
	}
	return v.f, nil
}

// AsString returns the string payload or ErrTypeMismatch.
func (v Value) AsString() (string, error) {
	if v.kind != KindString {
		return "", v.mismatch(KindString)
	}
	return v.s, nil
}

// AsEnum returns the enumeration code or ErrTypeMismatch.
func (v Value) AsEnum() (int64, error) {
	if v.kind != KindEnumeration {
		return 0, v.mismatch(KindEnumeration)
	}
	return v.i, nil
}

// String renders the payload for logs and device information dumps.
func (v Value) String() string {
	switch v.kind {
	case KindInteger, KindEnumeration:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'f', -1, 64)
	case KindString:
		return v.s
	default:
		return ""
	}
}

func (v Value) mismatch(want Kind) error {
	return errors.Wrapf(ErrTypeMismatch, "value is %s, want %s", v.kind, want)
}
