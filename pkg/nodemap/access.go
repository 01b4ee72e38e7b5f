package nodemap

import (
	"math"

	"github.com/pkg/errors"
)

// IsAvailable reports whether the node exists and is implemented on the device.
func IsAvailable(n *Node) bool {
	return n != nil && n.Access().Available
}

// IsReadable reports whether the node can be read right now.
func IsReadable(n *Node) bool {
	if n == nil {
		return false
	}
	a := n.Access()
	return a.Available && a.Readable
}

// IsWritable reports whether the node can be written right now.
func IsWritable(n *Node) bool {
	if n == nil {
		return false
	}
	a := n.Access()
	return a.Available && a.Writable
}

// IsEntryAvailable reports whether an enumeration entry is implemented.
func IsEntryAvailable(e *EnumEntry) bool {
	return e != nil && e.Available
}

// IsEntryReadable reports whether an enumeration entry can be read.
func IsEntryReadable(e *EnumEntry) bool {
	return e != nil && e.Available && e.Readable
}

// ReadValue returns the node's current value after gating on availability
// and readability.
func ReadValue(n *Node) (Value, error) {
	if !IsAvailable(n) {
		return Value{}, errors.Wrapf(ErrNodeUnavailable, "read %s", n.Name())
	}
	if !IsReadable(n) {
		return Value{}, errors.Wrapf(ErrNodeNotReadable, "read %s", n.Name())
	}
	if n.kind == KindCategory {
		return Value{}, errors.Wrapf(ErrTypeMismatch, "read %s: category has no value", n.Name())
	}
	return n.Raw(), nil
}

// WriteValue stores v after gating on availability and writability and
// checking v against the node's declared kind. The stored value is left
// untouched on any failure.
func WriteValue(n *Node, v Value) error {
	if !IsAvailable(n) {
		return errors.Wrapf(ErrNodeUnavailable, "write %s", n.Name())
	}
	if !IsWritable(n) {
		return errors.Wrapf(ErrNodeNotWritable, "write %s", n.Name())
	}
	if err := checkValue(n, v); err != nil {
		return errors.WithMessagef(err, "write %s", n.Name())
	}
	if hook := n.owner.writeHook(); hook != nil {
		if err := hook(n, v); err != nil {
			return errors.WithMessagef(err, "write %s", n.Name())
		}
	}
	n.Set(v)
	return nil
}

func checkValue(n *Node, v Value) error {
	if n.kind == KindCategory || v.kind != n.kind {
		return errors.Wrapf(ErrTypeMismatch, "value is %s, node is %s", v.kind, n.kind)
	}
	switch n.kind {
	case KindInteger:
		if n.min != nil && v.i < n.min.i {
			return errors.Wrapf(ErrOutOfRange, "%d < min %d", v.i, n.min.i)
		}
		if n.max != nil && v.i > n.max.i {
			return errors.Wrapf(ErrOutOfRange, "%d > max %d", v.i, n.max.i)
		}
	case KindFloat:
		if math.IsNaN(v.f) {
			return errors.Wrap(ErrOutOfRange, "NaN is outside every range")
		}
		if n.min != nil && v.f < n.min.f {
			return errors.Wrapf(ErrOutOfRange, "%g < min %g", v.f, n.min.f)
		}
		if n.max != nil && v.f > n.max.f {
			return errors.Wrapf(ErrOutOfRange, "%g > max %g", v.f, n.max.f)
		}
	case KindEnumeration:
		if !IsEntryAvailable(n.EntryByCode(v.i)) {
			return errors.Wrapf(ErrEntryUnavailable, "no available entry with code %d", v.i)
		}
	}
	return nil
}

// ReadInt reads an integer node.
func ReadInt(n *Node) (int64, error) {
	v, err := ReadValue(n)
	if err != nil {
		return 0, err
	}
	return v.AsInt()
}

// ReadFloat reads a float node.
func ReadFloat(n *Node) (float64, error) {
	v, err := ReadValue(n)
	if err != nil {
		return 0, err
	}
	return v.AsFloat()
}

// ReadString reads a string node.
func ReadString(n *Node) (string, error) {
	v, err := ReadValue(n)
	if err != nil {
		return "", err
	}
	return v.AsString()
}

// WriteInt writes an integer node.
func WriteInt(n *Node, v int64) error { return WriteValue(n, IntValue(v)) }

// WriteFloat writes a float node.
func WriteFloat(n *Node, v float64) error { return WriteValue(n, FloatValue(v)) }

// IntRange returns the declared bounds of an integer node. The node must be
// available; an unbounded side is reported as the zero value with ok false.
func IntRange(n *Node) (min, max int64, ok bool, err error) {
	if !IsAvailable(n) {
		return 0, 0, false, errors.Wrapf(ErrNodeUnavailable, "range %s", n.Name())
	}
	if n.kind != KindInteger {
		return 0, 0, false, errors.Wrapf(ErrTypeMismatch, "range %s: node is %s", n.Name(), n.kind)
	}
	lo, hi := n.Bounds()
	if lo == nil || hi == nil {
		return 0, 0, false, nil
	}
	return lo.i, hi.i, true, nil
}

// Feature is a name/value pair of a category listing.
type Feature struct {
	Name     string
	Value    string
	Readable bool
}

// Describe lists the features of a category node. Unreadable features are
// included with Readable false so callers can report them.
func Describe(m *NodeMap, category string) ([]Feature, error) {
	cat, err := m.Node(category)
	if err != nil {
		return nil, err
	}
	if !IsReadable(cat) {
		return nil, errors.Wrapf(ErrNodeNotReadable, "describe %s", category)
	}
	if cat.Kind() != KindCategory {
		return nil, errors.Wrapf(ErrTypeMismatch, "describe %s: node is %s", category, cat.Kind())
	}
	features := make([]Feature, 0, len(cat.Features()))
	for _, name := range cat.Features() {
		child := m.Lookup(name)
		if child == nil {
			continue
		}
		f := Feature{Name: name}
		if v, err := ReadValue(child); err == nil {
			f.Value = displayValue(child, v)
			f.Readable = true
		}
		features = append(features, f)
	}
	return features, nil
}

func displayValue(n *Node, v Value) string {
	if n.Kind() == KindEnumeration {
		if e := n.EntryByCode(v.i); e != nil {
			return e.Name
		}
	}
	return v.String()
}
