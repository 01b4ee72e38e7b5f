package nodemap

import (
	"github.com/pkg/errors"
)

// EnumChoice describes an enumeration value applied by SetEnumByName.
type EnumChoice struct {
	Setting string
	Entry   string
	Code    int64
}

// SetEnumByName selects an enumeration option by its symbolic name.
//
// Two nodes are involved: the enumeration node resolved from the map, and the
// entry node resolved from the enumeration. The entry's integer code is then
// written to the enumeration. Codes differ between firmware revisions, so
// settings are always addressed by name.
func SetEnumByName(m *NodeMap, setting, entry string) (EnumChoice, error) {
	choice := EnumChoice{Setting: setting, Entry: entry}

	node := m.Lookup(setting)
	if !IsAvailable(node) || !IsWritable(node) {
		return choice, errors.Wrapf(ErrSettingUnavailable, "%s is not available", setting)
	}
	if node.Kind() != KindEnumeration {
		return choice, errors.Wrapf(ErrSettingUnavailable, "%s is a %s node", setting, node.Kind())
	}
	choice.Setting = node.DisplayName()

	e := node.EntryByName(entry)
	if !IsEntryAvailable(e) || !IsEntryReadable(e) {
		return choice, errors.Wrapf(ErrEntryUnavailable, "%s is not available for %s", entry, setting)
	}
	choice.Entry = e.Label()
	choice.Code = e.Code

	if err := WriteValue(node, EnumValue(e.Code)); err != nil {
		return choice, err
	}
	return choice, nil
}

// ReadEnumName returns the symbolic name of an enumeration's current entry.
func ReadEnumName(n *Node) (string, error) {
	v, err := ReadValue(n)
	if err != nil {
		return "", err
	}
	code, err := v.AsEnum()
	if err != nil {
		return "", err
	}
	e := n.EntryByCode(code)
	if e == nil {
		return "", errors.Wrapf(ErrEntryUnavailable, "%s has no entry with code %d", n.Name(), code)
	}
	return e.Name, nil
}
