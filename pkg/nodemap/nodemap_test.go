package nodemap

import (
	"math"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int64) *Value { x := IntValue(v); return &x }

func newTestMap() *NodeMap {
	m := New()
	m.Add(
		NewNode(NodeSpec{
			Name: "Width", Kind: KindInteger, Access: AccessReadWrite,
			Value: IntValue(640), Min: intPtr(16), Max: intPtr(2048),
		}),
		NewNode(NodeSpec{Name: "Gain", Kind: KindFloat, Access: AccessReadWrite, Value: FloatValue(0)}),
		NewNode(NodeSpec{Name: "Locked", Kind: KindInteger, Access: AccessReadOnly, Value: IntValue(3)}),
		NewNode(NodeSpec{Name: "Hidden", Kind: KindInteger, Access: Access{Readable: true, Writable: true}, Value: IntValue(9)}),
		NewNode(NodeSpec{Name: "Secret", Kind: KindString, Access: Access{Available: true, Writable: true}, Value: StringValue("x")}),
		NewNode(NodeSpec{
			Name: "PixelFormat", DisplayName: "Pixel Format", Kind: KindEnumeration,
			Access: AccessReadWrite, Value: EnumValue(17301505),
			Entries: []EnumEntry{
				{Name: "Mono8", Code: 17301505, Available: true, Readable: true},
				{Name: "Mono16", Code: 17825799, Available: true, Readable: true},
				{Name: "Mono12p", Code: 17563719, Available: true},
				{Name: "BayerRG8", Code: 17301513},
			},
		}),
		NewNode(NodeSpec{
			Name: "DeviceInformation", Kind: KindCategory, Access: AccessReadOnly,
			Features: []string{"Width", "Secret", "PixelFormat", "Missing"},
		}),
	)
	return m
}

func TestWriteValueGating(t *testing.T) {
	m := newTestMap()

	cases := []struct {
		name    string
		node    string
		value   Value
		wantErr error
	}{
		{"writable integer", "Width", IntValue(1024), nil},
		{"read only", "Locked", IntValue(4), ErrNodeNotWritable},
		{"unavailable", "Hidden", IntValue(1), ErrNodeUnavailable},
		{"missing", "Nope", IntValue(1), ErrNodeUnavailable},
		{"wrong kind", "Gain", IntValue(1), ErrTypeMismatch},
		{"nan", "Gain", FloatValue(math.NaN()), ErrOutOfRange},
		{"above max", "Width", IntValue(4096), ErrOutOfRange},
		{"below min", "Width", IntValue(1), ErrOutOfRange},
		{"category", "DeviceInformation", IntValue(1), ErrNodeNotWritable},
		{"unknown enum code", "PixelFormat", EnumValue(42), ErrEntryUnavailable},
		{"unavailable enum code", "PixelFormat", EnumValue(17301513), ErrEntryUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			n := m.Lookup(tc.node)
			var before Value
			if n != nil {
				before = n.Raw()
			}
			err := WriteValue(n, tc.value)
			if tc.wantErr == nil {
				require.NoError(t, err)
				assert.Equal(t, tc.value, n.Raw())
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, tc.wantErr), "got %v", err)
			if n != nil {
				assert.Equal(t, before, n.Raw(), "failed write must not change the value")
			}
		})
	}
}

func TestReadValueGating(t *testing.T) {
	m := newTestMap()

	v, err := ReadValue(m.Lookup("Locked"))
	require.NoError(t, err)
	got, err := v.AsInt()
	require.NoError(t, err)
	assert.Equal(t, int64(3), got)

	_, err = ReadValue(m.Lookup("Secret"))
	assert.True(t, errors.Is(err, ErrNodeNotReadable))

	_, err = ReadValue(m.Lookup("Hidden"))
	assert.True(t, errors.Is(err, ErrNodeUnavailable))

	_, err = ReadValue(nil)
	assert.True(t, errors.Is(err, ErrNodeUnavailable))

	_, err = ReadValue(m.Lookup("DeviceInformation"))
	assert.True(t, errors.Is(err, ErrTypeMismatch))

	_, err = ReadFloat(m.Lookup("Width"))
	assert.True(t, errors.Is(err, ErrTypeMismatch))
}

func TestPredicatesAreNilSafe(t *testing.T) {
	assert.False(t, IsAvailable(nil))
	assert.False(t, IsReadable(nil))
	assert.False(t, IsWritable(nil))
	assert.False(t, IsEntryReadable(nil))

	hidden := NewNode(NodeSpec{Name: "h", Kind: KindInteger, Access: Access{Readable: true, Writable: true}})
	assert.False(t, IsReadable(hidden), "readable requires available")
	assert.False(t, IsWritable(hidden), "writable requires available")
}

func TestWriteHookVeto(t *testing.T) {
	m := newTestMap()
	veto := errors.New("device busy")
	m.SetWriteHook(func(n *Node, v Value) error {
		if n.Name() == "Gain" {
			return veto
		}
		return nil
	})

	err := WriteFloat(m.Lookup("Gain"), 3.5)
	require.Error(t, err)
	assert.True(t, errors.Is(err, veto))
	assert.Equal(t, FloatValue(0), m.Lookup("Gain").Raw())

	require.NoError(t, WriteInt(m.Lookup("Width"), 800))
}

func TestSetEnumByName(t *testing.T) {
	t.Run("writes the entry code to the enumeration", func(t *testing.T) {
		m := newTestMap()
		var writes []string
		var written []Value
		m.SetWriteHook(func(n *Node, v Value) error {
			writes = append(writes, n.Name())
			written = append(written, v)
			return nil
		})

		choice, err := SetEnumByName(m, "PixelFormat", "Mono16")
		require.NoError(t, err)
		assert.Equal(t, "Pixel Format", choice.Setting)
		assert.Equal(t, "Mono16", choice.Entry)
		assert.Equal(t, int64(17825799), choice.Code)
		assert.Equal(t, []string{"PixelFormat"}, writes)
		assert.Equal(t, []Value{EnumValue(17825799)}, written)

		name, err := ReadEnumName(m.Lookup("PixelFormat"))
		require.NoError(t, err)
		assert.Equal(t, "Mono16", name)
	})

	t.Run("unreadable entry on writable parent", func(t *testing.T) {
		m := newTestMap()
		_, err := SetEnumByName(m, "PixelFormat", "Mono12p")
		assert.True(t, errors.Is(err, ErrEntryUnavailable), "got %v", err)
		assert.Equal(t, EnumValue(17301505), m.Lookup("PixelFormat").Raw())
	})

	t.Run("unknown entry", func(t *testing.T) {
		_, err := SetEnumByName(newTestMap(), "PixelFormat", "RGB8")
		assert.True(t, errors.Is(err, ErrEntryUnavailable))
	})

	t.Run("missing setting", func(t *testing.T) {
		_, err := SetEnumByName(newTestMap(), "TriggerMode", "Off")
		assert.True(t, errors.Is(err, ErrSettingUnavailable))
	})

	t.Run("read only setting", func(t *testing.T) {
		m := newTestMap()
		m.Lookup("PixelFormat").SetAccess(AccessReadOnly)
		_, err := SetEnumByName(m, "PixelFormat", "Mono16")
		assert.True(t, errors.Is(err, ErrSettingUnavailable))
	})

	t.Run("non enumeration setting", func(t *testing.T) {
		_, err := SetEnumByName(newTestMap(), "Width", "Mono16")
		assert.True(t, errors.Is(err, ErrSettingUnavailable))
	})
}

func TestIntRange(t *testing.T) {
	m := newTestMap()
	lo, hi, ok, err := IntRange(m.Lookup("Width"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(16), lo)
	assert.Equal(t, int64(2048), hi)

	_, _, ok, err = IntRange(m.Lookup("Locked"))
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, _, err = IntRange(m.Lookup("Gain"))
	assert.True(t, errors.Is(err, ErrTypeMismatch))
}

func TestDescribeAndAvailableNames(t *testing.T) {
	m := newTestMap()

	features, err := Describe(m, "DeviceInformation")
	require.NoError(t, err)
	require.Len(t, features, 3)
	assert.Equal(t, Feature{Name: "Width", Value: "640", Readable: true}, features[0])
	assert.Equal(t, Feature{Name: "Secret"}, features[1])
	assert.Equal(t, Feature{Name: "PixelFormat", Value: "Mono8", Readable: true}, features[2])

	_, err = Describe(m, "Width")
	assert.True(t, errors.Is(err, ErrTypeMismatch))

	names := m.AvailableNames()
	assert.NotContains(t, names, "Hidden")
	assert.Contains(t, names, "Width")
	assert.Equal(t, 7, len(m.Names()))
}
