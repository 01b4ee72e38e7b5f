// Package nodemap models a device's GenICam-style feature tree: named nodes
// with a declared kind, availability/readability/writability flags and a
// type-tagged value. Every read and write goes through the gated accessors in
// access.go; drivers mutate nodes directly with Node.Set.
package nodemap

import (
	"sort"
	"sync"

	"github.com/pkg/errors"
)

// Feature-tree access errors.
var (
	ErrNodeUnavailable = errors.New("node unavailable")
	ErrNodeNotReadable = errors.New("node not readable")
	ErrNodeNotWritable = errors.New("node not writable")
	ErrTypeMismatch    = errors.New("node type mismatch")
	ErrOutOfRange      = errors.New("value out of range")

	ErrSettingUnavailable = errors.New("setting unavailable")
	ErrEntryUnavailable   = errors.New("entry unavailable")
)

// Access holds the permission metadata of a node or enumeration entry.
type Access struct {
	Available bool
	Readable  bool
	Writable  bool
}

// Common access combinations.
var (
	AccessReadWrite = Access{Available: true, Readable: true, Writable: true}
	AccessReadOnly  = Access{Available: true, Readable: true}
	AccessNone      = Access{}
)

// EnumEntry is one symbolic option of an enumeration node. Entries are
// read-only: their code is written to the parent, never to the entry.
type EnumEntry struct {
	Name        string
	DisplayName string
	Code        int64
	Available   bool
	Readable    bool
}

// Label returns the display name, falling back to Name.
func (e *EnumEntry) Label() string {
	if e == nil {
		return ""
	}
	if e.DisplayName != "" {
		return e.DisplayName
	}
	return e.Name
}

// Node is a single feature of a device.
type Node struct {
	mu sync.RWMutex

	name        string
	displayName string
	kind        Kind
	access      Access
	value       Value

	// Integer/Float bounds; nil means unbounded.
	min, max *Value

	entries  []*EnumEntry
	features []string

	owner *NodeMap
}

// NodeSpec describes a node for NewNode.
type NodeSpec struct {
	Name        string
	DisplayName string
	Kind        Kind
	Access      Access
	Value       Value
	Min, Max    *Value
	Entries     []EnumEntry
	Features    []string
}

// NewNode builds a detached node; add it to a NodeMap before use.
func NewNode(spec NodeSpec) *Node {
	n := &Node{
		name:        spec.Name,
		displayName: spec.DisplayName,
		kind:        spec.Kind,
		access:      spec.Access,
		value:       spec.Value,
		min:         spec.Min,
		max:         spec.Max,
		features:    append([]string(nil), spec.Features...),
	}
	for i := range spec.Entries {
		entry := spec.Entries[i]
		n.entries = append(n.entries, &entry)
	}
	return n
}

// Name returns the node name.
func (n *Node) Name() string {
	if n == nil {
		return ""
	}
	return n.name
}

// DisplayName returns the human-readable name, falling back to Name.
func (n *Node) DisplayName() string {
	if n == nil {
		return ""
	}
	if n.displayName != "" {
		return n.displayName
	}
	return n.name
}

// Kind returns the declared node type.
func (n *Node) Kind() Kind {
	if n == nil {
		return KindUnknown
	}
	return n.kind
}

// Access returns a snapshot of the node's permission flags.
func (n *Node) Access() Access {
	if n == nil {
		return AccessNone
	}
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.access
}

// SetAccess changes the permission flags. Drivers use it to lock features,
// e.g. while acquisition is running.
func (n *Node) SetAccess(a Access) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.access = a
}

// Set stores v without gating. Driver side only.
func (n *Node) Set(v Value) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.value = v
}

// Raw returns the stored value without gating. Driver side only.
func (n *Node) Raw() Value {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.value
}

// Bounds returns the node's min and max, if declared.
func (n *Node) Bounds() (min, max *Value) {
	if n == nil {
		return nil, nil
	}
	return n.min, n.max
}

// Entries returns the enumeration entries in declaration order.
func (n *Node) Entries() []*EnumEntry {
	if n == nil {
		return nil
	}
	return n.entries
}

// EntryByName looks up an enumeration entry by its symbolic name.
func (n *Node) EntryByName(name string) *EnumEntry {
	if n == nil {
		return nil
	}
	for _, e := range n.entries {
		if e.Name == name {
			return e
		}
	}
	return nil
}

// EntryByCode looks up an enumeration entry by its integer code.
func (n *Node) EntryByCode(code int64) *EnumEntry {
	if n == nil {
		return nil
	}
	for _, e := range n.entries {
		if e.Code == code {
			return e
		}
	}
	return nil
}

// Features returns the child feature names of a category node.
func (n *Node) Features() []string {
	if n == nil {
		return nil
	}
	return n.features
}

// WriteHook lets a driver veto a gated write before it is stored. The hook
// runs after permission and type checks.
type WriteHook func(n *Node, v Value) error

// NodeMap is a device's feature tree, addressed by node name.
type NodeMap struct {
	mu    sync.RWMutex
	nodes map[string]*Node
	order []string
	hook  WriteHook
}

// New returns an empty node map.
func New() *NodeMap {
	return &NodeMap{nodes: make(map[string]*Node)}
}

// Add registers nodes, replacing any node with the same name.
func (m *NodeMap) Add(nodes ...*Node) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, n := range nodes {
		if n == nil {
			continue
		}
		if _, exists := m.nodes[n.name]; !exists {
			m.order = append(m.order, n.name)
		}
		n.owner = m
		m.nodes[n.name] = n
	}
}

// SetWriteHook installs the driver's write hook.
func (m *NodeMap) SetWriteHook(hook WriteHook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hook = hook
}

// Node resolves a node by name. A missing node is reported as unavailable:
// the feature does not exist on this device or firmware revision.
func (m *NodeMap) Node(name string) (*Node, error) {
	if m == nil {
		return nil, errors.Wrapf(ErrNodeUnavailable, "node %s: nil node map", name)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.nodes[name]
	if !ok {
		return nil, errors.Wrapf(ErrNodeUnavailable, "node %s not found", name)
	}
	return n, nil
}

// Lookup is Node without the error, for callers that gate with IsAvailable.
func (m *NodeMap) Lookup(name string) *Node {
	n, _ := m.Node(name)
	return n
}

// Names returns every node name in registration order.
func (m *NodeMap) Names() []string {
	if m == nil {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.order...)
}

// AvailableNames returns the sorted names of nodes that are available.
func (m *NodeMap) AvailableNames() []string {
	if m == nil {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.nodes))
	for name, n := range m.nodes {
		if IsAvailable(n) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

func (m *NodeMap) writeHook() WriteHook {
	if m == nil {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.hook
}
