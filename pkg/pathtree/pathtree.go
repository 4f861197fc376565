// Package pathtree implements the Path Node Tree (spec.md §3, §4.2): the
// in-memory prefix tree over the composed filesystem that the Composition
// Engine builds and the Mount Emitter consumes.
package pathtree

import (
	"fmt"
	"strings"
)

// EntryType mirrors the three filesystem entry kinds the tree can hold.
type EntryType int

const (
	Directory EntryType = iota
	Regular
	Symlink
)

// Status is a bitset, not a tagged variant, precisely so a parent can gain
// Skel without losing a Module it already carries when a later sibling
// promotes it (spec.md §9 "Precedence bitset vs. enum"). Precedence order,
// highest first: Module, Skel, Inter, Dummy - numerically highest wins,
// matching the original node_entry status encoding.
type Status uint8

const (
	Dummy  Status = 1 << 0
	Inter  Status = 1 << 1
	Skel   Status = 1 << 2
	Module Status = 1 << 3
)

// Has reports whether bit is set in s.
func (s Status) Has(bit Status) bool { return s&bit != 0 }

// String renders the set bits for logs, highest precedence first.
func (s Status) String() string {
	var parts []string
	if s.Has(Module) {
		parts = append(parts, "MODULE")
	}
	if s.Has(Skel) {
		parts = append(parts, "SKEL")
	}
	if s.Has(Inter) {
		parts = append(parts, "INTER")
	}
	if s.Has(Dummy) {
		parts = append(parts, "DUMMY")
	}
	if len(parts) == 0 {
		return "NONE"
	}
	return strings.Join(parts, "|")
}

// Node is one filesystem entry at a concrete absolute path (spec.md §3).
type Node struct {
	Name        string
	Type        EntryType
	Status      Status
	OwnerModule string // meaningful only when Status has Module

	// Extracted marks a placeholder left behind by Extract: it carries no
	// status and the Mount Emitter must never descend into it (spec.md
	// §4.2, §4.4).
	Extracted bool

	Parent   *Node // non-owning back-reference, absent for the root
	children []*Node
	byName   map[string]*Node
}

// New constructs a node with the given name/status/type. Status may be
// zero; composition mutates it before or during Insert.
func New(name string, status Status, typ EntryType) *Node {
	return &Node{Name: name, Status: status, Type: typ, byName: map[string]*Node{}}
}

// NewRoot constructs the tree root (spec.md §3 "the tree root, initially
// representing /system").
func NewRoot(name string, status Status) *Node {
	return New(name, status, Directory)
}

// Children returns the node's children in insertion order.
func (n *Node) Children() []*Node { return n.children }

// Child looks up a direct child by name.
func (n *Node) Child(name string) (*Node, bool) {
	c, ok := n.byName[name]
	return c, ok
}

// Path reconstructs the node's absolute path by walking ancestors
// (spec.md §3 invariant: "a node's absolute path equals the concatenation
// of its ancestors' names").
func (n *Node) Path() string {
	if n.Parent == nil {
		return "/" + strings.TrimPrefix(n.Name, "/")
	}
	parent := n.Parent.Path()
	if parent == "/" {
		return "/" + n.Name
	}
	return parent + "/" + n.Name
}

// Insert applies precedence resolution on name collision and returns the
// effective child (spec.md §4.2). If child's status has strictly higher
// precedence than an existing same-named child, the existing subtree is
// discarded and replaced. At equal MODULE status a child owned by a
// different module also replaces the existing one, so the module inserted
// last wins. Otherwise child is discarded and the existing node is
// returned unchanged. Re-inserting the exact same module/status at the
// same name is idempotent: the existing node survives either way
// (spec.md §8 invariant 1).
func (n *Node) Insert(child *Node) *Node {
	if existing, ok := n.byName[child.Name]; ok {
		laterModule := child.Status == existing.Status && child.Status.Has(Module) &&
			child.OwnerModule != existing.OwnerModule
		if child.Status > existing.Status || laterModule {
			child.Parent = n
			n.byName[child.Name] = child
			for i, c := range n.children {
				if c.Name == child.Name {
					n.children[i] = child
					break
				}
			}
			return child
		}
		return existing
	}
	child.Parent = n
	n.byName[child.Name] = child
	n.children = append(n.children, child)
	return child
}

// Extract removes the direct child named name and returns the detached
// subtree, leaving a placeholder in its place so later mount passes don't
// re-enter it (spec.md §4.2, used for vendor re-rooting in §4.4).
func (n *Node) Extract(name string) *Node {
	idx := -1
	for i, c := range n.children {
		if c.Name == name {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil
	}
	extracted := n.children[idx]
	placeholder := New(name, 0, extracted.Type)
	placeholder.Extracted = true
	placeholder.Parent = n
	n.children[idx] = placeholder
	n.byName[name] = placeholder
	extracted.Parent = nil
	return extracted
}

// Validate checks the invariants of spec.md §3 that aren't structurally
// enforced by the type: non-empty status, OwnerModule set iff Module is
// set, unique sibling names.
func (n *Node) Validate() error {
	if n.Extracted {
		return nil
	}
	if n.Status == 0 {
		return fmt.Errorf("node %q has empty status", n.Path())
	}
	if n.Status.Has(Module) && n.OwnerModule == "" {
		return fmt.Errorf("node %q has MODULE status but no owner module", n.Path())
	}
	seen := map[string]bool{}
	for _, c := range n.children {
		if seen[c.Name] {
			return fmt.Errorf("node %q has duplicate child %q", n.Path(), c.Name)
		}
		seen[c.Name] = true
		if err := c.Validate(); err != nil {
			return err
		}
	}
	return nil
}
