// Package node provides B+Tree nodes and their fixed-size block encoding.
package node

import (
	"sort"
	"strings"
)

const (
	// Order is the maximum number of entries a node holds before it must split.
	// Must be even: a split keeps Order/2 entries on each side.
	Order = 100

	// KeyCapacity is the width of a key slot, including the NUL terminator.
	KeyCapacity = 65

	// MaxKeyLen is the longest key that survives encoding.
	MaxKeyLen = KeyCapacity - 1
)

// NodeID addresses a node slot in the page store.
type NodeID = int32

// None marks an absent node reference (end of the leaf chain, unused child slot).
const None NodeID = -1

// Entry is one (key, value) pair of the multimap.
type Entry struct {
	Key   string
	Value int32
}

// NewEntry builds an entry, cutting the key at the first NUL byte and at MaxKeyLen.
func NewEntry(key string, value int32) Entry {
	return Entry{Key: NormalizeKey(key), Value: value}
}

// NormalizeKey returns key as it will be stored on disk.
func NormalizeKey(key string) string {
	if i := strings.IndexByte(key, 0); i >= 0 {
		key = key[:i]
	}
	if len(key) > MaxKeyLen {
		key = key[:MaxKeyLen]
	}
	return key
}

// Compare orders entries by key bytes, then by value.
func (e Entry) Compare(o Entry) int {
	if c := strings.Compare(e.Key, o.Key); c != 0 {
		return c
	}
	switch {
	case e.Value < o.Value:
		return -1
	case e.Value > o.Value:
		return 1
	}
	return 0
}

// Less reports whether e sorts before o.
func (e Entry) Less(o Entry) bool {
	return e.Compare(o) < 0
}

// Node is the in-memory form of one tree node.
//
// For internal nodes len(Children) == len(Entries)+1 and Children[i] holds the
// entries below Entries[i]. Leaves keep Children nil and link forward through Next.
type Node struct {
	Leaf     bool
	Entries  []Entry
	Children []NodeID
	Next     NodeID
}

// NewLeaf returns an empty leaf that ends the chain.
func NewLeaf() *Node {
	return &Node{
		Leaf:    true,
		Entries: make([]Entry, 0, Order),
		Next:    None,
	}
}

// NewInternal returns an internal node with a single child and no separators.
func NewInternal(child NodeID) *Node {
	children := make([]NodeID, 1, Order+1)
	children[0] = child
	return &Node{
		Entries:  make([]Entry, 0, Order),
		Children: children,
		Next:     None,
	}
}

// Count returns the number of entries (leaf) or separators (internal).
func (n *Node) Count() int {
	return len(n.Entries)
}

// IsFull returns true if the node must split before it can take another entry.
func (n *Node) IsFull() bool {
	return len(n.Entries) >= Order
}

// Search finds e using binary search.
// Returns (index, found). If not found, index is where it should be inserted.
func (n *Node) Search(e Entry) (int, bool) {
	idx := sort.Search(len(n.Entries), func(i int) bool {
		return n.Entries[i].Compare(e) >= 0
	})
	if idx < len(n.Entries) && n.Entries[idx].Compare(e) == 0 {
		return idx, true
	}
	return idx, false
}

// ChildIndex returns the index of the child to descend into for e:
// the first separator strictly greater than e, so equal entries go right.
func (n *Node) ChildIndex(e Entry) int {
	return sort.Search(len(n.Entries), func(i int) bool {
		return e.Less(n.Entries[i])
	})
}

// InsertAt puts e at position i, shifting later entries right.
func (n *Node) InsertAt(i int, e Entry) {
	n.Entries = append(n.Entries, Entry{})
	copy(n.Entries[i+1:], n.Entries[i:])
	n.Entries[i] = e
}

// RemoveAt deletes the entry at position i, shifting later entries left.
func (n *Node) RemoveAt(i int) {
	copy(n.Entries[i:], n.Entries[i+1:])
	n.Entries = n.Entries[:len(n.Entries)-1]
}

// InsertChild puts separator sep at position i and child at position i+1.
func (n *Node) InsertChild(i int, sep Entry, child NodeID) {
	n.InsertAt(i, sep)
	n.Children = append(n.Children, 0)
	copy(n.Children[i+2:], n.Children[i+1:])
	n.Children[i+1] = child
}

// Split moves the upper half of a full node into a new node and returns it
// together with the separator the parent must hold between the two.
//
// A leaf keeps Entries[:Order/2] and the new leaf starts with the separator.
// An internal node keeps Entries[:Order/2], pushes Entries[Order/2] up and hands
// the remaining separators with their children to the new node, so no child
// ends up referenced by both halves. The caller links the leaf chain.
func (n *Node) Split() (Entry, *Node) {
	mid := len(n.Entries) / 2

	if n.Leaf {
		right := NewLeaf()
		right.Entries = append(right.Entries, n.Entries[mid:]...)
		n.Entries = n.Entries[:mid]
		return right.Entries[0], right
	}

	sep := n.Entries[mid]
	right := &Node{
		Entries:  make([]Entry, 0, Order),
		Children: make([]NodeID, 0, Order+1),
		Next:     None,
	}
	right.Entries = append(right.Entries, n.Entries[mid+1:]...)
	right.Children = append(right.Children, n.Children[mid+1:]...)
	n.Entries = n.Entries[:mid]
	n.Children = n.Children[:mid+1]
	return sep, right
}
