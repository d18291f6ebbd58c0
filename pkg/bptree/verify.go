package bptree

import (
	"github.com/oda/bpindex/internal/dberr"
	"github.com/oda/bpindex/internal/node"
)

// bound is an optional limit on the entries of a subtree.
type bound struct {
	e   Entry
	set bool
}

// verifier carries the state of one Verify walk.
type verifier struct {
	t         *Tree
	seen      map[NodeID]bool
	leaves    []NodeID
	leafDepth int
}

// Verify checks the structure of the whole tree and returns a CorruptionError
// for the first violation found:
//   - entries are strictly ascending in every node
//   - every entry lies within the separators above it
//   - all leaves are at the same depth
//   - no node is reachable twice
//   - the leaf chain visits exactly the leaves in key order and ends
//
// Empty leaves are allowed since deletes never merge.
func (t *Tree) Verify() error {
	v := &verifier{
		t:         t,
		seen:      make(map[NodeID]bool),
		leafDepth: -1,
	}
	if err := v.node(t.pager.Root(), 0, bound{}, bound{}); err != nil {
		return err
	}
	return v.chain()
}

func (v *verifier) node(id NodeID, depth int, lo, hi bound) error {
	if v.seen[id] {
		return dberr.Corrupt(id, "node reachable more than once")
	}
	v.seen[id] = true

	n, err := v.t.readNode(id)
	if err != nil {
		return err
	}

	for i, e := range n.Entries {
		if i > 0 && !n.Entries[i-1].Less(e) {
			return dberr.Corrupt(id, "entry %d %s not above %s", i, formatEntry(e), formatEntry(n.Entries[i-1]))
		}
		if lo.set && e.Less(lo.e) {
			return dberr.Corrupt(id, "entry %d %s below separator %s", i, formatEntry(e), formatEntry(lo.e))
		}
		if hi.set && !e.Less(hi.e) {
			return dberr.Corrupt(id, "entry %d %s not below separator %s", i, formatEntry(e), formatEntry(hi.e))
		}
	}

	if n.Leaf {
		if v.leafDepth < 0 {
			v.leafDepth = depth
		} else if depth != v.leafDepth {
			return dberr.Corrupt(id, "leaf at depth %d, expected %d", depth, v.leafDepth)
		}
		v.leaves = append(v.leaves, id)
		return nil
	}

	for i, child := range n.Children {
		clo, chi := lo, hi
		if i > 0 {
			clo = bound{e: n.Entries[i-1], set: true}
		}
		if i < n.Count() {
			chi = bound{e: n.Entries[i], set: true}
		}
		if err := v.node(child, depth+1, clo, chi); err != nil {
			return err
		}
	}
	return nil
}

// chain walks the leaf chain and compares it with the leaves found by the
// depth-first walk.
func (v *verifier) chain() error {
	id, leaf, err := v.t.leftmost()
	if err != nil {
		return err
	}

	var (
		pos  int
		last *Entry
		bad  error
	)
	err = v.t.walk(id, leaf, func(id NodeID, n *node.Node) bool {
		if pos >= len(v.leaves) {
			bad = dberr.Corrupt(id, "leaf chain continues past the last leaf")
			return false
		}
		if v.leaves[pos] != id {
			bad = dberr.Corrupt(id, "leaf chain position %d holds node %d, expected %d", pos, id, v.leaves[pos])
			return false
		}
		for i := range n.Entries {
			if last != nil && !last.Less(n.Entries[i]) {
				bad = dberr.Corrupt(id, "leaf chain out of order at %s", formatEntry(n.Entries[i]))
				return false
			}
			last = &n.Entries[i]
		}
		pos++
		return true
	})
	if err != nil {
		return err
	}
	if bad != nil {
		return bad
	}
	if pos != len(v.leaves) {
		return dberr.Corrupt(-1, "leaf chain ends after %d of %d leaves", pos, len(v.leaves))
	}
	return nil
}
