package bptree

import (
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/oda/bpindex/internal/node"
)

// Insert adds the pair (key, value). Keys longer than MaxKeyLen are truncated.
// Inserting a pair that is already present changes nothing.
func (t *Tree) Insert(key string, value int32) error {
	e := t.normalize(key, value)

	found, err := t.contains(e)
	if err != nil {
		return err
	}
	if found {
		return nil
	}

	rootID := t.pager.Root()
	root, err := t.readNode(rootID)
	if err != nil {
		return err
	}

	// Grow the tree at the top so the descent never meets a full node.
	if root.IsFull() {
		newRootID := t.pager.Allocate()
		if err := t.writeNode(newRootID, node.NewInternal(rootID)); err != nil {
			return err
		}
		if err := t.split(newRootID, 0); err != nil {
			return err
		}
		t.pager.SetRoot(newRootID)
		rootID = newRootID
		t.log.Debug("root split", zap.Int32("root", newRootID))
	}

	if err := t.insertNonFull(rootID, e); err != nil {
		return err
	}
	return t.pager.WriteHeader()
}

// contains reports whether the exact pair e is stored.
func (t *Tree) contains(e Entry) (bool, error) {
	_, leaf, err := t.descend(e)
	if err != nil {
		return false, err
	}
	_, found := leaf.Search(e)
	return found, nil
}

// insertNonFull places e below id, which must not be full.
func (t *Tree) insertNonFull(id NodeID, e Entry) error {
	for {
		n, err := t.readNode(id)
		if err != nil {
			return err
		}

		if n.Leaf {
			i, _ := n.Search(e)
			n.InsertAt(i, e)
			return t.writeNode(id, n)
		}

		i := n.ChildIndex(e)
		child, err := t.readNode(n.Children[i])
		if err != nil {
			return err
		}
		if child.IsFull() {
			if err := t.split(id, i); err != nil {
				return err
			}
			// The split changed this node; pick the half that now covers e.
			if n, err = t.readNode(id); err != nil {
				return err
			}
			if !e.Less(n.Entries[i]) {
				i++
			}
		}
		id = n.Children[i]
	}
}

// split divides the full child at parent.Children[index] and links the new
// node in after it. Writes child, new node, then parent.
func (t *Tree) split(parentID NodeID, index int) error {
	parent, err := t.readNode(parentID)
	if err != nil {
		return err
	}
	if parent.IsFull() {
		return errors.Errorf("split of child %d under full node %d", index, parentID)
	}

	childID := parent.Children[index]
	child, err := t.readNode(childID)
	if err != nil {
		return err
	}

	newID := t.pager.Allocate()
	sep, sibling := child.Split()
	if child.Leaf {
		sibling.Next = child.Next
		child.Next = newID
	}
	parent.InsertChild(index, sep, newID)

	if err := t.writeNode(childID, child); err != nil {
		return err
	}
	if err := t.writeNode(newID, sibling); err != nil {
		return err
	}
	if err := t.writeNode(parentID, parent); err != nil {
		return err
	}

	t.log.Debug("node split",
		zap.Int32("node", childID),
		zap.Int32("sibling", newID),
		zap.Int32("parent", parentID),
		zap.Bool("leaf", child.Leaf),
		zap.String("separator", sep.Key))
	return nil
}
