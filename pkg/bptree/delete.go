package bptree

import (
	"go.uber.org/zap"
)

// Delete removes the pair (key, value) and reports whether it was present.
//
// Only the leaf changes: nodes are never merged or rebalanced, so a leaf may
// become empty and stays linked in the chain.
func (t *Tree) Delete(key string, value int32) (bool, error) {
	e := t.normalize(key, value)

	id, leaf, err := t.descend(e)
	if err != nil {
		return false, err
	}

	i, found := leaf.Search(e)
	if !found {
		return false, nil
	}

	leaf.RemoveAt(i)
	if err := t.writeNode(id, leaf); err != nil {
		return false, err
	}
	if leaf.Count() == 0 {
		t.log.Debug("leaf emptied", zap.Int32("node", id))
	}
	if err := t.pager.WriteHeader(); err != nil {
		return false, err
	}
	return true, nil
}
