package bptree

import (
	"math"

	"github.com/oda/bpindex/internal/node"
)

// lowest returns the smallest entry with the given key.
func lowest(key string) Entry {
	return Entry{Key: node.NormalizeKey(key), Value: math.MinInt32}
}

// Find returns every value stored under key in ascending order.
// A missing key yields an empty slice, not an error.
func (t *Tree) Find(key string) ([]int32, error) {
	probe := lowest(key)
	values := []int32{}

	id, leaf, err := t.descend(probe)
	if err != nil {
		return nil, err
	}
	err = t.walk(id, leaf, func(_ NodeID, n *node.Node) bool {
		i, _ := n.Search(probe)
		for ; i < n.Count(); i++ {
			if n.Entries[i].Key != probe.Key {
				return false
			}
			values = append(values, n.Entries[i].Value)
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	return values, nil
}

// Scan calls fn for each entry with start <= key <= end in ascending order.
// Iteration stops early if fn returns false.
func (t *Tree) Scan(start, end string, fn func(e Entry) bool) error {
	probe := lowest(start)
	end = node.NormalizeKey(end)
	if probe.Key > end {
		return nil
	}

	id, leaf, err := t.descend(probe)
	if err != nil {
		return err
	}
	return t.walk(id, leaf, func(_ NodeID, n *node.Node) bool {
		i, _ := n.Search(probe)
		for ; i < n.Count(); i++ {
			e := n.Entries[i]
			if e.Key > end || !fn(e) {
				return false
			}
		}
		return true
	})
}

// Count returns the number of entries. This is an O(n) walk of the leaf chain.
func (t *Tree) Count() (int, error) {
	id, leaf, err := t.leftmost()
	if err != nil {
		return 0, err
	}

	count := 0
	err = t.walk(id, leaf, func(_ NodeID, n *node.Node) bool {
		count += n.Count()
		return true
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}
