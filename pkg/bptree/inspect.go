package bptree

import (
	"fmt"
	"io"

	"github.com/pkg/errors"

	"github.com/oda/bpindex/internal/dberr"
	"github.com/oda/bpindex/internal/node"
)

// Stats describes the shape of the tree.
type Stats struct {
	Root          NodeID  `json:"root"`
	Height        int     `json:"height"` // Levels from root to leaves, 1 for a lone leaf.
	Nodes         int     `json:"nodes"`  // Reachable from the root.
	InternalNodes int     `json:"internalNodes"`
	Leaves        int     `json:"leaves"`
	EmptyLeaves   int     `json:"emptyLeaves"` // Leaves emptied by deletes.
	Entries       int     `json:"entries"`
	Allocated     int     `json:"allocated"` // Ids handed out, reachable or not.
	Occupancy     float64 `json:"occupancy"` // Entries per leaf slot.
}

// Stats walks the tree level by level and returns its shape.
func (t *Tree) Stats() (Stats, error) {
	st := Stats{
		Root:      t.pager.Root(),
		Allocated: int(t.pager.NextID()),
	}

	err := t.levels(func(_ int, _ NodeID, n *node.Node) {
		st.Nodes++
		if !n.Leaf {
			st.InternalNodes++
			return
		}
		st.Leaves++
		st.Entries += n.Count()
		if n.Count() == 0 {
			st.EmptyLeaves++
		}
	}, func(level int) {
		st.Height = level + 1
	})
	if err != nil {
		return Stats{}, err
	}

	if st.Leaves > 0 {
		st.Occupancy = float64(st.Entries) / float64(st.Leaves*Order)
	}
	return st, nil
}

// Dump writes a human-readable dump of the header and every node, breadth first.
func (t *Tree) Dump(w io.Writer) error {
	var werr error
	p := func(format string, args ...interface{}) {
		if werr == nil {
			_, werr = fmt.Fprintf(w, format, args...)
		}
	}

	h := t.pager.Header()
	p("Index: %s (%s)\n", t.path, t.backend)
	p("  Header: root = %d, next id = %d\n", h.Root, h.NextID)
	p("\n  Nodes (BFS):\n")
	p("  ---\n")

	err := t.levels(func(_ int, id NodeID, n *node.Node) {
		if !n.Leaf {
			keys := make([]string, n.Count())
			for i, e := range n.Entries {
				keys[i] = formatEntry(e)
			}
			p("    [node %d] INTERNAL keys=%v children=%v\n", id, keys, n.Children)
			return
		}
		p("    [node %d] LEAF count=%d next=%d\n", id, n.Count(), n.Next)
		for _, e := range n.Entries {
			p("      %s\n", formatEntry(e))
		}
	}, func(level int) {
		p("  Level %d done\n", level)
		p("  ---\n")
	})
	if err != nil {
		return err
	}
	return errors.Wrap(werr, "write dump")
}

// levels visits reachable nodes breadth first, calling visit for every node
// and done after each level.
func (t *Tree) levels(visit func(level int, id NodeID, n *node.Node), done func(level int)) error {
	limit := int(t.pager.NextID())
	queue := []NodeID{t.pager.Root()}
	seen := 0

	for level := 0; len(queue) > 0; level++ {
		size := len(queue)
		for _, id := range queue[:size] {
			if seen++; seen > limit {
				return dberr.Corrupt(id, "more nodes reachable than allocated")
			}
			n, err := t.readNode(id)
			if err != nil {
				return err
			}
			visit(level, id, n)
			if !n.Leaf {
				queue = append(queue, n.Children...)
			}
		}
		done(level)
		queue = queue[size:]
	}
	return nil
}

func formatEntry(e Entry) string {
	return fmt.Sprintf("%q:%d", e.Key, e.Value)
}
