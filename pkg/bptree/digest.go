package bptree

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"

	"github.com/oda/bpindex/internal/node"
)

// Digest returns an xxhash64 of the ordered entry stream. Trees holding the
// same pairs share a digest regardless of their shape or backend.
func (t *Tree) Digest() (uint64, error) {
	id, leaf, err := t.leftmost()
	if err != nil {
		return 0, err
	}

	d := xxhash.New()
	var buf [5]byte
	err = t.walk(id, leaf, func(_ NodeID, n *node.Node) bool {
		for _, e := range n.Entries {
			d.WriteString(e.Key)
			// NUL ends the key; keys never contain one.
			buf[0] = 0
			binary.LittleEndian.PutUint32(buf[1:], uint32(e.Value))
			d.Write(buf[:])
		}
		return true
	})
	if err != nil {
		return 0, err
	}
	return d.Sum64(), nil
}
