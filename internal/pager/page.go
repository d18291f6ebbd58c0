// Package pager manages node-granular storage of a B+Tree over a backing store.
package pager

import (
	"encoding/binary"

	"github.com/oda/bpindex/internal/node"
)

const (
	// HeaderSize is the serialized size of Header, stored at offset 0.
	HeaderSize = 8

	// BlockSize is the size of every node slot.
	BlockSize = node.BlockSize
)

// NodeID is the identifier for a node slot.
type NodeID = node.NodeID

// Header makes the store self-describing: where the root is and which id
// the next allocation gets. Ids are never reused.
type Header struct {
	Root   NodeID // Root node id
	NextID NodeID // Next free node id
}

// Serialize writes the header to a byte slice.
func (h *Header) Serialize(buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:4], uint32(h.Root))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(h.NextID))
}

// Deserialize reads the header from a byte slice.
func (h *Header) Deserialize(buf []byte) {
	h.Root = int32(binary.LittleEndian.Uint32(buf[0:4]))
	h.NextID = int32(binary.LittleEndian.Uint32(buf[4:8]))
}

// offset returns the byte offset of node id.
func offset(id NodeID) int64 {
	return HeaderSize + int64(id)*BlockSize
}
