package node

import (
	"encoding/binary"

	"github.com/oda/bpindex/internal/dberr"
)

// Block layout (little endian, the memory image of a fixed-capacity node):
//
//	0               is_leaf (1 byte) + 3 bytes padding
//	4               count int32
//	8               entries [Order]: key [KeyCapacity]byte, 3 bytes padding, value int32
//	childrenOffset  children [Order+1]int32, unused slots -1
//	nextOffset      next_leaf int32, -1 when none
const (
	entrySize      = 72 // KeyCapacity rounded up to 4, plus the value
	valueOffset    = 68
	entriesOffset  = 8
	childrenOffset = entriesOffset + Order*entrySize
	nextOffset     = childrenOffset + (Order+1)*4

	// BlockSize is the encoded size of every node.
	BlockSize = nextOffset + 4
)

// Encode serializes n into a new BlockSize buffer.
func Encode(n *Node) ([]byte, error) {
	buf := make([]byte, BlockSize)
	if err := EncodeTo(buf, n); err != nil {
		return nil, err
	}
	return buf, nil
}

// EncodeTo serializes n into buf, which must be BlockSize bytes.
// Unused entry slots are zeroed and unused child slots hold None.
func EncodeTo(buf []byte, n *Node) error {
	if len(buf) != BlockSize {
		return dberr.Corrupt(-1, "block size mismatch: expected %d, got %d", BlockSize, len(buf))
	}
	count := len(n.Entries)
	if count > Order {
		return dberr.Corrupt(-1, "node holds %d entries (max %d)", count, Order)
	}
	if !n.Leaf && len(n.Children) != count+1 {
		return dberr.Corrupt(-1, "internal node has %d separators and %d children", count, len(n.Children))
	}

	clear(buf)
	if n.Leaf {
		buf[0] = 1
	}
	binary.LittleEndian.PutUint32(buf[4:8], uint32(int32(count)))

	for i, e := range n.Entries {
		off := entriesOffset + i*entrySize
		key := NormalizeKey(e.Key)
		copy(buf[off:off+MaxKeyLen], key)
		binary.LittleEndian.PutUint32(buf[off+valueOffset:], uint32(e.Value))
	}

	for i := 0; i <= Order; i++ {
		child := None
		if !n.Leaf && i <= count {
			child = n.Children[i]
		}
		binary.LittleEndian.PutUint32(buf[childrenOffset+i*4:], uint32(child))
	}

	next := None
	if n.Leaf {
		next = n.Next
	}
	binary.LittleEndian.PutUint32(buf[nextOffset:], uint32(next))
	return nil
}

// Decode deserializes a block. A block that was never written (all zeros)
// decodes to an empty leaf.
func Decode(buf []byte) (*Node, error) {
	if len(buf) != BlockSize {
		return nil, dberr.Corrupt(-1, "block size mismatch: expected %d, got %d", BlockSize, len(buf))
	}
	if isZero(buf) {
		return NewLeaf(), nil
	}

	var leaf bool
	switch buf[0] {
	case 0:
	case 1:
		leaf = true
	default:
		return nil, dberr.Corrupt(-1, "invalid leaf flag %d", buf[0])
	}

	count := int32(binary.LittleEndian.Uint32(buf[4:8]))
	if count < 0 || count > Order {
		return nil, dberr.Corrupt(-1, "count %d out of range [0, %d]", count, Order)
	}

	var n *Node
	if leaf {
		n = NewLeaf()
	} else {
		n = &Node{
			Entries:  make([]Entry, 0, Order),
			Children: make([]NodeID, 0, Order+1),
			Next:     None,
		}
	}

	for i := 0; i < int(count); i++ {
		off := entriesOffset + i*entrySize
		slot := buf[off : off+KeyCapacity]
		end := indexZero(slot)
		if end < 0 {
			return nil, dberr.Corrupt(-1, "key %d is not terminated", i)
		}
		n.Entries = append(n.Entries, Entry{
			Key:   string(slot[:end]),
			Value: int32(binary.LittleEndian.Uint32(buf[off+valueOffset:])),
		})
	}

	if leaf {
		n.Next = int32(binary.LittleEndian.Uint32(buf[nextOffset:]))
		if n.Next < None {
			return nil, dberr.Corrupt(-1, "invalid next leaf %d", n.Next)
		}
		return n, nil
	}

	for i := 0; i <= int(count); i++ {
		child := int32(binary.LittleEndian.Uint32(buf[childrenOffset+i*4:]))
		if child < 0 {
			return nil, dberr.Corrupt(-1, "child %d has invalid id %d", i, child)
		}
		n.Children = append(n.Children, child)
	}
	return n, nil
}

func isZero(buf []byte) bool {
	for _, b := range buf {
		if b != 0 {
			return false
		}
	}
	return true
}

func indexZero(b []byte) int {
	for i, c := range b {
		if c == 0 {
			return i
		}
	}
	return -1
}
