// Package bptree provides a disk-resident B+Tree multimap.
//
// The tree maps string keys of at most 64 bytes to int32 values. A key may
// hold any number of distinct values; each (key, value) pair is one entry.
// Every node lives in a fixed-size block of the backing store and is read and
// written through the pager on each access, so the tree is bounded by disk,
// not memory.
//
// Example:
//
//	tree, err := bptree.Open("data.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tree.Close()
//
//	tree.Insert("x", 5)
//	tree.Insert("x", 3)
//
//	values, _ := tree.Find("x")
//	fmt.Println(values) // [3 5]
//
// A Tree is not safe for concurrent use.
package bptree

import (
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/oda/bpindex/internal/dberr"
	"github.com/oda/bpindex/internal/node"
	"github.com/oda/bpindex/internal/pager"
)

// Order is the maximum number of entries per node.
const Order = node.Order

// MaxKeyLen is the longest key stored; longer keys are truncated.
const MaxKeyLen = node.MaxKeyLen

// Entry is one (key, value) pair.
type Entry = node.Entry

// NodeID addresses a node in the backing store.
type NodeID = node.NodeID

// Error classes. Use errors.Is to test for them.
var (
	ErrIO      = dberr.ErrIO
	ErrCorrupt = dberr.ErrCorrupt
	ErrClosed  = dberr.ErrClosed
)

type (
	IOError         = dberr.IOError
	CorruptionError = dberr.CorruptionError
)

// Backend selects how the index file is accessed.
type Backend string

const (
	BackendFile   Backend = "file"
	BackendMmap   Backend = "mmap"
	BackendMemory Backend = "memory"
)

type options struct {
	backend Backend
	sync    bool
	log     *zap.Logger
}

// Option configures Open.
type Option func(*options)

// WithBackend selects the storage backend. The default is BackendFile.
func WithBackend(b Backend) Option {
	return func(o *options) { o.backend = b }
}

// WithSync makes every mutating operation fsync after its header write.
func WithSync(enabled bool) Option {
	return func(o *options) { o.sync = enabled }
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

// Tree is a B+Tree over a pager. It keeps no node state of its own.
type Tree struct {
	pager   *pager.Pager
	path    string
	backend Backend
	log     *zap.Logger
}

// Open opens or creates the index at path. A missing or empty store is
// bootstrapped with an empty leaf as root. The path is ignored by BackendMemory.
func Open(path string, opts ...Option) (*Tree, error) {
	o := options{
		backend: BackendFile,
		log:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	popts := []pager.Option{pager.WithSync(o.sync), pager.WithLogger(o.log)}

	var (
		p   *pager.Pager
		err error
	)
	switch o.backend {
	case BackendFile:
		p, err = pager.Open(path, popts...)
	case BackendMmap:
		p, err = pager.OpenMmap(path, popts...)
	case BackendMemory:
		p, err = pager.OpenMemory(popts...)
	default:
		return nil, errors.Errorf("unknown backend %q", o.backend)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open index %s", path)
	}

	return &Tree{
		pager:   p,
		path:    path,
		backend: o.backend,
		log:     o.log,
	}, nil
}

// Path returns the path the tree was opened with.
func (t *Tree) Path() string {
	return t.path
}

// Backend returns the storage backend in use.
func (t *Tree) Backend() Backend {
	return t.backend
}

// Sync flushes all changes to stable storage.
func (t *Tree) Sync() error {
	return t.pager.Sync()
}

// Close writes the header, syncs and closes the backing store.
func (t *Tree) Close() error {
	return t.pager.Close()
}

// normalize builds the stored form of (key, value) and warns when the key
// was cut.
func (t *Tree) normalize(key string, value int32) Entry {
	e := node.NewEntry(key, value)
	if len(e.Key) != len(key) {
		t.log.Warn("key truncated",
			zap.Int("length", len(key)),
			zap.String("stored", e.Key))
	}
	return e
}

func (t *Tree) readNode(id NodeID) (*node.Node, error) {
	n, err := t.pager.ReadNode(id)
	if err != nil {
		return nil, errors.Wrapf(err, "read node %d", id)
	}
	return n, nil
}

func (t *Tree) writeNode(id NodeID, n *node.Node) error {
	if err := t.pager.WriteNode(id, n); err != nil {
		return errors.Wrapf(err, "write node %d", id)
	}
	return nil
}

// descend walks from the root to the leaf whose key range holds probe.
func (t *Tree) descend(probe Entry) (NodeID, *node.Node, error) {
	id := t.pager.Root()
	limit := t.pager.NextID()
	for depth := NodeID(0); ; depth++ {
		if depth > limit {
			return 0, nil, dberr.Corrupt(id, "descent exceeds %d levels", limit)
		}
		n, err := t.readNode(id)
		if err != nil {
			return 0, nil, err
		}
		if n.Leaf {
			return id, n, nil
		}
		id = n.Children[n.ChildIndex(probe)]
	}
}

// leftmost returns the first leaf of the chain.
func (t *Tree) leftmost() (NodeID, *node.Node, error) {
	id := t.pager.Root()
	limit := t.pager.NextID()
	for depth := NodeID(0); ; depth++ {
		if depth > limit {
			return 0, nil, dberr.Corrupt(id, "descent exceeds %d levels", limit)
		}
		n, err := t.readNode(id)
		if err != nil {
			return 0, nil, err
		}
		if n.Leaf {
			return id, n, nil
		}
		id = n.Children[0]
	}
}

// walk visits leaves along the chain starting at (id, n) until fn returns
// false or the chain ends.
func (t *Tree) walk(id NodeID, n *node.Node, fn func(id NodeID, n *node.Node) bool) error {
	limit := t.pager.NextID()
	for steps := NodeID(0); ; steps++ {
		if steps > limit {
			return dberr.Corrupt(id, "leaf chain longer than %d nodes", limit)
		}
		if !fn(id, n) || n.Next == node.None {
			return nil
		}
		next := n.Next
		var err error
		if n, err = t.readNode(next); err != nil {
			return err
		}
		if !n.Leaf {
			return dberr.Corrupt(next, "leaf chain reaches an internal node")
		}
		id = next
	}
}
