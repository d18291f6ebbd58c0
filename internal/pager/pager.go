package pager

import (
	"io"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/oda/bpindex/internal/dberr"
	"github.com/oda/bpindex/internal/node"
)

// Pager owns the backing store and the header. Every ReadNode goes to the
// backend, so a read always observes the latest WriteNode to the same id.
type Pager struct {
	backend Backend
	header  Header
	sync    bool
	closed  bool
	log     *zap.Logger
}

// Option configures a Pager.
type Option func(*Pager)

// WithSync makes every header write fsync the backend.
func WithSync(enabled bool) Option {
	return func(p *Pager) { p.sync = enabled }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Pager) {
		if l != nil {
			p.log = l
		}
	}
}

// Open opens or creates an index file using positional file I/O.
func Open(path string, opts ...Option) (*Pager, error) {
	b, err := OpenFile(path)
	if err != nil {
		return nil, dberr.IO("open", err)
	}
	return New(b, opts...)
}

// OpenMmap opens or creates an index file through a memory mapping.
func OpenMmap(path string, opts ...Option) (*Pager, error) {
	b, err := OpenMmapFile(path)
	if err != nil {
		return nil, dberr.IO("open", err)
	}
	return New(b, opts...)
}

// OpenMemory creates an index that lives only in memory.
func OpenMemory(opts ...Option) (*Pager, error) {
	return New(NewMemory(), opts...)
}

// New builds a Pager over b, bootstrapping an empty store.
// The pager takes ownership of b and closes it on failure.
func New(b Backend, opts ...Option) (*Pager, error) {
	p := &Pager{
		backend: b,
		log:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}

	if err := p.loadOrInitHeader(); err != nil {
		b.Close()
		return nil, err
	}
	return p, nil
}

// loadOrInitHeader loads the existing header or initializes a new store
// with an empty leaf root at id 0.
func (p *Pager) loadOrInitHeader() error {
	size, err := p.backend.Size()
	if err != nil {
		return dberr.IO("stat", err)
	}

	if size > 0 && size < HeaderSize {
		return dberr.Corrupt(-1, "truncated header: %d bytes", size)
	}

	if size >= HeaderSize {
		if err := p.ReadHeader(); err != nil {
			return err
		}
		// A zero header only appears on a pre-extended, never-written store.
		if p.header != (Header{}) {
			if p.header.NextID < 1 || p.header.Root < 0 || p.header.Root >= p.header.NextID {
				return dberr.Corrupt(-1, "invalid header: root %d, next id %d", p.header.Root, p.header.NextID)
			}
			p.log.Debug("opened index",
				zap.Int32("root", p.header.Root),
				zap.Int32("next_id", p.header.NextID))
			return nil
		}
	}

	p.header = Header{Root: 0, NextID: 1}
	if err := p.WriteNode(0, node.NewLeaf()); err != nil {
		return err
	}
	if err := p.WriteHeader(); err != nil {
		return err
	}
	p.log.Debug("initialized empty index")
	return nil
}

// ReadHeader reloads the header from offset 0.
func (p *Pager) ReadHeader() error {
	if p.closed {
		return dberr.ErrClosed
	}
	buf := make([]byte, HeaderSize)
	if _, err := p.backend.ReadAt(buf, 0); err != nil {
		if errors.Is(err, io.EOF) {
			return dberr.Corrupt(-1, "truncated header")
		}
		return dberr.IO("read header", err)
	}
	p.header.Deserialize(buf)
	return nil
}

// WriteHeader persists the header at offset 0. Mutating tree operations
// issue it as their last write.
func (p *Pager) WriteHeader() error {
	if p.closed {
		return dberr.ErrClosed
	}
	buf := make([]byte, HeaderSize)
	p.header.Serialize(buf)
	if _, err := p.backend.WriteAt(buf, 0); err != nil {
		return dberr.IO("write header", err)
	}
	if p.sync {
		if err := p.backend.Sync(); err != nil {
			return dberr.IO("sync", err)
		}
	}
	return nil
}

// ReadNode decodes the node stored at id.
func (p *Pager) ReadNode(id NodeID) (*node.Node, error) {
	if p.closed {
		return nil, dberr.ErrClosed
	}
	if id < 0 || id >= p.header.NextID {
		return nil, dberr.Corrupt(id, "node id %d out of allocated range [0, %d)", id, p.header.NextID)
	}

	buf := make([]byte, BlockSize)
	n, err := p.backend.ReadAt(buf, offset(id))
	if err != nil && !(errors.Is(err, io.EOF) && n == len(buf)) {
		if errors.Is(err, io.EOF) {
			return nil, dberr.Corrupt(id, "short read: %d of %d bytes", n, BlockSize)
		}
		return nil, dberr.IO("read node", err)
	}

	nd, err := node.Decode(buf)
	if err != nil {
		var ce *dberr.CorruptionError
		if errors.As(err, &ce) {
			ce.ID = id
		}
		return nil, err
	}
	return nd, nil
}

// WriteNode encodes n into the slot of id, extending the store if needed.
func (p *Pager) WriteNode(id NodeID, n *node.Node) error {
	if p.closed {
		return dberr.ErrClosed
	}
	if id < 0 {
		return dberr.Corrupt(id, "negative node id %d", id)
	}

	buf, err := node.Encode(n)
	if err != nil {
		var ce *dberr.CorruptionError
		if errors.As(err, &ce) {
			ce.ID = id
		}
		return err
	}
	if _, err := p.backend.WriteAt(buf, offset(id)); err != nil {
		return dberr.IO("write node", err)
	}
	return nil
}

// Allocate returns the next free id. It does not write the node; the caller
// must WriteNode the id before anything else reads it.
func (p *Pager) Allocate() NodeID {
	id := p.header.NextID
	p.header.NextID++
	return id
}

// Header returns a copy of the in-memory header.
func (p *Pager) Header() Header {
	return p.header
}

// Root returns the root node id.
func (p *Pager) Root() NodeID {
	return p.header.Root
}

// SetRoot changes the root node id. It takes effect on disk with the next
// WriteHeader.
func (p *Pager) SetRoot(id NodeID) {
	p.header.Root = id
}

// NextID returns the id the next Allocate will hand out.
func (p *Pager) NextID() NodeID {
	return p.header.NextID
}

// Sync flushes the backend to stable storage.
func (p *Pager) Sync() error {
	if p.closed {
		return dberr.ErrClosed
	}
	if err := p.backend.Sync(); err != nil {
		return dberr.IO("sync", err)
	}
	return nil
}

// Close flushes the header, syncs and closes the backend.
func (p *Pager) Close() error {
	if p.closed {
		return nil
	}

	err := p.WriteHeader()
	if err == nil {
		err = p.Sync()
	}
	p.closed = true
	if cerr := p.backend.Close(); cerr != nil && err == nil {
		err = dberr.IO("close", cerr)
	}
	p.log.Debug("closed index", zap.Int32("root", p.header.Root), zap.Int32("next_id", p.header.NextID))
	return err
}
