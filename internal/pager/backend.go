package pager

import (
	"io"
	"os"
	"sync"

	"github.com/pkg/errors"

	"github.com/oda/bpindex/internal/mmap"
)

// Backend is the flat byte store the pager lays the header and node slots on.
type Backend interface {
	io.ReaderAt
	io.WriterAt

	// Size returns the number of addressable bytes.
	Size() (int64, error)
	Sync() error
	Close() error
}

// FileBackend stores the index in a regular file using positional I/O.
type FileBackend struct {
	file *os.File
}

// OpenFile opens or creates the file at path.
func OpenFile(path string) (*FileBackend, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open index file %s", path)
	}
	return &FileBackend{file: f}, nil
}

func (b *FileBackend) ReadAt(p []byte, off int64) (int, error) {
	return b.file.ReadAt(p, off)
}

func (b *FileBackend) WriteAt(p []byte, off int64) (int, error) {
	return b.file.WriteAt(p, off)
}

func (b *FileBackend) Size() (int64, error) {
	info, err := b.file.Stat()
	if err != nil {
		return 0, errors.Wrap(err, "failed to stat index file")
	}
	return info.Size(), nil
}

func (b *FileBackend) Sync() error {
	return b.file.Sync()
}

func (b *FileBackend) Close() error {
	return b.file.Close()
}

// MmapBackend stores the index in a memory-mapped file. The file is
// pre-extended to mmap.InitialSize and doubles when a write runs past it.
type MmapBackend struct {
	m *mmap.MMap
}

// OpenMmapFile maps the file at path, creating it if needed.
func OpenMmapFile(path string) (*MmapBackend, error) {
	m, err := mmap.Open(path, mmap.InitialSize)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to map index file %s", path)
	}
	return &MmapBackend{m: m}, nil
}

func (b *MmapBackend) ReadAt(p []byte, off int64) (int, error) {
	return b.m.ReadAt(p, off)
}

func (b *MmapBackend) WriteAt(p []byte, off int64) (int, error) {
	return b.m.WriteAt(p, off)
}

func (b *MmapBackend) Size() (int64, error) {
	return b.m.Size(), nil
}

func (b *MmapBackend) Sync() error {
	return b.m.Sync()
}

func (b *MmapBackend) Close() error {
	return b.m.Close()
}

// MemoryBackend keeps the index in a growable byte slice.
type MemoryBackend struct {
	mu     sync.RWMutex
	data   []byte
	closed bool
}

// NewMemory returns an empty in-memory backend.
func NewMemory() *MemoryBackend {
	return &MemoryBackend{}
}

func (b *MemoryBackend) ReadAt(p []byte, off int64) (int, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return 0, errors.New("memory backend is closed")
	}
	if off < 0 {
		return 0, errors.Errorf("negative offset %d", off)
	}
	if off >= int64(len(b.data)) {
		return 0, io.EOF
	}
	n := copy(p, b.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (b *MemoryBackend) WriteAt(p []byte, off int64) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return 0, errors.New("memory backend is closed")
	}
	if off < 0 {
		return 0, errors.Errorf("negative offset %d", off)
	}
	if end := off + int64(len(p)); end > int64(len(b.data)) {
		if end <= int64(cap(b.data)) {
			b.data = b.data[:end]
		} else {
			grown := make([]byte, end, 2*end)
			copy(grown, b.data)
			b.data = grown
		}
	}
	return copy(b.data[off:], p), nil
}

func (b *MemoryBackend) Size() (int64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return int64(len(b.data)), nil
}

func (b *MemoryBackend) Sync() error {
	return nil
}

func (b *MemoryBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = nil
	b.closed = true
	return nil
}
