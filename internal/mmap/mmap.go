// Package mmap provides memory-mapped file I/O.
package mmap

import (
	"io"
	"os"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

const (
	// InitialSize is the mapped size of a new or small file (1MB).
	InitialSize = 1024 * 1024

	// GrowthFactor determines how much to grow the file when expanding.
	GrowthFactor = 2
)

// MMap represents a memory-mapped file.
type MMap struct {
	file *os.File
	data []byte
	size int64
}

// Open opens or creates a file and maps it into memory.
// If the file is smaller than size, it is extended with zeros first.
func Open(path string, size int64) (*MMap, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open file")
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, errors.Wrap(err, "failed to stat file")
	}

	currentSize := info.Size()
	if currentSize < size {
		if err := file.Truncate(size); err != nil {
			file.Close()
			return nil, errors.Wrap(err, "failed to extend file")
		}
		currentSize = size
	}

	data, err := unix.Mmap(int(file.Fd()), 0, int(currentSize),
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		file.Close()
		return nil, errors.Wrap(err, "failed to mmap")
	}

	return &MMap{
		file: file,
		data: data,
		size: currentSize,
	}, nil
}

// Close unmaps and closes the file.
func (m *MMap) Close() error {
	if m.data != nil {
		if err := unix.Munmap(m.data); err != nil {
			return errors.Wrap(err, "failed to munmap")
		}
		m.data = nil
	}
	if m.file != nil {
		if err := m.file.Close(); err != nil {
			return errors.Wrap(err, "failed to close file")
		}
		m.file = nil
	}
	return nil
}

// Sync flushes changes to disk.
func (m *MMap) Sync() error {
	if m.data == nil {
		return errors.New("mmap is closed")
	}
	return unix.Msync(m.data, unix.MS_SYNC)
}

// Size returns the current mapped size.
func (m *MMap) Size() int64 {
	return m.size
}

// Slice returns a slice of the mapped memory.
// Returns nil if the range is invalid.
// The slice is only valid until Close or Grow is called.
func (m *MMap) Slice(offset, length int64) []byte {
	if m.data == nil {
		return nil
	}
	if offset < 0 || length < 0 || offset+length > m.size {
		return nil
	}
	return m.data[offset : offset+length]
}

// ReadAt copies mapped bytes into p. Reading past the mapped size is short
// and returns io.EOF.
func (m *MMap) ReadAt(p []byte, off int64) (int, error) {
	if m.data == nil {
		return 0, errors.New("mmap is closed")
	}
	if off < 0 {
		return 0, errors.Errorf("negative offset %d", off)
	}
	if off >= m.size {
		return 0, io.EOF
	}
	n := copy(p, m.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// WriteAt copies p into the mapping, growing the file when p ends past it.
func (m *MMap) WriteAt(p []byte, off int64) (int, error) {
	if m.data == nil {
		return 0, errors.New("mmap is closed")
	}
	if off < 0 {
		return 0, errors.Errorf("negative offset %d", off)
	}

	required := off + int64(len(p))
	if required > m.size {
		newSize := m.size * GrowthFactor
		for newSize < required {
			newSize *= GrowthFactor
		}
		if err := m.Grow(newSize); err != nil {
			return 0, err
		}
	}
	return copy(m.data[off:], p), nil
}

// Grow extends the file and remaps it.
// This invalidates any previously returned slices.
func (m *MMap) Grow(newSize int64) error {
	if newSize <= m.size {
		return nil
	}

	if err := unix.Munmap(m.data); err != nil {
		return errors.Wrap(err, "failed to munmap during grow")
	}
	m.data = nil

	if err := m.file.Truncate(newSize); err != nil {
		return errors.Wrap(err, "failed to extend file during grow")
	}

	data, err := unix.Mmap(int(m.file.Fd()), 0, int(newSize),
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return errors.Wrap(err, "failed to remap during grow")
	}

	m.data = data
	m.size = newSize
	return nil
}
