// Package volume provides the cluster-addressed storage underneath non-resident
// attributes: a block Device abstraction with memory, file and S3 backends, a
// cluster Bitmap allocator, and Volume, which ties the two together.
package volume

import (
	"errors"
	"fmt"
	"os"
	"sync"
)

// ErrOutOfRange is returned by devices when an access falls outside the device.
var ErrOutOfRange = errors.New("volume: access out of device range")

// Device abstracts I/O for the different storage backends.
//
// Implementations must transfer the full buffer or return an error; short reads
// and writes are never reported as success.
type Device interface {
	ReadAt(p []byte, off int64) (int, error)
	WriteAt(p []byte, off int64) (int, error)
	Size() int64
	Sync() error
	Close() error
}

// MemoryDevice implements Device on an in-memory byte slice.
// Used for tests and ephemeral volumes.
type MemoryDevice struct {
	mu   sync.RWMutex
	data []byte
}

var _ Device = (*MemoryDevice)(nil)

// NewMemoryDevice creates a zero-filled in-memory device of the given size.
func NewMemoryDevice(size int64) *MemoryDevice {
	return &MemoryDevice{data: make([]byte, size)}
}

func (m *MemoryDevice) ReadAt(p []byte, off int64) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if off < 0 || off+int64(len(p)) > int64(len(m.data)) {
		return 0, fmt.Errorf("read at %d (len %d, size %d): %w", off, len(p), len(m.data), ErrOutOfRange)
	}
	return copy(p, m.data[off:]), nil
}

func (m *MemoryDevice) WriteAt(p []byte, off int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if off < 0 || off+int64(len(p)) > int64(len(m.data)) {
		return 0, fmt.Errorf("write at %d (len %d, size %d): %w", off, len(p), len(m.data), ErrOutOfRange)
	}
	return copy(m.data[off:], p), nil
}

func (m *MemoryDevice) Size() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.data))
}

func (m *MemoryDevice) Sync() error {
	return nil
}

func (m *MemoryDevice) Close() error {
	return nil
}

// FileDevice implements Device using a regular file (or block device) on disk.
type FileDevice struct {
	f    *os.File
	size int64
}

var _ Device = (*FileDevice)(nil)

// OpenFileDevice opens or creates the image at path and grows it to size bytes
// when it is smaller. A size of 0 keeps the current file size.
func OpenFileDevice(path string, size int64) (*FileDevice, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open device file %s: %w", path, err)
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to stat device file %s: %w", path, err)
	}

	current := info.Size()
	if size > current {
		if err := f.Truncate(size); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("failed to size device file %s: %w", path, err)
		}
		current = size
	}

	return &FileDevice{f: f, size: current}, nil
}

func (fd *FileDevice) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off+int64(len(p)) > fd.size {
		return 0, fmt.Errorf("read at %d (len %d, size %d): %w", off, len(p), fd.size, ErrOutOfRange)
	}
	n, err := fd.f.ReadAt(p, off)
	if err != nil {
		return n, fmt.Errorf("disk read error: %w", err)
	}
	return n, nil
}

func (fd *FileDevice) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 || off+int64(len(p)) > fd.size {
		return 0, fmt.Errorf("write at %d (len %d, size %d): %w", off, len(p), fd.size, ErrOutOfRange)
	}
	n, err := fd.f.WriteAt(p, off)
	if err != nil {
		return n, fmt.Errorf("disk write error: %w", err)
	}
	return n, nil
}

func (fd *FileDevice) Size() int64 {
	return fd.size
}

func (fd *FileDevice) Sync() error {
	if err := fd.f.Sync(); err != nil {
		return fmt.Errorf("disk sync error: %w", err)
	}
	return nil
}

func (fd *FileDevice) Close() error {
	if err := fd.f.Close(); err != nil {
		return fmt.Errorf("disk close error: %w", err)
	}
	return nil
}
