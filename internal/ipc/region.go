package ipc

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sys/unix"
)

// Region is a named, memory-mapped scratch segment backing one data-plane
// channel. Audio/tensor payloads are written once into a region slot and
// referenced by index rather than copied across the process boundary — the
// consumer mmaps the same backing file and reads directly out of it.
type Region struct {
	name string
	path string
	size int
	file *os.File
	data []byte

	mu    sync.Mutex
	cur   int // next free byte offset, wraps at size
}

// ScratchDir is the base directory backing all shared-memory segments for a
// process. OpenOrCreate creates it on demand; the cleanup package
// periodically removes segment files in it older than its retention.
var ScratchDir = filepath.Join(os.TempDir(), "mediacore-shm")

// OpenOrCreate maps a named region, creating its backing file at the given
// size if it does not already exist, or opening it as-is if it does. This
// implements the "router creates, worker opens" ordering rule: the router
// always calls OpenOrCreate, workers call Open with retry.
func OpenOrCreate(name string, size int) (*Region, error) {
	if err := os.MkdirAll(ScratchDir, 0o700); err != nil {
		return nil, fmt.Errorf("ipc: create scratch dir: %w", err)
	}
	path := filepath.Join(ScratchDir, name+".shm")
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("ipc: open region %q: %w", name, err)
	}
	if err := f.Truncate(int64(size)); err != nil {
		f.Close()
		return nil, fmt.Errorf("ipc: truncate region %q: %w", name, err)
	}
	return mapRegion(name, path, f, size)
}

// Open maps an existing region, failing if the backing file does not exist
// yet. Workers use this with bounded retry (see Dial) rather than creating
// the segment themselves, since creation ordering between router and
// worker is not guaranteed.
func Open(name string, size int) (*Region, error) {
	path := filepath.Join(ScratchDir, name+".shm")
	f, err := os.OpenFile(path, os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("ipc: open region %q: %w", name, err)
	}
	return mapRegion(name, path, f, size)
}

func mapRegion(name, path string, f *os.File, size int) (*Region, error) {
	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("ipc: mmap region %q: %w", name, err)
	}
	return &Region{name: name, path: path, size: size, file: f, data: data}, nil
}

// Write copies p into the region at a rotating offset and returns the slot
// offset the payload was written at, wrapping to the start when the region
// fills. Concurrent writers are serialized by the region's own mutex.
func (r *Region) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(p) > r.size {
		return 0, fmt.Errorf("ipc: payload of %d bytes exceeds region size %d", len(p), r.size)
	}
	if r.cur+len(p) > r.size {
		r.cur = 0
	}
	offset := r.cur
	copy(r.data[offset:offset+len(p)], p)
	r.cur += len(p)
	return offset, nil
}

// ReadAt returns a view of n bytes at offset without copying.
func (r *Region) ReadAt(offset, n int) ([]byte, error) {
	if offset < 0 || n < 0 || offset+n > r.size {
		return nil, fmt.Errorf("ipc: read range [%d,%d) out of bounds for region of size %d", offset, offset+n, r.size)
	}
	return r.data[offset : offset+n], nil
}

// Close unmaps the region and closes its backing file. It does not remove
// the backing file; Remove does that, and the cleanup package's sweep
// deletes segment files left behind past its retention.
func (r *Region) Close() error {
	if err := unix.Munmap(r.data); err != nil {
		r.file.Close()
		return fmt.Errorf("ipc: munmap region %q: %w", r.name, err)
	}
	return r.file.Close()
}

// Remove deletes the backing file for a named region. The subprocess and
// container executors call it from Shutdown.
func Remove(name string) error {
	path := filepath.Join(ScratchDir, name+".shm")
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
