package vfs

import (
	"sync"

	"morphdepot/internal/infofile"
)

// MaxNewFileSize bounds a raw file buffered in memory between create and
// flush. Larger files are imported with add-file.
const MaxNewFileSize = 1 << 30

// HandleID identifies an open file.
type HandleID uint64

// handleKind tells how a handle's reads and writes are served.
type handleKind int

const (
	// handleDirect reads straight from the node on every call.
	handleDirect handleKind = iota
	// handleInfo buffers an info document until flush.
	handleInfo
	// handleNewFile buffers a raw file being created until flush.
	handleNewFile
)

// openHandle is the per-open state of a file.
type openHandle struct {
	path  string
	flags int
	kind  handleKind
	buf   []byte
	dirty bool
}

// limit is the largest buffer the handle may grow to.
func (h *openHandle) limit() int64 {
	if h.kind == handleNewFile {
		return MaxNewFileSize
	}
	return infofile.MaxSize
}

// HandleManager allocates handle ids and tracks their state.
type HandleManager struct {
	mu         sync.RWMutex
	handles    map[HandleID]*openHandle
	nextHandle HandleID
}

// NewHandleManager creates an empty handle manager
func NewHandleManager() *HandleManager {
	return &HandleManager{
		handles:    make(map[HandleID]*openHandle),
		nextHandle: 1,
	}
}

// Allocate registers h and returns its id. Ids are never reused.
func (hm *HandleManager) Allocate(h *openHandle) HandleID {
	hm.mu.Lock()
	defer hm.mu.Unlock()

	id := hm.nextHandle
	hm.nextHandle++
	hm.handles[id] = h
	return id
}

// Get retrieves a handle's state
func (hm *HandleManager) Get(id HandleID) (*openHandle, bool) {
	hm.mu.RLock()
	defer hm.mu.RUnlock()
	h, ok := hm.handles[id]
	return h, ok
}

// Release frees a handle
func (hm *HandleManager) Release(id HandleID) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	delete(hm.handles, id)
}

// PendingFile returns the buffer state of a file created at path that has
// not been committed yet.
func (hm *HandleManager) PendingFile(path string) (*openHandle, bool) {
	hm.mu.RLock()
	defer hm.mu.RUnlock()
	for _, h := range hm.handles {
		if h.kind == handleNewFile && h.path == path {
			return h, true
		}
	}
	return nil, false
}

// PendingIn returns the uncommitted new files directly inside dir.
func (hm *HandleManager) PendingIn(dir string) []*openHandle {
	hm.mu.RLock()
	defer hm.mu.RUnlock()
	var out []*openHandle
	for _, h := range hm.handles {
		if h.kind == handleNewFile && parentOf(h.path) == dir {
			out = append(out, h)
		}
	}
	return out
}

// Count returns the number of open handles.
func (hm *HandleManager) Count() int {
	hm.mu.RLock()
	defer hm.mu.RUnlock()
	return len(hm.handles)
}

// Clear removes all handles, returning the count of handles cleared.
// Used on unmount; buffered content is discarded.
func (hm *HandleManager) Clear() int {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	count := len(hm.handles)
	hm.handles = make(map[HandleID]*openHandle)
	// Don't reset nextHandle to avoid handle ID reuse issues
	return count
}

func parentOf(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			if i == 0 {
				return "/"
			}
			return path[:i]
		}
	}
	return "/"
}
