package vfs

import (
	"sync"

	"github.com/google/uuid"
)

// WatchFunc is called with every event touching a watched path
type WatchFunc func(e Event)

type watchEntry struct {
	id       uuid.UUID
	path     string
	typ      FileType
	callback WatchFunc
}

// matches implements the watch rule: directories match every path below
// them, files only their own path.
func (w *watchEntry) matches(f File) bool {
	if w.typ == TypeDir {
		_, ok := trimPathPrefix(f.Path, w.path)
		return ok
	}
	return f.Path == w.path
}

// WatchRegistry maps watched paths to callbacks
type WatchRegistry struct {
	mu      sync.RWMutex
	entries []*watchEntry
}

// NewWatchRegistry creates an empty registry
func NewWatchRegistry() *WatchRegistry {
	return &WatchRegistry{}
}

// Add registers callback for f and returns the handle Remove takes
func (r *WatchRegistry) Add(f File, callback WatchFunc) uuid.UUID {
	entry := &watchEntry{
		id:       uuid.New(),
		path:     f.Path,
		typ:      f.Type,
		callback: callback,
	}

	r.mu.Lock()
	r.entries = append(r.entries, entry)
	r.mu.Unlock()

	return entry.id
}

// Remove drops the watch with the given handle. Unknown handles are ignored.
func (r *WatchRegistry) Remove(id uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, e := range r.entries {
		if e.id == id {
			r.entries = append(r.entries[:i:i], r.entries[i+1:]...)
			return true
		}
	}
	return false
}

// Len returns the number of active watches
func (r *WatchRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Dispatch calls every watch touched by e once. For copy and move the
// destination is checked before the source.
func (r *WatchRegistry) Dispatch(e Event) {
	files := e.Files()
	if len(files) == 0 {
		return
	}

	r.mu.RLock()
	entries := make([]*watchEntry, len(r.entries))
	copy(entries, r.entries)
	r.mu.RUnlock()

	for _, w := range entries {
		for _, f := range files {
			if w.matches(f) {
				w.callback(e)
				break
			}
		}
	}
}
