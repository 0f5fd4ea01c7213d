package vfs

import (
	"sync"
)

// Notification names broadcast after successful operations
const (
	EventScandir    = "vfs:scandir"
	EventRead       = "vfs:read"
	EventWrite      = "vfs:write"
	EventCopy       = "vfs:copy"
	EventMove       = "vfs:move"
	EventUnlink     = "vfs:unlink"
	EventMkdir      = "vfs:mkdir"
	EventUpload     = "vfs:upload"
	EventTrash      = "vfs:trash"
	EventUntrash    = "vfs:untrash"
	EventEmptyTrash = "vfs:emptyTrash"
	EventMount      = "vfs:mount"
	EventUnmount    = "vfs:unmount"
)

// Event is one broadcast notification. Single-file operations set File;
// copy and move set Source and Destination. Mount events only set Mount.
type Event struct {
	Name        string
	File        *File
	Source      *File
	Destination *File
	Mount       string
}

// Files returns the descriptors the event touches, destination first
func (e Event) Files() []File {
	var out []File
	if e.File != nil {
		out = append(out, *e.File)
	}
	if e.Destination != nil {
		out = append(out, *e.Destination)
	}
	if e.Source != nil {
		out = append(out, *e.Source)
	}
	return out
}

// Broadcaster receives every notification the VFS emits
type Broadcaster interface {
	Broadcast(e Event)
}

// EventBus is an in-process Broadcaster with subscribe/unsubscribe.
// Subscribers are called synchronously in subscription order.
type EventBus struct {
	mu          sync.RWMutex
	subscribers []func(Event)
}

// NewEventBus creates an empty bus
func NewEventBus() *EventBus {
	return &EventBus{}
}

// Subscribe registers fn and returns a function removing it again
func (b *EventBus) Subscribe(fn func(Event)) (unsubscribe func()) {
	b.mu.Lock()
	b.subscribers = append(b.subscribers, fn)
	index := len(b.subscribers) - 1
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if index < len(b.subscribers) {
			// keep indexes of later subscribers stable
			b.subscribers[index] = nil
		}
	}
}

// Broadcast implements Broadcaster
func (b *EventBus) Broadcast(e Event) {
	b.mu.RLock()
	subscribers := make([]func(Event), len(b.subscribers))
	copy(subscribers, b.subscribers)
	b.mu.RUnlock()

	for _, fn := range subscribers {
		if fn != nil {
			fn(e)
		}
	}
}

var _ Broadcaster = (*EventBus)(nil)
