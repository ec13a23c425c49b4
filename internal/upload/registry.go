package upload

import (
	"errors"
	"fmt"
	"sync"

	"github.com/uploadhub/backend/internal/models"
)

// ErrDuplicateID is returned when an entry with the same id is already tracked.
var ErrDuplicateID = errors.New("duplicate tracked file id")

// EventType describes a registry change.
type EventType string

const (
	EventAdded   EventType = "added"
	EventUpdated EventType = "updated"
	EventRemoved EventType = "removed"
)

// Event is published to subscribers after every registry change.
type Event struct {
	Type EventType          `json:"type" msgpack:"type"`
	File models.TrackedFile `json:"file" msgpack:"file"`
}

// subscriberBuffer is how many events a slow subscriber may fall behind
// before it is evicted.
const subscriberBuffer = 64

// Registry holds the ordered set of tracked files, newest first.
//
// The slice is never modified in place: every mutation builds a new slice
// under the write lock, so a snapshot handed out by List stays valid and
// concurrent updates to different ids never interfere.
type Registry struct {
	mu    sync.RWMutex
	files []models.TrackedFile

	subMu  sync.Mutex
	subs   map[int]chan Event
	nextID int
}

// NewRegistry creates a registry seeded with files, kept in the given order.
func NewRegistry(seed []models.TrackedFile) (*Registry, error) {
	r := &Registry{subs: make(map[int]chan Event)}
	seen := make(map[string]bool, len(seed))
	files := make([]models.TrackedFile, 0, len(seed))
	for _, f := range seed {
		if f.ID == "" {
			return nil, fmt.Errorf("seeded file %q has no id", f.Name)
		}
		if seen[f.ID] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateID, f.ID)
		}
		if !f.Status.Valid() {
			return nil, fmt.Errorf("seeded file %s: invalid status %q", f.ID, f.Status)
		}
		seen[f.ID] = true
		files = append(files, f)
	}
	r.files = files
	return r, nil
}

// Add inserts f at the head.
func (r *Registry) Add(f models.TrackedFile) error {
	r.mu.Lock()
	for _, existing := range r.files {
		if existing.ID == f.ID {
			r.mu.Unlock()
			return fmt.Errorf("%w: %s", ErrDuplicateID, f.ID)
		}
	}
	next := make([]models.TrackedFile, 0, len(r.files)+1)
	next = append(next, f)
	next = append(next, r.files...)
	r.files = next
	r.publish(Event{Type: EventAdded, File: f})
	r.mu.Unlock()
	return nil
}

// Update applies fn to a copy of the entry with the given id and stores the
// result. fn returns false to leave the entry untouched. Entries in a
// terminal status are never passed to fn. The returned bool reports whether
// a change was stored.
func (r *Registry) Update(id string, fn func(f *models.TrackedFile) bool) (models.TrackedFile, bool) {
	r.mu.Lock()
	idx := r.indexOf(id)
	if idx < 0 || r.files[idx].Status.Terminal() {
		r.mu.Unlock()
		return models.TrackedFile{}, false
	}
	updated := r.files[idx]
	if !fn(&updated) {
		r.mu.Unlock()
		return models.TrackedFile{}, false
	}
	next := make([]models.TrackedFile, len(r.files))
	copy(next, r.files)
	next[idx] = updated
	r.files = next
	r.publish(Event{Type: EventUpdated, File: updated})
	r.mu.Unlock()
	return updated, true
}

// Remove deletes the entry with the given id and returns its last snapshot.
func (r *Registry) Remove(id string) (models.TrackedFile, bool) {
	r.mu.Lock()
	idx := r.indexOf(id)
	if idx < 0 {
		r.mu.Unlock()
		return models.TrackedFile{}, false
	}
	removed := r.files[idx]
	next := make([]models.TrackedFile, 0, len(r.files)-1)
	next = append(next, r.files[:idx]...)
	next = append(next, r.files[idx+1:]...)
	r.files = next
	r.publish(Event{Type: EventRemoved, File: removed})
	r.mu.Unlock()
	return removed, true
}

// Get returns the entry with the given id.
func (r *Registry) Get(id string) (models.TrackedFile, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if idx := r.indexOf(id); idx >= 0 {
		return r.files[idx], true
	}
	return models.TrackedFile{}, false
}

// List returns a snapshot of all entries, newest first.
func (r *Registry) List() []models.TrackedFile {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.TrackedFile, len(r.files))
	copy(out, r.files)
	return out
}

// Len returns the number of tracked entries.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.files)
}

// Subscribe returns a channel of registry events and a function that
// cancels the subscription. A subscriber whose buffer is full is evicted:
// its channel is closed rather than left to silently miss events, so the
// reader must take a fresh snapshot and subscribe again.
func (r *Registry) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)
	r.subMu.Lock()
	id := r.nextID
	r.nextID++
	r.subs[id] = ch
	r.subMu.Unlock()

	return ch, func() {
		r.subMu.Lock()
		defer r.subMu.Unlock()
		r.evict(id)
	}
}

// publish is called with r.mu held so subscribers observe changes in the
// order they were applied. Sends never block.
func (r *Registry) publish(ev Event) {
	ev.File.Payload = nil
	r.subMu.Lock()
	defer r.subMu.Unlock()
	for id, ch := range r.subs {
		select {
		case ch <- ev:
		default:
			r.evict(id)
		}
	}
}

// evict must be called with r.subMu held. Evicting twice is a no-op.
func (r *Registry) evict(id int) {
	if ch, ok := r.subs[id]; ok {
		delete(r.subs, id)
		close(ch)
	}
}

// indexOf must be called with r.mu held.
func (r *Registry) indexOf(id string) int {
	for i := range r.files {
		if r.files[i].ID == id {
			return i
		}
	}
	return -1
}
