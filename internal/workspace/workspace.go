// Package workspace keeps the per-transcription edit workspaces of one
// application instance: a mapping store plus its edit-mode controller.
//
// Workspaces live only in memory. They are dropped when the session that
// overrode them is purged, or by [Registry.ExpireIdle] once nobody has
// touched them for the session window.
package workspace

import (
	"sort"
	"sync"
	"time"

	"github.com/MrWong99/voxlabel/internal/editmode"
	"github.com/MrWong99/voxlabel/internal/speaker"
)

// Workspace is the edit state of one transcription.
type Workspace struct {
	Store  *speaker.Store
	Editor *editmode.Controller
}

type entry struct {
	ws      *Workspace
	touched time.Time
}

// Option configures a [Registry].
type Option func(*Registry)

// WithClock replaces time.Now as the source of touch times.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// Registry maps transcription ids to workspaces. It implements
// override.Mappings.
//
// All methods are safe for concurrent use.
type Registry struct {
	now func() time.Time

	mu      sync.Mutex
	entries map[string]*entry
}

// NewRegistry returns an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		now:     time.Now,
		entries: make(map[string]*entry),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Open (re)initialises the workspace of transcriptionID from detected speaker
// labels and previously saved mappings. Any edit in progress is discarded.
func (r *Registry) Open(transcriptionID string, detectedIDs []string, existing []speaker.Mapping) *Workspace {
	store := speaker.NewStore(transcriptionID)
	store.Initialize(detectedIDs, existing, transcriptionID)
	ws := &Workspace{Store: store, Editor: editmode.New(store)}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[transcriptionID] = &entry{ws: ws, touched: r.now()}
	return ws
}

// Get returns the workspace of transcriptionID and marks it as touched.
func (r *Registry) Get(transcriptionID string) (*Workspace, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[transcriptionID]
	if !ok {
		return nil, false
	}
	e.touched = r.now()
	return e.ws, true
}

// Ensure returns the store of transcriptionID, creating an empty workspace
// when none exists.
func (r *Registry) Ensure(transcriptionID string) *speaker.Store {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[transcriptionID]
	if !ok {
		store := speaker.NewStore(transcriptionID)
		e = &entry{ws: &Workspace{Store: store, Editor: editmode.New(store)}}
		r.entries[transcriptionID] = e
	}
	e.touched = r.now()
	return e.ws.Store
}

// Discard drops the workspace of transcriptionID. It reports whether one
// existed.
func (r *Registry) Discard(transcriptionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.entries[transcriptionID]
	delete(r.entries, transcriptionID)
	return ok
}

// ExpireIdle drops every workspace last touched before the cutoff, except
// those for which keep returns true. It returns the dropped transcription ids,
// sorted. A nil keep keeps nothing.
func (r *Registry) ExpireIdle(before time.Time, keep func(transcriptionID string) bool) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var dropped []string
	for id, e := range r.entries {
		if !e.touched.Before(before) {
			continue
		}
		if keep != nil && keep(id) {
			continue
		}
		delete(r.entries, id)
		dropped = append(dropped, id)
	}
	sort.Strings(dropped)
	return dropped
}

// Len returns the number of open workspaces.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
