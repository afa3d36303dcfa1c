// Package editmode layers per-speaker edit sessions and a two-step removal
// confirmation on top of a [speaker.Store].
//
// Each speaker id moves Idle -> Editing -> Idle. Entering Editing snapshots
// the current name and role; Save discards the snapshot, Cancel writes it back.
// Snapshots never leave the [Controller].
//
// All methods are safe for concurrent use.
package editmode

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/MrWong99/voxlabel/internal/speaker"
)

// ErrNoPendingRemoval is returned by [Controller.ConfirmRemove] when no
// removal has been requested.
var ErrNoPendingRemoval = errors.New("editmode: no removal pending")

// IndexError is returned by [Controller.RequestRemove] for an index outside
// the collection.
type IndexError struct {
	Index int
	Len   int
}

func (e *IndexError) Error() string {
	return fmt.Sprintf("editmode: speaker index %d out of range [0, %d)", e.Index, e.Len)
}

// Controller tracks edit sessions and the pending removal for one store.
type Controller struct {
	store *speaker.Store

	mu        sync.Mutex
	snapshots map[string]speaker.Values
	errors    map[string][]speaker.FieldError
	pending   PendingRemoval
}

// New returns a Controller over store with no edits in progress.
func New(store *speaker.Store) *Controller {
	return &Controller{
		store:     store,
		snapshots: make(map[string]speaker.Values),
		errors:    make(map[string][]speaker.FieldError),
		pending:   NoPendingRemoval{},
	}
}

// Store returns the underlying mapping store.
func (c *Controller) Store() *speaker.Store {
	return c.store
}

// StartEdit moves speakerID into Editing, snapshotting its current values.
// Calling it again while already editing keeps the first snapshot.
func (c *Controller) StartEdit(speakerID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, editing := c.snapshots[speakerID]; editing {
		return nil
	}
	m, err := c.store.Get(speakerID)
	if err != nil {
		return err
	}
	c.snapshots[speakerID] = m.Values()
	return nil
}

// SaveEdit returns speakerID to Idle, keeping the current values. It does not
// validate; use [Controller.Commit] to gate the transition on validation.
func (c *Controller) SaveEdit(speakerID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.snapshots, speakerID)
	delete(c.errors, speakerID)
}

// Commit validates the current values of speakerID and saves the edit when
// they pass. On failure the field errors are kept for display, the speaker
// stays in Editing and a [*speaker.ValidationError] is returned.
func (c *Controller) Commit(speakerID string) error {
	m, err := c.store.Get(speakerID)
	if err != nil {
		return err
	}

	if errs := speaker.Validate(m.Values()); len(errs) > 0 {
		c.mu.Lock()
		c.errors[speakerID] = errs
		c.mu.Unlock()
		return &speaker.ValidationError{SpeakerID: speakerID, Fields: errs}
	}

	c.SaveEdit(speakerID)
	return nil
}

// CancelEdit restores the values captured by [Controller.StartEdit] and
// returns speakerID to Idle. It is a no-op when speakerID is not being edited.
func (c *Controller) CancelEdit(speakerID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap, editing := c.snapshots[speakerID]
	if !editing {
		return
	}
	// The entry may have been removed meanwhile; the snapshot is dropped
	// either way.
	if _, ok := c.store.Lookup(speakerID); ok {
		_ = c.store.Set(speakerID, snap)
	}
	delete(c.snapshots, speakerID)
	delete(c.errors, speakerID)
}

// IsEditing reports whether speakerID is in Editing.
func (c *Controller) IsEditing(speakerID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.snapshots[speakerID]
	return ok
}

// Editing returns the ids currently in Editing, sorted.
func (c *Controller) Editing() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Sorted(maps.Keys(c.snapshots))
}

// Errors returns the field errors recorded by the last failed
// [Controller.Commit] for speakerID.
func (c *Controller) Errors(speakerID string) []speaker.FieldError {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.errors[speakerID])
}

// AllErrors returns a copy of every recorded field error keyed by speaker id.
func (c *Controller) AllErrors() map[string][]speaker.FieldError {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string][]speaker.FieldError, len(c.errors))
	for id, errs := range c.errors {
		out[id] = slices.Clone(errs)
	}
	return out
}
