package override

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/MrWong99/voxlabel/internal/speaker"
)

// Mappings resolves the mapping store backing a transcription.
// Implementations must be safe for concurrent use.
type Mappings interface {
	// Ensure returns the store for transcriptionID, creating an empty one
	// when none exists.
	Ensure(transcriptionID string) *speaker.Store

	// Discard drops the store for transcriptionID. It reports whether a store
	// existed.
	Discard(transcriptionID string) bool
}

// Option configures a [Registry].
type Option func(*Registry)

// WithClock replaces time.Now as the source of action timestamps and
// activity times.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// Registry owns the override trackers of every session of one application
// instance. Trackers are created lazily on the first override of a session.
//
// Every read or write of a tracker bumps its LastActivity.
//
// All methods are safe for concurrent use.
type Registry struct {
	mappings Mappings
	now      func() time.Time

	mu       sync.Mutex
	trackers map[string]*Tracker
}

// NewRegistry returns an empty registry whose overrides are written into the
// stores resolved through mappings.
func NewRegistry(mappings Mappings, opts ...Option) *Registry {
	r := &Registry{
		mappings: mappings,
		now:      time.Now,
		trackers: make(map[string]*Tracker),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// ApplyOverride sets the name and role of speakerID for the session and
// returns the transcription's resulting mappings.
//
// When the transcription has no mapping for speakerID yet, a baseline using
// the raw speaker id as provisional name is created first, so an override is
// always revertible. Repeated overrides of the same speaker keep the value
// from before the first one as the original.
func (r *Registry) ApplyOverride(sessionID, transcriptionID, speakerID, name, role string) ([]speaker.Mapping, error) {
	if sessionID == "" || transcriptionID == "" || speakerID == "" {
		return nil, ErrEmptyID
	}
	next := speaker.Values{Name: name, Role: role}
	if errs := speaker.Validate(next); len(errs) > 0 {
		return nil, &speaker.ValidationError{SpeakerID: speakerID, Fields: errs}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	t, ok := r.trackers[sessionID]
	if ok && t.TranscriptionID != transcriptionID {
		return nil, fmt.Errorf("%w: session %q, transcription %q", ErrTranscriptionMismatch, sessionID, t.TranscriptionID)
	}
	if !ok {
		t = &Tracker{
			SessionID:       sessionID,
			TranscriptionID: transcriptionID,
			Actions:         make(map[string]Action),
			SessionStarted:  now,
		}
		r.trackers[sessionID] = t
		slog.Debug("override: session tracker created", "session_id", sessionID, "transcription_id", transcriptionID)
	}

	store := r.mappings.Ensure(transcriptionID)
	current, ok := store.Lookup(speakerID)
	if !ok {
		current = speaker.Mapping{
			SpeakerID:  speakerID,
			Name:       speakerID,
			Provenance: speaker.AutoDetected,
		}
	}

	original := current.Values()
	if prev, ok := t.Actions[speakerID]; ok && prev.Kind == ActionOverride {
		original = prev.Original
	}

	current.Name, current.Role = next.Name, next.Role
	store.Upsert(current)

	t.Actions[speakerID] = Action{
		SpeakerID: speakerID,
		Kind:      ActionOverride,
		Original:  original,
		New:       next,
		Timestamp: now,
	}
	t.LastActivity = now

	return store.Mappings(), nil
}

// RevertOverride restores the original values of speakerID and returns the
// transcription's resulting mappings.
//
// It returns a [*SessionNotFoundError] for an unknown session and a
// [*speaker.SpeakerNotFoundError] when speakerID has no active override.
func (r *Registry) RevertOverride(sessionID, speakerID string) ([]speaker.Mapping, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.trackers[sessionID]
	if !ok {
		return nil, &SessionNotFoundError{SessionID: sessionID}
	}
	if err := r.revertLocked(t, speakerID); err != nil {
		return nil, err
	}
	return r.mappings.Ensure(t.TranscriptionID).Mappings(), nil
}

// RevertAll reverts every active override of the session and returns how many
// were reverted. Reverts are independent: a failure on one speaker does not
// stop the others, and all failures are returned joined.
func (r *Registry) RevertAll(sessionID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.trackers[sessionID]
	if !ok {
		return 0, &SessionNotFoundError{SessionID: sessionID}
	}

	var (
		n    int
		errs []error
	)
	for _, id := range t.Overridden() {
		if err := r.revertLocked(t, id); err != nil {
			errs = append(errs, err)
			continue
		}
		n++
	}
	t.LastActivity = r.now()
	return n, errors.Join(errs...)
}

// revertLocked restores the original values of speakerID. Callers hold r.mu.
func (r *Registry) revertLocked(t *Tracker, speakerID string) error {
	a, ok := t.Actions[speakerID]
	if !ok || a.Kind != ActionOverride {
		return &speaker.SpeakerNotFoundError{SpeakerID: speakerID, TranscriptionID: t.TranscriptionID}
	}

	now := r.now()
	store := r.mappings.Ensure(t.TranscriptionID)
	current, ok := store.Lookup(speakerID)
	if !ok {
		// The entry was removed while overridden; bring it back with its
		// original values.
		current = speaker.Mapping{SpeakerID: speakerID, Provenance: speaker.AutoDetected}
	}
	before := current.Values()
	current.Name, current.Role = a.Original.Name, a.Original.Role
	store.Upsert(current)

	t.Actions[speakerID] = Action{
		SpeakerID: speakerID,
		Kind:      ActionRevert,
		Original:  before,
		New:       a.Original,
		Timestamp: now,
	}
	t.LastActivity = now
	return nil
}

// ClearSession removes the session's tracker and the mappings of its
// transcription. When another live session still works on that transcription
// the mappings survive and only the session's active overrides are undone. It reports whether the session existed; clearing an unknown
// session is not an error.
func (r *Registry) ClearSession(sessionID string) bool {
	return r.ClearSessionIf(sessionID, nil)
}

// ClearSessionIf is [Registry.ClearSession] guarded by pred, which is
// evaluated atomically with the removal. A nil pred always clears.
func (r *Registry) ClearSessionIf(sessionID string, pred func(Tracker) bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.trackers[sessionID]
	if !ok {
		return false
	}
	if pred != nil && !pred(t.clone()) {
		return false
	}
	delete(r.trackers, sessionID)

	shared := false
	for _, other := range r.trackers {
		if other.TranscriptionID == t.TranscriptionID {
			shared = true
			break
		}
	}
	if !shared {
		r.mappings.Discard(t.TranscriptionID)
		return true
	}
	r.releaseLocked(t)
	return true
}

// releaseLocked undoes the active overrides of t, which has already left
// r.trackers, on a transcription other sessions still use. A speaker whose
// value t wrote last gets its original back. A later override by another
// session keeps the store value but inherits t's original as its own, so
// reverting it still reaches the pre-override baseline. Callers hold r.mu.
func (r *Registry) releaseLocked(t *Tracker) {
	store := r.mappings.Ensure(t.TranscriptionID)
	for _, id := range t.Overridden() {
		a := t.Actions[id]
		superseded := false
		for _, other := range r.trackers {
			if other.TranscriptionID != t.TranscriptionID {
				continue
			}
			oa, ok := other.Actions[id]
			if !ok || oa.Kind != ActionOverride || oa.Timestamp.Before(a.Timestamp) {
				continue
			}
			superseded = true
			if oa.Original == a.New {
				oa.Original = a.Original
				other.Actions[id] = oa
			}
		}
		if superseded {
			continue
		}

		current, ok := store.Lookup(id)
		if !ok {
			current = speaker.Mapping{SpeakerID: id, Provenance: speaker.AutoDetected}
		}
		current.Name, current.Role = a.Original.Name, a.Original.Role
		store.Upsert(current)
		slog.Debug("override: released on clear", "session_id", t.SessionID, "speaker_id", id)
	}
}

// OverrideInfo returns a copy of the session's tracker and bumps its activity.
func (r *Registry) OverrideInfo(sessionID string) (Tracker, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.trackers[sessionID]
	if !ok {
		return Tracker{}, false
	}
	t.LastActivity = r.now()
	return t.clone(), true
}

// Peek returns a copy of the session's tracker without bumping its activity.
func (r *Registry) Peek(sessionID string) (Tracker, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.trackers[sessionID]
	if !ok {
		return Tracker{}, false
	}
	return t.clone(), true
}

// Touch bumps the session's activity. It reports whether the session exists.
func (r *Registry) Touch(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.trackers[sessionID]
	if ok {
		t.LastActivity = r.now()
	}
	return ok
}

// IsOverridden reports whether speakerID currently carries an override in the
// session.
func (r *Registry) IsOverridden(sessionID, speakerID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.trackers[sessionID]
	if !ok {
		return false
	}
	a, ok := t.Actions[speakerID]
	return ok && a.Kind == ActionOverride
}

// Sessions returns copies of all trackers ordered by session id.
func (r *Registry) Sessions() []Tracker {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Tracker, 0, len(r.trackers))
	for _, t := range r.trackers {
		out = append(out, t.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })
	return out
}

// Len returns the number of live trackers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.trackers)
}
