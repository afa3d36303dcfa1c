package speaker

import (
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"sync"
)

// labelPattern matches positional speaker labels emitted by transcription.
var labelPattern = regexp.MustCompile(`^Speaker (\d+)$`)

// Store is the canonical mapping set for one transcription.
//
// Every operation is atomic with respect to the collection. Failed mutations
// leave the collection unchanged and record the failure in the current-error
// slot ([Store.Err]); the next successful mutation clears it.
//
// All methods are safe for concurrent use.
type Store struct {
	mu              sync.RWMutex
	transcriptionID string
	entries         []Mapping
	original        map[string]Values
	nextSpeakerID   int
	err             error
}

// NewStore returns an empty store for transcriptionID. Call
// [Store.Initialize] to populate it from detected speaker labels.
func NewStore(transcriptionID string) *Store {
	return &Store{
		transcriptionID: transcriptionID,
		original:        make(map[string]Values),
		nextSpeakerID:   1,
	}
}

// TranscriptionID returns the owning transcription.
func (s *Store) TranscriptionID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.transcriptionID
}

// Initialize replaces the collection with detectedIDs merged with existing.
//
// Detected ids become AutoDetected entries that adopt the name and role of a
// matching existing entry, if any. ManuallyAdded entries of existing that are
// not already present are appended after them. Duplicate and empty ids are
// dropped. When the merge is empty a single ManuallyAdded placeholder is
// created so the set is never empty.
//
// The resulting collection becomes the baseline for [Store.HasChanges].
func (s *Store) Initialize(detectedIDs []string, existing []Mapping, transcriptionID string) {
	byID := make(map[string]Mapping, len(existing))
	for _, m := range existing {
		if _, dup := byID[m.SpeakerID]; !dup {
			byID[m.SpeakerID] = m
		}
	}

	seen := make(map[string]bool, len(detectedIDs)+len(existing))
	entries := make([]Mapping, 0, len(detectedIDs)+len(existing))
	for _, id := range detectedIDs {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		m := Mapping{SpeakerID: id, Provenance: AutoDetected, TranscriptionID: transcriptionID}
		if ex, ok := byID[id]; ok {
			m.Name, m.Role = ex.Name, ex.Role
		}
		entries = append(entries, m)
	}
	for _, ex := range existing {
		if ex.Provenance != ManuallyAdded || ex.SpeakerID == "" || seen[ex.SpeakerID] {
			continue
		}
		seen[ex.SpeakerID] = true
		ex.TranscriptionID = transcriptionID
		entries = append(entries, ex)
	}

	next := nextLabelNumber(entries)
	if len(entries) == 0 {
		entries = append(entries, Mapping{
			SpeakerID:       labelFor(next),
			Provenance:      ManuallyAdded,
			TranscriptionID: transcriptionID,
		})
		next++
	}

	original := make(map[string]Values, len(entries))
	for _, m := range entries {
		original[m.SpeakerID] = m.Values()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.transcriptionID = transcriptionID
	s.entries = entries
	s.original = original
	s.nextSpeakerID = next
	s.err = nil
}

// Update replaces the name or role of speakerID.
//
// An unknown speaker id or field leaves the collection unchanged and returns
// (and records) an error.
func (s *Store) Update(speakerID string, field Field, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !field.IsValid() {
		return s.fail(fmt.Errorf("%w %q", ErrUnknownField, field))
	}
	i := s.indexLocked(speakerID)
	if i < 0 {
		return s.fail(&SpeakerNotFoundError{SpeakerID: speakerID, TranscriptionID: s.transcriptionID})
	}

	switch field {
	case FieldName:
		s.entries[i].Name = value
	case FieldRole:
		s.entries[i].Role = value
	}
	s.err = nil
	return nil
}

// Set replaces both name and role of speakerID.
func (s *Store) Set(speakerID string, v Values) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexLocked(speakerID)
	if i < 0 {
		return s.fail(&SpeakerNotFoundError{SpeakerID: speakerID, TranscriptionID: s.transcriptionID})
	}
	s.entries[i].Name = v.Name
	s.entries[i].Role = v.Role
	s.err = nil
	return nil
}

// Add appends a blank ManuallyAdded entry labelled "Speaker N", where N is the
// next free label number, and returns it.
func (s *Store) Add() Mapping {
	s.mu.Lock()
	defer s.mu.Unlock()

	// A label could already be taken by an entry inserted through Upsert.
	for s.indexLocked(labelFor(s.nextSpeakerID)) >= 0 {
		s.nextSpeakerID++
	}

	m := Mapping{
		SpeakerID:       labelFor(s.nextSpeakerID),
		Provenance:      ManuallyAdded,
		TranscriptionID: s.transcriptionID,
	}
	s.entries = append(s.entries, m)
	s.nextSpeakerID++
	s.err = nil
	return m
}

// Remove deletes speakerID from the collection.
//
// It returns a [*LastEntityError] when speakerID is the only remaining entry
// and a [*SpeakerNotFoundError] when it is unknown; in both cases nothing
// changes. Interactive callers should go through the confirmation flow of the
// edit-mode controller rather than calling Remove directly.
func (s *Store) Remove(speakerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexLocked(speakerID)
	if i < 0 {
		return s.fail(&SpeakerNotFoundError{SpeakerID: speakerID, TranscriptionID: s.transcriptionID})
	}
	if len(s.entries) <= 1 {
		return s.fail(&LastEntityError{SpeakerID: speakerID})
	}

	s.entries = slices.Delete(s.entries, i, i+1)
	s.err = nil
	return nil
}

// CanRemove reports whether removing speakerID would succeed without changing
// the collection. A refusal is recorded as the current error.
func (s *Store) CanRemove(speakerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.indexLocked(speakerID) < 0 {
		return s.fail(&SpeakerNotFoundError{SpeakerID: speakerID, TranscriptionID: s.transcriptionID})
	}
	if len(s.entries) <= 1 {
		return s.fail(&LastEntityError{SpeakerID: speakerID})
	}
	return nil
}

// Get returns the entry for speakerID. An unknown id is recorded as the
// current error and returned as a [*SpeakerNotFoundError].
func (s *Store) Get(speakerID string) (Mapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexLocked(speakerID)
	if i < 0 {
		return Mapping{}, s.fail(&SpeakerNotFoundError{SpeakerID: speakerID, TranscriptionID: s.transcriptionID})
	}
	return s.entries[i], nil
}

// Fail records err as the current error and returns it. Layers above the
// store use it for failures the store cannot detect itself.
func (s *Store) Fail(err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fail(err)
}

// Upsert replaces the entry with m.SpeakerID or appends m when absent. The
// transcription id is forced to the store's own.
func (s *Store) Upsert(m Mapping) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m.TranscriptionID = s.transcriptionID
	if i := s.indexLocked(m.SpeakerID); i >= 0 {
		s.entries[i] = m
	} else {
		s.entries = append(s.entries, m)
	}
	s.err = nil
}

// Lookup returns the entry for speakerID.
func (s *Store) Lookup(speakerID string) (Mapping, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i := s.indexLocked(speakerID)
	if i < 0 {
		return Mapping{}, false
	}
	return s.entries[i], true
}

// At returns the entry at index in display order.
func (s *Store) At(index int) (Mapping, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if index < 0 || index >= len(s.entries) {
		return Mapping{}, false
	}
	return s.entries[index], true
}

// Len returns the number of entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Mappings returns a copy of the collection in display order.
func (s *Store) Mappings() []Mapping {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.entries)
}

// NextSpeakerID returns the label number the next [Store.Add] will use.
func (s *Store) NextSpeakerID() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nextSpeakerID
}

// Err returns the error recorded by the most recent failed mutation, or nil
// when the last mutation succeeded.
func (s *Store) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

// HasChanges reports whether the collection differs from the baseline taken
// at [Store.Initialize]. It is recomputed on every call.
//
// The collection has changes when:
//   - an entry absent from the baseline carries a non-empty name,
//   - a baseline speaker id is no longer present, or
//   - a baseline entry's name or role differs from its initial value.
func (s *Store) HasChanges() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return hasChanges(s.original, s.entries)
}

func hasChanges(original map[string]Values, current []Mapping) bool {
	present := make(map[string]bool, len(current))
	for _, m := range current {
		present[m.SpeakerID] = true
		orig, ok := original[m.SpeakerID]
		if !ok {
			if m.Name != "" {
				return true
			}
			continue
		}
		if orig != m.Values() {
			return true
		}
	}
	for id := range original {
		if !present[id] {
			return true
		}
	}
	return false
}

// fail records err as the current error and returns it. Callers hold s.mu.
func (s *Store) fail(err error) error {
	s.err = err
	return err
}

// indexLocked returns the position of speakerID or -1. Callers hold s.mu.
func (s *Store) indexLocked(speakerID string) int {
	return slices.IndexFunc(s.entries, func(m Mapping) bool {
		return m.SpeakerID == speakerID
	})
}

// nextLabelNumber returns 1 + the highest N among "Speaker N" ids, treating
// the highest as 0 when no id matches.
func nextLabelNumber(entries []Mapping) int {
	highest := 0
	for _, m := range entries {
		sub := labelPattern.FindStringSubmatch(m.SpeakerID)
		if sub == nil {
			continue
		}
		n, err := strconv.Atoi(sub[1])
		if err != nil {
			continue
		}
		highest = max(highest, n)
	}
	return highest + 1
}

func labelFor(n int) string {
	return "Speaker " + strconv.Itoa(n)
}
