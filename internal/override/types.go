// Package override tracks session-scoped corrections of speaker mappings.
//
// An override replaces a speaker's name and role for the lifetime of a
// session while keeping the value it replaced, so it can always be reverted.
// Only the latest action per speaker is kept.
package override

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/MrWong99/voxlabel/internal/speaker"
)

// ActionKind distinguishes override and revert actions.
type ActionKind int

const (
	ActionOverride ActionKind = iota
	ActionRevert
)

// String returns the wire name of k.
func (k ActionKind) String() string {
	switch k {
	case ActionOverride:
		return "override"
	case ActionRevert:
		return "revert"
	}
	return fmt.Sprintf("action(%d)", int(k))
}

// MarshalJSON encodes k as its wire name.
func (k ActionKind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

// Action is one immutable log entry. Original holds the values the speaker
// had before the action and New the values after it.
type Action struct {
	SpeakerID string         `json:"speakerId"`
	Kind      ActionKind     `json:"action"`
	Original  speaker.Values `json:"originalValue"`
	New       speaker.Values `json:"newValue"`
	Timestamp time.Time      `json:"timestamp"`
}

// Tracker is the override state of one session.
type Tracker struct {
	SessionID       string            `json:"sessionId"`
	TranscriptionID string            `json:"transcriptionId"`
	Actions         map[string]Action `json:"actions"`
	SessionStarted  time.Time         `json:"sessionStarted"`
	LastActivity    time.Time         `json:"lastActivity"`
}

// Overridden returns the speaker ids whose latest action is an override,
// sorted.
func (t Tracker) Overridden() []string {
	var ids []string
	for id, a := range t.Actions {
		if a.Kind == ActionOverride {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}

// OverrideCount returns the number of speakers currently overridden.
func (t Tracker) OverrideCount() int {
	n := 0
	for _, a := range t.Actions {
		if a.Kind == ActionOverride {
			n++
		}
	}
	return n
}

func (t *Tracker) clone() Tracker {
	c := *t
	c.Actions = maps.Clone(t.Actions)
	if c.Actions == nil {
		c.Actions = make(map[string]Action)
	}
	return c
}
