// Package speaker holds the speaker mapping model for a single transcription:
// the validation rules for name/role candidates and the in-memory [Store] that
// owns a transcription's mapping set.
//
// A mapping associates a raw speaker label emitted by transcription (for
// example "Speaker 1") with a human-readable name and role. Nothing in this
// package persists data; a Store lives exactly as long as its owner keeps it.
package speaker

import (
	"encoding/json"
	"fmt"
)

// Provenance records where a mapping entry came from.
type Provenance int

const (
	// AutoDetected entries originate from the transcript's speaker labels.
	AutoDetected Provenance = iota

	// ManuallyAdded entries were created by the user and have no backing
	// transcript label.
	ManuallyAdded
)

// String returns the wire name of p.
func (p Provenance) String() string {
	switch p {
	case AutoDetected:
		return "auto_detected"
	case ManuallyAdded:
		return "manually_added"
	}
	return fmt.Sprintf("provenance(%d)", int(p))
}

// MarshalJSON encodes p as its wire name.
func (p Provenance) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

// UnmarshalJSON decodes a wire name produced by [Provenance.MarshalJSON].
func (p *Provenance) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	switch s {
	case "auto_detected", "":
		*p = AutoDetected
	case "manually_added":
		*p = ManuallyAdded
	default:
		return fmt.Errorf("speaker: unknown provenance %q", s)
	}
	return nil
}

// Mapping is one entry per known speaker.
type Mapping struct {
	// SpeakerID is unique within a transcription's mapping set.
	SpeakerID string `json:"speakerId"`

	// Name is the display name. Empty means unmapped.
	Name string `json:"name"`

	// Role is an optional role or title.
	Role string `json:"role"`

	Provenance Provenance `json:"provenance"`

	// TranscriptionID names the owning transcription. It is not a source of
	// truth for uniqueness; SpeakerID is.
	TranscriptionID string `json:"transcriptionId"`
}

// Values returns the name/role pair of m.
func (m Mapping) Values() Values {
	return Values{Name: m.Name, Role: m.Role}
}

// DisplayName returns Name, falling back to SpeakerID when Name is blank.
func (m Mapping) DisplayName() string {
	if m.Name != "" {
		return m.Name
	}
	return m.SpeakerID
}

// Values is the editable name/role pair of a mapping. It is the unit captured
// by edit snapshots and override actions.
type Values struct {
	Name string `json:"name" validate:"trimmin=2"`
	Role string `json:"role" validate:"trimmin=2"`
}

// Field selects one of the editable fields of a mapping.
type Field string

const (
	FieldName Field = "name"
	FieldRole Field = "role"
)

// IsValid reports whether f names an editable field.
func (f Field) IsValid() bool {
	return f == FieldName || f == FieldRole
}

// FieldError is a validation failure on a single field.
type FieldError struct {
	Field   Field  `json:"field"`
	Message string `json:"message"`
}

// Error implements error.
func (e FieldError) Error() string {
	return string(e.Field) + ": " + e.Message
}
