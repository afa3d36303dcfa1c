package speaker

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownField is returned by [Store.Update] when the field is neither
// "name" nor "role".
var ErrUnknownField = errors.New("speaker: unknown field")

// ValidationError reports the field errors that blocked a commit for one
// speaker.
type ValidationError struct {
	SpeakerID string
	Fields    []FieldError
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		msgs[i] = f.Error()
	}
	return fmt.Sprintf("speaker %q: invalid mapping: %s", e.SpeakerID, strings.Join(msgs, "; "))
}

// LastEntityError is returned when a removal would leave the mapping set
// empty.
type LastEntityError struct {
	SpeakerID string
}

func (e *LastEntityError) Error() string {
	return fmt.Sprintf("cannot remove %q: at least one speaker must remain", e.SpeakerID)
}

// SpeakerNotFoundError is returned when an operation references a speaker id
// that is not part of the mapping set.
type SpeakerNotFoundError struct {
	SpeakerID       string
	TranscriptionID string
}

func (e *SpeakerNotFoundError) Error() string {
	if e.TranscriptionID == "" {
		return fmt.Sprintf("speaker %q not found", e.SpeakerID)
	}
	return fmt.Sprintf("speaker %q not found in transcription %q", e.SpeakerID, e.TranscriptionID)
}

// IsNotFound reports whether err is or wraps a [SpeakerNotFoundError].
func IsNotFound(err error) bool {
	var nf *SpeakerNotFoundError
	return errors.As(err, &nf)
}

// IsLastEntity reports whether err is or wraps a [LastEntityError].
func IsLastEntity(err error) bool {
	var le *LastEntityError
	return errors.As(err, &le)
}
