package override

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyID is returned when a session or speaker id is blank.
	ErrEmptyID = errors.New("override: id must not be empty")

	// ErrTranscriptionMismatch is returned when an override names a
	// transcription other than the one the session is bound to.
	ErrTranscriptionMismatch = errors.New("override: session is bound to a different transcription")
)

// SessionNotFoundError is returned when an operation references a session
// that has no tracker, either because it never overrode anything or because
// it expired and was purged.
type SessionNotFoundError struct {
	SessionID string
}

func (e *SessionNotFoundError) Error() string {
	return fmt.Sprintf("session %q not found", e.SessionID)
}

// IsSessionNotFound reports whether err is or wraps a [SessionNotFoundError].
func IsSessionNotFound(err error) bool {
	var nf *SessionNotFoundError
	return errors.As(err, &nf)
}
