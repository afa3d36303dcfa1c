// Package api exposes the speaker mapping workspaces and the override
// sessions as JSON over HTTP.
//
// Transcription routes operate on the edit workspace of one transcription.
// Session routes apply and revert overrides and report the idle lifecycle,
// including a websocket stream that counts down to expiry.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/voxlabel/internal/editmode"
	"github.com/MrWong99/voxlabel/internal/observe"
	"github.com/MrWong99/voxlabel/internal/override"
	"github.com/MrWong99/voxlabel/internal/resilience"
	"github.com/MrWong99/voxlabel/internal/session"
	"github.com/MrWong99/voxlabel/internal/speaker"
	"github.com/MrWong99/voxlabel/internal/summary"
	"github.com/MrWong99/voxlabel/internal/workspace"
)

// defaultWatchInterval is the push period of the session watch stream.
const defaultWatchInterval = time.Second

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// errBadRequest marks malformed requests.
var errBadRequest = errors.New("bad request")

// errNoSummariser is returned when no summariser is configured.
var errNoSummariser = errors.New("no summariser configured")

// Config holds the collaborators of a [Server].
type Config struct {
	Workspaces *workspace.Registry
	Sessions   *session.Manager

	// Summariser serves the summary route. When nil the route answers 503.
	Summariser summary.Summariser

	// Metrics records domain counters. Defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// WatchInterval is the push period of the watch stream. Default: 1s.
	WatchInterval time.Duration

	// NewSessionID generates session ids. Default: uuid.NewString.
	NewSessionID func() string
}

// Server implements the HTTP handlers.
type Server struct {
	workspaces    *workspace.Registry
	sessions      *session.Manager
	summariser    summary.Summariser
	metrics       *observe.Metrics
	watchInterval time.Duration
	newSessionID  func() string
}

// New returns a Server for cfg.
func New(cfg Config) *Server {
	s := &Server{
		workspaces:    cfg.Workspaces,
		sessions:      cfg.Sessions,
		summariser:    cfg.Summariser,
		metrics:       cfg.Metrics,
		watchInterval: cfg.WatchInterval,
		newSessionID:  cfg.NewSessionID,
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	if s.watchInterval <= 0 {
		s.watchInterval = defaultWatchInterval
	}
	if s.newSessionID == nil {
		s.newSessionID = uuid.NewString
	}
	return s
}

// Register adds all routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	handle := func(pattern string, h http.HandlerFunc) { mux.Handle(pattern, scoped(h)) }

	handle("POST /v1/transcriptions/{tid}/mappings", s.handleInitialize)
	handle("GET /v1/transcriptions/{tid}/mappings", s.handleMappings)
	handle("PATCH /v1/transcriptions/{tid}/mappings/{speakerId}", s.handleUpdate)
	handle("POST /v1/transcriptions/{tid}/mappings/{speakerId}/edit", s.handleStartEdit)
	handle("POST /v1/transcriptions/{tid}/mappings/{speakerId}/save", s.handleSaveEdit)
	handle("POST /v1/transcriptions/{tid}/mappings/{speakerId}/cancel", s.handleCancelEdit)
	handle("POST /v1/transcriptions/{tid}/speakers", s.handleAddSpeaker)
	handle("POST /v1/transcriptions/{tid}/speakers/{index}/remove", s.handleRequestRemove)
	handle("POST /v1/transcriptions/{tid}/removal/confirm", s.handleConfirmRemove)
	handle("POST /v1/transcriptions/{tid}/removal/cancel", s.handleCancelRemove)
	handle("POST /v1/transcriptions/{tid}/summary", s.handleSummary)

	handle("POST /v1/sessions", s.handleCreateSession)
	handle("GET /v1/sessions/{sid}", s.handleStatus)
	handle("DELETE /v1/sessions/{sid}", s.handleClearSession)
	handle("POST /v1/sessions/{sid}/extend", s.handleExtend)
	handle("PUT /v1/sessions/{sid}/overrides/{speakerId}", s.handleApplyOverride)
	handle("DELETE /v1/sessions/{sid}/overrides/{speakerId}", s.handleRevertOverride)
	handle("DELETE /v1/sessions/{sid}/overrides", s.handleRevertAll)
	handle("GET /v1/sessions/{sid}/watch", s.handleWatch)
}

// scoped tags the request context with the ids named in the route, so spans
// and loggers derived from it carry them.
func scoped(h http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := observe.WithScope(r.Context(), observe.Scope{
			SessionID:       r.PathValue("sid"),
			TranscriptionID: r.PathValue("tid"),
			SpeakerID:       r.PathValue("speakerId"),
		})
		h(w, r.WithContext(ctx))
	})
}

// errorBody is the JSON body of every error response.
type errorBody struct {
	Error  string               `json:"error"`
	Fields []speaker.FieldError `json:"fields,omitempty"`
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	var (
		ve *speaker.ValidationError
		ie *editmode.IndexError
	)
	switch {
	case errors.As(err, &ve):
		return http.StatusUnprocessableEntity
	case speaker.IsLastEntity(err),
		errors.Is(err, editmode.ErrNoPendingRemoval),
		errors.Is(err, override.ErrTranscriptionMismatch):
		return http.StatusConflict
	case speaker.IsNotFound(err), override.IsSessionNotFound(err), errors.As(err, &ie):
		return http.StatusNotFound
	case errors.Is(err, errBadRequest),
		errors.Is(err, speaker.ErrUnknownField),
		errors.Is(err, override.ErrEmptyID):
		return http.StatusBadRequest
	case errors.Is(err, summary.ErrTranscriptTooLong):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, errNoSummariser):
		return http.StatusServiceUnavailable
	case errors.Is(err, resilience.ErrAllFailed):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	body := errorBody{Error: err.Error()}

	var ve *speaker.ValidationError
	if errors.As(err, &ve) {
		body.Fields = ve.Fields
	}
	if status >= http.StatusInternalServerError {
		observe.Logger(r.Context()).Error("api: request failed", "route", r.Pattern, "err", err)
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("api: encode response", "err", err)
	}
}

// decode reads a JSON body into v. An empty body leaves v untouched.
func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("%w: invalid JSON body: %v", errBadRequest, err)
	}
	return nil
}
