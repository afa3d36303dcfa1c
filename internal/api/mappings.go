package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/MrWong99/voxlabel/internal/editmode"
	"github.com/MrWong99/voxlabel/internal/observe"
	"github.com/MrWong99/voxlabel/internal/speaker"
	"github.com/MrWong99/voxlabel/internal/workspace"
)

// initRequest initialises a workspace. A transcription result
// {transcribedText, speakerLabels} decodes into it as well; the text itself
// is not kept.
type initRequest struct {
	TranscribedText  string            `json:"transcribedText"`
	SpeakerLabels    []string          `json:"speakerLabels"`
	ExistingMappings []speaker.Mapping `json:"existingMappings"`
}

type updateRequest struct {
	Field speaker.Field `json:"field"`
	Value string        `json:"value"`
}

type summaryRequest struct {
	Transcript string `json:"transcript"`
}

type summaryResponse struct {
	Summary string `json:"summary"`
}

// mappingsView is the read model of one workspace.
type mappingsView struct {
	TranscriptionID string                          `json:"transcriptionId"`
	Mappings        []speaker.Mapping               `json:"mappings"`
	HasChanges      bool                            `json:"hasChanges"`
	Error           string                          `json:"error,omitempty"`
	PendingRemoval  *editmode.RemovalRequested      `json:"pendingRemoval"`
	Editing         []string                        `json:"editing"`
	Validation      map[string][]speaker.FieldError `json:"validation"`
	SimilarNames    []speaker.SimilarPair           `json:"similarNames"`
	NextSpeakerID   int                             `json:"nextSpeakerId"`
}

func viewOf(tid string, ws *workspace.Workspace) mappingsView {
	mappings := ws.Store.Mappings()

	// Field errors from a refused save take precedence over live validation.
	validation := speaker.ValidateAll(mappings)
	for id, errs := range ws.Editor.AllErrors() {
		validation[id] = errs
	}

	v := mappingsView{
		TranscriptionID: tid,
		Mappings:        mappings,
		HasChanges:      ws.Store.HasChanges(),
		Editing:         ws.Editor.Editing(),
		Validation:      validation,
		SimilarNames:    speaker.SimilarNames(mappings),
		NextSpeakerID:   ws.Store.NextSpeakerID(),
	}
	if v.SimilarNames == nil {
		v.SimilarNames = []speaker.SimilarPair{}
	}
	if v.Editing == nil {
		v.Editing = []string{}
	}
	if err := ws.Store.Err(); err != nil {
		v.Error = err.Error()
	}
	if req, ok := ws.Editor.Pending().(editmode.RemovalRequested); ok {
		v.PendingRemoval = &req
	}
	return v
}

// workspaceFor resolves the {tid} path value, writing a 404 when the
// transcription has no workspace.
func (s *Server) workspaceFor(w http.ResponseWriter, r *http.Request) (string, *workspace.Workspace, bool) {
	tid := r.PathValue("tid")
	ws, ok := s.workspaces.Get(tid)
	if !ok {
		writeJSON(w, http.StatusNotFound, errorBody{Error: fmt.Sprintf("transcription %q has no mappings", tid)})
		return tid, nil, false
	}
	return tid, ws, true
}

// respond writes the workspace view, or the error when err is non-nil.
func (s *Server) respond(w http.ResponseWriter, r *http.Request, tid string, ws *workspace.Workspace, status int, err error) {
	if err != nil {
		s.recordValidation(r, err)
		writeError(w, r, err)
		return
	}
	writeJSON(w, status, viewOf(tid, ws))
}

func (s *Server) recordValidation(r *http.Request, err error) {
	var ve *speaker.ValidationError
	if !errors.As(err, &ve) {
		return
	}
	for _, f := range ve.Fields {
		s.metrics.RecordValidationFailure(r.Context(), string(f.Field))
	}
}

// handleInitialize handles POST /v1/transcriptions/{tid}/mappings.
func (s *Server) handleInitialize(w http.ResponseWriter, r *http.Request) {
	tid := r.PathValue("tid")

	var req initRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	ws := s.workspaces.Open(tid, req.SpeakerLabels, req.ExistingMappings)
	observe.Logger(r.Context()).Debug("api: mappings initialised", "speakers", ws.Store.Len())
	writeJSON(w, http.StatusCreated, viewOf(tid, ws))
}

// handleMappings handles GET /v1/transcriptions/{tid}/mappings.
func (s *Server) handleMappings(w http.ResponseWriter, r *http.Request) {
	tid, ws, ok := s.workspaceFor(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, viewOf(tid, ws))
}

// handleUpdate handles PATCH /v1/transcriptions/{tid}/mappings/{speakerId}.
func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	tid, ws, ok := s.workspaceFor(w, r)
	if !ok {
		return
	}
	var req updateRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	err := ws.Store.Update(r.PathValue("speakerId"), req.Field, req.Value)
	s.respond(w, r, tid, ws, http.StatusOK, err)
}

// handleStartEdit handles POST .../mappings/{speakerId}/edit.
func (s *Server) handleStartEdit(w http.ResponseWriter, r *http.Request) {
	tid, ws, ok := s.workspaceFor(w, r)
	if !ok {
		return
	}
	err := ws.Editor.StartEdit(r.PathValue("speakerId"))
	s.respond(w, r, tid, ws, http.StatusOK, err)
}

// handleSaveEdit handles POST .../mappings/{speakerId}/save. The edit is only
// saved when the current values validate.
func (s *Server) handleSaveEdit(w http.ResponseWriter, r *http.Request) {
	tid, ws, ok := s.workspaceFor(w, r)
	if !ok {
		return
	}
	err := ws.Editor.Commit(r.PathValue("speakerId"))
	s.respond(w, r, tid, ws, http.StatusOK, err)
}

// handleCancelEdit handles POST .../mappings/{speakerId}/cancel.
func (s *Server) handleCancelEdit(w http.ResponseWriter, r *http.Request) {
	tid, ws, ok := s.workspaceFor(w, r)
	if !ok {
		return
	}
	ws.Editor.CancelEdit(r.PathValue("speakerId"))
	s.respond(w, r, tid, ws, http.StatusOK, nil)
}

// handleAddSpeaker handles POST /v1/transcriptions/{tid}/speakers.
func (s *Server) handleAddSpeaker(w http.ResponseWriter, r *http.Request) {
	tid, ws, ok := s.workspaceFor(w, r)
	if !ok {
		return
	}
	ws.Store.Add()
	s.respond(w, r, tid, ws, http.StatusCreated, nil)
}

// handleRequestRemove handles POST .../speakers/{index}/remove. It only opens
// the confirmation; the removal happens on confirm.
func (s *Server) handleRequestRemove(w http.ResponseWriter, r *http.Request) {
	tid, ws, ok := s.workspaceFor(w, r)
	if !ok {
		return
	}
	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil {
		writeError(w, r, fmt.Errorf("%w: speaker index %q", errBadRequest, r.PathValue("index")))
		return
	}
	_, err = ws.Editor.RequestRemove(index)
	s.respond(w, r, tid, ws, http.StatusOK, err)
}

// handleConfirmRemove handles POST /v1/transcriptions/{tid}/removal/confirm.
func (s *Server) handleConfirmRemove(w http.ResponseWriter, r *http.Request) {
	tid, ws, ok := s.workspaceFor(w, r)
	if !ok {
		return
	}
	_, err := ws.Editor.ConfirmRemove()
	s.respond(w, r, tid, ws, http.StatusOK, err)
}

// handleCancelRemove handles POST /v1/transcriptions/{tid}/removal/cancel.
func (s *Server) handleCancelRemove(w http.ResponseWriter, r *http.Request) {
	tid, ws, ok := s.workspaceFor(w, r)
	if !ok {
		return
	}
	ws.Editor.CancelRemove()
	s.respond(w, r, tid, ws, http.StatusOK, nil)
}

// handleSummary handles POST /v1/transcriptions/{tid}/summary.
func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	_, ws, ok := s.workspaceFor(w, r)
	if !ok {
		return
	}
	if s.summariser == nil {
		writeError(w, r, errNoSummariser)
		return
	}
	var req summaryRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	ctx, span := observe.StartSpan(r.Context(), "summary.Summarise")
	defer span.End()

	start := time.Now()
	text, err := s.summariser.Summarise(ctx, req.Transcript, ws.Store.Mappings())
	s.metrics.SummaryDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summaryResponse{Summary: text})
}
