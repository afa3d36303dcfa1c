package api

import (
	"net/http"

	"github.com/MrWong99/voxlabel/internal/observe"
	"github.com/MrWong99/voxlabel/internal/speaker"
)

type createSessionResponse struct {
	SessionID string `json:"sessionId"`
}

type overrideRequest struct {
	TranscriptionID string `json:"transcriptionId"`
	Name            string `json:"name"`
	Role            string `json:"role"`
}

type overrideResponse struct {
	SessionID string            `json:"sessionId"`
	Mappings  []speaker.Mapping `json:"mappings"`
}

type revertAllResponse struct {
	Reverted int      `json:"reverted"`
	Errors   []string `json:"errors,omitempty"`
}

type clearResponse struct {
	Cleared bool `json:"cleared"`
}

// handleCreateSession handles POST /v1/sessions. Nothing is tracked until the
// session applies its first override.
func (s *Server) handleCreateSession(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusCreated, createSessionResponse{SessionID: s.newSessionID()})
}

// handleStatus handles GET /v1/sessions/{sid}. Reading the status does not
// keep the session alive.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	sid := r.PathValue("sid")
	st, ok := s.sessions.Status(sid)
	if !ok {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "session " + sid + " not found"})
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// handleClearSession handles DELETE /v1/sessions/{sid}.
func (s *Server) handleClearSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, clearResponse{Cleared: s.sessions.ClearSession(r.PathValue("sid"))})
}

// handleExtend handles POST /v1/sessions/{sid}/extend.
func (s *Server) handleExtend(w http.ResponseWriter, r *http.Request) {
	st, err := s.sessions.Extend(r.PathValue("sid"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// handleApplyOverride handles PUT /v1/sessions/{sid}/overrides/{speakerId}.
func (s *Server) handleApplyOverride(w http.ResponseWriter, r *http.Request) {
	sid := r.PathValue("sid")

	var req overrideRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	mappings, err := s.sessions.ApplyOverride(sid, req.TranscriptionID, r.PathValue("speakerId"), req.Name, req.Role)
	if err != nil {
		s.recordValidation(r, err)
		writeError(w, r, err)
		return
	}
	ctx := observe.WithScope(r.Context(), observe.Scope{TranscriptionID: req.TranscriptionID})
	s.metrics.RecordOverride(ctx)
	observe.Logger(ctx).Debug("api: override applied")
	writeJSON(w, http.StatusOK, overrideResponse{SessionID: sid, Mappings: mappings})
}

// handleRevertOverride handles DELETE /v1/sessions/{sid}/overrides/{speakerId}.
func (s *Server) handleRevertOverride(w http.ResponseWriter, r *http.Request) {
	sid := r.PathValue("sid")
	mappings, err := s.sessions.RevertOverride(sid, r.PathValue("speakerId"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.metrics.RecordReverts(r.Context(), "single", 1)
	writeJSON(w, http.StatusOK, overrideResponse{SessionID: sid, Mappings: mappings})
}

// handleRevertAll handles DELETE /v1/sessions/{sid}/overrides. Individual
// failures are listed in the response; the successful reverts still apply.
func (s *Server) handleRevertAll(w http.ResponseWriter, r *http.Request) {
	n, err := s.sessions.RevertAll(r.PathValue("sid"))
	if n == 0 && err != nil {
		writeError(w, r, err)
		return
	}
	s.metrics.RecordReverts(r.Context(), "all", n)

	resp := revertAllResponse{Reverted: n}
	if err != nil {
		resp.Errors = unjoin(err)
	}
	writeJSON(w, http.StatusOK, resp)
}

// unjoin splits an errors.Join result into its messages.
func unjoin(err error) []string {
	j, ok := err.(interface{ Unwrap() []error })
	if !ok {
		return []string{err.Error()}
	}
	errs := j.Unwrap()
	out := make([]string, len(errs))
	for i, e := range errs {
		out[i] = e.Error()
	}
	return out
}
