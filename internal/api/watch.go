package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/voxlabel/internal/observe"
	"github.com/MrWong99/voxlabel/internal/session"
)

// watchEvent is one frame of the watch stream.
type watchEvent struct {
	session.Status
	RemainingSeconds int64 `json:"remainingSeconds"`
}

// writeTimeout bounds a single frame write.
const writeTimeout = 5 * time.Second

// handleWatch handles GET /v1/sessions/{sid}/watch. It upgrades to a websocket
// and pushes the session status every watch interval until the session is
// gone, the client disconnects or the server shuts down. The final frame of
// an expired session has state "expired".
func (s *Server) handleWatch(w http.ResponseWriter, r *http.Request) {
	sid := r.PathValue("sid")
	st, ok := s.sessions.Status(sid)
	if !ok {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "session " + sid + " not found"})
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		observe.Logger(r.Context()).Warn("api: watch upgrade failed", "err", err)
		return
	}
	defer conn.CloseNow()

	// Client frames are not expected; CloseRead handles control frames and
	// cancels ctx when the peer goes away.
	ctx := conn.CloseRead(r.Context())

	ticker := time.NewTicker(s.watchInterval)
	defer ticker.Stop()

	for {
		if err := writeEvent(ctx, conn, st); err != nil {
			if !errors.Is(err, context.Canceled) {
				observe.Logger(ctx).Debug("api: watch write failed", "err", err)
			}
			return
		}
		if st.State == session.StateExpired {
			conn.Close(websocket.StatusNormalClosure, "session expired")
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		var live bool
		st, live = s.sessions.Status(sid)
		if !live {
			st = session.Status{SessionID: sid, State: session.StateExpired}
		}
	}
}

func writeEvent(ctx context.Context, conn *websocket.Conn, st session.Status) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, watchEvent{
		Status:           st,
		RemainingSeconds: int64(st.Remaining / time.Second),
	})
}
