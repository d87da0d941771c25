package handler

import (
	"log/slog"
	"net/http"

	"inkscribe-server/internal/middleware"
	"inkscribe-server/internal/session"
	"inkscribe-server/pkg/response"

	"github.com/gorilla/mux"
)

type SessionHandler struct {
	sessions *session.Manager
	logger   *slog.Logger
}

func NewSessionHandler(sessions *session.Manager, logger *slog.Logger) *SessionHandler {
	return &SessionHandler{sessions: sessions, logger: logger}
}

// lookupSession resolves {sid} for the calling user and writes the error
// reply when it cannot.
func lookupSession(sessions *session.Manager, w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	userID := middleware.GetUserID(r)
	if userID == "" {
		response.Unauthorized(w, "Unauthorized")
		return nil, false
	}
	sess, err := sessions.GetFor(mux.Vars(r)["sid"], userID)
	if err != nil {
		writeError(w, err)
		return nil, false
	}
	return sess, true
}

func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r)
	if userID == "" {
		response.Unauthorized(w, "Unauthorized")
		return
	}

	sess, err := h.sessions.Create(r.Context(), userID)
	if err != nil {
		h.logger.Warn("failed to open session", "user_id", userID, "error", err)
		writeError(w, err)
		return
	}

	response.Created(w, sess.Response())
}

func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	sess, ok := lookupSession(h.sessions, w, r)
	if !ok {
		return
	}
	response.Success(w, sess.Response())
}

func (h *SessionHandler) Close(w http.ResponseWriter, r *http.Request) {
	sess, ok := lookupSession(h.sessions, w, r)
	if !ok {
		return
	}
	h.sessions.Close(sess.ID)
	response.Message(w, "Session closed")
}

// SignIn re-attaches the session to its creator after a sign-out.
func (h *SessionHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	sess, ok := lookupSession(h.sessions, w, r)
	if !ok {
		return
	}
	if err := sess.SignIn(r.Context(), middleware.GetUserID(r)); err != nil {
		h.logger.Warn("sign in failed", "session_id", sess.ID, "error", err)
		writeError(w, err)
		return
	}
	response.Success(w, sess.Response())
}

func (h *SessionHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	sess, ok := lookupSession(h.sessions, w, r)
	if !ok {
		return
	}
	sess.SignOut()
	response.Success(w, sess.Response())
}
