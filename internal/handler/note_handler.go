package handler

import (
	"encoding/json"
	"net/http"

	"inkscribe-server/internal/domain"
	"inkscribe-server/internal/service"
	"inkscribe-server/internal/session"
	"inkscribe-server/pkg/response"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
)

type NoteHandler struct {
	service  *service.NoteService
	sessions *session.Manager
	validate *validator.Validate
}

func NewNoteHandler(service *service.NoteService, sessions *session.Manager) *NoteHandler {
	return &NoteHandler{
		service:  service,
		sessions: sessions,
		validate: validator.New(),
	}
}

func (h *NoteHandler) List(w http.ResponseWriter, r *http.Request) {
	sess, ok := lookupSession(h.sessions, w, r)
	if !ok {
		return
	}
	response.Success(w, h.service.List(sess))
}

func (h *NoteHandler) Get(w http.ResponseWriter, r *http.Request) {
	sess, ok := lookupSession(h.sessions, w, r)
	if !ok {
		return
	}

	note, err := h.service.Get(r.Context(), sess, mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	response.Success(w, note)
}

func (h *NoteHandler) Update(w http.ResponseWriter, r *http.Request) {
	sess, ok := lookupSession(h.sessions, w, r)
	if !ok {
		return
	}

	var req domain.EditNoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request payload")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	note, err := h.service.Edit(r.Context(), sess, mux.Vars(r)["id"], req)
	if err != nil {
		writeError(w, err)
		return
	}
	response.Success(w, note)
}

func (h *NoteHandler) Delete(w http.ResponseWriter, r *http.Request) {
	sess, ok := lookupSession(h.sessions, w, r)
	if !ok {
		return
	}

	if err := h.service.Delete(r.Context(), sess, mux.Vars(r)["id"]); err != nil {
		writeError(w, err)
		return
	}
	response.Message(w, "Note deleted")
}

func (h *NoteHandler) Export(w http.ResponseWriter, r *http.Request) {
	sess, ok := lookupSession(h.sessions, w, r)
	if !ok {
		return
	}

	name, content, err := h.service.Export(r.Context(), sess, mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	response.Attachment(w, name, "text/markdown; charset=utf-8", content)
}

// Preview serves the in-memory image of a note still being uploaded. The
// route is unauthenticated so <img> tags can load it; both path segments
// are random UUIDs.
func (h *NoteHandler) Preview(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessions.Get(mux.Vars(r)["sid"])
	if err != nil {
		response.NotFound(w, "Preview not found")
		return
	}

	preview, found := sess.Preview(mux.Vars(r)["id"])
	if !found {
		response.NotFound(w, "Preview not found")
		return
	}
	w.Header().Set("Content-Type", preview.ContentType)
	w.Header().Set("Cache-Control", "no-store")
	w.Write(preview.Data)
}
