package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"inkscribe-server/internal/service"
	"inkscribe-server/internal/session"
	"inkscribe-server/pkg/response"
)

type UploadHandler struct {
	sessions    *session.Manager
	uploads     *service.UploadService
	maxBytes    int64
	flowTimeout time.Duration
	baseCtx     context.Context
	logger      *slog.Logger

	wg sync.WaitGroup
}

// NewUploadHandler runs accepted flows under baseCtx so they outlive the
// request that started them.
func NewUploadHandler(baseCtx context.Context, sessions *session.Manager, uploads *service.UploadService, maxBytes int64, flowTimeout time.Duration, logger *slog.Logger) *UploadHandler {
	return &UploadHandler{
		sessions:    sessions,
		uploads:     uploads,
		maxBytes:    maxBytes,
		flowTimeout: flowTimeout,
		baseCtx:     baseCtx,
		logger:      logger,
	}
}

// Upload accepts one photo and replies 202 with the optimistic note. The
// rest of the flow continues in the background and reaches the views over
// the websocket.
func (h *UploadHandler) Upload(w http.ResponseWriter, r *http.Request) {
	sess, ok := lookupSession(h.sessions, w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes+1<<20)
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.Error(w, http.StatusRequestEntityTooLarge, "File too large")
			return
		}
		response.BadRequest(w, "Missing file")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, h.maxBytes+1))
	if err != nil {
		response.BadRequest(w, "Failed to read file")
		return
	}
	if int64(len(data)) > h.maxBytes {
		response.Error(w, http.StatusRequestEntityTooLarge, "File too large")
		return
	}

	up, err := service.NewUpload(header.Filename, data)
	if err != nil {
		writeError(w, err)
		return
	}

	flow, err := h.uploads.Begin(r.Context(), sess, up)
	if err != nil {
		writeError(w, err)
		return
	}

	accepted := flow.Note()
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		ctx, cancel := context.WithTimeout(h.baseCtx, h.flowTimeout)
		defer cancel()
		if _, err := flow.Run(ctx); err != nil {
			h.logger.Info("upload finished with error", "session_id", sess.ID, "note_id", accepted.ID, "error", err)
		}
	}()

	response.Accepted(w, accepted)
}

// Wait blocks until every background flow has finalized.
func (h *UploadHandler) Wait() {
	h.wg.Wait()
}
