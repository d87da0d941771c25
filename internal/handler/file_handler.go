package handler

import (
	"errors"
	"net/http"

	"inkscribe-server/internal/blobstore"
	"inkscribe-server/pkg/response"

	"github.com/gorilla/mux"
)

// FileHandler serves stored note images at their durable URLs.
type FileHandler struct {
	blobs *blobstore.FS
}

func NewFileHandler(blobs *blobstore.FS) *FileHandler {
	return &FileHandler{blobs: blobs}
}

func (h *FileHandler) Serve(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["path"]
	file, err := h.blobs.Open(key)
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			response.NotFound(w, "File not found")
			return
		}
		response.BadRequest(w, "Invalid file path")
		return
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil || info.IsDir() {
		response.NotFound(w, "File not found")
		return
	}
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	http.ServeContent(w, r, info.Name(), info.ModTime(), file)
}
