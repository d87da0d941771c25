package handler

import (
	"context"
	"net/http"
	"time"

	"inkscribe-server/pkg/response"
)

// PingFunc reports whether a dependency is reachable.
type PingFunc func(ctx context.Context) (bool, error)

type HealthHandler struct {
	db PingFunc
}

func NewHealthHandler(db PingFunc) *HealthHandler {
	return &HealthHandler{db: db}
}

func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	status := map[string]string{"status": "ok", "database": "ok"}
	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if up, err := h.db(ctx); err != nil || !up {
			status["status"] = "degraded"
			status["database"] = "unreachable"
			response.JSON(w, http.StatusServiceUnavailable, status)
			return
		}
	}
	response.Success(w, status)
}
