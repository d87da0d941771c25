package handler

import (
	"errors"
	"net/http"

	"inkscribe-server/internal/apperr"
	"inkscribe-server/internal/session"
	"inkscribe-server/pkg/response"
)

// writeError replies with the status the error's marker maps to.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		response.NotFound(w, err.Error())
		return
	case errors.Is(err, session.ErrSessionLimit):
		response.Error(w, http.StatusTooManyRequests, err.Error())
		return
	}

	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError && status != http.StatusBadGateway {
		response.InternalError(w, "Internal server error")
		return
	}
	response.Error(w, status, err.Error())
}
