package apperr

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrapKeepsMarkerAndCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := Wrap(ErrUploadFailed, "upload", "put object", "", cause)

	assert.ErrorIs(t, err, ErrUploadFailed)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "upload failed: upload: put object: connection reset", err.Error())
}

func TestWrapWithoutCause(t *testing.T) {
	assert.Equal(t, ErrBusy, Wrap(ErrBusy, "", "", "", nil))

	err := Wrap(ErrInvalidResponse, "gateway", "", "empty title", nil)
	assert.ErrorIs(t, err, ErrInvalidResponse)
	assert.Equal(t, "AI returned an invalid response: gateway: empty title", err.Error())
}

func TestHTTPStatus(t *testing.T) {
	cases := map[error]int{
		nil:                                   http.StatusOK,
		ErrAuthRequired:                       http.StatusUnauthorized,
		Wrap(ErrBusy, "upload", "", "", nil):  http.StatusConflict,
		ErrNotFound:                           http.StatusNotFound,
		ErrForbidden:                          http.StatusForbidden,
		ErrInvalidInput:                       http.StatusBadRequest,
		ErrInvalidResponse:                    http.StatusBadGateway,
		errors.New("boom"):                    http.StatusInternalServerError,
	}
	for err, want := range cases {
		assert.Equal(t, want, HTTPStatus(err), "error %v", err)
	}
}
