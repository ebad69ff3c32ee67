// Package http implements the orders service's REST surface: chi
// router, handlers, and a uniform {"data": ...} / {"error": ...}
// response envelope.
package http

import (
	"net/http"

	"github.com/go-chi/render"

	"github.com/baechuer/asyncorder/internal/apperr"
)

type envelope struct {
	Data any `json:"data,omitempty"`
}

type errorBody struct {
	Error errorPayload `json:"error"`
}

type errorPayload struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Context map[string]any `json:"context,omitempty"`
}

func writeData(w http.ResponseWriter, r *http.Request, status int, data any) {
	render.Status(r, status)
	render.JSON(w, r, envelope{Data: data})
}

// writeError maps an AppError kind to an HTTP status and renders the
// uniform error envelope. Errors that aren't an *apperr.AppError are
// treated as unexpected and reported as 500 without detail.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	ae, ok := apperr.Of(err)
	if !ok {
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, errorBody{Error: errorPayload{Code: "internal_error", Message: "internal server error"}})
		return
	}

	status := http.StatusInternalServerError
	switch ae.Kind {
	case apperr.KindValidation:
		status = http.StatusBadRequest
	case apperr.KindNotFound:
		status = http.StatusNotFound
	case apperr.KindCreation:
		status = http.StatusBadRequest
	}

	render.Status(r, status)
	render.JSON(w, r, errorBody{Error: errorPayload{
		Code:    string(ae.Kind),
		Message: ae.Message,
		Context: ae.Context,
	}})
}
