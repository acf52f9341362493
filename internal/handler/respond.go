package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	appI18n "github.com/pavelanni/viva/internal/i18n"
	"github.com/pavelanni/viva/internal/media"
	"github.com/pavelanni/viva/internal/viva"
)

const maxJSONBody = 1 << 20

type errorResponse struct {
	Code   string            `json:"code"`
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

// writeError sends a localized error message. code is the message ID.
func writeError(w http.ResponseWriter, r *http.Request, status int, code string) {
	writeJSON(w, status, errorResponse{Code: code, Error: appI18n.T(r.Context(), code)})
}

// fail maps an error from the orchestrator or a collaborator to a response.
func fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code := errorStatus(err)
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	} else {
		slog.Debug("request rejected", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	}
	writeError(w, r, status, code)
}

func errorStatus(err error) (int, string) {
	var tooBig *http.MaxBytesError
	switch {
	case errors.Is(err, viva.ErrNotFound):
		return http.StatusNotFound, "ErrNotFound"
	case errors.Is(err, viva.ErrInvalidState):
		return http.StatusConflict, "ErrInvalidState"
	case errors.Is(err, viva.ErrCollaboratorUnavailable):
		return http.StatusServiceUnavailable, "ErrCollaboratorUnavailable"
	case errors.Is(err, viva.ErrInvalidInput):
		return http.StatusBadRequest, "ErrInvalidInput"
	case errors.Is(err, media.ErrUnsupportedFormat):
		return http.StatusBadRequest, "ErrUnsupportedFormat"
	case errors.Is(err, media.ErrTooLarge), errors.As(err, &tooBig):
		return http.StatusBadRequest, "ErrTooLarge"
	case errors.Is(err, media.ErrEmpty):
		return http.StatusBadRequest, "ErrEmptyFile"
	case errors.Is(err, media.ErrNoTranscript):
		return http.StatusNotFound, "ErrNoTranscript"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "ErrTimeout"
	}
	return http.StatusInternalServerError, "ErrInternal"
}

// decode reads a JSON body into dst and validates it. On failure it writes
// the response and returns false.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, r, http.StatusBadRequest, "ErrBadJSON")
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		var ve validator.ValidationErrors
		if !errors.As(err, &ve) {
			writeError(w, r, http.StatusBadRequest, "ErrInvalidInput")
			return false
		}
		fields := make(map[string]string, len(ve))
		for _, fe := range ve {
			fields[fe.Namespace()] = fe.Tag()
		}
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Code:   "ErrValidation",
			Error:  appI18n.T(r.Context(), "ErrValidation"),
			Fields: fields,
		})
		return false
	}
	return true
}

// idParam parses a numeric URL parameter. On failure it writes a 400 and
// returns false.
func idParam(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, r, http.StatusBadRequest, "ErrBadID")
		return 0, false
	}
	return id, true
}
