package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/meetwren/wren/internal/callbot"
	"github.com/meetwren/wren/internal/crmsync"
	"github.com/meetwren/wren/internal/session"
	"github.com/meetwren/wren/internal/store"
	"github.com/meetwren/wren/internal/validation"
	"github.com/meetwren/wren/pkg/platform"
)

// errorBody is the envelope for every non-2xx response. Adapter and store
// internals never leak through it: unclassified errors are logged and
// reported as a generic message.
type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("api: encode response", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	var body errorBody
	body.Error.Code = code
	body.Error.Message = message
	writeJSON(w, status, body)
}

// respondError classifies err into a status code and envelope. The mapping
// follows the error taxonomy: caller mistakes are 4xx, everything else is a
// 500 with the detail kept server-side.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	var perm *platform.PermanentError

	switch {
	case errors.Is(err, store.ErrNotFound),
		errors.Is(err, session.ErrUnknownSession),
		errors.Is(err, validation.ErrUnknownQuestion):
		writeError(w, http.StatusNotFound, "not_found", err.Error())

	case errors.Is(err, session.ErrMeetingBusy),
		errors.Is(err, session.ErrNotFailed),
		errors.Is(err, validation.ErrAlreadyComplete),
		errors.Is(err, crmsync.ErrValidationGate):
		writeError(w, http.StatusConflict, "conflict", err.Error())

	case errors.Is(err, validation.ErrExpired):
		writeError(w, http.StatusGone, "expired", err.Error())

	case errors.Is(err, validation.ErrIncomplete),
		errors.Is(err, validation.ErrResponseShape),
		errors.Is(err, crmsync.ErrNothingToSync):
		writeError(w, http.StatusUnprocessableEntity, "unprocessable", err.Error())

	case errors.Is(err, callbot.ErrUnknownPlatform),
		errors.Is(err, callbot.ErrSessionTaken),
		errors.As(err, &perm):
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())

	default:
		slog.Error("api: request failed", "method", r.Method, "path", r.URL.Path, "err", err)
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

// decodeJSON reads the request body into v, rejecting unknown fields.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
