package apperr

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to write JSON response")
	}
}

// WriteError writes err as {"error":{"code","message"}}. Errors without a
// code are logged and reported as internal without leaking their text.
func WriteError(w http.ResponseWriter, err error) {
	var e *Error
	if !errors.As(err, &e) {
		log.Error().Err(err).Msg("unhandled error")
		e = New(CodeInternal, "internal error")
	} else if e.Status() >= http.StatusInternalServerError {
		log.Error().Err(err).Str("code", string(e.Code)).Msg("request failed")
	}
	WriteJSON(w, e.Status(), errorBody{Error: errorDetail{Code: e.Code, Message: e.Message}})
}
