// Package httpx holds the JSON request/response helpers shared by the HTTP
// handlers.
package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
)

// ErrValidation marks request input the client can correct.
var ErrValidation = errors.New("invalid request")

// Invalid returns a validation error with the given detail.
func Invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// Decode reads a JSON body into dst. Unknown fields, trailing data and type
// mismatches are rejected as validation errors.
func Decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return Invalid("request body is required")
		}
		return Invalid("malformed request body: %v", err)
	}
	if dec.More() {
		return Invalid("request body must contain a single JSON object")
	}
	return nil
}

// WriteJSON writes v with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// WriteError writes a JSON error response.
func WriteError(w http.ResponseWriter, message string, status int) {
	WriteJSON(w, status, map[string]string{"error": message})
}

// Fail writes err with status. Server errors are logged and replaced by a
// generic message so internals never reach the client.
func Fail(w http.ResponseWriter, r *http.Request, err error, status int) {
	if status >= http.StatusInternalServerError {
		slog.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()),
			"err", err,
		)
		WriteError(w, "internal server error", status)
		return
	}
	WriteError(w, err.Error(), status)
}

// Message is the body of responses that only confirm an action.
type Message struct {
	Message string `json:"message"`
}
