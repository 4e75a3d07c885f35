package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	logpkg "github.com/benvon/learning-stats/internal/logger"
	"github.com/benvon/learning-stats/internal/validation"
	"github.com/go-playground/validator/v10"
)

const maxErrorMessageLength = 200

type successEnvelope struct {
	Success   bool   `json:"success"`
	Data      any    `json:"data"`
	Timestamp string `json:"timestamp"`
}

type errorEnvelope struct {
	Success   bool   `json:"success"`
	Error     string `json:"error"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func writeEnvelope(w http.ResponseWriter, status int, envelope any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// The status line is already sent, so an encode failure cannot be reported
	_ = json.NewEncoder(w).Encode(envelope)
}

// respondJSON sends data wrapped in the success envelope
func respondJSON(w http.ResponseWriter, status int, data any) {
	writeEnvelope(w, status, successEnvelope{Success: true, Data: data, Timestamp: timestamp()})
}

// respondJSONError sends the error envelope. message is sanitized and capped
// since it may echo request input.
func respondJSONError(w http.ResponseWriter, status int, errorType, message string) {
	writeEnvelope(w, status, errorEnvelope{
		Error:     errorType,
		Message:   sanitizeErrorMessage(message),
		Timestamp: timestamp(),
	})
}

func sanitizeErrorMessage(message string) string {
	return logpkg.SanitizeString(message, maxErrorMessageLength)
}

// decodeAndValidate decodes the request body into dst and runs the shared
// validator over it. On failure the error response has been written and
// false is returned.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	return decodeJSON(w, r, dst) && validateStruct(w, dst)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	err := json.NewDecoder(r.Body).Decode(dst)
	if err == nil {
		return true
	}

	var (
		maxBytesErr *http.MaxBytesError
		typeErr     *json.UnmarshalTypeError
	)
	switch {
	case errors.As(err, &maxBytesErr):
		respondJSONError(w, http.StatusRequestEntityTooLarge, "Request Entity Too Large", fmt.Sprintf("Request body exceeds maximum size of %d bytes", maxBytesErr.Limit))
	case errors.Is(err, io.EOF):
		respondJSONError(w, http.StatusBadRequest, "Bad Request", "Request body is required")
	case errors.As(err, &typeErr) && typeErr.Field != "":
		respondJSONError(w, http.StatusBadRequest, "Bad Request", fmt.Sprintf("Invalid value for field %s", typeErr.Field))
	default:
		respondJSONError(w, http.StatusBadRequest, "Bad Request", "Invalid request body")
	}
	return false
}

func validateStruct(w http.ResponseWriter, v any) bool {
	err := validation.Validate.Struct(v)
	if err == nil {
		return true
	}
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) && len(validationErrors) > 0 {
		first := validationErrors[0]
		respondJSONError(w, http.StatusBadRequest, "Bad Request", fmt.Sprintf("Validation failed: %s failed %s", first.Namespace(), first.Tag()))
		return false
	}
	respondJSONError(w, http.StatusBadRequest, "Bad Request", "Validation failed")
	return false
}
