package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/teranos/rankpulse/errors"
	"github.com/teranos/rankpulse/logger"
)

// ErrorResponse is the JSON body of every error reply
type ErrorResponse struct {
	Error   string   `json:"error"`
	Hints   []string `json:"hints,omitempty"`
	Details []string `json:"details,omitempty"` // from errors.GetAllDetails()
}

// writeJSON writes a JSON response with the given status code
func writeJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		return errors.Wrap(err, "failed to encode JSON")
	}
	return nil
}

// writeError writes a JSON error response
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}

// writeWrappedError maps err onto a status code and writes it with its hints
// and details. Server-side failures are logged; client mistakes are not.
func writeWrappedError(w http.ResponseWriter, log *zap.SugaredLogger, err error, context string) {
	status := statusFor(err)
	wrapped := errors.Wrap(err, context)
	if status >= http.StatusInternalServerError {
		log.Errorw(context, logger.FieldError, err, "details", errors.GetAllDetails(err))
	}
	writeJSON(w, status, ErrorResponse{
		Error:   wrapped.Error(),
		Hints:   errors.GetAllHints(err),
		Details: errors.GetAllDetails(err),
	})
}

// statusFor picks the HTTP status for an error from its sentinel
func statusFor(err error) int {
	switch {
	case errors.IsNotFoundError(err):
		return http.StatusNotFound
	case errors.IsInvalidRequestError(err):
		return http.StatusBadRequest
	case errors.IsConflictError(err):
		return http.StatusConflict
	case errors.Is(err, errors.ErrServiceUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, errors.ErrTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// readJSON decodes the request body into v, replying 400 on failure
func readJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

// queryInt parses an optional integer query parameter
func queryInt(r *http.Request, name string, fallback int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.NewInvalidRequestError("%s must be a non-negative integer, got %q", name, raw)
	}
	return n, nil
}

// shortID truncates an ID to 8 characters for logging
func shortID(id string) string {
	if len(id) >= 8 {
		return id[:8]
	}
	return id
}
