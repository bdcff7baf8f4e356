// Package httputil holds the JSON response and request helpers shared by the
// front controller and module handlers.
package httputil

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/Guillaume29200/esport-cms/internal/errors"
	"github.com/Guillaume29200/esport-cms/internal/logging"
)

// MaxBodyBytes bounds JSON request bodies.
const MaxBodyBytes = 1 << 20

// ErrorBody is the JSON envelope for every error response.
type ErrorBody struct {
	Error ErrorPayload `json:"error"`
}

// ErrorPayload describes a failed request.
type ErrorPayload struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
	TraceID string                 `json:"trace_id,omitempty"`
}

// WriteJSON writes v as JSON with status.
func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

// WriteErrorResponse writes the error envelope.
func WriteErrorResponse(w http.ResponseWriter, r *http.Request, status int, code, message string, details map[string]interface{}) {
	payload := ErrorPayload{Code: code, Message: message, Details: details}
	if r != nil {
		payload.TraceID = logging.GetTraceID(r.Context())
	}
	WriteJSON(w, status, ErrorBody{Error: payload})
}

// WriteError maps err to a response. Errors that are not ServiceErrors are
// reported as internal errors without leaking their text.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	se := errors.GetServiceError(err)
	if se == nil {
		se = errors.Internal("Internal server error", err)
	}
	message := se.Message
	if se.Code == errors.CodeInternal {
		message = "Internal server error"
	}
	WriteErrorResponse(w, r, se.HTTPStatus, string(se.Code), message, se.Details)
}

// Unauthorized writes a 401 envelope.
func Unauthorized(w http.ResponseWriter, r *http.Request, message string) {
	WriteError(w, r, errors.Unauthorized(message))
}

// Forbidden writes a 403 envelope.
func Forbidden(w http.ResponseWriter, r *http.Request, message string) {
	WriteError(w, r, errors.Forbidden(message))
}

// NotFound writes a 404 envelope for an unmatched route.
func NotFound(w http.ResponseWriter, r *http.Request) {
	WriteErrorResponse(w, r, http.StatusNotFound, string(errors.CodeNotFound), "Route not found", map[string]interface{}{
		"path": r.URL.Path,
	})
}

// MethodNotAllowed writes a 405 envelope.
func MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	WriteErrorResponse(w, r, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", map[string]interface{}{
		"method": r.Method,
		"path":   r.URL.Path,
	})
}

// DecodeJSON decodes the request body into v, rejecting bodies larger than
// MaxBodyBytes and trailing data.
func DecodeJSON(r *http.Request, v interface{}) error {
	if r.Body == nil {
		return errors.BadRequest("Request body is required")
	}
	if ct := r.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "application/json") {
		return errors.BadRequest("Content-Type must be application/json")
	}

	body, err := ReadAllStrict(r.Body, MaxBodyBytes)
	if err != nil {
		return errors.BadRequest(err.Error())
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return errors.BadRequest("Request body is required")
	}

	dec := json.NewDecoder(strings.NewReader(string(body)))
	if err := dec.Decode(v); err != nil {
		return errors.BadRequest(fmt.Sprintf("Invalid JSON: %v", err))
	}
	if dec.More() {
		return errors.BadRequest("Invalid JSON: trailing data")
	}
	return nil
}

// ReadAllStrict reads r fully and fails when it holds more than limit bytes.
func ReadAllStrict(r io.Reader, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("body exceeds %d bytes", limit)
	}
	return data, nil
}
