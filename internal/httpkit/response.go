// Package httpkit holds the small HTTP plumbing the API handlers share:
// JSON encoding with the error envelope, CORS, and postgres error checks.
package httpkit

import (
	"encoding/json"
	"net/http"
)

// ErrorEnvelope is the body every failing endpoint returns.
type ErrorEnvelope struct {
	Error ErrorBody `json:"error"`
}

// ErrorBody carries the machine code, the human message and optional
// structured details.
type ErrorBody struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// DecodeJSON strictly decodes a request body, rejecting unknown fields.
func DecodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// WriteJSON writes body as JSON with the given status.
func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// WriteErr writes the error envelope with the given status.
func WriteErr(w http.ResponseWriter, status int, code, msg string, details map[string]any) {
	WriteJSON(w, status, ErrorEnvelope{Error: ErrorBody{Code: code, Message: msg, Details: details}})
}
