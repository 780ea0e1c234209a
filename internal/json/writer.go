// Package json writes response bodies in the shapes the platform's services
// use, so test servers answer exactly like the real ones.
package json

import (
	"encoding/json"
	"net/http"

	"github.com/dgellow/medfix/internal/log"
)

// AuthError is the auth service's error body.
type AuthError struct {
	Code    string `json:"error_code,omitempty"`
	Message string `json:"msg"`
}

// RESTError is the REST service's error body.
type RESTError struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// FunctionError is the body edge functions answer with on failure.
type FunctionError struct {
	Error string `json:"error"`
}

// WriteResponse writes a JSON response with the given status code
func WriteResponse(w http.ResponseWriter, statusCode int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.LogError("Failed to encode JSON response: %v", err)
		return err
	}
	return nil
}

// Write writes a JSON response with 200 OK status
func Write(w http.ResponseWriter, data any) error {
	return WriteResponse(w, http.StatusOK, data)
}

// WriteAuthError answers like the auth service. code may be empty.
func WriteAuthError(w http.ResponseWriter, statusCode int, code, message string) {
	writeError(w, statusCode, AuthError{Code: code, Message: message}, message)
}

// WriteRESTError answers like the REST service. code may be empty.
func WriteRESTError(w http.ResponseWriter, statusCode int, code, message string) {
	writeError(w, statusCode, RESTError{Code: code, Message: message}, message)
}

// WriteFunctionError answers like a failing edge function.
func WriteFunctionError(w http.ResponseWriter, statusCode int, message string) {
	writeError(w, statusCode, FunctionError{Error: message}, message)
}

func writeError(w http.ResponseWriter, statusCode int, body any, message string) {
	if err := WriteResponse(w, statusCode, body); err != nil {
		// Fallback to plain text error if JSON encoding fails
		http.Error(w, message, statusCode)
	}
}
