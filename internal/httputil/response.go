// Package httputil holds the JSON response helpers used by the /debug/
// routes.
package httputil

import (
	"encoding/json"
	"log"
	"net/http"
)

// WriteJSON writes v as indented JSON with a 200 status.
func WriteJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		log.Printf("failed to encode json response: %v", err)
	}
}

// Error writes {"error": msg} with the given status.
func Error(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]string{"error": msg}); err != nil {
		log.Printf("failed to encode json error response: %v", err)
	}
}

// MethodNotAllowed rejects a request whose method is not method.
func MethodNotAllowed(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method {
		return false
	}
	w.Header().Set("Allow", method)
	Error(w, http.StatusMethodNotAllowed, "method not allowed")
	return true
}
