package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
)

// maxRequestBody caps command payloads.  The largest legitimate body is a
// set_code request, well under a kilobyte.
const maxRequestBody = 4096

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type okResponse struct {
	OK bool `json:"ok"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]apiError{"error": {Code: code, Message: message}})
}

// readJSON decodes a request body strictly: unknown fields are rejected so
// a typoed option fails loudly instead of being silently ignored.
func readJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
