package httpapi

import (
	"encoding/json"
	"net/http"

	"inferd/pkg/types"
)

// writeJSON writes a JSON payload with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeJSONError writes a consistent JSON error payload, used by the
// JSON endpoints (/update_model, /status).
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, types.ErrorResponse{Error: msg, Code: status})
}
