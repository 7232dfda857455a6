package controllers

import (
	"encoding/json"
	"net/http"

	"github.com/rzbill/conduit/internal/exchange"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// writeError writes an error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeJSON writes data as JSON with the given status.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeNoContent writes a 204 No Content response.
func writeNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
}

func viewOf(ex *exchange.Exchange) *exchangeView {
	if ex == nil {
		return nil
	}
	return &exchangeView{
		ID:         ex.ID,
		Body:       ex.Body,
		Headers:    ex.Headers,
		Properties: ex.Properties,
		Created:    ex.Created,
	}
}
