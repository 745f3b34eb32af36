package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// writeJSON renders v as the response body. An encoding failure is only
// logged: the status line is already on the wire by then.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("response encode failed", slog.String("error", err.Error()))
	}
}

// errResponse is the error body for the record, search, and graph routes.
// Admin operations return the result envelope instead.
type errResponse struct {
	Error string `json:"error"`
}

func errorBody(msg string) errResponse {
	return errResponse{Error: msg}
}
