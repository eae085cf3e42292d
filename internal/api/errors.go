package api

import (
	"encoding/json"
	"net/http"

	"github.com/formicaio/formicaiod/internal/nodemgr"
)

// errorBody is the JSON error envelope every endpoint returns on
// failure.
type errorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func statusForKind(kind string) int {
	switch kind {
	case "invalid_input":
		return http.StatusBadRequest
	case "not_found":
		return http.StatusNotFound
	case "already_batched":
		return http.StatusConflict
	case "cancelled", "timeout":
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	kind := nodemgr.ErrorKind(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusForKind(kind))
	_ = json.NewEncoder(w).Encode(errorBody{Kind: kind, Message: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
