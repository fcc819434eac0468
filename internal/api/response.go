package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gyaneshwarpardhi/circuitscope/internal/faults"
)

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// errorResponse is the standard error envelope.
type errorResponse struct {
	Error   string   `json:"error"`
	Kind    string   `json:"kind,omitempty"`
	Details []string `json:"details,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeFault maps a classified error onto an HTTP status.
func writeFault(w http.ResponseWriter, err error) {
	resp := errorResponse{Error: err.Error(), Kind: string(faults.KindOf(err))}
	var fe *faults.Error
	if errors.As(err, &fe) {
		resp.Details = fe.Details
	}
	writeJSON(w, statusFor(faults.KindOf(err)), resp)
}

func statusFor(kind faults.Kind) int {
	switch kind {
	case faults.KindValidation:
		return http.StatusUnprocessableEntity
	case faults.KindNotFound:
		return http.StatusNotFound
	case faults.KindFetch, faults.KindParse:
		return http.StatusBadGateway
	case faults.KindCanceled:
		return http.StatusConflict
	case faults.KindNotExpandable:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
