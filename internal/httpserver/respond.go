package httpserver

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/beiralink/forwarding/internal/faults"
)

func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}

// respondServiceError maps the error taxonomy onto HTTP statuses. Guard
// failures include the blocking item so the caller can act on it.
func respondServiceError(w http.ResponseWriter, err error) {
	kind := faults.KindOf(err)
	status := http.StatusInternalServerError
	switch kind {
	case faults.KindValidation:
		status = http.StatusBadRequest
	case faults.KindPreconditionNotMet:
		status = http.StatusUnprocessableEntity
	case faults.KindPermissionDenied:
		status = http.StatusForbidden
	case faults.KindConflict:
		status = http.StatusConflict
	case faults.KindNotFound:
		status = http.StatusNotFound
	}
	body := map[string]string{"error": err.Error()}
	if fe, ok := err.(*faults.Error); ok {
		body["error"] = fe.Message
		if fe.BlockedBy != "" {
			body["blockedBy"] = fe.BlockedBy
		}
	}
	respondJSON(w, status, body)
}

func decodeJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}
