package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/pysugar/trade-nexus/internal/api/middleware"
	"github.com/pysugar/trade-nexus/internal/logging"
)

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message, errType string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{"message": message, "type": errType},
	})
}

// writeInternal logs err with the request context and hides it from the client.
func writeInternal(w http.ResponseWriter, r *http.Request, err error, msg string) {
	logger := logging.FromContext(r.Context())
	logger.Error().Err(err).Str("user_id", middleware.UserID(r.Context())).Msg(msg)
	writeError(w, http.StatusInternalServerError, "Internal server error", "server_error")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return errors.New("request body too large")
		}
		return errors.New("invalid request body")
	}
	return nil
}
