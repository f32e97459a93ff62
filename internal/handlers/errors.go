package handlers

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"kidvoice/internal/validation"
)

type errorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

// respondWithError writes a generic JSON error for the client and logs the detail
func respondWithError(w http.ResponseWriter, log *zap.Logger, status int, userMsg, logMsg string, err error) {
	if err != nil {
		if logMsg == "" {
			logMsg = userMsg
		}
		log.Warn(logMsg, zap.Int("status", status), zap.Error(err))
	}

	respondWithJSON(w, status, errorResponse{Error: userMsg})
}

// respondWithValidation rejects a request that failed validation
func respondWithValidation(w http.ResponseWriter, verr validation.ValidationError) {
	respondWithJSON(w, http.StatusBadRequest, errorResponse{Error: verr.Message, Field: verr.Field})
}

func respondWithJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
