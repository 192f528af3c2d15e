package handlers

import (
	"encoding/json"
	"net/http"

	"devsquad-chat/internal/utils"
)

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// writeError renders err with its stable code. Only the AppError message is
// sent; wrapped causes stay in the log.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	appErr := utils.AsAppError(err)
	status := utils.AppErrorToHTTPStatus(appErr.Code)
	if status >= http.StatusInternalServerError {
		s.Logger.Error("Request failed", "code", appErr.Code, "error", err)
	}
	s.Metrics.IncrementErrors(appErr.Code)
	writeJSON(w, status, errorResponse{Error: appErr.Code, Message: appErr.Message})
}
