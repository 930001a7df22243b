package response

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/edvin/fleet/internal/core"
)

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func WriteError(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, map[string]string{"error": message})
}

// UpstreamErrorResponse is returned when a node agent could not take a
// deployment. The deployment has already been recorded as failed.
type UpstreamErrorResponse struct {
	Error        string `json:"error"`
	Details      string `json:"details"`
	DeploymentID int64  `json:"deployment_id"`
}

// WriteServiceError maps a service error onto an HTTP status. Unclassified
// errors are logged and reported without detail.
func WriteServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var upstream *core.UpstreamError
	switch {
	case errors.As(err, &upstream):
		WriteJSON(w, http.StatusBadGateway, UpstreamErrorResponse{
			Error:        "failed to deploy to node",
			Details:      upstream.Detail(),
			DeploymentID: upstream.DeploymentID,
		})
	case errors.Is(err, core.ErrUnauthorized):
		WriteError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, core.ErrForbidden):
		WriteError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, core.ErrNotFound):
		WriteError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, core.ErrBadRequest):
		WriteError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, core.ErrConflict):
		WriteError(w, http.StatusConflict, err.Error())
	default:
		zerolog.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("internal error")
		WriteError(w, http.StatusInternalServerError, "internal server error")
	}
}
