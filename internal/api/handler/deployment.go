package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	mw "github.com/edvin/fleet/internal/api/middleware"
	"github.com/edvin/fleet/internal/api/request"
	"github.com/edvin/fleet/internal/api/response"
	"github.com/edvin/fleet/internal/core"
	"github.com/edvin/fleet/internal/model"
)

type Deployment struct {
	svc  *core.DeploymentService
	orch *core.Orchestrator
}

func NewDeployment(svc *core.DeploymentService, orch *core.Orchestrator) *Deployment {
	return &Deployment{svc: svc, orch: orch}
}

type dispatchResponse struct {
	Success      bool   `json:"success"`
	DeploymentID int64  `json:"deployment_id"`
	Status       string `json:"status"`
	Message      string `json:"message"`
}

// Create admits a deployment for the node in the path and dispatches it to
// the node's agent. An agent failure is reported as 502 after the deployment
// has been recorded as failed.
func (h *Deployment) Create(w http.ResponseWriter, r *http.Request) {
	nodeID, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req request.CreateDeployment
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.orch.Dispatch(r.Context(), nodeID, core.DispatchRequest{
		Name:          req.Name,
		DockerCompose: req.DockerCompose,
		EnvVars:       req.EnvVars,
	})
	if err != nil {
		response.WriteServiceError(w, r, err)
		return
	}

	response.WriteJSON(w, http.StatusCreated, dispatchResponse{
		Success:      true,
		DeploymentID: res.Deployment.ID,
		Status:       res.Deployment.Status,
		Message:      res.Message,
	})
}

func (h *Deployment) List(w http.ResponseWriter, r *http.Request) {
	deployments, err := h.svc.List(r.Context())
	if err != nil {
		response.WriteServiceError(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, map[string]any{"deployments": deployments})
}

type deploymentDetail struct {
	Deployment *model.Deployment     `json:"deployment"`
	Logs       []model.DeploymentLog `json:"logs"`
}

// Get returns a deployment with its full log stream.
func (h *Deployment) Get(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireSerialID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	d, err := h.svc.Get(r.Context(), id)
	if err != nil {
		response.WriteServiceError(w, r, err)
		return
	}
	logs, err := h.svc.Logs(r.Context(), id)
	if err != nil {
		response.WriteServiceError(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, deploymentDetail{Deployment: d, Logs: logs})
}

type callbackResponse struct {
	Success       bool   `json:"success"`
	DeploymentID  int64  `json:"deployment_id"`
	Status        string `json:"status"`
	StatusApplied bool   `json:"status_applied"`
}

// Callback applies a status report from a node agent.
func (h *Deployment) Callback(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireSerialID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req request.DeploymentStatus
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	cb := core.CallbackRequest{Status: req.Status}
	for _, l := range req.Logs {
		cb.Logs = append(cb.Logs, core.CallbackLog{Level: l.Level, Message: l.Message})
	}

	res, err := h.orch.Reconcile(r.Context(), mw.GetPrincipal(r.Context()), id, cb)
	if err != nil {
		response.WriteServiceError(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, callbackResponse{
		Success:       true,
		DeploymentID:  res.DeploymentID,
		Status:        res.Status,
		StatusApplied: res.StatusApplied,
	})
}
