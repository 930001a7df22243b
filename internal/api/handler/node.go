package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	mw "github.com/edvin/fleet/internal/api/middleware"
	"github.com/edvin/fleet/internal/api/request"
	"github.com/edvin/fleet/internal/api/response"
	"github.com/edvin/fleet/internal/core"
	"github.com/edvin/fleet/internal/metrics"
	"github.com/edvin/fleet/internal/model"
)

type Node struct {
	svc         *core.NodeService
	deployments *core.DeploymentService
}

func NewNode(svc *core.NodeService, deployments *core.DeploymentService) *Node {
	return &Node{svc: svc, deployments: deployments}
}

func (h *Node) List(w http.ResponseWriter, r *http.Request) {
	nodes, err := h.svc.List(r.Context())
	if err != nil {
		response.WriteServiceError(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, map[string]any{"nodes": nodes})
}

type createNodeResponse struct {
	Node  *model.Node `json:"node"`
	Token string      `json:"token"`
}

// Create registers a node. The node token appears in this response only.
func (h *Node) Create(w http.ResponseWriter, r *http.Request) {
	var req request.CreateNode
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	node, token, err := h.svc.Register(r.Context(), req.Name, req.Address)
	if err != nil {
		response.WriteServiceError(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusCreated, createNodeResponse{Node: node, Token: token})
}

func (h *Node) Get(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	node, err := h.svc.Resolve(r.Context(), id)
	if err != nil {
		response.WriteServiceError(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, node)
}

// Delete removes the node together with its deployments and their logs.
func (h *Node) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.svc.Remove(r.Context(), id); err != nil {
		response.WriteServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Node) ListDeployments(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if _, err := h.svc.Resolve(r.Context(), id); err != nil {
		response.WriteServiceError(w, r, err)
		return
	}
	deployments, err := h.deployments.ListForNode(r.Context(), id)
	if err != nil {
		response.WriteServiceError(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, map[string]any{"deployments": deployments})
}

// Heartbeat accepts a status report from the node's own agent.
func (h *Node) Heartbeat(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if p := mw.GetPrincipal(r.Context()); p == nil || p.Kind != core.PrincipalNode || p.ID != id {
		response.WriteError(w, http.StatusForbidden, "node token does not belong to this node")
		return
	}

	var req request.Heartbeat
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	err = h.svc.RecordHeartbeat(r.Context(), id, model.Heartbeat{
		Status:      req.Status,
		CPUUsage:    req.CPUUsage,
		MemoryUsage: req.MemoryUsage,
		DiskUsage:   req.DiskUsage,
	})
	if err != nil {
		response.WriteServiceError(w, r, err)
		return
	}
	metrics.HeartbeatsTotal.Inc()
	response.WriteJSON(w, http.StatusOK, successResponse{Success: true})
}
