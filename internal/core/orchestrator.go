package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/edvin/fleet/internal/agentclient"
	"github.com/edvin/fleet/internal/metrics"
	"github.com/edvin/fleet/internal/model"
)

const defaultDispatchMessage = "Deployment initiated"

// Dispatcher delivers a deployment to the agent on a node.
// *agentclient.Client satisfies this interface.
type Dispatcher interface {
	Deploy(ctx context.Context, address, token string, req agentclient.DeployRequest) (*agentclient.DeployResponse, error)
}

type nodeRegistry interface {
	Resolve(ctx context.Context, id string) (*model.Node, error)
	AgentToken(node *model.Node) (string, error)
}

type deploymentLedger interface {
	Create(ctx context.Context, nodeID, name, compose string, env map[string]string) (*model.Deployment, error)
	AppendLog(ctx context.Context, deploymentID int64, level, message string) error
	SetStatus(ctx context.Context, id int64, status string) error
	Get(ctx context.Context, id int64) (*model.Deployment, error)
}

// DispatchRequest is a request to run a workload on a node.
type DispatchRequest struct {
	Name          string
	DockerCompose string
	EnvVars       map[string]string
}

// DispatchResult is returned once the agent has accepted a deployment.
type DispatchResult struct {
	Deployment *model.Deployment
	Message    string
}

// CallbackLog is one log line reported by an agent.
type CallbackLog struct {
	Level   string
	Message string
}

// CallbackRequest is an agent's progress report for a deployment.
type CallbackRequest struct {
	Status string
	Logs   []CallbackLog
}

// ReconcileResult describes what a callback changed.
type ReconcileResult struct {
	DeploymentID  int64
	Status        string
	StatusApplied bool
}

// Orchestrator drives a deployment through its lifecycle: admission,
// dispatch to the node agent, and reconciliation of agent callbacks.
type Orchestrator struct {
	nodes  nodeRegistry
	ledger deploymentLedger
	agent  Dispatcher
	strict bool
}

// NewOrchestrator creates an Orchestrator. When strictOwnership is set, a
// callback is only accepted from the node the deployment targets.
func NewOrchestrator(nodes nodeRegistry, ledger deploymentLedger, agent Dispatcher, strictOwnership bool) *Orchestrator {
	return &Orchestrator{nodes: nodes, ledger: ledger, agent: agent, strict: strictOwnership}
}

// Dispatch admits a deployment for nodeID and hands it to the node's agent.
//
// Nothing is written unless the node exists and is online. Once the
// deployment row exists it always ends up either deploying (agent accepted)
// or failed (agent unreachable or refused); that work is detached from ctx so
// a disconnecting caller cannot leave the row pending.
func (o *Orchestrator) Dispatch(ctx context.Context, nodeID string, req DispatchRequest) (*DispatchResult, error) {
	node, err := o.nodes.Resolve(ctx, nodeID)
	if err != nil {
		return nil, err
	}
	if node.Status != model.NodeStatusOnline {
		return nil, fmt.Errorf("dispatch to node %s: %w", nodeID, ErrNodeNotReady)
	}
	if strings.TrimSpace(req.Name) == "" || strings.TrimSpace(req.DockerCompose) == "" {
		return nil, fmt.Errorf("dispatch to node %s: %w: name and dockerCompose are required", nodeID, ErrBadRequest)
	}
	token, err := o.nodes.AgentToken(node)
	if err != nil {
		return nil, fmt.Errorf("dispatch to node %s: %w", nodeID, err)
	}

	d, err := o.ledger.Create(ctx, node.ID, req.Name, req.DockerCompose, req.EnvVars)
	if err != nil {
		return nil, err
	}

	ctx = context.WithoutCancel(ctx)
	logger := zerolog.Ctx(ctx).With().Int64("deployment_id", d.ID).Str("node_id", node.ID).Logger()

	o.appendLog(ctx, &logger, d.ID, model.LogLevelInfo, "Deployment created")

	start := time.Now()
	resp, err := o.agent.Deploy(ctx, node.Address, token, agentclient.DeployRequest{
		DeploymentID:  d.ID,
		Name:          d.Name,
		DockerCompose: d.DockerCompose,
		EnvVars:       d.EnvVars,
	})
	metrics.DispatchDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.DispatchTotal.WithLabelValues(metrics.OutcomeFailed).Inc()
		logger.Warn().Err(err).Msg("agent dispatch failed")
		o.appendLog(ctx, &logger, d.ID, model.LogLevelError, "Failed to contact agent: "+err.Error())
		if serr := o.ledger.SetStatus(ctx, d.ID, model.StatusFailed); serr != nil {
			logger.Error().Err(serr).Msg("failed to mark deployment failed")
		}
		return nil, &UpstreamError{DeploymentID: d.ID, Err: err}
	}

	metrics.DispatchTotal.WithLabelValues(metrics.OutcomeSent).Inc()
	o.appendLog(ctx, &logger, d.ID, model.LogLevelInfo, "Deployment sent to agent")

	switch err := o.ledger.SetStatus(ctx, d.ID, model.StatusDeploying); {
	case err == nil:
		d.Status = model.StatusDeploying
	case errors.Is(err, ErrInvalidTransition):
		// The agent's callback landed first; report what it recorded.
		if cur, gerr := o.ledger.Get(ctx, d.ID); gerr == nil {
			d = cur
		}
	default:
		logger.Error().Err(err).Msg("failed to mark deployment deploying")
	}

	msg := defaultDispatchMessage
	if resp.Message != "" {
		msg = resp.Message
	}
	logger.Info().Str("message", msg).Msg("deployment dispatched")
	return &DispatchResult{Deployment: d, Message: msg}, nil
}

func (o *Orchestrator) appendLog(ctx context.Context, logger *zerolog.Logger, deploymentID int64, level, message string) {
	if err := o.ledger.AppendLog(ctx, deploymentID, level, message); err != nil {
		logger.Error().Err(err).Str("log_message", message).Msg("failed to append deployment log")
	}
}

// Reconcile applies an agent callback to a deployment. A report that would
// move a finished deployment back to deploying leaves the status alone but
// still records the logs.
func (o *Orchestrator) Reconcile(ctx context.Context, principal *Principal, deploymentID int64, req CallbackRequest) (*ReconcileResult, error) {
	switch req.Status {
	case model.StatusDeploying, model.StatusDeployed, model.StatusFailed:
	default:
		return nil, fmt.Errorf("reconcile deployment %d: %w: status must be deploying, deployed or failed", deploymentID, ErrBadRequest)
	}

	d, err := o.ledger.Get(ctx, deploymentID)
	if err != nil {
		return nil, err
	}
	if o.strict && (principal == nil || principal.Kind != PrincipalNode || d.NodeID != principal.ID) {
		return nil, fmt.Errorf("reconcile deployment %d: %w: deployment belongs to another node", deploymentID, ErrForbidden)
	}

	result := &ReconcileResult{DeploymentID: d.ID, Status: req.Status, StatusApplied: true}
	if err := o.ledger.SetStatus(ctx, d.ID, req.Status); err != nil {
		if !errors.Is(err, ErrInvalidTransition) {
			return nil, err
		}
		result.StatusApplied = false
		result.Status = d.Status
		zerolog.Ctx(ctx).Info().Int64("deployment_id", d.ID).Str("current", d.Status).
			Str("reported", req.Status).Msg("ignoring stale deployment status")
	}
	metrics.CallbacksTotal.WithLabelValues(req.Status).Inc()

	for _, l := range req.Logs {
		if err := o.ledger.AppendLog(ctx, d.ID, l.Level, l.Message); err != nil {
			return nil, err
		}
	}
	return result, nil
}
