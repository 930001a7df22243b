package core

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/edvin/fleet/internal/model"
)

const (
	deploymentColumns = `id, node_id, name, status, docker_compose, env_vars, created_at, deployed_at`

	deploymentListLimit     = 100
	nodeDeploymentListLimit = 50
)

// DeploymentService is the deployment ledger: records, their status
// progression and their logs.
type DeploymentService struct {
	db DB
}

func NewDeploymentService(db DB) *DeploymentService {
	return &DeploymentService{db: db}
}

// Create records a pending deployment targeting nodeID.
func (s *DeploymentService) Create(ctx context.Context, nodeID, name, compose string, env map[string]string) (*model.Deployment, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.TrimSpace(compose) == "" {
		return nil, fmt.Errorf("create deployment: %w: name and docker compose are required", ErrBadRequest)
	}
	var envJSON []byte
	if len(env) > 0 {
		b, err := json.Marshal(env)
		if err != nil {
			return nil, fmt.Errorf("create deployment: marshal env vars: %w", err)
		}
		envJSON = b
	}

	d := &model.Deployment{
		NodeID:        nodeID,
		Name:          name,
		Status:        model.StatusPending,
		DockerCompose: compose,
		EnvVars:       env,
	}
	err := s.db.QueryRow(ctx,
		`INSERT INTO deployments (node_id, name, status, docker_compose, env_vars)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, created_at`,
		d.NodeID, d.Name, d.Status, d.DockerCompose, envJSON,
	).Scan(&d.ID, &d.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("create deployment on node %s: %w", nodeID, classify(err))
	}
	return d, nil
}

// AppendLog attaches a log line to the deployment. An empty level means info.
func (s *DeploymentService) AppendLog(ctx context.Context, deploymentID int64, level, message string) error {
	if level == "" {
		level = model.LogLevelInfo
	}
	_, err := s.db.Exec(ctx,
		`INSERT INTO deployment_logs (deployment_id, level, message) VALUES ($1, $2, $3)`,
		deploymentID, level, message,
	)
	if err != nil {
		return fmt.Errorf("append log to deployment %d: %w", deploymentID, classify(err))
	}
	return nil
}

// SetStatus moves the deployment to status and stamps deployed_at.
//
// Only deploying, deployed and failed are accepted targets. A terminal
// deployment never goes back to deploying; the check and the write happen in
// one statement so a late "deploying" cannot overwrite a callback that has
// already landed. Switching between the two terminal states is allowed.
func (s *DeploymentService) SetStatus(ctx context.Context, id int64, status string) error {
	switch status {
	case model.StatusDeploying, model.StatusDeployed, model.StatusFailed:
	default:
		return fmt.Errorf("set deployment %d status to %q: %w", id, status, ErrInvalidTransition)
	}

	tag, err := s.db.Exec(ctx,
		`UPDATE deployments SET status = $2, deployed_at = now()
		 WHERE id = $1 AND NOT ($2 = 'deploying' AND status IN ('deployed', 'failed'))`,
		id, status,
	)
	if err != nil {
		return fmt.Errorf("set deployment %d status: %w", id, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	if err := s.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM deployments WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("set deployment %d status: %w", id, err)
	}
	if !exists {
		return fmt.Errorf("set deployment %d status: %w", id, ErrNotFound)
	}
	return fmt.Errorf("set deployment %d status to %q: %w", id, status, ErrInvalidTransition)
}

// Get returns a single deployment.
func (s *DeploymentService) Get(ctx context.Context, id int64) (*model.Deployment, error) {
	d, err := scanDeployment(s.db.QueryRow(ctx, `SELECT `+deploymentColumns+` FROM deployments WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("get deployment %d: %w", id, classify(err))
	}
	return d, nil
}

// List returns the most recent deployments across the fleet, newest first.
func (s *DeploymentService) List(ctx context.Context) ([]model.Deployment, error) {
	return s.list(ctx, "list deployments",
		`SELECT `+deploymentColumns+` FROM deployments ORDER BY created_at DESC LIMIT $1`,
		deploymentListLimit)
}

// ListForNode returns the most recent deployments on one node, newest first.
func (s *DeploymentService) ListForNode(ctx context.Context, nodeID string) ([]model.Deployment, error) {
	return s.list(ctx, "list deployments for node "+nodeID,
		`SELECT `+deploymentColumns+` FROM deployments WHERE node_id = $2 ORDER BY created_at DESC LIMIT $1`,
		nodeDeploymentListLimit, nodeID)
}

func (s *DeploymentService) list(ctx context.Context, op, query string, args ...any) ([]model.Deployment, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	deployments := []model.Deployment{}
	for rows.Next() {
		d, err := scanDeployment(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: scan: %w", op, err)
		}
		deployments = append(deployments, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: iterate: %w", op, err)
	}
	return deployments, nil
}

// Logs returns the deployment's log lines in the order they were recorded.
func (s *DeploymentService) Logs(ctx context.Context, deploymentID int64) ([]model.DeploymentLog, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, deployment_id, level, message, timestamp FROM deployment_logs
		 WHERE deployment_id = $1 ORDER BY timestamp ASC, id ASC`,
		deploymentID,
	)
	if err != nil {
		return nil, fmt.Errorf("list logs for deployment %d: %w", deploymentID, err)
	}
	defer rows.Close()

	logs := []model.DeploymentLog{}
	for rows.Next() {
		var l model.DeploymentLog
		if err := rows.Scan(&l.ID, &l.DeploymentID, &l.Level, &l.Message, &l.Timestamp); err != nil {
			return nil, fmt.Errorf("scan deployment log: %w", err)
		}
		logs = append(logs, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate deployment logs: %w", err)
	}
	return logs, nil
}

func scanDeployment(row scanner) (*model.Deployment, error) {
	var d model.Deployment
	var envJSON []byte
	err := row.Scan(&d.ID, &d.NodeID, &d.Name, &d.Status, &d.DockerCompose, &envJSON, &d.CreatedAt, &d.DeployedAt)
	if err != nil {
		return nil, err
	}
	if len(envJSON) > 0 {
		if err := json.Unmarshal(envJSON, &d.EnvVars); err != nil {
			return nil, fmt.Errorf("decode env vars: %w", err)
		}
	}
	return &d, nil
}
