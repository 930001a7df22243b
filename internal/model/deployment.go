package model

import "time"

// Deployment is one workload push targeting a single node.
type Deployment struct {
	ID            int64             `json:"id" db:"id"`
	NodeID        string            `json:"node_id" db:"node_id"`
	Name          string            `json:"name" db:"name"`
	Status        string            `json:"status" db:"status"`
	DockerCompose string            `json:"docker_compose" db:"docker_compose"`
	EnvVars       map[string]string `json:"env_vars,omitempty" db:"env_vars"`
	CreatedAt     time.Time         `json:"created_at" db:"created_at"`
	// DeployedAt is stamped on every status transition, so it holds the time
	// of the last transition rather than strictly the time of success.
	DeployedAt *time.Time `json:"deployed_at" db:"deployed_at"`
}

// DeploymentLog is an append-only log line attached to a deployment.
type DeploymentLog struct {
	ID           int64     `json:"id" db:"id"`
	DeploymentID int64     `json:"deployment_id" db:"deployment_id"`
	Level        string    `json:"level" db:"level"`
	Message      string    `json:"message" db:"message"`
	Timestamp    time.Time `json:"timestamp" db:"timestamp"`
}
