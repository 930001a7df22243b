package core

import (
	"time"

	"github.com/edvin/fleet/internal/crypto"
)

// Options carries the settings the services need beyond the database.
type Options struct {
	Sealer                  *crypto.Sealer
	Agent                   Dispatcher
	SessionSecret           []byte
	SessionTTL              time.Duration
	StrictCallbackOwnership bool
}

type Services struct {
	Node         *NodeService
	Deployment   *DeploymentService
	Orchestrator *Orchestrator
	Operator     *OperatorService
	APIKey       *APIKeyService
	Identity     *IdentityGuard
}

func NewServices(db DB, opts Options) *Services {
	nodes := NewNodeService(db, opts.Sealer)
	deployments := NewDeploymentService(db)
	operators := NewOperatorService(db, opts.SessionSecret, opts.SessionTTL)
	keys := NewAPIKeyService(db)
	return &Services{
		Node:         nodes,
		Deployment:   deployments,
		Orchestrator: NewOrchestrator(nodes, deployments, opts.Agent, opts.StrictCallbackOwnership),
		Operator:     operators,
		APIKey:       keys,
		Identity:     NewIdentityGuard(db, operators, keys),
	}
}
