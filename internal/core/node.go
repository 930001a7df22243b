package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/edvin/fleet/internal/crypto"
	"github.com/edvin/fleet/internal/model"
	"github.com/edvin/fleet/internal/platform"
)

const nodeColumns = `id, name, address, token_hash, token_sealed, status, cpu_usage, memory_usage, disk_usage, last_seen_at, created_at`

// NodeService is the fleet registry: node identity, liveness and telemetry.
type NodeService struct {
	db     DB
	sealer *crypto.Sealer
	now    func() time.Time
}

func NewNodeService(db DB, sealer *crypto.Sealer) *NodeService {
	return &NodeService{db: db, sealer: sealer, now: time.Now}
}

// Register creates an offline node with a freshly issued token. The
// plaintext token is returned exactly once; only its fingerprint and a
// sealed copy are stored.
func (s *NodeService) Register(ctx context.Context, name, address string) (*model.Node, string, error) {
	name = strings.TrimSpace(name)
	address = strings.TrimSpace(address)
	if name == "" || address == "" {
		return nil, "", fmt.Errorf("register node: %w: name and address are required", ErrBadRequest)
	}

	token, err := crypto.Issue()
	if err != nil {
		return nil, "", fmt.Errorf("register node %s: %w", name, err)
	}
	sealed, err := s.sealer.Seal(token)
	if err != nil {
		return nil, "", fmt.Errorf("register node %s: %w", name, err)
	}

	node := &model.Node{
		ID:          platform.NewID(),
		Name:        name,
		Address:     address,
		TokenHash:   crypto.Fingerprint(token),
		TokenSealed: sealed,
	}
	err = s.db.QueryRow(ctx,
		`INSERT INTO nodes (id, name, address, token_hash, token_sealed, status)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING status, created_at`,
		node.ID, node.Name, node.Address, node.TokenHash, node.TokenSealed, model.NodeStatusOffline,
	).Scan(&node.Status, &node.CreatedAt)
	if err != nil {
		return nil, "", fmt.Errorf("register node %s: %w", name, classify(err))
	}
	node.LastSeenAgo = platform.LastSeenAgo(nil, s.now())

	return node, token, nil
}

// Resolve returns the node with the given ID.
func (s *NodeService) Resolve(ctx context.Context, id string) (*model.Node, error) {
	n, err := scanNode(s.db.QueryRow(ctx, `SELECT `+nodeColumns+` FROM nodes WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("get node %s: %w", id, classify(err))
	}
	n.LastSeenAgo = platform.LastSeenAgo(n.LastSeenAt, s.now())
	return n, nil
}

// List returns every node, newest first.
func (s *NodeService) List(ctx context.Context) ([]model.Node, error) {
	rows, err := s.db.Query(ctx, `SELECT `+nodeColumns+` FROM nodes ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list nodes: %w", err)
	}
	defer rows.Close()

	now := s.now()
	nodes := []model.Node{}
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("scan node: %w", err)
		}
		n.LastSeenAgo = platform.LastSeenAgo(n.LastSeenAt, now)
		nodes = append(nodes, *n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate nodes: %w", err)
	}
	return nodes, nil
}

// RecordHeartbeat overwrites the node's status, telemetry and last-seen
// time. Heartbeats are applied in arrival order; a late stale heartbeat can
// overwrite a fresher one.
func (s *NodeService) RecordHeartbeat(ctx context.Context, id string, hb model.Heartbeat) error {
	if hb.Status == "" {
		hb.Status = model.NodeStatusOnline
	}
	tag, err := s.db.Exec(ctx,
		`UPDATE nodes SET status = $2, cpu_usage = $3, memory_usage = $4, disk_usage = $5, last_seen_at = now()
		 WHERE id = $1`,
		id, hb.Status, hb.CPUUsage, hb.MemoryUsage, hb.DiskUsage,
	)
	if err != nil {
		return fmt.Errorf("record heartbeat for node %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("record heartbeat for node %s: %w", id, ErrNotFound)
	}
	return nil
}

// Remove deletes the node. Its deployments and their logs go with it via
// ON DELETE CASCADE in the same statement.
func (s *NodeService) Remove(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM nodes WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete node %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete node %s: %w", id, ErrNotFound)
	}
	return nil
}

// AgentToken recovers the node's bearer token so the control plane can
// authenticate to the node's agent.
func (s *NodeService) AgentToken(node *model.Node) (string, error) {
	token, err := s.sealer.Open(node.TokenSealed)
	if err != nil {
		return "", fmt.Errorf("open token for node %s: %w", node.ID, err)
	}
	return token, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanNode(row scanner) (*model.Node, error) {
	var n model.Node
	err := row.Scan(&n.ID, &n.Name, &n.Address, &n.TokenHash, &n.TokenSealed, &n.Status,
		&n.CPUUsage, &n.MemoryUsage, &n.DiskUsage, &n.LastSeenAt, &n.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &n, nil
}
