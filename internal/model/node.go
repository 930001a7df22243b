package model

import "time"

// Node is a registered remote host running a deploy agent.
type Node struct {
	ID          string     `json:"id" db:"id"`
	Name        string     `json:"name" db:"name"`
	Address     string     `json:"address" db:"address"`
	TokenHash   string     `json:"-" db:"token_hash"`
	TokenSealed string     `json:"-" db:"token_sealed"`
	Status      string     `json:"status" db:"status"`
	CPUUsage    *float64   `json:"cpu_usage" db:"cpu_usage"`
	MemoryUsage *float64   `json:"memory_usage" db:"memory_usage"`
	DiskUsage   *float64   `json:"disk_usage" db:"disk_usage"`
	LastSeenAt  *time.Time `json:"last_seen_at" db:"last_seen_at"`
	LastSeenAgo string     `json:"last_seen_ago" db:"-"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
}

// Heartbeat is a self-reported status and telemetry snapshot from a node agent.
type Heartbeat struct {
	Status      string
	CPUUsage    float64
	MemoryUsage float64
	DiskUsage   float64
}
