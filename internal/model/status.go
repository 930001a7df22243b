package model

// Node status constants.
const (
	NodeStatusOnline  = "online"
	NodeStatusOffline = "offline"
)

// Deployment status constants. A deployment moves forward only:
// pending -> deploying -> {deployed, failed}.
const (
	StatusPending   = "pending"
	StatusDeploying = "deploying"
	StatusDeployed  = "deployed"
	StatusFailed    = "failed"
)

// Log level constants used by the control plane itself. Agents may send
// any short token.
const (
	LogLevelInfo  = "info"
	LogLevelError = "error"
)

// IsTerminalStatus reports whether no further automatic transition follows status.
func IsTerminalStatus(status string) bool {
	return status == StatusDeployed || status == StatusFailed
}
