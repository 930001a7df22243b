package agentclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"
)

// DefaultPort is the well-known port the deploy agent listens on.
const DefaultPort = 9090

// maxErrorBody bounds how much of a failed agent response is kept for logs.
const maxErrorBody = 512

// DeployRequest is the payload POSTed to the agent's /deploy endpoint.
type DeployRequest struct {
	DeploymentID  int64             `json:"deploymentId"`
	Name          string            `json:"name"`
	DockerCompose string            `json:"dockerCompose"`
	EnvVars       map[string]string `json:"envVars"`
}

// DeployResponse is the agent's acknowledgement.
type DeployResponse struct {
	Success *bool  `json:"success,omitempty"`
	Message string `json:"message,omitempty"`
}

// Client dispatches deployments to node agents over HTTP.
type Client struct {
	port       int
	httpClient *http.Client
}

// NewClient creates a Client that reaches agents on the given port. The
// timeout bounds every dispatch call.
func NewClient(port int, timeout time.Duration) *Client {
	if port == 0 {
		port = DefaultPort
	}
	return &Client{
		port: port,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// URL returns the deploy endpoint for a node address. An address that
// already carries a port is used as is.
func (c *Client) URL(address string) string {
	host := address
	if _, _, err := net.SplitHostPort(address); err != nil {
		host = net.JoinHostPort(address, strconv.Itoa(c.port))
	}
	return "http://" + host + "/deploy"
}

// Deploy sends a deployment to the agent at address, authenticating with the
// node's own bearer token. Any transport error, non-2xx status or explicit
// success=false reply is returned as an error.
func (c *Client) Deploy(ctx context.Context, address, token string, req DeployRequest) (*DeployResponse, error) {
	if req.EnvVars == nil {
		req.EnvVars = map[string]string{}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal deploy request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL(address), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("agent request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		if len(bytes.TrimSpace(snippet)) > 0 {
			return nil, fmt.Errorf("agent returned status %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
		}
		return nil, fmt.Errorf("agent returned status %d", resp.StatusCode)
	}

	var result DeployResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil && err != io.EOF {
		return nil, fmt.Errorf("decode agent response: %w", err)
	}
	if result.Success != nil && !*result.Success {
		if result.Message != "" {
			return nil, fmt.Errorf("agent rejected deployment: %s", result.Message)
		}
		return nil, fmt.Errorf("agent rejected deployment")
	}

	return &result, nil
}
