package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"
)

// ProxyHandler turns MCP tool calls into fleet API requests.
type ProxyHandler struct {
	apiURL string
	client *http.Client
	logger zerolog.Logger
}

// NewProxyHandler creates a new proxy handler targeting the given API URL.
func NewProxyHandler(apiURL string, logger zerolog.Logger) *ProxyHandler {
	return &ProxyHandler{
		apiURL: strings.TrimRight(apiURL, "/"),
		// Dispatch waits for the node agent, so allow well past its timeout.
		client: &http.Client{Timeout: 2 * time.Minute},
		logger: logger,
	}
}

type deployBody struct {
	Name          string            `json:"name"`
	DockerCompose string            `json:"dockerCompose"`
	EnvVars       map[string]string `json:"envVars,omitempty"`
}

// Deploy handles the deploy_to_node tool.
func (p *ProxyHandler) Deploy(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()

	nodeID, _ := args["node_id"].(string)
	name, _ := args["name"].(string)
	compose, _ := args["docker_compose"].(string)
	if nodeID == "" || name == "" || compose == "" {
		return mcp.NewToolResultError("node_id, name and docker_compose are required"), nil
	}

	body := deployBody{Name: name, DockerCompose: compose}
	if raw, _ := args["env_vars"].(string); strings.TrimSpace(raw) != "" {
		if err := json.Unmarshal([]byte(raw), &body.EnvVars); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("env_vars must be a JSON object of strings: %s", err)), nil
		}
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("encode request: %s", err)), nil
	}

	target := p.apiURL + "/api/nodes/" + url.PathEscape(nodeID) + "/deploy"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(payload))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("build request: %s", err)), nil
	}
	httpReq.Header.Set("Content-Type", "application/json")

	// The fleet API only accepts automation keys as Bearer tokens.
	if auth := req.Header.Get("Authorization"); auth != "" {
		httpReq.Header.Set("Authorization", auth)
	} else if key := req.Header.Get("X-API-Key"); key != "" {
		httpReq.Header.Set("Authorization", "Bearer "+key)
	} else {
		return mcp.NewToolResultError("missing automation key: send it as a Bearer token"), nil
	}

	p.logger.Debug().
		Str("node_id", nodeID).
		Str("tool", req.Params.Name).
		Msg("proxying MCP tool call")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("API request failed: %s", err)), nil
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("read response: %s", err)), nil
	}

	if resp.StatusCode >= 400 {
		return mcp.NewToolResultError(fmt.Sprintf("HTTP %d: %s", resp.StatusCode, string(respBody))), nil
	}
	return mcp.NewToolResultText(string(respBody)), nil
}

// Tools returns the tools exposed by the gateway.
func (p *ProxyHandler) Tools(cfg *Config) []server.ServerTool {
	if cfg.ReadOnly {
		return nil
	}
	return []server.ServerTool{{
		Tool: mcp.NewTool("deploy_to_node",
			mcp.WithDescription("Deploy a docker compose workload to an online fleet node. Returns the deployment ID and its status."),
			mcp.WithDestructiveHintAnnotation(false),
			mcp.WithIdempotentHintAnnotation(false),
			mcp.WithString("node_id", mcp.Required(), mcp.Description("ID of the target node")),
			mcp.WithString("name", mcp.Required(), mcp.Description("Deployment name")),
			mcp.WithString("docker_compose", mcp.Required(), mcp.Description("docker-compose.yml contents")),
			mcp.WithString("env_vars", mcp.Description(`Environment variables as a JSON object, e.g. {"PORT":"8080"}`)),
		),
		Handler: p.Deploy,
	}}
}
