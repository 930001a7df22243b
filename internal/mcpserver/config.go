package mcpserver

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the MCP gateway configuration loaded from mcp.yaml.
type Config struct {
	APIURL       string `yaml:"api_url"`
	Instructions string `yaml:"instructions"`
	// ReadOnly hides the deploy tool, leaving an endpoint that can only
	// describe itself. Useful while wiring up a new client.
	ReadOnly bool `yaml:"readonly"`
}

// LoadConfig reads and parses the mcp.yaml configuration file. A missing
// file yields the defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return ParseConfig(nil)
	}
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return ParseConfig(data)
}

// ParseConfig parses mcp.yaml configuration from raw bytes.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse mcp config: %w", err)
	}

	if cfg.APIURL == "" {
		cfg.APIURL = "http://127.0.0.1:8090"
	}
	if cfg.Instructions == "" {
		cfg.Instructions = "Fleet deployment tools. Calls are made with the automation key sent as a Bearer token."
	}

	return &cfg, nil
}
