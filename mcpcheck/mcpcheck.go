// Package mcpcheck reports whether the editor's MCP configuration declares a
// reachable vision2ui server.
package mcpcheck

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"time"
)

// Status values reported in Result.
const (
	StatusConnected      = "connected"
	StatusNotConfigured  = "not_configured"
	StatusInvalidConfig  = "invalid_config"
	StatusWrongTransport = "wrong_transport"
	StatusNotConnected   = "not_connected"
	StatusError          = "error"
)

const (
	DefaultServerName       = "vision2ui"
	DefaultHandshakeTimeout = 2 * time.Second
)

// Result is the outcome of a check. It is sent to the panel as-is.
type Result struct {
	Connected bool   `json:"connected"`
	Status    string `json:"status"`
	Details   string `json:"details,omitempty"`
}

// Server is one entry of the MCP config's server map.
type Server struct {
	Command   string            `json:"command"`
	Args      []string          `json:"args,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
	Transport string            `json:"transport,omitempty"`
	Type      string            `json:"type,omitempty"`
}

// TransportName returns the declared transport, defaulting to stdio.
func (s Server) TransportName() string {
	if s.Transport != "" {
		return s.Transport
	}
	if s.Type != "" {
		return s.Type
	}
	return "stdio"
}

// Handshaker verifies that a configured server answers.
type Handshaker interface {
	Handshake(ctx context.Context, srv Server) error
}

// Checker inspects an MCP config file.
type Checker struct {
	ConfigPath string
	ServerName string
	Handshake  Handshaker
	Timeout    time.Duration
}

// NewChecker returns a checker for the platform's default config location.
func NewChecker() *Checker {
	home, _ := os.UserHomeDir()
	return &Checker{
		ConfigPath: DefaultConfigPath(runtime.GOOS, home),
		ServerName: DefaultServerName,
		Handshake:  ProcessHandshake{},
		Timeout:    DefaultHandshakeTimeout,
	}
}

// DefaultConfigPath returns the editor's user-level mcp.json for goos.
func DefaultConfigPath(goos, home string) string {
	switch goos {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "Code", "User", "mcp.json")
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "Code", "User", "mcp.json")
		}
		return filepath.Join(home, "AppData", "Roaming", "Code", "User", "mcp.json")
	default:
		return filepath.Join(home, ".config", "Code", "User", "mcp.json")
	}
}

type configFile struct {
	MCPServers map[string]json.RawMessage `json:"mcpServers"`
	Servers    map[string]json.RawMessage `json:"servers"`
}

// Check never returns an error; failures are folded into the result.
func (c *Checker) Check(ctx context.Context) Result {
	data, err := os.ReadFile(c.ConfigPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Result{Status: StatusNotConfigured, Details: "MCP configuration file not found"}
		}
		return Result{Status: StatusError, Details: err.Error()}
	}
	var cfg configFile
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Result{Status: StatusInvalidConfig, Details: "MCP configuration file is invalid JSON"}
	}

	name := c.ServerName
	if name == "" {
		name = DefaultServerName
	}
	servers := cfg.MCPServers
	if len(servers) == 0 {
		servers = cfg.Servers
	}
	raw, ok := servers[name]
	if !ok || string(raw) == "null" {
		return Result{Status: StatusNotConfigured, Details: fmt.Sprintf("%s MCP server not found in configuration", name)}
	}
	var srv Server
	if err := json.Unmarshal(raw, &srv); err != nil {
		return Result{Status: StatusInvalidConfig, Details: fmt.Sprintf("MCP server entry is invalid: %v", err)}
	}
	if transport := srv.TransportName(); transport != "stdio" {
		return Result{Status: StatusWrongTransport, Details: fmt.Sprintf("MCP server is using %s transport, expected stdio", transport)}
	}
	if srv.Command == "" {
		return Result{Status: StatusInvalidConfig, Details: "MCP server command not configured"}
	}

	if c.Handshake == nil {
		return Result{Status: StatusNotConnected, Details: "MCP server is configured but not connected"}
	}
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultHandshakeTimeout
	}
	hctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := c.Handshake.Handshake(hctx, srv); err != nil {
		return Result{Status: StatusNotConnected, Details: fmt.Sprintf("MCP server is configured but not connected: %v", err)}
	}
	return Result{Connected: true, Status: StatusConnected, Details: "MCP server is connected and responding"}
}
