package supervisor

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"
)

const (
	DefaultDirName      = "vision2ui-server"
	DefaultScript       = "src/api_server.py"
	DefaultPollInterval = time.Second
	DefaultMaxAttempts  = 30
)

var (
	// ErrServiceDirNotFound is returned when no candidate directory exists.
	ErrServiceDirNotFound = errors.New("server directory not found")
	// ErrStartupTimeout is returned when the service never became healthy.
	ErrStartupTimeout = errors.New("server failed to start within the expected time")
)

// LaunchError wraps a failure to spawn the service process.
type LaunchError struct {
	Strategy string
	Command  string
	Err      error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("failed to start api server (%s: %s): %v", e.Strategy, e.Command, e.Err)
}

func (e *LaunchError) Unwrap() error { return e.Err }

// Config controls where the service lives and how long startup may take.
type Config struct {
	// BaseDir is searched first; it is normally the parent of the install
	// location so the service sits beside the bridge.
	BaseDir string
	// WorkspaceDir is the fallback search root.
	WorkspaceDir string
	DirName      string
	Script       string
	PollInterval time.Duration
	MaxAttempts  int
	// GOOS selects interpreter paths; empty means the running platform.
	GOOS string
}

// DefaultConfig returns the stock startup budget of 30 probes one second apart.
func DefaultConfig() Config {
	return Config{
		DirName:      DefaultDirName,
		Script:       DefaultScript,
		PollInterval: DefaultPollInterval,
		MaxAttempts:  DefaultMaxAttempts,
		GOOS:         runtime.GOOS,
	}
}

// Normalize fills zero values with defaults.
func (c *Config) Normalize() {
	defaults := DefaultConfig()
	if strings.TrimSpace(c.DirName) == "" {
		c.DirName = defaults.DirName
	}
	if strings.TrimSpace(c.Script) == "" {
		c.Script = defaults.Script
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaults.PollInterval
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaults.MaxAttempts
	}
	if c.GOOS == "" {
		c.GOOS = defaults.GOOS
	}
}

// ServiceDir returns the first existing candidate directory: BaseDir, then
// WorkspaceDir.
func (c Config) ServiceDir() (string, error) {
	var candidates []string
	if c.BaseDir != "" {
		candidates = append(candidates, filepath.Join(c.BaseDir, c.DirName))
	}
	if c.WorkspaceDir != "" {
		candidates = append(candidates, filepath.Join(c.WorkspaceDir, c.DirName))
	}
	for _, dir := range candidates {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return dir, nil
		}
	}
	last := c.DirName
	if len(candidates) > 0 {
		last = candidates[len(candidates)-1]
	}
	return "", fmt.Errorf("%w at: %s. Please ensure %s is in your workspace", ErrServiceDirNotFound, last, c.DirName)
}
