package runtime

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lexcodex/vision2ui/mcpcheck"
	"github.com/lexcodex/vision2ui/panel"
	"github.com/lexcodex/vision2ui/service"
	"github.com/lexcodex/vision2ui/supervisor"
)

// Theme preferences accepted by Config.Theme.
const (
	ThemeAuto  = "auto"
	ThemeDark  = "dark"
	ThemeLight = "light"
)

const stateDir = ".vision2ui"

// ServerConfig locates and launches the component service.
type ServerConfig struct {
	BaseDir      string        `yaml:"base_dir,omitempty"`
	DirName      string        `yaml:"dir_name,omitempty"`
	Script       string        `yaml:"script,omitempty"`
	PollInterval time.Duration `yaml:"poll_interval,omitempty"`
	MaxAttempts  int           `yaml:"max_attempts,omitempty"`
}

// MCPConfig points the MCP check at an editor config file.
type MCPConfig struct {
	ConfigPath       string        `yaml:"config_path,omitempty"`
	ServerName       string        `yaml:"server_name,omitempty"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout,omitempty"`
}

// Config captures every knob shared by the CLI, the sidebar and the bridge
// server. Workspace, ConfigPath and LogPath come from flags only.
type Config struct {
	Workspace  string `yaml:"-"`
	ConfigPath string `yaml:"-"`
	LogPath    string `yaml:"-"`

	APIBaseURL     string        `yaml:"api_base_url,omitempty"`
	RequestTimeout time.Duration `yaml:"request_timeout,omitempty"`
	UploadTimeout  time.Duration `yaml:"upload_timeout,omitempty"`
	StartTimeout   time.Duration `yaml:"start_timeout,omitempty"`
	ListenAddr     string        `yaml:"listen_addr,omitempty"`
	AllowedOrigins []string      `yaml:"allowed_origins,omitempty"`
	Theme          string        `yaml:"theme,omitempty"`
	DownloadsDir   string        `yaml:"downloads_dir,omitempty"`
	JournalPath    string        `yaml:"journal_path,omitempty"`
	Server         ServerConfig  `yaml:"server,omitempty"`
	MCP            MCPConfig     `yaml:"mcp,omitempty"`
}

// DefaultConfig infers defaults from the current working directory. Errors
// from os.Getwd are ignored so callers can override manually.
func DefaultConfig() Config {
	cwd, err := os.Getwd()
	if err != nil {
		cwd = "."
	}
	return Config{
		Workspace:      cwd,
		ConfigPath:     filepath.Join(cwd, stateDir, "config.yaml"),
		LogPath:        filepath.Join(cwd, stateDir, "vision2ui.log"),
		APIBaseURL:     service.DefaultBaseURL,
		RequestTimeout: service.DefaultTimeout,
		UploadTimeout:  service.DefaultUploadTimeout,
		StartTimeout:   panel.DefaultStartTimeout,
		ListenAddr:     "127.0.0.1:9410",
		Theme:          ThemeAuto,
		Server: ServerConfig{
			DirName:      supervisor.DefaultDirName,
			Script:       supervisor.DefaultScript,
			PollInterval: supervisor.DefaultPollInterval,
			MaxAttempts:  supervisor.DefaultMaxAttempts,
		},
		MCP: MCPConfig{
			ServerName:       mcpcheck.DefaultServerName,
			HandshakeTimeout: mcpcheck.DefaultHandshakeTimeout,
		},
	}
}

// Normalize makes every path absolute and fills missing defaults so runtime
// initialization never re-checks the same invariants.
func (c *Config) Normalize() error {
	if c.Workspace == "" {
		return fmt.Errorf("workspace path required")
	}
	absWorkspace, err := filepath.Abs(c.Workspace)
	if err != nil {
		return fmt.Errorf("resolve workspace: %w", err)
	}
	c.Workspace = absWorkspace
	c.ConfigPath = c.inWorkspace(c.ConfigPath, filepath.Join(stateDir, "config.yaml"))
	c.LogPath = c.inWorkspace(c.LogPath, filepath.Join(stateDir, "vision2ui.log"))
	c.JournalPath = c.inWorkspace(c.JournalPath, filepath.Join(stateDir, "journal.db"))
	c.DownloadsDir = c.inWorkspace(c.DownloadsDir, ".")
	if c.Server.BaseDir != "" {
		c.Server.BaseDir = c.inWorkspace(c.Server.BaseDir, "")
	}

	defaults := DefaultConfig()
	if strings.TrimSpace(c.APIBaseURL) == "" {
		c.APIBaseURL = defaults.APIBaseURL
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = defaults.RequestTimeout
	}
	if c.UploadTimeout <= 0 {
		c.UploadTimeout = defaults.UploadTimeout
	}
	if c.StartTimeout <= 0 {
		c.StartTimeout = defaults.StartTimeout
	}
	if c.ListenAddr == "" {
		c.ListenAddr = defaults.ListenAddr
	}
	switch c.Theme {
	case ThemeAuto, ThemeDark, ThemeLight:
	case "":
		c.Theme = ThemeAuto
	default:
		return fmt.Errorf("unknown theme %q (want auto, dark or light)", c.Theme)
	}
	if c.MCP.ServerName == "" {
		c.MCP.ServerName = defaults.MCP.ServerName
	}
	if c.MCP.HandshakeTimeout <= 0 {
		c.MCP.HandshakeTimeout = defaults.MCP.HandshakeTimeout
	}
	return nil
}

func (c Config) inWorkspace(path, fallback string) string {
	if path == "" {
		path = fallback
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(c.Workspace, path)
	}
	return path
}

// SupervisorConfig translates the server section for the supervisor.
func (c Config) SupervisorConfig() supervisor.Config {
	cfg := supervisor.DefaultConfig()
	cfg.BaseDir = c.Server.BaseDir
	cfg.WorkspaceDir = c.Workspace
	if c.Server.DirName != "" {
		cfg.DirName = c.Server.DirName
	}
	if c.Server.Script != "" {
		cfg.Script = c.Server.Script
	}
	if c.Server.PollInterval > 0 {
		cfg.PollInterval = c.Server.PollInterval
	}
	if c.Server.MaxAttempts > 0 {
		cfg.MaxAttempts = c.Server.MaxAttempts
	}
	if cfg.BaseDir == "" {
		if exe, err := os.Executable(); err == nil {
			cfg.BaseDir = filepath.Dir(filepath.Dir(exe))
		}
	}
	return cfg
}

// PanelOptions returns the panel-side timeouts.
func (c Config) PanelOptions() panel.Options {
	return panel.Options{
		RequestTimeout: c.RequestTimeout,
		StartTimeout:   c.StartTimeout,
		UploadTimeout:  c.UploadTimeout,
	}
}

// LoadConfig overlays the yaml file at path onto base. A missing file leaves
// base untouched.
func LoadConfig(path string, base Config) (Config, error) {
	if path == "" {
		return base, fmt.Errorf("config path required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return base, nil
		}
		return base, err
	}
	cfg := base
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return base, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// SaveConfig persists the file-backed part of cfg.
func SaveConfig(path string, cfg Config) error {
	if path == "" {
		return fmt.Errorf("config path required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
