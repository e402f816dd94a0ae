package runtime

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lexcodex/vision2ui/host"
	"github.com/lexcodex/vision2ui/supervisor"
)

func TestNormalizeResolvesPathsAndDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{Workspace: dir, DownloadsDir: "out"}
	require.NoError(t, cfg.Normalize())
	require.Equal(t, filepath.Join(dir, ".vision2ui", "config.yaml"), cfg.ConfigPath)
	require.Equal(t, filepath.Join(dir, ".vision2ui", "vision2ui.log"), cfg.LogPath)
	require.Equal(t, filepath.Join(dir, ".vision2ui", "journal.db"), cfg.JournalPath)
	require.Equal(t, filepath.Join(dir, "out"), cfg.DownloadsDir)
	require.Equal(t, "http://localhost:9400", cfg.APIBaseURL)
	require.Equal(t, ThemeAuto, cfg.Theme)
	require.Equal(t, 35*time.Second, cfg.StartTimeout)

	bad := Config{Workspace: dir, Theme: "sepia"}
	require.Error(t, bad.Normalize())
	require.Error(t, (&Config{}).Normalize())
}

func TestLoadConfigOverlaysFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	base := DefaultConfig()
	base.Workspace = dir

	loaded, err := LoadConfig(path, base)
	require.NoError(t, err)
	require.Equal(t, base, loaded)

	require.NoError(t, os.WriteFile(path, []byte("api_base_url: http://127.0.0.1:9999\nrequest_timeout: 3s\nserver:\n  max_attempts: 5\n  poll_interval: 250ms\nmcp:\n  server_name: ui\nallowed_origins:\n  - https://ui.example.com\n"), 0o644))
	loaded, err = LoadConfig(path, base)
	require.NoError(t, err)
	require.Equal(t, "http://127.0.0.1:9999", loaded.APIBaseURL)
	require.Equal(t, 3*time.Second, loaded.RequestTimeout)
	require.Equal(t, 5, loaded.Server.MaxAttempts)
	require.Equal(t, 250*time.Millisecond, loaded.Server.PollInterval)
	require.Equal(t, supervisor.DefaultScript, loaded.Server.Script)
	require.Equal(t, "ui", loaded.MCP.ServerName)
	require.Equal(t, []string{"https://ui.example.com"}, loaded.AllowedOrigins)
	require.Equal(t, dir, loaded.Workspace)

	loaded.Theme = ThemeLight
	require.NoError(t, SaveConfig(path, loaded))
	again, err := LoadConfig(path, base)
	require.NoError(t, err)
	require.Equal(t, ThemeLight, again.Theme)
	require.Equal(t, 3*time.Second, again.RequestTimeout)
}

func TestSupervisorConfigUsesServerSection(t *testing.T) {
	cfg := Config{Workspace: t.TempDir(), Server: ServerConfig{BaseDir: "/opt/ext", DirName: "svc", MaxAttempts: 3}}
	require.NoError(t, cfg.Normalize())
	sc := cfg.SupervisorConfig()
	require.Equal(t, "/opt/ext", sc.BaseDir)
	require.Equal(t, cfg.Workspace, sc.WorkspaceDir)
	require.Equal(t, "svc", sc.DirName)
	require.Equal(t, 3, sc.MaxAttempts)
	require.Equal(t, supervisor.DefaultPollInterval, sc.PollInterval)
}

func newTestRuntime(t *testing.T, apiURL string) *Runtime {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Workspace = t.TempDir()
	cfg.ConfigPath = ""
	cfg.LogPath = ""
	cfg.APIBaseURL = apiURL
	cfg.Theme = ThemeDark
	cfg.MCP.ConfigPath = filepath.Join(cfg.Workspace, "missing-mcp.json")
	rt, err := New(context.Background(), cfg, Options{Console: io.Discard})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, rt.Close()) })
	return rt
}

func TestNewWiresDependencies(t *testing.T) {
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"status":"healthy"}`)
	}))
	defer api.Close()

	rt := newTestRuntime(t, api.URL)
	require.NotNil(t, rt.Journal)
	require.NoError(t, rt.JournalErr)
	require.FileExists(t, rt.Config.LogPath)
	require.FileExists(t, filepath.Join(rt.Config.Workspace, ".vision2ui", "events.jsonl"))
	require.Equal(t, host.AppearanceDark, rt.Theme.Current())

	status := rt.ServiceStatus(context.Background())
	require.True(t, status.Healthy)
	require.Equal(t, supervisor.StateNotChecked, status.State)
	require.Equal(t, api.URL, status.BaseURL)

	require.Equal(t, "not_configured", rt.MCP.Check(context.Background()).Status)
}

func TestToggleTheme(t *testing.T) {
	rt := newTestRuntime(t, "http://127.0.0.1:1")
	seen := make(chan host.Appearance, 2)
	stop := rt.Theme.Subscribe(func(a host.Appearance) { seen <- a })
	defer stop()

	require.Equal(t, host.AppearanceLight, rt.ToggleTheme())
	require.Equal(t, host.AppearanceDark, rt.ToggleTheme())
	require.Equal(t, host.AppearanceLight, <-seen)
	require.Equal(t, host.AppearanceDark, <-seen)
}

func TestBridgeServerReportsStatus(t *testing.T) {
	rt := newTestRuntime(t, "http://127.0.0.1:1")
	rt.Service.Timeout = 100 * time.Millisecond
	srv := httptest.NewServer(rt.BridgeServer().Router(context.Background()))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	var status ServiceStatus
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	require.False(t, status.Healthy)
	require.Equal(t, supervisor.StateNotChecked, status.State)

	rt.Config.AllowedOrigins = []string{"https://ui.example.com"}
	require.Equal(t, rt.Config.AllowedOrigins, rt.BridgeServer().AllowedOrigins)
}

func TestStartServerRejectsSecondStart(t *testing.T) {
	rt := newTestRuntime(t, "http://127.0.0.1:1")
	stop, err := rt.StartServer(context.Background(), "127.0.0.1:0")
	require.NoError(t, err)
	require.True(t, rt.ServerRunning())

	_, err = rt.StartServer(context.Background(), "127.0.0.1:0")
	require.Error(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 6*time.Second)
	defer cancel()
	require.NoError(t, stop(ctx))
	require.False(t, rt.ServerRunning())
}
