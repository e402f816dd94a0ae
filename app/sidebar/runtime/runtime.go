package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/lexcodex/vision2ui/host"
	"github.com/lexcodex/vision2ui/mcpcheck"
	"github.com/lexcodex/vision2ui/persistence"
	"github.com/lexcodex/vision2ui/server"
	"github.com/lexcodex/vision2ui/service"
	"github.com/lexcodex/vision2ui/supervisor"
	"github.com/lexcodex/vision2ui/telemetry"
)

// Runtime wires the CLI, the Bubble Tea sidebar and the bridge server to the
// shared host dependencies and owns their resources.
type Runtime struct {
	Config     Config
	Logger     *log.Logger
	Service    *service.Client
	Supervisor *supervisor.Supervisor
	MCP        *mcpcheck.Checker
	Journal    *persistence.SQLiteJournal
	JournalErr error
	Telemetry  telemetry.Telemetry
	Metrics    *prometheus.Registry
	Theme      *host.ThemeSwitch
	Host       *host.Host

	logFile    io.Closer
	eventsFile *telemetry.JSONFile
	events     chan supervisor.Event
	stopEvents chan struct{}
	eventsDone chan struct{}

	serverMu     sync.Mutex
	serverCancel context.CancelFunc
}

// Options adjusts runtime construction for callers that own the terminal.
type Options struct {
	// Console receives log output besides the log file; nil means stderr.
	Console io.Writer
}

// New builds a runtime. A journal that cannot be opened is logged and
// recorded in JournalErr so diagnostics can surface it.
func New(ctx context.Context, cfg Config, opts Options) (*Runtime, error) {
	if err := cfg.Normalize(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(cfg.LogPath), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	logFile, err := os.OpenFile(cfg.LogPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log: %w", err)
	}
	console := opts.Console
	if console == nil {
		console = os.Stderr
	}
	logger := log.New(io.MultiWriter(console, logFile), "vision2ui ", log.LstdFlags|log.Lmicroseconds)

	rt := &Runtime{
		Config:     cfg,
		Logger:     logger,
		logFile:    logFile,
		events:     make(chan supervisor.Event, 64),
		stopEvents: make(chan struct{}),
		eventsDone: make(chan struct{}),
	}

	rt.Metrics = prometheus.NewRegistry()
	rt.Metrics.MustRegister(collectors.NewGoCollector())
	sinks := []telemetry.Telemetry{
		telemetry.LoggerTelemetry{Logger: logger},
		telemetry.NewPrometheus(rt.Metrics),
	}
	eventsPath := filepath.Join(filepath.Dir(cfg.LogPath), "events.jsonl")
	if file, err := telemetry.NewJSONFile(eventsPath); err != nil {
		logger.Printf("telemetry file unavailable: %v", err)
	} else {
		rt.eventsFile = file
		sinks = append(sinks, file)
	}
	rt.Telemetry = telemetry.Multiplex{Sinks: sinks}

	client := service.NewClient(cfg.APIBaseURL)
	client.Timeout = cfg.RequestTimeout
	client.UploadTimeout = cfg.UploadTimeout
	rt.Service = client

	rt.Supervisor = supervisor.New(cfg.SupervisorConfig(), supervisor.ProbeFunc(client.Healthy), logger, rt.events)
	go rt.forwardSupervisorEvents()

	checker := mcpcheck.NewChecker()
	if cfg.MCP.ConfigPath != "" {
		checker.ConfigPath = cfg.MCP.ConfigPath
	}
	checker.ServerName = cfg.MCP.ServerName
	checker.Timeout = cfg.MCP.HandshakeTimeout
	rt.MCP = checker

	if err := os.MkdirAll(filepath.Dir(cfg.JournalPath), 0o755); err != nil {
		rt.JournalErr = err
	} else if journal, err := persistence.OpenJournal(cfg.JournalPath); err != nil {
		rt.JournalErr = err
	} else {
		rt.Journal = journal
	}
	if rt.JournalErr != nil {
		logger.Printf("journal unavailable: %v", rt.JournalErr)
	}

	rt.Theme = host.NewThemeSwitch(initialAppearance(cfg.Theme))
	rt.Host = rt.NewHost(host.DirectoryDialog{Dir: cfg.DownloadsDir}, nil)
	return rt, nil
}

// NewHost builds a host sharing the runtime's dependencies with the given
// user-facing surfaces. A nil notifier logs notifications.
func (r *Runtime) NewHost(dialog host.SaveDialog, notifier host.Notifier) *host.Host {
	deps := host.Deps{
		Service:    r.Service,
		Supervisor: r.Supervisor,
		MCP:        r.MCP,
		Notifier:   notifier,
		Dialog:     dialog,
		Theme:      r.Theme,
		Telemetry:  r.Telemetry,
		Logger:     r.Logger,
	}
	if r.Journal != nil {
		deps.Journal = r.Journal
	}
	return host.New(deps)
}

func initialAppearance(theme string) host.Appearance {
	switch theme {
	case ThemeLight:
		return host.AppearanceLight
	case ThemeDark:
		return host.AppearanceDark
	}
	if lipgloss.HasDarkBackground() {
		return host.AppearanceDark
	}
	return host.AppearanceLight
}

// ToggleTheme flips between light and dark and returns the new appearance.
func (r *Runtime) ToggleTheme() host.Appearance {
	next := host.AppearanceDark
	if r.Theme.Current().Theme() == host.AppearanceDark.Theme() {
		next = host.AppearanceLight
	}
	r.Theme.Set(next)
	return next
}

func (r *Runtime) forwardSupervisorEvents() {
	defer close(r.eventsDone)
	for {
		var evt supervisor.Event
		select {
		case <-r.stopEvents:
			return
		case evt = <-r.events:
		}
		if evt.Type == supervisor.EventLogLine {
			continue
		}
		outcome := telemetry.OutcomeOK
		message := evt.Message
		if evt.Err != nil {
			outcome = telemetry.OutcomeError
			message = evt.Err.Error()
		}
		metadata := map[string]any{"event": string(evt.Type)}
		for k, v := range evt.Metadata {
			metadata[k] = v
		}
		r.Telemetry.Emit(telemetry.Event{
			Type:      telemetry.EventServer,
			Command:   string(evt.Type),
			Outcome:   outcome,
			Message:   message,
			Timestamp: evt.Timestamp,
			Metadata:  metadata,
		})
	}
}

// ServiceStatus is the combined supervisor and health view.
type ServiceStatus struct {
	State    supervisor.State `json:"state"`
	Healthy  bool             `json:"healthy"`
	BaseURL  string           `json:"base_url"`
	PID      int              `json:"pid,omitempty"`
	Strategy string           `json:"strategy,omitempty"`
	Dir      string           `json:"dir,omitempty"`
	Error    string           `json:"error,omitempty"`
}

// ServiceStatus probes the service and snapshots the supervisor.
func (r *Runtime) ServiceStatus(ctx context.Context) ServiceStatus {
	st := r.Supervisor.Status()
	out := ServiceStatus{
		State:    st.State,
		Healthy:  r.Service.Healthy(ctx),
		BaseURL:  r.Service.BaseURL,
		PID:      st.PID,
		Strategy: st.Strategy,
		Dir:      st.Dir,
	}
	if st.Err != nil {
		out.Error = st.Err.Error()
	}
	return out
}

// BridgeServer returns the HTTP bridge bound to the runtime's host.
func (r *Runtime) BridgeServer() *server.BridgeServer {
	return &server.BridgeServer{
		Host:           r.Host,
		Gatherer:       r.Metrics,
		Status:         func(ctx context.Context) any { return r.ServiceStatus(ctx) },
		Logger:         r.Logger,
		AllowedOrigins: r.Config.AllowedOrigins,
	}
}

// StartServer launches the bridge server. The returned stop function shuts
// the server down using the provided context.
func (r *Runtime) StartServer(ctx context.Context, addr string) (func(context.Context) error, error) {
	r.serverMu.Lock()
	defer r.serverMu.Unlock()
	if r.serverCancel != nil {
		return nil, errors.New("server already running")
	}
	if addr == "" {
		addr = r.Config.ListenAddr
	}
	bridge := r.BridgeServer()
	serverCtx, cancel := context.WithCancel(ctx)
	errCh := make(chan error, 1)
	go func() {
		errCh <- bridge.ServeContext(serverCtx, addr)
	}()
	r.serverCancel = cancel
	stopFn := func(shutdownCtx context.Context) error {
		r.serverMu.Lock()
		if r.serverCancel == nil {
			r.serverMu.Unlock()
			return nil
		}
		r.serverCancel()
		r.serverCancel = nil
		r.serverMu.Unlock()
		select {
		case err := <-errCh:
			if err == nil || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		case <-shutdownCtx.Done():
			return shutdownCtx.Err()
		}
	}
	return stopFn, nil
}

// ServerRunning reports whether the bridge server is active.
func (r *Runtime) ServerRunning() bool {
	r.serverMu.Lock()
	defer r.serverMu.Unlock()
	return r.serverCancel != nil
}

// Close stops the bridge server and any spawned service, then releases
// files. It is safe to call once.
func (r *Runtime) Close() error {
	r.serverMu.Lock()
	if r.serverCancel != nil {
		r.serverCancel()
		r.serverCancel = nil
	}
	r.serverMu.Unlock()

	var errs []error
	if err := r.Supervisor.Stop(); err != nil {
		errs = append(errs, err)
	}
	close(r.stopEvents)
	<-r.eventsDone
	if r.Journal != nil {
		errs = append(errs, r.Journal.Close())
	}
	if r.eventsFile != nil {
		errs = append(errs, r.eventsFile.Close())
	}
	if r.logFile != nil {
		errs = append(errs, r.logFile.Close())
	}
	return errors.Join(errs...)
}
