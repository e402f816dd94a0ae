// Package host serves panel sessions: it answers API requests from the
// component service, uploads and saves files, and starts the service.
package host

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lexcodex/vision2ui/mcpcheck"
	"github.com/lexcodex/vision2ui/persistence"
	"github.com/lexcodex/vision2ui/protocol"
	"github.com/lexcodex/vision2ui/service"
	"github.com/lexcodex/vision2ui/telemetry"
	"github.com/lexcodex/vision2ui/transport"
)

// Service is the subset of the component service client the host uses.
type Service interface {
	Raw(ctx context.Context, path string) (json.RawMessage, error)
	Upload(ctx context.Context, filename, content string) (service.UploadResult, error)
}

// Supervisor brings the component service up.
type Supervisor interface {
	EnsureRunning(ctx context.Context) error
}

// MCPChecker inspects the MCP integration.
type MCPChecker interface {
	Check(ctx context.Context) mcpcheck.Result
}

// Deps wires a Host. Journal and Telemetry are optional.
type Deps struct {
	Service    Service
	Supervisor Supervisor
	MCP        MCPChecker
	Notifier   Notifier
	Dialog     SaveDialog
	Theme      ThemeSource
	Journal    persistence.Journal
	Telemetry  telemetry.Telemetry
	Logger     *log.Logger
}

// Host holds dependencies shared by every session.
type Host struct {
	deps Deps
}

// New builds a host, filling optional dependencies with no-op defaults.
func New(deps Deps) *Host {
	if deps.Logger == nil {
		deps.Logger = log.Default()
	}
	if deps.Notifier == nil {
		deps.Notifier = LogNotifier{Logger: deps.Logger}
	}
	if deps.Dialog == nil {
		deps.Dialog = DirectoryDialog{Dir: "."}
	}
	if deps.Theme == nil {
		deps.Theme = NewThemeSwitch(AppearanceDark)
	}
	if deps.Telemetry == nil {
		deps.Telemetry = telemetry.Nop{}
	}
	return &Host{deps: deps}
}

// Session is one attached panel.
type Session struct {
	id   string
	host *Host
	ch   transport.Channel
	wg   sync.WaitGroup
}

// ID returns the session id recorded in the journal.
func (s *Session) ID() string { return s.id }

// Serve runs a session on ch until the channel closes or ctx is cancelled.
// Messages are handled concurrently so a slow server start does not hold up
// API requests.
func (h *Host) Serve(ctx context.Context, ch transport.Channel) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s := &Session{id: uuid.NewString(), host: h, ch: ch}
	h.emit(telemetry.Event{Type: telemetry.EventPanelAttach, Session: s.id})
	s.record(ctx, persistence.Entry{Kind: persistence.KindSession, Outcome: "attached"})

	s.postTheme(ctx, h.deps.Theme.Current())
	unsubscribe := h.deps.Theme.Subscribe(func(a Appearance) {
		h.emit(telemetry.Event{Type: telemetry.EventThemeChanged, Session: s.id, Message: string(a.Theme())})
		s.postTheme(ctx, a)
	})

	defer func() {
		unsubscribe()
		cancel()
		s.wg.Wait()
		h.emit(telemetry.Event{Type: telemetry.EventPanelDetach, Session: s.id})
		s.record(context.Background(), persistence.Entry{Kind: persistence.KindSession, Outcome: "detached"})
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch.Recv():
			if !ok {
				return nil
			}
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.handle(ctx, msg)
			}()
		}
	}
}

func (s *Session) postTheme(ctx context.Context, a Appearance) {
	s.post(ctx, protocol.ThemeChanged{Theme: a.Theme()})
}

func (s *Session) post(ctx context.Context, msg protocol.Message) {
	if err := s.ch.Send(ctx, msg); err != nil {
		s.host.deps.Logger.Printf("session %s: post %s: %v", s.id, msg.Command(), err)
	}
}

func (s *Session) record(ctx context.Context, entry persistence.Entry) {
	if s.host.deps.Journal == nil {
		return
	}
	entry.Session = s.id
	if err := s.host.deps.Journal.Record(ctx, entry); err != nil {
		s.host.deps.Logger.Printf("session %s: journal: %v", s.id, err)
	}
}

func (h *Host) emit(event telemetry.Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	h.deps.Telemetry.Emit(event)
}
