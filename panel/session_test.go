package panel

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lexcodex/vision2ui/bridge"
	"github.com/lexcodex/vision2ui/host"
	"github.com/lexcodex/vision2ui/mcpcheck"
	"github.com/lexcodex/vision2ui/protocol"
	"github.com/lexcodex/vision2ui/service"
	"github.com/lexcodex/vision2ui/transport"
)

// scriptedHost answers every message on ch with reply(msg).
func scriptedHost(t *testing.T, ch transport.Channel, reply func(protocol.Message) []protocol.Message) {
	t.Helper()
	go func() {
		for msg := range ch.Recv() {
			for _, out := range reply(msg) {
				_ = ch.Send(context.Background(), out)
			}
		}
	}()
}

func newTestSession(t *testing.T, opts Options, reply func(protocol.Message) []protocol.Message) *Session {
	t.Helper()
	panelEnd, hostEnd := transport.Pipe()
	scriptedHost(t, hostEnd, reply)
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard, "", 0)
	}
	s := NewSession(panelEnd, opts)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func respond(req protocol.APIRequest, data string) protocol.APIResponse {
	return protocol.APIResponse{ID: req.ID, Data: json.RawMessage(data)}
}

func TestSessionTypedAPICalls(t *testing.T) {
	s := newTestSession(t, Options{}, func(msg protocol.Message) []protocol.Message {
		req, ok := msg.(protocol.APIRequest)
		if !ok {
			return nil
		}
		switch req.APICommand {
		case protocol.APIFetchComponents:
			return []protocol.Message{respond(req, `{"components":["Button","Card"],"count":2}`)}
		case protocol.APIFetchComponentContent:
			return []protocol.Message{respond(req, `{"component_name":"Button","content":"# Button"}`)}
		case protocol.APICheckComponentExists:
			return []protocol.Message{protocol.APIResponse{ID: req.ID, Error: "HTTP 500: Internal Server Error"}}
		case protocol.APICheckHealth:
			return []protocol.Message{respond(req, `{"status":"unreachable"}`)}
		case protocol.APICheckMcpConnection:
			return []protocol.Message{respond(req, `{"connected":true,"status":"connected","details":"MCP server is connected and responding"}`)}
		case protocol.APIFetchMetadataPrompt:
			return []protocol.Message{respond(req, `"# Prompt"`)}
		}
		return nil
	})
	ctx := context.Background()

	names, err := s.FetchComponents(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"Button", "Card"}, names)

	content, err := s.FetchComponentContent(ctx, "Button")
	require.NoError(t, err)
	require.Equal(t, "# Button", content)

	require.False(t, s.CheckComponentExists(ctx, "Button"))
	require.Equal(t, Health{Status: "unreachable"}, s.CheckHealth(ctx))
	require.True(t, s.CheckMcpConnection(ctx).Connected)

	prompt, err := s.FetchMetadataPrompt(ctx)
	require.NoError(t, err)
	require.Equal(t, "# Prompt", prompt)
	require.Zero(t, s.Pending())
}

func TestSessionRequestTimeoutFallbacks(t *testing.T) {
	s := newTestSession(t, Options{RequestTimeout: 20 * time.Millisecond}, func(protocol.Message) []protocol.Message {
		return nil
	})
	ctx := context.Background()

	_, err := s.FetchComponents(ctx)
	require.ErrorIs(t, err, bridge.ErrTimeout)
	require.Equal(t, Health{Status: "unreachable", Healthy: false}, s.CheckHealth(ctx))
	require.Equal(t, mcpcheck.Result{Status: mcpcheck.StatusError, Details: "Failed to check MCP connection"}, s.CheckMcpConnection(ctx))
	require.Zero(t, s.Pending())
}

func TestSessionStartServer(t *testing.T) {
	s := newTestSession(t, Options{}, func(msg protocol.Message) []protocol.Message {
		if _, ok := msg.(protocol.StartServer); ok {
			return []protocol.Message{
				protocol.ServerStatus{Status: protocol.ServerStarting},
				protocol.ServerStatus{Status: protocol.ServerReady},
			}
		}
		return nil
	})
	require.NoError(t, s.StartServer(context.Background()))
	require.Zero(t, s.listeners.Count(protocol.CommandServerStatus))
}

func TestSessionStartServerErrorAndTimeout(t *testing.T) {
	failing := newTestSession(t, Options{}, func(msg protocol.Message) []protocol.Message {
		return []protocol.Message{protocol.ServerStatus{Status: protocol.ServerError, Error: "boom"}}
	})
	err := failing.StartServer(context.Background())
	var hostErr *HostError
	require.ErrorAs(t, err, &hostErr)
	require.Equal(t, "boom", hostErr.Message)

	silent := newTestSession(t, Options{StartTimeout: 20 * time.Millisecond}, func(protocol.Message) []protocol.Message {
		return []protocol.Message{protocol.ServerStatus{Status: protocol.ServerStarting}}
	})
	require.ErrorIs(t, silent.StartServer(context.Background()), ErrStartTimeout)
	require.Zero(t, silent.listeners.Count(protocol.CommandServerStatus))
}

func TestSessionUploadAndDownloadOutcomes(t *testing.T) {
	s := newTestSession(t, Options{}, func(msg protocol.Message) []protocol.Message {
		switch m := msg.(type) {
		case protocol.UploadComponent:
			if m.Filename == "bad.txt" {
				return []protocol.Message{protocol.UploadError{Error: "File must have .md extension"}}
			}
			return []protocol.Message{protocol.ComponentUploaded{ComponentName: "Card"}}
		case protocol.DownloadMetadataPrompt:
			if m.Filename == "cancel.md" {
				return []protocol.Message{protocol.DownloadError{Error: "Save cancelled"}}
			}
			return []protocol.Message{protocol.MetadataPromptDownloaded{FilePath: "/tmp/" + m.Filename}}
		}
		return nil
	})
	ctx := context.Background()

	name, err := s.UploadComponent(ctx, "Card-2.0.0.md", "# Card")
	require.NoError(t, err)
	require.Equal(t, "Card", name)

	_, err = s.UploadComponent(ctx, "bad.txt", "")
	require.EqualError(t, err, "File must have .md extension")

	path, err := s.DownloadMetadataPrompt(ctx, "# Prompt", "p.md")
	require.NoError(t, err)
	require.Equal(t, "/tmp/p.md", path)

	_, err = s.DownloadMetadataPrompt(ctx, "# Prompt", "cancel.md")
	require.ErrorIs(t, err, ErrSaveCancelled)
}

func TestSessionRoutesOtherMessagesToListeners(t *testing.T) {
	panelEnd, hostEnd := transport.Pipe()
	s := NewSession(panelEnd, Options{Logger: log.New(io.Discard, "", 0)})
	defer s.Close()

	got := make(chan protocol.Message, 1)
	s.Subscribe(protocol.CommandThemeChanged, func(msg protocol.Message) { got <- msg })
	require.NoError(t, hostEnd.Send(context.Background(), protocol.APIResponse{ID: 99}))
	require.NoError(t, hostEnd.Send(context.Background(), protocol.ThemeChanged{Theme: protocol.ThemeLight}))

	select {
	case msg := <-got:
		require.Equal(t, protocol.ThemeChanged{Theme: protocol.ThemeLight}, msg)
	case <-time.After(time.Second):
		t.Fatal("theme not delivered")
	}

	require.NoError(t, hostEnd.Close())
	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("session did not stop")
	}
}

func TestSessionAgainstHost(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/components", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"components":["Button","Card"],"count":2}`)
	})
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"status":"healthy"}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	panelEnd, hostEnd := transport.Pipe()
	quiet := log.New(io.Discard, "", 0)
	h := host.New(host.Deps{Service: service.NewClient(srv.URL), Logger: quiet})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = h.Serve(ctx, hostEnd) }()

	s := NewSession(panelEnd, Options{Logger: quiet})
	defer s.Close()

	names, err := s.FetchComponents(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"Button", "Card"}, names)
	require.Equal(t, Health{Status: "healthy", Healthy: true}, s.CheckHealth(ctx))
}
