// Package panel is the client side of the sidebar: it turns the message
// channel into typed calls and keeps the status bar.
package panel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/lexcodex/vision2ui/bridge"
	"github.com/lexcodex/vision2ui/mcpcheck"
	"github.com/lexcodex/vision2ui/protocol"
	"github.com/lexcodex/vision2ui/transport"
)

const (
	// DefaultStartTimeout covers the supervisor's full readiness budget.
	DefaultStartTimeout = 35 * time.Second
	// DefaultUploadTimeout covers the host's upload request budget.
	DefaultUploadTimeout = 35 * time.Second
)

var (
	// ErrStartTimeout is returned when no serverStatus outcome arrived in time.
	ErrStartTimeout = errors.New("Server start timeout")
	// ErrSaveCancelled is returned when the host reports a dismissed save dialog.
	ErrSaveCancelled = errors.New("Save cancelled")
)

// HostError carries an error reported by the host outside apiResponse.
type HostError struct {
	Command protocol.Command
	Message string
}

func (e *HostError) Error() string { return e.Message }

// Options tunes a Session. Zero values select defaults.
type Options struct {
	RequestTimeout time.Duration
	StartTimeout   time.Duration
	UploadTimeout  time.Duration
	Logger         *log.Logger
}

// Health is the panel's view of the component service.
type Health struct {
	Status  string `json:"status"`
	Healthy bool   `json:"healthy"`
}

// Session is one panel attached to a host over a channel.
type Session struct {
	ch        transport.Channel
	broker    *bridge.Broker
	listeners *bridge.Listeners
	status    *StatusBar
	opts      Options
	logger    *log.Logger

	uploadMu   sync.Mutex
	downloadMu sync.Mutex
	done       chan struct{}
}

// NewSession starts routing messages from ch.
func NewSession(ch transport.Channel, opts Options) *Session {
	if opts.StartTimeout <= 0 {
		opts.StartTimeout = DefaultStartTimeout
	}
	if opts.UploadTimeout <= 0 {
		opts.UploadTimeout = DefaultUploadTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	s := &Session{
		ch:        ch,
		listeners: bridge.NewListeners(),
		status:    NewStatusBar(),
		opts:      opts,
		logger:    logger,
		done:      make(chan struct{}),
	}
	s.broker = bridge.NewBroker(bridge.PostFunc(ch.Send), opts.RequestTimeout)
	go s.receive()
	return s
}

func (s *Session) receive() {
	defer close(s.done)
	defer s.broker.Close()
	for msg := range s.ch.Recv() {
		if resp, ok := msg.(protocol.APIResponse); ok {
			if !s.broker.Deliver(resp) {
				s.logger.Printf("panel: dropping response %d with no pending request", resp.ID)
			}
			continue
		}
		s.listeners.Publish(msg)
	}
}

// Done is closed once the channel has closed.
func (s *Session) Done() <-chan struct{} { return s.done }

// Close closes the channel and rejects outstanding requests.
func (s *Session) Close() error {
	err := s.ch.Close()
	s.broker.Close()
	return err
}

// StatusBar returns the session's status bar.
func (s *Session) StatusBar() *StatusBar { return s.status }

// Subscribe registers fn for host messages with command.
func (s *Session) Subscribe(command protocol.Command, fn bridge.Callback) func() {
	return s.listeners.Subscribe(command, fn)
}

// Pending returns the number of outstanding API requests.
func (s *Session) Pending() int { return s.broker.Size() }

// FetchComponents lists component names.
func (s *Session) FetchComponents(ctx context.Context) ([]string, error) {
	var out struct {
		Components []string `json:"components"`
	}
	if err := s.request(ctx, protocol.APIFetchComponents, nil, &out); err != nil {
		return nil, err
	}
	return out.Components, nil
}

// FetchComponentContent returns a component's markdown.
func (s *Session) FetchComponentContent(ctx context.Context, name string) (string, error) {
	var out struct {
		Content string `json:"content"`
	}
	if err := s.request(ctx, protocol.APIFetchComponentContent, componentPayload(name), &out); err != nil {
		return "", err
	}
	return out.Content, nil
}

// CheckComponentExists reports false on any error.
func (s *Session) CheckComponentExists(ctx context.Context, name string) bool {
	var out struct {
		Exists bool `json:"exists"`
	}
	if err := s.request(ctx, protocol.APICheckComponentExists, componentPayload(name), &out); err != nil {
		s.logger.Printf("panel: check component exists: %v", err)
		return false
	}
	return out.Exists
}

// CheckHealth never fails; errors read as unreachable.
func (s *Session) CheckHealth(ctx context.Context) Health {
	var out struct {
		Status string `json:"status"`
	}
	if err := s.request(ctx, protocol.APICheckHealth, nil, &out); err != nil {
		s.logger.Printf("panel: check health: %v", err)
		return Health{Status: "unreachable"}
	}
	return Health{Status: out.Status, Healthy: out.Status != "unreachable"}
}

// CheckMcpConnection never fails; errors read as status "error".
func (s *Session) CheckMcpConnection(ctx context.Context) mcpcheck.Result {
	var out mcpcheck.Result
	if err := s.request(ctx, protocol.APICheckMcpConnection, nil, &out); err != nil {
		s.logger.Printf("panel: check mcp connection: %v", err)
		return mcpcheck.Result{Status: mcpcheck.StatusError, Details: "Failed to check MCP connection"}
	}
	return out
}

// FetchMetadataPrompt always yields text: a JSON string is unquoted, any
// other JSON value is returned verbatim.
func (s *Session) FetchMetadataPrompt(ctx context.Context) (string, error) {
	data, err := s.broker.Request(ctx, protocol.APIFetchMetadataPrompt, nil)
	if err != nil {
		return "", err
	}
	var text string
	if json.Unmarshal(data, &text) == nil {
		return text, nil
	}
	return string(data), nil
}

// StartServer asks the host to start the component service and waits for
// the outcome.
func (s *Session) StartServer(ctx context.Context) error {
	msg, err := s.await(ctx, s.opts.StartTimeout, ErrStartTimeout, protocol.StartServer{}, func(msg protocol.Message) bool {
		status, ok := msg.(protocol.ServerStatus)
		return ok && status.Status != protocol.ServerStarting
	}, protocol.CommandServerStatus)
	if err != nil {
		return err
	}
	status := msg.(protocol.ServerStatus)
	if status.Status == protocol.ServerError {
		text := status.Error
		if text == "" {
			text = "Failed to start server"
		}
		return &HostError{Command: protocol.CommandServerStatus, Message: text}
	}
	return nil
}

// UploadComponent uploads a documentation file and returns the component
// name the service derived from it.
func (s *Session) UploadComponent(ctx context.Context, filename, content string) (string, error) {
	s.uploadMu.Lock()
	defer s.uploadMu.Unlock()
	msg, err := s.await(ctx, s.opts.UploadTimeout, bridge.ErrTimeout,
		protocol.UploadComponent{Filename: filename, Content: content}, nil,
		protocol.CommandComponentUploaded, protocol.CommandUploadError)
	if err != nil {
		return "", err
	}
	switch m := msg.(type) {
	case protocol.ComponentUploaded:
		return m.ComponentName, nil
	case protocol.UploadError:
		return "", &HostError{Command: protocol.CommandUploadError, Message: m.Error}
	}
	return "", fmt.Errorf("unexpected %s", msg.Command())
}

// DownloadMetadataPrompt asks the host to save content and returns the path
// written. It waits as long as ctx allows since the host may be waiting on
// the user.
func (s *Session) DownloadMetadataPrompt(ctx context.Context, content, filename string) (string, error) {
	s.downloadMu.Lock()
	defer s.downloadMu.Unlock()
	msg, err := s.await(ctx, 0, nil,
		protocol.DownloadMetadataPrompt{Content: content, Filename: filename}, nil,
		protocol.CommandMetadataPromptDownloaded, protocol.CommandDownloadError)
	if err != nil {
		return "", err
	}
	switch m := msg.(type) {
	case protocol.MetadataPromptDownloaded:
		return m.FilePath, nil
	case protocol.DownloadError:
		if m.Error == ErrSaveCancelled.Error() {
			return "", ErrSaveCancelled
		}
		return "", &HostError{Command: protocol.CommandDownloadError, Message: m.Error}
	}
	return "", fmt.Errorf("unexpected %s", msg.Command())
}

// ClickButton sends the demo button press.
func (s *Session) ClickButton(ctx context.Context) error {
	return s.ch.Send(ctx, protocol.ButtonClick{})
}

// ShowError asks the host to show an error notification.
func (s *Session) ShowError(ctx context.Context, message string) error {
	return s.ch.Send(ctx, protocol.ShowError{Message: message})
}

func (s *Session) request(ctx context.Context, op protocol.APICommand, payload any, out any) error {
	data, err := s.broker.Request(ctx, op, payload)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return fmt.Errorf("%s: empty response", op)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// await subscribes to commands, posts msg and returns the first message
// accepted by match (any message when match is nil). Subscriptions are
// always removed. A zero timeout waits on ctx alone.
func (s *Session) await(ctx context.Context, timeout time.Duration, timeoutErr error, msg protocol.Message, match func(protocol.Message) bool, commands ...protocol.Command) (protocol.Message, error) {
	result := make(chan protocol.Message, 1)
	for _, command := range commands {
		unsubscribe := s.listeners.Subscribe(command, func(m protocol.Message) {
			if match != nil && !match(m) {
				return
			}
			select {
			case result <- m:
			default:
			}
		})
		defer unsubscribe()
	}
	if err := s.ch.Send(ctx, msg); err != nil {
		return nil, err
	}

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}
	select {
	case m := <-result:
		return m, nil
	case <-expired:
		return nil, timeoutErr
	case <-s.done:
		return nil, transport.ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func componentPayload(name string) map[string]string {
	return map[string]string{"componentName": name}
}
