package host

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	lsp "go.lsp.dev/protocol"

	"github.com/lexcodex/vision2ui/persistence"
	"github.com/lexcodex/vision2ui/protocol"
	"github.com/lexcodex/vision2ui/service"
	"github.com/lexcodex/vision2ui/telemetry"
)

const defaultErrorMessage = "An error occurred"

var markdownFilters = map[string][]string{
	"Markdown files": {"md"},
	"All files":      {"*"},
}

func (s *Session) handle(ctx context.Context, msg protocol.Message) {
	start := time.Now()
	outcome := telemetry.OutcomeOK
	switch m := msg.(type) {
	case protocol.ButtonClick:
		s.notify(ctx, lsp.MessageTypeInfo, "Button clicked!")
	case protocol.APIRequest:
		outcome = s.handleAPIRequest(ctx, m)
	case protocol.UploadComponent:
		outcome = s.handleUpload(ctx, m)
	case protocol.DownloadMetadataPrompt:
		outcome = s.handleDownload(ctx, m)
	case protocol.ShowError:
		text := m.Message
		if text == "" {
			text = defaultErrorMessage
		}
		s.notify(ctx, lsp.MessageTypeError, text)
	case protocol.StartServer:
		outcome = s.handleStartServer(ctx)
	case protocol.APIResponse, protocol.ThemeChanged, protocol.ComponentUploaded, protocol.UploadError,
		protocol.MetadataPromptDownloaded, protocol.DownloadError, protocol.ServerStatus:
		s.host.deps.Logger.Printf("session %s: ignoring host-bound %s", s.id, m.Command())
		return
	}
	s.host.emit(telemetry.Event{
		Type:     telemetry.EventMessage,
		Session:  s.id,
		Command:  string(msg.Command()),
		Outcome:  outcome,
		Duration: time.Since(start),
	})
}

func (s *Session) handleAPIRequest(ctx context.Context, req protocol.APIRequest) string {
	start := time.Now()
	data, err := s.api(ctx, req)
	resp := protocol.APIResponse{ID: req.ID, Data: data}
	outcome := telemetry.OutcomeOK
	if err != nil {
		resp = protocol.APIResponse{ID: req.ID, Error: err.Error()}
		outcome = telemetry.OutcomeError
	}
	s.host.emit(telemetry.Event{
		Type:     telemetry.EventAPIRequest,
		Session:  s.id,
		Command:  string(req.APICommand),
		Outcome:  outcome,
		Duration: time.Since(start),
		Message:  resp.Error,
	})
	s.post(ctx, resp)
	return outcome
}

// api answers one API command. Existence and health checks never fail once
// their input is valid: errors become a negative answer.
func (s *Session) api(ctx context.Context, req protocol.APIRequest) (json.RawMessage, error) {
	svc := s.host.deps.Service
	switch req.APICommand {
	case protocol.APIFetchComponents:
		return svc.Raw(ctx, "/components")
	case protocol.APIFetchComponentContent:
		path, err := service.ComponentPath(componentName(req.Data), "")
		if err != nil {
			return nil, err
		}
		return svc.Raw(ctx, path)
	case protocol.APICheckComponentExists:
		path, err := service.ComponentPath(componentName(req.Data), "/exists")
		if err != nil {
			return nil, err
		}
		data, err := svc.Raw(ctx, path)
		if err != nil {
			return json.RawMessage(`{"exists":false}`), nil
		}
		return data, nil
	case protocol.APICheckHealth:
		data, err := svc.Raw(ctx, "/health")
		if err != nil {
			return json.RawMessage(`{"status":"unreachable"}`), nil
		}
		return data, nil
	case protocol.APICheckMcpConnection:
		if s.host.deps.MCP == nil {
			return nil, errors.New("MCP check is not configured")
		}
		return json.Marshal(s.host.deps.MCP.Check(ctx))
	case protocol.APIFetchMetadataPrompt:
		return svc.Raw(ctx, "/prompts/metadata-generation")
	default:
		return nil, fmt.Errorf("Unknown API command: %s", req.APICommand)
	}
}

func componentName(data json.RawMessage) string {
	if len(data) == 0 {
		return ""
	}
	var payload struct {
		ComponentName string `json:"componentName"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return ""
	}
	return payload.ComponentName
}

func (s *Session) handleUpload(ctx context.Context, m protocol.UploadComponent) string {
	result, err := s.host.deps.Service.Upload(ctx, m.Filename, m.Content)
	if err != nil {
		s.notify(ctx, lsp.MessageTypeError, "Failed to upload component: "+err.Error())
		s.post(ctx, protocol.UploadError{Error: err.Error()})
		s.record(ctx, persistence.Entry{Kind: persistence.KindUpload, Subject: m.Filename, Outcome: telemetry.OutcomeError, Detail: err.Error()})
		return telemetry.OutcomeError
	}
	s.notify(ctx, lsp.MessageTypeInfo, fmt.Sprintf("Component %q uploaded successfully", result.ComponentName))
	s.post(ctx, protocol.ComponentUploaded{ComponentName: result.ComponentName})
	s.record(ctx, persistence.Entry{Kind: persistence.KindUpload, Subject: m.Filename, Outcome: telemetry.OutcomeOK, Detail: result.ComponentName})
	return telemetry.OutcomeOK
}

func (s *Session) handleDownload(ctx context.Context, m protocol.DownloadMetadataPrompt) string {
	path, err := s.host.deps.Dialog.Save(ctx, SaveRequest{DefaultName: m.Filename, Filters: markdownFilters})
	if errors.Is(err, ErrUserCancelled) {
		s.post(ctx, protocol.DownloadError{Error: ErrUserCancelled.Error()})
		s.record(ctx, persistence.Entry{Kind: persistence.KindDownload, Subject: m.Filename, Outcome: telemetry.OutcomeCancelled})
		return telemetry.OutcomeCancelled
	}
	if err == nil {
		err = os.WriteFile(path, []byte(m.Content), 0o644)
	}
	if err != nil {
		s.notify(ctx, lsp.MessageTypeError, "Failed to save file: "+err.Error())
		s.post(ctx, protocol.DownloadError{Error: err.Error()})
		s.record(ctx, persistence.Entry{Kind: persistence.KindDownload, Subject: m.Filename, Outcome: telemetry.OutcomeError, Detail: err.Error()})
		return telemetry.OutcomeError
	}
	s.notify(ctx, lsp.MessageTypeInfo, "File saved to "+path)
	s.post(ctx, protocol.MetadataPromptDownloaded{FilePath: path})
	s.record(ctx, persistence.Entry{Kind: persistence.KindDownload, Subject: m.Filename, Outcome: telemetry.OutcomeOK, Detail: path})
	return telemetry.OutcomeOK
}

func (s *Session) handleStartServer(ctx context.Context) string {
	s.post(ctx, protocol.ServerStatus{Status: protocol.ServerStarting})
	var err error
	if s.host.deps.Supervisor == nil {
		err = errors.New("server supervisor is not configured")
	} else {
		err = s.host.deps.Supervisor.EnsureRunning(ctx)
	}
	if err != nil {
		s.post(ctx, protocol.ServerStatus{Status: protocol.ServerError, Error: err.Error()})
		s.record(ctx, persistence.Entry{Kind: persistence.KindServerStart, Outcome: telemetry.OutcomeError, Detail: err.Error()})
		return telemetry.OutcomeError
	}
	s.post(ctx, protocol.ServerStatus{Status: protocol.ServerReady})
	s.record(ctx, persistence.Entry{Kind: persistence.KindServerStart, Outcome: telemetry.OutcomeOK})
	return telemetry.OutcomeOK
}

func (s *Session) notify(ctx context.Context, typ lsp.MessageType, text string) {
	if err := s.host.deps.Notifier.ShowMessage(ctx, &lsp.ShowMessageParams{Type: typ, Message: text}); err != nil {
		s.host.deps.Logger.Printf("session %s: notify: %v", s.id, err)
	}
}
