package tui

import (
	"context"
	"os"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/lexcodex/vision2ui/mcpcheck"
	"github.com/lexcodex/vision2ui/panel"
	"github.com/lexcodex/vision2ui/protocol"
)

type healthMsg struct{ health panel.Health }

type mcpMsg struct{ result mcpcheck.Result }

type componentsMsg struct {
	names []string
	err   error
}

type contentMsg struct {
	name    string
	content string
	err     error
}

type serverStartedMsg struct{ err error }

type uploadedMsg struct {
	name string
	err  error
}

type downloadedMsg struct {
	path string
	err  error
}

type themeMsg struct{ theme protocol.Theme }

type componentsChangedMsg struct{}

func checkHealthCmd(ctx context.Context, s Session) tea.Cmd {
	return func() tea.Msg {
		return healthMsg{health: s.CheckHealth(ctx)}
	}
}

func checkMcpCmd(ctx context.Context, s Session) tea.Cmd {
	return func() tea.Msg {
		return mcpMsg{result: s.CheckMcpConnection(ctx)}
	}
}

func fetchComponentsCmd(ctx context.Context, s Session) tea.Cmd {
	return func() tea.Msg {
		names, err := s.FetchComponents(ctx)
		return componentsMsg{names: names, err: err}
	}
}

func fetchContentCmd(ctx context.Context, s Session, name string) tea.Cmd {
	return func() tea.Msg {
		content, err := s.FetchComponentContent(ctx, name)
		return contentMsg{name: name, content: content, err: err}
	}
}

func startServerCmd(ctx context.Context, s Session) tea.Cmd {
	return func() tea.Msg {
		return serverStartedMsg{err: s.StartServer(ctx)}
	}
}

// uploadCmd reads path and uploads it under its base name. Read failures
// are reported like upload failures.
func uploadCmd(ctx context.Context, s Session, path string) tea.Cmd {
	return func() tea.Msg {
		data, err := os.ReadFile(path)
		if err != nil {
			return uploadedMsg{err: err}
		}
		name, err := s.UploadComponent(ctx, filepath.Base(path), string(data))
		return uploadedMsg{name: name, err: err}
	}
}

func downloadPromptCmd(ctx context.Context, s Session) tea.Cmd {
	return func() tea.Msg {
		prompt, err := s.FetchMetadataPrompt(ctx)
		if err != nil {
			return downloadedMsg{err: err}
		}
		path, err := s.DownloadMetadataPrompt(ctx, prompt, panel.MetadataPromptFilename)
		return downloadedMsg{path: path, err: err}
	}
}

func showErrorCmd(ctx context.Context, s Session, message string) tea.Cmd {
	return func() tea.Msg {
		_ = s.ShowError(ctx, message)
		return nil
	}
}

func clickButtonCmd(ctx context.Context, s Session) tea.Cmd {
	return func() tea.Msg {
		_ = s.ClickButton(ctx)
		return nil
	}
}

func listenEvents(ch <-chan tea.Msg) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		return <-ch
	}
}
