package tui

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"
	lsp "go.lsp.dev/protocol"
)

// Notices collects host notifications for display in the sidebar. It
// implements host.Notifier. Notifications arriving faster than the sidebar
// drains them are dropped.
type Notices struct {
	ch chan noticeMsg
}

// NewNotices buffers up to size pending notifications.
func NewNotices(size int) *Notices {
	if size <= 0 {
		size = 16
	}
	return &Notices{ch: make(chan noticeMsg, size)}
}

type noticeMsg struct {
	kind lsp.MessageType
	text string
}

// ShowMessage implements host.Notifier.
func (n *Notices) ShowMessage(_ context.Context, params *lsp.ShowMessageParams) error {
	select {
	case n.ch <- noticeMsg{kind: params.Type, text: params.Message}:
	default:
	}
	return nil
}

func (n *Notices) listen() tea.Cmd {
	if n == nil {
		return nil
	}
	return func() tea.Msg {
		return <-n.ch
	}
}
