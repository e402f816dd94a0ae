package tui

import (
	"context"
	"path/filepath"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/lexcodex/vision2ui/host"
)

// SaveDialog asks the sidebar user where to save a file. It implements
// host.SaveDialog for a host running in the same process as the sidebar.
type SaveDialog struct {
	Dir      string
	requests chan saveRequestMsg
}

// NewSaveDialog suggests paths inside dir.
func NewSaveDialog(dir string) *SaveDialog {
	return &SaveDialog{Dir: dir, requests: make(chan saveRequestMsg)}
}

type saveReply struct {
	path string
	err  error
}

type saveRequestMsg struct {
	req   host.SaveRequest
	reply chan saveReply
}

// Save blocks until the user confirms a path or dismisses the prompt.
func (d *SaveDialog) Save(ctx context.Context, req host.SaveRequest) (string, error) {
	msg := saveRequestMsg{req: req, reply: make(chan saveReply, 1)}
	select {
	case d.requests <- msg:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	select {
	case r := <-msg.reply:
		return r.path, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (d *SaveDialog) listen() tea.Cmd {
	if d == nil {
		return nil
	}
	return func() tea.Msg {
		return <-d.requests
	}
}

func (d *SaveDialog) suggest(req host.SaveRequest) string {
	dir := d.Dir
	if dir == "" {
		dir = "."
	}
	return filepath.Join(dir, filepath.Base(req.DefaultName))
}

// resolveSavePath appends the first filtered extension when the user typed
// a bare name.
func resolveSavePath(input string, req host.SaveRequest) string {
	path := strings.TrimSpace(input)
	if path == "" || filepath.Ext(path) != "" {
		return path
	}
	for _, exts := range req.Filters {
		if len(exts) > 0 {
			return path + "." + strings.TrimPrefix(exts[0], ".")
		}
	}
	return path
}
