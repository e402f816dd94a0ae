package tui

import (
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/lexcodex/vision2ui/host"
	"github.com/lexcodex/vision2ui/mcpcheck"
	"github.com/lexcodex/vision2ui/panel"
)

// Update applies incoming Bubble Tea messages to the model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		return m.handleResize(msg), nil
	case tea.KeyMsg:
		switch m.mode {
		case modeUpload:
			return m.handleUploadInput(msg)
		case modeSave:
			return m.handleSaveInput(msg)
		case modeContent:
			return m.handleContentKeys(msg)
		default:
			return m.handleListKeys(msg)
		}
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case healthMsg:
		return m.handleHealth(msg)
	case mcpMsg:
		text, status := mcpStatusText(msg.result)
		m.status.Set(status, text).SetAction(&panel.Action{Label: "Refresh", Key: "m"})
		return m, nil
	case componentsMsg:
		m.loadingList = false
		if msg.err != nil {
			m.components = nil
			m.componentsErr = msg.err
			m.status.Set(panel.StatusError, msg.err.Error()).SetAction(nil)
			return m, nil
		}
		m.components = msg.names
		m.componentsErr = nil
		if m.cursor >= len(m.components) {
			m.cursor = max(0, len(m.components)-1)
		}
		return m, nil
	case contentMsg:
		if msg.err != nil {
			m.status.Set(panel.StatusError, msg.err.Error()).SetAction(nil)
			return m, nil
		}
		m.mode = modeContent
		m.viewing = msg.name
		m.content.SetContent(msg.content)
		m.content.GotoTop()
		return m, nil
	case serverStartedMsg:
		if msg.err != nil {
			m.phase = phaseNotStarted
			m.status.Set(panel.StatusError, msg.err.Error()).SetAction(startAction)
			return m, nil
		}
		return m.becomeReady()
	case uploadedMsg:
		m.uploading = false
		if msg.err != nil {
			m.status.Set(panel.StatusError, msg.err.Error()).SetAction(nil)
			return m, nil
		}
		m.status.Set(panel.StatusSuccess, fmt.Sprintf("Component %q uploaded", msg.name)).SetAction(nil)
		return m, nil
	case downloadedMsg:
		return m.handleDownloaded(msg)
	case themeMsg:
		m.theme = msg.theme
		m.styles = newStyles(msg.theme)
		return m, listenEvents(m.hostEvents)
	case componentsChangedMsg:
		cmds := []tea.Cmd{listenEvents(m.hostEvents)}
		if m.phase == phaseReady {
			m.loadingList = true
			cmds = append(cmds, fetchComponentsCmd(m.ctx, m.session))
		}
		return m, tea.Batch(cmds...)
	case saveRequestMsg:
		m.pendingSave = &msg
		m.mode = modeSave
		m.input.Prompt = "Save to: "
		m.input.SetValue(m.opts.Dialog.suggest(msg.req))
		m.input.CursorEnd()
		m.input.Focus()
		return m, m.opts.Dialog.listen()
	case noticeMsg:
		m.notice = &msg
		return m, m.opts.Notices.listen()
	}
	return m, nil
}

var startAction = &panel.Action{Label: "Start server", Key: "s"}

func (m Model) handleResize(msg tea.WindowSizeMsg) Model {
	m.width = msg.Width
	m.height = msg.Height
	m.help.Width = msg.Width
	// header, status bar, help line and the content box border
	m.content.Width = max(10, msg.Width-4)
	m.content.Height = max(3, msg.Height-6)
	m.input.Width = max(10, msg.Width-12)
	return m
}

func (m Model) handleHealth(msg healthMsg) (tea.Model, tea.Cmd) {
	if msg.health.Healthy {
		return m.becomeReady()
	}
	m.phase = phaseNotStarted
	m.status.Set(panel.StatusError, "Server is not running").SetAction(startAction)
	return m, nil
}

// becomeReady shows the component list and checks the MCP integration.
func (m Model) becomeReady() (tea.Model, tea.Cmd) {
	m.phase = phaseReady
	m.loadingList = true
	m.status.Set(panel.StatusInfo, "Checking MCP connection...").SetAction(nil)
	return m, tea.Batch(checkMcpCmd(m.ctx, m.session), fetchComponentsCmd(m.ctx, m.session))
}

func (m Model) handleDownloaded(msg downloadedMsg) (tea.Model, tea.Cmd) {
	m.downloading = false
	switch {
	case msg.err == nil:
		m.status.Set(panel.StatusSuccess, "Saved "+msg.path).SetAction(nil)
		return m, nil
	case errors.Is(msg.err, panel.ErrSaveCancelled):
		m.status.Set(panel.StatusInfo, "Save cancelled").SetAction(nil)
		return m, nil
	}
	m.status.Set(panel.StatusError, msg.err.Error()).SetAction(nil)
	var hostErr *panel.HostError
	if errors.As(msg.err, &hostErr) {
		return m, nil
	}
	return m, showErrorCmd(m.ctx, m.session, msg.err.Error())
}

func (m Model) handleListKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.Up):
		if m.cursor > 0 {
			m.cursor--
		}
	case key.Matches(msg, m.keys.Down):
		if m.cursor < len(m.components)-1 {
			m.cursor++
		}
	case key.Matches(msg, m.keys.Open):
		if m.phase == phaseReady && m.cursor < len(m.components) {
			return m, fetchContentCmd(m.ctx, m.session, m.components[m.cursor])
		}
	case key.Matches(msg, m.keys.Refresh):
		switch m.phase {
		case phaseReady:
			m.loadingList = true
			return m, fetchComponentsCmd(m.ctx, m.session)
		case phaseNotStarted:
			m.phase = phaseLoading
			m.status.Set(panel.StatusLoading, "Loading...").SetAction(nil)
			return m, checkHealthCmd(m.ctx, m.session)
		}
	case key.Matches(msg, m.keys.Start):
		if m.phase == phaseNotStarted {
			m.phase = phaseStarting
			m.status.Set(panel.StatusLoading, "Starting server...").SetAction(nil)
			return m, startServerCmd(m.ctx, m.session)
		}
	case key.Matches(msg, m.keys.MCP):
		if m.phase == phaseReady {
			m.status.Set(panel.StatusInfo, "Checking MCP connection...").SetAction(nil)
			return m, checkMcpCmd(m.ctx, m.session)
		}
	case key.Matches(msg, m.keys.Upload):
		if m.phase == phaseReady && !m.uploading {
			m.mode = modeUpload
			m.input.Prompt = "File: "
			m.input.SetValue("")
			m.input.Focus()
		}
	case key.Matches(msg, m.keys.Download):
		if m.phase == phaseReady && !m.downloading {
			m.downloading = true
			return m, downloadPromptCmd(m.ctx, m.session)
		}
	case key.Matches(msg, m.keys.Theme):
		m.opts.ToggleTheme()
	case key.Matches(msg, m.keys.Button):
		return m, clickButtonCmd(m.ctx, m.session)
	}
	return m, nil
}

func (m Model) handleContentKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Back), msg.String() == "q":
		m.mode = modeList
		m.viewing = ""
		return m, nil
	case msg.String() == "ctrl+c":
		return m, tea.Quit
	}
	var cmd tea.Cmd
	m.content, cmd = m.content.Update(msg)
	return m, cmd
}

func (m Model) handleUploadInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.mode = modeList
		m.input.Blur()
		return m, nil
	case "ctrl+c":
		return m, tea.Quit
	case "enter":
		path := strings.TrimSpace(m.input.Value())
		m.mode = modeList
		m.input.Blur()
		if path == "" {
			return m, nil
		}
		if err := panel.ValidateUploadName(path); err != nil {
			m.status.Set(panel.StatusError, err.Error()).SetAction(nil)
			return m, showErrorCmd(m.ctx, m.session, err.Error())
		}
		m.uploading = true
		m.status.Set(panel.StatusLoading, "Uploading...").SetAction(nil)
		return m, uploadCmd(m.ctx, m.session, path)
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) handleSaveInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m = m.answerSave(saveReply{err: host.ErrUserCancelled})
		return m, nil
	case "ctrl+c":
		m = m.answerSave(saveReply{err: host.ErrUserCancelled})
		return m, tea.Quit
	case "enter":
		path := resolveSavePath(m.input.Value(), m.pendingSave.req)
		if path == "" {
			m = m.answerSave(saveReply{err: host.ErrUserCancelled})
		} else {
			m = m.answerSave(saveReply{path: path})
		}
		return m, nil
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) answerSave(reply saveReply) Model {
	if m.pendingSave != nil {
		m.pendingSave.reply <- reply
		m.pendingSave = nil
	}
	m.mode = modeList
	m.input.Blur()
	return m
}

// mcpStatusText maps a check result to the status bar line.
func mcpStatusText(r mcpcheck.Result) (string, panel.Status) {
	switch r.Status {
	case mcpcheck.StatusConnected:
		return "MCP connected", panel.StatusSuccess
	case mcpcheck.StatusInvalidConfig:
		return "MCP configuration is invalid", panel.StatusError
	case mcpcheck.StatusNotConfigured:
		return "MCP configuration is not configured", panel.StatusError
	case mcpcheck.StatusWrongTransport:
		return "MCP is using wrong transport", panel.StatusError
	case mcpcheck.StatusNotConnected:
		return "MCP is not connected", panel.StatusError
	default:
		return "MCP connection failed", panel.StatusError
	}
}
