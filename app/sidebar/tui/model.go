package tui

import (
	"context"
	"fmt"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/lexcodex/vision2ui/bridge"
	"github.com/lexcodex/vision2ui/mcpcheck"
	"github.com/lexcodex/vision2ui/panel"
	"github.com/lexcodex/vision2ui/protocol"
)

// Session is the panel API the sidebar drives. *panel.Session implements it.
type Session interface {
	FetchComponents(ctx context.Context) ([]string, error)
	FetchComponentContent(ctx context.Context, name string) (string, error)
	CheckHealth(ctx context.Context) panel.Health
	CheckMcpConnection(ctx context.Context) mcpcheck.Result
	FetchMetadataPrompt(ctx context.Context) (string, error)
	StartServer(ctx context.Context) error
	UploadComponent(ctx context.Context, filename, content string) (string, error)
	DownloadMetadataPrompt(ctx context.Context, content, filename string) (string, error)
	ClickButton(ctx context.Context) error
	ShowError(ctx context.Context, message string) error
	StatusBar() *panel.StatusBar
	Subscribe(command protocol.Command, fn bridge.Callback) func()
}

// Options wires optional in-process surfaces.
type Options struct {
	// Dialog answers the host's save requests when the host shares the
	// process.
	Dialog *SaveDialog
	// Notices shows host notifications when the host shares the process.
	Notices *Notices
	// ToggleTheme flips the host theme; nil disables the key.
	ToggleTheme func()
	Title       string
}

// Run starts the sidebar and blocks until the user quits or ctx ends.
func Run(ctx context.Context, session Session, opts Options) error {
	if session == nil {
		return fmt.Errorf("panel session is required")
	}
	model := NewModel(ctx, session, opts)
	defer model.unsubscribe()
	program := tea.NewProgram(model, tea.WithContext(ctx), tea.WithAltScreen())
	_, err := program.Run()
	return err
}

type phase int

const (
	phaseLoading phase = iota
	phaseNotStarted
	phaseStarting
	phaseReady
)

type inputMode int

const (
	modeList inputMode = iota
	modeContent
	modeUpload
	modeSave
)

// Model is the Bubble Tea model for the sidebar.
type Model struct {
	ctx     context.Context
	session Session
	opts    Options
	status  *panel.StatusBar

	keys    keyMap
	help    help.Model
	spinner spinner.Model
	content viewport.Model
	input   textinput.Model
	styles  styles
	theme   protocol.Theme

	phase phase
	mode  inputMode

	components      []string
	componentsErr   error
	loadingList     bool
	cursor          int
	viewing         string
	uploading       bool
	downloading     bool
	notice          *noticeMsg
	pendingSave     *saveRequestMsg
	hostEvents      chan tea.Msg
	unsubscribeFunc func()

	width  int
	height int
}

// NewModel builds a sidebar bound to session. Host theme and upload
// notifications are forwarded into the model.
func NewModel(ctx context.Context, session Session, opts Options) Model {
	if ctx == nil {
		ctx = context.Background()
	}
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	input := textinput.New()
	input.CharLimit = 512

	events := make(chan tea.Msg, 16)
	forward := func(msg tea.Msg) {
		select {
		case events <- msg:
		default:
		}
	}
	unsubTheme := session.Subscribe(protocol.CommandThemeChanged, func(msg protocol.Message) {
		if m, ok := msg.(protocol.ThemeChanged); ok {
			forward(themeMsg{theme: m.Theme})
		}
	})
	unsubUploaded := session.Subscribe(protocol.CommandComponentUploaded, func(protocol.Message) {
		forward(componentsChangedMsg{})
	})

	m := Model{
		ctx:        ctx,
		session:    session,
		opts:       opts,
		status:     session.StatusBar(),
		keys:       defaultKeyMap(opts.ToggleTheme != nil),
		help:       help.New(),
		spinner:    sp,
		content:    viewport.New(40, 10),
		input:      input,
		theme:      protocol.ThemeDark,
		styles:     newStyles(protocol.ThemeDark),
		phase:      phaseLoading,
		hostEvents: events,
		width:      40,
		height:     20,
		unsubscribeFunc: func() {
			unsubTheme()
			unsubUploaded()
		},
	}
	if m.opts.Title == "" {
		m.opts.Title = "Vision2UI"
	}
	return m
}

func (m Model) unsubscribe() {
	if m.unsubscribeFunc != nil {
		m.unsubscribeFunc()
	}
}

// Init starts the health check.
func (m Model) Init() tea.Cmd {
	m.status.Set(panel.StatusLoading, "Loading...")
	return tea.Batch(
		m.spinner.Tick,
		checkHealthCmd(m.ctx, m.session),
		listenEvents(m.hostEvents),
		m.opts.Dialog.listen(),
		m.opts.Notices.listen(),
	)
}

type keyMap struct {
	Up       key.Binding
	Down     key.Binding
	Open     key.Binding
	Back     key.Binding
	Refresh  key.Binding
	Start    key.Binding
	MCP      key.Binding
	Upload   key.Binding
	Download key.Binding
	Theme    key.Binding
	Button   key.Binding
	Quit     key.Binding
}

func defaultKeyMap(themeToggle bool) keyMap {
	k := keyMap{
		Up:       key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "up")),
		Down:     key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "down")),
		Open:     key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "view")),
		Back:     key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "back")),
		Refresh:  key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "refresh")),
		Start:    key.NewBinding(key.WithKeys("s"), key.WithHelp("s", "start server")),
		MCP:      key.NewBinding(key.WithKeys("m"), key.WithHelp("m", "check mcp")),
		Upload:   key.NewBinding(key.WithKeys("a"), key.WithHelp("a", "add component")),
		Download: key.NewBinding(key.WithKeys("d"), key.WithHelp("d", "download prompt")),
		Theme:    key.NewBinding(key.WithKeys("t"), key.WithHelp("t", "theme")),
		Button:   key.NewBinding(key.WithKeys("b"), key.WithHelp("b", "button")),
		Quit:     key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	}
	k.Theme.SetEnabled(themeToggle)
	return k
}

// ShortHelp implements help.KeyMap.
func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Open, k.Refresh, k.Upload, k.Download, k.MCP, k.Theme, k.Quit}
}

// FullHelp implements help.KeyMap.
func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Up, k.Down, k.Open, k.Back},
		{k.Refresh, k.Start, k.MCP, k.Button},
		{k.Upload, k.Download, k.Theme, k.Quit},
	}
}
