package host

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	lsp "go.lsp.dev/protocol"

	"github.com/lexcodex/vision2ui/protocol"
)

// ErrUserCancelled is returned by a SaveDialog the user dismissed.
var ErrUserCancelled = errors.New("Save cancelled")

// Notifier surfaces short messages to the user.
type Notifier interface {
	ShowMessage(ctx context.Context, params *lsp.ShowMessageParams) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, params *lsp.ShowMessageParams) error

// ShowMessage implements Notifier.
func (f NotifierFunc) ShowMessage(ctx context.Context, params *lsp.ShowMessageParams) error {
	return f(ctx, params)
}

// LogNotifier writes notifications to a logger.
type LogNotifier struct {
	Logger *log.Logger
}

// ShowMessage implements Notifier.
func (n LogNotifier) ShowMessage(_ context.Context, params *lsp.ShowMessageParams) error {
	logger := n.Logger
	if logger == nil {
		logger = log.Default()
	}
	logger.Printf("[%s] %s", params.Type, params.Message)
	return nil
}

// SaveRequest describes the file a save dialog should ask for.
type SaveRequest struct {
	DefaultName string
	// Filters maps a label to accepted extensions.
	Filters map[string][]string
}

// SaveDialog chooses where to write a file.
type SaveDialog interface {
	Save(ctx context.Context, req SaveRequest) (string, error)
}

// SaveDialogFunc adapts a function to SaveDialog.
type SaveDialogFunc func(ctx context.Context, req SaveRequest) (string, error)

// Save implements SaveDialog.
func (f SaveDialogFunc) Save(ctx context.Context, req SaveRequest) (string, error) {
	return f(ctx, req)
}

// DirectoryDialog saves into a fixed directory without asking.
type DirectoryDialog struct {
	Dir string
}

// Save implements SaveDialog.
func (d DirectoryDialog) Save(_ context.Context, req SaveRequest) (string, error) {
	name := filepath.Base(req.DefaultName)
	if name == "." || name == string(filepath.Separator) || name == "" {
		return "", fmt.Errorf("invalid file name %q", req.DefaultName)
	}
	dir := d.Dir
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return filepath.Join(dir, name), nil
}

// Appearance is the editor's colour theme kind.
type Appearance int

const (
	AppearanceLight Appearance = iota
	AppearanceDark
	AppearanceHighContrast
	AppearanceHighContrastLight
)

// Theme maps an appearance to the theme sent to panels. Dark and
// high-contrast appearances are dark; everything else is light.
func (a Appearance) Theme() protocol.Theme {
	switch a {
	case AppearanceDark, AppearanceHighContrast:
		return protocol.ThemeDark
	default:
		return protocol.ThemeLight
	}
}

// ThemeSource reports the current appearance and its changes.
type ThemeSource interface {
	Current() Appearance
	Subscribe(fn func(Appearance)) (unsubscribe func())
}

// ThemeSwitch is a settable ThemeSource.
type ThemeSwitch struct {
	mu      sync.Mutex
	current Appearance
	nextID  int
	subs    map[int]func(Appearance)
}

// NewThemeSwitch starts at initial.
func NewThemeSwitch(initial Appearance) *ThemeSwitch {
	return &ThemeSwitch{current: initial, subs: make(map[int]func(Appearance))}
}

// Current implements ThemeSource.
func (t *ThemeSwitch) Current() Appearance {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

// Set changes the appearance and notifies subscribers.
func (t *ThemeSwitch) Set(a Appearance) {
	t.mu.Lock()
	t.current = a
	subs := make([]func(Appearance), 0, len(t.subs))
	for _, fn := range t.subs {
		subs = append(subs, fn)
	}
	t.mu.Unlock()
	for _, fn := range subs {
		fn(a)
	}
}

// Subscribe implements ThemeSource.
func (t *ThemeSwitch) Subscribe(fn func(Appearance)) func() {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.nextID
	t.nextID++
	t.subs[id] = fn
	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		delete(t.subs, id)
	}
}
