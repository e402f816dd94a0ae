package panel

import (
	"strings"
	"sync"
)

// Status is the tone of the status bar.
type Status string

const (
	StatusNone    Status = ""
	StatusLoading Status = "loading"
	StatusWarning Status = "warning"
	StatusError   Status = "error"
	StatusSuccess Status = "success"
	StatusInfo    Status = "info"
)

// Action is an optional control shown beside the status text.
type Action struct {
	Label string
	Key   string
}

// StatusState is a snapshot of the status bar.
type StatusState struct {
	Status  Status
	Text    string
	Visible bool
	Action  *Action
}

// StatusBar holds the panel's status line. Methods return the bar so calls
// can be chained.
type StatusBar struct {
	mu        sync.Mutex
	state     StatusState
	nextID    int
	observers map[int]func(StatusState)
}

// NewStatusBar returns a hidden, empty status bar.
func NewStatusBar() *StatusBar {
	return &StatusBar{observers: make(map[int]func(StatusState))}
}

// SetStatus changes the tone without touching visibility.
func (b *StatusBar) SetStatus(status Status) *StatusBar {
	return b.update(func(s *StatusState) { s.Status = status })
}

// SetText changes the text; the bar is visible exactly when text is not blank.
func (b *StatusBar) SetText(text string) *StatusBar {
	return b.update(func(s *StatusState) {
		s.Text = text
		s.Visible = strings.TrimSpace(text) != ""
	})
}

// Show makes the bar visible if it has text.
func (b *StatusBar) Show() *StatusBar {
	return b.update(func(s *StatusState) {
		if strings.TrimSpace(s.Text) != "" {
			s.Visible = true
		}
	})
}

// Hide clears the bar.
func (b *StatusBar) Hide() *StatusBar {
	return b.update(func(s *StatusState) { *s = StatusState{} })
}

// SetAction sets or, with nil, clears the action.
func (b *StatusBar) SetAction(action *Action) *StatusBar {
	return b.update(func(s *StatusState) { s.Action = action })
}

// Set replaces tone and text in one update.
func (b *StatusBar) Set(status Status, text string) *StatusBar {
	return b.update(func(s *StatusState) {
		s.Status = status
		s.Text = text
		s.Visible = strings.TrimSpace(text) != ""
	})
}

// State returns a copy of the current state.
func (b *StatusBar) State() StatusState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Observe registers fn for every change and returns a func removing it.
func (b *StatusBar) Observe(fn func(StatusState)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.observers[id] = fn
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.observers, id)
	}
}

func (b *StatusBar) update(apply func(*StatusState)) *StatusBar {
	b.mu.Lock()
	apply(&b.state)
	state := b.state
	observers := make([]func(StatusState), 0, len(b.observers))
	for _, fn := range b.observers {
		observers = append(observers, fn)
	}
	b.mu.Unlock()
	for _, fn := range observers {
		fn(state)
	}
	return b
}
