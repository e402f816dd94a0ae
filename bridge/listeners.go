package bridge

import (
	"sync"

	"github.com/lexcodex/vision2ui/protocol"
)

// Callback receives a published message.
type Callback func(msg protocol.Message)

type subscription struct {
	fn Callback
}

// Listeners routes host messages to subscribers keyed by command.
type Listeners struct {
	mu   sync.RWMutex
	subs map[protocol.Command]map[*subscription]struct{}
}

// NewListeners returns an empty registry.
func NewListeners() *Listeners {
	return &Listeners{subs: make(map[protocol.Command]map[*subscription]struct{})}
}

// Subscribe registers fn for command and returns a func that removes it.
// Calling the returned func more than once is harmless.
func (l *Listeners) Subscribe(command protocol.Command, fn Callback) func() {
	sub := &subscription{fn: fn}
	l.mu.Lock()
	set, ok := l.subs[command]
	if !ok {
		set = make(map[*subscription]struct{})
		l.subs[command] = set
	}
	set[sub] = struct{}{}
	l.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			set, ok := l.subs[command]
			if !ok {
				return
			}
			delete(set, sub)
			if len(set) == 0 {
				delete(l.subs, command)
			}
		})
	}
}

// Publish calls every subscriber of msg's command. It reports whether any
// subscriber existed.
func (l *Listeners) Publish(msg protocol.Message) bool {
	l.mu.RLock()
	set := l.subs[msg.Command()]
	callbacks := make([]Callback, 0, len(set))
	for sub := range set {
		callbacks = append(callbacks, sub.fn)
	}
	l.mu.RUnlock()

	for _, fn := range callbacks {
		fn(msg)
	}
	return len(callbacks) > 0
}

// UnsubscribeAll drops every subscriber of command.
func (l *Listeners) UnsubscribeAll(command protocol.Command) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.subs, command)
}

// Clear drops every subscriber.
func (l *Listeners) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.subs = make(map[protocol.Command]map[*subscription]struct{})
}

// Count returns the number of subscribers for command.
func (l *Listeners) Count(command protocol.Command) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.subs[command])
}
