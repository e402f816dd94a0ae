// Package transport carries protocol messages between a panel and its host.
package transport

import (
	"context"
	"errors"
	"sync"

	"github.com/lexcodex/vision2ui/protocol"
)

// ErrClosed is returned when sending on a closed channel.
var ErrClosed = errors.New("channel closed")

const recvBufferSize = 64

// Channel is a bidirectional, fire-and-forget message link. Recv is closed
// once the channel shuts down.
type Channel interface {
	Send(ctx context.Context, msg protocol.Message) error
	Recv() <-chan protocol.Message
	Close() error
}

// Pipe returns two connected in-process endpoints. A message sent on one is
// received on the other. Closing either endpoint closes both.
func Pipe() (Channel, Channel) {
	shared := &pipeState{done: make(chan struct{})}
	aIn := make(chan protocol.Message, recvBufferSize)
	bIn := make(chan protocol.Message, recvBufferSize)
	a := &pipeEnd{state: shared, in: aIn, peer: bIn, out: make(chan protocol.Message)}
	b := &pipeEnd{state: shared, in: bIn, peer: aIn, out: make(chan protocol.Message)}
	go a.forward()
	go b.forward()
	return a, b
}

type pipeState struct {
	once sync.Once
	done chan struct{}
}

type pipeEnd struct {
	state *pipeState
	in    chan protocol.Message
	peer  chan protocol.Message
	out   chan protocol.Message
}

func (p *pipeEnd) forward() {
	defer close(p.out)
	for {
		select {
		case <-p.state.done:
			return
		case msg := <-p.in:
			select {
			case p.out <- msg:
			case <-p.state.done:
				return
			}
		}
	}
}

func (p *pipeEnd) Send(ctx context.Context, msg protocol.Message) error {
	if msg == nil {
		return errors.New("nil message")
	}
	select {
	case <-p.state.done:
		return ErrClosed
	default:
	}
	select {
	case p.peer <- msg:
		return nil
	case <-p.state.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *pipeEnd) Recv() <-chan protocol.Message {
	return p.out
}

func (p *pipeEnd) Close() error {
	p.state.once.Do(func() { close(p.state.done) })
	return nil
}

var (
	_ Channel = (*pipeEnd)(nil)
	_ Channel = (*Stream)(nil)
	_ Channel = (*WebSocket)(nil)
)
