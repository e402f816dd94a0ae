// Package bridge turns the fire-and-forget panel channel into request/response
// calls. The Broker correlates apiRequest and apiResponse messages by id and
// Listeners fans out every other host message by command.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lexcodex/vision2ui/protocol"
)

// DefaultTimeout bounds how long a request may wait for its response.
const DefaultTimeout = 10 * time.Second

var (
	// ErrTimeout is returned when no correlated response arrived in time.
	ErrTimeout = errors.New("request timeout")
	// ErrUnknownOperation is returned for empty or unrecognised operations.
	ErrUnknownOperation = errors.New("unknown operation")
	// ErrClosed is returned for requests issued on, or pending in, a closed broker.
	ErrClosed = errors.New("broker closed")
)

// RemoteError carries the error string the host replied with.
type RemoteError struct {
	Operation protocol.APICommand
	Message   string
}

func (e *RemoteError) Error() string {
	return e.Message
}

// Poster transmits a message on the outbound channel.
type Poster interface {
	Post(ctx context.Context, msg protocol.Message) error
}

// PostFunc adapts a function to Poster.
type PostFunc func(ctx context.Context, msg protocol.Message) error

// Post implements Poster.
func (f PostFunc) Post(ctx context.Context, msg protocol.Message) error {
	return f(ctx, msg)
}

type result struct {
	data json.RawMessage
	err  error
}

type pendingRequest struct {
	id        int64
	operation protocol.APICommand
	done      chan result
}

// Broker owns the correlation table for one panel session.
type Broker struct {
	poster  Poster
	timeout time.Duration

	nextID atomic.Int64

	mu      sync.Mutex
	pending map[int64]*pendingRequest
	closed  bool
}

// NewBroker builds a broker posting through poster. A non-positive timeout
// selects DefaultTimeout.
func NewBroker(poster Poster, timeout time.Duration) *Broker {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Broker{
		poster:  poster,
		timeout: timeout,
		pending: make(map[int64]*pendingRequest),
	}
}

// Request posts an apiRequest and blocks until the matching response, the
// broker timeout or ctx cancellation. The payload is forwarded verbatim.
func (b *Broker) Request(ctx context.Context, operation protocol.APICommand, payload any) (json.RawMessage, error) {
	if operation == "" || !operation.Known() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownOperation, operation)
	}
	data, err := encodePayload(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", operation, err)
	}

	req := &pendingRequest{
		id:        b.nextID.Add(1),
		operation: operation,
		done:      make(chan result, 1),
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	b.pending[req.id] = req
	b.mu.Unlock()

	timer := time.NewTimer(b.timeout)
	defer timer.Stop()

	msg := protocol.APIRequest{ID: req.id, APICommand: operation, Data: data}
	if err := b.poster.Post(ctx, msg); err != nil {
		b.take(req.id)
		return nil, fmt.Errorf("post %s: %w", operation, err)
	}

	select {
	case res := <-req.done:
		return res.data, res.err
	case <-timer.C:
		if b.take(req.id) != nil {
			return nil, fmt.Errorf("%s: %w", operation, ErrTimeout)
		}
	case <-ctx.Done():
		if b.take(req.id) != nil {
			return nil, ctx.Err()
		}
	}
	// A response won the race against the timer; it is already buffered.
	res := <-req.done
	return res.data, res.err
}

// Deliver resolves the request matching resp.ID. It reports false when no
// entry exists, which covers late, duplicate and foreign responses.
func (b *Broker) Deliver(resp protocol.APIResponse) bool {
	req := b.take(resp.ID)
	if req == nil {
		return false
	}
	if resp.Error != "" {
		req.done <- result{err: &RemoteError{Operation: req.operation, Message: resp.Error}}
		return true
	}
	req.done <- result{data: resp.Data}
	return true
}

// Size returns the number of outstanding requests.
func (b *Broker) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Close rejects every outstanding request and refuses new ones.
func (b *Broker) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	pending := b.pending
	b.pending = make(map[int64]*pendingRequest)
	b.mu.Unlock()

	for _, req := range pending {
		req.done <- result{err: ErrClosed}
	}
}

func (b *Broker) take(id int64) *pendingRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	req, ok := b.pending[id]
	if !ok {
		return nil
	}
	delete(b.pending, id)
	return req
}

func encodePayload(payload any) (json.RawMessage, error) {
	switch v := payload.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return v, nil
	default:
		return json.Marshal(v)
	}
}
