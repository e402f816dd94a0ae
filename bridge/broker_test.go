package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lexcodex/vision2ui/protocol"
)

type recordingPoster struct {
	posted chan protocol.APIRequest
	err    error
}

func newRecordingPoster() *recordingPoster {
	return &recordingPoster{posted: make(chan protocol.APIRequest, 16)}
}

func (p *recordingPoster) Post(ctx context.Context, msg protocol.Message) error {
	if p.err != nil {
		return p.err
	}
	p.posted <- msg.(protocol.APIRequest)
	return nil
}

func nextPosted(t *testing.T, p *recordingPoster) protocol.APIRequest {
	t.Helper()
	select {
	case req := <-p.posted:
		return req
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for posted request")
		return protocol.APIRequest{}
	}
}

func TestBrokerResolvesFetchComponents(t *testing.T) {
	poster := newRecordingPoster()
	broker := NewBroker(poster, time.Second)

	type outcome struct {
		data json.RawMessage
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		data, err := broker.Request(context.Background(), protocol.APIFetchComponents, nil)
		done <- outcome{data, err}
	}()

	req := nextPosted(t, poster)
	require.Equal(t, int64(1), req.ID)
	require.Equal(t, protocol.APIFetchComponents, req.APICommand)
	require.Empty(t, req.Data)

	require.True(t, broker.Deliver(protocol.APIResponse{ID: 1, Data: json.RawMessage(`{"components":["Button","Card"],"count":2}`)}))
	out := <-done
	require.NoError(t, out.err)

	var list struct {
		Components []string `json:"components"`
	}
	require.NoError(t, json.Unmarshal(out.data, &list))
	require.Equal(t, []string{"Button", "Card"}, list.Components)
	require.Zero(t, broker.Size())
}

func TestBrokerIsolatesConcurrentRequestsByID(t *testing.T) {
	poster := newRecordingPoster()
	broker := NewBroker(poster, time.Second)

	const n = 8
	var wg sync.WaitGroup
	results := make(map[int64]string, n)
	var mu sync.Mutex
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			data, err := broker.Request(context.Background(), protocol.APICheckHealth, nil)
			require.NoError(t, err)
			var body struct {
				Echo int64 `json:"echo"`
			}
			require.NoError(t, json.Unmarshal(data, &body))
			mu.Lock()
			results[body.Echo] = string(data)
			mu.Unlock()
		}()
	}

	ids := make([]int64, 0, n)
	for i := 0; i < n; i++ {
		ids = append(ids, nextPosted(t, poster).ID)
	}
	// Reply in reverse order of arrival.
	for i := len(ids) - 1; i >= 0; i-- {
		payload, _ := json.Marshal(map[string]int64{"echo": ids[i]})
		require.True(t, broker.Deliver(protocol.APIResponse{ID: ids[i], Data: payload}))
	}
	wg.Wait()

	require.Len(t, results, n)
	for _, id := range ids {
		require.Contains(t, results, id)
	}
	require.Zero(t, broker.Size())
}

func TestBrokerTimeoutRemovesEntryAndIgnoresLateResponse(t *testing.T) {
	poster := newRecordingPoster()
	broker := NewBroker(poster, 20*time.Millisecond)

	_, err := broker.Request(context.Background(), protocol.APICheckHealth, nil)
	require.ErrorIs(t, err, ErrTimeout)
	require.Zero(t, broker.Size())

	req := nextPosted(t, poster)
	require.False(t, broker.Deliver(protocol.APIResponse{ID: req.ID, Data: json.RawMessage(`{"status":"healthy"}`)}))
	require.Zero(t, broker.Size())
}

func TestBrokerRejectsWithRemoteError(t *testing.T) {
	poster := newRecordingPoster()
	broker := NewBroker(poster, time.Second)

	done := make(chan error, 1)
	go func() {
		_, err := broker.Request(context.Background(), protocol.APIFetchComponentContent, map[string]string{"componentName": "Ghost"})
		done <- err
	}()
	req := nextPosted(t, poster)
	require.JSONEq(t, `{"componentName":"Ghost"}`, string(req.Data))

	require.True(t, broker.Deliver(protocol.APIResponse{ID: req.ID, Error: "HTTP 404: Not Found"}))
	err := <-done
	var remote *RemoteError
	require.ErrorAs(t, err, &remote)
	require.Equal(t, "HTTP 404: Not Found", remote.Message)
	require.Equal(t, protocol.APIFetchComponentContent, remote.Operation)

	require.False(t, broker.Deliver(protocol.APIResponse{ID: req.ID, Error: "again"}))
}

func TestBrokerRejectsUnknownOperation(t *testing.T) {
	broker := NewBroker(newRecordingPoster(), time.Second)
	_, err := broker.Request(context.Background(), "", nil)
	require.ErrorIs(t, err, ErrUnknownOperation)
	_, err = broker.Request(context.Background(), "launchMissiles", nil)
	require.ErrorIs(t, err, ErrUnknownOperation)
	require.Zero(t, broker.Size())
}

func TestBrokerPostFailureReleasesEntry(t *testing.T) {
	poster := newRecordingPoster()
	poster.err = errors.New("channel closed")
	broker := NewBroker(poster, time.Second)

	_, err := broker.Request(context.Background(), protocol.APICheckHealth, nil)
	require.ErrorContains(t, err, "channel closed")
	require.Zero(t, broker.Size())
}

func TestBrokerContextCancellation(t *testing.T) {
	poster := newRecordingPoster()
	broker := NewBroker(poster, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := broker.Request(ctx, protocol.APICheckHealth, nil)
		done <- err
	}()
	nextPosted(t, poster)
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
	require.Zero(t, broker.Size())
}

func TestBrokerCloseRejectsPending(t *testing.T) {
	poster := newRecordingPoster()
	broker := NewBroker(poster, time.Minute)

	done := make(chan error, 1)
	go func() {
		_, err := broker.Request(context.Background(), protocol.APIFetchComponents, nil)
		done <- err
	}()
	nextPosted(t, poster)
	broker.Close()
	require.ErrorIs(t, <-done, ErrClosed)

	_, err := broker.Request(context.Background(), protocol.APIFetchComponents, nil)
	require.ErrorIs(t, err, ErrClosed)
}

func TestBrokerIDsAreMonotonic(t *testing.T) {
	poster := newRecordingPoster()
	broker := NewBroker(poster, 10*time.Millisecond)
	for i := 0; i < 3; i++ {
		_, _ = broker.Request(context.Background(), protocol.APICheckHealth, nil)
	}
	require.Equal(t, int64(1), nextPosted(t, poster).ID)
	require.Equal(t, int64(2), nextPosted(t, poster).ID)
	require.Equal(t, int64(3), nextPosted(t, poster).ID)
}
