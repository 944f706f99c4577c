package events

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/triple-jay-dashboard/internal/config"
	"github.com/triple-jay-dashboard/internal/domain"
	"github.com/triple-jay-dashboard/internal/metrics"
)

// fakeTransport hands out one session per Listen call. A session delivers
// its events and then either fails with err or blocks until ctx is done.
type fakeTransport struct {
	mu       sync.Mutex
	sessions []fakeSession
	listens  atomic.Int32
}

type fakeSession struct {
	events []Event
	err    error
}

func (f *fakeTransport) Name() string { return "fake" }

func (f *fakeTransport) Listen(ctx context.Context, deliver func(Event)) error {
	f.listens.Add(1)

	f.mu.Lock()
	var s fakeSession
	block := len(f.sessions) == 0
	if !block {
		s = f.sessions[0]
		f.sessions = f.sessions[1:]
	}
	f.mu.Unlock()

	for _, ev := range s.events {
		deliver(ev)
	}
	if block || s.err == nil {
		<-ctx.Done()
		return ctx.Err()
	}
	return s.err
}

func testReconnect() config.ReconnectConfig {
	return config.ReconnectConfig{
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
		Multiplier:      2,
	}
}

func newTestChannel(tr Transport, cfg config.ReconnectConfig) *Channel {
	return NewChannel(tr, cfg, metrics.NewNop(), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestChannel_ConnectsLazilyAndOnce(t *testing.T) {
	tr := &fakeTransport{}
	ch := newTestChannel(tr, testReconnect())
	defer ch.Close()

	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, int32(0), tr.listens.Load(), "no connection before first subscription")

	_, err := ch.Subscribe(StreamLeaderboardChanged, func(context.Context, Event) {})
	require.NoError(t, err)
	_, err = ch.Subscribe(StreamOverlayTriggered, func(context.Context, Event) {})
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return tr.listens.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, int32(1), tr.listens.Load())
}

func TestChannel_DispatchesByStream(t *testing.T) {
	payload := json.RawMessage(`{"id":"g1","title":"Skol"}`)
	tr := &fakeTransport{sessions: []fakeSession{{
		events: []Event{
			{Stream: StreamOverlayTriggered, Payload: payload},
			{Stream: StreamLeaderboardChanged},
			{Stream: "something-else"},
			{Stream: StreamLeaderboardChanged},
		},
	}}}
	ch := newTestChannel(tr, testReconnect())
	defer ch.Close()

	var (
		mu          sync.Mutex
		leaderboard int
		overlays    []json.RawMessage
	)
	// The first subscription connects, so leaderboard events may arrive
	// before the leaderboard handler exists.
	unsubOverlay, err := ch.Subscribe(StreamOverlayTriggered, func(ctx context.Context, ev Event) {
		mu.Lock()
		defer mu.Unlock()
		overlays = append(overlays, ev.Payload)
	})
	require.NoError(t, err)
	defer unsubOverlay()

	_, err = ch.Subscribe(StreamLeaderboardChanged, func(ctx context.Context, ev Event) {
		mu.Lock()
		defer mu.Unlock()
		leaderboard++
	})
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(overlays) == 1
	}, time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.JSONEq(t, string(payload), string(overlays[0]))
	assert.LessOrEqual(t, leaderboard, 2)
}

func TestChannel_ReconnectsAfterFailure(t *testing.T) {
	tr := &fakeTransport{sessions: []fakeSession{
		{err: errors.New("connection refused")},
		{err: errors.New("connection reset")},
		{events: []Event{{Stream: StreamLeaderboardChanged}}},
	}}
	ch := newTestChannel(tr, testReconnect())
	defer ch.Close()

	var calls atomic.Int32
	_, err := ch.Subscribe(StreamLeaderboardChanged, func(context.Context, Event) { calls.Add(1) })
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, int32(3), tr.listens.Load())
}

func TestChannel_GivesUpAfterMaxAttempts(t *testing.T) {
	tr := &fakeTransport{sessions: []fakeSession{
		{err: errors.New("down")},
		{err: errors.New("down")},
		{err: errors.New("down")},
	}}
	cfg := testReconnect()
	cfg.MaxAttempts = 2
	ch := newTestChannel(tr, cfg)

	_, err := ch.Subscribe(StreamLeaderboardChanged, func(context.Context, Event) {})
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return tr.listens.Load() == 2 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(2), tr.listens.Load())

	require.NoError(t, ch.Close())
}

func TestChannel_HandlerPanicDoesNotStopDispatch(t *testing.T) {
	tr := &fakeTransport{sessions: []fakeSession{{
		events: []Event{{Stream: StreamLeaderboardChanged}, {Stream: StreamLeaderboardChanged}},
	}}}
	ch := newTestChannel(tr, testReconnect())
	defer ch.Close()

	var calls atomic.Int32
	_, err := ch.Subscribe(StreamLeaderboardChanged, func(context.Context, Event) {
		if calls.Add(1) == 1 {
			panic("handler bug")
		}
	})
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return calls.Load() == 2 }, time.Second, time.Millisecond)
}

func TestChannel_SubscribeErrors(t *testing.T) {
	ch := newTestChannel(&fakeTransport{}, testReconnect())

	_, err := ch.Subscribe("scores", func(context.Context, Event) {})
	assert.ErrorIs(t, err, domain.ErrUnknownStream)

	require.NoError(t, ch.Close())
	require.NoError(t, ch.Close())

	_, err = ch.Subscribe(StreamLeaderboardChanged, func(context.Context, Event) {})
	assert.ErrorIs(t, err, domain.ErrChannelClosed)
}

func TestChannel_Unsubscribe(t *testing.T) {
	ch := newTestChannel(&fakeTransport{}, testReconnect())
	defer ch.Close()

	unsub, err := ch.Subscribe(StreamOverlayTriggered, func(context.Context, Event) {})
	require.NoError(t, err)
	assert.Equal(t, 1, ch.HandlerCount(StreamOverlayTriggered))

	unsub()
	unsub()
	assert.Equal(t, 0, ch.HandlerCount(StreamOverlayTriggered))
}
