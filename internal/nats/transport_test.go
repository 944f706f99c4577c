package nats

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/triple-jay-dashboard/internal/config"
	"github.com/triple-jay-dashboard/internal/events"
)

func TestSubjects(t *testing.T) {
	cfg := config.DefaultConfig().NATS
	tr := NewTransport(&cfg, nil)

	subject := Subject(cfg.SubjectPrefix, events.StreamOverlayTriggered)
	assert.Equal(t, "dashboard.overlay-triggered", subject)

	stream, ok := tr.streamOf(subject)
	assert.True(t, ok)
	assert.Equal(t, events.StreamOverlayTriggered, stream)

	_, ok = tr.streamOf("scores.leaderboard-changed")
	assert.False(t, ok)
}

func TestListen_ConnectFailure(t *testing.T) {
	cfg := config.DefaultConfig().NATS
	cfg.URL = "nats://127.0.0.1:1"
	tr := NewTransport(&cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))

	err := tr.Listen(context.Background(), func(events.Event) {})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connect to NATS")
}
