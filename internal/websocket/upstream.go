package websocket

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/triple-jay-dashboard/internal/config"
	"github.com/triple-jay-dashboard/internal/events"
	"github.com/triple-jay-dashboard/internal/metrics"
)

// Upstream is the event transport that reads envelopes from the remote
// push socket. Each Listen call is one connection.
type Upstream struct {
	cfg     config.WebSocketConfig
	dialer  *websocket.Dialer
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewUpstream creates a new Upstream
func NewUpstream(cfg config.WebSocketConfig, m *metrics.Metrics, logger *slog.Logger) *Upstream {
	return &Upstream{
		cfg: cfg,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		logger:  logger,
		metrics: m,
	}
}

// Name implements events.Transport
func (u *Upstream) Name() string {
	return config.TransportWebSocket
}

// Listen dials the push socket and delivers events until the connection
// fails or ctx is cancelled
func (u *Upstream) Listen(ctx context.Context, deliver func(events.Event)) error {
	header := http.Header{}
	if u.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+u.cfg.Token)
	}

	conn, resp, err := u.dialer.DialContext(ctx, u.cfg.URL, header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dialing %s: status %d: %w", u.cfg.URL, resp.StatusCode, err)
		}
		return fmt.Errorf("dialing %s: %w", u.cfg.URL, err)
	}
	defer conn.Close()

	u.logger.Info("connected to push socket", "url", u.cfg.URL)

	// Unblock ReadMessage when ctx is cancelled
	stop := context.AfterFunc(ctx, func() {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		conn.Close()
	})
	defer stop()

	pongWait := u.cfg.PongWait
	if pongWait <= 0 {
		pongWait = 60 * time.Second
	}
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	conn.SetPingHandler(func(data string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
	})

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("reading push socket: %w", err)
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))

		evs, errs := events.DecodeBatch(frame)
		for _, err := range errs {
			u.metrics.IncEventError("unknown", events.ErrorReason(err))
			u.logger.Warn("dropping undecodable frame", "error", err)
		}
		for _, ev := range evs {
			deliver(ev)
		}
	}
}
