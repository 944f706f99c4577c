package service

import (
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/triple-jay-dashboard/internal/domain"
	"github.com/triple-jay-dashboard/internal/metrics"
)

// DefaultOverlayDuration is how long a drinking game stays on screen
const DefaultOverlayDuration = 30 * time.Second

// dismissal is the single pending "hide the overlay" timer
type dismissal struct {
	gameID    string
	expiresAt time.Time
	timer     clockwork.Timer
}

// Overlay shows one drinking game at a time and hides it after a fixed
// duration. A new game replaces the current one and restarts the countdown.
type Overlay struct {
	clock    clockwork.Clock
	duration time.Duration
	apply    func(*domain.DrinkingGame)
	logger   *slog.Logger
	metrics  *metrics.Metrics

	// mu guards current and pending; cancel-then-arm happens under one hold of it
	mu      sync.Mutex
	current *domain.DrinkingGame
	pending *dismissal
	halted  bool
}

// NewOverlay creates a new Overlay. apply receives the game to show, or nil to hide it.
func NewOverlay(clock clockwork.Clock, duration time.Duration, apply func(*domain.DrinkingGame), m *metrics.Metrics, logger *slog.Logger) *Overlay {
	if duration <= 0 {
		duration = DefaultOverlayDuration
	}
	return &Overlay{
		clock:    clock,
		duration: duration,
		apply:    apply,
		logger:   logger,
		metrics:  m,
	}
}

// Show displays game, replacing whatever is showing
func (o *Overlay) Show(game domain.DrinkingGame) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.halted {
		return
	}

	transition := metrics.OverlayShown
	if o.pending != nil {
		o.pending.timer.Stop()
		transition = metrics.OverlayReplaced
		o.logger.Debug("replacing drinking game overlay",
			"previous_game_id", o.pending.gameID,
			"game_id", game.ID,
		)
	}

	d := &dismissal{
		gameID:    game.ID,
		expiresAt: o.clock.Now().Add(o.duration),
	}
	o.pending = d
	o.current = cloneGame(&game)
	o.apply(&game)
	d.timer = o.clock.AfterFunc(o.duration, func() { o.expire(d) })

	o.metrics.ObserveOverlay(transition)
	o.logger.Info("showing drinking game overlay",
		"game_id", game.ID,
		"title", game.Title,
		"expires_at", d.expiresAt,
	)
}

// expire hides the overlay if d is still the pending dismissal. A timer
// that was stopped after its callback had already started finds itself
// superseded here and does nothing.
func (o *Overlay) expire(d *dismissal) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.pending != d {
		return
	}
	o.pending = nil
	o.current = nil
	o.apply(nil)

	o.metrics.ObserveOverlay(metrics.OverlayExpired)
	o.logger.Info("drinking game overlay expired", "game_id", d.gameID)
}

// Current returns the showing game together with its dismissal time.
// expires is false when nothing is showing or the countdown was halted.
func (o *Overlay) Current() (game *domain.DrinkingGame, expiresAt time.Time, expires bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	game = cloneGame(o.current)
	if o.pending == nil {
		return game, time.Time{}, false
	}
	return game, o.pending.expiresAt, true
}

// halt cancels the pending dismissal and ignores further Show calls
func (o *Overlay) halt() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.halted = true
	if o.pending != nil {
		o.pending.timer.Stop()
		o.pending = nil
	}
}
