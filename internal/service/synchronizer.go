package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/triple-jay-dashboard/internal/domain"
	"github.com/triple-jay-dashboard/internal/events"
	"github.com/triple-jay-dashboard/internal/metrics"
)

// EventChannel is the subscribe side of the push-event connection
type EventChannel interface {
	Subscribe(stream string, h events.Handler) (func(), error)
}

// DataFetcher reads the two dashboard collections. Implementations return
// empty slices instead of errors.
type DataFetcher interface {
	LatestSongs(ctx context.Context) []domain.PlayedSong
	Leaderboard(ctx context.Context) []domain.LeaderboardUser
}

// Listener is notified with every new snapshot. It is called synchronously
// and must not block.
type Listener func(domain.Snapshot)

// Synchronizer keeps the dashboard state current from push events
type Synchronizer struct {
	channel EventChannel
	fetcher DataFetcher
	overlay *Overlay
	state   *state
	logger  *slog.Logger
	metrics *metrics.Metrics

	// Context for refreshes started by events, cancelled on Stop
	ctx       context.Context
	cancel    context.CancelFunc
	refreshes sync.WaitGroup

	lifecycleMu  sync.Mutex
	started      bool
	stopped      bool
	unsubscribes []func()

	// listenersMu also serialises delivery so versions only move forward
	listenersMu sync.Mutex
	listeners   []Listener
	delivered   uint64
}

// NewSynchronizer creates a new Synchronizer
func NewSynchronizer(
	channel EventChannel,
	fetcher DataFetcher,
	clock clockwork.Clock,
	overlayDuration time.Duration,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Synchronizer {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Synchronizer{
		channel: channel,
		fetcher: fetcher,
		state:   newState(),
		logger:  logger,
		metrics: m,
		ctx:     ctx,
		cancel:  cancel,
	}
	s.overlay = NewOverlay(clock, overlayDuration, func(game *domain.DrinkingGame) {
		s.publish(s.state.setGame(game))
	}, m, logger)
	return s
}

// Start subscribes to both streams and loads the initial data. Calling it
// again after a successful start does nothing.
func (s *Synchronizer) Start(ctx context.Context) error {
	s.lifecycleMu.Lock()
	if s.stopped {
		s.lifecycleMu.Unlock()
		return domain.ErrChannelClosed
	}
	if s.started {
		s.lifecycleMu.Unlock()
		return nil
	}

	subscriptions := []struct {
		stream  string
		handler events.Handler
	}{
		{events.StreamLeaderboardChanged, s.handleLeaderboardChanged},
		{events.StreamOverlayTriggered, s.handleOverlayTriggered},
	}

	for _, sub := range subscriptions {
		unsubscribe, err := s.channel.Subscribe(sub.stream, sub.handler)
		if err != nil {
			for _, u := range s.unsubscribes {
				u()
			}
			s.unsubscribes = nil
			s.lifecycleMu.Unlock()
			return fmt.Errorf("subscribing to %s: %w", sub.stream, err)
		}
		s.unsubscribes = append(s.unsubscribes, unsubscribe)
	}
	s.started = true
	s.lifecycleMu.Unlock()

	s.logger.Info("dashboard synchronizer started")

	s.Refresh(ctx)
	return nil
}

// Stop unsubscribes from the event channel, cancels the pending overlay
// dismissal and waits for event-driven refreshes to finish
func (s *Synchronizer) Stop() {
	s.lifecycleMu.Lock()
	if s.stopped {
		s.lifecycleMu.Unlock()
		return
	}
	s.stopped = true
	unsubscribes := s.unsubscribes
	s.unsubscribes = nil
	s.lifecycleMu.Unlock()

	for _, unsubscribe := range unsubscribes {
		unsubscribe()
	}
	s.cancel()
	s.overlay.halt()
	s.refreshes.Wait()

	s.logger.Info("dashboard synchronizer stopped")
}

// Ready reports whether the synchronizer is subscribed and running
func (s *Synchronizer) Ready() bool {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()
	return s.started && !s.stopped
}

// Refresh reloads both collections concurrently. Each collection is
// written as soon as its own fetch completes; a failed or slow fetch never
// holds up the other. Refresh returns once both have settled.
func (s *Synchronizer) Refresh(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		var songs []domain.PlayedSong
		s.guard("songs", func() { songs = s.fetcher.LatestSongs(ctx) })
		s.publish(s.state.setSongs(songs))
	}()

	go func() {
		defer wg.Done()
		var users []domain.LeaderboardUser
		s.guard("leaderboard", func() { users = s.fetcher.Leaderboard(ctx) })
		s.publish(s.state.setUsers(users))
	}()

	wg.Wait()
}

// OnLeaderboardChanged starts a refresh without waiting for it. Overlapping
// refreshes are fine: each collection keeps whichever fetch finished last.
func (s *Synchronizer) OnLeaderboardChanged() {
	s.lifecycleMu.Lock()
	if s.stopped {
		s.lifecycleMu.Unlock()
		return
	}
	s.refreshes.Add(1)
	s.lifecycleMu.Unlock()

	go func() {
		defer s.refreshes.Done()
		s.Refresh(s.ctx)
	}()
}

// OnOverlayTriggered shows game in the overlay
func (s *Synchronizer) OnOverlayTriggered(game domain.DrinkingGame) {
	s.overlay.Show(game)
}

// Snapshot returns a copy of the current state
func (s *Synchronizer) Snapshot() domain.Snapshot {
	return s.state.snapshot()
}

// DrinkingGame returns the showing drinking game and when it will be hidden,
// read together so a re-trigger cannot pair one game with another's expiry
func (s *Synchronizer) DrinkingGame() (*domain.DrinkingGame, time.Time, bool) {
	return s.overlay.Current()
}

// Watch registers l for every subsequent state change
func (s *Synchronizer) Watch(l Listener) {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()
	s.listeners = append(s.listeners, l)
}

func (s *Synchronizer) handleLeaderboardChanged(ctx context.Context, ev events.Event) {
	s.logger.Debug("leaderboard changed")
	s.OnLeaderboardChanged()
}

func (s *Synchronizer) handleOverlayTriggered(ctx context.Context, ev events.Event) {
	game, err := decodeDrinkingGame(ev.Payload)
	if err != nil {
		s.metrics.IncEventError(ev.Stream, "invalid_payload")
		s.logger.Warn("ignoring drinking game event", "error", err)
		return
	}
	s.OnOverlayTriggered(game)
}

// decodeDrinkingGame accepts any JSON object; the overlay renders whatever
// fields it carries
func decodeDrinkingGame(payload json.RawMessage) (domain.DrinkingGame, error) {
	var game domain.DrinkingGame
	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 {
		return game, fmt.Errorf("%w: empty payload", domain.ErrInvalidDrinkingGame)
	}
	if payload[0] != '{' {
		return game, fmt.Errorf("%w: payload is not an object", domain.ErrInvalidDrinkingGame)
	}
	if err := json.Unmarshal(payload, &game); err != nil {
		return game, fmt.Errorf("%w: %v", domain.ErrInvalidDrinkingGame, err)
	}
	return game, nil
}

// publish delivers snap to the listeners unless a newer one already went out
func (s *Synchronizer) publish(snap domain.Snapshot) {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()

	if snap.Version <= s.delivered {
		return
	}
	s.delivered = snap.Version

	for _, l := range s.listeners {
		s.guard("listener", func() { l(snap) })
	}
}

// guard runs fn and logs instead of crashing if it panics
func (s *Synchronizer) guard(what string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("recovered from panic", "component", what, "panic", fmt.Sprint(r))
		}
	}()
	fn()
}
