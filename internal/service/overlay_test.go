package service

import (
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/triple-jay-dashboard/internal/domain"
	"github.com/triple-jay-dashboard/internal/metrics"
)

const testDuration = 30 * time.Second

// overlayRecorder stands in for the dashboard state the overlay writes to
type overlayRecorder struct {
	mu      sync.Mutex
	current *domain.DrinkingGame
	writes  int
}

func (r *overlayRecorder) apply(game *domain.DrinkingGame) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.current = game
	r.writes++
}

func (r *overlayRecorder) showing() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current == nil {
		return ""
	}
	return r.current.ID
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestOverlay(clock clockwork.Clock) (*Overlay, *overlayRecorder) {
	rec := &overlayRecorder{}
	return NewOverlay(clock, testDuration, rec.apply, metrics.NewNop(), discardLogger()), rec
}

func game(id string) domain.DrinkingGame {
	return domain.DrinkingGame{ID: id, Title: "Drink for " + id}
}

// stays asserts that the overlay keeps showing id for a little while
func stays(t *testing.T, rec *overlayRecorder, id string) {
	t.Helper()
	assert.Never(t, func() bool { return rec.showing() != id }, 20*time.Millisecond, time.Millisecond)
}

func becomes(t *testing.T, rec *overlayRecorder, id string) {
	t.Helper()
	assert.Eventually(t, func() bool { return rec.showing() == id }, time.Second, time.Millisecond)
}

func TestOverlay_ExpiresAfterDuration(t *testing.T) {
	clock := clockwork.NewFakeClock()
	o, rec := newTestOverlay(clock)

	o.Show(game("p1"))
	require.Equal(t, "p1", rec.showing())

	current, expiresAt, ok := o.Current()
	require.True(t, ok)
	assert.Equal(t, "p1", current.ID)
	assert.Equal(t, clock.Now().Add(testDuration), expiresAt)

	clock.Advance(testDuration - time.Millisecond)
	stays(t, rec, "p1")

	clock.Advance(time.Millisecond)
	becomes(t, rec, "")

	current, _, ok = o.Current()
	assert.False(t, ok)
	assert.Nil(t, current)
}

func TestOverlay_RetriggerRestartsCountdown(t *testing.T) {
	clock := clockwork.NewFakeClock()
	o, rec := newTestOverlay(clock)

	o.Show(game("p1"))
	clock.Advance(20 * time.Second)

	o.Show(game("p2"))
	p2At := clock.Now()
	require.Equal(t, "p2", rec.showing())

	// Past p1's original deadline: p2 must still be showing.
	clock.Advance(15 * time.Second)
	stays(t, rec, "p2")

	clock.Advance(p2At.Add(testDuration).Sub(clock.Now()) - time.Millisecond)
	stays(t, rec, "p2")

	clock.Advance(time.Millisecond)
	becomes(t, rec, "")
}

func TestOverlay_ReplacedTimerIsCancelled(t *testing.T) {
	clock := clockwork.NewFakeClock()
	o, _ := newTestOverlay(clock)

	o.Show(game("p1"))
	first := o.pending
	o.Show(game("p2"))
	second := o.pending

	require.NotSame(t, first, second)
	assert.False(t, first.timer.Stop(), "replaced timer must already be stopped")
	assert.Equal(t, "p2", second.gameID)
}

func TestOverlay_StaleDismissalDoesNotClearNewerGame(t *testing.T) {
	clock := clockwork.NewFakeClock()
	o, rec := newTestOverlay(clock)

	o.Show(game("p1"))
	stale := o.pending
	o.Show(game("p2"))

	// Simulates p1's callback winning the race against Stop.
	o.expire(stale)

	assert.Equal(t, "p2", rec.showing())
	current, _, ok := o.Current()
	assert.True(t, ok)
	assert.Equal(t, "p2", current.ID)
}

func TestOverlay_HaltStopsTimer(t *testing.T) {
	clock := clockwork.NewFakeClock()
	o, rec := newTestOverlay(clock)

	o.Show(game("p1"))
	pending := o.pending
	o.halt()

	assert.False(t, pending.timer.Stop())
	assert.Nil(t, o.pending)

	o.Show(game("p2"))
	assert.Equal(t, "p1", rec.showing(), "shows are ignored once halted")
}

// TestOverlay_RandomTriggerSequences checks that at every instant the overlay
// shows the most recent trigger whose duration has not elapsed yet.
func TestOverlay_RandomTriggerSequences(t *testing.T) {
	for seed := int64(1); seed <= 5; seed++ {
		rng := rand.New(rand.NewSource(seed))
		clock := clockwork.NewFakeClock()
		o, rec := newTestOverlay(clock)

		var (
			lastID string
			lastAt time.Time
		)
		expected := func() string {
			if lastID == "" || !clock.Now().Before(lastAt.Add(testDuration)) {
				return ""
			}
			return lastID
		}

		for step := 0; step < 15; step++ {
			gap := time.Duration(rng.Intn(45)) * time.Second
			clock.Advance(gap)
			becomes(t, rec, expected())

			id := string(rune('a' + step))
			o.Show(game(id))
			lastID, lastAt = id, clock.Now()
			require.Equal(t, id, rec.showing())
		}

		clock.Advance(testDuration)
		becomes(t, rec, "")
	}
}

func TestOverlay_CurrentPairsGameWithItsExpiry(t *testing.T) {
	clock := clockwork.NewFakeClock()
	o, _ := newTestOverlay(clock)

	var mu sync.Mutex
	want := make(map[string]time.Time)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			id := fmt.Sprintf("g%d", i)
			mu.Lock()
			want[id] = clock.Now().Add(testDuration)
			mu.Unlock()
			o.Show(game(id))
			clock.Advance(time.Second)
		}
	}()

	for {
		select {
		case <-done:
			return
		default:
		}
		current, expiresAt, ok := o.Current()
		if !ok {
			continue
		}
		mu.Lock()
		expected := want[current.ID]
		mu.Unlock()
		require.Equal(t, expected, expiresAt, "game %s paired with another game's expiry", current.ID)
	}
}
