package fetcher

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/triple-jay-dashboard/internal/domain"
	"github.com/triple-jay-dashboard/internal/metrics"
)

// Collection names used in logs and metrics
const (
	CollectionSongs       = "songs"
	CollectionLeaderboard = "leaderboard"
)

// Source reads the two dashboard collections from a remote data store.
// A nil slice with a nil error means the source had nothing to return.
type Source interface {
	LatestSongs(ctx context.Context) ([]domain.PlayedSong, error)
	Leaderboard(ctx context.Context) ([]domain.LeaderboardUser, error)
}

// Fetcher wraps a Source so that every failure reads as an empty collection
type Fetcher struct {
	source  Source
	timeout time.Duration
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// New creates a new Fetcher. A zero timeout leaves deadlines to the caller's context.
func New(source Source, timeout time.Duration, m *metrics.Metrics, logger *slog.Logger) *Fetcher {
	return &Fetcher{
		source:  source,
		timeout: timeout,
		logger:  logger,
		metrics: m,
	}
}

// LatestSongs returns the recently played songs, or an empty slice on any failure
func (f *Fetcher) LatestSongs(ctx context.Context) []domain.PlayedSong {
	songs := fetch(ctx, f, CollectionSongs, f.source.LatestSongs)
	if songs == nil {
		return []domain.PlayedSong{}
	}
	return songs
}

// Leaderboard returns the current standings, or an empty slice on any failure
func (f *Fetcher) Leaderboard(ctx context.Context) []domain.LeaderboardUser {
	users := fetch(ctx, f, CollectionLeaderboard, f.source.Leaderboard)
	if users == nil {
		return []domain.LeaderboardUser{}
	}
	return users
}

func fetch[T any](ctx context.Context, f *Fetcher, collection string, query func(context.Context) ([]T, error)) (result []T) {
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	start := time.Now()
	outcome := metrics.OutcomeOK
	defer func() {
		if r := recover(); r != nil {
			outcome = metrics.OutcomePanic
			result = nil
			f.logger.Error("dashboard source panicked",
				"collection", collection,
				"panic", fmt.Sprint(r),
			)
		}
		f.metrics.ObserveFetch(collection, outcome, time.Since(start).Seconds())
	}()

	items, err := query(ctx)
	if err != nil {
		outcome = metrics.OutcomeError
		f.logger.Warn("failed to fetch dashboard data, showing empty collection",
			"collection", collection,
			"error", err,
		)
		return nil
	}
	if len(items) == 0 {
		outcome = metrics.OutcomeEmpty
	}

	f.logger.Debug("fetched dashboard data", "collection", collection, "count", len(items))
	return items
}
