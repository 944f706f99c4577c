package redis

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/triple-jay-dashboard/internal/domain"
	"github.com/triple-jay-dashboard/internal/events"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client, mr
}

func TestStore_SongFeedIsCappedNewestFirst(t *testing.T) {
	ctx := context.Background()
	client, mr := newTestClient(t)
	store := NewStore(client, "dashboard", 3, discardLogger())

	base := time.Date(2026, 1, 26, 20, 0, 0, 0, time.UTC)
	for i := 1; i <= 5; i++ {
		require.NoError(t, store.PushSong(ctx, domain.PlayedSong{
			ID:       fmt.Sprintf("s%d", i),
			Title:    fmt.Sprintf("Song %d", i),
			Artist:   "Artist",
			PlayedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	stored, err := mr.List("dashboard:songs")
	require.NoError(t, err)
	assert.Len(t, stored, 3, "the list itself is trimmed to the limit")

	songs, err := store.LatestSongs(ctx)
	require.NoError(t, err)
	require.Len(t, songs, 3)
	assert.Equal(t, []string{"s5", "s4", "s3"}, []string{songs[0].ID, songs[1].ID, songs[2].ID})
	assert.True(t, base.Add(5*time.Minute).Equal(songs[0].PlayedAt))
}

func TestStore_DefaultSongLimit(t *testing.T) {
	ctx := context.Background()
	client, _ := newTestClient(t)
	store := NewStore(client, "dashboard", 0, discardLogger())

	for i := 0; i < domain.DefaultSongLimit+5; i++ {
		require.NoError(t, store.PushSong(ctx, domain.PlayedSong{ID: fmt.Sprintf("s%d", i)}))
	}

	songs, err := store.LatestSongs(ctx)
	require.NoError(t, err)
	assert.Len(t, songs, domain.DefaultSongLimit)
}

func TestStore_LatestSongsSkipsMalformedEntries(t *testing.T) {
	ctx := context.Background()
	client, mr := newTestClient(t)
	store := NewStore(client, "dashboard", 10, discardLogger())

	require.NoError(t, store.PushSong(ctx, domain.PlayedSong{ID: "s1"}))
	_, err := mr.Lpush("dashboard:songs", "not json")
	require.NoError(t, err)

	songs, err := store.LatestSongs(ctx)
	require.NoError(t, err)
	require.Len(t, songs, 1)
	assert.Equal(t, "s1", songs[0].ID)
}

func TestStore_EmptyCollections(t *testing.T) {
	ctx := context.Background()
	client, _ := newTestClient(t)
	store := NewStore(client, "dashboard", 10, discardLogger())

	songs, err := store.LatestSongs(ctx)
	require.NoError(t, err)
	assert.NotNil(t, songs)
	assert.Empty(t, songs)

	users, err := store.Leaderboard(ctx)
	require.NoError(t, err)
	assert.NotNil(t, users)
	assert.Empty(t, users)
}

func TestStore_LeaderboardRanksByPosition(t *testing.T) {
	ctx := context.Background()
	client, _ := newTestClient(t)
	store := NewStore(client, "dashboard", 10, discardLogger())

	require.NoError(t, store.SetScore(ctx, "u1", 5))
	require.NoError(t, store.SetScore(ctx, "u2", 9))
	require.NoError(t, store.SetScore(ctx, "u3", 2))
	require.NoError(t, store.SetUserInfo(ctx, "u1", "amy", ""))
	require.NoError(t, store.SetUserInfo(ctx, "u2", "ben", "Ben B"))

	users, err := store.Leaderboard(ctx)
	require.NoError(t, err)

	assert.Equal(t, []domain.LeaderboardUser{
		{ID: "u2", Username: "ben", DisplayName: "Ben B", Score: 9, Rank: 1},
		{ID: "u1", Username: "amy", Score: 5, Rank: 2},
		// No info hash: the id stands in for the username
		{ID: "u3", Username: "u3", Score: 2, Rank: 3},
	}, users)
}

func TestStore_TiedScoresGetConsecutiveRanks(t *testing.T) {
	ctx := context.Background()
	client, _ := newTestClient(t)
	store := NewStore(client, "dashboard", 10, discardLogger())

	require.NoError(t, store.SetScore(ctx, "u1", 4))
	require.NoError(t, store.SetScore(ctx, "u2", 4))

	users, err := store.Leaderboard(ctx)
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, int64(1), users[0].Rank)
	assert.Equal(t, int64(2), users[1].Rank)
}

func TestStore_IncrementAndReset(t *testing.T) {
	ctx := context.Background()
	client, _ := newTestClient(t)
	store := NewStore(client, "dashboard", 10, discardLogger())

	score, err := store.IncrementScore(ctx, "u1", 3)
	require.NoError(t, err)
	assert.Equal(t, int64(3), score)

	score, err = store.IncrementScore(ctx, "u1", 2)
	require.NoError(t, err)
	assert.Equal(t, int64(5), score)

	require.NoError(t, store.ResetLeaderboard(ctx))
	users, err := store.Leaderboard(ctx)
	require.NoError(t, err)
	assert.Empty(t, users)
}

func TestTransport_ListenDeliversPublishedEvents(t *testing.T) {
	client, _ := newTestClient(t)
	tr := NewTransport(client, "dashboard", discardLogger())
	pub := NewPublisher(client, "dashboard")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan events.Event, 4)
	done := make(chan error, 1)
	go func() { done <- tr.Listen(ctx, func(ev events.Event) { got <- ev }) }()

	channel := tr.keys.channel(events.StreamOverlayTriggered)
	require.Eventually(t, func() bool {
		n, err := client.PubSubNumSub(ctx, channel).Result()
		return err == nil && n[channel] == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, pub.Publish(ctx, events.StreamOverlayTriggered, domain.DrinkingGame{ID: "g1", Title: "Waterfall"}))
	require.NoError(t, pub.Publish(ctx, events.StreamLeaderboardChanged, nil))

	first := receive(t, got)
	assert.Equal(t, events.StreamOverlayTriggered, first.Stream)
	assert.JSONEq(t, `{"id":"g1","title":"Waterfall","started_at":"0001-01-01T00:00:00Z"}`, string(first.Payload))

	second := receive(t, got)
	assert.Equal(t, events.StreamLeaderboardChanged, second.Stream)
	assert.Empty(t, second.Payload)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Listen did not return after cancel")
	}
}

func receive(t *testing.T, ch <-chan events.Event) events.Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no event delivered")
		return events.Event{}
	}
}
