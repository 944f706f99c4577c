package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/triple-jay-dashboard/internal/domain"
)

// Store reads and writes the dashboard collections kept in Redis: the
// leaderboard as a sorted set with a per-user info hash, and the song feed
// as a capped list of JSON documents
type Store struct {
	client    *redis.Client
	keys      keys
	songLimit int
	logger    *slog.Logger
}

// NewStore creates a new Store
func NewStore(client *redis.Client, prefix string, songLimit int, logger *slog.Logger) *Store {
	if songLimit <= 0 {
		songLimit = domain.DefaultSongLimit
	}
	return &Store{
		client:    client,
		keys:      keys{prefix: prefix},
		songLimit: songLimit,
		logger:    logger,
	}
}

// LatestSongs returns the newest songs in the feed
func (s *Store) LatestSongs(ctx context.Context) ([]domain.PlayedSong, error) {
	raw, err := s.client.LRange(ctx, s.keys.songs(), 0, int64(s.songLimit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("getting latest songs: %w", err)
	}

	songs := make([]domain.PlayedSong, 0, len(raw))
	for _, item := range raw {
		var song domain.PlayedSong
		if err := json.Unmarshal([]byte(item), &song); err != nil {
			s.logger.Warn("skipping malformed song entry", "error", err)
			continue
		}
		songs = append(songs, song)
	}
	return songs, nil
}

// Leaderboard returns every user ordered by score, highest first
func (s *Store) Leaderboard(ctx context.Context) ([]domain.LeaderboardUser, error) {
	results, err := s.client.ZRevRangeWithScores(ctx, s.keys.leaderboard(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("getting leaderboard: %w", err)
	}
	if len(results) == 0 {
		return []domain.LeaderboardUser{}, nil
	}

	// Use pipeline to load every user's info in one round trip
	pipe := s.client.Pipeline()
	infoCmds := make([]*redis.MapStringStringCmd, len(results))
	for i, result := range results {
		infoCmds[i] = pipe.HGetAll(ctx, s.keys.userInfo(memberID(result.Member)))
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("getting user info: %w", err)
	}

	users := make([]domain.LeaderboardUser, len(results))
	for i, result := range results {
		id := memberID(result.Member)
		info, _ := infoCmds[i].Result()
		users[i] = domain.LeaderboardUser{
			ID:          id,
			Username:    info["username"],
			DisplayName: info["display_name"],
			Score:       int64(result.Score),
			Rank:        int64(i + 1),
		}
		if users[i].Username == "" {
			users[i].Username = id
		}
	}
	return users, nil
}

// SetScore sets a user's score
func (s *Store) SetScore(ctx context.Context, userID string, score int64) error {
	err := s.client.ZAdd(ctx, s.keys.leaderboard(), redis.Z{
		Score:  float64(score),
		Member: userID,
	}).Err()
	if err != nil {
		return fmt.Errorf("setting score: %w", err)
	}
	return nil
}

// IncrementScore adds delta to a user's score and returns the new score
func (s *Store) IncrementScore(ctx context.Context, userID string, delta int64) (int64, error) {
	newScore, err := s.client.ZIncrBy(ctx, s.keys.leaderboard(), float64(delta), userID).Result()
	if err != nil {
		return 0, fmt.Errorf("incrementing score: %w", err)
	}
	return int64(newScore), nil
}

// SetUserInfo caches a user's display fields
func (s *Store) SetUserInfo(ctx context.Context, userID, username, displayName string) error {
	err := s.client.HSet(ctx, s.keys.userInfo(userID),
		"username", username,
		"display_name", displayName,
	).Err()
	if err != nil {
		return fmt.Errorf("setting user info: %w", err)
	}
	return nil
}

// PushSong prepends song to the feed and trims it to the song limit
func (s *Store) PushSong(ctx context.Context, song domain.PlayedSong) error {
	data, err := json.Marshal(song)
	if err != nil {
		return fmt.Errorf("marshalling song: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.LPush(ctx, s.keys.songs(), data)
	pipe.LTrim(ctx, s.keys.songs(), 0, int64(s.songLimit-1))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("pushing song: %w", err)
	}
	return nil
}

// ResetLeaderboard clears every score
func (s *Store) ResetLeaderboard(ctx context.Context) error {
	if err := s.client.Del(ctx, s.keys.leaderboard()).Err(); err != nil {
		return fmt.Errorf("resetting leaderboard: %w", err)
	}
	return nil
}

func memberID(member interface{}) string {
	if id, ok := member.(string); ok {
		return id
	}
	return fmt.Sprint(member)
}
