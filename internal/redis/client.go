package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/triple-jay-dashboard/internal/config"
)

// NewClient opens a Redis client and checks the connection
func NewClient(ctx context.Context, cfg *config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	// Test connection
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return client, nil
}

// keys builds the dashboard key names under one prefix
type keys struct {
	prefix string
}

// leaderboard returns the sorted set of user scores
func (k keys) leaderboard() string {
	return k.prefix + ":leaderboard"
}

// songs returns the list of recently played songs, newest first
func (k keys) songs() string {
	return k.prefix + ":songs"
}

// userInfo returns the hash caching a user's display fields
func (k keys) userInfo(userID string) string {
	return fmt.Sprintf("%s:user:%s:info", k.prefix, userID)
}

// channel returns the pub/sub channel carrying stream
func (k keys) channel(stream string) string {
	return k.prefix + ":events:" + stream
}
