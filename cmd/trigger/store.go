package main

import (
	"context"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/triple-jay-dashboard/internal/domain"
	"github.com/triple-jay-dashboard/internal/postgres"
	"github.com/triple-jay-dashboard/internal/redis"
)

type redisStore struct {
	client *goredis.Client
	store  *redis.Store
}

func (s *redisStore) SetScore(ctx context.Context, userID, username string, score int64) error {
	if err := s.store.SetUserInfo(ctx, userID, username, ""); err != nil {
		return err
	}
	return s.store.SetScore(ctx, userID, score)
}

func (s *redisStore) AddSong(ctx context.Context, title, artist, playedBy string) error {
	return s.store.PushSong(ctx, newSong(title, artist, playedBy))
}

func (s *redisStore) Close() {
	s.client.Close()
}

type postgresStore struct {
	repo *postgres.Repository
}

func (s *postgresStore) SetScore(ctx context.Context, userID, username string, score int64) error {
	return s.repo.UpsertUserScore(ctx, domain.LeaderboardUser{
		ID:       userID,
		Username: username,
		Score:    score,
	})
}

func (s *postgresStore) AddSong(ctx context.Context, title, artist, playedBy string) error {
	return s.repo.RecordSong(ctx, newSong(title, artist, playedBy))
}

func (s *postgresStore) Close() {
	s.repo.Close()
}

func newSong(title, artist, playedBy string) domain.PlayedSong {
	return domain.PlayedSong{
		ID:       uuid.New().String(),
		Title:    title,
		Artist:   artist,
		PlayedBy: playedBy,
		PlayedAt: time.Now().UTC(),
	}
}
