package service

import (
	"sync"
	"time"

	"github.com/triple-jay-dashboard/internal/domain"
)

// state holds the three observable pieces of the dashboard. Every setter
// returns the snapshot taken in the same critical section as the write.
type state struct {
	mu        sync.RWMutex
	songs     []domain.PlayedSong
	users     []domain.LeaderboardUser
	game      *domain.DrinkingGame
	version   uint64
	updatedAt time.Time
}

func newState() *state {
	return &state{
		songs: []domain.PlayedSong{},
		users: []domain.LeaderboardUser{},
	}
}

func (s *state) setSongs(songs []domain.PlayedSong) domain.Snapshot {
	if songs == nil {
		songs = []domain.PlayedSong{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.songs = songs
	return s.bumpLocked()
}

func (s *state) setUsers(users []domain.LeaderboardUser) domain.Snapshot {
	if users == nil {
		users = []domain.LeaderboardUser{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users = users
	return s.bumpLocked()
}

func (s *state) setGame(game *domain.DrinkingGame) domain.Snapshot {
	game = cloneGame(game)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.game = game
	return s.bumpLocked()
}

func (s *state) snapshot() domain.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *state) bumpLocked() domain.Snapshot {
	s.version++
	s.updatedAt = time.Now()
	return s.snapshotLocked()
}

func (s *state) snapshotLocked() domain.Snapshot {
	snap := domain.Snapshot{
		Songs:     append([]domain.PlayedSong(nil), s.songs...),
		Users:     append([]domain.LeaderboardUser(nil), s.users...),
		Version:   s.version,
		UpdatedAt: s.updatedAt,
	}
	if snap.Songs == nil {
		snap.Songs = []domain.PlayedSong{}
	}
	if snap.Users == nil {
		snap.Users = []domain.LeaderboardUser{}
	}
	snap.DrinkingGame = cloneGame(s.game)
	return snap
}

func cloneGame(game *domain.DrinkingGame) *domain.DrinkingGame {
	if game == nil {
		return nil
	}
	c := *game
	if game.Drinkers != nil {
		c.Drinkers = append([]string(nil), game.Drinkers...)
	}
	return &c
}
