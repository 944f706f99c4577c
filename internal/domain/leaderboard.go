package domain

import (
	"time"
)

// DefaultSongLimit is how many recently played songs the feed shows
const DefaultSongLimit = 10

// LeaderboardUser represents a single participant's standing in the drinking game
type LeaderboardUser struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name,omitempty"`
	Score       int64  `json:"score"`
	Rank        int64  `json:"rank"`
}

// PlayedSong represents one row of the recently played feed
type PlayedSong struct {
	ID       string    `json:"id"`
	Title    string    `json:"title"`
	Artist   string    `json:"artist"`
	Position int       `json:"position,omitempty"`
	PlayedBy string    `json:"played_by,omitempty"`
	PlayedAt time.Time `json:"played_at"`
}

// DrinkingGame is the payload of the transient overlay card
type DrinkingGame struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Song      string    `json:"song,omitempty"`
	Artist    string    `json:"artist,omitempty"`
	Drinkers  []string  `json:"drinkers,omitempty"`
	Message   string    `json:"message,omitempty"`
	StartedAt time.Time `json:"started_at"`
}

// Validate checks that the payload carries enough to render a card
func (g *DrinkingGame) Validate() error {
	if g.ID == "" && g.Title == "" {
		return ErrInvalidDrinkingGame
	}
	return nil
}

// Snapshot is a read-only copy of the dashboard state
type Snapshot struct {
	Songs        []PlayedSong      `json:"songs"`
	Users        []LeaderboardUser `json:"users"`
	DrinkingGame *DrinkingGame     `json:"drinking_game"`
	Version      uint64            `json:"version"`
	UpdatedAt    time.Time         `json:"updated_at"`
}
