package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/triple-jay-dashboard/internal/config"
	"github.com/triple-jay-dashboard/internal/domain"
)

// pool is the subset of *pgxpool.Pool the repository uses
type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Close()
}

// Repository reads the dashboard collections from PostgreSQL
type Repository struct {
	pool      pool
	songLimit int
	logger    *slog.Logger
}

// NewRepository creates a new PostgreSQL repository
func NewRepository(ctx context.Context, cfg *config.PostgresConfig, songLimit int, logger *slog.Logger) (*Repository, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConnections)
	poolConfig.MinConns = int32(cfg.MinConnections)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	dbPool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	// Test connection
	if err := dbPool.Ping(ctx); err != nil {
		dbPool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	return newRepository(dbPool, songLimit, logger), nil
}

func newRepository(p pool, songLimit int, logger *slog.Logger) *Repository {
	if songLimit <= 0 {
		songLimit = domain.DefaultSongLimit
	}
	return &Repository{
		pool:      p,
		songLimit: songLimit,
		logger:    logger,
	}
}

// Close closes the database connection pool
func (r *Repository) Close() {
	r.pool.Close()
}

// RunMigrations executes database migrations
func (r *Repository) RunMigrations(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id VARCHAR(64) PRIMARY KEY,
			username VARCHAR(255) NOT NULL,
			display_name VARCHAR(255),
			score BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS played_songs (
			id VARCHAR(64) PRIMARY KEY,
			title VARCHAR(255) NOT NULL,
			artist VARCHAR(255) NOT NULL,
			position INT,
			played_by VARCHAR(64),
			played_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_users_score ON users(score DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_played_songs_played_at ON played_songs(played_at DESC)`,
	}

	for _, migration := range migrations {
		_, err := r.pool.Exec(ctx, migration)
		if err != nil {
			return fmt.Errorf("executing migration: %w", err)
		}
	}

	r.logger.Info("database migrations completed")
	return nil
}

// LatestSongs returns the most recently played songs, newest first
func (r *Repository) LatestSongs(ctx context.Context) ([]domain.PlayedSong, error) {
	query := `
		SELECT id, title, artist, COALESCE(position, 0), COALESCE(played_by, ''), played_at
		FROM played_songs
		ORDER BY played_at DESC
		LIMIT $1
	`
	rows, err := r.pool.Query(ctx, query, r.songLimit)
	if err != nil {
		return nil, fmt.Errorf("querying latest songs: %w", err)
	}
	defer rows.Close()

	songs := make([]domain.PlayedSong, 0, r.songLimit)
	for rows.Next() {
		var song domain.PlayedSong
		err := rows.Scan(
			&song.ID,
			&song.Title,
			&song.Artist,
			&song.Position,
			&song.PlayedBy,
			&song.PlayedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning song: %w", err)
		}
		songs = append(songs, song)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating songs: %w", err)
	}
	return songs, nil
}

// Leaderboard returns every user ranked by score. Tied scores share a rank.
func (r *Repository) Leaderboard(ctx context.Context) ([]domain.LeaderboardUser, error) {
	query := `
		SELECT id, username, COALESCE(display_name, ''), score,
			RANK() OVER (ORDER BY score DESC) AS rank
		FROM users
		ORDER BY score DESC, username
	`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying leaderboard: %w", err)
	}
	defer rows.Close()

	users, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.LeaderboardUser, error) {
		var u domain.LeaderboardUser
		err := row.Scan(&u.ID, &u.Username, &u.DisplayName, &u.Score, &u.Rank)
		return u, err
	})
	if err != nil {
		return nil, fmt.Errorf("scanning leaderboard: %w", err)
	}
	return users, nil
}

// RecordSong inserts or updates a played song
func (r *Repository) RecordSong(ctx context.Context, song domain.PlayedSong) error {
	if song.PlayedAt.IsZero() {
		song.PlayedAt = time.Now()
	}
	query := `
		INSERT INTO played_songs (id, title, artist, position, played_by, played_at)
		VALUES ($1, $2, $3, NULLIF($4, 0), NULLIF($5, ''), $6)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			artist = EXCLUDED.artist,
			position = EXCLUDED.position,
			played_by = EXCLUDED.played_by,
			played_at = EXCLUDED.played_at
	`
	_, err := r.pool.Exec(ctx, query,
		song.ID,
		song.Title,
		song.Artist,
		song.Position,
		song.PlayedBy,
		song.PlayedAt,
	)
	if err != nil {
		return fmt.Errorf("recording song: %w", err)
	}
	return nil
}

// UpsertUserScore sets a user's score, creating the user if needed
func (r *Repository) UpsertUserScore(ctx context.Context, user domain.LeaderboardUser) error {
	query := `
		INSERT INTO users (id, username, display_name, score, created_at, updated_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $5)
		ON CONFLICT (id) DO UPDATE SET
			username = EXCLUDED.username,
			display_name = COALESCE(EXCLUDED.display_name, users.display_name),
			score = EXCLUDED.score,
			updated_at = EXCLUDED.updated_at
	`
	_, err := r.pool.Exec(ctx, query,
		user.ID,
		user.Username,
		user.DisplayName,
		user.Score,
		time.Now(),
	)
	if err != nil {
		return fmt.Errorf("upserting user score: %w", err)
	}
	return nil
}
