package main

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/triple-jay-dashboard/internal/domain"
	"github.com/triple-jay-dashboard/internal/events"
	"github.com/triple-jay-dashboard/internal/postgres"
)

var userPrefixes = []string{
	"Phoenix", "Shadow", "Thunder", "Storm", "Blaze", "Ninja", "Dragon", "Wolf", "Hawk", "Viper",
	"Ghost", "Titan", "Frost", "Cyber", "Nova", "Raven", "Omega", "Alpha", "Delta", "Sigma",
}

func getUserName(idx int) string {
	prefixIdx := idx % len(userPrefixes)
	suffix := idx/len(userPrefixes) + 1
	return fmt.Sprintf("%s%d", userPrefixes[prefixIdx], suffix)
}

func newChangedCommand() *cli.Command {
	return &cli.Command{
		Name:  "changed",
		Usage: "tell dashboards the leaderboard changed",
		Action: func(c *cli.Context) error {
			return envFrom(c).publish(c.Context, events.StreamLeaderboardChanged, nil)
		},
	}
}

func newGameCommand() *cli.Command {
	return &cli.Command{
		Name:  "game",
		Usage: "start a drinking game on every dashboard",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "title", Usage: "card title", Required: true},
			&cli.StringFlag{Name: "song", Usage: "song the game is played to"},
			&cli.StringFlag{Name: "artist", Usage: "artist of the song"},
			&cli.StringSliceFlag{Name: "drinker", Usage: "who drinks (repeatable)"},
			&cli.StringFlag{Name: "message", Usage: "extra text on the card"},
		},
		Action: func(c *cli.Context) error {
			game := domain.DrinkingGame{
				ID:        uuid.New().String(),
				Title:     c.String("title"),
				Song:      c.String("song"),
				Artist:    c.String("artist"),
				Drinkers:  c.StringSlice("drinker"),
				Message:   c.String("message"),
				StartedAt: time.Now().UTC(),
			}
			if err := game.Validate(); err != nil {
				return err
			}
			return envFrom(c).publish(c.Context, events.StreamOverlayTriggered, game)
		},
	}
}

func newScoreCommand() *cli.Command {
	return &cli.Command{
		Name:  "score",
		Usage: "set a user's score in the data source and notify dashboards",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "user", Usage: "user id", Required: true},
			&cli.StringFlag{Name: "username", Usage: "display username, defaults to the id"},
			&cli.Int64Flag{Name: "score", Usage: "new score", Required: true},
		},
		Action: func(c *cli.Context) error {
			e := envFrom(c)
			s, err := e.store(c.Context)
			if err != nil {
				return err
			}
			defer s.Close()

			username := c.String("username")
			if username == "" {
				username = c.String("user")
			}
			if err := s.SetScore(c.Context, c.String("user"), username, c.Int64("score")); err != nil {
				return err
			}
			return e.publish(c.Context, events.StreamLeaderboardChanged, nil)
		},
	}
}

func newSongCommand() *cli.Command {
	return &cli.Command{
		Name:  "song",
		Usage: "record a played song and notify dashboards",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "title", Required: true},
			&cli.StringFlag{Name: "artist", Required: true},
			&cli.StringFlag{Name: "played-by", Usage: "user who requested the song"},
		},
		Action: func(c *cli.Context) error {
			e := envFrom(c)
			s, err := e.store(c.Context)
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.AddSong(c.Context, c.String("title"), c.String("artist"), c.String("played-by")); err != nil {
				return err
			}
			return e.publish(c.Context, events.StreamLeaderboardChanged, nil)
		},
	}
}

func newSimulateCommand() *cli.Command {
	return &cli.Command{
		Name:  "simulate",
		Usage: "generate random score updates to exercise dashboards",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "users", Value: 20, Usage: "number of users"},
			&cli.DurationFlag{Name: "interval", Value: time.Second, Usage: "time between updates"},
			&cli.DurationFlag{Name: "duration", Usage: "how long to run (0 = until interrupted)"},
			&cli.IntFlag{Name: "game-every", Value: 0, Usage: "start a drinking game every N updates (0 = never)"},
		},
		Action: func(c *cli.Context) error {
			e := envFrom(c)
			s, err := e.store(c.Context)
			if err != nil {
				return err
			}
			defer s.Close()

			pub, err := e.publisher(c.Context)
			if err != nil {
				return err
			}
			defer pub.Close()

			totalUsers := c.Int("users")
			if totalUsers <= 0 {
				return fmt.Errorf("--users must be positive")
			}
			scores := make([]int64, totalUsers)

			ticker := time.NewTicker(c.Duration("interval"))
			defer ticker.Stop()

			var deadline <-chan time.Time
			if d := c.Duration("duration"); d > 0 {
				timer := time.NewTimer(d)
				defer timer.Stop()
				deadline = timer.C
			}

			var updateCount int
			for {
				select {
				case <-c.Context.Done():
					return nil
				case <-deadline:
					fmt.Printf("Completed. Updates: %d\n", updateCount)
					return nil
				case <-ticker.C:
				}

				idx := rand.Intn(totalUsers)
				scores[idx] += int64(rand.Intn(3) + 1)
				name := getUserName(idx)
				if err := s.SetScore(c.Context, name, name, scores[idx]); err != nil {
					return err
				}
				if err := pub.Publish(c.Context, events.StreamLeaderboardChanged, nil); err != nil {
					return err
				}
				updateCount++

				if every := c.Int("game-every"); every > 0 && updateCount%every == 0 {
					game := domain.DrinkingGame{
						ID:        uuid.New().String(),
						Title:     name + " takes the lead",
						Drinkers:  []string{name},
						StartedAt: time.Now().UTC(),
					}
					if err := pub.Publish(c.Context, events.StreamOverlayTriggered, game); err != nil {
						return err
					}
				}

				fmt.Printf("[%s] %s -> %d\n", time.Now().Format("15:04:05"), name, scores[idx])
			}
		},
	}
}

func newMigrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "create the PostgreSQL dashboard tables",
		Action: func(c *cli.Context) error {
			e := envFrom(c)
			repo, err := postgres.NewRepository(c.Context, &e.cfg.Postgres, e.cfg.Source.SongLimit, e.logger)
			if err != nil {
				return err
			}
			defer repo.Close()

			if err := repo.RunMigrations(c.Context); err != nil {
				return err
			}
			fmt.Printf("Migrated %s\n", e.cfg.Postgres.Database)
			return nil
		},
	}
}
