package fetcher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/triple-jay-dashboard/internal/config"
	"github.com/triple-jay-dashboard/internal/domain"
)

// maxBodySize caps how much of a response is read
const maxBodySize = 4 << 20

// HTTPSource reads the dashboard collections from the remote REST API
type HTTPSource struct {
	client         *http.Client
	songsURL       string
	leaderboardURL string
	headers        map[string]string
}

// NewHTTPSource creates a new HTTP source from configuration
func NewHTTPSource(cfg *config.HTTPSourceConfig) *HTTPSource {
	s := &HTTPSource{
		client:         &http.Client{Timeout: cfg.Timeout},
		songsURL:       cfg.SongsURL(),
		leaderboardURL: cfg.LeaderboardURL(),
		headers:        map[string]string{"Accept": "application/json"},
	}
	if cfg.Token != "" {
		s.headers["Authorization"] = "Bearer " + cfg.Token
	}
	return s
}

// WithClient replaces the underlying HTTP client
func (s *HTTPSource) WithClient(client *http.Client) *HTTPSource {
	s.client = client
	return s
}

// LatestSongs fetches the latest played songs
func (s *HTTPSource) LatestSongs(ctx context.Context) ([]domain.PlayedSong, error) {
	return getJSON[domain.PlayedSong](ctx, s, s.songsURL)
}

// Leaderboard fetches the leaderboard standings
func (s *HTTPSource) Leaderboard(ctx context.Context) ([]domain.LeaderboardUser, error) {
	return getJSON[domain.LeaderboardUser](ctx, s, s.leaderboardURL)
}

// getJSON performs a GET and decodes a JSON array. An empty body, a JSON null
// and 204 No Content all decode to a nil slice.
func getJSON[T any](ctx context.Context, s *HTTPSource, url string) ([]T, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	for key, value := range s.headers {
		req.Header.Set(key, value)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("requesting %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: %s returned status %d: %s",
			domain.ErrSourceUnavailable, url, resp.StatusCode, bytes.TrimSpace(body))
	}

	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, nil
	}

	var items []T
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, fmt.Errorf("decoding response from %s: %w", url, err)
	}
	return items, nil
}
