package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Source kinds
const (
	SourceHTTP     = "http"
	SourcePostgres = "postgres"
	SourceRedis    = "redis"
)

// Event transports
const (
	TransportWebSocket = "websocket"
	TransportRedis     = "redis"
	TransportKafka     = "kafka"
	TransportNATS      = "nats"
)

// Config represents the application configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
	Source   SourceConfig   `yaml:"source"`
	Events   EventsConfig   `yaml:"events"`
	Overlay  OverlayConfig  `yaml:"overlay"`
	Redis    RedisConfig    `yaml:"redis"`
	Postgres PostgresConfig `yaml:"postgres"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	NATS     NATSConfig     `yaml:"nats"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// SourceConfig selects and configures where dashboard data is read from
type SourceConfig struct {
	Kind         string           `yaml:"kind"`
	SongLimit    int              `yaml:"song_limit"`
	FetchTimeout time.Duration    `yaml:"fetch_timeout"`
	HTTP         HTTPSourceConfig `yaml:"http"`
}

// HTTPSourceConfig holds the remote API endpoints
type HTTPSourceConfig struct {
	BaseURL         string        `yaml:"base_url"`
	SongsPath       string        `yaml:"songs_path"`
	LeaderboardPath string        `yaml:"leaderboard_path"`
	Token           string        `yaml:"token"`
	Timeout         time.Duration `yaml:"timeout"`
}

// SongsURL returns the absolute URL of the latest songs endpoint
func (c *HTTPSourceConfig) SongsURL() string {
	return c.BaseURL + c.SongsPath
}

// LeaderboardURL returns the absolute URL of the leaderboard endpoint
func (c *HTTPSourceConfig) LeaderboardURL() string {
	return c.BaseURL + c.LeaderboardPath
}

// EventsConfig selects the push-event transport
type EventsConfig struct {
	Transport string          `yaml:"transport"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Reconnect ReconnectConfig `yaml:"reconnect"`
}

// WebSocketConfig holds the upstream push socket configuration
type WebSocketConfig struct {
	URL              string        `yaml:"url"`
	Token            string        `yaml:"token"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	PongWait         time.Duration `yaml:"pong_wait"`
}

// ReconnectConfig controls how the event channel recovers from lost connections
type ReconnectConfig struct {
	InitialInterval time.Duration `yaml:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval"`
	Multiplier      float64       `yaml:"multiplier"`
	// MaxAttempts is the number of consecutive failed attempts before giving up, 0 retries forever
	MaxAttempts int `yaml:"max_attempts"`
}

// OverlayConfig holds drinking game overlay configuration
type OverlayConfig struct {
	Duration time.Duration `yaml:"duration"`
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	PoolSize     int           `yaml:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	KeyPrefix    string        `yaml:"key_prefix"`
}

// PostgresConfig holds PostgreSQL connection configuration
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"ssl_mode"`
	MaxConnections  int           `yaml:"max_connections"`
	MinConnections  int           `yaml:"min_connections"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time"`
	RunMigrations   bool          `yaml:"run_migrations"`
}

// ConnectionString returns the PostgreSQL connection string
func (c *PostgresConfig) ConnectionString() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, sslMode,
	)
}

// KafkaConfig holds Kafka connection configuration
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
	GroupID string   `yaml:"group_id"`
}

// NATSConfig holds NATS connection configuration
type NATSConfig struct {
	URL           string        `yaml:"url"`
	SubjectPrefix string        `yaml:"subject_prefix"`
	MaxReconnects int           `yaml:"max_reconnects"`
	ReconnectWait time.Duration `yaml:"reconnect_wait"`
}

// Load reads configuration from a YAML file. A .env file next to the
// working directory is loaded first so its values can be expanded.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env file: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate reports configuration values that cannot be defaulted
func (c *Config) Validate() error {
	switch c.Source.Kind {
	case SourceHTTP, SourcePostgres, SourceRedis:
	default:
		return fmt.Errorf("unknown source kind %q", c.Source.Kind)
	}

	switch c.Events.Transport {
	case TransportWebSocket, TransportRedis, TransportKafka, TransportNATS:
	default:
		return fmt.Errorf("unknown event transport %q", c.Events.Transport)
	}

	if c.Overlay.Duration < 0 {
		return fmt.Errorf("overlay duration must not be negative")
	}
	return nil
}

// applyDefaults sets default values for missing configuration
func (c *Config) applyDefaults() {
	// Server defaults
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 5 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 10 * time.Second
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = 120 * time.Second
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 30 * time.Second
	}
	if len(c.Server.AllowedOrigins) == 0 {
		c.Server.AllowedOrigins = []string{"*"}
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}

	// Source defaults
	if c.Source.Kind == "" {
		c.Source.Kind = SourceHTTP
	}
	if c.Source.SongLimit == 0 {
		c.Source.SongLimit = 10
	}
	if c.Source.FetchTimeout == 0 {
		c.Source.FetchTimeout = 10 * time.Second
	}
	if c.Source.HTTP.BaseURL == "" {
		c.Source.HTTP.BaseURL = "http://localhost:5000"
	}
	if c.Source.HTTP.SongsPath == "" {
		c.Source.HTTP.SongsPath = "/api/songs/latest"
	}
	if c.Source.HTTP.LeaderboardPath == "" {
		c.Source.HTTP.LeaderboardPath = "/api/leaderboard"
	}
	if c.Source.HTTP.Timeout == 0 {
		c.Source.HTTP.Timeout = 30 * time.Second
	}

	// Event defaults
	if c.Events.Transport == "" {
		c.Events.Transport = TransportWebSocket
	}
	if c.Events.WebSocket.URL == "" {
		c.Events.WebSocket.URL = "ws://localhost:5000/ws"
	}
	if c.Events.WebSocket.HandshakeTimeout == 0 {
		c.Events.WebSocket.HandshakeTimeout = 10 * time.Second
	}
	if c.Events.WebSocket.PongWait == 0 {
		c.Events.WebSocket.PongWait = 60 * time.Second
	}
	if c.Events.Reconnect.InitialInterval == 0 {
		c.Events.Reconnect.InitialInterval = 500 * time.Millisecond
	}
	if c.Events.Reconnect.MaxInterval == 0 {
		c.Events.Reconnect.MaxInterval = 30 * time.Second
	}
	if c.Events.Reconnect.Multiplier == 0 {
		c.Events.Reconnect.Multiplier = 2
	}

	// Overlay defaults
	if c.Overlay.Duration == 0 {
		c.Overlay.Duration = 30 * time.Second
	}

	// Redis defaults
	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.Redis.PoolSize == 0 {
		c.Redis.PoolSize = 10
	}
	if c.Redis.MinIdleConns == 0 {
		c.Redis.MinIdleConns = 2
	}
	if c.Redis.DialTimeout == 0 {
		c.Redis.DialTimeout = 5 * time.Second
	}
	if c.Redis.ReadTimeout == 0 {
		c.Redis.ReadTimeout = 3 * time.Second
	}
	if c.Redis.WriteTimeout == 0 {
		c.Redis.WriteTimeout = 3 * time.Second
	}
	if c.Redis.KeyPrefix == "" {
		c.Redis.KeyPrefix = "dashboard"
	}

	// PostgreSQL defaults
	if c.Postgres.Host == "" {
		c.Postgres.Host = "localhost"
	}
	if c.Postgres.Port == 0 {
		c.Postgres.Port = 5432
	}
	if c.Postgres.MaxConnections == 0 {
		c.Postgres.MaxConnections = 10
	}
	if c.Postgres.MinConnections == 0 {
		c.Postgres.MinConnections = 1
	}
	if c.Postgres.MaxConnLifetime == 0 {
		c.Postgres.MaxConnLifetime = 1 * time.Hour
	}
	if c.Postgres.MaxConnIdleTime == 0 {
		c.Postgres.MaxConnIdleTime = 30 * time.Minute
	}

	// Kafka defaults
	if len(c.Kafka.Brokers) == 0 {
		c.Kafka.Brokers = []string{"localhost:9092"}
	}
	if c.Kafka.Topic == "" {
		c.Kafka.Topic = "dashboard-events"
	}
	if c.Kafka.GroupID == "" {
		c.Kafka.GroupID = "dashboard"
	}

	// NATS defaults
	if c.NATS.URL == "" {
		c.NATS.URL = "nats://127.0.0.1:4222"
	}
	if c.NATS.SubjectPrefix == "" {
		c.NATS.SubjectPrefix = "dashboard"
	}
	if c.NATS.MaxReconnects == 0 {
		c.NATS.MaxReconnects = -1
	}
	if c.NATS.ReconnectWait == 0 {
		c.NATS.ReconnectWait = 2 * time.Second
	}
}

// DefaultConfig returns a configuration with all defaults
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}
