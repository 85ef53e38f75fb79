package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"

	"secureconnect-sync/pkg/constants"
	"secureconnect-sync/pkg/env"
	"secureconnect-sync/pkg/sanitize"
)

// Config holds all configuration for the sync client and the relay
type Config struct {
	Server  ServerConfig
	Client  ClientConfig
	Channel ChannelConfig
	Redis   RedisConfig
	API     APIConfig
	Media   MediaConfig
	Sync    SyncConfig
	JWT     JWTConfig
	Log     LogConfig
	Metrics MetricsConfig
}

// ServerConfig holds relay server configuration
type ServerConfig struct {
	Port         int
	Environment  string // development, staging, production
	ServiceName  string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	AllowedOrigins    []string
	MaxWSConnections  int
	RateLimitRequests int
	RateLimitWindow   time.Duration
}

// ClientConfig identifies the local participant
type ClientConfig struct {
	UserID      string
	AccessToken string
	SignalRoute string // channel, rest
}

// ChannelConfig selects the publish/subscribe transport
type ChannelConfig struct {
	Driver string // redis, websocket, memory
	WSURL  string
	Buffer int
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
	PoolSize int
	Timeout  time.Duration
}

// Addr returns host:port
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// APIConfig points at the REST collaborator
type APIConfig struct {
	BaseURL string
	Timeout time.Duration
}

// MediaConfig holds ICE and capture settings
type MediaConfig struct {
	ICEServers []string
	Devices    []string // media kinds with a usable capture device
}

// SyncConfig tunes the message sync engine
type SyncConfig struct {
	DedupWindow time.Duration
}

// JWTConfig holds JWT configuration
type JWTConfig struct {
	Secret            string
	AccessTokenExpiry time.Duration
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level    string // debug, info, warn, error
	Format   string // json, console
	Output   string // stdout, file
	FilePath string
}

// MetricsConfig controls the client-side Prometheus listener
type MetricsConfig struct {
	Addr string
}

// Load loads configuration from an optional .env file and the environment
func Load() (*Config, error) {
	// .env is optional; real environment variables win
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port:         env.GetInt("PORT", 8080),
			Environment:  env.GetString("ENV", "development"),
			ServiceName:  env.GetString("SERVICE_NAME", "relay-service"),
			ReadTimeout:  env.GetDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: env.GetDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),

			AllowedOrigins:    env.GetStringSlice("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000", "http://127.0.0.1:3000"}),
			MaxWSConnections:  env.GetInt("WS_MAX_CONNECTIONS", constants.WebSocketMaxConnections),
			RateLimitRequests: env.GetInt("RATE_LIMIT_REQUESTS", 120),
			RateLimitWindow:   env.GetDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
		Client: ClientConfig{
			UserID:      env.GetString("SYNC_USER_ID", ""),
			AccessToken: env.GetStringFromFile("SYNC_ACCESS_TOKEN", ""),
			SignalRoute: env.GetString("SYNC_SIGNAL_ROUTE", constants.SignalRouteChannel),
		},
		Channel: ChannelConfig{
			Driver: env.GetString("CHANNEL_DRIVER", constants.ChannelDriverRedis),
			WSURL:  env.GetString("CHANNEL_WS_URL", "ws://localhost:8080/v1/ws"),
			Buffer: env.GetInt("CHANNEL_BUFFER", constants.DefaultSubscriptionBuffer),
		},
		Redis: RedisConfig{
			Host:     env.GetString("REDIS_HOST", "localhost"),
			Port:     env.GetInt("REDIS_PORT", 6379),
			Password: env.GetStringFromFile("REDIS_PASSWORD", ""),
			DB:       env.GetInt("REDIS_DB", 0),
			PoolSize: env.GetInt("REDIS_POOL_SIZE", 10),
			Timeout:  time.Duration(env.GetInt("REDIS_TIMEOUT", 5)) * time.Second,
		},
		API: APIConfig{
			BaseURL: env.GetString("API_BASE_URL", "http://localhost:8080"),
			Timeout: env.GetDuration("API_TIMEOUT", constants.DefaultRequestTimeout),
		},
		Media: MediaConfig{
			ICEServers: env.GetStringSlice("ICE_SERVERS", constants.DefaultICEServers),
			Devices:    env.GetStringSlice("MEDIA_DEVICES", []string{"audio", "video"}),
		},
		Sync: SyncConfig{
			DedupWindow: env.GetDuration("DEDUP_WINDOW", constants.DedupWindow),
		},
		JWT: JWTConfig{
			Secret:            env.GetStringFromFile("JWT_SECRET", ""),
			AccessTokenExpiry: time.Duration(env.GetInt("JWT_ACCESS_EXPIRY", 60)) * time.Minute,
		},
		Log: LogConfig{
			Level:    env.GetString("LOG_LEVEL", "info"),
			Format:   env.GetString("LOG_FORMAT", "json"),
			Output:   env.GetString("LOG_OUTPUT", "stdout"),
			FilePath: env.GetString("LOG_FILE_PATH", "/logs/sync.log"),
		},
		Metrics: MetricsConfig{
			Addr: env.GetString("METRICS_ADDR", ""),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate validates settings shared by every binary
func (c *Config) Validate() error {
	switch c.Channel.Driver {
	case constants.ChannelDriverRedis, constants.ChannelDriverWebSocket, constants.ChannelDriverMemory:
	default:
		return fmt.Errorf("CHANNEL_DRIVER must be one of redis, websocket, memory (got %q)", c.Channel.Driver)
	}

	switch c.Client.SignalRoute {
	case constants.SignalRouteChannel, constants.SignalRouteREST:
	default:
		return fmt.Errorf("SYNC_SIGNAL_ROUTE must be channel or rest (got %q)", c.Client.SignalRoute)
	}

	if c.Sync.DedupWindow <= 0 {
		return fmt.Errorf("DEDUP_WINDOW must be positive")
	}

	if c.Channel.Buffer <= 0 {
		return fmt.Errorf("CHANNEL_BUFFER must be positive")
	}

	return nil
}

// ValidateClient checks the settings the sync client cannot run without
func (c *Config) ValidateClient() error {
	if c.Client.UserID == "" {
		return fmt.Errorf("SYNC_USER_ID must be set")
	}
	if !sanitize.ValidUserID(c.Client.UserID) {
		return fmt.Errorf("SYNC_USER_ID %q is not a valid user id", c.Client.UserID)
	}
	if c.Channel.Driver == constants.ChannelDriverWebSocket && c.Client.AccessToken == "" {
		return fmt.Errorf("SYNC_ACCESS_TOKEN is required for the websocket channel")
	}
	return nil
}

// ValidateRelay checks the relay's signing configuration
func (c *Config) ValidateRelay() error {
	if c.Server.Environment == "production" {
		if c.JWT.Secret == "" {
			return fmt.Errorf("JWT_SECRET must be set in production")
		}
		if len(c.JWT.Secret) < 32 {
			return fmt.Errorf("JWT_SECRET must be at least 32 characters in production")
		}
	}
	if c.JWT.Secret == "" {
		return fmt.Errorf("JWT_SECRET must be set")
	}
	return nil
}
