// Package config loads environment-driven configuration for the call
// subsystem services.
package config

import (
	"fmt"
	"time"

	"telecare-backend/pkg/constants"
	"telecare-backend/pkg/env"
)

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	NATS      NATSConfig
	Signaling SignalingConfig
	Call      CallConfig
	Listener  ListenerConfig
	Recorder  RecorderConfig
	Assist    AssistConfig
	Push      PushConfig
	JWT       JWTConfig
	Log       LogConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port        int
	Environment string // development, staging, production
	ServiceName string
}

// DatabaseConfig holds CockroachDB configuration
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int
	MinConns int
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
	PoolSize int
}

// NATSConfig holds NATS configuration
type NATSConfig struct {
	URL string
}

// SignalingConfig selects the pub/sub backend and its retry budget.
type SignalingConfig struct {
	// Backend is redis, nats, or memory
	Backend string

	// ExtraNotifyPrefixes are additional per-conversation notify channels
	// older client builds still publish on
	ExtraNotifyPrefixes []string

	SubscribeMaxAttempts int
	SubscribeBaseDelay   time.Duration
	SubscribeMaxDelay    time.Duration
}

// CallConfig holds call session configuration
type CallConfig struct {
	// MediaPolicy is lazy or eager
	MediaPolicy  string
	SetupTimeout time.Duration
	RejectGrace  time.Duration
	ICEServers   []string
}

// ListenerConfig holds incoming-call listener configuration
type ListenerConfig struct {
	PollInterval time.Duration
	Lookback     time.Duration
}

// RecorderConfig holds call recording configuration
type RecorderConfig struct {
	Enabled   bool
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
}

// AssistConfig holds the assistant API client configuration
type AssistConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// PushConfig holds push notification configuration
type PushConfig struct {
	Provider           string // mock, fcm, apns
	FCMCredentialsFile string
	APNsKeyFile        string
	APNsKeyID          string
	APNsTeamID         string
	APNsTopic          string
	APNsProduction     bool
}

// JWTConfig holds JWT configuration
type JWTConfig struct {
	Secret            string
	AccessTokenExpiry time.Duration
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string
	Format string // json or console
}

// Load reads configuration from the environment with development defaults.
func Load(serviceName string) *Config {
	return &Config{
		Server: ServerConfig{
			Port:        env.GetInt("PORT", 8084),
			Environment: env.GetString("ENV", "development"),
			ServiceName: serviceName,
		},
		Database: DatabaseConfig{
			Host:     env.GetString("DB_HOST", "localhost"),
			Port:     env.GetInt("DB_PORT", 26257),
			User:     env.GetString("DB_USER", "root"),
			Password: env.GetStringFromFile("DB_PASSWORD", ""),
			Database: env.GetString("DB_NAME", "telecare"),
			SSLMode:  env.GetString("DB_SSLMODE", "disable"),
			MaxConns: env.GetInt("DB_MAX_CONNS", 25),
			MinConns: env.GetInt("DB_MIN_CONNS", 5),
		},
		Redis: RedisConfig{
			Host:     env.GetString("REDIS_HOST", "localhost"),
			Port:     env.GetInt("REDIS_PORT", 6379),
			Password: env.GetStringFromFile("REDIS_PASSWORD", ""),
			DB:       env.GetInt("REDIS_DB", 0),
			PoolSize: env.GetInt("REDIS_POOL_SIZE", 10),
		},
		NATS: NATSConfig{
			URL: env.GetString("NATS_URL", "nats://localhost:4222"),
		},
		Signaling: SignalingConfig{
			Backend:              env.GetString("SIGNALING_BACKEND", "redis"),
			ExtraNotifyPrefixes:  env.GetStringSlice("SIGNALING_EXTRA_NOTIFY_PREFIXES", nil),
			SubscribeMaxAttempts: env.GetInt("SIGNALING_SUBSCRIBE_MAX_ATTEMPTS", constants.SubscribeMaxAttempts),
			SubscribeBaseDelay:   env.GetDuration("SIGNALING_SUBSCRIBE_BASE_DELAY", constants.SubscribeBaseDelay),
			SubscribeMaxDelay:    env.GetDuration("SIGNALING_SUBSCRIBE_MAX_DELAY", constants.SubscribeMaxDelay),
		},
		Call: CallConfig{
			MediaPolicy:  env.GetString("CALL_MEDIA_POLICY", "lazy"),
			SetupTimeout: env.GetDuration("CALL_SETUP_TIMEOUT", constants.CallSetupTimeout),
			RejectGrace:  env.GetDuration("CALL_REJECT_GRACE", constants.RejectGracePeriod),
			ICEServers:   env.GetStringSlice("CALL_ICE_SERVERS", []string{"stun:stun.l.google.com:19302"}),
		},
		Listener: ListenerConfig{
			PollInterval: env.GetDuration("LISTENER_POLL_INTERVAL", constants.RingingPollInterval),
			Lookback:     env.GetDuration("LISTENER_LOOKBACK", constants.RingingLookback),
		},
		Recorder: RecorderConfig{
			Enabled:   env.GetBool("RECORDER_ENABLED", false),
			Endpoint:  env.GetString("MINIO_ENDPOINT", "localhost:9000"),
			AccessKey: env.GetStringFromFile("MINIO_ACCESS_KEY", "minioadmin"),
			SecretKey: env.GetStringFromFile("MINIO_SECRET_KEY", "minioadmin"),
			UseSSL:    env.GetBool("MINIO_USE_SSL", false),
			Bucket:    env.GetString("RECORDER_BUCKET", "call-recordings"),
		},
		Assist: AssistConfig{
			BaseURL: env.GetString("ASSIST_BASE_URL", "http://localhost:9100"),
			APIKey:  env.GetStringFromFile("ASSIST_API_KEY", ""),
			Timeout: env.GetDuration("ASSIST_TIMEOUT", 120*time.Second),
		},
		Push: PushConfig{
			Provider:           env.GetString("PUSH_PROVIDER", "mock"),
			FCMCredentialsFile: env.GetString("FCM_CREDENTIALS_FILE", ""),
			APNsKeyFile:        env.GetString("APNS_KEY_FILE", ""),
			APNsKeyID:          env.GetString("APNS_KEY_ID", ""),
			APNsTeamID:         env.GetString("APNS_TEAM_ID", ""),
			APNsTopic:          env.GetString("APNS_TOPIC", ""),
			APNsProduction:     env.GetBool("APNS_PRODUCTION", false),
		},
		JWT: JWTConfig{
			Secret:            env.GetStringFromFile("JWT_SECRET", "dev-secret"),
			AccessTokenExpiry: env.GetDuration("JWT_ACCESS_TOKEN_EXPIRY", 15*time.Minute),
		},
		Log: LogConfig{
			Level:  env.GetString("LOG_LEVEL", "info"),
			Format: env.GetString("LOG_FORMAT", "json"),
		},
	}
}

// DSN returns the CockroachDB connection string.
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgresql://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode)
}

// Addr returns the Redis host:port address.
func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
