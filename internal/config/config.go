package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/joho/godotenv"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	JWT       JWTConfig
	WebSocket WebSocketConfig
	CORS      CORSConfig
	Logging   LoggingConfig
	Storage   StorageConfig
	Gateway   GatewayConfig
	Upload    UploadConfig
	Session   SessionConfig
}

type ServerConfig struct {
	Port            string
	Host            string
	Env             string
	ShutdownTimeout time.Duration
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
}

// URL is the CouchDB DSN including credentials.
func (c DatabaseConfig) URL() string {
	return fmt.Sprintf("http://%s:%s@%s:%s", c.User, c.Password, c.Host, c.Port)
}

type JWTConfig struct {
	Secret                 string
	Expiration             time.Duration
	RefreshTokenExpiration time.Duration
}

type WebSocketConfig struct {
	ReadBufferSize    int
	WriteBufferSize   int
	MaxMessageSize    int64
	WriteWait         time.Duration
	PongWait          time.Duration
	PingPeriod        time.Duration
	MaxConnPerSession int
}

type CORSConfig struct {
	AllowedOrigins string
	AllowedMethods string
	AllowedHeaders string
}

type LoggingConfig struct {
	Level  string
	Format string
}

// SlogLevel maps Level onto slog, defaulting to info.
func (c LoggingConfig) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Level)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// StorageConfig locates stored note images. PublicBaseURL must be
// reachable by the AI provider, since it fetches images by URL.
type StorageConfig struct {
	Root          string
	PublicBaseURL string
}

type GatewayConfig struct {
	APIKey           string
	BaseURL          string
	Model            string
	Referer          string
	Title            string
	Timeout          time.Duration
	InlineImages     bool
	RetryMaxAttempts int
}

type UploadConfig struct {
	MaxBytes    int64
	FlowTimeout time.Duration
}

type SessionConfig struct {
	MaxPerUser int
}

func Load() (*Config, error) {
	godotenv.Load()

	jwtExp, err := durationEnv("JWT_EXPIRATION", "15m")
	if err != nil {
		return nil, err
	}
	refreshExp, err := durationEnv("REFRESH_TOKEN_EXPIRATION", "168h")
	if err != nil {
		return nil, err
	}
	gatewayTimeout, err := durationEnv("AI_TIMEOUT", "90s")
	if err != nil {
		return nil, err
	}
	flowTimeout, err := durationEnv("UPLOAD_FLOW_TIMEOUT", "3m")
	if err != nil {
		return nil, err
	}
	shutdownTimeout, err := durationEnv("SHUTDOWN_TIMEOUT", "30s")
	if err != nil {
		return nil, err
	}

	port := getEnv("PORT", "8080")
	cfg := Config{
		Server: ServerConfig{
			Port:            port,
			Host:            getEnv("HOST", "0.0.0.0"),
			Env:             getEnv("ENV", "development"),
			ShutdownTimeout: shutdownTimeout,
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5984"),
			User:     getEnv("DB_USER", "admin"),
			Password: getEnv("DB_PASSWORD", "password"),
			Name:     getEnv("DB_NAME", "inkscribe"),
		},
		JWT: JWTConfig{
			Secret:                 getEnv("JWT_SECRET", "dev-secret-change-in-production"),
			Expiration:             jwtExp,
			RefreshTokenExpiration: refreshExp,
		},
		WebSocket: WebSocketConfig{
			ReadBufferSize:    getEnvAsInt("WS_READ_BUFFER_SIZE", 4096),
			WriteBufferSize:   getEnvAsInt("WS_WRITE_BUFFER_SIZE", 4096),
			MaxMessageSize:    int64(getEnvAsInt("WS_MAX_MESSAGE_SIZE", 65536)),
			WriteWait:         10 * time.Second,
			PongWait:          60 * time.Second,
			PingPeriod:        54 * time.Second,
			MaxConnPerSession: getEnvAsInt("WS_MAX_CONN_PER_SESSION", 5),
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "*"),
			AllowedMethods: getEnv("CORS_ALLOWED_METHODS", "GET,POST,PUT,DELETE,OPTIONS"),
			AllowedHeaders: getEnv("CORS_ALLOWED_HEADERS", "Content-Type,Authorization"),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Storage: StorageConfig{
			Root:          getEnv("STORAGE_ROOT", "./data/files"),
			PublicBaseURL: getEnv("STORAGE_PUBLIC_BASE_URL", "http://localhost:"+port+"/files"),
		},
		Gateway: GatewayConfig{
			APIKey:           getEnv("AI_API_KEY", ""),
			BaseURL:          getEnv("AI_BASE_URL", ""),
			Model:            getEnv("AI_MODEL", ""),
			Referer:          getEnv("AI_HTTP_REFERER", ""),
			Title:            getEnv("AI_APP_TITLE", "Inkscribe"),
			Timeout:          gatewayTimeout,
			InlineImages:     getEnvAsBool("AI_INLINE_IMAGES", false),
			RetryMaxAttempts: getEnvAsInt("AI_RETRY_MAX_ATTEMPTS", 1),
		},
		Upload: UploadConfig{
			MaxBytes:    int64(getEnvAsInt("UPLOAD_MAX_BYTES", 20<<20)),
			FlowTimeout: flowTimeout,
		},
		Session: SessionConfig{
			MaxPerUser: getEnvAsInt("SESSION_MAX_PER_USER", 10),
		},
	}
	return &cfg, nil
}

// Validate checks the settings every command needs. The AI key is checked
// separately by the commands that call the gateway.
func (c *Config) Validate() error {
	if err := validation.ValidateStruct(&c.Server,
		validation.Field(&c.Server.Port, validation.Required, is.Port),
		validation.Field(&c.Server.ShutdownTimeout, validation.Min(time.Second)),
	); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	if err := validation.ValidateStruct(&c.Database,
		validation.Field(&c.Database.Host, validation.Required),
		validation.Field(&c.Database.Port, validation.Required, is.Port),
		validation.Field(&c.Database.Name, validation.Required),
	); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := validation.ValidateStruct(&c.JWT,
		validation.Field(&c.JWT.Secret, validation.Required, validation.Length(16, 0)),
		validation.Field(&c.JWT.Expiration, validation.Required),
		validation.Field(&c.JWT.RefreshTokenExpiration, validation.Required),
	); err != nil {
		return fmt.Errorf("jwt: %w", err)
	}
	if c.Server.Env == "production" && c.JWT.Secret == "dev-secret-change-in-production" {
		return fmt.Errorf("jwt: the development secret cannot be used in production")
	}
	if err := validation.ValidateStruct(&c.Logging,
		validation.Field(&c.Logging.Format, validation.In("json", "text")),
	); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	if err := validation.ValidateStruct(&c.Storage,
		validation.Field(&c.Storage.Root, validation.Required),
		validation.Field(&c.Storage.PublicBaseURL, validation.Required, is.URL),
	); err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	if err := validation.ValidateStruct(&c.Gateway,
		validation.Field(&c.Gateway.BaseURL, is.URL),
		validation.Field(&c.Gateway.Timeout, validation.Required),
		validation.Field(&c.Gateway.RetryMaxAttempts, validation.Min(1), validation.Max(5)),
	); err != nil {
		return fmt.Errorf("gateway: %w", err)
	}
	if err := validation.ValidateStruct(&c.Upload,
		validation.Field(&c.Upload.MaxBytes, validation.Required, validation.Min(int64(1))),
		validation.Field(&c.Upload.FlowTimeout, validation.Required),
	); err != nil {
		return fmt.Errorf("upload: %w", err)
	}
	return validation.ValidateStruct(&c.WebSocket,
		validation.Field(&c.WebSocket.MaxConnPerSession, validation.Min(0)),
		validation.Field(&c.WebSocket.PingPeriod, validation.By(func(any) error {
			if c.WebSocket.PingPeriod >= c.WebSocket.PongWait {
				return fmt.Errorf("must be shorter than the pong wait")
			}
			return nil
		})),
	)
}

// RequireGateway reports a missing AI key.
func (c *Config) RequireGateway() error {
	if strings.TrimSpace(c.Gateway.APIKey) == "" {
		return fmt.Errorf("gateway: AI_API_KEY is required")
	}
	return nil
}

func durationEnv(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(getEnv(key, def))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}
