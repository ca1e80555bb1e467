package config

import (
	"log"
	"time"

	"github.com/caarlos0/env/v9"
	"github.com/joho/godotenv"
)

type Config struct {
	AppPort string `env:"APP_PORT" envDefault:"8090"`
	AppMode string `env:"APP_MODE" envDefault:"debug"`

	// Marketplace API
	APIBaseURL  string        `env:"API_BASE_URL" envDefault:"http://localhost:8080"`
	HTTPTimeout time.Duration `env:"HTTP_TIMEOUT" envDefault:"15s"`

	// STOMP over WebSocket
	WSURL             string        `env:"WS_URL" envDefault:"ws://localhost:8080/ws"`
	ReconnectDelay    time.Duration `env:"WS_RECONNECT_DELAY" envDefault:"5s"`
	HeartbeatInterval time.Duration `env:"WS_HEARTBEAT" envDefault:"10s"`

	PageSize int `env:"CHAT_PAGE_SIZE" envDefault:"20"`

	// Credential: AUTH_TOKEN wins over the token file.
	AuthToken string `env:"AUTH_TOKEN"`
	TokenFile string `env:"TOKEN_FILE" envDefault:".marketplace/token"`

	CacheEnabled  bool          `env:"CACHE_ENABLED" envDefault:"false"`
	CacheTTL      time.Duration `env:"CACHE_TTL" envDefault:"2m"`
	RedisHost     string        `env:"REDIS_HOST" envDefault:"localhost"`
	RedisPort     string        `env:"REDIS_PORT" envDefault:"6379"`
	RedisPassword string        `env:"REDIS_PASSWORD"`
	RedisDB       int           `env:"REDIS_DB" envDefault:"0"`

	AllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:5173"`
}

// LoadConfig reads .env (if present) and then the process environment.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}
	return Parse()
}

// Parse builds a Config from the current environment only.
func Parse() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, err
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 20
	}
	return &cfg, nil
}
