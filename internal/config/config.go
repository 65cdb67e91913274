package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	HTTPAddr string     `env:"HTTP_ADDR" envDefault:":8080"`
	DBPath   string     `env:"DB_PATH" envDefault:"data/geopuzzle.db"`
	LogLevel slog.Level `env:"LOG_LEVEL" envDefault:"INFO"`

	// RedisURL enables the live leaderboard when set.
	RedisURL string `env:"REDIS_URL"`

	JWTSecret   string        `env:"JWT_SECRET,required"`
	JWTIssuer   string        `env:"JWT_ISSUER" envDefault:"geopuzzle"`
	JWTAudience string        `env:"JWT_AUDIENCE" envDefault:"geopuzzle-players"`
	TokenTTL    time.Duration `env:"TOKEN_TTL" envDefault:"336h"`

	// Session coordinator timing.
	SessionIdleTimeout time.Duration `env:"SESSION_IDLE_TIMEOUT" envDefault:"3m"`
	ReapInterval       time.Duration `env:"REAP_INTERVAL" envDefault:"30s"`
	SendTimeout        time.Duration `env:"SEND_TIMEOUT" envDefault:"5s"`

	// Object storage. S3 is used when the bucket is set, local disk otherwise.
	UploadDir        string `env:"UPLOAD_DIR" envDefault:"uploads"`
	S3Bucket         string `env:"S3_BUCKET"`
	S3Endpoint       string `env:"S3_ENDPOINT"`
	S3AccessKeyID    string `env:"S3_ACCESS_KEY_ID"`
	S3SecretKey      string `env:"S3_SECRET_ACCESS_KEY"`
	CDNBaseURL       string `env:"CDN_BASE_URL"`
	DefaultThumbnail string `env:"TRACK_DEFAULT_THUMBNAIL" envDefault:"tracks/default.png"`
}

func Load() (*Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}
	return &cfg, nil
}
