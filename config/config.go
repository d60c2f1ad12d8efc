package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Port          int    `env:"PORT" envDefault:"3000"`
	LineAddr      string `env:"PAIRCHAT_LINE_ADDR" envDefault:":3215"`
	ControlSocket string `env:"PAIRCHAT_CONTROL_SOCKET" envDefault:"/tmp/pairchat.sock"`

	Store      string `env:"PAIRCHAT_STORE" envDefault:"file"`
	DBFile     string `env:"PAIRCHAT_DB_FILE" envDefault:"data/database.json"`
	SQLitePath string `env:"PAIRCHAT_SQLITE_PATH" envDefault:"data/pairchat.db"`
	Seed       bool   `env:"PAIRCHAT_SEED" envDefault:"true"`

	PublicDir      string `env:"PAIRCHAT_PUBLIC_DIR" envDefault:"public"`
	MediaDir       string `env:"PAIRCHAT_MEDIA_DIR" envDefault:"public/media"`
	Blob           string `env:"PAIRCHAT_BLOB" envDefault:"disk"`
	MaxUploadBytes int64  `env:"PAIRCHAT_MAX_UPLOAD_BYTES" envDefault:"52428800"`

	S3Bucket    string `env:"PAIRCHAT_S3_BUCKET" envDefault:"pairchat"`
	S3Region    string `env:"PAIRCHAT_S3_REGION" envDefault:"us-east-1"`
	S3Endpoint  string `env:"PAIRCHAT_S3_ENDPOINT"`
	S3AccessKey string `env:"PAIRCHAT_S3_ACCESS_KEY"`
	S3SecretKey string `env:"PAIRCHAT_S3_SECRET_KEY"`

	TypingTTL      time.Duration `env:"PAIRCHAT_TYPING_TTL" envDefault:"5s"`
	SweepInterval  time.Duration `env:"PAIRCHAT_SWEEP_INTERVAL" envDefault:"1s"`
	PersistTimeout time.Duration `env:"PAIRCHAT_PERSIST_TIMEOUT" envDefault:"5s"`
	QueueSize      int           `env:"PAIRCHAT_QUEUE_SIZE" envDefault:"256"`
	OutboxSize     int           `env:"PAIRCHAT_OUTBOX_SIZE" envDefault:"64"`
	ReadTimeout    time.Duration `env:"PAIRCHAT_READ_TIMEOUT" envDefault:"120s"`
	WriteTimeout   time.Duration `env:"PAIRCHAT_WRITE_TIMEOUT" envDefault:"10s"`

	LogLevel string `env:"PAIRCHAT_LOG_LEVEL" envDefault:"info"`
	LogJSON  bool   `env:"PAIRCHAT_LOG_JSON" envDefault:"false"`
}

const (
	StoreFile   = "file"
	StoreSQLite = "sqlite"
	BlobDisk    = "disk"
	BlobS3      = "s3"
)

// Load reads the configuration from the environment, applying defaults
// for anything unset.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error

	if c.Port < 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	switch c.Store {
	case StoreFile, StoreSQLite:
	default:
		errs = append(errs, fmt.Errorf("unknown store %q", c.Store))
	}
	switch c.Blob {
	case BlobDisk, BlobS3:
	default:
		errs = append(errs, fmt.Errorf("unknown blob backend %q", c.Blob))
	}

	durations := map[string]time.Duration{
		"typing ttl":      c.TypingTTL,
		"sweep interval":  c.SweepInterval,
		"persist timeout": c.PersistTimeout,
		"read timeout":    c.ReadTimeout,
		"write timeout":   c.WriteTimeout,
	}
	for name, d := range durations {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	if c.QueueSize <= 0 || c.OutboxSize <= 0 {
		errs = append(errs, errors.New("queue and outbox sizes must be positive"))
	}
	if c.MaxUploadBytes <= 0 {
		errs = append(errs, errors.New("max upload bytes must be positive"))
	}

	return errors.Join(errs...)
}

// HTTPAddr is the listen address of the HTTP server.
func (c *Config) HTTPAddr() string {
	return net.JoinHostPort("", strconv.Itoa(c.Port))
}

// Enabled reports whether an optional listener address is switched on.
// An empty variable falls back to the default, so "off" disables.
func Enabled(addr string) bool {
	return addr != "" && addr != "off"
}
