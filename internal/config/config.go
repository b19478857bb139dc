package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverBadger   = "badger"

	envPrefix = "GOMEET"
)

// Options are the raw settings as read from the environment and overridden by
// command-line flags. NewConfig validates them into a Config.
type Options struct {
	ServerAddr       string        `envconfig:"SERVER_ADDR" default:"localhost:8000"`
	StoreDriver      string        `envconfig:"STORE_DRIVER" default:"badger"`
	DatabaseDSN      string        `envconfig:"DATABASE_DSN"`
	BadgerPath       string        `envconfig:"BADGER_PATH" default:"data/badger"`
	SigningKey       string        `envconfig:"SIGNING_KEY"`
	AllowedOrigins   []string      `envconfig:"ALLOWED_ORIGINS"`
	HostUsername     string        `envconfig:"HOST_USERNAME" default:"NewTalentsG"`
	HostPasswordHash string        `envconfig:"HOST_PASSWORD_HASH"`
	TypingTimeout    time.Duration `envconfig:"TYPING_TIMEOUT" default:"1500ms"`
	MaxTextLength    int           `envconfig:"MAX_TEXT_LENGTH" default:"4096"`
	MaxImageBytes    int           `envconfig:"MAX_IMAGE_BYTES" default:"1048576"`
	LogLevel         string        `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat        string        `envconfig:"LOG_FORMAT" default:"json"`
}

type Config struct {
	ServerAddr       string
	StoreDriver      string
	DatabaseDSN      string
	BadgerPath       string
	SigningKey       []byte
	AllowedOrigins   []string
	HostUsername     string
	HostPasswordHash []byte
	TypingTimeout    time.Duration
	MaxTextLength    int
	MaxImageBytes    int
	LogLevel         string
	LogFormat        string
}

// LoadOptions reads envFiles (missing files are skipped) and then the
// GOMEET_* environment. Variables already set in the environment win over
// values from the files.
func LoadOptions(envFiles ...string) (Options, error) {
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Options{}, fmt.Errorf("load %s: %w", f, err)
		}
	}

	var opts Options
	if err := envconfig.Process(envPrefix, &opts); err != nil {
		return Options{}, fmt.Errorf("process environment: %w", err)
	}

	return opts, nil
}

func decodeSigningSecret(base64Secret string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(base64Secret)
}

func NewConfig(opts Options) (*Config, error) {
	if opts.ServerAddr == "" {
		return nil, fmt.Errorf("server address cannot be empty")
	}
	switch opts.StoreDriver {
	case StoreDriverPostgres:
		if opts.DatabaseDSN == "" {
			return nil, fmt.Errorf("database DSN cannot be empty")
		}
	case StoreDriverBadger:
	default:
		return nil, fmt.Errorf("unknown store driver %q", opts.StoreDriver)
	}
	if opts.SigningKey == "" {
		return nil, fmt.Errorf("signing secret cannot be empty")
	}
	if strings.TrimSpace(opts.HostUsername) == "" {
		return nil, fmt.Errorf("host username cannot be empty")
	}
	if opts.HostPasswordHash == "" {
		return nil, fmt.Errorf("host password hash cannot be empty")
	}
	if opts.TypingTimeout <= 0 {
		return nil, fmt.Errorf("typing timeout must be positive")
	}
	if opts.MaxTextLength <= 0 || opts.MaxImageBytes <= 0 {
		return nil, fmt.Errorf("message limits must be positive")
	}

	// Decode the base64 encoded signing secret
	signingKey, err := decodeSigningSecret(opts.SigningKey)
	if err != nil {
		return nil, fmt.Errorf("decode signing secret: %w", err)
	}

	return &Config{
		ServerAddr:       opts.ServerAddr,
		StoreDriver:      opts.StoreDriver,
		DatabaseDSN:      opts.DatabaseDSN,
		BadgerPath:       opts.BadgerPath,
		SigningKey:       signingKey,
		AllowedOrigins:   opts.AllowedOrigins,
		HostUsername:     opts.HostUsername,
		HostPasswordHash: []byte(opts.HostPasswordHash),
		TypingTimeout:    opts.TypingTimeout,
		MaxTextLength:    opts.MaxTextLength,
		MaxImageBytes:    opts.MaxImageBytes,
		LogLevel:         opts.LogLevel,
		LogFormat:        opts.LogFormat,
	}, nil
}
