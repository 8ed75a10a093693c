// Package config loads daemon configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/opd-ai/peercall"
	"github.com/opd-ai/peercall/crypto"
	"github.com/sirupsen/logrus"
)

// Config is the daemon configuration.
type Config struct {
	ListenAddr   string `env:"PEERCALL_LISTEN_ADDR" envDefault:":10001"`
	Port         int    `env:"PEERCALL_PORT" envDefault:"10001"`
	FeedAddr     string `env:"PEERCALL_FEED_ADDR" envDefault:"127.0.0.1:10080"`
	ContactsFile string `env:"PEERCALL_CONTACTS_FILE" envDefault:"contacts.yaml"`

	// Hex encoded Curve25519 secret key. A fresh key is generated when empty.
	SecretKey string `env:"PEERCALL_SECRET_KEY"`

	LogLevel  string `env:"PEERCALL_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"PEERCALL_LOG_FORMAT" envDefault:"text"`

	ConnectTimeout  time.Duration `env:"PEERCALL_CONNECT_TIMEOUT" envDefault:"500ms"`
	ConnectRetries  int           `env:"PEERCALL_CONNECT_RETRIES" envDefault:"3"`
	SocketTimeout   time.Duration `env:"PEERCALL_SOCKET_TIMEOUT" envDefault:"5s"`
	PollInterval    time.Duration `env:"PEERCALL_POLL_INTERVAL" envDefault:"50ms"`
	RingTimeout     time.Duration `env:"PEERCALL_RING_TIMEOUT" envDefault:"60s"`
	MaxSendAttempts int           `env:"PEERCALL_MAX_SEND_ATTEMPTS" envDefault:"3"`
	TeardownWait    time.Duration `env:"PEERCALL_TEARDOWN_WAIT" envDefault:"3s"`
	PoolSize        int           `env:"PEERCALL_POOL_SIZE" envDefault:"8"`

	BlockUnknown     bool `env:"PEERCALL_BLOCK_UNKNOWN" envDefault:"false"`
	AutoAccept       bool `env:"PEERCALL_AUTO_ACCEPT" envDefault:"false"`
	UseNeighborTable bool `env:"PEERCALL_USE_NEIGHBOR_TABLE" envDefault:"true"`
	StrictSDP        bool `env:"PEERCALL_STRICT_SDP" envDefault:"false"`
}

// ErrInvalid indicates a configuration value out of range.
var ErrInvalid = errors.New("invalid configuration")

// LoadEnv loads ENV_FILE, or .env when ENV_FILE is unset, into the process
// environment. A missing default .env file is not an error.
func LoadEnv() error {
	envfile := os.Getenv("ENV_FILE")
	if envfile == "" {
		if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
		return nil
	}
	return godotenv.Load(envfile)
}

// Load reads the environment, after LoadEnv, into a Config.
func Load() (*Config, error) {
	if err := LoadEnv(); err != nil {
		return nil, fmt.Errorf("load env file: %w", err)
	}
	return Parse()
}

// Parse reads the current environment into a Config and validates it.
func Parse() (*Config, error) {
	cfg := new(Config)
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks ranges.
func (c *Config) Validate() error {
	switch {
	case c.Port <= 0 || c.Port > 65535:
		return fmt.Errorf("%w: port %d", ErrInvalid, c.Port)
	case c.ConnectRetries < 0:
		return fmt.Errorf("%w: negative connect retries", ErrInvalid)
	case c.MaxSendAttempts <= 0:
		return fmt.Errorf("%w: max send attempts must be positive", ErrInvalid)
	case c.SocketTimeout <= 0:
		return fmt.Errorf("%w: socket timeout must be positive", ErrInvalid)
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return nil
}

// Options converts the configuration into service options.
func (c *Config) Options() *peercall.Options {
	o := peercall.NewOptions()
	o.Port = c.Port
	o.ConnectTimeout = c.ConnectTimeout
	o.ConnectRetries = c.ConnectRetries
	o.SocketTimeout = c.SocketTimeout
	o.PollInterval = c.PollInterval
	o.RingTimeout = c.RingTimeout
	o.MaxSendAttempts = c.MaxSendAttempts
	o.TeardownWait = c.TeardownWait
	o.PoolSize = c.PoolSize
	o.BlockUnknown = c.BlockUnknown
	o.AutoAccept = c.AutoAccept
	o.UseNeighborTable = c.UseNeighborTable
	o.StrictSDP = c.StrictSDP
	return o
}

// KeyPair returns the configured key pair, or a fresh one when no secret key
// is set. generated reports the latter.
func (c *Config) KeyPair() (keys *crypto.KeyPair, generated bool, err error) {
	if c.SecretKey == "" {
		keys, err = crypto.GenerateKeyPair()
		return keys, true, err
	}
	keys, err = crypto.ParseSecretKey(c.SecretKey)
	return keys, false, err
}

// ConfigureLogging applies the log level and format to the standard logger.
func (c *Config) ConfigureLogging() {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)

	if c.LogFormat == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
}
