// internal/config/config.go
//
// Process configuration, read from the environment (and a .env file when
// present).

package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Store drivers.
const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
	DriverBolt   = "bolt"
)

type Config struct {
	// HTTP listen port
	Port string `envconfig:"PORT" default:"5175"`

	// zerolog level name: trace, debug, info, warn, error
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	// Human-readable console logs instead of JSON
	LogPretty bool `envconfig:"LOG_PRETTY" default:"false"`

	// Embedding table; the embedded demo table is used when empty
	VocabPath string `envconfig:"VOCAB_PATH"`

	// memory | sqlite | bolt
	StoreDriver string `envconfig:"STORE_DRIVER" default:"memory"`
	SQLitePath  string `envconfig:"SQLITE_PATH" default:"./data/converge.db"`
	BoltPath    string `envconfig:"BOLT_PATH" default:"./data/converge.bolt"`

	// Number of cached optimal words
	OptimalCacheSize int `envconfig:"OPTIMAL_CACHE_SIZE" default:"1024"`

	RequestTimeout  time.Duration `envconfig:"REQUEST_TIMEOUT" default:"10s"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"5s"`

	// Allowed CORS origin
	ClientOrigin string `envconfig:"CLIENT_ORIGIN" default:"http://localhost:5173"`
}

// Load reads .env (if any) and then the environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	var c Config
	if err := envconfig.Process("", &c); err != nil {
		return Config{}, fmt.Errorf("process env: %w", err)
	}
	return c, c.Validate()
}

// Validate checks values envconfig cannot.
func (c Config) Validate() error {
	switch c.StoreDriver {
	case DriverMemory, DriverSQLite, DriverBolt:
	default:
		return fmt.Errorf("STORE_DRIVER: unknown driver %q", c.StoreDriver)
	}
	if c.OptimalCacheSize <= 0 {
		return fmt.Errorf("OPTIMAL_CACHE_SIZE must be positive, got %d", c.OptimalCacheSize)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be positive, got %s", c.RequestTimeout)
	}
	return nil
}

// Addr is the listen address for Port.
func (c Config) Addr() string { return ":" + c.Port }
