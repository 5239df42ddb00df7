// Package config holds process configuration and its layered loading.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/DoyleJ11/tournament-vote-backend/internal/engine"
	"github.com/DoyleJ11/tournament-vote-backend/internal/registry"
)

const (
	CatalogFile     = "file"
	CatalogPostgres = "postgres"
)

type Config struct {
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `koanf:"log_level"`
	Addr     string `koanf:"addr"`
	// PublicURL prefixes join links rendered into QR codes.
	PublicURL string `koanf:"public_url"`
	// CORSOrigins are the browser origins allowed to call the API and open
	// streams. Empty disables CORS and leaves streams same-origin only.
	CORSOrigins []string `koanf:"cors_origins"`

	CatalogDriver string `koanf:"catalog_driver"`
	CatalogPath   string `koanf:"catalog_path"`
	DatabaseURL   string `koanf:"database_url"`
	// ArchivePath is the bolt file for finished results. Empty disables archiving.
	ArchivePath string `koanf:"archive_path"`

	CodeLength   int `koanf:"code_length"`
	CodeAttempts int `koanf:"code_attempts"`
	MinPlayers   int `koanf:"min_players"`
	MaxPlayers   int `koanf:"max_players"`
	MinItems     int `koanf:"min_items"`
	NicknameMax  int `koanf:"nickname_max"`

	PairTimeout   time.Duration `koanf:"pair_timeout"`
	RoundDwell    time.Duration `koanf:"round_dwell"`
	IdleTimeout   time.Duration `koanf:"idle_timeout"`
	Retention     time.Duration `koanf:"retention"`
	SweepInterval time.Duration `koanf:"sweep_interval"`

	AllowSpectators bool `koanf:"allow_spectators"`
	ShuffleItems    bool `koanf:"shuffle_items"`

	WSSendBuffer    int           `koanf:"ws_send_buffer"`
	WSWriteTimeout  time.Duration `koanf:"ws_write_timeout"`
	WSReadTimeout   time.Duration `koanf:"ws_read_timeout"`
	WSPingInterval  time.Duration `koanf:"ws_ping_interval"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// New returns the defaults.
func New() *Config {
	return &Config{
		LogLevel:        "info",
		Addr:            ":8080",
		PublicURL:       "http://localhost:8080",
		CatalogDriver:   CatalogFile,
		CatalogPath:     "competitions.yaml",
		ArchivePath:     "results.db",
		CodeLength:      6,
		CodeAttempts:    10,
		MinPlayers:      2,
		MaxPlayers:      100,
		MinItems:        4,
		NicknameMax:     32,
		PairTimeout:     60 * time.Second,
		RoundDwell:      3 * time.Second,
		IdleTimeout:     30 * time.Minute,
		Retention:       time.Hour,
		SweepInterval:   time.Minute,
		WSSendBuffer:    64,
		WSWriteTimeout:  3 * time.Second,
		WSReadTimeout:   10 * time.Minute,
		WSPingInterval:  30 * time.Second,
		ShutdownTimeout: 10 * time.Second,
	}
}

// Validate reports the first bad setting, wrapped in ErrInvalidConfig.
func (c *Config) Validate() error {
	bad := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
	}
	switch {
	case strings.TrimSpace(c.Addr) == "":
		return bad("addr must not be empty")
	case c.CatalogDriver != CatalogFile && c.CatalogDriver != CatalogPostgres:
		return bad("catalog_driver %q, want %s or %s", c.CatalogDriver, CatalogFile, CatalogPostgres)
	case c.CatalogDriver == CatalogFile && c.CatalogPath == "":
		return bad("catalog_path is required for the file catalog")
	case c.CatalogDriver == CatalogPostgres && c.DatabaseURL == "":
		return bad("database_url is required for the postgres catalog")
	case c.CodeLength < 4:
		return bad("code_length %d is too short", c.CodeLength)
	case c.CodeAttempts < 1:
		return bad("code_attempts must be positive")
	case c.MinPlayers < 1:
		return bad("min_players must be positive")
	case c.MaxPlayers < c.MinPlayers:
		return bad("max_players %d below min_players %d", c.MaxPlayers, c.MinPlayers)
	case c.MinItems < 1:
		return bad("min_items must be positive")
	case c.NicknameMax < 1:
		return bad("nickname_max must be positive")
	case c.PairTimeout < 0 || c.RoundDwell < 0:
		return bad("pair_timeout and round_dwell must not be negative")
	case c.Retention <= 0:
		return bad("retention must be positive")
	case c.WSSendBuffer < 1:
		return bad("ws_send_buffer must be positive")
	case c.WSPingInterval < 0:
		return bad("ws_ping_interval must not be negative")
	case c.WSPingInterval > 0 && c.WSReadTimeout > 0 && c.WSReadTimeout <= c.WSPingInterval:
		return bad("ws_read_timeout %s must exceed ws_ping_interval %s", c.WSReadTimeout, c.WSPingInterval)
	}
	return nil
}

func (c *Config) Rules() engine.Rules {
	return engine.Rules{
		MinPlayers:      c.MinPlayers,
		MaxPlayers:      c.MaxPlayers,
		NicknameMax:     c.NicknameMax,
		AllowSpectators: c.AllowSpectators,
		ShuffleItems:    c.ShuffleItems,
		PairTimeout:     c.PairTimeout,
		RoundDwell:      c.RoundDwell,
	}
}

func (c *Config) RegistrySettings() registry.Settings {
	return registry.Settings{
		CodeLength:    c.CodeLength,
		CodeAttempts:  c.CodeAttempts,
		MinItems:      c.MinItems,
		Rules:         c.Rules(),
		IdleTimeout:   c.IdleTimeout,
		Retention:     c.Retention,
		SweepInterval: c.SweepInterval,
	}
}
