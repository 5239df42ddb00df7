package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/smartystreets/goconvey/convey"

	"github.com/DoyleJ11/tournament-vote-backend/internal/config"
)

var configEnvVars = []string{
	"TOURNEY_CONFIG",
	"TOURNEY_ADDR",
	"TOURNEY_PAIR_TIMEOUT",
	"TOURNEY_MAX_PLAYERS",
	"TOURNEY_ALLOW_SPECTATORS",
	"TOURNEY_CATALOG_DRIVER",
	"TOURNEY_CODE_LENGTH",
	"TOURNEY_CORS_ORIGINS",
}

func clearConfigEnvVars() {
	for _, k := range configEnvVars {
		_ = os.Unsetenv(k)
	}
}

func writeConfigFile(t *testing.T, content string) string {
	path := filepath.Join(t.TempDir(), "tourney.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefaults(t *testing.T) {
	convey.Convey("Given the default config", t, func() {
		cfg := config.New()

		convey.Convey("It should validate", func() {
			convey.So(cfg.Validate(), convey.ShouldBeNil)
		})

		convey.Convey("Its rules should match the documented limits", func() {
			rules := cfg.Rules()
			convey.So(rules.MinPlayers, convey.ShouldEqual, 2)
			convey.So(rules.MaxPlayers, convey.ShouldEqual, 100)
			convey.So(rules.PairTimeout, convey.ShouldEqual, 60*time.Second)
			convey.So(rules.AllowSpectators, convey.ShouldBeFalse)
		})

		convey.Convey("Its registry settings should carry codes and sweeping", func() {
			s := cfg.RegistrySettings()
			convey.So(s.CodeLength, convey.ShouldEqual, 6)
			convey.So(s.CodeAttempts, convey.ShouldEqual, 10)
			convey.So(s.MinItems, convey.ShouldEqual, 4)
			convey.So(s.Retention, convey.ShouldEqual, time.Hour)
		})

		convey.Convey("Its streams should outlive a quiet player and be kept alive by pings", func() {
			convey.So(cfg.WSReadTimeout, convey.ShouldEqual, 10*time.Minute)
			convey.So(cfg.WSPingInterval, convey.ShouldEqual, 30*time.Second)
			convey.So(cfg.CORSOrigins, convey.ShouldBeEmpty)
		})
	})
}

func TestLoad(t *testing.T) {
	convey.Convey("Given a config loader", t, func() {
		clearConfigEnvVars()
		defer clearConfigEnvVars()

		convey.Convey("When nothing is set", func() {
			cfg, err := config.Load("")

			convey.Convey("Then defaults are returned", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.CatalogDriver, convey.ShouldEqual, config.CatalogFile)
			})
		})

		convey.Convey("When a YAML file is given", func() {
			path := writeConfigFile(t, `
addr: ":9090"
pair_timeout: "45s"
round_dwell: "1s"
max_players: 12
shuffle_items: true
`)
			cfg, err := config.Load(path)

			convey.Convey("Then file values override defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9090")
				convey.So(cfg.PairTimeout, convey.ShouldEqual, 45*time.Second)
				convey.So(cfg.RoundDwell, convey.ShouldEqual, time.Second)
				convey.So(cfg.MaxPlayers, convey.ShouldEqual, 12)
				convey.So(cfg.ShuffleItems, convey.ShouldBeTrue)
				convey.So(cfg.MinPlayers, convey.ShouldEqual, 2)
			})
		})

		convey.Convey("When the file comes from TOURNEY_CONFIG and env overrides it", func() {
			path := writeConfigFile(t, "addr: \":9090\"\nmax_players: 12\n")
			_ = os.Setenv("TOURNEY_CONFIG", path)
			_ = os.Setenv("TOURNEY_ADDR", ":7070")
			_ = os.Setenv("TOURNEY_PAIR_TIMEOUT", "2m")
			_ = os.Setenv("TOURNEY_ALLOW_SPECTATORS", "true")

			cfg, err := config.Load("")

			convey.Convey("Then env wins over the file", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":7070")
				convey.So(cfg.MaxPlayers, convey.ShouldEqual, 12)
				convey.So(cfg.PairTimeout, convey.ShouldEqual, 2*time.Minute)
				convey.So(cfg.AllowSpectators, convey.ShouldBeTrue)
			})
		})

		convey.Convey("When CORS origins come from the file", func() {
			path := writeConfigFile(t, "cors_origins:\n  - http://localhost:3000\n  - https://vote.example\n")

			cfg, err := config.Load(path)

			convey.Convey("Then the list is kept as written", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.CORSOrigins, convey.ShouldResemble, []string{"http://localhost:3000", "https://vote.example"})
			})
		})

		convey.Convey("When CORS origins come from a comma separated env var", func() {
			_ = os.Setenv("TOURNEY_CORS_ORIGINS", "http://localhost:3000, https://vote.example,")

			cfg, err := config.Load("")

			convey.Convey("Then each origin is a separate entry", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.CORSOrigins, convey.ShouldResemble, []string{"http://localhost:3000", "https://vote.example"})
			})
		})

		convey.Convey("When the file does not exist", func() {
			_, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))

			convey.Convey("Then a load error is returned", func() {
				convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When a value fails validation", func() {
			_ = os.Setenv("TOURNEY_CATALOG_DRIVER", "mongo")

			_, err := config.Load("")

			convey.Convey("Then an invalid config error is returned", func() {
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When the code length is too short", func() {
			_ = os.Setenv("TOURNEY_CODE_LENGTH", "2")

			_, err := config.Load("")

			convey.Convey("Then it is rejected", func() {
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
			})
		})
	})
}

func TestValidatePostgresNeedsURL(t *testing.T) {
	convey.Convey("Given a postgres catalog without a database url", t, func() {
		cfg := config.New()
		cfg.CatalogDriver = config.CatalogPostgres

		convey.So(errors.Is(cfg.Validate(), config.ErrInvalidConfig), convey.ShouldBeTrue)

		convey.Convey("Setting the url fixes it", func() {
			cfg.DatabaseURL = "postgres://localhost/tourney"
			convey.So(cfg.Validate(), convey.ShouldBeNil)
		})
	})
}

func TestValidateReadTimeoutExceedsPing(t *testing.T) {
	convey.Convey("Given a read timeout no longer than the ping interval", t, func() {
		cfg := config.New()
		cfg.WSReadTimeout = 30 * time.Second
		cfg.WSPingInterval = 30 * time.Second

		convey.So(errors.Is(cfg.Validate(), config.ErrInvalidConfig), convey.ShouldBeTrue)

		convey.Convey("Disabling pings accepts it", func() {
			cfg.WSPingInterval = 0
			convey.So(cfg.Validate(), convey.ShouldBeNil)
		})
	})
}
