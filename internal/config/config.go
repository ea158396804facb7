package config

import (
	"os"
	"time"

	"github.com/caarlos0/env/v10"

	"github.com/copyleftdev/spsa/internal/optimization"
	"github.com/copyleftdev/spsa/internal/optimization/spsa"
)

type Config struct {
	Environment string `env:"ENV" envDefault:"development"`
	HTTP        struct {
		Port            int           `env:"HTTP_PORT" envDefault:"8080"`
		ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"30s"`
		WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
		IdleTimeout     time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`
		ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"30s"`
	}
	Logging struct {
		Level  string `env:"LOG_LEVEL"`
		Format string `env:"LOG_FORMAT" envDefault:"json"`
		Output string `env:"LOG_OUTPUT" envDefault:"stderr"`
	}
	SPSA struct {
		Tolerance        float64 `env:"SPSA_TOLERANCE" envDefault:"1e-5"`
		MaxIterations    int     `env:"SPSA_MAX_ITERATIONS" envDefault:"200"`
		Alpha            float64 `env:"SPSA_ALPHA" envDefault:"0.602"`
		Gamma            float64 `env:"SPSA_GAMMA" envDefault:"0.101"`
		LR               float64 `env:"SPSA_LR" envDefault:"1.0"`
		Perturb          float64 `env:"SPSA_PERTURB" envDefault:"1.0"`
		Blocking         bool    `env:"SPSA_BLOCKING" envDefault:"false"`
		AllowedIncrease  float64 `env:"SPSA_ALLOWED_INCREASE" envDefault:"0.5"`
		Concurrent       bool    `env:"SPSA_CONCURRENT" envDefault:"false"`
		AbortOnNonFinite bool    `env:"SPSA_ABORT_ON_NON_FINITE" envDefault:"false"`
	}
	Optimization struct {
		WorkerCount int    `env:"OPT_WORKER_COUNT" envDefault:"10"`
		TraceDir    string `env:"OPT_TRACE_DIR"`
	}
}

func Load() (*Config, error) {
	cfg := &Config{}

	// Parse environment variables
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	// Set default logging level based on environment
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
		if cfg.Environment == "development" {
			cfg.Logging.Level = "debug"
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// Ensure the trace directory exists
	if cfg.Optimization.TraceDir != "" {
		if err := os.MkdirAll(cfg.Optimization.TraceDir, 0o755); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// Validate rejects settings that no run could use.
func (c *Config) Validate() error {
	switch {
	case c.SPSA.Tolerance < 0:
		return invalid("SPSA_TOLERANCE must be non-negative, got %g", c.SPSA.Tolerance)
	case c.SPSA.MaxIterations < 0:
		return invalid("SPSA_MAX_ITERATIONS must be non-negative, got %d", c.SPSA.MaxIterations)
	case c.SPSA.LR <= 0:
		return invalid("SPSA_LR must be positive, got %g", c.SPSA.LR)
	case c.SPSA.Perturb <= 0:
		return invalid("SPSA_PERTURB must be positive, got %g", c.SPSA.Perturb)
	case c.Optimization.WorkerCount < 1:
		return invalid("OPT_WORKER_COUNT must be at least 1, got %d", c.Optimization.WorkerCount)
	}
	return nil
}

// SPSASettings returns the default run settings described by the
// configuration. The settings carry no random source.
func (c *Config) SPSASettings() spsa.Settings {
	return spsa.Settings{
		Tolerance:        c.SPSA.Tolerance,
		MaxIterations:    c.SPSA.MaxIterations,
		LR:               c.SPSA.LR,
		Alpha:            c.SPSA.Alpha,
		Perturb:          c.SPSA.Perturb,
		Gamma:            c.SPSA.Gamma,
		Blocking:         c.SPSA.Blocking,
		AllowedIncrease:  c.SPSA.AllowedIncrease,
		Concurrent:       c.SPSA.Concurrent,
		AbortOnNonFinite: c.SPSA.AbortOnNonFinite,
	}
}

func invalid(format string, args ...interface{}) error {
	return optimization.NewErrorf(optimization.KindInvalidArgument, format, args...).WithComponent("config")
}
