package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"
	_ "time/tzdata"

	"github.com/caarlos0/env/v10"
	"github.com/shopspring/decimal"
)

type Config struct {
	RunAddress        string `env:"RUN_ADDRESS"`
	DatabaseURI       string `env:"DATABASE_URI"`
	BackendAPIAddress string `env:"BACKEND_API_ADDRESS"`
	BackendAPIToken   string `env:"BACKEND_API_TOKEN"`
	JWTSecret         string `env:"JWT_SECRET"`

	JWTTTL              time.Duration   `env:"JWT_TTL" envDefault:"24h"`
	Timezone            string          `env:"OPERATIONAL_TIMEZONE" envDefault:"America/Manaus"`
	TopN                int             `env:"TOP_N" envDefault:"5"`
	HeuristicTolerance  time.Duration   `env:"HEURISTIC_TOLERANCE" envDefault:"1s"`
	SettlementInterval  time.Duration   `env:"SETTLEMENT_INTERVAL" envDefault:"10s"`
	BackendTimeout      time.Duration   `env:"BACKEND_TIMEOUT" envDefault:"5s"`
	AutoWithdrawMin     decimal.Decimal `env:"AUTO_WITHDRAW_MIN" envDefault:"50"`
	MinWithdrawal       decimal.Decimal `env:"MIN_WITHDRAWAL" envDefault:"10"`
	TrialPlanID         string          `env:"TRIAL_PLAN_ID" envDefault:"trial"`
	ShutdownGracePeriod time.Duration   `env:"SHUTDOWN_GRACE_PERIOD" envDefault:"10s"`

	Location *time.Location `env:"-"`
	// Command is the first positional argument, empty for the HTTP server.
	Command string `env:"-"`
	DryRun  bool   `env:"-"`
}

func New() (*Config, error) {
	return Parse(os.Args[1:], env.ToMap(os.Environ()))
}

// Parse reads flags from args and lets variables in environ override them.
func Parse(args []string, environ map[string]string) (*Config, error) {
	cfg := &Config{}
	fs := flag.NewFlagSet("mikropix", flag.ContinueOnError)
	fs.StringVar(&cfg.RunAddress, "a", ":8080", "адрес и порт запуска сервиса")
	fs.StringVar(&cfg.DatabaseURI, "d", "", "адрес подключения к базе данных")
	fs.StringVar(&cfg.BackendAPIAddress, "r", "http://localhost:3000", "адрес backend API MikroPix")
	fs.StringVar(&cfg.JWTSecret, "s", "", "секрет подписи JWT")
	fs.BoolVar(&cfg.DryRun, "n", false, "backfill без записи результатов")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	cfg.Command = fs.Arg(0)

	if err := env.ParseWithOptions(cfg, env.Options{Environment: environ}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.DatabaseURI == "" {
		return errors.New("DATABASE_URI is required")
	}
	if c.JWTSecret == "" && c.Command == "" {
		return errors.New("JWT_SECRET is required")
	}
	if c.TopN <= 0 {
		return fmt.Errorf("TOP_N must be positive, got %d", c.TopN)
	}
	if c.HeuristicTolerance < 0 {
		return fmt.Errorf("HEURISTIC_TOLERANCE must not be negative, got %s", c.HeuristicTolerance)
	}
	if c.SettlementInterval <= 0 {
		return fmt.Errorf("SETTLEMENT_INTERVAL must be positive, got %s", c.SettlementInterval)
	}
	if c.MinWithdrawal.IsNegative() || c.AutoWithdrawMin.IsNegative() {
		return errors.New("withdrawal thresholds must not be negative")
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return fmt.Errorf("OPERATIONAL_TIMEZONE: %w", err)
	}
	c.Location = loc
	return nil
}
