package config

import (
	fpmath "CoverPool/internal/math"
	"CoverPool/internal/state"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// PathEnv names the config file when no -config flag is given.
const PathEnv = "COVERPOOL_CONFIG"

// DefaultKeeperCron fires five seconds into each week. Weeks start on
// Thursday 00:00 UTC (the Unix epoch weekday) plus pool.week_offset.
const DefaultKeeperCron = "5 0 0 * * 4"

// PolicyConfig is a policy created when the pool is bootstrapped.
type PolicyConfig struct {
	Name            string      `yaml:"name"`
	Terms           string      `yaml:"terms"`
	CollateralRatio fpmath.Rate `yaml:"collateral_ratio"`
	WeeklyPremium   fpmath.Rate `yaml:"weekly_premium"`
}

// Config holds all daemon configuration.
type Config struct {
	Pool struct {
		// Bootstrap: Setup is submitted on first start when Manager is set.
		Manager   string   `yaml:"manager"`
		Committee []string `yaml:"committee"`
		Threshold int      `yaml:"threshold"`

		Params         state.PoolParams `yaml:"params"`
		MinimumDeposit string           `yaml:"minimum_deposit"`

		// Shifts the weekly boundary away from Thursday 00:00 UTC.
		WeekOffset time.Duration `yaml:"week_offset"`
	} `yaml:"pool"`
	Policies []PolicyConfig `yaml:"policies"`
	Postgres struct {
		DSN              string `yaml:"dsn"`
		MaxOpenConns     int    `yaml:"max_open_conns"`
		MigrationsDir    string `yaml:"migrations_dir"`
		SnapshotInterval int64  `yaml:"snapshot_interval"`
	} `yaml:"postgres"`
	NATS struct {
		URL     string `yaml:"url"`
		Enabled bool   `yaml:"enabled"`
	} `yaml:"nats"`
	Server struct {
		HTTPAddr    string `yaml:"http_addr"`
		GRPCAddr    string `yaml:"grpc_addr"`
		MetricsAddr string `yaml:"metrics_addr"`
		Admin       bool   `yaml:"admin"`
	} `yaml:"server"`
	Keeper struct {
		Enabled    bool   `yaml:"enabled"`
		Cron       string `yaml:"cron"`
		Caller     string `yaml:"caller"`
		RunOnStart bool   `yaml:"run_on_start"`
	} `yaml:"keeper"`
	Custody struct {
		// Wallet balances minted at start (dev faucet), keyed by participant id.
		Balances map[string]string `yaml:"balances"`
	} `yaml:"custody"`
	Recorder struct {
		SQLitePath string `yaml:"sqlite_path"` // empty disables the recorder
	} `yaml:"recorder"`
}

// Load reads config from a YAML file, then applies environment variable
// overrides and defaults. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	cfg.Pool.Params = state.DefaultPoolParams()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if len(data) > 0 {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	// Environment variable overrides
	if v := os.Getenv("COVERPOOL_POSTGRES_DSN"); v != "" {
		cfg.Postgres.DSN = v
	}
	if v := os.Getenv("COVERPOOL_NATS_URL"); v != "" {
		cfg.NATS.URL = v
		cfg.NATS.Enabled = true
	}
	if v := os.Getenv("COVERPOOL_HTTP_ADDR"); v != "" {
		cfg.Server.HTTPAddr = v
	}
	if v := os.Getenv("COVERPOOL_GRPC_ADDR"); v != "" {
		cfg.Server.GRPCAddr = v
	}
	if v := os.Getenv("COVERPOOL_METRICS_ADDR"); v != "" {
		cfg.Server.MetricsAddr = v
	}
	if v := os.Getenv("COVERPOOL_KEEPER_CRON"); v != "" {
		cfg.Keeper.Cron = v
		cfg.Keeper.Enabled = true
	}
	if v := os.Getenv("COVERPOOL_SQLITE_PATH"); v != "" {
		cfg.Recorder.SQLitePath = v
	}

	// Defaults
	if cfg.Postgres.DSN == "" {
		cfg.Postgres.DSN = "postgres://localhost:5432/coverpool?sslmode=disable"
	}
	if cfg.Postgres.MaxOpenConns == 0 {
		cfg.Postgres.MaxOpenConns = 20
	}
	if cfg.Postgres.SnapshotInterval == 0 {
		cfg.Postgres.SnapshotInterval = 10_000
	}
	if cfg.NATS.URL == "" {
		cfg.NATS.URL = "nats://localhost:4222"
	}
	if cfg.Server.HTTPAddr == "" {
		cfg.Server.HTTPAddr = ":8080"
	}
	if cfg.Server.GRPCAddr == "" {
		cfg.Server.GRPCAddr = ":9090"
	}
	if cfg.Server.MetricsAddr == "" {
		cfg.Server.MetricsAddr = ":9091"
	}
	if cfg.Keeper.Cron == "" {
		cfg.Keeper.Cron = DefaultKeeperCron
	}
	if cfg.Pool.MinimumDeposit == "" {
		cfg.Pool.MinimumDeposit = cfg.Pool.Params.MinimumDeposit.String()
	}

	return cfg, nil
}

// PoolParams returns the pool parameters with the minimum deposit parsed.
func (c *Config) PoolParams() (state.PoolParams, error) {
	p := c.Pool.Params
	minDeposit, err := fpmath.ParseAmount(c.Pool.MinimumDeposit)
	if err != nil {
		return p, fmt.Errorf("pool.minimum_deposit: %w", err)
	}
	p.MinimumDeposit = minDeposit
	return p, nil
}

// ManagerID returns the bootstrap manager, uuid.Nil when none is set.
func (c *Config) ManagerID() uuid.UUID {
	id, _ := uuid.Parse(c.Pool.Manager)
	return id
}

// CommitteeIDs parses the bootstrap committee.
func (c *Config) CommitteeIDs() ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, len(c.Pool.Committee))
	for i, s := range c.Pool.Committee {
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("pool.committee[%d]: %w", i, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// FaucetBalances parses custody.balances.
func (c *Config) FaucetBalances() (map[uuid.UUID]fpmath.Amount, error) {
	out := make(map[uuid.UUID]fpmath.Amount, len(c.Custody.Balances))
	for k, v := range c.Custody.Balances {
		id, err := uuid.Parse(k)
		if err != nil {
			return nil, fmt.Errorf("custody.balances[%s]: %w", k, err)
		}
		amount, err := fpmath.ParseAmount(v)
		if err != nil {
			return nil, fmt.Errorf("custody.balances[%s]: %w", k, err)
		}
		if amount.IsNegative() {
			return nil, fmt.Errorf("custody.balances[%s]: negative amount %s", k, v)
		}
		out[id] = amount
	}
	return out, nil
}

// KeeperID is the caller recorded on keeper commands. Without one
// configured a fixed id derived from the pool name is used so restarts
// keep the same caller.
func (c *Config) KeeperID() uuid.UUID {
	if id, err := uuid.Parse(c.Keeper.Caller); err == nil {
		return id
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("coverpool/keeper/"+c.Pool.Params.Name))
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	var errs []error

	params, err := c.PoolParams()
	if err != nil {
		errs = append(errs, err)
	} else if err := state.ValidatePoolParams(&params); err != nil {
		errs = append(errs, fmt.Errorf("pool.params: %w", err))
	}

	if c.Pool.Manager != "" {
		if _, err := uuid.Parse(c.Pool.Manager); err != nil {
			errs = append(errs, fmt.Errorf("pool.manager: %w", err))
		}
		committee, err := c.CommitteeIDs()
		if err != nil {
			errs = append(errs, err)
		} else if len(committee) == 0 {
			errs = append(errs, errors.New("pool.committee is required when pool.manager is set"))
		} else if c.Pool.Threshold < 0 || c.Pool.Threshold > len(committee) {
			errs = append(errs, fmt.Errorf("pool.threshold must be in [0, %d], got %d", len(committee), c.Pool.Threshold))
		}
	} else if len(c.Policies) > 0 {
		errs = append(errs, errors.New("policies require pool.manager"))
	}

	for i, p := range c.Policies {
		if strings.TrimSpace(p.Name) == "" {
			errs = append(errs, fmt.Errorf("policies[%d].name is required", i))
		}
		if err := state.ValidatePolicy(p.CollateralRatio, p.WeeklyPremium); err != nil {
			errs = append(errs, fmt.Errorf("policies[%d]: %w", i, err))
		}
	}

	if _, err := c.FaucetBalances(); err != nil {
		errs = append(errs, err)
	}

	if c.Postgres.DSN == "" {
		errs = append(errs, errors.New("postgres.dsn is required"))
	}
	if c.Postgres.SnapshotInterval < 0 {
		errs = append(errs, fmt.Errorf("postgres.snapshot_interval must be >= 0, got %d", c.Postgres.SnapshotInterval))
	}
	if c.Keeper.Enabled {
		if _, err := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor).Parse(c.Keeper.Cron); err != nil {
			errs = append(errs, fmt.Errorf("keeper.cron: %w", err))
		}
		if c.Keeper.Caller != "" {
			if _, err := uuid.Parse(c.Keeper.Caller); err != nil {
				errs = append(errs, fmt.Errorf("keeper.caller: %w", err))
			}
		}
	}

	return errors.Join(errs...)
}
