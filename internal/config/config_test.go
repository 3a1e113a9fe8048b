package config_test

import (
	"CoverPool/internal/config"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

const sampleYAML = `
pool:
  manager: 7c8f1c1e-3f7a-4a8e-9a43-1b2c3d4e5f60
  committee:
    - 0b6f0d3a-5a4e-4a58-9d2a-6f1e2d3c4b5a
    - 9a1b2c3d-4e5f-4061-8a7b-8c9d0e1f2a3b
  threshold: 2
  minimum_deposit: "2.5"
  week_offset: 24h
  params:
    name: Bridge Cover
    withdraw_delay_weeks: 4
    withdraw_ready_weeks: 1
    policy_weeks_limit: 12
    withdraw_fee: 10000
    management_fee1: 40000
    management_fee2: 20000
policies:
  - name: bridge hack
    collateral_ratio: 500000
    weekly_premium: 10000
postgres:
  dsn: postgres://pool@db:5432/coverpool
keeper:
  enabled: true
  cron: "0 0 1 * * 4"
custody:
  balances:
    0b6f0d3a-5a4e-4a58-9d2a-6f1e2d3c4b5a: "5000"
`

// === Test: Load ===

func TestLoad_FileAndDefaults(t *testing.T) {
	cfg, err := config.Load(writeConfig(t, sampleYAML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	params, err := cfg.PoolParams()
	if err != nil {
		t.Fatalf("PoolParams: %v", err)
	}
	if params.Name != "Bridge Cover" || params.WithdrawDelayWeeks != 4 || params.PolicyWeeksLimit != 12 {
		t.Errorf("params: got %+v", params)
	}
	if params.MinimumDeposit.String() != "2.5" {
		t.Errorf("minimum deposit: got %s, want 2.5", params.MinimumDeposit)
	}
	if cfg.Pool.WeekOffset != 24*time.Hour {
		t.Errorf("week offset: got %v, want 24h", cfg.Pool.WeekOffset)
	}
	if cfg.ManagerID() == uuid.Nil {
		t.Error("manager not parsed")
	}
	if ids, err := cfg.CommitteeIDs(); err != nil || len(ids) != 2 {
		t.Errorf("committee: got %v, %v", ids, err)
	}
	if len(cfg.Policies) != 1 || cfg.Policies[0].CollateralRatio != 500_000 {
		t.Errorf("policies: got %+v", cfg.Policies)
	}

	faucet, err := cfg.FaucetBalances()
	if err != nil || len(faucet) != 1 {
		t.Fatalf("faucet: got %v, %v", faucet, err)
	}
	if got := faucet[uuid.MustParse("0b6f0d3a-5a4e-4a58-9d2a-6f1e2d3c4b5a")]; got.String() != "5000" {
		t.Errorf("faucet balance: got %s, want 5000", got)
	}

	if cfg.Server.HTTPAddr != ":8080" || cfg.Server.GRPCAddr != ":9090" || cfg.Server.MetricsAddr != ":9091" {
		t.Errorf("server defaults: got %+v", cfg.Server)
	}
	if cfg.Postgres.SnapshotInterval != 10_000 || cfg.Postgres.MaxOpenConns != 20 {
		t.Errorf("postgres defaults: got %+v", cfg.Postgres)
	}
	if cfg.Recorder.SQLitePath != "" {
		t.Errorf("recorder should be disabled by default, got %q", cfg.Recorder.SQLitePath)
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	params, _ := cfg.PoolParams()
	if params.Name != "CoverPool" || params.WithdrawDelayWeeks != 10 {
		t.Errorf("default params: got %+v", params)
	}
	if cfg.Keeper.Cron != config.DefaultKeeperCron || cfg.Keeper.Enabled {
		t.Errorf("keeper: got %+v", cfg.Keeper)
	}
	if cfg.ManagerID() != uuid.Nil {
		t.Error("manager should be unset")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("COVERPOOL_POSTGRES_DSN", "postgres://env/coverpool")
	t.Setenv("COVERPOOL_NATS_URL", "nats://bus:4222")
	t.Setenv("COVERPOOL_HTTP_ADDR", ":18080")
	t.Setenv("COVERPOOL_GRPC_ADDR", ":19090")
	t.Setenv("COVERPOOL_METRICS_ADDR", ":19091")
	t.Setenv("COVERPOOL_KEEPER_CRON", "0 30 0 * * 4")
	t.Setenv("COVERPOOL_SQLITE_PATH", "/var/lib/coverpool/stats.db")

	cfg, err := config.Load(writeConfig(t, sampleYAML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Postgres.DSN != "postgres://env/coverpool" {
		t.Errorf("dsn: got %q", cfg.Postgres.DSN)
	}
	if cfg.NATS.URL != "nats://bus:4222" || !cfg.NATS.Enabled {
		t.Errorf("nats: got %+v", cfg.NATS)
	}
	if cfg.Server.HTTPAddr != ":18080" || cfg.Server.GRPCAddr != ":19090" || cfg.Server.MetricsAddr != ":19091" {
		t.Errorf("server: got %+v", cfg.Server)
	}
	if cfg.Keeper.Cron != "0 30 0 * * 4" {
		t.Errorf("keeper cron: got %q", cfg.Keeper.Cron)
	}
	if cfg.Recorder.SQLitePath != "/var/lib/coverpool/stats.db" {
		t.Errorf("sqlite path: got %q", cfg.Recorder.SQLitePath)
	}
}

func TestLoad_BadYAML(t *testing.T) {
	if _, err := config.Load(writeConfig(t, "pool: [unterminated")); err == nil {
		t.Error("expected parse error")
	}
}

// === Test: Validate ===

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr string
	}{
		{"fees over 100%", func(c *config.Config) {
			c.Pool.Params.ManagementFee1 = 600_000
			c.Pool.Params.ManagementFee2 = 500_000
		}, "management fees exceed"},
		{"bad minimum deposit", func(c *config.Config) { c.Pool.MinimumDeposit = "lots" }, "pool.minimum_deposit"},
		{"bad manager", func(c *config.Config) { c.Pool.Manager = "root" }, "pool.manager"},
		{"no committee", func(c *config.Config) { c.Pool.Committee = nil }, "pool.committee is required"},
		{"threshold too high", func(c *config.Config) { c.Pool.Threshold = 3 }, "pool.threshold"},
		{"policy ratio", func(c *config.Config) { c.Policies[0].CollateralRatio = 0 }, "policies[0]"},
		{"policy name", func(c *config.Config) { c.Policies[0].Name = " " }, "policies[0].name"},
		{"policies without manager", func(c *config.Config) {
			c.Pool.Manager = ""
		}, "policies require pool.manager"},
		{"bad cron", func(c *config.Config) { c.Keeper.Cron = "weekly-ish" }, "keeper.cron"},
		{"bad keeper caller", func(c *config.Config) { c.Keeper.Caller = "bot" }, "keeper.caller"},
		{"bad faucet id", func(c *config.Config) { c.Custody.Balances = map[string]string{"alice": "1"} }, "custody.balances[alice]"},
		{"negative faucet", func(c *config.Config) {
			c.Custody.Balances = map[string]string{uuid.NewString(): "-1"}
		}, "negative amount"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := config.Load(writeConfig(t, sampleYAML))
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			tt.mutate(cfg)
			err = cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("got %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestKeeperID_StableWithoutCaller(t *testing.T) {
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.KeeperID() != cfg.KeeperID() || cfg.KeeperID() == uuid.Nil {
		t.Error("derived keeper id should be stable and non-nil")
	}
	caller := uuid.New()
	cfg.Keeper.Caller = caller.String()
	if cfg.KeeperID() != caller {
		t.Errorf("keeper id: got %s, want %s", cfg.KeeperID(), caller)
	}
}

// --- Test helpers ---

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "coverpool.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}
