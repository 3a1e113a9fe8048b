package main

import (
	"CoverPool/internal/clock"
	"CoverPool/internal/config"
	"CoverPool/internal/core"
	"CoverPool/internal/custody"
	"CoverPool/internal/ingestion"
	fpmath "CoverPool/internal/math"
	"CoverPool/internal/persistence"
	"CoverPool/internal/projection"
	"CoverPool/internal/state"
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// === Test: Output bridge ===

func TestBridgeCoreOutputs_FansOutAndCloses(t *testing.T) {
	persistIn := make(chan core.CoreOutput, 8)
	projectionIn := make(chan core.CoreOutput, 8)
	eng, _ := newEngine(t, persistIn, projectionIn)

	ctx := context.Background()
	manager := uuid.New()
	if err := eng.Setup(ctx, manager, []uuid.UUID{uuid.New()}, 1, nil); err != nil {
		t.Fatalf("Setup: %v", err)
	}
	if _, err := eng.AddPolicy(ctx, manager, 500_000, 10_000, "oracle failure", ""); err != nil {
		t.Fatalf("AddPolicy: %v", err)
	}
	close(persistIn)
	close(projectionIn)

	persistOut := make(chan persistence.Output, 8)
	projectionOut := make(chan projection.ProjectionOutput, 8)
	publishOut := make(chan ingestion.PublishableEvent, 8)

	done := make(chan struct{})
	go func() {
		bridgeCoreOutputs(persistIn, projectionIn, persistOut, projectionOut, publishOut, nil)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("bridge did not return after inputs closed")
	}

	var seqs []int64
	for o := range persistOut {
		seqs = append(seqs, o.EventRow.Sequence)
	}
	if len(seqs) != 2 || seqs[0] != 0 || seqs[1] != 1 {
		t.Errorf("persisted sequences: got %v, want [0 1]", seqs)
	}
	if n := drain(projectionOut); n != 2 {
		t.Errorf("projection outputs: got %d, want 2", n)
	}
	if n := drain(publishOut); n != 2 {
		t.Errorf("published events: got %d, want 2", n)
	}
}

func TestBridgeCoreOutputs_NoPublisher(t *testing.T) {
	persistIn := make(chan core.CoreOutput)
	projectionIn := make(chan core.CoreOutput)
	close(persistIn)
	close(projectionIn)

	persistOut := make(chan persistence.Output, 1)
	projectionOut := make(chan projection.ProjectionOutput, 1)
	bridgeCoreOutputs(persistIn, projectionIn, persistOut, projectionOut, nil, nil)

	if _, ok := <-persistOut; ok {
		t.Error("persist output should be closed")
	}
}

// === Test: Bootstrap ===

func TestBootstrap_ConfiguresFreshPool(t *testing.T) {
	eng, _ := newEngine(t, nil, nil)
	cfg := bootstrapConfig(t)

	if err := bootstrap(context.Background(), cfg, eng, zerolog.Nop()); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if !eng.Configured() {
		t.Fatal("pool not configured")
	}
	if got := len(eng.Policies()); got != 2 {
		t.Errorf("policies: got %d, want 2", got)
	}
	if got := eng.Params().WithdrawDelayWeeks; got != 6 {
		t.Errorf("withdraw delay: got %d, want 6", got)
	}

	// A restart finds the pool configured and adds nothing.
	if err := bootstrap(context.Background(), cfg, eng, zerolog.Nop()); err != nil {
		t.Fatalf("second bootstrap: %v", err)
	}
	if got := len(eng.Policies()); got != 2 {
		t.Errorf("policies after restart: got %d, want 2", got)
	}
}

func TestBootstrap_WithoutManagerWaits(t *testing.T) {
	eng, _ := newEngine(t, nil, nil)
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := bootstrap(context.Background(), cfg, eng, zerolog.Nop()); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if eng.Configured() {
		t.Error("pool configured without a manager")
	}
}

// === Test: Vault holding ===

func TestVaultHolding_MatchesCustody(t *testing.T) {
	eng, wallets := newEngine(t, nil, nil)
	ctx := context.Background()
	cfg := bootstrapConfig(t)
	if err := bootstrap(ctx, cfg, eng, zerolog.Nop()); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}

	provider, buyer := uuid.New(), uuid.New()
	wallets.Mint(provider, fpmath.NewAmount(1000))
	wallets.Mint(buyer, fpmath.NewAmount(100))
	if _, err := eng.Deposit(ctx, provider, fpmath.NewAmount(1000)); err != nil {
		t.Fatalf("Deposit: %v", err)
	}
	if _, err := eng.Buy(ctx, buyer, 0, fpmath.NewAmount(500), 31, 33, fpmath.Zero()); err != nil {
		t.Fatalf("Buy: %v", err)
	}

	if got, want := vaultHolding(eng), wallets.Vault(); !got.Equal(want) {
		t.Errorf("vault holding: got %s, want %s", got, want)
	}
}

// --- Test helpers ---

func newEngine(t *testing.T, persist, proj chan core.CoreOutput) (*core.Engine, *custody.Wallets) {
	t.Helper()
	logger := zerolog.Nop()
	wallets := custody.NewWallets()
	cfg := core.Config{
		DefaultParams: state.DefaultPoolParams(),
		Transfer:      wallets,
		Clock:         clock.NewManualClock(30),
		Logger:        &logger,
	}
	if persist != nil {
		cfg.PersistChan = persist
		cfg.ProjectionChan = proj
	}
	return core.New(cfg), wallets
}

func bootstrapConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	cfg.Pool.Manager = uuid.NewString()
	cfg.Pool.Committee = []string{uuid.NewString(), uuid.NewString()}
	cfg.Pool.Threshold = 2
	cfg.Pool.Params.WithdrawDelayWeeks = 6
	cfg.Policies = []config.PolicyConfig{
		{Name: "bridge hack", CollateralRatio: 500_000, WeeklyPremium: 10_000},
		{Name: "oracle failure", CollateralRatio: 250_000, WeeklyPremium: 5_000},
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	return cfg
}

// drain counts what is left on a channel the bridge has closed.
func drain[T any](ch chan T) int {
	n := 0
	for range ch {
		n++
	}
	return n
}
