package ingestion_test

import (
	"CoverPool/internal/clock"
	"CoverPool/internal/core"
	"CoverPool/internal/custody"
	"CoverPool/internal/ingestion"
	fpmath "CoverPool/internal/math"
	"CoverPool/internal/state"
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

func TestCommandService_SubmitFlow(t *testing.T) {
	svc, wallets, clk := newService(t)
	ctx := context.Background()
	manager := uuid.New()
	provider := uuid.New()
	wallets.Mint(provider, fpmath.NewAmount(1000))

	if _, err := svc.Submit(ctx, "Setup", body(t, map[string]interface{}{
		"command_id": uuid.NewString(),
		"caller":     manager.String(),
		"manager":    manager.String(),
		"committee":  []string{uuid.NewString(), uuid.NewString()},
	})); err != nil {
		t.Fatalf("Setup: %v", err)
	}

	res, err := svc.Submit(ctx, "AddPolicy", body(t, map[string]interface{}{
		"command_id":       uuid.NewString(),
		"caller":           manager.String(),
		"collateral_ratio": 500_000,
		"weekly_premium":   10_000,
		"name":             "oracle failure",
	}))
	if err != nil {
		t.Fatalf("AddPolicy: %v", err)
	}
	if res.PolicyID == nil || *res.PolicyID != 0 {
		t.Errorf("policy id: got %v, want 0", res.PolicyID)
	}
	if res.Week != clk.CurrentWeek() {
		t.Errorf("week: got %d, want %d", res.Week, clk.CurrentWeek())
	}

	depositID := uuid.NewString()
	deposit := body(t, map[string]interface{}{
		"command_id": depositID,
		"caller":     provider.String(),
		"amount":     "400",
	})
	res, err = svc.Submit(ctx, "Deposit", deposit)
	if err != nil {
		t.Fatalf("Deposit: %v", err)
	}
	if res.Shares == nil || res.Shares.String() != "400" {
		t.Errorf("shares: got %v, want 400", res.Shares)
	}
	if res.Sequence != 2 || len(res.StateHash) != 64 {
		t.Errorf("got sequence=%d hash=%q", res.Sequence, res.StateHash)
	}

	res, err = svc.Submit(ctx, "Deposit", deposit)
	if err != nil {
		t.Fatalf("duplicate Deposit: %v", err)
	}
	if !res.Duplicate || res.CommandID != depositID {
		t.Errorf("got %+v, want duplicate of %s", res, depositID)
	}
	if got := wallets.BalanceOf(provider); got.String() != "600" {
		t.Errorf("wallet: got %s, want 600 (duplicate must not transfer)", got)
	}
}

func TestCommandService_Errors(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	if _, err := svc.Submit(ctx, "Liquidate", []byte(`{}`)); !errors.Is(err, ingestion.ErrUnknownCommand) {
		t.Errorf("got %v, want ErrUnknownCommand", err)
	}
	if _, err := svc.Submit(ctx, "Deposit", []byte(`not json`)); !errors.Is(err, ingestion.ErrMalformed) {
		t.Errorf("got %v, want ErrMalformed", err)
	}

	_, err := svc.Submit(ctx, "Deposit", body(t, map[string]interface{}{
		"command_id": uuid.NewString(),
		"caller":     uuid.NewString(),
		"amount":     "1",
	}))
	if !errors.Is(err, state.ErrNotConfigured) {
		t.Errorf("got %v, want ErrNotConfigured", err)
	}
}

// --- Test helpers ---

func newService(t *testing.T) (*ingestion.CommandService, *custody.Wallets, *clock.ManualClock) {
	t.Helper()
	wallets := custody.NewWallets()
	clk := clock.NewManualClock(30)
	logger := zerolog.Nop()
	engine := core.New(core.Config{
		DefaultParams: state.DefaultPoolParams(),
		Transfer:      wallets,
		Clock:         clk,
		Logger:        &logger,
	})
	return ingestion.NewCommandService(engine, clk, nil, logger), wallets, clk
}
