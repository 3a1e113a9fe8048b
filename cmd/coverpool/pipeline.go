package main

import (
	"CoverPool/internal/config"
	"CoverPool/internal/core"
	"CoverPool/internal/ingestion"
	"CoverPool/internal/ledger"
	fpmath "CoverPool/internal/math"
	"CoverPool/internal/observability"
	"CoverPool/internal/persistence"
	"CoverPool/internal/projection"
	"CoverPool/internal/state"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// bridgeCoreOutputs converts engine outputs into the persistence,
// projection and outbound forms. Persistence is fed blocking; projection
// and publishing drop when their consumer falls behind. It returns once
// both inputs are closed, closing its outputs.
func bridgeCoreOutputs(
	persistIn <-chan core.CoreOutput,
	projectionIn <-chan core.CoreOutput,
	persistOut chan<- persistence.Output,
	projectionOut chan<- projection.ProjectionOutput,
	publishOut chan<- ingestion.PublishableEvent,
	metrics *observability.Metrics,
) {
	defer close(persistOut)
	defer close(projectionOut)
	if publishOut != nil {
		defer close(publishOut)
	}

	for persistIn != nil || projectionIn != nil {
		select {
		case out, ok := <-persistIn:
			if !ok {
				persistIn = nil
				continue
			}
			persistOut <- persistence.NewOutput(out, time.Now())

			if publishOut != nil {
				select {
				case publishOut <- ingestion.NewPublishableEvent(out):
				default:
					if metrics != nil {
						metrics.PublishDrops.Inc()
					}
				}
			}

		case out, ok := <-projectionIn:
			if !ok {
				projectionIn = nil
				continue
			}
			select {
			case projectionOut <- projection.NewProjectionOutput(out):
			default:
				if metrics != nil {
					metrics.ProjectionDrops.WithLabelValues("bridge").Inc()
				}
			}
		}
	}
}

// PoolEngine is the part of the engine the daemon bootstraps and reads
// the pool's holdings from.
type PoolEngine interface {
	Configured() bool
	Policies() []core.PolicyView
	Balance(key ledger.AccountKey) fpmath.Amount
	Setup(ctx context.Context, manager uuid.UUID, committee []uuid.UUID, threshold int, params *state.PoolParams) error
	AddPolicy(ctx context.Context, caller uuid.UUID, ratio, premium fpmath.Rate, name, terms string) (int64, error)
}

// bootstrap configures a fresh pool from the config file: Setup with the
// configured manager and committee, then every listed policy. A pool
// that is already configured (restored from the log) is left alone.
func bootstrap(ctx context.Context, cfg *config.Config, eng PoolEngine, logger zerolog.Logger) error {
	manager := cfg.ManagerID()
	if manager == uuid.Nil {
		if !eng.Configured() {
			logger.Warn().Msg("pool not configured and no pool.manager set; waiting for a Setup command")
		}
		return nil
	}
	if eng.Configured() {
		return nil
	}

	committee, err := cfg.CommitteeIDs()
	if err != nil {
		return err
	}
	params, err := cfg.PoolParams()
	if err != nil {
		return err
	}
	if err := eng.Setup(ctx, manager, committee, cfg.Pool.Threshold, &params); err != nil {
		return fmt.Errorf("setup: %w", err)
	}
	for _, p := range cfg.Policies {
		id, err := eng.AddPolicy(ctx, manager, p.CollateralRatio, p.WeeklyPremium, p.Name, p.Terms)
		if err != nil {
			return fmt.Errorf("add policy %q: %w", p.Name, err)
		}
		logger.Info().Int64("policy_id", id).Str("name", p.Name).Msg("policy added")
	}
	logger.Info().
		Str("manager", manager.String()).
		Int("committee", len(committee)).
		Int("policies", len(cfg.Policies)).
		Msg("pool bootstrapped")
	return nil
}

// vaultHolding is what the pool holds according to its journal: the sum
// of the system accounts.
func vaultHolding(eng PoolEngine) fpmath.Amount {
	total := fpmath.Zero()
	for _, key := range []ledger.AccountKey{ledger.CapitalAccount, ledger.PremiumEscrowAccount, ledger.RefundReserveAccount} {
		total = total.Add(eng.Balance(key))
	}
	return total
}

// finalSnapshot saves a snapshot only when the event log holds every
// applied command; a snapshot ahead of the log could not be replayed
// onto.
func finalSnapshot(ctx context.Context, src persistence.SnapshotSource, sm *persistence.SnapshotManager, metrics *observability.Metrics, logger zerolog.Logger) error {
	head, err := sm.GetLatestSequence(ctx)
	if err != nil {
		return fmt.Errorf("read log head: %w", err)
	}
	if applied := src.GetSequence() - 1; head != applied {
		return fmt.Errorf("event log at %d but engine applied %d", head, applied)
	}
	snap, err := persistence.TakeSnapshot(ctx, src, sm, metrics)
	if err != nil {
		return err
	}
	if snap != nil {
		logger.Info().Int64("sequence", snap.Sequence).Msg("final snapshot saved")
	}
	return nil
}

// waitTimeout waits for wg, giving up after d. It reports whether wg
// finished.
func waitTimeout(wg *sync.WaitGroup, d time.Duration) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(d):
		return false
	}
}
