package core

import (
	"CoverPool/internal/event"
	"CoverPool/internal/ledger"
	fpmath "CoverPool/internal/math"
	"CoverPool/internal/state"
	"context"
	"fmt"
	"sort"
)

// BalanceEntry is one journal account balance in a snapshot.
type BalanceEntry struct {
	Account string        `json:"account"`
	Balance fpmath.Amount `json:"balance"`
}

// SnapshotState holds the serializable in-memory state for restore.
type SnapshotState struct {
	// Last applied sequence, -1 when nothing was applied
	Sequence  int64    `json:"sequence"`
	StateHash [32]byte `json:"state_hash"`

	Configured bool             `json:"configured"`
	Params     state.PoolParams `json:"params"`
	LastWeek   int64            `json:"last_week"`
	WeekSeen   bool             `json:"week_seen"`

	Balances    []BalanceEntry           `json:"balances"`
	Capital     state.CapitalSnapshot    `json:"capital"`
	Withdrawals []state.WithdrawalRequest `json:"withdrawals"`
	Policies    state.PolicyBookSnapshot `json:"policies"`
	Governance  state.GovernanceSnapshot `json:"governance"`

	IdempotencyKeys []string `json:"idempotency_keys"`
}

// CreateSnapshotState captures the current in-memory state for persistence.
func (e *Engine) CreateSnapshotState() (*SnapshotState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.captureLocked()
}

func (e *Engine) captureLocked() (*SnapshotState, error) {
	gov, err := e.governance.Snapshot()
	if err != nil {
		return nil, fmt.Errorf("snapshot governance: %w", err)
	}

	balances := e.balances.Snapshot()
	entries := make([]BalanceEntry, 0, len(balances))
	for key, bal := range balances {
		entries = append(entries, BalanceEntry{Account: key.AccountPath(), Balance: bal})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Account < entries[j].Account
	})

	lastWeek, seen := e.weeks.LastWeek()

	return &SnapshotState{
		Sequence:        e.sequence - 1,
		StateHash:       e.hasher.GetPrevHash(),
		Configured:      e.configured,
		Params:          e.params,
		LastWeek:        lastWeek,
		WeekSeen:        seen,
		Balances:        entries,
		Capital:         e.capital.Snapshot(),
		Withdrawals:     e.withdrawals.Snapshot(),
		Policies:        e.book.Snapshot(),
		Governance:      gov,
		IdempotencyKeys: e.idempotency.lru.Keys(),
	}, nil
}

// RestoreFromSnapshot replaces the engine's state with snap. On warm
// restart: load latest snapshot, then Replay the events after it. The
// restored state must satisfy the same invariants a command leaves; a
// snapshot that does not is rejected and the engine keeps its prior state.
func (e *Engine) RestoreFromSnapshot(snap *SnapshotState) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	prev, err := e.captureLocked()
	if err != nil {
		return fmt.Errorf("restore: %w", err)
	}
	if err := e.restoreLocked(snap); err != nil {
		e.rollbackLocked(prev)
		return err
	}
	if err := e.postCheckInvariants(); err != nil {
		e.rollbackLocked(prev)
		return fmt.Errorf("restored state inconsistent: %w", err)
	}
	if err := e.validator.ValidateGlobalBalance(); err != nil {
		e.rollbackLocked(prev)
		return fmt.Errorf("restored state inconsistent: %w", err)
	}

	e.idempotency.lru.WarmFromKeys(snap.IdempotencyKeys)
	return nil
}

// restoreLocked loads snap into the components. Balances are parsed
// before anything is replaced.
func (e *Engine) restoreLocked(snap *SnapshotState) error {
	balances := make(map[ledger.AccountKey]fpmath.Amount, len(snap.Balances))
	for _, b := range snap.Balances {
		key, err := ledger.ParseAccountPath(b.Account)
		if err != nil {
			return fmt.Errorf("restore balances: %w", err)
		}
		balances[key] = b.Balance
	}

	if err := e.governance.Restore(snap.Governance); err != nil {
		return fmt.Errorf("restore governance: %w", err)
	}
	e.balances.Restore(balances)
	e.capital.Restore(snap.Capital)
	e.withdrawals.Restore(snap.Withdrawals)
	e.book.Restore(snap.Policies)

	e.sequence = snap.Sequence + 1
	e.hasher.SetPrevHash(snap.StateHash)
	e.configured = snap.Configured
	e.params = snap.Params
	e.weeks.Restore(snap.LastWeek, snap.WeekSeen)
	return nil
}

// rollbackLocked puts back state captured from this engine, which was
// consistent when taken.
func (e *Engine) rollbackLocked(prev *SnapshotState) {
	if err := e.restoreLocked(prev); err != nil {
		e.logger.Error().Err(err).Msg("rollback after failed restore")
	}
}

// WarmLRU loads recent idempotency keys (oldest first) into the LRU.
func (e *Engine) WarmLRU(keys []string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.idempotency.lru.WarmFromKeys(keys)
}

// Replay re-applies an envelope from the event log during recovery.
// Transfers are skipped and nothing is emitted. The recomputed state
// hash must match the logged one.
func (e *Engine) Replay(ctx context.Context, env *event.EventEnvelope) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if env.Sequence != e.sequence {
		return fmt.Errorf("replay gap: expected sequence %d, got %d", e.sequence, env.Sequence)
	}

	cmd, err := event.DecodeEnvelope(env)
	if err != nil {
		return fmt.Errorf("replay seq %d: %w", env.Sequence, err)
	}

	e.replaying = true
	defer func() { e.replaying = false }()

	res, err := e.process(ctx, cmd)
	if err != nil {
		return fmt.Errorf("replay seq %d: %w", env.Sequence, err)
	}
	if res.Duplicate {
		return fmt.Errorf("replay seq %d: command %s already applied", env.Sequence, env.IdempotencyKey)
	}
	if res.StateHash != env.StateHash {
		return fmt.Errorf("replay seq %d: state hash mismatch: got %x, logged %x", env.Sequence, res.StateHash, env.StateHash)
	}
	if e.metrics != nil {
		e.metrics.ReplayEventsTotal.Inc()
	}
	return nil
}
