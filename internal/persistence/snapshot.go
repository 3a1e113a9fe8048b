package persistence

import (
	"CoverPool/internal/core"
	"CoverPool/internal/event"
	"CoverPool/internal/observability"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// snapshotFormatVersion 1: JSON-encoded core.SnapshotState.
const snapshotFormatVersion = 1

// SnapshotManager stores engine snapshots and reads the event log back
// for recovery.
type SnapshotManager struct {
	db *sql.DB
}

func NewSnapshotManager(db *sql.DB) *SnapshotManager {
	return &SnapshotManager{db: db}
}

// SaveSnapshot persists a snapshot. It stays unverified until
// MarkVerified; only verified snapshots are used for recovery.
func (sm *SnapshotManager) SaveSnapshot(ctx context.Context, snap *core.SnapshotState) (int, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return 0, fmt.Errorf("marshal snapshot: %w", err)
	}

	_, err = sm.db.ExecContext(ctx, `
		INSERT INTO event_log.snapshots
			(snapshot_id, sequence, data, state_hash, format_version, size_bytes, verified, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7)
		ON CONFLICT (sequence) DO UPDATE SET data = $3, state_hash = $4, size_bytes = $6
	`, uuid.New(), snap.Sequence, string(data), snap.StateHash[:], snapshotFormatVersion, len(data), time.Now())
	if err != nil {
		return 0, fmt.Errorf("save snapshot: %w", err)
	}
	return len(data), nil
}

// LoadLatestSnapshot loads the most recent verified snapshot. A nil
// snapshot with nil error means cold start.
func (sm *SnapshotManager) LoadLatestSnapshot(ctx context.Context) (*core.SnapshotState, error) {
	row := sm.db.QueryRowContext(ctx, `
		SELECT data, format_version FROM event_log.snapshots
		WHERE verified = TRUE
		ORDER BY sequence DESC
		LIMIT 1
	`)

	var (
		data    []byte
		version int
	)
	if err := row.Scan(&data, &version); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	if version != snapshotFormatVersion {
		return nil, fmt.Errorf("load snapshot: unsupported format version %d", version)
	}

	var snap core.SnapshotState
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

// MarkVerified marks a snapshot as verified after integrity check.
func (sm *SnapshotManager) MarkVerified(ctx context.Context, sequence int64) error {
	_, err := sm.db.ExecContext(ctx, `
		UPDATE event_log.snapshots SET verified = TRUE WHERE sequence = $1
	`, sequence)
	return err
}

// LoadEventsFrom loads up to limit envelopes starting at fromSequence.
func (sm *SnapshotManager) LoadEventsFrom(ctx context.Context, fromSequence int64, limit int) ([]*event.EventEnvelope, error) {
	rows, err := sm.db.QueryContext(ctx, `
		SELECT sequence, command_type, idempotency_key, caller, week, payload, state_hash, prev_hash
		FROM event_log.events
		WHERE sequence >= $1
		ORDER BY sequence ASC
		LIMIT $2
	`, fromSequence, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var envelopes []*event.EventEnvelope
	for rows.Next() {
		var (
			env                 event.EventEnvelope
			commandType, caller string
			stateHash, prevHash []byte
		)
		if err := rows.Scan(
			&env.Sequence, &commandType, &env.IdempotencyKey, &caller, &env.Week,
			&env.Payload, &stateHash, &prevHash,
		); err != nil {
			return nil, err
		}
		env.CommandType = event.ParseCommandType(commandType)
		if env.CommandType == event.CommandTypeUnknown {
			return nil, fmt.Errorf("event %d: unknown command type %q", env.Sequence, commandType)
		}
		if env.Caller, err = uuid.Parse(caller); err != nil {
			return nil, fmt.Errorf("event %d: caller: %w", env.Sequence, err)
		}
		if len(stateHash) != 32 || len(prevHash) != 32 {
			return nil, fmt.Errorf("event %d: malformed hash", env.Sequence)
		}
		copy(env.StateHash[:], stateHash)
		copy(env.PrevHash[:], prevHash)
		envelopes = append(envelopes, &env)
	}

	return envelopes, rows.Err()
}

// GetLatestSequence returns the highest sequence in the event log, or
// -1 when the log is empty.
func (sm *SnapshotManager) GetLatestSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := sm.db.QueryRowContext(ctx, `
		SELECT MAX(sequence) FROM event_log.events
	`).Scan(&seq)
	if err != nil {
		return 0, err
	}
	if !seq.Valid {
		return -1, nil
	}
	return seq.Int64, nil
}

// --- Recovery ---

// Recoverable is the engine surface recovery needs.
type Recoverable interface {
	RestoreFromSnapshot(snap *core.SnapshotState) error
	Replay(ctx context.Context, env *event.EventEnvelope) error
	GetSequence() int64
	GetStateHash() [32]byte
}

// RecoveryStats summarizes one warm or cold restart.
type RecoveryStats struct {
	SnapshotSequence int64 // -1 on cold start
	Replayed         int64
	Duration         time.Duration
}

// Recover restores the latest verified snapshot, if any, then replays
// the event log after it. Any hash mismatch aborts.
func Recover(ctx context.Context, sm *SnapshotManager, eng Recoverable, batchSize int, metrics *observability.Metrics, logger zerolog.Logger) (RecoveryStats, error) {
	start := time.Now()
	stats := RecoveryStats{SnapshotSequence: -1}

	snap, err := sm.LoadLatestSnapshot(ctx)
	if err != nil {
		return stats, err
	}
	if snap != nil {
		if err := eng.RestoreFromSnapshot(snap); err != nil {
			return stats, err
		}
		stats.SnapshotSequence = snap.Sequence
		logger.Info().Int64("sequence", snap.Sequence).Msg("restored snapshot")
	} else {
		logger.Info().Msg("no snapshot found, cold start from sequence 0")
	}

	if batchSize <= 0 {
		batchSize = 1000
	}
	from := eng.GetSequence()
	for {
		envelopes, err := sm.LoadEventsFrom(ctx, from, batchSize)
		if err != nil {
			return stats, fmt.Errorf("load events from seq %d: %w", from, err)
		}
		if len(envelopes) == 0 {
			break
		}
		for _, env := range envelopes {
			if err := eng.Replay(ctx, env); err != nil {
				return stats, err
			}
			stats.Replayed++
		}
		from = envelopes[len(envelopes)-1].Sequence + 1
	}

	stats.Duration = time.Since(start)
	if metrics != nil {
		metrics.ReplayDuration.Set(stats.Duration.Seconds())
	}
	logger.Info().
		Int64("replayed", stats.Replayed).
		Int64("sequence", eng.GetSequence()).
		Dur("duration", stats.Duration).
		Msg("recovery complete")
	return stats, nil
}

// --- Snapshot scheduling ---

// SnapshotSource captures the engine state.
type SnapshotSource interface {
	CreateSnapshotState() (*core.SnapshotState, error)
	GetSequence() int64
}

// TakeSnapshot captures and persists a snapshot taken from live state,
// so it is marked verified right away.
func TakeSnapshot(ctx context.Context, src SnapshotSource, sm *SnapshotManager, metrics *observability.Metrics) (*core.SnapshotState, error) {
	start := time.Now()

	snap, err := src.CreateSnapshotState()
	if err != nil {
		return nil, fmt.Errorf("create snapshot: %w", err)
	}
	if snap.Sequence < 0 {
		return nil, nil
	}
	size, err := sm.SaveSnapshot(ctx, snap)
	if err != nil {
		return nil, err
	}
	if err := sm.MarkVerified(ctx, snap.Sequence); err != nil {
		return nil, fmt.Errorf("mark snapshot verified: %w", err)
	}

	if metrics != nil {
		metrics.SnapshotTaken.Inc()
		metrics.SnapshotDuration.Observe(time.Since(start).Seconds())
		metrics.SnapshotSizeBytes.Set(float64(size))
		metrics.SnapshotLastSeq.Set(float64(snap.Sequence))
	}
	return snap, nil
}

// RunPeriodicSnapshots snapshots every interval applied commands,
// checking every tick.
func RunPeriodicSnapshots(ctx context.Context, src SnapshotSource, sm *SnapshotManager, interval int64, tick time.Duration, metrics *observability.Metrics, logger zerolog.Logger) {
	if interval <= 0 {
		interval = 10_000
	}
	last := src.GetSequence()
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			current := src.GetSequence()
			if current-last < interval {
				continue
			}
			if _, err := TakeSnapshot(ctx, src, sm, metrics); err != nil {
				logger.Warn().Err(err).Msg("periodic snapshot failed")
				continue
			}
			last = current
			logger.Info().Int64("sequence", current).Msg("periodic snapshot")
		}
	}
}
