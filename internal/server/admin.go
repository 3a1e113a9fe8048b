package server

import (
	"CoverPool/internal/observability"
	"CoverPool/internal/persistence"
	"CoverPool/internal/projection"
	"context"
	"database/sql"

	"github.com/rs/zerolog"
)

// Admin is the operator surface behind /v1/admin.
type Admin interface {
	// TakeSnapshot persists a verified snapshot and returns its sequence,
	// -1 when nothing has been applied yet.
	TakeSnapshot(ctx context.Context) (int64, error)
	RebuildProjections(ctx context.Context) error
	LatestSequence(ctx context.Context) (int64, error)
}

// StoreAdmin implements Admin over the Postgres event store.
type StoreAdmin struct {
	db        *sql.DB
	snapshots *persistence.SnapshotManager
	source    persistence.SnapshotSource
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

func NewStoreAdmin(db *sql.DB, source persistence.SnapshotSource, metrics *observability.Metrics, logger zerolog.Logger) *StoreAdmin {
	return &StoreAdmin{
		db:        db,
		snapshots: persistence.NewSnapshotManager(db),
		source:    source,
		metrics:   metrics,
		logger:    logger,
	}
}

func (a *StoreAdmin) TakeSnapshot(ctx context.Context) (int64, error) {
	snap, err := persistence.TakeSnapshot(ctx, a.source, a.snapshots, a.metrics)
	if err != nil {
		return 0, err
	}
	if snap == nil {
		return -1, nil
	}
	a.logger.Info().Int64("sequence", snap.Sequence).Msg("snapshot taken on request")
	return snap.Sequence, nil
}

func (a *StoreAdmin) RebuildProjections(ctx context.Context) error {
	return projection.RebuildProjections(ctx, a.db, a.logger)
}

func (a *StoreAdmin) LatestSequence(ctx context.Context) (int64, error) {
	return a.snapshots.GetLatestSequence(ctx)
}
