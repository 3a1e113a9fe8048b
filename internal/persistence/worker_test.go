package persistence_test

import (
	"CoverPool/internal/observability"
	"CoverPool/internal/persistence"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// === Test: Closing the input flushes the partial batch ===

func TestPersistenceWorker_FlushOnClose(t *testing.T) {
	db, mock := newMockDB(t)
	in := make(chan persistence.Output, 4)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO event_log\.events`).WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(`INSERT INTO event_log\.journal`).WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	w := persistence.NewPersistenceWorker(db, in, 10, time.Hour, nil, zerolog.Nop())

	in <- persistence.NewOutput(sampleCoreOutput(t, 0), time.Now())
	in <- persistence.NewOutput(sampleCoreOutput(t, 1), time.Now())
	close(in)

	if err := runWorker(t, w); err != nil {
		t.Fatalf("Run: got %v, want nil", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

// === Test: A full batch flushes without waiting for the timer ===

func TestPersistenceWorker_FlushOnBatchSize(t *testing.T) {
	db, mock := newMockDB(t)
	in := make(chan persistence.Output, 4)
	reg := prometheus.NewRegistry()
	metrics := observability.NewMetricsWithRegistry(reg)

	for i := 0; i < 2; i++ {
		mock.ExpectBegin()
		mock.ExpectExec(`INSERT INTO event_log\.events`).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`INSERT INTO event_log\.journal`).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()
	}

	w := persistence.NewPersistenceWorker(db, in, 1, time.Hour, metrics, zerolog.Nop())
	in <- persistence.NewOutput(sampleCoreOutput(t, 0), time.Now())
	in <- persistence.NewOutput(sampleCoreOutput(t, 1), time.Now())
	close(in)

	if err := runWorker(t, w); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
	if got := gaugeValue(t, reg, "coverpool_persist_last_sequence"); got != 1 {
		t.Errorf("last sequence gauge: got %v, want 1", got)
	}
}

// === Test: A failed flush is retried until it succeeds ===

func TestPersistenceWorker_RetriesFailedFlush(t *testing.T) {
	db, mock := newMockDB(t)
	in := make(chan persistence.Output, 1)
	reg := prometheus.NewRegistry()
	metrics := observability.NewMetricsWithRegistry(reg)

	mock.ExpectBegin().WillReturnError(errors.New("connection refused"))
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO event_log\.events`).WillReturnError(errors.New("deadlock detected"))
	mock.ExpectRollback()
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO event_log\.events`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO event_log\.journal`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	w := persistence.NewPersistenceWorker(db, in, 1, time.Hour, metrics, zerolog.Nop())
	w.SetBackoff(time.Millisecond, 2*time.Millisecond)

	in <- persistence.NewOutput(sampleCoreOutput(t, 0), time.Now())
	close(in)

	if err := runWorker(t, w); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
	if got := counterValue(t, reg, "coverpool_persist_retry_total"); got != 2 {
		t.Errorf("retries: got %v, want 2", got)
	}
}

// === Test: Cancellation flushes what was buffered ===

func TestPersistenceWorker_FlushOnCancel(t *testing.T) {
	db, mock := newMockDB(t)
	in := make(chan persistence.Output, 1)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO event_log\.events`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO event_log\.journal`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	w := persistence.NewPersistenceWorker(db, in, 10, time.Hour, nil, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	in <- persistence.NewOutput(sampleCoreOutput(t, 0), time.Now())
	// The worker has taken the output once the channel has room again.
	deadline := time.Now().Add(2 * time.Second)
	for len(in) > 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run: got %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

// --- Test helpers ---

func runWorker(t *testing.T, w *persistence.PersistenceWorker) error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- w.Run(context.Background()) }()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop")
		return nil
	}
}

func counterValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		var total float64
		for _, m := range f.GetMetric() {
			total += m.GetCounter().GetValue()
		}
		return total
	}
	return 0
}

func gaugeValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, f := range families {
		if f.GetName() == name && len(f.GetMetric()) > 0 {
			return f.GetMetric()[0].GetGauge().GetValue()
		}
	}
	return 0
}
