package persistence_test

import (
	"CoverPool/internal/core"
	"CoverPool/internal/event"
	"CoverPool/internal/ledger"
	fpmath "CoverPool/internal/math"
	"CoverPool/internal/persistence"
	"context"
	"database/sql"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
)

// === Test: NewOutput converts envelope and journals ===

func TestNewOutput(t *testing.T) {
	out := sampleCoreOutput(t, 3)
	appliedAt := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	o := persistence.NewOutput(out, appliedAt)

	if o.EventRow.Sequence != 3 {
		t.Errorf("sequence: got %d, want 3", o.EventRow.Sequence)
	}
	if o.EventRow.CommandType != event.CommandTypeDeposit.String() {
		t.Errorf("command type: got %s, want %s", o.EventRow.CommandType, event.CommandTypeDeposit)
	}
	if o.EventRow.Caller != out.Envelope.Caller.String() {
		t.Errorf("caller: got %s, want %s", o.EventRow.Caller, out.Envelope.Caller)
	}
	if len(o.EventRow.StateHash) != 32 || o.EventRow.StateHash[0] != 0xaa {
		t.Errorf("state hash not copied: %x", o.EventRow.StateHash)
	}
	if !o.EventRow.AppliedAt.Equal(appliedAt) {
		t.Errorf("applied_at: got %v, want %v", o.EventRow.AppliedAt, appliedAt)
	}
	if len(o.JournalRows) != 1 {
		t.Fatalf("journals: got %d, want 1", len(o.JournalRows))
	}
	j := o.JournalRows[0]
	if j.Amount != "250.5" {
		t.Errorf("amount: got %s, want 250.5", j.Amount)
	}
	if j.DebitAccount != "system:capital" {
		t.Errorf("debit account: got %s, want system:capital", j.DebitAccount)
	}
	if !strings.HasSuffix(j.CreditAccount, ":wallet") {
		t.Errorf("credit account: got %s, want a wallet path", j.CreditAccount)
	}
}

// === Test: Batch writers build one multi-row INSERT ===

func TestEventLogWriter_WriteEventBatch(t *testing.T) {
	db, mock := newMockDB(t)
	w := persistence.NewEventLogWriter(db)

	rows := []persistence.EventRow{
		persistence.NewOutput(sampleCoreOutput(t, 0), time.Now()).EventRow,
		persistence.NewOutput(sampleCoreOutput(t, 1), time.Now()).EventRow,
	}

	mock.ExpectExec(`INSERT INTO event_log\.events .* \(\$10, \$11, .*\$18\) ON CONFLICT \(sequence\) DO NOTHING`).
		WillReturnResult(sqlmock.NewResult(0, 2))

	if err := w.WriteEventBatch(context.Background(), db, rows); err != nil {
		t.Fatalf("WriteEventBatch: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestEventLogWriter_WriteJournalBatch(t *testing.T) {
	db, mock := newMockDB(t)
	w := persistence.NewEventLogWriter(db)

	o := persistence.NewOutput(sampleCoreOutput(t, 0), time.Now())
	j := o.JournalRows[0]

	mock.ExpectExec(`INSERT INTO event_log\.journal`).
		WithArgs(j.JournalID, j.BatchID, j.EventRef, j.Sequence,
			j.DebitAccount, j.CreditAccount, "250.5", j.JournalType, j.Week).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := w.WriteJournalBatch(context.Background(), db, o.JournalRows); err != nil {
		t.Fatalf("WriteJournalBatch: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestEventLogWriter_EmptyBatchIsNoop(t *testing.T) {
	db, mock := newMockDB(t)
	w := persistence.NewEventLogWriter(db)

	if err := w.WriteEventBatch(context.Background(), db, nil); err != nil {
		t.Errorf("empty events: %v", err)
	}
	if err := w.WriteJournalBatch(context.Background(), db, nil); err != nil {
		t.Errorf("empty journals: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

// --- Test helpers ---

func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db, mock
}

// sampleCoreOutput is a deposit of 250.5 from a fresh wallet.
func sampleCoreOutput(t *testing.T, seq int64) core.CoreOutput {
	t.Helper()
	caller := uuid.New()
	var stateHash [32]byte
	stateHash[0] = 0xaa

	amount := fpmath.MustParseAmount("250.5")
	bctx := ledger.BatchContext{EventRef: uuid.NewString(), Sequence: seq, Week: 7}
	batch := ledger.NewJournalGenerator().GenerateDeposit(bctx, caller, amount)

	return core.CoreOutput{
		Envelope: &event.EventEnvelope{
			Sequence:       seq,
			IdempotencyKey: uuid.NewString(),
			CommandType:    event.CommandTypeDeposit,
			Caller:         caller,
			Week:           7,
			Payload:        []byte(`{"amount":"250.5"}`),
			StateHash:      stateHash,
		},
		Batch: batch,
	}
}
