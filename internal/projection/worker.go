package projection

import (
	"CoverPool/internal/core"
	"CoverPool/internal/observability"
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// ProjectionOutput mirrors the data needed by projection workers.
// The orchestrator bridges between core.CoreOutput and this.
type ProjectionOutput struct {
	Sequence       int64
	CommandType    string
	Week           int64
	JournalEntries []JournalEntry
}

// JournalEntry is a simplified journal for projection consumption.
type JournalEntry struct {
	DebitAccount  string
	CreditAccount string
	Amount        string // exact decimal
	JournalType   string
}

// NewProjectionOutput flattens an engine output.
func NewProjectionOutput(out core.CoreOutput) ProjectionOutput {
	p := ProjectionOutput{
		Sequence:    out.Envelope.Sequence,
		CommandType: out.Envelope.CommandType.String(),
		Week:        out.Envelope.Week,
	}
	if out.Batch != nil {
		p.JournalEntries = make([]JournalEntry, 0, len(out.Batch.Journals))
		for _, j := range out.Batch.Journals {
			p.JournalEntries = append(p.JournalEntries, JournalEntry{
				DebitAccount:  j.DebitAccount.AccountPath(),
				CreditAccount: j.CreditAccount.AccountPath(),
				Amount:        j.Amount.String(),
				JournalType:   j.JournalType.String(),
			})
		}
	}
	return p
}

// ProjectionWorker updates projection tables from processed commands.
// The projection channel is non-blocking with drop; if projections fall
// behind they can be rebuilt from the event log.
type ProjectionWorker struct {
	db        *sql.DB
	inputChan <-chan ProjectionOutput
	metrics   *observability.Metrics
	logger    zerolog.Logger
	lastSeq   int64
}

func NewProjectionWorker(db *sql.DB, inputChan <-chan ProjectionOutput, metrics *observability.Metrics, logger zerolog.Logger) *ProjectionWorker {
	return &ProjectionWorker{
		db:        db,
		inputChan: inputChan,
		metrics:   metrics,
		logger:    logger,
		lastSeq:   -1,
	}
}

// LastSequence is the last sequence the worker attempted.
func (pw *ProjectionWorker) LastSequence() int64 {
	return pw.lastSeq
}

// Run starts the projection worker loop.
func (pw *ProjectionWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				return nil
			}

			if output.Sequence <= pw.lastSeq {
				continue
			}
			if pw.lastSeq >= 0 && output.Sequence != pw.lastSeq+1 {
				// Outputs were dropped upstream; balances are stale until rebuilt.
				pw.logger.Warn().
					Int64("last_sequence", pw.lastSeq).
					Int64("sequence", output.Sequence).
					Msg("projection gap")
			}

			start := time.Now()
			if err := pw.ProcessOutput(ctx, output); err != nil {
				// Projections are eventually consistent and can be rebuilt.
				pw.logger.Warn().Err(err).Int64("sequence", output.Sequence).Msg("projection update failed")
			} else if pw.metrics != nil {
				pw.metrics.ProjectionUpdateDur.WithLabelValues("balances").Observe(time.Since(start).Seconds())
			}

			pw.lastSeq = output.Sequence
		}
	}
}

// ProcessOutput applies one output's journals and the watermark in a
// single transaction.
func (pw *ProjectionWorker) ProcessOutput(ctx context.Context, output ProjectionOutput) error {
	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, j := range output.JournalEntries {
		if err := updateBalanceProjection(ctx, tx, j, output.Sequence); err != nil {
			return fmt.Errorf("balance projection: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (worker_id, last_sequence, updated_at)
		VALUES ('main', $1, NOW())
		ON CONFLICT (worker_id) DO UPDATE SET last_sequence = $1, updated_at = NOW()
	`, output.Sequence); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}

	return tx.Commit()
}

func updateBalanceProjection(ctx context.Context, tx *sql.Tx, j JournalEntry, seq int64) error {
	// Debit account: increase balance
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, balance, last_sequence, updated_at)
		VALUES ($1, $2::numeric, $3, NOW())
		ON CONFLICT (account_path)
		DO UPDATE SET balance = projections.balances.balance + $2::numeric, last_sequence = $3, updated_at = NOW()
	`, j.DebitAccount, j.Amount, seq); err != nil {
		return err
	}

	// Credit account: decrease balance
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, balance, last_sequence, updated_at)
		VALUES ($1, -$2::numeric, $3, NOW())
		ON CONFLICT (account_path)
		DO UPDATE SET balance = projections.balances.balance - $2::numeric, last_sequence = $3, updated_at = NOW()
	`, j.CreditAccount, j.Amount, seq); err != nil {
		return err
	}

	return nil
}

// RebuildProjections rebuilds the projection tables from the journal.
func RebuildProjections(ctx context.Context, db *sql.DB, logger zerolog.Logger) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		`TRUNCATE projections.balances`,
		`DELETE FROM projections.watermark WHERE worker_id = 'main'`,
	} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("truncate failed: %w", err)
		}
	}

	// Debits add, credits subtract.
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, balance, last_sequence, updated_at)
		SELECT account_path, SUM(delta), MAX(sequence), NOW()
		FROM (
			SELECT debit_account AS account_path, amount AS delta, sequence FROM event_log.journal
			UNION ALL
			SELECT credit_account AS account_path, -amount AS delta, sequence FROM event_log.journal
		) legs
		GROUP BY account_path
	`); err != nil {
		return fmt.Errorf("rebuild balances: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (worker_id, last_sequence, updated_at)
		SELECT 'main', MAX(sequence), NOW() FROM event_log.events HAVING MAX(sequence) IS NOT NULL
	`); err != nil {
		return fmt.Errorf("rebuild watermark: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	logger.Info().Msg("projection rebuild complete")
	return nil
}
