package recorder

import (
	fpmath "CoverPool/internal/math"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

// SQLiteRecorder writes weekly history to a local SQLite file. Amounts
// are stored as decimal text so no precision is lost.
type SQLiteRecorder struct {
	db *sql.DB
	mu sync.Mutex
}

// NewSQLiteRecorder opens (or creates) the database and its tables.
func NewSQLiteRecorder(dbPath string, logger zerolog.Logger) (*SQLiteRecorder, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// Dashboards read while the keeper writes
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	r := &SQLiteRecorder{db: db}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	logger.Info().Str("path", dbPath).Msg("sqlite recorder opened")
	return r, nil
}

func (r *SQLiteRecorder) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS weekly_stats (
			id                  INTEGER PRIMARY KEY AUTOINCREMENT,
			recorded_at         INTEGER NOT NULL,
			week                INTEGER NOT NULL,
			sequence            INTEGER NOT NULL,
			collateral          TEXT NOT NULL,
			total_shares        TEXT NOT NULL,
			amount_per_share    TEXT NOT NULL,
			escrowed_premium    TEXT NOT NULL,
			outstanding_refunds TEXT NOT NULL,
			providers           INTEGER NOT NULL,
			policies            INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_weekly_week ON weekly_stats(week)`,

		`CREATE TABLE IF NOT EXISTS accruals (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			recorded_at  INTEGER NOT NULL,
			week         INTEGER NOT NULL,
			policy_id    INTEGER NOT NULL,
			through_week INTEGER NOT NULL,
			premium      TEXT NOT NULL,
			refund       TEXT NOT NULL,
			pool         TEXT NOT NULL,
			fee1         TEXT NOT NULL,
			fee2         TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_accruals_policy ON accruals(policy_id, week)`,

		`CREATE TABLE IF NOT EXISTS withdrawals (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			recorded_at INTEGER NOT NULL,
			week        INTEGER NOT NULL,
			provider    TEXT NOT NULL,
			phase       TEXT NOT NULL,
			net         TEXT NOT NULL,
			fee         TEXT NOT NULL
		)`,
	}

	for _, s := range stmts {
		if _, err := r.db.Exec(s); err != nil {
			return fmt.Errorf("exec %q: %w", s[:40], err)
		}
	}
	return nil
}

func (r *SQLiteRecorder) RecordWeekly(s *WeeklyStats) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	recordedAt := s.RecordedAt
	if recordedAt.IsZero() {
		recordedAt = time.Now()
	}
	_, err := r.db.Exec(`INSERT INTO weekly_stats
		(recorded_at, week, sequence, collateral, total_shares, amount_per_share,
		 escrowed_premium, outstanding_refunds, providers, policies)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		recordedAt.Unix(), s.Week, s.Sequence,
		s.Collateral.String(), s.TotalShares.String(), s.AmountPerShare.String(),
		s.EscrowedPremium.String(), s.OutstandingRefunds.String(),
		s.Providers, s.Policies,
	)
	if err != nil {
		return fmt.Errorf("insert weekly stats: %w", err)
	}
	return nil
}

func (r *SQLiteRecorder) RecordAccrual(evt *AccrualEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.Exec(`INSERT INTO accruals
		(recorded_at, week, policy_id, through_week, premium, refund, pool, fee1, fee2)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		time.Now().Unix(), evt.Week, evt.PolicyID, evt.ThroughWeek,
		evt.Premium.String(), evt.Refund.String(), evt.Pool.String(),
		evt.Fee1.String(), evt.Fee2.String(),
	)
	if err != nil {
		return fmt.Errorf("insert accrual: %w", err)
	}
	return nil
}

func (r *SQLiteRecorder) RecordWithdrawal(evt *WithdrawalEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.Exec(`INSERT INTO withdrawals
		(recorded_at, week, provider, phase, net, fee)
		VALUES (?, ?, ?, ?, ?, ?)`,
		time.Now().Unix(), evt.Week, evt.Provider.String(), evt.Phase,
		evt.Net.String(), evt.Fee.String(),
	)
	if err != nil {
		return fmt.Errorf("insert withdrawal: %w", err)
	}
	return nil
}

// WeeklyHistory returns the most recent weekly rows, newest first.
func (r *SQLiteRecorder) WeeklyHistory(limit int) ([]WeeklyStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rows, err := r.db.Query(`SELECT recorded_at, week, sequence, collateral, total_shares,
		amount_per_share, escrowed_premium, outstanding_refunds, providers, policies
		FROM weekly_stats ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query weekly stats: %w", err)
	}
	defer rows.Close()

	var out []WeeklyStats
	for rows.Next() {
		var (
			s       WeeklyStats
			at      int64
			amounts [5]string
		)
		if err := rows.Scan(&at, &s.Week, &s.Sequence,
			&amounts[0], &amounts[1], &amounts[2], &amounts[3], &amounts[4],
			&s.Providers, &s.Policies); err != nil {
			return nil, fmt.Errorf("scan weekly stats: %w", err)
		}
		targets := []*fpmath.Amount{&s.Collateral, &s.TotalShares, &s.AmountPerShare, &s.EscrowedPremium, &s.OutstandingRefunds}
		for i, text := range amounts {
			a, err := fpmath.ParseAmount(text)
			if err != nil {
				return nil, fmt.Errorf("parse weekly amount %q: %w", text, err)
			}
			*targets[i] = a
		}
		s.RecordedAt = time.Unix(at, 0)
		out = append(out, s)
	}
	return out, rows.Err()
}

// CountRows reports how many rows table holds. Only the recorder's own
// tables are accepted.
func (r *SQLiteRecorder) CountRows(table string) (int, error) {
	switch table {
	case "weekly_stats", "accruals", "withdrawals":
	default:
		return 0, fmt.Errorf("unknown table %q", table)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int
	if err := r.db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (r *SQLiteRecorder) Close() error {
	return r.db.Close()
}
