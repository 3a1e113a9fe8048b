package query

import (
	"CoverPool/internal/core"
	"CoverPool/internal/ledger"
	fpmath "CoverPool/internal/math"
	"CoverPool/internal/state"
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrBadRequest   = errors.New("bad request")
	ErrNoEventStore = errors.New("event store not configured")
)

// Engine is the read surface of the live engine.
type Engine interface {
	GetSequence() int64
	GetStateHash() [32]byte
	CurrentWeek() int64
	Pool() core.PoolSummary
	Provider(id uuid.UUID) (core.ProviderView, bool)
	Policies() []core.PolicyView
	Policy(id int64) (core.PolicyView, error)
	AvailableCapacityAt(policyID, week int64) (fpmath.Amount, error)
	CoveredAmount(policyID, week int64) fpmath.Amount
	WeekBook(policyID, week int64) (state.WeekBookSnapshot, bool)
	CoverageOf(policyID, week int64, buyer uuid.UUID) (state.CoverageRecord, bool)
	QuotePremium(policyID int64, amount fpmath.Amount, start, end int64) (fpmath.Amount, error)
	Committee() core.CommitteeView
	GovernanceRequests() []core.RequestView
	GovernanceRequest(id int64) (core.RequestView, error)
	BonusAllocation(total fpmath.Amount) *fpmath.ProRataSplit
}

// QueryService provides read-only access to pool state. Views of the
// live engine are consistent with the last applied command; journal
// history and integrity checks read Postgres and carry as_of_sequence.
type QueryService struct {
	engine Engine
	db     *sql.DB
}

// NewQueryService builds the service. db may be nil, in which case the
// Postgres-backed queries return ErrNoEventStore.
func NewQueryService(engine Engine, db *sql.DB) *QueryService {
	return &QueryService{engine: engine, db: db}
}

func (qs *QueryService) Week() WeekResponse {
	hash := qs.engine.GetStateHash()
	return WeekResponse{
		Week:         qs.engine.CurrentWeek(),
		NextSequence: qs.engine.GetSequence(),
		StateHash:    hex.EncodeToString(hash[:]),
	}
}

func (qs *QueryService) Pool() core.PoolSummary {
	return qs.engine.Pool()
}

func (qs *QueryService) Committee() core.CommitteeView {
	return qs.engine.Committee()
}

func (qs *QueryService) Provider(id uuid.UUID) (core.ProviderView, error) {
	view, ok := qs.engine.Provider(id)
	if !ok {
		return view, fmt.Errorf("provider %s: %w", id, ErrNotFound)
	}
	return view, nil
}

func (qs *QueryService) Policies() []core.PolicyView {
	return qs.engine.Policies()
}

func (qs *QueryService) Policy(id int64) (core.PolicyView, error) {
	view, err := qs.engine.Policy(id)
	if err != nil {
		return view, notFound(err)
	}
	return view, nil
}

// Capacity reports a policy's capacity for week, or the current week
// when week is nil.
func (qs *QueryService) Capacity(policyID int64, week *int64) (CapacityResponse, error) {
	w := qs.engine.Pool().CurrentWeek
	if week != nil {
		w = *week
	}
	available, err := qs.engine.AvailableCapacityAt(policyID, w)
	if err != nil {
		return CapacityResponse{}, notFound(err)
	}
	return CapacityResponse{
		PolicyID:  policyID,
		Week:      w,
		Covered:   qs.engine.CoveredAmount(policyID, w),
		Available: available,
	}, nil
}

func (qs *QueryService) WeekBook(policyID, week int64) (state.WeekBookSnapshot, error) {
	if _, err := qs.engine.Policy(policyID); err != nil {
		return state.WeekBookSnapshot{}, notFound(err)
	}
	wb, ok := qs.engine.WeekBook(policyID, week)
	if !ok {
		return wb, fmt.Errorf("policy %d week %d: %w", policyID, week, ErrNotFound)
	}
	return wb, nil
}

func (qs *QueryService) Coverage(policyID, week int64, buyer uuid.UUID) (CoverageResponse, error) {
	rec, ok := qs.engine.CoverageOf(policyID, week, buyer)
	if !ok {
		return CoverageResponse{}, fmt.Errorf("coverage of %s in policy %d week %d: %w", buyer, policyID, week, ErrNotFound)
	}
	return CoverageResponse{PolicyID: policyID, Week: week, CoverageRecord: rec}, nil
}

// Quote prices coverage over [start, end) without buying it.
func (qs *QueryService) Quote(policyID int64, amount fpmath.Amount, start, end int64) (fpmath.Amount, error) {
	premium, err := qs.engine.QuotePremium(policyID, amount, start, end)
	if errors.Is(err, state.ErrUnknownPolicy) {
		return premium, notFound(err)
	}
	if err != nil {
		return premium, fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	return premium, nil
}

func (qs *QueryService) GovernanceRequests() []core.RequestView {
	return qs.engine.GovernanceRequests()
}

func (qs *QueryService) GovernanceRequest(id int64) (core.RequestView, error) {
	view, err := qs.engine.GovernanceRequest(id)
	if err != nil {
		return view, notFound(err)
	}
	return view, nil
}

// Bonus splits amount across providers by share balance.
func (qs *QueryService) Bonus(amount fpmath.Amount) (BonusResponse, error) {
	if amount.IsNegative() {
		return BonusResponse{}, fmt.Errorf("%w: negative bonus", ErrBadRequest)
	}
	split := qs.engine.BonusAllocation(amount)
	resp := BonusResponse{
		Total:       split.Total,
		TotalShares: split.TotalWeight,
		Residual:    split.Residual,
		Shares:      make([]BonusShare, 0, len(split.Allocations)),
	}
	for _, a := range split.Allocations {
		resp.Shares = append(resp.Shares, BonusShare{Provider: uuid.UUID(a.ID), Amount: a.Amount})
	}
	return resp, nil
}

// GetJournalHistory returns journal entries touching account, newest
// first, with pagination on sequence.
func (qs *QueryService) GetJournalHistory(
	ctx context.Context,
	account string,
	limit int,
	beforeSequence *int64,
) (*JournalPage, error) {
	if _, err := ledger.ParseAccountPath(account); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	if qs.db == nil {
		return nil, ErrNoEventStore
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	query := `
		SELECT journal_id, batch_id, event_ref, sequence,
		       debit_account, credit_account, amount::text, journal_type, week
		FROM event_log.journal
		WHERE (debit_account = $1 OR credit_account = $1)
	`
	args := []any{account}
	argIdx := 2

	if beforeSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *beforeSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC, journal_id"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	page := &JournalPage{Account: account, AsOfSequence: asOfSeq, Entries: []JournalHistoryEntry{}}
	for rows.Next() {
		var e JournalHistoryEntry
		var amount string
		if err := rows.Scan(
			&e.JournalID, &e.BatchID, &e.EventRef, &e.Sequence,
			&e.DebitAccount, &e.CreditAccount, &amount, &e.JournalType, &e.Week,
		); err != nil {
			return nil, err
		}
		// NUMERIC(78,18) comes back zero padded.
		a, err := fpmath.ParseAmount(amount)
		if err != nil {
			return nil, fmt.Errorf("journal %s amount: %w", e.JournalID, err)
		}
		e.Amount = a.String()
		page.Entries = append(page.Entries, e)
	}

	return page, rows.Err()
}

// --- Admin APIs ---

// VerifyIntegrity checks hash chain continuity in the event log and
// that the projected balances sum to zero.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	if qs.db == nil {
		return nil, ErrNoEventStore
	}
	report := &IntegrityReport{}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT e1.sequence
		FROM event_log.events e1
		JOIN event_log.events e2 ON e2.sequence = e1.sequence - 1
		WHERE e1.prev_hash <> e2.state_hash
		ORDER BY e1.sequence
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var seq int64
		if err := rows.Scan(&seq); err != nil {
			return nil, err
		}
		report.HashChainBreaks = append(report.HashChainBreaks, seq)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var total string
	if err := qs.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(balance), 0)::text FROM projections.balances
	`).Scan(&total); err != nil {
		return nil, err
	}
	imbalance, err := fpmath.ParseAmount(total)
	if err != nil {
		return nil, fmt.Errorf("balance sum: %w", err)
	}
	if !imbalance.IsZero() {
		report.Imbalance = imbalance.String()
	}

	report.IsHealthy = len(report.HashChainBreaks) == 0 && imbalance.IsZero()
	return report, nil
}

// --- helpers ---

func (qs *QueryService) getWatermark(ctx context.Context) (int64, error) {
	var seq int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT last_sequence FROM projections.watermark WHERE worker_id = 'main'
	`).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return -1, nil
	}
	return seq, err
}

// notFound maps the engine's lookup errors onto ErrNotFound.
func notFound(err error) error {
	if errors.Is(err, state.ErrUnknownPolicy) || errors.Is(err, state.ErrUnknownRequest) {
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return err
}
