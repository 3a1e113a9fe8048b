package query_test

import (
	"CoverPool/internal/clock"
	"CoverPool/internal/core"
	"CoverPool/internal/custody"
	"CoverPool/internal/ledger"
	fpmath "CoverPool/internal/math"
	"CoverPool/internal/query"
	"CoverPool/internal/state"
	"CoverPool/internal/testutil"
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const currentWeek = 30

// === Test: Views of the live engine ===

func TestQueryService_PoolViews(t *testing.T) {
	f := newFixture(t, nil)

	week := f.qs.Week()
	if week.Week != currentWeek || week.NextSequence != 4 || len(week.StateHash) != 64 {
		t.Errorf("week: got %+v", week)
	}

	pool := f.qs.Pool()
	if !pool.Configured || pool.Policies != 1 || pool.Providers != 1 {
		t.Errorf("pool: got %+v", pool)
	}
	if pool.Collateral.String() != "1000" {
		t.Errorf("collateral: got %s, want 1000", pool.Collateral)
	}

	prov, err := f.qs.Provider(f.provider)
	if err != nil {
		t.Fatalf("Provider: %v", err)
	}
	if prov.Shares.String() != "1000" {
		t.Errorf("shares: got %s, want 1000", prov.Shares)
	}
	if _, err := f.qs.Provider(uuid.New()); !errors.Is(err, query.ErrNotFound) {
		t.Errorf("unknown provider: got %v, want ErrNotFound", err)
	}

	if c := f.qs.Committee(); c.Manager != f.manager || c.Threshold != 2 {
		t.Errorf("committee: got %+v", c)
	}
}

func TestQueryService_PolicyViews(t *testing.T) {
	f := newFixture(t, nil)

	if got := len(f.qs.Policies()); got != 1 {
		t.Fatalf("policies: got %d, want 1", got)
	}
	if _, err := f.qs.Policy(7); !errors.Is(err, query.ErrNotFound) {
		t.Errorf("unknown policy: got %v, want ErrNotFound", err)
	}

	// 1000 collateral at a 50% ratio covers 2000; 500 is sold for week 31.
	week := int64(currentWeek + 1)
	capacity, err := f.qs.Capacity(0, &week)
	if err != nil {
		t.Fatalf("Capacity: %v", err)
	}
	if capacity.Covered.String() != "500" || capacity.Available.String() != "1500" {
		t.Errorf("capacity: got covered %s available %s, want 500/1500", capacity.Covered, capacity.Available)
	}
	current, err := f.qs.Capacity(0, nil)
	if err != nil {
		t.Fatalf("Capacity current: %v", err)
	}
	if current.Week != currentWeek || current.Available.String() != "2000" {
		t.Errorf("current capacity: got %+v", current)
	}

	wb, err := f.qs.WeekBook(0, week)
	if err != nil {
		t.Fatalf("WeekBook: %v", err)
	}
	if len(wb.Records) != 1 || wb.Records[0].Buyer != f.buyer {
		t.Errorf("week book records: got %+v", wb.Records)
	}
	if _, err := f.qs.WeekBook(0, week+10); !errors.Is(err, query.ErrNotFound) {
		t.Errorf("empty week: got %v, want ErrNotFound", err)
	}

	cov, err := f.qs.Coverage(0, week, f.buyer)
	if err != nil {
		t.Fatalf("Coverage: %v", err)
	}
	if cov.Amount.String() != "500" || cov.Premium.String() != "5" {
		t.Errorf("coverage: got amount %s premium %s, want 500/5", cov.Amount, cov.Premium)
	}
	if _, err := f.qs.Coverage(0, week, uuid.New()); !errors.Is(err, query.ErrNotFound) {
		t.Errorf("other buyer: got %v, want ErrNotFound", err)
	}
}

func TestQueryService_Quote(t *testing.T) {
	f := newFixture(t, nil)

	premium, err := f.qs.Quote(0, testutil.Amount(t, "1000"), 31, 35)
	if err != nil {
		t.Fatalf("Quote: %v", err)
	}
	if premium.String() != "40" {
		t.Errorf("premium: got %s, want 40", premium)
	}
	if _, err := f.qs.Quote(0, testutil.Amount(t, "1"), 35, 31); !errors.Is(err, query.ErrBadRequest) {
		t.Errorf("reversed range: got %v, want ErrBadRequest", err)
	}
	if _, err := f.qs.Quote(3, testutil.Amount(t, "1"), 31, 32); !errors.Is(err, query.ErrNotFound) {
		t.Errorf("unknown policy: got %v, want ErrNotFound", err)
	}
}

func TestQueryService_GovernanceAndBonus(t *testing.T) {
	f := newFixture(t, nil)

	if got := len(f.qs.GovernanceRequests()); got != 0 {
		t.Errorf("requests: got %d, want 0", got)
	}
	if _, err := f.qs.GovernanceRequest(0); !errors.Is(err, query.ErrNotFound) {
		t.Errorf("unknown request: got %v, want ErrNotFound", err)
	}

	bonus, err := f.qs.Bonus(testutil.Amount(t, "10"))
	if err != nil {
		t.Fatalf("Bonus: %v", err)
	}
	if len(bonus.Shares) != 1 || bonus.Shares[0].Provider != f.provider || bonus.Shares[0].Amount.String() != "10" {
		t.Errorf("bonus shares: got %+v", bonus.Shares)
	}
	if !bonus.Residual.IsZero() {
		t.Errorf("residual: got %s, want 0", bonus.Residual)
	}
	if _, err := f.qs.Bonus(testutil.Amount(t, "-1")); !errors.Is(err, query.ErrBadRequest) {
		t.Errorf("negative bonus: got %v, want ErrBadRequest", err)
	}
}

// === Test: Journal history from the event log ===

func TestQueryService_JournalHistory(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	f := newFixture(t, db)
	account := ledger.NewUserAccountKey(f.provider).AccountPath()
	before := int64(50)

	mock.ExpectQuery(`SELECT last_sequence FROM projections\.watermark`).
		WillReturnRows(sqlmock.NewRows([]string{"last_sequence"}).AddRow(int64(41)))
	mock.ExpectQuery(`FROM event_log\.journal WHERE \(debit_account = \$1 OR credit_account = \$1\) AND sequence < \$2 ORDER BY sequence DESC, journal_id LIMIT \$3`).
		WithArgs(account, before, 100).
		WillReturnRows(sqlmock.NewRows([]string{
			"journal_id", "batch_id", "event_ref", "sequence",
			"debit_account", "credit_account", "amount", "journal_type", "week",
		}).AddRow(uuid.NewString(), uuid.NewString(), "ref", int64(2),
			"system:capital", account, "1000.000000000000000000", "Deposit", int64(30)))

	page, err := f.qs.GetJournalHistory(context.Background(), account, 0, &before)
	if err != nil {
		t.Fatalf("GetJournalHistory: %v", err)
	}
	if page.AsOfSequence != 41 || len(page.Entries) != 1 {
		t.Fatalf("page: got %+v", page)
	}
	if page.Entries[0].Amount != "1000" {
		t.Errorf("amount: got %s, want 1000", page.Entries[0].Amount)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestQueryService_JournalHistoryErrors(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	if _, err := f.qs.GetJournalHistory(ctx, "user:nope", 10, nil); !errors.Is(err, query.ErrBadRequest) {
		t.Errorf("bad account: got %v, want ErrBadRequest", err)
	}
	if _, err := f.qs.GetJournalHistory(ctx, "system:capital", 10, nil); !errors.Is(err, query.ErrNoEventStore) {
		t.Errorf("no db: got %v, want ErrNoEventStore", err)
	}
	if _, err := f.qs.VerifyIntegrity(ctx); !errors.Is(err, query.ErrNoEventStore) {
		t.Errorf("no db: got %v, want ErrNoEventStore", err)
	}
}

// === Test: Integrity report ===

func TestQueryService_VerifyIntegrity(t *testing.T) {
	tests := []struct {
		name    string
		breaks  []int64
		sum     string
		healthy bool
	}{
		{"healthy", nil, "0.000000000000000000", true},
		{"chain break", []int64{12}, "0", false},
		{"imbalance", nil, "-0.000000000000000001", false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			if err != nil {
				t.Fatalf("sqlmock: %v", err)
			}
			defer db.Close()
			qs := query.NewQueryService(nil, db)

			rows := sqlmock.NewRows([]string{"sequence"})
			for _, b := range tc.breaks {
				rows.AddRow(b)
			}
			mock.ExpectQuery(`WHERE e1\.prev_hash <> e2\.state_hash`).WillReturnRows(rows)
			mock.ExpectQuery(`SUM\(balance\)`).
				WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow(tc.sum))

			report, err := qs.VerifyIntegrity(context.Background())
			if err != nil {
				t.Fatalf("VerifyIntegrity: %v", err)
			}
			if report.IsHealthy != tc.healthy {
				t.Errorf("healthy: got %v, want %v (%+v)", report.IsHealthy, tc.healthy, report)
			}
			if len(report.HashChainBreaks) != len(tc.breaks) {
				t.Errorf("breaks: got %v, want %v", report.HashChainBreaks, tc.breaks)
			}
		})
	}
}

// --- Test helpers ---

type fixture struct {
	qs       *query.QueryService
	engine   *core.Engine
	manager  uuid.UUID
	provider uuid.UUID
	buyer    uuid.UUID
}

// newFixture configures a pool with one 50%-collateral policy at 1% a
// week, 1000 deposited and 500 covered for weeks 31 and 32.
func newFixture(t *testing.T, db *sql.DB) *fixture {
	t.Helper()
	ctx := context.Background()
	wallets := custody.NewWallets()
	logger := zerolog.Nop()
	engine := core.New(core.Config{
		DefaultParams: state.DefaultPoolParams(),
		Transfer:      wallets,
		Clock:         clock.NewManualClock(currentWeek),
		Logger:        &logger,
	})

	f := &fixture{
		engine:   engine,
		manager:  uuid.New(),
		provider: uuid.New(),
		buyer:    uuid.New(),
	}
	wallets.Mint(f.provider, fpmath.NewAmount(1000))
	wallets.Mint(f.buyer, fpmath.NewAmount(100))

	if err := engine.Setup(ctx, f.manager, []uuid.UUID{uuid.New(), uuid.New()}, 2, nil); err != nil {
		t.Fatalf("Setup: %v", err)
	}
	if _, err := engine.AddPolicy(ctx, f.manager, 500_000, 10_000, "bridge hack", ""); err != nil {
		t.Fatalf("AddPolicy: %v", err)
	}
	if _, err := engine.Deposit(ctx, f.provider, fpmath.NewAmount(1000)); err != nil {
		t.Fatalf("Deposit: %v", err)
	}
	if _, err := engine.Buy(ctx, f.buyer, 0, fpmath.NewAmount(500), currentWeek+1, currentWeek+3, fpmath.Zero()); err != nil {
		t.Fatalf("Buy: %v", err)
	}

	f.qs = query.NewQueryService(engine, db)
	return f
}
