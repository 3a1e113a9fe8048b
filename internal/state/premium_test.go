package state_test

import (
	fpmath "CoverPool/internal/math"
	"CoverPool/internal/state"
	"errors"
	"testing"

	"github.com/google/uuid"
)

type pool struct {
	capital  *state.CapitalLedger
	book     *state.PolicyBook
	capacity *state.CapacityCalculator
	accrual  *state.PremiumAccrual
	claims   *state.ClaimAndRefundEngine
	params   state.PoolParams
}

func newPool() *pool {
	cl := state.NewCapitalLedger()
	pb := state.NewPolicyBook()
	return &pool{
		capital:  cl,
		book:     pb,
		capacity: state.NewCapacityCalculator(cl, pb),
		accrual:  state.NewPremiumAccrual(cl, pb),
		claims:   state.NewClaimAndRefundEngine(cl, pb),
		params:   state.DefaultPoolParams(),
	}
}

func (p *pool) accrue(t *testing.T, policyID, week int64, manager uuid.UUID) *state.AccrualPlan {
	t.Helper()
	plan, err := p.accrual.Plan(policyID, week, &p.params)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	p.accrual.Apply(plan, manager)
	return plan
}

// === Test: Premium split ===

func TestSplitPremium_SumsExactly(t *testing.T) {
	for _, s := range []string{"100", "0.000000000000000007", "12.345678901234567891", "1"} {
		net := amt(s)
		pool, f1, f2 := state.SplitPremium(net, 50_000, 30_000)
		if !pool.Add(f1).Add(f2).Equal(net) {
			t.Errorf("%s: %s + %s + %s != net", s, pool, f1, f2)
		}
	}
	pool, f1, f2 := state.SplitPremium(amt("100"), 50_000, 30_000)
	if !pool.Equal(amt("92")) || !f1.Equal(amt("5")) || !f2.Equal(amt("3")) {
		t.Errorf("split = %s/%s/%s, want 92/5/3", pool, f1, f2)
	}
}

// === Test: Accrual ===

func TestAccrual_FirstWeekMatchesReference(t *testing.T) {
	p := newPool()
	seller, buyer, manager := uuid.New(), uuid.New(), uuid.New()
	p.capital.Mint(seller, amt("10000"))
	pol, _ := p.book.AddPolicy(500_000, 10_000, "Metamask", "", 0)

	if err := p.capacity.CheckPurchase(pol, amt("10000"), 1, 11); err != nil {
		t.Fatalf("CheckPurchase: %v", err)
	}
	p.book.Record(pol.ID, buyer, amt("10000"), 1, 11)
	if got := p.book.QuotePremium(pol, amt("10000"), 1, 11); !got.Equal(amt("1000")) {
		t.Errorf("premium = %s, want 1000", got)
	}

	plan := p.accrue(t, pol.ID, 1, manager)
	if !plan.TotalFee2.Equal(amt("3")) {
		t.Errorf("fee2 = %s, want 3", plan.TotalFee2)
	}
	if got := p.capital.ProviderBaseAmount(seller).StringFixed(4); got != "10092.0000" {
		t.Errorf("seller base = %s, want 10092.0000", got)
	}
	if got := p.capacity.Available(pol, 1); !got.Equal(amt("10194")) {
		t.Errorf("capacity = %s, want 10194", got)
	}
}

func TestAccrual_Idempotent(t *testing.T) {
	p := newPool()
	manager := uuid.New()
	p.capital.Mint(uuid.New(), amt("1000"))
	pol, _ := p.book.AddPolicy(500_000, 10_000, "", "", 0)
	p.book.Record(pol.ID, uuid.New(), amt("100"), 1, 3)

	p.accrue(t, pol.ID, 2, manager)
	before := p.capital.Snapshot()

	again := p.accrue(t, pol.ID, 2, manager)
	if !again.Empty() {
		t.Errorf("second accrual in same week produced %d weeks", len(again.Weeks))
	}
	after := p.capital.Snapshot()
	if !before.TotalBase.Equal(after.TotalBase) || !before.TotalShares.Equal(after.TotalShares) {
		t.Error("second accrual changed state")
	}
	if pol.PremiumAccruedThroughWeek != 2 {
		t.Errorf("watermark = %d, want 2", pol.PremiumAccruedThroughWeek)
	}
}

func TestAccrual_LateDepositorMissesPastWeeks(t *testing.T) {
	p := newPool()
	early, late, manager := uuid.New(), uuid.New(), uuid.New()
	p.capital.Mint(early, amt("1000"))
	pol, _ := p.book.AddPolicy(500_000, 10_000, "", "", 0)
	p.book.Record(pol.ID, uuid.New(), amt("1000"), 1, 2)
	p.accrue(t, pol.ID, 1, manager)

	p.capital.Mint(late, amt("1000"))
	if got := p.capital.ProviderBaseAmount(late); got.GreaterThan(amt("1000")) {
		t.Errorf("late depositor base = %s, must not exceed deposit", got)
	}
	if got := p.capital.ProviderBaseAmount(early); !got.GreaterThan(amt("1000")) {
		t.Errorf("early depositor base = %s, want > 1000", got)
	}
}

// === Test: Capacity ===

func TestCapacity_PurchaseLimit(t *testing.T) {
	p := newPool()
	p.capital.Mint(uuid.New(), amt("100"))
	pol, _ := p.book.AddPolicy(500_000, 10_000, "", "", 0)

	if err := p.capacity.CheckPurchase(pol, amt("201"), 1, 3); !errors.Is(err, state.ErrInsufficientCapacity) {
		t.Errorf("got %v, want ErrInsufficientCapacity", err)
	}
	before := p.capacity.Available(pol, 1)
	p.book.Record(pol.ID, uuid.New(), amt("150"), 1, 3)
	after := p.capacity.Available(pol, 1)
	if !after.LessThan(before) {
		t.Errorf("capacity did not decrease: %s -> %s", before, after)
	}
	if err := p.capacity.CheckPurchase(pol, amt("51"), 2, 3); !errors.Is(err, state.ErrInsufficientCapacity) {
		t.Errorf("got %v, want ErrInsufficientCapacity", err)
	}
	if err := p.capacity.CheckPurchase(pol, amt("50"), 2, 3); err != nil {
		t.Errorf("exact fit rejected: %v", err)
	}
}

// === Test: Claims and refunds ===

func TestRefund_ShortfallAfterClaim(t *testing.T) {
	p := newPool()
	seller, buyer, manager := uuid.New(), uuid.New(), uuid.New()
	p.capital.Mint(seller, amt("100000"))
	pol, _ := p.book.AddPolicy(500_000, 200, "Metamask", "", 0)
	p.book.Record(pol.ID, buyer, amt("80000"), 1, 4)

	p.accrue(t, pol.ID, 1, manager)

	if _, err := p.claims.QuoteRefund(pol.ID, 2, buyer); !errors.Is(err, state.ErrNotReadyToRefund) {
		t.Errorf("before accrual: got %v, want ErrNotReadyToRefund", err)
	}

	if err := p.claims.PayClaim(amt("70000")); err != nil {
		t.Fatalf("PayClaim: %v", err)
	}
	p.accrue(t, pol.ID, 2, manager)

	refund, err := p.claims.QuoteRefund(pol.ID, 2, buyer)
	if err != nil {
		t.Fatalf("QuoteRefund: %v", err)
	}
	if refund.Sign() <= 0 || refund.GreaterThan(amt("16")) {
		t.Errorf("refund = %s, want within (0, 16]", refund)
	}
	if !p.claims.OutstandingRefunds().Equal(refund) {
		t.Errorf("outstanding = %s, want %s", p.claims.OutstandingRefunds(), refund)
	}

	p.claims.CommitRefund(pol.ID, 2, buyer, refund)
	if _, err := p.claims.QuoteRefund(pol.ID, 2, buyer); !errors.Is(err, state.ErrAlreadyRefunded) {
		t.Errorf("double refund: got %v, want ErrAlreadyRefunded", err)
	}
	if !p.claims.OutstandingRefunds().IsZero() {
		t.Errorf("outstanding after refund = %s", p.claims.OutstandingRefunds())
	}

	// week 1 was fully backed
	zero, err := p.claims.QuoteRefund(pol.ID, 1, buyer)
	if err != nil || !zero.IsZero() {
		t.Errorf("week 1 refund = %s, %v; want 0", zero, err)
	}
	if _, err := p.claims.QuoteRefund(pol.ID, 1, uuid.New()); !errors.Is(err, state.ErrNoCoverage) {
		t.Errorf("stranger: got %v, want ErrNoCoverage", err)
	}
}

func TestRefund_WeekRefundsSumToReserve(t *testing.T) {
	p := newPool()
	manager := uuid.New()
	p.capital.Mint(uuid.New(), amt("100000"))
	pol, _ := p.book.AddPolicy(500_000, 200, "Metamask", "", 0)
	buyers := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	for i, cover := range []string{"26666", "26667", "26667"} {
		p.book.Record(pol.ID, buyers[i], amt(cover), 1, 3)
	}

	p.accrue(t, pol.ID, 1, manager)
	if err := p.claims.PayClaim(amt("70000")); err != nil {
		t.Fatalf("PayClaim: %v", err)
	}
	p.accrue(t, pol.ID, 2, manager)

	reserved := p.book.Week(pol.ID, 2).RefundTotal
	if reserved.Sign() <= 0 {
		t.Fatalf("refund total = %s, want > 0", reserved)
	}

	paid := fpmath.Zero()
	for _, buyer := range buyers {
		refund, err := p.claims.QuoteRefund(pol.ID, 2, buyer)
		if err != nil {
			t.Fatalf("QuoteRefund: %v", err)
		}
		if refund.IsNegative() {
			t.Errorf("refund = %s, want >= 0", refund)
		}
		p.claims.CommitRefund(pol.ID, 2, buyer, refund)
		paid = paid.Add(refund)
	}
	if !paid.Equal(reserved) {
		t.Errorf("refunds paid = %s, want %s", paid, reserved)
	}
	if got := p.claims.OutstandingRefunds(); !got.IsZero() {
		t.Errorf("outstanding after all refunds = %s, want 0", got)
	}
}

func TestClaim_ExceedsCollateral(t *testing.T) {
	p := newPool()
	p.capital.Mint(uuid.New(), amt("10"))
	if err := p.claims.CheckClaim(amt("10.000000000000000001")); !errors.Is(err, state.ErrInsufficientCapacity) {
		t.Errorf("got %v, want ErrInsufficientCapacity", err)
	}
	if err := p.claims.CheckClaim(fpmath.Zero()); !errors.Is(err, state.ErrInvalidAmount) {
		t.Errorf("got %v, want ErrInvalidAmount", err)
	}
}

func TestPolicyBook_SnapshotRestore(t *testing.T) {
	pb := state.NewPolicyBook()
	pol, _ := pb.AddPolicy(1_000_000, 300, "Rainbow", "terms", 4)
	buyer := uuid.New()
	pb.Record(pol.ID, buyer, amt("20"), 5, 7)

	restored := state.NewPolicyBook()
	restored.Restore(pb.Snapshot())

	if got := restored.CoveredAmount(pol.ID, 6); !got.Equal(amt("20")) {
		t.Errorf("covered = %s, want 20", got)
	}
	rec, ok := restored.Coverage(pol.ID, 5, buyer)
	if !ok || !rec.Premium.Equal(amt("0.006")) {
		t.Errorf("record = %+v", rec)
	}
	if _, err := restored.Policy(1); !errors.Is(err, state.ErrUnknownPolicy) {
		t.Errorf("got %v, want ErrUnknownPolicy", err)
	}
}

func TestValidatePoolParams(t *testing.T) {
	p := state.DefaultPoolParams()
	if err := state.ValidatePoolParams(&p); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
	p.ManagementFee1 = 990_000
	if err := state.ValidatePoolParams(&p); !errors.Is(err, state.ErrInvalidParameter) {
		t.Errorf("fees over 100%%: got %v", err)
	}
}
