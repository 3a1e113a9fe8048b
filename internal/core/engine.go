package core

import (
	"CoverPool/internal/clock"
	"CoverPool/internal/event"
	"CoverPool/internal/ledger"
	fpmath "CoverPool/internal/math"
	"CoverPool/internal/observability"
	"CoverPool/internal/state"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const defaultIdempotencyCapacity = 1_000_000

// Config wires an Engine to its collaborators. Nil channels disable the
// corresponding output.
type Config struct {
	// Next sequence to assign
	StartSequence int64

	// Parameters used when Setup does not carry its own
	DefaultParams state.PoolParams

	Transfer            AssetTransfer
	Clock               clock.Clock
	DBChecker           DBIdempotencyChecker
	IdempotencyCapacity int
	Metrics             *observability.Metrics
	Logger              *zerolog.Logger

	PersistChan    chan<- CoreOutput
	ProjectionChan chan<- CoreOutput
}

// Engine is the serialized command processor of the pool. Every command
// runs to completion under one lock: validate, transfer, commit, journal,
// hash, emit. A rejected command leaves no trace in state.
type Engine struct {
	mu sync.Mutex

	sequence   int64
	configured bool
	params     state.PoolParams
	defaults   state.PoolParams

	capital     *state.CapitalLedger
	withdrawals *state.WithdrawalQueue
	book        *state.PolicyBook
	accrual     *state.PremiumAccrual
	capacity    *state.CapacityCalculator
	claims      *state.ClaimAndRefundEngine
	governance  *state.GovernanceQueue

	balances   *ledger.BalanceTracker
	journalGen *ledger.JournalGenerator
	validator  *ledger.InvariantValidator

	hasher      *StateHasher
	idempotency *IdempotencyChecker
	weeks       *WeekValidator

	transfer  AssetTransfer
	clock     clock.Clock
	metrics   *observability.Metrics
	logger    zerolog.Logger
	replaying bool

	persistChan    chan<- CoreOutput
	projectionChan chan<- CoreOutput
}

// CoreOutput is what the engine hands to persistence and projections
// for every applied command.
type CoreOutput struct {
	Envelope   *event.EventEnvelope
	Batch      *ledger.Batch
	StateDelta []byte
}

// Result describes the effect of one applied command. Only the fields
// relevant to the command type are set.
type Result struct {
	Sequence  int64
	StateHash [32]byte
	Duplicate bool
	Batch     *ledger.Batch

	Shares    fpmath.Amount
	Premium   fpmath.Amount
	Amount    fpmath.Amount
	Payout    *state.WithdrawalPayout
	Accrual   *state.AccrualPlan
	PolicyID  int64
	RequestID int64
	Advanced  bool
}

func New(cfg Config) *Engine {
	capital := state.NewCapitalLedger()
	book := state.NewPolicyBook()
	balances := ledger.NewBalanceTracker()

	capacity := cfg.IdempotencyCapacity
	if capacity <= 0 {
		capacity = defaultIdempotencyCapacity
	}

	var logger zerolog.Logger
	if cfg.Logger != nil {
		logger = *cfg.Logger
	} else {
		logger = observability.NewLogger("core")
	}

	clk := cfg.Clock
	if clk == nil {
		clk = clock.NewWallClock(0)
	}

	transfer := cfg.Transfer
	if transfer == nil {
		transfer = noopTransfer{}
	}

	return &Engine{
		sequence:       cfg.StartSequence,
		defaults:       cfg.DefaultParams,
		capital:        capital,
		withdrawals:    state.NewWithdrawalQueue(capital),
		book:           book,
		accrual:        state.NewPremiumAccrual(capital, book),
		capacity:       state.NewCapacityCalculator(capital, book),
		claims:         state.NewClaimAndRefundEngine(capital, book),
		governance:     state.NewGovernanceQueue(),
		balances:       balances,
		journalGen:     ledger.NewJournalGenerator(),
		validator:      ledger.NewInvariantValidator(balances),
		hasher:         NewStateHasher(),
		idempotency:    NewIdempotencyChecker(capacity, cfg.DBChecker, cfg.Metrics),
		weeks:          NewWeekValidator(),
		transfer:       transfer,
		clock:          clk,
		metrics:        cfg.Metrics,
		logger:         logger,
		persistChan:    cfg.PersistChan,
		projectionChan: cfg.ProjectionChan,
	}
}

// ProcessCommand is the main processing pipeline. Duplicates return a
// Result with Duplicate set and no error.
func (e *Engine) ProcessCommand(ctx context.Context, cmd event.Command) (*Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.process(ctx, cmd)
}

func (e *Engine) process(ctx context.Context, cmd event.Command) (*Result, error) {
	start := time.Now()
	name := cmd.CommandType().String()
	key := cmd.IdempotencyKey()

	// Step 1: Idempotency check. Replay consults memory only, the event
	// log being replayed is tier 2.
	var isDuplicate bool
	if e.replaying {
		isDuplicate = e.idempotency.lru.Contains(compositeKey(name, key))
	} else {
		isDuplicate = e.idempotency.IsDuplicate(name, key)
	}
	if isDuplicate {
		e.recordRejected(name, "duplicate")
		return &Result{Duplicate: true}, nil
	}

	// Step 2: Week ordering. Live commands run in the clock's week;
	// replayed ones keep the week they were logged with.
	if !e.replaying {
		if err := e.weeks.Pin(cmd, e.clock.CurrentWeek()); err != nil {
			e.recordRejected(name, "week_mismatch")
			return nil, err
		}
	}
	clamped, err := e.weeks.Check(cmd)
	if err != nil {
		e.recordRejected(name, "week_regression")
		e.recordWeekRegression(name, "rejected")
		return nil, err
	}
	if clamped {
		e.recordWeekRegression(name, "clamped")
		e.logger.Warn().
			Str("command", name).
			Int64("week", cmd.Week()).
			Msg("stamped week behind last applied week, clamped")
	}

	e.normalize(cmd)
	payload, err := json.Marshal(cmd)
	if err != nil {
		e.recordRejected(name, "encode")
		return nil, fmt.Errorf("encode %s: %w", name, err)
	}

	// Step 3: Dispatch. Handlers validate, transfer, then commit.
	res, batch, err := e.dispatch(ctx, cmd)
	if err != nil {
		e.recordRejected(name, rejectReason(err))
		e.logger.Debug().
			Err(err).
			Str("command", name).
			Str("caller", cmd.Caller().String()).
			Int64("week", cmd.Week()).
			Msg("command rejected")
		return nil, err
	}

	// Step 4: Validate and apply the journal batch
	if batch != nil {
		if err := e.validator.ValidateBatchBalance(batch); err != nil {
			panic(fmt.Sprintf("FATAL: unbalanced batch: %v", err))
		}
		if err := e.balances.ApplyBatch(batch); err != nil {
			panic(fmt.Sprintf("FATAL: apply batch failed after commit: %v", err))
		}
	}
	e.weeks.Advance(cmd.Week())

	// Step 5: State digest and hash chain
	hashStart := time.Now()
	digest := e.computeStateDigest(batch)
	prevHash := e.hasher.GetPrevHash()
	stateHash := e.hasher.ComputeHash(e.sequence, digest)
	if e.metrics != nil {
		e.metrics.CoreStateHashDur.Observe(time.Since(hashStart).Seconds())
	}

	envelope := &event.EventEnvelope{
		Sequence:       e.sequence,
		IdempotencyKey: key,
		CommandType:    cmd.CommandType(),
		Caller:         cmd.Caller(),
		Week:           cmd.Week(),
		Payload:        payload,
		StateHash:      stateHash,
		PrevHash:       prevHash,
	}

	// Step 6: Post-checks
	if err := e.postCheckInvariants(); err != nil {
		panic(fmt.Sprintf("FATAL: invariant violated after %s seq %d: %v", name, e.sequence, err))
	}

	// Step 7: Emit outputs
	if !e.replaying {
		e.emit(CoreOutput{Envelope: envelope, Batch: batch, StateDelta: digest})
	}

	// Step 8: Mark as processed
	e.idempotency.MarkProcessed(name, key)

	res.Sequence = e.sequence
	res.StateHash = stateHash
	res.Batch = batch
	e.sequence++

	e.recordApplied(name, cmd, res, start)
	return res, nil
}

// normalize fills defaults into the command before it is logged, so the
// event log replays identically under a different configuration.
func (e *Engine) normalize(cmd event.Command) {
	switch c := cmd.(type) {
	case *event.Setup:
		if c.Params == nil {
			p := e.defaults
			c.Params = &p
		}
		if c.Threshold == 0 {
			c.Threshold = state.DefaultThreshold
		}
	case *event.AdvancePending:
		if c.Provider == uuid.Nil {
			c.Provider = c.Caller()
		}
	case *event.AdvanceReady:
		if c.Provider == uuid.Nil {
			c.Provider = c.Caller()
		}
	case *event.Refund:
		if c.Buyer == uuid.Nil {
			c.Buyer = c.Caller()
		}
	}
}

// emit hands output to persistence (blocking, so nothing applied is
// ever lost) and to projections (non-blocking, dropped when full;
// projections rebuild from the event log).
func (e *Engine) emit(output CoreOutput) {
	if e.persistChan != nil {
		select {
		case e.persistChan <- output:
		default:
			if e.metrics != nil {
				e.metrics.PersistBackpressure.Inc()
			}
			e.persistChan <- output
		}
		if e.metrics != nil {
			e.metrics.SetChannelMetrics("persist", len(e.persistChan), cap(e.persistChan))
		}
	}

	if e.projectionChan != nil {
		select {
		case e.projectionChan <- output:
		default:
			if e.metrics != nil {
				e.metrics.ProjectionDrops.WithLabelValues("balances").Inc()
			}
		}
		if e.metrics != nil {
			e.metrics.SetChannelMetrics("projection", len(e.projectionChan), cap(e.projectionChan))
		}
	}
}

// computeStateDigest creates canonical bytes for the state hash: the
// balances the batch touched, then the capital totals.
func (e *Engine) computeStateDigest(batch *ledger.Batch) []byte {
	affected := make(map[ledger.AccountKey]bool)
	if batch != nil {
		for _, j := range batch.Journals {
			affected[j.DebitAccount] = true
			affected[j.CreditAccount] = true
		}
	}

	accounts := make([]ledger.AccountKey, 0, len(affected))
	for key := range affected {
		accounts = append(accounts, key)
	}
	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i].AccountPath() < accounts[j].AccountPath()
	})

	digest := make([]byte, 0, len(accounts)*64+96)
	for _, key := range accounts {
		path := key.AccountPath()
		digest = append(digest, byte(len(path)))
		digest = append(digest, path...)
		digest = appendAmount(digest, e.balances.GetBalance(key))
	}

	digest = appendAmount(digest, e.capital.TotalShares())
	digest = appendAmount(digest, e.capital.TotalBaseValue())
	digest = appendInt64LE(digest, int64(e.governance.Len()))
	return digest
}

func appendAmount(buf []byte, a fpmath.Amount) []byte {
	raw := a.Raw()
	sign := byte(0)
	if raw.Sign() < 0 {
		sign = 1
	}
	b := raw.Bytes()
	buf = append(buf, sign, byte(len(b)))
	return append(buf, b...)
}

func appendInt64LE(buf []byte, v int64) []byte {
	return append(buf,
		byte(v),
		byte(v>>8),
		byte(v>>16),
		byte(v>>24),
		byte(v>>32),
		byte(v>>40),
		byte(v>>48),
		byte(v>>56),
	)
}

// postCheckInvariants ties the journal to the pool state: capital holds
// the base value, escrow holds premium of unaccrued weeks and the refund
// reserve holds what buyers are still owed.
func (e *Engine) postCheckInvariants() error {
	if err := e.validator.ValidateSystemAccount(ledger.CapitalAccount, e.capital.TotalBaseValue()); err != nil {
		return fmt.Errorf("capital: %w", err)
	}
	if err := e.validator.ValidateSystemAccount(ledger.PremiumEscrowAccount, e.book.EscrowedPremium()); err != nil {
		return fmt.Errorf("escrow: %w", err)
	}
	if err := e.validator.ValidateSystemAccount(ledger.RefundReserveAccount, e.claims.OutstandingRefunds()); err != nil {
		return fmt.Errorf("refund reserve: %w", err)
	}
	if err := e.validator.ValidateSystemNonNegative(); err != nil {
		return err
	}

	// Periodic global zero-sum check
	if e.sequence > 0 && e.sequence%1000 == 0 {
		if err := e.validator.ValidateGlobalBalance(); err != nil {
			return fmt.Errorf("at seq %d: %w", e.sequence, err)
		}
	}
	return nil
}

var rejectReasons = []struct {
	err    error
	reason string
}{
	{state.ErrInvalidAmount, "invalid_amount"},
	{state.ErrInvalidRange, "invalid_range"},
	{state.ErrInvalidParameter, "invalid_parameter"},
	{state.ErrInsufficientShares, "insufficient_shares"},
	{state.ErrInsufficientCapacity, "insufficient_capacity"},
	{state.ErrWithdrawalInProgress, "withdrawal_in_progress"},
	{state.ErrNoWithdrawal, "no_withdrawal"},
	{state.ErrNotReadyYet, "not_ready_yet"},
	{state.ErrNotReadyToRefund, "not_ready_to_refund"},
	{state.ErrAlreadyRefunded, "already_refunded"},
	{state.ErrNoCoverage, "no_coverage"},
	{state.ErrUnknownPolicy, "unknown_policy"},
	{state.ErrUnknownRequest, "unknown_request"},
	{state.ErrUnauthorized, "unauthorized"},
	{state.ErrAlreadyExecuted, "already_executed"},
	{state.ErrNotEnoughVotes, "not_enough_votes"},
	{state.ErrNotConfigured, "not_configured"},
	{state.ErrAlreadyConfigured, "already_configured"},
	{state.ErrPoolDepleted, "pool_depleted"},
	{state.ErrTransfer, "transfer"},
}

func rejectReason(err error) string {
	for _, r := range rejectReasons {
		if errors.Is(err, r.err) {
			return r.reason
		}
	}
	return "other"
}

func (e *Engine) recordRejected(name, reason string) {
	if e.metrics != nil {
		e.metrics.CoreCommandsRejected.WithLabelValues(name, reason).Inc()
	}
}

func (e *Engine) recordWeekRegression(name, action string) {
	if e.metrics != nil {
		e.metrics.WeekRegressions.WithLabelValues(name, action).Inc()
	}
}

func (e *Engine) recordApplied(name string, cmd event.Command, res *Result, start time.Time) {
	m := e.metrics
	if m == nil {
		return
	}

	m.CoreCommandsApplied.WithLabelValues(name).Inc()
	m.CoreCommandDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	m.CoreSequence.Set(float64(e.sequence))
	if week, ok := e.weeks.LastWeek(); ok {
		m.CoreWeek.Set(float64(week))
	}

	m.PoolCollateral.Set(e.capital.TotalBaseValue().Float64())
	m.PoolTotalShares.Set(e.capital.TotalShares().Float64())
	m.PoolAmountPerShare.Set(e.capital.AmountPerShare().Float64())
	m.PoolProviders.Set(float64(len(e.capital.Providers())))

	if res.Batch != nil {
		for _, j := range res.Batch.Journals {
			m.CoreJournals.WithLabelValues(j.JournalType.String()).Inc()
			v := j.Amount.Float64()
			switch j.JournalType {
			case ledger.JournalTypePremiumPaid:
				m.PremiumPaid.Add(v)
			case ledger.JournalTypePremiumAccrued:
				m.PremiumAccrued.Add(v)
			case ledger.JournalTypeManagementFee1:
				m.ManagementFees.WithLabelValues("fee1").Add(v)
			case ledger.JournalTypeManagementFee2:
				m.ManagementFees.WithLabelValues("fee2").Add(v)
			case ledger.JournalTypeRefundReserved:
				m.RefundsReserved.Add(v)
			case ledger.JournalTypeRefundPaid:
				m.RefundsPaid.Add(v)
			case ledger.JournalTypeClaimPayout:
				m.ClaimsPaid.Add(v)
			case ledger.JournalTypeWithdrawalPayout:
				m.WithdrawalsPaid.Add(v)
			}
		}
	}
	if res.Payout != nil {
		m.WithdrawalFees.Add(res.Payout.Fee.Float64())
	}

	switch c := cmd.(type) {
	case *event.Propose:
		m.GovernanceRequests.WithLabelValues(c.Payload.Kind().String(), "proposed").Inc()
	case *event.Vote:
		if r, err := e.governance.Request(c.RequestID); err == nil {
			m.GovernanceRequests.WithLabelValues(r.Kind().String(), "voted").Inc()
		}
	case *event.Execute:
		if r, err := e.governance.Request(c.RequestID); err == nil {
			m.GovernanceRequests.WithLabelValues(r.Kind().String(), "executed").Inc()
		}
	}
}
