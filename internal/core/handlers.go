package core

import (
	"CoverPool/internal/event"
	"CoverPool/internal/ledger"
	fpmath "CoverPool/internal/math"
	"CoverPool/internal/state"
	"context"
	"fmt"

	"github.com/google/uuid"
)

func (e *Engine) dispatch(ctx context.Context, cmd event.Command) (*Result, *ledger.Batch, error) {
	if _, ok := cmd.(*event.Setup); !ok && !e.configured {
		return nil, nil, state.ErrNotConfigured
	}

	switch c := cmd.(type) {
	case *event.Setup:
		return e.handleSetup(c)
	case *event.AddPolicy:
		return e.handleAddPolicy(c)
	case *event.Deposit:
		return e.handleDeposit(ctx, c)
	case *event.RequestWithdraw:
		return e.handleRequestWithdraw(c)
	case *event.AdvancePending:
		return e.handleAdvancePending(c)
	case *event.AdvanceReady:
		return e.handleAdvanceReady(ctx, c)
	case *event.Buy:
		return e.handleBuy(ctx, c)
	case *event.AccruePremium:
		return e.handleAccruePremium(ctx, c)
	case *event.Refund:
		return e.handleRefund(ctx, c)
	case *event.Propose:
		return e.handlePropose(c)
	case *event.Vote:
		return e.handleVote(c)
	case *event.Execute:
		return e.handleExecute(ctx, c)
	default:
		return nil, nil, fmt.Errorf("unknown command type: %T", cmd)
	}
}

func (e *Engine) batchContext(cmd event.Command) ledger.BatchContext {
	return ledger.BatchContext{
		EventRef: cmd.IdempotencyKey(),
		Sequence: e.sequence,
		Week:     cmd.Week(),
	}
}

func (e *Engine) activeTransfer() AssetTransfer {
	if e.replaying {
		return noopTransfer{}
	}
	return e.transfer
}

func (e *Engine) transferIn(ctx context.Context, from uuid.UUID, amount fpmath.Amount) error {
	if amount.Sign() <= 0 {
		return nil
	}
	if err := e.activeTransfer().TransferIn(ctx, from, amount); err != nil {
		return fmt.Errorf("%w: %s from %s: %v", state.ErrTransfer, amount, from, err)
	}
	return nil
}

func (e *Engine) transferOut(ctx context.Context, to uuid.UUID, amount fpmath.Amount) error {
	if amount.Sign() <= 0 {
		return nil
	}
	if err := e.activeTransfer().TransferOut(ctx, to, amount); err != nil {
		return fmt.Errorf("%w: %s to %s: %v", state.ErrTransfer, amount, to, err)
	}
	return nil
}

func (e *Engine) requireManager(caller uuid.UUID, action string) error {
	if caller != e.governance.Committee().Manager() {
		return fmt.Errorf("%w: %s requires the pool manager", state.ErrUnauthorized, action)
	}
	return nil
}

// handleSetup installs the manager, committee and parameters once.
// Later changes go through governance.
func (e *Engine) handleSetup(c *event.Setup) (*Result, *ledger.Batch, error) {
	if e.configured {
		return nil, nil, state.ErrAlreadyConfigured
	}
	if c.Caller() != c.Manager {
		return nil, nil, fmt.Errorf("%w: setup must be submitted by the manager", state.ErrUnauthorized)
	}

	params := *c.Params
	if err := state.ValidatePoolParams(&params); err != nil {
		return nil, nil, err
	}
	if err := e.governance.Committee().Install(c.Manager, c.Committee, c.Threshold); err != nil {
		return nil, nil, err
	}

	e.params = params
	e.configured = true

	e.logger.Info().
		Str("manager", c.Manager.String()).
		Int("committee", len(c.Committee)).
		Int("threshold", c.Threshold).
		Str("pool", params.Name).
		Msg("pool configured")

	return &Result{}, nil, nil
}

func (e *Engine) handleAddPolicy(c *event.AddPolicy) (*Result, *ledger.Batch, error) {
	if err := e.requireManager(c.Caller(), "add policy"); err != nil {
		return nil, nil, err
	}

	p, err := e.book.AddPolicy(c.CollateralRatio, c.WeeklyPremium, c.Name, c.Terms, c.Week())
	if err != nil {
		return nil, nil, err
	}

	e.logger.Info().
		Int64("policy_id", p.ID).
		Str("name", p.Name).
		Str("collateral_ratio", p.CollateralRatio.String()).
		Str("weekly_premium", p.WeeklyPremium.String()).
		Msg("policy added")

	return &Result{PolicyID: p.ID}, nil, nil
}

func (e *Engine) handleDeposit(ctx context.Context, c *event.Deposit) (*Result, *ledger.Batch, error) {
	if c.Amount.Sign() <= 0 {
		return nil, nil, state.ErrInvalidAmount
	}
	if c.Amount.LessThan(e.params.MinimumDeposit) {
		return nil, nil, fmt.Errorf("%w: deposit %s below minimum %s", state.ErrInvalidAmount, c.Amount, e.params.MinimumDeposit)
	}
	if _, err := e.capital.SharesFor(c.Amount); err != nil {
		return nil, nil, err
	}

	if err := e.transferIn(ctx, c.Caller(), c.Amount); err != nil {
		return nil, nil, err
	}

	shares, err := e.capital.Mint(c.Caller(), c.Amount)
	if err != nil {
		panic(fmt.Sprintf("FATAL: mint after successful quote: %v", err))
	}

	batch := e.journalGen.GenerateDeposit(e.batchContext(c), c.Caller(), c.Amount)
	return &Result{Shares: shares}, batch, nil
}

// handleRequestWithdraw holds the shares. Nothing moves on the ledger
// until the request is paid.
func (e *Engine) handleRequestWithdraw(c *event.RequestWithdraw) (*Result, *ledger.Batch, error) {
	if err := e.withdrawals.Request(c.Caller(), c.Shares, c.Week()); err != nil {
		return nil, nil, err
	}
	return &Result{Shares: c.Shares}, nil, nil
}

func (e *Engine) handleAdvancePending(c *event.AdvancePending) (*Result, *ledger.Batch, error) {
	advanced, err := e.withdrawals.AdvancePending(c.Provider, c.Week(), e.params.WithdrawDelayWeeks)
	if err != nil {
		return nil, nil, err
	}
	return &Result{Advanced: advanced}, nil, nil
}

// handleAdvanceReady pays the provider the value of the held shares,
// less the withdrawal fee which stays in the pool.
func (e *Engine) handleAdvanceReady(ctx context.Context, c *event.AdvanceReady) (*Result, *ledger.Batch, error) {
	payout, err := e.withdrawals.QuoteReady(c.Provider, c.Week(), e.params.WithdrawReadyWeeks, e.params.WithdrawFee)
	if err != nil {
		return nil, nil, err
	}

	if err := e.transferOut(ctx, c.Provider, payout.Net); err != nil {
		return nil, nil, err
	}

	if err := e.withdrawals.Complete(c.Provider, payout); err != nil {
		panic(fmt.Sprintf("FATAL: complete withdrawal after payout: %v", err))
	}

	batch := e.journalGen.GenerateWithdrawalPayout(e.batchContext(c), c.Provider, payout.Net)
	return &Result{Payout: payout, Shares: payout.Shares, Advanced: true}, batch, nil
}

// handleBuy sells coverage for [StartWeek, EndWeek) and pulls the full
// premium into escrow.
func (e *Engine) handleBuy(ctx context.Context, c *event.Buy) (*Result, *ledger.Batch, error) {
	p, err := e.book.Policy(c.PolicyID)
	if err != nil {
		return nil, nil, err
	}
	if c.Amount.Sign() <= 0 {
		return nil, nil, state.ErrInvalidAmount
	}
	if c.StartWeek <= c.Week() {
		return nil, nil, fmt.Errorf("%w: coverage must start after week %d, got %d", state.ErrInvalidRange, c.Week(), c.StartWeek)
	}
	if c.EndWeek <= c.StartWeek {
		return nil, nil, fmt.Errorf("%w: end week %d not after start week %d", state.ErrInvalidRange, c.EndWeek, c.StartWeek)
	}
	if weeks := c.EndWeek - c.StartWeek; weeks > e.params.PolicyWeeksLimit {
		return nil, nil, fmt.Errorf("%w: %d weeks exceeds limit %d", state.ErrInvalidRange, weeks, e.params.PolicyWeeksLimit)
	}
	if err := e.capacity.CheckPurchase(p, c.Amount, c.StartWeek, c.EndWeek); err != nil {
		return nil, nil, err
	}

	premium := e.book.QuotePremium(p, c.Amount, c.StartWeek, c.EndWeek)
	if premium.Sign() <= 0 {
		return nil, nil, fmt.Errorf("%w: coverage %s too small to price", state.ErrInvalidAmount, c.Amount)
	}
	if c.MaxPremium.Sign() > 0 && premium.GreaterThan(c.MaxPremium) {
		return nil, nil, fmt.Errorf("%w: premium %s exceeds max %s", state.ErrInvalidAmount, premium, c.MaxPremium)
	}

	if err := e.transferIn(ctx, c.Caller(), premium); err != nil {
		return nil, nil, err
	}

	if err := e.book.Record(p.ID, c.Caller(), c.Amount, c.StartWeek, c.EndWeek); err != nil {
		panic(fmt.Sprintf("FATAL: record coverage after premium paid: %v", err))
	}

	batch := e.journalGen.GeneratePremiumPaid(e.batchContext(c), c.Caller(), premium)
	return &Result{Premium: premium, PolicyID: p.ID}, batch, nil
}

// handleAccruePremium recognizes escrowed premium for every week up to
// the command's week. Calling it again in the same week only moves an
// already current watermark.
func (e *Engine) handleAccruePremium(ctx context.Context, c *event.AccruePremium) (*Result, *ledger.Batch, error) {
	plan, err := e.accrual.Plan(c.PolicyID, c.Week(), &e.params)
	if err != nil {
		return nil, nil, err
	}
	manager := e.governance.Committee().Manager()

	if err := e.transferOut(ctx, manager, plan.TotalFee2); err != nil {
		return nil, nil, err
	}

	e.accrual.Apply(plan, manager)

	batch := e.journalGen.GenerateAccrual(
		e.batchContext(c),
		manager,
		plan.TotalPool,
		plan.TotalFee1,
		plan.TotalFee2,
		plan.TotalRefund,
	)

	if !plan.Empty() {
		e.logger.Debug().
			Int64("policy_id", plan.PolicyID).
			Int64("from_week", plan.FromWeek).
			Int64("through_week", plan.ThroughWeek).
			Str("premium", plan.TotalPremium.String()).
			Str("refund", plan.TotalRefund.String()).
			Msg("premium accrued")
	}

	return &Result{Accrual: plan, PolicyID: plan.PolicyID}, batch, nil
}

func (e *Engine) handleRefund(ctx context.Context, c *event.Refund) (*Result, *ledger.Batch, error) {
	amount, err := e.claims.QuoteRefund(c.PolicyID, c.CoverageWeek, c.Buyer)
	if err != nil {
		return nil, nil, err
	}

	if err := e.transferOut(ctx, c.Buyer, amount); err != nil {
		return nil, nil, err
	}

	e.claims.CommitRefund(c.PolicyID, c.CoverageWeek, c.Buyer, amount)

	batch := e.journalGen.GenerateRefund(e.batchContext(c), c.Buyer, amount)
	return &Result{Amount: amount, PolicyID: c.PolicyID}, batch, nil
}

func (e *Engine) handlePropose(c *event.Propose) (*Result, *ledger.Batch, error) {
	switch p := c.Payload.(type) {
	case state.ClaimPayout:
		if _, err := e.book.Policy(p.PolicyID); err != nil {
			return nil, nil, err
		}
	case state.UpdatePolicy:
		if _, err := e.book.Policy(p.PolicyID); err != nil {
			return nil, nil, err
		}
	}

	r, err := e.governance.Propose(c.Caller(), c.Payload, c.Week())
	if err != nil {
		return nil, nil, err
	}

	e.logger.Info().
		Int64("request_id", r.ID).
		Str("kind", r.Kind().String()).
		Str("proposer", r.Proposer.String()).
		Msg("governance request proposed")

	return &Result{RequestID: r.ID}, nil, nil
}

func (e *Engine) handleVote(c *event.Vote) (*Result, *ledger.Batch, error) {
	if err := e.governance.Vote(c.Caller(), c.RequestID, c.Support); err != nil {
		return nil, nil, err
	}
	return &Result{RequestID: c.RequestID}, nil, nil
}

// handleExecute applies a request that reached the threshold. Anyone may
// execute; the votes are the authorization.
func (e *Engine) handleExecute(ctx context.Context, c *event.Execute) (*Result, *ledger.Batch, error) {
	r, err := e.governance.CheckExecutable(c.RequestID)
	if err != nil {
		return nil, nil, err
	}

	res := &Result{RequestID: r.ID}
	var batch *ledger.Batch

	switch p := r.Payload.(type) {
	case state.ClaimPayout:
		if err := e.claims.CheckClaim(p.Amount); err != nil {
			return nil, nil, err
		}
		if err := e.transferOut(ctx, p.Recipient, p.Amount); err != nil {
			return nil, nil, err
		}
		if err := e.claims.PayClaim(p.Amount); err != nil {
			panic(fmt.Sprintf("FATAL: pay claim after transfer: %v", err))
		}
		batch = e.journalGen.GenerateClaimPayout(e.batchContext(c), p.Recipient, p.Amount)
		res.Amount = p.Amount
		res.PolicyID = p.PolicyID

	case state.UpdatePolicy:
		if err := e.book.UpdatePolicy(p.PolicyID, p.CollateralRatio, p.WeeklyPremium, p.Name, p.Terms); err != nil {
			return nil, nil, err
		}
		res.PolicyID = p.PolicyID

	case state.UpdatePoolParameters:
		params := p.Params
		if err := state.ValidatePoolParams(&params); err != nil {
			return nil, nil, err
		}
		e.params = params

	default:
		if err := e.governance.CheckCommitteeChange(p); err != nil {
			return nil, nil, err
		}
		e.governance.ApplyCommitteeChange(p)
	}

	e.governance.MarkExecuted(r, c.Week())

	e.logger.Info().
		Int64("request_id", r.ID).
		Str("kind", r.Kind().String()).
		Int("support", e.governance.Support(r)).
		Msg("governance request executed")

	return res, batch, nil
}
