package core

import (
	"CoverPool/internal/event"
	fpmath "CoverPool/internal/math"
	"CoverPool/internal/state"
	"context"

	"github.com/google/uuid"
)

// Convenience entry points for in-process callers. Each builds the
// command with a fresh id and the clock's current week.

func (e *Engine) header(caller uuid.UUID) event.Header {
	h := event.Header{CommandID: uuid.New(), CallerID: caller}
	h.StampWeek(e.clock.CurrentWeek())
	return h
}

// Setup installs manager, committee and parameters. A nil params uses
// the engine defaults; threshold 0 uses the default threshold.
func (e *Engine) Setup(ctx context.Context, manager uuid.UUID, committee []uuid.UUID, threshold int, params *state.PoolParams) error {
	_, err := e.ProcessCommand(ctx, &event.Setup{
		Header:    e.header(manager),
		Manager:   manager,
		Committee: committee,
		Threshold: threshold,
		Params:    params,
	})
	return err
}

func (e *Engine) AddPolicy(ctx context.Context, caller uuid.UUID, ratio, premium fpmath.Rate, name, terms string) (int64, error) {
	res, err := e.ProcessCommand(ctx, &event.AddPolicy{
		Header:          e.header(caller),
		CollateralRatio: ratio,
		WeeklyPremium:   premium,
		Name:            name,
		Terms:           terms,
	})
	if err != nil {
		return 0, err
	}
	return res.PolicyID, nil
}

// Deposit returns the shares minted.
func (e *Engine) Deposit(ctx context.Context, caller uuid.UUID, amount fpmath.Amount) (fpmath.Amount, error) {
	res, err := e.ProcessCommand(ctx, &event.Deposit{Header: e.header(caller), Amount: amount})
	if err != nil {
		return fpmath.Zero(), err
	}
	return res.Shares, nil
}

func (e *Engine) RequestWithdraw(ctx context.Context, caller uuid.UUID, shares fpmath.Amount) error {
	_, err := e.ProcessCommand(ctx, &event.RequestWithdraw{Header: e.header(caller), Shares: shares})
	return err
}

func (e *Engine) AdvancePending(ctx context.Context, caller, provider uuid.UUID) error {
	_, err := e.ProcessCommand(ctx, &event.AdvancePending{Header: e.header(caller), Provider: provider})
	return err
}

// AdvanceReady pays out a ready withdrawal.
func (e *Engine) AdvanceReady(ctx context.Context, caller, provider uuid.UUID) (*state.WithdrawalPayout, error) {
	res, err := e.ProcessCommand(ctx, &event.AdvanceReady{Header: e.header(caller), Provider: provider})
	if err != nil {
		return nil, err
	}
	return res.Payout, nil
}

// Buy returns the premium charged. A zero maxPremium accepts any price.
func (e *Engine) Buy(ctx context.Context, caller uuid.UUID, policyID int64, amount fpmath.Amount, start, end int64, maxPremium fpmath.Amount) (fpmath.Amount, error) {
	res, err := e.ProcessCommand(ctx, &event.Buy{
		Header:     e.header(caller),
		PolicyID:   policyID,
		Amount:     amount,
		StartWeek:  start,
		EndWeek:    end,
		MaxPremium: maxPremium,
	})
	if err != nil {
		return fpmath.Zero(), err
	}
	return res.Premium, nil
}

func (e *Engine) AccruePremium(ctx context.Context, caller uuid.UUID, policyID int64) (*state.AccrualPlan, error) {
	res, err := e.ProcessCommand(ctx, &event.AccruePremium{Header: e.header(caller), PolicyID: policyID})
	if err != nil {
		return nil, err
	}
	return res.Accrual, nil
}

// Refund returns the amount paid back to buyer.
func (e *Engine) Refund(ctx context.Context, caller uuid.UUID, policyID, week int64, buyer uuid.UUID) (fpmath.Amount, error) {
	res, err := e.ProcessCommand(ctx, &event.Refund{
		Header:       e.header(caller),
		PolicyID:     policyID,
		CoverageWeek: week,
		Buyer:        buyer,
	})
	if err != nil {
		return fpmath.Zero(), err
	}
	return res.Amount, nil
}

// Propose returns the new request id.
func (e *Engine) Propose(ctx context.Context, caller uuid.UUID, payload state.Payload) (int64, error) {
	res, err := e.ProcessCommand(ctx, &event.Propose{Header: e.header(caller), Payload: payload})
	if err != nil {
		return 0, err
	}
	return res.RequestID, nil
}

func (e *Engine) Vote(ctx context.Context, caller uuid.UUID, requestID int64, support bool) error {
	_, err := e.ProcessCommand(ctx, &event.Vote{Header: e.header(caller), RequestID: requestID, Support: support})
	return err
}

func (e *Engine) Execute(ctx context.Context, caller uuid.UUID, requestID int64) error {
	_, err := e.ProcessCommand(ctx, &event.Execute{Header: e.header(caller), RequestID: requestID})
	return err
}
