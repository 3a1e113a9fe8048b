package state

import (
	fpmath "CoverPool/internal/math"
	"fmt"
)

// PoolParams are the governance-controlled pool parameters.
type PoolParams struct {
	WithdrawDelayWeeks int64         `json:"withdraw_delay_weeks" yaml:"withdraw_delay_weeks"`
	WithdrawReadyWeeks int64         `json:"withdraw_ready_weeks" yaml:"withdraw_ready_weeks"`
	PolicyWeeksLimit   int64         `json:"policy_weeks_limit" yaml:"policy_weeks_limit"`
	WithdrawFee        fpmath.Rate   `json:"withdraw_fee" yaml:"withdraw_fee"`         // scale 1_000_000
	ManagementFee1     fpmath.Rate   `json:"management_fee1" yaml:"management_fee1"`   // minted to manager as shares
	ManagementFee2     fpmath.Rate   `json:"management_fee2" yaml:"management_fee2"`   // paid to manager in tokens
	MinimumDeposit     fpmath.Amount `json:"minimum_deposit" yaml:"-"`
	Name               string        `json:"name" yaml:"name"`
	Terms              string        `json:"terms" yaml:"terms"`
}

// DefaultPoolParams mirrors the reference deployment: 10 week delay,
// 1 week ready window, 2% withdraw fee, 5% + 3% management fees.
func DefaultPoolParams() PoolParams {
	return PoolParams{
		WithdrawDelayWeeks: 10,
		WithdrawReadyWeeks: 1,
		PolicyWeeksLimit:   10,
		WithdrawFee:        20_000,
		ManagementFee1:     50_000,
		ManagementFee2:     30_000,
		MinimumDeposit:     fpmath.NewAmount(1),
		Name:               "CoverPool",
	}
}

// ValidatePoolParams checks ranges: week counts >= 0, a positive policy
// length limit, fee fractions within [0, 100%] and fee1+fee2 <= 100%.
func ValidatePoolParams(p *PoolParams) error {
	if p.WithdrawDelayWeeks < 0 {
		return fmt.Errorf("%w: withdraw_delay_weeks must be >= 0, got %d", ErrInvalidParameter, p.WithdrawDelayWeeks)
	}
	if p.WithdrawReadyWeeks < 0 {
		return fmt.Errorf("%w: withdraw_ready_weeks must be >= 0, got %d", ErrInvalidParameter, p.WithdrawReadyWeeks)
	}
	if p.PolicyWeeksLimit <= 0 {
		return fmt.Errorf("%w: policy_weeks_limit must be > 0, got %d", ErrInvalidParameter, p.PolicyWeeksLimit)
	}
	if !p.WithdrawFee.IsFraction() {
		return fmt.Errorf("%w: withdraw_fee out of range: %d", ErrInvalidParameter, p.WithdrawFee)
	}
	if !p.ManagementFee1.IsFraction() || !p.ManagementFee2.IsFraction() {
		return fmt.Errorf("%w: management fees out of range: %d, %d", ErrInvalidParameter, p.ManagementFee1, p.ManagementFee2)
	}
	if p.ManagementFee1+p.ManagementFee2 > fpmath.RateOne {
		return fmt.Errorf("%w: management fees exceed 100%%: %d + %d", ErrInvalidParameter, p.ManagementFee1, p.ManagementFee2)
	}
	if p.MinimumDeposit.IsNegative() {
		return fmt.Errorf("%w: minimum_deposit must be >= 0", ErrInvalidParameter)
	}
	return nil
}
