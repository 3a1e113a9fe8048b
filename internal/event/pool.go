package event

import (
	fpmath "CoverPool/internal/math"
	"CoverPool/internal/state"

	"github.com/google/uuid"
)

// Setup installs the manager, committee and parameters. Accepted once.
type Setup struct {
	Header
	Manager   uuid.UUID         `json:"manager"`
	Committee []uuid.UUID       `json:"committee"`
	Threshold int               `json:"threshold"`
	Params    *state.PoolParams `json:"params,omitempty"`
}

func (*Setup) CommandType() CommandType { return CommandTypeSetup }

// AddPolicy appends a catalog entry. Manager only.
type AddPolicy struct {
	Header
	CollateralRatio fpmath.Rate `json:"collateral_ratio"`
	WeeklyPremium   fpmath.Rate `json:"weekly_premium"`
	Name            string      `json:"name"`
	Terms           string      `json:"terms"`
}

func (*AddPolicy) CommandType() CommandType { return CommandTypeAddPolicy }

type Deposit struct {
	Header
	Amount fpmath.Amount `json:"amount"`
}

func (*Deposit) CommandType() CommandType { return CommandTypeDeposit }

type RequestWithdraw struct {
	Header
	Shares fpmath.Amount `json:"shares"`
}

func (*RequestWithdraw) CommandType() CommandType { return CommandTypeRequestWithdraw }

// AdvancePending is permissionless; Provider names whose request moves.
type AdvancePending struct {
	Header
	Provider uuid.UUID `json:"provider"`
}

func (*AdvancePending) CommandType() CommandType { return CommandTypeAdvancePending }

// AdvanceReady is permissionless and pays the provider out on success.
type AdvanceReady struct {
	Header
	Provider uuid.UUID `json:"provider"`
}

func (*AdvanceReady) CommandType() CommandType { return CommandTypeAdvanceReady }

// Buy purchases coverage for weeks [StartWeek, EndWeek). MaxPremium,
// when set, caps the premium the buyer agrees to pay.
type Buy struct {
	Header
	PolicyID   int64         `json:"policy_id"`
	Amount     fpmath.Amount `json:"amount"`
	StartWeek  int64         `json:"start_week"`
	EndWeek    int64         `json:"end_week"`
	MaxPremium fpmath.Amount `json:"max_premium"`
}

func (*Buy) CommandType() CommandType { return CommandTypeBuy }

type AccruePremium struct {
	Header
	PolicyID int64 `json:"policy_id"`
}

func (*AccruePremium) CommandType() CommandType { return CommandTypeAccruePremium }

type Refund struct {
	Header
	PolicyID     int64     `json:"policy_id"`
	CoverageWeek int64     `json:"coverage_week"`
	Buyer        uuid.UUID `json:"buyer"`
}

func (*Refund) CommandType() CommandType { return CommandTypeRefund }
