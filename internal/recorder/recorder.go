package recorder

import (
	fpmath "CoverPool/internal/math"
	"time"

	"github.com/google/uuid"
)

// WeeklyStats is the pool's position when the keeper finishes a run.
type WeeklyStats struct {
	Week               int64
	Sequence           int64 // next sequence at record time
	Collateral         fpmath.Amount
	TotalShares        fpmath.Amount
	AmountPerShare     fpmath.Amount
	EscrowedPremium    fpmath.Amount
	OutstandingRefunds fpmath.Amount
	Providers          int
	Policies           int
	RecordedAt         time.Time
}

// AccrualEvent is one policy's accrual as applied by the keeper.
type AccrualEvent struct {
	Week        int64
	PolicyID    int64
	ThroughWeek int64
	Premium     fpmath.Amount
	Refund      fpmath.Amount
	Pool        fpmath.Amount
	Fee1        fpmath.Amount
	Fee2        fpmath.Amount
}

// WithdrawalEvent is a withdrawal the keeper advanced.
type WithdrawalEvent struct {
	Week     int64
	Provider uuid.UUID
	Phase    string // "pending" or "paid"
	Net      fpmath.Amount
	Fee      fpmath.Amount
}

// Recorder persists weekly history for analysis.
type Recorder interface {
	RecordWeekly(stats *WeeklyStats) error
	RecordAccrual(evt *AccrualEvent) error
	RecordWithdrawal(evt *WithdrawalEvent) error
	Close() error
}
