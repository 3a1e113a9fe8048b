package ingestion

import (
	"CoverPool/internal/clock"
	"CoverPool/internal/event"
	fpmath "CoverPool/internal/math"
	"CoverPool/internal/observability"
	"CoverPool/internal/state"
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// CommandService submits commands synchronously and reports the
// outcome. It backs POST /v1/commands/<type> and the keeper; NATS
// remains the high-throughput path.
type CommandService struct {
	proc    Processor
	clock   clock.Clock
	metrics *observability.Metrics
	logger  zerolog.Logger
}

func NewCommandService(proc Processor, clk clock.Clock, metrics *observability.Metrics, logger zerolog.Logger) *CommandService {
	return &CommandService{
		proc:    proc,
		clock:   clk,
		metrics: metrics,
		logger:  logger,
	}
}

// SubmitResult is the JSON body returned for an accepted command.
type SubmitResult struct {
	CommandType string `json:"command_type"`
	CommandID   string `json:"command_id"`
	Duplicate   bool   `json:"duplicate"`
	Sequence    int64  `json:"sequence"`
	StateHash   string `json:"state_hash,omitempty"`
	Week        int64  `json:"week"`

	Shares    *fpmath.Amount          `json:"shares,omitempty"`
	Premium   *fpmath.Amount          `json:"premium,omitempty"`
	Amount    *fpmath.Amount          `json:"amount,omitempty"`
	Payout    *state.WithdrawalPayout `json:"payout,omitempty"`
	Accrual   *state.AccrualPlan      `json:"accrual,omitempty"`
	PolicyID  *int64                  `json:"policy_id,omitempty"`
	RequestID *int64                  `json:"request_id,omitempty"`
}

// Submit decodes body as the named command type and applies it.
func (s *CommandService) Submit(ctx context.Context, typeName string, body []byte) (*SubmitResult, error) {
	ct, err := ParseCommandName(typeName)
	if err != nil {
		return nil, err
	}
	cmd, err := ParseCommand(ct, body, s.clock)
	if err != nil {
		return nil, err
	}
	return s.SubmitCommand(ctx, cmd)
}

// SubmitCommand applies an already typed command.
func (s *CommandService) SubmitCommand(ctx context.Context, cmd event.Command) (*SubmitResult, error) {
	start := time.Now()
	res, err := s.proc.ProcessCommand(ctx, cmd)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", cmd.CommandType(), err)
	}
	if s.metrics != nil {
		s.metrics.IngestToApply.WithLabelValues("http").Observe(time.Since(start).Seconds())
	}

	out := &SubmitResult{
		CommandType: cmd.CommandType().String(),
		CommandID:   cmd.IdempotencyKey(),
		Duplicate:   res.Duplicate,
		Week:        cmd.Week(),
	}
	if res.Duplicate {
		s.logger.Debug().Str("command", out.CommandType).Str("key", out.CommandID).Msg("duplicate command")
		return out, nil
	}
	out.Sequence = res.Sequence
	out.StateHash = hex.EncodeToString(res.StateHash[:])

	switch cmd.CommandType() {
	case event.CommandTypeAddPolicy:
		out.PolicyID = &res.PolicyID
	case event.CommandTypeDeposit:
		out.Shares = &res.Shares
	case event.CommandTypeAdvanceReady:
		out.Payout = res.Payout
	case event.CommandTypeBuy:
		out.Premium = &res.Premium
	case event.CommandTypeAccruePremium:
		out.Accrual = res.Accrual
	case event.CommandTypeRefund:
		out.Amount = &res.Amount
	case event.CommandTypePropose:
		out.RequestID = &res.RequestID
	}
	return out, nil
}
