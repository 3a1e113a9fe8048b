package ingestion

import (
	"CoverPool/internal/clock"
	"CoverPool/internal/core"
	"CoverPool/internal/event"
	"CoverPool/internal/observability"
	"CoverPool/internal/state"
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// Processor applies a command. *core.Engine satisfies it.
type Processor interface {
	ProcessCommand(ctx context.Context, cmd event.Command) (*core.Result, error)
}

// Dispatcher drains raw NATS commands into the engine. A message is
// ACKed once its outcome is final: applied, duplicate, malformed or
// rejected by the pool. Failed asset transfers left no trace, so those
// are NAKed and JetStream redelivers them.
type Dispatcher struct {
	proc    Processor
	clock   clock.Clock
	metrics *observability.Metrics
	logger  zerolog.Logger
}

func NewDispatcher(proc Processor, clk clock.Clock, metrics *observability.Metrics, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		proc:    proc,
		clock:   clk,
		metrics: metrics,
		logger:  logger,
	}
}

// Run processes commands until ctx is done or in is closed.
func (d *Dispatcher) Run(ctx context.Context, in <-chan RawCommand) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-in:
			if !ok {
				return nil
			}
			d.Handle(ctx, raw)
		}
	}
}

// Handle applies one raw command and settles its ACK.
func (d *Dispatcher) Handle(ctx context.Context, raw RawCommand) {
	ct, err := CommandTypeFromSubject(raw.Subject)
	if err != nil {
		d.logger.Warn().Err(err).Msg("unknown command subject")
		ack(raw)
		return
	}

	cmd, err := ParseCommand(ct, raw.Data, d.clock)
	if err != nil {
		d.logger.Warn().Err(err).Str("subject", raw.Subject).Msg("parse command failed")
		ack(raw)
		return
	}

	res, err := d.proc.ProcessCommand(ctx, cmd)
	switch {
	case err == nil:
		if d.metrics != nil && !raw.Received.IsZero() {
			d.metrics.IngestToApply.WithLabelValues("nats").Observe(time.Since(raw.Received).Seconds())
		}
		if res.Duplicate {
			d.logger.Debug().Str("command", ct.String()).Str("key", cmd.IdempotencyKey()).Msg("duplicate command")
		}
		ack(raw)
	case errors.Is(err, state.ErrTransfer), ctx.Err() != nil:
		d.logger.Warn().Err(err).Str("command", ct.String()).Str("key", cmd.IdempotencyKey()).Msg("command deferred for redelivery")
		nak(raw)
	default:
		d.logger.Info().Err(err).Str("command", ct.String()).Str("key", cmd.IdempotencyKey()).Msg("command rejected")
		ack(raw)
	}
}

func ack(raw RawCommand) {
	if raw.AckFunc != nil {
		raw.AckFunc()
	}
}

func nak(raw RawCommand) {
	if raw.NakFunc != nil {
		raw.NakFunc()
	}
}
