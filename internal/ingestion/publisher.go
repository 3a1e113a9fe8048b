package ingestion

import (
	"CoverPool/internal/core"
	fpmath "CoverPool/internal/math"
	"CoverPool/internal/observability"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// StreamPublisher is the slice of jetstream.JetStream the publisher uses.
type StreamPublisher interface {
	Publish(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// OutboundPublisher publishes applied commands to
// coverpool.events.<type> for downstream consumers.
type OutboundPublisher struct {
	js      StreamPublisher
	in      <-chan PublishableEvent
	metrics *observability.Metrics
	logger  zerolog.Logger
}

// PublishableEvent is an applied command ready for outbound publishing.
type PublishableEvent struct {
	Sequence       int64              `json:"sequence"`
	CommandType    string             `json:"command_type"`
	IdempotencyKey string             `json:"idempotency_key"`
	Caller         uuid.UUID          `json:"caller"`
	Week           int64              `json:"week"`
	StateHash      string             `json:"state_hash"`
	PrevHash       string             `json:"prev_hash"`
	Payload        json.RawMessage    `json:"payload"`
	Journals       []PublishedJournal `json:"journals,omitempty"`
}

type PublishedJournal struct {
	JournalID     uuid.UUID     `json:"journal_id"`
	DebitAccount  string        `json:"debit_account"`
	CreditAccount string        `json:"credit_account"`
	Amount        fpmath.Amount `json:"amount"`
	JournalType   string        `json:"journal_type"`
}

// NewPublishableEvent converts a core output to its outbound form.
func NewPublishableEvent(out core.CoreOutput) PublishableEvent {
	env := out.Envelope
	evt := PublishableEvent{
		Sequence:       env.Sequence,
		CommandType:    env.CommandType.String(),
		IdempotencyKey: env.IdempotencyKey,
		Caller:         env.Caller,
		Week:           env.Week,
		StateHash:      hex.EncodeToString(env.StateHash[:]),
		PrevHash:       hex.EncodeToString(env.PrevHash[:]),
		Payload:        env.Payload,
	}
	if out.Batch != nil {
		for _, j := range out.Batch.Journals {
			evt.Journals = append(evt.Journals, PublishedJournal{
				JournalID:     j.JournalID,
				DebitAccount:  j.DebitAccount.AccountPath(),
				CreditAccount: j.CreditAccount.AccountPath(),
				Amount:        j.Amount,
				JournalType:   j.JournalType.String(),
			})
		}
	}
	return evt
}

func NewOutboundPublisher(js StreamPublisher, in <-chan PublishableEvent, metrics *observability.Metrics, logger zerolog.Logger) *OutboundPublisher {
	return &OutboundPublisher{
		js:      js,
		in:      in,
		metrics: metrics,
		logger:  logger,
	}
}

// Run publishes until ctx is done or the input channel is closed.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case evt, ok := <-op.in:
			if !ok {
				return nil
			}

			if err := op.Publish(ctx, evt); err != nil {
				// Downstream consumers can catch up from the event log.
				if op.metrics != nil {
					op.metrics.PublishDrops.Inc()
				}
				op.logger.Warn().Err(err).Int64("sequence", evt.Sequence).Msg("outbound publish failed")
			}
		}
	}
}

func (op *OutboundPublisher) Publish(ctx context.Context, evt PublishableEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	subject := fmt.Sprintf("%s.%s", EventSubjectPrefix, evt.CommandType)
	// Dedup window on the stream keys off the message id.
	_, err = op.js.Publish(ctx, subject, data, jetstream.WithMsgID(fmt.Sprintf("%d", evt.Sequence)))
	return err
}
