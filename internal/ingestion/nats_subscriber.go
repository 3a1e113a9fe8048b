package ingestion

import (
	"CoverPool/internal/event"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

const (
	CommandStream        = "COVERPOOL_COMMANDS"
	CommandSubjectPrefix = "coverpool.commands"
	EventStream          = "COVERPOOL_EVENTS"
	EventSubjectPrefix   = "coverpool.events"

	streamMaxAge = 72 * time.Hour
)

// NATSSubscriber consumes command subjects from JetStream and hands the
// raw bodies to the dispatcher through out.
type NATSSubscriber struct {
	js        jetstream.JetStream
	out       chan<- RawCommand
	consumers []jetstream.ConsumeContext
	logger    zerolog.Logger
}

// RawCommand is a message body not yet decoded into an event.Command.
type RawCommand struct {
	Subject  string
	Data     []byte
	Received time.Time
	AckFunc  func() // ACK once the command was applied or rejected for good
	NakFunc  func() // NAK to have JetStream redeliver
}

// SubjectConfig binds one command subject to its durable consumer.
type SubjectConfig struct {
	Subject      string
	CommandType  event.CommandType
	ConsumerName string
	StreamName   string
}

func CommandSubject(ct event.CommandType) string {
	return CommandSubjectPrefix + "." + ct.String()
}

func EventSubject(ct event.CommandType) string {
	return EventSubjectPrefix + "." + ct.String()
}

// DefaultSubjects returns one consumer per command type so a slow or
// poisoned subject does not stall the others.
func DefaultSubjects() []SubjectConfig {
	types := event.AllCommandTypes()
	out := make([]SubjectConfig, 0, len(types))
	for _, ct := range types {
		out = append(out, SubjectConfig{
			Subject:      CommandSubject(ct),
			CommandType:  ct,
			ConsumerName: "coverpool-" + strings.ToLower(ct.String()),
			StreamName:   CommandStream,
		})
	}
	return out
}

func NewNATSSubscriber(js jetstream.JetStream, out chan<- RawCommand, logger zerolog.Logger) *NATSSubscriber {
	return &NATSSubscriber{
		js:     js,
		out:    out,
		logger: logger,
	}
}

// Subscribe creates JetStream consumers for all configured subjects.
// Consumers use explicit ACK, max_deliver=5, ack_wait=30s.
func (ns *NATSSubscriber) Subscribe(ctx context.Context, subjects []SubjectConfig) error {
	for _, cfg := range subjects {
		consumer, err := ns.js.CreateOrUpdateConsumer(ctx, cfg.StreamName, jetstream.ConsumerConfig{
			Durable:       cfg.ConsumerName,
			FilterSubject: cfg.Subject,
			AckPolicy:     jetstream.AckExplicitPolicy,
			AckWait:       30 * time.Second,
			MaxDeliver:    5,
			DeliverPolicy: jetstream.DeliverAllPolicy,
		})
		if err != nil {
			return fmt.Errorf("create consumer %s: %w", cfg.ConsumerName, err)
		}

		consumerContext, err := consumer.Consume(func(msg jetstream.Msg) {
			raw := RawCommand{
				Subject:  msg.Subject(),
				Data:     msg.Data(),
				Received: time.Now(),
				AckFunc:  func() { msg.Ack() },
				NakFunc:  func() { msg.Nak() },
			}

			select {
			case ns.out <- raw:
			case <-ctx.Done():
				msg.Nak()
			}
		})
		if err != nil {
			return fmt.Errorf("consume %s: %w", cfg.ConsumerName, err)
		}

		ns.consumers = append(ns.consumers, consumerContext)
		ns.logger.Info().
			Str("subject", cfg.Subject).
			Str("consumer", cfg.ConsumerName).
			Msg("subscribed")
	}

	return nil
}

// EnsureStreams creates the command and outbound event streams if they
// don't exist. Both use file storage with limits retention.
func EnsureStreams(ctx context.Context, js jetstream.JetStream, logger zerolog.Logger) error {
	streams := []jetstream.StreamConfig{
		{
			Name:      CommandStream,
			Subjects:  []string{CommandSubjectPrefix + ".>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    streamMaxAge,
			Replicas:  1,
		},
		{
			Name:      EventStream,
			Subjects:  []string{EventSubjectPrefix + ".>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    streamMaxAge,
			Replicas:  1,
		},
	}

	for _, cfg := range streams {
		if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
			return fmt.Errorf("create stream %s: %w", cfg.Name, err)
		}
		logger.Info().Str("stream", cfg.Name).Msg("ensured stream")
	}

	return nil
}

// Stop gracefully stops all consumers.
func (ns *NATSSubscriber) Stop() {
	for _, cc := range ns.consumers {
		cc.Stop()
	}
	ns.logger.Info().Msg("NATS subscribers stopped")
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url string, logger zerolog.Logger) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.Name("coverpool"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info().Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}

	return nc, js, nil
}
