package ingestion

import (
	"context"
	"fmt"
	"time"

	"VaultLedger/internal/event"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

const (
	CommandStream = "VAULT_COMMANDS"
	EventStream   = "VAULT_EVENTS"
)

// NATSSubscriber consumes command subjects from JetStream and hands raw
// messages to the Dispatcher. Each command kind has its own durable consumer.
type NATSSubscriber struct {
	js        jetstream.JetStream
	rawChan   chan<- RawCommand
	consumers []jetstream.ConsumeContext
	logger    zerolog.Logger
}

// RawCommand is an unparsed inbound message. Exactly one of Ack, Nak or
// Term must be called once the command has been handled.
type RawCommand struct {
	Subject   string
	Kind      event.CommandKind
	Data      []byte
	Timestamp time.Time
	Ack       func()
	Nak       func(delay time.Duration)
	Term      func()
}

// SubjectConfig maps a NATS subject to a command kind.
type SubjectConfig struct {
	Subject      string
	Kind         event.CommandKind
	ConsumerName string
	StreamName   string
}

// DefaultSubjects returns one subject per command kind.
func DefaultSubjects() []SubjectConfig {
	return []SubjectConfig{
		{Subject: "vault.commands.stake.>", Kind: event.CommandKindStake, ConsumerName: "ledger-stake", StreamName: CommandStream},
		{Subject: "vault.commands.unstake.>", Kind: event.CommandKindUnstake, ConsumerName: "ledger-unstake", StreamName: CommandStream},
		{Subject: "vault.commands.claim.>", Kind: event.CommandKindClaim, ConsumerName: "ledger-claim", StreamName: CommandStream},
		{Subject: "vault.commands.rebalance.>", Kind: event.CommandKindRebalance, ConsumerName: "ledger-rebalance", StreamName: CommandStream},
		{Subject: "vault.commands.seed.>", Kind: event.CommandKindSeedPrincipal, ConsumerName: "ledger-seed", StreamName: CommandStream},
	}
}

func NewNATSSubscriber(js jetstream.JetStream, rawChan chan<- RawCommand, logger zerolog.Logger) *NATSSubscriber {
	return &NATSSubscriber{
		js:      js,
		rawChan: rawChan,
		logger:  logger.With().Str("component", "nats_subscriber").Logger(),
	}
}

// Subscribe creates a durable consumer per subject. Consumers use explicit
// ack and MaxAckPending 1 so commands of one kind are handled in order.
func (ns *NATSSubscriber) Subscribe(ctx context.Context, subjects []SubjectConfig) error {
	for _, cfg := range subjects {
		cfg := cfg
		consumer, err := ns.js.CreateOrUpdateConsumer(ctx, cfg.StreamName, jetstream.ConsumerConfig{
			Durable:       cfg.ConsumerName,
			FilterSubject: cfg.Subject,
			AckPolicy:     jetstream.AckExplicitPolicy,
			// rebalance commands wait on venue round trips
			AckWait:       5 * time.Minute,
			MaxDeliver:    5,
			MaxAckPending: 1,
			DeliverPolicy: jetstream.DeliverAllPolicy,
		})
		if err != nil {
			return fmt.Errorf("create consumer %s: %w", cfg.ConsumerName, err)
		}

		consumerContext, err := consumer.Consume(func(msg jetstream.Msg) {
			raw := RawCommand{
				Subject:   msg.Subject(),
				Kind:      cfg.Kind,
				Data:      msg.Data(),
				Timestamp: time.Now(),
				Ack:       func() { _ = msg.Ack() },
				Nak:       func(d time.Duration) { _ = msg.NakWithDelay(d) },
				Term:      func() { _ = msg.Term() },
			}

			select {
			case ns.rawChan <- raw:
			case <-ctx.Done():
				_ = msg.Nak()
			}
		})
		if err != nil {
			return fmt.Errorf("consume %s: %w", cfg.ConsumerName, err)
		}

		ns.consumers = append(ns.consumers, consumerContext)
		ns.logger.Info().Str("subject", cfg.Subject).Str("consumer", cfg.ConsumerName).Msg("subscribed")
	}

	return nil
}

// EnsureStreams creates the command and outbound event streams.
func EnsureStreams(ctx context.Context, js jetstream.JetStream, logger zerolog.Logger) error {
	streams := []jetstream.StreamConfig{
		{
			Name:      CommandStream,
			Subjects:  []string{"vault.commands.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.WorkQueuePolicy,
			MaxAge:    72 * time.Hour,
			// request ids double as Nats-Msg-Id
			Duplicates: 10 * time.Minute,
			Replicas:   1,
		},
		{
			Name:       EventStream,
			Subjects:   []string{"vault.events.>"},
			Storage:    jetstream.FileStorage,
			Retention:  jetstream.LimitsPolicy,
			MaxAge:     72 * time.Hour,
			Duplicates: 10 * time.Minute,
			Replicas:   1,
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

// Stop stops all consumers.
func (ns *NATSSubscriber) Stop() {
	for _, cc := range ns.consumers {
		cc.Stop()
	}
	ns.logger.Info().Msg("NATS subscribers stopped")
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url string, logger zerolog.Logger) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.Name("vaultledger"),
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
