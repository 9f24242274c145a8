package ingestion

import (
	"context"
	"errors"
	"time"

	"VaultLedger/internal/core"
	"VaultLedger/internal/event"
	"VaultLedger/internal/ledger"
	"VaultLedger/internal/observability"
	"VaultLedger/internal/weights"

	"github.com/rs/zerolog"
)

// CommandSubmitter executes one command on the single writer.
type CommandSubmitter interface {
	Submit(ctx context.Context, cmd event.Command) (*core.Result, error)
}

// Disposition is what happens to an inbound message after handling.
type Disposition string

const (
	DispositionAck   Disposition = "ack"
	DispositionRetry Disposition = "retry"
	DispositionDrop  Disposition = "drop"
)

// RetryDelay is the redelivery delay for retryable failures.
const RetryDelay = 30 * time.Second

// Classify decides the disposition of a handled command. Redelivery is safe
// for any command because the engine deduplicates on the request id.
func Classify(res *core.Result, err error) Disposition {
	if err == nil {
		return DispositionAck
	}
	if res != nil && len(res.Envelopes) > 0 {
		// partially committed; a redelivery would be a duplicate
		return DispositionAck
	}
	switch {
	case errors.Is(err, ErrMalformed),
		errors.Is(err, ledger.ErrInvalidTransition),
		errors.Is(err, ledger.ErrInsufficientBalance),
		errors.Is(err, weights.ErrUnknownTier):
		return DispositionDrop
	default:
		return DispositionRetry
	}
}

// Dispatcher parses raw messages and submits them to the engine.
type Dispatcher struct {
	submitter CommandSubmitter
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

func NewDispatcher(submitter CommandSubmitter, metrics *observability.Metrics, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		submitter: submitter,
		metrics:   metrics,
		logger:    logger.With().Str("component", "dispatcher").Logger(),
	}
}

// Run handles messages until ctx is cancelled or in is closed.
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

// Handle processes one message and settles it with the broker.
func (d *Dispatcher) Handle(ctx context.Context, raw RawCommand) Disposition {
	var (
		res *core.Result
		err error
	)
	cmd, err := ParseCommand(raw.Kind, raw.Data)
	if err == nil {
		res, err = d.submitter.Submit(ctx, cmd)
	}
	disp := Classify(res, err)

	logEvt := d.logger.Debug()
	switch disp {
	case DispositionAck:
		raw.Ack()
	case DispositionDrop:
		logEvt = d.logger.Warn().Err(err)
		raw.Term()
	case DispositionRetry:
		logEvt = d.logger.Error().Err(err)
		raw.Nak(RetryDelay)
	}
	if res != nil && res.Duplicate {
		logEvt = logEvt.Bool("duplicate", true)
	}
	logEvt.Str("subject", raw.Subject).Str("kind", raw.Kind.String()).
		Str("disposition", string(disp)).Msg("command handled")

	if d.metrics != nil {
		d.metrics.IngestMessages.WithLabelValues(raw.Kind.String(), string(disp)).Inc()
	}
	return disp
}
