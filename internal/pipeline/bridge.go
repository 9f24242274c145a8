package pipeline

import (
	"context"

	"VaultLedger/internal/core"
	"VaultLedger/internal/ingestion"
	fpmath "VaultLedger/internal/math"
	"VaultLedger/internal/observability"
	"VaultLedger/internal/persistence"
	"VaultLedger/internal/projection"

	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
)

// PersistRows converts a committed output to its row form.
func PersistRows(out core.CoreOutput) persistence.CoreOutput {
	return persistence.CoreOutput{
		EventRow:    persistence.EventRowFromEnvelope(out.Envelope),
		JournalRows: persistence.JournalRowsFromBatch(out.Batch),
	}
}

// ProjectionOf converts a committed output for the projection worker.
func ProjectionOf(out core.CoreOutput) projection.ProjectionOutput {
	return projection.ProjectionOutput{
		Sequence: out.Envelope.Sequence,
		Event:    out.Event,
		Vault:    VaultRowOf(out.Vault),
	}
}

// VaultRowOf formats the engine's aggregate state as a vault_state row.
func VaultRowOf(s core.VaultSummary) projection.VaultRow {
	p := s.Position
	return projection.VaultRow{
		Acc:            dec(s.Acc),
		TotalWeight:    s.TotalWeight,
		StakedRecords:  s.StakedRecords,
		HeldRevenue:    dec(s.HeldRevenue),
		PositionStatus: p.Status.String(),
		PositionID:     p.PositionID,
		Principal:      [2]string{dec(p.Principal.Amount0), dec(p.Principal.Amount1)},
		Carry:          [2]string{dec(p.Carry.Amount0), dec(p.Carry.Amount1)},
		TreasuryOwed:   dec(p.TreasuryOwed),
	}
}

// Bridge moves committed outputs from the engine's channels to the workers.
// Persistence is forwarded with blocking sends; projection and publish
// sends drop when full.
type Bridge struct {
	PersistIn     <-chan core.CoreOutput
	ProjectionIn  <-chan core.CoreOutput
	PersistOut    chan<- persistence.CoreOutput
	ProjectionOut chan<- projection.ProjectionOutput
	PublishOut    chan<- ingestion.PublishableEvent // optional
	Metrics       *observability.Metrics
	Logger        zerolog.Logger
}

// RunPersist forwards until PersistIn closes or ctx is cancelled. On
// cancellation it drains what the engine already handed over, then closes
// PersistOut so the worker flushes and exits.
func (b *Bridge) RunPersist(ctx context.Context) error {
	defer close(b.PersistOut)
	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case out := <-b.PersistIn:
					b.PersistOut <- PersistRows(out)
				default:
					return ctx.Err()
				}
			}
		case out, ok := <-b.PersistIn:
			if !ok {
				return nil
			}
			b.PersistOut <- PersistRows(out)
			if b.Metrics != nil {
				b.Metrics.SetChannelMetrics("persist", len(b.PersistOut), cap(b.PersistOut))
			}
		}
	}
}

// RunProjection fans ProjectionIn out to the projection worker and the
// outbound publisher.
func (b *Bridge) RunProjection(ctx context.Context) error {
	defer close(b.ProjectionOut)
	if b.PublishOut != nil {
		defer close(b.PublishOut)
	}
	log := b.Logger.With().Str("component", "bridge").Logger()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case out, ok := <-b.ProjectionIn:
			if !ok {
				return nil
			}
			select {
			case b.ProjectionOut <- ProjectionOf(out):
			default:
				if b.Metrics != nil {
					b.Metrics.ProjectionDrops.WithLabelValues(out.Envelope.EventType.String()).Inc()
				}
				log.Warn().Int64("sequence", out.Envelope.Sequence).Msg("projection channel full, output dropped")
			}
			if b.PublishOut == nil {
				continue
			}
			select {
			case b.PublishOut <- ingestion.PublishableFromEnvelope(out.Envelope):
			default:
				if b.Metrics != nil {
					b.Metrics.PublishDrops.Inc()
				}
			}
			if b.Metrics != nil {
				b.Metrics.SetChannelMetrics("projection", len(b.ProjectionOut), cap(b.ProjectionOut))
			}
		}
	}
}

func dec(v *uint256.Int) string {
	return fpmath.Clone(v).Dec()
}
