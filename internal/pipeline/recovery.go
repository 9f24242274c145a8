package pipeline

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"VaultLedger/internal/core"
	"VaultLedger/internal/observability"
	"VaultLedger/internal/persistence"
	"VaultLedger/internal/projection"

	"github.com/rs/zerolog"
)

const replayPageSize = 1000

// RecoveryStats describes one recovery run.
type RecoveryStats struct {
	SnapshotSequence int64 // 0 on a cold start
	Replayed         int64
	LastSequence     int64
	Rebuilt          bool // projections were rebuilt from the log
}

// Recoverer restores a fresh engine from the latest verified snapshot and
// replays the event log tail through Engine.Replay. It must run before the
// actor starts.
type Recoverer struct {
	DB          *sql.DB
	Snapshots   *persistence.SnapshotManager
	LRUCapacity int
	Metrics     *observability.Metrics
	Logger      zerolog.Logger
}

func (r *Recoverer) Recover(ctx context.Context, engine *core.Engine) (RecoveryStats, error) {
	log := r.Logger.With().Str("component", "recovery").Logger()
	start := time.Now()
	var stats RecoveryStats

	snap, err := r.Snapshots.LoadLatestSnapshot(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("failed to load snapshot, replaying from the start of the log")
		snap = nil
	}
	if snap != nil {
		state, err := snap.State()
		if err != nil {
			return stats, fmt.Errorf("decode snapshot %d: %w", snap.Sequence, err)
		}
		if err := engine.RestoreFromSnapshot(state); err != nil {
			return stats, fmt.Errorf("restore snapshot %d: %w", snap.Sequence, err)
		}
		stats.SnapshotSequence = snap.Sequence
		log.Info().Int64("sequence", snap.Sequence).Msg("restored snapshot")
	} else {
		log.Info().Msg("no snapshot found, cold start")
	}

	validator := core.NewReplayValidator(engine.Sequence(), engine.StateHash())
	for {
		rows, err := r.Snapshots.LoadEventsFrom(ctx, validator.NextSequence(), replayPageSize)
		if err != nil {
			return stats, fmt.Errorf("load events from %d: %w", validator.NextSequence(), err)
		}
		if len(rows) == 0 {
			break
		}
		for _, row := range rows {
			env, err := row.Envelope()
			if err != nil {
				return stats, err
			}
			if err := validator.Validate(env); err != nil {
				if r.Metrics != nil {
					r.Metrics.ReplaySequenceGap.Inc()
				}
				return stats, err
			}
			if err := engine.Replay(env); err != nil {
				return stats, fmt.Errorf("replay sequence %d: %w", env.Sequence, err)
			}
			stats.Replayed++
			if r.Metrics != nil {
				r.Metrics.ReplayEventsTotal.Inc()
			}
		}
	}
	stats.LastSequence = engine.LastSequence()

	if r.LRUCapacity > 0 {
		keys, err := r.Snapshots.RecentIdempotencyKeys(ctx, r.LRUCapacity)
		if err != nil {
			return stats, fmt.Errorf("warm idempotency cache: %w", err)
		}
		engine.WarmLRU(keys)
	}

	watermark, err := projection.LoadWatermark(ctx, r.DB)
	if err != nil {
		return stats, fmt.Errorf("load projection watermark: %w", err)
	}
	if watermark < stats.LastSequence {
		log.Warn().Int64("watermark", watermark).Int64("last_sequence", stats.LastSequence).
			Msg("projections behind the event log, rebuilding")
		if _, err := projection.RebuildProjections(ctx, r.DB, r.Logger); err != nil {
			return stats, fmt.Errorf("rebuild projections: %w", err)
		}
		stats.Rebuilt = true
	}
	if stats.LastSequence > 0 {
		if err := projection.WriteVaultState(ctx, r.DB, stats.LastSequence, VaultRowOf(engine.Summary())); err != nil {
			return stats, fmt.Errorf("write vault state: %w", err)
		}
	}

	if r.Metrics != nil {
		r.Metrics.ReplayDuration.Set(time.Since(start).Seconds())
		r.Metrics.CoreSequence.Set(float64(stats.LastSequence))
	}
	log.Info().Int64("replayed", stats.Replayed).Int64("last_sequence", stats.LastSequence).
		Dur("took", time.Since(start)).Msg("recovery complete")
	return stats, nil
}
