package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"VaultLedger/internal/core"
	"VaultLedger/internal/observability"
	"VaultLedger/internal/persistence"

	"github.com/cenkalti/backoff/v4"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

// Snapshotter captures engine state through the actor and stores it. A
// snapshot is only marked verified once its state hash matches the logged
// hash at its sequence, so it waits for the persistence worker to catch up.
type Snapshotter struct {
	actor      *core.Actor
	store      *persistence.SnapshotManager
	clock      clockwork.Clock
	verifyWait time.Duration
	metrics    *observability.Metrics
	logger     zerolog.Logger

	mu      sync.Mutex
	lastSeq int64
}

func NewSnapshotter(actor *core.Actor, store *persistence.SnapshotManager, clock clockwork.Clock, metrics *observability.Metrics, logger zerolog.Logger) *Snapshotter {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Snapshotter{
		actor:      actor,
		store:      store,
		clock:      clock,
		verifyWait: 30 * time.Second,
		metrics:    metrics,
		logger:     logger.With().Str("component", "snapshotter").Logger(),
	}
}

// TakeSnapshot captures and stores the current state. It returns the
// snapshot sequence and encoded size; an empty engine is not snapshotted.
func (s *Snapshotter) TakeSnapshot(ctx context.Context) (int64, int, error) {
	var st *core.SnapshotState
	if err := s.actor.Do(ctx, func(_ context.Context, e *core.Engine) {
		st = e.CreateSnapshotState()
	}); err != nil {
		return 0, 0, fmt.Errorf("capture state: %w", err)
	}
	return s.save(ctx, st)
}

// Final snapshots engine directly. Only valid after the actor has stopped.
func (s *Snapshotter) Final(ctx context.Context, engine *core.Engine) (int64, int, error) {
	return s.save(ctx, engine.CreateSnapshotState())
}

// Run snapshots every interval while the engine has advanced since the last
// snapshot.
func (s *Snapshotter) Run(ctx context.Context, interval time.Duration) error {
	ticker := s.clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.Chan():
			seq, size, err := s.TakeSnapshot(ctx)
			if err != nil {
				s.logger.Warn().Err(err).Msg("periodic snapshot failed")
				continue
			}
			if size > 0 {
				s.logger.Info().Int64("sequence", seq).Int("bytes", size).Msg("periodic snapshot")
			}
		}
	}
}

func (s *Snapshotter) save(ctx context.Context, st *core.SnapshotState) (int64, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st.Sequence == 0 || st.Sequence == s.lastSeq {
		return st.Sequence, 0, nil
	}

	start := s.clock.Now()
	data := persistence.NewSnapshotData(st, start)
	size, err := s.store.SaveSnapshot(ctx, data)
	if err != nil {
		return 0, 0, fmt.Errorf("save snapshot %d: %w", st.Sequence, err)
	}
	s.lastSeq = st.Sequence

	verified, err := s.verify(ctx, data)
	if err != nil {
		return st.Sequence, size, fmt.Errorf("verify snapshot %d: %w", st.Sequence, err)
	}
	if !verified {
		s.logger.Warn().Int64("sequence", st.Sequence).Msg("snapshot left unverified, the log has not caught up or disagrees")
	}

	if s.metrics != nil {
		s.metrics.SnapshotTaken.Inc()
		s.metrics.SnapshotDuration.Observe(s.clock.Since(start).Seconds())
		s.metrics.SnapshotSizeBytes.Set(float64(size))
		s.metrics.SnapshotLastSeq.Set(float64(st.Sequence))
	}
	return st.Sequence, size, nil
}

// verify polls the event log until the snapshot's sequence is persisted.
func (s *Snapshotter) verify(ctx context.Context, data *persistence.SnapshotData) (bool, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	b.MaxElapsedTime = s.verifyWait

	var verified bool
	err := backoff.Retry(func() error {
		ok, err := s.store.VerifyAgainstLog(ctx, data)
		if err != nil {
			return backoff.Permanent(err)
		}
		if !ok {
			return errNotYetVerified
		}
		verified = true
		return nil
	}, backoff.WithContext(b, ctx))
	if errors.Is(err, errNotYetVerified) {
		return false, nil
	}
	return verified, err
}

var errNotYetVerified = errors.New("snapshot not yet verified")
