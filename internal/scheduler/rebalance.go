package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"VaultLedger/internal/core"
	"VaultLedger/internal/observability"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

// Rebalancer submits one rebalance cycle.
type Rebalancer interface {
	Rebalance(ctx context.Context, requestID uuid.UUID) (*core.Result, error)
}

// Tick outcomes, also the SchedulerTicks label values.
const (
	OutcomeCommitted = "committed"
	OutcomeAborted   = "aborted"
	OutcomeNoop      = "noop"
	OutcomeFailed    = "failed"
	OutcomeSkipped   = "skipped"
	OutcomePanic     = "panic"
)

type Config struct {
	Interval   time.Duration
	Rebalancer Rebalancer
	Clock      clockwork.Clock
	Metrics    *observability.Metrics
	Logger     zerolog.Logger
}

func (cfg *Config) Validate() error {
	if cfg.Interval <= 0 {
		return errors.New("rebalance interval must be greater than 0")
	}
	if cfg.Rebalancer == nil {
		return errors.New("rebalancer is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return nil
}

// RebalanceScheduler submits a RebalanceCommand every Interval. A tick that
// fires while the previous cycle is still running is skipped.
type RebalanceScheduler struct {
	cfg      Config
	inFlight atomic.Bool
	log      zerolog.Logger
}

func NewRebalanceScheduler(cfg Config) (*RebalanceScheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &RebalanceScheduler{
		cfg: cfg,
		log: cfg.Logger.With().Str("component", "scheduler").Logger(),
	}, nil
}

// Run ticks until ctx is cancelled.
func (s *RebalanceScheduler) Run(ctx context.Context) error {
	s.log.Info().Dur("interval", s.cfg.Interval).Msg("starting rebalance loop")
	ticker := s.cfg.Clock.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.Chan():
			if !s.inFlight.CompareAndSwap(false, true) {
				s.record(OutcomeSkipped)
				s.log.Warn().Msg("previous cycle still running, tick skipped")
				continue
			}
			go func() {
				defer s.inFlight.Store(false)
				s.tick(ctx)
			}()
		}
	}
}

// Tick runs one cycle now unless one is in flight, and returns the outcome.
func (s *RebalanceScheduler) Tick(ctx context.Context) string {
	if !s.inFlight.CompareAndSwap(false, true) {
		s.record(OutcomeSkipped)
		return OutcomeSkipped
	}
	defer s.inFlight.Store(false)
	return s.tick(ctx)
}

func (s *RebalanceScheduler) tick(ctx context.Context) (outcome string) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Interface("panic", r).Msg("rebalance tick panicked")
			outcome = OutcomePanic
		}
		s.record(outcome)
	}()

	requestID := uuid.New()
	start := s.cfg.Clock.Now()
	res, err := s.cfg.Rebalancer.Rebalance(ctx, requestID)
	outcome = classify(res, err)

	evt := s.log.Info()
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return outcome
		}
		evt = s.log.Error().Err(err)
	}
	committed := 0
	if res != nil {
		committed = len(res.Envelopes)
	}
	evt.Str("request_id", requestID.String()).
		Str("outcome", outcome).
		Int("events", committed).
		Dur("duration", s.cfg.Clock.Since(start)).
		Msg("rebalance tick")
	return outcome
}

func classify(res *core.Result, err error) string {
	switch {
	case err != nil && res != nil && len(res.Envelopes) > 0:
		return OutcomeAborted
	case err != nil:
		return OutcomeFailed
	case res == nil || len(res.Envelopes) == 0:
		return OutcomeNoop
	default:
		return OutcomeCommitted
	}
}

func (s *RebalanceScheduler) record(outcome string) {
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.SchedulerTicks.WithLabelValues(outcome).Inc()
	}
}
