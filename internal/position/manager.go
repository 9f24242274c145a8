package position

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"VaultLedger/internal/event"
	"VaultLedger/internal/ledger"
	fpmath "VaultLedger/internal/math"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

// Status of the managed position
type Status uint8

const (
	StatusEmpty Status = iota
	StatusActive
)

func (s Status) String() string {
	if s == StatusActive {
		return "ACTIVE"
	}
	return "EMPTY"
}

// State is the persisted position state.
type State struct {
	Status       Status
	PositionID   uint64 // zero while EMPTY
	Principal    fpmath.Amounts
	Carry        fpmath.Amounts
	TreasuryOwed *uint256.Int
	Cycles       int64
	LastCycle    time.Time

	// UnresolvedHarvest is set while a sent harvest has an unknown outcome.
	UnresolvedHarvest bool
	HarvestRef        string
}

func (s State) Clone() State {
	c := s
	c.Principal = s.Principal.Clone()
	c.Carry = s.Carry.Clone()
	c.TreasuryOwed = fpmath.Clone(s.TreasuryOwed)
	return c
}

// Manager runs harvest/credit/redeploy cycles against the vault's single
// venue position.
//
// RunCycle and Sweep perform venue and treasury calls and return the event
// to commit; Apply* are the only mutators. Not thread-safe apart from the
// in-flight flag: owned by the engine goroutine.
type Manager struct {
	cfg      Config
	venue    Venue
	treasury Treasury
	ledger   *ledger.RewardLedger
	state    State
	inFlight atomic.Bool
	clock    clockwork.Clock
	logger   zerolog.Logger
}

func NewManager(
	cfg Config,
	venue Venue,
	treasury Treasury,
	l *ledger.RewardLedger,
	clock clockwork.Clock,
	logger zerolog.Logger,
) *Manager {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Manager{
		cfg:      cfg,
		venue:    venue,
		treasury: treasury,
		ledger:   l,
		state: State{
			Principal:    fpmath.ZeroAmounts(),
			Carry:        fpmath.ZeroAmounts(),
			TreasuryOwed: fpmath.Zero(),
		},
		clock:  clock,
		logger: logger.With().Str("component", "position").Logger(),
	}
}

// RunCycle executes one cycle.
//
// EMPTY: deploy principal into a new position (no harvest). ACTIVE: harvest
// the live position, split settlement fees into tax and staker revenue,
// reinvest other-asset fees, and increase liquidity on the same position.
//
// Returns (nil, nil) when there is nothing viable to do. If a failure occurs
// after fees were harvested, the returned event is a CycleAborted that must
// be committed together with the returned error.
func (m *Manager) RunCycle(ctx context.Context, cycleID uuid.UUID) (event.Event, error) {
	if !m.inFlight.CompareAndSwap(false, true) {
		return nil, ledger.ErrCycleInFlight
	}
	defer m.inFlight.Store(false)

	if m.state.Status == StatusEmpty {
		return m.mint(ctx, cycleID)
	}
	return m.steady(ctx, cycleID)
}

// InFlight reports whether a cycle is running.
func (m *Manager) InFlight() bool {
	return m.inFlight.Load()
}

func (m *Manager) mint(ctx context.Context, cycleID uuid.UUID) (event.Event, error) {
	deploy, err := m.deployAmounts(m.state.Principal)
	if err != nil {
		return nil, err
	}
	if !m.viable(deploy) {
		m.logger.Info().Str("amount0", deploy.Get(0).Dec()).Str("amount1", deploy.Get(1).Dec()).
			Msg("principal below minimum deposit, skipping first deploy")
		return nil, nil
	}

	// A mint is never retried: a retry after a lost receipt would open a second position.
	id, err := m.venue.DeployPosition(ctx, deploy)
	if err != nil {
		return nil, fmt.Errorf("%w: deploy: %v", ledger.ErrExternalVenueFailure, err)
	}
	if id == 0 {
		return nil, ledger.Violation("venue returned zero position id")
	}

	m.logger.Info().Uint64("position_id", id).Msg("position minted")
	return &event.Rebalanced{
		CycleID:       cycleID,
		PositionID:    id,
		Minted:        true,
		Harvested:     fpmath.ZeroAmounts(),
		CarryUsed:     fpmath.ZeroAmounts(),
		TreasuryTax:   fpmath.Zero(),
		StakerRevenue: fpmath.Zero(),
		Distributed:   fpmath.Zero(),
		HeldAfter:     m.ledger.HeldRevenue(),
		Reinvested:    fpmath.Zero(),
		Deployed:      deploy,
		Redeployed:    true,
		Timestamp:     m.clock.Now().UTC(),
	}, nil
}

func (m *Manager) steady(ctx context.Context, cycleID uuid.UUID) (event.Event, error) {
	id := m.state.PositionID

	if err := m.retry(ctx, "read_position", func() error {
		_, err := m.venue.ReadPositionState(ctx, id)
		return err
	}); err != nil {
		return nil, fmt.Errorf("%w: read position %d: %v", ledger.ErrExternalVenueFailure, id, err)
	}

	recovered := fpmath.ZeroAmounts()
	if m.state.UnresolvedHarvest {
		ref := m.state.HarvestRef
		err := m.retry(ctx, "resolve_harvest", func() error {
			var err error
			recovered, err = m.venue.ResolveHarvest(ctx, id, ref)
			return err
		})
		if errors.Is(err, ErrUnconfirmed) {
			// no new harvest while an earlier one may still execute
			err = fmt.Errorf("%w: harvest %s unresolved: %w", ledger.ErrExternalVenueFailure, ref, err)
			return m.abort(cycleID, id, fpmath.ZeroAmounts(), ref, err), err
		}
		if err != nil {
			return nil, fmt.Errorf("%w: resolve harvest %s: %v", ledger.ErrExternalVenueFailure, ref, err)
		}
		m.logger.Info().Str("ref", ref).Str("amount0", recovered.Get(0).Dec()).
			Str("amount1", recovered.Get(1).Dec()).Msg("unresolved harvest recovered")
	}

	// Only failures before the harvest is sent are retried. Once sent, an
	// unknown outcome is committed as an unresolved abort.
	var fees fpmath.Amounts
	if err := m.retry(ctx, "harvest", func() error {
		var err error
		fees, err = m.venue.HarvestFees(ctx, id)
		return err
	}); err != nil {
		var unconfirmed *UnconfirmedError
		if errors.As(err, &unconfirmed) {
			err = fmt.Errorf("%w: harvest %d: %w", ledger.ErrExternalVenueFailure, id, err)
			return m.abort(cycleID, id, recovered, unconfirmed.Ref, err), err
		}
		return nil, fmt.Errorf("%w: harvest %d: %v", ledger.ErrExternalVenueFailure, id, err)
	}
	fees, err := fees.Add(recovered)
	if err != nil {
		return nil, ledger.Violation("harvest overflow: %v", err)
	}

	// Fees are now in the vault. The rest of the cycle completes or records carry.
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.CycleTimeout)
	defer cancel()

	evt, err := m.planSteady(cycleID, id, fees)
	if err != nil {
		return m.abort(cycleID, id, fees, "", err), err
	}

	if evt.Redeployed {
		got, err := m.venue.IncreaseLiquidity(cctx, id, evt.Deployed)
		if err != nil {
			err = fmt.Errorf("%w: increase liquidity %d: %v", ledger.ErrExternalVenueFailure, id, err)
			return m.abort(cycleID, id, fees, "", err), err
		}
		if got != id {
			err = ledger.Violation("dual position: venue credited position %d, live position is %d", got, id)
			return m.abort(cycleID, id, fees, "", err), err
		}
	} else {
		m.logger.Info().Uint64("position_id", id).Msg("redeploy below minimum deposit, principal retained")
	}
	return evt, nil
}

func (m *Manager) planSteady(cycleID uuid.UUID, id uint64, fees fpmath.Amounts) (*event.Rebalanced, error) {
	si, oi := m.cfg.SettlementIndex, 1-m.cfg.SettlementIndex

	total, err := fees.Add(m.state.Carry)
	if err != nil {
		return nil, ledger.Violation("harvest overflow: %v", err)
	}
	settlement := total.Get(si)
	tax, err := fpmath.ApplyBps(settlement, m.cfg.TaxBps)
	if err != nil {
		return nil, ledger.Violation("tax: %v", err)
	}
	staker := new(uint256.Int).Sub(settlement, tax)

	credit, err := m.ledger.PlanCredit(staker)
	if err != nil {
		return nil, err
	}

	reinvested := total.Get(oi)
	otherPrincipal, err := fpmath.Add(m.state.Principal.Get(oi), reinvested)
	if err != nil {
		return nil, ledger.Violation("principal overflow: %v", err)
	}
	principal := m.state.Principal.With(oi, otherPrincipal)

	deploy, err := m.deployAmounts(principal)
	if err != nil {
		return nil, err
	}
	redeploy := m.viable(deploy)
	if !redeploy {
		deploy = fpmath.ZeroAmounts()
	}

	return &event.Rebalanced{
		CycleID:       cycleID,
		PositionID:    id,
		Harvested:     fees.Clone(),
		CarryUsed:     m.state.Carry.Clone(),
		TreasuryTax:   tax,
		StakerRevenue: staker,
		Distributed:   credit.Distributed,
		HeldAfter:     credit.HeldAfter,
		Reinvested:    reinvested,
		Deployed:      deploy,
		Redeployed:    redeploy,
		Timestamp:     m.clock.Now().UTC(),
	}, nil
}

// abort builds the CycleAborted that carries fees. A non-empty ref marks a
// harvest whose outcome the next cycle must resolve.
func (m *Manager) abort(cycleID uuid.UUID, id uint64, fees fpmath.Amounts, ref string, cause error) *event.CycleAborted {
	m.logger.Error().Err(cause).Uint64("position_id", id).
		Str("carry0", fees.Get(0).Dec()).Str("carry1", fees.Get(1).Dec()).
		Str("unresolved_ref", ref).
		Msg("cycle aborted after harvest, fees carried")
	return &event.CycleAborted{
		CycleID:    cycleID,
		PositionID: id,
		Harvested:  fees.Clone(),
		Unresolved: ref != "",
		HarvestRef: ref,
		Reason:     cause.Error(),
		Timestamp:  m.clock.Now().UTC(),
	}
}

// Sweep transfers owed tax to the treasury. Returns (nil, nil) when nothing is owed.
func (m *Manager) Sweep(ctx context.Context, cycleID uuid.UUID) (*event.TreasurySwept, error) {
	owed := fpmath.Clone(m.state.TreasuryOwed)
	if owed.IsZero() || m.treasury == nil {
		return nil, nil
	}
	bal, err := m.treasury.BalanceOf(ctx, m.cfg.Vault)
	if err != nil {
		return nil, fmt.Errorf("%w: balanceOf vault: %v", ledger.ErrExternalVenueFailure, err)
	}
	if bal.Lt(owed) {
		return nil, fmt.Errorf("treasury owed %s, vault holds %s: %w", owed.Dec(), bal.Dec(), ledger.ErrInsufficientBalance)
	}
	if err := m.treasury.Transfer(ctx, m.cfg.Treasury, owed); err != nil {
		return nil, fmt.Errorf("%w: treasury transfer: %v", ledger.ErrExternalVenueFailure, err)
	}
	return &event.TreasurySwept{
		CycleID:   cycleID,
		Treasury:  m.cfg.Treasury,
		Amount:    owed,
		Timestamp: m.clock.Now().UTC(),
	}, nil
}

// SettlementObligations is the settlement-asset amount the vault holds that
// is not claimable by stakers: retained principal, owed tax, carry, and
// staker revenue still held for a later distribution.
func (m *Manager) SettlementObligations() *uint256.Int {
	si := m.cfg.SettlementIndex
	sum := new(uint256.Int).Add(m.state.Principal.Get(si), fpmath.Clone(m.state.TreasuryOwed))
	sum.Add(sum, m.state.Carry.Get(si))
	return sum.Add(sum, m.ledger.HeldRevenue())
}

// Liquidity reads the live position's liquidity; zero while EMPTY.
func (m *Manager) Liquidity(ctx context.Context) (*uint256.Int, error) {
	if m.state.Status == StatusEmpty {
		return fpmath.Zero(), nil
	}
	var liq *uint256.Int
	err := m.retry(ctx, "read_position", func() error {
		var err error
		liq, err = m.venue.ReadPositionState(ctx, m.state.PositionID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: read position: %v", ledger.ErrExternalVenueFailure, err)
	}
	return liq, nil
}

func (m *Manager) State() State {
	return m.state.Clone()
}

func (m *Manager) Restore(s State) error {
	if s.Status == StatusActive && s.PositionID == 0 {
		return ledger.Violation("restored ACTIVE state without position id")
	}
	if s.Status == StatusEmpty && s.PositionID != 0 {
		return ledger.Violation("restored EMPTY state with position id %d", s.PositionID)
	}
	m.state = s.Clone()
	return nil
}

func (m *Manager) Config() Config {
	return m.cfg
}

// deployAmounts holds back the reserve fraction of settlement principal.
func (m *Manager) deployAmounts(principal fpmath.Amounts) (fpmath.Amounts, error) {
	si := m.cfg.SettlementIndex
	s := principal.Get(si)
	reserve, err := fpmath.ApplyBps(s, m.cfg.ReserveBps)
	if err != nil {
		return fpmath.Amounts{}, ledger.Violation("reserve: %v", err)
	}
	return principal.With(si, new(uint256.Int).Sub(s, reserve)), nil
}

// viable reports whether both deploy amounts meet their minimums.
func (m *Manager) viable(a fpmath.Amounts) bool {
	if a.IsZero() {
		return false
	}
	return !a.Get(0).Lt(m.cfg.MinDeposit.Get(0)) && !a.Get(1).Lt(m.cfg.MinDeposit.Get(1))
}

func (m *Manager) retry(ctx context.Context, op string, fn func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = m.cfg.RetryInitial
	policy := backoff.WithContext(backoff.WithMaxRetries(b, m.cfg.MaxRetries), ctx)

	return backoff.RetryNotify(func() error {
		err := fn()
		if errors.Is(err, ErrReverted) || errors.Is(err, ErrUnconfirmed) {
			return backoff.Permanent(err)
		}
		return err
	}, policy, func(err error, d time.Duration) {
		m.logger.Warn().Err(err).Str("op", op).Dur("backoff", d).Msg("venue call failed, retrying")
	})
}
