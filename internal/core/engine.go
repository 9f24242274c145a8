package core

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"time"

	"VaultLedger/internal/event"
	"VaultLedger/internal/ledger"
	"VaultLedger/internal/observability"
	"VaultLedger/internal/position"
	"VaultLedger/internal/staking"

	"github.com/holiman/uint256"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

// DefaultLRUCapacity bounds the in-memory idempotency tier.
const DefaultLRUCapacity = 100_000

// Engine is the single writer over vault state.
//
// Execute runs a command's external effects through the staking machine or
// position manager and commits the outcome event. Every commit (live or
// replayed) goes through the same pipeline: journal generation, dispatch to
// the Apply* mutators, invariant post-check, state hash chain, then the
// persist (blocking) and projection (non-blocking) channels.
//
// Not thread-safe: callers go through the Actor.
type Engine struct {
	sequence    int64 // next sequence to assign
	hasher      *StateHasher
	ledger      *ledger.RewardLedger
	journalGen  *ledger.JournalGenerator
	validator   *ledger.InvariantValidator
	machine     *staking.Machine
	positions   *position.Manager
	idempotency *IdempotencyChecker
	clock       clockwork.Clock
	metrics     *observability.Metrics
	logger      zerolog.Logger

	// set when a committed event left state violating an invariant;
	// every later write is refused
	halted error

	persistChan    chan<- CoreOutput
	projectionChan chan<- CoreOutput
}

// Components are the stateful parts the engine owns. Machine and Positions
// must share Ledger.
type Components struct {
	Ledger    *ledger.RewardLedger
	Machine   *staking.Machine
	Positions *position.Manager
	Clock     clockwork.Clock
}

// CoreOutput is one committed event handed to persistence and projections.
type CoreOutput struct {
	Envelope *event.Envelope
	Event    event.Event
	Batch    *ledger.Batch
	Vault    VaultSummary // state after the event
}

// VaultSummary is the aggregate state carried to the vault_state projection.
type VaultSummary struct {
	Acc           *uint256.Int
	TotalWeight   uint64
	StakedRecords int
	HeldRevenue   *uint256.Int
	Position      position.State
}

// Result reports what a command committed.
type Result struct {
	Envelopes []*event.Envelope
	Events    []event.Event
	Duplicate bool
}

func NewEngine(
	c Components,
	persistChan, projectionChan chan<- CoreOutput,
	dbChecker DBIdempotencyChecker,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *Engine {
	clock := c.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Engine{
		sequence:       1,
		hasher:         NewStateHasher(),
		ledger:         c.Ledger,
		journalGen:     ledger.NewJournalGenerator(1, c.Positions.Config().SettlementIndex),
		validator:      ledger.NewInvariantValidator(c.Ledger),
		machine:        c.Machine,
		positions:      c.Positions,
		idempotency:    NewIdempotencyChecker(DefaultLRUCapacity, dbChecker, metrics),
		clock:          clock,
		metrics:        metrics,
		logger:         logger.With().Str("component", "engine").Logger(),
		persistChan:    persistChan,
		projectionChan: projectionChan,
	}
}

// Execute runs cmd and commits its outcome. A duplicate request key returns
// Result.Duplicate without side effects.
//
// Unstake and rebalance can return both committed events and an error: a
// payout that succeeded before custody failed is committed as a claim, and
// a cycle that failed after harvesting commits CycleAborted.
func (c *Engine) Execute(ctx context.Context, cmd event.Command) (*Result, error) {
	if c.halted != nil {
		return nil, c.halted
	}
	start := time.Now()
	kind := cmd.Kind().String()

	if c.idempotency.IsDuplicate(cmd.RequestKey()) {
		c.observeCommand(kind, "duplicate", start)
		return &Result{Duplicate: true}, nil
	}

	res := &Result{}
	var err error

	switch cm := cmd.(type) {
	case *event.StakeCommand:
		var evt *event.Staked
		if evt, err = c.machine.Stake(ctx, cm); err == nil {
			err = c.commitInto(res, evt)
		}

	case *event.ClaimCommand:
		var evt *event.YieldClaimed
		if evt, err = c.machine.Claim(ctx, cm); err == nil {
			err = c.commitInto(res, evt)
		}

	case *event.UnstakeCommand:
		evt, uerr := c.machine.Unstake(ctx, cm)
		if evt != nil {
			err = c.commitInto(res, evt)
		}
		if err == nil {
			err = uerr
		}

	case *event.RebalanceCommand:
		err = c.rebalance(ctx, cm, res)

	case *event.SeedPrincipalCommand:
		if cm.Amounts.IsZero() {
			err = fmt.Errorf("%w: seed amounts are zero", ledger.ErrInvalidTransition)
			break
		}
		err = c.commitInto(res, &event.PrincipalSeeded{
			RequestID: cm.RequestID,
			Amounts:   cm.Amounts.Clone(),
			Timestamp: c.clock.Now().UTC(),
		})

	default:
		err = fmt.Errorf("%w: unknown command %T", ledger.ErrInvalidTransition, cmd)
	}

	c.observeCommand(kind, outcomeLabel(err), start)
	return res, err
}

// rebalance runs one cycle and then sweeps owed tax. A sweep failure leaves
// the tax owed for the next cycle and does not fail the command.
func (c *Engine) rebalance(ctx context.Context, cmd *event.RebalanceCommand, res *Result) error {
	evt, err := c.positions.RunCycle(ctx, cmd.RequestID)
	if evt != nil {
		if cerr := c.commitInto(res, evt); cerr != nil {
			return cerr
		}
	}
	if c.metrics != nil {
		c.metrics.VaultCycles.WithLabelValues(cycleOutcome(evt, err)).Inc()
	}
	if err != nil {
		return err
	}

	swept, err := c.positions.Sweep(ctx, cmd.RequestID)
	if err != nil {
		c.logger.Warn().Err(err).Str("cycle_id", cmd.RequestID.String()).
			Msg("treasury sweep failed, tax stays owed")
		return nil
	}
	if swept != nil {
		return c.commitInto(res, swept)
	}
	return nil
}

// Apply commits an externally produced event (deduplicated by its key).
func (c *Engine) Apply(evt event.Event) (*event.Envelope, error) {
	if c.halted != nil {
		return nil, c.halted
	}
	if c.idempotency.IsDuplicate(evt.IdempotencyKey()) {
		c.rejected(evt.EventType().String(), "duplicate")
		return nil, nil
	}
	return c.commit(evt, true)
}

// Replay re-applies a logged envelope without re-emitting it. The
// recomputed state hash must match the logged one.
func (c *Engine) Replay(env *event.Envelope) error {
	if c.halted != nil {
		return c.halted
	}
	if env.Sequence != c.sequence {
		return fmt.Errorf("%w: replay of sequence %d, engine expects %d",
			ledger.ErrInvariantViolation, env.Sequence, c.sequence)
	}
	evt, err := event.Decode(env.EventType, env.Payload)
	if err != nil {
		return fmt.Errorf("decode sequence %d: %w", env.Sequence, err)
	}
	out, err := c.commit(evt, false)
	if err != nil {
		return err
	}
	if out.StateHash != env.StateHash {
		c.halt(ledger.Violation("replay diverged at sequence %d: state hash mismatch", env.Sequence))
		return c.halted
	}
	return nil
}

func (c *Engine) commitInto(res *Result, evt event.Event) error {
	env, err := c.commit(evt, true)
	if err != nil {
		c.logger.Error().Err(err).Str("event_type", evt.EventType().String()).
			Str("key", evt.IdempotencyKey()).
			Msg("external effects completed but the outcome could not be committed")
		return err
	}
	res.Envelopes = append(res.Envelopes, env)
	res.Events = append(res.Events, evt)
	return nil
}

// commit is the deterministic pipeline. Everything that can reject the
// event runs before the first mutation.
func (c *Engine) commit(evt event.Event, emit bool) (*event.Envelope, error) {
	start := time.Now()
	eventType := evt.EventType().String()
	key := evt.IdempotencyKey()

	payload, err := event.Encode(evt)
	if err != nil {
		c.rejected(eventType, "encode")
		return nil, fmt.Errorf("encode %s: %w", eventType, err)
	}

	c.journalGen.SetSequence(c.sequence)
	batch, err := c.journalGen.Generate(evt, c.ledger.HeldRevenue())
	if err != nil {
		c.rejected(eventType, "journal")
		return nil, err
	}
	if err := c.validator.ValidateBatchBalance(batch); err != nil {
		c.rejected(eventType, "journal")
		return nil, err
	}

	if err := c.dispatch(evt); err != nil {
		c.rejected(eventType, "apply")
		return nil, err
	}

	if err := c.postCheckInvariants(evt); err != nil {
		c.halt(err)
		return nil, c.halted
	}

	digest := c.computeStateDigest(evt, batch)
	prevHash := c.hasher.GetPrevHash()
	stateHash := c.hasher.ComputeHash(c.sequence, digest)

	env := &event.Envelope{
		Sequence:       c.sequence,
		IdempotencyKey: key,
		EventType:      evt.EventType(),
		Timestamp:      evt.OccurredAt(),
		Payload:        payload,
		StateHash:      stateHash,
		PrevHash:       prevHash,
	}

	if emit {
		c.emit(CoreOutput{Envelope: env, Event: evt, Batch: batch, Vault: c.summary()})
	}

	c.idempotency.MarkProcessed(key)
	c.sequence++
	c.observeCommit(evt, batch, start)
	return env, nil
}

func (c *Engine) dispatch(evt event.Event) error {
	switch e := evt.(type) {
	case *event.Staked:
		return c.machine.ApplyStaked(e)
	case *event.Unstaked:
		return c.machine.ApplyUnstaked(e)
	case *event.YieldClaimed:
		return c.machine.ApplyYieldClaimed(e)
	case *event.Rebalanced:
		return c.positions.ApplyRebalanced(e)
	case *event.CycleAborted:
		return c.positions.ApplyCycleAborted(e)
	case *event.PrincipalSeeded:
		return c.positions.ApplyPrincipalSeeded(e)
	case *event.TreasurySwept:
		return c.positions.ApplyTreasurySwept(e)
	default:
		return fmt.Errorf("%w: unknown event type %T", ledger.ErrInvalidTransition, evt)
	}
}

// emit sends to persistence (blocking: the engine stalls until the worker
// drains, so no committed event is lost) and projections (non-blocking:
// dropped outputs are recovered by a rebuild from the event log).
func (c *Engine) emit(out CoreOutput) {
	if c.persistChan != nil {
		if c.metrics != nil && len(c.persistChan) == cap(c.persistChan) {
			c.metrics.PersistBackpressure.Inc()
		}
		c.persistChan <- out
	}
	if c.projectionChan != nil {
		select {
		case c.projectionChan <- out:
		default:
			if c.metrics != nil {
				c.metrics.ProjectionDrops.WithLabelValues(out.Envelope.EventType.String()).Inc()
			}
		}
	}
}

// postCheckInvariants validates state after the event was applied.
func (c *Engine) postCheckInvariants(evt event.Event) error {
	if err := c.validator.ValidateAccumulatorMonotonic(); err != nil {
		return err
	}
	if err := c.validator.ValidateTotalWeight(); err != nil {
		return err
	}
	if id, ok := touchedToken(evt); ok {
		if err := c.validator.ValidateTokens(id); err != nil {
			return err
		}
	}
	// periodic full sweep of debt bounds
	if c.sequence%1000 == 0 {
		if err := c.validator.ValidateAll(); err != nil {
			return err
		}
	}
	return nil
}

func touchedToken(evt event.Event) (uint64, bool) {
	switch e := evt.(type) {
	case *event.Staked:
		return e.TokenID, true
	case *event.Unstaked:
		return e.TokenID, true
	case *event.YieldClaimed:
		return e.TokenID, true
	}
	return 0, false
}

// computeStateDigest creates canonical bytes for the state hash: the
// accumulator triple, the touched record, the position state and the
// journal lines. Timestamps are excluded; they are logged at microsecond
// precision and would not survive a replay bit-for-bit.
func (c *Engine) computeStateDigest(evt event.Event, batch *ledger.Batch) []byte {
	digest := make([]byte, 0, 512)

	digest = appendUint256(digest, c.ledger.Acc())
	digest = binary.LittleEndian.AppendUint64(digest, c.ledger.TotalWeight())
	digest = appendUint256(digest, c.ledger.HeldRevenue())

	if id, ok := touchedToken(evt); ok {
		if rec, found := c.ledger.Registry().Get(id); found {
			digest = binary.LittleEndian.AppendUint64(digest, rec.TokenID)
			digest = append(digest, rec.Owner.Bytes()...)
			digest = binary.LittleEndian.AppendUint64(digest, rec.Weight)
			digest = appendUint256(digest, rec.RewardDebt)
			digest = appendUint256(digest, rec.EntryAcc)
			digest = appendUint256(digest, rec.Deferred)
			digest = appendBool(digest, rec.Staked)
		}
	}

	ps := c.positions.State()
	digest = append(digest, byte(ps.Status))
	digest = binary.LittleEndian.AppendUint64(digest, ps.PositionID)
	for i := 0; i < 2; i++ {
		digest = appendUint256(digest, ps.Principal.Get(i))
		digest = appendUint256(digest, ps.Carry.Get(i))
	}
	digest = appendUint256(digest, ps.TreasuryOwed)
	digest = appendBool(digest, ps.UnresolvedHarvest)
	digest = appendPath(digest, ps.HarvestRef)

	for _, j := range batch.Journals {
		digest = appendPath(digest, j.DebitAccount.AccountPath())
		digest = appendPath(digest, j.CreditAccount.AccountPath())
		digest = binary.LittleEndian.AppendUint32(digest, uint32(j.JournalType))
		digest = appendUint256(digest, j.Amount)
	}
	return digest
}

func (c *Engine) summary() VaultSummary {
	staked := 0
	c.ledger.Registry().AscendStaked(func(*ledger.Record) bool {
		staked++
		return true
	})
	return VaultSummary{
		Acc:           c.ledger.Acc(),
		TotalWeight:   c.ledger.TotalWeight(),
		StakedRecords: staked,
		HeldRevenue:   c.ledger.HeldRevenue(),
		Position:      c.positions.State(),
	}
}

func appendUint256(buf []byte, v *uint256.Int) []byte {
	if v == nil {
		v = new(uint256.Int)
	}
	b := v.Bytes32()
	return append(buf, b[:]...)
}

func appendPath(buf []byte, path string) []byte {
	buf = append(buf, byte(len(path)))
	return append(buf, path...)
}

func appendBool(buf []byte, v bool) []byte {
	if v {
		return append(buf, 1)
	}
	return append(buf, 0)
}

func (c *Engine) halt(err error) {
	c.halted = fmt.Errorf("engine halted at sequence %d: %w", c.sequence, err)
	c.logger.Error().Err(err).Int64("sequence", c.sequence).Msg("invariant violated after apply, refusing further writes")
}

// Halted returns the error that stopped the engine, if any.
func (c *Engine) Halted() error {
	return c.halted
}

// --- metrics ---

func (c *Engine) rejected(eventType, reason string) {
	if c.metrics != nil {
		c.metrics.CoreEventsRejected.WithLabelValues(eventType, reason).Inc()
	}
}

func (c *Engine) observeCommit(evt event.Event, batch *ledger.Batch, start time.Time) {
	if c.metrics == nil {
		return
	}
	eventType := evt.EventType().String()
	c.metrics.CoreEventsApplied.WithLabelValues(eventType).Inc()
	c.metrics.CoreEventDuration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
	c.metrics.CoreSequence.Set(float64(c.sequence))
	for _, j := range batch.Journals {
		c.metrics.CoreJournals.WithLabelValues(j.JournalType.String()).Inc()
	}

	switch e := evt.(type) {
	case *event.YieldClaimed:
		c.metrics.VaultPaidTotal.Add(toFloat(e.Paid))
		if e.Deferred != nil && !e.Deferred.IsZero() {
			c.metrics.VaultClaimsCapped.Inc()
		}
	case *event.Unstaked:
		c.metrics.VaultPaidTotal.Add(toFloat(e.Paid))
		c.metrics.VaultForfeitTotal.Add(toFloat(e.Forfeited))
	}

	c.metrics.VaultTotalWeight.Set(float64(c.ledger.TotalWeight()))
	c.metrics.VaultHeldRevenue.Set(toFloat(c.ledger.HeldRevenue()))
	ps := c.positions.State()
	c.metrics.VaultTreasuryOwed.Set(toFloat(ps.TreasuryOwed))
	for i, asset := range []string{"0", "1"} {
		c.metrics.VaultPrincipal.WithLabelValues(asset).Set(toFloat(ps.Principal.Get(i)))
		c.metrics.VaultCarry.WithLabelValues(asset).Set(toFloat(ps.Carry.Get(i)))
	}
}

func (c *Engine) observeCommand(kind, outcome string, start time.Time) {
	if c.metrics == nil {
		return
	}
	c.metrics.CommandsExecuted.WithLabelValues(kind, outcome).Inc()
	c.metrics.CommandDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
}

func toFloat(v *uint256.Int) float64 {
	if v == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(v.ToBig()).Float64()
	return f
}

func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ledger.ErrInvariantViolation):
		return "invariant_violation"
	case errors.Is(err, ledger.ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, ledger.ErrExternalVenueFailure):
		return "venue_failure"
	case errors.Is(err, ledger.ErrInvalidTransition):
		return "invalid_transition"
	default:
		return "error"
	}
}

func cycleOutcome(evt event.Event, err error) string {
	switch {
	case err != nil && evt != nil:
		return "aborted"
	case err != nil:
		return "failed"
	case evt == nil:
		return "skipped"
	default:
		return "committed"
	}
}
