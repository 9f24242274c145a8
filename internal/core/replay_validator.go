package core

import (
	"fmt"

	"VaultLedger/internal/event"
	"VaultLedger/internal/ledger"
)

// ReplayValidator checks event-log continuity during recovery: sequences
// are contiguous and every envelope's prev_hash is the previous state_hash.
// Not thread-safe; only used by the recovery loop.
type ReplayValidator struct {
	nextSeq  int64
	prevHash [32]byte
	gaps     int64
}

// NewReplayValidator starts expecting nextSeq chained to prevHash.
func NewReplayValidator(nextSeq int64, prevHash [32]byte) *ReplayValidator {
	return &ReplayValidator{nextSeq: nextSeq, prevHash: prevHash}
}

// Validate checks env against the expected position and advances.
func (rv *ReplayValidator) Validate(env *event.Envelope) error {
	if env.Sequence < rv.nextSeq {
		rv.gaps++
		return fmt.Errorf("%w: replayed sequence %d already applied, expected %d",
			ledger.ErrInvariantViolation, env.Sequence, rv.nextSeq)
	}
	if env.Sequence > rv.nextSeq {
		rv.gaps++
		return fmt.Errorf("%w: sequence gap, expected %d, got %d",
			ledger.ErrInvariantViolation, rv.nextSeq, env.Sequence)
	}
	if env.PrevHash != rv.prevHash {
		rv.gaps++
		return fmt.Errorf("%w: hash chain break at sequence %d",
			ledger.ErrInvariantViolation, env.Sequence)
	}
	rv.nextSeq++
	rv.prevHash = env.StateHash
	return nil
}

// NextSequence is the sequence the next envelope must carry.
func (rv *ReplayValidator) NextSequence() int64 {
	return rv.nextSeq
}

// Gaps counts rejected envelopes.
func (rv *ReplayValidator) Gaps() int64 {
	return rv.gaps
}
