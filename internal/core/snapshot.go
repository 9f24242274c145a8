package core

import (
	"fmt"

	"VaultLedger/internal/ledger"
	"VaultLedger/internal/position"
)

// SnapshotState is the engine's full in-memory state at one sequence.
type SnapshotState struct {
	Sequence        int64 // last committed sequence
	StateHash       [32]byte
	Ledger          ledger.State
	Position        position.State
	IdempotencyKeys []string
}

// CreateSnapshotState captures a deep copy of the current state.
func (c *Engine) CreateSnapshotState() *SnapshotState {
	return &SnapshotState{
		Sequence:        c.sequence - 1,
		StateHash:       c.hasher.GetPrevHash(),
		Ledger:          c.ledger.Snapshot(),
		Position:        c.positions.State(),
		IdempotencyKeys: c.idempotency.lru.Keys(),
	}
}

// RestoreFromSnapshot replaces in-memory state. Replay continues from
// snap.Sequence+1. The restored ledger is fully validated before use.
func (c *Engine) RestoreFromSnapshot(snap *SnapshotState) error {
	if err := c.ledger.Restore(snap.Ledger); err != nil {
		return fmt.Errorf("restore ledger: %w", err)
	}
	if err := c.positions.Restore(snap.Position); err != nil {
		return fmt.Errorf("restore position: %w", err)
	}
	c.validator.Reset()
	if err := c.validator.ValidateAll(); err != nil {
		return fmt.Errorf("restored state: %w", err)
	}

	c.sequence = snap.Sequence + 1
	c.hasher.SetPrevHash(snap.StateHash)
	c.journalGen.SetSequence(c.sequence)
	c.idempotency.lru.WarmFromKeys(snap.IdempotencyKeys)
	return nil
}

// WarmLRU loads recently committed keys into the idempotency LRU.
func (c *Engine) WarmLRU(keys []string) {
	c.idempotency.lru.WarmFromKeys(keys)
}

// Sequence returns the next sequence to assign.
func (c *Engine) Sequence() int64 {
	return c.sequence
}

// LastSequence returns the last committed sequence (0 when none).
func (c *Engine) LastSequence() int64 {
	return c.sequence - 1
}

// StateHash returns the chain tip.
func (c *Engine) StateHash() [32]byte {
	return c.hasher.GetPrevHash()
}
