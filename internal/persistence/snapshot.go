package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"VaultLedger/internal/core"
	"VaultLedger/internal/event"
	"VaultLedger/internal/ledger"
	fpmath "VaultLedger/internal/math"
	"VaultLedger/internal/position"
	"VaultLedger/internal/weights"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// snapshotFormatVersion v1: JSON-encoded SnapshotData, amounts as decimal strings.
const snapshotFormatVersion = 1

// SnapshotManager handles creating and loading state snapshots for recovery.
type SnapshotManager struct {
	db *sql.DB
}

// SnapshotData is the stored form of core.SnapshotState.
type SnapshotData struct {
	Sequence        int64            `json:"sequence"`
	StateHash       []byte           `json:"state_hash"`
	Acc             string           `json:"acc"`
	TotalWeight     uint64           `json:"total_weight"`
	HeldRevenue     string           `json:"held_revenue"`
	Records         []RecordSnapshot `json:"records"`
	Position        PositionSnapshot `json:"position"`
	IdempotencyKeys []string         `json:"idempotency_keys"`
	CreatedAt       time.Time        `json:"created_at"`
}

// RecordSnapshot is a serializable ledger record.
type RecordSnapshot struct {
	TokenID    uint64 `json:"token_id"`
	Owner      string `json:"owner"`
	Tier       uint8  `json:"tier"`
	Weight     uint64 `json:"weight"`
	RewardDebt string `json:"reward_debt"`
	EntryAcc   string `json:"entry_acc"`
	Deferred   string `json:"deferred"`
	Staked     bool   `json:"staked"`
	Version    int64  `json:"version"`
}

// PositionSnapshot is a serializable position state.
type PositionSnapshot struct {
	Status       uint8     `json:"status"`
	PositionID   uint64    `json:"position_id"`
	Principal    [2]string `json:"principal"`
	Carry        [2]string `json:"carry"`
	TreasuryOwed string    `json:"treasury_owed"`
	Cycles       int64     `json:"cycles"`
	LastCycle    time.Time `json:"last_cycle"`

	UnresolvedHarvest bool   `json:"unresolved_harvest,omitempty"`
	HarvestRef        string `json:"harvest_ref,omitempty"`
}

func NewSnapshotManager(db *sql.DB) *SnapshotManager {
	return &SnapshotManager{db: db}
}

// NewSnapshotData converts engine state to its stored form.
func NewSnapshotData(s *core.SnapshotState, createdAt time.Time) *SnapshotData {
	data := &SnapshotData{
		Sequence:        s.Sequence,
		StateHash:       append([]byte(nil), s.StateHash[:]...),
		Acc:             decString(s.Ledger.Acc),
		TotalWeight:     s.Ledger.TotalWeight,
		HeldRevenue:     decString(s.Ledger.Held),
		Records:         make([]RecordSnapshot, 0, len(s.Ledger.Records)),
		IdempotencyKeys: s.IdempotencyKeys,
		CreatedAt:       createdAt.UTC(),
	}
	for _, rec := range s.Ledger.Records {
		data.Records = append(data.Records, RecordSnapshot{
			TokenID:    rec.TokenID,
			Owner:      rec.Owner.Hex(),
			Tier:       uint8(rec.Tier),
			Weight:     rec.Weight,
			RewardDebt: decString(rec.RewardDebt),
			EntryAcc:   decString(rec.EntryAcc),
			Deferred:   decString(rec.Deferred),
			Staked:     rec.Staked,
			Version:    rec.Version,
		})
	}
	p := s.Position
	data.Position = PositionSnapshot{
		Status:       uint8(p.Status),
		PositionID:   p.PositionID,
		Principal:    [2]string{decString(p.Principal.Get(0)), decString(p.Principal.Get(1))},
		Carry:        [2]string{decString(p.Carry.Get(0)), decString(p.Carry.Get(1))},
		TreasuryOwed: decString(p.TreasuryOwed),
		Cycles:       p.Cycles,
		LastCycle:    p.LastCycle,

		UnresolvedHarvest: p.UnresolvedHarvest,
		HarvestRef:        p.HarvestRef,
	}
	return data
}

// State converts the stored form back to engine state.
func (d *SnapshotData) State() (*core.SnapshotState, error) {
	if len(d.StateHash) != 32 {
		return nil, fmt.Errorf("snapshot %d: state hash has %d bytes", d.Sequence, len(d.StateHash))
	}
	s := &core.SnapshotState{
		Sequence:        d.Sequence,
		IdempotencyKeys: d.IdempotencyKeys,
	}
	copy(s.StateHash[:], d.StateHash)

	var err error
	if s.Ledger.Acc, err = event.ParseAmount(d.Acc); err != nil {
		return nil, fmt.Errorf("acc: %w", err)
	}
	if s.Ledger.Held, err = event.ParseAmount(d.HeldRevenue); err != nil {
		return nil, fmt.Errorf("held revenue: %w", err)
	}
	s.Ledger.TotalWeight = d.TotalWeight

	for _, r := range d.Records {
		owner, err := event.ParseAddress(r.Owner)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", r.TokenID, err)
		}
		rec := ledger.NewRecord(r.TokenID, owner, weights.Tier(r.Tier))
		rec.Weight = r.Weight
		rec.Staked = r.Staked
		rec.Version = r.Version
		if rec.RewardDebt, err = event.ParseAmount(r.RewardDebt); err != nil {
			return nil, fmt.Errorf("record %d reward debt: %w", r.TokenID, err)
		}
		if rec.EntryAcc, err = event.ParseAmount(r.EntryAcc); err != nil {
			return nil, fmt.Errorf("record %d entry acc: %w", r.TokenID, err)
		}
		if rec.Deferred, err = event.ParseAmount(r.Deferred); err != nil {
			return nil, fmt.Errorf("record %d deferred: %w", r.TokenID, err)
		}
		s.Ledger.Records = append(s.Ledger.Records, rec)
	}

	p := d.Position
	principal, err := parsePair(p.Principal)
	if err != nil {
		return nil, fmt.Errorf("principal: %w", err)
	}
	carry, err := parsePair(p.Carry)
	if err != nil {
		return nil, fmt.Errorf("carry: %w", err)
	}
	owed, err := event.ParseAmount(p.TreasuryOwed)
	if err != nil {
		return nil, fmt.Errorf("treasury owed: %w", err)
	}
	s.Position = position.State{
		Status:       position.Status(p.Status),
		PositionID:   p.PositionID,
		Principal:    principal,
		Carry:        carry,
		TreasuryOwed: owed,
		Cycles:       p.Cycles,
		LastCycle:    p.LastCycle,

		UnresolvedHarvest: p.UnresolvedHarvest,
		HarvestRef:        p.HarvestRef,
	}
	return s, nil
}

// SaveSnapshot persists a snapshot and returns its encoded size. New
// snapshots are unverified until a replay check marks them.
func (sm *SnapshotManager) SaveSnapshot(ctx context.Context, snap *SnapshotData) (int, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return 0, fmt.Errorf("marshal snapshot: %w", err)
	}

	_, err = sm.db.ExecContext(ctx, `
		INSERT INTO event_log.snapshots
			(snapshot_id, sequence, data, state_hash, format_version, size_bytes, verified, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7)
		ON CONFLICT (sequence) DO UPDATE SET data = $3, state_hash = $4, size_bytes = $6
	`, uuid.New(), snap.Sequence, string(data), snap.StateHash, snapshotFormatVersion, len(data), snap.CreatedAt)
	if err != nil {
		return 0, err
	}
	return len(data), nil
}

// LoadLatestSnapshot loads the most recent verified snapshot, or nil on a
// cold start.
func (sm *SnapshotManager) LoadLatestSnapshot(ctx context.Context) (*SnapshotData, error) {
	row := sm.db.QueryRowContext(ctx, `
		SELECT data FROM event_log.snapshots
		WHERE verified = TRUE AND format_version = $1
		ORDER BY sequence DESC
		LIMIT 1
	`, snapshotFormatVersion)

	var data []byte
	if err := row.Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	var snap SnapshotData
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

// MarkVerified marks a snapshot as verified after its state hash was
// confirmed against the event log.
func (sm *SnapshotManager) MarkVerified(ctx context.Context, sequence int64) error {
	_, err := sm.db.ExecContext(ctx, `
		UPDATE event_log.snapshots SET verified = TRUE WHERE sequence = $1
	`, sequence)
	return err
}

// VerifyAgainstLog checks the snapshot's hash against the logged state hash
// at its sequence and marks it verified when they match.
func (sm *SnapshotManager) VerifyAgainstLog(ctx context.Context, snap *SnapshotData) (bool, error) {
	var logged []byte
	err := sm.db.QueryRowContext(ctx, `
		SELECT state_hash FROM event_log.events WHERE sequence = $1
	`, snap.Sequence).Scan(&logged)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if string(logged) != string(snap.StateHash) {
		return false, nil
	}
	return true, sm.MarkVerified(ctx, snap.Sequence)
}

// LoadEventsFrom loads up to limit events starting at fromSequence.
func (sm *SnapshotManager) LoadEventsFrom(ctx context.Context, fromSequence int64, limit int) ([]EventRow, error) {
	rows, err := sm.db.QueryContext(ctx, `
		SELECT sequence, event_type, idempotency_key, payload, state_hash, prev_hash, timestamp
		FROM event_log.events
		WHERE sequence >= $1
		ORDER BY sequence ASC
		LIMIT $2
	`, fromSequence, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []EventRow
	for rows.Next() {
		var e EventRow
		if err := rows.Scan(
			&e.Sequence, &e.EventType, &e.IdempotencyKey, &e.Payload,
			&e.StateHash, &e.PrevHash, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// GetLatestSequence returns the highest sequence in the event log.
func (sm *SnapshotManager) GetLatestSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	if err := sm.db.QueryRowContext(ctx, `SELECT MAX(sequence) FROM event_log.events`).Scan(&seq); err != nil {
		return 0, err
	}
	if !seq.Valid {
		return 0, nil
	}
	return seq.Int64, nil
}

// RecentIdempotencyKeys returns up to limit keys, oldest first, for LRU warming.
func (sm *SnapshotManager) RecentIdempotencyKeys(ctx context.Context, limit int) ([]string, error) {
	rows, err := sm.db.QueryContext(ctx, `
		SELECT idempotency_key FROM (
			SELECT idempotency_key, sequence FROM event_log.events
			ORDER BY sequence DESC LIMIT $1
		) recent ORDER BY sequence ASC
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func decString(v *uint256.Int) string {
	return fpmath.Clone(v).Dec()
}

func parsePair(p [2]string) (fpmath.Amounts, error) {
	a0, err := event.ParseAmount(p[0])
	if err != nil {
		return fpmath.Amounts{}, err
	}
	a1, err := event.ParseAmount(p[1])
	if err != nil {
		return fpmath.Amounts{}, err
	}
	return fpmath.NewAmounts(a0, a1), nil
}
