package projection_test

import (
	"context"
	"testing"
	"time"

	"VaultLedger/internal/event"
	fpmath "VaultLedger/internal/math"
	"VaultLedger/internal/persistence"
	"VaultLedger/internal/projection"
	"VaultLedger/internal/testutil"
	"VaultLedger/internal/weights"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	owner = common.HexToAddress("0x00000000000000000000000000000000000A11CE")
	ts    = time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
)

func stream() []event.Event {
	cycle := uuid.New()
	return []event.Event{
		&event.Staked{RequestID: uuid.New(), TokenID: 11, Owner: owner, Tier: weights.TierGold, Weight: 175, Timestamp: ts},
		&event.Rebalanced{
			CycleID: cycle, PositionID: 4,
			Harvested:     fpmath.NewAmounts(uint256.NewInt(10_000_000), uint256.NewInt(0)),
			CarryUsed:     fpmath.ZeroAmounts(),
			TreasuryTax:   uint256.NewInt(1_000_000),
			StakerRevenue: uint256.NewInt(9_000_000),
			Distributed:   uint256.NewInt(9_000_000),
			HeldAfter:     uint256.NewInt(0),
			Reinvested:    uint256.NewInt(0),
			Deployed:      fpmath.NewAmounts(uint256.NewInt(8_000_000), uint256.NewInt(0)),
			Redeployed:    true,
			Timestamp:     ts,
		},
		&event.TreasurySwept{CycleID: cycle, Treasury: testutil.TreasuryAddr, Amount: uint256.NewInt(1_000_000), Timestamp: ts},
		&event.YieldClaimed{RequestID: uuid.New(), TokenID: 11, Owner: owner,
			Entitlement: uint256.NewInt(9_000_000), Paid: uint256.NewInt(6_000_000), Deferred: uint256.NewInt(3_000_000), Timestamp: ts},
		&event.Unstaked{RequestID: uuid.New(), TokenID: 11, Owner: owner,
			Entitlement: uint256.NewInt(3_000_000), Paid: uint256.NewInt(2_000_000), Forfeited: uint256.NewInt(1_000_000), Timestamp: ts},
	}
}

func TestProjection_LiveAndRebuildConverge(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	require.NoError(t, persistence.NewMigrator(db, zerolog.Nop()).Up(ctx))

	in := make(chan projection.ProjectionOutput, 8)
	w := projection.NewProjectionWorker(db, in, nil, zerolog.Nop())

	var rows []persistence.EventRow
	for i, evt := range stream() {
		seq := int64(i + 1)
		payload, err := event.Encode(evt)
		require.NoError(t, err)
		rows = append(rows, persistence.EventRow{
			Sequence: seq, EventType: evt.EventType().String(), IdempotencyKey: evt.IdempotencyKey(),
			Payload: payload, StateHash: make([]byte, 32), PrevHash: make([]byte, 32), Timestamp: ts,
		})
		in <- projection.ProjectionOutput{
			Sequence: seq,
			Event:    evt,
			Vault:    projection.VaultRow{Acc: "5", TotalWeight: 175, StakedRecords: 1, PositionStatus: "ACTIVE", PositionID: 4},
		}
	}
	close(in)
	require.NoError(t, w.Run(ctx))
	require.NoError(t, persistence.NewEventLogWriter(db).WriteEventBatch(ctx, db, rows))

	check := func(label string) {
		var staked bool
		var paid, deferred, forfeited string
		require.NoError(t, db.QueryRowContext(ctx, `
			SELECT staked, total_paid::text, deferred::text, forfeited::text
			FROM projections.stakes WHERE token_id = 11
		`).Scan(&staked, &paid, &deferred, &forfeited), label)
		assert.False(t, staked, label)
		assert.Equal(t, "8000000", paid, label)
		assert.Equal(t, "0", deferred, label)
		assert.Equal(t, "1000000", forfeited, label)

		var claims int
		require.NoError(t, db.QueryRowContext(ctx, `SELECT COUNT(*) FROM projections.claims WHERE token_id = 11`).Scan(&claims))
		assert.Equal(t, 2, claims, label)

		var swept string
		require.NoError(t, db.QueryRowContext(ctx, `SELECT swept::text FROM projections.rebalance_history WHERE sequence = 2`).Scan(&swept))
		assert.Equal(t, "1000000", swept, label)

		wm, err := projection.LoadWatermark(ctx, db)
		require.NoError(t, err)
		assert.Equal(t, int64(5), wm, label)
	}
	check("live")

	last, err := projection.RebuildProjections(ctx, db, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, int64(5), last)
	check("rebuild")

	var weight int64
	require.NoError(t, db.QueryRowContext(ctx, `SELECT total_weight FROM projections.vault_state`).Scan(&weight))
	assert.Equal(t, int64(175), weight)
}

func TestProjection_SkipsAlreadyProjected(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	require.NoError(t, persistence.NewMigrator(db, zerolog.Nop()).Up(ctx))

	evt := stream()[0]
	in := make(chan projection.ProjectionOutput, 2)
	in <- projection.ProjectionOutput{Sequence: 1, Event: evt, Vault: projection.VaultRow{PositionStatus: "EMPTY"}}
	in <- projection.ProjectionOutput{Sequence: 1, Event: evt, Vault: projection.VaultRow{PositionStatus: "EMPTY"}}
	close(in)
	require.NoError(t, projection.NewProjectionWorker(db, in, nil, zerolog.Nop()).Run(ctx))

	var n int
	require.NoError(t, db.QueryRowContext(ctx, `SELECT COUNT(*) FROM projections.stakes`).Scan(&n))
	assert.Equal(t, 1, n)
}
