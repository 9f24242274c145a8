package projection

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"VaultLedger/internal/event"

	"github.com/holiman/uint256"
)

// applyEvent updates the event-derived tables (stakes, claims,
// rebalance_history) for one committed event. Statements are idempotent
// per sequence so a rebuild and the live worker converge.
func applyEvent(ctx context.Context, tx *sql.Tx, seq int64, evt event.Event) error {
	switch e := evt.(type) {
	case *event.Staked:
		_, err := tx.ExecContext(ctx, `
			INSERT INTO projections.stakes
				(token_id, owner, tier, weight, staked, staked_at, last_sequence)
			VALUES ($1, $2, $3, $4, TRUE, $5, $6)
			ON CONFLICT (token_id) DO UPDATE SET
				owner = $2, tier = $3, weight = $4, staked = TRUE,
				deferred = 0, staked_at = $5, unstaked_at = NULL, last_sequence = $6
			WHERE projections.stakes.last_sequence < $6
		`, int64(e.TokenID), ownerKey(e.Owner.Hex()), int16(e.Tier), int64(e.Weight), e.Timestamp, seq)
		return err

	case *event.YieldClaimed:
		kind := "claim"
		if e.CustodyFailed {
			kind = "unstake_custody_failed"
		}
		if err := insertClaim(ctx, tx, seq, e.RequestID.String(), e.TokenID, e.Owner.Hex(), kind,
			e.Entitlement, e.Paid, e.Deferred, nil, e.Timestamp); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			UPDATE projections.stakes
			SET total_paid = total_paid + $2::numeric, deferred = $3::numeric, last_sequence = $4
			WHERE token_id = $1 AND last_sequence < $4
		`, int64(e.TokenID), dec(e.Paid), dec(e.Deferred), seq)
		return err

	case *event.Unstaked:
		if err := insertClaim(ctx, tx, seq, e.RequestID.String(), e.TokenID, e.Owner.Hex(), "unstake",
			e.Entitlement, e.Paid, nil, e.Forfeited, e.Timestamp); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			UPDATE projections.stakes
			SET staked = FALSE, total_paid = total_paid + $2::numeric,
			    forfeited = forfeited + $3::numeric, deferred = 0,
			    unstaked_at = $4, last_sequence = $5
			WHERE token_id = $1 AND last_sequence < $5
		`, int64(e.TokenID), dec(e.Paid), dec(e.Forfeited), e.Timestamp, seq)
		return err

	case *event.Rebalanced:
		outcome := "rebalanced"
		if e.Minted {
			outcome = "minted"
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO projections.rebalance_history
				(sequence, cycle_id, outcome, position_id, fees0, fees1, carry_used0, carry_used1,
				 treasury_tax, staker_revenue, distributed, reinvested, deployed0, deployed1, timestamp)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
			ON CONFLICT (sequence) DO NOTHING
		`, seq, e.CycleID, outcome, int64(e.PositionID),
			dec(e.Harvested.Amount0), dec(e.Harvested.Amount1),
			dec(e.CarryUsed.Amount0), dec(e.CarryUsed.Amount1),
			dec(e.TreasuryTax), dec(e.StakerRevenue), dec(e.Distributed), dec(e.Reinvested),
			dec(e.Deployed.Amount0), dec(e.Deployed.Amount1), e.Timestamp)
		return err

	case *event.CycleAborted:
		_, err := tx.ExecContext(ctx, `
			INSERT INTO projections.rebalance_history
				(sequence, cycle_id, outcome, position_id, fees0, fees1, reason, timestamp)
			VALUES ($1, $2, 'aborted', $3, $4, $5, $6, $7)
			ON CONFLICT (sequence) DO NOTHING
		`, seq, e.CycleID, int64(e.PositionID),
			dec(e.Harvested.Amount0), dec(e.Harvested.Amount1), e.Reason, e.Timestamp)
		return err

	case *event.TreasurySwept:
		_, err := tx.ExecContext(ctx, `
			UPDATE projections.rebalance_history SET swept = $2::numeric
			WHERE cycle_id = $1 AND outcome <> 'aborted'
		`, e.CycleID, dec(e.Amount))
		return err

	case *event.PrincipalSeeded:
		// reflected in vault_state only
		return nil

	default:
		return fmt.Errorf("projection: unknown event type %T", evt)
	}
}

func insertClaim(
	ctx context.Context, tx *sql.Tx, seq int64, requestID string, tokenID uint64, owner, kind string,
	entitlement, paid, deferred, forfeited *uint256.Int, ts time.Time,
) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.claims
			(sequence, request_id, token_id, owner, kind, entitlement, paid, deferred, forfeited, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (sequence) DO NOTHING
	`, seq, requestID, int64(tokenID), ownerKey(owner), kind,
		dec(entitlement), dec(paid), dec(deferred), dec(forfeited), ts)
	return err
}
