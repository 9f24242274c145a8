package query

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"VaultLedger/internal/ledger"
	"VaultLedger/internal/weights"

	"github.com/shopspring/decimal"
)

const (
	settlementDecimals = 6
	otherDecimals      = 18
)

// QueryService provides read-only access to projection tables and the
// event log. Responses carry as_of_sequence: the projection watermark at
// read time.
type QueryService struct {
	db *sql.DB
	// venue token order: index of the settlement asset
	settlementIndex int
}

func NewQueryService(db *sql.DB, settlementIndex int) *QueryService {
	return &QueryService{db: db, settlementIndex: settlementIndex}
}

// GetStakes returns the tokens an owner has staked. With includeUnstaked
// the owner's past stakes are listed too.
func (qs *QueryService) GetStakes(ctx context.Context, owner string, includeUnstaked bool) ([]StakeResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT token_id, owner, tier, weight, staked, total_paid::text, deferred::text,
		       forfeited::text, staked_at, unstaked_at
		FROM projections.stakes
		WHERE owner = $1 AND (staked OR $2)
		ORDER BY token_id
	`, strings.ToLower(owner), includeUnstaked)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stakes []StakeResponse
	for rows.Next() {
		var (
			s                         StakeResponse
			tier                      int16
			paid, deferred, forfeited string
			unstakedAt                sql.NullTime
		)
		if err := rows.Scan(&s.TokenID, &s.Owner, &tier, &s.Weight, &s.Staked,
			&paid, &deferred, &forfeited, &s.StakedAt, &unstakedAt); err != nil {
			return nil, err
		}
		s.Tier = weights.Tier(tier).String()
		s.TotalPaid = formatNumeric(paid, settlementDecimals)
		s.Deferred = formatNumeric(deferred, settlementDecimals)
		s.Forfeited = formatNumeric(forfeited, settlementDecimals)
		if unstakedAt.Valid {
			t := unstakedAt.Time
			s.UnstakedAt = &t
		}
		s.AsOfSequence = asOfSeq
		stakes = append(stakes, s)
	}
	return stakes, rows.Err()
}

// GetClaimHistory returns payouts, newest first. tokenID and owner filter
// when set; beforeSequence pages.
func (qs *QueryService) GetClaimHistory(
	ctx context.Context,
	tokenID *uint64,
	owner *string,
	limit int,
	beforeSequence *int64,
) ([]ClaimResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT sequence, request_id, token_id, owner, kind, entitlement::text, paid::text,
		       deferred::text, forfeited::text, timestamp
		FROM projections.claims
		WHERE TRUE
	`
	args := []interface{}{}
	argIdx := 1

	if tokenID != nil {
		query += fmt.Sprintf(" AND token_id = $%d", argIdx)
		args = append(args, int64(*tokenID))
		argIdx++
	}
	if owner != nil {
		query += fmt.Sprintf(" AND owner = $%d", argIdx)
		args = append(args, strings.ToLower(*owner))
		argIdx++
	}
	if beforeSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *beforeSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, clampLimit(limit))

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var claims []ClaimResponse
	for rows.Next() {
		var (
			c                                      ClaimResponse
			entitlement, paid, deferred, forfeited string
		)
		if err := rows.Scan(&c.Sequence, &c.RequestID, &c.TokenID, &c.Owner, &c.Kind,
			&entitlement, &paid, &deferred, &forfeited, &c.Timestamp); err != nil {
			return nil, err
		}
		c.Entitlement = formatNumeric(entitlement, settlementDecimals)
		c.Paid = formatNumeric(paid, settlementDecimals)
		c.Deferred = formatNumeric(deferred, settlementDecimals)
		c.Forfeited = formatNumeric(forfeited, settlementDecimals)
		c.AsOfSequence = asOfSeq
		claims = append(claims, c)
	}
	return claims, rows.Err()
}

// GetRebalanceHistory returns cycles, newest first.
func (qs *QueryService) GetRebalanceHistory(ctx context.Context, limit int, beforeSequence *int64) ([]RebalanceResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT sequence, cycle_id, outcome, position_id, fees0::text, fees1::text,
		       carry_used0::text, carry_used1::text, treasury_tax::text, staker_revenue::text,
		       distributed::text, reinvested::text, deployed0::text, deployed1::text,
		       swept::text, reason, timestamp
		FROM projections.rebalance_history
	`
	args := []interface{}{}
	argIdx := 1
	if beforeSequence != nil {
		query += fmt.Sprintf(" WHERE sequence < $%d", argIdx)
		args = append(args, *beforeSequence)
		argIdx++
	}
	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, clampLimit(limit))

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []RebalanceResponse
	for rows.Next() {
		var (
			r                                       RebalanceResponse
			fees, carry, deployed                   [2]string
			tax, revenue, distributed, reinv, swept string
		)
		if err := rows.Scan(&r.Sequence, &r.CycleID, &r.Outcome, &r.PositionID,
			&fees[0], &fees[1], &carry[0], &carry[1], &tax, &revenue,
			&distributed, &reinv, &deployed[0], &deployed[1], &swept, &r.Reason, &r.Timestamp); err != nil {
			return nil, err
		}
		r.Fees = qs.formatPair(fees)
		r.CarryUsed = qs.formatPair(carry)
		r.Deployed = qs.formatPair(deployed)
		r.TreasuryTax = formatNumeric(tax, settlementDecimals)
		r.StakerRevenue = formatNumeric(revenue, settlementDecimals)
		r.Distributed = formatNumeric(distributed, settlementDecimals)
		r.Reinvested = formatNumeric(reinv, otherDecimals)
		r.Swept = formatNumeric(swept, settlementDecimals)
		r.AsOfSequence = asOfSeq
		history = append(history, r)
	}
	return history, rows.Err()
}

// GetTaxSummary totals tax over committed cycles.
func (qs *QueryService) GetTaxSummary(ctx context.Context) (*TaxSummary, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}
	var tax, swept, distributed string
	s := &TaxSummary{AsOfSequence: asOfSeq}
	if err := qs.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(treasury_tax), 0)::text, COALESCE(SUM(swept), 0)::text,
		       COALESCE(SUM(distributed), 0)::text
		FROM projections.rebalance_history
		WHERE outcome IN ('rebalanced', 'minted')
	`).Scan(&s.Cycles, &tax, &swept, &distributed); err != nil {
		return nil, err
	}
	s.TotalTax = formatNumeric(tax, settlementDecimals)
	s.TotalSwept = formatNumeric(swept, settlementDecimals)
	s.TotalDistributed = formatNumeric(distributed, settlementDecimals)
	return s, nil
}

// GetVaultState returns the projected vault aggregate, or nil before the
// first event.
func (qs *QueryService) GetVaultState(ctx context.Context) (*VaultStateResponse, error) {
	var (
		v                VaultStateResponse
		held, owed       string
		principal, carry [2]string
	)
	err := qs.db.QueryRowContext(ctx, `
		SELECT acc::text, total_weight, staked_records, held_revenue::text, position_status,
		       position_id, principal0::text, principal1::text, carry0::text, carry1::text,
		       treasury_owed::text, updated_at, last_sequence
		FROM projections.vault_state WHERE id = 1
	`).Scan(&v.Acc, &v.TotalWeight, &v.StakedRecords, &held, &v.PositionStatus, &v.PositionID,
		&principal[0], &principal[1], &carry[0], &carry[1], &owed, &v.UpdatedAt, &v.AsOfSequence)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	v.HeldRevenue = formatNumeric(held, settlementDecimals)
	v.TreasuryOwed = formatNumeric(owed, settlementDecimals)
	v.Principal = qs.formatPair(principal)
	v.Carry = qs.formatPair(carry)
	return &v, nil
}

// GetJournalHistory returns journal entries touching accounts with the
// given path prefix, newest first.
func (qs *QueryService) GetJournalHistory(
	ctx context.Context,
	accountPrefix string,
	limit int,
	beforeSequence *int64,
) ([]JournalHistoryEntry, error) {
	query := `
		SELECT journal_id, batch_id, event_ref, sequence,
		       debit_account, credit_account, asset_id, amount::text, journal_type, timestamp
		FROM event_log.journal
		WHERE (debit_account LIKE $1 OR credit_account LIKE $1)
	`
	args := []interface{}{strings.ToLower(accountPrefix) + "%"}
	argIdx := 2

	if beforeSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *beforeSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC, journal_id"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, clampLimit(limit))

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []JournalHistoryEntry
	for rows.Next() {
		var e JournalHistoryEntry
		if err := rows.Scan(
			&e.JournalID, &e.BatchID, &e.EventRef, &e.Sequence,
			&e.DebitAccount, &e.CreditAccount, &e.AssetID, &e.Amount,
			&e.JournalType, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// --- Admin APIs ---

// VerifyIntegrity checks the hash chain and sequence continuity of the
// event log, the staked weight projection, and that the staker pool was
// never paid out beyond what was credited to it.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	report := &IntegrityReport{}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT e1.sequence
		FROM event_log.events e1
		JOIN event_log.events e2 ON e2.sequence = e1.sequence - 1
		WHERE e1.prev_hash <> e2.state_hash
		ORDER BY e1.sequence
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	if report.HashChainBreaks, err = scanInt64s(rows); err != nil {
		return nil, err
	}

	rows, err = qs.db.QueryContext(ctx, `
		SELECT e1.sequence
		FROM event_log.events e1
		WHERE e1.sequence > 1 AND NOT EXISTS (
			SELECT 1 FROM event_log.events e2 WHERE e2.sequence = e1.sequence - 1
		)
		ORDER BY e1.sequence
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	if report.SequenceGaps, err = scanInt64s(rows); err != nil {
		return nil, err
	}

	if err := qs.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(weight), 0) FROM projections.stakes WHERE staked
	`).Scan(&report.StakedWeight); err != nil {
		return nil, err
	}
	err = qs.db.QueryRowContext(ctx, `
		SELECT total_weight FROM projections.vault_state WHERE id = 1
	`).Scan(&report.ProjectedWeight)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	report.WeightMismatch = report.StakedWeight != report.ProjectedWeight

	pool := ledger.NewSystemAccountKey(ledger.SubTypeStakerPool, ledger.AssetSettlement).AccountPath()
	var raw string
	if err := qs.db.QueryRowContext(ctx, `
		SELECT (COALESCE(SUM(amount) FILTER (WHERE debit_account = $1), 0)
		      - COALESCE(SUM(amount) FILTER (WHERE credit_account = $1), 0))::text
		FROM event_log.journal
	`, pool).Scan(&raw); err != nil {
		return nil, err
	}
	report.StakerPool = formatNumeric(raw, settlementDecimals)
	report.PoolOverdrawn = strings.HasPrefix(raw, "-")

	report.IsHealthy = len(report.HashChainBreaks) == 0 &&
		len(report.SequenceGaps) == 0 &&
		!report.WeightMismatch &&
		!report.PoolOverdrawn
	return report, nil
}

// --- helpers ---

func (qs *QueryService) getWatermark(ctx context.Context) (int64, error) {
	var seq int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT COALESCE(last_sequence, 0) FROM projections.watermark WHERE worker_id = 'main'
	`).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return seq, err
}

// formatPair formats amounts in venue token order.
func (qs *QueryService) formatPair(p [2]string) [2]string {
	var out [2]string
	for i := range p {
		d := int32(otherDecimals)
		if i == qs.settlementIndex {
			d = settlementDecimals
		}
		out[i] = formatNumeric(p[i], d)
	}
	return out
}

func decimalsOf(id ledger.AssetID) int32 {
	if id == ledger.AssetSettlement {
		return settlementDecimals
	}
	return otherDecimals
}

// formatNumeric renders a base-unit NUMERIC string in asset units.
func formatNumeric(raw string, decimals int32) string {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return raw
	}
	return d.Shift(-decimals).String()
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > 1000 {
		return 100
	}
	return limit
}

func scanInt64s(rows *sql.Rows) ([]int64, error) {
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var v int64
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
