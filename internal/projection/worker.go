package projection

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"VaultLedger/internal/event"
	fpmath "VaultLedger/internal/math"
	"VaultLedger/internal/observability"

	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
)

const workerID = "main"

// ProjectionOutput mirrors the data needed by projection workers.
// The orchestrator bridges between core.CoreOutput and this.
type ProjectionOutput struct {
	Sequence int64
	Event    event.Event
	Vault    VaultRow
}

// VaultRow is the single-row aggregate in projections.vault_state.
// Amounts are base-unit decimal strings.
type VaultRow struct {
	Acc            string
	TotalWeight    uint64
	StakedRecords  int
	HeldRevenue    string
	PositionStatus string
	PositionID     uint64
	Principal      [2]string
	Carry          [2]string
	TreasuryOwed   string
}

// ProjectionWorker updates projection tables from committed events.
// The projection channel is non-blocking with drop; if projections fall
// behind they are rebuilt from the event log.
type ProjectionWorker struct {
	db        *sql.DB
	inputChan <-chan ProjectionOutput
	lastSeq   int64
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

func NewProjectionWorker(db *sql.DB, inputChan <-chan ProjectionOutput, metrics *observability.Metrics, logger zerolog.Logger) *ProjectionWorker {
	return &ProjectionWorker{
		db:        db,
		inputChan: inputChan,
		metrics:   metrics,
		logger:    logger.With().Str("component", "projection").Logger(),
	}
}

// Run starts the projection worker loop.
func (pw *ProjectionWorker) Run(ctx context.Context) error {
	last, err := LoadWatermark(ctx, pw.db)
	if err != nil {
		return fmt.Errorf("load watermark: %w", err)
	}
	pw.lastSeq = last

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				return nil
			}
			if output.Sequence <= pw.lastSeq {
				continue
			}
			if output.Sequence != pw.lastSeq+1 {
				pw.logger.Warn().Int64("expected", pw.lastSeq+1).Int64("got", output.Sequence).
					Msg("projection gap, outputs were dropped; rebuild to recover")
			}

			if err := pw.Process(ctx, output); err != nil {
				// eventually consistent; a rebuild restores the tables
				pw.logger.Warn().Err(err).Int64("sequence", output.Sequence).Msg("projection update failed")
			}
			pw.lastSeq = output.Sequence
		}
	}
}

// Process applies one output in a single transaction.
func (pw *ProjectionWorker) Process(ctx context.Context, output ProjectionOutput) error {
	start := time.Now()
	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := applyEvent(ctx, tx, output.Sequence, output.Event); err != nil {
		return fmt.Errorf("%s projection: %w", output.Event.EventType(), err)
	}
	if err := writeVaultState(ctx, tx, output.Sequence, output.Vault); err != nil {
		return fmt.Errorf("vault_state projection: %w", err)
	}
	if err := writeWatermark(ctx, tx, output.Sequence); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	if pw.metrics != nil {
		pw.metrics.ProjectionUpdateDur.WithLabelValues(output.Event.EventType().String()).
			Observe(time.Since(start).Seconds())
		pw.metrics.ProjectionLastSeq.Set(float64(output.Sequence))
	}
	return nil
}

// LoadWatermark returns the last projected sequence (0 when none).
func LoadWatermark(ctx context.Context, db *sql.DB) (int64, error) {
	var seq int64
	err := db.QueryRowContext(ctx, `
		SELECT last_sequence FROM projections.watermark WHERE worker_id = $1
	`, workerID).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return seq, err
}

// WriteVaultState replaces the vault_state row outside the worker, used
// after recovery so the row matches the replayed engine.
func WriteVaultState(ctx context.Context, db *sql.DB, seq int64, row VaultRow) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := writeVaultState(ctx, tx, seq, row); err != nil {
		return err
	}
	return tx.Commit()
}

func writeVaultState(ctx context.Context, tx *sql.Tx, seq int64, v VaultRow) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.vault_state
			(id, acc, total_weight, staked_records, held_revenue, position_status, position_id,
			 principal0, principal1, carry0, carry1, treasury_owed, last_sequence, updated_at)
		VALUES (1, $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW())
		ON CONFLICT (id) DO UPDATE SET
			acc = $1, total_weight = $2, staked_records = $3, held_revenue = $4,
			position_status = $5, position_id = $6, principal0 = $7, principal1 = $8,
			carry0 = $9, carry1 = $10, treasury_owed = $11, last_sequence = $12, updated_at = NOW()
		WHERE projections.vault_state.last_sequence <= $12
	`, zeroIfEmpty(v.Acc), int64(v.TotalWeight), v.StakedRecords, zeroIfEmpty(v.HeldRevenue),
		v.PositionStatus, int64(v.PositionID),
		zeroIfEmpty(v.Principal[0]), zeroIfEmpty(v.Principal[1]),
		zeroIfEmpty(v.Carry[0]), zeroIfEmpty(v.Carry[1]),
		zeroIfEmpty(v.TreasuryOwed), seq)
	return err
}

func writeWatermark(ctx context.Context, tx *sql.Tx, seq int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (worker_id, last_sequence, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (worker_id) DO UPDATE SET last_sequence = GREATEST(projections.watermark.last_sequence, $2), updated_at = NOW()
	`, workerID, seq)
	return err
}

// RebuildProjections truncates the event-derived tables and re-projects
// every logged event. vault_state is left to the caller (WriteVaultState)
// since it is derived from engine state, not from events alone.
func RebuildProjections(ctx context.Context, db *sql.DB, logger zerolog.Logger) (int64, error) {
	truncate := []string{
		`TRUNCATE projections.stakes`,
		`TRUNCATE projections.claims`,
		`TRUNCATE projections.rebalance_history`,
		`DELETE FROM projections.watermark WHERE worker_id = 'main'`,
	}
	for _, stmt := range truncate {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return 0, fmt.Errorf("truncate failed: %w", err)
		}
	}

	const page = 1000
	var last int64
	for {
		n, err := rebuildPage(ctx, db, last, page)
		if err != nil {
			return last, err
		}
		if n.count == 0 {
			break
		}
		last = n.last
	}

	if last > 0 {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return last, err
		}
		defer tx.Rollback()
		if err := writeWatermark(ctx, tx, last); err != nil {
			return last, err
		}
		if err := tx.Commit(); err != nil {
			return last, err
		}
	}
	logger.Info().Int64("last_sequence", last).Msg("projection rebuild complete")
	return last, nil
}

type pageResult struct {
	count int
	last  int64
}

func rebuildPage(ctx context.Context, db *sql.DB, after int64, limit int) (pageResult, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT sequence, event_type, payload FROM event_log.events
		WHERE sequence > $1 ORDER BY sequence ASC LIMIT $2
	`, after, limit)
	if err != nil {
		return pageResult{}, err
	}
	type logged struct {
		seq int64
		evt event.Event
	}
	var batch []logged
	for rows.Next() {
		var (
			seq       int64
			eventType string
			payload   []byte
		)
		if err := rows.Scan(&seq, &eventType, &payload); err != nil {
			rows.Close()
			return pageResult{}, err
		}
		evt, err := event.Decode(event.ParseEventType(eventType), payload)
		if err != nil {
			rows.Close()
			return pageResult{}, fmt.Errorf("decode sequence %d: %w", seq, err)
		}
		batch = append(batch, logged{seq: seq, evt: evt})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return pageResult{}, err
	}
	if len(batch) == 0 {
		return pageResult{}, nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return pageResult{}, err
	}
	defer tx.Rollback()
	for _, l := range batch {
		if err := applyEvent(ctx, tx, l.seq, l.evt); err != nil {
			return pageResult{}, fmt.Errorf("rebuild sequence %d: %w", l.seq, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return pageResult{}, err
	}
	return pageResult{count: len(batch), last: batch[len(batch)-1].seq}, nil
}

// --- helpers ---

func dec(v *uint256.Int) string {
	return fpmath.Clone(v).Dec()
}

func zeroIfEmpty(s string) string {
	if s == "" {
		return "0"
	}
	return s
}

// ownerKey normalizes addresses for equality lookups.
func ownerKey(hex string) string {
	return strings.ToLower(hex)
}
