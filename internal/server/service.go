package server

import (
	"context"
	"database/sql"
	"encoding/hex"
	"time"

	"VaultLedger/internal/core"
	"VaultLedger/internal/event"
	"VaultLedger/internal/ingestion"
	fpmath "VaultLedger/internal/math"
	"VaultLedger/internal/observability"
	"VaultLedger/internal/projection"
	"VaultLedger/internal/query"
	"VaultLedger/internal/weights"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Snapshotter captures engine state on demand.
type Snapshotter interface {
	TakeSnapshot(ctx context.Context) (sequence int64, size int, err error)
}

// Deps holds everything VaultService needs.
type Deps struct {
	Actor       *core.Actor
	Ingest      *ingestion.DirectIngestService
	Queries     *query.QueryService
	DB          *sql.DB
	Snapshotter Snapshotter
	Limits      *CommandLimiter
	Metrics     *observability.Metrics
	Logger      zerolog.Logger
}

// VaultService exposes commands, live reads (through the actor) and the
// projection-backed queries. Every method has the shape
// func(ctx, *Req) (*Resp, error) and returns gRPC status errors.
type VaultService struct {
	actor       *core.Actor
	ingest      *ingestion.DirectIngestService
	queries     *query.QueryService
	db          *sql.DB
	snapshotter Snapshotter
	limits      *CommandLimiter
	metrics     *observability.Metrics
	logger      zerolog.Logger
}

func NewVaultService(d Deps) *VaultService {
	return &VaultService{
		actor:       d.Actor,
		ingest:      d.Ingest,
		queries:     d.Queries,
		db:          d.DB,
		snapshotter: d.Snapshotter,
		limits:      d.Limits,
		metrics:     d.Metrics,
		logger:      d.Logger.With().Str("component", "vault_service").Logger(),
	}
}

// --- Commands ---

func (s *VaultService) Stake(ctx context.Context, req *StakeRequest) (*CommandResponse, error) {
	requestID, err := parseRequestID(req.RequestID)
	if err != nil {
		return nil, err
	}
	owner, err := parseAddress("owner", req.Owner)
	if err != nil {
		return nil, err
	}
	tier, err := weights.ParseTier(req.Tier)
	if err != nil {
		return nil, toStatus(err)
	}
	return commandResponse(s.ingest.Stake(ctx, requestID, req.TokenID, owner, tier))
}

func (s *VaultService) Unstake(ctx context.Context, req *TokenRequest) (*CommandResponse, error) {
	requestID, caller, err := parseTokenRequest(req)
	if err != nil {
		return nil, err
	}
	return commandResponse(s.ingest.Unstake(ctx, requestID, req.TokenID, caller))
}

func (s *VaultService) Claim(ctx context.Context, req *TokenRequest) (*CommandResponse, error) {
	requestID, caller, err := parseTokenRequest(req)
	if err != nil {
		return nil, err
	}
	return commandResponse(s.ingest.Claim(ctx, requestID, req.TokenID, caller))
}

func (s *VaultService) Rebalance(ctx context.Context, req *RebalanceRequest) (*CommandResponse, error) {
	if err := s.limits.Allow(event.CommandKindRebalance); err != nil {
		return nil, err
	}
	requestID, err := parseRequestID(req.RequestID)
	if err != nil {
		return nil, err
	}
	return commandResponse(s.ingest.Rebalance(ctx, requestID))
}

func (s *VaultService) SeedPrincipal(ctx context.Context, req *SeedRequest) (*CommandResponse, error) {
	if err := s.limits.Allow(event.CommandKindSeedPrincipal); err != nil {
		return nil, err
	}
	requestID, err := parseRequestID(req.RequestID)
	if err != nil {
		return nil, err
	}
	a0, err := parseAmount("amount0", req.Amount0)
	if err != nil {
		return nil, err
	}
	a1, err := parseAmount("amount1", req.Amount1)
	if err != nil {
		return nil, err
	}
	return commandResponse(s.ingest.SeedPrincipal(ctx, requestID, a0, a1))
}

// --- Live reads ---

func (s *VaultService) GetRecord(ctx context.Context, req *TokenQuery) (*RecordResponse, error) {
	var resp *RecordResponse
	err := s.read(ctx, func(ctx context.Context, e *core.Engine) error {
		rec, err := e.Record(req.TokenID)
		if err != nil {
			return err
		}
		pending, err := e.PendingReward(req.TokenID)
		if err != nil {
			return err
		}
		resp = &RecordResponse{
			TokenID:    rec.TokenID,
			Owner:      rec.Owner.Hex(),
			Tier:       rec.Tier.String(),
			Weight:     rec.Weight,
			RewardDebt: dec(rec.RewardDebt),
			EntryAcc:   dec(rec.EntryAcc),
			Deferred:   dec(rec.Deferred),
			Staked:     rec.Staked,
			Pending:    dec(pending),
		}
		return nil
	})
	return resp, err
}

func (s *VaultService) QuoteClaim(ctx context.Context, req *TokenQuery) (*QuoteResponse, error) {
	var resp *QuoteResponse
	err := s.read(ctx, func(ctx context.Context, e *core.Engine) error {
		q, err := e.Quote(ctx, req.TokenID)
		if err != nil {
			return err
		}
		resp = &QuoteResponse{
			TokenID:       q.TokenID,
			Pending:       dec(q.Pending),
			Entitlement:   dec(q.Entitlement),
			Claimable:     dec(q.Claimable),
			Shortfall:     dec(q.Shortfall),
			TotalPending:  dec(q.TotalPending),
			TotalDeferred: dec(q.TotalDeferred),
			Available:     dec(q.Available),
			Capped:        q.Capped,
		}
		return nil
	})
	return resp, err
}

func (s *VaultService) Report(ctx context.Context, _ *Empty) (*ReportResponse, error) {
	var resp *ReportResponse
	err := s.read(ctx, func(ctx context.Context, e *core.Engine) error {
		r, err := e.Report(ctx)
		if err != nil {
			return err
		}
		resp = &ReportResponse{
			AsOfSequence:   r.AsOfSequence,
			Acc:            dec(r.Acc),
			TotalWeight:    r.TotalWeight,
			StakedRecords:  r.StakedRecords,
			HeldRevenue:    dec(r.HeldRevenue),
			TotalPending:   dec(r.TotalPending),
			Available:      dec(r.Available),
			Shortfall:      dec(r.Shortfall),
			PositionStatus: r.Position.Status.String(),
			PositionID:     r.Position.PositionID,
			Principal:      pair(r.Position.Principal),
			Carry:          pair(r.Position.Carry),
			TreasuryOwed:   dec(r.Position.TreasuryOwed),
			Cycles:         r.Position.Cycles,
		}
		for _, sd := range r.StaleDebts {
			resp.StaleDebts = append(resp.StaleDebts, StaleDebt{
				TokenID:    sd.TokenID,
				RewardDebt: dec(sd.RewardDebt),
				EntryAcc:   dec(sd.EntryAcc),
			})
		}
		return nil
	})
	return resp, err
}

// read runs fn on the engine goroutine.
func (s *VaultService) read(ctx context.Context, fn func(ctx context.Context, e *core.Engine) error) error {
	var ferr error
	if err := s.actor.Do(ctx, func(ctx context.Context, e *core.Engine) {
		ferr = fn(ctx, e)
	}); err != nil {
		return toStatus(err)
	}
	return toStatus(ferr)
}

func (s *VaultService) GetStakedTokens(ctx context.Context, req *OwnerQuery) (*StakedTokensResponse, error) {
	owner, err := parseAddress("owner", req.Owner)
	if err != nil {
		return nil, err
	}
	resp := &StakedTokensResponse{Owner: owner.Hex()}
	err = s.read(ctx, func(_ context.Context, e *core.Engine) error {
		resp.TokenIDs = append([]uint64{}, e.StakedTokens(owner)...)
		return nil
	})
	return resp, err
}

func (s *VaultService) GetTiers(ctx context.Context, _ *Empty) (*TiersResponse, error) {
	resp := &TiersResponse{}
	err := s.read(ctx, func(_ context.Context, e *core.Engine) error {
		for _, tier := range e.Tiers() {
			w, err := e.TierWeight(tier)
			if err != nil {
				return err
			}
			resp.Tiers = append(resp.Tiers, TierWeight{Tier: tier.String(), ID: uint8(tier), Weight: w})
		}
		return nil
	})
	return resp, err
}

// --- Projection queries ---

func (s *VaultService) GetStakes(ctx context.Context, req *OwnerQuery) (*StakesResponse, error) {
	defer s.observe("GetStakes", time.Now())
	if _, err := parseAddress("owner", req.Owner); err != nil {
		return nil, err
	}
	stakes, err := s.queries.GetStakes(ctx, req.Owner, req.IncludeUnstaked)
	if err != nil {
		return nil, s.queryError("GetStakes", err)
	}
	return &StakesResponse{Stakes: stakes}, nil
}

func (s *VaultService) GetClaimHistory(ctx context.Context, req *HistoryQuery) (*ClaimsResponse, error) {
	defer s.observe("GetClaimHistory", time.Now())
	var (
		tokenID *uint64
		owner   *string
	)
	if req.TokenID != 0 {
		tokenID = &req.TokenID
	}
	if req.Owner != "" {
		if _, err := parseAddress("owner", req.Owner); err != nil {
			return nil, err
		}
		owner = &req.Owner
	}
	claims, err := s.queries.GetClaimHistory(ctx, tokenID, owner, req.Limit, before(req))
	if err != nil {
		return nil, s.queryError("GetClaimHistory", err)
	}
	return &ClaimsResponse{Claims: claims}, nil
}

func (s *VaultService) GetRebalanceHistory(ctx context.Context, req *HistoryQuery) (*RebalancesResponse, error) {
	defer s.observe("GetRebalanceHistory", time.Now())
	cycles, err := s.queries.GetRebalanceHistory(ctx, req.Limit, before(req))
	if err != nil {
		return nil, s.queryError("GetRebalanceHistory", err)
	}
	return &RebalancesResponse{Cycles: cycles}, nil
}

func (s *VaultService) GetTaxSummary(ctx context.Context, _ *Empty) (*query.TaxSummary, error) {
	defer s.observe("GetTaxSummary", time.Now())
	sum, err := s.queries.GetTaxSummary(ctx)
	if err != nil {
		return nil, s.queryError("GetTaxSummary", err)
	}
	return sum, nil
}

func (s *VaultService) GetVaultState(ctx context.Context, _ *Empty) (*query.VaultStateResponse, error) {
	defer s.observe("GetVaultState", time.Now())
	v, err := s.queries.GetVaultState(ctx)
	if err != nil {
		return nil, s.queryError("GetVaultState", err)
	}
	if v == nil {
		return nil, status.Error(codes.NotFound, "vault state not projected yet")
	}
	return v, nil
}

func (s *VaultService) ListJournals(ctx context.Context, req *HistoryQuery) (*JournalsResponse, error) {
	defer s.observe("ListJournals", time.Now())
	if req.AccountPrefix == "" {
		return nil, status.Error(codes.InvalidArgument, "account_prefix is required")
	}
	entries, err := s.queries.GetJournalHistory(ctx, req.AccountPrefix, req.Limit, before(req))
	if err != nil {
		return nil, s.queryError("ListJournals", err)
	}
	return &JournalsResponse{Journals: entries}, nil
}

func (s *VaultService) GetBalances(ctx context.Context, req *HistoryQuery) (*BalancesResponse, error) {
	defer s.observe("GetBalances", time.Now())
	balances, err := s.queries.GetAccountBalances(ctx, req.AccountPrefix)
	if err != nil {
		return nil, s.queryError("GetBalances", err)
	}
	return &BalancesResponse{Balances: balances}, nil
}

// --- Admin ---

func (s *VaultService) VerifyIntegrity(ctx context.Context, _ *Empty) (*query.IntegrityReport, error) {
	defer s.observe("VerifyIntegrity", time.Now())
	report, err := s.queries.VerifyIntegrity(ctx)
	if err != nil {
		return nil, s.queryError("VerifyIntegrity", err)
	}
	return report, nil
}

func (s *VaultService) TakeSnapshot(ctx context.Context, _ *Empty) (*SnapshotResponse, error) {
	if s.snapshotter == nil {
		return nil, status.Error(codes.Unimplemented, "snapshots disabled")
	}
	seq, size, err := s.snapshotter.TakeSnapshot(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	return &SnapshotResponse{Sequence: seq, Bytes: size}, nil
}

func (s *VaultService) RebuildProjections(ctx context.Context, _ *Empty) (*RebuildResponse, error) {
	n, err := projection.RebuildProjections(ctx, s.db, s.logger)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "rebuild failed: %v", err)
	}
	return &RebuildResponse{Events: n}, nil
}

// --- helpers ---

func (s *VaultService) observe(method string, start time.Time) {
	if s.metrics == nil {
		return
	}
	s.metrics.QueryRequests.WithLabelValues(method).Inc()
	s.metrics.QueryDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
}

func (s *VaultService) queryError(method string, err error) error {
	st := toStatus(err)
	if s.metrics != nil {
		s.metrics.QueryErrors.WithLabelValues(method, status.Code(st).String()).Inc()
	}
	s.logger.Warn().Err(err).Str("method", method).Msg("query failed")
	return st
}

// commandResponse reports committed events. A command that failed after
// committing (custody failure after payout, aborted cycle) succeeds at the
// transport level with Error set.
func commandResponse(res *core.Result, err error) (*CommandResponse, error) {
	if err != nil && (res == nil || len(res.Envelopes) == 0) {
		return nil, toStatus(err)
	}
	resp := &CommandResponse{Events: []CommittedEvent{}}
	if res == nil {
		return resp, nil
	}
	resp.Duplicate = res.Duplicate
	for _, env := range res.Envelopes {
		resp.Events = append(resp.Events, CommittedEvent{
			Sequence:  env.Sequence,
			EventType: env.EventType.String(),
			Payload:   env.Payload,
			StateHash: hex.EncodeToString(env.StateHash[:]),
			Timestamp: env.Timestamp,
		})
	}
	if err != nil {
		resp.Error = toStatus(err).Error()
	}
	return resp, nil
}

func parseRequestID(s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, nil
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, status.Errorf(codes.InvalidArgument, "invalid request_id: %v", err)
	}
	return id, nil
}

func parseAddress(field, s string) (common.Address, error) {
	addr, err := event.ParseAddress(s)
	if err != nil {
		return common.Address{}, status.Errorf(codes.InvalidArgument, "invalid %s: %v", field, err)
	}
	return addr, nil
}

func parseAmount(field, s string) (*uint256.Int, error) {
	v, err := event.ParseAmount(s)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "invalid %s: %v", field, err)
	}
	return v, nil
}

func parseTokenRequest(req *TokenRequest) (uuid.UUID, common.Address, error) {
	requestID, err := parseRequestID(req.RequestID)
	if err != nil {
		return uuid.Nil, common.Address{}, err
	}
	caller, err := parseAddress("caller", req.Caller)
	if err != nil {
		return uuid.Nil, common.Address{}, err
	}
	return requestID, caller, nil
}

func before(req *HistoryQuery) *int64 {
	if req.BeforeSequence <= 0 {
		return nil
	}
	return &req.BeforeSequence
}

func dec(v *uint256.Int) string {
	return fpmath.Clone(v).Dec()
}

func pair(a fpmath.Amounts) [2]string {
	return [2]string{dec(a.Amount0), dec(a.Amount1)}
}
