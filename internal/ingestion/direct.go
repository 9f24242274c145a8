package ingestion

import (
	"context"

	"VaultLedger/internal/core"
	"VaultLedger/internal/event"
	fpmath "VaultLedger/internal/math"
	"VaultLedger/internal/weights"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// DirectIngestService builds commands for synchronous callers (gRPC, HTTP
// gateway, scheduler). A nil request id is replaced by a fresh one, which
// gives up retry dedup for that call.
type DirectIngestService struct {
	submitter CommandSubmitter
}

func NewDirectIngestService(submitter CommandSubmitter) *DirectIngestService {
	return &DirectIngestService{submitter: submitter}
}

func (s *DirectIngestService) Stake(ctx context.Context, requestID uuid.UUID, tokenID uint64, owner common.Address, tier weights.Tier) (*core.Result, error) {
	return s.submitter.Submit(ctx, &event.StakeCommand{
		RequestID: orNew(requestID),
		TokenID:   tokenID,
		Owner:     owner,
		Tier:      tier,
	})
}

func (s *DirectIngestService) Unstake(ctx context.Context, requestID uuid.UUID, tokenID uint64, caller common.Address) (*core.Result, error) {
	return s.submitter.Submit(ctx, &event.UnstakeCommand{
		RequestID: orNew(requestID),
		TokenID:   tokenID,
		Caller:    caller,
	})
}

func (s *DirectIngestService) Claim(ctx context.Context, requestID uuid.UUID, tokenID uint64, caller common.Address) (*core.Result, error) {
	return s.submitter.Submit(ctx, &event.ClaimCommand{
		RequestID: orNew(requestID),
		TokenID:   tokenID,
		Caller:    caller,
	})
}

func (s *DirectIngestService) Rebalance(ctx context.Context, requestID uuid.UUID) (*core.Result, error) {
	return s.submitter.Submit(ctx, &event.RebalanceCommand{RequestID: orNew(requestID)})
}

// SeedPrincipal registers principal already transferred to the vault.
func (s *DirectIngestService) SeedPrincipal(ctx context.Context, requestID uuid.UUID, amount0, amount1 *uint256.Int) (*core.Result, error) {
	return s.submitter.Submit(ctx, &event.SeedPrincipalCommand{
		RequestID: orNew(requestID),
		Amounts:   fpmath.NewAmounts(amount0, amount1),
	})
}

func orNew(id uuid.UUID) uuid.UUID {
	if id == uuid.Nil {
		return uuid.New()
	}
	return id
}
