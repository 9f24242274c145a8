package ledger

import (
	fpmath "VaultLedger/internal/math"

	"github.com/holiman/uint256"
)

// Guard caps payouts to the vault's available settlement balance.
type Guard struct {
	ledger *RewardLedger
}

func NewGuard(l *RewardLedger) *Guard {
	return &Guard{ledger: l}
}

// ClaimQuote is the result of pricing one claim against the available balance.
type ClaimQuote struct {
	TokenID       uint64
	Pending       *uint256.Int // weight * (acc - debt) / 1e18
	Entitlement   *uint256.Int // pending + deferred
	Claimable     *uint256.Int // amount that may be paid now
	Shortfall     *uint256.Int // entitlement - claimable
	TotalPending  *uint256.Int // pending summed over the active set
	TotalDeferred *uint256.Int // deferred summed over the active set
	Available     *uint256.Int
	Capped        bool
}

// Claimable prices rec's claim in two tiers. Pending rewards are paid first:
// when their total exceeds available, every pending amount is scaled by
// available / totalPending and no deferred amount is paid. Whatever remains
// after all pending is covered pays deferred shortfalls, scaled the same way.
// A shortfall left behind by an earlier capped claim therefore never dilutes
// the pending rewards of other records.
func (g *Guard) Claimable(rec *Record, available *uint256.Int) (ClaimQuote, error) {
	pending, deferred, err := g.ledger.Totals()
	if err != nil {
		return ClaimQuote{}, err
	}
	return g.quote(rec, pending, deferred, available)
}

// ClaimableAll prices every staked record against one set of totals, in token order.
func (g *Guard) ClaimableAll(available *uint256.Int) ([]ClaimQuote, error) {
	pending, deferred, err := g.ledger.Totals()
	if err != nil {
		return nil, err
	}
	var quotes []ClaimQuote
	var iterErr error
	g.ledger.registry.AscendStaked(func(rec *Record) bool {
		q, err := g.quote(rec, pending, deferred, available)
		if err != nil {
			iterErr = err
			return false
		}
		quotes = append(quotes, q)
		return true
	})
	return quotes, iterErr
}

func (g *Guard) quote(rec *Record, totalPending, totalDeferred, available *uint256.Int) (ClaimQuote, error) {
	pending, err := g.ledger.PendingReward(rec)
	if err != nil {
		return ClaimQuote{}, err
	}
	ent, err := fpmath.Add(pending, rec.Deferred)
	if err != nil {
		return ClaimQuote{}, Violation("token %d: entitlement overflow", rec.TokenID)
	}

	q := ClaimQuote{
		TokenID:       rec.TokenID,
		Pending:       pending,
		Entitlement:   ent,
		TotalPending:  fpmath.Clone(totalPending),
		TotalDeferred: fpmath.Clone(totalDeferred),
		Available:     fpmath.Clone(available),
	}

	if totalPending.Gt(available) {
		claimable, err := fpmath.MulDiv(pending, available, totalPending)
		if err != nil {
			return ClaimQuote{}, Violation("token %d: capped pending: %v", rec.TokenID, err)
		}
		q.Claimable = claimable
	} else {
		spare := new(uint256.Int).Sub(available, totalPending)
		paid := fpmath.Clone(rec.Deferred)
		if totalDeferred.Gt(spare) {
			paid, err = fpmath.MulDiv(rec.Deferred, spare, totalDeferred)
			if err != nil {
				return ClaimQuote{}, Violation("token %d: capped deferred: %v", rec.TokenID, err)
			}
		}
		q.Claimable, err = fpmath.Add(pending, paid)
		if err != nil {
			return ClaimQuote{}, Violation("token %d: claimable overflow", rec.TokenID)
		}
	}
	q.Shortfall = new(uint256.Int).Sub(ent, q.Claimable)
	q.Capped = !q.Shortfall.IsZero()
	return q, nil
}
