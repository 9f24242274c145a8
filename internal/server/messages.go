package server

import (
	"encoding/json"
	"time"

	"VaultLedger/internal/query"
)

// Request and response messages of VaultService. They travel as JSON on
// both the gRPC codec and the HTTP gateway. Amounts are base-unit decimal
// strings; addresses are 0x-prefixed hex.

type StakeRequest struct {
	RequestID string `json:"request_id,omitempty"`
	TokenID   uint64 `json:"token_id"`
	Owner     string `json:"owner"`
	Tier      string `json:"tier"`
}

type TokenRequest struct {
	RequestID string `json:"request_id,omitempty"`
	TokenID   uint64 `json:"token_id"`
	Caller    string `json:"caller"`
}

type RebalanceRequest struct {
	RequestID string `json:"request_id,omitempty"`
}

type SeedRequest struct {
	RequestID string `json:"request_id,omitempty"`
	Amount0   string `json:"amount0"`
	Amount1   string `json:"amount1"`
}

// CommandResponse lists the events a command committed.
type CommandResponse struct {
	Duplicate bool             `json:"duplicate"`
	Events    []CommittedEvent `json:"events"`
	Error     string           `json:"error,omitempty"`
}

type CommittedEvent struct {
	Sequence  int64           `json:"sequence"`
	EventType string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload"`
	StateHash string          `json:"state_hash"`
	Timestamp time.Time       `json:"timestamp"`
}

type TokenQuery struct {
	TokenID uint64 `json:"token_id"`
}

type RecordResponse struct {
	TokenID    uint64 `json:"token_id"`
	Owner      string `json:"owner"`
	Tier       string `json:"tier"`
	Weight     uint64 `json:"weight"`
	RewardDebt string `json:"reward_debt"`
	EntryAcc   string `json:"entry_acc"`
	Deferred   string `json:"deferred"`
	Staked     bool   `json:"staked"`
	Pending    string `json:"pending"`
}

type QuoteResponse struct {
	TokenID       uint64 `json:"token_id"`
	Pending       string `json:"pending"`
	Entitlement   string `json:"entitlement"`
	Claimable     string `json:"claimable"`
	Shortfall     string `json:"shortfall"`
	TotalPending  string `json:"total_pending"`
	TotalDeferred string `json:"total_deferred"`
	Available     string `json:"available"`
	Capped        bool   `json:"capped"`
}

type StaleDebt struct {
	TokenID    uint64 `json:"token_id"`
	RewardDebt string `json:"reward_debt"`
	EntryAcc   string `json:"entry_acc"`
}

type ReportResponse struct {
	AsOfSequence   int64       `json:"as_of_sequence"`
	Acc            string      `json:"acc_reward_per_weight"`
	TotalWeight    uint64      `json:"total_weight"`
	StakedRecords  int         `json:"staked_records"`
	HeldRevenue    string      `json:"held_revenue"`
	TotalPending   string      `json:"total_pending"`
	Available      string      `json:"available"`
	Shortfall      string      `json:"shortfall"`
	PositionStatus string      `json:"position_status"`
	PositionID     uint64      `json:"position_id"`
	Principal      [2]string   `json:"principal"`
	Carry          [2]string   `json:"carry"`
	TreasuryOwed   string      `json:"treasury_owed"`
	Cycles         int64       `json:"cycles"`
	StaleDebts     []StaleDebt `json:"stale_debts,omitempty"`
}

type OwnerQuery struct {
	Owner           string `json:"owner"`
	IncludeUnstaked bool   `json:"include_unstaked,omitempty"`
}

// StakedTokensResponse is the live per-owner token list, unlike
// StakesResponse which reads the projection.
type StakedTokensResponse struct {
	Owner    string   `json:"owner"`
	TokenIDs []uint64 `json:"token_ids"`
}

type TierWeight struct {
	Tier   string `json:"tier"`
	ID     uint8  `json:"id"`
	Weight uint64 `json:"weight"`
}

type TiersResponse struct {
	Tiers []TierWeight `json:"tiers"`
}

type StakesResponse struct {
	Stakes []query.StakeResponse `json:"stakes"`
}

type HistoryQuery struct {
	TokenID        uint64 `json:"token_id,omitempty"`
	Owner          string `json:"owner,omitempty"`
	AccountPrefix  string `json:"account_prefix,omitempty"`
	Limit          int    `json:"limit,omitempty"`
	BeforeSequence int64  `json:"before_sequence,omitempty"`
}

type ClaimsResponse struct {
	Claims []query.ClaimResponse `json:"claims"`
}

type RebalancesResponse struct {
	Cycles []query.RebalanceResponse `json:"cycles"`
}

type JournalsResponse struct {
	Journals []query.JournalHistoryEntry `json:"journals"`
}

type BalancesResponse struct {
	Balances []query.AccountBalance `json:"balances"`
}

type Empty struct{}

type SnapshotResponse struct {
	Sequence int64 `json:"sequence"`
	Bytes    int   `json:"bytes"`
}

type RebuildResponse struct {
	Events int64 `json:"events"`
}
