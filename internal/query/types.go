package query

import "time"

// Amount fields are human-readable decimals in the asset's units
// (settlement asset 6 decimals, other asset 18).

// StakeResponse represents a staked (or previously staked) token.
type StakeResponse struct {
	TokenID      uint64     `json:"token_id"`
	Owner        string     `json:"owner"`
	Tier         string     `json:"tier"`
	Weight       uint64     `json:"weight"`
	Staked       bool       `json:"staked"`
	TotalPaid    string     `json:"total_paid"`
	Deferred     string     `json:"deferred"`
	Forfeited    string     `json:"forfeited"`
	StakedAt     time.Time  `json:"staked_at"`
	UnstakedAt   *time.Time `json:"unstaked_at,omitempty"`
	AsOfSequence int64      `json:"as_of_sequence"`
}

// ClaimResponse is one payout (claim or unstake).
type ClaimResponse struct {
	Sequence     int64     `json:"sequence"`
	RequestID    string    `json:"request_id"`
	TokenID      uint64    `json:"token_id"`
	Owner        string    `json:"owner"`
	Kind         string    `json:"kind"`
	Entitlement  string    `json:"entitlement"`
	Paid         string    `json:"paid"`
	Deferred     string    `json:"deferred"`
	Forfeited    string    `json:"forfeited"`
	Timestamp    time.Time `json:"timestamp"`
	AsOfSequence int64     `json:"as_of_sequence"`
}

// RebalanceResponse is one committed or aborted cycle.
type RebalanceResponse struct {
	Sequence      int64     `json:"sequence"`
	CycleID       string    `json:"cycle_id"`
	Outcome       string    `json:"outcome"`
	PositionID    uint64    `json:"position_id"`
	Fees          [2]string `json:"fees"`
	CarryUsed     [2]string `json:"carry_used"`
	TreasuryTax   string    `json:"treasury_tax"`
	StakerRevenue string    `json:"staker_revenue"`
	Distributed   string    `json:"distributed"`
	Reinvested    string    `json:"reinvested"`
	Deployed      [2]string `json:"deployed"`
	Swept         string    `json:"swept"`
	Reason        string    `json:"reason,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
	AsOfSequence  int64     `json:"as_of_sequence"`
}

// TaxSummary totals treasury tax across committed cycles.
type TaxSummary struct {
	Cycles           int64  `json:"cycles"`
	TotalTax         string `json:"total_tax"`
	TotalSwept       string `json:"total_swept"`
	TotalDistributed string `json:"total_distributed"`
	AsOfSequence     int64  `json:"as_of_sequence"`
}

// VaultStateResponse is the projected aggregate vault state.
type VaultStateResponse struct {
	Acc            string    `json:"acc_reward_per_weight"` // raw, scaled by 1e18
	TotalWeight    uint64    `json:"total_weight"`
	StakedRecords  int64     `json:"staked_records"`
	HeldRevenue    string    `json:"held_revenue"`
	PositionStatus string    `json:"position_status"`
	PositionID     uint64    `json:"position_id"`
	Principal      [2]string `json:"principal"`
	Carry          [2]string `json:"carry"`
	TreasuryOwed   string    `json:"treasury_owed"`
	UpdatedAt      time.Time `json:"updated_at"`
	AsOfSequence   int64     `json:"as_of_sequence"`
}

// JournalHistoryEntry represents a journal entry for API queries.
type JournalHistoryEntry struct {
	JournalID     string `json:"journal_id"`
	BatchID       string `json:"batch_id"`
	EventRef      string `json:"event_ref"`
	Sequence      int64  `json:"sequence"`
	DebitAccount  string `json:"debit_account"`
	CreditAccount string `json:"credit_account"`
	AssetID       uint16 `json:"asset_id"`
	Amount        string `json:"amount"`
	JournalType   string `json:"journal_type"`
	Timestamp     int64  `json:"timestamp"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy       bool    `json:"is_healthy"`
	HashChainBreaks []int64 `json:"hash_chain_breaks,omitempty"`
	SequenceGaps    []int64 `json:"sequence_gaps,omitempty"`
	// staked weight in projections.stakes vs projections.vault_state
	StakedWeight    int64  `json:"staked_weight"`
	ProjectedWeight int64  `json:"projected_weight"`
	WeightMismatch  bool   `json:"weight_mismatch"`
	StakerPool      string `json:"staker_pool"` // journal balance, must not be negative
	PoolOverdrawn   bool   `json:"pool_overdrawn"`
}
