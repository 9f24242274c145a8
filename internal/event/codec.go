package event

import (
	"encoding/json"
	"fmt"
	"time"

	fpmath "VaultLedger/internal/math"
	"VaultLedger/internal/weights"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// Encode serializes an event payload for the event log and outbound
// publishing. Amounts are decimal strings in base units.
func Encode(evt Event) ([]byte, error) {
	switch e := evt.(type) {
	case *Staked:
		return json.Marshal(stakedJSON{
			RequestID:   e.RequestID.String(),
			TokenID:     e.TokenID,
			Owner:       e.Owner.Hex(),
			Tier:        uint8(e.Tier),
			Weight:      e.Weight,
			TimestampUs: e.Timestamp.UnixMicro(),
		})
	case *Unstaked:
		return json.Marshal(unstakedJSON{
			RequestID:   e.RequestID.String(),
			TokenID:     e.TokenID,
			Owner:       e.Owner.Hex(),
			Entitlement: dec(e.Entitlement),
			Paid:        dec(e.Paid),
			Forfeited:   dec(e.Forfeited),
			TimestampUs: e.Timestamp.UnixMicro(),
		})
	case *YieldClaimed:
		return json.Marshal(yieldClaimedJSON{
			RequestID:     e.RequestID.String(),
			TokenID:       e.TokenID,
			Owner:         e.Owner.Hex(),
			Entitlement:   dec(e.Entitlement),
			Paid:          dec(e.Paid),
			Deferred:      dec(e.Deferred),
			CustodyFailed: e.CustodyFailed,
			TimestampUs:   e.Timestamp.UnixMicro(),
		})
	case *Rebalanced:
		return json.Marshal(rebalancedJSON{
			CycleID:       e.CycleID.String(),
			PositionID:    e.PositionID,
			Minted:        e.Minted,
			Harvested:     toAmountsJSON(e.Harvested),
			CarryUsed:     toAmountsJSON(e.CarryUsed),
			TreasuryTax:   dec(e.TreasuryTax),
			StakerRevenue: dec(e.StakerRevenue),
			Distributed:   dec(e.Distributed),
			HeldAfter:     dec(e.HeldAfter),
			Reinvested:    dec(e.Reinvested),
			Deployed:      toAmountsJSON(e.Deployed),
			Redeployed:    e.Redeployed,
			TimestampUs:   e.Timestamp.UnixMicro(),
		})
	case *CycleAborted:
		return json.Marshal(cycleAbortedJSON{
			CycleID:     e.CycleID.String(),
			PositionID:  e.PositionID,
			Harvested:   toAmountsJSON(e.Harvested),
			Unresolved:  e.Unresolved,
			HarvestRef:  e.HarvestRef,
			Reason:      e.Reason,
			TimestampUs: e.Timestamp.UnixMicro(),
		})
	case *PrincipalSeeded:
		return json.Marshal(principalSeededJSON{
			RequestID:   e.RequestID.String(),
			Amounts:     toAmountsJSON(e.Amounts),
			TimestampUs: e.Timestamp.UnixMicro(),
		})
	case *TreasurySwept:
		return json.Marshal(treasurySweptJSON{
			CycleID:     e.CycleID.String(),
			Treasury:    e.Treasury.Hex(),
			Amount:      dec(e.Amount),
			TimestampUs: e.Timestamp.UnixMicro(),
		})
	default:
		return nil, fmt.Errorf("encode: unknown event type %T", evt)
	}
}

// Decode is the inverse of Encode.
func Decode(eventType EventType, data []byte) (Event, error) {
	switch eventType {
	case EventTypeStaked:
		return decodeStaked(data)
	case EventTypeUnstaked:
		return decodeUnstaked(data)
	case EventTypeYieldClaimed:
		return decodeYieldClaimed(data)
	case EventTypeRebalanced:
		return decodeRebalanced(data)
	case EventTypeCycleAborted:
		return decodeCycleAborted(data)
	case EventTypePrincipalSeeded:
		return decodePrincipalSeeded(data)
	case EventTypeTreasurySwept:
		return decodeTreasurySwept(data)
	default:
		return nil, fmt.Errorf("decode: unknown event type %d", eventType)
	}
}

// --- JSON wire formats ---

type amountsJSON struct {
	Amount0 string `json:"amount0"`
	Amount1 string `json:"amount1"`
}

type stakedJSON struct {
	RequestID   string `json:"request_id"`
	TokenID     uint64 `json:"token_id"`
	Owner       string `json:"owner"`
	Tier        uint8  `json:"tier"`
	Weight      uint64 `json:"weight"`
	TimestampUs int64  `json:"timestamp_us"`
}

type unstakedJSON struct {
	RequestID   string `json:"request_id"`
	TokenID     uint64 `json:"token_id"`
	Owner       string `json:"owner"`
	Entitlement string `json:"entitlement"`
	Paid        string `json:"paid"`
	Forfeited   string `json:"forfeited"`
	TimestampUs int64  `json:"timestamp_us"`
}

type yieldClaimedJSON struct {
	RequestID     string `json:"request_id"`
	TokenID       uint64 `json:"token_id"`
	Owner         string `json:"owner"`
	Entitlement   string `json:"entitlement"`
	Paid          string `json:"paid"`
	Deferred      string `json:"deferred"`
	CustodyFailed bool   `json:"custody_failed,omitempty"`
	TimestampUs   int64  `json:"timestamp_us"`
}

type rebalancedJSON struct {
	CycleID       string      `json:"cycle_id"`
	PositionID    uint64      `json:"position_id"`
	Minted        bool        `json:"minted"`
	Harvested     amountsJSON `json:"harvested"`
	CarryUsed     amountsJSON `json:"carry_used"`
	TreasuryTax   string      `json:"treasury_tax"`
	StakerRevenue string      `json:"staker_revenue"`
	Distributed   string      `json:"distributed"`
	HeldAfter     string      `json:"held_after"`
	Reinvested    string      `json:"reinvested"`
	Deployed      amountsJSON `json:"deployed"`
	Redeployed    bool        `json:"redeployed"`
	TimestampUs   int64       `json:"timestamp_us"`
}

type cycleAbortedJSON struct {
	CycleID     string      `json:"cycle_id"`
	PositionID  uint64      `json:"position_id"`
	Harvested   amountsJSON `json:"harvested"`
	Unresolved  bool        `json:"unresolved,omitempty"`
	HarvestRef  string      `json:"harvest_ref,omitempty"`
	Reason      string      `json:"reason"`
	TimestampUs int64       `json:"timestamp_us"`
}

type principalSeededJSON struct {
	RequestID   string      `json:"request_id"`
	Amounts     amountsJSON `json:"amounts"`
	TimestampUs int64       `json:"timestamp_us"`
}

type treasurySweptJSON struct {
	CycleID     string `json:"cycle_id"`
	Treasury    string `json:"treasury"`
	Amount      string `json:"amount"`
	TimestampUs int64  `json:"timestamp_us"`
}

func decodeStaked(data []byte) (*Staked, error) {
	var j stakedJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("decode Staked: %w", err)
	}
	id, err := uuid.Parse(j.RequestID)
	if err != nil {
		return nil, fmt.Errorf("parse request_id: %w", err)
	}
	owner, err := ParseAddress(j.Owner)
	if err != nil {
		return nil, err
	}
	return &Staked{
		RequestID: id,
		TokenID:   j.TokenID,
		Owner:     owner,
		Tier:      weights.Tier(j.Tier),
		Weight:    j.Weight,
		Timestamp: time.UnixMicro(j.TimestampUs).UTC(),
	}, nil
}

func decodeUnstaked(data []byte) (*Unstaked, error) {
	var j unstakedJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("decode Unstaked: %w", err)
	}
	id, err := uuid.Parse(j.RequestID)
	if err != nil {
		return nil, fmt.Errorf("parse request_id: %w", err)
	}
	owner, err := ParseAddress(j.Owner)
	if err != nil {
		return nil, err
	}
	evt := &Unstaked{
		RequestID: id,
		TokenID:   j.TokenID,
		Owner:     owner,
		Timestamp: time.UnixMicro(j.TimestampUs).UTC(),
	}
	if evt.Entitlement, err = ParseAmount(j.Entitlement); err != nil {
		return nil, fmt.Errorf("parse entitlement: %w", err)
	}
	if evt.Paid, err = ParseAmount(j.Paid); err != nil {
		return nil, fmt.Errorf("parse paid: %w", err)
	}
	if evt.Forfeited, err = ParseAmount(j.Forfeited); err != nil {
		return nil, fmt.Errorf("parse forfeited: %w", err)
	}
	return evt, nil
}

func decodeYieldClaimed(data []byte) (*YieldClaimed, error) {
	var j yieldClaimedJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("decode YieldClaimed: %w", err)
	}
	id, err := uuid.Parse(j.RequestID)
	if err != nil {
		return nil, fmt.Errorf("parse request_id: %w", err)
	}
	owner, err := ParseAddress(j.Owner)
	if err != nil {
		return nil, err
	}
	evt := &YieldClaimed{
		RequestID:     id,
		TokenID:       j.TokenID,
		Owner:         owner,
		CustodyFailed: j.CustodyFailed,
		Timestamp:     time.UnixMicro(j.TimestampUs).UTC(),
	}
	if evt.Entitlement, err = ParseAmount(j.Entitlement); err != nil {
		return nil, fmt.Errorf("parse entitlement: %w", err)
	}
	if evt.Paid, err = ParseAmount(j.Paid); err != nil {
		return nil, fmt.Errorf("parse paid: %w", err)
	}
	if evt.Deferred, err = ParseAmount(j.Deferred); err != nil {
		return nil, fmt.Errorf("parse deferred: %w", err)
	}
	return evt, nil
}

func decodeRebalanced(data []byte) (*Rebalanced, error) {
	var j rebalancedJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("decode Rebalanced: %w", err)
	}
	id, err := uuid.Parse(j.CycleID)
	if err != nil {
		return nil, fmt.Errorf("parse cycle_id: %w", err)
	}
	evt := &Rebalanced{
		CycleID:    id,
		PositionID: j.PositionID,
		Minted:     j.Minted,
		Redeployed: j.Redeployed,
		Timestamp:  time.UnixMicro(j.TimestampUs).UTC(),
	}
	if evt.Harvested, err = fromAmountsJSON(j.Harvested); err != nil {
		return nil, fmt.Errorf("parse harvested: %w", err)
	}
	if evt.CarryUsed, err = fromAmountsJSON(j.CarryUsed); err != nil {
		return nil, fmt.Errorf("parse carry_used: %w", err)
	}
	if evt.Deployed, err = fromAmountsJSON(j.Deployed); err != nil {
		return nil, fmt.Errorf("parse deployed: %w", err)
	}
	if evt.TreasuryTax, err = ParseAmount(j.TreasuryTax); err != nil {
		return nil, fmt.Errorf("parse treasury_tax: %w", err)
	}
	if evt.StakerRevenue, err = ParseAmount(j.StakerRevenue); err != nil {
		return nil, fmt.Errorf("parse staker_revenue: %w", err)
	}
	if evt.Distributed, err = ParseAmount(j.Distributed); err != nil {
		return nil, fmt.Errorf("parse distributed: %w", err)
	}
	if evt.HeldAfter, err = ParseAmount(j.HeldAfter); err != nil {
		return nil, fmt.Errorf("parse held_after: %w", err)
	}
	if evt.Reinvested, err = ParseAmount(j.Reinvested); err != nil {
		return nil, fmt.Errorf("parse reinvested: %w", err)
	}
	return evt, nil
}

func decodeCycleAborted(data []byte) (*CycleAborted, error) {
	var j cycleAbortedJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("decode CycleAborted: %w", err)
	}
	id, err := uuid.Parse(j.CycleID)
	if err != nil {
		return nil, fmt.Errorf("parse cycle_id: %w", err)
	}
	harvested, err := fromAmountsJSON(j.Harvested)
	if err != nil {
		return nil, fmt.Errorf("parse harvested: %w", err)
	}
	return &CycleAborted{
		CycleID:    id,
		PositionID: j.PositionID,
		Harvested:  harvested,
		Unresolved: j.Unresolved,
		HarvestRef: j.HarvestRef,
		Reason:     j.Reason,
		Timestamp:  time.UnixMicro(j.TimestampUs).UTC(),
	}, nil
}

func decodePrincipalSeeded(data []byte) (*PrincipalSeeded, error) {
	var j principalSeededJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("decode PrincipalSeeded: %w", err)
	}
	id, err := uuid.Parse(j.RequestID)
	if err != nil {
		return nil, fmt.Errorf("parse request_id: %w", err)
	}
	amounts, err := fromAmountsJSON(j.Amounts)
	if err != nil {
		return nil, fmt.Errorf("parse amounts: %w", err)
	}
	return &PrincipalSeeded{
		RequestID: id,
		Amounts:   amounts,
		Timestamp: time.UnixMicro(j.TimestampUs).UTC(),
	}, nil
}

func decodeTreasurySwept(data []byte) (*TreasurySwept, error) {
	var j treasurySweptJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("decode TreasurySwept: %w", err)
	}
	id, err := uuid.Parse(j.CycleID)
	if err != nil {
		return nil, fmt.Errorf("parse cycle_id: %w", err)
	}
	treasury, err := ParseAddress(j.Treasury)
	if err != nil {
		return nil, err
	}
	amount, err := ParseAmount(j.Amount)
	if err != nil {
		return nil, fmt.Errorf("parse amount: %w", err)
	}
	return &TreasurySwept{
		CycleID:   id,
		Treasury:  treasury,
		Amount:    amount,
		Timestamp: time.UnixMicro(j.TimestampUs).UTC(),
	}, nil
}

// --- helpers ---

// ParseAmount parses a base-unit decimal string. Empty means zero.
func ParseAmount(s string) (*uint256.Int, error) {
	if s == "" {
		return fpmath.Zero(), nil
	}
	return uint256.FromDecimal(s)
}

// ParseAddress parses a 0x-prefixed hex address.
func ParseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid address %q", s)
	}
	return common.HexToAddress(s), nil
}

func dec(v *uint256.Int) string {
	return fpmath.Clone(v).Dec()
}

func toAmountsJSON(a fpmath.Amounts) amountsJSON {
	return amountsJSON{Amount0: dec(a.Amount0), Amount1: dec(a.Amount1)}
}

func fromAmountsJSON(j amountsJSON) (fpmath.Amounts, error) {
	a0, err := ParseAmount(j.Amount0)
	if err != nil {
		return fpmath.Amounts{}, err
	}
	a1, err := ParseAmount(j.Amount1)
	if err != nil {
		return fpmath.Amounts{}, err
	}
	return fpmath.Amounts{Amount0: a0, Amount1: a1}, nil
}
