package ingestion

import (
	"encoding/json"
	"errors"
	"fmt"

	"VaultLedger/internal/event"
	fpmath "VaultLedger/internal/math"
	"VaultLedger/internal/weights"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// ErrMalformed marks a command that can never be executed as sent.
var ErrMalformed = errors.New("malformed command")

// ParseCommand converts a raw JSON payload into a typed command.
func ParseCommand(kind event.CommandKind, data []byte) (event.Command, error) {
	switch kind {
	case event.CommandKindStake:
		return parseStake(data)
	case event.CommandKindUnstake:
		return parseUnstake(data)
	case event.CommandKindClaim:
		return parseClaim(data)
	case event.CommandKindRebalance:
		return parseRebalance(data)
	case event.CommandKindSeedPrincipal:
		return parseSeed(data)
	default:
		return nil, fmt.Errorf("%w: unknown command kind %s", ErrMalformed, kind)
	}
}

// --- JSON wire formats ---
// Field names use snake_case to match upstream producers. Amounts are
// base-unit decimal strings.

type stakeJSON struct {
	RequestID string `json:"request_id"`
	TokenID   uint64 `json:"token_id"`
	Owner     string `json:"owner"`
	Tier      string `json:"tier"`
}

type tokenJSON struct {
	RequestID string `json:"request_id"`
	TokenID   uint64 `json:"token_id"`
	Caller    string `json:"caller"`
}

type rebalanceJSON struct {
	RequestID string `json:"request_id"`
}

type seedJSON struct {
	RequestID string `json:"request_id"`
	Amount0   string `json:"amount0"`
	Amount1   string `json:"amount1"`
}

func parseStake(data []byte) (*event.StakeCommand, error) {
	var j stakeJSON
	if err := unmarshal("stake", data, &j); err != nil {
		return nil, err
	}
	requestID, err := parseRequestID(j.RequestID)
	if err != nil {
		return nil, err
	}
	owner, err := event.ParseAddress(j.Owner)
	if err != nil {
		return nil, fmt.Errorf("%w: owner: %v", ErrMalformed, err)
	}
	tier, err := weights.ParseTier(j.Tier)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return &event.StakeCommand{
		RequestID: requestID,
		TokenID:   j.TokenID,
		Owner:     owner,
		Tier:      tier,
	}, nil
}

func parseUnstake(data []byte) (*event.UnstakeCommand, error) {
	var j tokenJSON
	if err := unmarshal("unstake", data, &j); err != nil {
		return nil, err
	}
	requestID, caller, err := parseTokenRequest(j)
	if err != nil {
		return nil, err
	}
	return &event.UnstakeCommand{RequestID: requestID, TokenID: j.TokenID, Caller: caller}, nil
}

func parseClaim(data []byte) (*event.ClaimCommand, error) {
	var j tokenJSON
	if err := unmarshal("claim", data, &j); err != nil {
		return nil, err
	}
	requestID, caller, err := parseTokenRequest(j)
	if err != nil {
		return nil, err
	}
	return &event.ClaimCommand{RequestID: requestID, TokenID: j.TokenID, Caller: caller}, nil
}

func parseRebalance(data []byte) (*event.RebalanceCommand, error) {
	var j rebalanceJSON
	if err := unmarshal("rebalance", data, &j); err != nil {
		return nil, err
	}
	requestID, err := parseRequestID(j.RequestID)
	if err != nil {
		return nil, err
	}
	return &event.RebalanceCommand{RequestID: requestID}, nil
}

func parseSeed(data []byte) (*event.SeedPrincipalCommand, error) {
	var j seedJSON
	if err := unmarshal("seed", data, &j); err != nil {
		return nil, err
	}
	requestID, err := parseRequestID(j.RequestID)
	if err != nil {
		return nil, err
	}
	a0, err := event.ParseAmount(j.Amount0)
	if err != nil {
		return nil, fmt.Errorf("%w: amount0: %v", ErrMalformed, err)
	}
	a1, err := event.ParseAmount(j.Amount1)
	if err != nil {
		return nil, fmt.Errorf("%w: amount1: %v", ErrMalformed, err)
	}
	return &event.SeedPrincipalCommand{
		RequestID: requestID,
		Amounts:   fpmath.Amounts{Amount0: a0, Amount1: a1},
	}, nil
}

func unmarshal(kind string, data []byte, v interface{}) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: parse %s: %v", ErrMalformed, kind, err)
	}
	return nil
}

func parseRequestID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: request_id: %v", ErrMalformed, err)
	}
	if id == uuid.Nil {
		return uuid.Nil, fmt.Errorf("%w: request_id is nil", ErrMalformed)
	}
	return id, nil
}

func parseTokenRequest(j tokenJSON) (uuid.UUID, common.Address, error) {
	requestID, err := parseRequestID(j.RequestID)
	if err != nil {
		return uuid.Nil, common.Address{}, err
	}
	caller, err := event.ParseAddress(j.Caller)
	if err != nil {
		return uuid.Nil, common.Address{}, fmt.Errorf("%w: caller: %v", ErrMalformed, err)
	}
	return requestID, caller, nil
}
