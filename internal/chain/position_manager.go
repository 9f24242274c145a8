package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	fpmath "VaultLedger/internal/math"
	"VaultLedger/internal/position"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"
)

var _ position.Venue = (*PositionManager)(nil)

var maxUint128 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))

// Range is the fee tier and tick range minted on the position manager.
type Range struct {
	Fee       uint32
	TickLower int32
	TickUpper int32
}

// MintParams mirrors INonfungiblePositionManager.MintParams.
type MintParams struct {
	Token0         common.Address
	Token1         common.Address
	Fee            *big.Int
	TickLower      *big.Int
	TickUpper      *big.Int
	Amount0Desired *big.Int
	Amount1Desired *big.Int
	Amount0Min     *big.Int
	Amount1Min     *big.Int
	Recipient      common.Address
	Deadline       *big.Int
}

// IncreaseLiquidityParams mirrors INonfungiblePositionManager.IncreaseLiquidityParams.
type IncreaseLiquidityParams struct {
	TokenId        *big.Int
	Amount0Desired *big.Int
	Amount1Desired *big.Int
	Amount0Min     *big.Int
	Amount1Min     *big.Int
	Deadline       *big.Int
}

// CollectParams mirrors INonfungiblePositionManager.CollectParams.
type CollectParams struct {
	TokenId    *big.Int
	Recipient  common.Address
	Amount0Max *big.Int
	Amount1Max *big.Int
}

// PositionManager is the venue adapter over a Uniswap V3
// NonfungiblePositionManager. The vault signer owns the minted position and
// receives collected fees.
type PositionManager struct {
	c      *contract
	token0 *ERC20
	token1 *ERC20
	rng    Range
}

func (c *Client) PositionManager(address common.Address, token0, token1 *ERC20, rng Range) *PositionManager {
	return &PositionManager{
		c:      c.bind(address, positionManagerABI),
		token0: token0,
		token1: token1,
		rng:    rng,
	}
}

func (pm *PositionManager) DeployPosition(ctx context.Context, amounts fpmath.Amounts) (uint64, error) {
	if err := pm.approve(ctx, amounts); err != nil {
		return 0, err
	}
	receipt, err := pm.c.transact(ctx, "mint", MintParams{
		Token0:         pm.token0.Address(),
		Token1:         pm.token1.Address(),
		Fee:            big.NewInt(int64(pm.rng.Fee)),
		TickLower:      big.NewInt(int64(pm.rng.TickLower)),
		TickUpper:      big.NewInt(int64(pm.rng.TickUpper)),
		Amount0Desired: amounts.Get(0).ToBig(),
		Amount1Desired: amounts.Get(1).ToBig(),
		Amount0Min:     new(big.Int),
		Amount1Min:     new(big.Int),
		Recipient:      pm.c.client.From(),
		Deadline:       pm.c.client.deadline(),
	})
	if err != nil {
		return 0, err
	}
	id, _, err := DecodeIncreaseLiquidity(receipt)
	return id, err
}

func (pm *PositionManager) HarvestFees(ctx context.Context, positionID uint64) (fpmath.Amounts, error) {
	receipt, err := pm.c.transact(ctx, "collect", CollectParams{
		TokenId:    tokenIDBig(positionID),
		Recipient:  pm.c.client.From(),
		Amount0Max: maxUint128,
		Amount1Max: maxUint128,
	})
	if err != nil {
		return fpmath.Amounts{}, err
	}
	id, amounts, err := DecodeCollect(receipt)
	if err != nil {
		return fpmath.Amounts{}, err
	}
	if id != positionID {
		return fpmath.Amounts{}, fmt.Errorf("collect: receipt for position %d, want %d", id, positionID)
	}
	return amounts, nil
}

// ResolveHarvest looks up the collect transaction behind ref. A missing
// receipt means the transaction is still pending, unless the signer's mined
// nonce has moved past it and it was dropped or replaced.
func (pm *PositionManager) ResolveHarvest(ctx context.Context, positionID uint64, ref string) (fpmath.Amounts, error) {
	hash, nonce, err := parseTxRef(ref)
	if err != nil {
		return fpmath.Amounts{}, err
	}
	backend := pm.c.client.backend
	receipt, err := backend.TransactionReceipt(ctx, hash)
	if errors.Is(err, ethereum.NotFound) {
		mined, nerr := backend.NonceAt(ctx, pm.c.client.From(), nil)
		if nerr != nil {
			return fpmath.Amounts{}, fmt.Errorf("collect %s: nonce: %w", hash.Hex(), nerr)
		}
		if mined > nonce {
			return fpmath.ZeroAmounts(), nil
		}
		return fpmath.Amounts{}, &position.UnconfirmedError{Op: "collect", Ref: ref, Err: err}
	}
	if err != nil {
		return fpmath.Amounts{}, fmt.Errorf("collect %s: receipt: %w", hash.Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return fpmath.ZeroAmounts(), nil
	}
	id, amounts, err := DecodeCollect(receipt)
	if err != nil {
		return fpmath.Amounts{}, err
	}
	if id != positionID {
		return fpmath.Amounts{}, fmt.Errorf("collect: receipt for position %d, want %d", id, positionID)
	}
	return amounts, nil
}

func (pm *PositionManager) IncreaseLiquidity(ctx context.Context, positionID uint64, amounts fpmath.Amounts) (uint64, error) {
	if err := pm.approve(ctx, amounts); err != nil {
		return 0, err
	}
	receipt, err := pm.c.transact(ctx, "increaseLiquidity", IncreaseLiquidityParams{
		TokenId:        tokenIDBig(positionID),
		Amount0Desired: amounts.Get(0).ToBig(),
		Amount1Desired: amounts.Get(1).ToBig(),
		Amount0Min:     new(big.Int),
		Amount1Min:     new(big.Int),
		Deadline:       pm.c.client.deadline(),
	})
	if err != nil {
		return 0, err
	}
	id, _, err := DecodeIncreaseLiquidity(receipt)
	return id, err
}

// ReadPositionState returns the position's current liquidity.
func (pm *PositionManager) ReadPositionState(ctx context.Context, positionID uint64) (*uint256.Int, error) {
	out, err := pm.c.call(ctx, "positions", tokenIDBig(positionID))
	if err != nil {
		return nil, err
	}
	if len(out) < 8 {
		return nil, fmt.Errorf("positions: %d outputs", len(out))
	}
	liq, ok := out[7].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("positions: unexpected liquidity %T", out[7])
	}
	return toUint256(liq)
}

func (pm *PositionManager) approve(ctx context.Context, amounts fpmath.Amounts) error {
	for i, tok := range []*ERC20{pm.token0, pm.token1} {
		amt := amounts.Get(i)
		if amt.IsZero() {
			continue
		}
		if err := tok.Approve(ctx, pm.c.address, amt); err != nil {
			return fmt.Errorf("approve token%d: %w", i, err)
		}
	}
	return nil
}

// DecodeIncreaseLiquidity returns the position id and deposited amounts from
// the IncreaseLiquidity log in receipt. Mint emits it too.
func DecodeIncreaseLiquidity(receipt *types.Receipt) (uint64, fpmath.Amounts, error) {
	return decodeAmountsLog(receipt, "IncreaseLiquidity", 1)
}

// DecodeCollect returns the position id and collected amounts from the
// Collect log in receipt.
func DecodeCollect(receipt *types.Receipt) (uint64, fpmath.Amounts, error) {
	return decodeAmountsLog(receipt, "Collect", 1)
}

// decodeAmountsLog finds the first log of the named event and reads the
// indexed token id plus the amount0/amount1 fields, which follow skip
// leading non-indexed fields.
func decodeAmountsLog(receipt *types.Receipt, name string, skip int) (uint64, fpmath.Amounts, error) {
	ev, ok := positionManagerABI.Events[name]
	if !ok {
		return 0, fpmath.Amounts{}, fmt.Errorf("unknown event %s", name)
	}
	for _, lg := range receipt.Logs {
		if len(lg.Topics) < 2 || lg.Topics[0] != ev.ID {
			continue
		}
		id := new(big.Int).SetBytes(lg.Topics[1].Bytes())
		if !id.IsUint64() {
			return 0, fpmath.Amounts{}, fmt.Errorf("%s: token id %v overflows uint64", name, id)
		}
		values, err := ev.Inputs.NonIndexed().Unpack(lg.Data)
		if err != nil {
			return 0, fpmath.Amounts{}, fmt.Errorf("%s: unpack: %w", name, err)
		}
		if len(values) != skip+2 {
			return 0, fpmath.Amounts{}, fmt.Errorf("%s: %d fields", name, len(values))
		}
		var amts [2]*uint256.Int
		for i := range amts {
			b, ok := values[skip+i].(*big.Int)
			if !ok {
				return 0, fpmath.Amounts{}, fmt.Errorf("%s: amount%d is %T", name, i, values[skip+i])
			}
			if amts[i], err = toUint256(b); err != nil {
				return 0, fpmath.Amounts{}, fmt.Errorf("%s: %w", name, err)
			}
		}
		return id.Uint64(), fpmath.NewAmounts(amts[0], amts[1]), nil
	}
	return 0, fpmath.Amounts{}, fmt.Errorf("%s log missing from tx %s", name, receipt.TxHash.Hex())
}
