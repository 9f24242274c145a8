package chain

import (
	"context"
	"fmt"
	"math/big"

	"VaultLedger/internal/position"
	"VaultLedger/internal/staking"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	_ staking.Settlement = (*ERC20)(nil)
	_ position.Treasury  = (*ERC20)(nil)
	_ staking.Custody    = (*ERC721)(nil)
)

// ERC20 is a fungible token held by the vault signer.
type ERC20 struct {
	c *contract
}

func (c *Client) ERC20(address common.Address) *ERC20 {
	return &ERC20{c: c.bind(address, erc20ABI)}
}

func (t *ERC20) Address() common.Address { return t.c.address }

func (t *ERC20) BalanceOf(ctx context.Context, account common.Address) (*uint256.Int, error) {
	out, err := t.c.call(ctx, "balanceOf", account)
	if err != nil {
		return nil, err
	}
	bal, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("balanceOf: unexpected output %T", out[0])
	}
	return toUint256(bal)
}

// Transfer sends amount from the vault signer to to.
func (t *ERC20) Transfer(ctx context.Context, to common.Address, amount *uint256.Int) error {
	_, err := t.c.transact(ctx, "transfer", to, amount.ToBig())
	return err
}

// Approve sets spender's allowance over the vault signer's balance.
func (t *ERC20) Approve(ctx context.Context, spender common.Address, amount *uint256.Int) error {
	_, err := t.c.transact(ctx, "approve", spender, amount.ToBig())
	return err
}

// ERC721 is the staking token collection. The vault signer takes custody of
// staked tokens; owners approve it beforehand.
type ERC721 struct {
	c *contract
}

func (c *Client) ERC721(address common.Address) *ERC721 {
	return &ERC721{c: c.bind(address, erc721ABI)}
}

func (n *ERC721) TransferIn(ctx context.Context, tokenID uint64, from common.Address) error {
	_, err := n.c.transact(ctx, "transferFrom", from, n.c.client.From(), tokenIDBig(tokenID))
	return err
}

func (n *ERC721) TransferOut(ctx context.Context, tokenID uint64, to common.Address) error {
	_, err := n.c.transact(ctx, "transferFrom", n.c.client.From(), to, tokenIDBig(tokenID))
	return err
}

func (n *ERC721) OwnerOf(ctx context.Context, tokenID uint64) (common.Address, error) {
	out, err := n.c.call(ctx, "ownerOf", tokenIDBig(tokenID))
	if err != nil {
		return common.Address{}, err
	}
	owner, ok := out[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("ownerOf: unexpected output %T", out[0])
	}
	return owner, nil
}
