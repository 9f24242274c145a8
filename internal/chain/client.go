package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"VaultLedger/internal/position"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/holiman/uint256"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

// Backend is the RPC surface the adapters need. *ethclient.Client satisfies it.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
	NonceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (uint64, error)
}

// Client signs vault transactions and waits for their receipts.
type Client struct {
	backend Backend
	auth    *bind.TransactOpts
	timeout time.Duration
	clock   clockwork.Clock
	logger  zerolog.Logger
}

// Dial connects to rawURL and loads the signer key.
func Dial(ctx context.Context, rawURL, keyHex string, chainID int64, timeout time.Duration, logger zerolog.Logger) (*Client, error) {
	ec, err := ethclient.DialContext(ctx, rawURL)
	if err != nil {
		return nil, fmt.Errorf("could not instantiate ethereum client: %w", err)
	}
	got, err := ec.ChainID(ctx)
	if err != nil {
		ec.Close()
		return nil, fmt.Errorf("chain id: %w", err)
	}
	if got.Int64() != chainID {
		ec.Close()
		return nil, fmt.Errorf("ethereum chain id does not match, expected %d got %v", chainID, got)
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(keyHex, "0x"))
	if err != nil {
		ec.Close()
		return nil, fmt.Errorf("signer key: %w", err)
	}
	auth, err := bind.NewKeyedTransactorWithChainID(key, big.NewInt(chainID))
	if err != nil {
		ec.Close()
		return nil, fmt.Errorf("transactor: %w", err)
	}
	return NewClient(ec, auth, timeout, clockwork.NewRealClock(), logger), nil
}

func NewClient(backend Backend, auth *bind.TransactOpts, timeout time.Duration, clock clockwork.Clock, logger zerolog.Logger) *Client {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Client{
		backend: backend,
		auth:    auth,
		timeout: timeout,
		clock:   clock,
		logger:  logger.With().Str("component", "chain").Logger(),
	}
}

// From is the signer address, which is also the vault's on-chain account.
func (c *Client) From() common.Address {
	return c.auth.From
}

// deadline returns the venue deadline for a transaction sent now.
func (c *Client) deadline() *big.Int {
	return big.NewInt(c.clock.Now().Add(c.timeout).Unix())
}

// contract binds an ABI to an address on the client's backend.
type contract struct {
	client  *Client
	address common.Address
	abi     abi.ABI
	bound   *bind.BoundContract
}

func (c *Client) bind(address common.Address, parsed abi.ABI) *contract {
	return &contract{
		client:  c,
		address: address,
		abi:     parsed,
		bound:   bind.NewBoundContract(address, parsed, c.backend, c.backend, c.backend),
	}
}

func (k *contract) call(ctx context.Context, method string, args ...any) ([]any, error) {
	var out []any
	if err := k.bound.Call(&bind.CallOpts{Context: ctx}, &out, method, args...); err != nil {
		return nil, classify(method, err)
	}
	return out, nil
}

// transact sends method and waits for it to be mined. A failed receipt is
// reported as position.ErrReverted.
func (k *contract) transact(ctx context.Context, method string, args ...any) (*types.Receipt, error) {
	if k.client.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, k.client.timeout)
		defer cancel()
	}
	opts := *k.client.auth
	opts.Context = ctx

	tx, err := k.bound.Transact(&opts, method, args...)
	if err != nil {
		return nil, classify(method, err)
	}
	log := k.client.logger.With().Str("method", method).Str("tx", tx.Hash().Hex()).Logger()
	log.Debug().Msg("transaction sent")

	receipt, err := bind.WaitMined(ctx, k.client.backend, tx)
	if err != nil {
		// The transaction is out. One last lookup, then report it unconfirmed.
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), receiptLookupTimeout)
		receipt, err = k.client.backend.TransactionReceipt(lctx, tx.Hash())
		cancel()
		if err != nil {
			log.Warn().Err(err).Uint64("nonce", tx.Nonce()).Msg("transaction outcome unknown")
			return nil, &position.UnconfirmedError{Op: method, Ref: txRef(tx.Hash(), tx.Nonce()), Err: err}
		}
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		log.Warn().Uint64("block", receipt.BlockNumber.Uint64()).Msg("transaction reverted")
		return nil, fmt.Errorf("%w: %s tx %s", position.ErrReverted, method, tx.Hash().Hex())
	}
	log.Info().Uint64("gas_used", receipt.GasUsed).Msg("transaction mined")
	return receipt, nil
}

const receiptLookupTimeout = 5 * time.Second

// txRef encodes a sent transaction as "<hash>:<nonce>".
func txRef(hash common.Hash, nonce uint64) string {
	return fmt.Sprintf("%s:%d", hash.Hex(), nonce)
}

func parseTxRef(ref string) (common.Hash, uint64, error) {
	h, n, ok := strings.Cut(ref, ":")
	if !ok || len(h) != 2+2*common.HashLength {
		return common.Hash{}, 0, fmt.Errorf("malformed tx ref %q", ref)
	}
	nonce, err := strconv.ParseUint(n, 10, 64)
	if err != nil {
		return common.Hash{}, 0, fmt.Errorf("malformed tx ref %q: %w", ref, err)
	}
	return common.HexToHash(h), nonce, nil
}

// classify marks node-reported reverts (from eth_call or gas estimation) as
// permanent. Everything else is a transport error and may be retried.
func classify(method string, err error) error {
	if errors.Is(err, position.ErrReverted) {
		return err
	}
	if strings.Contains(err.Error(), "execution reverted") {
		return fmt.Errorf("%w: %s: %v", position.ErrReverted, method, err)
	}
	return fmt.Errorf("%s: %w", method, err)
}

func tokenIDBig(id uint64) *big.Int {
	return new(big.Int).SetUint64(id)
}

func toUint256(v *big.Int) (*uint256.Int, error) {
	if v == nil || v.Sign() < 0 {
		return nil, fmt.Errorf("negative or missing amount %v", v)
	}
	out, overflow := uint256.FromBig(v)
	if overflow {
		return nil, fmt.Errorf("amount %v overflows 256 bits", v)
	}
	return out, nil
}
