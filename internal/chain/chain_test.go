package chain

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	fpmath "VaultLedger/internal/math"
	"VaultLedger/internal/position"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	token0Addr = common.HexToAddress("0x00000000000000000000000000000000000000a0")
	token1Addr = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	nftAddr    = common.HexToAddress("0x00000000000000000000000000000000000000b0")
	npmAddr    = common.HexToAddress("0x00000000000000000000000000000000000000c0")
	ownerAddr  = common.HexToAddress("0x00000000000000000000000000000000000000d0")
)

// fakeBackend answers the RPCs bind uses for calls and dynamic-fee
// transactions. Anything else hits the nil embedded interface and panics.
type fakeBackend struct {
	bind.ContractBackend

	mu        sync.Mutex
	calls     map[string]func(args []any) ([]byte, error) // by method name
	estimate  map[string]error
	receipts  map[string]func(tx *types.Transaction) *types.Receipt
	sent      []*types.Transaction
	byHash    map[common.Hash]*types.Receipt
	contracts map[common.Address]abi.ABI

	lose  map[string]bool                // by method name: mined, receipt withheld
	lost  map[common.Hash]*types.Receipt // withheld receipts
	mined uint64                         // signer nonce as of the latest block
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		calls:    make(map[string]func([]any) ([]byte, error)),
		estimate: make(map[string]error),
		receipts: make(map[string]func(*types.Transaction) *types.Receipt),
		byHash:   make(map[common.Hash]*types.Receipt),
		lose:     make(map[string]bool),
		lost:     make(map[common.Hash]*types.Receipt),
		contracts: map[common.Address]abi.ABI{
			token0Addr: erc20ABI,
			token1Addr: erc20ABI,
			nftAddr:    erc721ABI,
			npmAddr:    positionManagerABI,
		},
	}
}

func (f *fakeBackend) method(to *common.Address, data []byte) (*abi.Method, []any) {
	parsed := f.contracts[*to]
	m, err := parsed.MethodById(data[:4])
	if err != nil {
		panic(err)
	}
	args, err := m.Inputs.Unpack(data[4:])
	if err != nil {
		panic(err)
	}
	return m, args
}

func (f *fakeBackend) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	m, args := f.method(msg.To, msg.Data)
	f.mu.Lock()
	fn := f.calls[m.Name]
	f.mu.Unlock()
	return fn(args)
}

func (f *fakeBackend) HeaderByNumber(context.Context, *big.Int) (*types.Header, error) {
	return &types.Header{Number: big.NewInt(100), BaseFee: big.NewInt(1_000_000_000)}, nil
}

func (f *fakeBackend) SuggestGasTipCap(context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (f *fakeBackend) PendingCodeAt(context.Context, common.Address) ([]byte, error) {
	return []byte{0x60}, nil
}

func (f *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return uint64(len(f.sent)), nil
}

func (f *fakeBackend) EstimateGas(_ context.Context, msg ethereum.CallMsg) (uint64, error) {
	m, _ := f.method(msg.To, msg.Data)
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.estimate[m.Name]; err != nil {
		return 0, err
	}
	return 200_000, nil
}

func (f *fakeBackend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	m, _ := f.method(tx.To(), tx.Data())
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, tx)
	r := &types.Receipt{Status: types.ReceiptStatusSuccessful}
	if fn := f.receipts[m.Name]; fn != nil {
		r = fn(tx)
	}
	r.TxHash = tx.Hash()
	r.BlockNumber = big.NewInt(101)
	if f.lose[m.Name] {
		f.lost[tx.Hash()] = r
		return nil
	}
	f.byHash[tx.Hash()] = r
	return nil
}

func (f *fakeBackend) NonceAt(context.Context, common.Address, *big.Int) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mined, nil
}

// deliverLost makes withheld receipts visible.
func (f *fakeBackend) deliverLost() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for h, r := range f.lost {
		f.byHash[h] = r
	}
	f.lost = make(map[common.Hash]*types.Receipt)
}

func (f *fakeBackend) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.byHash[hash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return r, nil
}

func (f *fakeBackend) sentMethods() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, 0, len(f.sent))
	for _, tx := range f.sent {
		m, _ := f.method(tx.To(), tx.Data())
		names = append(names, m.Name)
	}
	return names
}

func newTestClient(t *testing.T) (*Client, *fakeBackend) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	auth, err := bind.NewKeyedTransactorWithChainID(key, big.NewInt(1337))
	require.NoError(t, err)
	fb := newFakeBackend()
	clock := clockwork.NewFakeClockAt(time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC))
	return NewClient(fb, auth, 5*time.Second, clock, zerolog.Nop()), fb
}

func eventLog(t *testing.T, name string, id uint64, fields ...any) *types.Log {
	t.Helper()
	ev := positionManagerABI.Events[name]
	data, err := ev.Inputs.NonIndexed().Pack(fields...)
	require.NoError(t, err)
	return &types.Log{
		Address: npmAddr,
		Topics:  []common.Hash{ev.ID, common.BigToHash(new(big.Int).SetUint64(id))},
		Data:    data,
	}
}

// ---------------------------------------------------------------------------
// Tokens
// ---------------------------------------------------------------------------

func TestERC20_BalanceOfAndTransfer(t *testing.T) {
	c, fb := newTestClient(t)
	fb.calls["balanceOf"] = func(args []any) ([]byte, error) {
		require.Equal(t, c.From(), args[0])
		return erc20ABI.Methods["balanceOf"].Outputs.Pack(big.NewInt(5_000_000))
	}
	tok := c.ERC20(token0Addr)

	bal, err := tok.BalanceOf(context.Background(), c.From())
	require.NoError(t, err)
	assert.Equal(t, uint256.NewInt(5_000_000), bal)

	require.NoError(t, tok.Transfer(context.Background(), ownerAddr, uint256.NewInt(1_250_000)))
	require.Len(t, fb.sent, 1)
	_, args := fb.method(fb.sent[0].To(), fb.sent[0].Data())
	assert.Equal(t, ownerAddr, args[0])
	assert.Equal(t, big.NewInt(1_250_000), args[1])
}

func TestERC721_Custody(t *testing.T) {
	c, fb := newTestClient(t)
	fb.calls["ownerOf"] = func(args []any) ([]byte, error) {
		assert.Equal(t, big.NewInt(7), args[0])
		return erc721ABI.Methods["ownerOf"].Outputs.Pack(ownerAddr)
	}
	nft := c.ERC721(nftAddr)

	owner, err := nft.OwnerOf(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, ownerAddr, owner)

	require.NoError(t, nft.TransferIn(context.Background(), 7, ownerAddr))
	require.NoError(t, nft.TransferOut(context.Background(), 7, ownerAddr))

	_, in := fb.method(fb.sent[0].To(), fb.sent[0].Data())
	assert.Equal(t, []any{ownerAddr, c.From(), big.NewInt(7)}, in)
	_, out := fb.method(fb.sent[1].To(), fb.sent[1].Data())
	assert.Equal(t, []any{c.From(), ownerAddr, big.NewInt(7)}, out)
}

// ---------------------------------------------------------------------------
// Failure classification
// ---------------------------------------------------------------------------

func TestTransact_RevertedReceipt(t *testing.T) {
	c, fb := newTestClient(t)
	fb.receipts["transfer"] = func(*types.Transaction) *types.Receipt {
		return &types.Receipt{Status: types.ReceiptStatusFailed}
	}
	err := c.ERC20(token0Addr).Transfer(context.Background(), ownerAddr, uint256.NewInt(1))
	require.Error(t, err)
	assert.True(t, errors.Is(err, position.ErrReverted), "got %v", err)
}

func TestTransact_RevertOnEstimate(t *testing.T) {
	c, fb := newTestClient(t)
	fb.estimate["transferFrom"] = errors.New("execution reverted: ERC721: caller is not token owner or approved")
	err := c.ERC721(nftAddr).TransferIn(context.Background(), 9, ownerAddr)
	require.Error(t, err)
	assert.True(t, errors.Is(err, position.ErrReverted), "got %v", err)
	assert.Empty(t, fb.sent)
}

func TestCall_TransportErrorIsRetryable(t *testing.T) {
	c, fb := newTestClient(t)
	fb.calls["ownerOf"] = func([]any) ([]byte, error) {
		return nil, errors.New("dial tcp: connection refused")
	}
	_, err := c.ERC721(nftAddr).OwnerOf(context.Background(), 1)
	require.Error(t, err)
	assert.False(t, errors.Is(err, position.ErrReverted))
}

// ---------------------------------------------------------------------------
// Position manager
// ---------------------------------------------------------------------------

func newTestVenue(t *testing.T) (*PositionManager, *fakeBackend) {
	t.Helper()
	c, fb := newTestClient(t)
	pm := c.PositionManager(npmAddr, c.ERC20(token0Addr), c.ERC20(token1Addr),
		Range{Fee: 500, TickLower: -600, TickUpper: 600})
	return pm, fb
}

func TestPositionManager_Deploy(t *testing.T) {
	pm, fb := newTestVenue(t)
	fb.receipts["mint"] = func(*types.Transaction) *types.Receipt {
		return &types.Receipt{Status: types.ReceiptStatusSuccessful, Logs: []*types.Log{
			eventLog(t, "IncreaseLiquidity", 42, big.NewInt(9_999), big.NewInt(800_000_000), big.NewInt(0)),
		}}
	}

	id, err := pm.DeployPosition(context.Background(),
		fpmath.NewAmounts(uint256.NewInt(800_000_000), uint256.NewInt(0)))
	require.NoError(t, err)
	assert.Equal(t, uint64(42), id)
	// Zero token1 needs no approval.
	assert.Equal(t, []string{"approve", "mint"}, fb.sentMethods())
}

func TestPositionManager_DeployWithoutLogFails(t *testing.T) {
	pm, _ := newTestVenue(t)
	_, err := pm.DeployPosition(context.Background(),
		fpmath.NewAmounts(uint256.NewInt(1), uint256.NewInt(1)))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "IncreaseLiquidity log missing")
}

func TestPositionManager_IncreaseLiquidity(t *testing.T) {
	pm, fb := newTestVenue(t)
	fb.receipts["increaseLiquidity"] = func(*types.Transaction) *types.Receipt {
		return &types.Receipt{Status: types.ReceiptStatusSuccessful, Logs: []*types.Log{
			eventLog(t, "IncreaseLiquidity", 42, big.NewInt(10), big.NewInt(30), big.NewInt(40)),
		}}
	}
	id, err := pm.IncreaseLiquidity(context.Background(), 42,
		fpmath.NewAmounts(uint256.NewInt(30), uint256.NewInt(40)))
	require.NoError(t, err)
	assert.Equal(t, uint64(42), id)
	assert.Equal(t, []string{"approve", "approve", "increaseLiquidity"}, fb.sentMethods())
}

func TestPositionManager_HarvestFees(t *testing.T) {
	pm, fb := newTestVenue(t)
	fb.receipts["collect"] = func(*types.Transaction) *types.Receipt {
		return &types.Receipt{Status: types.ReceiptStatusSuccessful, Logs: []*types.Log{
			{Topics: []common.Hash{common.HexToHash("0x01"), common.HexToHash("0x02")}}, // unrelated
			eventLog(t, "Collect", 42, pm.c.client.From(), big.NewInt(35_000_000), big.NewInt(17)),
		}}
	}
	fees, err := pm.HarvestFees(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, uint256.NewInt(35_000_000), fees.Amount0)
	assert.Equal(t, uint256.NewInt(17), fees.Amount1)

	_, args := fb.method(fb.sent[0].To(), fb.sent[0].Data())
	require.Len(t, args, 1)
}

func TestPositionManager_HarvestWrongPosition(t *testing.T) {
	pm, fb := newTestVenue(t)
	fb.receipts["collect"] = func(*types.Transaction) *types.Receipt {
		return &types.Receipt{Status: types.ReceiptStatusSuccessful, Logs: []*types.Log{
			eventLog(t, "Collect", 43, pm.c.client.From(), big.NewInt(1), big.NewInt(1)),
		}}
	}
	_, err := pm.HarvestFees(context.Background(), 42)
	require.Error(t, err)
}

func collectReceipt(t *testing.T, pm *PositionManager) func(*types.Transaction) *types.Receipt {
	return func(*types.Transaction) *types.Receipt {
		return &types.Receipt{Status: types.ReceiptStatusSuccessful, Logs: []*types.Log{
			eventLog(t, "Collect", 42, pm.c.client.From(), big.NewInt(10_000_000), big.NewInt(0)),
		}}
	}
}

// lostHarvest sends a collect whose receipt never arrives in time.
func lostHarvest(t *testing.T, pm *PositionManager, fb *fakeBackend) *position.UnconfirmedError {
	t.Helper()
	fb.receipts["collect"] = collectReceipt(t, pm)
	fb.lose["collect"] = true
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := pm.HarvestFees(ctx, 42)
	require.Error(t, err)
	assert.ErrorIs(t, err, position.ErrUnconfirmed)
	assert.False(t, errors.Is(err, position.ErrReverted))
	var unconfirmed *position.UnconfirmedError
	require.ErrorAs(t, err, &unconfirmed)
	return unconfirmed
}

func TestPositionManager_HarvestLostReceiptResolves(t *testing.T) {
	pm, fb := newTestVenue(t)
	unconfirmed := lostHarvest(t, pm, fb)
	require.Len(t, fb.sent, 1)
	assert.Equal(t, "collect", unconfirmed.Op)
	assert.Equal(t, fb.sent[0].Hash().Hex()+":0", unconfirmed.Ref)

	// still pending: outcome unknown
	_, err := pm.ResolveHarvest(context.Background(), 42, unconfirmed.Ref)
	assert.ErrorIs(t, err, position.ErrUnconfirmed)

	fb.deliverLost()
	fees, err := pm.ResolveHarvest(context.Background(), 42, unconfirmed.Ref)
	require.NoError(t, err)
	assert.Equal(t, uint256.NewInt(10_000_000), fees.Amount0)
	assert.Len(t, fb.sent, 1, "resolving never sends a second collect")
}

func TestPositionManager_ResolveDroppedHarvest(t *testing.T) {
	pm, fb := newTestVenue(t)
	unconfirmed := lostHarvest(t, pm, fb)

	// a later transaction with the same nonce was mined instead
	fb.mined = 1
	fees, err := pm.ResolveHarvest(context.Background(), 42, unconfirmed.Ref)
	require.NoError(t, err)
	assert.True(t, fees.IsZero())
}

func TestPositionManager_ResolveRevertedHarvest(t *testing.T) {
	pm, fb := newTestVenue(t)
	unconfirmed := lostHarvest(t, pm, fb)
	for _, r := range fb.lost {
		r.Status = types.ReceiptStatusFailed
	}
	fb.deliverLost()

	fees, err := pm.ResolveHarvest(context.Background(), 42, unconfirmed.Ref)
	require.NoError(t, err)
	assert.True(t, fees.IsZero())
}

func TestPositionManager_ResolveMalformedRef(t *testing.T) {
	pm, _ := newTestVenue(t)
	_, err := pm.ResolveHarvest(context.Background(), 42, "collect-1")
	require.Error(t, err)
	assert.False(t, errors.Is(err, position.ErrUnconfirmed))
}

func TestPositionManager_ReadPositionState(t *testing.T) {
	pm, fb := newTestVenue(t)
	fb.calls["positions"] = func(args []any) ([]byte, error) {
		assert.Equal(t, big.NewInt(42), args[0])
		return positionManagerABI.Methods["positions"].Outputs.Pack(
			big.NewInt(0), common.Address{}, token0Addr, token1Addr,
			big.NewInt(500), big.NewInt(-600), big.NewInt(600),
			big.NewInt(123_456),
			big.NewInt(0), big.NewInt(0), big.NewInt(0), big.NewInt(0),
		)
	}
	liq, err := pm.ReadPositionState(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, uint256.NewInt(123_456), liq)
}
