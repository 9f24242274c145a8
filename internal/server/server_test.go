package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"VaultLedger/internal/core"
	"VaultLedger/internal/event"
	"VaultLedger/internal/ingestion"
	"VaultLedger/internal/observability"
	"VaultLedger/internal/server"
	"VaultLedger/internal/testutil"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

const usdc = 1_000_000

var alice = common.HexToAddress("0x00000000000000000000000000000000000a11ce")

type fixture struct {
	vault   *testutil.Vault
	service *server.VaultService
	http    *httptest.Server
}

func newFixture(t *testing.T, limits *server.CommandLimiter) *fixture {
	t.Helper()
	v := testutil.NewVault(t)
	actor := core.NewActor(v.Engine, 16, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	go actor.Run(ctx)
	t.Cleanup(cancel)

	svc := server.NewVaultService(server.Deps{
		Actor:  actor,
		Ingest: ingestion.NewDirectIngestService(actor),
		Limits: limits,
		Logger: zerolog.Nop(),
	})
	handler, err := server.NewGatewayHandler(svc, observability.NewHealthChecker())
	require.NoError(t, err)
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	return &fixture{vault: v, service: svc, http: ts}
}

func (f *fixture) do(t *testing.T, method, path string, body interface{}, out interface{}) int {
	t.Helper()
	var rdr *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(data)
	} else {
		rdr = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, f.http.URL+path, rdr)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

// fund seeds 1000 USDC through the API and mints the position.
func (f *fixture) fund(t *testing.T) {
	t.Helper()
	f.vault.Settlement.Credit(testutil.VaultAddr, uint256.NewInt(1000*usdc))
	var resp server.CommandResponse
	require.Equal(t, http.StatusOK, f.do(t, "POST", "/v1/seed", server.SeedRequest{Amount0: "1000000000"}, &resp))
	require.Len(t, resp.Events, 1)
	assert.Equal(t, "PrincipalSeeded", resp.Events[0].EventType)

	require.Equal(t, http.StatusOK, f.do(t, "POST", "/v1/rebalance", server.RebalanceRequest{}, &resp))
	require.Len(t, resp.Events, 1)
	assert.Equal(t, "Rebalanced", resp.Events[0].EventType)
}

func TestGateway_StakeAccrueClaim(t *testing.T) {
	f := newFixture(t, nil)
	f.fund(t)

	f.vault.Custody.Mint(1, alice)
	var cmd server.CommandResponse
	got := f.do(t, "POST", "/v1/stakes", server.StakeRequest{
		RequestID: "11111111-1111-1111-1111-111111111111",
		TokenID:   1,
		Owner:     alice.Hex(),
		Tier:      "Gold",
	}, &cmd)
	require.Equal(t, http.StatusOK, got)
	require.Len(t, cmd.Events, 1)
	assert.Equal(t, "Staked", cmd.Events[0].EventType)
	assert.False(t, cmd.Duplicate)

	// same request id again
	got = f.do(t, "POST", "/v1/stakes", server.StakeRequest{
		RequestID: "11111111-1111-1111-1111-111111111111",
		TokenID:   1,
		Owner:     alice.Hex(),
		Tier:      "Gold",
	}, &cmd)
	require.Equal(t, http.StatusOK, got)
	assert.True(t, cmd.Duplicate)
	assert.Empty(t, cmd.Events)

	f.vault.Venue.AccrueFees(35*usdc, 0)
	require.Equal(t, http.StatusOK, f.do(t, "POST", "/v1/rebalance", nil, &cmd))

	var rec server.RecordResponse
	require.Equal(t, http.StatusOK, f.do(t, "GET", "/v1/records/1", nil, &rec))
	assert.Equal(t, "Gold", rec.Tier)
	assert.Equal(t, uint64(175), rec.Weight)
	assert.True(t, rec.Staked)
	// 35 USDC less 10% tax, single staker
	assert.Equal(t, "31500000", rec.Pending)

	var quote server.QuoteResponse
	require.Equal(t, http.StatusOK, f.do(t, "GET", "/v1/records/1/quote", nil, &quote))
	assert.Equal(t, "31500000", quote.Claimable)
	assert.False(t, quote.Capped)

	got = f.do(t, "POST", "/v1/stakes/1/claim", server.TokenRequest{Caller: alice.Hex()}, &cmd)
	require.Equal(t, http.StatusOK, got)
	require.Len(t, cmd.Events, 1)
	assert.Equal(t, "YieldClaimed", cmd.Events[0].EventType)
	assert.Equal(t, uint64(31_500_000), f.vault.Settlement.Balance(alice).Uint64())

	var report server.ReportResponse
	require.Equal(t, http.StatusOK, f.do(t, "GET", "/v1/report", nil, &report))
	assert.Equal(t, uint64(175), report.TotalWeight)
	assert.Equal(t, 1, report.StakedRecords)
	assert.Equal(t, "0", report.TotalPending)
	assert.Equal(t, "Active", report.PositionStatus)

	var tokens server.StakedTokensResponse
	require.Equal(t, http.StatusOK, f.do(t, "GET", "/v1/owners/"+alice.Hex()+"/tokens", nil, &tokens))
	assert.Equal(t, []uint64{1}, tokens.TokenIDs)

	var tiers server.TiersResponse
	require.Equal(t, http.StatusOK, f.do(t, "GET", "/v1/tiers", nil, &tiers))
	assert.Equal(t, []server.TierWeight{
		{Tier: "Lead", ID: 1, Weight: 100},
		{Tier: "Silver", ID: 2, Weight: 135},
		{Tier: "Gold", ID: 3, Weight: 175},
	}, tiers.Tiers)
}

func TestGateway_ErrorMapping(t *testing.T) {
	f := newFixture(t, nil)
	f.fund(t)
	f.vault.Custody.Mint(1, alice)
	require.Equal(t, http.StatusOK, f.do(t, "POST", "/v1/stakes", server.StakeRequest{
		TokenID: 1, Owner: alice.Hex(), Tier: "Lead",
	}, nil))

	type errBody struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	cases := []struct {
		name   string
		method string
		path   string
		body   interface{}
		status int
		code   string
	}{
		{"unknown token", "GET", "/v1/records/99", nil, http.StatusNotFound, "NotFound"},
		{"not owner", "POST", "/v1/stakes/1/claim", server.TokenRequest{Caller: testutil.TreasuryAddr.Hex()}, http.StatusForbidden, "PermissionDenied"},
		{"already staked", "POST", "/v1/stakes", server.StakeRequest{TokenID: 1, Owner: alice.Hex(), Tier: "Lead"}, http.StatusBadRequest, "FailedPrecondition"},
		{"bad tier", "POST", "/v1/stakes", server.StakeRequest{TokenID: 2, Owner: alice.Hex(), Tier: "Platinum"}, http.StatusBadRequest, "InvalidArgument"},
		{"bad token id", "GET", "/v1/records/abc", nil, http.StatusBadRequest, "InvalidArgument"},
		{"bad body", "POST", "/v1/seed", "not an object", http.StatusBadRequest, "InvalidArgument"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var body errBody
			got := f.do(t, tc.method, tc.path, tc.body, &body)
			assert.Equal(t, tc.status, got)
			assert.Equal(t, tc.code, body.Code)
		})
	}
}

func TestGateway_RebalanceRateLimited(t *testing.T) {
	f := newFixture(t, server.NewCommandLimiter(time.Hour, time.Hour))
	f.fund(t)

	var body struct {
		Code string `json:"code"`
	}
	got := f.do(t, "POST", "/v1/rebalance", nil, &body)
	assert.Equal(t, http.StatusTooManyRequests, got)
	assert.Equal(t, "ResourceExhausted", body.Code)
}

func TestCommandLimiter(t *testing.T) {
	l := server.NewCommandLimiter(time.Hour, time.Hour)
	require.NoError(t, l.Allow(event.CommandKindRebalance))
	err := l.Allow(event.CommandKindRebalance)
	assert.Equal(t, codes.ResourceExhausted, status.Code(err))
	// seed has its own budget; claims are not limited
	assert.NoError(t, l.Allow(event.CommandKindSeedPrincipal))
	assert.NoError(t, l.Allow(event.CommandKindClaim))
	assert.NoError(t, l.Allow(event.CommandKindClaim))

	var nilLimiter *server.CommandLimiter
	assert.NoError(t, nilLimiter.Allow(event.CommandKindRebalance))
}

func TestGRPC_JSONCodecRoundTrip(t *testing.T) {
	f := newFixture(t, nil)
	f.fund(t)

	lis := bufconn.Listen(1 << 20)
	srv := server.NewGRPCServer("", "", f.service, nil, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.Serve(ctx, lis)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	defer conn.Close()

	f.vault.Custody.Mint(5, alice)
	var cmd server.CommandResponse
	require.NoError(t, server.Invoke(ctx, conn, "Stake", &server.StakeRequest{
		TokenID: 5, Owner: alice.Hex(), Tier: "Silver",
	}, &cmd))
	require.Len(t, cmd.Events, 1)
	assert.Equal(t, int64(3), cmd.Events[0].Sequence)

	var report server.ReportResponse
	require.NoError(t, server.Invoke(ctx, conn, "Report", &server.Empty{}, &report))
	assert.Equal(t, uint64(135), report.TotalWeight)

	err = server.Invoke(ctx, conn, "GetRecord", &server.TokenQuery{TokenID: 77}, &server.RecordResponse{})
	assert.Equal(t, codes.NotFound, status.Code(err))
}
