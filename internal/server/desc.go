package server

import (
	"context"

	"VaultLedger/internal/query"

	"google.golang.org/grpc"
)

const ServiceName = "vaultledger.v1.VaultService"

// VaultServer is the gRPC surface of VaultService.
type VaultServer interface {
	Stake(context.Context, *StakeRequest) (*CommandResponse, error)
	Unstake(context.Context, *TokenRequest) (*CommandResponse, error)
	Claim(context.Context, *TokenRequest) (*CommandResponse, error)
	Rebalance(context.Context, *RebalanceRequest) (*CommandResponse, error)
	SeedPrincipal(context.Context, *SeedRequest) (*CommandResponse, error)

	GetRecord(context.Context, *TokenQuery) (*RecordResponse, error)
	QuoteClaim(context.Context, *TokenQuery) (*QuoteResponse, error)
	Report(context.Context, *Empty) (*ReportResponse, error)
	GetStakedTokens(context.Context, *OwnerQuery) (*StakedTokensResponse, error)
	GetTiers(context.Context, *Empty) (*TiersResponse, error)

	GetStakes(context.Context, *OwnerQuery) (*StakesResponse, error)
	GetClaimHistory(context.Context, *HistoryQuery) (*ClaimsResponse, error)
	GetRebalanceHistory(context.Context, *HistoryQuery) (*RebalancesResponse, error)
	GetTaxSummary(context.Context, *Empty) (*query.TaxSummary, error)
	GetVaultState(context.Context, *Empty) (*query.VaultStateResponse, error)
	ListJournals(context.Context, *HistoryQuery) (*JournalsResponse, error)
	GetBalances(context.Context, *HistoryQuery) (*BalancesResponse, error)

	VerifyIntegrity(context.Context, *Empty) (*query.IntegrityReport, error)
	TakeSnapshot(context.Context, *Empty) (*SnapshotResponse, error)
	RebuildProjections(context.Context, *Empty) (*RebuildResponse, error)
}

var _ VaultServer = (*VaultService)(nil)

// VaultServiceDesc describes VaultServer for grpc.Server.RegisterService.
var VaultServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*VaultServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Stake", VaultServer.Stake),
		unary("Unstake", VaultServer.Unstake),
		unary("Claim", VaultServer.Claim),
		unary("Rebalance", VaultServer.Rebalance),
		unary("SeedPrincipal", VaultServer.SeedPrincipal),
		unary("GetRecord", VaultServer.GetRecord),
		unary("QuoteClaim", VaultServer.QuoteClaim),
		unary("Report", VaultServer.Report),
		unary("GetStakedTokens", VaultServer.GetStakedTokens),
		unary("GetTiers", VaultServer.GetTiers),
		unary("GetStakes", VaultServer.GetStakes),
		unary("GetClaimHistory", VaultServer.GetClaimHistory),
		unary("GetRebalanceHistory", VaultServer.GetRebalanceHistory),
		unary("GetTaxSummary", VaultServer.GetTaxSummary),
		unary("GetVaultState", VaultServer.GetVaultState),
		unary("ListJournals", VaultServer.ListJournals),
		unary("GetBalances", VaultServer.GetBalances),
		unary("VerifyIntegrity", VaultServer.VerifyIntegrity),
		unary("TakeSnapshot", VaultServer.TakeSnapshot),
		unary("RebuildProjections", VaultServer.RebuildProjections),
	},
	Streams: []grpc.StreamDesc{},
}

func unary[Req, Resp any](name string, call func(VaultServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(VaultServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(name)}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(srv.(VaultServer), ctx, req.(*Req))
			})
		},
	}
}

// FullMethod returns the gRPC method path for name.
func FullMethod(name string) string {
	return "/" + ServiceName + "/" + name
}

// Invoke calls a VaultService method over conn with the JSON codec.
func Invoke(ctx context.Context, conn grpc.ClientConnInterface, method string, req, resp any) error {
	return conn.Invoke(ctx, FullMethod(method), req, resp, grpc.CallContentSubtype(CodecName))
}
