package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"VaultLedger/internal/observability"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// binder fills a request message from path parameters and the query string.
type binder[Req any] func(r *http.Request, params map[string]string, req *Req) error

// NewGatewayHandler routes the HTTP/JSON API onto svc in-process and adds
// /healthz and /readyz.
func NewGatewayHandler(svc VaultServer, hc *observability.HealthChecker) (http.Handler, error) {
	mux := runtime.NewServeMux()

	routes := []struct {
		method, path string
		h            runtime.HandlerFunc
	}{
		{"POST", "/v1/stakes", route(svc, VaultServer.Stake, nil)},
		{"POST", "/v1/stakes/{token_id}/unstake", route(svc, VaultServer.Unstake, bindTokenRequest)},
		{"POST", "/v1/stakes/{token_id}/claim", route(svc, VaultServer.Claim, bindTokenRequest)},
		{"POST", "/v1/rebalance", route(svc, VaultServer.Rebalance, nil)},
		{"POST", "/v1/seed", route(svc, VaultServer.SeedPrincipal, nil)},

		{"GET", "/v1/records/{token_id}", route(svc, VaultServer.GetRecord, bindTokenQuery)},
		{"GET", "/v1/records/{token_id}/quote", route(svc, VaultServer.QuoteClaim, bindTokenQuery)},
		{"GET", "/v1/report", route(svc, VaultServer.Report, nil)},
		{"GET", "/v1/owners/{owner}/tokens", route(svc, VaultServer.GetStakedTokens, bindOwnerQuery)},
		{"GET", "/v1/tiers", route(svc, VaultServer.GetTiers, nil)},

		{"GET", "/v1/owners/{owner}/stakes", route(svc, VaultServer.GetStakes, bindOwnerQuery)},
		{"GET", "/v1/claims", route(svc, VaultServer.GetClaimHistory, bindHistoryQuery)},
		{"GET", "/v1/rebalances", route(svc, VaultServer.GetRebalanceHistory, bindHistoryQuery)},
		{"GET", "/v1/tax", route(svc, VaultServer.GetTaxSummary, nil)},
		{"GET", "/v1/vault", route(svc, VaultServer.GetVaultState, nil)},
		{"GET", "/v1/journals", route(svc, VaultServer.ListJournals, bindHistoryQuery)},
		{"GET", "/v1/balances", route(svc, VaultServer.GetBalances, bindHistoryQuery)},

		{"POST", "/v1/admin/verify", route(svc, VaultServer.VerifyIntegrity, nil)},
		{"POST", "/v1/admin/snapshot", route(svc, VaultServer.TakeSnapshot, nil)},
		{"POST", "/v1/admin/rebuild", route(svc, VaultServer.RebuildProjections, nil)},
	}
	for _, rt := range routes {
		if err := mux.HandlePath(rt.method, rt.path, rt.h); err != nil {
			return nil, fmt.Errorf("register %s %s: %w", rt.method, rt.path, err)
		}
	}

	httpMux := http.NewServeMux()
	if hc != nil {
		httpMux.HandleFunc("/healthz", hc.LivenessHandler)
		httpMux.HandleFunc("/readyz", hc.ReadinessHandler)
	}
	httpMux.Handle("/", mux)
	return httpMux, nil
}

func route[Req, Resp any](
	svc VaultServer,
	call func(VaultServer, context.Context, *Req) (*Resp, error),
	bind binder[Req],
) runtime.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, params map[string]string) {
		req := new(Req)
		if r.Method == http.MethodPost {
			body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
			if err != nil {
				writeError(w, status.Errorf(codes.InvalidArgument, "read body: %v", err))
				return
			}
			if len(body) > 0 {
				if err := json.Unmarshal(body, req); err != nil {
					writeError(w, status.Errorf(codes.InvalidArgument, "decode body: %v", err))
					return
				}
			}
		}
		if bind != nil {
			if err := bind(r, params, req); err != nil {
				writeError(w, status.Error(codes.InvalidArgument, err.Error()))
				return
			}
		}

		resp, err := call(svc, r.Context(), req)
		if err != nil {
			writeError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(resp)
	}
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, err error) {
	st := status.Convert(toStatus(err))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(runtime.HTTPStatusFromCode(st.Code()))
	_ = json.NewEncoder(w).Encode(errorBody{Code: st.Code().String(), Message: st.Message()})
}

func bindTokenRequest(_ *http.Request, params map[string]string, req *TokenRequest) error {
	id, err := strconv.ParseUint(params["token_id"], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid token_id: %v", err)
	}
	req.TokenID = id
	return nil
}

func bindTokenQuery(_ *http.Request, params map[string]string, req *TokenQuery) error {
	id, err := strconv.ParseUint(params["token_id"], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid token_id: %v", err)
	}
	req.TokenID = id
	return nil
}

func bindOwnerQuery(r *http.Request, params map[string]string, req *OwnerQuery) error {
	req.Owner = params["owner"]
	if v := r.URL.Query().Get("include_unstaked"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid include_unstaked: %v", err)
		}
		req.IncludeUnstaked = b
	}
	return nil
}

func bindHistoryQuery(r *http.Request, _ map[string]string, req *HistoryQuery) error {
	q := r.URL.Query()
	var err error
	if v := q.Get("token_id"); v != "" {
		if req.TokenID, err = strconv.ParseUint(v, 10, 64); err != nil {
			return fmt.Errorf("invalid token_id: %v", err)
		}
	}
	if v := q.Get("limit"); v != "" {
		if req.Limit, err = strconv.Atoi(v); err != nil {
			return fmt.Errorf("invalid limit: %v", err)
		}
	}
	if v := q.Get("before"); v != "" {
		if req.BeforeSequence, err = strconv.ParseInt(v, 10, 64); err != nil {
			return fmt.Errorf("invalid before: %v", err)
		}
	}
	req.Owner = q.Get("owner")
	req.AccountPrefix = q.Get("prefix")
	return nil
}
