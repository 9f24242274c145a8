package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"time"

	"VaultLedger/internal/query"
	"VaultLedger/internal/server"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// call fetches into T and renders it, or prints the raw body with --json.
func call[T any](cmd *cobra.Command, fetch func(ctx context.Context, c *client, out any) error, render func(w io.Writer, v *T) error) error {
	ctx, cancel := flags.context()
	defer cancel()
	c := flags.client()
	if flags.asJSON {
		var raw json.RawMessage
		if err := fetch(ctx, c, &raw); err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), raw)
	}
	v := new(T)
	if err := fetch(ctx, c, v); err != nil {
		return err
	}
	return render(cmd.OutOrStdout(), v)
}

func parseTokenID(s string) (uint64, error) {
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid token id %q", s)
	}
	return id, nil
}

// requestIDFlag registers --request-id. Reusing an id makes a retry a no-op.
func requestIDFlag(cmd *cobra.Command) *string {
	return cmd.Flags().String("request-id", "", "request id (default: random)")
}

func requestID(flag *string) string {
	if *flag != "" {
		return *flag
	}
	return uuid.NewString()
}

func renderCommand(w io.Writer, r *server.CommandResponse) error {
	if r.Duplicate {
		fmt.Fprintln(w, "duplicate request, nothing committed")
		return nil
	}
	t := newTable(w)
	fmt.Fprintln(t, "SEQUENCE\tEVENT\tTIME")
	for _, e := range r.Events {
		fmt.Fprintf(t, "%d\t%s\t%s\n", e.Sequence, e.EventType, e.Timestamp.Format(time.RFC3339))
	}
	if err := t.Flush(); err != nil {
		return err
	}
	if r.Error != "" {
		return fmt.Errorf("committed %d event(s), then failed: %s", len(r.Events), r.Error)
	}
	return nil
}

func commandCmds() []*cobra.Command {
	stake := &cobra.Command{
		Use:   "stake <token-id>",
		Short: "Stake a token on behalf of its owner",
		Args:  cobra.ExactArgs(1),
	}
	stakeReqID := requestIDFlag(stake)
	owner := stake.Flags().String("owner", "", "token owner address")
	tier := stake.Flags().String("tier", "", "tier: Lead, Silver or Gold")
	_ = stake.MarkFlagRequired("owner")
	_ = stake.MarkFlagRequired("tier")
	stake.RunE = func(cmd *cobra.Command, args []string) error {
		id, err := parseTokenID(args[0])
		if err != nil {
			return err
		}
		req := server.StakeRequest{RequestID: requestID(stakeReqID), TokenID: id, Owner: *owner, Tier: *tier}
		return call(cmd, func(ctx context.Context, c *client, out any) error {
			return c.post(ctx, "/v1/stakes", req, out)
		}, renderCommand)
	}

	return []*cobra.Command{
		stake,
		tokenCommand("unstake", "Unstake a token, paying what the vault can cover"),
		tokenCommand("claim", "Claim a token's pending reward"),
		rebalanceCmd(),
		seedCmd(),
	}
}

func tokenCommand(verb, short string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   verb + " <token-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
	}
	reqID := requestIDFlag(cmd)
	caller := cmd.Flags().String("caller", "", "address of the record owner")
	_ = cmd.MarkFlagRequired("caller")
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		id, err := parseTokenID(args[0])
		if err != nil {
			return err
		}
		req := server.TokenRequest{RequestID: requestID(reqID), Caller: *caller}
		path := fmt.Sprintf("/v1/stakes/%d/%s", id, verb)
		return call(cmd, func(ctx context.Context, c *client, out any) error {
			return c.post(ctx, path, req, out)
		}, renderCommand)
	}
	return cmd
}

func rebalanceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rebalance",
		Short: "Run one harvest and redeploy cycle",
		Args:  cobra.NoArgs,
	}
	reqID := requestIDFlag(cmd)
	cmd.RunE = func(cmd *cobra.Command, _ []string) error {
		req := server.RebalanceRequest{RequestID: requestID(reqID)}
		return call(cmd, func(ctx context.Context, c *client, out any) error {
			return c.post(ctx, "/v1/rebalance", req, out)
		}, renderCommand)
	}
	return cmd
}

func seedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed <amount0> <amount1>",
		Short: "Register principal transferred to the vault",
		Long:  "Amounts are in display units, scaled by --decimals0 and --decimals1.",
		Args:  cobra.ExactArgs(2),
	}
	reqID := requestIDFlag(cmd)
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		a0, err := toBaseUnits(args[0], flags.decimals[0])
		if err != nil {
			return err
		}
		a1, err := toBaseUnits(args[1], flags.decimals[1])
		if err != nil {
			return err
		}
		req := server.SeedRequest{RequestID: requestID(reqID), Amount0: a0, Amount1: a1}
		return call(cmd, func(ctx context.Context, c *client, out any) error {
			return c.post(ctx, "/v1/seed", req, out)
		}, renderCommand)
	}
	return cmd
}

func queryCmds() []*cobra.Command {
	record := &cobra.Command{
		Use:   "record <token-id>",
		Short: "Show a token's live record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTokenID(args[0])
			if err != nil {
				return err
			}
			return call(cmd, func(ctx context.Context, c *client, out any) error {
				return c.get(ctx, fmt.Sprintf("/v1/records/%d", id), nil, out)
			}, func(w io.Writer, r *server.RecordResponse) error {
				t := newTable(w)
				fmt.Fprintf(t, "token\t%d\n", r.TokenID)
				fmt.Fprintf(t, "owner\t%s\n", r.Owner)
				fmt.Fprintf(t, "tier\t%s (weight %d)\n", r.Tier, r.Weight)
				fmt.Fprintf(t, "staked\t%t\n", r.Staked)
				fmt.Fprintf(t, "pending\t%s\n", flags.reward(r.Pending))
				fmt.Fprintf(t, "deferred\t%s\n", flags.reward(r.Deferred))
				fmt.Fprintf(t, "reward debt\t%s\n", r.RewardDebt)
				return t.Flush()
			})
		},
	}

	pending := &cobra.Command{
		Use:   "pending <token-id>",
		Short: "Quote what a claim would pay now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTokenID(args[0])
			if err != nil {
				return err
			}
			return call(cmd, func(ctx context.Context, c *client, out any) error {
				return c.get(ctx, fmt.Sprintf("/v1/records/%d/quote", id), nil, out)
			}, func(w io.Writer, q *server.QuoteResponse) error {
				t := newTable(w)
				fmt.Fprintf(t, "pending\t%s\n", flags.reward(q.Pending))
				fmt.Fprintf(t, "entitlement\t%s\n", flags.reward(q.Entitlement))
				fmt.Fprintf(t, "claimable\t%s\n", flags.reward(q.Claimable))
				fmt.Fprintf(t, "shortfall\t%s\n", flags.reward(q.Shortfall))
				if q.Capped {
					fmt.Fprintf(t, "capped\tvault holds %s against %s pending and %s deferred\n",
						flags.reward(q.Available), flags.reward(q.TotalPending), flags.reward(q.TotalDeferred))
				}
				return t.Flush()
			})
		},
	}

	state := &cobra.Command{
		Use:   "state",
		Short: "Show the projected vault state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return call(cmd, func(ctx context.Context, c *client, out any) error {
				return c.get(ctx, "/v1/vault", nil, out)
			}, func(w io.Writer, s *query.VaultStateResponse) error {
				t := newTable(w)
				fmt.Fprintf(t, "as of sequence\t%d\n", s.AsOfSequence)
				fmt.Fprintf(t, "position\t%s (id %d)\n", s.PositionStatus, s.PositionID)
				fmt.Fprintf(t, "total weight\t%d over %d records\n", s.TotalWeight, s.StakedRecords)
				fmt.Fprintf(t, "acc reward per weight\t%s\n", s.Acc)
				fmt.Fprintf(t, "held revenue\t%s\n", flags.reward(s.HeldRevenue))
				fmt.Fprintf(t, "principal\t%s\n", flags.pair(s.Principal))
				fmt.Fprintf(t, "carry\t%s\n", flags.pair(s.Carry))
				fmt.Fprintf(t, "treasury owed\t%s\n", flags.reward(s.TreasuryOwed))
				return t.Flush()
			})
		},
	}

	report := &cobra.Command{
		Use:   "report",
		Short: "Show the live accounting report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return call(cmd, func(ctx context.Context, c *client, out any) error {
				return c.get(ctx, "/v1/report", nil, out)
			}, func(w io.Writer, r *server.ReportResponse) error {
				t := newTable(w)
				fmt.Fprintf(t, "as of sequence\t%d\n", r.AsOfSequence)
				fmt.Fprintf(t, "cycles\t%d\n", r.Cycles)
				fmt.Fprintf(t, "total pending\t%s\n", flags.reward(r.TotalPending))
				fmt.Fprintf(t, "available\t%s\n", flags.reward(r.Available))
				fmt.Fprintf(t, "shortfall\t%s\n", flags.reward(r.Shortfall))
				fmt.Fprintf(t, "principal\t%s\n", flags.pair(r.Principal))
				fmt.Fprintf(t, "treasury owed\t%s\n", flags.reward(r.TreasuryOwed))
				for _, d := range r.StaleDebts {
					fmt.Fprintf(t, "stale debt\ttoken %d debt %s entry acc %s\n", d.TokenID, d.RewardDebt, d.EntryAcc)
				}
				return t.Flush()
			})
		},
	}

	stakes := &cobra.Command{
		Use:   "stakes <owner>",
		Short: "List an owner's stakes",
		Args:  cobra.ExactArgs(1),
	}
	all := stakes.Flags().Bool("all", false, "include unstaked records")
	stakes.RunE = func(cmd *cobra.Command, args []string) error {
		q := url.Values{}
		if *all {
			q.Set("include_unstaked", "true")
		}
		return call(cmd, func(ctx context.Context, c *client, out any) error {
			return c.get(ctx, "/v1/owners/"+url.PathEscape(args[0])+"/stakes", q, out)
		}, func(w io.Writer, r *server.StakesResponse) error {
			t := newTable(w)
			fmt.Fprintln(t, "TOKEN\tTIER\tWEIGHT\tSTAKED\tPAID\tDEFERRED\tFORFEITED")
			for _, s := range r.Stakes {
				fmt.Fprintf(t, "%d\t%s\t%d\t%t\t%s\t%s\t%s\n", s.TokenID, s.Tier, s.Weight, s.Staked,
					flags.reward(s.TotalPaid), flags.reward(s.Deferred), flags.reward(s.Forfeited))
			}
			return t.Flush()
		})
	}

	claims := &cobra.Command{
		Use:   "claims",
		Short: "List payouts",
		Args:  cobra.NoArgs,
	}
	claimsQ := historyFlags(claims, true)
	claims.RunE = func(cmd *cobra.Command, _ []string) error {
		return call(cmd, func(ctx context.Context, c *client, out any) error {
			return c.get(ctx, "/v1/claims", claimsQ(), out)
		}, func(w io.Writer, r *server.ClaimsResponse) error {
			t := newTable(w)
			fmt.Fprintln(t, "SEQUENCE\tTOKEN\tKIND\tPAID\tDEFERRED\tFORFEITED\tTIME")
			for _, cl := range r.Claims {
				fmt.Fprintf(t, "%d\t%d\t%s\t%s\t%s\t%s\t%s\n", cl.Sequence, cl.TokenID, cl.Kind,
					flags.reward(cl.Paid), flags.reward(cl.Deferred), flags.reward(cl.Forfeited),
					cl.Timestamp.Format(time.RFC3339))
			}
			return t.Flush()
		})
	}

	rebalances := &cobra.Command{
		Use:     "history",
		Aliases: []string{"rebalances"},
		Short:   "List rebalance cycles",
		Args:    cobra.NoArgs,
	}
	rebalancesQ := historyFlags(rebalances, false)
	rebalances.RunE = func(cmd *cobra.Command, _ []string) error {
		return call(cmd, func(ctx context.Context, c *client, out any) error {
			return c.get(ctx, "/v1/rebalances", rebalancesQ(), out)
		}, func(w io.Writer, r *server.RebalancesResponse) error {
			t := newTable(w)
			fmt.Fprintln(t, "SEQUENCE\tOUTCOME\tPOSITION\tFEES\tTAX\tDISTRIBUTED\tDEPLOYED\tTIME")
			for _, cy := range r.Cycles {
				fmt.Fprintf(t, "%d\t%s\t%d\t%s\t%s\t%s\t%s\t%s\n", cy.Sequence, cy.Outcome, cy.PositionID,
					flags.pair(cy.Fees), flags.reward(cy.TreasuryTax), flags.reward(cy.Distributed),
					flags.pair(cy.Deployed), cy.Timestamp.Format(time.RFC3339))
			}
			return t.Flush()
		})
	}

	tax := &cobra.Command{
		Use:   "tax",
		Short: "Show treasury tax totals",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return call(cmd, func(ctx context.Context, c *client, out any) error {
				return c.get(ctx, "/v1/tax", nil, out)
			}, func(w io.Writer, s *query.TaxSummary) error {
				t := newTable(w)
				fmt.Fprintf(t, "cycles\t%d\n", s.Cycles)
				fmt.Fprintf(t, "tax\t%s\n", flags.reward(s.TotalTax))
				fmt.Fprintf(t, "swept\t%s\n", flags.reward(s.TotalSwept))
				fmt.Fprintf(t, "distributed\t%s\n", flags.reward(s.TotalDistributed))
				return t.Flush()
			})
		},
	}

	tokens := &cobra.Command{
		Use:   "tokens <owner>",
		Short: "List an owner's staked tokens from live state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(cmd, func(ctx context.Context, c *client, out any) error {
				return c.get(ctx, "/v1/owners/"+url.PathEscape(args[0])+"/tokens", nil, out)
			}, func(w io.Writer, r *server.StakedTokensResponse) error {
				if len(r.TokenIDs) == 0 {
					_, err := fmt.Fprintf(w, "%s has no staked tokens\n", r.Owner)
					return err
				}
				for _, id := range r.TokenIDs {
					if _, err := fmt.Fprintln(w, id); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}

	tiers := &cobra.Command{
		Use:   "tiers",
		Short: "Show the tier weight table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return call(cmd, func(ctx context.Context, c *client, out any) error {
				return c.get(ctx, "/v1/tiers", nil, out)
			}, func(w io.Writer, r *server.TiersResponse) error {
				t := newTable(w)
				fmt.Fprintln(t, "TIER\tID\tWEIGHT")
				for _, tw := range r.Tiers {
					fmt.Fprintf(t, "%s\t%d\t%d\n", tw.Tier, tw.ID, tw.Weight)
				}
				return t.Flush()
			})
		},
	}

	return []*cobra.Command{record, pending, state, report, stakes, tokens, tiers, claims, rebalances, tax}
}

// historyFlags registers paging flags and returns a builder for the query.
func historyFlags(cmd *cobra.Command, byRecord bool) func() url.Values {
	limit := cmd.Flags().Int("limit", 50, "max rows")
	before := cmd.Flags().Int64("before", 0, "only rows before this sequence")
	var token *uint64
	var owner *string
	if byRecord {
		token = cmd.Flags().Uint64("token", 0, "filter by token id")
		owner = cmd.Flags().String("owner", "", "filter by owner")
	}
	return func() url.Values {
		q := url.Values{}
		q.Set("limit", strconv.Itoa(*limit))
		if *before > 0 {
			q.Set("before", strconv.FormatInt(*before, 10))
		}
		if token != nil && *token > 0 {
			q.Set("token_id", strconv.FormatUint(*token, 10))
		}
		if owner != nil && *owner != "" {
			q.Set("owner", *owner)
		}
		return q
	}
}

func adminCmds() []*cobra.Command {
	verify := &cobra.Command{
		Use:   "verify",
		Short: "Check the event log hash chain and projection consistency",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return call(cmd, func(ctx context.Context, c *client, out any) error {
				return c.post(ctx, "/v1/admin/verify", struct{}{}, out)
			}, func(w io.Writer, r *query.IntegrityReport) error {
				t := newTable(w)
				fmt.Fprintf(t, "healthy\t%t\n", r.IsHealthy)
				fmt.Fprintf(t, "hash chain breaks\t%v\n", r.HashChainBreaks)
				fmt.Fprintf(t, "sequence gaps\t%v\n", r.SequenceGaps)
				fmt.Fprintf(t, "weight\tstakes %d, vault %d\n", r.StakedWeight, r.ProjectedWeight)
				fmt.Fprintf(t, "staker pool\t%s\n", r.StakerPool)
				if err := t.Flush(); err != nil {
					return err
				}
				if !r.IsHealthy {
					return fmt.Errorf("integrity check failed")
				}
				return nil
			})
		},
	}

	snapshot := &cobra.Command{
		Use:   "snapshot",
		Short: "Take a snapshot now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return call(cmd, func(ctx context.Context, c *client, out any) error {
				return c.post(ctx, "/v1/admin/snapshot", struct{}{}, out)
			}, func(w io.Writer, r *server.SnapshotResponse) error {
				if r.Bytes == 0 {
					_, err := fmt.Fprintf(w, "no change since the last snapshot (sequence %d)\n", r.Sequence)
					return err
				}
				_, err := fmt.Fprintf(w, "snapshot at sequence %d, %d bytes\n", r.Sequence, r.Bytes)
				return err
			})
		},
	}

	rebuild := &cobra.Command{
		Use:   "rebuild",
		Short: "Rebuild projections from the event log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return call(cmd, func(ctx context.Context, c *client, out any) error {
				return c.post(ctx, "/v1/admin/rebuild", struct{}{}, out)
			}, func(w io.Writer, r *server.RebuildResponse) error {
				_, err := fmt.Fprintf(w, "replayed %d events into projections\n", r.Events)
				return err
			})
		},
	}

	return []*cobra.Command{verify, snapshot, rebuild}
}
