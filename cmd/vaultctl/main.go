// Command vaultctl drives a running vault through its HTTP/JSON gateway.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

type globalFlags struct {
	addr            string
	timeout         time.Duration
	asJSON          bool
	decimals        [2]int32
	settlementIndex int
}

var (
	flags globalFlags

	rootCmd = &cobra.Command{
		Use:           "vaultctl",
		Short:         "CLI for a VaultLedger node",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func init() {
	addr := os.Getenv("VAULTCTL_ADDR")
	if addr == "" {
		addr = "http://localhost:8080"
	}
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flags.addr, "addr", addr, "gateway address (env VAULTCTL_ADDR)")
	pf.DurationVar(&flags.timeout, "timeout", 3*time.Minute, "request timeout; rebalance waits for the cycle")
	pf.BoolVar(&flags.asJSON, "json", false, "print raw JSON responses")
	pf.Int32Var(&flags.decimals[0], "decimals0", 0, "decimals of token0 for display and input")
	pf.Int32Var(&flags.decimals[1], "decimals1", 0, "decimals of token1 for display and input")
	pf.IntVar(&flags.settlementIndex, "settlement-index", 0, "venue index (0 or 1) of the reward asset")

	rootCmd.AddCommand(commandCmds()...)
	rootCmd.AddCommand(queryCmds()...)
	rootCmd.AddCommand(adminCmds()...)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func (g globalFlags) client() *client {
	return newClient(g.addr, g.timeout)
}

func (g globalFlags) context() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), g.timeout)
}

// reward formats a settlement-asset amount.
func (g globalFlags) reward(raw string) string {
	idx := g.settlementIndex
	if idx != 1 {
		idx = 0
	}
	return fromBaseUnits(raw, g.decimals[idx])
}

// pair formats a (token0, token1) tuple.
func (g globalFlags) pair(raw [2]string) string {
	return fromBaseUnits(raw[0], g.decimals[0]) + " / " + fromBaseUnits(raw[1], g.decimals[1])
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
}
