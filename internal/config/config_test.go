package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"VaultLedger/internal/config"
	"VaultLedger/internal/position"
	"VaultLedger/internal/weights"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

// ---------------------------------------------------------------------------
// Env config
// ---------------------------------------------------------------------------

func TestLoad_EnvOverridesDotEnv(t *testing.T) {
	dotenv := writeFile(t, ".env", "VAULT_GRPC_ADDR=:7000\nVAULT_HTTP_ADDR=:7001\nVAULT_NO_CHAIN=true\n")
	t.Setenv("VAULT_GRPC_ADDR", ":6000")
	t.Setenv("VAULT_REBALANCE_INTERVAL", "15m")
	// Setenv restores the old values on cleanup; unset so the file applies.
	t.Setenv("VAULT_HTTP_ADDR", "")
	t.Setenv("VAULT_NO_CHAIN", "")
	os.Unsetenv("VAULT_HTTP_ADDR")
	os.Unsetenv("VAULT_NO_CHAIN")

	cfg, err := config.Load(dotenv)
	require.NoError(t, err)
	assert.Equal(t, ":6000", cfg.GRPCAddr, "env wins over .env")
	assert.Equal(t, ":7001", cfg.HTTPAddr, ".env wins over default")
	assert.True(t, cfg.NoChain)
	assert.Equal(t, 15*time.Minute, cfg.RebalanceInterval)
	assert.Equal(t, ":9091", cfg.MetricsAddr)
}

func TestLoad_MissingDotEnvIsFine(t *testing.T) {
	t.Setenv("VAULT_NO_CHAIN", "1")
	_, err := config.Load(filepath.Join(t.TempDir(), "absent.env"))
	require.NoError(t, err)
}

func TestConfig_Validate(t *testing.T) {
	base := config.DefaultConfig()
	base.NoChain = true
	require.NoError(t, base.Validate())

	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"missing signer", func(c *config.Config) { c.NoChain = false; c.SignerKeyHex = "" }},
		{"zero batch", func(c *config.Config) { c.PersistBatchSize = 0 }},
		{"zero channel", func(c *config.Config) { c.PersistChanSize = 0 }},
		{"zero interval", func(c *config.Config) { c.RebalanceInterval = 0 }},
		{"empty dsn", func(c *config.Config) { c.PostgresURL = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base
			tt.mutate(&c)
			assert.Error(t, c.Validate())
		})
	}
}

// ---------------------------------------------------------------------------
// Params
// ---------------------------------------------------------------------------

const paramsTOML = `
tax_bps = 500
reserve_bps = 2500
settlement_index = 1

[tiers]
Lead = 100
Silver = 150
Gold = 200

[min_deposit]
amount0 = "0"
amount1 = "2000000"

[addresses]
vault = "0x00000000000000000000000000000000000000aa"
treasury = "0x00000000000000000000000000000000000000bb"

[venue]
fee = 3000
tick_lower = -600
tick_upper = 600
`

func TestLoadParams_File(t *testing.T) {
	p, err := config.LoadParams(writeFile(t, "vault.toml", paramsTOML))
	require.NoError(t, err)

	assert.Equal(t, uint64(500), p.TaxBps)
	assert.Equal(t, 1, p.SettlementIndex)
	assert.Equal(t, uint32(3000), p.Venue.Fee)

	table, err := p.WeightTable()
	require.NoError(t, err)
	w, err := table.WeightForTier(weights.TierGold)
	require.NoError(t, err)
	assert.Equal(t, uint64(200), w)

	pc := p.PositionConfig(position.DefaultConfig())
	assert.Equal(t, uint64(2500), pc.ReserveBps)
	assert.Equal(t, common.HexToAddress("0xaa"), pc.Vault)
	assert.Equal(t, common.HexToAddress("0xbb"), pc.Treasury)
	assert.Equal(t, uint256.NewInt(2_000_000), pc.MinDeposit.Amount1)

	assert.Error(t, p.RequireAddresses(), "token addresses are unset")
}

func TestLoadParams_EnvOverride(t *testing.T) {
	t.Setenv("VAULT_TAX_BPS", "250")
	p, err := config.LoadParams(writeFile(t, "vault.toml", paramsTOML))
	require.NoError(t, err)
	assert.Equal(t, uint64(250), p.TaxBps)
}

func TestLoadParams_Defaults(t *testing.T) {
	p, err := config.LoadParams("")
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), p.TaxBps)
	assert.Equal(t, uint64(2000), p.ReserveBps)
}

func TestLoadParams_Rejects(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown key", "tax_bsp = 10\n"},
		{"tax out of range", "tax_bps = 10001\n"},
		{"bad tier", "[tiers]\nPlatinum = 300\n"},
		{"zero weight", "[tiers]\nLead = 0\n"},
		{"bad address", "[addresses]\nvault = \"0x12\"\n"},
		{"bad settlement index", "settlement_index = 2\n"},
		{"empty tick range", "[venue]\ntick_lower = 60\ntick_upper = 60\n"},
		{"bad amount", "[min_deposit]\namount0 = \"-1\"\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.LoadParams(writeFile(t, "vault.toml", tt.body))
			assert.Error(t, err)
		})
	}
}
