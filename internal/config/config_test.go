package config_test

import (
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"PowerVault/internal/config"
	"PowerVault/internal/state"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	chdir(t, t.TempDir()) // no stray .env
	t.Setenv("POWERVAULT_ENGINE_ADDRESS", "0x00000000000000000000000000000000000000e0")
	t.Setenv("POWERVAULT_OWNER", "0x00000000000000000000000000000000000000a1")
	t.Setenv("POWERVAULT_WETH_ADDRESS", "0x0000000000000000000000000000000000000001")
	t.Setenv("POWERVAULT_QUOTE_ADDRESS", "0x0000000000000000000000000000000000000002")
	t.Setenv("POWERVAULT_POWERPERP_ADDRESS", "0x0000000000000000000000000000000000000003")
}

// chdir mirrors testing.T.Chdir (Go 1.24+) for older toolchains.
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(prev) })
}

// ============================================================================
// Environment
// ============================================================================

func TestLoad_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, 50, cfg.PersistBatchSize)
	assert.Equal(t, 10*time.Millisecond, cfg.PersistFlushTimeout)
	assert.Equal(t, uint8(6), cfg.Quote.Decimals)
	assert.Equal(t, uint8(18), cfg.WETH.Decimals)
	assert.Equal(t, common.HexToAddress("0xa1"), cfg.Owner)
}

func TestLoad_Overrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("POWERVAULT_PERSIST_BATCH_SIZE", "200")
	t.Setenv("POWERVAULT_PERSIST_FLUSH_TIMEOUT", "25ms")
	t.Setenv("POWERVAULT_QUOTE_DECIMALS", "18")
	t.Setenv("POWERVAULT_RATE_LIMIT", "2.5")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, 200, cfg.PersistBatchSize)
	assert.Equal(t, 25*time.Millisecond, cfg.PersistFlushTimeout)
	assert.Equal(t, uint8(18), cfg.Quote.Decimals)
	assert.InDelta(t, 2.5, cfg.RateLimit, 1e-9)
}

func TestLoad_ReadsDotEnv(t *testing.T) {
	setRequiredEnv(t)
	require.NoError(t, os.WriteFile(".env", []byte("POWERVAULT_HTTP_ADDR=:18080\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("POWERVAULT_HTTP_ADDR") })

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, ":18080", cfg.HTTPAddr)
}

func TestLoad_RequiresAddresses(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("POWERVAULT_OWNER", "")
	_, err := config.Load()
	assert.ErrorContains(t, err, "POWERVAULT_OWNER")

	t.Setenv("POWERVAULT_OWNER", "not-an-address")
	_, err = config.Load()
	assert.ErrorContains(t, err, "invalid address")
}

func TestLoad_RejectsSamePoolNames(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("POWERVAULT_ETH_QUOTE_POOL", "p")
	t.Setenv("POWERVAULT_POWERPERP_POOL", "p")
	_, err := config.Load()
	assert.Error(t, err)
}

// ============================================================================
// Params
// ============================================================================

func TestParseParams_OverridesDefaults(t *testing.T) {
	p, err := config.ParseParams([]byte(`
collateral_ratio: "2"
liquidation_bonus: "1.05"
max_fee_rate_bps: 100
twap_period_seconds: 600
`))
	require.NoError(t, err)

	def := state.DefaultParams()
	assert.Equal(t, "2000000000000000000", p.CollateralRatio.String())
	assert.Equal(t, "1050000000000000000", p.LiquidationBonus.String())
	assert.Equal(t, uint32(100), p.MaxFeeRateBPS)
	assert.Equal(t, uint32(600), p.TwapPeriod)
	assert.Equal(t, 0, p.MinCollateral.Cmp(def.MinCollateral))
	assert.Equal(t, def.PauseBudget, p.PauseBudget)
}

func TestParseParams_Validates(t *testing.T) {
	_, err := config.ParseParams([]byte(`collateral_ratio: "0.9"`))
	assert.ErrorContains(t, err, "collateral_ratio")

	_, err = config.ParseParams([]byte(`reduce_debt_bounty: "abc"`))
	assert.ErrorContains(t, err, "reduce_debt_bounty")

	_, err = config.ParseParams([]byte(`collateral_ratio: [`))
	assert.Error(t, err)
}

func TestLoadParams_FileAndDefault(t *testing.T) {
	p, err := config.LoadParams("")
	require.NoError(t, err)
	assert.Equal(t, 0, p.CollateralRatio.Cmp(state.DefaultParams().CollateralRatio))

	path := filepath.Join(t.TempDir(), "params.yaml")
	require.NoError(t, os.WriteFile(path, []byte("index_scale: 100\n"), 0o600))
	p, err = config.LoadParams(path)
	require.NoError(t, err)
	assert.Equal(t, int64(100), p.IndexScale.Int64())

	_, err = config.LoadParams(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestParseWad(t *testing.T) {
	v, err := config.ParseWad("6.9")
	require.NoError(t, err)
	want, _ := new(big.Int).SetString("6900000000000000000", 10)
	assert.Equal(t, 0, v.Cmp(want))

	_, err = config.ParseWad("0.0000000000000000001")
	assert.Error(t, err)

	assert.Equal(t, "1.5", config.FormatWad(big.NewInt(1_500_000_000_000_000_000)))
	assert.Equal(t, "0", config.FormatWad(nil))
}
