package main

import (
	"bytes"
	"strconv"
	"testing"

	"PowerVault/internal/risk"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestLiquidationPrice_NoPosition(t *testing.T) {
	// 15 ETH against 10000 wPowerPerp at nf 1 and scale 10000: debt is one
	// ETH per unit of price, so 15 / 1.5 = 10.
	out, err := runCLI(t, "liquidation-price",
		"--collateral", "15", "--short", "10000", "--nf", "1", "--ratio", "1.5")
	require.NoError(t, err)
	assert.Contains(t, out, "liquidation price: 10.000000")
}

func TestLiquidationPrice_NoDebt(t *testing.T) {
	out, err := runCLI(t, "liquidation-price", "--collateral", "15")
	require.NoError(t, err)
	assert.Contains(t, out, "no liquidation price")
}

func TestLiquidationPrice_RejectsBadAmount(t *testing.T) {
	_, err := runCLI(t, "liquidation-price", "--collateral", "1.0000000000000000001")
	assert.ErrorContains(t, err, "--collateral")

	_, err = runCLI(t, "liquidation-price", "--short", "-1")
	assert.ErrorContains(t, err, "must not be negative")
}

func TestImpliedVol_RecoversModelVolatility(t *testing.T) {
	tau := float64(420*3600) / secondsPerYear
	observed := risk.PowerPerpPrice(3000, 1, 0.8, tau, 10_000)

	out, err := runCLI(t, "implied-vol",
		"--observed", strconv.FormatFloat(observed, 'g', -1, 64), "--spot", "3000")
	require.NoError(t, err)
	assert.Contains(t, out, "implied volatility: 80.00%")
}

func TestImpliedVol_OutOfRange(t *testing.T) {
	_, err := runCLI(t, "implied-vol", "--observed", "0", "--spot", "3000")
	assert.Error(t, err)
}

func TestPositionBalances_BelowRangeIsAllToken0(t *testing.T) {
	out, err := runCLI(t, "position-balances",
		"--liquidity", "1000000000000000000", "--tick-lower", "-60", "--tick-upper", "60", "--tick", "-120")
	require.NoError(t, err)
	assert.Contains(t, out, "quote: 0\n")
	assert.NotContains(t, out, "base:  0\n")
}

func TestPositionBalances_BadLiquidity(t *testing.T) {
	_, err := runCLI(t, "position-balances", "--liquidity", "lots", "--tick-lower", "-60", "--tick-upper", "60")
	assert.ErrorContains(t, err, "--liquidity")
}

func TestLiquidity(t *testing.T) {
	out, err := runCLI(t, "liquidity",
		"--amount0", "1", "--amount1", "1", "--tick-lower", "-60", "--tick-upper", "60", "--tick", "0")
	require.NoError(t, err)
	assert.Contains(t, out, "liquidity: ")
	assert.NotContains(t, out, "liquidity: 0\n")

	_, err = runCLI(t, "liquidity", "--tick-lower", "60", "--tick-upper", "-60")
	assert.Error(t, err)
}
