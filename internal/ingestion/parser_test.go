package ingestion_test

import (
	"math/big"
	"testing"

	"PowerVault/internal/event"
	"PowerVault/internal/ingestion"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const header = `"id":"550e8400-e29b-41d4-a716-446655440000",` +
	`"from":"0x00000000000000000000000000000000000000a1",` +
	`"nonce":7,"block":{"number":12,"time":1700000000}`

func TestParseCommand_Mint(t *testing.T) {
	body := `{` + header + `,"vault_id":0,"amount":10000000000000000,"value":45000000000000000000,"nft_id":0}`

	cmd, err := ingestion.ParseCommand("Mint", []byte(body))
	require.NoError(t, err)

	mint, ok := cmd.(*event.Mint)
	require.True(t, ok, "expected *event.Mint, got %T", cmd)
	assert.Equal(t, "550e8400-e29b-41d4-a716-446655440000", mint.IdempotencyKey())
	assert.Equal(t, common.HexToAddress("0xa1"), mint.Sender())
	assert.Equal(t, uint64(7), mint.SourceSequence())
	assert.Equal(t, int64(1700000000), mint.At().Time)
	assert.Equal(t, 0, mint.Amount.Cmp(big.NewInt(10_000_000_000_000_000)))

	want, _ := new(big.Int).SetString("45000000000000000000", 10)
	assert.Equal(t, 0, mint.Value.Cmp(want))
}

func TestParseCommand_AdminAndWallet(t *testing.T) {
	cmd, err := ingestion.ParseCommand("SetFeeRate", []byte(`{`+header+`,"fee_rate_bps":50}`))
	require.NoError(t, err)
	assert.Equal(t, uint32(50), cmd.(*event.SetFeeRate).FeeRateBPS)

	cmd, err = ingestion.ParseCommand("TransferDebt", []byte(`{`+header+`,"to":"0x00000000000000000000000000000000000000b2","amount":5}`))
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress("0xb2"), cmd.(*event.TransferDebt).To)

	cmd, err = ingestion.ParseCommand("Pause", []byte(`{`+header+`}`))
	require.NoError(t, err)
	assert.Equal(t, event.CommandTypePause, cmd.CommandType())

	// The gateway stamps the block, so a body without one parses.
	cmd, err = ingestion.ParseCommand("MintPosition", []byte(`{"id":"550e8400-e29b-41d4-a716-446655440000",`+
		`"from":"0x00000000000000000000000000000000000000a1","tick_lower":-600,"tick_upper":600,"weth_amount":5,"power_perp_amount":7}`))
	require.NoError(t, err)
	mp := cmd.(*event.MintPosition)
	assert.Equal(t, int32(-600), mp.TickLower)
	assert.Zero(t, mp.At().Time)
	assert.Equal(t, 0, mp.PowerPerpAmount.Cmp(big.NewInt(7)))
}

func TestParseCommand_Rejects(t *testing.T) {
	cases := map[string]struct {
		typ  string
		body string
	}{
		"unknown type":     {"Teleport", `{` + header + `}`},
		"bad json":         {"Deposit", `{`},
		"unknown field":    {"Deposit", `{` + header + `,"vault_id":1,"valeu":5}`},
		"missing id":       {"Pause", `{"from":"0x00000000000000000000000000000000000000a1","block":{"time":1}}`},
		"missing from":     {"Pause", `{"id":"550e8400-e29b-41d4-a716-446655440000","block":{"time":1}}`},
		"negative amount":  {"Withdraw", `{` + header + `,"vault_id":1,"amount":-1}`},
		"string amount":    {"Withdraw", `{` + header + `,"vault_id":1,"amount":"1"}`},
		"negative liquid.": {"Liquidate", `{` + header + `,"vault_id":1,"max_debt_amount":-3}`},
		"negative lp weth": {"MintPosition", `{` + header + `,"tick_lower":0,"tick_upper":60,"weth_amount":-1}`},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ingestion.ParseCommand(tc.typ, []byte(tc.body))
			assert.ErrorIs(t, err, ingestion.ErrMalformed)
		})
	}
}

func TestCommandTypeFromSubject(t *testing.T) {
	ct, ok := ingestion.CommandTypeFromSubject("vault.commands.Liquidate")
	require.True(t, ok)
	assert.Equal(t, event.CommandTypeLiquidate, ct)

	_, ok = ingestion.CommandTypeFromSubject("vault.commands.Nope")
	assert.False(t, ok)
	_, ok = ingestion.CommandTypeFromSubject("vault.prices.eth_usdc")
	assert.False(t, ok)
}

func TestParsePriceUpdate(t *testing.T) {
	u, err := ingestion.ParsePriceUpdate("vault.prices.eth_usdc", []byte(`{"ts":1700000000,"tick":-197000}`))
	require.NoError(t, err)
	assert.Equal(t, "eth_usdc", u.Pool)
	assert.Equal(t, int32(-197000), u.Tick)
	assert.Zero(t, u.Block)

	u, err = ingestion.ParsePriceUpdate("vault.prices.eth_usdc", []byte(`{"block":19000000,"ts":1700000000,"tick":1}`))
	require.NoError(t, err)
	assert.Equal(t, uint64(19_000_000), u.Block)

	_, err = ingestion.ParsePriceUpdate("vault.prices.", []byte(`{"ts":1,"tick":0}`))
	assert.ErrorIs(t, err, ingestion.ErrMalformed)
	_, err = ingestion.ParsePriceUpdate("vault.prices.x", []byte(`{"tick":0}`))
	assert.ErrorIs(t, err, ingestion.ErrMalformed)
}
