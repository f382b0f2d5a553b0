package core_test

import (
	"math/big"
	"testing"

	"PowerVault/internal/core"
	"PowerVault/internal/event"
	fpmath "PowerVault/internal/math"
	"PowerVault/internal/observability"
	"PowerVault/internal/oracle"
	"PowerVault/internal/positions"
	"PowerVault/internal/state"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

const genesisTime = int64(1_700_000_000)

var (
	owner      = common.HexToAddress("0x00000000000000000000000000000000000000a0")
	alice      = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob        = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	engineAddr = common.HexToAddress("0x00000000000000000000000000000000000000ee")

	// wPowerPerp sorts before WETH, so WETH is token1 of the LP pool.
	powerPerpToken = oracle.Token{Address: common.HexToAddress("0x0000000000000000000000000000000000000001"), Decimals: 18}
	wethToken      = oracle.Token{Address: common.HexToAddress("0x0000000000000000000000000000000000000002"), Decimals: 18}
	quoteToken     = oracle.Token{Address: common.HexToAddress("0x0000000000000000000000000000000000000003"), Decimals: 18}
)

func eth(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), fpmath.Wad)
}

// milli returns n/1000 in wad units.
func milli(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1_000_000_000_000_000))
}

// fixedFeed is a price feed the test moves by hand.
type fixedFeed struct {
	eth  *big.Int
	pp   *big.Int
	tick int32
}

func (f *fixedFeed) EthPrice(uint32, int64) *big.Int       { return new(big.Int).Set(f.eth) }
func (f *fixedFeed) PowerPerpPrice(uint32, int64) *big.Int { return new(big.Int).Set(f.pp) }
func (f *fixedFeed) PowerPerpTick(uint32, int64) int32     { return f.tick }
func (f *fixedFeed) PowerPerpSpot() *uint256.Int           { return fpmath.MustSqrtRatioAtTick(f.tick) }

type harness struct {
	t     *testing.T
	e     *core.Engine
	feed  *fixedFeed
	pm    *positions.Manager
	block uint64
	now   int64
}

// newTestEngine runs with IndexScale 1 so ETH amounts read directly, e.g.
// 0.01 debt at 3000 is worth 30 ETH.
func newTestEngine(t *testing.T) *harness {
	t.Helper()
	params := state.DefaultParams()
	params.IndexScale = big.NewInt(1)

	// mark == index at 3000, so funding is neutral unless a test moves it.
	feed := &fixedFeed{eth: eth(3000), pp: eth(3000)}
	pm := positions.NewManager()
	e, err := core.NewEngine(core.Config{
		Address: engineAddr,
		Owner:   owner,
		Tokens:  core.Tokens{WETH: wethToken, Quote: quoteToken, PowerPerp: powerPerpToken},
		Params:  params,
		Genesis: event.Block{Number: 0, Time: genesisTime},
	}, core.Dependencies{
		Feed:      feed,
		Positions: pm,
		Metrics:   observability.NewMetrics(prometheus.NewRegistry()),
	})
	require.NoError(t, err)
	return &harness{t: t, e: e, feed: feed, pm: pm, now: genesisTime}
}

// hdr opens a new block at the harness clock. The clock only moves when a
// test advances it, so funding stays untouched by default.
func (h *harness) hdr(from common.Address) event.Header {
	h.block++
	return event.Header{
		ID:    uuid.New(),
		From:  from,
		Block: event.Block{Number: h.block, Time: h.now},
	}
}

func (h *harness) exec(cmd event.Command) (*core.Receipt, error) {
	return h.e.Execute(cmd)
}

func (h *harness) must(cmd event.Command) *core.Receipt {
	h.t.Helper()
	r, err := h.e.Execute(cmd)
	require.NoError(h.t, err)
	return r
}

func (h *harness) fund(addr common.Address, amount *big.Int) {
	h.t.Helper()
	h.must(&event.FundWallet{Header: h.hdr(addr), Amount: amount})
}

// openVault funds the owner and mints short debt units against collateral.
func (h *harness) openVault(who common.Address, collateral, short *big.Int) uint64 {
	h.t.Helper()
	h.fund(who, collateral)
	r := h.must(&event.MintShort{Header: h.hdr(who), Amount: short, Value: collateral})
	require.NotZero(h.t, r.VaultID)
	return r.VaultID
}

func (h *harness) vault(id uint64) *state.Vault {
	h.t.Helper()
	v, ok := h.e.Vault(id)
	require.True(h.t, ok)
	return v
}

func (h *harness) ratio(id uint64) *big.Int {
	h.t.Helper()
	view, err := h.e.VaultStatus(id, event.Block{Number: h.block, Time: h.now})
	require.NoError(h.t, err)
	return view.Status.CollateralRatio
}

// shutDown pauses and shuts the system down at the given ETH price.
func (h *harness) shutDown(price *big.Int) {
	h.t.Helper()
	h.feed.eth = price
	h.must(&event.Pause{Header: h.hdr(owner)})
	h.must(&event.ShutDown{Header: h.hdr(owner)})
}

// wethPosition mints an LP position below the current tick: it holds only
// WETH (token1), about amount of it.
func (h *harness) wethPosition(who common.Address, amount *big.Int) uint64 {
	h.t.Helper()
	id, _, err := h.pm.MintForAmounts(who, powerPerpToken.Address, wethToken.Address, -1200, -600,
		fpmath.MustSqrtRatioAtTick(0), new(big.Int), amount)
	require.NoError(h.t, err)
	return id
}

// powerPerpPosition mints an LP position above the current tick: it holds
// only wPowerPerp (token0).
func (h *harness) powerPerpPosition(who common.Address, amount *big.Int) uint64 {
	h.t.Helper()
	id, _, err := h.pm.MintForAmounts(who, powerPerpToken.Address, wethToken.Address, 600, 1200,
		fpmath.MustSqrtRatioAtTick(0), amount, new(big.Int))
	require.NoError(h.t, err)
	return id
}
