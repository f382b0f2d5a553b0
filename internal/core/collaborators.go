package core

import (
	"math/big"

	"PowerVault/internal/oracle"
	"PowerVault/internal/vaultlib"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// PriceFeed is everything the engine needs to know about markets. Prices
// come from the safe oracle path and are zero, never an error, when no
// history is available.
type PriceFeed interface {
	// EthPrice is quote per ETH as a wad, averaged over period seconds
	// ending at now.
	EthPrice(period uint32, now int64) *big.Int
	// PowerPerpPrice is ETH per wPowerPerp as a wad.
	PowerPerpPrice(period uint32, now int64) *big.Int
	// PowerPerpTick is the wPowerPerp/WETH pool tick used to value LP
	// collateral.
	PowerPerpTick(period uint32, now int64) int32
	// PowerPerpSpot is the pool's current sqrt price, used to redeem LP
	// positions.
	PowerPerpSpot() *uint256.Int
}

// PositionManager is the LP NFT collaborator.
type PositionManager interface {
	Mint(owner, tokenA, tokenB common.Address, tickLower, tickUpper int32, liquidity *uint256.Int) (uint64, error)
	PositionOf(id uint64) (vaultlib.Position, error)
	OwnerOf(id uint64) (common.Address, error)
	TransferFrom(from, to common.Address, id uint64) error
	DecreaseLiquidity(id uint64, liquidity, sqrtPriceX96 *uint256.Int) (amount0, amount1 *big.Int, err error)
	Collect(id uint64) (amount0, amount1 *big.Int, err error)
}

// PositionRecorder is implemented by in-process position managers whose
// records travel with engine snapshots.
type PositionRecorder interface {
	Records() ([]vaultlib.OwnedPosition, uint64)
	Restore(records []vaultlib.OwnedPosition, nextID uint64)
}

// Tokens identifies the three assets the engine prices.
type Tokens struct {
	WETH      oracle.Token
	Quote     oracle.Token
	PowerPerp oracle.Token
}

// WethIsToken0 reports the WETH side of the wPowerPerp/WETH pool.
func (t Tokens) WethIsToken0() bool {
	t0, _ := oracle.SortTokens(t.WETH.Address, t.PowerPerp.Address)
	return t0 == t.WETH.Address
}

// PoolPair returns the sorted token pair LP collateral must match.
func (t Tokens) PoolPair() (common.Address, common.Address) {
	return oracle.SortTokens(t.WETH.Address, t.PowerPerp.Address)
}

// OracleFeed reads two pools through the TWAP oracle.
type OracleFeed struct {
	oracle        *oracle.Oracle
	ethQuotePool  oracle.Pool
	powerPerpPool oracle.Pool
	tokens        Tokens
}

func NewOracleFeed(o *oracle.Oracle, ethQuotePool, powerPerpPool oracle.Pool, tokens Tokens) *OracleFeed {
	return &OracleFeed{
		oracle:        o,
		ethQuotePool:  ethQuotePool,
		powerPerpPool: powerPerpPool,
		tokens:        tokens,
	}
}

func (f *OracleFeed) EthPrice(period uint32, now int64) *big.Int {
	return f.oracle.TwapSafe(f.ethQuotePool, f.tokens.WETH, f.tokens.Quote, period, now)
}

func (f *OracleFeed) PowerPerpPrice(period uint32, now int64) *big.Int {
	return f.oracle.TwapSafe(f.powerPerpPool, f.tokens.PowerPerp, f.tokens.WETH, period, now)
}

func (f *OracleFeed) PowerPerpTick(period uint32, now int64) int32 {
	tick, ok := f.oracle.TwapTickSafe(f.powerPerpPool, period, now)
	if !ok {
		_, tick = f.powerPerpPool.Slot0()
	}
	return tick
}

func (f *OracleFeed) PowerPerpSpot() *uint256.Int {
	sqrtPrice, _ := f.powerPerpPool.Slot0()
	return sqrtPrice
}

// EthPriceStrict is the strict TWAP, surfacing ErrStaleObservation.
func (f *OracleFeed) EthPriceStrict(period uint32, now int64) (*big.Int, error) {
	return f.oracle.Twap(f.ethQuotePool, f.tokens.WETH, f.tokens.Quote, period, now)
}
