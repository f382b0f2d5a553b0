package core

import (
	"fmt"
	"math/big"

	"PowerVault/internal/event"
	"PowerVault/internal/ledger"
	fpmath "PowerVault/internal/math"
	"PowerVault/internal/risk"
	"PowerVault/internal/state"
	"PowerVault/internal/vaultlib"

	"github.com/ethereum/go-ethereum/common"
)

// VaultView is a vault valued at a given block.
type VaultView struct {
	Vault               *state.Vault
	Status              vaultlib.Status
	State               state.VaultState
	NormalizationFactor *big.Int
	EthPrice            *big.Int
}

// Vault returns a copy of the stored record.
func (e *Engine) Vault(id uint64) (*state.Vault, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	v, ok := e.vaults.Get(id)
	if !ok {
		return nil, false
	}
	return v.Clone(), true
}

// VaultsByOwner returns copies of every vault owned by addr.
func (e *Engine) VaultsByOwner(owner common.Address) []*state.Vault {
	e.mu.RLock()
	defer e.mu.RUnlock()
	stored := e.vaults.ByOwner(owner)
	out := make([]*state.Vault, len(stored))
	for i, v := range stored {
		out[i] = v.Clone()
	}
	return out
}

// VaultStatus values a vault as it would be valued by a command at block,
// including the funding that command would apply.
func (e *Engine) VaultStatus(id uint64, block event.Block) (*VaultView, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	stored, ok := e.vaults.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrVaultNotFound, id)
	}
	nf := e.expectedFactor(block)
	prices := vaultlib.Prices{
		EthPrice:            e.feed.EthPrice(e.params.TwapPeriod, block.Time),
		NormalizationFactor: nf,
		PowerPerpPoolTick:   e.feed.PowerPerpTick(e.params.TwapPeriod, block.Time),
		IndexScale:          e.params.IndexScale,
	}
	lp, err := e.lpBalances(stored, prices.PowerPerpPoolTick)
	if err != nil {
		return nil, err
	}
	st := vaultlib.Evaluate(stored.CollateralAmount, stored.ShortAmount, lp, prices, e.requirements())
	return &VaultView{
		Vault:               stored.Clone(),
		Status:              st,
		State:               stored.State(st.IsSafe),
		NormalizationFactor: nf,
		EthPrice:            prices.EthPrice,
	}, nil
}

// NormalizationFactor returns the last applied factor.
func (e *Engine) NormalizationFactor() *big.Int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.funding.Factor()
}

// ExpectedNormalizationFactor projects the factor a command at block would
// see, without mutating anything.
func (e *Engine) ExpectedNormalizationFactor(block event.Block) *big.Int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.expectedFactor(block)
}

func (e *Engine) expectedFactor(block event.Block) *big.Int {
	if e.system.ShutDown || !e.funding.ShouldApply(block.Number, block.Time) {
		return e.funding.Factor()
	}
	next, _, _ := e.nextFactor(e.funding.Factor(), e.funding.Elapsed(block.Time), block.Time)
	return next
}

// Index returns ethPrice² / IndexScale over period ending at now.
func (e *Engine) Index(period uint32, now int64) *big.Int {
	return e.indexOf(e.feed.EthPrice(period, now))
}

// DenormalizedMark returns wPowerPerpPriceInEth × ethPrice / nf.
func (e *Engine) DenormalizedMark(period uint32, now int64) *big.Int {
	e.mu.RLock()
	nf := e.funding.Factor()
	e.mu.RUnlock()

	if nf.Sign() == 0 {
		return new(big.Int)
	}
	return fpmath.MulDiv(e.feed.PowerPerpPrice(period, now), e.feed.EthPrice(period, now), nf, fpmath.RoundDown)
}

func (e *Engine) FeeRate() uint32 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.system.FeeRateBPS
}

func (e *Engine) FeeRecipient() common.Address {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.system.FeeRecipient
}

// System returns a copy of the global flags.
func (e *Engine) System() *state.SystemState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.system.Clone()
}

// Params returns a copy of the engine parameters.
func (e *Engine) Params() *state.EngineParams {
	return e.params.Clone()
}

// Balance returns a wallet balance.
func (e *Engine) Balance(holder common.Address, asset ledger.AssetID) *big.Int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.balances.WalletBalance(holder, asset)
}

// CustodyBalance returns what the engine itself holds of asset.
func (e *Engine) CustodyBalance(asset ledger.AssetID) *big.Int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.balances.GetBalance(ledger.CustodyKey(e.cfg.Address, asset))
}

// LiquidationPrice estimates the ETH price at which vault id stops being
// safe. The bool reports solver convergence.
func (e *Engine) LiquidationPrice(id uint64, block event.Block) (float64, bool, error) {
	input, err := e.LiquidationInput(id, block)
	if err != nil {
		return 0, false, err
	}
	price, converged := risk.LiquidationPrice(input)
	return price, converged, nil
}

// LiquidationInput converts a vault into solver terms.
func (e *Engine) LiquidationInput(id uint64, block event.Block) (risk.VaultInput, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	v, ok := e.vaults.Get(id)
	if !ok {
		return risk.VaultInput{}, fmt.Errorf("%w: %d", ErrVaultNotFound, id)
	}
	input := risk.NewVaultInput(v.CollateralAmount, v.ShortAmount, e.expectedFactor(block),
		e.params.CollateralRatio, e.params.IndexScale)
	if v.HasPosition() && e.positions != nil {
		pos, err := e.positions.PositionOf(v.NftCollateralID)
		if err != nil {
			return risk.VaultInput{}, fmt.Errorf("%w: %v", ErrInvalidPosition, err)
		}
		input.Position = &pos
		input.WethIsToken0 = e.cfg.Tokens.WethIsToken0()
	}
	return input, nil
}
