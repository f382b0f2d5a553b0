package core

import (
	"fmt"
	"math/big"

	"PowerVault/internal/event"
	"PowerVault/internal/ledger"
	fpmath "PowerVault/internal/math"
	"PowerVault/internal/state"
	"PowerVault/internal/vaultlib"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// txn is the staging area of one command. Nothing in it is visible to the
// engine until commit.
type txn struct {
	cmd      event.Command
	caller   common.Address
	block    event.Block
	prevHash [32]byte

	batch    *ledger.BatchBuilder
	vaults   map[uint64]*state.Vault
	newVault uint64
	system   *state.SystemState
	funding  *state.FundingSnapshot
	freeze   bool
	position *positionEffect

	nf     *big.Int
	funded bool
	prices *vaultlib.Prices

	receipt *Receipt
}

func (e *Engine) begin(cmd event.Command) *txn {
	block := cmd.At()
	return &txn{
		cmd:      cmd,
		caller:   cmd.Sender(),
		block:    block,
		prevHash: e.chain.Tip(),
		batch:    ledger.NewBatchBuilder(e.cfg.Address, cmd.IdempotencyKey(), e.sequence, block.Time),
		vaults:   make(map[uint64]*state.Vault),
		nf:       e.funding.Factor(),
		receipt:  &Receipt{},
	}
}

func (tx *txn) targetVault() uint64 {
	if tx.newVault != 0 {
		return tx.newVault
	}
	return event.VaultOf(tx.cmd)
}

// sys returns the staged system state, copying on first use.
func (e *Engine) sys(tx *txn) *state.SystemState {
	if tx.system == nil {
		tx.system = e.system.Clone()
	}
	return tx.system
}

// requireLive guards every normal vault operation.
func (e *Engine) requireLive(tx *txn) error {
	s := e.sys(tx)
	if s.ShutDown {
		return ErrAlreadyShutDown
	}
	if s.Paused {
		return ErrSystemPaused
	}
	return nil
}

func (e *Engine) requireOwner(tx *txn) error {
	if !e.sys(tx).IsOwner(tx.caller) {
		return fmt.Errorf("%w: %s is not the system owner", ErrNotAuthorized, tx.caller.Hex())
	}
	return nil
}

// loadVault returns the working copy of a vault.
func (e *Engine) loadVault(tx *txn, id uint64) (*state.Vault, error) {
	if v, ok := tx.vaults[id]; ok {
		return v, nil
	}
	stored, ok := e.vaults.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrVaultNotFound, id)
	}
	v := stored.Clone()
	tx.vaults[id] = v
	return v, nil
}

// modifiableVault loads a vault the caller may act on as owner or operator.
func (e *Engine) modifiableVault(tx *txn, id uint64) (*state.Vault, state.Access, error) {
	v, err := e.loadVault(tx, id)
	if err != nil {
		return nil, state.AccessNeither, err
	}
	access := v.AccessFor(tx.caller)
	if !access.CanModify() {
		return nil, access, fmt.Errorf("%w: %s on vault %d", ErrNotAuthorized, tx.caller.Hex(), id)
	}
	return v, access, nil
}

// openVault allocates the next id for the caller.
func (e *Engine) openVault(tx *txn) *state.Vault {
	id := e.vaults.NextID()
	v := state.NewVault(id, tx.caller)
	tx.vaults[id] = v
	tx.newVault = id
	return v
}

// applyFunding stages the normalization factor for this block. Runs at most
// once per command; a step already funded is a no-op.
func (e *Engine) applyFunding(tx *txn) {
	if tx.funded {
		return
	}
	tx.funded = true
	if e.sys(tx).ShutDown || !e.funding.ShouldApply(tx.block.Number, tx.block.Time) {
		return
	}

	elapsed := e.funding.Elapsed(tx.block.Time)
	next, mark, index := e.nextFactor(e.funding.Factor(), elapsed, tx.block.Time)
	tx.nf = next
	tx.funding = &state.FundingSnapshot{
		Step:      tx.block.Number,
		Timestamp: tx.block.Time,
		Factor:    next,
		Mark:      mark,
		Index:     index,
	}
	tx.prices = nil
}

// nextFactor is the pure funding step shared by applyFunding and the
// projected-factor query.
func (e *Engine) nextFactor(nf *big.Int, elapsed, now int64) (next, mark, index *big.Int) {
	period := e.params.TwapPeriod
	ethPrice := e.feed.EthPrice(period, now)
	powerPerpPrice := e.feed.PowerPerpPrice(period, now)

	index = e.indexOf(ethPrice)
	mark = new(big.Int)
	if nf.Sign() > 0 {
		mark = fpmath.MulDiv(powerPerpPrice, ethPrice, nf, fpmath.RoundDown)
	}
	next = fpmath.NextNormalizationFactor(nf, mark, index, elapsed, e.params.FundingPeriod,
		e.params.LowerMarkRatio, e.params.UpperMarkRatio)
	return next, mark, index
}

// indexOf returns ethPrice² / IndexScale as a wad.
func (e *Engine) indexOf(ethPrice *big.Int) *big.Int {
	den := new(big.Int).Mul(fpmath.Wad, e.params.IndexScale)
	return fpmath.MulDiv(ethPrice, ethPrice, den, fpmath.RoundDown)
}

// pricesFor returns the valuation snapshot for this command.
func (e *Engine) pricesFor(tx *txn) vaultlib.Prices {
	if tx.prices == nil {
		tx.prices = &vaultlib.Prices{
			EthPrice:            e.feed.EthPrice(e.params.TwapPeriod, tx.block.Time),
			NormalizationFactor: tx.nf,
			PowerPerpPoolTick:   e.feed.PowerPerpTick(e.params.TwapPeriod, tx.block.Time),
			IndexScale:          e.params.IndexScale,
		}
	}
	return *tx.prices
}

func (e *Engine) requirements() vaultlib.Requirements {
	return vaultlib.Requirements{
		CollateralRatio: e.params.CollateralRatio,
		MinCollateral:   e.params.MinCollateral,
	}
}

// evaluate values a working vault including any attached LP position.
func (e *Engine) evaluate(tx *txn, v *state.Vault) (vaultlib.Status, error) {
	prices := e.pricesFor(tx)
	lp, err := e.lpBalances(v, prices.PowerPerpPoolTick)
	if err != nil {
		return vaultlib.Status{}, err
	}
	return vaultlib.Evaluate(v.CollateralAmount, v.ShortAmount, lp, prices, e.requirements()), nil
}

func (e *Engine) lpBalances(v *state.Vault, tick int32) (*vaultlib.LPBalances, error) {
	if !v.HasPosition() || e.positions == nil {
		return nil, nil
	}
	pos, err := e.positions.PositionOf(v.NftCollateralID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPosition, err)
	}
	return vaultlib.Decompose(pos, tick, e.cfg.Tokens.WethIsToken0())
}

// checkVault enforces the collateral ratio and the dust floor.
func (e *Engine) checkVault(tx *txn, v *state.Vault) error {
	st, err := e.evaluate(tx, v)
	if err != nil {
		return err
	}
	if !st.IsSafe {
		return fmt.Errorf("%w: effective %s, debt value %s", ErrInsufficientCollateral, st.EffectiveCollateral, st.DebtValue)
	}
	if st.IsDust {
		return fmt.Errorf("%w: effective collateral %s below %s", ErrDustVault, st.EffectiveCollateral, e.params.MinCollateral)
	}
	return nil
}

// requirePositive rejects nil, zero and negative amounts.
func requirePositive(name string, v *big.Int) error {
	if v == nil || v.Sign() <= 0 {
		return fmt.Errorf("%w: %s must be positive", ErrInvalidArgument, name)
	}
	return nil
}

// nonNegative treats nil as zero and rejects negatives.
func nonNegative(name string, v *big.Int) (*big.Int, error) {
	if v == nil {
		return new(big.Int), nil
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("%w: %s is negative", ErrInvalidArgument, name)
	}
	return new(big.Int).Set(v), nil
}

// --- Position effects ---

type effectKind int

const (
	effectTransferIn effectKind = iota
	effectTransferOut
	effectRedeem
	effectMint
)

// positionEffect is the single position-manager call a command may make,
// deferred until the ledger dry run passed.
type positionEffect struct {
	kind      effectKind
	nftID     uint64
	from, to  common.Address
	liquidity *uint256.Int
	sqrtPrice *uint256.Int
	wantWeth  *big.Int
	wantPower *big.Int

	// effectMint
	token0, token1       common.Address
	tickLower, tickUpper int32
}

func (tx *txn) setPosition(pe *positionEffect) error {
	if tx.position != nil {
		return fmt.Errorf("%w: one position effect per command", ErrInvalidState)
	}
	tx.position = pe
	return nil
}

// apply runs the effect. A mint returns the new token id.
func (pe *positionEffect) apply(pm PositionManager, wethIsToken0 bool) (uint64, error) {
	switch pe.kind {
	case effectTransferIn, effectTransferOut:
		return pe.nftID, pm.TransferFrom(pe.from, pe.to, pe.nftID)
	case effectMint:
		return pm.Mint(pe.to, pe.token0, pe.token1, pe.tickLower, pe.tickUpper, pe.liquidity)
	case effectRedeem:
		if _, _, err := pm.DecreaseLiquidity(pe.nftID, pe.liquidity, pe.sqrtPrice); err != nil {
			return 0, err
		}
		amount0, amount1, err := pm.Collect(pe.nftID)
		if err != nil {
			panic(fmt.Sprintf("FATAL: collect after decrease failed for position %d: %v", pe.nftID, err))
		}
		weth, power := amount1, amount0
		if wethIsToken0 {
			weth, power = amount0, amount1
		}
		if weth.Cmp(pe.wantWeth) != 0 || power.Cmp(pe.wantPower) != 0 {
			panic(fmt.Sprintf("FATAL: position %d redeemed (%s, %s), staged (%s, %s)",
				pe.nftID, weth, power, pe.wantWeth, pe.wantPower))
		}
		return pe.nftID, nil
	default:
		return 0, fmt.Errorf("unknown position effect %d", pe.kind)
	}
}
