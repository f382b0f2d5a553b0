package core

import (
	"fmt"
	"math/big"

	"PowerVault/internal/event"
	"PowerVault/internal/ledger"
	fpmath "PowerVault/internal/math"
	"PowerVault/internal/state"
	"PowerVault/internal/vaultlib"
)

// handleMint covers Mint (amount in index units, converted through the
// normalization factor) and MintShort (amount already in debt units).
func (e *Engine) handleMint(tx *txn, vaultID uint64, amount *big.Int, normalized bool, value *big.Int, nftID uint64) error {
	if err := e.requireLive(tx); err != nil {
		return err
	}
	amount, err := nonNegative("amount", amount)
	if err != nil {
		return err
	}
	value, err = nonNegative("value", value)
	if err != nil {
		return err
	}

	e.applyFunding(tx)

	var v *state.Vault
	if vaultID == 0 {
		v = e.openVault(tx)
	} else if v, _, err = e.modifiableVault(tx, vaultID); err != nil {
		return err
	}

	if nftID != 0 {
		if err := e.attachPosition(tx, v, nftID); err != nil {
			return err
		}
	}

	if value.Sign() > 0 {
		tx.batch.CollateralIn(tx.caller, value)
		v.CollateralAmount.Add(v.CollateralAmount, value)
	}

	shortDelta := amount
	if !normalized {
		shortDelta = fpmath.MulDiv(amount, fpmath.Wad, tx.nf, fpmath.RoundDown)
	}
	if shortDelta.Sign() > 0 {
		v.ShortAmount.Add(v.ShortAmount, shortDelta)
		tx.batch.Mint(tx.caller, shortDelta)
	}

	// Fee is a share of the index value of the mint, netted against the
	// attached value first and existing collateral second.
	fee := new(big.Int)
	if rate := e.sys(tx).FeeRateBPS; rate > 0 && shortDelta.Sign() > 0 {
		prices := e.pricesFor(tx)
		minted := vaultlib.DebtValueInEth(shortDelta, tx.nf, prices.EthPrice, prices.IndexScale)
		fee = fpmath.ApplyBPS(minted, rate, fpmath.RoundDown)
	}
	if fee.Sign() > 0 {
		if v.CollateralAmount.Cmp(fee) < 0 {
			return fmt.Errorf("%w: fee %s exceeds collateral %s", ErrInsufficientBalance, fee, v.CollateralAmount)
		}
		v.CollateralAmount.Sub(v.CollateralAmount, fee)
		tx.batch.Pay(ledger.JournalTypeFee, e.sys(tx).FeeRecipient, ledger.AssetETH, fee)
	}

	if err := e.checkVault(tx, v); err != nil {
		return err
	}

	tx.receipt.Minted = shortDelta
	tx.receipt.Fee = fee
	tx.receipt.NormalizationFactor = tx.nf
	return nil
}

// handleBurn covers Burn (debt units) and BurnPowerPerp (index units; the
// debt reduction rounds up so the vault never keeps unpaid dust).
func (e *Engine) handleBurn(tx *txn, vaultID uint64, amount *big.Int, normalized bool, withdraw *big.Int) error {
	if err := e.requireLive(tx); err != nil {
		return err
	}
	amount, err := nonNegative("amount", amount)
	if err != nil {
		return err
	}
	withdraw, err = nonNegative("withdraw_amount", withdraw)
	if err != nil {
		return err
	}

	e.applyFunding(tx)

	v, _, err := e.modifiableVault(tx, vaultID)
	if err != nil {
		return err
	}

	shortDelta := amount
	if !normalized {
		shortDelta = fpmath.MulDiv(amount, fpmath.Wad, tx.nf, fpmath.RoundUp)
	}
	if shortDelta.Cmp(v.ShortAmount) > 0 {
		return fmt.Errorf("%w: burn %s exceeds debt %s", ErrInsufficientBalance, shortDelta, v.ShortAmount)
	}
	if withdraw.Cmp(v.CollateralAmount) > 0 {
		return fmt.Errorf("%w: withdraw %s exceeds collateral %s", ErrInsufficientBalance, withdraw, v.CollateralAmount)
	}

	v.ShortAmount.Sub(v.ShortAmount, shortDelta)
	tx.batch.Burn(tx.caller, shortDelta)
	v.CollateralAmount.Sub(v.CollateralAmount, withdraw)
	tx.batch.Pay(ledger.JournalTypeCollateralOut, tx.caller, ledger.AssetETH, withdraw)

	if err := e.checkVault(tx, v); err != nil {
		return err
	}

	tx.receipt.Burned = shortDelta
	tx.receipt.Payout = withdraw
	tx.receipt.NormalizationFactor = tx.nf
	return nil
}

func (e *Engine) handleDeposit(tx *txn, c *event.Deposit) error {
	if err := e.requireLive(tx); err != nil {
		return err
	}
	if err := requirePositive("value", c.Value); err != nil {
		return err
	}
	e.applyFunding(tx)

	v, _, err := e.modifiableVault(tx, c.VaultID)
	if err != nil {
		return err
	}
	tx.batch.CollateralIn(tx.caller, c.Value)
	v.CollateralAmount.Add(v.CollateralAmount, c.Value)
	return nil
}

func (e *Engine) handleWithdraw(tx *txn, c *event.Withdraw) error {
	if err := e.requireLive(tx); err != nil {
		return err
	}
	if err := requirePositive("amount", c.Amount); err != nil {
		return err
	}
	e.applyFunding(tx)

	v, _, err := e.modifiableVault(tx, c.VaultID)
	if err != nil {
		return err
	}
	if c.Amount.Cmp(v.CollateralAmount) > 0 {
		return fmt.Errorf("%w: withdraw %s exceeds collateral %s", ErrInsufficientBalance, c.Amount, v.CollateralAmount)
	}
	v.CollateralAmount.Sub(v.CollateralAmount, c.Amount)
	tx.batch.Pay(ledger.JournalTypeCollateralOut, tx.caller, ledger.AssetETH, c.Amount)

	if err := e.checkVault(tx, v); err != nil {
		return err
	}
	tx.receipt.Payout = new(big.Int).Set(c.Amount)
	return nil
}

func (e *Engine) handleDepositPosition(tx *txn, c *event.DepositPosition) error {
	if err := e.requireLive(tx); err != nil {
		return err
	}
	e.applyFunding(tx)

	v, _, err := e.modifiableVault(tx, c.VaultID)
	if err != nil {
		return err
	}
	return e.attachPosition(tx, v, c.NftID)
}

// handleMintPosition takes WETH and wPowerPerp from the caller's wallet
// into a new LP position priced at the pool spot. The position manager
// mints the NFT to the caller at commit.
func (e *Engine) handleMintPosition(tx *txn, c *event.MintPosition) error {
	if err := e.requireLive(tx); err != nil {
		return err
	}
	if e.positions == nil {
		return fmt.Errorf("%w: no position manager", ErrInvalidPosition)
	}
	weth, err := nonNegative("weth_amount", c.WethAmount)
	if err != nil {
		return err
	}
	power, err := nonNegative("power_perp_amount", c.PowerPerpAmount)
	if err != nil {
		return err
	}

	amount0, amount1 := power, weth
	if e.cfg.Tokens.WethIsToken0() {
		amount0, amount1 = weth, power
	}
	spot := e.feed.PowerPerpSpot()
	liquidity, err := vaultlib.Liquidity(spot, c.TickLower, c.TickUpper, amount0, amount1)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	if liquidity.IsZero() {
		return fmt.Errorf("%w: deposit mints no liquidity in [%d, %d)", ErrInvalidArgument, c.TickLower, c.TickUpper)
	}
	cost0, cost1, err := vaultlib.DepositCost(spot, c.TickLower, c.TickUpper, liquidity)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	costWeth, costPower := cost1, cost0
	if e.cfg.Tokens.WethIsToken0() {
		costWeth, costPower = cost0, cost1
	}

	token0, token1 := e.cfg.Tokens.PoolPair()
	if err := tx.setPosition(&positionEffect{
		kind:      effectMint,
		to:        tx.caller,
		token0:    token0,
		token1:    token1,
		tickLower: c.TickLower,
		tickUpper: c.TickUpper,
		liquidity: liquidity,
	}); err != nil {
		return err
	}
	tx.batch.PositionDeposit(tx.caller, ledger.AssetETH, costWeth)
	tx.batch.PositionDeposit(tx.caller, ledger.AssetPowerPerp, costPower)
	return nil
}

// attachPosition validates an LP NFT and stages its transfer into custody.
func (e *Engine) attachPosition(tx *txn, v *state.Vault, nftID uint64) error {
	if nftID == 0 {
		return fmt.Errorf("%w: null position id", ErrInvalidPosition)
	}
	if v.HasPosition() {
		return fmt.Errorf("%w: vault %d holds position %d", ErrAlreadyHasPosition, v.ID, v.NftCollateralID)
	}
	if e.positions == nil {
		return fmt.Errorf("%w: no position manager", ErrInvalidPosition)
	}

	owner, err := e.positions.OwnerOf(nftID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPosition, err)
	}
	if owner != tx.caller {
		return fmt.Errorf("%w: position %d is owned by %s", ErrNotAuthorized, nftID, owner.Hex())
	}

	pos, err := e.positions.PositionOf(nftID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPosition, err)
	}
	token0, token1 := e.cfg.Tokens.PoolPair()
	if pos.Token0 != token0 || pos.Token1 != token1 {
		return fmt.Errorf("%w: position %d is not a wPowerPerp/WETH position", ErrInvalidPosition, nftID)
	}
	if pos.Liquidity == nil || pos.Liquidity.IsZero() {
		return fmt.Errorf("%w: position %d has no liquidity", ErrInvalidPosition, nftID)
	}

	if err := tx.setPosition(&positionEffect{
		kind:  effectTransferIn,
		nftID: nftID,
		from:  tx.caller,
		to:    e.cfg.Address,
	}); err != nil {
		return err
	}
	v.NftCollateralID = nftID
	return nil
}

func (e *Engine) handleWithdrawPosition(tx *txn, c *event.WithdrawPosition) error {
	if err := e.requireLive(tx); err != nil {
		return err
	}
	e.applyFunding(tx)

	v, _, err := e.modifiableVault(tx, c.VaultID)
	if err != nil {
		return err
	}
	if !v.HasPosition() {
		return fmt.Errorf("%w: vault %d has no position", ErrInvalidPosition, v.ID)
	}

	// The NFT goes to the caller, owner or operator alike.
	nftID := v.NftCollateralID
	if err := tx.setPosition(&positionEffect{
		kind:  effectTransferOut,
		nftID: nftID,
		from:  e.cfg.Address,
		to:    tx.caller,
	}); err != nil {
		return err
	}
	v.NftCollateralID = 0

	return e.checkVault(tx, v)
}

func (e *Engine) handleUpdateOperator(tx *txn, c *event.UpdateOperator) error {
	v, err := e.loadVault(tx, c.VaultID)
	if err != nil {
		return err
	}
	if v.AccessFor(tx.caller) != state.AccessOwner {
		return fmt.Errorf("%w: only the owner sets the operator", ErrNotAuthorized)
	}
	v.Operator = c.Operator
	return nil
}
