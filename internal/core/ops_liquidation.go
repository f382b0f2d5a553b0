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

// Liquidation outcomes reported on the receipt and as a metric label.
const (
	OutcomeReducedDebt = "reduced_debt"
	OutcomePartial     = "partial"
	OutcomeFull        = "full"
	OutcomeInsolvent   = "insolvent"
)

// redeemPosition stages the full redemption of a vault's LP position at the
// pool spot price. WETH and wPowerPerp land in custody; the caller decides
// where they go next.
func (e *Engine) redeemPosition(tx *txn, v *state.Vault) (weth, powerPerp *big.Int, err error) {
	if e.positions == nil {
		return nil, nil, fmt.Errorf("%w: no position manager", ErrInvalidPosition)
	}
	pos, err := e.positions.PositionOf(v.NftCollateralID)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidPosition, err)
	}
	spot := e.feed.PowerPerpSpot()
	weth, powerPerp, err = vaultlib.PositionBalancesAtSqrtPrice(pos, spot, e.cfg.Tokens.WethIsToken0())
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidPosition, err)
	}

	if err := tx.setPosition(&positionEffect{
		kind:      effectRedeem,
		nftID:     v.NftCollateralID,
		liquidity: pos.Liquidity,
		sqrtPrice: spot,
		wantWeth:  weth,
		wantPower: powerPerp,
	}); err != nil {
		return nil, nil, err
	}

	tx.batch.PositionRedeem(ledger.AssetETH, weth)
	tx.batch.PositionRedeem(ledger.AssetPowerPerp, powerPerp)
	v.NftCollateralID = 0
	return weth, powerPerp, nil
}

// settleRedeemedPosition burns redeemed wPowerPerp against the vault's debt,
// forwards any surplus to the owner and credits the WETH as collateral.
func (e *Engine) settleRedeemedPosition(tx *txn, v *state.Vault, weth, powerPerp *big.Int) (burned *big.Int) {
	burned = fpmath.Min(powerPerp, v.ShortAmount)
	v.ShortAmount.Sub(v.ShortAmount, burned)
	tx.batch.BurnFromCustody(burned)

	surplus := new(big.Int).Sub(powerPerp, burned)
	tx.batch.Pay(ledger.JournalTypeTransfer, v.Owner, ledger.AssetPowerPerp, surplus)

	v.CollateralAmount.Add(v.CollateralAmount, weth)
	return burned
}

func (e *Engine) handleReduceDebt(tx *txn, c *event.ReduceDebt) error {
	if err := e.requireLive(tx); err != nil {
		return err
	}
	e.applyFunding(tx)

	v, _, err := e.modifiableVault(tx, c.VaultID)
	if err != nil {
		return err
	}
	tx.receipt.NormalizationFactor = tx.nf
	if !v.HasPosition() {
		return nil
	}

	weth, powerPerp, err := e.redeemPosition(tx, v)
	if err != nil {
		return err
	}
	burned := e.settleRedeemedPosition(tx, v, weth, powerPerp)

	tx.receipt.Burned = burned
	tx.receipt.DebtRepaid = burned
	return nil
}

// handleLiquidate is permissionless. The vault is re-evaluated inside the
// same staged command, so "found underwater" and "liquidated" cannot race.
func (e *Engine) handleLiquidate(tx *txn, c *event.Liquidate) error {
	if err := e.requireLive(tx); err != nil {
		return err
	}
	requested, err := nonNegative("max_debt_amount", c.MaxDebtAmount)
	if err != nil {
		return err
	}
	e.applyFunding(tx)

	v, err := e.loadVault(tx, c.VaultID)
	if err != nil {
		return err
	}
	st, err := e.evaluate(tx, v)
	if err != nil {
		return err
	}
	if st.IsSafe {
		return fmt.Errorf("%w: vault %d ratio %s", ErrVaultSafe, v.ID, st.CollateralRatio)
	}

	prices := e.pricesFor(tx)
	tx.receipt.NormalizationFactor = tx.nf

	// Step 1: an attached position is redeemed first. If that alone makes
	// the vault safe the liquidator only earns the bounty, even when the
	// remaining collateral sits under the dust floor.
	if v.HasPosition() {
		weth, powerPerp, err := e.redeemPosition(tx, v)
		if err != nil {
			return err
		}
		burned := e.settleRedeemedPosition(tx, v, weth, powerPerp)

		redeemedValue := new(big.Int).Add(weth,
			vaultlib.CollateralValueOfPowerPerp(burned, tx.nf, prices.EthPrice, prices.IndexScale))
		bounty := fpmath.Min(fpmath.WadMul(redeemedValue, e.params.ReduceDebtBounty, fpmath.RoundDown), v.CollateralAmount)

		v.CollateralAmount.Sub(v.CollateralAmount, bounty)
		after, err := e.evaluate(tx, v)
		if err != nil {
			return err
		}
		if after.IsSafe {
			tx.batch.Pay(ledger.JournalTypeBounty, tx.caller, ledger.AssetETH, bounty)
			tx.receipt.Bounty = bounty
			tx.receipt.DebtRepaid = burned
			tx.receipt.Outcome = OutcomeReducedDebt
			if e.metrics != nil {
				e.metrics.Liquidations.WithLabelValues(OutcomeReducedDebt).Inc()
			}
			e.log.Info().Uint64("vault_id", v.ID).Str("bounty", bounty.String()).Msg("liquidation settled by position redemption")
			return nil
		}
		v.CollateralAmount.Add(v.CollateralAmount, bounty)
		tx.receipt.Burned = burned
	}

	if v.ShortAmount.Sign() == 0 {
		return fmt.Errorf("%w: vault %d has no debt left to liquidate", ErrInvalidState, v.ID)
	}
	if requested.Sign() == 0 {
		return fmt.Errorf("%w: max_debt_amount must be positive", ErrInvalidArgument)
	}

	// Collateral owed for repaying x debt units: value of x plus the bonus.
	payFor := func(x *big.Int) *big.Int {
		debt := vaultlib.DebtValueInEth(x, tx.nf, prices.EthPrice, prices.IndexScale)
		return fpmath.WadMul(debt, e.params.LiquidationBonus, fpmath.RoundDown)
	}

	short := new(big.Int).Set(v.ShortAmount)
	var repay, payout *big.Int
	outcome := OutcomePartial

	switch {
	case payFor(short).Cmp(v.CollateralAmount) >= 0:
		// Insolvent: partial repayment would worsen the ratio, so only a
		// full close is accepted and it takes everything.
		if requested.Cmp(short) < 0 {
			return fmt.Errorf("%w: insolvent vault %d must be repaid in full (%s)", ErrInvalidState, v.ID, short)
		}
		repay = short
		payout = new(big.Int).Set(v.CollateralAmount)
		outcome = OutcomeInsolvent

	default:
		half := new(big.Int).Rsh(short, 1)
		if half.Sign() == 0 {
			half = short
		}
		repay = fpmath.Min(requested, half)
		payout = payFor(repay)

		// Leaving a dust remainder is worse than closing; let the
		// liquidator take the whole debt instead.
		if requested.Cmp(half) > 0 && new(big.Int).Sub(v.CollateralAmount, payFor(half)).Cmp(e.params.MinCollateral) < 0 {
			repay = fpmath.Min(requested, short)
			payout = payFor(repay)
		}
		if repay.Cmp(short) == 0 {
			outcome = OutcomeFull
		}
		remainingShort := new(big.Int).Sub(short, repay)
		remainingCollateral := new(big.Int).Sub(v.CollateralAmount, payout)
		if remainingShort.Sign() > 0 && remainingCollateral.Cmp(e.params.MinCollateral) < 0 {
			return fmt.Errorf("%w: repaying %s leaves %s collateral against remaining debt; repay the full %s",
				ErrDustVault, repay, remainingCollateral, short)
		}
	}

	v.ShortAmount.Sub(v.ShortAmount, repay)
	tx.batch.Burn(tx.caller, repay)
	v.CollateralAmount.Sub(v.CollateralAmount, payout)
	tx.batch.Pay(ledger.JournalTypeLiquidationPayout, tx.caller, ledger.AssetETH, payout)

	tx.receipt.DebtRepaid = repay
	tx.receipt.Payout = payout
	tx.receipt.Outcome = outcome
	if e.metrics != nil {
		e.metrics.Liquidations.WithLabelValues(outcome).Inc()
	}
	e.log.Info().
		Uint64("vault_id", v.ID).
		Str("outcome", outcome).
		Str("repaid", repay.String()).
		Str("payout", payout.String()).
		Msg("vault liquidated")
	return nil
}
