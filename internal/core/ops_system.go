package core

import (
	"fmt"
	"math/big"

	"PowerVault/internal/event"
	"PowerVault/internal/ledger"
	fpmath "PowerVault/internal/math"

	"github.com/ethereum/go-ethereum/common"
)

func (e *Engine) handleApplyFunding(tx *txn) error {
	if err := e.requireLive(tx); err != nil {
		return err
	}
	e.applyFunding(tx)
	tx.receipt.NormalizationFactor = tx.nf
	if tx.funding != nil {
		e.log.Info().
			Uint64("step", tx.funding.Step).
			Str("nf", tx.nf.String()).
			Str("mark", tx.funding.Mark.String()).
			Str("index", tx.funding.Index.String()).
			Msg("normalization factor updated")
	}
	return nil
}

func (e *Engine) handlePause(tx *txn) error {
	if err := e.requireOwner(tx); err != nil {
		return err
	}
	if err := e.requireLive(tx); err != nil {
		return err
	}
	s := e.sys(tx)
	if s.PausesLeft == 0 {
		return fmt.Errorf("%w: pause budget exhausted", ErrInvalidState)
	}
	s.Paused = true
	s.PausesLeft--
	s.LastPauseTime = tx.block.Time
	e.log.Warn().Uint32("pauses_left", s.PausesLeft).Msg("system paused")
	return nil
}

func (e *Engine) handleUnpauseOwner(tx *txn) error {
	if err := e.requireOwner(tx); err != nil {
		return err
	}
	return e.unpause(tx)
}

// handleUnpauseAnyone lets anyone lift a pause the owner has held past the
// time limit.
func (e *Engine) handleUnpauseAnyone(tx *txn) error {
	s := e.sys(tx)
	if s.Paused && !s.ShutDown && !s.PauseExpired(tx.block.Time, e.params.PauseTimeLimit) {
		return fmt.Errorf("%w: pause time limit not reached (paused at %d)", ErrInvalidState, s.LastPauseTime)
	}
	return e.unpause(tx)
}

func (e *Engine) unpause(tx *txn) error {
	s := e.sys(tx)
	if s.ShutDown {
		return ErrAlreadyShutDown
	}
	if !s.Paused {
		return fmt.Errorf("%w: system is not paused", ErrInvalidState)
	}
	s.Paused = false
	e.log.Info().Msg("system unpaused")
	return nil
}

// handleShutDown is irreversible. The settlement price is the index per
// normalized debt unit in ETH: ethPrice / IndexScale.
func (e *Engine) handleShutDown(tx *txn, pauseFirst bool) error {
	if err := e.requireOwner(tx); err != nil {
		return err
	}
	s := e.sys(tx)
	if s.ShutDown {
		return ErrAlreadyShutDown
	}
	if pauseFirst {
		if s.Paused {
			return ErrSystemPaused
		}
		s.Paused = true
		s.LastPauseTime = tx.block.Time
	} else if !s.Paused {
		return fmt.Errorf("%w: shutdown requires a paused system", ErrInvalidState)
	}

	e.applyFunding(tx)

	ethPrice := e.feed.EthPrice(e.params.TwapPeriod, tx.block.Time)
	if ethPrice.Sign() == 0 {
		return fmt.Errorf("%w: no price available for settlement", ErrInvalidState)
	}
	s.SettlementPrice = new(big.Int).Quo(ethPrice, e.params.IndexScale)
	s.ShutDown = true
	tx.freeze = true

	tx.receipt.NormalizationFactor = tx.nf
	e.log.Warn().
		Str("settlement_price", s.SettlementPrice.String()).
		Str("nf", tx.nf.String()).
		Msg("system shut down")
	return nil
}

func (e *Engine) requireShutDown(tx *txn) error {
	if !e.sys(tx).ShutDown {
		return ErrNotShutDown
	}
	return nil
}

// settlementValue converts debt units into ETH at the frozen price.
func (e *Engine) settlementValue(tx *txn, amount *big.Int, mode fpmath.RoundingMode) *big.Int {
	return fpmath.MulMulDiv(amount, tx.nf, e.sys(tx).SettlementPrice, fpmath.WadSq, mode)
}

func (e *Engine) handleRedeemLong(tx *txn, c *event.RedeemLong) error {
	if err := e.requireShutDown(tx); err != nil {
		return err
	}
	if err := requirePositive("amount", c.Amount); err != nil {
		return err
	}
	payout := e.settlementValue(tx, c.Amount, fpmath.RoundDown)
	tx.batch.Burn(tx.caller, c.Amount)
	tx.batch.Pay(ledger.JournalTypeSettlement, tx.caller, ledger.AssetETH, payout)

	tx.receipt.Burned = new(big.Int).Set(c.Amount)
	tx.receipt.Payout = payout
	return nil
}

// handleRedeemShort pays the owner what is left after netting debt at the
// settlement price and empties the vault.
func (e *Engine) handleRedeemShort(tx *txn, c *event.RedeemShort) error {
	if err := e.requireShutDown(tx); err != nil {
		return err
	}
	v, err := e.loadVault(tx, c.VaultID)
	if err != nil {
		return err
	}
	if tx.caller != v.Owner {
		return fmt.Errorf("%w: only the owner redeems vault %d", ErrNotAuthorized, v.ID)
	}

	if v.HasPosition() {
		weth, powerPerp, err := e.redeemPosition(tx, v)
		if err != nil {
			return err
		}
		tx.receipt.Burned = e.settleRedeemedPosition(tx, v, weth, powerPerp)
	}

	debt := e.settlementValue(tx, v.ShortAmount, fpmath.RoundUp)
	payout := fpmath.SubFloor(v.CollateralAmount, debt)
	tx.batch.Pay(ledger.JournalTypeSettlement, v.Owner, ledger.AssetETH, payout)

	v.CollateralAmount.SetInt64(0)
	v.ShortAmount.SetInt64(0)

	tx.receipt.Payout = payout
	return nil
}

// handleDonate tops up custody; allowed in any state so shutdown
// redemptions can be pre-funded.
func (e *Engine) handleDonate(tx *txn, c *event.Donate) error {
	if err := requirePositive("value", c.Value); err != nil {
		return err
	}
	tx.batch.Post(ledger.JournalTypeDonation,
		ledger.CustodyKey(e.cfg.Address, ledger.AssetETH),
		ledger.WalletKey(tx.caller, ledger.AssetETH),
		c.Value)
	return nil
}

func (e *Engine) handleSetFeeRate(tx *txn, c *event.SetFeeRate) error {
	if err := e.requireOwner(tx); err != nil {
		return err
	}
	if c.FeeRateBPS > e.params.MaxFeeRateBPS {
		return fmt.Errorf("%w: fee rate %d bps above cap %d", ErrInvalidArgument, c.FeeRateBPS, e.params.MaxFeeRateBPS)
	}
	e.sys(tx).FeeRateBPS = c.FeeRateBPS
	return nil
}

func (e *Engine) handleSetFeeRecipient(tx *txn, c *event.SetFeeRecipient) error {
	if err := e.requireOwner(tx); err != nil {
		return err
	}
	if c.Recipient == (common.Address{}) {
		return fmt.Errorf("%w: zero fee recipient", ErrInvalidArgument)
	}
	e.sys(tx).FeeRecipient = c.Recipient
	return nil
}

func (e *Engine) handleTransferOwnership(tx *txn, c *event.TransferOwnership) error {
	if err := e.requireOwner(tx); err != nil {
		return err
	}
	if c.NewOwner == (common.Address{}) {
		return fmt.Errorf("%w: zero owner", ErrInvalidArgument)
	}
	e.sys(tx).Owner = c.NewOwner
	e.log.Warn().Str("new_owner", c.NewOwner.Hex()).Msg("ownership transferred")
	return nil
}

// --- Wallet boundary ---

func (e *Engine) handleFundWallet(tx *txn, c *event.FundWallet) error {
	if err := requirePositive("amount", c.Amount); err != nil {
		return err
	}
	tx.batch.WalletDeposit(tx.caller, ledger.AssetETH, c.Amount)
	return nil
}

func (e *Engine) handleWithdrawWallet(tx *txn, c *event.WithdrawWallet) error {
	if err := requirePositive("amount", c.Amount); err != nil {
		return err
	}
	tx.batch.WalletWithdrawal(tx.caller, ledger.AssetETH, c.Amount)
	return nil
}

func (e *Engine) handleTransferDebt(tx *txn, c *event.TransferDebt) error {
	if err := requirePositive("amount", c.Amount); err != nil {
		return err
	}
	if c.To == tx.caller {
		return fmt.Errorf("%w: transfer to self", ErrInvalidArgument)
	}
	tx.batch.Transfer(tx.caller, c.To, ledger.AssetPowerPerp, c.Amount)
	return nil
}
