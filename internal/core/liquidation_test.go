package core_test

import (
	"math/big"
	"testing"

	"PowerVault/internal/core"
	"PowerVault/internal/event"
	"PowerVault/internal/ledger"
	fpmath "PowerVault/internal/math"

	"github.com/stretchr/testify/require"
)

// ============================================================================
// Test: Liquidate
// ============================================================================

func TestLiquidate_SafeVaultRejected(t *testing.T) {
	h := newTestEngine(t)
	id := h.openVault(alice, eth(45), milli(10))

	_, err := h.exec(&event.Liquidate{Header: h.hdr(bob), VaultID: id, MaxDebtAmount: milli(5)})
	require.ErrorIs(t, err, core.ErrVaultSafe)
	require.ErrorIs(t, err, core.ErrInvalidState)
}

func TestLiquidate_PartialImprovesRatio(t *testing.T) {
	h := newTestEngine(t)
	id := h.openVault(alice, eth(45), milli(10))
	h.must(&event.TransferDebt{Header: h.hdr(alice), To: bob, Amount: milli(10)})

	h.feed.eth = eth(4000)
	before := h.ratio(id)

	r := h.must(&event.Liquidate{Header: h.hdr(bob), VaultID: id, MaxDebtAmount: milli(10)})
	require.Equal(t, core.OutcomePartial, r.Outcome)
	// At most half the debt; 0.005 × 4000 × 1.1.
	require.Zero(t, milli(5).Cmp(r.DebtRepaid))
	require.Zero(t, eth(22).Cmp(r.Payout))

	v := h.vault(id)
	require.Zero(t, eth(23).Cmp(v.CollateralAmount))
	require.Zero(t, milli(5).Cmp(v.ShortAmount))
	require.Equal(t, 1, h.ratio(id).Cmp(before))

	require.Zero(t, eth(22).Cmp(h.e.Balance(bob, ledger.AssetETH)))
	require.Zero(t, milli(5).Cmp(h.e.Balance(bob, ledger.AssetPowerPerp)))
}

func TestLiquidate_InsolventRequiresFullRepay(t *testing.T) {
	h := newTestEngine(t)
	id := h.openVault(alice, eth(45), milli(10))
	h.must(&event.TransferDebt{Header: h.hdr(alice), To: bob, Amount: milli(10)})

	// 0.01 × 5000 × 1.1 = 55 ETH owed against 45.
	h.feed.eth = eth(5000)
	_, err := h.exec(&event.Liquidate{Header: h.hdr(bob), VaultID: id, MaxDebtAmount: milli(5)})
	require.ErrorIs(t, err, core.ErrInvalidState)

	r := h.must(&event.Liquidate{Header: h.hdr(bob), VaultID: id, MaxDebtAmount: milli(10)})
	require.Equal(t, core.OutcomeInsolvent, r.Outcome)
	require.Zero(t, eth(45).Cmp(r.Payout))
	require.True(t, h.vault(id).IsEmpty())
}

func TestLiquidate_DustRemainderRejectedFullCloseAllowed(t *testing.T) {
	h := newTestEngine(t)
	id := h.openVault(alice, eth(10), milli(2))
	h.must(&event.TransferDebt{Header: h.hdr(alice), To: bob, Amount: milli(2)})

	h.feed.eth = eth(4000)
	// Half the debt pays 4.4 ETH and leaves 5.6, under the 6.9 floor.
	_, err := h.exec(&event.Liquidate{Header: h.hdr(bob), VaultID: id, MaxDebtAmount: milli(1)})
	require.ErrorIs(t, err, core.ErrDustVault)

	r := h.must(&event.Liquidate{Header: h.hdr(bob), VaultID: id, MaxDebtAmount: milli(2)})
	require.Equal(t, core.OutcomeFull, r.Outcome)
	require.Zero(t, milli(2).Cmp(r.DebtRepaid))
	require.Zero(t, milli(8800).Cmp(r.Payout))

	v := h.vault(id)
	require.Zero(t, v.ShortAmount.Sign())
	require.Zero(t, milli(1200).Cmp(v.CollateralAmount))
}

func TestLiquidate_LiquidatorNeedsTokens(t *testing.T) {
	h := newTestEngine(t)
	id := h.openVault(alice, eth(45), milli(10))

	h.feed.eth = eth(4000)
	_, err := h.exec(&event.Liquidate{Header: h.hdr(bob), VaultID: id, MaxDebtAmount: milli(5)})
	require.ErrorIs(t, err, core.ErrInsufficientBalance)
	require.Zero(t, eth(45).Cmp(h.vault(id).CollateralAmount))
}

// ============================================================================
// Test: LP collateral
// ============================================================================

func TestMint_WithPositionCountsTowardRatio(t *testing.T) {
	h := newTestEngine(t)
	nft := h.wethPosition(alice, eth(10))
	h.fund(alice, eth(40))

	r := h.must(&event.MintShort{Header: h.hdr(alice), Amount: milli(10), Value: eth(40), NftID: nft})
	id := r.VaultID
	require.Equal(t, nft, h.vault(id).NftCollateralID)

	holder, err := h.pm.OwnerOf(nft)
	require.NoError(t, err)
	require.Equal(t, engineAddr, holder)

	// Without the position 40 ETH cannot carry 30 ETH of debt.
	_, err = h.exec(&event.WithdrawPosition{Header: h.hdr(alice), VaultID: id})
	require.ErrorIs(t, err, core.ErrInsufficientCollateral)
	holder, _ = h.pm.OwnerOf(nft)
	require.Equal(t, engineAddr, holder)

	h.must(&event.Burn{Header: h.hdr(alice), VaultID: id, Amount: milli(10)})
	h.must(&event.WithdrawPosition{Header: h.hdr(alice), VaultID: id})
	holder, _ = h.pm.OwnerOf(nft)
	require.Equal(t, alice, holder)
	require.Zero(t, h.vault(id).NftCollateralID)
}

func TestMint_FailedPositionMintIsAtomic(t *testing.T) {
	h := newTestEngine(t)
	nft := h.wethPosition(alice, eth(10))
	h.fund(alice, eth(30))

	_, err := h.exec(&event.MintShort{Header: h.hdr(alice), Amount: milli(10), Value: eth(30), NftID: nft})
	require.ErrorIs(t, err, core.ErrInvalidState)

	holder, _ := h.pm.OwnerOf(nft)
	require.Equal(t, alice, holder)
	_, ok := h.e.Vault(1)
	require.False(t, ok)
	require.Zero(t, eth(30).Cmp(h.e.Balance(alice, ledger.AssetETH)))
}

func TestDepositPosition_Rejections(t *testing.T) {
	h := newTestEngine(t)
	id := h.openVault(alice, eth(45), milli(10))

	bobs := h.wethPosition(bob, eth(1))
	_, err := h.exec(&event.DepositPosition{Header: h.hdr(alice), VaultID: id, NftID: bobs})
	require.ErrorIs(t, err, core.ErrNotAuthorized)

	otherPair, err := h.pm.Mint(alice, quoteToken.Address, wethToken.Address, -600, 600, fpmath.FromBig(eth(1)))
	require.NoError(t, err)
	_, err = h.exec(&event.DepositPosition{Header: h.hdr(alice), VaultID: id, NftID: otherPair})
	require.ErrorIs(t, err, core.ErrInvalidPosition)

	first := h.wethPosition(alice, eth(1))
	second := h.wethPosition(alice, eth(1))
	h.must(&event.DepositPosition{Header: h.hdr(alice), VaultID: id, NftID: first})
	_, err = h.exec(&event.DepositPosition{Header: h.hdr(alice), VaultID: id, NftID: second})
	require.ErrorIs(t, err, core.ErrAlreadyHasPosition)
}

func TestReduceDebt_BurnsRedeemedPowerPerp(t *testing.T) {
	h := newTestEngine(t)
	nft := h.powerPerpPosition(alice, milli(5))
	h.fund(alice, eth(35))
	id := h.must(&event.MintShort{Header: h.hdr(alice), Amount: milli(10), Value: eth(35), NftID: nft}).VaultID

	r := h.must(&event.ReduceDebt{Header: h.hdr(alice), VaultID: id})
	require.Equal(t, 1, r.DebtRepaid.Cmp(milli(4)))
	require.True(t, r.DebtRepaid.Cmp(milli(5)) <= 0)

	v := h.vault(id)
	require.Zero(t, v.NftCollateralID)
	require.Zero(t, new(big.Int).Sub(milli(10), r.DebtRepaid).Cmp(v.ShortAmount))
	require.Zero(t, eth(35).Cmp(v.CollateralAmount))

	pos, err := h.pm.PositionOf(nft)
	require.NoError(t, err)
	require.True(t, pos.Liquidity.IsZero())
}

func TestLiquidate_PositionRedemptionSettles(t *testing.T) {
	h := newTestEngine(t)
	nft := h.powerPerpPosition(alice, milli(5))
	h.fund(alice, eth(35))
	id := h.must(&event.MintShort{Header: h.hdr(alice), Amount: milli(10), Value: eth(35), NftID: nft}).VaultID

	// 35 + 0.005 × 3600 < 1.5 × 0.01 × 3600.
	h.feed.eth = eth(3600)
	r := h.must(&event.Liquidate{Header: h.hdr(bob), VaultID: id, MaxDebtAmount: milli(10)})
	require.Equal(t, core.OutcomeReducedDebt, r.Outcome)
	require.Equal(t, 1, r.Bounty.Cmp(milli(350)))
	require.True(t, r.Bounty.Cmp(milli(360)) <= 0)
	require.Zero(t, r.Bounty.Cmp(h.e.Balance(bob, ledger.AssetETH)))

	view, err := h.e.VaultStatus(id, event.Block{Number: h.block, Time: h.now})
	require.NoError(t, err)
	require.True(t, view.Status.IsSafe)
	require.Zero(t, view.Vault.NftCollateralID)
}

func TestLiquidate_PositionRedemptionNotEnough(t *testing.T) {
	h := newTestEngine(t)
	nft := h.wethPosition(alice, eth(10))
	h.fund(alice, eth(40))
	id := h.must(&event.MintShort{Header: h.hdr(alice), Amount: milli(10), Value: eth(40), NftID: nft}).VaultID
	h.must(&event.TransferDebt{Header: h.hdr(alice), To: bob, Amount: milli(5)})

	h.feed.eth = eth(3500)
	r := h.must(&event.Liquidate{Header: h.hdr(bob), VaultID: id, MaxDebtAmount: milli(5)})
	require.Equal(t, core.OutcomePartial, r.Outcome)
	require.Nil(t, r.Bounty)
	require.Zero(t, milli(5).Cmp(r.DebtRepaid))
	require.Zero(t, milli(19250).Cmp(r.Payout))
	require.Zero(t, h.vault(id).NftCollateralID)
}

func TestLiquidate_PositionRedemptionSafeButDust(t *testing.T) {
	h := newTestEngine(t)
	h.fund(alice, milli(6500))
	nft := h.powerPerpPosition(alice, milli(1))
	id := h.must(&event.MintShort{Header: h.hdr(alice), Amount: milli(2), Value: milli(6500), NftID: nft}).VaultID

	// 6.5 + 0.001 × 3300 falls short of 1.5 × 0.002 × 3300.
	h.feed.eth = eth(3300)
	r := h.must(&event.Liquidate{Header: h.hdr(bob), VaultID: id, MaxDebtAmount: milli(2)})
	require.Equal(t, core.OutcomeReducedDebt, r.Outcome)
	require.Equal(t, -1, r.Bounty.Cmp(milli(100)))
	require.Equal(t, 1, r.Bounty.Sign())

	// About 6.43 ETH is left: under the 6.9 floor yet safe for ~0.001 debt.
	v := h.vault(id)
	require.Zero(t, v.NftCollateralID)
	require.Equal(t, 1, v.CollateralAmount.Cmp(milli(6400)))
	require.Equal(t, -1, v.CollateralAmount.Cmp(milli(6500)))
	view, err := h.e.VaultStatus(id, event.Block{Number: h.block, Time: h.now})
	require.NoError(t, err)
	require.True(t, view.Status.IsSafe)
	require.True(t, view.Status.IsDust)
}

func TestReduceDebt_WithoutPositionIsNoOp(t *testing.T) {
	h := newTestEngine(t)
	id := h.openVault(alice, eth(45), milli(10))
	before := h.vault(id).CanonicalBytes()

	r := h.must(&event.ReduceDebt{Header: h.hdr(alice), VaultID: id})
	require.Nil(t, r.DebtRepaid)
	require.Nil(t, r.Burned)
	require.Equal(t, before, h.vault(id).CanonicalBytes())

	_, err := h.exec(&event.ReduceDebt{Header: h.hdr(bob), VaultID: id})
	require.ErrorIs(t, err, core.ErrNotAuthorized)
}

func TestWithdrawPosition_OperatorReceivesNFT(t *testing.T) {
	h := newTestEngine(t)
	nft := h.wethPosition(alice, eth(1))
	h.fund(alice, eth(45))
	id := h.must(&event.MintShort{Header: h.hdr(alice), Amount: milli(10), Value: eth(45), NftID: nft}).VaultID
	h.must(&event.UpdateOperator{Header: h.hdr(alice), VaultID: id, Operator: bob})

	h.must(&event.WithdrawPosition{Header: h.hdr(bob), VaultID: id})
	holder, err := h.pm.OwnerOf(nft)
	require.NoError(t, err)
	require.Equal(t, bob, holder)
	require.Zero(t, h.vault(id).NftCollateralID)
}

// ============================================================================
// Test: MintPosition
// ============================================================================

func TestMintPosition_DebitsWalletAndMintsToCaller(t *testing.T) {
	h := newTestEngine(t)
	id := h.openVault(alice, eth(45), milli(10))
	h.fund(alice, eth(5))

	r := h.must(&event.MintPosition{
		Header:          h.hdr(alice),
		TickLower:       -600,
		TickUpper:       600,
		WethAmount:      eth(1),
		PowerPerpAmount: milli(10),
	})
	require.NotZero(t, r.NftID)

	holder, err := h.pm.OwnerOf(r.NftID)
	require.NoError(t, err)
	require.Equal(t, alice, holder)
	pos, err := h.pm.PositionOf(r.NftID)
	require.NoError(t, err)
	require.Equal(t, powerPerpToken.Address, pos.Token0)
	require.False(t, pos.Liquidity.IsZero())

	// wPowerPerp is the binding side at tick 0; the range is symmetric so
	// WETH costs about the same.
	power := h.e.Balance(alice, ledger.AssetPowerPerp)
	require.True(t, power.Sign() >= 0)
	require.Equal(t, -1, power.Cmp(milli(1)))
	spentWeth := new(big.Int).Sub(eth(5), h.e.Balance(alice, ledger.AssetETH))
	require.Equal(t, 1, spentWeth.Cmp(milli(9)))
	require.True(t, spentWeth.Cmp(milli(11)) <= 0)

	h.must(&event.DepositPosition{Header: h.hdr(alice), VaultID: id, NftID: r.NftID})
	require.Equal(t, r.NftID, h.vault(id).NftCollateralID)
	holder, _ = h.pm.OwnerOf(r.NftID)
	require.Equal(t, engineAddr, holder)
}

func TestMintPosition_InsufficientWalletIsAtomic(t *testing.T) {
	h := newTestEngine(t)
	h.fund(bob, eth(1))
	_, next := h.pm.Records()

	_, err := h.exec(&event.MintPosition{
		Header:          h.hdr(bob),
		TickLower:       -600,
		TickUpper:       600,
		WethAmount:      eth(1),
		PowerPerpAmount: eth(1),
	})
	require.ErrorIs(t, err, core.ErrInsufficientBalance)
	require.Empty(t, h.pm.Owned(bob))
	_, after := h.pm.Records()
	require.Equal(t, next, after)
	require.Zero(t, eth(1).Cmp(h.e.Balance(bob, ledger.AssetETH)))

	_, err = h.exec(&event.MintPosition{Header: h.hdr(bob), TickLower: 600, TickUpper: -600, WethAmount: eth(1)})
	require.ErrorIs(t, err, core.ErrInvalidArgument)
}
