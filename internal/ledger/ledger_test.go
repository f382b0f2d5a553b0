package ledger_test

import (
	"math/big"
	"testing"

	"PowerVault/internal/ledger"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

var (
	engineAddr = common.HexToAddress("0xe000000000000000000000000000000000000001")
	alice      = common.HexToAddress("0xa11ce00000000000000000000000000000000000")
	bob        = common.HexToAddress("0xb0b0000000000000000000000000000000000000")
)

func newBuilder() *ledger.BatchBuilder {
	return ledger.NewBatchBuilder(engineAddr, "cmd-1", 1, 1_700_000_000)
}

// ============================================================================
// Test: AccountKey
// ============================================================================

func TestAccountKey_Paths(t *testing.T) {
	require.Equal(t, "user:"+alice.Hex()+":wallet:ETH", ledger.WalletKey(alice, ledger.AssetETH).AccountPath())
	require.Equal(t, "system:"+engineAddr.Hex()+":custody:WPOWERPERP", ledger.CustodyKey(engineAddr, ledger.AssetPowerPerp).AccountPath())
	require.Equal(t, "external:issuance:WPOWERPERP", ledger.ExternalKey(ledger.SubTypeExternalIssuance, ledger.AssetPowerPerp).AccountPath())
}

func TestGetAssetID(t *testing.T) {
	id, ok := ledger.GetAssetID("ETH")
	require.True(t, ok)
	require.Equal(t, ledger.AssetETH, id)

	_, ok = ledger.GetAssetID("DOGE")
	require.False(t, ok)
}

// ============================================================================
// Test: BalanceTracker
// ============================================================================

func TestBalanceTracker_DepositAndTransfer(t *testing.T) {
	bt := ledger.NewBalanceTracker()

	b := newBuilder()
	b.WalletDeposit(alice, ledger.AssetETH, big.NewInt(100))
	b.Transfer(alice, bob, ledger.AssetETH, big.NewInt(40))
	require.NoError(t, bt.ApplyBatch(b.Batch()))

	require.Equal(t, "60", bt.WalletBalance(alice, ledger.AssetETH).String())
	require.Equal(t, "40", bt.WalletBalance(bob, ledger.AssetETH).String())
	require.NoError(t, ledger.NewInvariantValidator(bt).ValidateGlobalBalance())
}

func TestBalanceTracker_RejectsOverdraftAtomically(t *testing.T) {
	bt := ledger.NewBalanceTracker()

	fund := newBuilder()
	fund.WalletDeposit(alice, ledger.AssetETH, big.NewInt(10))
	require.NoError(t, bt.ApplyBatch(fund.Batch()))

	b := newBuilder()
	b.Transfer(alice, bob, ledger.AssetETH, big.NewInt(5))
	b.CollateralIn(alice, big.NewInt(6))
	err := bt.ApplyBatch(b.Batch())
	require.ErrorIs(t, err, ledger.ErrInsufficientFunds)

	// nothing applied
	require.Equal(t, "10", bt.WalletBalance(alice, ledger.AssetETH).String())
	require.Equal(t, "0", bt.WalletBalance(bob, ledger.AssetETH).String())
}

func TestBalanceTracker_MintBurnSupply(t *testing.T) {
	bt := ledger.NewBalanceTracker()

	b := newBuilder()
	b.Mint(alice, big.NewInt(7))
	require.NoError(t, bt.ApplyBatch(b.Batch()))
	require.Equal(t, "7", bt.Supply(ledger.AssetPowerPerp).String())

	burn := newBuilder()
	burn.Burn(alice, big.NewInt(3))
	require.NoError(t, bt.ApplyBatch(burn.Batch()))
	require.Equal(t, "4", bt.Supply(ledger.AssetPowerPerp).String())
	require.Equal(t, "4", bt.WalletBalance(alice, ledger.AssetPowerPerp).String())
}

func TestBatchBuilder_DropsZeroLegs(t *testing.T) {
	b := newBuilder()
	b.Mint(alice, big.NewInt(0))
	b.Mint(alice, nil)
	require.Equal(t, 0, b.Len())

	err := b.Batch().Validate()
	require.Error(t, err)
}

// ============================================================================
// Test: InvariantValidator
// ============================================================================

func TestInvariantValidator_NonNegative(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	v := ledger.NewInvariantValidator(bt)

	bt.SetBalance(ledger.WalletKey(alice, ledger.AssetETH), big.NewInt(-1))
	require.Error(t, v.ValidateNonNegative())

	bt.SetBalance(ledger.WalletKey(alice, ledger.AssetETH), big.NewInt(0))
	bt.SetBalance(ledger.ExternalKey(ledger.SubTypeExternalDeposits, ledger.AssetETH), big.NewInt(-5))
	require.NoError(t, v.ValidateNonNegative())
	require.Error(t, v.ValidateGlobalBalance())
}
