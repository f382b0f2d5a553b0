package state_test

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	fpmath "PowerVault/internal/math"
	"PowerVault/internal/state"
)

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
)

// ====================================================================
// Vault
// ====================================================================

func TestVault_AccessFor(t *testing.T) {
	v := state.NewVault(1, alice)
	require.Equal(t, state.AccessOwner, v.AccessFor(alice))
	require.Equal(t, state.AccessNeither, v.AccessFor(bob))
	require.Equal(t, state.AccessNeither, v.AccessFor(common.Address{}), "zero address is never the operator")

	v.Operator = bob
	require.Equal(t, state.AccessOperator, v.AccessFor(bob))
	require.True(t, v.AccessFor(bob).CanModify())
	require.False(t, state.AccessNeither.CanModify())
}

func TestVault_StateDerivation(t *testing.T) {
	v := state.NewVault(1, alice)
	require.True(t, v.IsEmpty())
	require.Equal(t, state.VaultStateClosed, v.State(true))

	v.CollateralAmount.SetInt64(10)
	require.Equal(t, state.VaultStateOpen, v.State(true))

	v.ShortAmount.SetInt64(1)
	require.Equal(t, state.VaultStateCollateralized, v.State(true))
	require.Equal(t, state.VaultStateUnderwater, v.State(false))

	v.CollateralAmount.SetInt64(0)
	v.ShortAmount.SetInt64(0)
	v.NftCollateralID = 7
	require.False(t, v.IsEmpty(), "attached LP keeps the vault open")
}

func TestVaultState_Transitions(t *testing.T) {
	require.True(t, state.VaultStateClosed.CanTransitionTo(state.VaultStateOpen))
	require.True(t, state.VaultStateCollateralized.CanTransitionTo(state.VaultStateUnderwater))
	require.True(t, state.VaultStateUnderwater.CanTransitionTo(state.VaultStateClosed))
	require.False(t, state.VaultStateClosed.CanTransitionTo(state.VaultStateUnderwater))
	require.False(t, state.VaultStateOpen.CanTransitionTo(state.VaultStateUnderwater))
}

func TestVault_CloneIsDeep(t *testing.T) {
	v := state.NewVault(3, alice)
	v.CollateralAmount.SetInt64(100)
	c := v.Clone()
	c.CollateralAmount.SetInt64(1)
	require.Equal(t, int64(100), v.CollateralAmount.Int64())
	require.Equal(t, v.CanonicalBytes(), v.Clone().CanonicalBytes())
	require.NotEqual(t, v.CanonicalBytes(), c.CanonicalBytes())
}

// ====================================================================
// VaultStore
// ====================================================================

func TestVaultStore_IDsStartAtOneAndNeverReuse(t *testing.T) {
	s := state.NewVaultStore()
	require.Equal(t, uint64(1), s.NextID())

	_, ok := s.Get(0)
	require.False(t, ok, "id 0 is the open-new sentinel")

	s.Put(state.NewVault(s.NextID(), alice))
	s.Put(state.NewVault(s.NextID(), bob))
	require.Equal(t, 2, s.Count())
	require.Equal(t, uint64(3), s.NextID())

	v, ok := s.Get(2)
	require.True(t, ok)
	require.Equal(t, bob, v.Owner)
	require.Len(t, s.ByOwner(alice), 1)
}

func TestVaultStore_RestoreFillsGaps(t *testing.T) {
	s := state.NewVaultStore()
	s.Restore([]*state.Vault{state.NewVault(3, alice)})
	require.Equal(t, uint64(4), s.NextID())
	v, ok := s.Get(2)
	require.True(t, ok)
	require.True(t, v.IsEmpty())
}

// ====================================================================
// FundingManager
// ====================================================================

func TestFundingManager_OncePerStep(t *testing.T) {
	fm := state.NewFundingManager(1_000)
	require.Zero(t, fpmath.Wad.Cmp(fm.Factor()))
	require.True(t, fm.ShouldApply(1, 1_100))

	fm.Apply(&state.FundingSnapshot{Step: 1, Timestamp: 1_100, Factor: big.NewInt(9e17)})
	require.False(t, fm.ShouldApply(1, 1_200), "same step is a no-op")
	require.False(t, fm.ShouldApply(2, 1_100), "time did not advance")
	require.True(t, fm.ShouldApply(2, 1_200))
	require.Equal(t, int64(100), fm.Elapsed(1_200))

	fm.Freeze()
	require.False(t, fm.ShouldApply(5, 9_999))
}

// ====================================================================
// SystemState
// ====================================================================

func TestSystemState_Lifecycle(t *testing.T) {
	s := state.NewSystemState(alice, 4)
	require.Equal(t, state.SystemLive, s.Status())
	require.True(t, s.CanPause())

	s.Paused = true
	s.LastPauseTime = 100
	require.Equal(t, state.SystemPaused, s.Status())
	require.False(t, s.CanPause())
	require.False(t, s.PauseExpired(150, 100))
	require.True(t, s.PauseExpired(201, 100))

	require.True(t, state.SystemPaused.CanTransitionTo(state.SystemShutDown))
	require.False(t, state.SystemShutDown.CanTransitionTo(state.SystemLive))
}

// ====================================================================
// Params
// ====================================================================

func TestValidateParams(t *testing.T) {
	require.NoError(t, state.ValidateParams(state.DefaultParams()))

	p := state.DefaultParams()
	p.CollateralRatio = new(big.Int).Set(fpmath.Wad)
	require.Error(t, state.ValidateParams(p))

	p = state.DefaultParams()
	p.UpperMarkRatio = fpmath.WadFromRatio(9, 10)
	require.Error(t, state.ValidateParams(p))

	p = state.DefaultParams()
	p.IndexScale = new(big.Int)
	require.Error(t, state.ValidateParams(p))
}
