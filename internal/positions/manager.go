// Package positions is an in-process concentrated-liquidity position
// manager: it mints LP NFTs, tracks ownership and pays out liquidity with
// the same rounding the vault valuation uses.
package positions

import (
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"

	fpmath "PowerVault/internal/math"
	"PowerVault/internal/oracle"
	"PowerVault/internal/vaultlib"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	ErrPositionNotFound      = errors.New("positions: no such token id")
	ErrNotOwner              = errors.New("positions: transfer from non-owner")
	ErrInsufficientLiquidity = errors.New("positions: liquidity exceeds position")
)

type record struct {
	owner common.Address
	pos   vaultlib.Position
}

// Manager is safe for concurrent use. Token ids start at 1.
type Manager struct {
	mu        sync.RWMutex
	positions map[uint64]*record
	nextID    uint64
}

func NewManager() *Manager {
	return &Manager{
		positions: make(map[uint64]*record),
		nextID:    1,
	}
}

// Mint creates a position with an explicit liquidity and returns its id.
func (m *Manager) Mint(owner, tokenA, tokenB common.Address, tickLower, tickUpper int32, liquidity *uint256.Int) (uint64, error) {
	if tickLower >= tickUpper {
		return 0, fmt.Errorf("%w: [%d, %d]", vaultlib.ErrInvalidRange, tickLower, tickUpper)
	}
	t0, t1 := oracle.SortTokens(tokenA, tokenB)

	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++
	m.positions[id] = &record{
		owner: owner,
		pos: vaultlib.Position{
			Token0:      t0,
			Token1:      t1,
			TickLower:   tickLower,
			TickUpper:   tickUpper,
			Liquidity:   new(uint256.Int).Set(liquidity),
			TokensOwed0: new(uint256.Int),
			TokensOwed1: new(uint256.Int),
		},
	}
	return id, nil
}

// MintForAmounts derives liquidity from token amounts at sqrtPriceX96 and
// mints the position. amount0/amount1 follow sorted token order.
func (m *Manager) MintForAmounts(owner, tokenA, tokenB common.Address, tickLower, tickUpper int32, sqrtPriceX96 *uint256.Int, amount0, amount1 *big.Int) (uint64, *uint256.Int, error) {
	liquidity, err := vaultlib.Liquidity(sqrtPriceX96, tickLower, tickUpper, amount0, amount1)
	if err != nil {
		return 0, nil, err
	}
	id, err := m.Mint(owner, tokenA, tokenB, tickLower, tickUpper, liquidity)
	return id, liquidity, err
}

// PositionOf returns a copy of the position.
func (m *Manager) PositionOf(id uint64) (vaultlib.Position, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.positions[id]
	if !ok {
		return vaultlib.Position{}, fmt.Errorf("%w: %d", ErrPositionNotFound, id)
	}
	return copyPosition(rec.pos), nil
}

func (m *Manager) OwnerOf(id uint64) (common.Address, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.positions[id]
	if !ok {
		return common.Address{}, fmt.Errorf("%w: %d", ErrPositionNotFound, id)
	}
	return rec.owner, nil
}

func (m *Manager) TransferFrom(from, to common.Address, id uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.positions[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrPositionNotFound, id)
	}
	if rec.owner != from {
		return fmt.Errorf("%w: token %d owned by %s", ErrNotOwner, id, rec.owner.Hex())
	}
	rec.owner = to
	return nil
}

// DecreaseLiquidity removes liquidity at sqrtPriceX96 and credits the
// resulting token amounts (rounded down) to tokens owed.
func (m *Manager) DecreaseLiquidity(id uint64, liquidity, sqrtPriceX96 *uint256.Int) (*big.Int, *big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.positions[id]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %d", ErrPositionNotFound, id)
	}
	if liquidity.Gt(rec.pos.Liquidity) {
		return nil, nil, fmt.Errorf("%w: %s > %s", ErrInsufficientLiquidity, liquidity, rec.pos.Liquidity)
	}

	sqrtLower := fpmath.MustSqrtRatioAtTick(rec.pos.TickLower)
	sqrtUpper := fpmath.MustSqrtRatioAtTick(rec.pos.TickUpper)
	a0, a1, err := fpmath.GetAmountsForLiquidity(sqrtPriceX96, sqrtLower, sqrtUpper, liquidity)
	if err != nil {
		return nil, nil, err
	}

	rec.pos.Liquidity = new(uint256.Int).Sub(rec.pos.Liquidity, liquidity)
	rec.pos.TokensOwed0 = new(uint256.Int).Add(rec.pos.TokensOwed0, a0)
	rec.pos.TokensOwed1 = new(uint256.Int).Add(rec.pos.TokensOwed1, a1)
	return a0.ToBig(), a1.ToBig(), nil
}

// Collect pays out and zeroes everything owed to the position.
func (m *Manager) Collect(id uint64) (*big.Int, *big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.positions[id]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %d", ErrPositionNotFound, id)
	}
	amount0 := fpmath.ToBig(rec.pos.TokensOwed0)
	amount1 := fpmath.ToBig(rec.pos.TokensOwed1)
	rec.pos.TokensOwed0 = new(uint256.Int)
	rec.pos.TokensOwed1 = new(uint256.Int)
	return amount0, amount1, nil
}

// Owned lists the ids held by owner in ascending order.
func (m *Manager) Owned(owner common.Address) []uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var ids []uint64
	for id, rec := range m.positions {
		if rec.owner == owner {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Records exports every position with the id the next mint will use.
func (m *Manager) Records() ([]vaultlib.OwnedPosition, uint64) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]vaultlib.OwnedPosition, 0, len(m.positions))
	for id, rec := range m.positions {
		out = append(out, vaultlib.OwnedPosition{ID: id, Owner: rec.owner, Position: copyPosition(rec.pos)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, m.nextID
}

// Restore replaces every record. nextID is raised above the highest
// restored id if needed.
func (m *Manager) Restore(records []vaultlib.OwnedPosition, nextID uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.positions = make(map[uint64]*record, len(records))
	if nextID == 0 {
		nextID = 1
	}
	for _, r := range records {
		m.positions[r.ID] = &record{owner: r.Owner, pos: copyPosition(r.Position)}
		if r.ID >= nextID {
			nextID = r.ID + 1
		}
	}
	m.nextID = nextID
}

func copyPosition(p vaultlib.Position) vaultlib.Position {
	out := p
	out.Liquidity = cloneU256(p.Liquidity)
	out.TokensOwed0 = cloneU256(p.TokensOwed0)
	out.TokensOwed1 = cloneU256(p.TokensOwed1)
	return out
}

func cloneU256(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return new(uint256.Int).Set(v)
}
