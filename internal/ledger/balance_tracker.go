package ledger

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// ErrInsufficientFunds is returned when a batch would drive a non-boundary
// account below zero.
var ErrInsufficientFunds = errors.New("ledger: insufficient funds")

// BalanceTracker maintains in-memory account balances
type BalanceTracker struct {
	balances map[AccountKey]*big.Int
}

func NewBalanceTracker() *BalanceTracker {
	return &BalanceTracker{
		balances: make(map[AccountKey]*big.Int),
	}
}

// CheckBatch verifies the batch is well-formed and that applying it keeps
// every user and system account non-negative, without mutating anything.
func (bt *BalanceTracker) CheckBatch(batch *Batch) error {
	if err := batch.Validate(); err != nil {
		return fmt.Errorf("invalid batch: %w", err)
	}

	deltas := make(map[AccountKey]*big.Int)
	order := make([]AccountKey, 0, len(batch.Journals)*2)
	add := func(k AccountKey, v *big.Int) {
		d, ok := deltas[k]
		if !ok {
			d = new(big.Int)
			deltas[k] = d
			order = append(order, k)
		}
		d.Add(d, v)
	}
	for _, j := range batch.Journals {
		add(j.DebitAccount, j.Amount)
		add(j.CreditAccount, new(big.Int).Neg(j.Amount))
	}

	for _, k := range order {
		if k.MayGoNegative() {
			continue
		}
		after := new(big.Int).Add(bt.GetBalance(k), deltas[k])
		if after.Sign() < 0 {
			return fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientFunds,
				k.AccountPath(), bt.GetBalance(k), new(big.Int).Neg(deltas[k]))
		}
	}
	return nil
}

// ApplyBatch checks and then applies all journals in a batch; nothing is
// applied if any account would go negative.
func (bt *BalanceTracker) ApplyBatch(batch *Batch) error {
	if err := bt.CheckBatch(batch); err != nil {
		return err
	}
	for _, j := range batch.Journals {
		bt.applyJournal(j)
	}
	return nil
}

func (bt *BalanceTracker) applyJournal(j Journal) {
	bt.adjust(j.DebitAccount, j.Amount)
	bt.adjust(j.CreditAccount, new(big.Int).Neg(j.Amount))
}

func (bt *BalanceTracker) adjust(k AccountKey, delta *big.Int) {
	cur, ok := bt.balances[k]
	if !ok {
		cur = new(big.Int)
		bt.balances[k] = cur
	}
	cur.Add(cur, delta)
}

// GetBalance returns a copy of the current balance for an account
func (bt *BalanceTracker) GetBalance(key AccountKey) *big.Int {
	if v, ok := bt.balances[key]; ok {
		return new(big.Int).Set(v)
	}
	return new(big.Int)
}

// SetBalance overwrites a balance (snapshot restore only)
func (bt *BalanceTracker) SetBalance(key AccountKey, balance *big.Int) {
	bt.balances[key] = new(big.Int).Set(balance)
}

// WalletBalance returns a holder's spendable balance of an asset.
func (bt *BalanceTracker) WalletBalance(holder common.Address, assetID AssetID) *big.Int {
	return bt.GetBalance(WalletKey(holder, assetID))
}

// ComputeGlobalBalance sums all account balances per asset (zero-sum ledger)
func (bt *BalanceTracker) ComputeGlobalBalance() map[AssetID]*big.Int {
	totals := make(map[AssetID]*big.Int)
	for key, balance := range bt.balances {
		t, ok := totals[key.AssetID]
		if !ok {
			t = new(big.Int)
			totals[key.AssetID] = t
		}
		t.Add(t, balance)
	}
	return totals
}

// Supply returns the outstanding supply of an asset: the negated balance of
// its boundary accounts.
func (bt *BalanceTracker) Supply(assetID AssetID) *big.Int {
	total := new(big.Int)
	for key, balance := range bt.balances {
		if key.AssetID == assetID && key.Scope == AccountScopeExternal {
			total.Sub(total, balance)
		}
	}
	return total
}

// Snapshot returns a copy of all balances (for state hashing and snapshots)
func (bt *BalanceTracker) Snapshot() map[AccountKey]*big.Int {
	snapshot := make(map[AccountKey]*big.Int, len(bt.balances))
	for k, v := range bt.balances {
		snapshot[k] = new(big.Int).Set(v)
	}
	return snapshot
}
