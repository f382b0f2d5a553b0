package ledger

import (
	"fmt"
)

// InvariantValidator checks ledger invariants
type InvariantValidator struct {
	tracker *BalanceTracker
}

func NewInvariantValidator(tracker *BalanceTracker) *InvariantValidator {
	return &InvariantValidator{
		tracker: tracker,
	}
}

// ValidateNonNegative checks every user and system account is >= 0.
func (v *InvariantValidator) ValidateNonNegative() error {
	for key, balance := range v.tracker.balances {
		if key.MayGoNegative() {
			continue
		}
		if balance.Sign() < 0 {
			return fmt.Errorf("account %s has negative balance: %s", key.AccountPath(), balance)
		}
	}
	return nil
}

// ValidateGlobalBalance verifies the ledger is zero-sum per asset.
func (v *InvariantValidator) ValidateGlobalBalance() error {
	for assetID, total := range v.tracker.ComputeGlobalBalance() {
		if total.Sign() != 0 {
			return fmt.Errorf("global balance for %s is non-zero: %s", assetID, total)
		}
	}
	return nil
}
