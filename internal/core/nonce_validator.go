package core

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// NonceValidator orders commands per caller. Nonces must strictly increase;
// gaps are tolerated (a client may abandon a nonce) but regressions are not.
// Nonce 0 opts out of ordering.
// Not thread-safe; only accessed under the engine write lock.
type NonceValidator struct {
	last map[common.Address]uint64
	gaps map[common.Address]int64
}

func NewNonceValidator() *NonceValidator {
	return &NonceValidator{
		last: make(map[common.Address]uint64),
		gaps: make(map[common.Address]int64),
	}
}

// Validate checks nonce without advancing.
func (nv *NonceValidator) Validate(caller common.Address, nonce uint64) error {
	if nonce == 0 {
		return nil
	}
	last, seen := nv.last[caller]
	if seen && nonce <= last {
		return fmt.Errorf("%w: caller=%s last=%d got=%d", ErrStaleNonce, caller.Hex(), last, nonce)
	}
	return nil
}

// Advance records a committed nonce.
func (nv *NonceValidator) Advance(caller common.Address, nonce uint64) {
	if nonce == 0 {
		return
	}
	if last, seen := nv.last[caller]; seen && nonce > last+1 {
		nv.gaps[caller]++
	}
	nv.last[caller] = nonce
}

func (nv *NonceValidator) Last(caller common.Address) (uint64, bool) {
	n, ok := nv.last[caller]
	return n, ok
}

func (nv *NonceValidator) Gaps(caller common.Address) int64 {
	return nv.gaps[caller]
}

// All returns a copy of every caller's last nonce (snapshot).
func (nv *NonceValidator) All() map[common.Address]uint64 {
	out := make(map[common.Address]uint64, len(nv.last))
	for k, v := range nv.last {
		out[k] = v
	}
	return out
}

// Restore sets a caller's last nonce (snapshot restore).
func (nv *NonceValidator) Restore(caller common.Address, nonce uint64) {
	nv.last[caller] = nonce
}
