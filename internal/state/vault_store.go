package state

import (
	"github.com/ethereum/go-ethereum/common"
)

// VaultStore is an arena of vault records indexed by id. Slot 0 is the
// "open new" sentinel and never holds a vault; ids are never reused.
type VaultStore struct {
	vaults []*Vault
}

func NewVaultStore() *VaultStore {
	return &VaultStore{vaults: []*Vault{nil}}
}

// NextID returns the id the next opened vault will receive.
func (s *VaultStore) NextID() uint64 {
	return uint64(len(s.vaults))
}

// Get returns the stored record; callers that mutate must Clone first.
func (s *VaultStore) Get(id uint64) (*Vault, bool) {
	if id == 0 || id >= uint64(len(s.vaults)) {
		return nil, false
	}
	return s.vaults[id], true
}

// Put writes a vault back. A vault with the next id appends to the arena.
func (s *VaultStore) Put(v *Vault) {
	if v.ID == s.NextID() {
		s.vaults = append(s.vaults, v)
		return
	}
	s.vaults[v.ID] = v
}

// Count returns the number of vaults ever opened.
func (s *VaultStore) Count() int {
	return len(s.vaults) - 1
}

// All returns every vault in id order.
func (s *VaultStore) All() []*Vault {
	out := make([]*Vault, 0, len(s.vaults)-1)
	for _, v := range s.vaults[1:] {
		out = append(out, v)
	}
	return out
}

// ByOwner returns the vaults owned by addr in id order.
func (s *VaultStore) ByOwner(owner common.Address) []*Vault {
	var out []*Vault
	for _, v := range s.vaults[1:] {
		if v.Owner == owner {
			out = append(out, v)
		}
	}
	return out
}

// Restore replaces the arena (snapshot restore only). Missing ids become
// closed placeholder records so ids stay dense.
func (s *VaultStore) Restore(vaults []*Vault) {
	var maxID uint64
	for _, v := range vaults {
		if v.ID > maxID {
			maxID = v.ID
		}
	}
	s.vaults = make([]*Vault, maxID+1)
	for _, v := range vaults {
		s.vaults[v.ID] = v
	}
	for id := uint64(1); id <= maxID; id++ {
		if s.vaults[id] == nil {
			s.vaults[id] = NewVault(id, common.Address{})
		}
	}
}
