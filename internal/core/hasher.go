package core

import (
	"crypto/sha256"
	"encoding/binary"
)

const GenesisHashSeed = "PowerVault:genesis:v1"

// HashChain links every committed command to the one before it:
//
//	tip[N] = sha256(tip[N-1] || be64(N) || digest[N])
//
// so a replay that diverges anywhere shows up in every later hash.
type HashChain struct {
	tip [32]byte
}

func NewHashChain() *HashChain {
	return &HashChain{tip: sha256.Sum256([]byte(GenesisHashSeed))}
}

// Link appends one commit and returns the new tip.
func (c *HashChain) Link(sequence int64, digest []byte) [32]byte {
	var seq [8]byte
	binary.BigEndian.PutUint64(seq[:], uint64(sequence))

	h := sha256.New()
	h.Write(c.tip[:])
	h.Write(seq[:])
	h.Write(digest)
	h.Sum(c.tip[:0])
	return c.tip
}

func (c *HashChain) Tip() [32]byte { return c.tip }

// Reset moves the tip, on snapshot restore.
func (c *HashChain) Reset(tip [32]byte) { c.tip = tip }
