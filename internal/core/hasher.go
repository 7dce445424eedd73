package core

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"

	"MarginLedger/internal/command"
)

const GenesisHashSeed = "MarginLedger:oplog:genesis:v1"

// StateHasher chains a hash over applied op-log entries.
type StateHasher struct {
	prevHash [32]byte
}

// NewStateHasher initializes with genesis hash
func NewStateHasher() *StateHasher {
	return &StateHasher{prevHash: sha256.Sum256([]byte(GenesisHashSeed))}
}

// ComputeHash calculates hash[N] = SHA-256(prev_hash || id || digest)
func (h *StateHasher) ComputeHash(id uint64, digest []byte) [32]byte {
	hasher := sha256.New()
	hasher.Write(h.prevHash[:])

	var idBuf [8]byte
	binary.LittleEndian.PutUint64(idBuf[:], id)
	hasher.Write(idBuf[:])

	hasher.Write(digest)

	var hash [32]byte
	copy(hash[:], hasher.Sum(nil))
	h.prevHash = hash
	return hash
}

func (h *StateHasher) Tip() string {
	return hex.EncodeToString(h.prevHash[:])
}

// Reset continues the chain from a tip recorded in a snapshot.
func (h *StateHasher) Reset(tip string) error {
	b, err := hex.DecodeString(tip)
	if err != nil || len(b) != len(h.prevHash) {
		return fmt.Errorf("invalid state hash %q", tip)
	}
	copy(h.prevHash[:], b)
	return nil
}

// EntryDigest is the canonical byte form of an entry: time bits, then the
// stored method/params document.
func EntryDigest(e command.Entry) ([]byte, error) {
	detail, err := command.EncodeDetail(e.Command)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, 8, 8+len(detail))
	binary.LittleEndian.PutUint64(buf, math.Float64bits(e.Time))
	return append(buf, detail...), nil
}
