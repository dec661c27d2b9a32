package crypto

import (
	"encoding/hex"
	"hash"

	"golang.org/x/crypto/blake2b"
)

// Fingerprint accumulates an order-sensitive digest over (name, content) pairs.
type Fingerprint struct {
	h hash.Hash
}

// NewFingerprint returns an empty 256-bit blake2b fingerprint.
func NewFingerprint() *Fingerprint {
	h, _ := blake2b.New256(nil)
	return &Fingerprint{h: h}
}

// Add mixes one named entry into the digest. Lengths are written first so that
// ("ab","c") and ("a","bc") never collide.
func (f *Fingerprint) Add(name, content string) {
	writeField(f.h, name)
	writeField(f.h, content)
}

// Sum returns the hex digest.
func (f *Fingerprint) Sum() string {
	return hex.EncodeToString(f.h.Sum(nil))
}

func writeField(h hash.Hash, value string) {
	var size [8]byte
	n := uint64(len(value))
	for i := 0; i < 8; i++ {
		size[i] = byte(n >> (8 * i))
	}
	h.Write(size[:])
	h.Write([]byte(value))
}
