package engine

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

const (
	lcgMultiplier = 1103515245
	lcgIncrement  = 12345
	lcgMask       = 0x7fffffff
	lcgModulus    = 1 << 31
)

// Rng is a 31-bit linear congruential generator seeded from a string.
// The same seed always yields the same sequence on every platform.
// It is not safe for concurrent use; each round owns its own instance.
type Rng struct {
	state uint64
}

// NewRng folds the seed's characters through a multiply-shift hash
// ((h << 5) - h + c, 32-bit wrapping) and uses the magnitude as the
// initial state. A zero state is replaced by 1 so the sequence never
// degenerates.
func NewRng(seed string) *Rng {
	var h int32
	for _, c := range seed {
		h = (h << 5) - h + int32(c)
	}
	v := int64(h)
	if v < 0 {
		v = -v
	}
	state := uint64(v) & lcgMask
	if state == 0 {
		state = 1
	}
	return &Rng{state: state}
}

// Next returns a float in [0, 1).
func (r *Rng) Next() float64 {
	r.state = (r.state*lcgMultiplier + lcgIncrement) & lcgMask
	return float64(r.state) / lcgModulus
}

// NextInt returns an integer in [min, max] inclusive.
func (r *Rng) NextInt(min, max int) int {
	return int(r.Next()*float64(max-min+1)) + min
}

// NextFloat returns a float in [min, max).
func (r *Rng) NextFloat(min, max float64) float64 {
	return r.Next()*(max-min) + min
}

// State exposes the current internal state for reproducibility checks.
func (r *Rng) State() uint32 {
	return uint32(r.state)
}

// SeedKey composes the layout seed for a participant's round.
func SeedKey(participantKey string, roundIndex int) string {
	return fmt.Sprintf("%s|%d", participantKey, roundIndex)
}

// CoinFlip draws a single unbiased bit from the operating system CSPRNG.
// It is the only entropy source outside the seeded generator and is used
// exclusively for condition assignment.
func CoinFlip() (bool, error) {
	var b [1]byte
	if _, err := rand.Read(b[:]); err != nil {
		return false, fmt.Errorf("read random byte: %w", err)
	}
	return b[0]&1 == 1, nil
}

// HashKey returns a short SHA-256 prefix of a seed or participant key,
// safe to write to logs.
func HashKey(key string) string {
	if key == "" {
		return "empty"
	}
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])[:16]
}
