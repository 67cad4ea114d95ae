// Package entropy derives the simulation's random streams. Every agent gets
// its own generator derived from the run seed and its ID, so results do not
// depend on how agents are scheduled across workers.
package entropy

import (
	"crypto/rand"
	"encoding/binary"
	"log/slog"
	mrand "math/rand"
)

const golden = 0x9e3779b97f4a7c15

// Seed returns seed unchanged, or a fresh seed from crypto/rand when seed is 0.
func Seed(seed int64) int64 {
	if seed != 0 {
		return seed
	}
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// This should never happen; fall back to a fixed seed.
		slog.Warn("crypto seed unavailable, using fixed seed", "error", err)
		return 1
	}
	s := int64(binary.LittleEndian.Uint64(buf[:]) >> 1)
	if s == 0 {
		s = 1
	}
	slog.Debug("generated run seed", "seed", s)
	return s
}

// NewStream returns an independent generator for the given stream number.
// The same (seed, stream) pair always yields the same sequence.
func NewStream(seed int64, stream uint64) *mrand.Rand {
	return mrand.New(mrand.NewSource(int64(Mix(uint64(seed) ^ (stream+1)*golden))))
}

// Mix is the splitmix64 finalizer: it spreads nearby inputs across the full
// 64-bit range.
func Mix(x uint64) uint64 {
	x += golden
	x = (x ^ (x >> 30)) * 0xbf58476d1ce4e5b9
	x = (x ^ (x >> 27)) * 0x94d049bb133111eb
	return x ^ (x >> 31)
}
