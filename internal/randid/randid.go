// Package randid centralizes the engine's pluggable PRNG and the stable
// temp-filename scheme every prepared input is written under.
package randid

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math/rand"
	"path/filepath"
	"time"
)

// Source wraps math/rand.Rand behind the subset of operations the
// engine needs, seeded per worker by NewSource: each worker gets an independently seeded Source so mutation streams never
// collide across threads.
type Source struct {
	rng *rand.Rand
}

// NewSource derives a per-worker seed from a run-wide base seed and the
// worker index by hashing them together, rather than simply adding the
// index (which would leave adjacent workers' streams correlated for
// weak underlying generators).
func NewSource(baseSeed int64, workerIdx int) *Source {
	var buf [16]byte

	binary.LittleEndian.PutUint64(buf[:8], uint64(baseSeed))
	binary.LittleEndian.PutUint64(buf[8:], uint64(workerIdx))

	sum := sha256.Sum256(buf[:])
	seed := int64(binary.LittleEndian.Uint64(sum[:8]))

	return &Source{rng: rand.New(rand.NewSource(seed))}
}

// RandRange returns a uniform random integer in [lo, hi).
func (s *Source) RandRange(lo, hi int) int {
	if hi <= lo {
		return lo
	}

	return lo + s.rng.Intn(hi-lo)
}

// Float64 returns a uniform random float in [0,1).
func (s *Source) Float64() float64 { return s.rng.Float64() }

// Rand exposes the underlying *rand.Rand for callers (e.g. corpus.Pick)
// that need the stdlib interface directly.
func (s *Source) Rand() *rand.Rand { return s.rng }

// Uint64 returns a uniform random 63-bit value (top bit always clear);
// TempFilename keeps the low 62 bits of it.
func (s *Source) Uint64() uint64 { return uint64(s.rng.Int63()) }

// TempFilename builds the prepared-input path for one run, in the
// stable format "<workdir>/.<prog>.<pid>.<unix_seconds>.<62-bit-hex>.<extn>"
// so concurrent workers never collide and crash reproducers can tell
// which worker and run produced a given file from its name alone.
func TempFilename(workDir, prog string, pid int, extn string, src *Source) string {
	name := fmt.Sprintf(".%s.%d.%d.%014x.%s",
		filepath.Base(prog), pid, time.Now().Unix(), src.Uint64()>>1, extn)

	return filepath.Join(workDir, name)
}
