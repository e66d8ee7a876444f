// Package mutate implements the byte-level mutation strategies applied to
// a corpus seed before each run.
package mutate

import "math/rand"

// Mutator is the capability interface the worker pool depends on. A
// concrete implementation need not be goroutine-safe: the worker pool
// gives each worker its own Mutator instance seeded independently.
type Mutator interface {
	// Resize grows or shrinks buf toward a plausible mutated length,
	// never past maxSz.
	Resize(buf []byte, maxSz int) []byte

	// Mangle applies the configured bit/byte flips and dictionary
	// substitutions in place and returns the (possibly reallocated)
	// result.
	Mangle(buf []byte) []byte

	// PostMangle is an optional second pass external tooling or a
	// structure-aware strategy can hook; DefaultMutator's is a no-op.
	PostMangle(buf []byte) []byte
}

// DefaultMutator is the byte-flipping strategy: every byte is
// independently flipped with probability FlipRate, then a bounded
// number of dictionary tokens are spliced in at random offsets.
type DefaultMutator struct {
	Rng        *rand.Rand
	FlipRate   float64
	Dictionary [][]byte
}

// NewDefaultMutator builds a mutator seeded independently per worker.
func NewDefaultMutator(seed int64, flipRate float64, dict [][]byte) *DefaultMutator {
	return &DefaultMutator{
		Rng:        rand.New(rand.NewSource(seed)),
		FlipRate:   flipRate,
		Dictionary: dict,
	}
}

// Resize grows buf by a small random delta (never exceeding maxSz) or
// shrinks it by truncation, the length-jitter step that runs before the
// byte-flip pass.
func (m *DefaultMutator) Resize(buf []byte, maxSz int) []byte {
	if maxSz <= 0 {
		return buf
	}

	if len(buf) == 0 {
		n := 1 + m.Rng.Intn(maxSz)
		return make([]byte, n)
	}

	switch m.Rng.Intn(3) {
	case 0:
		grow := 1 + m.Rng.Intn(maxSz/4+1)

		n := len(buf) + grow
		if n > maxSz {
			n = maxSz
		}

		out := make([]byte, n)
		copy(out, buf)

		return out
	case 1:
		n := len(buf) / 2
		if n == 0 {
			n = 1
		}

		return buf[:n]
	default:
		return buf
	}
}

// Mangle flips individual bytes with probability FlipRate, then splices
// in up to three dictionary entries at random offsets.
func (m *DefaultMutator) Mangle(buf []byte) []byte {
	for i := range buf {
		if m.Rng.Float64() < m.FlipRate {
			buf[i] ^= 1 << uint(m.Rng.Intn(8))
		}
	}

	if len(m.Dictionary) == 0 || len(buf) == 0 {
		return buf
	}

	splices := m.Rng.Intn(4)

	for s := 0; s < splices; s++ {
		tok := m.Dictionary[m.Rng.Intn(len(m.Dictionary))]
		if len(tok) == 0 || len(tok) > len(buf) {
			continue
		}

		off := m.Rng.Intn(len(buf) - len(tok) + 1)
		copy(buf[off:off+len(tok)], tok)
	}

	return buf
}

// PostMangle is DefaultMutator's no-op hook; AdaptiveMutator inherits it
// unchanged.
func (m *DefaultMutator) PostMangle(buf []byte) []byte { return buf }

// AdaptiveMutator wraps DefaultMutator and raises its flip rate when
// recent iterations have stopped producing feedback improvements.
type AdaptiveMutator struct {
	*DefaultMutator

	baseRate    float64
	stallCount  int
	stallCutoff int
}

// NewAdaptiveMutator builds an adaptive mutator around a fresh
// DefaultMutator.
func NewAdaptiveMutator(seed int64, flipRate float64, dict [][]byte, stallCutoff int) *AdaptiveMutator {
	return &AdaptiveMutator{
		DefaultMutator: NewDefaultMutator(seed, flipRate, dict),
		baseRate:       flipRate,
		stallCutoff:    stallCutoff,
	}
}

// NoteOutcome records one iteration's feedback comparison; improved
// resets the escalation counter. The worker pool's loop does not call
// it.
func (m *AdaptiveMutator) NoteOutcome(improved bool) {
	if improved {
		m.stallCount = 0
		m.FlipRate = m.baseRate

		return
	}

	m.stallCount++

	if m.stallCutoff > 0 && m.stallCount%m.stallCutoff == 0 {
		next := m.FlipRate * 1.5
		if next > 0.5 {
			next = 0.5
		}

		m.FlipRate = next
	}
}
