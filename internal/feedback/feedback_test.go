package feedback

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/hfuzz/hfuzz/internal/assert"
)

func TestCounters_DominatesAcceptsTies(t *testing.T) {
	a := Counters{InstrCount: 5, BranchCount: 2}
	b := Counters{InstrCount: 5, BranchCount: 2}
	assert.True(t, a.Dominates(b))
}

func TestCounters_DominatesOnSingleBetterDimension(t *testing.T) {
	a := Counters{InstrCount: 6, BranchCount: 2}
	b := Counters{InstrCount: 5, BranchCount: 2}
	assert.True(t, a.Dominates(b))
}

func TestCounters_DoesNotDominateOnRegression(t *testing.T) {
	a := Counters{InstrCount: 6, BranchCount: 1}
	b := Counters{InstrCount: 5, BranchCount: 2}
	assert.True(t, !a.Dominates(b))
}

func TestStore_FirstOfferAlwaysWins(t *testing.T) {
	s := NewStore("")
	improved := s.Offer(Candidate{Data: []byte("seed"), Counters: Counters{InstrCount: 1}})
	assert.True(t, improved)

	snap, ok := s.Snapshot()
	assert.True(t, ok)
	assert.Equal(t, string(snap.Data), "seed")
}

func TestStore_RejectsNonDominatingCandidate(t *testing.T) {
	s := NewStore("")
	s.Offer(Candidate{Data: []byte("a"), Counters: Counters{InstrCount: 10}})

	improved := s.Offer(Candidate{Data: []byte("b"), Counters: Counters{InstrCount: 1}})
	assert.True(t, !improved)

	snap, _ := s.Snapshot()
	assert.Equal(t, string(snap.Data), "a")
}

func TestStore_PublishesCurrentBestAtomically(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir)

	s.Offer(Candidate{Data: []byte("winner"), Counters: Counters{InstrCount: 1}})

	data, err := os.ReadFile(filepath.Join(dir, "CURRENT_BEST"))
	assert.Nil(t, err)
	assert.Equal(t, string(data), "winner")

	_, err = os.Stat(filepath.Join(dir, ".tmp.CURRENT_BEST"))
	assert.True(t, err != nil)
}

func TestStore_ConcurrentOffersConvergeToADominant(t *testing.T) {
	s := NewStore("")

	var wg sync.WaitGroup

	for i := 1; i <= 50; i++ {
		wg.Add(1)

		go func(n int) {
			defer wg.Done()
			s.Offer(Candidate{Data: []byte("x"), Counters: Counters{InstrCount: uint64(n)}})
		}(i)
	}

	wg.Wait()

	snap, ok := s.Snapshot()
	assert.True(t, ok)
	assert.Equal(t, snap.Counters.InstrCount, uint64(50))
}

func TestFingerprint_StableForSameBytes(t *testing.T) {
	a := Fingerprint([]byte("hello"))
	b := Fingerprint([]byte("hello"))
	assert.Equal(t, a, b)
}

func TestFingerprint_DiffersForDifferentBytes(t *testing.T) {
	a := Fingerprint([]byte("hello"))
	b := Fingerprint([]byte("world"))
	assert.True(t, a != b)
}
