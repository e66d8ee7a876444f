package randid

import (
	"strings"
	"testing"

	"github.com/hfuzz/hfuzz/internal/assert"
)

func TestNewSource_DifferentWorkersDiverge(t *testing.T) {
	a := NewSource(1, 0)
	b := NewSource(1, 1)

	assert.True(t, a.RandRange(0, 1<<30) != b.RandRange(0, 1<<30))
}

func TestNewSource_SameSeedSameWorkerReproducible(t *testing.T) {
	a := NewSource(42, 3)
	b := NewSource(42, 3)

	assert.Equal(t, a.RandRange(0, 1<<30), b.RandRange(0, 1<<30))
}

func TestRandRange_StaysInBounds(t *testing.T) {
	s := NewSource(7, 0)

	for i := 0; i < 100; i++ {
		v := s.RandRange(10, 20)
		assert.True(t, v >= 10 && v < 20)
	}
}

func TestRandRange_DegenerateRangeReturnsLo(t *testing.T) {
	s := NewSource(7, 0)
	assert.Equal(t, s.RandRange(5, 5), 5)
}

func TestTempFilename_HasExpectedShape(t *testing.T) {
	s := NewSource(9, 0)
	name := TempFilename("/tmp/work", "/usr/bin/target", 1234, "fuzz", s)

	assert.True(t, strings.HasPrefix(name, "/tmp/work/.target.1234."))
	assert.True(t, strings.HasSuffix(name, ".fuzz"))
}

func TestTempFilename_DistinctAcrossCalls(t *testing.T) {
	s := NewSource(9, 0)
	a := TempFilename("/tmp/work", "target", 1, "fuzz", s)
	b := TempFilename("/tmp/work", "target", 1, "fuzz", s)

	assert.True(t, a != b)
}
