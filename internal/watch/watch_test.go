package watch

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hfuzz/hfuzz/internal/assert"
)

func TestCorpusWatcher_DetectsNewFile(t *testing.T) {
	dir := t.TempDir()

	cw, err := NewCorpusWatcher(dir, 4096)
	assert.Nil(t, err)
	defer cw.Close()

	newFile := filepath.Join(dir, "dropped.fuzz")
	assert.Nil(t, os.WriteFile(newFile, []byte("x"), 0o644))

	var found bool

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, p := range cw.Drain() {
			if p == newFile {
				found = true
			}
		}

		if found {
			break
		}

		time.Sleep(20 * time.Millisecond)
	}

	assert.True(t, found)
}

func TestCorpusWatcher_DrainIsEmptyWithoutNewFiles(t *testing.T) {
	dir := t.TempDir()

	cw, err := NewCorpusWatcher(dir, 4096)
	assert.Nil(t, err)
	defer cw.Close()

	assert.Equal(t, len(cw.Drain()), 0)
}

func TestCorpusWatcher_DetectsWriteToExistingFile(t *testing.T) {
	dir := t.TempDir()

	existing := filepath.Join(dir, "seed.fuzz")
	assert.Nil(t, os.WriteFile(existing, []byte("x"), 0o644))

	cw, err := NewCorpusWatcher(dir, 4096)
	assert.Nil(t, err)
	defer cw.Close()

	assert.Nil(t, os.WriteFile(existing, []byte("xy"), 0o644))

	var found bool

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, p := range cw.Drain() {
			if p == existing {
				found = true
			}
		}

		if found {
			break
		}

		time.Sleep(20 * time.Millisecond)
	}

	assert.True(t, found)
}

func TestCorpusWatcher_IgnoresOversizedFile(t *testing.T) {
	dir := t.TempDir()

	cw, err := NewCorpusWatcher(dir, 2)
	assert.Nil(t, err)
	defer cw.Close()

	tooBig := filepath.Join(dir, "big.fuzz")
	assert.Nil(t, os.WriteFile(tooBig, []byte("xxxxxxxxxx"), 0o644))

	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, len(cw.Drain()), 0)
}

func TestCorpusWatcher_IgnoresDirectories(t *testing.T) {
	dir := t.TempDir()

	cw, err := NewCorpusWatcher(dir, 4096)
	assert.Nil(t, err)
	defer cw.Close()

	assert.Nil(t, os.Mkdir(filepath.Join(dir, "subdir"), 0o755))

	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, len(cw.Drain()), 0)
}
