// Package corpus owns the seed file list feeding every fuzzing iteration.
package corpus

import (
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
)

// Entry is one corpus seed: either a real on-disk path, or a synthetic
// placeholder used when no input_path was configured (dynamic/external
// modes only; the placeholder name is fixed at "DYNAMIC_FILE").
type Entry struct {
	Path      string
	Synthetic bool
}

var (
	ErrNoInput          = errors.New("corpus: no usable seed files")
	ErrAllFilesTooLarge = errors.New("corpus: every candidate file exceeds max_file_sz")
)

// Corpus is the read-only-after-init seed list shared by every worker.
// A corpus watcher (internal/watch) may append to it at runtime through
// Append, which is the only mutating operation and is itself
// mutex-guarded. The fixed list produced by Init remains authoritative.
type Corpus struct {
	mu      sync.RWMutex
	entries []Entry
}

// Init builds the Corpus from Config.InputPath: a
// directory is enumerated (regular files only, size in (0, maxFileSz]);
// a single file is validated and wrapped in a one-element list; an
// absent path is allowed only when the caller tells us dynamic or
// external mode is active, producing a synthetic placeholder entry.
func Init(inputPath string, maxFileSz int64, dynamicOrExternal bool) (*Corpus, error) {
	if inputPath == "" {
		if !dynamicOrExternal {
			return nil, ErrNoInput
		}

		return &Corpus{entries: []Entry{{Path: "DYNAMIC_FILE", Synthetic: true}}}, nil
	}

	info, err := os.Stat(inputPath)
	if err != nil {
		return nil, err
	}

	if !info.IsDir() {
		if info.Size() <= 0 || info.Size() > maxFileSz {
			return nil, ErrAllFilesTooLarge
		}

		return &Corpus{entries: []Entry{{Path: inputPath}}}, nil
	}

	dirEntries, err := os.ReadDir(inputPath)
	if err != nil {
		return nil, err
	}

	var entries []Entry

	tooLarge := 0

	for _, de := range dirEntries {
		if !de.Type().IsRegular() {
			continue
		}

		fi, err := de.Info()
		if err != nil {
			continue
		}

		if fi.Size() <= 0 {
			continue
		}

		if fi.Size() > maxFileSz {
			tooLarge++
			continue
		}

		entries = append(entries, Entry{Path: filepath.Join(inputPath, de.Name())})
	}

	if len(entries) == 0 {
		if tooLarge > 0 {
			return nil, ErrAllFilesTooLarge
		}

		return nil, ErrNoInput
	}

	return &Corpus{entries: entries}, nil
}

// Pick returns a uniformly random index into the corpus.
func (c *Corpus) Pick(rng *rand.Rand) int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return rng.Intn(len(c.entries))
}

// At returns the entry at index i (no bounds-checking beyond Pick's
// range; callers always derive i from Pick against the same Corpus).
func (c *Corpus) At(i int) Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.entries[i]
}

// Len reports the current corpus size.
func (c *Corpus) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.entries)
}

// Basename returns the seed's file basename, or the synthetic name for
// placeholder entries. Never dereferences a synthetic entry's path as a
// real file.
func (e Entry) Basename() string {
	if e.Synthetic {
		return e.Path
	}

	return filepath.Base(e.Path)
}

// Read returns the seed's bytes. Synthetic entries always read as empty
// without touching the filesystem.
func (e Entry) Read() ([]byte, error) {
	if e.Synthetic {
		return nil, nil
	}

	return os.ReadFile(e.Path)
}

// Append adds newly discovered seed files (e.g. from internal/watch) to
// the live corpus. It never removes or reorders existing entries, so any
// index previously returned by Pick stays valid.
func (c *Corpus) Append(paths ...string) {
	if len(paths) == 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, p := range paths {
		c.entries = append(c.entries, Entry{Path: p})
	}
}
