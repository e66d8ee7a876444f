// Package session persists a SESSION.lock manifest describing one
// fuzzing run's configuration and corpus fingerprint, so a resumed run
// against the same work_dir can detect an incompatible config change
// before it silently corrupts the corpus or feedback store.
//
// Same canonical-JSON-then-hash idiom as packagemanager/lockfile.go, and
// the same use of Masterminds/semver/v3 to express "is this version
// acceptable" constraints, retargeted from package dependency resolution
// to schema-version compatibility checking.
package session

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	semver "github.com/Masterminds/semver/v3"
)

// LockFileName is the manifest's fixed name inside a run's work_dir.
const LockFileName = "SESSION.lock"

// Manifest is the deterministic, canonical-JSON-serialized record of one
// run's identity.
type Manifest struct {
	SchemaVersion  string   `json:"schema_version"`
	Cmdline        []string `json:"cmdline"`
	FileExtn       string   `json:"file_extn"`
	ThreadsMax     int      `json:"threads_max"`
	CorpusSHA256   string   `json:"corpus_sha256"`
}

// Write canonicalizes m and stages-then-renames it into workDir/SESSION.lock,
// the same atomic-publish idiom the feedback store uses for CURRENT_BEST.
func Write(workDir string, m Manifest) error {
	b, err := marshalCanonical(m)
	if err != nil {
		return fmt.Errorf("session: marshal manifest: %w", err)
	}

	tmp := filepath.Join(workDir, ".tmp."+LockFileName)
	final := filepath.Join(workDir, LockFileName)

	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return fmt.Errorf("session: stage manifest: %w", err)
	}

	if err := os.Rename(tmp, final); err != nil {
		return fmt.Errorf("session: publish manifest: %w", err)
	}

	return nil
}

// Load reads and parses workDir/SESSION.lock. It returns os.ErrNotExist
// (wrapped) when no manifest has been published yet: a fresh work_dir
// is not an error.
func Load(workDir string) (Manifest, error) {
	b, err := os.ReadFile(filepath.Join(workDir, LockFileName))
	if err != nil {
		return Manifest{}, err
	}

	var m Manifest
	if err := json.Unmarshal(b, &m); err != nil {
		return Manifest{}, fmt.Errorf("session: parse manifest: %w", err)
	}

	return m, nil
}

// CheckCompatible verifies that an existing manifest's schema version
// satisfies the want constraint (e.g. "1.x"). Precedence between
// sancov/perf feedback sources is resolved at config load time, not
// here: CheckCompatible only ever judges schema version.
func CheckCompatible(existing Manifest, want string) error {
	constraint, err := semver.NewConstraint(want)
	if err != nil {
		return fmt.Errorf("session: invalid schema-version constraint %q: %w", want, err)
	}

	v, err := semver.NewVersion(normalizeForSemver(existing.SchemaVersion))
	if err != nil {
		return fmt.Errorf("session: existing manifest has unparseable schema_version %q: %w", existing.SchemaVersion, err)
	}

	if !constraint.Check(v) {
		return fmt.Errorf("session: existing SESSION.lock schema_version %q does not satisfy %q", existing.SchemaVersion, want)
	}

	return nil
}

// normalizeForSemver turns a loose schema tag like "1.x" into a concrete
// version semver.NewVersion can parse, by replacing a trailing "x"
// component with 0. Manifests always store the concrete version that
// was actually in effect, never the constraint itself.
func normalizeForSemver(s string) string {
	if s == "" {
		return "0.0.0"
	}

	if strings.HasSuffix(s, ".x") {
		s = strings.TrimSuffix(s, "x") + "0"
	}

	return s
}

// FingerprintCorpus hashes the sorted basenames and sizes of a seed
// directory's regular files into a single stable digest, used as
// Manifest.CorpusSHA256 so two runs against differently-shaped corpora
// under the same work_dir are detectably different even if nothing else
// about the config changed.
func FingerprintCorpus(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}

		return "", err
	}

	type seed struct {
		name string
		size int64
	}

	var seeds []seed

	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}

		fi, err := e.Info()
		if err != nil {
			continue
		}

		seeds = append(seeds, seed{name: e.Name(), size: fi.Size()})
	}

	sort.Slice(seeds, func(i, j int) bool { return seeds[i].name < seeds[j].name })

	h := sha256.New()

	for _, s := range seeds {
		fmt.Fprintf(h, "%s:%d\n", s.name, s.size)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// marshalCanonical serializes v as indented JSON: struct field order
// from encoding/json is already deterministic, so the only requirement on the caller is that any slice
// field be pre-sorted.
func marshalCanonical(v any) ([]byte, error) {
	return json.MarshalIndent(v, "", "  ")
}
