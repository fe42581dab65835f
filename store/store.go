// Package store persists per-spec coverage artifacts under the coverage
// directory, merging new increments into whatever a previous run of the same
// spec left behind.
package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/parkuman/cypress-code-coverage-v8/coverage"
)

const (
	rawSuffix       = "_v8.json"
	canonicalSuffix = ".json"
)

// Store reads and writes the two artifacts kept per spec: the raw engine
// coverage accumulated across tests, and the canonical report produced at
// finalization.
type Store interface {
	// RawExists reports whether any raw coverage has been stored for a spec.
	// An empty report and a missing one are not the same thing: only the
	// former means tests actually ran.
	RawExists(spec string) (bool, error)
	// LoadRaw returns the accumulated raw report for a spec, or an empty
	// report when none exists yet.
	LoadRaw(spec string) (*coverage.RawReport, error)
	// MergeAndSaveRaw folds r into the stored raw report and writes the
	// union back.
	MergeAndSaveRaw(spec string, r *coverage.RawReport) error
	// LoadCanonical returns the stored canonical map for a spec, or an
	// empty map when none exists yet.
	LoadCanonical(spec string) (coverage.Map, error)
	// MergeAndSaveCanonical folds m into the stored canonical map and
	// writes the merge back.
	MergeAndSaveCanonical(spec string, m coverage.Map) error
	DeleteRaw(spec string) error
	DeleteCanonical(spec string) error
}

type fileStore struct {
	fs  afero.Fs
	dir string
}

// New returns a Store rooted at dir on fs. The directory is created lazily on
// the first write.
func New(fs afero.Fs, dir string) Store {
	return &fileStore{fs: fs, dir: dir}
}

// specKey flattens a spec identifier into a single path component so specs in
// nested directories do not scatter artifacts across the coverage dir.
func specKey(spec string) string {
	key := strings.ReplaceAll(spec, "/", "_")
	return strings.ReplaceAll(key, "\\", "_")
}

func (s *fileStore) rawPath(spec string) string {
	return filepath.Join(s.dir, specKey(spec)+rawSuffix)
}

func (s *fileStore) canonicalPath(spec string) string {
	return filepath.Join(s.dir, specKey(spec)+canonicalSuffix)
}

func (s *fileStore) RawExists(spec string) (bool, error) {
	ok, err := afero.Exists(s.fs, s.rawPath(spec))
	if err != nil {
		return false, fmt.Errorf("checking raw coverage for %q: %w", spec, err)
	}
	return ok, nil
}

func (s *fileStore) LoadRaw(spec string) (*coverage.RawReport, error) {
	data, err := afero.ReadFile(s.fs, s.rawPath(spec))
	if os.IsNotExist(err) {
		return &coverage.RawReport{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading raw coverage for %q: %w", spec, err)
	}
	r, err := coverage.ParseRawReport(data)
	if err != nil {
		return nil, fmt.Errorf("parsing raw coverage for %q: %w", spec, err)
	}
	return r, nil
}

func (s *fileStore) MergeAndSaveRaw(spec string, r *coverage.RawReport) error {
	prior, err := s.LoadRaw(spec)
	if err != nil {
		return err
	}
	merged := coverage.Merge(prior, r)
	data, err := merged.Marshal()
	if err != nil {
		return fmt.Errorf("encoding raw coverage for %q: %w", spec, err)
	}
	return s.write(s.rawPath(spec), data)
}

func (s *fileStore) LoadCanonical(spec string) (coverage.Map, error) {
	data, err := afero.ReadFile(s.fs, s.canonicalPath(spec))
	if os.IsNotExist(err) {
		return coverage.Map{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading coverage for %q: %w", spec, err)
	}
	m, err := coverage.ParseMap(data)
	if err != nil {
		return nil, fmt.Errorf("parsing coverage for %q: %w", spec, err)
	}
	return m, nil
}

func (s *fileStore) MergeAndSaveCanonical(spec string, m coverage.Map) error {
	prior, err := s.LoadCanonical(spec)
	if err != nil {
		return err
	}
	prior.Merge(m)
	data, err := prior.Marshal()
	if err != nil {
		return fmt.Errorf("encoding coverage for %q: %w", spec, err)
	}
	return s.write(s.canonicalPath(spec), data)
}

func (s *fileStore) DeleteRaw(spec string) error {
	return s.remove(s.rawPath(spec))
}

func (s *fileStore) DeleteCanonical(spec string) error {
	return s.remove(s.canonicalPath(spec))
}

func (s *fileStore) remove(path string) error {
	err := s.fs.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// write lands data through a temp file and a rename so a crash mid-write
// never leaves a torn artifact behind.
func (s *fileStore) write(path string, data []byte) error {
	if err := s.fs.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("creating coverage dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", tmp, err)
	}
	if err := s.fs.Rename(tmp, path); err != nil {
		return fmt.Errorf("replacing %s: %w", path, err)
	}
	return nil
}
