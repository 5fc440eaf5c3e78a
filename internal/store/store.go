package store

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const (
	dirPerm = 0755

	// Extension of every artifact in the store.
	Extension = ".cif"

	// CasefixSuffix disambiguates identifiers that collide on
	// case-insensitive filesystems.
	CasefixSuffix = "__casefix-"
)

// Store is a directory of artifacts keyed by identifier. Presence of
// <identifier>.cif is the on-disk marker for a completed download.
//
// The store is partitioned by identifier, so no two writers ever touch the
// same artifact path; the only shared state is the case-collision index.
type Store struct {
	dir string

	mu    sync.Mutex
	lower map[string]string // lowercased artifact name -> actual name
}

// New opens the store rooted at dir, creating the directory if absent, and
// indexes the artifacts already present.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	s := &Store{
		dir:   dir,
		lower: make(map[string]string),
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read store directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), Extension) {
			continue
		}

		s.lower[strings.ToLower(entry.Name())] = entry.Name()
	}

	return s, nil
}

// Dir returns the store's root directory.
func (s *Store) Dir() string {
	return s.dir
}

// Has reports whether an artifact for id exists under the name id resolves
// to: the plain name, or the casefix name when a different-cased artifact
// occupies the plain one. The index is consulted instead of the filesystem so
// a case-insensitive filesystem cannot mistake one colliding identifier's
// artifact for another's.
func (s *Store) Has(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := s.resolveName(id)
	existing, ok := s.lower[strings.ToLower(name)]

	return ok && existing == name
}

// Path returns the artifact path id resolves to, applying the casefix suffix
// when a different-cased artifact already occupies the name.
func (s *Store) Path(id string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return filepath.Join(s.dir, s.resolveName(id))
}

func (s *Store) resolveName(id string) string {
	name := id + Extension

	existing, ok := s.lower[strings.ToLower(name)]
	if !ok || existing == name {
		return name
	}

	sum := sha1.Sum([]byte(id))

	return id + CasefixSuffix + hex.EncodeToString(sum[:])[:8] + Extension
}

// ArtifactWriter stages an artifact in a temporary file. Commit renames it
// into place so a partial write is never visible under the final name.
type ArtifactWriter struct {
	store *Store
	tmp   *os.File
	name  string
	done  bool
}

// Create begins an atomic write of the artifact for id.
func (s *Store) Create(id string) (*ArtifactWriter, error) {
	s.mu.Lock()
	name := s.resolveName(id)
	s.mu.Unlock()

	tmp, err := os.CreateTemp(s.dir, "."+name+".tmp-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp artifact: %w", err)
	}

	return &ArtifactWriter{store: s, tmp: tmp, name: name}, nil
}

func (w *ArtifactWriter) Write(p []byte) (int, error) {
	return w.tmp.Write(p)
}

// Commit flushes the staged bytes and renames the artifact into place.
func (w *ArtifactWriter) Commit() error {
	if w.done {
		return fmt.Errorf("artifact already finalized")
	}

	w.done = true

	if err := w.tmp.Sync(); err != nil {
		w.tmp.Close()
		os.Remove(w.tmp.Name())

		return fmt.Errorf("failed to sync artifact: %w", err)
	}

	if err := w.tmp.Close(); err != nil {
		os.Remove(w.tmp.Name())

		return fmt.Errorf("failed to close artifact: %w", err)
	}

	if err := os.Rename(w.tmp.Name(), filepath.Join(w.store.dir, w.name)); err != nil {
		os.Remove(w.tmp.Name())

		return fmt.Errorf("failed to finalize artifact: %w", err)
	}

	w.store.mu.Lock()
	w.store.lower[strings.ToLower(w.name)] = w.name
	w.store.mu.Unlock()

	return nil
}

// Abort discards the staged bytes, leaving any previously committed artifact
// untouched.
func (w *ArtifactWriter) Abort() {
	if w.done {
		return
	}

	w.done = true
	w.tmp.Close()
	os.Remove(w.tmp.Name())
}

// WriteArtifact atomically stores the contents of r as the artifact for id
// and returns the number of bytes written.
func (s *Store) WriteArtifact(id string, r io.Reader) (int64, error) {
	w, err := s.Create(id)
	if err != nil {
		return 0, err
	}

	n, err := io.Copy(w, r)
	if err != nil {
		w.Abort()

		return n, fmt.Errorf("failed to write artifact: %w", err)
	}

	if err := w.Commit(); err != nil {
		return n, err
	}

	return n, nil
}

// Stems returns the identifiers of the artifacts on disk, with any casefix
// suffix stripped.
func (s *Store) Stems() (map[string]struct{}, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read store directory: %w", err)
	}

	stems := make(map[string]struct{}, len(entries))

	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), Extension) {
			continue
		}

		stem := strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))
		if i := strings.Index(stem, CasefixSuffix); i >= 0 {
			stem = stem[:i]
		}

		stems[stem] = struct{}{}
	}

	return stems, nil
}
