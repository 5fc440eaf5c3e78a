package reconcile

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Grenzlinie/Crawler-QPOD/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiff(t *testing.T) {
	dir := t.TempDir()

	st, err := store.New(dir)
	require.NoError(t, err)

	_, err = st.WriteArtifact("mat-1", strings.NewReader("a"))
	require.NoError(t, err)
	_, err = st.WriteArtifact("mat-3", strings.NewReader("c"))
	require.NoError(t, err)

	// Casefix artifacts count under their original identifier.
	require.NoError(t, os.WriteFile(
		filepath.Join(dir, "mat-4"+store.CasefixSuffix+"deadbeef"+store.Extension), []byte("d"), 0644))

	idsPath := filepath.Join(t.TempDir(), "ids.txt")
	require.NoError(t, os.WriteFile(idsPath, []byte("mat-1\nmat-2\nmat-4\n"), 0644))

	report, err := Diff(idsPath, st)
	require.NoError(t, err)

	assert.Equal(t, 3, report.Expected)
	assert.Equal(t, 3, report.Actual)
	assert.Equal(t, []string{"mat-2"}, report.Missing)
	assert.Equal(t, []string{"mat-3"}, report.Extra)
}

func TestWriteMissing(t *testing.T) {
	report := &Report{Missing: []string{"mat-2", "mat-5"}}

	path := filepath.Join(t.TempDir(), "missing_ids.txt")
	require.NoError(t, report.WriteMissing(path))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "mat-2\nmat-5\n", string(raw))
}

func TestDiffEmptyStore(t *testing.T) {
	st, err := store.New(t.TempDir())
	require.NoError(t, err)

	idsPath := filepath.Join(t.TempDir(), "ids.txt")
	require.NoError(t, os.WriteFile(idsPath, []byte("mat-1\n"), 0644))

	report, err := Diff(idsPath, st)
	require.NoError(t, err)

	assert.Equal(t, []string{"mat-1"}, report.Missing)
	assert.Empty(t, report.Extra)
}
