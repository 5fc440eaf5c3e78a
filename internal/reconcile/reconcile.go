// Package reconcile diffs the identifier catalog against the content store
// and produces the missing-identifier list the download engine consumes.
package reconcile

import (
	"fmt"
	"os"
	"sort"

	"github.com/Grenzlinie/Crawler-QPOD/internal/idlist"
	"github.com/Grenzlinie/Crawler-QPOD/internal/store"
)

const filePerm = 0644

// Report is the result of diffing an identifier list against a store.
type Report struct {
	Expected int
	Actual   int
	Missing  []string // listed identifiers with no artifact, sorted
	Extra    []string // artifacts with no listing, sorted
}

// Diff compares the identifiers in idsPath with the artifacts in st.
func Diff(idsPath string, st *store.Store) (*Report, error) {
	ids, err := idlist.Read(idsPath)
	if err != nil {
		return nil, err
	}

	expected := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		expected[id] = struct{}{}
	}

	actual, err := st.Stems()
	if err != nil {
		return nil, err
	}

	report := &Report{Expected: len(expected), Actual: len(actual)}

	for id := range expected {
		if _, ok := actual[id]; !ok {
			report.Missing = append(report.Missing, id)
		}
	}

	for id := range actual {
		if _, ok := expected[id]; !ok {
			report.Extra = append(report.Extra, id)
		}
	}

	sort.Strings(report.Missing)
	sort.Strings(report.Extra)

	return report, nil
}

// WriteMissing persists the missing identifiers to path, one per line.
func (r *Report) WriteMissing(path string) error {
	var out string
	for _, id := range r.Missing {
		out += id + "\n"
	}

	if err := os.WriteFile(path, []byte(out), filePerm); err != nil {
		return fmt.Errorf("failed to write missing identifiers: %w", err)
	}

	return nil
}
