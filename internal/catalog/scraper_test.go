package catalog

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Grenzlinie/Crawler-QPOD/internal/idlist"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"
)

func listingPage(ids []string, lastPage bool) string {
	var rows strings.Builder
	for _, id := range ids {
		fmt.Fprintf(&rows, `<tr><th><a href="/material/%s">%s</a></th><td>details</td></tr>`, id, id)
	}

	nextClass := "page-item"
	if lastPage {
		nextClass = "page-item disabled"
	}

	return fmt.Sprintf(`<!DOCTYPE html>
<html><body>
<table><tbody>%s</tbody></table>
<ul class="pagination">
  <li class="page-item"><a class="page-link" href="?page=0">1</a></li>
  <li class="%s"><a class="page-link" href="#">&gt;</a></li>
</ul>
</body></html>`, rows.String(), nextClass)
}

func newListingServer(t *testing.T, pages [][]string) *httptest.Server {
	t.Helper()

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page := 0
		fmt.Sscanf(r.URL.Query().Get("page"), "%d", &page)

		if page >= len(pages) {
			http.NotFound(w, r)

			return
		}

		fmt.Fprint(w, listingPage(pages[page], page == len(pages)-1))
	}))
}

func TestExtract(t *testing.T) {
	doc, err := html.Parse(strings.NewReader(listingPage([]string{"mat-1", "mat-2"}, false)))
	require.NoError(t, err)

	ids, hasNext := extract(doc)

	assert.Equal(t, []string{"mat-1", "mat-2"}, ids)
	assert.True(t, hasNext)
}

func TestExtractLastPage(t *testing.T) {
	doc, err := html.Parse(strings.NewReader(listingPage([]string{"mat-9"}, true)))
	require.NoError(t, err)

	ids, hasNext := extract(doc)

	assert.Equal(t, []string{"mat-9"}, ids)
	assert.False(t, hasNext, "a disabled next control means the walk is over")
}

func TestRunWalksAllPages(t *testing.T) {
	ts := newListingServer(t, [][]string{
		{"mat-1", "mat-2"},
		{"mat-3"},
	})
	defer ts.Close()

	outPath := filepath.Join(t.TempDir(), "catalog.txt")

	s := New(Options{
		BaseURL:      ts.URL,
		UserAgent:    "qpod-crawler-test",
		SID:          73,
		PageInterval: time.Millisecond,
		RetryBackoff: time.Millisecond,
	})

	total, err := s.Run(context.Background(), outPath)
	require.NoError(t, err)
	assert.Equal(t, 3, total)

	ids, err := idlist.Read(outPath)
	require.NoError(t, err)
	assert.Equal(t, []string{"mat-1", "mat-2", "mat-3"}, ids)
}

func TestRunResumesWithoutDuplicates(t *testing.T) {
	ts := newListingServer(t, [][]string{
		{"mat-1", "mat-2"},
		{"mat-3"},
	})
	defer ts.Close()

	outPath := filepath.Join(t.TempDir(), "catalog.txt")
	require.NoError(t, os.WriteFile(outPath, []byte("mat-1\nmat-3\n"), 0644))

	s := New(Options{
		BaseURL:      ts.URL,
		UserAgent:    "qpod-crawler-test",
		SID:          73,
		PageInterval: time.Millisecond,
		RetryBackoff: time.Millisecond,
	})

	total, err := s.Run(context.Background(), outPath)
	require.NoError(t, err)
	assert.Equal(t, 3, total)

	ids, err := idlist.Read(outPath)
	require.NoError(t, err)
	assert.Equal(t, []string{"mat-1", "mat-3", "mat-2"}, ids)
}

func TestRunStopsOnEmptyPage(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<html><body><table><tbody></tbody></table></body></html>`)
	}))
	defer ts.Close()

	outPath := filepath.Join(t.TempDir(), "catalog.txt")

	s := New(Options{
		BaseURL:      ts.URL,
		UserAgent:    "qpod-crawler-test",
		SID:          73,
		PageInterval: time.Millisecond,
		RetryBackoff: time.Millisecond,
	})

	total, err := s.Run(context.Background(), outPath)
	require.NoError(t, err)
	assert.Equal(t, 0, total)
}
