// Package catalog walks the paginated material listing and collects the
// material identifiers it links to. The output is the plain-text catalog file
// the rest of the pipeline consumes.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/Grenzlinie/Crawler-QPOD/internal/idlist"
	"github.com/Grenzlinie/Crawler-QPOD/internal/logctx"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/net/html"
)

const filePerm = 0644

// Options configures a Scraper.
type Options struct {
	BaseURL      string
	UserAgent    string
	SID          int
	PageInterval time.Duration
	RetryBackoff time.Duration
}

// Scraper extracts material identifiers from the paginated listing at
// <base>/table?sid=N&page=P. Runs are resumable: identifiers already present
// in the output file are never appended again.
type Scraper struct {
	client *http.Client
	opts   Options
}

func New(opts Options) *Scraper {
	return &Scraper{
		client: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		opts: opts,
	}
}

// Run walks every listing page and appends newly seen identifiers to outPath.
// It returns the total number of identifiers known after the walk.
func (s *Scraper) Run(ctx context.Context, outPath string) (int, error) {
	logger := logctx.LoggerFromContext(ctx)

	known := make(map[string]struct{})

	existing, err := idlist.Read(outPath)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return 0, err
	}

	for _, id := range existing {
		known[id] = struct{}{}
	}

	if len(known) > 0 {
		logger.Info("resuming catalog scrape", "existing", len(known))
	}

	out, err := os.OpenFile(outPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, filePerm)
	if err != nil {
		return 0, fmt.Errorf("failed to open catalog file: %w", err)
	}
	defer out.Close()

	page := 0

	for {
		if err := ctx.Err(); err != nil {
			return len(known), err
		}

		ids, hasNext, err := s.fetchPage(ctx, page)
		if err != nil {
			logger.Warn("page fetch failed, backing off", "page", page, "err", err)

			if err := sleep(ctx, s.opts.RetryBackoff); err != nil {
				return len(known), err
			}

			continue
		}

		if len(ids) == 0 {
			logger.Warn("page contained no material links, stopping", "page", page)

			break
		}

		added := 0

		for _, id := range ids {
			if _, ok := known[id]; ok {
				continue
			}

			if _, err := out.WriteString(id + "\n"); err != nil {
				return len(known), fmt.Errorf("failed to append to catalog file: %w", err)
			}

			known[id] = struct{}{}
			added++
		}

		if err := out.Sync(); err != nil {
			return len(known), fmt.Errorf("failed to sync catalog file: %w", err)
		}

		logger.Info("page scraped", "page", page, "new", added, "total", len(known))

		if !hasNext {
			break
		}

		page++

		if err := sleep(ctx, s.opts.PageInterval); err != nil {
			return len(known), err
		}
	}

	return len(known), nil
}

func (s *Scraper) fetchPage(ctx context.Context, page int) ([]string, bool, error) {
	endpoint := fmt.Sprintf("%s/table?sid=%d&page=%d", s.opts.BaseURL, s.opts.SID, page)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to build page request: %w", err)
	}

	req.Header.Set("User-Agent", s.opts.UserAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, false, fmt.Errorf("failed to get page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, false, fmt.Errorf("unexpected status %d for page %d", resp.StatusCode, page)
	}

	doc, err := html.Parse(resp.Body)
	if err != nil {
		return nil, false, fmt.Errorf("failed to parse page: %w", err)
	}

	ids, hasNext := extract(doc)

	return ids, hasNext, nil
}

const materialPathMarker = "/material/"

// extract pulls material identifiers out of the listing table and reports
// whether an enabled next-page control is present.
func extract(doc *html.Node) ([]string, bool) {
	var (
		ids     []string
		hasNext bool
		walk    func(n *html.Node)
	)

	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			href := attr(n, "href")

			if i := strings.Index(href, materialPathMarker); i >= 0 {
				if id := href[i+len(materialPathMarker):]; id != "" {
					ids = append(ids, id)
				}
			}

			if isNextControl(n) && !parentDisabled(n) {
				hasNext = true
			}
		}

		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}

	walk(doc)

	return ids, hasNext
}

func isNextControl(n *html.Node) bool {
	if !strings.Contains(attr(n, "class"), "page-link") {
		return false
	}

	label := strings.TrimSpace(text(n))

	return label == ">" || label == "›" || label == "Next"
}

func parentDisabled(n *html.Node) bool {
	for p := n.Parent; p != nil; p = p.Parent {
		if p.Type == html.ElementNode && p.Data == "li" {
			return strings.Contains(attr(p, "class"), "disabled")
		}
	}

	return false
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}

	return ""
}

func text(n *html.Node) string {
	var sb strings.Builder

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			sb.WriteString(c.Data)
		}
	}

	return sb.String()
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
