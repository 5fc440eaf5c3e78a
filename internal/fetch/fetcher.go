package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/Grenzlinie/Crawler-QPOD/internal/ledger"
	"github.com/Grenzlinie/Crawler-QPOD/internal/logctx"
	"github.com/Grenzlinie/Crawler-QPOD/internal/progress"
	"github.com/Grenzlinie/Crawler-QPOD/internal/store"
	"github.com/Grenzlinie/Crawler-QPOD/internal/telemetry"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"
)

// Options configures a Fetcher. Zero values fall back to the documented
// defaults.
type Options struct {
	BaseURL   string
	UserAgent string
	Timeout   time.Duration
	BatchSize int
}

const (
	defaultTimeout   = 30 * time.Second
	defaultBatchSize = 5
)

// Result is the outcome of one dispatched identifier.
type Result struct {
	ID       string
	Outcome  ledger.Outcome
	Detail   string
	Bytes    int64
	Duration time.Duration
}

// Summary aggregates a run. Dispatched counts identifiers handed to workers;
// Skipped counts identifiers filtered out before dispatch.
type Summary struct {
	Total      int
	Skipped    int
	Dispatched int
	Succeeded  int
	Failed     int
}

// Fetcher downloads the artifact for every identifier that is neither
// recorded as done in the ledger nor already present in the content store.
// Each identifier is attempted at most once per run; resumability comes from
// re-running against the same ledger and store.
type Fetcher struct {
	store    *store.Store
	ledger   *ledger.Ledger
	reporter progress.Reporter
	tel      *telemetry.Telemetry
	client   *http.Client
	opts     Options
}

func New(st *store.Store, ld *ledger.Ledger, rep progress.Reporter, tel *telemetry.Telemetry, opts Options) *Fetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}

	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}

	if rep == nil {
		rep = progress.Nop{}
	}

	if tel == nil {
		tel = &telemetry.Telemetry{}
	}

	return &Fetcher{
		store:    st,
		ledger:   ld,
		reporter: rep,
		tel:      tel,
		client: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		opts: opts,
	}
}

// Run filters ids against the ledger and the store, then fetches the rest
// with a bounded worker pool. Per-identifier failures are recorded and never
// abort the pool; Run only returns an error when the context is cancelled
// before every queued identifier has been dispatched.
func (f *Fetcher) Run(ctx context.Context, ids []string) (*Summary, error) {
	logger := logctx.LoggerFromContext(ctx)

	summary := &Summary{Total: len(ids)}

	queue := f.filter(ctx, ids, summary)
	if len(queue) == 0 {
		logger.Info("nothing to fetch, all identifiers accounted for", "total", summary.Total)

		return summary, nil
	}

	logger.Info("dispatching downloads",
		"queued", len(queue),
		"skipped", summary.Skipped,
		"batch_size", f.opts.BatchSize,
		"timeout", f.opts.Timeout.String(),
	)

	f.reporter.Start(len(queue))

	// Workers hand results to a single recorder goroutine; the ledger append
	// and the progress signal stay on one path.
	results := make(chan Result)
	recorderDone := make(chan struct{})

	go func() {
		defer close(recorderDone)

		for res := range results {
			f.ledger.Record(ctx, res.ID, res.Outcome, res.Detail)
			f.reporter.Observe(res.Outcome)

			switch res.Outcome {
			case ledger.Success:
				summary.Succeeded++
			case ledger.Failed:
				summary.Failed++
			}
		}
	}()

	var g errgroup.Group

	g.SetLimit(f.opts.BatchSize)

	for _, id := range queue {
		// Cancellation stops dispatching new queue items; in-flight requests
		// run to completion or to their own deadline.
		if ctx.Err() != nil {
			break
		}

		summary.Dispatched++

		g.Go(func() error {
			results <- f.fetchOne(ctx, id)

			return nil
		})
	}

	_ = g.Wait()

	close(results)
	<-recorderDone

	f.reporter.Finish()

	logger.Info("run complete",
		"dispatched", summary.Dispatched,
		"succeeded", summary.Succeeded,
		"failed", summary.Failed,
		"skipped", summary.Skipped,
	)

	if summary.Dispatched < len(queue) {
		return summary, fmt.Errorf("dispatch interrupted: %w", ctx.Err())
	}

	return summary, nil
}

// filter drops identifiers that are already done per the ledger or already
// present in the store, and collapses duplicates so the queue is a partition.
func (f *Fetcher) filter(ctx context.Context, ids []string, summary *Summary) []string {
	logger := logctx.LoggerFromContext(ctx)

	seen := make(map[string]struct{}, len(ids))
	queue := make([]string, 0, len(ids))

	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}

		seen[id] = struct{}{}

		if f.ledger.IsDone(id) {
			summary.Skipped++

			continue
		}

		if f.store.Has(id) {
			// The artifact survived a lost ledger; back-fill a record once.
			if f.ledger.Current(id) != ledger.Skipped {
				f.ledger.Record(ctx, id, ledger.Skipped, "artifact already in store")
			}

			logger.Debug("skipping identifier, artifact already in store", "identifier", id)

			summary.Skipped++

			continue
		}

		queue = append(queue, id)
	}

	return queue
}

func (f *Fetcher) fetchOne(ctx context.Context, id string) Result {
	logger := logctx.LoggerFromContext(ctx)

	f.tel.IncrementInFlight()
	defer f.tel.DecrementInFlight()

	start := time.Now()

	body, err := f.get(ctx, id)
	if err != nil {
		var reqErr *RequestError
		detail := err.Error()

		if errors.As(err, &reqErr) {
			detail = reqErr.Reason
		}

		logger.Debug("fetch failed", "identifier", id, "err", err)

		return f.finish(Result{ID: id, Outcome: ledger.Failed, Detail: detail, Duration: time.Since(start)})
	}

	n, err := f.store.WriteArtifact(id, bytes.NewReader(body))
	if err != nil {
		storeErr := &StoreError{ID: id, Err: err}

		logger.Error("failed to store artifact", "identifier", id, "err", storeErr)

		return f.finish(Result{ID: id, Outcome: ledger.Failed, Detail: "write error", Duration: time.Since(start)})
	}

	f.tel.RecordArtifactBytes(n)

	logger.Debug("downloaded and saved artifact", "identifier", id, "bytes", n)

	return f.finish(Result{ID: id, Outcome: ledger.Success, Detail: "HTTP 200", Bytes: n, Duration: time.Since(start)})
}

func (f *Fetcher) finish(res Result) Result {
	f.tel.RecordFetch(string(res.Outcome), res.Duration)

	return res
}

// get issues one GET for id with the per-request timeout. The deadline is
// detached from the run context so cancelling the run never aborts a request
// that is already in flight.
func (f *Fetcher) get(ctx context.Context, id string) ([]byte, error) {
	reqCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), f.opts.Timeout)
	defer cancel()

	endpoint := fmt.Sprintf("%s/material/%s/download/cif", f.opts.BaseURL, url.PathEscape(id))

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, &RequestError{ID: id, Reason: "invalid request", Err: err}
	}

	req.Header.Set("User-Agent", f.opts.UserAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &RequestError{ID: id, Reason: classify(err), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Drain a bounded amount so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

		return nil, &RequestError{
			ID:         id,
			StatusCode: resp.StatusCode,
			Reason:     fmt.Sprintf("HTTP %d", resp.StatusCode),
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &RequestError{ID: id, Reason: classify(err), Err: err}
	}

	if len(body) == 0 {
		return nil, &RequestError{ID: id, StatusCode: resp.StatusCode, Reason: "empty body"}
	}

	return body, nil
}

func classify(err error) string {
	if errors.Is(err, context.DeadlineExceeded) || os.IsTimeout(err) {
		return "timeout"
	}

	return "connection error"
}
