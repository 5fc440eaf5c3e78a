package progress

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/Grenzlinie/Crawler-QPOD/internal/ledger"
	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
)

// Reporter surfaces a monotonically increasing completed-count to the
// operator. Implementations must be safe for concurrent Observe calls.
type Reporter interface {
	Start(total int)
	Observe(outcome ledger.Outcome)
	Finish()
}

// Detect picks a bar when stderr is a terminal and falls back to periodic
// log lines otherwise.
func Detect(logger *slog.Logger) Reporter {
	if isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd()) {
		return NewBar(os.Stderr)
	}

	return NewLog(logger, 10*time.Second)
}

// Bar renders a single-line progress bar, redrawn in place.
type Bar struct {
	out io.Writer

	mu        sync.Mutex
	total     int
	done      int
	succeeded int
	failed    int
	start     time.Time
}

func NewBar(out io.Writer) *Bar {
	return &Bar{out: out}
}

func (b *Bar) Start(total int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.total = total
	b.start = time.Now()

	b.render()
}

func (b *Bar) Observe(outcome ledger.Outcome) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.done++

	switch outcome {
	case ledger.Success:
		b.succeeded++
	case ledger.Failed:
		b.failed++
	}

	b.render()
}

func (b *Bar) Finish() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.render()
	fmt.Fprintln(b.out)
}

const barWidth = 30

func (b *Bar) render() {
	filled := 0
	if b.total > 0 {
		filled = b.done * barWidth / b.total
	}

	bar := ""
	for i := 0; i < barWidth; i++ {
		if i < filled {
			bar += "="
		} else {
			bar += " "
		}
	}

	rate := 0.0
	if elapsed := time.Since(b.start).Seconds(); b.done > 0 && elapsed > 0 {
		rate = float64(b.done) / elapsed
	}

	fmt.Fprintf(b.out, "\r[%s] %s/%s ok:%d failed:%d (%.1f/s)   ",
		bar,
		humanize.Comma(int64(b.done)),
		humanize.Comma(int64(b.total)),
		b.succeeded,
		b.failed,
		rate,
	)
}

// Log emits a progress line at most once per interval, plus one final line.
type Log struct {
	logger   *slog.Logger
	interval time.Duration

	mu        sync.Mutex
	total     int
	done      int
	succeeded int
	failed    int
	lastEmit  time.Time
}

func NewLog(logger *slog.Logger, interval time.Duration) *Log {
	return &Log{logger: logger, interval: interval}
}

func (l *Log) Start(total int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.total = total
	l.lastEmit = time.Now()

	l.logger.Info("download started", "queued", total)
}

func (l *Log) Observe(outcome ledger.Outcome) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.done++

	switch outcome {
	case ledger.Success:
		l.succeeded++
	case ledger.Failed:
		l.failed++
	}

	if time.Since(l.lastEmit) < l.interval {
		return
	}

	l.lastEmit = time.Now()
	l.emit()
}

func (l *Log) Finish() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.emit()
}

func (l *Log) emit() {
	l.logger.Info("download progress",
		"completed", l.done,
		"total", l.total,
		"succeeded", l.succeeded,
		"failed", l.failed,
	)
}

// Nop discards all progress signals.
type Nop struct{}

func (Nop) Start(int)              {}
func (Nop) Observe(ledger.Outcome) {}
func (Nop) Finish()                {}
