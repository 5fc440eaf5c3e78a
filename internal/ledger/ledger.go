package ledger

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Grenzlinie/Crawler-QPOD/internal/logctx"
)

const (
	filePerm = 0644
	dirPerm  = 0755

	fieldCount = 5
)

// Outcome is the recorded result of a fetch attempt.
type Outcome string

const (
	Success Outcome = "success"
	Failed  Outcome = "failed"
	Skipped Outcome = "skipped"
)

func (o Outcome) valid() bool {
	return o == Success || o == Failed || o == Skipped
}

// Entry is one attempt record. Entries are append-only; the current status of
// an identifier is the outcome of its most recent entry.
type Entry struct {
	ID        string
	Outcome   Outcome
	Detail    string
	Timestamp time.Time
	Attempt   int
}

// Ledger is a durable record of fetch attempts, backed by a flat append-only
// file with one tab-separated record per line. It is safe for concurrent use.
type Ledger struct {
	mu       sync.Mutex
	file     *os.File
	path     string
	latest   map[string]Outcome
	attempts map[string]int
}

// Open loads the history from path (creating the file and its parent directory
// if needed) and returns a Ledger ready for appends. Malformed lines, including
// a final line truncated by an earlier crash, are skipped with a warning.
func Open(ctx context.Context, path string) (*Ledger, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, dirPerm); err != nil {
			return nil, fmt.Errorf("failed to create ledger directory: %w", err)
		}
	}

	l := &Ledger{
		path:     path,
		latest:   make(map[string]Outcome),
		attempts: make(map[string]int),
	}

	if err := l.load(ctx); err != nil {
		return nil, err
	}

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, filePerm)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger for append: %w", err)
	}

	l.file = file

	return l, nil
}

// Record appends one entry. The append is a single write of one complete line,
// so concurrent records never interleave within a record. A failed write is
// retried once and then dropped; losing a record only costs a redundant
// re-fetch on the next run.
func (l *Ledger) Record(ctx context.Context, id string, outcome Outcome, detail string) {
	logger := logctx.LoggerFromContext(ctx)

	l.mu.Lock()
	defer l.mu.Unlock()

	attempt := l.attempts[id] + 1

	line := strings.Join([]string{
		id,
		string(outcome),
		sanitize(detail),
		time.Now().UTC().Format(time.RFC3339),
		strconv.Itoa(attempt),
	}, "\t") + "\n"

	if _, err := l.file.WriteString(line); err != nil {
		logger.Warn("ledger append failed, retrying once", "identifier", id, "err", err)

		if _, err := l.file.WriteString(line); err != nil {
			logger.Error("ledger record dropped", "identifier", id, "outcome", outcome, "err", err)

			return
		}
	}

	l.latest[id] = outcome
	l.attempts[id] = attempt
}

// IsDone reports whether the most recent recorded outcome for id is Success.
func (l *Ledger) IsDone(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.latest[id] == Success
}

// Current returns the most recent recorded outcome for id, or the empty
// Outcome when the ledger has no entry for it.
func (l *Ledger) Current(id string) Outcome {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.latest[id]
}

// Attempts returns how many entries have been recorded for id across all runs.
func (l *Ledger) Attempts(id string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.attempts[id]
}

// Len returns the number of distinct identifiers with at least one entry.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.latest)
}

// Close releases the underlying file handle.
func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.file.Close()
}

func (l *Ledger) load(ctx context.Context) error {
	logger := logctx.LoggerFromContext(ctx)

	file, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}

		return fmt.Errorf("failed to read ledger: %w", err)
	}
	defer file.Close()

	var malformed int

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}

		entry, err := parseLine(line)
		if err != nil {
			malformed++

			logger.Warn("skipping malformed ledger line", "err", err)

			continue
		}

		l.latest[entry.ID] = entry.Outcome
		if entry.Attempt > l.attempts[entry.ID] {
			l.attempts[entry.ID] = entry.Attempt
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to scan ledger: %w", err)
	}

	if malformed > 0 {
		logger.Warn("ledger loaded with malformed lines skipped", "path", l.path, "skipped", malformed)
	}

	return nil
}

func parseLine(line string) (Entry, error) {
	fields := strings.Split(line, "\t")
	if len(fields) != fieldCount {
		return Entry{}, fmt.Errorf("expected %d fields, got %d", fieldCount, len(fields))
	}

	outcome := Outcome(fields[1])
	if !outcome.valid() {
		return Entry{}, fmt.Errorf("unknown outcome %q", fields[1])
	}

	ts, err := time.Parse(time.RFC3339, fields[3])
	if err != nil {
		return Entry{}, fmt.Errorf("bad timestamp: %w", err)
	}

	attempt, err := strconv.Atoi(fields[4])
	if err != nil {
		return Entry{}, fmt.Errorf("bad attempt count: %w", err)
	}

	return Entry{
		ID:        fields[0],
		Outcome:   outcome,
		Detail:    fields[2],
		Timestamp: ts,
		Attempt:   attempt,
	}, nil
}

// sanitize keeps a record on a single line even when the detail carries
// an error message with embedded separators.
func sanitize(detail string) string {
	detail = strings.ReplaceAll(detail, "\t", " ")
	detail = strings.ReplaceAll(detail, "\n", " ")

	return detail
}
