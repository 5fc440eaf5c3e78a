// Package idlist reads and maintains the plain-text identifier lists shared
// by the scraper, the reconciler and the download engine: one identifier per
// line, UTF-8, blank lines ignored, '#' starting a comment line.
package idlist

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

const filePerm = 0644

// Read returns the identifiers in path in file order. Blank lines and
// comment lines are skipped; duplicates are preserved.
func Read(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read identifier list %s: %w", path, err)
	}
	defer file.Close()

	var ids []string

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		ids = append(ids, line)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan identifier list %s: %w", path, err)
	}

	return ids, nil
}

// DedupResult reports what Dedup did to a list.
type DedupResult struct {
	Original int
	Unique   int
	Changed  bool
	Backup   string
}

// Dedup rewrites path keeping only the first occurrence of each identifier,
// preserving order and comment lines. When the file changes, the original
// content is kept next to it with a .bak extension.
func Dedup(path string) (*DedupResult, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read identifier list %s: %w", path, err)
	}

	lines := strings.Split(strings.TrimRight(string(raw), "\n"), "\n")

	seen := make(map[string]struct{}, len(lines))
	deduped := make([]string, 0, len(lines))

	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}

		if strings.HasPrefix(line, "#") {
			deduped = append(deduped, line)

			continue
		}

		if _, ok := seen[line]; ok {
			continue
		}

		seen[line] = struct{}{}
		deduped = append(deduped, line)
	}

	res := &DedupResult{Original: len(lines), Unique: len(deduped)}

	if len(deduped) == len(lines) {
		return res, nil
	}

	backup := strings.TrimSuffix(path, ".txt") + ".bak"
	if err := os.WriteFile(backup, raw, filePerm); err != nil {
		return nil, fmt.Errorf("failed to write backup %s: %w", backup, err)
	}

	out := strings.Join(deduped, "\n") + "\n"
	if err := os.WriteFile(path, []byte(out), filePerm); err != nil {
		return nil, fmt.Errorf("failed to rewrite identifier list %s: %w", path, err)
	}

	res.Changed = true
	res.Backup = backup

	return res, nil
}
