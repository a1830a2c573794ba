package journal

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// ReadEntries loads the full audit log back into memory. Intended for
// the CLI and tests; the log is append-only so this never races the
// writer beyond seeing a prefix.
func ReadEntries(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, fmt.Errorf("audit log line %d: %w", line, err)
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan audit log: %w", err)
	}
	return entries, nil
}

// FilterByType keeps entries of the given type.
func FilterByType(entries []Entry, t EntryType) []Entry {
	var out []Entry
	for _, e := range entries {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// FilterSince keeps entries at or after the cutoff.
func FilterSince(entries []Entry, cutoff time.Time) []Entry {
	var out []Entry
	for _, e := range entries {
		if !e.Time.Before(cutoff) {
			out = append(out, e)
		}
	}
	return out
}
