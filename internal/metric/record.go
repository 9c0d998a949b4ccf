package metric

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
)

// Record maps metric names to scalar values for one evaluation round.
type Record map[string]float64

// Better reports whether next should replace best. A candidate wins if it is
// greater-or-equal on at least one of best's tracked keys, not all of them.
// This loose rule is intentional and matches the selection behavior the
// result files were produced with.
func Better(next, best Record) bool {
	for k, v := range best {
		if nv, ok := next[k]; ok && nv >= v {
			return true
		}
	}
	return false
}

// Best reduces per-epoch records to the retained record for a fold.
// Returns nil for an empty input.
func Best(records []Record) Record {
	var best Record
	for _, rec := range records {
		if best == nil || Better(rec, best) {
			best = rec
		}
	}
	return best
}

// WriteFile writes a record as key=value lines, one metric per line,
// keys sorted for stable output.
func WriteFile(path string, rec Record) error {
	keys := make([]string, 0, len(rec))
	for k := range rec {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(strconv.FormatFloat(rec[k], 'g', -1, 64))
		b.WriteByte('\n')
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("writing result file: %w", err)
	}
	return nil
}

// ReadFile parses a key=value result file back into a record.
func ReadFile(path string) (Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading result file: %w", err)
	}
	rec := Record{}
	for i, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		eq := strings.IndexByte(line, '=')
		if eq < 0 {
			return nil, fmt.Errorf("result file %s line %d: missing '='", path, i+1)
		}
		v, err := strconv.ParseFloat(line[eq+1:], 64)
		if err != nil {
			return nil, fmt.Errorf("result file %s line %d: %w", path, i+1, err)
		}
		rec[line[:eq]] = v
	}
	return rec, nil
}
