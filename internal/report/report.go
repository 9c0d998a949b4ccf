// Package report summarizes a finished run: one row per fold from the saved
// result files, plus the best fold per metric.
package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/pkot5/kluetune/internal/metric"
)

type FoldResult struct {
	Fold    int           `json:"fold"`
	Metrics metric.Record `json:"metrics"`
}

// Collect reads every fold directory under outputDir that has a result file
// for the task, in fold order.
func Collect(outputDir, taskName string) ([]FoldResult, error) {
	dirEntries, err := os.ReadDir(outputDir)
	if err != nil {
		return nil, fmt.Errorf("reading output dir: %w", err)
	}
	var results []FoldResult
	for _, de := range dirEntries {
		if !de.IsDir() {
			continue
		}
		foldNum, err := strconv.Atoi(de.Name())
		if err != nil {
			continue
		}
		path := filepath.Join(outputDir, de.Name(), "result_"+taskName+".txt")
		rec, err := metric.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, err
		}
		results = append(results, FoldResult{Fold: foldNum, Metrics: rec})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Fold < results[j].Fold })
	if len(results) == 0 {
		return nil, fmt.Errorf("no result files for task %q under %s", taskName, outputDir)
	}
	return results, nil
}

// Generate renders collected fold results in the requested format.
func Generate(outputDir, taskName, format string, w io.Writer) error {
	results, err := Collect(outputDir, taskName)
	if err != nil {
		return err
	}
	switch format {
	case "markdown":
		return writeMarkdown(results, w)
	case "json":
		return writeJSON(results, w)
	default:
		return writeTable(results, w)
	}
}

// metricNames returns the union of metric keys across folds, sorted.
func metricNames(results []FoldResult) []string {
	seen := map[string]bool{}
	for _, r := range results {
		for k := range r.Metrics {
			seen[k] = true
		}
	}
	names := make([]string, 0, len(seen))
	for k := range seen {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// BestFolds maps each metric to the fold that scored highest on it.
func BestFolds(results []FoldResult) map[string]int {
	best := map[string]int{}
	bestVal := map[string]float64{}
	for _, r := range results {
		for k, v := range r.Metrics {
			if cur, ok := bestVal[k]; !ok || v > cur {
				bestVal[k] = v
				best[k] = r.Fold
			}
		}
	}
	return best
}

func writeTable(results []FoldResult, w io.Writer) error {
	names := metricNames(results)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	header := "FOLD"
	for _, name := range names {
		header += "\t" + strings.ToUpper(name)
	}
	fmt.Fprintln(tw, header)
	fmt.Fprintln(tw, strings.Repeat("-", 60))
	for _, r := range results {
		row := strconv.Itoa(r.Fold)
		for _, name := range names {
			if v, ok := r.Metrics[name]; ok {
				row += fmt.Sprintf("\t%.4f", v)
			} else {
				row += "\t-"
			}
		}
		fmt.Fprintln(tw, row)
	}
	best := BestFolds(results)
	row := "best"
	for _, name := range names {
		row += fmt.Sprintf("\tfold %d", best[name])
	}
	fmt.Fprintln(tw, row)
	return tw.Flush()
}

func writeMarkdown(results []FoldResult, w io.Writer) error {
	names := metricNames(results)
	fmt.Fprintf(w, "| Fold |")
	for _, name := range names {
		fmt.Fprintf(w, " %s |", name)
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "|---|")
	for range names {
		fmt.Fprintf(w, "---|")
	}
	fmt.Fprintln(w)
	for _, r := range results {
		fmt.Fprintf(w, "| %d |", r.Fold)
		for _, name := range names {
			if v, ok := r.Metrics[name]; ok {
				fmt.Fprintf(w, " %.4f |", v)
			} else {
				fmt.Fprintf(w, " - |")
			}
		}
		fmt.Fprintln(w)
	}
	return nil
}

func writeJSON(results []FoldResult, w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(results)
}
