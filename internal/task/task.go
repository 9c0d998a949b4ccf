// Package task holds the text2text processors for the supported KLUE tasks.
// A processor turns raw task records into input/target pairs for the model
// and scores decoded predictions against the gold entries.
package task

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/pkot5/kluetune/internal/metric"
)

// ErrUnknownTask is returned by Lookup for names outside the fixed task set.
var ErrUnknownTask = errors.New("task: unknown task")

// Entry is one text2text example. Answers carries alternative gold answers
// for span-extraction tasks; Target is always Answers[0] when it is set.
type Entry struct {
	Input   string
	Target  string
	Answers []string
}

type Processor interface {
	// Task returns the task name, e.g. "ynat".
	Task() string
	// Load reads the split's records from dataDir and renders them as entries.
	Load(dataDir, split string) ([]Entry, error)
	// WantScores reports whether evaluation must collect per-sequence
	// confidence scores for this task.
	WantScores() bool
	// ComputeMetrics scores merged predictions against the full entry list.
	// scores is nil for tasks that do not request them.
	ComputeMetrics(outputs []string, entries []Entry, scores []float64) metric.Record
}

var processors = map[string]func() Processor{
	"ynat": func() Processor { return &ynatProcessor{} },
	"nli":  func() Processor { return &nliProcessor{} },
	"sts":  func() Processor { return &stsProcessor{} },
	"ner":  func() Processor { return &nerProcessor{} },
	"re":   func() Processor { return &reProcessor{} },
	"mrc":  func() Processor { return &mrcProcessor{threshold: defaultMRCThreshold} },
}

// Lookup resolves a task name to its processor. The vinca task sits outside
// the KLUE set and is handled separately.
func Lookup(name string) (Processor, error) {
	if name == "vinca" {
		return &vincaProcessor{}, nil
	}
	factory, ok := processors[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTask, name)
	}
	return factory(), nil
}

// Names lists every supported task name, sorted.
func Names() []string {
	names := make([]string, 0, len(processors)+1)
	for name := range processors {
		names = append(names, name)
	}
	names = append(names, "vinca")
	sort.Strings(names)
	return names
}

// loadRecords reads dataDir/<task>/<split>.json into the task's record type.
func loadRecords(dataDir, taskName, split string, out any) error {
	path := filepath.Join(dataDir, taskName, split+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s data: %w", taskName, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}
