package task

import (
	"github.com/pkot5/kluetune/internal/metric"
)

// vinca is the in-house generation task that rides along with the KLUE suite.
// Records are already text2text; evaluation is exact match, with the mean
// sequence confidence reported alongside.
type vincaProcessor struct{}

type vincaRecord struct {
	Input  string `json:"input"`
	Output string `json:"output"`
}

func (p *vincaProcessor) Task() string     { return "vinca" }
func (p *vincaProcessor) WantScores() bool { return true }

func (p *vincaProcessor) Load(dataDir, split string) ([]Entry, error) {
	var records []vincaRecord
	if err := loadRecords(dataDir, p.Task(), split, &records); err != nil {
		return nil, err
	}
	entries := make([]Entry, len(records))
	for i, r := range records {
		entries[i] = Entry{Input: r.Input, Target: r.Output}
	}
	return entries, nil
}

func (p *vincaProcessor) ComputeMetrics(outputs []string, entries []Entry, scores []float64) metric.Record {
	rec := metric.Record{"em": accuracy(outputs, targets(entries))}
	if len(scores) > 0 {
		var sum float64
		for _, s := range scores {
			sum += s
		}
		rec["mean_score"] = sum / float64(len(scores))
	}
	return rec
}
