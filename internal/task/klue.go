package task

import (
	"github.com/pkot5/kluetune/internal/metric"
)

// ynat: topic classification over news headlines.
type ynatProcessor struct{}

type ynatRecord struct {
	Title string `json:"title"`
	Label string `json:"label"`
}

func (p *ynatProcessor) Task() string     { return "ynat" }
func (p *ynatProcessor) WantScores() bool { return false }

func (p *ynatProcessor) Load(dataDir, split string) ([]Entry, error) {
	var records []ynatRecord
	if err := loadRecords(dataDir, p.Task(), split, &records); err != nil {
		return nil, err
	}
	entries := make([]Entry, len(records))
	for i, r := range records {
		entries[i] = Entry{Input: "ynat: " + r.Title, Target: r.Label}
	}
	return entries, nil
}

func (p *ynatProcessor) ComputeMetrics(outputs []string, entries []Entry, _ []float64) metric.Record {
	golds := targets(entries)
	return metric.Record{
		"accuracy": accuracy(outputs, golds),
		"macro_f1": macroF1(outputs, golds),
	}
}

// nli: natural language inference, three-way labels rendered as text.
type nliProcessor struct{}

type nliRecord struct {
	Premise    string `json:"premise"`
	Hypothesis string `json:"hypothesis"`
	Label      string `json:"label"`
}

func (p *nliProcessor) Task() string     { return "nli" }
func (p *nliProcessor) WantScores() bool { return false }

func (p *nliProcessor) Load(dataDir, split string) ([]Entry, error) {
	var records []nliRecord
	if err := loadRecords(dataDir, p.Task(), split, &records); err != nil {
		return nil, err
	}
	entries := make([]Entry, len(records))
	for i, r := range records {
		entries[i] = Entry{
			Input:  "nli premise: " + r.Premise + " hypothesis: " + r.Hypothesis,
			Target: r.Label,
		}
	}
	return entries, nil
}

func (p *nliProcessor) ComputeMetrics(outputs []string, entries []Entry, _ []float64) metric.Record {
	return metric.Record{"accuracy": accuracy(outputs, targets(entries))}
}

// sts: sentence similarity reduced to its binary rendering.
type stsProcessor struct{}

type stsRecord struct {
	Sentence1   string `json:"sentence1"`
	Sentence2   string `json:"sentence2"`
	BinaryLabel int    `json:"binary_label"`
}

const (
	stsSame      = "같음"
	stsDifferent = "다름"
)

func (p *stsProcessor) Task() string     { return "sts" }
func (p *stsProcessor) WantScores() bool { return false }

func (p *stsProcessor) Load(dataDir, split string) ([]Entry, error) {
	var records []stsRecord
	if err := loadRecords(dataDir, p.Task(), split, &records); err != nil {
		return nil, err
	}
	entries := make([]Entry, len(records))
	for i, r := range records {
		target := stsDifferent
		if r.BinaryLabel == 1 {
			target = stsSame
		}
		entries[i] = Entry{
			Input:  "sts sentence1: " + r.Sentence1 + " sentence2: " + r.Sentence2,
			Target: target,
		}
	}
	return entries, nil
}

func (p *stsProcessor) ComputeMetrics(outputs []string, entries []Entry, _ []float64) metric.Record {
	golds := targets(entries)
	var tp, fp, fn float64
	for i := range golds {
		pred := normalize(outputs[i]) == normalize(stsSame)
		gold := normalize(golds[i]) == normalize(stsSame)
		switch {
		case pred && gold:
			tp++
		case pred && !gold:
			fp++
		case !pred && gold:
			fn++
		}
	}
	return metric.Record{
		"f1":       f1(tp, fp, fn),
		"accuracy": accuracy(outputs, golds),
	}
}

// ner: named entity recognition; targets are the sentence with <surface:TYPE>
// tags inlined, scored by entity-level micro F1.
type nerProcessor struct{}

type nerRecord struct {
	Sentence string `json:"sentence"`
	Tagged   string `json:"tagged"`
}

func (p *nerProcessor) Task() string     { return "ner" }
func (p *nerProcessor) WantScores() bool { return false }

func (p *nerProcessor) Load(dataDir, split string) ([]Entry, error) {
	var records []nerRecord
	if err := loadRecords(dataDir, p.Task(), split, &records); err != nil {
		return nil, err
	}
	entries := make([]Entry, len(records))
	for i, r := range records {
		entries[i] = Entry{Input: "ner: " + r.Sentence, Target: r.Tagged}
	}
	return entries, nil
}

func (p *nerProcessor) ComputeMetrics(outputs []string, entries []Entry, _ []float64) metric.Record {
	return metric.Record{"entity_f1": entityF1(outputs, targets(entries))}
}

// re: relation extraction; micro F1 with no_relation excluded from the pool.
type reProcessor struct{}

type reRecord struct {
	Sentence string `json:"sentence"`
	Subject  string `json:"subject"`
	Object   string `json:"object"`
	Label    string `json:"label"`
}

const noRelation = "no_relation"

func (p *reProcessor) Task() string     { return "re" }
func (p *reProcessor) WantScores() bool { return false }

func (p *reProcessor) Load(dataDir, split string) ([]Entry, error) {
	var records []reRecord
	if err := loadRecords(dataDir, p.Task(), split, &records); err != nil {
		return nil, err
	}
	entries := make([]Entry, len(records))
	for i, r := range records {
		entries[i] = Entry{
			Input:  "re subject: " + r.Subject + " object: " + r.Object + " sentence: " + r.Sentence,
			Target: r.Label,
		}
	}
	return entries, nil
}

func (p *reProcessor) ComputeMetrics(outputs []string, entries []Entry, _ []float64) metric.Record {
	return metric.Record{"micro_f1": microF1(outputs, targets(entries), noRelation)}
}

// mrc: span extraction. Collects sequence scores; a generation scoring below
// the threshold is treated as predicting "답 없음" (no answer).
type mrcProcessor struct {
	threshold float64
}

type mrcRecord struct {
	Context      string   `json:"context"`
	Question     string   `json:"question"`
	Answers      []string `json:"answers"`
	Unanswerable bool     `json:"unanswerable"`
}

const (
	noAnswer            = "답 없음"
	defaultMRCThreshold = -2.0
)

func (p *mrcProcessor) Task() string     { return "mrc" }
func (p *mrcProcessor) WantScores() bool { return true }

func (p *mrcProcessor) Load(dataDir, split string) ([]Entry, error) {
	var records []mrcRecord
	if err := loadRecords(dataDir, p.Task(), split, &records); err != nil {
		return nil, err
	}
	entries := make([]Entry, len(records))
	for i, r := range records {
		answers := r.Answers
		if r.Unanswerable || len(answers) == 0 {
			answers = []string{noAnswer}
		}
		entries[i] = Entry{
			Input:   "mrc question: " + r.Question + " context: " + r.Context,
			Target:  answers[0],
			Answers: answers,
		}
	}
	return entries, nil
}

func (p *mrcProcessor) ComputeMetrics(outputs []string, entries []Entry, scores []float64) metric.Record {
	var em, cf float64
	for i, e := range entries {
		pred := outputs[i]
		if scores != nil && scores[i] < p.threshold {
			pred = noAnswer
		}
		best := 0.0
		matched := false
		for _, gold := range e.Answers {
			if normalize(pred) == normalize(gold) {
				matched = true
			}
			if s := charF1(pred, gold); s > best {
				best = s
			}
		}
		if matched {
			em++
		}
		cf += best
	}
	n := float64(len(entries))
	if n == 0 {
		return metric.Record{"em": 0, "char_f1": 0}
	}
	return metric.Record{"em": em / n, "char_f1": cf / n}
}

func targets(entries []Entry) []string {
	golds := make([]string, len(entries))
	for i, e := range entries {
		golds[i] = e.Target
	}
	return golds
}
