package task

import (
	"regexp"
	"strings"
)

// normalize lowers and collapses whitespace so surface-form noise in decoded
// text does not count against the model.
func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

func accuracy(preds, golds []string) float64 {
	if len(golds) == 0 {
		return 0
	}
	correct := 0
	for i := range golds {
		if normalize(preds[i]) == normalize(golds[i]) {
			correct++
		}
	}
	return float64(correct) / float64(len(golds))
}

// macroF1 averages per-label F1 over the labels observed in the gold set.
func macroF1(preds, golds []string) float64 {
	labels := map[string]bool{}
	for _, g := range golds {
		labels[normalize(g)] = true
	}
	if len(labels) == 0 {
		return 0
	}
	var sum float64
	for label := range labels {
		var tp, fp, fn float64
		for i := range golds {
			p := normalize(preds[i]) == label
			g := normalize(golds[i]) == label
			switch {
			case p && g:
				tp++
			case p && !g:
				fp++
			case !p && g:
				fn++
			}
		}
		sum += f1(tp, fp, fn)
	}
	return sum / float64(len(labels))
}

// microF1 pools true/false positives across labels, skipping excluded (the
// null label for relation extraction). Pass "" to count every label.
func microF1(preds, golds []string, excluded string) float64 {
	var tp, fp, fn float64
	for i := range golds {
		p, g := normalize(preds[i]), normalize(golds[i])
		if p == g {
			if g != excluded {
				tp++
			}
			continue
		}
		if p != excluded {
			fp++
		}
		if g != excluded {
			fn++
		}
	}
	return f1(tp, fp, fn)
}

// charF1 is token-bag F1 over characters, the usual KLUE MRC secondary metric.
func charF1(pred, gold string) float64 {
	predCounts := charCounts(normalize(pred))
	goldCounts := charCounts(normalize(gold))
	var overlap, predTotal, goldTotal float64
	for ch, n := range predCounts {
		predTotal += float64(n)
		if m, ok := goldCounts[ch]; ok {
			if m < n {
				overlap += float64(m)
			} else {
				overlap += float64(n)
			}
		}
	}
	for _, n := range goldCounts {
		goldTotal += float64(n)
	}
	if overlap == 0 {
		return 0
	}
	precision := overlap / predTotal
	recall := overlap / goldTotal
	return 2 * precision * recall / (precision + recall)
}

func charCounts(s string) map[rune]int {
	counts := map[rune]int{}
	for _, r := range s {
		if r == ' ' {
			continue
		}
		counts[r]++
	}
	return counts
}

func f1(tp, fp, fn float64) float64 {
	if tp == 0 {
		return 0
	}
	precision := tp / (tp + fp)
	recall := tp / (tp + fn)
	return 2 * precision * recall / (precision + recall)
}

var entityPattern = regexp.MustCompile(`<([^:<>]+):([A-Z]+)>`)

// entities extracts <surface:TYPE> spans from a tagged rendering, keyed by
// surface plus type, with multiplicity.
func entities(s string) map[string]int {
	found := map[string]int{}
	for _, m := range entityPattern.FindAllStringSubmatch(s, -1) {
		found[normalize(m[1])+":"+m[2]]++
	}
	return found
}

// entityF1 computes micro F1 over tagged entity spans.
func entityF1(preds, golds []string) float64 {
	var tp, fp, fn float64
	for i := range golds {
		p, g := entities(preds[i]), entities(golds[i])
		for key, pn := range p {
			gn := g[key]
			if pn < gn {
				tp += float64(pn)
				fn += float64(gn - pn)
			} else {
				tp += float64(gn)
				fp += float64(pn - gn)
			}
		}
		for key, gn := range g {
			if _, ok := p[key]; !ok {
				fn += float64(gn)
			}
		}
	}
	return f1(tp, fp, fn)
}
