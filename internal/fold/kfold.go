package fold

import (
	"fmt"

	"github.com/pkot5/kluetune/internal/task"
)

// Span is one fold's dev block, [Start, End) over the processed dataset.
// Everything outside the block is that fold's training set.
type Span struct {
	Start, End int
}

// Split produces k contiguous dev blocks over n examples. The first n%k folds
// get one extra example, matching the usual k-fold convention, so the blocks
// partition the dataset exactly.
func Split(n, k int) ([]Span, error) {
	if k < 2 {
		return nil, fmt.Errorf("fold: need at least 2 folds, got %d", k)
	}
	if k > n {
		return nil, fmt.Errorf("fold: cannot split %d examples into %d folds", n, k)
	}
	spans := make([]Span, k)
	base := n / k
	extra := n % k
	start := 0
	for i := range spans {
		size := base
		if i < extra {
			size++
		}
		spans[i] = Span{Start: start, End: start + size}
		start += size
	}
	return spans, nil
}

// Partition materializes one fold's train and dev sets.
func Partition(entries []task.Entry, span Span) (train, dev []task.Entry) {
	train = make([]task.Entry, 0, len(entries)-(span.End-span.Start))
	train = append(train, entries[:span.Start]...)
	train = append(train, entries[span.End:]...)
	dev = entries[span.Start:span.End]
	return train, dev
}
