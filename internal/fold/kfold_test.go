package fold_test

import (
	"testing"

	"github.com/pkot5/kluetune/internal/fold"
	"github.com/pkot5/kluetune/internal/task"
)

func TestSplitSizes(t *testing.T) {
	tests := []struct {
		n, k      int
		wantSizes []int
	}{
		{10, 2, []int{5, 5}},
		{10, 3, []int{4, 3, 3}},
		{100, 10, []int{10, 10, 10, 10, 10, 10, 10, 10, 10, 10}},
		{7, 3, []int{3, 2, 2}},
	}
	for _, tt := range tests {
		spans, err := fold.Split(tt.n, tt.k)
		if err != nil {
			t.Errorf("Split(%d, %d): %v", tt.n, tt.k, err)
			continue
		}
		next := 0
		for i, span := range spans {
			if span.Start != next {
				t.Errorf("Split(%d, %d) fold %d: start %d, want %d", tt.n, tt.k, i, span.Start, next)
			}
			if got := span.End - span.Start; got != tt.wantSizes[i] {
				t.Errorf("Split(%d, %d) fold %d: size %d, want %d", tt.n, tt.k, i, got, tt.wantSizes[i])
			}
			next = span.End
		}
		if next != tt.n {
			t.Errorf("Split(%d, %d): folds cover %d", tt.n, tt.k, next)
		}
	}
}

func TestSplitInvalid(t *testing.T) {
	if _, err := fold.Split(10, 1); err == nil {
		t.Error("expected error for k=1")
	}
	if _, err := fold.Split(3, 10); err == nil {
		t.Error("expected error for k > n")
	}
}

func TestPartition(t *testing.T) {
	entries := make([]task.Entry, 6)
	for i := range entries {
		entries[i] = task.Entry{Input: string(rune('a' + i))}
	}
	train, dev := fold.Partition(entries, fold.Span{Start: 2, End: 4})
	if len(dev) != 2 || dev[0].Input != "c" || dev[1].Input != "d" {
		t.Errorf("dev = %v", dev)
	}
	if len(train) != 4 {
		t.Fatalf("train size = %d, want 4", len(train))
	}
	wantTrain := []string{"a", "b", "e", "f"}
	for i, want := range wantTrain {
		if train[i].Input != want {
			t.Errorf("train[%d] = %q, want %q", i, train[i].Input, want)
		}
	}
}
