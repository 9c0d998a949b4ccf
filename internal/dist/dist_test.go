package dist_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pkot5/kluetune/internal/dist"
	"github.com/pkot5/kluetune/internal/store"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		pr   dist.PartialResult
	}{
		{"outputs only", dist.PartialResult{Outputs: []string{"a", "b"}}},
		{"outputs and scores", dist.PartialResult{Outputs: []string{"x"}, Scores: []float64{-1.25}}},
		{"empty", dist.PartialResult{}},
		{"korean text", dist.PartialResult{Outputs: []string{"정치", "스포츠"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := dist.Encode(tt.pr)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			got, err := dist.Decode(data)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if len(got.Outputs) != len(tt.pr.Outputs) {
				t.Fatalf("outputs: got %d, want %d", len(got.Outputs), len(tt.pr.Outputs))
			}
			for i := range tt.pr.Outputs {
				if got.Outputs[i] != tt.pr.Outputs[i] {
					t.Errorf("outputs[%d]: got %q, want %q", i, got.Outputs[i], tt.pr.Outputs[i])
				}
			}
			if len(got.Scores) != len(tt.pr.Scores) {
				t.Fatalf("scores: got %d, want %d", len(got.Scores), len(tt.pr.Scores))
			}
			for i := range tt.pr.Scores {
				if got.Scores[i] != tt.pr.Scores[i] {
					t.Errorf("scores[%d]: got %v, want %v", i, got.Scores[i], tt.pr.Scores[i])
				}
			}
		})
	}
}

// exchange runs publish, barrier, collect for every rank concurrently over
// one store and returns each rank's merged result.
func exchange(ctx context.Context, s store.Store, run string, shards []dist.PartialResult) ([]dist.PartialResult, error) {
	worldSize := len(shards)
	merged := make([]dist.PartialResult, worldSize)
	g, ctx := errgroup.WithContext(ctx)
	for rank := 0; rank < worldSize; rank++ {
		rank := rank
		g.Go(func() error {
			grp, err := dist.NewGroup(s, dist.WorkerContext{Rank: rank, WorldSize: worldSize}, run)
			if err != nil {
				return err
			}
			if err := grp.Publish(ctx, shards[rank]); err != nil {
				return err
			}
			if err := grp.Barrier(ctx); err != nil {
				return err
			}
			merged[rank], err = grp.Collect(ctx)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return merged, nil
}

func TestTwoWorkerExchange(t *testing.T) {
	s := store.NewMemoryStore()
	merged, err := exchange(context.Background(), s, "run-a", []dist.PartialResult{
		{Outputs: []string{"a", "b"}},
		{Outputs: []string{"c"}},
	})
	if err != nil {
		t.Fatalf("worker group: %v", err)
	}

	want := []string{"a", "b", "c"}
	for rank, got := range merged {
		if len(got.Outputs) != len(want) {
			t.Fatalf("rank %d: got %v, want %v", rank, got.Outputs, want)
		}
		for i := range want {
			if got.Outputs[i] != want[i] {
				t.Errorf("rank %d outputs[%d]: got %q, want %q", rank, i, got.Outputs[i], want[i])
			}
		}
		if len(got.Scores) != 0 {
			t.Errorf("rank %d: got %d scores, want 0", rank, len(got.Scores))
		}
	}
}

func TestCollectTotalLengthAndOrder(t *testing.T) {
	for _, worldSize := range []int{1, 2, 3, 5} {
		t.Run(fmt.Sprintf("world=%d", worldSize), func(t *testing.T) {
			shards := make([]dist.PartialResult, worldSize)
			total := 0
			for rank := 0; rank < worldSize; rank++ {
				shardSize := rank + 1 // uneven shards on purpose
				for i := 0; i < shardSize; i++ {
					shards[rank].Outputs = append(shards[rank].Outputs, fmt.Sprintf("r%d-%d", rank, i))
				}
				total += shardSize
			}

			merged, err := exchange(context.Background(), store.NewMemoryStore(), "run-a", shards)
			if err != nil {
				t.Fatalf("worker group: %v", err)
			}
			for rank := range merged {
				if len(merged[rank].Outputs) != total {
					t.Fatalf("rank %d: got %d outputs, want %d", rank, len(merged[rank].Outputs), total)
				}
				idx := 0
				for src := 0; src < worldSize; src++ {
					for i := 0; i < src+1; i++ {
						want := fmt.Sprintf("r%d-%d", src, i)
						if merged[rank].Outputs[idx] != want {
							t.Errorf("rank %d outputs[%d]: got %q, want %q", rank, idx, merged[rank].Outputs[idx], want)
						}
						idx++
					}
				}
			}
		})
	}
}

func TestCollectMissingShard(t *testing.T) {
	// Rank 1 reaches the barrier without publishing; everyone's collect must
	// name the absent rank instead of skipping it.
	s := store.NewMemoryStore()
	errs := make([]error, 3)

	g, ctx := errgroup.WithContext(context.Background())
	for rank := 0; rank < 3; rank++ {
		rank := rank
		g.Go(func() error {
			grp, err := dist.NewGroup(s, dist.WorkerContext{Rank: rank, WorldSize: 3}, "run-a")
			if err != nil {
				return err
			}
			if rank != 1 {
				if err := grp.Publish(ctx, dist.PartialResult{Outputs: []string{"x"}}); err != nil {
					return err
				}
			}
			if err := grp.Barrier(ctx); err != nil {
				return err
			}
			_, errs[rank] = grp.Collect(ctx)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("worker group: %v", err)
	}
	for rank, err := range errs {
		if !errors.Is(err, dist.ErrMissingShard) {
			t.Errorf("rank %d: got %v, want ErrMissingShard", rank, err)
		}
	}
}

func TestSingleWorker(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()
	grp, err := dist.NewGroup(s, dist.WorkerContext{Rank: 0, WorldSize: 1}, "run-a")
	if err != nil {
		t.Fatal(err)
	}

	pr := dist.PartialResult{Outputs: []string{"only"}, Scores: []float64{0.5}}
	if err := grp.Publish(ctx, pr); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := grp.Barrier(ctx); err != nil {
		t.Fatalf("Barrier: %v", err)
	}
	merged, err := grp.Collect(ctx)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(merged.Outputs) != 1 || merged.Outputs[0] != "only" {
		t.Errorf("outputs: got %v, want [only]", merged.Outputs)
	}
	if len(merged.Scores) != 1 || merged.Scores[0] != 0.5 {
		t.Errorf("scores: got %v, want [0.5]", merged.Scores)
	}
}

func TestBarrierBlocksUntilAllArrive(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()

	first, err := dist.NewGroup(s, dist.WorkerContext{Rank: 0, WorldSize: 2}, "run-a")
	if err != nil {
		t.Fatal(err)
	}
	released := make(chan error, 1)
	go func() {
		released <- first.Barrier(ctx)
	}()

	select {
	case err := <-released:
		t.Fatalf("barrier released before all workers arrived: %v", err)
	case <-time.After(150 * time.Millisecond):
	}

	second, err := dist.NewGroup(s, dist.WorkerContext{Rank: 1, WorldSize: 2}, "run-a")
	if err != nil {
		t.Fatal(err)
	}
	if err := second.Barrier(ctx); err != nil {
		t.Fatalf("second Barrier: %v", err)
	}
	select {
	case err := <-released:
		if err != nil {
			t.Fatalf("first Barrier: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("first barrier never released")
	}
}

func TestBarrierHonorsCancellation(t *testing.T) {
	s := store.NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())

	grp, err := dist.NewGroup(s, dist.WorkerContext{Rank: 0, WorldSize: 2}, "run-a")
	if err != nil {
		t.Fatal(err)
	}
	released := make(chan error, 1)
	go func() {
		released <- grp.Barrier(ctx)
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-released:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("got %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("barrier did not release on cancellation")
	}
}

func TestConsecutiveRunsAreIsolated(t *testing.T) {
	// The store persists between runs (Redis in production). A second run with
	// a fresh run name must not release its barrier off the first run's
	// completed counters, and must never collect the first run's shards.
	s := store.NewMemoryStore()
	if _, err := exchange(context.Background(), s, "run-a", []dist.PartialResult{
		{Outputs: []string{"stale"}},
		{Outputs: []string{"stale"}},
	}); err != nil {
		t.Fatalf("first run: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	grp, err := dist.NewGroup(s, dist.WorkerContext{Rank: 0, WorldSize: 2}, "run-b")
	if err != nil {
		t.Fatal(err)
	}
	if err := grp.Publish(ctx, dist.PartialResult{Outputs: []string{"fresh"}}); err != nil {
		t.Fatal(err)
	}
	released := make(chan error, 1)
	go func() {
		released <- grp.Barrier(ctx)
	}()
	select {
	case err := <-released:
		t.Fatalf("second run's barrier released with no peer arrived: %v", err)
	case <-time.After(150 * time.Millisecond):
	}
	cancel()
	if err := <-released; !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}

	// Even past the barrier, the second run sees only its own keyspace.
	_, err = grp.Collect(context.Background())
	if !errors.Is(err, dist.ErrMissingShard) {
		t.Errorf("got %v, want ErrMissingShard", err)
	}
}

func TestLaggingWorkerKeepsItsRound(t *testing.T) {
	// A worker re-reading round one after a peer already published round two
	// must still get round one's shards.
	s := store.NewMemoryStore()
	ctx := context.Background()

	groups := make([]*dist.Group, 2)
	for rank := range groups {
		grp, err := dist.NewGroup(s, dist.WorkerContext{Rank: rank, WorldSize: 2}, "run-a")
		if err != nil {
			t.Fatal(err)
		}
		groups[rank] = grp
	}

	g, gctx := errgroup.WithContext(ctx)
	for rank, grp := range groups {
		rank, grp := rank, grp
		g.Go(func() error {
			if err := grp.Publish(gctx, dist.PartialResult{Outputs: []string{fmt.Sprintf("round1-r%d", rank)}}); err != nil {
				return err
			}
			return grp.Barrier(gctx)
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("round one: %v", err)
	}

	// Rank 0 races ahead and publishes its next-round shard.
	if err := groups[0].Publish(ctx, dist.PartialResult{Outputs: []string{"round2-r0"}}); err != nil {
		t.Fatal(err)
	}

	merged, err := groups[1].Collect(ctx)
	if err != nil {
		t.Fatalf("lagging collect: %v", err)
	}
	want := []string{"round1-r0", "round1-r1"}
	if len(merged.Outputs) != len(want) {
		t.Fatalf("got %v, want %v", merged.Outputs, want)
	}
	for i := range want {
		if merged.Outputs[i] != want[i] {
			t.Errorf("outputs[%d]: got %q, want %q", i, merged.Outputs[i], want[i])
		}
	}
}

func TestNewGroupValidation(t *testing.T) {
	s := store.NewMemoryStore()
	if _, err := dist.NewGroup(s, dist.WorkerContext{Rank: 0, WorldSize: 1}, ""); err == nil {
		t.Error("expected error for empty run name")
	}
	if _, err := dist.NewGroup(s, dist.WorkerContext{Rank: 2, WorldSize: 2}, "run-a"); err == nil {
		t.Error("expected error for invalid worker context")
	}
}

func TestWorkerContextValidate(t *testing.T) {
	tests := []struct {
		worker  dist.WorkerContext
		wantErr bool
	}{
		{dist.WorkerContext{Rank: 0, WorldSize: 1}, false},
		{dist.WorkerContext{Rank: 3, WorldSize: 4}, false},
		{dist.WorkerContext{Rank: 4, WorldSize: 4}, true},
		{dist.WorkerContext{Rank: -1, WorldSize: 2}, true},
		{dist.WorkerContext{Rank: 0, WorldSize: 0}, true},
	}
	for _, tt := range tests {
		err := tt.worker.Validate()
		if (err != nil) != tt.wantErr {
			t.Errorf("Validate(%+v) = %v, wantErr %v", tt.worker, err, tt.wantErr)
		}
	}
}
