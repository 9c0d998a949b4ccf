// Package dist implements the cross-worker result exchange used during
// distributed evaluation. Each worker publishes its shard's results under its
// rank for the current round, waits at a barrier until every peer has arrived,
// then collects all shards back in rank order.
//
// All keys carry the group's run name and the round number, so consecutive
// runs over the same store never see each other's counters or slots, and a
// worker lagging a round behind its peers cannot merge their newer shards.
package dist

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/pkot5/kluetune/internal/store"
)

// ErrMissingShard is returned by Collect when a peer's slot is empty at
// barrier release, which means the publish-before-barrier convention was
// violated or a worker died.
var ErrMissingShard = errors.New("dist: missing shard")

// barrierPoll is how often a blocked worker re-reads the arrival counter.
const barrierPoll = 20 * time.Millisecond

// WorkerContext identifies one worker within a fixed-size group.
type WorkerContext struct {
	Rank      int
	WorldSize int
}

func (w WorkerContext) Validate() error {
	if w.WorldSize < 1 {
		return fmt.Errorf("dist: world size %d, must be >= 1", w.WorldSize)
	}
	if w.Rank < 0 || w.Rank >= w.WorldSize {
		return fmt.Errorf("dist: rank %d out of range for world size %d", w.Rank, w.WorldSize)
	}
	return nil
}

// IsMain reports whether this worker is rank 0, which owns result files.
func (w WorkerContext) IsMain() bool {
	return w.Rank == 0
}

// PartialResult holds one worker's decoded outputs for its evaluation shard,
// plus per-example sequence scores for tasks that ask for them. Scores is
// empty for all other tasks.
type PartialResult struct {
	Outputs []string  `msgpack:"outputs"`
	Scores  []float64 `msgpack:"scores"`
}

func Encode(pr PartialResult) ([]byte, error) {
	data, err := msgpack.Marshal(&pr)
	if err != nil {
		return nil, fmt.Errorf("encoding partial result: %w", err)
	}
	return data, nil
}

func Decode(data []byte) (PartialResult, error) {
	var pr PartialResult
	if err := msgpack.Unmarshal(data, &pr); err != nil {
		return PartialResult{}, fmt.Errorf("decoding partial result: %w", err)
	}
	return pr, nil
}

// Group binds a worker to its peers through a shared store. All workers in a
// run must construct their groups over the same store with the same run name
// and call Barrier the same number of times, in the same order. The run name
// namespaces every key this group touches; a store shared by consecutive runs
// stays safe as long as each run uses a fresh name.
type Group struct {
	store  store.Store
	worker WorkerContext
	run    string
	round  int64
}

func NewGroup(s store.Store, worker WorkerContext, run string) (*Group, error) {
	if err := worker.Validate(); err != nil {
		return nil, err
	}
	if run == "" {
		return nil, errors.New("dist: empty run name")
	}
	return &Group{store: s, worker: worker, run: run}, nil
}

func (g *Group) Worker() WorkerContext {
	return g.worker
}

// slotKey addresses one rank's shard for one exchange round.
func (g *Group) slotKey(round int64, rank int) string {
	return g.run + ":" + strconv.FormatInt(round, 10) + ":" + strconv.Itoa(rank)
}

// Publish stores this worker's partial result under its rank for the upcoming
// round, the one the next Barrier call completes. Keying slots by round means
// a peer still collecting the previous round can never read this value.
func (g *Group) Publish(ctx context.Context, pr PartialResult) error {
	data, err := Encode(pr)
	if err != nil {
		return err
	}
	return g.store.Publish(ctx, g.slotKey(g.round+1, g.worker.Rank), data)
}

// Barrier blocks until all workers in the group have reached it. There is no
// timeout: a stalled peer hangs the group until ctx is canceled. Each round
// uses a fresh arrival counter so barriers cannot bleed into each other.
func (g *Group) Barrier(ctx context.Context) error {
	g.round++
	if g.worker.WorldSize == 1 {
		return nil
	}
	key := g.run + ":barrier:" + strconv.FormatInt(g.round, 10)
	n, err := g.store.Incr(ctx, key)
	if err != nil {
		return fmt.Errorf("barrier arrival: %w", err)
	}
	for n < int64(g.worker.WorldSize) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(barrierPoll):
		}
		data, err := g.store.Fetch(ctx, key)
		if err != nil {
			return fmt.Errorf("barrier poll: %w", err)
		}
		n, err = strconv.ParseInt(string(data), 10, 64)
		if err != nil {
			return fmt.Errorf("barrier counter: %w", err)
		}
	}
	return nil
}

// Collect reads every rank's slot for the current round and concatenates
// outputs and scores in ascending rank order. A slot that was never published
// is reported as ErrMissingShard rather than silently skipped.
func (g *Group) Collect(ctx context.Context) (PartialResult, error) {
	var merged PartialResult
	for rank := 0; rank < g.worker.WorldSize; rank++ {
		data, err := g.store.Fetch(ctx, g.slotKey(g.round, rank))
		if errors.Is(err, store.ErrNoSlot) {
			return PartialResult{}, fmt.Errorf("%w: rank %d", ErrMissingShard, rank)
		}
		if err != nil {
			return PartialResult{}, fmt.Errorf("collecting rank %d: %w", rank, err)
		}
		pr, err := Decode(data)
		if err != nil {
			return PartialResult{}, fmt.Errorf("collecting rank %d: %w", rank, err)
		}
		merged.Outputs = append(merged.Outputs, pr.Outputs...)
		merged.Scores = append(merged.Scores, pr.Scores...)
	}
	return merged, nil
}
