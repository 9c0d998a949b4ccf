// Package eval runs one distributed evaluation round: generate over this
// worker's shard, exchange partial results through the group, and compute
// task metrics over the merged full-dataset result.
package eval

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/pkot5/kluetune/internal/dist"
	"github.com/pkot5/kluetune/internal/metric"
	"github.com/pkot5/kluetune/internal/model"
	"github.com/pkot5/kluetune/internal/task"
)

var (
	// ErrShapeMismatch means the model returned a different number of
	// generations than inputs in a batch.
	ErrShapeMismatch = errors.New("eval: generation count does not match batch size")
	// ErrLengthMismatch means the merged result does not cover the dataset,
	// i.e. shard bookkeeping went wrong somewhere in the group.
	ErrLengthMismatch = errors.New("eval: aggregated result length does not match dataset size")
)

// Generator is the slice of a model session evaluation needs.
type Generator interface {
	Generate(ctx context.Context, inputs []string, p model.GenParams) ([]model.Generation, error)
}

type Evaluator struct {
	gen       Generator
	group     *dist.Group
	processor task.Processor
	batchSize int
	params    model.GenParams
	log       *zap.Logger
}

func New(gen Generator, group *dist.Group, processor task.Processor, batchSize int, params model.GenParams, log *zap.Logger) *Evaluator {
	if batchSize < 1 {
		batchSize = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Evaluator{
		gen:       gen,
		group:     group,
		processor: processor,
		batchSize: batchSize,
		params:    params,
		log:       log,
	}
}

// Run evaluates entries across the whole worker group and returns the metric
// record for the round. Every worker returns the same record since all of
// them collect the same merged result.
func (e *Evaluator) Run(ctx context.Context, entries []task.Entry) (metric.Record, error) {
	worker := e.group.Worker()
	start, end := ShardRange(len(entries), worker.Rank, worker.WorldSize)

	params := e.params
	params.WithScores = e.processor.WantScores()

	var partial dist.PartialResult
	for lo := start; lo < end; lo += e.batchSize {
		hi := lo + e.batchSize
		if hi > end {
			hi = end
		}
		inputs := make([]string, 0, hi-lo)
		for _, entry := range entries[lo:hi] {
			inputs = append(inputs, entry.Input)
		}
		gens, err := e.gen.Generate(ctx, inputs, params)
		if err != nil {
			return nil, fmt.Errorf("generating batch [%d:%d]: %w", lo, hi, err)
		}
		if len(gens) != len(inputs) {
			return nil, fmt.Errorf("%w: got %d for %d inputs", ErrShapeMismatch, len(gens), len(inputs))
		}
		for _, g := range gens {
			partial.Outputs = append(partial.Outputs, g.Output)
			if params.WithScores {
				partial.Scores = append(partial.Scores, g.Score)
			}
		}
	}
	e.log.Debug("shard generated",
		zap.Int("rank", worker.Rank),
		zap.Int("shard_size", end-start))

	if err := e.group.Publish(ctx, partial); err != nil {
		return nil, fmt.Errorf("publishing shard: %w", err)
	}
	if err := e.group.Barrier(ctx); err != nil {
		return nil, fmt.Errorf("evaluation barrier: %w", err)
	}
	merged, err := e.group.Collect(ctx)
	if err != nil {
		return nil, fmt.Errorf("collecting shards: %w", err)
	}

	if len(merged.Outputs) != len(entries) {
		return nil, fmt.Errorf("%w: %d outputs for %d entries", ErrLengthMismatch, len(merged.Outputs), len(entries))
	}
	scores := merged.Scores
	if len(scores) == 0 {
		scores = nil
	} else if len(scores) != len(entries) {
		return nil, fmt.Errorf("%w: %d scores for %d entries", ErrLengthMismatch, len(scores), len(entries))
	}

	rec := e.processor.ComputeMetrics(merged.Outputs, entries, scores)
	e.log.Info("evaluation round complete",
		zap.Int("rank", worker.Rank),
		zap.String("task", e.processor.Task()),
		zap.Any("metrics", rec))
	return rec, nil
}
