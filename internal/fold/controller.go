// Package fold drives k-fold cross-validation: one model session per fold,
// train-then-evaluate each epoch, best metric record retained per fold.
package fold

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"go.uber.org/zap"

	"github.com/pkot5/kluetune/internal/dist"
	"github.com/pkot5/kluetune/internal/eval"
	"github.com/pkot5/kluetune/internal/metric"
	"github.com/pkot5/kluetune/internal/model"
	"github.com/pkot5/kluetune/internal/task"
)

type Options struct {
	Processor task.Processor
	Backend   model.Backend
	Group     *dist.Group

	ModelPath string
	DataDir   string
	OutputDir string

	Folds         int
	Epochs        int
	EvalBatchSize int
	MaxLength     int
	GenParams     model.GenParams

	Log *zap.Logger
}

type Controller struct {
	opts Options
	log  *zap.Logger
}

func NewController(opts Options) *Controller {
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	return &Controller{opts: opts, log: opts.Log}
}

// Run processes every fold in order. Each fold opens a fresh session from the
// pretrained weights, trains for the configured epochs with an evaluation
// round after each one, then saves the checkpoint and (on rank 0) the fold's
// best metric record. Any error aborts the whole run.
func (c *Controller) Run(ctx context.Context) error {
	entries, err := c.opts.Processor.Load(c.opts.DataDir, "train")
	if err != nil {
		return fmt.Errorf("loading training data: %w", err)
	}
	spans, err := Split(len(entries), c.opts.Folds)
	if err != nil {
		return err
	}
	c.log.Info("starting run",
		zap.String("task", c.opts.Processor.Task()),
		zap.Int("examples", len(entries)),
		zap.Int("folds", len(spans)),
		zap.Int("rank", c.opts.Group.Worker().Rank),
		zap.Int("world_size", c.opts.Group.Worker().WorldSize))

	for i, span := range spans {
		if err := c.runFold(ctx, i, entries, span); err != nil {
			return fmt.Errorf("fold %d: %w", i, err)
		}
	}
	return nil
}

func (c *Controller) runFold(ctx context.Context, foldNum int, entries []task.Entry, span Span) error {
	train, dev := Partition(entries, span)
	c.log.Info("fold start",
		zap.Int("fold", foldNum),
		zap.Int("train_size", len(train)),
		zap.Int("dev_size", len(dev)))

	sess, err := c.opts.Backend.Open(ctx, c.opts.ModelPath, c.opts.MaxLength)
	if err != nil {
		return fmt.Errorf("opening session: %w", err)
	}
	defer sess.Close()

	evaluator := eval.New(sess, c.opts.Group, c.opts.Processor, c.opts.EvalBatchSize, c.opts.GenParams, c.log)

	var records []metric.Record
	for epoch := 0; epoch < c.opts.Epochs; epoch++ {
		if err := sess.TrainEpoch(ctx, train); err != nil {
			return fmt.Errorf("epoch %d: %w", epoch, err)
		}
		rec, err := evaluator.Run(ctx, dev)
		if err != nil {
			return fmt.Errorf("epoch %d evaluation: %w", epoch, err)
		}
		records = append(records, rec)
		c.log.Info("epoch complete",
			zap.Int("fold", foldNum),
			zap.Int("epoch", epoch),
			zap.Any("metrics", rec))
	}

	foldDir := filepath.Join(c.opts.OutputDir, strconv.Itoa(foldNum))
	if err := os.MkdirAll(foldDir, 0o755); err != nil {
		return fmt.Errorf("creating fold dir: %w", err)
	}
	if err := sess.Save(ctx, foldDir); err != nil {
		return err
	}

	best := metric.Best(records)
	if c.opts.Group.Worker().IsMain() && best != nil {
		path := filepath.Join(foldDir, "result_"+c.opts.Processor.Task()+".txt")
		if err := metric.WriteFile(path, best); err != nil {
			return err
		}
	}
	c.log.Info("fold complete", zap.Int("fold", foldNum), zap.Any("best", best))
	return nil
}
