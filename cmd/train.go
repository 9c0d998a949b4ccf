package cmd

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pkot5/kluetune/internal/dist"
	"github.com/pkot5/kluetune/internal/fold"
	"github.com/pkot5/kluetune/internal/model"
	"github.com/pkot5/kluetune/internal/store"
	"github.com/pkot5/kluetune/internal/task"
)

var (
	flagModel     string
	flagTask      string
	flagMaxLength int
)

func newTrainCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Fine-tune the model on one task with k-fold cross-validation",
		RunE:  runTrain,
	}
	cmd.Flags().StringVar(&flagModel, "model", "./models/t5-kr-small-bbpe", "pretrained model path or identifier")
	cmd.Flags().StringVar(&flagTask, "task", "ynat", "task name")
	cmd.Flags().IntVar(&flagMaxLength, "max-length", 1300, "maximum input length")
	return cmd
}

// resolveModel applies an explicit --model over the config file value. The
// flag carries a non-empty default, so only a flag the user actually set may
// override the file.
func resolveModel(cmd *cobra.Command, fromConfig string) string {
	if cmd.Flags().Changed("model") {
		return flagModel
	}
	return fromConfig
}

// workerFromEnv derives this process's identity from the launcher-provided
// environment. An unset or -1 LOCAL_RANK means a plain single-process run.
func workerFromEnv(getenv func(string) string) (dist.WorkerContext, error) {
	rank := -1
	if v := getenv("LOCAL_RANK"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			return dist.WorkerContext{}, fmt.Errorf("parsing LOCAL_RANK: %w", err)
		}
		rank = parsed
	}
	if rank < 0 {
		return dist.WorkerContext{Rank: 0, WorldSize: 1}, nil
	}
	worldSize := 1
	if v := getenv("WORLD_SIZE"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			return dist.WorkerContext{}, fmt.Errorf("parsing WORLD_SIZE: %w", err)
		}
		worldSize = parsed
	}
	worker := dist.WorkerContext{Rank: rank, WorldSize: worldSize}
	return worker, worker.Validate()
}

func runTrain(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cfg.Model = resolveModel(cmd, cfg.Model)
	if v := os.Getenv("KLUETUNE_STORE_ADDR"); v != "" {
		cfg.Store.Addr = v
	}
	if v := os.Getenv("KLUETUNE_SERVER_URL"); v != "" {
		cfg.Server.URL = v
	}

	processor, err := task.Lookup(flagTask)
	if err != nil {
		return err
	}
	worker, err := workerFromEnv(os.Getenv)
	if err != nil {
		return err
	}
	// The run identifier namespaces the group's store keys. Workers of one
	// run must share it; the launcher injects a fresh one per run. Without a
	// launcher a single-process run can generate its own.
	runID := os.Getenv("KLUETUNE_RUN_ID")
	if runID == "" {
		if worker.WorldSize > 1 {
			return errors.New("KLUETUNE_RUN_ID must be set when WORLD_SIZE > 1")
		}
		runID = uuid.NewString()
	}
	if os.Getenv("CUDA_VISIBLE_DEVICES") == "" {
		os.Setenv("CUDA_VISIBLE_DEVICES", cfg.Device(worker.Rank))
	}

	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	defer logger.Sync()

	var st store.Store
	if worker.WorldSize > 1 {
		st = store.NewRedisStore(cfg.Store.Addr)
	} else {
		st = store.NewMemoryStore()
	}
	defer st.Close()

	group, err := dist.NewGroup(st, worker, runID)
	if err != nil {
		return err
	}

	fmt.Printf("Start training %q task (rank %d/%d)\n", flagTask, worker.Rank, worker.WorldSize)

	tc := cfg.TaskFor(flagTask)
	controller := fold.NewController(fold.Options{
		Processor:     processor,
		Backend:       model.NewHTTPBackend(cfg.Server.URL),
		Group:         group,
		ModelPath:     cfg.Model,
		DataDir:       cfg.DataDir,
		OutputDir:     cfg.OutputDir,
		Folds:         cfg.Folds,
		Epochs:        tc.Epochs,
		EvalBatchSize: tc.EvalBatchSize,
		MaxLength:     flagMaxLength,
		GenParams: model.GenParams{
			NumBeams:      tc.NumBeams,
			MaxLength:     tc.GenMaxLength,
			EarlyStopping: true,
		},
		Log: logger,
	})
	if err := controller.Run(cmd.Context()); err != nil {
		return err
	}
	fmt.Printf("Done. Results under %s\n", cfg.OutputDir)
	return nil
}
