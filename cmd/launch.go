package cmd

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pkot5/kluetune/internal/launch"
)

var (
	flagLaunchTask      string
	flagLaunchModel     string
	flagLaunchMaxLength int
	flagLaunchTimeout   time.Duration
)

func newLaunchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "launch",
		Short: "Start the distributed worker group, one container per device",
		RunE:  runLaunch,
	}
	cmd.Flags().StringVar(&flagLaunchTask, "task", "ynat", "task name")
	cmd.Flags().StringVar(&flagLaunchModel, "model", "./models/t5-kr-small-bbpe", "pretrained model path or identifier")
	cmd.Flags().IntVar(&flagLaunchMaxLength, "max-length", 1300, "maximum input length")
	cmd.Flags().DurationVar(&flagLaunchTimeout, "timeout", 0, "per-worker timeout (0 means none)")
	return cmd
}

func runLaunch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	defer logger.Sync()

	dataDir, err := filepath.Abs(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("resolving data dir: %w", err)
	}
	outputDir, err := filepath.Abs(cfg.OutputDir)
	if err != nil {
		return fmt.Errorf("resolving output dir: %w", err)
	}

	fmt.Printf("Launching %d workers for task %q...\n", cfg.World.Size, flagLaunchTask)
	results, err := launch.Run(cmd.Context(), &launch.Options{
		Image:     cfg.World.Image,
		WorldSize: cfg.World.Size,
		Devices:   cfg.Device,
		Command: []string{
			"kluetune", "train",
			"--task", flagLaunchTask,
			"--model", flagLaunchModel,
			"--max-length", strconv.Itoa(flagLaunchMaxLength),
		},
		// Workers run in containers, so host services move to the
		// docker bridge alias.
		StoreAddr: hostToContainer(cfg.Store.Addr),
		ServerURL: hostToContainer(cfg.Server.URL),
		DataDir:   dataDir,
		OutputDir: outputDir,
		Timeout:   flagLaunchTimeout,
		Log:       logger,
	})
	if err != nil {
		return err
	}
	for _, r := range results {
		fmt.Printf("  rank %d: exit %d (%s)\n", r.Rank, r.ExitCode, r.Duration.Round(time.Second))
	}
	return nil
}

func hostToContainer(addr string) string {
	return strings.Replace(addr, "localhost", "host.docker.internal", 1)
}
