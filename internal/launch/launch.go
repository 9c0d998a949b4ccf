// Package launch starts the distributed worker group: one container per
// accelerator device, each running `kluetune train` with its rank injected
// through the environment.
package launch

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/moby/moby/api/types/container"
	"github.com/moby/moby/api/types/mount"
	"github.com/moby/moby/client"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type Options struct {
	Image     string
	WorldSize int
	// Devices maps rank to CUDA_VISIBLE_DEVICES for that worker.
	Devices func(rank int) string
	// Command is the kluetune invocation run inside each container.
	Command []string
	// StoreAddr is handed to workers so they reach the same result store.
	StoreAddr string
	ServerURL string
	// RunID namespaces the run's store keys across all workers. Left empty,
	// Run generates a fresh one.
	RunID string
	// DataDir and OutputDir are bind-mounted into every container.
	DataDir   string
	OutputDir string
	Timeout   time.Duration

	Log *zap.Logger
}

// WorkerResult is one container's outcome.
type WorkerResult struct {
	Rank     int
	ExitCode int
	Duration time.Duration
}

// Run starts all workers and waits for the group. The first worker to exit
// nonzero fails the launch; remaining containers are torn down through the
// group context.
func Run(ctx context.Context, opts *Options) ([]WorkerResult, error) {
	if opts.WorldSize < 1 {
		return nil, fmt.Errorf("launch: world size %d", opts.WorldSize)
	}
	if opts.Image == "" {
		return nil, fmt.Errorf("launch: no worker image configured")
	}
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	runID := opts.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	log.Info("launching run", zap.String("run_id", runID), zap.Int("world_size", opts.WorldSize))

	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("creating docker client: %w", err)
	}
	defer cli.Close()

	results := make([]WorkerResult, opts.WorldSize)
	g, ctx := errgroup.WithContext(ctx)
	for rank := 0; rank < opts.WorldSize; rank++ {
		rank := rank
		g.Go(func() error {
			res, err := runWorker(ctx, cli, opts, runID, rank, log)
			if err != nil {
				return fmt.Errorf("rank %d: %w", rank, err)
			}
			results[rank] = *res
			if res.ExitCode != 0 {
				return fmt.Errorf("rank %d exited with code %d", rank, res.ExitCode)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

func runWorker(ctx context.Context, cli *client.Client, opts *Options, runID string, rank int, log *zap.Logger) (*WorkerResult, error) {
	device := "0"
	if opts.Devices != nil {
		device = opts.Devices(rank)
	}
	env := []string{
		fmt.Sprintf("LOCAL_RANK=%d", rank),
		fmt.Sprintf("WORLD_SIZE=%d", opts.WorldSize),
		"CUDA_VISIBLE_DEVICES=" + device,
		"KLUETUNE_STORE_ADDR=" + opts.StoreAddr,
		"KLUETUNE_SERVER_URL=" + opts.ServerURL,
		"KLUETUNE_RUN_ID=" + runID,
	}

	var mounts []mount.Mount
	if opts.DataDir != "" {
		mounts = append(mounts, mount.Mount{Type: mount.TypeBind, Source: opts.DataDir, Target: "/data", ReadOnly: true})
	}
	if opts.OutputDir != "" {
		mounts = append(mounts, mount.Mount{Type: mount.TypeBind, Source: opts.OutputDir, Target: "/output"})
	}

	initTrue := true
	hostCfg := &container.HostConfig{
		Mounts: mounts,
		Init:   &initTrue,
		// Workers reach the store and model server on the host.
		ExtraHosts: []string{"host.docker.internal:host-gateway"},
	}
	containerCfg := &container.Config{
		Image:  opts.Image,
		Cmd:    opts.Command,
		Env:    env,
		Labels: map[string]string{"kluetune": "true", "kluetune.rank": fmt.Sprint(rank)},
	}

	createResp, err := cli.ContainerCreate(ctx, client.ContainerCreateOptions{
		Config:     containerCfg,
		HostConfig: hostCfg,
	})
	if err != nil {
		return nil, fmt.Errorf("creating container: %w", err)
	}
	containerID := createResp.ID
	defer func() {
		cli.ContainerRemove(context.Background(), containerID, client.ContainerRemoveOptions{Force: true})
	}()

	start := time.Now()
	if _, err := cli.ContainerStart(ctx, containerID, client.ContainerStartOptions{}); err != nil {
		return nil, fmt.Errorf("starting container: %w", err)
	}
	log.Info("worker started", zap.Int("rank", rank), zap.String("device", device))

	waitCtx := ctx
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	waitResult := cli.ContainerWait(waitCtx, containerID, client.ContainerWaitOptions{
		Condition: container.WaitConditionNotRunning,
	})
	for {
		select {
		case err := <-waitResult.Error:
			if err != nil {
				cli.ContainerKill(context.Background(), containerID, client.ContainerKillOptions{Signal: "SIGKILL"})
				dumpLogs(cli, containerID, rank)
				return nil, fmt.Errorf("waiting for worker: %w", err)
			}
		case status := <-waitResult.Result:
			if status.StatusCode != 0 {
				dumpLogs(cli, containerID, rank)
			}
			return &WorkerResult{
				Rank:     rank,
				ExitCode: int(status.StatusCode),
				Duration: time.Since(start),
			}, nil
		}
	}
}

func dumpLogs(cli *client.Client, containerID string, rank int) {
	logReader, _ := cli.ContainerLogs(context.Background(), containerID, client.ContainerLogsOptions{
		ShowStdout: true, ShowStderr: true, Tail: "100",
	})
	if logReader == nil {
		return
	}
	data, _ := io.ReadAll(logReader)
	logReader.Close()
	if len(data) > 0 {
		fmt.Fprintf(os.Stderr, "worker %d logs:\n%s\n", rank, data)
	}
}
