package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Model     string                `yaml:"model"`
	OutputDir string                `yaml:"output_dir"`
	DataDir   string                `yaml:"data_dir"`
	Folds     int                   `yaml:"folds"`
	Store     Store                 `yaml:"store"`
	Server    Server                `yaml:"server"`
	World     World                 `yaml:"world"`
	Tasks     map[string]TaskConfig `yaml:"tasks"`
}

// Store locates the shared key-value store workers exchange results through.
type Store struct {
	Addr string `yaml:"addr"`
}

// Server locates the model server that owns weights and optimization.
type Server struct {
	URL string `yaml:"url"`
}

// World describes the worker group for `kluetune launch`: one container per
// device, LOCAL_RANK assigned in order.
type World struct {
	Size    int      `yaml:"size"`
	Image   string   `yaml:"image"`
	Devices []string `yaml:"devices"`
}

// TaskConfig is the per-task training configuration, the analogue of the
// per-task training-argument presets the checkpoints were produced with.
type TaskConfig struct {
	Epochs        int `yaml:"epochs"`
	EvalBatchSize int `yaml:"eval_batch_size"`
	NumBeams      int `yaml:"num_beams"`
	GenMaxLength  int `yaml:"gen_max_length"`
}

// Default returns the configuration used when no config file exists: a
// single-worker run with everything on localhost.
func Default() *Config {
	cfg := &Config{}
	validate(cfg)
	return cfg
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &cfg, nil
}

func validate(cfg *Config) error {
	if cfg.Model == "" {
		cfg.Model = "./models/t5-kr-small-bbpe"
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = "./models/klue_t5"
	}
	if cfg.DataDir == "" {
		cfg.DataDir = "./data"
	}
	if cfg.Folds == 0 {
		cfg.Folds = 10
	}
	if cfg.Folds < 2 {
		return fmt.Errorf("folds must be at least 2, got %d", cfg.Folds)
	}
	if cfg.Store.Addr == "" {
		cfg.Store.Addr = "localhost:6379"
	}
	if cfg.Server.URL == "" {
		cfg.Server.URL = "http://localhost:8800"
	}
	if cfg.World.Size == 0 {
		cfg.World.Size = 1
	}
	if cfg.World.Size < 1 {
		return fmt.Errorf("world size must be at least 1, got %d", cfg.World.Size)
	}
	if len(cfg.World.Devices) > 0 && len(cfg.World.Devices) != cfg.World.Size {
		return fmt.Errorf("world has %d devices for size %d", len(cfg.World.Devices), cfg.World.Size)
	}
	for name, tc := range cfg.Tasks {
		if tc.Epochs < 0 || tc.EvalBatchSize < 0 || tc.NumBeams < 0 || tc.GenMaxLength < 0 {
			return fmt.Errorf("task %q: negative values are not allowed", name)
		}
	}
	return nil
}

// TaskFor returns the training configuration for a task with defaults filled
// in, whether or not the task appears in the file.
func (c *Config) TaskFor(name string) TaskConfig {
	tc := c.Tasks[name]
	if tc.Epochs == 0 {
		tc.Epochs = 3
	}
	if tc.EvalBatchSize == 0 {
		tc.EvalBatchSize = 16
	}
	if tc.NumBeams == 0 {
		tc.NumBeams = 4
	}
	if tc.GenMaxLength == 0 {
		tc.GenMaxLength = 128
	}
	return tc
}

// Device returns the accelerator assigned to a rank, or "0" when the config
// does not pin devices.
func (c *Config) Device(rank int) string {
	if rank < len(c.World.Devices) {
		return c.World.Devices[rank]
	}
	return "0"
}
