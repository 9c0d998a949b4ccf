package cmd

import (
	"errors"
	"io/fs"

	"github.com/spf13/cobra"

	"github.com/pkot5/kluetune/internal/config"
)

var cfgFile string

func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "kluetune",
		Short: "K-fold fine-tuning harness for Korean NLU tasks",
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "kluetune.yaml", "config file path")
	root.AddCommand(newTrainCmd())
	root.AddCommand(newLaunchCmd())
	root.AddCommand(newReportCmd())
	root.AddCommand(newListCmd())
	root.AddCommand(newCheckCmd())
	return root
}

// loadConfig reads the config file, falling back to defaults when the file
// does not exist so a bare `kluetune train` works out of the box.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if errors.Is(err, fs.ErrNotExist) {
		return config.Default(), nil
	}
	return cfg, err
}
