package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pkot5/kluetune/internal/model"
	"github.com/pkot5/kluetune/internal/store"
)

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Verify the result store and model server are reachable",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			s := store.NewRedisStore(cfg.Store.Addr)
			defer s.Close()
			if err := s.Ping(ctx); err != nil {
				return fmt.Errorf("result store at %s: %w", cfg.Store.Addr, err)
			}
			fmt.Printf("store ok: %s\n", cfg.Store.Addr)

			backend := model.NewHTTPBackend(cfg.Server.URL)
			if err := backend.Healthy(ctx); err != nil {
				return fmt.Errorf("model server at %s: %w", cfg.Server.URL, err)
			}
			fmt.Printf("model server ok: %s\n", cfg.Server.URL)
			return nil
		},
	}
}
