package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pkot5/kluetune/internal/task"
)

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List supported tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("Tasks:")
			for _, name := range task.Names() {
				p, err := task.Lookup(name)
				if err != nil {
					return err
				}
				if p.WantScores() {
					fmt.Printf("  - %s (collects sequence scores)\n", name)
				} else {
					fmt.Printf("  - %s\n", name)
				}
			}
			return nil
		},
	}
}
