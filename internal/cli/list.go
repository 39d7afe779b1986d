package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/funnelscope/funnelscope/internal/store"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all funnels",
	RunE:  runList,
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	return withStore(func(s *store.SQLiteStore) error {
		defs, err := s.ListFunnels(context.Background())
		if err != nil {
			return fmt.Errorf("failed to list funnels: %w", err)
		}

		if len(defs) == 0 {
			fmt.Println("No funnels yet. Create one with 'funnelscope create'.")
			return nil
		}

		fmt.Println("NAME              STATE      STEPS  WINDOW")
		fmt.Println(strings.Repeat("─", 50))
		for _, def := range defs {
			name := def.Name
			if len(name) > 16 {
				name = name[:13] + "..."
			}
			fmt.Printf("%-16s  %-9s  %-5d  %s\n", name, def.State, len(def.Steps), def.Window)
		}
		return nil
	})
}
