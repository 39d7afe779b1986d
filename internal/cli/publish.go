package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/funnelscope/funnelscope/internal/engine"
	"github.com/funnelscope/funnelscope/internal/store"
)

var publishCmd = &cobra.Command{
	Use:   "publish <name>",
	Short: "Validate and publish a funnel",
	Long: `Validate a draft funnel and freeze it into an immutable version.
Only published versions match live activity; invalid definitions are
rejected here, never at match time.`,
	Args: cobra.ExactArgs(1),
	RunE: runPublish,
}

func init() {
	rootCmd.AddCommand(publishCmd)
}

func runPublish(cmd *cobra.Command, args []string) error {
	name := args[0]

	return withEngine(func(e *engine.Engine, s *store.SQLiteStore) error {
		v, err := e.PublishFunnel(context.Background(), name)
		if err != nil {
			if err == store.ErrNotFound {
				return fmt.Errorf("funnel '%s' not found", name)
			}
			return err
		}

		fmt.Printf("Published funnel '%s' as version %s\n", name, v.ID)
		fmt.Printf("  Steps: %d, window: %s\n", len(v.Definition.Steps), v.Definition.Window)
		fmt.Println("New activity now matches against this version; existing progressions keep theirs.")
		return nil
	})
}
