package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/funnelscope/funnelscope/internal/engine"
	"github.com/funnelscope/funnelscope/internal/store"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Expire stale progressions",
	Long: `Mark every active progression whose time window has elapsed with no
qualifying activity as expired. Run this periodically (e.g. from cron).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(func(e *engine.Engine, s *store.SQLiteStore) error {
			expired, err := e.SweepExpired(context.Background(), time.Now().UTC())
			if err != nil {
				return err
			}
			fmt.Printf("Expired %d progressions.\n", expired)
			return nil
		})
	},
}

func newRecomputeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recompute <name>",
		Short: "Rebuild a funnel's progressions from raw activity",
		Long: `Replay every identity's activity against the funnel's current
version. Replays are deterministic and idempotent, so this is safe to
re-run at any time (e.g. after publishing a corrected definition).`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			return withEngine(func(e *engine.Engine, s *store.SQLiteStore) error {
				ctx := context.Background()
				def, err := s.GetFunnel(ctx, name)
				if err != nil {
					if err == store.ErrNotFound {
						return fmt.Errorf("funnel '%s' not found", name)
					}
					return err
				}
				if err := e.Recompute(ctx, def.ID); err != nil {
					return err
				}
				fmt.Printf("Recomputed progressions for funnel '%s'.\n", name)
				return nil
			})
		},
	}
	return cmd
}

func init() {
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(newRecomputeCmd())
}
