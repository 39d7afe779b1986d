package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/funnelscope/funnelscope/internal/engine"
	"github.com/funnelscope/funnelscope/internal/store"
)

func init() {
	var interval time.Duration
	var once bool

	cmd := &cobra.Command{
		Use:   "live <name>",
		Short: "Watch live funnel activity snapshots",
		Args:  cobra.ExactArgs(1),
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

				print := func() error {
					snap, err := e.PublishLive(ctx, def.ID, time.Now().UTC())
					if err != nil {
						return err
					}
					fmt.Printf("[%s] active: %d  entries: %d  conversions: %d  rate: %s\n",
						snap.ComputedAt.Format("15:04:05"), snap.ActiveUsers,
						snap.WindowEntries, snap.WindowConversions, formatPercent(snap.Rate))
					return nil
				}

				if err := print(); err != nil {
					return err
				}
				if once {
					return nil
				}
				ticker := time.NewTicker(interval)
				defer ticker.Stop()
				for range ticker.C {
					if err := print(); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 5*time.Second, "refresh interval")
	cmd.Flags().BoolVar(&once, "once", false, "print a single snapshot and exit")
	rootCmd.AddCommand(cmd)
}
