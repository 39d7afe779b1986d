package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/funnelscope/funnelscope/internal/engine"
	"github.com/funnelscope/funnelscope/internal/progress"
	"github.com/funnelscope/funnelscope/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "trace <funnel> <identity>",
		Short: "Show an identity's full journey through a funnel",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, identity := args[0], args[1]
			return withEngine(func(e *engine.Engine, s *store.SQLiteStore) error {
				ctx := context.Background()
				def, err := s.GetFunnel(ctx, name)
				if err != nil {
					if err == store.ErrNotFound {
						return fmt.Errorf("funnel '%s' not found", name)
					}
					return err
				}

				ps, err := e.Trace(ctx, def.ID, identity)
				if err != nil {
					if err == store.ErrNotFound {
						return fmt.Errorf("no progressions for '%s' in funnel '%s'", identity, name)
					}
					return err
				}

				fmt.Printf("IDENTITY: %s   FUNNEL: %s\n\n", identity, name)
				for _, p := range ps {
					printProgression(p)
				}
				return nil
			})
		},
	}
	rootCmd.AddCommand(cmd)
}

func printProgression(p *progress.Progression) {
	fmt.Printf("#%d  %s  entered %s\n", p.Seq+1, statusBadge(p.Status), p.EnteredAt.Format("2006-01-02 15:04:05"))
	fmt.Println(strings.Repeat("─", 52))
	for i, hit := range p.Path {
		arrow := "  "
		if i > 0 {
			arrow = "→ "
		}
		fmt.Printf("  %sstep %d at %s\n", arrow, hit.Step, hit.At.Format("15:04:05"))
	}
	for _, b := range p.Rejected {
		fmt.Printf("  ✗ step %d also matched at %s (not taken)\n", b.Step, b.At.Format("15:04:05"))
	}
	if at := p.TerminalAt(); at != nil {
		fmt.Printf("  %s at %s\n", p.Status, at.Format("2006-01-02 15:04:05"))
	}
	fmt.Println()
}

func statusBadge(s progress.Status) string {
	switch s {
	case progress.StatusCompleted:
		return "✓ completed"
	case progress.StatusExited:
		return "✗ exited"
	case progress.StatusExpired:
		return "⏱ expired"
	default:
		return "… active"
	}
}
