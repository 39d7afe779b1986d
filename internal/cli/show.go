package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/funnelscope/funnelscope/internal/funnel"
	"github.com/funnelscope/funnelscope/internal/store"
)

func init() {
	rootCmd.AddCommand(newShowCmd())
	rootCmd.AddCommand(newArchiveCmd())
}

func newShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <name>",
		Short: "Show a funnel's definition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			return withStore(func(s *store.SQLiteStore) error {
				ctx := context.Background()
				def, err := s.GetFunnel(ctx, name)
				if err != nil {
					if err == store.ErrNotFound {
						return fmt.Errorf("funnel '%s' not found", name)
					}
					return err
				}

				fmt.Printf("FUNNEL: %s   STATE: %s   WINDOW: %s\n", def.Name, def.State, def.Window)
				if v, err := s.CurrentVersion(ctx, def.ID); err == nil {
					fmt.Printf("VERSION: %s (published %s)\n", v.ID, v.CreatedAt.Format("2006-01-02 15:04"))
				}
				fmt.Println(strings.Repeat("─", 52))
				for _, step := range def.Steps {
					fmt.Printf("%d: [%s] %s\n", step.Order, step.Kind, step.Label)
					for _, rule := range step.Rules {
						fmt.Printf("     %s\n", describeRule(rule))
					}
				}
				return nil
			})
		},
	}
}

func describeRule(r funnel.Rule) string {
	var b strings.Builder
	if r.Kind == funnel.RuleEvent {
		fmt.Fprintf(&b, "event '%s'", r.Value)
	} else {
		fmt.Fprintf(&b, "page %s %s '%s'", r.Field, r.Operator, r.Value)
	}
	for _, f := range r.Filters {
		fmt.Fprintf(&b, " and %s %s '%s'", f.Property, f.Operator, f.Value)
	}
	if r.Disqualify {
		b.WriteString(" (disqualifies)")
	}
	return b.String()
}

func newArchiveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "archive <name>",
		Short: "Archive a funnel",
		Long: `Archive a funnel so it stops matching new activity. Its versions and
progressions are kept for historical reports.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			return withStore(func(s *store.SQLiteStore) error {
				if err := s.ArchiveFunnel(context.Background(), name); err != nil {
					if err == store.ErrNotFound {
						return fmt.Errorf("funnel '%s' not found", name)
					}
					return err
				}
				fmt.Printf("Archived funnel '%s'.\n", name)
				return nil
			})
		},
	}
}
