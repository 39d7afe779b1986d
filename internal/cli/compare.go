package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/funnelscope/funnelscope/internal/compare"
	"github.com/funnelscope/funnelscope/internal/engine"
	"github.com/funnelscope/funnelscope/internal/store"
)

func init() {
	var (
		fromStr    string
		toStr      string
		baseline   int
		confidence float64
	)

	cmd := &cobra.Command{
		Use:   "compare <name> <name> [<name>...]",
		Short: "Compare conversion across funnels over the same period",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := parseRange(fromStr, toStr)
			if err != nil {
				return err
			}
			return withEngine(func(e *engine.Engine, s *store.SQLiteStore) error {
				ctx := context.Background()

				ids := make([]string, len(args))
				for i, name := range args {
					def, err := s.GetFunnel(ctx, name)
					if err != nil {
						if err == store.ErrNotFound {
							return fmt.Errorf("funnel '%s' not found", name)
						}
						return err
					}
					ids[i] = def.ID
				}

				cfg := compare.DefaultConfig()
				cfg.Baseline = baseline
				cfg.Confidence = confidence
				res, cached, err := e.CompareFunnels(ctx, ids, r, cfg)
				if err != nil {
					return err
				}

				if cached {
					fmt.Printf("(cached, computed %s)\n", res.ComputedAt.Format("2006-01-02 15:04"))
				}
				fmt.Printf("PERIOD: %s → %s   BASELINE: %s\n\n",
					r.From.Format("2006-01-02"), r.To.Format("2006-01-02"), res.Baseline)

				fmt.Println("FUNNEL            ENTRIES  CONV   RATE     95% CI")
				fmt.Println(strings.Repeat("─", 58))
				for _, arm := range res.Arms {
					name := arm.Name
					if len(name) > 16 {
						name = name[:13] + "..."
					}
					ci := "insufficient"
					if !arm.InsufficientSample {
						ci = fmt.Sprintf("[%.1f%%, %.1f%%]", arm.CILow*100, arm.CIHigh*100)
					}
					fmt.Printf("%-16s  %-7d  %-5d  %-7s  %s\n",
						name, arm.Entries, arm.Conversions, formatPercent(arm.Rate), ci)
				}

				if len(res.Pairs) > 1 {
					fmt.Printf("\nOVERALL: χ² = %.2f, p = %.4f\n", res.OverallChi2, res.OverallP)
				}
				fmt.Println("\nVS BASELINE       DIFF     P-VALUE  EFFECT")
				fmt.Println(strings.Repeat("─", 46))
				for _, p := range res.Pairs {
					name := p.Name
					if len(name) > 16 {
						name = name[:13] + "..."
					}
					marker := ""
					if p.Significant {
						marker = "  *"
					}
					fmt.Printf("%-16s  %+.2f%%   %.4f   %.3f%s\n",
						name, p.Diff*100, p.PValue, p.EffectSize, marker)
				}

				fmt.Println()
				switch {
				case res.Inconclusive:
					fmt.Println("⏳ Not enough data yet. Keep collecting before calling a winner.")
				case res.Winner != "":
					fmt.Printf("🏆 Winner: %s\n", res.Winner)
				default:
					fmt.Println("No significant difference between funnels.")
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&fromStr, "from", "", "range start (2006-01-02 or RFC3339, default 30 days before --to)")
	cmd.Flags().StringVar(&toStr, "to", "", "range end (default now)")
	cmd.Flags().IntVar(&baseline, "baseline", 0, "index of the baseline funnel among the arguments")
	cmd.Flags().Float64Var(&confidence, "confidence", 0.95, "confidence level for significance")
	rootCmd.AddCommand(cmd)
}
