package cli

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/funnelscope/funnelscope/internal/attribution"
	"github.com/funnelscope/funnelscope/internal/bottleneck"
	"github.com/funnelscope/funnelscope/internal/engine"
	"github.com/funnelscope/funnelscope/internal/metrics"
	"github.com/funnelscope/funnelscope/internal/paths"
	"github.com/funnelscope/funnelscope/internal/store"
)

var (
	reportFrom string
	reportTo   string
)

func init() {
	reportCmd := &cobra.Command{
		Use:   "report",
		Short: "Run an analytics report over a funnel",
	}
	reportCmd.PersistentFlags().StringVar(&reportFrom, "from", "", "range start (2006-01-02 or RFC3339, default 30 days before --to)")
	reportCmd.PersistentFlags().StringVar(&reportTo, "to", "", "range end (default now)")

	reportCmd.AddCommand(newConversionCmd())
	reportCmd.AddCommand(newSegmentsCmd())
	reportCmd.AddCommand(newCohortCmd())
	reportCmd.AddCommand(newTimingCmd())
	reportCmd.AddCommand(newBottleneckCmd())
	reportCmd.AddCommand(newPathsCmd())
	reportCmd.AddCommand(newAttributionCmd())
	rootCmd.AddCommand(reportCmd)
}

// withFunnelReport resolves the funnel name and query range, then runs fn.
func withFunnelReport(name string, fn func(ctx context.Context, e *engine.Engine, funnelID string, r engine.Range) error) error {
	r, err := parseRange(reportFrom, reportTo)
	if err != nil {
		return err
	}
	return withEngine(func(e *engine.Engine, s *store.SQLiteStore) error {
		ctx := context.Background()
		def, err := s.GetFunnel(ctx, name)
		if err != nil {
			if err == store.ErrNotFound {
				return fmt.Errorf("funnel '%s' not found", name)
			}
			return err
		}
		return fn(ctx, e, def.ID, r)
	})
}

func newConversionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "conversion <name>",
		Short: "Conversion and drop-off rates per step",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withFunnelReport(args[0], func(ctx context.Context, e *engine.Engine, funnelID string, r engine.Range) error {
				report, err := e.Conversion(ctx, funnelID, r)
				if err != nil {
					return err
				}

				fmt.Printf("FUNNEL: %s\n", args[0])
				fmt.Printf("RANGE: %s → %s\n", r.From.Format("2006-01-02"), r.To.Format("2006-01-02"))
				fmt.Printf("ENTRIES: %d  COMPLETIONS: %d  RATE: %s\n", report.Entries, report.Completions, formatPercent(report.Rate))
				if report.InsufficientSample {
					fmt.Println("CONFIDENCE: insufficient sample (need 30+ entries)")
				} else {
					fmt.Printf("95%% CI: [%.1f%%, %.1f%%]\n", report.CILow*100, report.CIHigh*100)
				}
				fmt.Printf("ACTIVE: %d  EXPIRED: %d  EXITED: %d\n", report.StillActive, report.Expired, report.Exited)
				fmt.Println()

				fmt.Println("STEP              KIND        REACHED  DROP-OFF")
				fmt.Println(strings.Repeat("─", 52))
				for _, step := range report.Steps {
					label := step.Label
					if len(label) > 16 {
						label = label[:13] + "..."
					}
					drop := "-"
					if step.Step > 0 {
						drop = formatPercent(step.DropOff)
					}
					fmt.Printf("%-16s  %-10s  %-7d  %s\n", label, step.Kind, step.Reached, drop)
				}
				return nil
			})
		},
	}
}

func newSegmentsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "segments <name>",
		Short: "Conversion by first-touch traffic source",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withFunnelReport(args[0], func(ctx context.Context, e *engine.Engine, funnelID string, r engine.Range) error {
				segments, err := e.SegmentsBySource(ctx, funnelID, r)
				if err != nil {
					return err
				}

				fmt.Println("SEGMENT           ENTRIES  RATE     VS OVERALL")
				fmt.Println(strings.Repeat("─", 48))
				for _, seg := range segments {
					name := seg.Name
					if len(name) > 16 {
						name = name[:13] + "..."
					}
					dev := fmt.Sprintf("%+.1f%%", seg.Deviation*100)
					if seg.InsufficientSample {
						dev = "insufficient"
					}
					fmt.Printf("%-16s  %-7d  %-7s  %s\n", name, seg.Entries, formatPercent(seg.Rate), dev)
				}
				return nil
			})
		},
	}
}

func newCohortCmd() *cobra.Command {
	var granularity string
	var retentionDays []int

	cmd := &cobra.Command{
		Use:   "cohort <name>",
		Short: "Conversion and retention by entry period",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withFunnelReport(args[0], func(ctx context.Context, e *engine.Engine, funnelID string, r engine.Range) error {
				cohorts, err := e.Cohorts(ctx, funnelID, r, metrics.Granularity(granularity), retentionDays)
				if err != nil {
					return err
				}

				fmt.Printf("COHORTS (%s)\n", granularity)
				header := "PERIOD      ENTRIES  RATE   "
				for _, d := range retentionDays {
					header += fmt.Sprintf("  D%-3d", d)
				}
				fmt.Println(header)
				fmt.Println(strings.Repeat("─", len(header)+4))
				for _, c := range cohorts {
					line := fmt.Sprintf("%-10s  %-7d  %-6s", c.Key, c.Entries, formatPercent(c.Rate))
					for _, d := range retentionDays {
						line += fmt.Sprintf("  %-4s", formatPercent(c.Retention[d]))
					}
					if c.SignificantVsPrev {
						line += "  *"
					}
					fmt.Println(line)
				}
				if len(cohorts) > 1 {
					fmt.Println("\n* significantly different from previous cohort")
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&granularity, "granularity", "g", "weekly", "daily, weekly or monthly")
	cmd.Flags().IntSliceVar(&retentionDays, "retention", []int{1, 7, 30}, "day offsets for retention")
	return cmd
}

func newTimingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "timing <name>",
		Short: "Time-between-steps distributions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withFunnelReport(args[0], func(ctx context.Context, e *engine.Engine, funnelID string, r engine.Range) error {
				transitions, err := e.Timing(ctx, funnelID, r, nil, nil)
				if err != nil {
					return err
				}

				fmt.Println("TRANSITION  COUNT  MEAN      MEDIAN    P90")
				fmt.Println(strings.Repeat("─", 48))
				for _, t := range transitions {
					fmt.Printf("%d → %-6d  %-5d  %-8s  %-8s  %s\n",
						t.FromStep, t.ToStep, t.Count,
						t.Mean.Round(time.Second), t.Median.Round(time.Second),
						t.Percentiles[90].Round(time.Second))
				}
				return nil
			})
		},
	}
}

func newBottleneckCmd() *cobra.Command {
	var recentHours, baselineDays int

	cmd := &cobra.Command{
		Use:   "bottleneck <name>",
		Short: "Steps dropping off significantly worse than baseline",
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

				findings, err := e.Bottlenecks(ctx, def.ID,
					time.Duration(recentHours)*time.Hour,
					time.Duration(baselineDays)*24*time.Hour,
					bottleneck.DefaultConfig(), time.Now().UTC())
				if err != nil {
					return err
				}

				if len(findings) == 0 {
					fmt.Println("No bottlenecks detected.")
					return nil
				}

				fmt.Println("STEP              RECENT   BASELINE  LOST≈  CONFIDENCE")
				fmt.Println(strings.Repeat("─", 56))
				for _, f := range findings {
					label := f.Label
					if len(label) > 16 {
						label = label[:13] + "..."
					}
					fmt.Printf("%-16s  %-7s  %-8s  %-5.0f  %.1f%%\n",
						label, formatPercent(f.RecentDropOff), formatPercent(f.BaselineDropOff),
						f.LostConversions, f.Confidence*100)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&recentHours, "recent", 24, "recent window in hours")
	cmd.Flags().IntVar(&baselineDays, "baseline", 14, "baseline window in days")
	return cmd
}

func newPathsCmd() *cobra.Command {
	var minVolume int

	cmd := &cobra.Command{
		Use:   "paths <name>",
		Short: "Distinct step sequences actually taken",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withFunnelReport(args[0], func(ctx context.Context, e *engine.Engine, funnelID string, r engine.Range) error {
				result, err := e.Paths(ctx, funnelID, r, paths.Config{MinVolume: minVolume})
				if err != nil {
					return err
				}

				fmt.Println("PATH          VOLUME  COMPLETION  MEDIAN    EFFICIENCY")
				fmt.Println(strings.Repeat("─", 56))
				for _, p := range result {
					fmt.Printf("%-12s  %-6d  %-10s  %-8s  %.4f\n",
						p.Name, p.Volume, formatPercent(p.CompletionRate),
						p.MedianTime.Round(time.Second), p.Efficiency)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&minVolume, "min-volume", 5, "merge rarer paths into 'other'")
	return cmd
}

func newAttributionCmd() *cobra.Command {
	var model string
	var halfLife time.Duration
	var sideBySide bool

	cmd := &cobra.Command{
		Use:   "attribution <name>",
		Short: "Conversion credit across marketing touchpoints",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withFunnelReport(args[0], func(ctx context.Context, e *engine.Engine, funnelID string, r engine.Range) error {
				if sideBySide {
					cfgs := []attribution.Config{
						{Model: attribution.FirstTouch},
						{Model: attribution.LastTouch},
						{Model: attribution.Linear},
						{Model: attribution.TimeDecay, HalfLife: halfLife},
					}
					reports, err := e.AttributionModels(ctx, funnelID, r, cfgs)
					if err != nil {
						return err
					}
					models := make([]attribution.Model, 0, len(reports))
					for m := range reports {
						models = append(models, m)
					}
					sort.Slice(models, func(i, j int) bool { return models[i] < models[j] })
					for _, m := range models {
						fmt.Printf("\nMODEL: %s\n", m)
						printAttribution(reports[m])
					}
					return nil
				}

				cfg := attribution.Config{Model: attribution.Model(model), HalfLife: halfLife}
				report, err := e.Attribution(ctx, funnelID, r, cfg)
				if err != nil {
					return err
				}
				printAttribution(report)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&model, "model", "m", string(attribution.Linear), "first_touch, last_touch, linear or time_decay")
	cmd.Flags().DurationVar(&halfLife, "half-life", 7*24*time.Hour, "half-life for the time-decay model")
	cmd.Flags().BoolVar(&sideBySide, "all-models", false, "show every model side by side")
	return cmd
}

func printAttribution(report *attribution.Report) {
	fmt.Printf("CONVERSIONS: %d\n", report.TotalConversions)
	fmt.Println("CHANNEL               TOUCHES  ATTRIBUTED  SHARE")
	fmt.Println(strings.Repeat("─", 50))
	for _, c := range report.Credits {
		channel := c.Channel
		if len(channel) > 20 {
			channel = channel[:17] + "..."
		}
		fmt.Printf("%-20s  %-7d  %-10.2f  %s\n", channel, c.Touches, c.Conversions, formatPercent(c.Percent))
	}
}
