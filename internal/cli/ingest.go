package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/funnelscope/funnelscope/internal/activity"
	"github.com/funnelscope/funnelscope/internal/engine"
	"github.com/funnelscope/funnelscope/internal/store"
)

func init() {
	rootCmd.AddCommand(newIngestCmd())
	rootCmd.AddCommand(newTouchpointsCmd())
}

func newIngestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest <file>",
		Short: "Ingest activity records from a JSONL file",
		Long: `Ingest newline-delimited JSON activity records and bring every
published funnel's progressions up to date. Records already seen (same
id) are ignored, so re-running over the same file is safe. Use '-' to
read from stdin.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := os.Stdin
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return fmt.Errorf("failed to open activity file: %w", err)
				}
				defer f.Close()
				in = f
			}

			recs, malformed, err := activity.DecodeRecords(in)
			if err != nil {
				return err
			}

			return withEngine(func(e *engine.Engine, s *store.SQLiteStore) error {
				accepted, skipped, err := e.IngestBatch(context.Background(), recs)
				if err != nil {
					return err
				}
				fmt.Printf("Ingested %d records (%d skipped as malformed).\n", accepted, skipped+malformed)
				return nil
			})
		},
	}
	return cmd
}

func newTouchpointsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "touchpoints <file>",
		Short: "Load marketing touchpoints from a JSONL file",
		Long: `Load newline-delimited JSON touchpoints for attribution reports.
Duplicate touchpoints (same identity, source, and time) are ignored.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("failed to open touchpoint file: %w", err)
			}
			defer f.Close()

			tps, malformed, err := activity.DecodeTouchpoints(f)
			if err != nil {
				return err
			}

			return withStore(func(s *store.SQLiteStore) error {
				inserted, err := s.InsertTouchpoints(context.Background(), tps)
				if err != nil {
					return err
				}
				fmt.Printf("Loaded %d touchpoints (%d skipped as malformed, %d duplicates).\n",
					inserted, malformed, len(tps)-inserted)
				return nil
			})
		},
	}
	return cmd
}
