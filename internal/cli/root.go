package cli

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	dbPath  string
	logMode string
)

var rootCmd = &cobra.Command{
	Use:   "funnelscope",
	Short: "Funnelscope - funnel matching and analytics over user activity streams",
	Long: `Funnelscope matches timestamped user activity against ordered funnel
definitions and turns the resulting progressions into conversion, cohort,
timing, bottleneck, path, attribution, and A/B-comparison statistics.
Single Go binary, embedded SQLite.`,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", getEnvOrDefault("FS_DB_PATH", "./funnelscope.db"), "database path")
	rootCmd.PersistentFlags().StringVar(&logMode, "log", getEnvOrDefault("FS_LOG_MODE", "dev"), "log mode (dev or prod)")
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
