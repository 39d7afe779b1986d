package cli

import (
	"fmt"
	"time"

	"github.com/funnelscope/funnelscope/internal/engine"
	"github.com/funnelscope/funnelscope/internal/platform/logger"
	"github.com/funnelscope/funnelscope/internal/store"
)

// withStore opens the database, executes the function, and handles cleanup.
func withStore(fn func(*store.SQLiteStore) error) error {
	s, err := store.Open(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer s.Close()

	return fn(s)
}

// withEngine opens the database, builds an engine around it, and handles
// cleanup.
func withEngine(fn func(*engine.Engine, *store.SQLiteStore) error) error {
	return withStore(func(s *store.SQLiteStore) error {
		log, err := logger.New(logMode)
		if err != nil {
			return fmt.Errorf("failed to build logger: %w", err)
		}
		defer log.Sync()

		return fn(engine.New(s, log, engine.DefaultConfig()), s)
	})
}

func formatPercent(rate float64) string {
	if rate == 0 {
		return "0%"
	}
	return fmt.Sprintf("%.2f%%", rate*100)
}

// parseRange turns --from/--to flags into a query range. An empty --to
// means now; an empty --from means 30 days before --to.
func parseRange(fromStr, toStr string) (engine.Range, error) {
	to := time.Now().UTC()
	if toStr != "" {
		parsed, err := parseDay(toStr)
		if err != nil {
			return engine.Range{}, err
		}
		to = parsed
	}
	from := to.AddDate(0, 0, -30)
	if fromStr != "" {
		parsed, err := parseDay(fromStr)
		if err != nil {
			return engine.Range{}, err
		}
		from = parsed
	}
	if !from.Before(to) {
		return engine.Range{}, fmt.Errorf("--from must be before --to")
	}
	return engine.Range{From: from, To: to}, nil
}

func parseDay(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q (want 2006-01-02 or RFC3339)", s)
	}
	return t, nil
}
