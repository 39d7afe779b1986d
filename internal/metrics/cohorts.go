package metrics

import (
	"fmt"
	"sort"
	"time"

	"github.com/funnelscope/funnelscope/internal/progress"
	"github.com/funnelscope/funnelscope/internal/stats"
)

type Granularity string

const (
	Daily   Granularity = "daily"
	Weekly  Granularity = "weekly"
	Monthly Granularity = "monthly"
)

// Cohort groups the identities that entered the funnel in one period.
type Cohort struct {
	Key         string          `json:"key"`
	Start       time.Time       `json:"start"`
	Entries     int             `json:"entries"`
	Completions int             `json:"completions"`
	Rate        float64         `json:"rate"`
	// Retention maps day offsets to the fraction of the cohort still
	// progressing or converted that many days after entry. Expired and
	// exited progressions count as non-retained from their terminal day.
	Retention map[int]float64 `json:"retention"`

	// Comparison against the previous cohort.
	PValueVsPrev      float64 `json:"pValueVsPrev"`
	SignificantVsPrev bool    `json:"significantVsPrev"`
}

// Cohorts buckets progressions by entry period and computes conversion
// and day-N retention per bucket. Consecutive cohorts are compared with
// a two-proportion z-test; differences are only flagged when both
// samples clear the minimum size.
func Cohorts(ps []*progress.Progression, g Granularity, retentionDays []int, confidence float64) []Cohort {
	byKey := make(map[string][]*progress.Progression)
	starts := make(map[string]time.Time)

	for _, p := range ps {
		key, start := periodOf(p.EnteredAt.UTC(), g)
		byKey[key] = append(byKey[key], p)
		starts[key] = start
	}

	keys := make([]string, 0, len(byKey))
	for k := range byKey {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return starts[keys[i]].Before(starts[keys[j]]) })

	cohorts := make([]Cohort, 0, len(keys))
	for _, key := range keys {
		members := byKey[key]
		c := Cohort{
			Key:       key,
			Start:     starts[key],
			Entries:   len(members),
			Retention: make(map[int]float64, len(retentionDays)),
		}
		for _, p := range members {
			if p.Status == progress.StatusCompleted {
				c.Completions++
			}
		}
		if c.Entries > 0 {
			c.Rate = float64(c.Completions) / float64(c.Entries)
		}

		for _, day := range retentionDays {
			retained := 0
			for _, p := range members {
				if retainedAt(p, day) {
					retained++
				}
			}
			if c.Entries > 0 {
				c.Retention[day] = float64(retained) / float64(c.Entries)
			}
		}
		cohorts = append(cohorts, c)
	}

	for i := 1; i < len(cohorts); i++ {
		prev, cur := cohorts[i-1], cohorts[i]
		res := stats.TwoProportion(cur.Completions, cur.Entries, prev.Completions, prev.Entries, confidence)
		cohorts[i].PValueVsPrev = res.PValue
		cohorts[i].SignificantVsPrev = !res.Insufficient && res.PValue < 1-confidence
	}

	return cohorts
}

// retainedAt reports whether the progression was still progressing or
// had converted `day` days after entry.
func retainedAt(p *progress.Progression, day int) bool {
	if p.Status == progress.StatusCompleted {
		return true
	}
	cutoff := p.EnteredAt.Add(time.Duration(day) * 24 * time.Hour)
	terminal := p.TerminalAt()
	if terminal == nil {
		// Still active.
		return true
	}
	return terminal.After(cutoff)
}

func periodOf(t time.Time, g Granularity) (string, time.Time) {
	switch g {
	case Weekly:
		year, week := t.ISOWeek()
		// Walk back to the ISO week's Monday.
		start := t.Truncate(24 * time.Hour)
		for start.Weekday() != time.Monday {
			start = start.AddDate(0, 0, -1)
		}
		return fmt.Sprintf("%04d-W%02d", year, week), start
	case Monthly:
		start := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
		return start.Format("2006-01"), start
	default:
		start := t.Truncate(24 * time.Hour)
		return start.Format("2006-01-02"), start
	}
}
