package metrics_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/funnelscope/funnelscope/internal/metrics"
	"github.com/funnelscope/funnelscope/internal/progress"
)

// cohortPopulation builds two daily cohorts: day one converts at 10%,
// day two at 30%, 100 members each.
func cohortPopulation() []*progress.Progression {
	var ps []*progress.Progression
	day2 := base.AddDate(0, 0, 1)
	for i := 0; i < 100; i++ {
		status := progress.StatusExpired
		if i < 10 {
			status = progress.StatusCompleted
		}
		ps = append(ps, prog(fmt.Sprintf("a-%d", i), 0, 0, status, base))
	}
	for i := 0; i < 100; i++ {
		status := progress.StatusExpired
		if i < 30 {
			status = progress.StatusCompleted
		}
		ps = append(ps, prog(fmt.Sprintf("b-%d", i), 0, 0, status, day2))
	}
	return ps
}

func TestCohorts_Daily(t *testing.T) {
	cohorts := metrics.Cohorts(cohortPopulation(), metrics.Daily, nil, 0.95)

	require.Len(t, cohorts, 2)
	assert.Equal(t, "2026-03-02", cohorts[0].Key)
	assert.Equal(t, "2026-03-03", cohorts[1].Key)
	assert.Equal(t, 100, cohorts[0].Entries)
	assert.InDelta(t, 0.10, cohorts[0].Rate, 1e-9)
	assert.InDelta(t, 0.30, cohorts[1].Rate, 1e-9)

	// 10% vs 30% on 100 entries each is a significant jump.
	assert.True(t, cohorts[1].SignificantVsPrev)
	assert.Less(t, cohorts[1].PValueVsPrev, 0.05)
	assert.False(t, cohorts[0].SignificantVsPrev, "first cohort has no previous")
}

func TestCohorts_SmallCohortsNeverSignificant(t *testing.T) {
	var ps []*progress.Progression
	for i := 0; i < 5; i++ {
		ps = append(ps, prog(fmt.Sprintf("a-%d", i), 0, 0, progress.StatusExpired, base))
	}
	for i := 0; i < 5; i++ {
		ps = append(ps, prog(fmt.Sprintf("b-%d", i), 0, 0, progress.StatusCompleted, base.AddDate(0, 0, 1)))
	}

	cohorts := metrics.Cohorts(ps, metrics.Daily, nil, 0.95)

	require.Len(t, cohorts, 2)
	assert.False(t, cohorts[1].SignificantVsPrev, "0% vs 100% on 5 entries is still underpowered")
}

func TestCohorts_Retention(t *testing.T) {
	// One completed (always retained), one still active (retained), one
	// expired on day 2 (retained at day 1, gone by day 7).
	expired := prog("u-3", 0, 0, progress.StatusExpired, base)
	expiredAt := base.Add(48 * time.Hour)
	expired.ExpiredAt = &expiredAt

	ps := []*progress.Progression{
		prog("u-1", 0, 2, progress.StatusCompleted, base),
		prog("u-2", 0, 0, progress.StatusActive, base),
		expired,
	}

	cohorts := metrics.Cohorts(ps, metrics.Daily, []int{1, 7}, 0.95)

	require.Len(t, cohorts, 1)
	c := cohorts[0]
	assert.InDelta(t, 1.0, c.Retention[1], 1e-9)
	assert.InDelta(t, 2.0/3.0, c.Retention[7], 1e-9)
}

func TestCohorts_WeeklyAndMonthlyKeys(t *testing.T) {
	// 2026-03-02 is a Monday in ISO week 10.
	ps := []*progress.Progression{prog("u-1", 0, 0, progress.StatusActive, base)}

	weekly := metrics.Cohorts(ps, metrics.Weekly, nil, 0.95)
	require.Len(t, weekly, 1)
	assert.Equal(t, "2026-W10", weekly[0].Key)

	monthly := metrics.Cohorts(ps, metrics.Monthly, nil, 0.95)
	require.Len(t, monthly, 1)
	assert.Equal(t, "2026-03", monthly[0].Key)
}
