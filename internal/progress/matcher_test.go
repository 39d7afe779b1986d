package progress_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/funnelscope/funnelscope/internal/activity"
	"github.com/funnelscope/funnelscope/internal/funnel"
	"github.com/funnelscope/funnelscope/internal/progress"
)

var base = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

// checkoutVersion is a four-step funnel: landing page, add_to_cart,
// a decision step with a disqualifying abandon event, then purchase.
func checkoutVersion(t *testing.T) *funnel.Version {
	t.Helper()
	v, err := funnel.Publish(funnel.Definition{
		ID:     "f-1",
		Name:   "checkout",
		Window: 24 * time.Hour,
		Steps: []funnel.Step{
			{Order: 0, Kind: funnel.StepStart, Label: "landing", Rules: []funnel.Rule{
				{Kind: funnel.RulePage, Field: funnel.FieldPath, Operator: funnel.OpEquals, Value: "/"},
			}},
			{Order: 1, Kind: funnel.StepEvent, Label: "add to cart", Rules: []funnel.Rule{
				{Kind: funnel.RuleEvent, Value: "add_to_cart"},
			}},
			{Order: 2, Kind: funnel.StepDecision, Label: "checkout", Rules: []funnel.Rule{
				{Kind: funnel.RuleEvent, Value: "checkout_started"},
				{Kind: funnel.RuleEvent, Value: "cart_abandoned", Disqualify: true},
			}},
			{Order: 3, Kind: funnel.StepConversion, Label: "purchase", Rules: []funnel.Rule{
				{Kind: funnel.RuleEvent, Value: "purchase"},
			}},
		},
	}, base)
	require.NoError(t, err)
	return v
}

func page(id, path string, at time.Time) activity.Record {
	return activity.Record{ID: id, Identity: "u-1", Kind: activity.KindPageView, Timestamp: at, Path: path}
}

func ev(id, name string, at time.Time) activity.Record {
	return activity.Record{ID: id, Identity: "u-1", Kind: activity.KindEvent, Name: name, Timestamp: at}
}

func TestReplay_FullConversion(t *testing.T) {
	m := progress.NewMatcher(checkoutVersion(t))

	out := m.Replay("u-1", []activity.Record{
		page("r1", "/", base),
		ev("r2", "add_to_cart", base.Add(10*time.Minute)),
		ev("r3", "checkout_started", base.Add(20*time.Minute)),
		ev("r4", "purchase", base.Add(30*time.Minute)),
	})

	require.Len(t, out, 1)
	p := out[0]
	assert.Equal(t, progress.StatusCompleted, p.Status)
	assert.Equal(t, 3, p.CurrentStep)
	require.NotNil(t, p.CompletedAt)
	assert.Equal(t, base.Add(30*time.Minute), *p.CompletedAt)
	require.Len(t, p.Path, 4)
	for i, hit := range p.Path {
		assert.Equal(t, i, hit.Step)
	}
}

func TestReplay_NoEntryWithoutStart(t *testing.T) {
	m := progress.NewMatcher(checkoutVersion(t))

	// Matching a later step before the start step does not enter the funnel.
	out := m.Replay("u-1", []activity.Record{
		ev("r1", "add_to_cart", base),
		ev("r2", "purchase", base.Add(time.Minute)),
	})

	assert.Empty(t, out)
}

func TestReplay_StepSkipping(t *testing.T) {
	m := progress.NewMatcher(checkoutVersion(t))

	out := m.Replay("u-1", []activity.Record{
		page("r1", "/", base),
		ev("r2", "purchase", base.Add(5*time.Minute)),
	})

	require.Len(t, out, 1)
	p := out[0]
	assert.Equal(t, progress.StatusCompleted, p.Status)
	assert.Equal(t, []progress.StepHit{
		{Step: 0, At: base},
		{Step: 3, At: base.Add(5 * time.Minute)},
	}, p.Path)
}

func TestReplay_Monotone(t *testing.T) {
	m := progress.NewMatcher(checkoutVersion(t))

	// Revisiting the landing page mid-progression must not move the
	// progression backward or re-enter the funnel.
	out := m.Replay("u-1", []activity.Record{
		page("r1", "/", base),
		ev("r2", "add_to_cart", base.Add(10*time.Minute)),
		page("r3", "/", base.Add(15*time.Minute)),
		ev("r4", "checkout_started", base.Add(20*time.Minute)),
	})

	require.Len(t, out, 1)
	p := out[0]
	assert.Equal(t, progress.StatusActive, p.Status)
	assert.Equal(t, 2, p.CurrentStep)

	last := -1
	for _, hit := range p.Path {
		assert.Greater(t, hit.Step, last, "step indexes must be strictly increasing along the path")
		last = hit.Step
	}
}

func TestReplay_OutOfOrderArrival(t *testing.T) {
	m := progress.NewMatcher(checkoutVersion(t))

	// The cart event arrives in the slice before the landing view that
	// precedes it in time. Replay must order by timestamp, so the result
	// is identical to the in-order history.
	out := m.Replay("u-1", []activity.Record{
		ev("r2", "add_to_cart", base.Add(5*time.Minute)),
		page("r1", "/", base),
	})

	require.Len(t, out, 1)
	p := out[0]
	assert.Equal(t, base, p.EnteredAt)
	assert.Equal(t, 1, p.CurrentStep)
	require.Len(t, p.Path, 2)
}

func TestReplay_Idempotent(t *testing.T) {
	m := progress.NewMatcher(checkoutVersion(t))
	recs := []activity.Record{
		page("r1", "/", base),
		ev("r2", "add_to_cart", base.Add(10*time.Minute)),
		ev("r3", "purchase", base.Add(20*time.Minute)),
	}

	first := m.Replay("u-1", recs)
	second := m.Replay("u-1", recs)
	assert.Equal(t, first, second)

	// Duplicate records change nothing either: the duplicate matches an
	// already-passed step and is ignored.
	withDup := append([]activity.Record{ev("r2", "add_to_cart", base.Add(10*time.Minute))}, recs...)
	third := m.Replay("u-1", withDup)
	assert.Equal(t, first, third)
}

func TestReplay_TimestampTieBreakByID(t *testing.T) {
	m := progress.NewMatcher(checkoutVersion(t))
	at := base.Add(10 * time.Minute)

	// Two records at the same instant: the lower ID is processed first.
	out := m.Replay("u-1", []activity.Record{
		page("r1", "/", base),
		ev("rB", "checkout_started", at),
		ev("rA", "add_to_cart", at),
	})

	require.Len(t, out, 1)
	assert.Equal(t, []progress.StepHit{
		{Step: 0, At: base},
		{Step: 1, At: at},
		{Step: 2, At: at},
	}, out[0].Path)
}

func TestReplay_Disqualification(t *testing.T) {
	m := progress.NewMatcher(checkoutVersion(t))

	out := m.Replay("u-1", []activity.Record{
		page("r1", "/", base),
		ev("r2", "add_to_cart", base.Add(10*time.Minute)),
		ev("r3", "cart_abandoned", base.Add(20*time.Minute)),
	})

	require.Len(t, out, 1)
	p := out[0]
	assert.Equal(t, progress.StatusExited, p.Status)
	require.NotNil(t, p.ExitedAt)
	assert.Equal(t, base.Add(20*time.Minute), *p.ExitedAt)
	require.NotNil(t, p.ExitStep)
	assert.Equal(t, 2, *p.ExitStep)
}

func TestReplay_WindowExpiry(t *testing.T) {
	m := progress.NewMatcher(checkoutVersion(t))

	// Activity resumes two days after entry, past the 24h window. The
	// first progression expires at its deadline; the later landing view
	// starts a fresh one.
	out := m.Replay("u-1", []activity.Record{
		page("r1", "/", base),
		ev("r2", "add_to_cart", base.Add(10*time.Minute)),
		page("r3", "/", base.Add(48*time.Hour)),
	})

	require.Len(t, out, 2)

	expired := out[0]
	assert.Equal(t, progress.StatusExpired, expired.Status)
	require.NotNil(t, expired.ExpiredAt)
	assert.Equal(t, base.Add(24*time.Hour), *expired.ExpiredAt, "expiry is stamped at the deadline, not at observation")

	fresh := out[1]
	assert.Equal(t, progress.StatusActive, fresh.Status)
	assert.Equal(t, 1, fresh.Seq)
	assert.Equal(t, base.Add(48*time.Hour), fresh.EnteredAt)
}

func TestReplay_LateStepOutsideWindowDoesNotAdvance(t *testing.T) {
	m := progress.NewMatcher(checkoutVersion(t))

	// A purchase after the window expires the old progression instead of
	// completing it, and does not start a new one (it is not a start match).
	out := m.Replay("u-1", []activity.Record{
		page("r1", "/", base),
		ev("r2", "purchase", base.Add(25*time.Hour)),
	})

	require.Len(t, out, 1)
	assert.Equal(t, progress.StatusExpired, out[0].Status)
}

func TestReplay_ReentryAfterConversion(t *testing.T) {
	m := progress.NewMatcher(checkoutVersion(t))

	out := m.Replay("u-1", []activity.Record{
		page("r1", "/", base),
		ev("r2", "purchase", base.Add(10*time.Minute)),
		page("r3", "/", base.Add(time.Hour)),
		ev("r4", "add_to_cart", base.Add(2*time.Hour)),
	})

	require.Len(t, out, 2)
	assert.Equal(t, progress.StatusCompleted, out[0].Status)
	assert.Equal(t, 0, out[0].Seq)
	assert.Equal(t, progress.StatusActive, out[1].Status)
	assert.Equal(t, 1, out[1].Seq)
	assert.Equal(t, 1, out[1].CurrentStep)
}

func TestReplay_BranchTieBreak(t *testing.T) {
	// Two steps share a rule for the same event; the earliest-declared
	// step wins and the other is recorded as a rejected branch.
	v, err := funnel.Publish(funnel.Definition{
		ID:     "f-2",
		Name:   "branchy",
		Window: 24 * time.Hour,
		Steps: []funnel.Step{
			{Order: 0, Kind: funnel.StepStart, Label: "landing", Rules: []funnel.Rule{
				{Kind: funnel.RulePage, Field: funnel.FieldPath, Operator: funnel.OpEquals, Value: "/"},
			}},
			{Order: 1, Kind: funnel.StepEvent, Label: "engage A", Rules: []funnel.Rule{
				{Kind: funnel.RuleEvent, Value: "engage"},
			}},
			{Order: 2, Kind: funnel.StepEvent, Label: "engage B", Rules: []funnel.Rule{
				{Kind: funnel.RuleEvent, Value: "engage"},
			}},
			{Order: 3, Kind: funnel.StepConversion, Label: "done", Rules: []funnel.Rule{
				{Kind: funnel.RuleEvent, Value: "done"},
			}},
		},
	}, base)
	require.NoError(t, err)

	m := progress.NewMatcher(v)
	out := m.Replay("u-1", []activity.Record{
		page("r1", "/", base),
		ev("r2", "engage", base.Add(time.Minute)),
	})

	require.Len(t, out, 1)
	p := out[0]
	assert.Equal(t, 1, p.CurrentStep)
	require.Len(t, p.Rejected, 1)
	assert.Equal(t, 2, p.Rejected[0].Step)
}

func TestReplay_IgnoresOtherIdentitiesAndInvalid(t *testing.T) {
	m := progress.NewMatcher(checkoutVersion(t))

	other := page("r9", "/", base)
	other.Identity = "u-2"
	invalid := page("", "/", base) // missing ID fails validation

	out := m.Replay("u-1", []activity.Record{other, invalid, page("r1", "/", base.Add(time.Minute))})

	require.Len(t, out, 1)
	assert.Equal(t, base.Add(time.Minute), out[0].EnteredAt)
}

func TestReplay_Conservation(t *testing.T) {
	// Across many identities every entry ends up in exactly one state
	// bucket and the buckets sum back to the entry count.
	v := checkoutVersion(t)

	total := 0
	counts := map[progress.Status]int{}
	for i := 0; i < 50; i++ {
		id := fmt.Sprintf("u-%d", i)
		recs := []activity.Record{
			{ID: "a", Identity: id, Kind: activity.KindPageView, Timestamp: base, Path: "/"},
		}
		switch i % 4 {
		case 0: // converts
			recs = append(recs, activity.Record{ID: "b", Identity: id, Kind: activity.KindEvent, Name: "purchase", Timestamp: base.Add(time.Hour)})
		case 1: // abandons
			recs = append(recs, activity.Record{ID: "b", Identity: id, Kind: activity.KindEvent, Name: "cart_abandoned", Timestamp: base.Add(time.Hour)})
		case 2: // goes idle past the window, then comes back
			recs = append(recs, activity.Record{ID: "b", Identity: id, Kind: activity.KindPageView, Timestamp: base.Add(48 * time.Hour), Path: "/"})
		case 3: // still active
			recs = append(recs, activity.Record{ID: "b", Identity: id, Kind: activity.KindEvent, Name: "add_to_cart", Timestamp: base.Add(time.Hour)})
		}

		for _, p := range progress.NewMatcher(v).Replay(id, recs) {
			total++
			counts[p.Status]++
		}
	}

	sum := counts[progress.StatusActive] + counts[progress.StatusCompleted] +
		counts[progress.StatusExpired] + counts[progress.StatusExited]
	assert.Equal(t, total, sum)
	assert.NotZero(t, counts[progress.StatusCompleted])
	assert.NotZero(t, counts[progress.StatusExited])
	assert.NotZero(t, counts[progress.StatusExpired])
	assert.NotZero(t, counts[progress.StatusActive])
}

func TestExpireIfIdle(t *testing.T) {
	p := &progress.Progression{
		Status:         progress.StatusActive,
		EnteredAt:      base,
		LastActivityAt: base.Add(time.Hour),
	}

	assert.False(t, p.ExpireIfIdle(24*time.Hour, base.Add(20*time.Hour)))
	assert.Equal(t, progress.StatusActive, p.Status)

	assert.True(t, p.ExpireIfIdle(24*time.Hour, base.Add(26*time.Hour)))
	assert.Equal(t, progress.StatusExpired, p.Status)
	require.NotNil(t, p.ExpiredAt)
	assert.Equal(t, base.Add(25*time.Hour), *p.ExpiredAt)

	// Terminal states never change again.
	assert.False(t, p.ExpireIfIdle(24*time.Hour, base.Add(100*time.Hour)))
}
