package progress

import (
	"sort"

	"github.com/funnelscope/funnelscope/internal/activity"
	"github.com/funnelscope/funnelscope/internal/funnel"
)

// Matcher replays an identity's activity against one funnel version.
//
// Replay is a pure function of the sorted activity sequence, which gives
// the engine its out-of-order tolerance for free: a late-arriving record
// is handled by re-running Replay over the identity's full history, and
// replaying the same sequence any number of times yields identical
// progressions.
type Matcher struct {
	version  *funnel.Version
	startIdx int
}

func NewMatcher(v *funnel.Version) *Matcher {
	startIdx := 0
	for i, s := range v.Definition.Steps {
		if s.Kind == funnel.StepStart {
			startIdx = i
			break
		}
	}
	return &Matcher{version: v, startIdx: startIdx}
}

// Replay processes the identity's records in timestamp order and returns
// every progression the history produces, oldest first. An identity may
// re-enter the funnel after a terminal state; each entry gets its own
// progression with an increasing Seq.
//
// Within one progression the step index is monotonically non-decreasing:
// records satisfying the current or an earlier step are ignored, and a
// record may skip ahead to any later step whose rule it satisfies. When
// several steps would match the same record, the earliest-declared step
// wins and the alternatives are recorded as rejected branches.
func (m *Matcher) Replay(identity string, recs []activity.Record) []*Progression {
	steps := m.version.Definition.Steps
	window := m.version.Definition.Window

	sorted := make([]activity.Record, 0, len(recs))
	for _, r := range recs {
		if r.Identity == identity && r.Validate() == nil {
			sorted = append(sorted, r)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].Timestamp.Equal(sorted[j].Timestamp) {
			return sorted[i].Timestamp.Before(sorted[j].Timestamp)
		}
		return sorted[i].ID < sorted[j].ID
	})

	var out []*Progression
	var cur *Progression

	for _, rec := range sorted {
		ts := rec.Timestamp

		if cur != nil && cur.Status == StatusActive {
			deadline := cur.EnteredAt.Add(window)
			if ts.After(deadline) {
				// Window elapsed before this record; the progression is
				// dead regardless of what the record matches.
				cur.Status = StatusExpired
				expired := deadline
				cur.ExpiredAt = &expired
				cur = nil
			} else {
				if m.advance(cur, rec) {
					continue
				}
				// No forward movement: the record either matched nothing
				// or matched an already-passed step.
				continue
			}
		}

		// Not in the funnel (or terminal): only the start step can match.
		if funnel.StepMatches(steps[m.startIdx], rec) {
			cur = &Progression{
				FunnelID:       m.version.FunnelID,
				VersionID:      m.version.ID,
				Identity:       identity,
				Seq:            len(out),
				CurrentStep:    m.startIdx,
				EnteredAt:      ts,
				LastActivityAt: ts,
				Status:         StatusActive,
				Path:           []StepHit{{Step: m.startIdx, At: ts}},
			}
			out = append(out, cur)
		}
	}

	return out
}

// advance tries to move the progression forward with one in-window
// record. Steps are scanned in declared order past the current index;
// the first step that matches (or disqualifies) wins, and any further
// matching steps become rejected branches.
func (m *Matcher) advance(p *Progression, rec activity.Record) bool {
	steps := m.version.Definition.Steps
	ts := rec.Timestamp
	chosen := -1

	for i := p.CurrentStep + 1; i < len(steps); i++ {
		step := steps[i]
		if funnel.StepDisqualifies(step, rec) {
			p.Status = StatusExited
			exited := ts
			p.ExitedAt = &exited
			exitStep := i
			p.ExitStep = &exitStep
			p.LastActivityAt = ts
			return true
		}
		if !funnel.StepMatches(step, rec) {
			continue
		}
		if chosen < 0 {
			chosen = i
			continue
		}
		p.Rejected = append(p.Rejected, Branch{Step: i, At: ts})
	}

	if chosen < 0 {
		return false
	}

	p.CurrentStep = chosen
	p.LastActivityAt = ts
	p.Path = append(p.Path, StepHit{Step: chosen, At: ts})
	if steps[chosen].Kind == funnel.StepConversion {
		p.Status = StatusCompleted
		completed := ts
		p.CompletedAt = &completed
	}
	return true
}
