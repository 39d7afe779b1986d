package bottleneck

import (
	"sort"
	"time"

	"github.com/funnelscope/funnelscope/internal/funnel"
	"github.com/funnelscope/funnelscope/internal/progress"
	"github.com/funnelscope/funnelscope/internal/stats"
)

// Config tunes what counts as a bottleneck.
type Config struct {
	// DeviationThreshold is the minimum absolute increase in a step's
	// drop-off rate vs baseline before the step is even considered.
	DeviationThreshold float64
	// MinBaselineSample guards against flagging noise off a thin baseline.
	MinBaselineSample int
	Confidence        float64
}

func DefaultConfig() Config {
	return Config{
		DeviationThreshold: 0.05,
		MinBaselineSample:  stats.MinSample,
		Confidence:         0.95,
	}
}

// Finding is one flagged step, worst first in the detector's output.
type Finding struct {
	Step            int       `json:"step"`
	Label           string    `json:"label"`
	RecentDropOff   float64   `json:"recentDropOff"`
	BaselineDropOff float64   `json:"baselineDropOff"`
	Deviation       float64   `json:"deviation"` // recent - baseline
	PValue          float64   `json:"pValue"`
	Severity        float64   `json:"severity"`
	Confidence      float64   `json:"confidence"` // 1 - p
	LostConversions float64   `json:"lostConversions"`
	ComputedAt      time.Time `json:"computedAt"`
}

// Detect compares each step's recent drop-off rate against its
// historical baseline and returns ranked findings. A step is flagged
// only when the deviation clears the threshold, the difference is
// statistically significant, and the baseline sample is big enough.
// The detector never remediates anything.
func Detect(recent, baseline []*progress.Progression, v *funnel.Version, cfg Config) []Finding {
	steps := v.Definition.Steps
	var findings []Finding

	for i := 1; i < len(steps); i++ {
		recentPrev, recentDropped := dropOffAt(recent, i)
		basePrev, baseDropped := dropOffAt(baseline, i)
		if basePrev < cfg.MinBaselineSample || recentPrev == 0 {
			continue
		}

		recentRate := float64(recentDropped) / float64(recentPrev)
		baseRate := float64(baseDropped) / float64(basePrev)
		deviation := recentRate - baseRate
		if deviation < cfg.DeviationThreshold {
			continue
		}

		res := stats.TwoProportion(recentDropped, recentPrev, baseDropped, basePrev, cfg.Confidence)
		if res.Insufficient || res.PValue >= 1-cfg.Confidence {
			continue
		}

		findings = append(findings, Finding{
			Step:            i,
			Label:           steps[i].Label,
			RecentDropOff:   recentRate,
			BaselineDropOff: baseRate,
			Deviation:       deviation,
			PValue:          res.PValue,
			Severity:        deviation * (1 - res.PValue),
			Confidence:      1 - res.PValue,
			LostConversions: deviation * float64(recentPrev),
		})
	}

	sort.Slice(findings, func(i, j int) bool {
		if findings[i].Severity != findings[j].Severity {
			return findings[i].Severity > findings[j].Severity
		}
		return findings[i].Step < findings[j].Step
	})
	return findings
}

// dropOffAt returns how many progressions reached step i-1 and how many
// of those never reached step i.
func dropOffAt(ps []*progress.Progression, i int) (prevReached, dropped int) {
	for _, p := range ps {
		if !p.ReachedStep(i - 1) {
			continue
		}
		prevReached++
		if !p.ReachedStep(i) {
			dropped++
		}
	}
	return prevReached, dropped
}
