package compare

import (
	"fmt"
	"time"

	"github.com/funnelscope/funnelscope/internal/stats"
)

// Arm is one funnel (or funnel version) under comparison.
type Arm struct {
	FunnelID    string `json:"funnelId"`
	Name        string `json:"name"`
	Entries     int    `json:"entries"`
	Conversions int    `json:"conversions"`
}

type Config struct {
	Confidence float64 `json:"confidence"`
	// MinSample is the per-arm power gate: below it the comparison is
	// inconclusive rather than a confident "no difference".
	MinSample int `json:"minSample"`
	// Baseline is the index of the designated baseline arm.
	Baseline int `json:"baseline"`
}

func DefaultConfig() Config {
	return Config{Confidence: 0.95, MinSample: stats.MinSample}
}

// ArmStat is one arm's observed performance.
type ArmStat struct {
	Arm
	Rate               float64 `json:"rate"`
	CILow              float64 `json:"ciLow"`
	CIHigh             float64 `json:"ciHigh"`
	InsufficientSample bool    `json:"insufficientSample"`
}

// Pair is one arm's test against the baseline.
type Pair struct {
	Name        string  `json:"name"`
	PValue      float64 `json:"pValue"`
	Z           float64 `json:"z"`
	Diff        float64 `json:"diff"`
	DiffLow     float64 `json:"diffLow"`
	DiffHigh    float64 `json:"diffHigh"`
	EffectSize  float64 `json:"effectSize"`
	Significant bool    `json:"significant"` // after multiple-comparison correction
}

// Result is an immutable comparison outcome. Winner is empty both for
// "confidently no difference" and for "not enough data"; Inconclusive
// distinguishes the two.
type Result struct {
	Arms         []ArmStat `json:"arms"`
	Baseline     string    `json:"baseline"`
	Pairs        []Pair    `json:"pairs"`
	OverallChi2  float64   `json:"overallChi2,omitempty"`
	OverallP     float64   `json:"overallP,omitempty"`
	Winner       string    `json:"winner,omitempty"`
	Inconclusive bool      `json:"inconclusive"`
	ComputedAt   time.Time `json:"computedAt"`
}

// Compare runs the designated baseline against every other arm. Two arms
// get a plain two-proportion z-test; more get a chi-square overall test
// plus Benjamini-Hochberg-corrected pairwise tests. A winner is declared
// only when the leading arm's test is significant and every arm clears
// the minimum sample.
func Compare(arms []Arm, cfg Config) (*Result, error) {
	if len(arms) < 2 {
		return nil, fmt.Errorf("comparison needs at least two funnels, got %d", len(arms))
	}
	if cfg.Baseline < 0 || cfg.Baseline >= len(arms) {
		return nil, fmt.Errorf("baseline index %d out of range", cfg.Baseline)
	}
	if cfg.Confidence <= 0 || cfg.Confidence >= 1 {
		return nil, fmt.Errorf("confidence must be in (0, 1), got %v", cfg.Confidence)
	}

	res := &Result{Baseline: arms[cfg.Baseline].Name}

	underpowered := false
	for _, arm := range arms {
		stat := ArmStat{Arm: arm}
		if arm.Entries > 0 {
			stat.Rate = float64(arm.Conversions) / float64(arm.Entries)
		}
		if arm.Entries >= stats.MinSample {
			stat.CILow, stat.CIHigh = stats.WilsonInterval(arm.Conversions, arm.Entries, cfg.Confidence)
		} else {
			stat.InsufficientSample = true
		}
		if arm.Entries < cfg.MinSample {
			underpowered = true
		}
		res.Arms = append(res.Arms, stat)
	}

	base := arms[cfg.Baseline]
	var pValues []float64
	for i, arm := range arms {
		if i == cfg.Baseline {
			continue
		}
		t := stats.TwoProportion(arm.Conversions, arm.Entries, base.Conversions, base.Entries, cfg.Confidence)
		res.Pairs = append(res.Pairs, Pair{
			Name:       arm.Name,
			PValue:     t.PValue,
			Z:          t.Z,
			Diff:       t.Diff,
			DiffLow:    t.DiffLow,
			DiffHigh:   t.DiffHigh,
			EffectSize: t.EffectSize,
		})
		pValues = append(pValues, t.PValue)
	}

	alpha := 1 - cfg.Confidence
	if len(res.Pairs) > 1 {
		flags := stats.BenjaminiHochberg(pValues, alpha)
		for i := range res.Pairs {
			res.Pairs[i].Significant = flags[i]
		}

		groups := make([]stats.Proportion, len(arms))
		for i, arm := range arms {
			groups[i] = stats.Proportion{Successes: arm.Conversions, Trials: arm.Entries}
		}
		res.OverallChi2, _, res.OverallP = stats.ChiSquare(groups)
	} else {
		res.Pairs[0].Significant = res.Pairs[0].PValue < alpha
	}

	res.Inconclusive = underpowered
	if underpowered {
		return res, nil
	}

	// Leading arm by observed rate; baseline wins ties by declaration
	// order, which keeps "identical rates" from crowning a challenger.
	leading := cfg.Baseline
	for i := range res.Arms {
		if res.Arms[i].Rate > res.Arms[leading].Rate {
			leading = i
		}
	}
	if leading == cfg.Baseline {
		// Baseline leads: it wins only if it significantly beats the
		// strongest challenger.
		best := -1
		for i := range res.Pairs {
			if best < 0 || res.Pairs[i].Diff > res.Pairs[best].Diff {
				best = i
			}
		}
		if best >= 0 && res.Pairs[best].Significant && res.Pairs[best].Diff < 0 {
			res.Winner = res.Baseline
		}
	} else {
		pairIdx := leading
		if leading > cfg.Baseline {
			pairIdx = leading - 1
		}
		if res.Pairs[pairIdx].Significant {
			res.Winner = res.Arms[leading].Name
		}
	}

	return res, nil
}
