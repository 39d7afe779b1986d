package metrics

import (
	"time"

	"github.com/funnelscope/funnelscope/internal/funnel"
	"github.com/funnelscope/funnelscope/internal/progress"
	"github.com/funnelscope/funnelscope/internal/stats"
)

// StepStat is one step's share of the funnel's traffic.
type StepStat struct {
	Step       int             `json:"step"`
	Label      string          `json:"label"`
	Kind       funnel.StepKind `json:"kind"`
	Reached    int             `json:"reached"`
	Completion float64         `json:"completion"` // reached / reached at previous step
	DropOff    float64         `json:"dropOff"`    // 1 - completion
}

// ConversionReport covers one funnel over one entry date range.
type ConversionReport struct {
	Entries            int        `json:"entries"`
	Completions        int        `json:"completions"`
	Rate               float64    `json:"rate"`
	CILow              float64    `json:"ciLow"`
	CIHigh             float64    `json:"ciHigh"`
	InsufficientSample bool       `json:"insufficientSample"`
	StillActive        int        `json:"stillActive"`
	Expired            int        `json:"expired"`
	Exited             int        `json:"exited"`
	Steps              []StepStat `json:"steps"`
	ComputedAt         time.Time  `json:"computedAt"`
}

// Conversion aggregates progressions whose entry falls in the queried
// range. Pure and deterministic: identical inputs produce identical
// output. The caller stamps ComputedAt.
func Conversion(ps []*progress.Progression, v *funnel.Version, confidence float64) *ConversionReport {
	report := &ConversionReport{}
	steps := v.Definition.Steps

	for _, p := range ps {
		report.Entries++
		switch p.Status {
		case progress.StatusCompleted:
			report.Completions++
		case progress.StatusActive:
			report.StillActive++
		case progress.StatusExpired:
			report.Expired++
		case progress.StatusExited:
			report.Exited++
		}
	}

	if report.Entries > 0 {
		report.Rate = float64(report.Completions) / float64(report.Entries)
	}
	if report.Entries >= stats.MinSample {
		report.CILow, report.CIHigh = stats.WilsonInterval(report.Completions, report.Entries, confidence)
	} else {
		report.InsufficientSample = true
	}

	prevReached := 0
	for i, step := range steps {
		reached := 0
		for _, p := range ps {
			if p.ReachedStep(i) {
				reached++
			}
		}
		stat := StepStat{
			Step:    i,
			Label:   step.Label,
			Kind:    step.Kind,
			Reached: reached,
		}
		if i == 0 {
			stat.Completion = 1
		} else if prevReached > 0 {
			stat.Completion = float64(reached) / float64(prevReached)
			stat.DropOff = 1 - stat.Completion
		}
		report.Steps = append(report.Steps, stat)
		prevReached = reached
	}

	return report
}
