package attribution

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/funnelscope/funnelscope/internal/activity"
)

type Model string

const (
	FirstTouch Model = "first_touch"
	LastTouch  Model = "last_touch"
	Linear     Model = "linear"
	TimeDecay  Model = "time_decay"
	Custom     Model = "custom"
)

// Config selects a model and its parameters.
type Config struct {
	Model Model `json:"model"`
	// HalfLife applies to the time-decay model: a touchpoint's weight
	// halves for every HalfLife between it and the conversion.
	HalfLife time.Duration `json:"halfLife,omitempty"`
	// CustomWeights applies to the custom model: per-position weights,
	// normalized over the positions an identity actually has.
	CustomWeights []float64 `json:"customWeights,omitempty"`
}

// Validate rejects unusable configurations up front so the weighting
// functions stay pure.
func (c Config) Validate() error {
	switch c.Model {
	case FirstTouch, LastTouch, Linear:
		return nil
	case TimeDecay:
		if c.HalfLife <= 0 {
			return fmt.Errorf("time-decay model needs a positive half-life")
		}
		return nil
	case Custom:
		if len(c.CustomWeights) == 0 {
			return fmt.Errorf("custom model needs position weights")
		}
		total := 0.0
		for _, w := range c.CustomWeights {
			if w < 0 {
				return fmt.Errorf("custom weights must be non-negative")
			}
			total += w
		}
		if total == 0 {
			return fmt.Errorf("custom weights must not all be zero")
		}
		return nil
	default:
		return fmt.Errorf("unknown attribution model %q", c.Model)
	}
}

// Weights distributes one conversion's credit across an ordered
// touchpoint sequence. The returned weights always sum to 1 (within
// floating-point tolerance) for a non-empty sequence.
func Weights(tps []activity.Touchpoint, conversionAt time.Time, cfg Config) []float64 {
	n := len(tps)
	if n == 0 {
		return nil
	}
	weights := make([]float64, n)

	switch cfg.Model {
	case FirstTouch:
		weights[0] = 1
	case LastTouch:
		weights[n-1] = 1
	case Linear:
		for i := range weights {
			weights[i] = 1 / float64(n)
		}
	case TimeDecay:
		total := 0.0
		for i, tp := range tps {
			age := conversionAt.Sub(tp.OccurredAt)
			if age < 0 {
				age = 0
			}
			w := math.Exp2(-age.Seconds() / cfg.HalfLife.Seconds())
			weights[i] = w
			total += w
		}
		for i := range weights {
			weights[i] /= total
		}
	case Custom:
		total := 0.0
		for i := range weights {
			// Stretch the caller's positions over however many
			// touchpoints this identity has.
			pos := i * len(cfg.CustomWeights) / n
			weights[i] = cfg.CustomWeights[pos]
			total += weights[i]
		}
		for i := range weights {
			weights[i] /= total
		}
	}
	return weights
}

// Credit is the attributed outcome for one marketing channel.
type Credit struct {
	Channel     string  `json:"channel"`
	Touches     int     `json:"touches"`
	Conversions float64 `json:"conversions"` // fractional attributed conversions
	Percent     float64 `json:"percent"`
}

// Report is the output of one model over one conversion set.
type Report struct {
	Model            Model     `json:"model"`
	TotalConversions int       `json:"totalConversions"`
	Credits          []Credit  `json:"credits"`
	ComputedAt       time.Time `json:"computedAt"`
}

// Attribute runs one model over every converting identity's touchpoint
// sequence. Identities without touchpoints contribute no credit but
// still count toward total conversions.
func Attribute(sequences map[string][]activity.Touchpoint, conversionAt map[string]time.Time, cfg Config) (*Report, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	report := &Report{Model: cfg.Model, TotalConversions: len(conversionAt)}
	byChannel := make(map[string]*Credit)

	// Deterministic iteration over identities.
	identities := make([]string, 0, len(conversionAt))
	for id := range conversionAt {
		identities = append(identities, id)
	}
	sort.Strings(identities)

	for _, id := range identities {
		tps := sequences[id]
		if len(tps) == 0 {
			continue
		}
		weights := Weights(tps, conversionAt[id], cfg)
		for i, tp := range tps {
			key := tp.Channel()
			c, ok := byChannel[key]
			if !ok {
				c = &Credit{Channel: key}
				byChannel[key] = c
			}
			c.Touches++
			c.Conversions += weights[i]
		}
	}

	for _, c := range byChannel {
		if report.TotalConversions > 0 {
			c.Percent = c.Conversions / float64(report.TotalConversions)
		}
		report.Credits = append(report.Credits, *c)
	}
	sort.Slice(report.Credits, func(i, j int) bool {
		if report.Credits[i].Conversions != report.Credits[j].Conversions {
			return report.Credits[i].Conversions > report.Credits[j].Conversions
		}
		return report.Credits[i].Channel < report.Credits[j].Channel
	})
	return report, nil
}

// CompareModels runs several models over the same touchpoint data for a
// side-by-side view. Touchpoints are not recomputed between models.
func CompareModels(sequences map[string][]activity.Touchpoint, conversionAt map[string]time.Time, cfgs []Config) (map[Model]*Report, error) {
	out := make(map[Model]*Report, len(cfgs))
	for _, cfg := range cfgs {
		report, err := Attribute(sequences, conversionAt, cfg)
		if err != nil {
			return nil, err
		}
		out[cfg.Model] = report
	}
	return out, nil
}
