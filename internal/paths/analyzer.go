package paths

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/funnelscope/funnelscope/internal/metrics"
	"github.com/funnelscope/funnelscope/internal/progress"
)

// Config tunes path grouping.
type Config struct {
	// MinVolume is the smallest number of progressions a distinct
	// sequence needs before it is reported on its own; anything smaller
	// is merged into the "other" bucket.
	MinVolume int
}

func DefaultConfig() Config {
	return Config{MinVolume: 5}
}

// Path is one distinct sequence of steps identities actually took.
type Path struct {
	Name           string        `json:"name"`
	Sequence       []int         `json:"sequence,omitempty"`
	Volume         int           `json:"volume"`
	Completions    int           `json:"completions"`
	CompletionRate float64       `json:"completionRate"`
	MedianTime     time.Duration `json:"medianTime"` // entry to last matched step
	Efficiency     float64       `json:"efficiency"`
	Rejections     int           `json:"rejections"` // branch alternatives not taken
	Other          bool          `json:"other,omitempty"`
}

// Analyze groups terminal progressions by the literal sequence of steps
// they matched and scores each path. Efficiency is the completion rate
// normalized by path length and median duration, so a short fast path
// that converts outranks a long slow one at the same rate.
func Analyze(ps []*progress.Progression, cfg Config) []Path {
	type group struct {
		seq        []int
		volume     int
		completed  int
		durations  []time.Duration
		rejections int
	}
	groups := make(map[string]*group)

	for _, p := range ps {
		if !p.Terminal() {
			continue
		}
		seq := make([]int, len(p.Path))
		for i, hit := range p.Path {
			seq[i] = hit.Step
		}
		key := sequenceName(seq)
		g, ok := groups[key]
		if !ok {
			g = &group{seq: seq}
			groups[key] = g
		}
		g.volume++
		if p.Status == progress.StatusCompleted {
			g.completed++
		}
		if last := len(p.Path) - 1; last > 0 {
			g.durations = append(g.durations, p.Path[last].At.Sub(p.Path[0].At))
		}
		g.rejections += len(p.Rejected)
	}

	var out []Path
	other := Path{Name: "other", Other: true}
	var otherDurations []time.Duration

	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		g := groups[k]
		if g.volume < cfg.MinVolume {
			other.Volume += g.volume
			other.Completions += g.completed
			other.Rejections += g.rejections
			otherDurations = append(otherDurations, g.durations...)
			continue
		}
		out = append(out, buildPath(k, g.seq, g.volume, g.completed, g.rejections, g.durations))
	}

	if other.Volume > 0 {
		other = buildPath("other", nil, other.Volume, other.Completions, other.Rejections, otherDurations)
		other.Other = true
		out = append(out, other)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Other != out[j].Other {
			return !out[i].Other // "other" always last
		}
		if out[i].Volume != out[j].Volume {
			return out[i].Volume > out[j].Volume
		}
		return out[i].Name < out[j].Name
	})
	return out
}

func buildPath(name string, seq []int, volume, completed, rejections int, durations []time.Duration) Path {
	p := Path{
		Name:        name,
		Sequence:    seq,
		Volume:      volume,
		Completions: completed,
		Rejections:  rejections,
	}
	if volume > 0 {
		p.CompletionRate = float64(completed) / float64(volume)
	}
	p.MedianTime = metrics.MedianDuration(durations)
	p.Efficiency = efficiency(p.CompletionRate, len(seq), p.MedianTime)
	return p
}

// efficiency divides the completion rate by path length and by the log
// of the median duration in minutes, so the score degrades gently with
// time instead of vanishing for any path slower than a few seconds.
func efficiency(rate float64, length int, median time.Duration) float64 {
	if length == 0 {
		length = 1
	}
	denom := float64(length) * (1 + math.Log1p(median.Minutes()))
	return rate / denom
}

func sequenceName(seq []int) string {
	parts := make([]string, len(seq))
	for i, s := range seq {
		parts[i] = fmt.Sprintf("%d", s)
	}
	return strings.Join(parts, "→")
}
