package metrics

import (
	"sort"
	"time"

	"github.com/funnelscope/funnelscope/internal/progress"
)

// DefaultPercentiles are reported when the caller does not pick their own.
var DefaultPercentiles = []int{25, 50, 75, 90}

// Bucket is one histogram bin: elapsed times <= Le, above the previous
// bucket's bound.
type Bucket struct {
	Le    time.Duration `json:"le"`
	Count int           `json:"count"`
}

// Transition is the timing distribution for one step-to-step move.
type Transition struct {
	FromStep    int                   `json:"fromStep"`
	ToStep      int                   `json:"toStep"`
	Count       int                   `json:"count"`
	Mean        time.Duration         `json:"mean"`
	Median      time.Duration         `json:"median"`
	Percentiles map[int]time.Duration `json:"percentiles"`
	Histogram   []Bucket              `json:"histogram,omitempty"`
	Overflow    int                   `json:"overflow,omitempty"` // samples above the last bucket
}

// Timing collects elapsed-time samples for every step transition taken
// by the supplied progressions. Percentiles use the nearest-rank method.
// Histogram buckets are caller-defined upper bounds; nil skips the
// histogram.
func Timing(ps []*progress.Progression, percentiles []int, buckets []time.Duration) []Transition {
	if len(percentiles) == 0 {
		percentiles = DefaultPercentiles
	}

	type key struct{ from, to int }
	samples := make(map[key][]time.Duration)

	for _, p := range ps {
		for i := 1; i < len(p.Path); i++ {
			k := key{p.Path[i-1].Step, p.Path[i].Step}
			samples[k] = append(samples[k], p.Path[i].At.Sub(p.Path[i-1].At))
		}
	}

	keys := make([]key, 0, len(samples))
	for k := range samples {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].from != keys[j].from {
			return keys[i].from < keys[j].from
		}
		return keys[i].to < keys[j].to
	})

	out := make([]Transition, 0, len(keys))
	for _, k := range keys {
		ds := samples[k]
		sort.Slice(ds, func(i, j int) bool { return ds[i] < ds[j] })

		t := Transition{
			FromStep:    k.from,
			ToStep:      k.to,
			Count:       len(ds),
			Percentiles: make(map[int]time.Duration, len(percentiles)),
		}

		var total time.Duration
		for _, d := range ds {
			total += d
		}
		t.Mean = total / time.Duration(len(ds))
		t.Median = percentileOf(ds, 50)
		for _, p := range percentiles {
			t.Percentiles[p] = percentileOf(ds, p)
		}

		if len(buckets) > 0 {
			t.Histogram = make([]Bucket, len(buckets))
			for i, le := range buckets {
				t.Histogram[i].Le = le
			}
			for _, d := range ds {
				placed := false
				for i, le := range buckets {
					if d <= le {
						t.Histogram[i].Count++
						placed = true
						break
					}
				}
				if !placed {
					t.Overflow++
				}
			}
		}

		out = append(out, t)
	}
	return out
}

// percentileOf returns the nearest-rank percentile of sorted samples.
func percentileOf(sorted []time.Duration, pct int) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	rank := (pct*len(sorted) + 99) / 100
	if rank < 1 {
		rank = 1
	}
	if rank > len(sorted) {
		rank = len(sorted)
	}
	return sorted[rank-1]
}

// MedianDuration is the 50th percentile of an unsorted sample set.
func MedianDuration(ds []time.Duration) time.Duration {
	sorted := make([]time.Duration, len(ds))
	copy(sorted, ds)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	return percentileOf(sorted, 50)
}
