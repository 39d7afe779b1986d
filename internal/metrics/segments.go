package metrics

import (
	"sort"

	"github.com/funnelscope/funnelscope/internal/progress"
	"github.com/funnelscope/funnelscope/internal/stats"
)

// SegmentKeyFunc maps an identity to the segment it belongs to (device
// type, traffic source, ...). Identity resolution happens upstream; the
// engine passes a lookup built from whatever dimension the caller asked
// to partition on.
type SegmentKeyFunc func(identity string) string

// Segment is the conversion picture for one partition of the entries.
type Segment struct {
	Name               string  `json:"name"`
	Entries            int     `json:"entries"`
	Completions        int     `json:"completions"`
	Rate               float64 `json:"rate"`
	Deviation          float64 `json:"deviation"` // relative to the overall rate
	InsufficientSample bool    `json:"insufficientSample"`
}

// Segments recomputes conversion per partition and reports each
// segment's deviation from the overall rate. Segments come back ordered
// by volume, largest first.
func Segments(ps []*progress.Progression, keyOf SegmentKeyFunc) []Segment {
	totalEntries, totalCompletions := 0, 0
	byKey := make(map[string]*Segment)

	for _, p := range ps {
		totalEntries++
		key := keyOf(p.Identity)
		if key == "" {
			key = "unknown"
		}
		seg, ok := byKey[key]
		if !ok {
			seg = &Segment{Name: key}
			byKey[key] = seg
		}
		seg.Entries++
		if p.Status == progress.StatusCompleted {
			totalCompletions++
			seg.Completions++
		}
	}

	overall := 0.0
	if totalEntries > 0 {
		overall = float64(totalCompletions) / float64(totalEntries)
	}

	segments := make([]Segment, 0, len(byKey))
	for _, seg := range byKey {
		if seg.Entries > 0 {
			seg.Rate = float64(seg.Completions) / float64(seg.Entries)
		}
		if overall > 0 {
			seg.Deviation = (seg.Rate - overall) / overall
		}
		seg.InsufficientSample = seg.Entries < stats.MinSample
		segments = append(segments, *seg)
	}

	sort.Slice(segments, func(i, j int) bool {
		if segments[i].Entries != segments[j].Entries {
			return segments[i].Entries > segments[j].Entries
		}
		return segments[i].Name < segments[j].Name
	})
	return segments
}
