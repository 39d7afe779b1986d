package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/funnelscope/funnelscope/internal/activity"
	"github.com/funnelscope/funnelscope/internal/attribution"
	"github.com/funnelscope/funnelscope/internal/bottleneck"
	"github.com/funnelscope/funnelscope/internal/compare"
	"github.com/funnelscope/funnelscope/internal/funnel"
	"github.com/funnelscope/funnelscope/internal/metrics"
	"github.com/funnelscope/funnelscope/internal/paths"
	"github.com/funnelscope/funnelscope/internal/progress"
	"github.com/funnelscope/funnelscope/internal/store"
)

// Range is an entry-date query window, half-open: [From, To).
type Range struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// acquire reserves a query slot or fails fast. Saturation is a
// retryable failure; nothing partial is ever returned.
func (e *Engine) acquire() (release func(), err error) {
	if !e.sem.TryAcquire(1) {
		return nil, ErrSaturated
	}
	return func() { e.sem.Release(1) }, nil
}

// finish enforces the no-partial-results rule: a query that ran past
// its deadline reports failure even if a result happened to compute.
func finish[T any](ctx context.Context, result T) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	return result, nil
}

func (e *Engine) load(ctx context.Context, funnelID string, r Range) ([]*progress.Progression, *funnel.Version, error) {
	v, err := e.store.CurrentVersion(ctx, funnelID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load current version: %w", err)
	}
	ps, err := e.store.ProgressionsInRange(ctx, v.ID, r.From, r.To)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load progressions: %w", err)
	}
	return ps, v, nil
}

// Conversion reports entries, completions, the conversion rate with its
// Wilson interval, and per-step drop-off for the range.
func (e *Engine) Conversion(ctx context.Context, funnelID string, r Range) (*metrics.ConversionReport, error) {
	release, err := e.acquire()
	if err != nil {
		return nil, err
	}
	defer release()

	ps, v, err := e.load(ctx, funnelID, r)
	if err != nil {
		return nil, err
	}
	report := metrics.Conversion(ps, v, e.cfg.Confidence)
	report.ComputedAt = time.Now().UTC()
	return finish(ctx, report)
}

// Segments partitions the range's entries by the supplied dimension.
func (e *Engine) Segments(ctx context.Context, funnelID string, r Range, keyOf metrics.SegmentKeyFunc) ([]metrics.Segment, error) {
	release, err := e.acquire()
	if err != nil {
		return nil, err
	}
	defer release()

	ps, _, err := e.load(ctx, funnelID, r)
	if err != nil {
		return nil, err
	}
	return finish(ctx, metrics.Segments(ps, keyOf))
}

// SegmentsBySource partitions by each identity's first touchpoint
// source, the most common traffic-source breakdown.
func (e *Engine) SegmentsBySource(ctx context.Context, funnelID string, r Range) ([]metrics.Segment, error) {
	release, err := e.acquire()
	if err != nil {
		return nil, err
	}
	defer release()

	ps, _, err := e.load(ctx, funnelID, r)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(ps))
	seen := make(map[string]struct{})
	for _, p := range ps {
		if _, ok := seen[p.Identity]; !ok {
			seen[p.Identity] = struct{}{}
			ids = append(ids, p.Identity)
		}
	}
	tps, err := e.store.TouchpointsFor(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load touchpoints: %w", err)
	}

	keyOf := func(identity string) string {
		if seq := tps[identity]; len(seq) > 0 {
			return seq[0].Source
		}
		return "direct"
	}
	return finish(ctx, metrics.Segments(ps, keyOf))
}

// Cohorts buckets the range's entries by period and reports conversion
// and retention per bucket.
func (e *Engine) Cohorts(ctx context.Context, funnelID string, r Range, g metrics.Granularity, retentionDays []int) ([]metrics.Cohort, error) {
	release, err := e.acquire()
	if err != nil {
		return nil, err
	}
	defer release()

	ps, _, err := e.load(ctx, funnelID, r)
	if err != nil {
		return nil, err
	}
	return finish(ctx, metrics.Cohorts(ps, g, retentionDays, e.cfg.Confidence))
}

// Timing reports elapsed-time distributions for every step transition.
func (e *Engine) Timing(ctx context.Context, funnelID string, r Range, percentiles []int, buckets []time.Duration) ([]metrics.Transition, error) {
	release, err := e.acquire()
	if err != nil {
		return nil, err
	}
	defer release()

	ps, _, err := e.load(ctx, funnelID, r)
	if err != nil {
		return nil, err
	}
	return finish(ctx, metrics.Timing(ps, percentiles, buckets))
}

// Bottlenecks compares a trailing recent window against the baseline
// window before it and returns ranked findings.
func (e *Engine) Bottlenecks(ctx context.Context, funnelID string, recentWindow, baselineWindow time.Duration, cfg bottleneck.Config, now time.Time) ([]bottleneck.Finding, error) {
	release, err := e.acquire()
	if err != nil {
		return nil, err
	}
	defer release()

	recentFrom := now.Add(-recentWindow)
	recent, v, err := e.load(ctx, funnelID, Range{From: recentFrom, To: now})
	if err != nil {
		return nil, err
	}
	baseline, err := e.store.ProgressionsInRange(ctx, v.ID, recentFrom.Add(-baselineWindow), recentFrom)
	if err != nil {
		return nil, fmt.Errorf("failed to load baseline progressions: %w", err)
	}

	findings := bottleneck.Detect(recent, baseline, v, cfg)
	computedAt := time.Now().UTC()
	for i := range findings {
		findings[i].ComputedAt = computedAt
	}
	return finish(ctx, findings)
}

// Paths groups the literal step sequences taken through the funnel.
func (e *Engine) Paths(ctx context.Context, funnelID string, r Range, cfg paths.Config) ([]paths.Path, error) {
	release, err := e.acquire()
	if err != nil {
		return nil, err
	}
	defer release()

	ps, _, err := e.load(ctx, funnelID, r)
	if err != nil {
		return nil, err
	}
	return finish(ctx, paths.Analyze(ps, cfg))
}

// Attribution distributes conversion credit across the touchpoints that
// preceded each conversion in the range.
func (e *Engine) Attribution(ctx context.Context, funnelID string, r Range, cfg attribution.Config) (*attribution.Report, error) {
	release, err := e.acquire()
	if err != nil {
		return nil, err
	}
	defer release()

	sequences, conversionAt, err := e.touchpointData(ctx, funnelID, r)
	if err != nil {
		return nil, err
	}
	report, err := attribution.Attribute(sequences, conversionAt, cfg)
	if err != nil {
		return nil, err
	}
	report.ComputedAt = time.Now().UTC()
	return finish(ctx, report)
}

// AttributionModels runs several models over the same touchpoint data.
func (e *Engine) AttributionModels(ctx context.Context, funnelID string, r Range, cfgs []attribution.Config) (map[attribution.Model]*attribution.Report, error) {
	release, err := e.acquire()
	if err != nil {
		return nil, err
	}
	defer release()

	sequences, conversionAt, err := e.touchpointData(ctx, funnelID, r)
	if err != nil {
		return nil, err
	}
	reports, err := attribution.CompareModels(sequences, conversionAt, cfgs)
	if err != nil {
		return nil, err
	}
	computedAt := time.Now().UTC()
	for _, rep := range reports {
		rep.ComputedAt = computedAt
	}
	return finish(ctx, reports)
}

func (e *Engine) touchpointData(ctx context.Context, funnelID string, r Range) (map[string][]activity.Touchpoint, map[string]time.Time, error) {
	ps, _, err := e.load(ctx, funnelID, r)
	if err != nil {
		return nil, nil, err
	}

	conversionAt := make(map[string]time.Time)
	for _, p := range ps {
		if p.Status != progress.StatusCompleted || p.CompletedAt == nil {
			continue
		}
		// First conversion wins for identities that re-entered.
		if at, ok := conversionAt[p.Identity]; !ok || p.CompletedAt.Before(at) {
			conversionAt[p.Identity] = *p.CompletedAt
		}
	}

	ids := make([]string, 0, len(conversionAt))
	for id := range conversionAt {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	all, err := e.store.TouchpointsFor(ctx, ids)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load touchpoints: %w", err)
	}

	// Only touchpoints preceding the conversion carry credit.
	sequences := make(map[string][]activity.Touchpoint, len(all))
	for id, seq := range all {
		convAt := conversionAt[id]
		for _, tp := range seq {
			if !tp.OccurredAt.After(convAt) {
				sequences[id] = append(sequences[id], tp)
			}
		}
	}
	return sequences, conversionAt, nil
}

// CompareFunnels runs the statistical comparison across funnels over a
// shared period. Results are cached immutably by (funnel set, period,
// parameters); cached reports true when the result was served from the
// cache.
func (e *Engine) CompareFunnels(ctx context.Context, funnelIDs []string, r Range, cfg compare.Config) (result *compare.Result, cached bool, err error) {
	release, err := e.acquire()
	if err != nil {
		return nil, false, err
	}
	defer release()

	key, err := comparisonKey(funnelIDs, r, cfg)
	if err != nil {
		return nil, false, err
	}
	if raw, _, err := e.store.GetComparison(ctx, key); err == nil {
		var res compare.Result
		if err := json.Unmarshal(raw, &res); err == nil {
			out, err := finish(ctx, &res)
			return out, true, err
		}
	}

	arms := make([]compare.Arm, 0, len(funnelIDs))
	for _, id := range funnelIDs {
		ps, v, err := e.load(ctx, id, r)
		if err != nil {
			return nil, false, err
		}
		arm := compare.Arm{FunnelID: id, Name: v.Definition.Name}
		for _, p := range ps {
			arm.Entries++
			if p.Status == progress.StatusCompleted {
				arm.Conversions++
			}
		}
		arms = append(arms, arm)
	}

	res, err := compare.Compare(arms, cfg)
	if err != nil {
		return nil, false, err
	}
	res.ComputedAt = time.Now().UTC()

	raw, err := json.Marshal(res)
	if err != nil {
		return nil, false, fmt.Errorf("failed to marshal comparison: %w", err)
	}
	if err := e.store.PutComparison(ctx, key, raw, res.ComputedAt); err != nil {
		return nil, false, err
	}

	out, err := finish(ctx, res)
	return out, false, err
}

func comparisonKey(funnelIDs []string, r Range, cfg compare.Config) (string, error) {
	payload := struct {
		Funnels []string       `json:"funnels"`
		Range   Range          `json:"range"`
		Config  compare.Config `json:"config"`
	}{Funnels: funnelIDs, Range: r, Config: cfg}

	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to build comparison key: %w", err)
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

// Trace returns an identity's full progression history through a
// funnel, current and historical, for journey views and debugging.
func (e *Engine) Trace(ctx context.Context, funnelID, identity string) ([]*progress.Progression, error) {
	ps, err := e.store.ProgressionTrace(ctx, funnelID, identity)
	if err != nil {
		return nil, fmt.Errorf("failed to load progression trace: %w", err)
	}
	if len(ps) == 0 {
		return nil, store.ErrNotFound
	}
	return finish(ctx, ps)
}
