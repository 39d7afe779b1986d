package engine

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/funnelscope/funnelscope/internal/activity"
	"github.com/funnelscope/funnelscope/internal/funnel"
	"github.com/funnelscope/funnelscope/internal/live"
	"github.com/funnelscope/funnelscope/internal/platform/logger"
	"github.com/funnelscope/funnelscope/internal/progress"
	"github.com/funnelscope/funnelscope/internal/store"
)

// ErrSaturated signals that the analytics worker pool has no capacity.
// Callers should retry; no partial work was done.
var ErrSaturated = errors.New("analytics worker pool saturated")

const lockShards = 64

type Config struct {
	// Workers bounds batch recompute fan-out across identities.
	Workers int
	// QueryConcurrency bounds concurrent analytics queries.
	QueryConcurrency int64
	Confidence       float64
	// LiveWindow is the trailing window live snapshots cover.
	LiveWindow time.Duration
	// Now supplies wall-clock time. Tests override it.
	Now func() time.Time
}

func DefaultConfig() Config {
	return Config{
		Workers:          runtime.NumCPU(),
		QueryConcurrency: 4,
		Confidence:       0.95,
		LiveWindow:       30 * time.Second,
	}
}

// Engine owns the matching and analytics pipeline for one tenant's
// event history. Processing is parallel across identities; the only
// serialization point is per identity, enforced by sharded locks rather
// than any store-wide lock.
type Engine struct {
	store store.Store
	log   *logger.Logger
	cfg   Config
	hub   *live.Hub
	sem   *semaphore.Weighted
	now   func() time.Time
	locks [lockShards]sync.Mutex

	ingested atomic.Int64
	skipped  atomic.Int64
}

func New(s store.Store, log *logger.Logger, cfg Config) *Engine {
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.QueryConcurrency <= 0 {
		cfg.QueryConcurrency = 4
	}
	if cfg.Confidence == 0 {
		cfg.Confidence = 0.95
	}
	if cfg.LiveWindow <= 0 {
		cfg.LiveWindow = 30 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Engine{
		store: s,
		log:   log.With("component", "engine"),
		cfg:   cfg,
		hub:   live.NewHub(log),
		sem:   semaphore.NewWeighted(cfg.QueryConcurrency),
		now:   cfg.Now,
	}
}

// Hub exposes the live metrics feed.
func (e *Engine) Hub() *live.Hub {
	return e.hub
}

// Counters reports how many records were ingested and how many were
// dropped as malformed.
func (e *Engine) Counters() (ingested, skipped int64) {
	return e.ingested.Load(), e.skipped.Load()
}

func (e *Engine) lockFor(identity string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(identity))
	return &e.locks[h.Sum32()%lockShards]
}

// PublishFunnel validates a draft and freezes it into the current
// version. Configuration errors surface here, never at match time.
func (e *Engine) PublishFunnel(ctx context.Context, name string) (*funnel.Version, error) {
	def, err := e.store.GetFunnel(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to load funnel %q: %w", name, err)
	}
	v, err := funnel.Publish(def, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	if err := e.store.SaveVersion(ctx, v); err != nil {
		return nil, fmt.Errorf("failed to save version: %w", err)
	}
	e.log.Info("published funnel", "funnel", name, "versionID", v.ID, "steps", len(v.Definition.Steps))
	return v, nil
}

// IngestRecord is the incremental path: one record in, the identity's
// progressions brought up to date under every published funnel. A
// malformed record is a counted skip, not an error.
func (e *Engine) IngestRecord(ctx context.Context, rec activity.Record) error {
	if err := rec.Validate(); err != nil {
		e.skipped.Add(1)
		e.log.Warn("skipping malformed activity record", "recordID", rec.ID, "err", err)
		return nil
	}

	if _, err := e.store.InsertActivity(ctx, []activity.Record{rec}); err != nil {
		return fmt.Errorf("failed to persist activity: %w", err)
	}

	versions, err := e.store.ListCurrentVersions(ctx)
	if err != nil {
		return fmt.Errorf("failed to load published funnels: %w", err)
	}
	if err := e.replayIdentity(ctx, versions, rec.Identity); err != nil {
		return err
	}
	e.ingested.Add(1)
	return nil
}

// IngestBatch persists a batch and replays each affected identity once,
// fanned out across the worker pool. Malformed records are skipped and
// counted; they never fail the batch.
func (e *Engine) IngestBatch(ctx context.Context, recs []activity.Record) (accepted, skipped int, err error) {
	valid := make([]activity.Record, 0, len(recs))
	identities := make(map[string]struct{})
	for _, rec := range recs {
		if vErr := rec.Validate(); vErr != nil {
			skipped++
			e.skipped.Add(1)
			e.log.Warn("skipping malformed activity record", "recordID", rec.ID, "err", vErr)
			continue
		}
		valid = append(valid, rec)
		identities[rec.Identity] = struct{}{}
	}

	if _, err := e.store.InsertActivity(ctx, valid); err != nil {
		return 0, skipped, fmt.Errorf("failed to persist activity batch: %w", err)
	}

	versions, err := e.store.ListCurrentVersions(ctx)
	if err != nil {
		return 0, skipped, fmt.Errorf("failed to load published funnels: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Workers)
	for identity := range identities {
		identity := identity
		g.Go(func() error {
			return e.replayIdentity(gctx, versions, identity)
		})
	}
	if err := g.Wait(); err != nil {
		return 0, skipped, err
	}

	accepted = len(valid)
	e.ingested.Add(int64(accepted))
	return accepted, skipped, nil
}

// replayIdentity re-derives one identity's progressions from its full
// activity history. Holding the identity's shard lock keeps concurrent
// records for the same identity applied in timestamp order.
func (e *Engine) replayIdentity(ctx context.Context, versions []*funnel.Version, identity string) error {
	lock := e.lockFor(identity)
	lock.Lock()
	defer lock.Unlock()

	recs, err := e.store.ActivityForIdentity(ctx, identity)
	if err != nil {
		return fmt.Errorf("failed to load activity for identity: %w", err)
	}

	now := e.now()
	for _, v := range versions {
		ps := progress.NewMatcher(v).Replay(identity, recs)
		// Replay only sees record timestamps; a progression the sweep
		// already expired must not resurface as active because a late
		// record landed inside its window.
		if n := len(ps); n > 0 {
			ps[n-1].ExpireIfIdle(v.Definition.Window, now)
		}
		if err := e.store.ReplaceProgressions(ctx, v.ID, identity, ps); err != nil {
			return fmt.Errorf("failed to store progressions: %w", err)
		}
	}
	return nil
}

// Recompute rebuilds every progression under a funnel's current version
// from raw activity. Replays are idempotent, so re-running over an
// already-processed range converges on the same rows.
func (e *Engine) Recompute(ctx context.Context, funnelID string) error {
	v, err := e.store.CurrentVersion(ctx, funnelID)
	if err != nil {
		return fmt.Errorf("failed to load current version: %w", err)
	}

	identities, err := e.store.Identities(ctx)
	if err != nil {
		return fmt.Errorf("failed to list identities: %w", err)
	}

	versions := []*funnel.Version{v}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Workers)
	for _, identity := range identities {
		identity := identity
		g.Go(func() error {
			return e.replayIdentity(gctx, versions, identity)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	e.log.Info("recomputed funnel", "funnelID", funnelID, "versionID", v.ID, "identities", len(identities))
	return nil
}

// SweepExpired marks every active progression whose window has elapsed.
// Returns how many expired.
func (e *Engine) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	actives, err := e.store.ActiveProgressions(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load active progressions: %w", err)
	}

	windows := make(map[string]time.Duration)
	expired := 0
	for _, p := range actives {
		window, ok := windows[p.VersionID]
		if !ok {
			v, err := e.store.GetVersion(ctx, p.VersionID)
			if err != nil {
				return expired, fmt.Errorf("failed to load version %s: %w", p.VersionID, err)
			}
			window = v.Definition.Window
			windows[p.VersionID] = window
		}
		if p.ExpireIfIdle(window, now) {
			if err := e.store.SaveProgression(ctx, p); err != nil {
				return expired, fmt.Errorf("failed to save expired progression: %w", err)
			}
			expired++
		}
	}

	if expired > 0 {
		e.log.Info("expired stale progressions", "count", expired)
	}
	return expired, nil
}

// PublishLive computes and publishes a best-effort snapshot of a
// funnel's trailing window. It reads a recently-flushed view rather than
// blocking the ingest path.
func (e *Engine) PublishLive(ctx context.Context, funnelID string, now time.Time) (live.Snapshot, error) {
	v, err := e.store.CurrentVersion(ctx, funnelID)
	if err != nil {
		return live.Snapshot{}, fmt.Errorf("failed to load current version: %w", err)
	}
	ps, err := e.store.ProgressionsInRange(ctx, v.ID, now.Add(-e.cfg.LiveWindow), now.Add(time.Millisecond))
	if err != nil {
		return live.Snapshot{}, fmt.Errorf("failed to load live window: %w", err)
	}

	snap := live.Snapshot{FunnelID: funnelID, ComputedAt: now}
	for _, p := range ps {
		snap.WindowEntries++
		switch p.Status {
		case progress.StatusCompleted:
			snap.WindowConversions++
		case progress.StatusActive:
			snap.ActiveUsers++
		}
	}
	if snap.WindowEntries > 0 {
		snap.Rate = float64(snap.WindowConversions) / float64(snap.WindowEntries)
	}

	e.hub.Publish(snap)
	return snap, nil
}
