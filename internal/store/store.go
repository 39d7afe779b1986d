package store

import (
	"context"
	"time"

	"github.com/funnelscope/funnelscope/internal/activity"
	"github.com/funnelscope/funnelscope/internal/funnel"
	"github.com/funnelscope/funnelscope/internal/progress"
)

// Store defines the persistence operations the engine depends on.
type Store interface {
	// Funnel configuration
	CreateFunnel(ctx context.Context, def funnel.Definition) (funnel.Definition, error)
	GetFunnel(ctx context.Context, name string) (funnel.Definition, error)
	ListFunnels(ctx context.Context) ([]funnel.Definition, error)
	ArchiveFunnel(ctx context.Context, name string) error
	SaveVersion(ctx context.Context, v *funnel.Version) error
	GetVersion(ctx context.Context, versionID string) (*funnel.Version, error)
	CurrentVersion(ctx context.Context, funnelID string) (*funnel.Version, error)
	ListCurrentVersions(ctx context.Context) ([]*funnel.Version, error)

	// Activity
	InsertActivity(ctx context.Context, recs []activity.Record) (int, error)
	ActivityForIdentity(ctx context.Context, identity string) ([]activity.Record, error)
	Identities(ctx context.Context) ([]string, error)

	// Progressions
	ReplaceProgressions(ctx context.Context, versionID, identity string, ps []*progress.Progression) error
	SaveProgression(ctx context.Context, p *progress.Progression) error
	ProgressionsInRange(ctx context.Context, versionID string, from, to time.Time) ([]*progress.Progression, error)
	ActiveProgressions(ctx context.Context) ([]*progress.Progression, error)
	ProgressionTrace(ctx context.Context, funnelID, identity string) ([]*progress.Progression, error)

	// Touchpoints
	InsertTouchpoints(ctx context.Context, tps []activity.Touchpoint) (int, error)
	TouchpointsFor(ctx context.Context, identities []string) (map[string][]activity.Touchpoint, error)

	// Comparison result cache
	GetComparison(ctx context.Context, key string) ([]byte, time.Time, error)
	PutComparison(ctx context.Context, key string, result []byte, computedAt time.Time) error

	Close() error
}
