package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/funnelscope/funnelscope/internal/activity"
	"github.com/funnelscope/funnelscope/internal/funnel"
	"github.com/funnelscope/funnelscope/internal/progress"
)

var ErrNotFound = errors.New("not found")

type SQLiteStore struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS funnels (
    id TEXT PRIMARY KEY,
    name TEXT UNIQUE NOT NULL,
    state TEXT NOT NULL DEFAULT 'draft',
    definition TEXT NOT NULL,
    current_version TEXT,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_funnels_name ON funnels(name);
CREATE INDEX IF NOT EXISTS idx_funnels_state ON funnels(state);

CREATE TABLE IF NOT EXISTS funnel_versions (
    id TEXT PRIMARY KEY,
    funnel_id TEXT NOT NULL,
    definition TEXT NOT NULL,
    created_at INTEGER NOT NULL,
    FOREIGN KEY (funnel_id) REFERENCES funnels(id)
);

CREATE INDEX IF NOT EXISTS idx_versions_funnel ON funnel_versions(funnel_id);

CREATE TABLE IF NOT EXISTS activity (
    id TEXT PRIMARY KEY,
    identity TEXT NOT NULL,
    kind TEXT NOT NULL,
    name TEXT,
    ts INTEGER NOT NULL,
    url TEXT,
    path TEXT,
    referrer TEXT,
    props TEXT
);

CREATE INDEX IF NOT EXISTS idx_activity_identity_ts ON activity(identity, ts);

CREATE TABLE IF NOT EXISTS progressions (
    funnel_id TEXT NOT NULL,
    version_id TEXT NOT NULL,
    identity TEXT NOT NULL,
    seq INTEGER NOT NULL,
    current_step INTEGER NOT NULL,
    entered_at INTEGER NOT NULL,
    last_activity_at INTEGER NOT NULL,
    completed_at INTEGER,
    exited_at INTEGER,
    expired_at INTEGER,
    exit_step INTEGER,
    status TEXT NOT NULL,
    path TEXT NOT NULL,
    rejected TEXT,
    PRIMARY KEY (version_id, identity, seq)
);

CREATE INDEX IF NOT EXISTS idx_progressions_funnel_entered ON progressions(funnel_id, entered_at);
CREATE INDEX IF NOT EXISTS idx_progressions_status ON progressions(status);
CREATE INDEX IF NOT EXISTS idx_progressions_identity ON progressions(funnel_id, identity);

CREATE TABLE IF NOT EXISTS touchpoints (
    identity TEXT NOT NULL,
    source TEXT NOT NULL,
    medium TEXT,
    campaign TEXT,
    device TEXT,
    occurred_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_touchpoints_identity ON touchpoints(identity, occurred_at);
CREATE UNIQUE INDEX IF NOT EXISTS idx_touchpoints_dedup ON touchpoints(identity, source, occurred_at);

CREATE TABLE IF NOT EXISTS comparisons (
    key TEXT PRIMARY KEY,
    result TEXT NOT NULL,
    computed_at INTEGER NOT NULL
);
`

func Open(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// DB returns the underlying database connection for health checks.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

func (s *SQLiteStore) CreateFunnel(ctx context.Context, def funnel.Definition) (funnel.Definition, error) {
	if def.ID == "" {
		def.ID = uuid.NewString()
	}
	def.State = funnel.StateDraft

	defJSON, err := json.Marshal(def)
	if err != nil {
		return funnel.Definition{}, fmt.Errorf("failed to marshal definition: %w", err)
	}

	now := time.Now().UnixMilli()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO funnels (id, name, state, definition, created_at, updated_at)
		 VALUES (?, ?, 'draft', ?, ?, ?)`,
		def.ID, def.Name, string(defJSON), now, now,
	)
	if err != nil {
		return funnel.Definition{}, fmt.Errorf("failed to insert funnel: %w", err)
	}
	return def, nil
}

func (s *SQLiteStore) GetFunnel(ctx context.Context, name string) (funnel.Definition, error) {
	var defJSON, state string
	err := s.db.QueryRowContext(ctx,
		`SELECT definition, state FROM funnels WHERE name = ?`, name,
	).Scan(&defJSON, &state)
	if err == sql.ErrNoRows {
		return funnel.Definition{}, ErrNotFound
	}
	if err != nil {
		return funnel.Definition{}, fmt.Errorf("failed to get funnel: %w", err)
	}

	var def funnel.Definition
	if err := json.Unmarshal([]byte(defJSON), &def); err != nil {
		return funnel.Definition{}, fmt.Errorf("failed to unmarshal definition: %w", err)
	}
	def.State = funnel.Lifecycle(state)
	return def, nil
}

func (s *SQLiteStore) ListFunnels(ctx context.Context) ([]funnel.Definition, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT definition, state FROM funnels ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list funnels: %w", err)
	}
	defer rows.Close()

	var defs []funnel.Definition
	for rows.Next() {
		var defJSON, state string
		if err := rows.Scan(&defJSON, &state); err != nil {
			return nil, fmt.Errorf("failed to scan funnel: %w", err)
		}
		var def funnel.Definition
		if err := json.Unmarshal([]byte(defJSON), &def); err != nil {
			return nil, fmt.Errorf("failed to unmarshal definition: %w", err)
		}
		def.State = funnel.Lifecycle(state)
		defs = append(defs, def)
	}
	return defs, rows.Err()
}

func (s *SQLiteStore) ArchiveFunnel(ctx context.Context, name string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE funnels SET state = 'archived', updated_at = ? WHERE name = ?`,
		time.Now().UnixMilli(), name,
	)
	if err != nil {
		return fmt.Errorf("failed to archive funnel: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveVersion persists an immutable published version and promotes it to
// the funnel's current version.
func (s *SQLiteStore) SaveVersion(ctx context.Context, v *funnel.Version) error {
	defJSON, err := json.Marshal(v.Definition)
	if err != nil {
		return fmt.Errorf("failed to marshal definition: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO funnel_versions (id, funnel_id, definition, created_at)
		 VALUES (?, ?, ?, ?)`,
		v.ID, v.FunnelID, string(defJSON), v.CreatedAt.UnixMilli(),
	); err != nil {
		return fmt.Errorf("failed to insert version: %w", err)
	}

	result, err := tx.ExecContext(ctx,
		`UPDATE funnels SET state = 'published', current_version = ?, definition = ?, updated_at = ?
		 WHERE id = ?`,
		v.ID, string(defJSON), time.Now().UnixMilli(), v.FunnelID,
	)
	if err != nil {
		return fmt.Errorf("failed to promote version: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	return tx.Commit()
}

func (s *SQLiteStore) GetVersion(ctx context.Context, versionID string) (*funnel.Version, error) {
	var v funnel.Version
	var defJSON string
	var createdAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, funnel_id, definition, created_at FROM funnel_versions WHERE id = ?`,
		versionID,
	).Scan(&v.ID, &v.FunnelID, &defJSON, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get version: %w", err)
	}
	if err := json.Unmarshal([]byte(defJSON), &v.Definition); err != nil {
		return nil, fmt.Errorf("failed to unmarshal definition: %w", err)
	}
	v.CreatedAt = time.UnixMilli(createdAt)
	return &v, nil
}

func (s *SQLiteStore) CurrentVersion(ctx context.Context, funnelID string) (*funnel.Version, error) {
	var versionID sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT current_version FROM funnels WHERE id = ?`, funnelID,
	).Scan(&versionID)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get current version: %w", err)
	}
	if !versionID.Valid {
		return nil, ErrNotFound
	}
	return s.GetVersion(ctx, versionID.String)
}

// ListCurrentVersions returns the current version of every published
// funnel. The incremental ingest path matches records against these.
func (s *SQLiteStore) ListCurrentVersions(ctx context.Context) ([]*funnel.Version, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT v.id, v.funnel_id, v.definition, v.created_at
		FROM funnel_versions v
		JOIN funnels f ON f.current_version = v.id
		WHERE f.state = 'published'
		ORDER BY v.created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list current versions: %w", err)
	}
	defer rows.Close()

	var versions []*funnel.Version
	for rows.Next() {
		var v funnel.Version
		var defJSON string
		var createdAt int64
		if err := rows.Scan(&v.ID, &v.FunnelID, &defJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan version: %w", err)
		}
		if err := json.Unmarshal([]byte(defJSON), &v.Definition); err != nil {
			return nil, fmt.Errorf("failed to unmarshal definition: %w", err)
		}
		v.CreatedAt = time.UnixMilli(createdAt)
		versions = append(versions, &v)
	}
	return versions, rows.Err()
}

// InsertActivity appends records, ignoring ids already present. Returns
// how many rows were actually inserted.
func (s *SQLiteStore) InsertActivity(ctx context.Context, recs []activity.Record) (int, error) {
	inserted := 0
	for _, rec := range recs {
		var propsJSON sql.NullString
		if len(rec.Props) > 0 {
			b, err := json.Marshal(rec.Props)
			if err != nil {
				return inserted, fmt.Errorf("failed to marshal props: %w", err)
			}
			propsJSON = sql.NullString{String: string(b), Valid: true}
		}
		result, err := s.db.ExecContext(ctx,
			`INSERT OR IGNORE INTO activity (id, identity, kind, name, ts, url, path, referrer, props)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.ID, rec.Identity, string(rec.Kind), rec.Name, rec.Timestamp.UnixMilli(),
			rec.URL, rec.Path, rec.Referrer, propsJSON,
		)
		if err != nil {
			return inserted, fmt.Errorf("failed to insert activity: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return inserted, fmt.Errorf("failed to get rows affected: %w", err)
		}
		inserted += int(affected)
	}
	return inserted, nil
}

func (s *SQLiteStore) ActivityForIdentity(ctx context.Context, identity string) ([]activity.Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, identity, kind, name, ts, url, path, referrer, props
		 FROM activity WHERE identity = ? ORDER BY ts, id`,
		identity,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get activity: %w", err)
	}
	defer rows.Close()

	var recs []activity.Record
	for rows.Next() {
		var rec activity.Record
		var kind string
		var ts int64
		var propsJSON sql.NullString
		if err := rows.Scan(&rec.ID, &rec.Identity, &kind, &rec.Name, &ts,
			&rec.URL, &rec.Path, &rec.Referrer, &propsJSON); err != nil {
			return nil, fmt.Errorf("failed to scan activity: %w", err)
		}
		rec.Kind = activity.Kind(kind)
		rec.Timestamp = time.UnixMilli(ts)
		if propsJSON.Valid && propsJSON.String != "" {
			if err := json.Unmarshal([]byte(propsJSON.String), &rec.Props); err != nil {
				return nil, fmt.Errorf("failed to unmarshal props: %w", err)
			}
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

func (s *SQLiteStore) Identities(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT identity FROM activity ORDER BY identity`)
	if err != nil {
		return nil, fmt.Errorf("failed to list identities: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan identity: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ReplaceProgressions swaps an identity's progressions under a version
// for the result of a fresh replay. Replacement keeps replay idempotent:
// re-running over an already-processed range converges on the same rows.
func (s *SQLiteStore) ReplaceProgressions(ctx context.Context, versionID, identity string, ps []*progress.Progression) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM progressions WHERE version_id = ? AND identity = ?`,
		versionID, identity,
	); err != nil {
		return fmt.Errorf("failed to clear progressions: %w", err)
	}

	for _, p := range ps {
		if err := insertProgression(ctx, tx, p); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// SaveProgression upserts a single progression (used by the expiry sweep).
func (s *SQLiteStore) SaveProgression(ctx context.Context, p *progress.Progression) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM progressions WHERE version_id = ? AND identity = ? AND seq = ?`,
		p.VersionID, p.Identity, p.Seq,
	); err != nil {
		return fmt.Errorf("failed to clear progression: %w", err)
	}
	if err := insertProgression(ctx, tx, p); err != nil {
		return err
	}
	return tx.Commit()
}

func insertProgression(ctx context.Context, tx *sql.Tx, p *progress.Progression) error {
	pathJSON, err := json.Marshal(p.Path)
	if err != nil {
		return fmt.Errorf("failed to marshal path: %w", err)
	}
	var rejectedJSON sql.NullString
	if len(p.Rejected) > 0 {
		b, err := json.Marshal(p.Rejected)
		if err != nil {
			return fmt.Errorf("failed to marshal rejected branches: %w", err)
		}
		rejectedJSON = sql.NullString{String: string(b), Valid: true}
	}

	var exitStep sql.NullInt64
	if p.ExitStep != nil {
		exitStep = sql.NullInt64{Int64: int64(*p.ExitStep), Valid: true}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO progressions (
			funnel_id, version_id, identity, seq, current_step,
			entered_at, last_activity_at, completed_at, exited_at, expired_at,
			exit_step, status, path, rejected
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.FunnelID, p.VersionID, p.Identity, p.Seq, p.CurrentStep,
		p.EnteredAt.UnixMilli(), p.LastActivityAt.UnixMilli(),
		nullableMilli(p.CompletedAt), nullableMilli(p.ExitedAt), nullableMilli(p.ExpiredAt),
		exitStep, string(p.Status), string(pathJSON), rejectedJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to insert progression: %w", err)
	}
	return nil
}

// ProgressionsInRange returns one version's progressions whose entry
// falls in [from, to). Scoping by version keeps rows retained under
// superseded versions out of reports: after a republish the same
// identity's journey exists under both version ids, and counting both
// would double every report.
func (s *SQLiteStore) ProgressionsInRange(ctx context.Context, versionID string, from, to time.Time) ([]*progress.Progression, error) {
	return s.queryProgressions(ctx, `
		SELECT funnel_id, version_id, identity, seq, current_step,
		       entered_at, last_activity_at, completed_at, exited_at, expired_at,
		       exit_step, status, path, rejected
		FROM progressions
		WHERE version_id = ? AND entered_at >= ? AND entered_at < ?
		ORDER BY entered_at, identity, seq`,
		versionID, from.UnixMilli(), to.UnixMilli(),
	)
}

func (s *SQLiteStore) ActiveProgressions(ctx context.Context) ([]*progress.Progression, error) {
	return s.queryProgressions(ctx, `
		SELECT funnel_id, version_id, identity, seq, current_step,
		       entered_at, last_activity_at, completed_at, exited_at, expired_at,
		       exit_step, status, path, rejected
		FROM progressions
		WHERE status = 'active'
		ORDER BY entered_at, identity, seq`,
	)
}

func (s *SQLiteStore) ProgressionTrace(ctx context.Context, funnelID, identity string) ([]*progress.Progression, error) {
	return s.queryProgressions(ctx, `
		SELECT funnel_id, version_id, identity, seq, current_step,
		       entered_at, last_activity_at, completed_at, exited_at, expired_at,
		       exit_step, status, path, rejected
		FROM progressions
		WHERE funnel_id = ? AND identity = ?
		ORDER BY entered_at, seq`,
		funnelID, identity,
	)
}

func (s *SQLiteStore) queryProgressions(ctx context.Context, query string, args ...any) ([]*progress.Progression, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query progressions: %w", err)
	}
	defer rows.Close()

	var ps []*progress.Progression
	for rows.Next() {
		var p progress.Progression
		var enteredAt, lastActivityAt int64
		var completedAt, exitedAt, expiredAt, exitStep sql.NullInt64
		var status, pathJSON string
		var rejectedJSON sql.NullString

		if err := rows.Scan(&p.FunnelID, &p.VersionID, &p.Identity, &p.Seq, &p.CurrentStep,
			&enteredAt, &lastActivityAt, &completedAt, &exitedAt, &expiredAt,
			&exitStep, &status, &pathJSON, &rejectedJSON); err != nil {
			return nil, fmt.Errorf("failed to scan progression: %w", err)
		}

		p.EnteredAt = time.UnixMilli(enteredAt)
		p.LastActivityAt = time.UnixMilli(lastActivityAt)
		p.CompletedAt = milliPtr(completedAt)
		p.ExitedAt = milliPtr(exitedAt)
		p.ExpiredAt = milliPtr(expiredAt)
		if exitStep.Valid {
			step := int(exitStep.Int64)
			p.ExitStep = &step
		}
		p.Status = progress.Status(status)
		if err := json.Unmarshal([]byte(pathJSON), &p.Path); err != nil {
			return nil, fmt.Errorf("failed to unmarshal path: %w", err)
		}
		if rejectedJSON.Valid && rejectedJSON.String != "" {
			if err := json.Unmarshal([]byte(rejectedJSON.String), &p.Rejected); err != nil {
				return nil, fmt.Errorf("failed to unmarshal rejected branches: %w", err)
			}
		}
		ps = append(ps, &p)
	}
	return ps, rows.Err()
}

func (s *SQLiteStore) InsertTouchpoints(ctx context.Context, tps []activity.Touchpoint) (int, error) {
	inserted := 0
	for _, tp := range tps {
		result, err := s.db.ExecContext(ctx,
			`INSERT OR IGNORE INTO touchpoints (identity, source, medium, campaign, device, occurred_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			tp.Identity, tp.Source, tp.Medium, tp.Campaign, tp.Device, tp.OccurredAt.UnixMilli(),
		)
		if err != nil {
			return inserted, fmt.Errorf("failed to insert touchpoint: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return inserted, fmt.Errorf("failed to get rows affected: %w", err)
		}
		inserted += int(affected)
	}
	return inserted, nil
}

func (s *SQLiteStore) TouchpointsFor(ctx context.Context, identities []string) (map[string][]activity.Touchpoint, error) {
	out := make(map[string][]activity.Touchpoint, len(identities))
	if len(identities) == 0 {
		return out, nil
	}

	placeholders := strings.Repeat("?,", len(identities))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(identities))
	for i, id := range identities {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT identity, source, medium, campaign, device, occurred_at
		 FROM touchpoints WHERE identity IN (%s) ORDER BY identity, occurred_at`,
		placeholders), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query touchpoints: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var tp activity.Touchpoint
		var occurredAt int64
		if err := rows.Scan(&tp.Identity, &tp.Source, &tp.Medium, &tp.Campaign, &tp.Device, &occurredAt); err != nil {
			return nil, fmt.Errorf("failed to scan touchpoint: %w", err)
		}
		tp.OccurredAt = time.UnixMilli(occurredAt)
		out[tp.Identity] = append(out[tp.Identity], tp)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) GetComparison(ctx context.Context, key string) ([]byte, time.Time, error) {
	var result string
	var computedAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT result, computed_at FROM comparisons WHERE key = ?`, key,
	).Scan(&result, &computedAt)
	if err == sql.ErrNoRows {
		return nil, time.Time{}, ErrNotFound
	}
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("failed to get comparison: %w", err)
	}
	return []byte(result), time.UnixMilli(computedAt), nil
}

func (s *SQLiteStore) PutComparison(ctx context.Context, key string, result []byte, computedAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO comparisons (key, result, computed_at) VALUES (?, ?, ?)`,
		key, string(result), computedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to cache comparison: %w", err)
	}
	return nil
}

func nullableMilli(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func milliPtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64)
	return &t
}
