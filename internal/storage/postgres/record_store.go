// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/veritatis/quake-ingest/internal/ingest"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const recordColumns = `id, canonical_url, origin_query, title, status, content_ref,
raw_text, normalized_text, failure_reason, failure_class, failed_from,
discovered_at, updated_at`

// RecordStoreConfig controls the Postgres connection pool used for resource rows.
type RecordStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pgxPool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// RecordStore persists resource records in Postgres. The canonical URL
// uniqueness constraint and the status-guarded UPDATE give the same atomicity
// the in-memory store gets from its mutex.
type RecordStore struct {
	pool  pgxPool
	table string
	clock ingest.Clock
}

// NewRecordStore creates a Postgres-backed RecordStore using the provided config.
func NewRecordStore(ctx context.Context, cfg RecordStoreConfig, clock ingest.Clock) (*RecordStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return NewRecordStoreWithPool(pool, cfg.Table, clock)
}

// NewRecordStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewRecordStoreWithPool(pool pgxPool, table string, clock ingest.Clock) (*RecordStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	if table == "" {
		table = "resources"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &RecordStore{pool: pool, table: table, clock: clock}, nil
}

// Close releases the underlying pool resources.
func (s *RecordStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Create inserts rec unless its canonical URL is already cataloged. The
// conflict path reads back the id of the existing row.
func (s *RecordStore) Create(ctx context.Context, rec ingest.ResourceRecord) (string, bool, error) {
	if rec.ID == "" {
		return "", false, fmt.Errorf("record id is required")
	}
	now := s.clock.Now()
	if rec.DiscoveredAt.IsZero() {
		rec.DiscoveredAt = now
	}
	rec.UpdatedAt = now

	query := fmt.Sprintf(`
INSERT INTO %s (%s)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
ON CONFLICT (canonical_url) DO NOTHING
RETURNING id`, s.table, recordColumns)

	var id string
	err := s.pool.QueryRow(ctx, query,
		rec.ID,
		rec.CanonicalURL,
		rec.OriginQuery,
		rec.Title,
		string(rec.Status),
		rec.ContentRef,
		rec.RawText,
		rec.NormalizedText,
		rec.FailureReason,
		string(rec.FailureClass),
		string(rec.FailedFrom),
		rec.DiscoveredAt,
		rec.UpdatedAt,
	).Scan(&id)
	if err == nil {
		return id, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return "", false, fmt.Errorf("insert resource: %w", err)
	}

	lookup := fmt.Sprintf(`SELECT id FROM %s WHERE canonical_url = $1`, s.table)
	if err := s.pool.QueryRow(ctx, lookup, rec.CanonicalURL).Scan(&id); err != nil {
		return "", false, fmt.Errorf("lookup existing resource: %w", err)
	}
	return id, false, nil
}

// Get returns a record by id.
func (s *RecordStore) Get(ctx context.Context, id string) (ingest.ResourceRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, recordColumns, s.table)
	rec, err := scanRecord(s.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return ingest.ResourceRecord{}, ingest.ErrNotFound
	}
	if err != nil {
		return ingest.ResourceRecord{}, fmt.Errorf("select resource: %w", err)
	}
	return rec, nil
}

// SelectByStatus returns up to limit records in status, oldest discovery first.
func (s *RecordStore) SelectByStatus(ctx context.Context, status ingest.Status, limit int) ([]ingest.ResourceRecord, error) {
	query := fmt.Sprintf(`
SELECT %s FROM %s
WHERE status = $1
ORDER BY discovered_at, id`, recordColumns, s.table)
	args := []any{string(status)}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select resources by status: %w", err)
	}
	defer rows.Close()
	return collectRecords(rows)
}

// UpdateIf applies upd only when the record's current status matches expected.
func (s *RecordStore) UpdateIf(ctx context.Context, id string, expected ingest.Status, upd ingest.Update) error {
	sets := []string{"status = $1", "updated_at = $2"}
	args := []any{string(upd.Status), s.clock.Now()}

	addSet := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if upd.ContentRef != nil {
		addSet("content_ref", *upd.ContentRef)
	}
	if upd.RawText != nil {
		addSet("raw_text", *upd.RawText)
	}
	if upd.NormalizedText != nil {
		addSet("normalized_text", *upd.NormalizedText)
	}
	if upd.FailureReason != nil {
		addSet("failure_reason", *upd.FailureReason)
	}
	if upd.FailureClass != nil {
		addSet("failure_class", string(*upd.FailureClass))
	}
	if upd.FailedFrom != nil {
		addSet("failed_from", string(*upd.FailedFrom))
	}
	if upd.ClearFailure {
		sets = append(sets, "failure_reason = ''", "failure_class = ''", "failed_from = ''")
	}

	args = append(args, id, string(expected))
	query := fmt.Sprintf(`UPDATE %s SET %s WHERE id = $%d AND status = $%d`,
		s.table, strings.Join(sets, ", "), len(args)-1, len(args))

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update resource: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	// Zero rows means either the id is unknown or another worker won the
	// status race. Distinguish with a point read.
	exists := fmt.Sprintf(`SELECT status FROM %s WHERE id = $1`, s.table)
	var current string
	err = s.pool.QueryRow(ctx, exists, id).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return ingest.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("check resource status: %w", err)
	}
	return ingest.ErrConflict
}

// StaleInProgress returns claimed records whose last update precedes cutoff.
func (s *RecordStore) StaleInProgress(ctx context.Context, cutoff time.Time) ([]ingest.ResourceRecord, error) {
	var claimed []string
	for _, st := range ingest.Statuses {
		if st.InProgress() {
			claimed = append(claimed, string(st))
		}
	}

	query := fmt.Sprintf(`
SELECT %s FROM %s
WHERE status = ANY($1) AND updated_at < $2
ORDER BY updated_at`, recordColumns, s.table)

	rows, err := s.pool.Query(ctx, query, claimed, cutoff)
	if err != nil {
		return nil, fmt.Errorf("select stale resources: %w", err)
	}
	defer rows.Close()
	return collectRecords(rows)
}

// CountByStatus returns a snapshot of record counts per status.
func (s *RecordStore) CountByStatus(ctx context.Context) (map[ingest.Status]int, error) {
	query := fmt.Sprintf(`SELECT status, COUNT(*) FROM %s GROUP BY status`, s.table)
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("count resources: %w", err)
	}
	defer rows.Close()

	counts := make(map[ingest.Status]int, len(ingest.Statuses))
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan count row: %w", err)
		}
		counts[ingest.Status(status)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate count rows: %w", err)
	}
	return counts, nil
}

func scanRecord(row pgx.Row) (ingest.ResourceRecord, error) {
	var rec ingest.ResourceRecord
	var status, failureClass, failedFrom string
	err := row.Scan(
		&rec.ID,
		&rec.CanonicalURL,
		&rec.OriginQuery,
		&rec.Title,
		&status,
		&rec.ContentRef,
		&rec.RawText,
		&rec.NormalizedText,
		&rec.FailureReason,
		&failureClass,
		&failedFrom,
		&rec.DiscoveredAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		return ingest.ResourceRecord{}, err
	}
	rec.Status = ingest.Status(status)
	rec.FailureClass = ingest.FailureClass(failureClass)
	rec.FailedFrom = ingest.Status(failedFrom)
	return rec, nil
}

func collectRecords(rows pgx.Rows) ([]ingest.ResourceRecord, error) {
	var out []ingest.ResourceRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan resource row: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate resource rows: %w", err)
	}
	return out, nil
}
