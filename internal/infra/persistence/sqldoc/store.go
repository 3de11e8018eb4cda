// Package sqldoc stores samples as JSON documents in a relational database,
// with the fields used for filtering mirrored into indexed columns. The
// postgres and sqlite drivers share this implementation and differ only in
// their Dialect.
package sqldoc

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"onebreath/pkg/domain"
)

var _ domain.Store = (*Store)(nil)

// maxCASAttempts bounds optimistic retries for upserts racing with inserts.
const maxCASAttempts = 3

// Dialect captures the SQL differences between backends.
type Dialect struct {
	Name string
	// Placeholder renders the n-th (1-based) bind parameter.
	Placeholder func(n int) string
	// Schema holds idempotent DDL statements applied on open.
	Schema []string
}

// Store implements domain.Store on top of database/sql.
type Store struct {
	db      *sql.DB
	dialect Dialect
	clock   domain.Clock
}

// New applies the dialect schema and returns a store. The caller owns db
// until Close is called on the store.
func New(ctx context.Context, db *sql.DB, dialect Dialect, clock domain.Clock) (*Store, error) {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	for _, stmt := range dialect.Schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("%s: apply schema: %w", dialect.Name, err)
		}
	}
	return &Store{db: db, dialect: dialect, clock: clock}, nil
}

// DB exposes the underlying handle for integration hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Close releases the database handle.
func (s *Store) Close(context.Context) error { return s.db.Close() }

type row struct {
	version int64
	sample  domain.Sample
}

// Find returns samples matching filter ordered by timestamp.
func (s *Store) Find(ctx context.Context, filter domain.SampleFilter) ([]domain.Sample, error) {
	where, args := s.where(filter)
	q := "SELECT version, doc FROM samples" + where + " ORDER BY ts, chip_id"
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, domain.Wrap(domain.KindUpstreamUnavailable, "find samples", err)
	}
	defer func() { _ = rows.Close() }()
	var out []domain.Sample
	for rows.Next() {
		r, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		if filter.Matches(r.sample) {
			out = append(out, r.sample)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Wrap(domain.KindUpstreamUnavailable, "find samples", err)
	}
	return out, nil
}

// Get returns the sample with chipID.
func (s *Store) Get(ctx context.Context, chipID string) (domain.Sample, error) {
	r, err := s.load(ctx, chipID)
	if err != nil {
		return domain.Sample{}, err
	}
	return r.sample, nil
}

// Insert adds a sample; duplicate chip ids are a conflict.
func (s *Store) Insert(ctx context.Context, sample domain.Sample) error {
	if sample.ChipID == "" {
		return domain.Errorf(domain.KindInvalid, "insert sample", "chip_id is required")
	}
	inserted, err := s.insert(ctx, sample)
	if err != nil {
		return err
	}
	if !inserted {
		return domain.ErrDuplicate
	}
	return nil
}

// UpdateOne applies patch to the sample identified by filter.ChipID when the
// stored document still satisfies filter. The write is a compare-and-set on
// the row version, so of two concurrent callers at most one observes
// Modified == 1 for the same state change.
func (s *Store) UpdateOne(ctx context.Context, filter domain.SampleFilter, patch domain.SamplePatch) (domain.UpdateResult, error) {
	if filter.ChipID == "" {
		return domain.UpdateResult{}, domain.Errorf(domain.KindInvalid, "update sample", "filter requires chip_id")
	}
	r, err := s.load(ctx, filter.ChipID)
	if domain.IsKind(err, domain.KindNotFound) {
		return domain.UpdateResult{}, nil
	}
	if err != nil {
		return domain.UpdateResult{}, err
	}
	if !filter.Matches(r.sample) {
		return domain.UpdateResult{}, nil
	}
	if !patch.Apply(&r.sample) {
		return domain.UpdateResult{Matched: 1}, nil
	}
	ok, err := s.compareAndSet(ctx, r)
	if err != nil {
		return domain.UpdateResult{}, err
	}
	if !ok {
		// Another writer changed the row first; this caller lost the race.
		return domain.UpdateResult{}, nil
	}
	return domain.UpdateResult{Matched: 1, Modified: 1}, nil
}

// Upsert patches chipID, inserting a Registered sample when absent.
func (s *Store) Upsert(ctx context.Context, chipID string, patch domain.SamplePatch) (domain.UpdateResult, error) {
	if chipID == "" {
		return domain.UpdateResult{}, domain.Errorf(domain.KindInvalid, "upsert sample", "chip_id is required")
	}
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		r, err := s.load(ctx, chipID)
		switch {
		case domain.IsKind(err, domain.KindNotFound):
			sample := domain.Sample{ChipID: chipID, Status: domain.StatusRegistered, Timestamp: s.clock.Now().UTC()}
			patch.Apply(&sample)
			inserted, err := s.insert(ctx, sample)
			if err != nil {
				return domain.UpdateResult{}, err
			}
			if inserted {
				return domain.UpdateResult{Modified: 1}, nil
			}
		case err != nil:
			return domain.UpdateResult{}, err
		default:
			if !patch.Apply(&r.sample) {
				return domain.UpdateResult{Matched: 1}, nil
			}
			ok, err := s.compareAndSet(ctx, r)
			if err != nil {
				return domain.UpdateResult{}, err
			}
			if ok {
				return domain.UpdateResult{Matched: 1, Modified: 1}, nil
			}
		}
	}
	return domain.UpdateResult{}, domain.Errorf(domain.KindConflict, "upsert sample", "%s changed concurrently", chipID)
}

// AnalyzedRecords returns analyzed records ordered by timestamp.
func (s *Store) AnalyzedRecords(ctx context.Context, limit int) (domain.Dataset, error) {
	q := "SELECT doc FROM analyzed ORDER BY ts, id"
	var args []any
	if limit > 0 {
		q += " LIMIT " + s.dialect.Placeholder(1)
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, domain.Wrap(domain.KindUpstreamUnavailable, "analyzed records", err)
	}
	defer func() { _ = rows.Close() }()
	var out domain.Dataset
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, domain.Wrap(domain.KindUpstreamUnavailable, "scan analyzed record", err)
		}
		var rec domain.Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, domain.Wrap(domain.KindInternal, "decode analyzed record", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Wrap(domain.KindUpstreamUnavailable, "analyzed records", err)
	}
	return out, nil
}

// AddAnalyzed stores an analyzed record.
func (s *Store) AddAnalyzed(ctx context.Context, record domain.Record) error {
	b, err := json.Marshal(record)
	if err != nil {
		return domain.Wrap(domain.KindInvalid, "encode analyzed record", err)
	}
	ts := ""
	if v, ok := record["timestamp"]; ok && v != nil {
		ts = fmt.Sprint(v)
	}
	q := fmt.Sprintf("INSERT INTO analyzed (ts, doc) VALUES (%s, %s)", s.dialect.Placeholder(1), s.dialect.Placeholder(2))
	if _, err := s.db.ExecContext(ctx, q, ts, string(b)); err != nil {
		return domain.Wrap(domain.KindUpstreamUnavailable, "add analyzed", err)
	}
	return nil
}

func (s *Store) load(ctx context.Context, chipID string) (row, error) {
	q := "SELECT version, doc FROM samples WHERE chip_id = " + s.dialect.Placeholder(1)
	r, err := scanRow(s.db.QueryRowContext(ctx, q, chipID))
	if errors.Is(err, sql.ErrNoRows) {
		return row{}, domain.ErrNotFound{Entity: "sample", ID: chipID}
	}
	return r, err
}

func (s *Store) insert(ctx context.Context, sample domain.Sample) (bool, error) {
	doc, err := json.Marshal(sample)
	if err != nil {
		return false, domain.Wrap(domain.KindInvalid, "encode sample", err)
	}
	p := s.dialect.Placeholder
	q := fmt.Sprintf(`INSERT INTO samples (chip_id, status, ts, due_at, version, doc)
		VALUES (%s, %s, %s, %s, 1, %s) ON CONFLICT (chip_id) DO NOTHING`, p(1), p(2), p(3), p(4), p(5))
	res, err := s.db.ExecContext(ctx, q, sample.ChipID, string(sample.Status), unixNano(&sample.Timestamp), nullableUnix(sample.ExpectedCompletionTime), string(doc))
	if err != nil {
		return false, domain.Wrap(domain.KindUpstreamUnavailable, "insert sample", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, domain.Wrap(domain.KindUpstreamUnavailable, "insert sample", err)
	}
	return n == 1, nil
}

func (s *Store) compareAndSet(ctx context.Context, r row) (bool, error) {
	doc, err := json.Marshal(r.sample)
	if err != nil {
		return false, domain.Wrap(domain.KindInvalid, "encode sample", err)
	}
	p := s.dialect.Placeholder
	q := fmt.Sprintf(`UPDATE samples SET status = %s, due_at = %s, doc = %s, version = version + 1
		WHERE chip_id = %s AND version = %s`, p(1), p(2), p(3), p(4), p(5))
	res, err := s.db.ExecContext(ctx, q, string(r.sample.Status), nullableUnix(r.sample.ExpectedCompletionTime), string(doc), r.sample.ChipID, r.version)
	if err != nil {
		return false, domain.Wrap(domain.KindUpstreamUnavailable, "update sample", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, domain.Wrap(domain.KindUpstreamUnavailable, "update sample", err)
	}
	return n == 1, nil
}

// where pushes the indexed parts of filter into SQL. Find re-checks the
// full filter in Go.
func (s *Store) where(filter domain.SampleFilter) (string, []any) {
	var clauses []string
	var args []any
	next := func(v any) string {
		args = append(args, v)
		return s.dialect.Placeholder(len(args))
	}
	if filter.ChipID != "" {
		clauses = append(clauses, "chip_id = "+next(filter.ChipID))
	}
	if len(filter.Statuses) > 0 {
		ph := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			ph[i] = next(string(st))
		}
		clauses = append(clauses, "status IN ("+strings.Join(ph, ", ")+")")
	}
	if filter.DueBy != nil {
		clauses = append(clauses, "due_at IS NOT NULL AND due_at <= "+next(unixNano(filter.DueBy)))
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRow(sc scanner) (row, error) {
	var (
		r   row
		raw []byte
	)
	if err := sc.Scan(&r.version, &raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return row{}, err
		}
		return row{}, domain.Wrap(domain.KindUpstreamUnavailable, "scan sample", err)
	}
	if err := json.Unmarshal(raw, &r.sample); err != nil {
		return row{}, domain.Wrap(domain.KindInternal, "decode sample", err)
	}
	return r, nil
}

func unixNano(t *time.Time) int64 { return t.UTC().UnixNano() }

func nullableUnix(t *time.Time) any {
	if t == nil {
		return nil
	}
	return unixNano(t)
}
