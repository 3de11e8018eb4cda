package persistence

import (
	"context"
	"time"

	"onebreath/pkg/domain"
)

// Recorder observes store operations.
type Recorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
}

// Instrument wraps store so every call is timed under "store.<method>".
// A missing record counts as a successful lookup. A nil recorder returns
// store unchanged.
func Instrument(store domain.Store, rec Recorder) domain.Store {
	if rec == nil {
		return store
	}
	return &instrumented{next: store, rec: rec}
}

type instrumented struct {
	next domain.Store
	rec  Recorder
}

func (s *instrumented) observe(ctx context.Context, op string, start time.Time, err error) {
	ok := err == nil || domain.IsKind(err, domain.KindNotFound)
	s.rec.Observe(ctx, "store."+op, ok, time.Since(start))
}

func (s *instrumented) Find(ctx context.Context, filter domain.SampleFilter) (out []domain.Sample, err error) {
	start := time.Now()
	defer func() { s.observe(ctx, "find", start, err) }()
	return s.next.Find(ctx, filter)
}

func (s *instrumented) Get(ctx context.Context, chipID string) (out domain.Sample, err error) {
	start := time.Now()
	defer func() { s.observe(ctx, "get", start, err) }()
	return s.next.Get(ctx, chipID)
}

func (s *instrumented) Insert(ctx context.Context, sample domain.Sample) (err error) {
	start := time.Now()
	defer func() { s.observe(ctx, "insert", start, err) }()
	return s.next.Insert(ctx, sample)
}

func (s *instrumented) UpdateOne(ctx context.Context, filter domain.SampleFilter, patch domain.SamplePatch) (res domain.UpdateResult, err error) {
	start := time.Now()
	defer func() { s.observe(ctx, "update_one", start, err) }()
	return s.next.UpdateOne(ctx, filter, patch)
}

func (s *instrumented) Upsert(ctx context.Context, chipID string, patch domain.SamplePatch) (res domain.UpdateResult, err error) {
	start := time.Now()
	defer func() { s.observe(ctx, "upsert", start, err) }()
	return s.next.Upsert(ctx, chipID, patch)
}

func (s *instrumented) AnalyzedRecords(ctx context.Context, limit int) (out domain.Dataset, err error) {
	start := time.Now()
	defer func() { s.observe(ctx, "analyzed_records", start, err) }()
	return s.next.AnalyzedRecords(ctx, limit)
}

func (s *instrumented) AddAnalyzed(ctx context.Context, record domain.Record) (err error) {
	start := time.Now()
	defer func() { s.observe(ctx, "add_analyzed", start, err) }()
	return s.next.AddAnalyzed(ctx, record)
}

func (s *instrumented) Close(ctx context.Context) error { return s.next.Close(ctx) }
