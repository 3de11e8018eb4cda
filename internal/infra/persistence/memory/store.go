// Package memory provides an in-memory implementation of the sample store
// used for tests and ephemeral environments.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"onebreath/pkg/domain"
)

// Compile-time contract assertion ensuring memory.Store adheres to the domain persistence interface.
var _ domain.Store = (*Store)(nil)

// Store keeps samples keyed by chip identifier. All operations take the
// store mutex, so UpdateOne is atomic with respect to concurrent writers.
type Store struct {
	mu       sync.RWMutex
	samples  map[string]domain.Sample
	analyzed []domain.Record
	clock    domain.Clock
}

// NewStore returns an empty in-memory store. A nil clock uses the system clock.
func NewStore(clock domain.Clock) *Store {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	return &Store{samples: make(map[string]domain.Sample), clock: clock}
}

// Find returns copies of matching samples ordered by timestamp then chip id.
func (s *Store) Find(ctx context.Context, filter domain.SampleFilter) ([]domain.Sample, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.Wrap(domain.KindUpstreamUnavailable, "find samples", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Sample, 0, len(s.samples))
	for _, sample := range s.samples {
		if filter.Matches(sample) {
			out = append(out, sample.Clone())
		}
	}
	sortSamples(out)
	return out, nil
}

// Get returns the sample with chipID.
func (s *Store) Get(ctx context.Context, chipID string) (domain.Sample, error) {
	if err := ctx.Err(); err != nil {
		return domain.Sample{}, domain.Wrap(domain.KindUpstreamUnavailable, "get sample", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	sample, ok := s.samples[chipID]
	if !ok {
		return domain.Sample{}, domain.ErrNotFound{Entity: "sample", ID: chipID}
	}
	return sample.Clone(), nil
}

// Insert adds a new sample; chip identifiers are unique.
func (s *Store) Insert(ctx context.Context, sample domain.Sample) error {
	if err := ctx.Err(); err != nil {
		return domain.Wrap(domain.KindUpstreamUnavailable, "insert sample", err)
	}
	if sample.ChipID == "" {
		return domain.Errorf(domain.KindInvalid, "insert sample", "chip_id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.samples[sample.ChipID]; exists {
		return domain.ErrDuplicate
	}
	s.samples[sample.ChipID] = sample.Clone()
	return nil
}

// UpdateOne patches the single sample matching filter.ChipID when the rest of
// the filter also matches. The check and write happen under one lock.
func (s *Store) UpdateOne(ctx context.Context, filter domain.SampleFilter, patch domain.SamplePatch) (domain.UpdateResult, error) {
	if err := ctx.Err(); err != nil {
		return domain.UpdateResult{}, domain.Wrap(domain.KindUpstreamUnavailable, "update sample", err)
	}
	if filter.ChipID == "" {
		return domain.UpdateResult{}, domain.Errorf(domain.KindInvalid, "update sample", "filter requires chip_id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sample, ok := s.samples[filter.ChipID]
	if !ok || !filter.Matches(sample) {
		return domain.UpdateResult{}, nil
	}
	res := domain.UpdateResult{Matched: 1}
	if patch.Apply(&sample) {
		s.samples[sample.ChipID] = sample
		res.Modified = 1
	}
	return res, nil
}

// Upsert patches chipID, creating a Registered sample first when missing.
func (s *Store) Upsert(ctx context.Context, chipID string, patch domain.SamplePatch) (domain.UpdateResult, error) {
	if err := ctx.Err(); err != nil {
		return domain.UpdateResult{}, domain.Wrap(domain.KindUpstreamUnavailable, "upsert sample", err)
	}
	if chipID == "" {
		return domain.UpdateResult{}, domain.Errorf(domain.KindInvalid, "upsert sample", "chip_id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sample, ok := s.samples[chipID]
	res := domain.UpdateResult{Matched: 1}
	if !ok {
		sample = domain.Sample{ChipID: chipID, Status: domain.StatusRegistered, Timestamp: s.clock.Now().UTC()}
		res.Matched = 0
	}
	if patch.Apply(&sample) || !ok {
		res.Modified = 1
	}
	s.samples[chipID] = sample
	return res, nil
}

// AnalyzedRecords returns up to limit analyzed records ordered by timestamp.
// A non-positive limit returns everything.
func (s *Store) AnalyzedRecords(ctx context.Context, limit int) (domain.Dataset, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.Wrap(domain.KindUpstreamUnavailable, "analyzed records", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := len(s.analyzed)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make(domain.Dataset, 0, n)
	for _, rec := range s.analyzed[:n] {
		cp, err := cloneRecord(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, nil
}

// AddAnalyzed appends an analyzed record, keeping timestamp order.
func (s *Store) AddAnalyzed(ctx context.Context, record domain.Record) error {
	if err := ctx.Err(); err != nil {
		return domain.Wrap(domain.KindUpstreamUnavailable, "add analyzed", err)
	}
	cp, err := cloneRecord(record)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.analyzed = append(s.analyzed, cp)
	sort.SliceStable(s.analyzed, func(i, j int) bool {
		return fmt.Sprint(s.analyzed[i]["timestamp"]) < fmt.Sprint(s.analyzed[j]["timestamp"])
	})
	return nil
}

// Close is a no-op for the memory store.
func (s *Store) Close(context.Context) error { return nil }

func sortSamples(samples []domain.Sample) {
	sort.Slice(samples, func(i, j int) bool {
		if !samples[i].Timestamp.Equal(samples[j].Timestamp) {
			return samples[i].Timestamp.Before(samples[j].Timestamp)
		}
		return samples[i].ChipID < samples[j].ChipID
	})
}

// cloneRecord deep-copies through JSON so records behave like documents read
// from a real store (numbers become float64, times become strings).
func cloneRecord(rec domain.Record) (domain.Record, error) {
	b, err := json.Marshal(rec)
	if err != nil {
		return nil, domain.Wrap(domain.KindInvalid, "encode analyzed record", err)
	}
	var out domain.Record
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, domain.Wrap(domain.KindInternal, "decode analyzed record", err)
	}
	return out, nil
}
