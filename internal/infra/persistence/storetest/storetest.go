// Package storetest holds the behavioural contract every sample store driver
// must satisfy. Driver packages call Run from their own tests.
package storetest

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"onebreath/pkg/domain"
)

// Factory returns a fresh, empty store for a subtest.
type Factory func(t *testing.T, clock domain.Clock) domain.Store

// Run exercises the domain.Store contract against the driver built by factory.
func Run(t *testing.T, factory Factory) {
	t.Helper()
	t.Run("InsertGetDuplicate", func(t *testing.T) { testInsertGet(t, factory) })
	t.Run("FindDueInProcess", func(t *testing.T) { testFindDue(t, factory) })
	t.Run("ConditionalUpdate", func(t *testing.T) { testConditionalUpdate(t, factory) })
	t.Run("ConcurrentConditionalUpdate", func(t *testing.T) { testConcurrentUpdate(t, factory) })
	t.Run("UpsertCreatesAndPatches", func(t *testing.T) { testUpsert(t, factory) })
	t.Run("AnalyzedRecords", func(t *testing.T) { testAnalyzed(t, factory) })
}

var base = time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

func fixedClock() domain.Clock { return domain.ClockFunc(func() time.Time { return base }) }

func mustInsert(t *testing.T, store domain.Store, s domain.Sample) {
	t.Helper()
	if err := store.Insert(context.Background(), s); err != nil {
		t.Fatalf("insert %s: %v", s.ChipID, err)
	}
}

func inProcess(chip string, registered time.Time) domain.Sample {
	return domain.Sample{
		ChipID:                 chip,
		Status:                 domain.StatusInProcess,
		Timestamp:              registered,
		ExpectedCompletionTime: domain.Deadline(registered, domain.ProcessingDuration),
	}
}

func testInsertGet(t *testing.T, factory Factory) {
	ctx := context.Background()
	store := factory(t, fixedClock())
	vol := 2.5
	s := domain.Sample{ChipID: "A1", Status: domain.StatusRegistered, Timestamp: base, FinalVolume: &vol, DocumentURLs: []string{"u1"}}
	mustInsert(t, store, s)
	got, err := store.Get(ctx, "A1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ChipID != "A1" || got.Status != domain.StatusRegistered || got.FinalVolume == nil || *got.FinalVolume != vol || !got.Timestamp.Equal(base) {
		t.Fatalf("unexpected sample %+v", got)
	}
	if err := store.Insert(ctx, s); !domain.IsKind(err, domain.KindConflict) {
		t.Fatalf("expected conflict on duplicate insert, got %v", err)
	}
	if _, err := store.Get(ctx, "missing"); !domain.IsKind(err, domain.KindNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func testFindDue(t *testing.T, factory Factory) {
	ctx := context.Background()
	store := factory(t, fixedClock())
	mustInsert(t, store, inProcess("due", base.Add(-3*time.Hour)))
	mustInsert(t, store, inProcess("exact", base.Add(-2*time.Hour)))
	mustInsert(t, store, inProcess("later", base.Add(-time.Hour)))
	mustInsert(t, store, domain.Sample{ChipID: "reg", Status: domain.StatusRegistered, Timestamp: base.Add(-4 * time.Hour)})

	now := base
	got, err := store.Find(ctx, domain.SampleFilter{Statuses: []domain.Status{domain.StatusInProcess}, DueBy: &now})
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(got) != 2 || got[0].ChipID != "due" || got[1].ChipID != "exact" {
		t.Fatalf("unexpected due samples %+v", got)
	}
	all, err := store.Find(ctx, domain.SampleFilter{})
	if err != nil {
		t.Fatalf("find all: %v", err)
	}
	if len(all) != 4 || all[0].ChipID != "reg" {
		t.Fatalf("expected 4 samples ordered by timestamp, got %+v", all)
	}
}

func testConditionalUpdate(t *testing.T, factory Factory) {
	ctx := context.Background()
	store := factory(t, fixedClock())
	mustInsert(t, store, inProcess("A1", base))
	ready := domain.StatusReadyForPickup
	guard := domain.SampleFilter{ChipID: "A1", Statuses: []domain.Status{domain.StatusInProcess}}

	res, err := store.UpdateOne(ctx, guard, domain.SamplePatch{Status: &ready})
	if err != nil || res.Modified != 1 {
		t.Fatalf("first update: res=%+v err=%v", res, err)
	}
	res, err = store.UpdateOne(ctx, guard, domain.SamplePatch{Status: &ready})
	if err != nil || res.Modified != 0 || res.Matched != 0 {
		t.Fatalf("second update should not match: res=%+v err=%v", res, err)
	}
	res, err = store.UpdateOne(ctx, domain.SampleFilter{ChipID: "missing"}, domain.SamplePatch{Status: &ready})
	if err != nil || res.Matched != 0 {
		t.Fatalf("missing sample: res=%+v err=%v", res, err)
	}
	got, err := store.Get(ctx, "A1")
	if err != nil || got.Status != domain.StatusReadyForPickup {
		t.Fatalf("unexpected stored sample %+v err=%v", got, err)
	}
	if got.ExpectedCompletionTime == nil || !got.ExpectedCompletionTime.Equal(base.Add(domain.ProcessingDuration)) {
		t.Fatalf("deadline must survive unrelated updates: %+v", got.ExpectedCompletionTime)
	}
}

func testConcurrentUpdate(t *testing.T, factory Factory) {
	ctx := context.Background()
	store := factory(t, fixedClock())
	mustInsert(t, store, inProcess("race", base))
	ready := domain.StatusReadyForPickup
	guard := domain.SampleFilter{ChipID: "race", Statuses: []domain.Status{domain.StatusInProcess}}

	var (
		wg       sync.WaitGroup
		modified atomic.Int64
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := store.UpdateOne(ctx, guard, domain.SamplePatch{Status: &ready})
			if err != nil {
				t.Errorf("update: %v", err)
				return
			}
			modified.Add(res.Modified)
		}()
	}
	wg.Wait()
	if got := modified.Load(); got != 1 {
		t.Fatalf("expected exactly one modification, got %d", got)
	}
}

func testUpsert(t *testing.T, factory Factory) {
	ctx := context.Background()
	store := factory(t, fixedClock())
	patient := "P-9"
	res, err := store.Upsert(ctx, "N1", domain.SamplePatch{PatientID: &patient})
	if err != nil || res.Modified != 1 {
		t.Fatalf("upsert create: res=%+v err=%v", res, err)
	}
	got, err := store.Get(ctx, "N1")
	if err != nil || got.PatientID != patient || got.Status != domain.StatusRegistered || !got.Timestamp.Equal(base) {
		t.Fatalf("unexpected upserted sample %+v err=%v", got, err)
	}
	res, err = store.Upsert(ctx, "N1", domain.SamplePatch{AddDocumentURLs: []string{"a", "b"}})
	if err != nil || res.Matched != 1 || res.Modified != 1 {
		t.Fatalf("upsert patch: res=%+v err=%v", res, err)
	}
	res, err = store.Upsert(ctx, "N1", domain.SamplePatch{AddDocumentURLs: []string{"a"}})
	if err != nil || res.Modified != 0 {
		t.Fatalf("idempotent upsert: res=%+v err=%v", res, err)
	}
	got, _ = store.Get(ctx, "N1")
	if len(got.DocumentURLs) != 2 {
		t.Fatalf("document urls should be additive, got %v", got.DocumentURLs)
	}
}

func testAnalyzed(t *testing.T, factory Factory) {
	ctx := context.Background()
	store := factory(t, fixedClock())
	for _, rec := range []domain.Record{
		{"chip_id": "B", "timestamp": "2024-05-02T00:00:00Z", "average_co2": 4.1},
		{"chip_id": "A", "timestamp": "2024-05-01T00:00:00Z", "average_co2": 3.9},
		{"chip_id": "C", "timestamp": "2024-05-03T00:00:00Z", "average_co2": 4.4},
	} {
		if err := store.AddAnalyzed(ctx, rec); err != nil {
			t.Fatalf("add analyzed: %v", err)
		}
	}
	got, err := store.AnalyzedRecords(ctx, 2)
	if err != nil {
		t.Fatalf("analyzed: %v", err)
	}
	if len(got) != 2 || got[0]["chip_id"] != "A" || got[1]["chip_id"] != "B" {
		t.Fatalf("unexpected analyzed records %+v", got)
	}
	if v, ok := got[0]["average_co2"].(float64); !ok || v != 3.9 {
		t.Fatalf("expected numeric values as float64, got %#v", got[0]["average_co2"])
	}
	all, err := store.AnalyzedRecords(ctx, 0)
	if err != nil || len(all) != 3 {
		t.Fatalf("expected all records, got %d err=%v", len(all), err)
	}
}
