package memory

import (
	"context"
	"testing"

	"onebreath/internal/infra/persistence/storetest"
	"onebreath/pkg/domain"
)

func TestStoreContract(t *testing.T) {
	storetest.Run(t, func(_ *testing.T, clock domain.Clock) domain.Store {
		return NewStore(clock)
	})
}

func TestStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := NewStore(nil)
	if err := store.Insert(ctx, domain.Sample{ChipID: "A1", Status: domain.StatusRegistered, DocumentURLs: []string{"u"}}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	got, _ := store.Get(ctx, "A1")
	got.DocumentURLs[0] = "mutated"
	again, _ := store.Get(ctx, "A1")
	if again.DocumentURLs[0] != "u" {
		t.Fatalf("stored sample mutated through returned copy")
	}
}

func TestStoreCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewStore(nil).Find(ctx, domain.SampleFilter{}); !domain.IsKind(err, domain.KindUpstreamUnavailable) {
		t.Fatalf("expected upstream unavailable, got %v", err)
	}
}
