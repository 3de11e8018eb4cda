package gcs

import (
	"context"
	"errors"
	"net/http"
	"os"
	"testing"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"

	"onebreath/internal/blob/core"
	"onebreath/internal/infra/blob/blobtest"
	"onebreath/pkg/domain"
)

func TestMapErr(t *testing.T) {
	cases := []struct {
		err  error
		kind domain.FailureKind
	}{
		{storage.ErrObjectNotExist, domain.KindNotFound},
		{&googleapi.Error{Code: http.StatusPreconditionFailed}, domain.KindConflict},
		{&googleapi.Error{Code: http.StatusNotFound}, domain.KindNotFound},
		{&googleapi.Error{Code: http.StatusInternalServerError}, domain.KindUpstreamUnavailable},
		{errors.New("dial tcp: refused"), domain.KindUpstreamUnavailable},
	}
	for _, tc := range cases {
		if got := domain.KindOf(mapErr("op", "key", tc.err)); got != tc.kind {
			t.Fatalf("%v: expected %q, got %q", tc.err, tc.kind, got)
		}
	}
	if !errors.Is(mapErr("op", "k", &googleapi.Error{Code: http.StatusPreconditionFailed}), core.ErrExists) {
		t.Fatalf("precondition failure must map to ErrExists")
	}
}

func TestToInfo(t *testing.T) {
	info := toInfo(&storage.ObjectAttrs{Name: "a/b", Size: 3, ContentType: "text/plain", Etag: "e", Metadata: map[string]string{"k": "v"}})
	if info.Key != "a/b" || info.Size != 3 || info.Metadata["k"] != "v" {
		t.Fatalf("unexpected info %+v", info)
	}
	if toInfo(nil).Key != "" {
		t.Fatalf("nil attrs should give zero info")
	}
}

func TestNewRequiresBucket(t *testing.T) {
	if _, err := New(context.Background(), Config{}); domain.KindOf(err) != domain.KindInvalid {
		t.Fatalf("expected invalid, got %v", err)
	}
}

// TestContractAgainstEmulator runs when a fake-gcs-server style emulator is
// available through STORAGE_EMULATOR_HOST and ONEBREATH_TEST_GCS_BUCKET.
func TestContractAgainstEmulator(t *testing.T) {
	bucket := os.Getenv("ONEBREATH_TEST_GCS_BUCKET")
	if os.Getenv("STORAGE_EMULATOR_HOST") == "" || bucket == "" {
		t.Skip("gcs emulator not configured")
	}
	blobtest.Run(t, func(t *testing.T) core.Store {
		s, err := New(context.Background(), Config{Bucket: bucket})
		if err != nil {
			t.Fatalf("new: %v", err)
		}
		t.Cleanup(func() {
			infos, _ := s.List(context.Background(), "")
			for _, info := range infos {
				_, _ = s.Delete(context.Background(), info.Key)
			}
			_ = s.Close()
		})
		return s
	})
}
