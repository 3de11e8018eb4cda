package api

import (
	"context"
	"encoding/base64"
	"encoding/csv"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"onebreath/internal/analysis"
	"onebreath/pkg/domain"
)

func TestPresignSanitizesFileName(t *testing.T) {
	h := newHarness(t)

	rec := h.do(http.MethodPost, "/generate_presigned_url", userToken, map[string]string{"file_name": "../forms/patient form (1).pdf"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeBody[map[string]any](t, rec)
	require.Equal(t, "patient_form_1.pdf", body["key"])
	require.Equal(t, "memory://blob/patient_form_1.pdf", body["url"])

	requireFailure(t, h.do(http.MethodPost, "/generate_presigned_url", userToken, map[string]string{"file_name": "///"}), http.StatusBadRequest, domain.KindInvalid)
}

func TestUploadFromMemoryStoresDataURL(t *testing.T) {
	h := newHarness(t)
	payload := []byte("\x89PNG fake image")
	dataURL := "data:image/png;base64," + base64.StdEncoding.EncodeToString(payload)

	rec := h.do(http.MethodPost, "/upload_from_memory", userToken, map[string]string{
		"destination_blob_name": "patient_forms/chip-1.png",
		"source_file_name":      dataURL,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	info, rc, err := h.blobs.Get(context.Background(), "patient_forms/chip-1.png")
	require.NoError(t, err)
	defer rc.Close()
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.Equal(t, payload, got)
	require.Equal(t, "image/png", info.ContentType)

	// A second upload to the same key replaces the object.
	rec = h.do(http.MethodPost, "/upload_from_memory", userToken, map[string]string{
		"destination_blob_name": "patient_forms/chip-1.png",
		"source_file_name":      "data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte("v2")),
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(http.MethodPost, "/upload_from_memory", userToken, map[string]string{
		"destination_blob_name": "patient_forms/bad.png",
		"source_file_name":      "data:image/png;base64,***",
	})
	requireFailure(t, rec, http.StatusBadRequest, domain.KindInvalid)

	rec = h.do(http.MethodPost, "/upload_from_memory", userToken, map[string]string{
		"destination_blob_name": "../escape.png",
		"source_file_name":      dataURL,
	})
	requireFailure(t, rec, http.StatusBadRequest, domain.KindInvalid)
}

func TestCompletedSamplesAndDatasetDownload(t *testing.T) {
	h := newHarness(t)
	vol := 10.0
	h.seed(
		domain.Sample{ChipID: "late", Status: domain.StatusComplete, Timestamp: testNow.Add(time.Hour), FinalVolume: &vol},
		domain.Sample{ChipID: "early", Status: domain.StatusComplete, Timestamp: testNow.Add(-48 * time.Hour), DocumentURLs: []string{"f.pdf"}},
		domain.Sample{ChipID: "busy", Status: domain.StatusInProcess},
	)

	rec := h.do(http.MethodGet, "/completed_samples", userToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	completed := decodeBody[[]domain.Sample](t, rec)
	require.Len(t, completed, 2)

	rec = h.do(http.MethodGet, "/download_dataset", userToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	require.Equal(t, "attachment;filename=completed_samples.csv", rec.Header().Get("Content-Disposition"))
	rows, err := csv.NewReader(strings.NewReader(rec.Body.String())).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	require.Equal(t, "Date", rows[0][0])
	require.Equal(t, []string{"05/18/24", "early"}, rows[1][:2])
	require.Equal(t, "Yes", rows[1][8])
	require.Equal(t, []string{"05/20/24", "late"}, rows[2][:2])
	require.Equal(t, "10", rows[2][5])
}

func TestAnalyzedAndSummary(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.store.AddAnalyzed(ctx, domain.Record{"chip_id": "a", "timestamp": "2024-05-01T00:00:00Z", "co2": 3.2}))
	h.seed(
		domain.Sample{ChipID: "r1", Status: domain.StatusRegistered},
		domain.Sample{ChipID: "p1", Status: domain.StatusInProcess},
		domain.Sample{ChipID: "p2", Status: domain.StatusInProcess},
		domain.Sample{ChipID: "c1", Status: domain.StatusComplete},
	)

	rec := h.do(http.MethodGet, "/analyzed", userToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	records := decodeBody[[]map[string]any](t, rec)
	require.Len(t, records, 1)
	require.Equal(t, "a", records[0]["chip_id"])

	rec = h.do(http.MethodGet, "/dashboard/summary", userToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	summary := decodeBody[dashboardSummary](t, rec)
	require.Equal(t, 4, summary.Total)
	require.Equal(t, 2, summary.ByStatus[domain.StatusInProcess])
	require.Equal(t, 1, summary.ByStatus[domain.StatusRegistered])
	require.Equal(t, 0, summary.ByStatus[domain.StatusReadyForPickup])
}

func TestAIAnalysis(t *testing.T) {
	h := newHarness(t)
	rec := h.do(http.MethodGet, "/ai_analysis", userToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody[map[string]any](t, rec)
	require.Equal(t, true, body["success"])
	require.Equal(t, "steady CO2", body["insights"])
	require.Equal(t, false, body["cached"])
	require.Equal(t, "abc123", body["fingerprint"])
}

func TestAIAnalysisFailureKinds(t *testing.T) {
	cases := []struct {
		kind   domain.FailureKind
		status int
	}{
		{domain.KindTimeout, http.StatusGatewayTimeout},
		{domain.KindGenerationFailure, http.StatusBadGateway},
		{domain.KindUpstreamUnavailable, http.StatusServiceUnavailable},
		{domain.KindInternal, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(string(tc.kind), func(t *testing.T) {
			h := newHarness(t, func(d *Deps) {
				d.Analyzer = stubAnalyzer{err: domain.Errorf(tc.kind, "ai analysis", "boom")}
			})
			rec := h.do(http.MethodGet, "/ai_analysis", userToken, nil)
			requireFailure(t, rec, tc.status, tc.kind)
		})
	}

	h := newHarness(t, func(d *Deps) { d.Analyzer = nil })
	requireFailure(t, h.do(http.MethodGet, "/ai_analysis", userToken, nil), http.StatusServiceUnavailable, domain.KindUpstreamUnavailable)
}

func TestInternalErrorsHideDetails(t *testing.T) {
	h := newHarness(t, func(d *Deps) {
		d.Analyzer = stubAnalyzer{err: domain.Errorf(domain.KindInternal, "ai analysis", "secret dsn leaked")}
	})
	rec := h.do(http.MethodGet, "/ai_analysis", userToken, nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.NotContains(t, rec.Body.String(), "secret")
}

var _ Analyzer = (*analysis.Analyzer)(nil)
