package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"onebreath/internal/analysis"
	"onebreath/internal/export"
	"onebreath/internal/lifecycle"
	"onebreath/internal/observability"
	"onebreath/pkg/domain"
)

func TestAdminHealthReportsLastSweep(t *testing.T) {
	h := newHarness(t)

	rec := h.do(http.MethodGet, "/admin/health", adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody[map[string]any](t, rec)
	require.Equal(t, "healthy", body["status"])
	require.Nil(t, body["last_sweep"])

	_, err := h.monitor.Sweep(context.Background())
	require.NoError(t, err)
	body = decodeBody[map[string]any](t, h.do(http.MethodGet, "/admin/health", adminToken, nil))
	require.NotNil(t, body["last_sweep"])
}

func TestAdminSweepTransitionsDueSamples(t *testing.T) {
	h := newHarness(t)
	due := testNow.Add(-time.Minute)
	later := testNow.Add(time.Hour)
	h.seed(
		domain.Sample{ChipID: "due", Status: domain.StatusInProcess, ExpectedCompletionTime: &due},
		domain.Sample{ChipID: "later", Status: domain.StatusInProcess, ExpectedCompletionTime: &later},
	)

	rec := h.do(http.MethodPost, "/admin/sweep", adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	report := decodeBody[lifecycle.Report](t, rec)
	require.Equal(t, []string{"due"}, report.Transitioned)
	require.Equal(t, []string{"Sample Ready for Pickup: due"}, h.notifier.Subjects())

	requireFailure(t, h.do(http.MethodPost, "/admin/sweep", userToken, nil), http.StatusForbidden, domain.KindForbidden)
}

func TestAdminBackup(t *testing.T) {
	h := newHarness(t)
	h.seed(domain.Sample{ChipID: "a", Status: domain.StatusComplete})

	rec := h.do(http.MethodPost, "/admin/backup", adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeBody[struct {
		Success bool                `json:"success"`
		Backup  export.BackupResult `json:"backup"`
	}](t, rec)
	require.True(t, body.Success)
	require.Equal(t, "database_backups/backup_20240520_100000.json.gz", body.Backup.Key)
	require.Equal(t, 1, body.Backup.Samples)

	restored, err := export.ReadBackup(context.Background(), h.blobs, body.Backup.Key)
	require.NoError(t, err)
	require.Len(t, restored, 1)
}

func TestRequestLogsAndPerformance(t *testing.T) {
	h := newHarness(t)
	for i := 0; i < 3; i++ {
		h.do(http.MethodGet, "/samples", userToken, nil)
	}
	h.do(http.MethodGet, "/admin/health", adminToken, nil)

	rec := h.do(http.MethodGet, "/admin/logs/request?days=1", adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	entries := decodeBody[[]RequestEntry](t, rec)
	require.Len(t, entries, 3)
	require.Equal(t, "/samples", entries[0].Path)
	require.Equal(t, http.StatusOK, entries[0].Status)
	require.NotEmpty(t, entries[0].RequestID)

	rec = h.do(http.MethodGet, "/admin/metrics", adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	perf := decodeBody[map[string][]performanceSample](t, rec)["performance"]
	require.Len(t, perf, 3)
	require.Equal(t, "GET /samples", perf[0].Route)

	requireFailure(t, h.do(http.MethodGet, "/admin/logs/request?days=-1", adminToken, nil), http.StatusBadRequest, domain.KindInvalid)
}

func TestAuthenticatedRequestsNudgeMonitor(t *testing.T) {
	h := newHarness(t)
	h.do(http.MethodGet, "/samples", userToken, nil)
	h.do(http.MethodGet, "/dashboard/summary", userToken, nil)
	h.do(http.MethodGet, "/healthz", "", nil)
	require.EqualValues(t, 2, h.monitor.nudges.Load())
}

func TestErrorLogsComeFromCapturedEntries(t *testing.T) {
	h := newHarness(t)
	h.logger.Info("routine")
	h.logger.Error("mail relay refused connection")

	rec := h.do(http.MethodGet, "/admin/logs/error", adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	entries := decodeBody[[]observability.LogEntry](t, rec)
	require.Len(t, entries, 1)
	require.Equal(t, "mail relay refused connection", entries[0].Message)
}

func TestCORS(t *testing.T) {
	h := newHarness(t)

	req := httptest.NewRequest(http.MethodOptions, "/samples", nil)
	req.Header.Set("Origin", "https://dash.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	req.Header.Set("Access-Control-Request-Headers", "Authorization")
	rec := httptest.NewRecorder()
	h.server.ServeHTTP(rec, req)
	require.Less(t, rec.Code, 300)
	require.Equal(t, "https://dash.example", rec.Header().Get("Access-Control-Allow-Origin"))
	require.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "Authorization")
	require.Equal(t, "600", rec.Header().Get("Access-Control-Max-Age"))
	require.Empty(t, rec.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/download_dataset", nil)
	req.Header.Set("Origin", "https://dash.example")
	req.Header.Set("Authorization", "Bearer "+userToken)
	rec = httptest.NewRecorder()
	h.server.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "https://dash.example", rec.Header().Get("Access-Control-Allow-Origin"))
	require.Contains(t, rec.Header().Get("Access-Control-Expose-Headers"), "Content-Disposition")

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	h.server.ServeHTTP(rec, req)
	require.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestStatusForKinds(t *testing.T) {
	cases := map[domain.FailureKind]int{
		domain.KindNotFound:            http.StatusNotFound,
		domain.KindConflict:            http.StatusConflict,
		domain.KindInvalidTransition:   http.StatusConflict,
		domain.KindInvalid:             http.StatusBadRequest,
		domain.KindUnauthorized:        http.StatusUnauthorized,
		domain.KindForbidden:           http.StatusForbidden,
		domain.KindUpstreamUnavailable: http.StatusServiceUnavailable,
		domain.KindTimeout:             http.StatusGatewayTimeout,
		domain.KindGenerationFailure:   http.StatusBadGateway,
		domain.KindInternal:            http.StatusInternalServerError,
	}
	for kind, want := range cases {
		if got := statusFor(kind); got != want {
			t.Fatalf("statusFor(%s) = %d, want %d", kind, got, want)
		}
	}
}

func TestLogStreamPushesEntries(t *testing.T) {
	h := newHarness(t)
	ts := httptest.NewServer(h.server)
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/admin/logs/stream?token=" + adminToken
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var hello streamEvent
	require.NoError(t, conn.ReadJSON(&hello))
	require.Equal(t, "connection_update", hello.Event)

	h.logger.Warn("sweep skipped a sample")
	var ev struct {
		Event string                 `json:"event"`
		Data  observability.LogEntry `json:"data"`
	}
	for ev.Data.Message != "sweep skipped a sample" {
		require.NoError(t, conn.ReadJSON(&ev))
	}
	require.Equal(t, "log_update", ev.Event)
	require.Equal(t, "warn", ev.Data.Level)

	_, _, err = websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/admin/logs/stream?token="+userToken, nil)
	require.Error(t, err)
}

type panickyAnalyzer struct{}

func (panickyAnalyzer) Insights(context.Context) (analysis.Insight, error) { panic("nil map") }

func TestHandlerPanicBecomesInternalError(t *testing.T) {
	h := newHarness(t, func(d *Deps) { d.Analyzer = panickyAnalyzer{} })
	requireFailure(t, h.do(http.MethodGet, "/ai_analysis", userToken, nil), http.StatusInternalServerError, domain.KindInternal)

	rec := h.do(http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}
