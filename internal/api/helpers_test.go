package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"onebreath/internal/analysis"
	"onebreath/internal/auth"
	"onebreath/internal/blob"
	"onebreath/internal/config"
	"onebreath/internal/export"
	"onebreath/internal/infra/persistence/memory"
	"onebreath/internal/lifecycle"
	"onebreath/internal/notify"
	"onebreath/internal/observability"
	"onebreath/pkg/domain"
)

const (
	userToken  = "user-token"
	adminToken = "admin-token"
)

var testNow = time.Date(2024, 5, 20, 10, 0, 0, 0, time.UTC)

type recordingNotifier struct {
	mu   sync.Mutex
	msgs []notify.Message
}

func (n *recordingNotifier) Notify(_ context.Context, msg notify.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs = append(n.msgs, msg)
	return nil
}

func (n *recordingNotifier) Subjects() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.msgs))
	for _, m := range n.msgs {
		out = append(out, m.Subject)
	}
	return out
}

type stubAnalyzer struct {
	insight analysis.Insight
	err     error
}

func (a stubAnalyzer) Insights(context.Context) (analysis.Insight, error) { return a.insight, a.err }

// countingMonitor wraps a real monitor and counts nudges.
type countingMonitor struct {
	*lifecycle.Monitor
	nudges atomic.Int32
}

func (m *countingMonitor) Nudge() {
	m.nudges.Add(1)
	m.Monitor.Nudge()
}

type harness struct {
	t        *testing.T
	server   *Server
	store    *memory.Store
	blobs    blob.Store
	notifier *recordingNotifier
	monitor  *countingMonitor
	logs     *observability.LogSink
	logger   *zap.Logger
}

func newHarness(t *testing.T, mutate ...func(*Deps)) *harness {
	t.Helper()
	clock := domain.ClockFunc(func() time.Time { return testNow })
	store := memory.NewStore(clock)
	blobs, err := blob.Open(context.Background(), config.BlobConfig{Driver: "memory"})
	require.NoError(t, err)
	notifier := &recordingNotifier{}
	logs := observability.NewLogSink(100)
	logger := zap.New(logs.Core(zapcore.DebugLevel))
	verifier := auth.NewStatic(map[string]string{userToken: "lab-user"}).
		Add(adminToken, auth.Identity{UID: "lab-admin", Admin: true})
	monitor := &countingMonitor{Monitor: lifecycle.NewMonitor(store, notifier, lifecycle.Config{}, lifecycle.WithClock(clock))}
	deps := Deps{
		Store:    store,
		Blobs:    blobs,
		Verifier: verifier,
		Notifier: notifier,
		Analyzer: stubAnalyzer{insight: analysis.Insight{Insights: "steady CO2", Fingerprint: "abc123", Records: 2}},
		Monitor:  monitor,
		Backuper: export.NewBackuper(store, blobs, clock, "", logger),
		Logs:     logs,
		Metrics:  observability.NewMetrics(),
		Clock:    clock,
		Logger:   logger,
	}
	for _, fn := range mutate {
		fn(&deps)
	}
	srv, err := NewServer(deps, Config{CORSOrigins: []string{"https://dash.example"}})
	require.NoError(t, err)
	return &harness{t: t, server: srv, store: store, blobs: blobs, notifier: notifier, monitor: monitor, logs: logs, logger: logger}
}

func (h *harness) do(method, path, token string, body any) *httptest.ResponseRecorder {
	h.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(h.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.server.ServeHTTP(rec, req)
	return rec
}

func (h *harness) seed(samples ...domain.Sample) {
	h.t.Helper()
	for _, s := range samples {
		if s.Timestamp.IsZero() {
			s.Timestamp = testNow
		}
		require.NoError(h.t, h.store.Insert(context.Background(), s))
	}
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func requireFailure(t *testing.T, rec *httptest.ResponseRecorder, status int, kind domain.FailureKind) {
	t.Helper()
	require.Equal(t, status, rec.Code, rec.Body.String())
	body := decodeBody[errorBody](t, rec)
	require.False(t, body.Success)
	require.Equal(t, kind, body.Kind)
	require.NotEmpty(t, body.Error)
}
