package observability

import (
	"bytes"
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"onebreath/internal/config"
)

func TestLoggerCapturesEntries(t *testing.T) {
	var buf bytes.Buffer
	logger, sink, err := NewLogger(config.LoggingConfig{Level: "info", Format: "json", History: 2}, zapcore.AddSync(&buf))
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	log := logger.Named("lifecycle").With(zap.String("sweep", "s1"))
	log.Debug("hidden")
	log.Info("first")
	log.Warn("second", zap.Int("count", 3))
	log.Error("third")

	entries := sink.Entries(time.Time{}, zapcore.DebugLevel)
	if len(entries) != 2 {
		t.Fatalf("expected history capped at 2, got %d", len(entries))
	}
	if entries[0].Message != "second" || entries[0].Component != "lifecycle" {
		t.Fatalf("unexpected entry %+v", entries[0])
	}
	if entries[0].Attributes["sweep"] != "s1" || entries[0].Attributes["count"] != int64(3) {
		t.Fatalf("unexpected attributes %+v", entries[0].Attributes)
	}
	errorsOnly := sink.Entries(time.Time{}, zapcore.ErrorLevel)
	if len(errorsOnly) != 1 || errorsOnly[0].Message != "third" {
		t.Fatalf("unexpected error entries %+v", errorsOnly)
	}
	if !strings.Contains(buf.String(), `"msg":"first"`) {
		t.Fatalf("expected json output, got %s", buf.String())
	}
}

func TestLogSinkSubscribe(t *testing.T) {
	sink := NewLogSink(10)
	logger := zap.New(sink.Core(zapcore.InfoLevel))
	ch, cancel := sink.Subscribe(1)
	logger.Info("one")
	logger.Info("dropped when subscriber is slow")
	got := <-ch
	if got.Message != "one" {
		t.Fatalf("unexpected streamed entry %+v", got)
	}
	cancel()
	cancel()
	if _, ok := <-ch; ok {
		t.Fatalf("expected closed channel after cancel")
	}
	logger.Info("after cancel")
	if n := len(sink.Entries(time.Time{}, zapcore.InfoLevel)); n != 3 {
		t.Fatalf("expected 3 retained entries, got %d", n)
	}
}

func TestNewLoggerRejectsBadLevel(t *testing.T) {
	if _, _, err := NewLogger(config.LoggingConfig{Level: "loud"}, nil); err == nil {
		t.Fatalf("expected level parse error")
	}
}

func TestMetricsRecord(t *testing.T) {
	m := NewMetrics()
	m.SweepCompleted(false, 2, 1, 0, time.Second)
	m.SweepCompleted(true, 0, 0, 0, time.Millisecond)
	m.CacheLookup(true)
	m.CacheLookup(false)
	m.CacheLookup(false)
	m.CacheSize(4)
	m.Observe(context.Background(), "insights", true, time.Second)
	m.HTTPRequest("GET", "/samples", 200, time.Millisecond)

	if got := testutil.ToFloat64(m.sweeps.WithLabelValues("aborted")); got != 1 {
		t.Fatalf("aborted sweeps = %v", got)
	}
	if got := testutil.ToFloat64(m.sweepSamples.WithLabelValues("transitioned")); got != 2 {
		t.Fatalf("transitioned = %v", got)
	}
	if got := testutil.ToFloat64(m.cacheLookups.WithLabelValues("miss")); got != 2 {
		t.Fatalf("misses = %v", got)
	}
	if got := testutil.ToFloat64(m.cacheEntries); got != 4 {
		t.Fatalf("entries = %v", got)
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "onebreath_http_requests_total") {
		t.Fatalf("expected exposition output")
	}

	var nilMetrics *Metrics
	nilMetrics.CacheLookup(true)
	nilMetrics.SweepCompleted(false, 1, 0, 0, 0)
}
