package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"onebreath/internal/infra/persistence/memory"
	"onebreath/pkg/domain"
)

type scriptedSummarizer struct {
	calls   atomic.Int32
	mu      sync.Mutex
	prompts []string
	respond func(ctx context.Context, call int) (string, error)
}

func (s *scriptedSummarizer) Name() string { return "scripted" }

func (s *scriptedSummarizer) Generate(ctx context.Context, prompt string) (string, error) {
	n := int(s.calls.Add(1))
	s.mu.Lock()
	s.prompts = append(s.prompts, prompt)
	s.mu.Unlock()
	if s.respond == nil {
		return fmt.Sprintf("insight #%d", n), nil
	}
	return s.respond(ctx, n)
}

func seedAnalyzed(t *testing.T, store *memory.Store, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		err := store.AddAnalyzed(context.Background(), domain.Record{
			"chip_id":     fmt.Sprintf("CHIP-%02d", i),
			"timestamp":   fmt.Sprintf("2024-03-01T%02d:00:00Z", i),
			"average_co2": 4.0 + float64(i)/10,
		})
		require.NoError(t, err)
	}
}

func newTestAnalyzer(t *testing.T, store *memory.Store, clock *fakeClock, s Summarizer, opts Options) (*Analyzer, *Cache) {
	t.Helper()
	cache := newTestCache(t, 8, 5*time.Minute, clock)
	if opts.RetryBackoff == 0 {
		opts.RetryBackoff = time.Millisecond
	}
	return NewAnalyzer(store, cache, s, opts), cache
}

func TestInsightsServedFromCacheUntilExpiry(t *testing.T) {
	clock := newFakeClock()
	store := memory.NewStore(clock)
	seedAnalyzed(t, store, 3)
	summarizer := &scriptedSummarizer{}
	analyzer, _ := newTestAnalyzer(t, store, clock, summarizer, Options{})

	first, err := analyzer.Insights(context.Background())
	require.NoError(t, err)
	require.False(t, first.Cached)
	require.Equal(t, "insight #1", first.Insights)
	require.Equal(t, 3, first.Records)

	clock.Advance(4 * time.Minute)
	second, err := analyzer.Insights(context.Background())
	require.NoError(t, err)
	require.True(t, second.Cached)
	require.Equal(t, first.Insights, second.Insights)
	require.Equal(t, first.Fingerprint, second.Fingerprint)
	require.EqualValues(t, 1, summarizer.calls.Load())

	clock.Advance(time.Minute)
	third, err := analyzer.Insights(context.Background())
	require.NoError(t, err)
	require.False(t, third.Cached)
	require.Equal(t, "insight #2", third.Insights)
}

func TestInsightsRegenerateWhenDatasetChanges(t *testing.T) {
	clock := newFakeClock()
	store := memory.NewStore(clock)
	seedAnalyzed(t, store, 2)
	summarizer := &scriptedSummarizer{}
	analyzer, _ := newTestAnalyzer(t, store, clock, summarizer, Options{})

	first, err := analyzer.Insights(context.Background())
	require.NoError(t, err)

	require.NoError(t, store.AddAnalyzed(context.Background(), domain.Record{
		"chip_id": "CHIP-99", "timestamp": "2024-03-01T23:00:00Z",
	}))
	second, err := analyzer.Insights(context.Background())
	require.NoError(t, err)
	require.False(t, second.Cached)
	require.NotEqual(t, first.Fingerprint, second.Fingerprint)
	require.EqualValues(t, 2, summarizer.calls.Load())
}

func TestInsightsPromptUsesOldestRecords(t *testing.T) {
	clock := newFakeClock()
	store := memory.NewStore(clock)
	seedAnalyzed(t, store, 12)
	summarizer := &scriptedSummarizer{}
	analyzer, _ := newTestAnalyzer(t, store, clock, summarizer, Options{MaxRecords: 10})

	insight, err := analyzer.Insights(context.Background())
	require.NoError(t, err)
	require.Equal(t, 10, insight.Records)

	prompt := summarizer.prompts[0]
	require.True(t, strings.HasPrefix(prompt, PromptPrefix))
	var sent []map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(prompt, PromptPrefix)), &sent))
	require.Len(t, sent, 10)
	require.Equal(t, "CHIP-00", sent[0]["chip_id"])
	require.Equal(t, "CHIP-09", sent[9]["chip_id"])
}

func TestInsightsTimeoutIsNotRetriedOrCached(t *testing.T) {
	clock := newFakeClock()
	store := memory.NewStore(clock)
	seedAnalyzed(t, store, 1)
	summarizer := &scriptedSummarizer{respond: func(ctx context.Context, _ int) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}}
	analyzer, cache := newTestAnalyzer(t, store, clock, summarizer, Options{Timeout: 20 * time.Millisecond, MaxRetries: 3})

	_, err := analyzer.Insights(context.Background())
	require.Error(t, err)
	require.Equal(t, domain.KindTimeout, domain.KindOf(err))
	require.EqualValues(t, 1, summarizer.calls.Load())
	require.Zero(t, cache.Len())
}

func TestInsightsRetryTransientFailures(t *testing.T) {
	clock := newFakeClock()
	store := memory.NewStore(clock)
	seedAnalyzed(t, store, 1)
	summarizer := &scriptedSummarizer{respond: func(_ context.Context, call int) (string, error) {
		if call < 3 {
			return "", errors.New("rate limited")
		}
		return "finally", nil
	}}
	analyzer, cache := newTestAnalyzer(t, store, clock, summarizer, Options{MaxRetries: 3})

	insight, err := analyzer.Insights(context.Background())
	require.NoError(t, err)
	require.Equal(t, "finally", insight.Insights)
	require.EqualValues(t, 3, summarizer.calls.Load())
	require.Equal(t, 1, cache.Len())
}

func TestInsightsGenerationFailureIsNotCached(t *testing.T) {
	clock := newFakeClock()
	store := memory.NewStore(clock)
	seedAnalyzed(t, store, 1)
	summarizer := &scriptedSummarizer{respond: func(_ context.Context, call int) (string, error) {
		if call%2 == 0 {
			return "   ", nil
		}
		return "", errors.New("bad gateway")
	}}
	analyzer, cache := newTestAnalyzer(t, store, clock, summarizer, Options{MaxRetries: 2})

	_, err := analyzer.Insights(context.Background())
	require.Error(t, err)
	require.Equal(t, domain.KindGenerationFailure, domain.KindOf(err))
	require.EqualValues(t, 3, summarizer.calls.Load())
	require.Zero(t, cache.Len())

	_, err = analyzer.Insights(context.Background())
	require.Error(t, err)
	require.EqualValues(t, 6, summarizer.calls.Load())
}

func TestInsightsDoNotHoldCacheDuringGeneration(t *testing.T) {
	clock := newFakeClock()
	store := memory.NewStore(clock)
	seedAnalyzed(t, store, 1)
	var cache *Cache
	summarizer := &scriptedSummarizer{respond: func(context.Context, int) (string, error) {
		done := make(chan struct{})
		go func() {
			defer close(done)
			cache.Put("other", "value")
			_, _ = cache.Get("other")
		}()
		select {
		case <-done:
			return "ok", nil
		case <-time.After(time.Second):
			return "", errors.New("cache blocked while generating")
		}
	}}
	var analyzer *Analyzer
	analyzer, cache = newTestAnalyzer(t, store, clock, summarizer, Options{MaxRetries: 0})

	insight, err := analyzer.Insights(context.Background())
	require.NoError(t, err)
	require.Equal(t, "ok", insight.Insights)
	require.Equal(t, 2, cache.Len())
}

func TestInsightsSourceFailure(t *testing.T) {
	clock := newFakeClock()
	store := memory.NewStore(clock)
	summarizer := &scriptedSummarizer{}
	analyzer, _ := newTestAnalyzer(t, store, clock, summarizer, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := analyzer.Insights(ctx)
	require.Error(t, err)
	require.Equal(t, domain.KindUpstreamUnavailable, domain.KindOf(err))
	require.Zero(t, summarizer.calls.Load())
}

func TestInsightsWithoutCacheAlwaysGenerates(t *testing.T) {
	clock := newFakeClock()
	store := memory.NewStore(clock)
	seedAnalyzed(t, store, 1)
	summarizer := &scriptedSummarizer{}
	analyzer := NewAnalyzer(store, nil, summarizer, Options{})

	for i := 0; i < 2; i++ {
		insight, err := analyzer.Insights(context.Background())
		require.NoError(t, err)
		require.False(t, insight.Cached)
	}
	require.EqualValues(t, 2, summarizer.calls.Load())
}

func TestInsightsCancelledCallerIsNotATimeout(t *testing.T) {
	clock := newFakeClock()
	store := memory.NewStore(clock)
	seedAnalyzed(t, store, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	summarizer := &scriptedSummarizer{respond: func(callCtx context.Context, _ int) (string, error) {
		cancel()
		return "", callCtx.Err()
	}}
	analyzer, cache := newTestAnalyzer(t, store, clock, summarizer, Options{Timeout: time.Minute, MaxRetries: 3})

	_, err := analyzer.Insights(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.NotEqual(t, domain.KindTimeout, domain.KindOf(err))
	require.EqualValues(t, 1, summarizer.calls.Load())
	require.Zero(t, cache.Len())
}

func TestInsightsWithoutCacheUseInjectedClock(t *testing.T) {
	clock := newFakeClock()
	store := memory.NewStore(clock)
	seedAnalyzed(t, store, 1)
	analyzer := NewAnalyzer(store, nil, &scriptedSummarizer{}, Options{}, WithClock(clock))

	insight, err := analyzer.Insights(context.Background())
	require.NoError(t, err)
	require.Equal(t, clock.Now(), insight.GeneratedAt)
}
