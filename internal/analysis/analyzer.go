package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"onebreath/pkg/domain"
)

// PromptPrefix introduces the serialized dataset sent to the summarizer.
const PromptPrefix = "Analyze this breath analysis data and provide insights: "

// Summarizer turns a prompt into prose. Implementations live in internal/llm.
type Summarizer interface {
	Name() string
	Generate(ctx context.Context, prompt string) (string, error)
}

// Recorder receives cache and summarizer metrics.
type Recorder interface {
	CacheLookup(hit bool)
	CacheSize(n int)
	SummarizerCall(provider, outcome string, duration time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) CacheLookup(bool)                             {}
func (nopRecorder) CacheSize(int)                                {}
func (nopRecorder) SummarizerCall(string, string, time.Duration) {}

// Options bounds the generation path.
type Options struct {
	// MaxRecords is how many analyzed records, oldest first, are summarized.
	MaxRecords int
	// Timeout bounds one summarizer call.
	Timeout time.Duration
	// MaxRetries is how many times a failed, non-timeout call is retried.
	MaxRetries int
	// RetryBackoff is the first retry delay; it doubles per attempt.
	RetryBackoff time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxRecords <= 0 {
		o.MaxRecords = 10
	}
	if o.Timeout <= 0 {
		o.Timeout = 25 * time.Second
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = time.Second
	}
	return o
}

// Insight is the result served to clients.
type Insight struct {
	Insights    string    `json:"insights"`
	Cached      bool      `json:"cached"`
	Fingerprint string    `json:"fingerprint"`
	GeneratedAt time.Time `json:"generated_at"`
	Records     int       `json:"records"`
}

// Option customizes an Analyzer.
type Option func(*Analyzer)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(a *Analyzer) { a.logger = l } }

// WithClock sets the clock stamping entries built outside the cache. It
// defaults to the cache's clock.
func WithClock(c domain.Clock) Option { return func(a *Analyzer) { a.clock = c } }

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option { return func(a *Analyzer) { a.metrics = r } }

// Analyzer serves insights, regenerating only when the dataset fingerprint
// has no fresh cache entry. Concurrent misses for the same fingerprint each
// call the summarizer; the last Put wins.
type Analyzer struct {
	source     domain.AnalysisSource
	cache      *Cache
	summarizer Summarizer
	opts       Options
	logger     *zap.Logger
	metrics    Recorder
	clock      domain.Clock
}

// NewAnalyzer wires the analyzer.
func NewAnalyzer(source domain.AnalysisSource, cache *Cache, summarizer Summarizer, opts Options, options ...Option) *Analyzer {
	a := &Analyzer{
		source:     source,
		cache:      cache,
		summarizer: summarizer,
		opts:       opts.withDefaults(),
		logger:     zap.NewNop(),
		metrics:    nopRecorder{},
	}
	for _, opt := range options {
		opt(a)
	}
	if a.clock == nil {
		a.clock = domain.SystemClock{}
		if cache != nil {
			a.clock = cache.clock
		}
	}
	return a
}

// Insights returns a summary of the oldest MaxRecords analyzed records.
func (a *Analyzer) Insights(ctx context.Context) (Insight, error) {
	records, err := a.source.AnalyzedRecords(ctx, a.opts.MaxRecords)
	if err != nil {
		if domain.KindOf(err) == domain.KindInternal {
			err = domain.Wrap(domain.KindUpstreamUnavailable, "load analyzed records", err)
		}
		return Insight{}, err
	}
	if len(records) > a.opts.MaxRecords {
		records = records[:a.opts.MaxRecords]
	}
	key, err := Fingerprint(records)
	if err != nil {
		return Insight{}, err
	}
	log := a.logger.With(zap.String("fingerprint", key), zap.Int("records", len(records)))

	if entry, ok := a.lookup(key); ok {
		log.Debug("insight cache hit")
		return Insight{Insights: entry.Content, Cached: true, Fingerprint: key, GeneratedAt: entry.CreatedAt, Records: len(records)}, nil
	}

	prompt, err := buildPrompt(records)
	if err != nil {
		return Insight{}, err
	}
	content, err := a.generate(ctx, prompt, log)
	if err != nil {
		return Insight{}, err
	}
	entry := a.store(key, content, log)
	return Insight{Insights: content, Fingerprint: key, GeneratedAt: entry.CreatedAt, Records: len(records)}, nil
}

// lookup treats any cache fault as a miss.
func (a *Analyzer) lookup(key string) (entry Entry, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("insight cache lookup failed", zap.Any("panic", r))
			entry, ok = Entry{}, false
		}
		a.metrics.CacheLookup(ok)
	}()
	if a.cache == nil {
		return Entry{}, false
	}
	return a.cache.Get(key)
}

func (a *Analyzer) store(key, content string, log *zap.Logger) (entry Entry) {
	entry = Entry{Fingerprint: key, Content: content, CreatedAt: a.clock.Now().UTC()}
	if a.cache == nil {
		return entry
	}
	defer func() {
		if r := recover(); r != nil {
			log.Error("insight cache store failed", zap.Any("panic", r))
		}
	}()
	entry = a.cache.Put(key, content)
	a.metrics.CacheSize(a.cache.Len())
	return entry
}

func (a *Analyzer) generate(ctx context.Context, prompt string, log *zap.Logger) (string, error) {
	if a.summarizer == nil {
		return "", domain.Errorf(domain.KindUpstreamUnavailable, "generate insights", "no summarizer configured")
	}
	provider := a.summarizer.Name()
	backoff := a.opts.RetryBackoff
	var lastErr error
	for attempt := 0; attempt <= a.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			log.Warn("retrying insight generation", zap.Int("attempt", attempt+1), zap.Duration("backoff", backoff), zap.Error(lastErr))
			if err := sleep(ctx, backoff); err != nil {
				return "", domain.Wrap(domain.KindTimeout, "generate insights", err)
			}
			backoff *= 2
		}
		content, err := a.call(ctx, provider, prompt)
		if err == nil {
			return content, nil
		}
		if domain.IsKind(err, domain.KindTimeout) {
			log.Warn("insight generation timed out", zap.Error(err))
			return "", err
		}
		if ctx.Err() != nil {
			log.Info("insight generation abandoned", zap.Error(ctx.Err()))
			return "", fmt.Errorf("generate insights: %w", ctx.Err())
		}
		lastErr = err
	}
	log.Error("insight generation failed", zap.Int("attempts", a.opts.MaxRetries+1), zap.Error(lastErr))
	return "", domain.Wrap(domain.KindGenerationFailure, "generate insights", lastErr)
}

func (a *Analyzer) call(ctx context.Context, provider, prompt string) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, a.opts.Timeout)
	defer cancel()
	started := time.Now()
	content, err := a.summarizer.Generate(callCtx, prompt)
	elapsed := time.Since(started)
	switch {
	case err == nil && strings.TrimSpace(content) == "":
		a.metrics.SummarizerCall(provider, "empty", elapsed)
		return "", errors.New("summarizer returned no content")
	case err == nil:
		a.metrics.SummarizerCall(provider, "ok", elapsed)
		return content, nil
	case errors.Is(callCtx.Err(), context.DeadlineExceeded),
		callCtx.Err() == nil && errors.Is(err, context.DeadlineExceeded):
		a.metrics.SummarizerCall(provider, "timeout", elapsed)
		return "", domain.Wrap(domain.KindTimeout, "generate insights", fmt.Errorf("%s after %s: %w", provider, a.opts.Timeout, err))
	case errors.Is(callCtx.Err(), context.Canceled):
		a.metrics.SummarizerCall(provider, "canceled", elapsed)
		return "", err
	default:
		a.metrics.SummarizerCall(provider, "error", elapsed)
		return "", err
	}
}

func buildPrompt(records domain.Dataset) (string, error) {
	normalized := make([]any, len(records))
	for i, r := range records {
		normalized[i] = canonical(r)
	}
	raw, err := json.Marshal(normalized)
	if err != nil {
		return "", domain.Wrap(domain.KindInvalid, "build prompt", err)
	}
	return PromptPrefix + string(raw), nil
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
