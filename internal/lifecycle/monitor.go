// Package lifecycle advances In Process samples to Ready for Pickup once
// their processing window has elapsed, notifying staff once per transition.
package lifecycle

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"onebreath/internal/notify"
	"onebreath/pkg/domain"
)

// alertTimeout bounds delivery of the operator alert for an aborted sweep.
const alertTimeout = 15 * time.Second

// Config controls sweep scheduling.
type Config struct {
	// Interval between scheduled sweeps.
	Interval time.Duration
	// NudgeInterval is the minimum age of the last sweep before a
	// request-driven nudge triggers another one.
	NudgeInterval time.Duration
	// SweepTimeout bounds a single sweep.
	SweepTimeout time.Duration
	// NotifyOnFailure sends an operator alert when a sweep aborts.
	NotifyOnFailure bool
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = time.Minute
	}
	if c.NudgeInterval <= 0 {
		c.NudgeInterval = 5 * time.Minute
	}
	if c.SweepTimeout <= 0 {
		c.SweepTimeout = 30 * time.Second
	}
	return c
}

// Recorder receives sweep metrics.
type Recorder interface {
	SweepCompleted(aborted bool, transitioned, skipped, failed int, duration time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) SweepCompleted(bool, int, int, int, time.Duration) {}

// Report summarizes one sweep.
type Report struct {
	StartedAt    time.Time     `json:"started_at"`
	Duration     time.Duration `json:"duration_ns"`
	Candidates   int           `json:"candidates"`
	Transitioned []string      `json:"transitioned"`
	Skipped      int           `json:"skipped"`
	Failed       int           `json:"failed"`
	Error        string        `json:"error,omitempty"`
}

// Option customizes a Monitor.
type Option func(*Monitor)

// WithClock injects the time source.
func WithClock(c domain.Clock) Option { return func(m *Monitor) { m.clock = c } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(m *Monitor) { m.logger = l } }

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option { return func(m *Monitor) { m.metrics = r } }

// Monitor owns the periodic sweep. Sweep may be called directly and
// concurrently with the loop; the conditional update keeps transitions and
// notifications single.
type Monitor struct {
	store    domain.SampleStore
	notifier notify.Notifier
	cfg      Config
	clock    domain.Clock
	logger   *zap.Logger
	metrics  Recorder

	nudges chan struct{}

	mu        sync.Mutex
	lastSweep time.Time
	last      *Report

	startOnce sync.Once
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewMonitor constructs a monitor. It does not start the loop.
func NewMonitor(store domain.SampleStore, notifier notify.Notifier, cfg Config, opts ...Option) *Monitor {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Monitor{
		store:    store,
		notifier: notifier,
		cfg:      cfg.withDefaults(),
		clock:    domain.SystemClock{},
		logger:   zap.NewNop(),
		metrics:  nopRecorder{},
		nudges:   make(chan struct{}, 1),
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.notifier == nil {
		m.notifier = notify.Nop{}
	}
	return m
}

// Start launches the background loop. Calling Start more than once has no effect.
func (m *Monitor) Start() {
	m.startOnce.Do(func() {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			m.Run(m.ctx)
		}()
	})
}

// Stop cancels the loop and waits for the in-flight sweep to finish or ctx to expire.
func (m *Monitor) Stop(ctx context.Context) error {
	m.cancel()
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Nudge asks the loop to sweep early if NudgeInterval has passed since the
// last sweep. It never blocks.
func (m *Monitor) Nudge() {
	select {
	case m.nudges <- struct{}{}:
	default:
	}
}

// LastReport returns the most recent sweep report.
func (m *Monitor) LastReport() (Report, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.last == nil {
		return Report{}, false
	}
	r := *m.last
	r.Transitioned = append([]string(nil), m.last.Transitioned...)
	return r, true
}

// Run sweeps once immediately, then on every tick and on due nudges until
// ctx is cancelled. A failed sweep is logged and the loop continues.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()
	m.logger.Info("lifecycle monitor started",
		zap.Duration("interval", m.cfg.Interval),
		zap.Duration("nudge_interval", m.cfg.NudgeInterval))
	m.runOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			m.logger.Info("lifecycle monitor stopped")
			return
		case <-ticker.C:
			m.runOnce(ctx)
		case <-m.nudges:
			if m.nudgeDue() {
				m.runOnce(ctx)
			}
		}
	}
}

func (m *Monitor) nudgeDue() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastSweep.IsZero() || m.clock.Now().Sub(m.lastSweep) >= m.cfg.NudgeInterval
}

func (m *Monitor) runOnce(ctx context.Context) {
	sweepCtx, cancel := context.WithTimeout(ctx, m.cfg.SweepTimeout)
	defer cancel()
	_, _ = m.Sweep(sweepCtx)
}

// Sweep performs one pass: find In Process samples whose deadline has
// passed and move each to Ready for Pickup with a conditional update.
// Per-sample failures are counted and skipped; a failing query aborts the
// pass and is returned. A panic inside the pass is recovered and reported
// as an internal error.
func (m *Monitor) Sweep(ctx context.Context) (report Report, err error) {
	started := m.clock.Now().UTC()
	report = Report{StartedAt: started, Transitioned: []string{}}
	defer func() {
		if r := recover(); r != nil {
			err = domain.Errorf(domain.KindInternal, "sweep", "panic: %v", r)
			report.Error = err.Error()
			m.logger.Error("lifecycle sweep panicked", zap.Any("panic", r), zap.Stack("stack"))
		}
		report.Duration = m.clock.Now().Sub(started)
		m.metrics.SweepCompleted(report.Error != "", len(report.Transitioned), report.Skipped, report.Failed, report.Duration)
		m.mu.Lock()
		m.lastSweep = started
		r := report
		m.last = &r
		m.mu.Unlock()
	}()

	now := started
	due, err := m.store.Find(ctx, domain.SampleFilter{
		Statuses: []domain.Status{domain.StatusInProcess},
		DueBy:    &now,
	})
	if err != nil {
		err = domain.Wrap(domain.KindUpstreamUnavailable, "find due samples", err)
		report.Error = err.Error()
		m.logger.Error("lifecycle sweep aborted", zap.Error(err))
		if m.cfg.NotifyOnFailure {
			m.alert(ctx, notify.SweepFailed(started, err))
		}
		return report, err
	}
	report.Candidates = len(due)

	for _, sample := range due {
		if err := ctx.Err(); err != nil {
			m.logger.Warn("lifecycle sweep interrupted", zap.Error(err), zap.Int("remaining", len(due)-len(report.Transitioned)-report.Skipped-report.Failed))
			break
		}
		switch m.advance(ctx, sample) {
		case outcomeTransitioned:
			report.Transitioned = append(report.Transitioned, sample.ChipID)
		case outcomeSkipped:
			report.Skipped++
		case outcomeFailed:
			report.Failed++
		}
	}
	if report.Candidates > 0 {
		m.logger.Info("lifecycle sweep finished",
			zap.Int("candidates", report.Candidates),
			zap.Int("transitioned", len(report.Transitioned)),
			zap.Int("skipped", report.Skipped),
			zap.Int("failed", report.Failed))
	}
	return report, nil
}

// alert delivers msg even when ctx already expired, which is the usual
// state after a store that stopped answering.
func (m *Monitor) alert(ctx context.Context, msg notify.Message) {
	alertCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), alertTimeout)
	defer cancel()
	if err := m.notifier.Notify(alertCtx, msg); err != nil {
		m.logger.Warn("sweep failure notification failed", zap.Error(err))
	}
}

type outcome int

const (
	outcomeTransitioned outcome = iota
	outcomeSkipped
	outcomeFailed
)

func (m *Monitor) advance(ctx context.Context, sample domain.Sample) outcome {
	log := m.logger.With(zap.String("chip_id", sample.ChipID))
	if err := domain.CheckTransition(sample.ChipID, domain.StatusInProcess, domain.StatusReadyForPickup); err != nil {
		log.Error("transition rejected", zap.Error(err))
		return outcomeFailed
	}
	ready := domain.StatusReadyForPickup
	res, err := m.store.UpdateOne(ctx,
		domain.SampleFilter{ChipID: sample.ChipID, Statuses: []domain.Status{domain.StatusInProcess}},
		domain.SamplePatch{Status: &ready},
	)
	if err != nil {
		log.Error("transition update failed", zap.Error(err))
		return outcomeFailed
	}
	if res.Modified != 1 {
		log.Debug("sample already advanced elsewhere")
		return outcomeSkipped
	}
	log.Info("sample ready for pickup")
	sample.Status = ready
	if err := m.notifier.Notify(ctx, notify.SampleReady(sample)); err != nil {
		log.Warn("pickup notification failed", zap.Error(err))
	}
	return outcomeTransitioned
}
