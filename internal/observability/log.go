// Package observability wires structured logging and Prometheus metrics.
package observability

import (
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"onebreath/internal/config"
)

const defaultLogHistory = 1000

// LogEntry is a captured log record served by the admin log endpoints.
type LogEntry struct {
	Time       time.Time      `json:"time"`
	Level      string         `json:"level"`
	Message    string         `json:"message"`
	Component  string         `json:"component,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// NewLogger builds a zap logger that writes to out (stderr when nil) and
// also records every entry in the returned sink.
func NewLogger(cfg config.LoggingConfig, out zapcore.WriteSyncer) (*zap.Logger, *LogSink, error) {
	level, err := zapcore.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.Level)))
	if err != nil {
		return nil, nil, err
	}
	if out == nil {
		out = zapcore.Lock(os.Stderr)
	}
	var enc zapcore.Encoder
	if cfg.Format == "console" {
		ec := zap.NewDevelopmentEncoderConfig()
		ec.EncodeLevel = zapcore.CapitalColorLevelEncoder
		enc = zapcore.NewConsoleEncoder(ec)
	} else {
		ec := zap.NewProductionEncoderConfig()
		ec.TimeKey = "time"
		ec.EncodeTime = zapcore.ISO8601TimeEncoder
		enc = zapcore.NewJSONEncoder(ec)
	}
	sink := NewLogSink(cfg.History)
	core := zapcore.NewTee(
		zapcore.NewCore(enc, out, level),
		sink.Core(level),
	)
	return zap.New(core, zap.AddCaller()), sink, nil
}

// LogSink keeps the most recent entries in memory and fans them out to
// subscribers. Slow subscribers drop entries rather than block logging.
type LogSink struct {
	mu      sync.RWMutex
	max     int
	history []LogEntry
	subs    map[int]chan LogEntry
	nextSub int
}

// NewLogSink returns a sink retaining up to max entries.
func NewLogSink(max int) *LogSink {
	if max <= 0 {
		max = defaultLogHistory
	}
	return &LogSink{max: max, subs: make(map[int]chan LogEntry)}
}

// Core returns a zapcore.Core that captures entries at or above level.
func (s *LogSink) Core(level zapcore.LevelEnabler) zapcore.Core {
	return &captureCore{LevelEnabler: level, sink: s}
}

// Entries returns captured entries newer than since at or above minLevel.
// A zero since returns everything retained.
func (s *LogSink) Entries(since time.Time, minLevel zapcore.Level) []LogEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []LogEntry
	for _, e := range s.history {
		if !since.IsZero() && e.Time.Before(since) {
			continue
		}
		lvl, err := zapcore.ParseLevel(e.Level)
		if err == nil && lvl < minLevel {
			continue
		}
		out = append(out, e)
	}
	return out
}

// Subscribe returns a channel receiving new entries and a cancel func that
// must be called to release it.
func (s *LogSink) Subscribe(buffer int) (<-chan LogEntry, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan LogEntry, buffer)
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.mu.Unlock()
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
			close(ch)
		})
	}
}

func (s *LogSink) capture(entry LogEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, entry)
	if len(s.history) > s.max {
		s.history = s.history[len(s.history)-s.max:]
	}
	for _, ch := range s.subs {
		select {
		case ch <- entry:
		default:
		}
	}
}

type captureCore struct {
	zapcore.LevelEnabler
	sink   *LogSink
	fields []zapcore.Field
}

func (c *captureCore) With(fields []zapcore.Field) zapcore.Core {
	merged := make([]zapcore.Field, 0, len(c.fields)+len(fields))
	merged = append(merged, c.fields...)
	merged = append(merged, fields...)
	return &captureCore{LevelEnabler: c.LevelEnabler, sink: c.sink, fields: merged}
}

func (c *captureCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c *captureCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	enc := zapcore.NewMapObjectEncoder()
	for _, f := range c.fields {
		f.AddTo(enc)
	}
	for _, f := range fields {
		f.AddTo(enc)
	}
	entry := LogEntry{
		Time:      ent.Time.UTC(),
		Level:     ent.Level.String(),
		Message:   ent.Message,
		Component: ent.LoggerName,
	}
	if len(enc.Fields) > 0 {
		entry.Attributes = enc.Fields
	}
	c.sink.capture(entry)
	return nil
}

func (c *captureCore) Sync() error { return nil }
