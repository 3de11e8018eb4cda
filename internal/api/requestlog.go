package api

import (
	"sync"
	"time"
)

// RequestEntry is one served request as shown on the admin console.
type RequestEntry struct {
	Time       time.Time `json:"timestamp"`
	RequestID  string    `json:"request_id"`
	Method     string    `json:"method"`
	Path       string    `json:"path"`
	Route      string    `json:"route"`
	Status     int       `json:"status"`
	DurationMS float64   `json:"duration_ms"`
	IP         string    `json:"ip"`
	UserAgent  string    `json:"user_agent"`
}

// RequestLog is a bounded ring of recent requests.
type RequestLog struct {
	mu      sync.RWMutex
	max     int
	entries []RequestEntry
}

// NewRequestLog keeps at most max entries.
func NewRequestLog(max int) *RequestLog {
	if max <= 0 {
		max = 1000
	}
	return &RequestLog{max: max}
}

// Add appends e, evicting the oldest entry when full.
func (l *RequestLog) Add(e RequestEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, e)
	if len(l.entries) > l.max {
		l.entries = l.entries[len(l.entries)-l.max:]
	}
}

// Since returns entries at or after t, oldest first.
func (l *RequestLog) Since(t time.Time) []RequestEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := []RequestEntry{}
	for _, e := range l.entries {
		if !e.Time.Before(t) {
			out = append(out, e)
		}
	}
	return out
}

// Last returns up to n of the newest entries, oldest first.
func (l *RequestLog) Last(n int) []RequestEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	start := 0
	if n >= 0 && len(l.entries) > n {
		start = len(l.entries) - n
	}
	out := make([]RequestEntry, len(l.entries)-start)
	copy(out, l.entries[start:])
	return out
}

// Len returns the number of retained entries.
func (l *RequestLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}
