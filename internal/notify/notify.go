// Package notify delivers staff notifications by email and SMS. Delivery is
// best-effort: callers log failures and never roll back state because of them.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"onebreath/pkg/domain"
)

// Message is a channel-neutral notification.
type Message struct {
	Subject string
	Body    string
}

// Notifier delivers a message to its configured recipients.
type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

// Func adapts a function to Notifier.
type Func func(ctx context.Context, msg Message) error

// Notify calls f.
func (f Func) Notify(ctx context.Context, msg Message) error { return f(ctx, msg) }

// Nop discards messages.
type Nop struct{}

// Notify does nothing.
func (Nop) Notify(context.Context, Message) error { return nil }

// Multi fans a message out to every channel concurrently. Each channel's
// failure is logged; the joined error is returned for the caller's logs.
type Multi struct {
	channels []named
	logger   *zap.Logger
}

type named struct {
	name string
	n    Notifier
}

// NewMulti returns an empty fan-out notifier.
func NewMulti(logger *zap.Logger) *Multi {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Multi{logger: logger}
}

// Add registers a channel under name.
func (m *Multi) Add(name string, n Notifier) *Multi {
	if n != nil {
		m.channels = append(m.channels, named{name: name, n: n})
	}
	return m
}

// Len returns the number of registered channels.
func (m *Multi) Len() int { return len(m.channels) }

// Notify delivers msg on every channel and waits for all of them.
func (m *Multi) Notify(ctx context.Context, msg Message) error {
	errs := make([]error, len(m.channels))
	var g errgroup.Group
	for i, ch := range m.channels {
		g.Go(func() error {
			if err := ch.n.Notify(ctx, msg); err != nil {
				m.logger.Warn("notification failed", zap.String("channel", ch.name), zap.String("subject", msg.Subject), zap.Error(err))
				errs[i] = fmt.Errorf("%s: %w", ch.name, err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// SampleReady builds the pickup notice sent when a sample leaves In Process.
func SampleReady(s domain.Sample) Message {
	return Message{
		Subject: "Sample Ready for Pickup: " + s.ChipID,
		Body: sampleBody("is ready for pickup", s, []string{
			"Please collect the sample and record final volume and average CO2.",
		}),
	}
}

// SampleStarted builds the notice sent when processing begins.
func SampleStarted(s domain.Sample) Message {
	lines := []string{}
	if s.ExpectedCompletionTime != nil {
		lines = append(lines, "Expected completion: "+s.ExpectedCompletionTime.UTC().Format(time.RFC1123))
	}
	return Message{
		Subject: "Sample In Process: " + s.ChipID,
		Body:    sampleBody("has started processing", s, lines),
	}
}

// StatusChanged picks the notice for a status a request just wrote, or
// reports false when that status is not announced.
func StatusChanged(s domain.Sample) (Message, bool) {
	switch s.Status {
	case domain.StatusInProcess:
		return SampleStarted(s), true
	case domain.StatusReadyForPickup:
		return SampleReady(s), true
	default:
		return Message{}, false
	}
}

// SweepFailed builds the operator alert for an aborted lifecycle sweep.
func SweepFailed(at time.Time, err error) Message {
	return Message{
		Subject: "Sample monitor sweep failed",
		Body:    fmt.Sprintf("The lifecycle sweep at %s could not complete: %v", at.UTC().Format(time.RFC3339), err),
	}
}

func sampleBody(what string, s domain.Sample, extra []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Sample %s %s.\n\n", s.ChipID, what)
	fmt.Fprintf(&b, "Chip ID: %s\n", s.ChipID)
	fmt.Fprintf(&b, "Sample type: %s\n", orNA(s.SampleType))
	fmt.Fprintf(&b, "Patient ID: %s\n", orNA(s.PatientID))
	if s.Location != "" {
		fmt.Fprintf(&b, "Location: %s\n", s.Location)
	}
	if !s.Timestamp.IsZero() {
		fmt.Fprintf(&b, "Registered: %s\n", s.Timestamp.UTC().Format(time.RFC1123))
	}
	for _, line := range extra {
		b.WriteString(line)
		b.WriteString("\n")
	}
	return b.String()
}

func orNA(v string) string {
	if strings.TrimSpace(v) == "" {
		return "N/A"
	}
	return v
}

// Log writes messages to the logger; used when no delivery channel is configured.
type Log struct {
	Logger *zap.Logger
}

// Notify logs msg at info level.
func (l Log) Notify(_ context.Context, msg Message) error {
	if l.Logger != nil {
		l.Logger.Info("notification", zap.String("subject", msg.Subject), zap.String("body", msg.Body))
	}
	return nil
}
