package domain

import "fmt"

// Status is the lifecycle position of a breath sample.
type Status string

// Canonical sample statuses. The string values are persisted and shown to lab staff.
const (
	// StatusRegistered marks a sample whose chip has been scanned but not started.
	StatusRegistered Status = "Registered"
	// StatusInProcess marks a sample being processed; it carries a completion deadline.
	StatusInProcess Status = "In Process"
	// StatusReadyForPickup marks a sample whose processing window has elapsed.
	StatusReadyForPickup Status = "Ready for Pickup"
	// StatusPickedUp marks a sample collected for analysis.
	StatusPickedUp Status = "Picked up. Ready for Analysis"
	// StatusComplete marks a fully analyzed sample.
	StatusComplete Status = "Complete"
)

var statusOrder = []Status{
	StatusRegistered,
	StatusInProcess,
	StatusReadyForPickup,
	StatusPickedUp,
	StatusComplete,
}

// Statuses returns the canonical statuses in lifecycle order.
func Statuses() []Status {
	out := make([]Status, len(statusOrder))
	copy(out, statusOrder)
	return out
}

// DashboardStatuses are the statuses listed on the tracking dashboard.
func DashboardStatuses() []Status {
	return []Status{StatusInProcess, StatusReadyForPickup, StatusPickedUp, StatusComplete}
}

// ParseStatus validates a raw status string.
func ParseStatus(raw string) (Status, error) {
	for _, s := range statusOrder {
		if string(s) == raw {
			return s, nil
		}
	}
	return "", &Error{Kind: KindInvalid, Op: "parse status", Err: fmt.Errorf("unknown status %q", raw)}
}

// Valid reports whether s is one of the canonical statuses.
func (s Status) Valid() bool {
	_, err := ParseStatus(string(s))
	return err == nil
}

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	_, ok := sampleMachine.terminal[s]
	return ok
}

type statusMachine struct {
	label    string
	terminal map[Status]struct{}
	next     map[Status]map[Status]struct{}
}

var sampleMachine = statusMachine{
	label:    "sample",
	terminal: toSet(StatusComplete),
	next: map[Status]map[Status]struct{}{
		StatusRegistered:     toSet(StatusInProcess),
		StatusInProcess:      toSet(StatusReadyForPickup),
		StatusReadyForPickup: toSet(StatusPickedUp),
		StatusPickedUp:       toSet(StatusComplete),
		StatusComplete:       toSet(),
	},
}

// CanTransition reports whether a sample may move from one status to another.
// Writing the same status again is a metadata edit and always allowed.
func CanTransition(from, to Status) bool {
	if !from.Valid() || !to.Valid() {
		return false
	}
	if from == to {
		return true
	}
	_, ok := sampleMachine.next[from][to]
	return ok
}

// CheckTransition returns an invalid_transition error when CanTransition is false.
func CheckTransition(chipID string, from, to Status) error {
	if CanTransition(from, to) {
		return nil
	}
	return &Error{
		Kind: KindInvalidTransition,
		Op:   "transition " + sampleMachine.label,
		Err:  fmt.Errorf("%s cannot move from %q to %q", chipID, from, to),
	}
}

func toSet(values ...Status) map[Status]struct{} {
	out := make(map[Status]struct{}, len(values))
	for _, v := range values {
		out[v] = struct{}{}
	}
	return out
}
