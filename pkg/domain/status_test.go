package domain

import "testing"

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to Status
		want     bool
	}{
		{StatusRegistered, StatusInProcess, true},
		{StatusInProcess, StatusReadyForPickup, true},
		{StatusReadyForPickup, StatusPickedUp, true},
		{StatusPickedUp, StatusComplete, true},
		{StatusInProcess, StatusInProcess, true},
		{StatusRegistered, StatusReadyForPickup, false},
		{StatusComplete, StatusInProcess, false},
		{StatusReadyForPickup, StatusInProcess, false},
		{StatusInProcess, Status("Lost"), false},
	}
	for _, tc := range cases {
		if got := CanTransition(tc.from, tc.to); got != tc.want {
			t.Fatalf("CanTransition(%q, %q) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestCheckTransitionKind(t *testing.T) {
	err := CheckTransition("A1", StatusComplete, StatusRegistered)
	if err == nil {
		t.Fatalf("expected error")
	}
	if KindOf(err) != KindInvalidTransition {
		t.Fatalf("unexpected kind %q", KindOf(err))
	}
	if err := CheckTransition("A1", StatusRegistered, StatusInProcess); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestParseStatus(t *testing.T) {
	for _, s := range Statuses() {
		got, err := ParseStatus(string(s))
		if err != nil || got != s {
			t.Fatalf("ParseStatus(%q) = %q, %v", s, got, err)
		}
	}
	if _, err := ParseStatus("in process"); KindOf(err) != KindInvalid {
		t.Fatalf("expected invalid kind, got %v", err)
	}
	if !StatusComplete.Terminal() || StatusInProcess.Terminal() {
		t.Fatalf("terminal set mismatch")
	}
}
