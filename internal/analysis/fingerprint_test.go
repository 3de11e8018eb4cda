package analysis

import (
	"testing"
	"time"

	"onebreath/pkg/domain"
)

func mustFingerprint(t *testing.T, ds domain.Dataset) string {
	t.Helper()
	key, err := Fingerprint(ds)
	if err != nil {
		t.Fatalf("fingerprint: %v", err)
	}
	return key
}

func TestFingerprintIgnoresFieldAndRecordOrder(t *testing.T) {
	a := domain.Dataset{
		{"chip_id": "A1", "average_co2": 4.2, "final_volume": 1.5},
		{"chip_id": "A2", "average_co2": 3.9, "nested": map[string]any{"x": 1.0, "y": []any{"a", "b"}}},
	}
	b := domain.Dataset{
		{"nested": map[string]any{"y": []any{"a", "b"}, "x": 1.0}, "average_co2": 3.9, "chip_id": "A2"},
		{"final_volume": 1.5, "chip_id": "A1", "average_co2": 4.2},
	}
	if mustFingerprint(t, a) != mustFingerprint(t, b) {
		t.Fatalf("equal datasets must share a fingerprint")
	}
}

func TestFingerprintChangesWithValues(t *testing.T) {
	base := domain.Dataset{{"chip_id": "A1", "average_co2": 4.2}}
	key := mustFingerprint(t, base)

	variants := map[string]domain.Dataset{
		"value":         {{"chip_id": "A1", "average_co2": 4.3}},
		"extra field":   {{"chip_id": "A1", "average_co2": 4.2, "error": "E1"}},
		"extra record":  {{"chip_id": "A1", "average_co2": 4.2}, {"chip_id": "A2"}},
		"duplicate":     {{"chip_id": "A1", "average_co2": 4.2}, {"chip_id": "A1", "average_co2": 4.2}},
		"empty":         {},
		"type":          {{"chip_id": "A1", "average_co2": "4.2"}},
		"array element": {{"chip_id": "A1", "average_co2": []any{4.2}}},
		"large integer": {{"chip_id": "A1", "average_co2": 4.2, "seq": int64(1)<<53 + 1}},
	}
	for name, ds := range variants {
		if mustFingerprint(t, ds) == key {
			t.Fatalf("%s: fingerprint did not change", name)
		}
	}
}

func TestFingerprintNormalizesTimesAndIntegers(t *testing.T) {
	utc := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	local := utc.In(time.FixedZone("EST", -5*3600))
	a := domain.Dataset{{"timestamp": utc, "count": 3}}
	b := domain.Dataset{{"timestamp": local, "count": 3.0}}
	if mustFingerprint(t, a) != mustFingerprint(t, b) {
		t.Fatalf("same instant and number should fingerprint equally")
	}
}

func TestFingerprintKeepsLargeIntegersExact(t *testing.T) {
	const big = int64(1) << 53
	a := mustFingerprint(t, domain.Dataset{{"sample_id": big}})
	b := mustFingerprint(t, domain.Dataset{{"sample_id": big + 1}})
	if a == b {
		t.Fatalf("distinct int64 values share fingerprint %s", a)
	}
	if mustFingerprint(t, domain.Dataset{{"n": uint64(big) + 1}}) != mustFingerprint(t, domain.Dataset{{"n": big + 1}}) {
		t.Fatalf("same integer in signed and unsigned form should fingerprint equally")
	}
	if mustFingerprint(t, domain.Dataset{{"n": big + 2}}) != mustFingerprint(t, domain.Dataset{{"n": float64(big + 2)}}) {
		t.Fatalf("integer and exactly equal float should fingerprint equally")
	}
}

func TestFingerprintRejectsUnencodableValues(t *testing.T) {
	_, err := Fingerprint(domain.Dataset{{"bad": func() {}}})
	if err == nil {
		t.Fatalf("expected error")
	}
	if domain.KindOf(err) != domain.KindInvalid {
		t.Fatalf("expected invalid kind, got %q", domain.KindOf(err))
	}
}
