// Package domain defines the breath sample model, its lifecycle table, the
// failure taxonomy, and the persistence contracts used by onebreath.
package domain

import (
	"slices"
	"strings"
	"time"
)

// ProcessingDuration is the default time a sample spends In Process before pickup.
const ProcessingDuration = 2 * time.Hour

// Sample is a single breath collection identified by the chip it was captured on.
type Sample struct {
	ChipID                 string     `json:"chip_id" bson:"chip_id"`
	Status                 Status     `json:"status" bson:"status"`
	Timestamp              time.Time  `json:"timestamp" bson:"timestamp"`
	ExpectedCompletionTime *time.Time `json:"expected_completion_time,omitempty" bson:"expected_completion_time,omitempty"`
	Location               string     `json:"location,omitempty" bson:"location,omitempty"`
	SampleType             string     `json:"sample_type,omitempty" bson:"sample_type,omitempty"`
	PatientID              string     `json:"patient_id,omitempty" bson:"patient_id,omitempty"`
	Notes                  string     `json:"notes,omitempty" bson:"notes,omitempty"`
	BatchNumber            string     `json:"batch_number,omitempty" bson:"batch_number,omitempty"`
	MfgDate                *time.Time `json:"mfg_date,omitempty" bson:"mfg_date,omitempty"`
	FinalVolume            *float64   `json:"final_volume,omitempty" bson:"final_volume,omitempty"`
	AverageCO2             *float64   `json:"average_co2,omitempty" bson:"average_co2,omitempty"`
	Error                  string     `json:"error,omitempty" bson:"error,omitempty"`
	DocumentURLs           []string   `json:"document_urls,omitempty" bson:"document_urls,omitempty"`
}

// Clone returns a deep copy so callers cannot mutate stored state.
func (s Sample) Clone() Sample {
	out := s
	out.ExpectedCompletionTime = cloneTime(s.ExpectedCompletionTime)
	out.MfgDate = cloneTime(s.MfgDate)
	out.FinalVolume = cloneFloat(s.FinalVolume)
	out.AverageCO2 = cloneFloat(s.AverageCO2)
	if s.DocumentURLs != nil {
		out.DocumentURLs = slices.Clone(s.DocumentURLs)
	}
	return out
}

// Due reports whether an In Process sample has reached its deadline at now.
func (s Sample) Due(now time.Time) bool {
	return s.Status == StatusInProcess &&
		s.ExpectedCompletionTime != nil &&
		!s.ExpectedCompletionTime.After(now)
}

// HasPatientForm reports whether any patient document was attached.
func (s Sample) HasPatientForm() bool { return len(s.DocumentURLs) > 0 }

// NewSample prepares a sample for registration. Samples registered directly
// into In Process get their deadline immediately.
func NewSample(chipID string, status Status, now time.Time, processing time.Duration) (Sample, error) {
	chipID = strings.TrimSpace(chipID)
	if chipID == "" {
		return Sample{}, Errorf(KindInvalid, "register sample", "chip_id is required")
	}
	if status == "" {
		status = StatusRegistered
	}
	if status != StatusRegistered && status != StatusInProcess {
		return Sample{}, Errorf(KindInvalidTransition, "register sample", "new samples start as %q or %q, got %q", StatusRegistered, StatusInProcess, status)
	}
	s := Sample{ChipID: chipID, Status: status, Timestamp: now.UTC()}
	if status == StatusInProcess {
		s.ExpectedCompletionTime = Deadline(now, processing)
	}
	return s, nil
}

// Deadline computes expected_completion_time for a sample entering In Process at now.
func Deadline(now time.Time, processing time.Duration) *time.Time {
	if processing <= 0 {
		processing = ProcessingDuration
	}
	d := now.UTC().Add(processing)
	return &d
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}
