package domain

import (
	"slices"
	"time"
)

// SampleFilter selects samples. Empty fields match everything.
type SampleFilter struct {
	ChipID   string
	Statuses []Status
	// DueBy matches samples whose expected_completion_time is at or before it.
	DueBy *time.Time
}

// Matches evaluates the filter against a sample.
func (f SampleFilter) Matches(s Sample) bool {
	if f.ChipID != "" && s.ChipID != f.ChipID {
		return false
	}
	if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, s.Status) {
		return false
	}
	if f.DueBy != nil {
		if s.ExpectedCompletionTime == nil || s.ExpectedCompletionTime.After(*f.DueBy) {
			return false
		}
	}
	return true
}

// SamplePatch carries optional field updates. Nil fields are left untouched.
type SamplePatch struct {
	Status                 *Status    `json:"status,omitempty"`
	ExpectedCompletionTime *time.Time `json:"expected_completion_time,omitempty"`
	Location               *string    `json:"location,omitempty"`
	SampleType             *string    `json:"sample_type,omitempty"`
	PatientID              *string    `json:"patient_id,omitempty"`
	Notes                  *string    `json:"notes,omitempty"`
	BatchNumber            *string    `json:"batch_number,omitempty"`
	MfgDate                *time.Time `json:"mfg_date,omitempty"`
	FinalVolume            *float64   `json:"final_volume,omitempty"`
	AverageCO2             *float64   `json:"average_co2,omitempty"`
	Error                  *string    `json:"error,omitempty"`
	// AddDocumentURLs is merged as a set union; existing URLs are never removed.
	AddDocumentURLs []string `json:"add_document_urls,omitempty"`
}

// IsEmpty reports whether the patch sets nothing.
func (p SamplePatch) IsEmpty() bool {
	return p.Status == nil && p.ExpectedCompletionTime == nil && p.Location == nil &&
		p.SampleType == nil && p.PatientID == nil && p.Notes == nil && p.BatchNumber == nil &&
		p.MfgDate == nil && p.FinalVolume == nil && p.AverageCO2 == nil && p.Error == nil &&
		len(p.AddDocumentURLs) == 0
}

// Apply mutates s and reports whether any stored value changed.
func (p SamplePatch) Apply(s *Sample) bool {
	changed := false
	if p.Status != nil && *p.Status != s.Status {
		s.Status = *p.Status
		changed = true
	}
	changed = setTime(&s.ExpectedCompletionTime, p.ExpectedCompletionTime) || changed
	changed = setString(&s.Location, p.Location) || changed
	changed = setString(&s.SampleType, p.SampleType) || changed
	changed = setString(&s.PatientID, p.PatientID) || changed
	changed = setString(&s.Notes, p.Notes) || changed
	changed = setString(&s.BatchNumber, p.BatchNumber) || changed
	changed = setTime(&s.MfgDate, p.MfgDate) || changed
	changed = setFloat(&s.FinalVolume, p.FinalVolume) || changed
	changed = setFloat(&s.AverageCO2, p.AverageCO2) || changed
	changed = setString(&s.Error, p.Error) || changed
	for _, u := range p.AddDocumentURLs {
		if u == "" || slices.Contains(s.DocumentURLs, u) {
			continue
		}
		s.DocumentURLs = append(s.DocumentURLs, u)
		changed = true
	}
	return changed
}

// UpdateResult reports how many records matched a conditional update and how many changed.
type UpdateResult struct {
	Matched  int64
	Modified int64
}

func setString(dst *string, v *string) bool {
	if v == nil || *dst == *v {
		return false
	}
	*dst = *v
	return true
}

func setFloat(dst **float64, v *float64) bool {
	if v == nil || (*dst != nil && **dst == *v) {
		return false
	}
	n := *v
	*dst = &n
	return true
}

func setTime(dst **time.Time, v *time.Time) bool {
	if v == nil || (*dst != nil && (*dst).Equal(*v)) {
		return false
	}
	n := v.UTC()
	*dst = &n
	return true
}
