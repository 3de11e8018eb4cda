package api

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"onebreath/pkg/domain"
)

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02",
	"01/02/2006",
}

// flexTime accepts RFC 3339 timestamps and the plain dates dashboard forms send.
type flexTime struct{ time.Time }

func (t *flexTime) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	raw = strings.TrimSpace(raw)
	for _, layout := range timeLayouts {
		if v, err := time.Parse(layout, raw); err == nil {
			t.Time = v.UTC()
			return nil
		}
	}
	return domain.Errorf(domain.KindInvalid, "parse time", "unrecognised date %q", raw)
}

// flexFloat accepts JSON numbers and numeric strings.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if s == "" || s == "null" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return domain.Errorf(domain.KindInvalid, "parse number", "not a number: %q", s)
	}
	*f = flexFloat(v)
	return nil
}

// sampleFields are the editable sample attributes shared by update requests.
type sampleFields struct {
	Location    *string    `json:"location"`
	SampleType  *string    `json:"sample_type"`
	PatientID   *string    `json:"patient_id"`
	Notes       *string    `json:"notes"`
	BatchNumber *string    `json:"batch_number"`
	MfgDate     *flexTime  `json:"mfg_date"`
	FinalVolume *flexFloat `json:"final_volume"`
	AverageCO2  *flexFloat `json:"average_co2"`
	Error       *string    `json:"error"`
}

func (f sampleFields) patch() domain.SamplePatch {
	p := domain.SamplePatch{
		Location:    f.Location,
		SampleType:  f.SampleType,
		PatientID:   f.PatientID,
		Notes:       f.Notes,
		BatchNumber: f.BatchNumber,
		Error:       f.Error,
	}
	if f.MfgDate != nil && !f.MfgDate.IsZero() {
		t := f.MfgDate.Time
		p.MfgDate = &t
	}
	if f.FinalVolume != nil {
		v := float64(*f.FinalVolume)
		p.FinalVolume = &v
	}
	if f.AverageCO2 != nil {
		v := float64(*f.AverageCO2)
		p.AverageCO2 = &v
	}
	return p
}
