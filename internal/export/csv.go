// Package export renders completed samples as CSV and writes compressed
// database backups to blob storage.
package export

import (
	"encoding/csv"
	"io"
	"strconv"
	"time"

	"onebreath/pkg/domain"
)

// CompletedColumns is the header row of the completed-samples dataset.
var CompletedColumns = []string{
	"Date",
	"Chip ID",
	"Batch",
	"Mfg. Date",
	"Patient ID",
	"Final Volume (mL)",
	"Avg. CO2 (%)",
	"Error Code",
	"Patient Form Uploaded",
}

const (
	shortDate    = "01/02/06"
	notAvailable = "N/A"
)

// CompletedFileName is the attachment name used for downloads.
const CompletedFileName = "completed_samples.csv"

// WriteCompletedCSV writes one row per sample in the given order.
func WriteCompletedCSV(w io.Writer, samples []domain.Sample) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(CompletedColumns); err != nil {
		return err
	}
	for _, s := range samples {
		if err := writer.Write(completedRow(s)); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func completedRow(s domain.Sample) []string {
	form := "No"
	if s.HasPatientForm() {
		form = "Yes"
	}
	return []string{
		formatDate(&s.Timestamp),
		s.ChipID,
		orNA(s.BatchNumber),
		formatDate(s.MfgDate),
		orNA(s.PatientID),
		formatNumber(s.FinalVolume),
		formatNumber(s.AverageCO2),
		orNA(s.Error),
		form,
	}
}

func formatDate(t *time.Time) string {
	if t == nil || t.IsZero() {
		return notAvailable
	}
	return t.UTC().Format(shortDate)
}

func formatNumber(v *float64) string {
	if v == nil {
		return notAvailable
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

func orNA(v string) string {
	if v == "" {
		return notAvailable
	}
	return v
}
