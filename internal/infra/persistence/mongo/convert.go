package mongo

import (
	"strconv"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"onebreath/pkg/domain"
)

// sampleDoc decodes loosely typed fields as raw values so legacy documents
// (Decimal128 numbers, ISO string dates, numeric batch numbers) still load.
type sampleDoc struct {
	ChipID                 string        `bson:"chip_id"`
	Status                 string        `bson:"status"`
	Timestamp              bson.RawValue `bson:"timestamp"`
	ExpectedCompletionTime bson.RawValue `bson:"expected_completion_time"`
	Location               bson.RawValue `bson:"location"`
	SampleType             bson.RawValue `bson:"sample_type"`
	PatientID              bson.RawValue `bson:"patient_id"`
	Notes                  bson.RawValue `bson:"notes"`
	BatchNumber            bson.RawValue `bson:"batch_number"`
	MfgDate                bson.RawValue `bson:"mfg_date"`
	FinalVolume            bson.RawValue `bson:"final_volume"`
	AverageCO2             bson.RawValue `bson:"average_co2"`
	Error                  bson.RawValue `bson:"error"`
	DocumentURLs           []string      `bson:"document_urls"`
}

func (d sampleDoc) toDomain() domain.Sample {
	s := domain.Sample{
		ChipID:                 d.ChipID,
		Status:                 domain.Status(d.Status),
		ExpectedCompletionTime: timeValue(d.ExpectedCompletionTime),
		Location:               stringValue(d.Location),
		SampleType:             stringValue(d.SampleType),
		PatientID:              stringValue(d.PatientID),
		Notes:                  stringValue(d.Notes),
		BatchNumber:            stringValue(d.BatchNumber),
		MfgDate:                timeValue(d.MfgDate),
		FinalVolume:            numberValue(d.FinalVolume),
		AverageCO2:             numberValue(d.AverageCO2),
		Error:                  stringValue(d.Error),
		DocumentURLs:           d.DocumentURLs,
	}
	if ts := timeValue(d.Timestamp); ts != nil {
		s.Timestamp = *ts
	}
	return s
}

var legacyLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseLegacyTime(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	for _, layout := range legacyLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

func timeValue(rv bson.RawValue) *time.Time {
	switch rv.Type {
	case bson.TypeDateTime:
		t := rv.Time().UTC()
		return &t
	case bson.TypeString:
		if t, ok := parseLegacyTime(rv.StringValue()); ok {
			return &t
		}
	}
	return nil
}

func numberValue(rv bson.RawValue) *float64 {
	var f float64
	switch rv.Type {
	case bson.TypeDouble:
		f = rv.Double()
	case bson.TypeInt32:
		f = float64(rv.Int32())
	case bson.TypeInt64:
		f = float64(rv.Int64())
	case bson.TypeDecimal128:
		v, ok := decimalToFloat(rv.Decimal128())
		if !ok {
			return nil
		}
		f = v
	case bson.TypeString:
		v, err := strconv.ParseFloat(strings.TrimSpace(rv.StringValue()), 64)
		if err != nil {
			return nil
		}
		f = v
	default:
		return nil
	}
	return &f
}

func stringValue(rv bson.RawValue) string {
	switch rv.Type {
	case bson.TypeString:
		return rv.StringValue()
	case bson.TypeInt32, bson.TypeInt64, bson.TypeDouble, bson.TypeDecimal128:
		if f := numberValue(rv); f != nil {
			return strconv.FormatFloat(*f, 'f', -1, 64)
		}
	case bson.TypeDateTime:
		return rv.Time().UTC().Format(time.RFC3339)
	}
	return ""
}

func decimalToFloat(d primitive.Decimal128) (float64, bool) {
	f, err := strconv.ParseFloat(d.String(), 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// normalizeDocument converts driver types into JSON-friendly values:
// Decimal128 to float64, DateTime to RFC 3339, ObjectID to hex.
func normalizeDocument(doc bson.M) domain.Record {
	out := make(domain.Record, len(doc))
	for k, v := range doc {
		out[k] = normalizeValue(v)
	}
	return out
}

func normalizeValue(v any) any {
	switch val := v.(type) {
	case primitive.Decimal128:
		if f, ok := decimalToFloat(val); ok {
			return f
		}
		return val.String()
	case primitive.DateTime:
		return val.Time().UTC().Format(time.RFC3339Nano)
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano)
	case primitive.ObjectID:
		return val.Hex()
	case int32:
		return float64(val)
	case int64:
		return float64(val)
	case bson.M:
		return normalizeDocument(val)
	case bson.D:
		return normalizeDocument(val.Map())
	case bson.A:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalizeValue(item)
		}
		return out
	default:
		return v
	}
}
