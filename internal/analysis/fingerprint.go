// Package analysis produces LLM insights over analyzed samples, memoized by
// dataset fingerprint with a bounded, expiring cache.
package analysis

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"

	"onebreath/pkg/domain"
)

// Fingerprint returns a stable digest of dataset. Field order inside a record
// and record order inside the dataset do not matter; any value change does.
func Fingerprint(dataset domain.Dataset) (string, error) {
	encoded := make([][]byte, 0, len(dataset))
	for i, record := range dataset {
		raw, err := json.Marshal(canonical(record))
		if err != nil {
			return "", domain.Wrap(domain.KindInvalid, "fingerprint", fmt.Errorf("record %d: %w", i, err))
		}
		encoded = append(encoded, raw)
	}
	slices.SortFunc(encoded, bytes.Compare)

	h := xxhash.New()
	var size [8]byte
	binary.BigEndian.PutUint64(size[:], uint64(len(encoded)))
	_, _ = h.Write(size[:])
	for _, raw := range encoded {
		binary.BigEndian.PutUint64(size[:], uint64(len(raw)))
		_, _ = h.Write(size[:])
		_, _ = h.Write(raw)
	}
	return fmt.Sprintf("%016x", h.Sum64()), nil
}

// canonical rewrites values whose JSON form depends on location or container
// type. encoding/json already sorts map keys.
func canonical(v any) any {
	switch t := v.(type) {
	case domain.Record:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = canonical(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = canonical(val)
		}
		return out
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	case *time.Time:
		if t == nil {
			return nil
		}
		return t.UTC().Format(time.RFC3339Nano)
	case int:
		return integer(int64(t))
	case int8:
		return integer(int64(t))
	case int16:
		return integer(int64(t))
	case int32:
		return integer(int64(t))
	case int64:
		return integer(t)
	case uint:
		return unsigned(uint64(t))
	case uint8:
		return unsigned(uint64(t))
	case uint16:
		return unsigned(uint64(t))
	case uint32:
		return unsigned(uint64(t))
	case uint64:
		return unsigned(t)
	default:
		return v
	}
}

// maxExactFloat is the largest magnitude at which every integer has an exact
// float64 form.
const maxExactFloat = 1 << 53

// integer encodes like the float64 a JSON store hands back when that is
// exact, and as the literal digits otherwise.
func integer(v int64) any {
	if v >= -maxExactFloat && v <= maxExactFloat {
		return float64(v)
	}
	return json.Number(strconv.FormatInt(v, 10))
}

func unsigned(v uint64) any {
	if v <= maxExactFloat {
		return float64(v)
	}
	return json.Number(strconv.FormatUint(v, 10))
}
