package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Local summarizes the dataset embedded in the prompt without calling out.
// It keeps the insight endpoint usable in development and tests.
type Local struct{}

// NewLocal returns the offline provider.
func NewLocal() *Local { return &Local{} }

// Name implements Provider.
func (*Local) Name() string { return ProviderLocal }

// Generate reports record counts and the mean of every numeric field found
// in the JSON array that follows the prompt text.
func (*Local) Generate(ctx context.Context, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	start := strings.Index(prompt, "[")
	if start < 0 {
		return "No breath analysis records were provided.", nil
	}
	var records []map[string]any
	if err := json.Unmarshal([]byte(prompt[start:]), &records); err != nil {
		return "", fmt.Errorf("local summary: decode records: %w", err)
	}
	if len(records) == 0 {
		return "No breath analysis records were provided.", nil
	}

	sums := map[string]float64{}
	counts := map[string]int{}
	for _, rec := range records {
		for k, v := range rec {
			if f, ok := v.(float64); ok {
				sums[k] += f
				counts[k]++
			}
		}
	}
	fields := make([]string, 0, len(sums))
	for k := range sums {
		fields = append(fields, k)
	}
	sort.Strings(fields)

	var b strings.Builder
	fmt.Fprintf(&b, "Summary of %d analyzed samples.", len(records))
	for _, k := range fields {
		fmt.Fprintf(&b, "\n- %s: mean %.2f across %d samples", k, sums[k]/float64(counts[k]), counts[k])
	}
	return b.String(), nil
}
