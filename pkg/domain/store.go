package domain

import "context"

// Record is one analyzed sample as stored by the analysis pipeline.
type Record = map[string]any

// Dataset is the collection of analyzed records summarized by the LLM.
type Dataset = []Record

// SampleStore is the document store holding samples. UpdateOne is a
// conditional update: only records matching filter are patched, atomically
// with respect to concurrent writers. Find returns matches ordered by timestamp.
type SampleStore interface {
	Find(ctx context.Context, filter SampleFilter) ([]Sample, error)
	Get(ctx context.Context, chipID string) (Sample, error)
	Insert(ctx context.Context, sample Sample) error
	UpdateOne(ctx context.Context, filter SampleFilter, patch SamplePatch) (UpdateResult, error)
	// Upsert patches the sample with chipID, creating a Registered sample when absent.
	Upsert(ctx context.Context, chipID string, patch SamplePatch) (UpdateResult, error)
	Close(ctx context.Context) error
}

// AnalysisSource exposes analyzed samples ordered by timestamp.
type AnalysisSource interface {
	AnalyzedRecords(ctx context.Context, limit int) (Dataset, error)
	AddAnalyzed(ctx context.Context, record Record) error
}

// Store is the full persistence surface implemented by every driver.
type Store interface {
	SampleStore
	AnalysisSource
}
