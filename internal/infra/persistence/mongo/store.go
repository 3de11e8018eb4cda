// Package mongo provides a MongoDB-backed sample store. The lab's existing
// collections are read as-is: numeric fields may be Decimal128 and older
// timestamps may be ISO strings, so documents are normalized on read.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"onebreath/pkg/domain"
)

var _ domain.Store = (*Store)(nil)

// Config holds connection parameters.
type Config struct {
	URI                string
	Database           string
	SamplesCollection  string
	AnalyzedCollection string
	Timeout            time.Duration
}

func (c *Config) applyDefaults() {
	if c.URI == "" {
		c.URI = "mongodb://localhost:27017"
	}
	if c.Database == "" {
		c.Database = "onebreath"
	}
	if c.SamplesCollection == "" {
		c.SamplesCollection = "samples"
	}
	if c.AnalyzedCollection == "" {
		c.AnalyzedCollection = "analyzed"
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
}

// Store implements domain.Store using two MongoDB collections.
type Store struct {
	client   *mongo.Client
	samples  *mongo.Collection
	analyzed *mongo.Collection
	clock    domain.Clock
}

// NewStore connects, pings the primary, and ensures indexes.
func NewStore(ctx context.Context, cfg Config, clock domain.Clock) (*Store, error) {
	cfg.applyDefaults()
	if clock == nil {
		clock = domain.SystemClock{}
	}
	opts := options.Client().
		ApplyURI(cfg.URI).
		SetServerSelectionTimeout(cfg.Timeout).
		SetConnectTimeout(cfg.Timeout)
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, domain.Wrap(domain.KindUpstreamUnavailable, "connect mongo", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, domain.Wrap(domain.KindUpstreamUnavailable, "ping mongo", err)
	}
	db := client.Database(cfg.Database)
	s := &Store{
		client:   client,
		samples:  db.Collection(cfg.SamplesCollection),
		analyzed: db.Collection(cfg.AnalyzedCollection),
		clock:    clock,
	}
	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	_, err := s.samples.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "chip_id", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "expected_completion_time", Value: 1}}},
	})
	if err != nil {
		return domain.Wrap(domain.KindUpstreamUnavailable, "ensure indexes", err)
	}
	return nil
}

// Close disconnects the client.
func (s *Store) Close(ctx context.Context) error { return s.client.Disconnect(ctx) }

// Find returns samples matching filter ordered by timestamp.
func (s *Store) Find(ctx context.Context, filter domain.SampleFilter) ([]domain.Sample, error) {
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}, {Key: "chip_id", Value: 1}})
	cur, err := s.samples.Find(ctx, filterDoc(filter), opts)
	if err != nil {
		return nil, domain.Wrap(domain.KindUpstreamUnavailable, "find samples", err)
	}
	var docs []sampleDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, domain.Wrap(domain.KindUpstreamUnavailable, "decode samples", err)
	}
	out := make([]domain.Sample, 0, len(docs))
	for _, d := range docs {
		sample := d.toDomain()
		if filter.Matches(sample) {
			out = append(out, sample)
		}
	}
	return out, nil
}

// Get returns the sample with chipID.
func (s *Store) Get(ctx context.Context, chipID string) (domain.Sample, error) {
	var d sampleDoc
	err := s.samples.FindOne(ctx, bson.M{"chip_id": chipID}).Decode(&d)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return domain.Sample{}, domain.ErrNotFound{Entity: "sample", ID: chipID}
	}
	if err != nil {
		return domain.Sample{}, domain.Wrap(domain.KindUpstreamUnavailable, "get sample", err)
	}
	return d.toDomain(), nil
}

// Insert adds a sample; the unique index rejects duplicates.
func (s *Store) Insert(ctx context.Context, sample domain.Sample) error {
	if sample.ChipID == "" {
		return domain.Errorf(domain.KindInvalid, "insert sample", "chip_id is required")
	}
	if _, err := s.samples.InsertOne(ctx, sample); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return domain.ErrDuplicate
		}
		return domain.Wrap(domain.KindUpstreamUnavailable, "insert sample", err)
	}
	return nil
}

// UpdateOne runs a single server-side conditional update.
func (s *Store) UpdateOne(ctx context.Context, filter domain.SampleFilter, patch domain.SamplePatch) (domain.UpdateResult, error) {
	if filter.ChipID == "" {
		return domain.UpdateResult{}, domain.Errorf(domain.KindInvalid, "update sample", "filter requires chip_id")
	}
	update := updateDoc(patch, nil)
	if len(update) == 0 {
		n, err := s.samples.CountDocuments(ctx, filterDoc(filter))
		if err != nil {
			return domain.UpdateResult{}, domain.Wrap(domain.KindUpstreamUnavailable, "update sample", err)
		}
		return domain.UpdateResult{Matched: n}, nil
	}
	res, err := s.samples.UpdateOne(ctx, filterDoc(filter), update)
	if err != nil {
		return domain.UpdateResult{}, domain.Wrap(domain.KindUpstreamUnavailable, "update sample", err)
	}
	return domain.UpdateResult{Matched: res.MatchedCount, Modified: res.ModifiedCount}, nil
}

// Upsert patches chipID, creating a Registered sample when absent.
func (s *Store) Upsert(ctx context.Context, chipID string, patch domain.SamplePatch) (domain.UpdateResult, error) {
	if chipID == "" {
		return domain.UpdateResult{}, domain.Errorf(domain.KindInvalid, "upsert sample", "chip_id is required")
	}
	onInsert := bson.M{"timestamp": s.clock.Now().UTC()}
	if patch.Status == nil {
		onInsert["status"] = string(domain.StatusRegistered)
	}
	res, err := s.samples.UpdateOne(ctx, bson.M{"chip_id": chipID}, updateDoc(patch, onInsert), options.Update().SetUpsert(true))
	if err != nil {
		return domain.UpdateResult{}, domain.Wrap(domain.KindUpstreamUnavailable, "upsert sample", err)
	}
	out := domain.UpdateResult{Matched: res.MatchedCount, Modified: res.ModifiedCount}
	if res.UpsertedCount > 0 {
		out.Modified = 1
	}
	return out, nil
}

// AnalyzedRecords returns analyzed documents ordered by timestamp with
// driver-specific values normalized to plain Go types.
func (s *Store) AnalyzedRecords(ctx context.Context, limit int) (domain.Dataset, error) {
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cur, err := s.analyzed.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, domain.Wrap(domain.KindUpstreamUnavailable, "analyzed records", err)
	}
	var docs []bson.M
	if err := cur.All(ctx, &docs); err != nil {
		return nil, domain.Wrap(domain.KindUpstreamUnavailable, "decode analyzed records", err)
	}
	out := make(domain.Dataset, 0, len(docs))
	for _, d := range docs {
		out = append(out, normalizeDocument(d))
	}
	return out, nil
}

// AddAnalyzed inserts an analyzed record.
func (s *Store) AddAnalyzed(ctx context.Context, record domain.Record) error {
	if _, err := s.analyzed.InsertOne(ctx, record); err != nil {
		return domain.Wrap(domain.KindUpstreamUnavailable, "add analyzed", err)
	}
	return nil
}

func filterDoc(f domain.SampleFilter) bson.M {
	doc := bson.M{}
	if f.ChipID != "" {
		doc["chip_id"] = f.ChipID
	}
	if len(f.Statuses) > 0 {
		statuses := make(bson.A, len(f.Statuses))
		for i, st := range f.Statuses {
			statuses[i] = string(st)
		}
		doc["status"] = bson.M{"$in": statuses}
	}
	if f.DueBy != nil {
		doc["expected_completion_time"] = bson.M{"$lte": f.DueBy.UTC()}
	}
	return doc
}

func updateDoc(p domain.SamplePatch, onInsert bson.M) bson.M {
	set := bson.M{}
	if p.Status != nil {
		set["status"] = string(*p.Status)
	}
	putTime(set, "expected_completion_time", p.ExpectedCompletionTime)
	putString(set, "location", p.Location)
	putString(set, "sample_type", p.SampleType)
	putString(set, "patient_id", p.PatientID)
	putString(set, "notes", p.Notes)
	putString(set, "batch_number", p.BatchNumber)
	putTime(set, "mfg_date", p.MfgDate)
	if p.FinalVolume != nil {
		set["final_volume"] = *p.FinalVolume
	}
	if p.AverageCO2 != nil {
		set["average_co2"] = *p.AverageCO2
	}
	putString(set, "error", p.Error)

	update := bson.M{}
	if len(set) > 0 {
		update["$set"] = set
	}
	if len(p.AddDocumentURLs) > 0 {
		update["$addToSet"] = bson.M{"document_urls": bson.M{"$each": p.AddDocumentURLs}}
	}
	if len(onInsert) > 0 {
		update["$setOnInsert"] = onInsert
	}
	return update
}

func putString(doc bson.M, key string, v *string) {
	if v != nil {
		doc[key] = *v
	}
}

func putTime(doc bson.M, key string, v *time.Time) {
	if v != nil {
		doc[key] = v.UTC()
	}
}

// String implements fmt.Stringer for log fields.
func (c Config) String() string {
	return fmt.Sprintf("mongo(db=%s samples=%s analyzed=%s)", c.Database, c.SamplesCollection, c.AnalyzedCollection)
}
