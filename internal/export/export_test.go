package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"onebreath/internal/blob"
	"onebreath/internal/config"
	"onebreath/internal/infra/persistence/memory"
	"onebreath/pkg/domain"
)

func ptr[T any](v T) *T { return &v }

func memoryBlobs(t *testing.T) blob.Store {
	t.Helper()
	blobs, err := blob.Open(context.Background(), config.BlobConfig{Driver: "memory"})
	require.NoError(t, err)
	return blobs
}

func TestWriteCompletedCSVFormatsRows(t *testing.T) {
	mfg := time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC)
	samples := []domain.Sample{
		{
			ChipID:       "chip-1",
			Status:       domain.StatusComplete,
			Timestamp:    time.Date(2024, 11, 5, 14, 30, 0, 0, time.UTC),
			BatchNumber:  "B7",
			MfgDate:      &mfg,
			PatientID:    "P-42",
			FinalVolume:  ptr(12.5),
			AverageCO2:   ptr(3.0),
			Error:        "E2",
			DocumentURLs: []string{"https://docs/form.pdf"},
		},
		{
			ChipID:    "chip-2",
			Status:    domain.StatusComplete,
			Timestamp: time.Date(2025, 1, 2, 8, 0, 0, 0, time.UTC),
		},
	}
	var buf bytes.Buffer
	require.NoError(t, WriteCompletedCSV(&buf, samples))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	require.Equal(t, CompletedColumns, rows[0])
	require.Equal(t, []string{"11/05/24", "chip-1", "B7", "03/09/24", "P-42", "12.5", "3", "E2", "Yes"}, rows[1])
	require.Equal(t, []string{"01/02/25", "chip-2", "N/A", "N/A", "N/A", "N/A", "N/A", "N/A", "No"}, rows[2])
}

func TestWriteCompletedCSVHeaderOnlyWhenEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCompletedCSV(&buf, nil))
	require.Equal(t, strings.Join(CompletedColumns, ",")+"\n", buf.String())
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestWriteCompletedCSVReportsWriterError(t *testing.T) {
	err := WriteCompletedCSV(failingWriter{}, []domain.Sample{{ChipID: "c"}})
	require.Error(t, err)
}

func TestBackupStoresGzipSnapshot(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 6, 1, 9, 8, 7, 0, time.UTC)
	clock := domain.ClockFunc(func() time.Time { return now })
	store := memory.NewStore(clock)
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, store.Insert(ctx, domain.Sample{ChipID: id, Status: domain.StatusRegistered, Timestamp: now}))
	}
	blobs := memoryBlobs(t)

	res, err := Backup(ctx, store, blobs, clock)
	require.NoError(t, err)
	require.Equal(t, "database_backups/backup_20240601_090807.json.gz", res.Key)
	require.Equal(t, 3, res.Samples)
	require.Positive(t, res.SizeBytes)

	info, err := blobs.Head(ctx, res.Key)
	require.NoError(t, err)
	require.Equal(t, "application/gzip", info.ContentType)
	require.Equal(t, res.SizeBytes, info.Size)

	restored, err := ReadBackup(ctx, blobs, res.Key)
	require.NoError(t, err)
	require.Len(t, restored, 3)
	require.Equal(t, "a", restored[0].ChipID)
	require.Equal(t, domain.StatusRegistered, restored[2].Status)
}

func TestBackupCustomPrefixAndSameSecondOverwrite(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	clock := domain.ClockFunc(func() time.Time { return now })
	store := memory.NewStore(clock)
	blobs := memoryBlobs(t)
	b := NewBackuper(store, blobs, clock, "nightly", nil)

	first, err := b.Backup(ctx)
	require.NoError(t, err)
	require.Equal(t, "nightly/backup_20240601_000000.json.gz", first.Key)
	require.Zero(t, first.Samples)

	require.NoError(t, store.Insert(ctx, domain.Sample{ChipID: "late", Timestamp: now}))
	second, err := b.Backup(ctx)
	require.NoError(t, err)
	require.Equal(t, first.Key, second.Key)

	restored, err := ReadBackup(ctx, blobs, second.Key)
	require.NoError(t, err)
	require.Len(t, restored, 1)
}

type brokenStore struct{ domain.SampleStore }

func (brokenStore) Find(context.Context, domain.SampleFilter) ([]domain.Sample, error) {
	return nil, errors.New("connection reset")
}

func TestBackupSourceFailureIsUpstreamUnavailable(t *testing.T) {
	blobs := memoryBlobs(t)
	_, err := Backup(context.Background(), brokenStore{}, blobs, nil)
	require.True(t, domain.IsKind(err, domain.KindUpstreamUnavailable), "got %v", err)

	infos, err := blobs.List(context.Background(), "")
	require.NoError(t, err)
	require.Empty(t, infos)
}

func TestReadBackupRejectsPlainJSON(t *testing.T) {
	ctx := context.Background()
	blobs := memoryBlobs(t)
	_, err := blobs.Put(ctx, "database_backups/bad.json.gz", strings.NewReader("[]"), blob.PutOptions{})
	require.NoError(t, err)
	_, err = ReadBackup(ctx, blobs, "database_backups/bad.json.gz")
	require.True(t, domain.IsKind(err, domain.KindInvalid), "got %v", err)

	_, err = ReadBackup(ctx, blobs, "database_backups/missing.json.gz")
	require.True(t, domain.IsKind(err, domain.KindNotFound), "got %v", err)
}
