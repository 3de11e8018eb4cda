// Package gcs implements the blob store on Google Cloud Storage.
package gcs

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sort"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"onebreath/internal/blob/core"
	"onebreath/pkg/domain"
)

var _ core.Store = (*Store)(nil)

// Config holds construction parameters. An empty CredentialsFile uses
// application default credentials; STORAGE_EMULATOR_HOST is honoured by the
// client library.
type Config struct {
	Bucket          string
	CredentialsFile string
	Endpoint        string
}

// Store keeps objects in one bucket.
type Store struct {
	client *storage.Client
	bucket *storage.BucketHandle
	name   string
}

// New opens a client for cfg.Bucket.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, domain.Errorf(domain.KindInvalid, "open gcs store", "bucket required")
	}
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, domain.Wrap(domain.KindUpstreamUnavailable, "open gcs client", err)
	}
	return &Store{client: client, bucket: client.Bucket(cfg.Bucket), name: cfg.Bucket}, nil
}

// Close releases the client.
func (s *Store) Close() error { return s.client.Close() }

// Driver implements core.Store.
func (s *Store) Driver() core.Driver { return core.DriverGCS }

// Put implements core.Store. Create-only writes use a DoesNotExist precondition.
func (s *Store) Put(ctx context.Context, key string, r io.Reader, opts core.PutOptions) (core.Info, error) {
	k, err := core.ValidateKey(key)
	if err != nil {
		return core.Info{}, err
	}
	obj := s.bucket.Object(k)
	if !opts.Overwrite {
		obj = obj.If(storage.Conditions{DoesNotExist: true})
	}
	w := obj.NewWriter(ctx)
	w.ContentType = opts.ContentType
	w.Metadata = core.CloneMetadata(opts.Metadata)
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return core.Info{}, mapErr("write object", k, err)
	}
	if err := w.Close(); err != nil {
		return core.Info{}, mapErr("write object", k, err)
	}
	return toInfo(w.Attrs()), nil
}

// Get implements core.Store.
func (s *Store) Get(ctx context.Context, key string) (core.Info, io.ReadCloser, error) {
	info, err := s.Head(ctx, key)
	if err != nil {
		return core.Info{}, nil, err
	}
	rc, err := s.bucket.Object(key).NewReader(ctx)
	if err != nil {
		return core.Info{}, nil, mapErr("read object", key, err)
	}
	return info, rc, nil
}

// Head implements core.Store.
func (s *Store) Head(ctx context.Context, key string) (core.Info, error) {
	attrs, err := s.bucket.Object(key).Attrs(ctx)
	if err != nil {
		return core.Info{}, mapErr("stat object", key, err)
	}
	return toInfo(attrs), nil
}

// Delete implements core.Store.
func (s *Store) Delete(ctx context.Context, key string) (bool, error) {
	err := s.bucket.Object(key).Delete(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	if err != nil {
		return false, mapErr("delete object", key, err)
	}
	return true, nil
}

// List implements core.Store.
func (s *Store) List(ctx context.Context, prefix string) ([]core.Info, error) {
	var infos []core.Info
	it := s.bucket.Objects(ctx, &storage.Query{Prefix: prefix})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, domain.Wrap(domain.KindUpstreamUnavailable, "list objects", err)
		}
		infos = append(infos, toInfo(attrs))
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })
	return infos, nil
}

// PresignURL implements core.Store with a V4 signed GET URL.
func (s *Store) PresignURL(_ context.Context, key string, opts core.SignedURLOptions) (string, error) {
	if err := core.CheckMethod(opts); err != nil {
		return "", err
	}
	u, err := s.bucket.SignedURL(key, &storage.SignedURLOptions{
		Scheme:  storage.SigningSchemeV4,
		Method:  http.MethodGet,
		Expires: time.Now().Add(core.PresignExpiry(opts)),
	})
	if err != nil {
		return "", domain.Wrap(domain.KindUpstreamUnavailable, "sign url", err)
	}
	return u, nil
}

func mapErr(op, key string, err error) error {
	if errors.Is(err, storage.ErrObjectNotExist) {
		return core.NotFound(key)
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch gerr.Code {
		case http.StatusPreconditionFailed:
			return core.ErrExists
		case http.StatusNotFound:
			return core.NotFound(key)
		}
	}
	return domain.Wrap(domain.KindUpstreamUnavailable, op, err)
}

func toInfo(attrs *storage.ObjectAttrs) core.Info {
	if attrs == nil {
		return core.Info{}
	}
	return core.Info{
		Key:          attrs.Name,
		Size:         attrs.Size,
		ContentType:  attrs.ContentType,
		ETag:         attrs.Etag,
		Metadata:     core.CloneMetadata(attrs.Metadata),
		LastModified: attrs.Updated,
		URL:          attrs.MediaLink,
	}
}
