// Package core defines the blob storage abstraction shared by every backend.
package core

import (
	"context"
	"errors"
	"io"
	"path"
	"regexp"
	"strings"
	"time"

	"onebreath/pkg/domain"
)

// Driver identifies a concrete blob storage backend implementation.
type Driver string

const (
	// DriverFilesystem stores objects under a local directory.
	DriverFilesystem Driver = "fs"
	// DriverS3 talks to AWS S3 or a compatible endpoint such as MinIO.
	DriverS3 Driver = "s3"
	// DriverGCS talks to Google Cloud Storage.
	DriverGCS Driver = "gcs"
	// DriverMemory keeps objects in process memory.
	DriverMemory Driver = "memory"
)

// DefaultPresignExpiry applies when SignedURLOptions.Expiry is unset.
const DefaultPresignExpiry = 2 * time.Hour

// PutOptions specifies optional parameters for Put.
type PutOptions struct {
	ContentType string
	Metadata    map[string]string
	// Overwrite replaces an existing object instead of failing with ErrExists.
	Overwrite bool
}

// SignedURLOptions holds options for generating a pre-signed URL.
type SignedURLOptions struct {
	Method string // GET only
	Expiry time.Duration
}

// Info describes a stored blob.
type Info struct {
	Key          string            `json:"key"`
	Size         int64             `json:"size_bytes"`
	ContentType  string            `json:"content_type,omitempty"`
	ETag         string            `json:"etag,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	LastModified time.Time         `json:"last_modified"`
	URL          string            `json:"url,omitempty"`
}

// Store is a single-bucket object store. Get and Head return an error of
// kind not_found for missing keys; Delete reports (false, nil) instead.
type Store interface {
	Put(ctx context.Context, key string, r io.Reader, opts PutOptions) (Info, error)
	Get(ctx context.Context, key string) (Info, io.ReadCloser, error)
	Head(ctx context.Context, key string) (Info, error)
	Delete(ctx context.Context, key string) (bool, error)
	List(ctx context.Context, prefix string) ([]Info, error)
	PresignURL(ctx context.Context, key string, opts SignedURLOptions) (string, error)
	Driver() Driver
}

var (
	// ErrUnsupported is returned when an optional capability is not available.
	ErrUnsupported = errors.New("blobstore: unsupported operation")
	// ErrExists is returned by Put when the key is taken and Overwrite is false.
	ErrExists = domain.Wrap(domain.KindConflict, "put blob", errors.New("blob already exists"))
)

// NotFound builds the error returned for a missing key.
func NotFound(key string) error {
	return domain.ErrNotFound{Entity: "blob", ID: key}
}

// ValidateKey rejects keys that are empty, absolute or escape the bucket root.
func ValidateKey(key string) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", domain.Errorf(domain.KindInvalid, "validate blob key", "empty key")
	}
	if strings.HasPrefix(key, "/") || strings.HasPrefix(key, `\`) {
		return "", domain.Errorf(domain.KindInvalid, "validate blob key", "absolute key %q", key)
	}
	for _, seg := range strings.Split(strings.ReplaceAll(key, `\`, "/"), "/") {
		if seg == ".." {
			return "", domain.Errorf(domain.KindInvalid, "validate blob key", "key %q escapes root", key)
		}
	}
	return path.Clean(strings.ReplaceAll(key, `\`, "/")), nil
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9_.-]+`)

// SanitizeName reduces a client-supplied file name to a single safe path
// segment: directories are dropped, whitespace becomes underscores and any
// other character outside [A-Za-z0-9_.-] is removed. It returns "" when
// nothing usable remains.
func SanitizeName(name string) string {
	name = strings.ReplaceAll(name, `\`, "/")
	name = path.Base(name)
	name = strings.Join(strings.Fields(name), "_")
	name = unsafeName.ReplaceAllString(name, "")
	name = strings.Trim(name, "._")
	return name
}

// PresignExpiry returns opts.Expiry or the default.
func PresignExpiry(opts SignedURLOptions) time.Duration {
	if opts.Expiry <= 0 {
		return DefaultPresignExpiry
	}
	return opts.Expiry
}

// CheckMethod rejects presign methods other than GET.
func CheckMethod(opts SignedURLOptions) error {
	if opts.Method != "" && !strings.EqualFold(opts.Method, "GET") {
		return ErrUnsupported
	}
	return nil
}

// CloneMetadata copies a metadata map.
func CloneMetadata(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
