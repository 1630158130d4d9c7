// Package blob stores ledger files and archived documents in a remote object
// store: WebDAV, S3, Azure Blob Storage or Google Cloud Storage.
package blob

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"

	"github.com/m-mizutani/goerr/v2"
)

var (
	// ErrNotFound indicates the requested object does not exist.
	ErrNotFound = errors.New("object not found")
	// ErrEmptyKey indicates an empty key was provided.
	ErrEmptyKey = errors.New("object key must not be empty")
	// ErrInvalidKey indicates the key contains a path traversal segment.
	ErrInvalidKey = errors.New("object key contains invalid path segment")
)

// Store is the remote file store behind the record ledger. Keys are slash
// separated paths relative to the store root.
type Store interface {
	// Upload writes r to key, replacing any existing object.
	Upload(ctx context.Context, key string, r io.Reader) error
	// Download returns a stream for key. The caller must close it.
	// Returns ErrNotFound if the object does not exist.
	Download(ctx context.Context, key string) (io.ReadCloser, error)
	// Exists reports whether an object exists at key.
	Exists(ctx context.Context, key string) (bool, error)
	// List returns the keys of all objects below prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)
	// Delete removes the object at key. Returns ErrNotFound if it does not exist.
	Delete(ctx context.Context, key string) error
}

// Backend names accepted by Config.Kind.
const (
	KindWebDAV = "webdav"
	KindS3     = "s3"
	KindAzure  = "azblob"
	KindGCS    = "gcs"
	KindMemory = "memory"
)

// Config selects and configures a backend.
type Config struct {
	Kind string

	WebDAVURL      string
	WebDAVUser     string
	WebDAVPassword string `masq:"secret"`

	S3Bucket string
	S3Region string

	AzureConnectionString string `masq:"secret"`
	AzureContainer        string

	GCSBucket string
}

// New creates the configured store.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (Store, error) {
	logger = logger.With("component", "blob", "backend", cfg.Kind)

	switch cfg.Kind {
	case KindWebDAV:
		return NewWebDAV(cfg.WebDAVURL, cfg.WebDAVUser, cfg.WebDAVPassword, logger)
	case KindS3:
		return NewS3(ctx, cfg.S3Bucket, cfg.S3Region, logger)
	case KindAzure:
		return NewAzure(cfg.AzureConnectionString, cfg.AzureContainer, logger)
	case KindGCS:
		return NewGCS(ctx, cfg.GCSBucket, logger)
	case KindMemory:
		return NewMemory(), nil
	default:
		return nil, goerr.New("unknown store kind", goerr.V("kind", cfg.Kind))
	}
}

func validateKey(key string) error {
	if key == "" || key == "/" {
		return ErrEmptyKey
	}
	for _, segment := range strings.Split(key, "/") {
		if segment == ".." {
			return goerr.Wrap(ErrInvalidKey, "rejected object key", goerr.V("key", key))
		}
	}
	return nil
}
