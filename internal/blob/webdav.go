package blob

import (
	"context"
	"io"
	"log/slog"
	"path"
	"sort"
	"strings"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/m-mizutani/goerr/v2"
	"github.com/studio-b12/gowebdav"
)

// WebDAV stores objects as files below a WebDAV collection.
type WebDAV struct {
	client *gowebdav.Client
	logger *slog.Logger
}

// NewWebDAV creates a WebDAV store rooted at url.
func NewWebDAV(url, user, password string, logger *slog.Logger) (*WebDAV, error) {
	if url == "" {
		return nil, goerr.New("webdav url required")
	}

	client := gowebdav.NewClient(url, user, password)
	client.SetTransport(cleanhttp.DefaultPooledTransport())

	return &WebDAV{client: client, logger: logger}, nil
}

func davPath(key string) string {
	return "/" + strings.TrimPrefix(key, "/")
}

func (w *WebDAV) Upload(ctx context.Context, key string, r io.Reader) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	// WriteStream creates missing parent collections
	if err := w.client.WriteStream(davPath(key), r, 0o644); err != nil {
		return goerr.Wrap(err, "failed to upload", goerr.V("key", key))
	}
	w.logger.Debug("uploaded object", "key", key)
	return nil
}

func (w *WebDAV) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rc, err := w.client.ReadStream(davPath(key))
	if err != nil {
		if gowebdav.IsErrNotFound(err) {
			return nil, goerr.Wrap(ErrNotFound, "no such object", goerr.V("key", key))
		}
		return nil, goerr.Wrap(err, "failed to download", goerr.V("key", key))
	}
	return rc, nil
}

func (w *WebDAV) Exists(ctx context.Context, key string) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	if _, err := w.client.Stat(davPath(key)); err != nil {
		if gowebdav.IsErrNotFound(err) {
			return false, nil
		}
		return false, goerr.Wrap(err, "failed to stat", goerr.V("key", key))
	}
	return true, nil
}

// List walks the collection named by prefix. A prefix that is not a collection
// path yields no keys.
func (w *WebDAV) List(ctx context.Context, prefix string) ([]string, error) {
	dir := strings.TrimSuffix(davPath(prefix), "/")
	if dir == "" {
		dir = "/"
	}

	var keys []string
	if err := w.walk(ctx, dir, &keys); err != nil {
		return nil, err
	}
	sort.Strings(keys)
	return keys, nil
}

func (w *WebDAV) walk(ctx context.Context, dir string, keys *[]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	entries, err := w.client.ReadDir(dir)
	if err != nil {
		if gowebdav.IsErrNotFound(err) {
			return nil
		}
		return goerr.Wrap(err, "failed to list", goerr.V("dir", dir))
	}

	for _, entry := range entries {
		full := path.Join(dir, entry.Name())
		if entry.IsDir() {
			if err := w.walk(ctx, full, keys); err != nil {
				return err
			}
			continue
		}
		*keys = append(*keys, strings.TrimPrefix(full, "/"))
	}
	return nil
}

func (w *WebDAV) Delete(ctx context.Context, key string) error {
	exists, err := w.Exists(ctx, key)
	if err != nil {
		return err
	}
	if !exists {
		return goerr.Wrap(ErrNotFound, "no such object", goerr.V("key", key))
	}

	if err := w.client.Remove(davPath(key)); err != nil {
		return goerr.Wrap(err, "failed to delete", goerr.V("key", key))
	}
	return nil
}
