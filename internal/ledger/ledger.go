// Package ledger records, per case, what has already been extracted and which
// registry record the case belongs to. Entries live in a local cache directory
// in front of a remote blob store.
package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strconv"
	"time"

	"github.com/a3tai/dispatch-sync/internal/blob"
	"github.com/m-mizutani/goerr/v2"
)

// Namespace separates the kinds of data kept per case.
type Namespace string

const (
	// NamespaceRegistry holds the flat registry field map including event_id.
	NamespaceRegistry Namespace = "registry"
	// NamespacePDF holds the fields last extracted from the dispatch PDF.
	NamespacePDF Namespace = "pdf"
)

const inboxDir = "Inbox"

var (
	// ErrInvalidCaseID is returned for case ids that cannot name a directory.
	ErrInvalidCaseID = goerr.New("invalid case id")

	caseIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
	inboxPattern  = regexp.MustCompile(`Einsatzrapport_(F[0-9].*)\.pdf`)
)

// Ledger reads and writes per-case entries.
type Ledger struct {
	store    blob.Store
	cacheDir string
	baseDir  string
	now      func() time.Time
	logger   *slog.Logger
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock replaces time.Now, which supplies the fallback year.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// New creates a ledger caching entries in cacheDir and storing them below
// baseDir in store.
func New(store blob.Store, cacheDir, baseDir string, logger *slog.Logger, opts ...Option) (*Ledger, error) {
	if err := os.MkdirAll(cacheDir, 0o750); err != nil {
		return nil, goerr.Wrap(err, "failed to create cache directory", goerr.V("dir", cacheDir))
	}

	l := &Ledger{
		store:    store,
		cacheDir: cacheDir,
		baseDir:  path.Clean("/" + baseDir)[1:],
		now:      time.Now,
		logger:   logger.With("component", "ledger"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// year returns the year encoded in digits one to four of the case id, or the
// current year when those are not digits.
func (l *Ledger) year(caseID string) string {
	if len(caseID) >= 5 {
		if y, err := strconv.Atoi(caseID[1:5]); err == nil && y > 0 {
			return caseID[1:5]
		}
	}
	return strconv.Itoa(l.now().Year())
}

func (l *Ledger) caseDir(caseID string) string {
	return path.Join(l.baseDir, l.year(caseID), caseID)
}

func (l *Ledger) inboxDir() string {
	return path.Join(l.baseDir, inboxDir)
}

func entryName(caseID string, ns Namespace) string {
	return caseID + "_" + string(ns) + ".json"
}

func checkCaseID(caseID string) error {
	if !caseIDPattern.MatchString(caseID) {
		return goerr.Wrap(ErrInvalidCaseID, "case id is not a plain name", goerr.V("caseID", caseID))
	}
	return nil
}

// Get loads the entry of caseID in ns into v. It reports false when neither
// the cache nor the store holds one.
func (l *Ledger) Get(ctx context.Context, caseID string, ns Namespace, v any) (bool, error) {
	if err := checkCaseID(caseID); err != nil {
		return false, err
	}

	name := entryName(caseID, ns)
	cachePath := filepath.Join(l.cacheDir, name)

	data, err := os.ReadFile(cachePath)
	switch {
	case err == nil:
		l.logger.Debug("ledger entry found in cache", "case_id", caseID, "namespace", ns)
	case errors.Is(err, os.ErrNotExist):
		data, err = l.download(ctx, path.Join(l.caseDir(caseID), name))
		if errors.Is(err, blob.ErrNotFound) {
			l.logger.Debug("no ledger entry", "case_id", caseID, "namespace", ns)
			return false, nil
		}
		if err != nil {
			return false, goerr.Wrap(err, "failed to fetch ledger entry", goerr.V("caseID", caseID), goerr.V("namespace", ns))
		}
		if err := writeFile(cachePath, data); err != nil {
			return false, goerr.Wrap(err, "failed to cache ledger entry", goerr.V("caseID", caseID))
		}
		l.logger.Debug("ledger entry found in store", "case_id", caseID, "namespace", ns)
	default:
		return false, goerr.Wrap(err, "failed to read cached ledger entry", goerr.V("path", cachePath))
	}

	if err := json.Unmarshal(data, v); err != nil {
		return false, goerr.Wrap(err, "corrupt ledger entry", goerr.V("caseID", caseID), goerr.V("namespace", ns))
	}
	return true, nil
}

// Put writes v as the entry of caseID in ns, to the cache first and then to
// the store, replacing what was there. When the upload fails the cached copy
// is dropped, so a later Get falls back to what the store holds.
func (l *Ledger) Put(ctx context.Context, caseID string, ns Namespace, v any) error {
	if err := checkCaseID(caseID); err != nil {
		return err
	}

	data, err := json.Marshal(v)
	if err != nil {
		return goerr.Wrap(err, "failed to encode ledger entry", goerr.V("caseID", caseID), goerr.V("namespace", ns))
	}

	name := entryName(caseID, ns)
	cachePath := filepath.Join(l.cacheDir, name)
	if err := writeFile(cachePath, data); err != nil {
		return goerr.Wrap(err, "failed to cache ledger entry", goerr.V("caseID", caseID))
	}

	key := path.Join(l.caseDir(caseID), name)
	if err := l.store.Upload(ctx, key, bytes.NewReader(data)); err != nil {
		if rmErr := os.Remove(cachePath); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			l.logger.Error("failed to drop cached ledger entry", "path", cachePath, "error", rmErr)
		}
		return goerr.Wrap(err, "failed to store ledger entry", goerr.V("caseID", caseID), goerr.V("key", key))
	}
	l.logger.Info("stored ledger entry", "case_id", caseID, "namespace", ns)
	return nil
}

// CaseExists reports whether anything has been stored for caseID.
func (l *Ledger) CaseExists(ctx context.Context, caseID string) (bool, error) {
	if err := checkCaseID(caseID); err != nil {
		return false, err
	}

	keys, err := l.store.List(ctx, l.caseDir(caseID)+"/")
	if err != nil {
		return false, goerr.Wrap(err, "failed to list case directory", goerr.V("caseID", caseID))
	}
	return len(keys) > 0, nil
}

// Archive uploads the document at localPath into the case directory, or into
// the Inbox when caseID is empty. Documents already archived are left alone.
func (l *Ledger) Archive(ctx context.Context, caseID, localPath string) error {
	dir := l.inboxDir()
	if caseID != "" {
		if err := checkCaseID(caseID); err != nil {
			return err
		}
		dir = l.caseDir(caseID)
	}
	key := path.Join(dir, filepath.Base(localPath))

	exists, err := l.store.Exists(ctx, key)
	if err != nil {
		return goerr.Wrap(err, "failed to check archive", goerr.V("key", key))
	}
	if exists {
		l.logger.Info("document already archived", "case_id", caseID, "key", key)
		return nil
	}

	f, err := os.Open(localPath)
	if err != nil {
		return goerr.Wrap(err, "failed to open document", goerr.V("path", localPath))
	}
	defer f.Close()

	if err := l.store.Upload(ctx, key, f); err != nil {
		return goerr.Wrap(err, "failed to archive document", goerr.V("caseID", caseID), goerr.V("key", key))
	}
	l.logger.Info("archived document", "case_id", caseID, "key", key)
	return nil
}

// InboxItem is a scanned report waiting in the Inbox.
type InboxItem struct {
	Key    string
	Name   string
	CaseID string
}

// InboxReports lists the scanned reports in the Inbox that name a case.
func (l *Ledger) InboxReports(ctx context.Context) ([]InboxItem, error) {
	keys, err := l.store.List(ctx, l.inboxDir()+"/")
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list inbox")
	}

	var items []InboxItem
	for _, key := range keys {
		name := path.Base(key)
		m := inboxPattern.FindStringSubmatch(name)
		if m == nil {
			continue
		}
		items = append(items, InboxItem{Key: key, Name: name, CaseID: m[1]})
	}
	return items, nil
}

// FetchInbox downloads an Inbox item into dir and returns the local path.
func (l *Ledger) FetchInbox(ctx context.Context, item InboxItem, dir string) (string, error) {
	data, err := l.download(ctx, item.Key)
	if err != nil {
		return "", goerr.Wrap(err, "failed to download inbox item", goerr.V("key", item.Key))
	}

	localPath := filepath.Join(dir, item.Name)
	if err := writeFile(localPath, data); err != nil {
		return "", goerr.Wrap(err, "failed to save inbox item", goerr.V("path", localPath))
	}
	return localPath, nil
}

// RemoveInbox deletes a processed item from the Inbox.
func (l *Ledger) RemoveInbox(ctx context.Context, item InboxItem) error {
	if err := l.store.Delete(ctx, item.Key); err != nil && !errors.Is(err, blob.ErrNotFound) {
		return goerr.Wrap(err, "failed to remove inbox item", goerr.V("key", item.Key))
	}
	l.logger.Info("removed inbox item", "case_id", item.CaseID, "key", item.Key)
	return nil
}

func (l *Ledger) download(ctx context.Context, key string) ([]byte, error) {
	rc, err := l.store.Download(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// writeFile replaces path atomically.
func writeFile(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
