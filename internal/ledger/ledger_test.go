package ledger

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/a3tai/dispatch-sync/internal/blob"
	"github.com/a3tai/dispatch-sync/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock() time.Time {
	return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
}

func newTestLedger(t *testing.T, store blob.Store) *Ledger {
	t.Helper()

	l, err := New(store, t.TempDir(), "Einsaetze", logging.Discard(), WithClock(fixedClock))
	require.NoError(t, err)
	return l
}

func readObject(t *testing.T, store blob.Store, key string) string {
	t.Helper()

	rc, err := store.Download(context.Background(), key)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	return string(data)
}

func TestLedger_GetAbsent(t *testing.T) {
	l := newTestLedger(t, blob.NewMemory())

	var snapshot map[string]string
	found, err := l.Get(context.Background(), "F20230001", NamespaceRegistry, &snapshot)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, snapshot)
}

func TestLedger_PutGet(t *testing.T) {
	ctx := context.Background()
	store := blob.NewMemory()
	l := newTestLedger(t, store)

	in := map[string]string{"event_id": "3485", "eins_ereig": "Brand"}
	require.NoError(t, l.Put(ctx, "F20230001", NamespaceRegistry, in))

	// remote layout <basedir>/<year>/<caseId>/<caseId>_<ns>.json
	assert.JSONEq(t, `{"event_id":"3485","eins_ereig":"Brand"}`,
		readObject(t, store, "Einsaetze/2023/F20230001/F20230001_registry.json"))

	var out map[string]string
	found, err := l.Get(ctx, "F20230001", NamespaceRegistry, &out)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, in, out)

	// namespaces are separate
	found, err = l.Get(ctx, "F20230001", NamespacePDF, &out)
	require.NoError(t, err)
	assert.False(t, found)
}

// flakyStore fails uploads while down is set.
type flakyStore struct {
	*blob.Memory
	down bool
}

func (s *flakyStore) Upload(ctx context.Context, key string, r io.Reader) error {
	if s.down {
		return errors.New("network down")
	}
	return s.Memory.Upload(ctx, key, r)
}

func TestLedger_PutUploadFailureLeavesNoEntry(t *testing.T) {
	ctx := context.Background()
	store := &flakyStore{Memory: blob.NewMemory(), down: true}
	l := newTestLedger(t, store)

	err := l.Put(ctx, "F20230001", NamespaceRegistry, map[string]string{"event_id": "3485"})
	require.Error(t, err)

	var snapshot map[string]string
	found, err := l.Get(ctx, "F20230001", NamespaceRegistry, &snapshot)
	require.NoError(t, err)
	assert.False(t, found)

	exists, err := store.Exists(ctx, "Einsaetze/2023/F20230001/F20230001_registry.json")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestLedger_PutUploadFailureKeepsStoredEntry(t *testing.T) {
	ctx := context.Background()
	store := &flakyStore{Memory: blob.NewMemory()}
	l := newTestLedger(t, store)

	require.NoError(t, l.Put(ctx, "F20230001", NamespacePDF, map[string]string{"location": "Dorfstrasse 1"}))

	store.down = true
	require.Error(t, l.Put(ctx, "F20230001", NamespacePDF, map[string]string{"location": "Bahnhofstrasse 2"}))

	var fields map[string]string
	found, err := l.Get(ctx, "F20230001", NamespacePDF, &fields)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "Dorfstrasse 1", fields["location"])
}

func TestLedger_GetFallsBackToStoreAndCaches(t *testing.T) {
	ctx := context.Background()
	store := blob.NewMemory()

	writer := newTestLedger(t, store)
	require.NoError(t, writer.Put(ctx, "F20230001", NamespacePDF, map[string]string{"date": "01.02.2023"}))

	cacheDir := t.TempDir()
	reader, err := New(store, cacheDir, "Einsaetze", logging.Discard())
	require.NoError(t, err)

	var out map[string]string
	found, err := reader.Get(ctx, "F20230001", NamespacePDF, &out)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "01.02.2023", out["date"])

	cached, err := os.ReadFile(filepath.Join(cacheDir, "F20230001_pdf.json"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"date":"01.02.2023"}`, string(cached))

	// the cache answers even when the store has lost the entry
	require.NoError(t, store.Delete(ctx, "Einsaetze/2023/F20230001/F20230001_pdf.json"))
	found, err = reader.Get(ctx, "F20230001", NamespacePDF, &out)
	require.NoError(t, err)
	assert.True(t, found)
}

func TestLedger_YearFallback(t *testing.T) {
	ctx := context.Background()
	store := blob.NewMemory()
	l := newTestLedger(t, store)

	require.NoError(t, l.Put(ctx, "FXYZ", NamespacePDF, map[string]string{}))
	exists, err := store.Exists(ctx, "Einsaetze/2024/FXYZ/FXYZ_pdf.json")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestLedger_InvalidCaseID(t *testing.T) {
	l := newTestLedger(t, blob.NewMemory())

	for _, caseID := range []string{"", "../F2023", "F2023/0001", "F 2023"} {
		err := l.Put(context.Background(), caseID, NamespacePDF, map[string]string{})
		assert.ErrorIs(t, err, ErrInvalidCaseID, caseID)
	}
}

func TestLedger_CaseExists(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, blob.NewMemory())

	exists, err := l.CaseExists(ctx, "F20230001")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, l.Put(ctx, "F20230001", NamespacePDF, map[string]string{}))

	exists, err = l.CaseExists(ctx, "F20230001")
	require.NoError(t, err)
	assert.True(t, exists)

	// a case id that is a prefix of another does not match
	exists, err = l.CaseExists(ctx, "F2023000")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestLedger_Archive(t *testing.T) {
	ctx := context.Background()
	store := blob.NewMemory()
	l := newTestLedger(t, store)

	dir := t.TempDir()
	doc := filepath.Join(dir, "Einsatzausdruck_FW.pdf")
	require.NoError(t, os.WriteFile(doc, []byte("first"), 0o600))

	require.NoError(t, l.Archive(ctx, "F20230001", doc))
	assert.Equal(t, "first", readObject(t, store, "Einsaetze/2023/F20230001/Einsatzausdruck_FW.pdf"))

	// archiving again keeps the existing copy
	require.NoError(t, os.WriteFile(doc, []byte("second"), 0o600))
	require.NoError(t, l.Archive(ctx, "F20230001", doc))
	assert.Equal(t, "first", readObject(t, store, "Einsaetze/2023/F20230001/Einsatzausdruck_FW.pdf"))

	scan := filepath.Join(dir, "Einsatzrapport.pdf")
	require.NoError(t, os.WriteFile(scan, []byte("scan"), 0o600))
	require.NoError(t, l.Archive(ctx, "", scan))
	assert.Equal(t, "scan", readObject(t, store, "Einsaetze/Inbox/Einsatzrapport.pdf"))

	assert.Error(t, l.Archive(ctx, "F20230001", filepath.Join(dir, "missing.pdf")))
}

func TestLedger_Inbox(t *testing.T) {
	ctx := context.Background()
	store := blob.NewMemory()
	l := newTestLedger(t, store)

	for key, content := range map[string]string{
		"Einsaetze/Inbox/Einsatzrapport_F20230001.pdf":          "scan 1",
		"Einsaetze/Inbox/Einsatzrapport.pdf":                    "unassigned",
		"Einsaetze/Inbox/notes.txt":                             "x",
		"Einsaetze/2023/F20230002/Einsatzrapport_F20230002.pdf": "archived",
	} {
		require.NoError(t, store.Upload(ctx, key, strings.NewReader(content)))
	}

	items, err := l.InboxReports(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, InboxItem{
		Key:    "Einsaetze/Inbox/Einsatzrapport_F20230001.pdf",
		Name:   "Einsatzrapport_F20230001.pdf",
		CaseID: "F20230001",
	}, items[0])

	dir := t.TempDir()
	local, err := l.FetchInbox(ctx, items[0], dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "Einsatzrapport_F20230001.pdf"), local)
	data, err := os.ReadFile(local)
	require.NoError(t, err)
	assert.Equal(t, "scan 1", string(data))

	require.NoError(t, l.RemoveInbox(ctx, items[0]))
	items, err = l.InboxReports(ctx)
	require.NoError(t, err)
	assert.Empty(t, items)

	// removing twice is harmless
	require.NoError(t, l.RemoveInbox(ctx, InboxItem{Key: "Einsaetze/Inbox/Einsatzrapport_F20230001.pdf"}))
}
