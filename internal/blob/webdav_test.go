package blob

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/a3tai/dispatch-sync/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/webdav"
)

func newWebDAVStore(t *testing.T) *WebDAV {
	t.Helper()

	srv := httptest.NewServer(&webdav.Handler{
		FileSystem: webdav.NewMemFS(),
		LockSystem: webdav.NewMemLS(),
	})
	t.Cleanup(srv.Close)

	store, err := NewWebDAV(srv.URL, "", "", logging.Discard())
	require.NoError(t, err)
	return store
}

func TestWebDAV(t *testing.T) {
	ctx := context.Background()
	store := newWebDAVStore(t)

	require.NoError(t, store.Upload(ctx, "ledger/2023/F20230001/F20230001_registry.json", strings.NewReader(`{"event_id":"3485"}`)))
	require.NoError(t, store.Upload(ctx, "ledger/2023/F20230001/Einsatzausdruck_FW.pdf", strings.NewReader("pdf")))

	exists, err := store.Exists(ctx, "ledger/2023/F20230001/F20230001_registry.json")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = store.Exists(ctx, "ledger/2023/F20230001/F20230001_pdf.json")
	require.NoError(t, err)
	assert.False(t, exists)

	rc, err := store.Download(ctx, "ledger/2023/F20230001/F20230001_registry.json")
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, `{"event_id":"3485"}`, string(data))

	_, err = store.Download(ctx, "ledger/2023/F20230001/F20230001_pdf.json")
	assert.ErrorIs(t, err, ErrNotFound)

	keys, err := store.List(ctx, "ledger/2023/")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"ledger/2023/F20230001/Einsatzausdruck_FW.pdf",
		"ledger/2023/F20230001/F20230001_registry.json",
	}, keys)

	keys, err = store.List(ctx, "ledger/Inbox/")
	require.NoError(t, err)
	assert.Empty(t, keys)

	require.NoError(t, store.Delete(ctx, "ledger/2023/F20230001/Einsatzausdruck_FW.pdf"))
	assert.ErrorIs(t, store.Delete(ctx, "ledger/2023/F20230001/Einsatzausdruck_FW.pdf"), ErrNotFound)
}
