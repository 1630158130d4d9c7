package blob

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/a3tai/dispatch-sync/internal/logging"
	"github.com/m-mizutani/goerr/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	require.NoError(t, store.Upload(ctx, "ledger/2023/F20230001/F20230001_pdf.json", strings.NewReader(`{"a":"b"}`)))
	require.NoError(t, store.Upload(ctx, "ledger/2023/F20230001/Einsatzausdruck_FW.pdf", strings.NewReader("pdf")))
	require.NoError(t, store.Upload(ctx, "ledger/Inbox/Einsatzrapport_F20230002.pdf", strings.NewReader("scan")))

	exists, err := store.Exists(ctx, "ledger/2023/F20230001/F20230001_pdf.json")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = store.Exists(ctx, "ledger/2023/F20230001/F20230001_registry.json")
	require.NoError(t, err)
	assert.False(t, exists)

	rc, err := store.Download(ctx, "ledger/2023/F20230001/F20230001_pdf.json")
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, `{"a":"b"}`, string(data))

	keys, err := store.List(ctx, "ledger/2023/F20230001/")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"ledger/2023/F20230001/Einsatzausdruck_FW.pdf",
		"ledger/2023/F20230001/F20230001_pdf.json",
	}, keys)

	require.NoError(t, store.Upload(ctx, "ledger/2023/F20230001/F20230001_pdf.json", strings.NewReader(`{}`)))
	rc, err = store.Download(ctx, "ledger/2023/F20230001/F20230001_pdf.json")
	require.NoError(t, err)
	data, _ = io.ReadAll(rc)
	assert.Equal(t, `{}`, string(data))

	require.NoError(t, store.Delete(ctx, "ledger/Inbox/Einsatzrapport_F20230002.pdf"))
	assert.ErrorIs(t, store.Delete(ctx, "ledger/Inbox/Einsatzrapport_F20230002.pdf"), ErrNotFound)

	_, err = store.Download(ctx, "ledger/Inbox/Einsatzrapport_F20230002.pdf")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, "ledger/Inbox/Einsatzrapport_F20230002.pdf", goerr.Values(err)["key"])
}

func TestValidateKey(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	assert.ErrorIs(t, store.Upload(ctx, "", strings.NewReader("x")), ErrEmptyKey)
	err := store.Upload(ctx, "ledger/../etc/passwd", strings.NewReader("x"))
	assert.ErrorIs(t, err, ErrInvalidKey)
	assert.Equal(t, "ledger/../etc/passwd", goerr.Values(err)["key"])
	assert.NoError(t, store.Upload(ctx, "ledger/a..b.json", strings.NewReader("x")))
}

func TestNew(t *testing.T) {
	store, err := New(context.Background(), Config{Kind: KindMemory}, logging.Discard())
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, store)

	_, err = New(context.Background(), Config{Kind: "ftp"}, logging.Discard())
	assert.Error(t, err)

	_, err = New(context.Background(), Config{Kind: KindWebDAV}, logging.Discard())
	assert.Error(t, err)
}
