package blob

import (
	"context"
	"io"
	"log/slog"
	"sort"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/hashicorp/go-cleanhttp"
	"github.com/m-mizutani/goerr/v2"
)

// Azure stores objects in an Azure Blob Storage container.
type Azure struct {
	client    *azblob.Client
	container string
	logger    *slog.Logger
}

// NewAzure creates an Azure store. The container must already exist.
func NewAzure(connectionString, container string, logger *slog.Logger) (*Azure, error) {
	if container == "" {
		return nil, goerr.New("azure container required")
	}

	client, err := azblob.NewClientFromConnectionString(connectionString, &azblob.ClientOptions{
		ClientOptions: azcore.ClientOptions{Transport: cleanhttp.DefaultPooledClient()},
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create storage client")
	}

	return &Azure{
		client:    client,
		container: container,
		logger:    logger,
	}, nil
}

func (a *Azure) Upload(ctx context.Context, key string, r io.Reader) error {
	if err := validateKey(key); err != nil {
		return err
	}

	if _, err := a.client.UploadStream(ctx, a.container, key, r, nil); err != nil {
		return goerr.Wrap(err, "failed to upload blob", goerr.V("key", key))
	}
	a.logger.Debug("uploaded blob", "key", key)
	return nil
}

func (a *Azure) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}

	resp, err := a.client.DownloadStream(ctx, a.container, key, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return nil, goerr.Wrap(ErrNotFound, "no such object", goerr.V("key", key))
		}
		return nil, goerr.Wrap(err, "failed to download blob", goerr.V("key", key))
	}
	return resp.Body, nil
}

func (a *Azure) Exists(ctx context.Context, key string) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}

	blobClient := a.client.
		ServiceClient().
		NewContainerClient(a.container).
		NewBlobClient(key)

	if _, err := blobClient.GetProperties(ctx, nil); err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return false, nil
		}
		return false, goerr.Wrap(err, "failed to check blob existence", goerr.V("key", key))
	}
	return true, nil
}

func (a *Azure) List(ctx context.Context, prefix string) ([]string, error) {
	pager := a.client.NewListBlobsFlatPager(a.container, &azblob.ListBlobsFlatOptions{
		Prefix: &prefix,
	})

	var keys []string
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to list blobs", goerr.V("prefix", prefix))
		}
		for _, item := range page.Segment.BlobItems {
			if item.Name != nil {
				keys = append(keys, *item.Name)
			}
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (a *Azure) Delete(ctx context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}

	if _, err := a.client.DeleteBlob(ctx, a.container, key, nil); err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return goerr.Wrap(ErrNotFound, "no such object", goerr.V("key", key))
		}
		return goerr.Wrap(err, "failed to delete blob", goerr.V("key", key))
	}
	return nil
}
