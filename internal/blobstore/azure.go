package blobstore

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"

	"github.com/dpaw/resource-tracking/internal/logging"
)

// AzureClient backs Client with the production Azure Blob Storage SDK.
type AzureClient struct {
	client    *azblob.Client
	container string
}

// NewAzureClient builds a Client from an Azure Storage connection string,
// the credential form named in RESOURCE_TRACKING_STORAGE_CONNECTION_STRING
// / AZURE_STORAGE_CONNECTION_STRING.
func NewAzureClient(connectionString, container string) (*AzureClient, error) {
	client, err := azblob.NewClientFromConnectionString(connectionString, nil)
	if err != nil {
		return nil, fmt.Errorf("creating azure blob client: %w", err)
	}
	return &AzureClient{client: client, container: container}, nil
}

// Blob returns a handle for path inside the client's container.
func (c *AzureClient) Blob(path string) Blob {
	return &azureBlob{client: c.client, container: c.container, path: path}
}

// List returns every blob name with the given prefix.
func (c *AzureClient) List(ctx context.Context, prefix string) ([]string, error) {
	var names []string
	pager := c.client.NewListBlobsFlatPager(c.container, &azblob.ListBlobsFlatOptions{
		Prefix: &prefix,
	})
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing blobs under %s: %w", prefix, err)
		}
		for _, item := range page.Segment.BlobItems {
			if item.Name != nil {
				names = append(names, *item.Name)
			}
		}
	}
	return names, nil
}

type azureBlob struct {
	client    *azblob.Client
	container string
	path      string
}

var _ Blob = (*azureBlob)(nil)

func (b *azureBlob) Path() string { return b.path }

func (b *azureBlob) Exists(ctx context.Context) (bool, error) {
	_, err := b.client.ServiceClient().NewContainerClient(b.container).NewBlobClient(b.path).GetProperties(ctx, nil)
	if err == nil {
		return true, nil
	}
	if bloberror.HasCode(err, bloberror.BlobNotFound) {
		return false, nil
	}
	return false, fmt.Errorf("checking blob existence %s: %w", b.path, err)
}

func (b *azureBlob) Read(ctx context.Context) ([]byte, error) {
	resp, err := b.client.DownloadStream(ctx, b.container, b.path, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return nil, ErrBlobNotFound
		}
		return nil, fmt.Errorf("downloading blob %s: %w", b.path, err)
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

func (b *azureBlob) Download(ctx context.Context, localPath string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(localPath); err == nil {
			return fmt.Errorf("download %s: %s already exists", b.path, localPath)
		}
	}

	data, err := b.Read(ctx)
	if err != nil {
		return err
	}
	if err := os.WriteFile(localPath, data, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", localPath, err)
	}
	return nil
}

func (b *azureBlob) Update(ctx context.Context, data []byte) error {
	if data == nil {
		return b.Delete(ctx)
	}
	_, err := b.client.UploadBuffer(ctx, b.container, b.path, data, &azblob.UploadBufferOptions{})
	if err != nil {
		return fmt.Errorf("uploading blob %s: %w", b.path, err)
	}
	logging.Named(logging.LoggerStorage).Debugf("uploaded blob %s (%d bytes)", b.path, len(data))
	return nil
}

func (b *azureBlob) Delete(ctx context.Context) error {
	_, err := b.client.DeleteBlob(ctx, b.container, b.path, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return nil
		}
		return fmt.Errorf("deleting blob %s: %w", b.path, err)
	}
	return nil
}

// ErrBlobNotFound is returned by Read when the blob has no content.
var ErrBlobNotFound = fmt.Errorf("blob not found")
