package blob

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	azb "github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
)

// AzureUploader writes to one Azure Blob Storage container. Uploads
// overwrite blobs of the same name.
type AzureUploader struct {
	client    *azblob.Client
	container string
	timeout   time.Duration
}

func NewAzureUploader(connectionString, container string, timeout time.Duration) (*AzureUploader, error) {
	client, err := azblob.NewClientFromConnectionString(connectionString, nil)
	if err != nil {
		return nil, fmt.Errorf("azure blob client: %w", err)
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &AzureUploader{client: client, container: container, timeout: timeout}, nil
}

func (a *AzureUploader) Upload(ctx context.Context, name string, data []byte) (string, error) {
	if err := checkName(name); err != nil {
		return "", err
	}
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	contentType := "image/jpeg"
	_, err := a.client.UploadBuffer(ctx, a.container, name, data, &azblob.UploadBufferOptions{
		HTTPHeaders: &azb.HTTPHeaders{BlobContentType: &contentType},
	})
	if err != nil {
		return "", fmt.Errorf("azure upload %s: %w", name, err)
	}
	return a.URL(name), nil
}

func (a *AzureUploader) List(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	var out []string
	pager := a.client.NewListBlobsFlatPager(a.container, nil)
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return out, fmt.Errorf("azure list %s: %w", a.container, err)
		}
		if page.Segment == nil {
			continue
		}
		for _, item := range page.Segment.BlobItems {
			if item != nil && item.Name != nil {
				out = append(out, *item.Name)
			}
		}
	}
	return out, nil
}

func (a *AzureUploader) URL(name string) string {
	return strings.TrimSuffix(a.client.URL(), "/") + "/" + a.container + "/" + name
}
