// Package azure implements storage.Transport against Azure Blob Storage,
// grounded on tempodb/backend/azure's provider-per-subdirectory shape (§4.4).
package azure

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"

	probestorage "github.com/matthew-bram/enterprise-confluent-test-probe-sub006/internal/storage"
)

// Transport wraps an azblob.Client scoped to a storage account.
type Transport struct {
	client *azblob.Client
}

// New builds a Transport against https://<account>.blob.core.windows.net
// using the process's ambient Azure credential (§6.6 storage.azure subtree).
func New(account string) (*Transport, error) {
	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("azure storage: resolving credential: %w", err)
	}
	return newWithCredential(fmt.Sprintf("https://%s.blob.core.windows.net/", account), cred)
}

func newWithCredential(serviceURL string, cred azcore.TokenCredential) (*Transport, error) {
	client, err := azblob.NewClient(serviceURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("azure storage: creating client: %w", err)
	}
	return &Transport{client: client}, nil
}

func (t *Transport) FetchObjects(ctx context.Context, container, prefix string) (<-chan probestorage.Object, <-chan error) {
	objCh := make(chan probestorage.Object)
	errCh := make(chan error, 1)

	go func() {
		defer close(objCh)
		defer close(errCh)

		pager := t.client.NewListBlobsFlatPager(container, &azblob.ListBlobsFlatOptions{Prefix: &prefix})
		for pager.More() {
			page, err := pager.NextPage(ctx)
			if err != nil {
				errCh <- fmt.Errorf("azure storage: listing %s/%s: %w", container, prefix, err)
				return
			}
			for _, item := range page.Segment.BlobItems {
				resp, err := t.client.DownloadStream(ctx, container, *item.Name, nil)
				if err != nil {
					errCh <- fmt.Errorf("azure storage: downloading %s: %w", *item.Name, err)
					return
				}
				data, err := io.ReadAll(resp.Body)
				if resp.Body != nil {
					resp.Body.Close()
				}
				if err != nil {
					errCh <- fmt.Errorf("azure storage: reading %s: %w", *item.Name, err)
					return
				}
				objCh <- probestorage.Object{Key: *item.Name, Data: data}
			}
		}
	}()

	return objCh, errCh
}

func (t *Transport) PutObjects(ctx context.Context, container, prefix string, files map[string][]byte) error {
	for rel, data := range files {
		key := strings.TrimSuffix(prefix, "/") + "/" + rel
		_, err := t.client.UploadBuffer(ctx, container, key, data, nil)
		if err != nil {
			return fmt.Errorf("azure storage: uploading %s: %w", key, err)
		}
	}
	return nil
}
