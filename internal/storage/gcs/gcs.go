// Package gcs implements storage.Transport against Google Cloud Storage,
// grounded on tempodb/backend/gcs's provider-per-subdirectory shape (§4.4).
package gcs

import (
	"context"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"

	probestorage "github.com/matthew-bram/enterprise-confluent-test-probe-sub006/internal/storage"
)

// Transport wraps a storage.Client.
type Transport struct {
	client *storage.Client
}

func New(ctx context.Context) (*Transport, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("gcs storage: creating client: %w", err)
	}
	return &Transport{client: client}, nil
}

func (t *Transport) FetchObjects(ctx context.Context, bucket, prefix string) (<-chan probestorage.Object, <-chan error) {
	objCh := make(chan probestorage.Object)
	errCh := make(chan error, 1)

	go func() {
		defer close(objCh)
		defer close(errCh)

		it := t.client.Bucket(bucket).Objects(ctx, &storage.Query{Prefix: prefix})
		for {
			attrs, err := it.Next()
			if err == iterator.Done {
				return
			}
			if err != nil {
				errCh <- fmt.Errorf("gcs storage: listing %s/%s: %w", bucket, prefix, err)
				return
			}
			r, err := t.client.Bucket(bucket).Object(attrs.Name).NewReader(ctx)
			if err != nil {
				errCh <- fmt.Errorf("gcs storage: opening %s: %w", attrs.Name, err)
				return
			}
			data, err := io.ReadAll(r)
			r.Close()
			if err != nil {
				errCh <- fmt.Errorf("gcs storage: reading %s: %w", attrs.Name, err)
				return
			}
			objCh <- probestorage.Object{Key: attrs.Name, Data: data}
		}
	}()

	return objCh, errCh
}

func (t *Transport) PutObjects(ctx context.Context, bucket, prefix string, files map[string][]byte) error {
	for rel, data := range files {
		key := prefix + "/" + rel
		w := t.client.Bucket(bucket).Object(key).NewWriter(ctx)
		w.ChunkSize = 0 // evidence bundles are small; avoid resumable buffering (§4.4).
		if _, err := w.Write(data); err != nil {
			w.Close()
			return fmt.Errorf("gcs storage: writing %s: %w", key, err)
		}
		if err := w.Close(); err != nil {
			return fmt.Errorf("gcs storage: closing %s: %w", key, err)
		}
	}
	return nil
}
