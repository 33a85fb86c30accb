// Package s3 implements storage.Transport against Amazon S3 (and
// S3-compatible endpoints), grounded on tempodb/backend/s3's provider-per-
// subdirectory shape (§4.4, §9).
package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/cristalhq/hedgedhttp"

	"github.com/matthew-bram/enterprise-confluent-test-probe-sub006/internal/storage"
)

// Transport wraps an s3.Client configured for a single region/endpoint.
type Transport struct {
	client *s3.Client
}

// New constructs a Transport from the control plane's S3 config (§6.6
// storage.s3 subtree). region/endpoint may be empty to use AWS defaults.
func New(ctx context.Context, region, endpoint string) (*Transport, error) {
	opts := []func(*awsconfig.LoadOptions) error{}
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	opts = append(opts, awsconfig.WithHTTPClient(&http.Client{
		Transport: hedgedhttp.NewRoundTripper(100*time.Millisecond, 2, http.DefaultTransport),
	}))
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("s3 storage: loading AWS config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = &endpoint
		}
		o.UsePathStyle = endpoint != ""
	})

	return &Transport{client: client}, nil
}

func (t *Transport) FetchObjects(ctx context.Context, bucket, prefix string) (<-chan storage.Object, <-chan error) {
	objCh := make(chan storage.Object)
	errCh := make(chan error, 1)

	go func() {
		defer close(objCh)
		defer close(errCh)

		paginator := s3.NewListObjectsV2Paginator(t.client, &s3.ListObjectsV2Input{
			Bucket: &bucket,
			Prefix: &prefix,
		})

		for paginator.HasMorePages() {
			page, err := paginator.NextPage(ctx)
			if err != nil {
				errCh <- fmt.Errorf("s3 storage: listing %s/%s: %w", bucket, prefix, err)
				return
			}
			for _, obj := range page.Contents {
				out, err := t.client.GetObject(ctx, &s3.GetObjectInput{Bucket: &bucket, Key: obj.Key})
				if err != nil {
					errCh <- fmt.Errorf("s3 storage: getting %s: %w", *obj.Key, err)
					return
				}
				data, err := io.ReadAll(out.Body)
				out.Body.Close()
				if err != nil {
					errCh <- fmt.Errorf("s3 storage: reading %s: %w", *obj.Key, err)
					return
				}
				objCh <- storage.Object{Key: *obj.Key, Data: data}
			}
		}
	}()

	return objCh, errCh
}

func (t *Transport) PutObjects(ctx context.Context, bucket, prefix string, files map[string][]byte) error {
	for rel, data := range files {
		key := prefix + "/" + rel
		_, err := t.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket: &bucket,
			Key:    &key,
			Body:   bytes.NewReader(data),
		})
		if err != nil {
			return fmt.Errorf("s3 storage: putting %s: %w", key, err)
		}
	}
	return nil
}
