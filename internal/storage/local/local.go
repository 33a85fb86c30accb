// Package local implements storage.Transport against the host filesystem —
// the "local" storage provider intended for development (§4.4, §9).
package local

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/matthew-bram/enterprise-confluent-test-probe-sub006/internal/storage"
)

// Transport roots every bucket under RootDir, treating the bucket name as a
// subdirectory. A `file:///tmp/bundle` style bucket URI has its scheme and
// leading slashes stripped, so it names the subdirectory tmp/bundle under
// RootDir (§3.1 says Bucket is opaque to the core).
type Transport struct {
	RootDir string
}

func New(rootDir string) *Transport {
	return &Transport{RootDir: rootDir}
}

func (t *Transport) bucketRoot(bucket string) string {
	return filepath.Join(t.RootDir, sanitize(bucket))
}

func sanitize(bucket string) string {
	bucket = strings.TrimPrefix(bucket, "file://")
	return strings.TrimLeft(bucket, "/")
}

func (t *Transport) FetchObjects(ctx context.Context, bucket, prefix string) (<-chan storage.Object, <-chan error) {
	objCh := make(chan storage.Object)
	errCh := make(chan error, 1)

	go func() {
		defer close(objCh)
		defer close(errCh)

		root := filepath.Join(t.bucketRoot(bucket), prefix)
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			rel, err := filepath.Rel(root, path)
			if err != nil {
				return err
			}
			objCh <- storage.Object{Key: filepath.ToSlash(rel), Data: data}
			return nil
		})
		if err != nil && !os.IsNotExist(err) {
			errCh <- fmt.Errorf("local storage: walking %s: %w", root, err)
		}
	}()

	return objCh, errCh
}

func (t *Transport) PutObjects(ctx context.Context, bucket, prefix string, files map[string][]byte) error {
	root := filepath.Join(t.bucketRoot(bucket), prefix)
	for rel, data := range files {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		dest := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return fmt.Errorf("local storage: mkdir %s: %w", filepath.Dir(dest), err)
		}
		if err := os.WriteFile(dest, data, 0o644); err != nil {
			return fmt.Errorf("local storage: write %s: %w", dest, err)
		}
	}
	return nil
}
