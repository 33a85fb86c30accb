package local_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/matthew-bram/enterprise-confluent-test-probe-sub006/internal/storage/local"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchObjectsWalksBucket(t *testing.T) {
	root := t.TempDir()
	bucketDir := filepath.Join(root, "mybucket", "T1", "features")
	require.NoError(t, os.MkdirAll(bucketDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(bucketDir, "a.feature"), []byte("Feature: a"), 0o644))

	tr := local.New(root)
	objCh, errCh := tr.FetchObjects(context.Background(), "mybucket", "T1")

	var got []string
	for obj := range objCh {
		got = append(got, obj.Key)
	}
	require.NoError(t, <-errCh)
	assert.Contains(t, got, "features/a.feature")
}

func TestPutObjectsWritesUnderPrefix(t *testing.T) {
	root := t.TempDir()
	tr := local.New(root)

	err := tr.PutObjects(context.Background(), "mybucket", "T1/evidence", map[string][]byte{
		"cucumber.json": []byte(`{"ok":true}`),
	})
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(root, "mybucket", "T1", "evidence", "cucumber.json"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(data))
}

func TestFetchObjectsOnMissingBucketIsEmptyNotError(t *testing.T) {
	tr := local.New(t.TempDir())
	objCh, errCh := tr.FetchObjects(context.Background(), "nope", "")

	count := 0
	for range objCh {
		count++
	}
	require.NoError(t, <-errCh)
	assert.Zero(t, count)
}
