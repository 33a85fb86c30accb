package s3

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeS3 is a minimal ListObjectsV2/GetObject/PutObject server, enough to
// exercise Transport without a network-reachable AWS account.
type fakeS3 struct {
	objects map[string][]byte
	puts    map[string][]byte
}

func newFakeS3() *fakeS3 {
	return &fakeS3{
		objects: map[string][]byte{"T1/features/a.feature": []byte("Feature: a")},
		puts:    map[string][]byte{},
	}
}

type listBucketResult struct {
	XMLName  xml.Name `xml:"ListBucketResult"`
	Contents []struct {
		Key string `xml:"Key"`
	} `xml:"Contents"`
}

func (f *fakeS3) handler(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.Method == http.MethodGet && r.URL.Query().Has("list-type"):
		prefix := r.URL.Query().Get("prefix")
		var result listBucketResult
		for key := range f.objects {
			if prefix == "" || len(key) >= len(prefix) && key[:len(prefix)] == prefix {
				result.Contents = append(result.Contents, struct {
					Key string `xml:"Key"`
				}{Key: key})
			}
		}
		w.Header().Set("Content-Type", "application/xml")
		_ = xml.NewEncoder(w).Encode(result)
	case r.Method == http.MethodGet:
		key := r.URL.Path[1:]
		data, ok := f.objects[trimBucket(key)]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write(data)
	case r.Method == http.MethodPut:
		key := trimBucket(r.URL.Path[1:])
		buf := make([]byte, r.ContentLength)
		_, _ = r.Body.Read(buf)
		f.puts[key] = buf
		w.WriteHeader(http.StatusOK)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func trimBucket(path string) string {
	for i, c := range path {
		if c == '/' {
			return path[i+1:]
		}
	}
	return path
}

func newTestTransport(t *testing.T, srvURL string) *Transport {
	t.Helper()
	cfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion("us-east-1"),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("test", "test", "")),
	)
	require.NoError(t, err)

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(srvURL)
		o.UsePathStyle = true
	})
	return &Transport{client: client}
}

func TestFetchObjectsReturnsBucketContents(t *testing.T) {
	fake := newFakeS3()
	srv := httptest.NewServer(http.HandlerFunc(fake.handler))
	defer srv.Close()

	tr := newTestTransport(t, srv.URL)
	objCh, errCh := tr.FetchObjects(context.Background(), "mybucket", "T1")

	var got []string
	for obj := range objCh {
		got = append(got, obj.Key)
	}
	require.NoError(t, <-errCh)
	assert.Contains(t, got, "T1/features/a.feature")
}

func TestPutObjectsUploadsUnderPrefix(t *testing.T) {
	fake := newFakeS3()
	srv := httptest.NewServer(http.HandlerFunc(fake.handler))
	defer srv.Close()

	tr := newTestTransport(t, srv.URL)
	err := tr.PutObjects(context.Background(), "mybucket", "T1/evidence", map[string][]byte{
		"cucumber.json": []byte(`{"ok":true}`),
	})
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"ok":true}`), fake.puts["T1/evidence/cucumber.json"])
}

func TestFetchObjectsPropagatesListError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = fmt.Fprint(w, "<Error><Code>InternalError</Code></Error>")
	}))
	defer srv.Close()

	tr := newTestTransport(t, srv.URL)
	_, errCh := tr.FetchObjects(context.Background(), "mybucket", "T1")
	require.Error(t, <-errCh)
}
