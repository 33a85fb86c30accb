package gcs

import (
	"context"
	"encoding/json"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

// fakeGCS serves a small slice of the GCS JSON API: listing, media reads and
// multipart uploads. Enough to exercise Transport without real credentials.
type fakeGCS struct {
	objects map[string][]byte
}

func (f *fakeGCS) handler(w http.ResponseWriter, r *http.Request) {
	switch {
	case strings.HasSuffix(r.URL.Path, "/o") && r.Method == http.MethodGet:
		type item struct {
			Name string `json:"name"`
		}
		type listing struct {
			Items []item `json:"items"`
		}
		var out listing
		prefix := r.URL.Query().Get("prefix")
		for key := range f.objects {
			if prefix == "" || strings.HasPrefix(key, prefix) {
				out.Items = append(out.Items, item{Name: key})
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(out)

	case r.Method == http.MethodGet && r.URL.Query().Get("alt") == "media":
		parts := strings.Split(r.URL.Path, "/o/")
		data, ok := f.objects[parts[len(parts)-1]]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write(data)

	case strings.Contains(r.URL.Path, "/upload/storage/v1/b/") && r.Method == http.MethodPost:
		_, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		mr := multipart.NewReader(r.Body, params["boundary"])
		var name string
		var data []byte
		for {
			part, err := mr.NextPart()
			if err == io.EOF {
				break
			}
			if err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			body, _ := io.ReadAll(part)
			if part.Header.Get("Content-Type") == "application/json; charset=utf-8" {
				var meta struct {
					Name string `json:"name"`
				}
				_ = json.Unmarshal(body, &meta)
				name = meta.Name
			} else {
				data = body
			}
		}
		f.objects[name] = data
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"name": name})

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func newTestTransport(t *testing.T, srv *httptest.Server) *Transport {
	t.Helper()
	client, err := storage.NewClient(context.Background(),
		option.WithEndpoint(srv.URL),
		option.WithoutAuthentication(),
		option.WithHTTPClient(srv.Client()),
	)
	require.NoError(t, err)
	return &Transport{client: client}
}

func TestFetchObjectsReturnsBucketContents(t *testing.T) {
	fake := &fakeGCS{objects: map[string][]byte{"T1/features/a.feature": []byte("Feature: a")}}
	srv := httptest.NewServer(http.HandlerFunc(fake.handler))
	defer srv.Close()

	tr := newTestTransport(t, srv)
	objCh, errCh := tr.FetchObjects(context.Background(), "mybucket", "T1")

	var got []string
	for obj := range objCh {
		got = append(got, obj.Key)
	}
	require.NoError(t, <-errCh)
	assert.Contains(t, got, "T1/features/a.feature")
}

func TestPutObjectsUploadsUnderPrefix(t *testing.T) {
	fake := &fakeGCS{objects: map[string][]byte{}}
	srv := httptest.NewServer(http.HandlerFunc(fake.handler))
	defer srv.Close()

	tr := newTestTransport(t, srv)
	err := tr.PutObjects(context.Background(), "mybucket", "T1/evidence", map[string][]byte{
		"cucumber.json": []byte(`{"ok":true}`),
	})
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"ok":true}`), fake.objects["T1/evidence/cucumber.json"])
}
