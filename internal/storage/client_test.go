package storage

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
)

// fakeS3 answers HEAD and PUT object requests for a single path-style bucket.
type fakeS3 struct {
	mu       sync.Mutex
	objects  map[string][]byte
	metadata map[string]http.Header
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch r.Method {
	case http.MethodHead:
		data, ok := f.objects[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("ETag", `"abc"`)
		w.Header().Set("Last-Modified", "Mon, 02 Jan 2006 15:04:05 GMT")
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.WriteHeader(http.StatusOK)
	case http.MethodPut:
		data, _ := io.ReadAll(r.Body)
		f.objects[r.URL.Path] = data
		f.metadata[r.URL.Path] = r.Header.Clone()
		w.Header().Set("ETag", `"abc"`)
		w.WriteHeader(http.StatusOK)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func newTestClient(t *testing.T) (*Client, *fakeS3) {
	t.Helper()

	fake := &fakeS3{objects: make(map[string][]byte), metadata: make(map[string]http.Header)}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	client, err := NewClient(Config{
		Endpoint: strings.TrimPrefix(srv.URL, "http://"),
		Access:   "test",
		Secret:   "testsecret",
		Bucket:   "outputs",
		Region:   "us-east-1",
	})
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}
	return client, fake
}

func TestNewClientValidates(t *testing.T) {
	if _, err := NewClient(Config{Endpoint: "localhost:9000"}); err == nil {
		t.Fatalf("expected error for missing bucket")
	}
	if _, err := NewClient(Config{Bucket: "outputs"}); err == nil {
		t.Fatalf("expected error for missing endpoint")
	}
}

func TestPutThenExists(t *testing.T) {
	client, fake := newTestClient(t)
	ctx := context.Background()

	exists, err := client.Exists(ctx, "outputs/a.png")
	if err != nil {
		t.Fatalf("Exists returned error: %v", err)
	}
	if exists {
		t.Fatalf("expected object to be missing")
	}

	err = client.Put(ctx, Object{
		Key:          "outputs/a.png",
		Data:         []byte("png"),
		ContentType:  "image/png",
		CacheControl: "public, max-age=60",
		Metadata:     map[string]string{"request-id": "r1"},
	})
	if err != nil {
		t.Fatalf("Put returned error: %v", err)
	}
	header := fake.metadata["/outputs/outputs/a.png"]
	if header == nil {
		t.Fatalf("expected object at path-style key, have %v", fake.objects)
	}
	if got := header.Get("Content-Type"); got != "image/png" {
		t.Fatalf("expected image/png content type, got %q", got)
	}
	if got := header.Get("X-Amz-Meta-Request-Id"); got != "r1" {
		t.Fatalf("expected request id metadata, got %q", got)
	}
	if got := header.Get("Cache-Control"); got != "public, max-age=60" {
		t.Fatalf("expected cache control to be forwarded, got %q", got)
	}

	exists, err = client.Exists(ctx, "outputs/a.png")
	if err != nil {
		t.Fatalf("Exists returned error: %v", err)
	}
	if !exists {
		t.Fatalf("expected object to exist after write")
	}
}
