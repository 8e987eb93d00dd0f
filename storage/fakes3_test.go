package storage

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// fakeS3 serves path-style object requests for a single bucket and keeps
// user metadata headers next to each object. PUT honours If-Match and
// If-None-Match like S3 conditional writes.
type fakeS3 struct {
	mu      sync.Mutex
	bucket  string
	objects map[string]fakeObject
	writes  int
}

type fakeObject struct {
	body     []byte
	metadata http.Header
	etag     string
}

func newFakeS3(t *testing.T, bucket string) *httptest.Server {
	fs := &fakeS3{bucket: bucket, objects: make(map[string]fakeObject)}
	srv := httptest.NewServer(http.HandlerFunc(fs.serveHTTP))
	t.Cleanup(srv.Close)
	return srv
}

func (fs *fakeS3) notFound(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusNotFound)
	if r.Method != http.MethodHead {
		io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>The specified key does not exist.</Message></Error>`)
	}
}

func (fs *fakeS3) preconditionFailed(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusPreconditionFailed)
	io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>PreconditionFailed</Code><Message>At least one of the pre-conditions you specified did not hold</Message></Error>`)
}

func (fs *fakeS3) serveHTTP(w http.ResponseWriter, r *http.Request) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	path := strings.TrimPrefix(r.URL.Path, "/")
	if path == fs.bucket || path == fs.bucket+"/" {
		w.WriteHeader(http.StatusOK)
		return
	}
	if !strings.HasPrefix(path, fs.bucket+"/") {
		fs.notFound(w, r)
		return
	}
	key := strings.TrimPrefix(path, fs.bucket+"/")

	switch r.Method {
	case http.MethodPut:
		existing, exists := fs.objects[key]
		if r.Header.Get("If-None-Match") == "*" && exists {
			fs.preconditionFailed(w)
			return
		}
		if match := r.Header.Get("If-Match"); match != "" && (!exists || match != existing.etag) {
			fs.preconditionFailed(w)
			return
		}

		body, _ := io.ReadAll(r.Body)
		metadata := http.Header{}
		for name, values := range r.Header {
			if strings.HasPrefix(strings.ToLower(name), "x-amz-meta-") {
				metadata[name] = values
			}
		}
		fs.writes++
		etag := fmt.Sprintf(`"etag-%d"`, fs.writes)
		fs.objects[key] = fakeObject{body: body, metadata: metadata, etag: etag}
		w.Header().Set("ETag", etag)
		w.WriteHeader(http.StatusOK)
	case http.MethodGet, http.MethodHead:
		obj, ok := fs.objects[key]
		if !ok {
			fs.notFound(w, r)
			return
		}
		for name, values := range obj.metadata {
			w.Header()[name] = values
		}
		w.Header().Set("ETag", obj.etag)
		w.Header().Set("Content-Type", "application/octet-stream")
		w.WriteHeader(http.StatusOK)
		if r.Method == http.MethodGet {
			w.Write(obj.body)
		}
	case http.MethodDelete:
		delete(fs.objects, key)
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}
