package winestage

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSourceURL(t *testing.T) {
	tmpl := "https://dl.example.org/%SERIES%/%NAME%-%VERSION%.tar.xz"
	assert.Equal(t, "https://dl.example.org/10.0/wine-10.0.tar.xz", SourceURL(tmpl, "wine", MustParseVersion("10.0")))
	assert.Equal(t, "https://dl.example.org/9.x/wine-9.22.tar.xz", SourceURL(tmpl, "wine", MustParseVersion("9.22")))
	assert.Equal(t, "8.0/wine-8.0.3", SourceURL("%MAJORMINOR%/%NAME%-%VERSION%", "wine", MustParseVersion("8.0.3")))
}

func TestArchiveName(t *testing.T) {
	assert.Equal(t, "wine-10.1.tar.xz", ArchiveName("https://dl.example.org/10.x/wine-10.1.tar.xz"))
	assert.Equal(t, "wine-10.1.tar.gz", ArchiveName("https://example.org/get/wine-10.1.tar.gz?token=abc#frag"))
}

func noTools(string) (string, error) { return "", exec.ErrNotFound }

func TestHTTPFetcherNative(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/wine-10.1.tar.xz" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte("archive bytes"))
	}))
	defer srv.Close()

	console, _ := quietConsole()
	f := &HTTPFetcher{Console: console, Quiet: true, Client: srv.Client(), lookPath: noTools}
	dest := filepath.Join(t.TempDir(), "wine-10.1.tar.xz")

	require.NoError(t, f.Fetch(context.Background(), srv.URL+"/wine-10.1.tar.xz", dest))
	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "archive bytes", string(data))

	missing := filepath.Join(t.TempDir(), "wine-0.1.tar.xz")
	err = f.Fetch(context.Background(), srv.URL+"/wine-0.1.tar.xz", missing)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
	assert.NoFileExists(t, missing)
}

type stubFetcher struct {
	name  string
	err   error
	calls *[]string
}

func (s stubFetcher) Fetch(_ context.Context, _, dest string) error {
	*s.calls = append(*s.calls, s.name)
	if s.err != nil {
		os.WriteFile(dest, []byte("partial"), 0o644)
		return s.err
	}
	return os.WriteFile(dest, []byte(s.name), 0o644)
}

func TestChainFetcherOrder(t *testing.T) {
	var calls []string
	console, _ := quietConsole()
	chain := &ChainFetcher{Console: console, Fetchers: []Fetcher{
		stubFetcher{name: "mirror", err: errors.New("no such key"), calls: &calls},
		stubFetcher{name: "upstream", calls: &calls},
		stubFetcher{name: "never", calls: &calls},
	}}
	dest := filepath.Join(t.TempDir(), "a.tar.xz")
	require.NoError(t, chain.Fetch(context.Background(), "https://x/a.tar.xz", dest))
	assert.Equal(t, []string{"mirror", "upstream"}, calls)
	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "upstream", string(data))

	calls = nil
	chain.Fetchers = []Fetcher{
		stubFetcher{name: "a", err: errors.New("first"), calls: &calls},
		stubFetcher{name: "b", err: errors.New("second"), calls: &calls},
	}
	err = chain.Fetch(context.Background(), "https://x/a.tar.xz", dest)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "first")
	assert.Contains(t, err.Error(), "second")
	assert.NoFileExists(t, dest)

	assert.Error(t, (&ChainFetcher{}).Fetch(context.Background(), "https://x/a", dest))
}

// fakeBucket is a minimal path-style S3 endpoint.
type fakeBucket struct {
	mu      sync.Mutex
	objects map[string]string
	methods []string
}

func (b *fakeBucket) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.methods = append(b.methods, r.Method+" "+r.URL.Path)
	switch r.Method {
	case http.MethodGet, http.MethodHead:
		body, ok := b.objects[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		if r.Method == http.MethodGet {
			w.Write([]byte(body))
		}
	case http.MethodPut:
		b.objects[r.URL.Path] = "uploaded"
		w.WriteHeader(http.StatusOK)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func newTestMirror(t *testing.T, objects map[string]string) (*S3Fetcher, *fakeBucket) {
	t.Helper()
	bucket := &fakeBucket{objects: objects}
	srv := httptest.NewServer(bucket)
	t.Cleanup(srv.Close)

	console, _ := quietConsole()
	f, err := NewS3Fetcher(context.Background(), MirrorSettings{
		Bucket:          "sources",
		Endpoint:        srv.URL,
		Region:          "auto",
		Prefix:          "wine",
		AccessKeyID:     "test",
		SecretAccessKey: "test",
	}, console)
	require.NoError(t, err)
	return f, bucket
}

func TestS3FetcherFetch(t *testing.T) {
	f, _ := newTestMirror(t, map[string]string{"/sources/wine/wine-10.1.tar.xz": "mirrored"})
	dest := filepath.Join(t.TempDir(), "wine-10.1.tar.xz")

	require.NoError(t, f.Fetch(context.Background(), "https://dl.example.org/10.x/wine-10.1.tar.xz", dest))
	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "mirrored", string(data))

	assert.Error(t, f.Fetch(context.Background(), "https://dl.example.org/10.x/wine-10.2.tar.xz", dest))
}

func TestS3FetcherPublish(t *testing.T) {
	f, bucket := newTestMirror(t, map[string]string{"/sources/wine/wine-10.0.tar.xz": "present"})
	dir := t.TempDir()

	present := filepath.Join(dir, "wine-10.0.tar.xz")
	writeFile(t, present, "data")
	require.NoError(t, f.Publish(context.Background(), present))
	assert.Equal(t, []string{"HEAD /sources/wine/wine-10.0.tar.xz"}, bucket.methods)

	fresh := filepath.Join(dir, "wine-10.1.tar.xz")
	writeFile(t, fresh, "data")
	require.NoError(t, f.Publish(context.Background(), fresh))
	assert.Contains(t, bucket.methods, "PUT /sources/wine/wine-10.1.tar.xz")
	assert.Contains(t, bucket.objects, "/sources/wine/wine-10.1.tar.xz")
}

func TestNewS3FetcherValidation(t *testing.T) {
	_, err := NewS3Fetcher(context.Background(), MirrorSettings{}, nil)
	assert.Error(t, err)
	_, err = NewS3Fetcher(context.Background(), MirrorSettings{Bucket: "b", AccessKeyID: "only-id"}, nil)
	assert.Error(t, err)
}

func TestArchiveContentType(t *testing.T) {
	assert.Equal(t, "application/x-xz", archiveContentType("wine-10.1.tar.xz"))
	assert.Equal(t, "application/gzip", archiveContentType("wine-10.1.tgz"))
	assert.Equal(t, "application/octet-stream", archiveContentType("wine-10.1.tar"))
}
