package mio_test

import (
	"context"
	"crypto/md5" // #nosec G501 -- ETag format only.
	"encoding/hex"
	"encoding/xml"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/taskshell/internal/hash/sha256"
	"github.com/JakeFAU/taskshell/internal/offline"
	"github.com/JakeFAU/taskshell/internal/storage/mio"
)

const bucketName = "cache"

// fakeS3 serves path-style S3 object and bucket requests from memory.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
}

type listEntry struct {
	Key          string `xml:"Key"`
	LastModified string `xml:"LastModified"`
	ETag         string `xml:"ETag"`
	Size         int    `xml:"Size"`
	StorageClass string `xml:"StorageClass"`
}

type listResult struct {
	XMLName     xml.Name    `xml:"ListBucketResult"`
	Name        string      `xml:"Name"`
	Prefix      string      `xml:"Prefix"`
	KeyCount    int         `xml:"KeyCount"`
	MaxKeys     int         `xml:"MaxKeys"`
	IsTruncated bool        `xml:"IsTruncated"`
	Contents    []listEntry `xml:"Contents"`
}

func newFakeS3(t *testing.T, prefix string) (*mio.Storage, *fakeS3) {
	t.Helper()
	fake := &fakeS3{objects: make(map[string][]byte)}
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)

	// Anonymous credentials keep request bodies unsigned and unchunked.
	client, err := minio.New(strings.TrimPrefix(server.URL, "http://"), &minio.Options{
		Creds:  credentials.NewStaticV4("", "", ""),
		Region: "us-east-1",
	})
	require.NoError(t, err)
	store, err := mio.New(client, mio.Config{Bucket: bucketName, Prefix: prefix}, sha256.New())
	require.NoError(t, err)
	return store, fake
}

func (f *fakeS3) keys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	keys := make([]string, 0, len(f.objects))
	for k := range f.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func etag(data []byte) string {
	sum := md5.Sum(data) // #nosec G401 -- ETag format only.
	return `"` + hex.EncodeToString(sum[:]) + `"`
}

func writeS3Error(w http.ResponseWriter, status int, code, key string) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>`+code+
		`</Code><Message>`+code+`</Message><Key>`+key+`</Key><BucketName>`+bucketName+`</BucketName></Error>`)
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	bucket, key, _ := strings.Cut(strings.TrimPrefix(r.URL.Path, "/"), "/")
	if bucket != bucketName {
		writeS3Error(w, http.StatusNotFound, "NoSuchBucket", "")
		return
	}
	if key == "" {
		f.serveBucket(w, r)
		return
	}

	switch r.Method {
	case http.MethodPut:
		data, err := io.ReadAll(r.Body)
		if err != nil {
			writeS3Error(w, http.StatusBadRequest, "IncompleteBody", key)
			return
		}
		f.objects[key] = data
		w.Header().Set("ETag", etag(data))
		w.WriteHeader(http.StatusOK)
	case http.MethodHead, http.MethodGet:
		data, ok := f.objects[key]
		if !ok {
			if r.Method == http.MethodHead {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			writeS3Error(w, http.StatusNotFound, "NoSuchKey", key)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.Header().Set("Last-Modified", time.Now().UTC().Format(http.TimeFormat))
		w.Header().Set("ETag", etag(data))
		w.WriteHeader(http.StatusOK)
		if r.Method == http.MethodGet {
			_, _ = w.Write(data)
		}
	case http.MethodDelete:
		delete(f.objects, key)
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (f *fakeS3) serveBucket(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	switch {
	case r.Method == http.MethodGet && query.Has("location"):
		w.Header().Set("Content-Type", "application/xml")
		_, _ = io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?><LocationConstraint>us-east-1</LocationConstraint>`)
	case r.Method == http.MethodGet:
		prefix := query.Get("prefix")
		result := listResult{Name: bucketName, Prefix: prefix, MaxKeys: 1000}
		keys := make([]string, 0, len(f.objects))
		for k := range f.objects {
			if strings.HasPrefix(k, prefix) {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)
		for _, k := range keys {
			result.Contents = append(result.Contents, listEntry{
				Key:          k,
				LastModified: "2024-01-01T00:00:00.000Z",
				ETag:         etag(f.objects[k]),
				Size:         len(f.objects[k]),
				StorageClass: "STANDARD",
			})
		}
		result.KeyCount = len(result.Contents)
		w.Header().Set("Content-Type", "application/xml")
		_ = xml.NewEncoder(w).Encode(result)
	case r.Method == http.MethodHead, r.Method == http.MethodPut:
		w.WriteHeader(http.StatusOK)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func TestNewClient_Validation(t *testing.T) {
	t.Parallel()

	_, err := mio.NewClient(context.Background(), mio.Config{Bucket: bucketName})
	assert.ErrorContains(t, err, "endpoint")

	_, err = mio.NewClient(context.Background(), mio.Config{Endpoint: "localhost:9000"})
	assert.ErrorContains(t, err, "bucket")
}

func TestNewClient_CanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := mio.NewClient(ctx, mio.Config{
		Endpoint: "localhost:9000",
		Bucket:   "cache",
		Retry:    mio.RetryConfig{MaxRetries: 2, InitialInterval: time.Millisecond},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNew(t *testing.T) {
	t.Parallel()

	// minio.New does not dial, so an unreachable endpoint is fine here.
	client, err := minio.New("localhost:9000", &minio.Options{
		Creds: credentials.NewStaticV4("key", "secret", ""),
	})
	require.NoError(t, err)

	_, err = mio.New(nil, mio.Config{Bucket: bucketName}, sha256.New())
	require.Error(t, err)

	_, err = mio.New(client, mio.Config{}, sha256.New())
	require.Error(t, err)

	_, err = mio.New(client, mio.Config{Bucket: bucketName}, nil)
	require.Error(t, err)

	store, err := mio.New(client, mio.Config{Bucket: bucketName, Prefix: "shell"}, sha256.New())
	require.NoError(t, err)

	_, err = store.Has(context.Background(), "..")
	assert.Error(t, err)
}

func TestStorage_RoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, fake := newFakeS3(t, "shell")

	_, ok, err := store.Lookup(ctx, "v1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, fake.keys(), "lookup must not write a marker")

	cache, err := store.Open(ctx, "v1")
	require.NoError(t, err)
	require.NoError(t, cache.Put(ctx, "/b.png", offline.Response{StatusCode: 200, Body: []byte{0x89, 0x50}}))
	require.NoError(t, cache.Put(ctx, "/a.css", offline.Response{
		StatusCode: 200,
		Header:     http.Header{"Content-Type": {"text/css"}},
		Body:       []byte("body{}"),
	}))

	looked, ok, err := store.Lookup(ctx, "v1")
	require.NoError(t, err)
	require.True(t, ok)

	got, err := looked.Match(ctx, "/a.css")
	require.NoError(t, err)
	assert.Equal(t, "/a.css", got.URL)
	assert.Equal(t, "text/css", got.Header.Get("Content-Type"))
	assert.Equal(t, []byte("body{}"), got.Body)

	_, err = looked.Match(ctx, "/missing.js")
	assert.ErrorIs(t, err, offline.ErrNotFound)

	keys, err := looked.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"/a.css", "/b.png"}, keys)

	require.NoError(t, looked.Delete(ctx, "/b.png"))
	keys, err = looked.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"/a.css"}, keys)

	names, err := store.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"v1"}, names)
}

func TestStorage_DeleteLeavesPrefixSiblings(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, fake := newFakeS3(t, "shell")

	for _, name := range []string{"v1", "v10"} {
		cache, err := store.Open(ctx, name)
		require.NoError(t, err)
		require.NoError(t, cache.Put(ctx, "/a.css", offline.Response{StatusCode: 200, Body: []byte(name)}))
	}

	names, err := store.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"v1", "v10"}, names)

	deleted, err := store.Delete(ctx, "v1")
	require.NoError(t, err)
	assert.True(t, deleted)

	names, err = store.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"v10"}, names)
	for _, key := range fake.keys() {
		assert.True(t, strings.HasPrefix(key, "shell/v10/"), key)
	}

	survivor, ok, err := store.Lookup(ctx, "v10")
	require.NoError(t, err)
	require.True(t, ok)
	got, err := survivor.Match(ctx, "/a.css")
	require.NoError(t, err)
	assert.Equal(t, []byte("v10"), got.Body)

	deleted, err = store.Delete(ctx, "v1")
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestNewClient_EnsuresBucket(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(&fakeS3{objects: make(map[string][]byte)})
	t.Cleanup(server.Close)

	client, err := mio.NewClient(context.Background(), mio.Config{
		Endpoint: strings.TrimPrefix(server.URL, "http://"),
		Bucket:   bucketName,
		Retry:    mio.RetryConfig{MaxRetries: 1},
	})
	require.NoError(t, err)
	assert.NotNil(t, client)
}
