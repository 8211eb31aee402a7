package minio

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/qminer/qminer-sub006/blobstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// readOnlyServer serves HEAD and ranged GET requests for fixed objects.
func readOnlyServer(t *testing.T, objects map[string]string) *Store {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, ok := objects[strings.TrimPrefix(r.URL.Path, "/")]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			if r.Method != http.MethodHead {
				fmt.Fprint(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>missing</Message></Error>`)
			}
			return
		}
		w.Header().Set("ETag", `"0123456789abcdef"`)
		w.Header().Set("Last-Modified", time.Unix(0, 0).UTC().Format(http.TimeFormat))
		w.Header().Set("Content-Type", "application/octet-stream")
		if r.Method == http.MethodHead {
			w.Header().Set("Content-Length", fmt.Sprint(len(data)))
			return
		}
		var from, to int
		if _, err := fmt.Sscanf(r.Header.Get("Range"), "bytes=%d-%d", &from, &to); err == nil {
			to = min(to, len(data)-1)
			w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", from, to, len(data)))
			w.Header().Set("Content-Length", fmt.Sprint(to-from+1))
			w.WriteHeader(http.StatusPartialContent)
			fmt.Fprint(w, data[from:to+1])
			return
		}
		w.Header().Set("Content-Length", fmt.Sprint(len(data)))
		fmt.Fprint(w, data)
	}))
	t.Cleanup(srv.Close)

	client, err := minio.New(strings.TrimPrefix(srv.URL, "http://"), &minio.Options{
		Creds:  credentials.NewStaticV4("key", "secret", ""),
		Region: "us-east-1",
	})
	require.NoError(t, err)
	return NewStore(client, "bucket", "pgstore/")
}

func TestStore_OpenAndRead(t *testing.T) {
	store := readOnlyServer(t, map[string]string{
		"bucket/pgstore/b1/People.main": "hello minio world",
	})
	ctx := context.Background()

	_, err := store.Open(ctx, "b1/missing")
	assert.ErrorIs(t, err, blobstore.ErrNotFound)

	blob, err := store.Open(ctx, "b1/People.main")
	require.NoError(t, err)
	defer blob.Close()
	assert.Equal(t, int64(17), blob.Size())

	buf := make([]byte, 5)
	n, err := blob.ReadAt(ctx, buf, 6)
	require.NoError(t, err)
	assert.Equal(t, "minio", string(buf[:n]))

	r, err := blob.ReadRange(ctx, 12, 100)
	require.NoError(t, err)
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	assert.Equal(t, "world", string(got))

	r, err = blob.ReadRange(ctx, 17, 1)
	require.NoError(t, err)
	got, _ = io.ReadAll(r)
	assert.Empty(t, got)
}

// TestStore_Integration requires a running MinIO instance at
// PGSTORE_MINIO_ENDPOINT (default localhost:9000).
func TestStore_Integration(t *testing.T) {
	endpoint := os.Getenv("PGSTORE_MINIO_ENDPOINT")
	if endpoint == "" {
		endpoint = "localhost:9000"
	}
	store, err := Dial(endpoint, "minioadmin", "minioadmin", false, "test-pgstore", "test-prefix/")
	if err != nil {
		t.Skipf("MinIO client creation failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := store.client.ListBuckets(ctx); err != nil {
		t.Skipf("MinIO not available: %v", err)
	}
	exists, err := store.client.BucketExists(ctx, store.bucket)
	require.NoError(t, err)
	if !exists {
		require.NoError(t, store.client.MakeBucket(ctx, store.bucket, minio.MakeBucketOptions{}))
	}

	data := []byte("hello minio world")
	require.NoError(t, store.Put(ctx, "b1/People.main", data))

	got, err := blobstore.ReadAll(ctx, store, "b1/People.main")
	require.NoError(t, err)
	assert.Equal(t, data, got)

	wb, err := store.Create(ctx, "b1/People.bin000")
	require.NoError(t, err)
	_, err = wb.Write([]byte("streamed data"))
	require.NoError(t, err)
	require.NoError(t, wb.Close())

	names, err := store.List(ctx, "b1/")
	require.NoError(t, err)
	assert.Equal(t, []string{"b1/People.bin000", "b1/People.main"}, names)

	for _, name := range names {
		require.NoError(t, store.Delete(ctx, name))
	}
	_, err = store.Open(ctx, "b1/People.main")
	assert.ErrorIs(t, err, blobstore.ErrNotFound)
}
