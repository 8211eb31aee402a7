package s3

import (
	"context"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/qminer/qminer-sub006/blobstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newCommitStore(t *testing.T) (*CommitStore, *MockS3Client, *mockDDBClient) {
	t.Helper()
	mockClient := new(MockS3Client)
	ddb := newMockDDBClient()
	store := NewCommitStore(NewStore(mockClient, "bucket", "backups"), ddb, "pgstore-commits", "s3://bucket/backups")
	return store, mockClient, ddb
}

func TestCommitStore_Pointer(t *testing.T) {
	store, mockClient, _ := newCommitStore(t)
	ctx := context.Background()

	_, err := store.Open(ctx, PointerName)
	assert.ErrorIs(t, err, blobstore.ErrNotFound)

	require.NoError(t, store.Put(ctx, PointerName, []byte("b1")))
	require.NoError(t, store.Put(ctx, PointerName, []byte("b2")))

	version, err := store.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), version)

	data, err := blobstore.ReadAll(ctx, store, PointerName)
	require.NoError(t, err)
	assert.Equal(t, "b2", string(data))

	// The pointer never touches S3.
	mockClient.AssertNotCalled(t, "PutObject", mock.Anything, mock.Anything)
}

func TestCommitStore_VersionOrderPastNine(t *testing.T) {
	store, _, _ := newCommitStore(t)
	ctx := context.Background()

	for i := range 11 {
		require.NoError(t, store.Put(ctx, PointerName, []byte{'a' + byte(i)}))
	}
	data, err := blobstore.ReadAll(ctx, store, PointerName)
	require.NoError(t, err)
	assert.Equal(t, "k", string(data))
}

func TestCommitStore_ConcurrentModification(t *testing.T) {
	store, _, ddb := newCommitStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, PointerName, []byte("b1")))
	ddb.failNext = true
	assert.ErrorIs(t, store.Put(ctx, PointerName, []byte("b2")), ErrConcurrentModification)

	data, err := blobstore.ReadAll(ctx, store, PointerName)
	require.NoError(t, err)
	assert.Equal(t, "b1", string(data))
}

func TestCommitStore_PutIfNotExists(t *testing.T) {
	store, mockClient, _ := newCommitStore(t)
	ctx := context.Background()

	require.NoError(t, store.PutIfNotExists(ctx, PointerName, []byte("first")))
	assert.ErrorIs(t, store.PutIfNotExists(ctx, PointerName, []byte("second")), blobstore.ErrExists)

	mockClient.On("PutObject", mock.Anything, mock.MatchedBy(func(in *s3.PutObjectInput) bool {
		return *in.Key == "backups/b1/MANIFEST" && aws.ToString(in.IfNoneMatch) == "*"
	})).Return(&s3.PutObjectOutput{}, nil).Once()
	require.NoError(t, store.PutIfNotExists(ctx, "b1/MANIFEST", []byte("m")))
	mockClient.AssertExpectations(t)
}

func TestCommitStore_ConcurrentWriters(t *testing.T) {
	store, _, _ := newCommitStore(t)
	ctx := context.Background()

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		committed int
	)
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := store.Put(ctx, PointerName, []byte{byte('0' + i)}); err == nil {
				mu.Lock()
				committed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	version, err := store.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(committed), version)
}

func TestCommitStore_DelegatesBlobs(t *testing.T) {
	store, mockClient, _ := newCommitStore(t)
	ctx := context.Background()

	mockClient.On("HeadObject", mock.Anything, mock.MatchedBy(func(in *s3.HeadObjectInput) bool {
		return *in.Key == "backups/b1/People.main"
	})).Return(&s3.HeadObjectOutput{ContentLength: aws.Int64(3)}, nil).Once()
	mockClient.On("GetObject", mock.Anything, mock.Anything).
		Return(&s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader("abc"))}, nil).Once()

	data, err := blobstore.ReadAll(ctx, store, "b1/People.main")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(data))
	mockClient.AssertExpectations(t)
}
