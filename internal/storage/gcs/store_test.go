package gcs

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/JakeFAU/ratingharvest/internal/harvest"
)

type fakeBucket struct {
	mu       sync.Mutex
	objects  map[string][]byte
	checkErr error
	listErr  error
	readErr  map[string]error
}

func newFakeBucket() *fakeBucket {
	return &fakeBucket{objects: map[string][]byte{}, readErr: map[string]error{}}
}

func (b *fakeBucket) Check(context.Context) error {
	return b.checkErr
}

func (b *fakeBucket) List(_ context.Context, prefix string) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.listErr != nil {
		return nil, b.listErr
	}
	var names []string
	for name := range b.objects {
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (b *fakeBucket) Read(_ context.Context, name string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.readErr[name]; err != nil {
		return nil, err
	}
	return b.objects[name], nil
}

func (b *fakeBucket) Create(_ context.Context, name string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.objects[name]; ok {
		return errors.New("precondition failed")
	}
	b.objects[name] = append([]byte(nil), data...)
	return nil
}

type roundTripperFunc func(req *http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func TestAppendWritesOneObjectPerBatch(t *testing.T) {
	t.Parallel()

	b := newFakeBucket()
	store := newStore(b, "/runs/", zap.NewNop())
	store.now = func() time.Time { return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC) }
	ctx := context.Background()

	require.NoError(t, store.Prepare(ctx))
	require.NoError(t, store.Append(ctx, []harvest.Result{
		harvest.Succeeded("https://a.example", harvest.Rating{Score: harvest.StringPtr("4.2"), ReviewCount: harvest.IntPtr(7)}, 1),
	}))
	require.NoError(t, store.Append(ctx, []harvest.Result{harvest.Failed("https://b.example", 3, harvest.ErrRateLimited)}))
	require.NoError(t, store.Append(ctx, nil))

	names, err := b.List(ctx, "runs/")
	require.NoError(t, err)
	require.Equal(t, []string{
		"runs/20250301T120000.000000000Z-000001.csv",
		"runs/20250301T120000.000000000Z-000002.csv",
	}, names)
	assert.Equal(t, "URL,Score,ReviewCount\nhttps://a.example,4.2,7\n", string(b.objects[names[0]]))
	assert.Equal(t, "URL,Score,ReviewCount\nhttps://b.example,,\n", string(b.objects[names[1]]))
}

func TestSeenSkipsBadObjectsAndRows(t *testing.T) {
	t.Parallel()

	b := newFakeBucket()
	b.objects["ratings/1.csv"] = []byte("URL,Score,ReviewCount\nhttps://a.example,4.0,1\n")
	b.objects["ratings/2.csv"] = []byte("https://b.example,3.1,2\nhttps://bad\"row,,\n,,\n")
	b.objects["ratings/3.csv"] = []byte("https://c.example,,\n")
	b.objects["other/4.csv"] = []byte("https://d.example,,\n")
	b.readErr["ratings/3.csv"] = errors.New("permission denied")

	seen, err := newStore(b, "", nil).Seen(context.Background())
	require.NoError(t, err)
	require.Equal(t, map[string]struct{}{
		"https://a.example": {},
		"https://b.example": {},
	}, seen)
}

func TestSeenDegradesWhenListingFails(t *testing.T) {
	t.Parallel()

	b := newFakeBucket()
	b.listErr = errors.New("unavailable")
	seen, err := newStore(b, "", nil).Seen(context.Background())
	require.NoError(t, err)
	require.Empty(t, seen)
}

func TestAppendSurfacesUploadFailure(t *testing.T) {
	t.Parallel()

	b := newFakeBucket()
	store := newStore(b, "", nil)
	store.now = func() time.Time { return time.Unix(0, 0) }
	b.objects["ratings/19700101T000000.000000000Z-000001.csv"] = []byte("taken")

	err := store.Append(context.Background(), []harvest.Result{harvest.Failed("https://a.example", 1, nil)})
	require.ErrorContains(t, err, "precondition failed")
}

func TestPrepareReportsMissingBucket(t *testing.T) {
	t.Parallel()

	client, err := storage.NewClient(
		context.Background(),
		option.WithoutAuthentication(),
		option.WithHTTPClient(&http.Client{
			Transport: roundTripperFunc(func(r *http.Request) (*http.Response, error) {
				assert.Contains(t, r.URL.Path, "/storage/v1/b/missing-bucket")
				return &http.Response{
					StatusCode: http.StatusNotFound,
					Body:       io.NopCloser(strings.NewReader(`{"error":{"code":404,"message":"Not Found"}}`)),
					Header:     http.Header{"Content-Type": []string{"application/json"}},
					Request:    r,
				}, nil
			}),
		}),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	store := NewWithClient(client, Config{Bucket: "missing-bucket"}, nil)
	err = store.Prepare(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, storage.ErrBucketNotExist)
	require.NoError(t, store.Close())
}
