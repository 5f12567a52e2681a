package redis

import (
	"context"
	"errors"
	"sync"
	"testing"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/ratingharvest/internal/harvest"
)

func TestAppendAndSeen(t *testing.T) {
	t.Parallel()

	fake := newFakeClient()
	store := NewWithClient(fake, "", zap.NewNop())
	ctx := context.Background()

	require.NoError(t, store.Prepare(ctx))
	ok := harvest.Succeeded("https://a.example",
		harvest.Rating{Score: harvest.StringPtr("4.5"), ReviewCount: harvest.IntPtr(10)}, 2)
	require.NoError(t, store.Append(ctx, []harvest.Result{ok, harvest.Failed("https://b.example", 1, harvest.ErrNoRating)}))

	seen, err := store.Seen(ctx)
	require.NoError(t, err)
	require.Len(t, seen, 2)

	got, err := decode("https://a.example", fake.hash["ratingharvest:results"]["https://a.example"])
	require.NoError(t, err)
	require.Equal(t, ok, got)
}

func TestAppendKeepsFirstRecord(t *testing.T) {
	t.Parallel()

	fake := newFakeClient()
	store := NewWithClient(fake, "runs", nil)
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, []harvest.Result{harvest.Failed("https://a.example", 3, harvest.ErrRateLimited)}))
	require.NoError(t, store.Append(ctx, []harvest.Result{harvest.Succeeded("https://a.example", harvest.Rating{}, 1)}))

	got, err := decode("https://a.example", fake.hash["runs"]["https://a.example"])
	require.NoError(t, err)
	require.False(t, got.Success)
	require.Equal(t, 3, got.Attempts)
}

func TestPrepareFailsWhenUnreachable(t *testing.T) {
	t.Parallel()

	fake := newFakeClient()
	fake.pingErr = errors.New("connection refused")
	require.ErrorContains(t, NewWithClient(fake, "", nil).Prepare(context.Background()), "connection refused")
}

func TestSeenDegradesToEmpty(t *testing.T) {
	t.Parallel()

	fake := newFakeClient()
	fake.readErr = errors.New("WRONGTYPE")
	seen, err := NewWithClient(fake, "", nil).Seen(context.Background())
	require.NoError(t, err)
	require.Empty(t, seen)
}

func TestSeenCountsCorruptValuesAsDone(t *testing.T) {
	t.Parallel()

	fake := newFakeClient()
	fake.hash["ratingharvest:results"] = map[string][]byte{
		"https://a.example": []byte(`{"score":"4.1","review_count":3,"success":true,"attempts":1}`),
		"https://b.example": []byte("not json"),
	}
	seen, err := NewWithClient(fake, "", nil).Seen(context.Background())
	require.NoError(t, err)
	require.Equal(t, map[string]struct{}{"https://a.example": {}, "https://b.example": {}}, seen)
}

func TestDecodeRejectsGarbage(t *testing.T) {
	t.Parallel()

	_, err := decode("https://a.example", []byte("not json"))
	require.Error(t, err)
}

func TestNewRequiresAddr(t *testing.T) {
	t.Parallel()

	_, err := New(Config{}, nil)
	require.Error(t, err)
}

type fakeClient struct {
	mu      sync.Mutex
	hash    map[string]map[string][]byte
	pingErr error
	readErr error
}

func newFakeClient() *fakeClient {
	return &fakeClient{hash: make(map[string]map[string][]byte)}
}

func (f *fakeClient) Ping(ctx context.Context) *goredis.StatusCmd {
	cmd := goredis.NewStatusCmd(ctx, "ping")
	if f.pingErr != nil {
		cmd.SetErr(f.pingErr)
	} else {
		cmd.SetVal("PONG")
	}
	return cmd
}

func (f *fakeClient) HGetAll(ctx context.Context, key string) *goredis.MapStringStringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	cmd := goredis.NewMapStringStringCmd(ctx, "hgetall", key)
	if f.readErr != nil {
		cmd.SetErr(f.readErr)
		return cmd
	}
	values := make(map[string]string, len(f.hash[key]))
	for k, v := range f.hash[key] {
		values[k] = string(v)
	}
	cmd.SetVal(values)
	return cmd
}

func (f *fakeClient) HSetNX(ctx context.Context, key, field string, value any) *goredis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	cmd := goredis.NewBoolCmd(ctx, "hsetnx", key, field, value)
	if f.hash[key] == nil {
		f.hash[key] = make(map[string][]byte)
	}
	if _, ok := f.hash[key][field]; ok {
		cmd.SetVal(false)
		return cmd
	}
	f.hash[key][field] = value.([]byte)
	cmd.SetVal(true)
	return cmd
}

func (f *fakeClient) Close() error {
	return nil
}
