package resolver

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/cliply/cliply/internal/links"
)

type mockStore struct {
	mock.Mock
}

func (m *mockStore) GetByID(ctx context.Context, id string) (*links.Link, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*links.Link), args.Error(1)
}

// stubCache is an in-memory Cache for tests.
type stubCache struct {
	mu      sync.Mutex
	entries map[string]string
}

func newStubCache() *stubCache {
	return &stubCache{entries: make(map[string]string)}
}

func (c *stubCache) Get(_ context.Context, key string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.entries[key]
	return v, ok, nil
}

func (c *stubCache) Set(_ context.Context, key, value string, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = value
	return nil
}

func (c *stubCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	return nil
}

func TestResolveCacheHit(t *testing.T) {
	store := new(mockStore)
	cache := newStubCache()
	cache.Set(context.Background(), "aZ3kQ1x", "https://example.com/article", time.Hour)

	r := New(store, cache, time.Hour)
	dest, err := r.Resolve(context.Background(), "aZ3kQ1x")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/article", dest)

	store.AssertNotCalled(t, "GetByID", mock.Anything, mock.Anything)
}

func TestResolveCacheMiss(t *testing.T) {
	store := new(mockStore)
	store.On("GetByID", mock.Anything, "aZ3kQ1x").Return(&links.Link{
		ID:          "aZ3kQ1x",
		Destination: "https://example.com/article",
	}, nil).Once()

	cache := newStubCache()
	r := New(store, cache, time.Hour)

	dest, err := r.Resolve(context.Background(), "aZ3kQ1x")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/article", dest)

	// Second resolve is served from cache
	dest, err = r.Resolve(context.Background(), "aZ3kQ1x")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/article", dest)
	store.AssertNumberOfCalls(t, "GetByID", 1)
}

func TestResolveNotFound(t *testing.T) {
	store := new(mockStore)
	store.On("GetByID", mock.Anything, "missing").Return(nil, links.ErrNotFound)

	r := New(store, newStubCache(), time.Hour)
	_, err := r.Resolve(context.Background(), "missing")
	assert.ErrorIs(t, err, links.ErrNotFound)
}

func TestResolveRetriesTransientFailure(t *testing.T) {
	store := new(mockStore)
	store.On("GetByID", mock.Anything, "flaky12").Return(nil, links.ErrStorageUnavailable).Once()
	store.On("GetByID", mock.Anything, "flaky12").Return(&links.Link{
		ID:          "flaky12",
		Destination: "https://example.com",
	}, nil).Once()

	r := New(store, newStubCache(), time.Hour)
	dest, err := r.Resolve(context.Background(), "flaky12")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com", dest)
	store.AssertNumberOfCalls(t, "GetByID", 2)
}

func TestResolveSurfacesPersistentFailure(t *testing.T) {
	store := new(mockStore)
	store.On("GetByID", mock.Anything, "down123").Return(nil, links.ErrStorageUnavailable)

	r := New(store, newStubCache(), time.Hour)
	_, err := r.Resolve(context.Background(), "down123")
	assert.ErrorIs(t, err, links.ErrStorageUnavailable)

	// One retry only
	store.AssertNumberOfCalls(t, "GetByID", 2)
}

func TestInvalidate(t *testing.T) {
	store := new(mockStore)
	store.On("GetByID", mock.Anything, "gone123").Return(nil, links.ErrNotFound)

	cache := newStubCache()
	cache.Set(context.Background(), "gone123", "https://example.com", time.Hour)

	r := New(store, cache, time.Hour)
	r.Invalidate(context.Background(), "gone123")

	_, err := r.Resolve(context.Background(), "gone123")
	assert.ErrorIs(t, err, links.ErrNotFound)
}
