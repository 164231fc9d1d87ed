package links

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockStore struct {
	mock.Mock
}

func (m *mockStore) Insert(ctx context.Context, link *Link) error {
	args := m.Called(ctx, link)
	return args.Error(0)
}

func (m *mockStore) GetByID(ctx context.Context, id string) (*Link, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Link), args.Error(1)
}

func (m *mockStore) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *mockStore) ListByOwner(ctx context.Context, ownerID string) ([]Link, error) {
	args := m.Called(ctx, ownerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]Link), args.Error(1)
}

func TestCreate(t *testing.T) {
	store := new(mockStore)
	store.On("Insert", mock.Anything, mock.Anything).Return(nil)

	svc := NewService(store)
	link, err := svc.Create(context.Background(), "https://example.com/article", "user-1")
	require.NoError(t, err)

	assert.Len(t, link.ID, 7)
	assert.Regexp(t, "^[a-zA-Z0-9]{7}$", link.ID)
	assert.Equal(t, "https://example.com/article", link.Destination)
	assert.Equal(t, "user-1", link.OwnerID)
	assert.False(t, link.CreatedAt.IsZero())
	store.AssertNumberOfCalls(t, "Insert", 1)
}

func TestCreateInvalidDestination(t *testing.T) {
	store := new(mockStore)
	svc := NewService(store)

	for _, dest := range []string{
		"not-a-url",
		"",
		"ftp://example.com/file",
		"/relative/path",
		"https://",
	} {
		link, err := svc.Create(context.Background(), dest, "")
		assert.ErrorIs(t, err, ErrInvalidDestination, "destination %q should be rejected", dest)
		assert.Nil(t, link)
	}

	// Rejected before any write
	store.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything)
}

func TestCreateRetriesOnCollision(t *testing.T) {
	store := new(mockStore)
	store.On("Insert", mock.Anything, mock.Anything).Return(ErrCodeTaken).Twice()
	store.On("Insert", mock.Anything, mock.Anything).Return(nil).Once()

	svc := NewService(store)
	link, err := svc.Create(context.Background(), "https://example.com", "")
	require.NoError(t, err)
	require.NotNil(t, link)

	store.AssertNumberOfCalls(t, "Insert", 3)
}

func TestCreateExhausted(t *testing.T) {
	store := new(mockStore)
	store.On("Insert", mock.Anything, mock.Anything).Return(ErrCodeTaken)

	svc := NewService(store)
	svc.attempts = 2
	svc.maxLength = svc.codeLength + 1

	link, err := svc.Create(context.Background(), "https://example.com", "")
	assert.ErrorIs(t, err, ErrExhausted)
	assert.Nil(t, link)

	// attempts per length, for every length up to the maximum
	store.AssertNumberOfCalls(t, "Insert", 4)
}

// fakeStore is an in-memory store with the same atomic check-and-insert
// semantics as the SQL repository.
type fakeStore struct {
	mu    sync.Mutex
	links map[string]*Link
}

func newFakeStore() *fakeStore {
	return &fakeStore{links: make(map[string]*Link)}
}

func (f *fakeStore) Insert(_ context.Context, link *Link) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.links[link.ID]; exists {
		return ErrCodeTaken
	}
	f.links[link.ID] = link
	return nil
}

func (f *fakeStore) GetByID(_ context.Context, id string) (*Link, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	link, ok := f.links[id]
	if !ok {
		return nil, ErrNotFound
	}
	return link, nil
}

func (f *fakeStore) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.links[id]; !ok {
		return ErrNotFound
	}
	delete(f.links, id)
	return nil
}

func (f *fakeStore) ListByOwner(_ context.Context, ownerID string) ([]Link, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Link
	for _, l := range f.links {
		if l.OwnerID == ownerID {
			out = append(out, *l)
		}
	}
	return out, nil
}

func TestCreateConcurrentUniqueIDs(t *testing.T) {
	store := newFakeStore()
	svc := NewService(store)

	const n = 100
	ids := make(chan string, n)
	var wg sync.WaitGroup

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			link, err := svc.Create(context.Background(), "https://example.com", "")
			assert.NoError(t, err)
			ids <- link.ID
		}()
	}

	wg.Wait()
	close(ids)

	seen := make(map[string]bool)
	for id := range ids {
		assert.False(t, seen[id], "duplicate id handed out: %s", id)
		seen[id] = true
	}
	assert.Len(t, seen, n)
}

func TestDeleteOwnership(t *testing.T) {
	store := new(mockStore)
	owned := &Link{ID: "abc1234", Destination: "https://example.com", OwnerID: "alice"}
	store.On("GetByID", mock.Anything, "abc1234").Return(owned, nil)
	store.On("Delete", mock.Anything, "abc1234").Return(nil)

	svc := NewService(store)

	err := svc.Delete(context.Background(), "abc1234", "mallory")
	assert.ErrorIs(t, err, ErrForbidden)
	store.AssertNotCalled(t, "Delete", mock.Anything, "abc1234")

	err = svc.Delete(context.Background(), "abc1234", "alice")
	assert.NoError(t, err)
	store.AssertCalled(t, "Delete", mock.Anything, "abc1234")
}

func TestDeleteAnonymousLink(t *testing.T) {
	store := new(mockStore)
	anon := &Link{ID: "zzz9999", Destination: "https://example.com"}
	store.On("GetByID", mock.Anything, "zzz9999").Return(anon, nil)
	store.On("Delete", mock.Anything, "zzz9999").Return(nil)

	svc := NewService(store)
	err := svc.Delete(context.Background(), "zzz9999", "anyone")
	assert.NoError(t, err)
}

func TestDeleteNotFound(t *testing.T) {
	store := new(mockStore)
	store.On("GetByID", mock.Anything, "missing").Return(nil, ErrNotFound)

	svc := NewService(store)
	err := svc.Delete(context.Background(), "missing", "alice")
	assert.ErrorIs(t, err, ErrNotFound)
}
