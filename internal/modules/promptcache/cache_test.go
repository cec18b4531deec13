package promptcache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ry86pkqf74-rgb/researchflow-production-sub006/internal/modules/routing"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu   sync.Mutex
	data map[string]string
	ttls map[string]time.Duration
}

func newMemStore() *memStore {
	return &memStore{data: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (s *memStore) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data[key], nil
}

func (s *memStore) Set(_ context.Context, key string, value interface{}, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value.(string)
	s.ttls[key] = ttl
	return nil
}

func (s *memStore) Del(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.data, k)
	}
	return nil
}

func testEntry(content string) *routing.CacheEntry {
	return &routing.CacheEntry{
		Key:       "k1",
		Content:   content,
		TaskType:  "SUMMARIZE",
		ModelTier: "MINI",
		ModelID:   "test-model",
		Verdict:   routing.Verdict{Passed: true},
		CreatedAt: time.Now().UTC(),
	}
}

func TestFetchFillsOnMiss(t *testing.T) {
	store := newMemStore()
	cache := newWithStore(store, time.Hour, nil, nil)

	var calls int32
	entry, served, err := cache.Fetch(context.Background(), "k1", func(ctx context.Context) (*routing.CacheEntry, error) {
		atomic.AddInt32(&calls, 1)
		return testEntry("filled"), nil
	})

	require.NoError(t, err)
	require.False(t, served)
	require.Equal(t, "filled", entry.Content)
	require.EqualValues(t, 1, calls)

	// stored with the configured TTL
	require.Equal(t, time.Hour, store.ttls[entryKeyPrefix+"k1"])

	// second fetch is a hit, fill not called again
	entry, served, err = cache.Fetch(context.Background(), "k1", func(ctx context.Context) (*routing.CacheEntry, error) {
		atomic.AddInt32(&calls, 1)
		return testEntry("unexpected"), nil
	})
	require.NoError(t, err)
	require.True(t, served)
	require.Equal(t, "filled", entry.Content)
	require.EqualValues(t, 1, calls)
}

func TestFetchSingleFlight(t *testing.T) {
	store := newMemStore()
	cache := newWithStore(store, time.Hour, nil, nil)

	const workers = 16
	var fills int32
	release := make(chan struct{})

	var wg sync.WaitGroup
	var servedCount int32
	contents := make([]string, workers)
	errs := make([]error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			entry, served, err := cache.Fetch(context.Background(), "hot-key", func(ctx context.Context) (*routing.CacheEntry, error) {
				atomic.AddInt32(&fills, 1)
				<-release
				return testEntry("shared-result"), nil
			})
			if err != nil {
				errs[idx] = err
				return
			}
			if served {
				atomic.AddInt32(&servedCount, 1)
			}
			contents[idx] = entry.Content
		}(i)
	}

	// let every worker reach the flight before the fill completes
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	require.EqualValues(t, 1, fills, "fill must run exactly once")
	require.EqualValues(t, workers-1, servedCount, "exactly one caller is the fill winner")
	for _, content := range contents {
		require.Equal(t, "shared-result", content)
	}
}

func TestFetchFillErrorNotCached(t *testing.T) {
	store := newMemStore()
	cache := newWithStore(store, time.Hour, nil, nil)

	wantErr := errors.New("upstream exploded")
	_, _, err := cache.Fetch(context.Background(), "k1", func(ctx context.Context) (*routing.CacheEntry, error) {
		return nil, wantErr
	})
	require.ErrorIs(t, err, wantErr)

	// the failed flight is forgotten, a retry fills fresh
	entry, served, err := cache.Fetch(context.Background(), "k1", func(ctx context.Context) (*routing.CacheEntry, error) {
		return testEntry("recovered"), nil
	})
	require.NoError(t, err)
	require.False(t, served)
	require.Equal(t, "recovered", entry.Content)
}

func TestFetchFollowerCancellation(t *testing.T) {
	store := newMemStore()
	cache := newWithStore(store, time.Hour, nil, nil)

	release := make(chan struct{})
	winnerStarted := make(chan struct{})

	go func() {
		_, _, _ = cache.Fetch(context.Background(), "slow-key", func(ctx context.Context) (*routing.CacheEntry, error) {
			close(winnerStarted)
			<-release
			return testEntry("late"), nil
		})
	}()

	<-winnerStarted
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := cache.Fetch(ctx, "slow-key", func(ctx context.Context) (*routing.CacheEntry, error) {
		return testEntry("never"), nil
	})
	require.ErrorIs(t, err, context.Canceled)

	close(release)
}

func TestLookupDropsCorruptEntry(t *testing.T) {
	store := newMemStore()
	cache := newWithStore(store, time.Hour, nil, nil)

	require.NoError(t, store.Set(context.Background(), entryKeyPrefix+"bad", "{not json", 0))

	var calls int32
	entry, served, err := cache.Fetch(context.Background(), "bad", func(ctx context.Context) (*routing.CacheEntry, error) {
		atomic.AddInt32(&calls, 1)
		return testEntry("refilled"), nil
	})
	require.NoError(t, err)
	require.False(t, served)
	require.Equal(t, "refilled", entry.Content)
	require.EqualValues(t, 1, calls)
}

func TestDeleteRemovesEntry(t *testing.T) {
	store := newMemStore()
	cache := newWithStore(store, time.Hour, nil, nil)

	require.NoError(t, cache.Put(context.Background(), "k1", testEntry("cached")))
	_, ok := cache.Get(context.Background(), "k1")
	require.True(t, ok)

	require.NoError(t, cache.Delete(context.Background(), "k1"))
	_, ok = cache.Get(context.Background(), "k1")
	require.False(t, ok)

	require.Error(t, cache.Delete(context.Background(), "  "))
}
