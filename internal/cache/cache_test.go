package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

type fakeRedis struct {
	mu     sync.Mutex
	data   map[string]string
	getErr error
	sets   int
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{data: map[string]string{}}
}

func (f *fakeRedis) Get(ctx context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return redis.NewStringResult("", f.getErr)
	}
	v, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeRedis) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sets++
	switch v := value.(type) {
	case []byte:
		f.data[key] = string(v)
	case string:
		f.data[key] = v
	}
	return redis.NewStatusResult("OK", nil)
}

type title struct {
	Title string `json:"title"`
}

func TestGetOrRefreshCallsLoaderOnce(t *testing.T) {
	c := New(nil, "catalog", nil)
	calls := 0
	loader := func(ctx context.Context) (title, error) {
		calls++
		return title{Title: "PAN card"}, nil
	}

	for i := 0; i < 3; i++ {
		v, err := GetOrRefresh(context.Background(), c, "svc-1", time.Minute, loader)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if v.Title != "PAN card" {
			t.Fatalf("unexpected value %+v", v)
		}
	}
	if calls != 1 {
		t.Fatalf("expected 1 loader call, got %d", calls)
	}
	hits, misses := c.Stats()
	if hits != 2 || misses != 1 {
		t.Fatalf("unexpected stats hits=%d misses=%d", hits, misses)
	}
}

func TestGetOrRefreshExpires(t *testing.T) {
	c := New(nil, "", nil)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.nowFunc = func() time.Time { return now }
	calls := 0
	loader := func(ctx context.Context) (int, error) {
		calls++
		return calls, nil
	}

	v1, _ := GetOrRefresh(context.Background(), c, "k", time.Minute, loader)
	now = now.Add(2 * time.Minute)
	v2, _ := GetOrRefresh(context.Background(), c, "k", time.Minute, loader)
	if v1 != 1 || v2 != 2 {
		t.Fatalf("expected refresh after ttl, got %d then %d", v1, v2)
	}
}

func TestGetOrRefreshLoaderErrorNotCached(t *testing.T) {
	c := New(nil, "", nil)
	boom := errors.New("boom")
	if _, err := GetOrRefresh(context.Background(), c, "k", time.Minute, func(ctx context.Context) (string, error) {
		return "", boom
	}); !errors.Is(err, boom) {
		t.Fatalf("expected loader error, got %v", err)
	}
	v, err := GetOrRefresh(context.Background(), c, "k", time.Minute, func(ctx context.Context) (string, error) {
		return "ok", nil
	})
	if err != nil || v != "ok" {
		t.Fatalf("expected fresh load, got %q, %v", v, err)
	}
}

func TestGetOrRefreshSharesThroughRedis(t *testing.T) {
	r := newFakeRedis()
	first := New(r, "catalog", nil)
	second := New(r, "catalog", nil)

	if _, err := GetOrRefresh(context.Background(), first, "svc-1", time.Minute, func(ctx context.Context) (title, error) {
		return title{Title: "Aadhaar update"}, nil
	}); err != nil {
		t.Fatalf("first: %v", err)
	}
	if r.sets != 1 {
		t.Fatalf("expected one redis set, got %d", r.sets)
	}

	v, err := GetOrRefresh(context.Background(), second, "svc-1", time.Minute, func(ctx context.Context) (title, error) {
		t.Fatalf("loader should not run when redis has the value")
		return title{}, nil
	})
	if err != nil || v.Title != "Aadhaar update" {
		t.Fatalf("unexpected value %+v, %v", v, err)
	}
}

func TestRedisFailureFallsBackToLoader(t *testing.T) {
	r := newFakeRedis()
	r.getErr = errors.New("connection refused")
	c := New(r, "", nil)

	v, err := GetOrRefresh(context.Background(), c, "k", time.Minute, func(ctx context.Context) (string, error) {
		return "loaded", nil
	})
	if err != nil || v != "loaded" {
		t.Fatalf("expected loader fallback, got %q, %v", v, err)
	}
}

func TestConcurrentAccess(t *testing.T) {
	c := New(newFakeRedis(), "", nil)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			GetOrRefresh(context.Background(), c, "shared", time.Minute, func(ctx context.Context) (string, error) {
				return "v", nil
			})
		}()
	}
	wg.Wait()
	v, err := GetOrRefresh(context.Background(), c, "shared", time.Minute, func(ctx context.Context) (string, error) {
		return "other", nil
	})
	if err != nil || v != "v" {
		t.Fatalf("unexpected %q, %v", v, err)
	}
}
