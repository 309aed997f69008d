package cache

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestAssets_GetMissAndFill(t *testing.T) {
	a := NewAssets(10, time.Hour)
	key := Key("https://cdn.example.com/loader.js")

	if _, ok := a.Get(key); ok {
		t.Fatal("expected miss on empty cache")
	}

	asset, err := a.GetOrFill(key, func() (*Asset, error) {
		return &Asset{Body: []byte("js"), ContentType: "text/javascript"}, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(asset.Body) != "js" {
		t.Errorf("body = %q, want js", asset.Body)
	}

	if _, ok := a.Get(key); !ok {
		t.Error("expected hit after fill")
	}
}

func TestAssets_ConcurrentFillRunsOnce(t *testing.T) {
	a := NewAssets(10, time.Hour)
	key := Key("https://cdn.example.com/shared.js")

	var fills atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := a.GetOrFill(key, func() (*Asset, error) {
				fills.Add(1)
				time.Sleep(10 * time.Millisecond)
				return &Asset{Body: []byte("x")}, nil
			})
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if n := fills.Load(); n != 1 {
		t.Errorf("fill ran %d times, want 1", n)
	}
}

func TestAssets_FillErrorNotCached(t *testing.T) {
	a := NewAssets(10, time.Hour)
	key := Key("https://cdn.example.com/broken.js")

	_, err := a.GetOrFill(key, func() (*Asset, error) {
		return nil, errors.New("origin unreachable")
	})
	if err == nil {
		t.Fatal("expected fill error to propagate")
	}
	if _, ok := a.Get(key); ok {
		t.Error("failed fill must not be cached")
	}
}

func TestAssets_TTLExpiry(t *testing.T) {
	a := NewAssets(10, 10*time.Millisecond)
	key := Key("https://cdn.example.com/ttl.js")

	if _, err := a.GetOrFill(key, func() (*Asset, error) {
		return &Asset{Body: []byte("x")}, nil
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	time.Sleep(25 * time.Millisecond)
	if _, ok := a.Get(key); ok {
		t.Error("expected expired entry to miss")
	}
}

func TestAssets_CapacityEviction(t *testing.T) {
	a := NewAssets(2, time.Hour)
	for _, u := range []string{"a", "b", "c"} {
		u := u
		if _, err := a.GetOrFill(Key(u), func() (*Asset, error) {
			return &Asset{Body: []byte(u)}, nil
		}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	a.mu.RLock()
	n := len(a.store)
	a.mu.RUnlock()
	if n > 2 {
		t.Errorf("store holds %d entries, want at most 2", n)
	}
}
