package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cmdhub/cmdhub/internal/model"
)

func approved(reason string) model.Result {
	return model.Result{Decision: model.Approved, Confidence: model.High, Reason: reason}
}

func TestGetSetRoundTrip(t *testing.T) {
	t.Parallel()
	c := New(100, Capabilities{Bloom: true, HotSet: true})

	if _, ok := c.Get("missing"); ok {
		t.Error("Get() on missing key should return false")
	}

	c.Set("key1", approved("ok"), time.Minute)
	got, ok := c.Get("key1")
	if !ok {
		t.Fatal("Get() on existing key should return true")
	}
	if got.Reason != "ok" {
		t.Errorf("Get() = %+v, want reason %q", got, "ok")
	}
}

func TestExpiry(t *testing.T) {
	t.Parallel()
	c := New(100, Capabilities{})
	c.Set("k", approved("ok"), time.Millisecond)
	time.Sleep(5 * time.Millisecond)
	if _, ok := c.Get("k"); ok {
		t.Error("expired entry should not be returned")
	}
}

func TestZeroTTLNeverExpires(t *testing.T) {
	t.Parallel()
	c := New(100, Capabilities{})
	c.Set("k", approved("ok"), 0)
	time.Sleep(5 * time.Millisecond)
	if _, ok := c.Get("k"); !ok {
		t.Error("zero-TTL entry expired unexpectedly")
	}
}

func TestEvictionAtCapacity(t *testing.T) {
	t.Parallel()
	c := New(2, Capabilities{})
	c.Set("a", approved("a"), time.Minute)
	c.Set("b", approved("b"), time.Minute)
	c.Set("c", approved("c"), time.Minute)

	if c.Len() > 2 {
		t.Errorf("Len() = %d, want <= 2", c.Len())
	}
	if _, ok := c.Get("a"); ok {
		t.Error("oldest entry should have been evicted")
	}
	if _, ok := c.Get("c"); !ok {
		t.Error("most recently set entry should survive")
	}
}

func TestHotEntriesProtectedFromEviction(t *testing.T) {
	t.Parallel()
	c := New(2, Capabilities{HotSet: true})
	c.Set("hot", approved("hot"), time.Minute)

	// Access "hot" past the threshold so it gets promoted into the hot set.
	for i := 0; i <= model.DefaultHotThreshold; i++ {
		c.Get("hot")
	}

	c.Set("b", approved("b"), time.Minute)
	c.Set("d", approved("d"), time.Minute) // would evict "hot" if it weren't protected

	if _, ok := c.Get("hot"); !ok {
		t.Error("hot entry was evicted despite protection")
	}
}

func TestInvalidateBySubstring(t *testing.T) {
	t.Parallel()
	c := New(10, Capabilities{})
	c.Set("/project/a.txt", approved("a"), time.Minute)
	c.Set("/project/b.txt", approved("b"), time.Minute)
	c.Set("/other/c.txt", approved("c"), time.Minute)

	c.Invalidate("/project/")

	if _, ok := c.Get("/project/a.txt"); ok {
		t.Error("expected /project/a.txt to be invalidated")
	}
	if _, ok := c.Get("/other/c.txt"); !ok {
		t.Error("expected /other/c.txt to survive invalidation")
	}
}

func TestClear(t *testing.T) {
	t.Parallel()
	c := New(10, Capabilities{Bloom: true, HotSet: true})
	c.Set("a", approved("a"), time.Minute)
	c.Clear()
	if c.Len() != 0 {
		t.Errorf("Len() after Clear() = %d, want 0", c.Len())
	}
	if _, ok := c.Get("a"); ok {
		t.Error("entry survived Clear()")
	}
}

func TestBloomNeverFalseNegative(t *testing.T) {
	t.Parallel()
	c := New(1000, Capabilities{Bloom: true})
	keys := make([]string, 0, 500)
	for i := 0; i < 500; i++ {
		k := fmt.Sprintf("fingerprint-%d", i)
		keys = append(keys, k)
		c.Set(k, approved(k), time.Minute)
	}
	for _, k := range keys {
		if _, ok := c.Get(k); !ok {
			t.Fatalf("Bloom filter produced a false negative for %q", k)
		}
	}
}

func TestConcurrentAccess(t *testing.T) {
	t.Parallel()
	c := New(1000, Capabilities{Bloom: true, HotSet: true})
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			k := fmt.Sprintf("k-%d", i%10)
			c.Set(k, approved(k), time.Minute)
			c.Get(k)
		}(i)
	}
	wg.Wait()
}
