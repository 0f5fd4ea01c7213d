package vfs

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestMemoryCache(t *testing.T) {
	c := NewMemoryCache()

	c.Set("forever", 1, 0)
	c.Set("short", 2, 10*time.Millisecond)

	if v, ok := c.Get("forever"); !ok || v != 1 {
		t.Errorf("Get(forever) = %v, %v", v, ok)
	}
	time.Sleep(20 * time.Millisecond)
	if _, ok := c.Get("short"); ok {
		t.Error("expired entry returned")
	}

	c.Delete("forever")
	if _, ok := c.Get("forever"); ok {
		t.Error("deleted entry returned")
	}

	c.Set("a", 1, 0)
	c.Clear()
	stats := c.Stats()
	if stats.Size != 0 || stats.Hits != 1 || stats.Misses != 2 {
		t.Errorf("Stats() = %+v", stats)
	}
}

func TestExpiringCacheGetOrPopulate(t *testing.T) {
	c := NewExpiringCache[int](0)
	ctx := context.Background()

	var populates atomic.Int32
	release := make(chan struct{})
	populate := func(context.Context) (int, error) {
		populates.Add(1)
		<-release
		return 7, nil
	}

	var wg sync.WaitGroup
	results := make([]int, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = c.GetOrPopulate(ctx, populate)
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if n := populates.Load(); n != 1 {
		t.Errorf("populate calls = %d, want 1", n)
	}
	for i, r := range results {
		if r != 7 {
			t.Errorf("results[%d] = %d", i, r)
		}
	}

	if v, ok := c.Get(); !ok || v != 7 {
		t.Errorf("Get() = %v, %v", v, ok)
	}
	c.Invalidate()
	if _, ok := c.Get(); ok {
		t.Error("value survived Invalidate")
	}
}

func TestExpiringCacheCancellationIsPerCaller(t *testing.T) {
	c := NewExpiringCache[int](0)

	started := make(chan struct{})
	release := make(chan struct{})
	var populates atomic.Int32
	populate := func(ctx context.Context) (int, error) {
		if populates.Add(1) == 1 {
			close(started)
		}
		<-release
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		return 7, nil
	}

	ctx1, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := c.GetOrPopulate(ctx1, populate)
		first <- err
	}()
	<-started

	type result struct {
		v   int
		err error
	}
	second := make(chan result, 1)
	go func() {
		v, err := c.GetOrPopulate(context.Background(), populate)
		second <- result{v, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	if err := <-first; !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled caller error = %v", err)
	}
	close(release)

	r := <-second
	if r.err != nil || r.v != 7 {
		t.Errorf("other caller = %d, %v", r.v, r.err)
	}
	if n := populates.Load(); n != 1 {
		t.Errorf("populate calls = %d, want 1", n)
	}
	if v, ok := c.Get(); !ok || v != 7 {
		t.Errorf("Get() = %v, %v", v, ok)
	}
}

func TestExpiringCacheErrorsAreNotCached(t *testing.T) {
	c := NewExpiringCache[string](0)
	ctx := context.Background()

	calls := 0
	_, err := c.GetOrPopulate(ctx, func(context.Context) (string, error) {
		calls++
		return "", errors.New("list failed")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	v, err := c.GetOrPopulate(ctx, func(context.Context) (string, error) {
		calls++
		return "graph", nil
	})
	if err != nil || v != "graph" || calls != 2 {
		t.Errorf("GetOrPopulate() = %q, %v after %d calls", v, err, calls)
	}
}

func TestExpiringCacheInvalidateDuringPopulate(t *testing.T) {
	c := NewExpiringCache[int](0)
	ctx := context.Background()

	v, err := c.GetOrPopulate(ctx, func(context.Context) (int, error) {
		c.Invalidate()
		return 1, nil
	})
	if err != nil || v != 1 {
		t.Fatalf("GetOrPopulate() = %d, %v", v, err)
	}
	if _, ok := c.Get(); ok {
		t.Error("stale value stored after concurrent invalidation")
	}
}

func TestExpiringCacheIdleExpiry(t *testing.T) {
	c := NewExpiringCache[int](30 * time.Millisecond)
	defer c.Close()

	c.Set(1)
	for i := 0; i < 3; i++ {
		time.Sleep(15 * time.Millisecond)
		if _, ok := c.Get(); !ok {
			t.Fatalf("value expired although accessed (round %d)", i)
		}
	}

	time.Sleep(60 * time.Millisecond)
	if _, ok := c.Get(); ok {
		t.Error("value did not expire after idle window")
	}

	stats := c.Stats()
	if stats.Size != 0 {
		t.Errorf("Stats().Size = %d", stats.Size)
	}
}

func TestCachingTransport(t *testing.T) {
	m := newMockTransport("cloud", nil)
	m.put("cloud:///a.txt", "a")
	ct := NewCachingTransport(m, nil, time.Minute)
	ctx := context.Background()
	dir := NewDir("cloud:///")

	for i := 0; i < 3; i++ {
		if _, err := ct.Scandir(ctx, dir); err != nil {
			t.Fatal(err)
		}
		if _, err := ct.Exists(ctx, NewFile("cloud:///a.txt")); err != nil {
			t.Fatal(err)
		}
		if _, err := ct.FileInfo(ctx, NewFile("cloud:///a.txt")); err != nil {
			t.Fatal(err)
		}
	}
	if m.count("scandir") != 1 || m.count("exists") != 1 || m.count("fileinfo") != 1 {
		t.Errorf("calls = scandir:%d exists:%d fileinfo:%d, want 1 each",
			m.count("scandir"), m.count("exists"), m.count("fileinfo"))
	}

	list, _ := ct.Scandir(ctx, dir)
	list[0].Filename = "mutated"
	again, _ := ct.Scandir(ctx, dir)
	if again[0].Filename == "mutated" {
		t.Error("cached listing shared with caller")
	}

	if err := ct.Write(ctx, NewFile("cloud:///b.txt"), []byte("b")); err != nil {
		t.Fatal(err)
	}
	list, _ = ct.Scandir(ctx, dir)
	if len(list) != 2 || m.count("scandir") != 2 {
		t.Errorf("write did not invalidate: %d entries, %d scandirs", len(list), m.count("scandir"))
	}

	if _, err := ct.Read(ctx, NewFile("cloud:///a.txt")); err != nil {
		t.Fatal(err)
	}
	if _, err := ct.Read(ctx, NewFile("cloud:///a.txt")); err != nil {
		t.Fatal(err)
	}
	if m.count("read") != 2 {
		t.Error("content must not be cached")
	}

	if _, ok := capability[Initializer](ct); !ok {
		t.Error("capability lookup does not unwrap the cache")
	}
}
