package cache

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestMemory_SetGet(t *testing.T) {
	m := NewMemory(10)

	m.Set("k", "v", 0)
	v, ok := m.Get("k")
	if !ok || v.(string) != "v" {
		t.Fatalf("get = %v, %v", v, ok)
	}

	m.Delete("k")
	if _, ok := m.Get("k"); ok {
		t.Error("deleted key still present")
	}
}

func TestMemory_TTLExpiry(t *testing.T) {
	m := NewMemory(10)

	m.Set("short", "v", 20*time.Millisecond)
	m.Set("forever", "v", 0)

	if _, ok := m.Get("short"); !ok {
		t.Fatal("entry expired before its TTL")
	}

	time.Sleep(40 * time.Millisecond)

	if _, ok := m.Get("short"); ok {
		t.Error("entry readable past its TTL")
	}
	if _, ok := m.Get("forever"); !ok {
		t.Error("zero-TTL entry expired")
	}
}

func TestMemory_EvictsOldestWhenFull(t *testing.T) {
	m := NewMemory(3)

	m.Set("a", 1, 0)
	m.Set("b", 2, 0)
	m.Set("c", 3, 0)
	m.Set("d", 4, 0)

	if _, ok := m.Get("a"); ok {
		t.Error("oldest entry survived eviction")
	}
	if _, ok := m.Get("d"); !ok {
		t.Error("newest entry missing")
	}
	if m.Len() > 3 {
		t.Errorf("len = %d, want <= 3", m.Len())
	}
}

func TestMemory_EvictionPrefersExpired(t *testing.T) {
	m := NewMemory(2)

	m.Set("stale", 1, time.Nanosecond)
	m.Set("live", 2, 0)
	time.Sleep(time.Millisecond)

	m.Set("new", 3, 0)

	if _, ok := m.Get("live"); !ok {
		t.Error("live entry evicted while an expired one existed")
	}
	if _, ok := m.Get("new"); !ok {
		t.Error("new entry missing")
	}
}

func TestMemory_KeysFiltersByPrefix(t *testing.T) {
	m := NewMemory(10)
	m.Set("archives/a.tar", 1, 0)
	m.Set("archives/b.zip", 2, 0)
	m.Set("heads/a.tar", 3, 0)

	keys := m.Keys("archives/")
	if len(keys) != 2 {
		t.Fatalf("keys = %v", keys)
	}
	for _, k := range keys {
		if k != "archives/a.tar" && k != "archives/b.zip" {
			t.Errorf("unexpected key %q", k)
		}
	}
}

func TestLayers_FillBodyCoalescesConcurrentMisses(t *testing.T) {
	layers := NewLayers(NewMemory(10))

	var fills int32
	release := make(chan struct{})

	const n = 8
	var wg sync.WaitGroup
	results := make([]Body, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			body, err := layers.FillBody("a.tar", DefaultBodyTTL, func() (Body, error) {
				atomic.AddInt32(&fills, 1)
				<-release
				return Body{Data: []byte("payload")}, nil
			})
			if err != nil {
				t.Errorf("fill: %v", err)
				return
			}
			results[i] = body
		}(i)
	}

	// Let the goroutines pile onto the flight before releasing the fill.
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := atomic.LoadInt32(&fills); got != 1 {
		t.Errorf("fill ran %d times, want 1", got)
	}
	for i, body := range results {
		if string(body.Data) != "payload" {
			t.Errorf("waiter %d got %q", i, body.Data)
		}
	}
}

func TestLayers_SetBodyWinsOverStaleFill(t *testing.T) {
	layers := NewLayers(NewMemory(10))

	started := make(chan struct{})
	release := make(chan struct{})

	done := make(chan struct{})
	go func() {
		defer close(done)
		layers.FillBody("a.tar", DefaultBodyTTL, func() (Body, error) {
			close(started)
			<-release
			return Body{Data: []byte("stale"), ETag: "v1"}, nil
		})
	}()

	// The fill is fetching the old object when the invalidator pushes
	// the refreshed one.
	<-started
	layers.SetBody("a.tar", Body{Data: []byte("fresh"), ETag: "v2"}, DefaultBodyTTL)

	close(release)
	<-done

	body, ok := layers.Body("a.tar")
	if !ok {
		t.Fatal("body missing after refresh")
	}
	if string(body.Data) != "fresh" || body.ETag != "v2" {
		t.Errorf("stale fill clobbered refresh: got %q etag %q", body.Data, body.ETag)
	}
}

func TestLayers_PurgeWinsOverStaleFill(t *testing.T) {
	layers := NewLayers(NewMemory(10))

	started := make(chan struct{})
	release := make(chan struct{})

	done := make(chan struct{})
	go func() {
		defer close(done)
		layers.FillBody("a.tar", DefaultBodyTTL, func() (Body, error) {
			close(started)
			<-release
			return Body{Data: []byte("stale")}, nil
		})
	}()

	<-started
	layers.PurgeBody("a.tar")

	close(release)
	<-done

	if _, ok := layers.Body("a.tar"); ok {
		t.Error("stale fill repopulated a purged key")
	}
}

func TestLayers_FillBodyServesCachedWithoutFill(t *testing.T) {
	layers := NewLayers(NewMemory(10))
	layers.SetBody("a.tar", Body{Data: []byte("cached")}, DefaultBodyTTL)

	body, err := layers.FillBody("a.tar", DefaultBodyTTL, func() (Body, error) {
		t.Error("fill ran despite cache hit")
		return Body{}, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if string(body.Data) != "cached" {
		t.Errorf("body = %q", body.Data)
	}
}

func TestLayers_FillErrorNotCached(t *testing.T) {
	layers := NewLayers(NewMemory(10))

	want := errors.New("boom")
	if _, err := layers.FillBody("a.tar", DefaultBodyTTL, func() (Body, error) {
		return Body{}, want
	}); !errors.Is(err, want) {
		t.Fatalf("err = %v", err)
	}

	// The failure must not leave a cache entry behind.
	if _, ok := layers.Body("a.tar"); ok {
		t.Error("failed fill left a body entry")
	}

	body, err := layers.FillBody("a.tar", DefaultBodyTTL, func() (Body, error) {
		return Body{Data: []byte("ok")}, nil
	})
	if err != nil || string(body.Data) != "ok" {
		t.Errorf("retry = %q, %v", body.Data, err)
	}
}

func TestLayers_KeyspacesAreDisjoint(t *testing.T) {
	layers := NewLayers(NewMemory(10))

	layers.SetBody("x", Body{Data: []byte("b")}, 0)
	layers.SetETag("x", "etag-1")

	if _, ok := layers.Index("x"); ok {
		t.Error("body write visible in index keyspace")
	}
	if _, ok := layers.Head("x"); ok {
		t.Error("body write visible in head keyspace")
	}
	etag, ok := layers.ETag("x")
	if !ok || etag != "etag-1" {
		t.Errorf("etag = %q, %v", etag, ok)
	}
}

func TestLayers_PurgeDropsDerivedEntriesKeepsETag(t *testing.T) {
	layers := NewLayers(NewMemory(10))

	layers.SetBody("x", Body{Data: []byte("b")}, 0)
	if _, err := layers.FillIndex("x", func() (IndexRegion, error) {
		return IndexRegion{Data: []byte("idx"), TotalLength: 3}, nil
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := layers.FillHead("x", func() (HeadEntry, error) {
		return HeadEntry{Key: "x"}, nil
	}); err != nil {
		t.Fatal(err)
	}
	layers.SetETag("x", "e1")

	layers.Purge("x")

	if _, ok := layers.Body("x"); ok {
		t.Error("body survived purge")
	}
	if _, ok := layers.Index("x"); ok {
		t.Error("index survived purge")
	}
	if _, ok := layers.Head("x"); ok {
		t.Error("head survived purge")
	}
	if _, ok := layers.ETag("x"); !ok {
		t.Error("etag dropped by purge")
	}
}

func TestLayers_BodyArchivesStripsPrefix(t *testing.T) {
	layers := NewLayers(NewMemory(10))
	layers.SetBody("docs.zip", Body{}, 0)
	layers.SetBody("site.tar.gz", Body{}, 0)

	archives := layers.BodyArchives()
	if len(archives) != 2 {
		t.Fatalf("archives = %v", archives)
	}
	for _, a := range archives {
		if a != "docs.zip" && a != "site.tar.gz" {
			t.Errorf("unexpected archive %q", a)
		}
	}
}

func TestClampBodyTTL(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want time.Duration
	}{
		{0, DefaultBodyTTL},
		{-time.Minute, DefaultBodyTTL},
		{time.Hour, time.Hour},
		{100 * time.Hour, MaxBodyTTL},
	}
	for _, tt := range tests {
		if got := ClampBodyTTL(tt.in); got != tt.want {
			t.Errorf("ClampBodyTTL(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
