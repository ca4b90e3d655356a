package cache

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestNullCache(t *testing.T) {
	ctx := context.Background()
	c := NewNullCache()
	defer c.Close()

	// Get always returns miss
	data, hit, err := c.Get(ctx, "key")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if hit {
		t.Error("NullCache.Get should always return miss")
	}
	if data != nil {
		t.Error("NullCache.Get should return nil data")
	}

	// Set does nothing (no error)
	if err := c.Set(ctx, "key", []byte("value"), time.Hour); err != nil {
		t.Errorf("Set error: %v", err)
	}

	// Still a miss after Set
	_, hit, _ = c.Get(ctx, "key")
	if hit {
		t.Error("NullCache should not store data")
	}

	if err := c.Delete(ctx, "key"); err != nil {
		t.Errorf("Delete error: %v", err)
	}
}

func TestFileCache(t *testing.T) {
	ctx := context.Background()
	c, err := NewFileCache(filepath.Join(t.TempDir(), "blobs"))
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	if _, hit, err := c.Get(ctx, "missing"); hit || err != nil {
		t.Errorf("Get(missing) = %v, %v", hit, err)
	}

	if err := c.Set(ctx, "k", []byte("hello"), 0); err != nil {
		t.Fatal(err)
	}
	data, hit, err := c.Get(ctx, "k")
	if err != nil || !hit || string(data) != "hello" {
		t.Errorf("Get(k) = %q, %v, %v", data, hit, err)
	}

	if err := c.Delete(ctx, "k"); err != nil {
		t.Fatal(err)
	}
	if _, hit, _ := c.Get(ctx, "k"); hit {
		t.Error("Get after Delete should miss")
	}
	if err := c.Delete(ctx, "k"); err != nil {
		t.Errorf("Delete(missing) = %v", err)
	}
}

func TestFileCache_Expiry(t *testing.T) {
	ctx := context.Background()
	c, _ := NewFileCache(t.TempDir())

	if err := c.Set(ctx, "k", []byte("v"), time.Nanosecond); err != nil {
		t.Fatal(err)
	}
	time.Sleep(5 * time.Millisecond)
	if _, hit, _ := c.Get(ctx, "k"); hit {
		t.Error("expired entry should miss")
	}
}

func TestFileCache_CorruptEntry(t *testing.T) {
	ctx := context.Background()
	c, _ := NewFileCache(t.TempDir())
	_ = c.Set(ctx, "k", []byte("v"), 0)

	if err := os.WriteFile(c.path("k"), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, hit, err := c.Get(ctx, "k"); hit || err != nil {
		t.Errorf("corrupt entry: hit=%v err=%v", hit, err)
	}
	if _, err := os.Stat(c.path("k")); !os.IsNotExist(err) {
		t.Error("corrupt entry should be removed")
	}
}

func TestFileCache_NoTempLeftovers(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	c, _ := NewFileCache(dir)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = c.Set(ctx, "shared", []byte("same"), 0)
		}()
	}
	wg.Wait()

	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err == nil && strings.HasPrefix(d.Name(), ".tmp-") {
			t.Errorf("temp file left behind: %s", path)
		}
		return err
	})
	if err != nil {
		t.Fatal(err)
	}
	if data, hit, _ := c.Get(ctx, "shared"); !hit || string(data) != "same" {
		t.Errorf("Get(shared) = %q, %v", data, hit)
	}
}

func TestFileCache_Clear(t *testing.T) {
	ctx := context.Background()
	c, _ := NewFileCache(t.TempDir())
	_ = c.Set(ctx, "a", []byte("1"), 0)
	_ = c.Set(ctx, "b", []byte("2"), 0)

	if err := c.Clear(); err != nil {
		t.Fatal(err)
	}
	if _, hit, _ := c.Get(ctx, "a"); hit {
		t.Error("Clear should remove entries")
	}
	if _, err := os.Stat(c.Dir()); err != nil {
		t.Errorf("Clear should keep the directory: %v", err)
	}
}

func TestHash(t *testing.T) {
	h1 := Hash([]byte("hello"))
	h2 := Hash([]byte("hello"))
	if h1 != h2 {
		t.Error("Hash should be deterministic")
	}

	h3 := Hash([]byte("world"))
	if h1 == h3 {
		t.Error("Different inputs should produce different hashes")
	}

	// SHA-256 produces 64 hex chars
	if len(h1) != 64 {
		t.Errorf("Hash length should be 64, got %d", len(h1))
	}
}

func TestDefaultKeyer(t *testing.T) {
	k := NewDefaultKeyer()

	if got := k.BlobKey("ABCDEF"); got != "blob:abcdef" {
		t.Errorf("BlobKey = %s", got)
	}
	u1 := k.URLKey("https://example.com/a.md")
	u2 := k.URLKey("https://example.com/b.md")
	if u1 == u2 || !strings.HasPrefix(u1, "url:") {
		t.Errorf("URLKey unexpected: %s %s", u1, u2)
	}
}

func TestScopedKeyer(t *testing.T) {
	scoped := NewScopedKeyer(NewDefaultKeyer(), "proj:")
	if got := scoped.BlobKey("ab"); got != "proj:blob:ab" {
		t.Errorf("BlobKey = %s", got)
	}
	if got := scoped.URLKey("https://x"); !strings.HasPrefix(got, "proj:url:") {
		t.Errorf("URLKey = %s", got)
	}
}

func TestScopedKeyerNilInner(t *testing.T) {
	scoped := NewScopedKeyer(nil, "prefix:")
	if key := scoped.BlobKey("ab"); key != "prefix:blob:ab" {
		t.Errorf("Unexpected key with nil inner: %s", key)
	}
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	c, err := Open(ctx, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := c.(*NullCache); !ok {
		t.Errorf("empty backend = %T, want *NullCache", c)
	}

	c, err = Open(ctx, Options{Backend: BackendFile, Dir: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := c.(*FileCache); !ok {
		t.Errorf("file backend = %T", c)
	}

	if _, err := Open(ctx, Options{Backend: "memcached"}); !errors.Is(err, ErrUnknownBackend) {
		t.Errorf("unknown backend err = %v", err)
	}
}

func TestNewRedisCache_Errors(t *testing.T) {
	ctx := context.Background()
	if _, err := NewRedisCache(ctx, RedisConfig{}); err == nil {
		t.Error("empty address should fail")
	}
	// Nothing listens on port 1.
	_, err := NewRedisCache(ctx, RedisConfig{Addr: "127.0.0.1:1", DialTimeout: 200 * time.Millisecond})
	if err == nil {
		t.Error("unreachable redis should fail")
	}
}

// STACKPACK_TEST_REDIS names a disposable Redis server, e.g. 127.0.0.1:6379.
func TestRedisCache(t *testing.T) {
	addr := os.Getenv("STACKPACK_TEST_REDIS")
	if addr == "" {
		t.Skip("STACKPACK_TEST_REDIS not set")
	}
	ctx := context.Background()
	c, err := NewRedisCache(ctx, RedisConfig{Addr: addr, DialTimeout: time.Second})
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	key := NewScopedKeyer(nil, "stackpack-test:"+t.Name()).BlobKey(Hash([]byte("x")))
	t.Cleanup(func() { _ = c.Delete(ctx, key) })

	if _, ok, err := c.Get(ctx, key); ok || err != nil {
		t.Fatalf("Get(missing) = %v, %v", ok, err)
	}
	if err := c.Set(ctx, key, []byte("content"), 0); err != nil {
		t.Fatal(err)
	}
	if data, ok, err := c.Get(ctx, key); !ok || err != nil || string(data) != "content" {
		t.Errorf("Get = %q, %v, %v", data, ok, err)
	}
	if err := c.Delete(ctx, key); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := c.Get(ctx, key); ok {
		t.Error("key survived Delete")
	}

	if err := c.Set(ctx, key, []byte("brief"), 50*time.Millisecond); err != nil {
		t.Fatal(err)
	}
	time.Sleep(150 * time.Millisecond)
	if _, ok, _ := c.Get(ctx, key); ok {
		t.Error("key survived its ttl")
	}
}
