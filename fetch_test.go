package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

// newTestFetcher builds a fetcher suitable for loopback test servers.
func newTestFetcher(t *testing.T, cfg *config) *fetcher {
	t.Helper()
	t.Setenv("WIRE2EPUB_TEST_ALLOW_LOCAL", "1")
	if cfg.Threads == 0 {
		cfg.Threads = 1
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	f, err := newFetcher(cfg)
	if err != nil {
		t.Fatal(err)
	}
	return f
}

func TestGetHTML_Success(t *testing.T) {
	expected := "<html><body>Hello</body></html>"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(expected))
	}))
	defer srv.Close()

	f := newTestFetcher(t, &config{})
	body, u, err := f.getHTML(context.Background(), srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	if string(body) != expected {
		t.Errorf("got %q, want %q", string(body), expected)
	}
	if u.Host == "" {
		t.Error("expected parsed URL with host")
	}
}

func TestGetHTML_NotFoundNoRetry(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(404)
	}))
	defer srv.Close()

	f := newTestFetcher(t, &config{Retries: 3})
	_, _, err := f.getHTML(context.Background(), srv.URL)
	if err == nil {
		t.Fatal("expected error for 404")
	}
	if !strings.Contains(err.Error(), "404") {
		t.Errorf("expected 404 in error, got: %v", err)
	}
	if n := atomic.LoadInt32(&hits); n != 1 {
		t.Errorf("404 should not be retried, server hit %d times", n)
	}
}

func TestGetHTML_RetriesServerError(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) == 1 {
			w.WriteHeader(500)
			return
		}
		w.Write([]byte("recovered"))
	}))
	defer srv.Close()

	f := newTestFetcher(t, &config{Retries: 2})
	body, _, err := f.getHTML(context.Background(), srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	if string(body) != "recovered" {
		t.Errorf("got %q", string(body))
	}
	if n := atomic.LoadInt32(&hits); n != 2 {
		t.Errorf("server hit %d times, want 2", n)
	}
}

func TestGetHTML_ContextCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(2 * time.Second)
	}))
	defer srv.Close()

	f := newTestFetcher(t, &config{})
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	if _, _, err := f.getHTML(ctx, srv.URL); err == nil {
		t.Fatal("expected error after cancellation")
	}
}

func TestGetHTML_BrowserHeaders(t *testing.T) {
	var gotUA, gotAccept string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotAccept = r.Header.Get("Accept")
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	f := newTestFetcher(t, &config{})
	if _, _, err := f.getHTML(context.Background(), srv.URL); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(gotUA, "Mozilla/5.0") {
		t.Errorf("User-Agent = %q, want browser-like", gotUA)
	}
	if !strings.Contains(gotAccept, "text/html") {
		t.Errorf("Accept = %q, want text/html", gotAccept)
	}
}

func TestGetImage_RejectsNonImage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html>not an image</html>"))
	}))
	defer srv.Close()

	f := newTestFetcher(t, &config{})
	if _, _, err := f.getImage(context.Background(), srv.URL); err == nil {
		t.Fatal("expected error for non-image response")
	}
}

func TestWaitPolite_SpacesRequests(t *testing.T) {
	f := &fetcher{delay: 50 * time.Millisecond, lastHit: map[string]time.Time{}}
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := f.waitPolite(ctx, "example.com"); err != nil {
			t.Fatal(err)
		}
	}
	if elapsed := time.Since(start); elapsed < 100*time.Millisecond {
		t.Errorf("three requests completed in %v, want at least 100ms", elapsed)
	}

	// A different host is not delayed by example.com's slot.
	start = time.Now()
	if err := f.waitPolite(ctx, "other.org"); err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed > 40*time.Millisecond {
		t.Errorf("unrelated host delayed %v", elapsed)
	}
}

func TestResponseCache_RoundTrip(t *testing.T) {
	cache, err := newResponseCache(t.TempDir(), false)
	if err != nil {
		t.Fatal(err)
	}

	url := "https://mises.org/wire/some-article"
	if _, _, ok := cache.get(url); ok {
		t.Fatal("unexpected hit on empty cache")
	}

	cache.put(url, []byte("<html>cached</html>"), "text/html; charset=utf-8")
	body, ctype, ok := cache.get(url)
	if !ok {
		t.Fatal("expected cache hit")
	}
	if string(body) != "<html>cached</html>" {
		t.Errorf("body = %q", string(body))
	}
	if ctype != "text/html; charset=utf-8" {
		t.Errorf("content type = %q", ctype)
	}
}

func TestResponseCache_Clear(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "cache")
	cache, err := newResponseCache(dir, false)
	if err != nil {
		t.Fatal(err)
	}
	cache.put("https://mises.org/wire/a", []byte("x"), "text/html")

	cache, err = newResponseCache(dir, true)
	if err != nil {
		t.Fatal(err)
	}
	if _, _, ok := cache.get("https://mises.org/wire/a"); ok {
		t.Error("cache should be empty after clear")
	}
}

func TestFetcherUsesCache(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Write([]byte("<html>page</html>"))
	}))
	defer srv.Close()

	f := newTestFetcher(t, &config{UseCache: true, CacheDir: t.TempDir()})
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, _, err := f.getHTML(ctx, srv.URL+"/article"); err != nil {
			t.Fatal(err)
		}
	}
	if n := atomic.LoadInt32(&hits); n != 1 {
		t.Errorf("server hit %d times, want 1 with cache enabled", n)
	}
}

func TestReadLimited(t *testing.T) {
	data, err := readLimited(strings.NewReader("hello"), 10)
	if err != nil || string(data) != "hello" {
		t.Errorf("got %q, %v", data, err)
	}
	if _, err := readLimited(strings.NewReader("too long body"), 5); err == nil {
		t.Error("expected error for oversized body")
	}
}
