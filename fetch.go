// HTTP fetching with a browser-like TLS fingerprint, retry with backoff,
// and a per-host politeness delay shared by all workers.
package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	utls "github.com/refraction-networking/utls"
	"golang.org/x/net/http2"
)

// userAgents is rotated per request, keyed off the wall clock, so long runs
// don't present a single static fingerprint.
var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/114.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.5 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/114.0.0.0 Safari/537.36",
}

// maxResponseBytes caps how much of any single response body is read.
const maxResponseBytes int64 = 128 * 1024 * 1024

func humanSize(n int64) string {
	units := []string{"B", "KB", "MB", "GB", "TB"}
	f := float64(n)
	for _, u := range units {
		if math.Abs(f) < 1024 {
			return fmt.Sprintf("%.1f%s", f, u)
		}
		f /= 1024
	}
	return fmt.Sprintf("%.1f%s", f, units[len(units)-1])
}

// readLimited reads up to limit bytes from r, erroring if the body is larger.
func readLimited(r io.Reader, limit int64) ([]byte, error) {
	if limit <= 0 {
		return io.ReadAll(r)
	}
	lr := io.LimitReader(r, limit+1)
	data, err := io.ReadAll(lr)
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("response body exceeds maximum allowed size (%s)", humanSize(limit))
	}
	return data, nil
}

// utlsConn wraps a utls.UConn and satisfies net.Conn plus the
// ConnectionState interface net/http2 needs.
type utlsConn struct {
	*utls.UConn
}

func (c *utlsConn) ConnectionState() tls.ConnectionState {
	cs := c.UConn.ConnectionState()
	return tls.ConnectionState{
		Version:                    cs.Version,
		HandshakeComplete:          cs.HandshakeComplete,
		CipherSuite:                cs.CipherSuite,
		NegotiatedProtocol:         cs.NegotiatedProtocol,
		NegotiatedProtocolIsMutual: cs.NegotiatedProtocolIsMutual,
		ServerName:                 cs.ServerName,
		PeerCertificates:           cs.PeerCertificates,
		VerifiedChains:             cs.VerifiedChains,
		OCSPResponse:               cs.OCSPResponse,
		TLSUnique:                  cs.TLSUnique,
	}
}

// browserTransport dials with utls and routes to an HTTP/1.1 or HTTP/2
// transport based on ALPN negotiation.
type browserTransport struct {
	dialer   *net.Dialer
	h1       *http.Transport
	h2       *http2.Transport
	insecure bool
}

func (bt *browserTransport) dialUTLS(ctx context.Context, network, addr string) (net.Conn, string, error) {
	conn, err := safeDialContext(bt.dialer)(ctx, network, addr)
	if err != nil {
		return nil, "", err
	}

	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}

	tlsConn := utls.UClient(conn, &utls.Config{
		ServerName:         host,
		InsecureSkipVerify: bt.insecure,
	}, utls.HelloFirefox_120)

	if err := tlsConn.HandshakeContext(ctx); err != nil {
		conn.Close()
		return nil, "", err
	}

	alpn := tlsConn.ConnectionState().NegotiatedProtocol
	return &utlsConn{tlsConn}, alpn, nil
}

func (bt *browserTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.URL.Scheme != "https" {
		return bt.h1.RoundTrip(req)
	}

	addr := req.URL.Host
	if !hasPort(addr) {
		addr = addr + ":443"
	}

	conn, alpn, err := bt.dialUTLS(req.Context(), "tcp", addr)
	if err != nil {
		return nil, err
	}

	if alpn == "h2" {
		h2conn, err := bt.h2.NewClientConn(conn)
		if err != nil {
			conn.Close()
			return nil, err
		}
		return h2conn.RoundTrip(req)
	}

	// For HTTP/1.1, inject the TLS conn into a one-shot transport.
	transport := &http.Transport{
		DialTLSContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			return conn, nil
		},
	}
	return transport.RoundTrip(req)
}

func hasPort(host string) bool {
	_, _, err := net.SplitHostPort(host)
	return err == nil
}

// fetcher owns the HTTP clients, the politeness limiter, and the optional
// response cache. One fetcher serves the whole run.
type fetcher struct {
	client  *http.Client
	cache   *responseCache
	retries int
	delay   time.Duration

	mu      sync.Mutex
	lastHit map[string]time.Time // host -> reserved time of last request
}

// newBrowserClient creates an HTTP client with a browser TLS fingerprint.
func newBrowserClient(timeout time.Duration, insecure bool) *http.Client {
	dialer := &net.Dialer{Timeout: timeout}
	return &http.Client{
		Timeout: timeout,
		Transport: &browserTransport{
			dialer:   dialer,
			h1:       &http.Transport{DialContext: safeDialContext(dialer)},
			h2:       &http2.Transport{},
			insecure: insecure,
		},
	}
}

// newProxyClient creates a standard-TLS client routed through proxyAddr.
// uTLS cannot negotiate CONNECT tunnels, so proxied requests fall back to
// crypto/tls.
func newProxyClient(proxyAddr string, timeout time.Duration, insecure bool) (*http.Client, error) {
	proxyURL, err := url.Parse(proxyAddr)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy URL %q: %w", proxyAddr, err)
	}
	transport := &http.Transport{
		DialContext:     safeDialContext(&net.Dialer{Timeout: timeout}),
		Proxy:           http.ProxyURL(proxyURL),
		TLSClientConfig: &tls.Config{InsecureSkipVerify: insecure},
	}
	return &http.Client{Timeout: timeout, Transport: transport}, nil
}

func newFetcher(cfg *config) (*fetcher, error) {
	var client *http.Client
	var err error
	if cfg.Proxy != "" {
		client, err = newProxyClient(cfg.Proxy, cfg.Timeout, cfg.Insecure)
		if err != nil {
			return nil, err
		}
	} else {
		client = newBrowserClient(cfg.Timeout, cfg.Insecure)
	}

	f := &fetcher{
		client:  client,
		retries: cfg.Retries,
		delay:   cfg.Delay,
		lastHit: map[string]time.Time{},
	}

	if cfg.UseCache {
		cache, err := newResponseCache(cfg.CacheDir, cfg.ClearCache)
		if err != nil {
			return nil, err
		}
		f.cache = cache
	}
	return f, nil
}

// waitPolite blocks until at least the configured delay has elapsed since
// the previous request to the same host. The slot is reserved under the
// lock, so concurrent workers targeting one host queue up rather than
// stampede.
func (f *fetcher) waitPolite(ctx context.Context, host string) error {
	if f.delay <= 0 {
		return ctx.Err()
	}
	f.mu.Lock()
	now := time.Now()
	next := f.lastHit[host].Add(f.delay)
	if next.Before(now) {
		next = now
	}
	f.lastHit[host] = next
	f.mu.Unlock()

	wait := time.Until(next)
	if wait <= 0 {
		return ctx.Err()
	}
	select {
	case <-time.After(wait):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// do performs one GET with retries and exponential backoff. Every attempt
// respects the politeness delay and the run context. 5xx and 429 responses
// are retried; other non-2xx statuses fail immediately.
func (f *fetcher) do(ctx context.Context, rawURL string, accept string) (*http.Response, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL %q: %w", rawURL, err)
	}

	var lastErr error
	for attempt := 0; attempt <= f.retries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<uint(attempt-1)) * time.Second
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		if err := f.waitPolite(ctx, parsed.Host); err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, "GET", rawURL, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", userAgents[int(time.Now().Unix())%len(userAgents)])
		req.Header.Set("Accept", accept)
		req.Header.Set("Accept-Language", "en-US,en;q=0.5")

		resp, err := f.client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			resp.Body.Close()
			lastErr = fmt.Errorf("HTTP %d for %s", resp.StatusCode, rawURL)
			continue
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			resp.Body.Close()
			return nil, fmt.Errorf("HTTP %d for %s", resp.StatusCode, rawURL)
		}
		return resp, nil
	}
	return nil, fmt.Errorf("fetch failed after %d attempts: %w", f.retries+1, lastErr)
}

// getHTML downloads a page and returns the body and the parsed URL.
// Served from the response cache when one is configured.
func (f *fetcher) getHTML(ctx context.Context, rawURL string) ([]byte, *url.URL, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid URL %q: %w", rawURL, err)
	}

	if f.cache != nil {
		if body, _, ok := f.cache.get(rawURL); ok {
			logf("Cache hit: %s\n", rawURL)
			return body, parsed, nil
		}
	}

	resp, err := f.do(ctx, rawURL, "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	body, err := readLimited(resp.Body, maxResponseBytes)
	if err != nil {
		return nil, nil, fmt.Errorf("reading response: %w", err)
	}

	if f.cache != nil {
		f.cache.put(rawURL, body, resp.Header.Get("Content-Type"))
	}
	logf("Fetched %s (%s)\n", rawURL, humanSize(int64(len(body))))
	return body, parsed, nil
}

// getImage downloads a binary asset and returns its bytes and MIME type.
// Responses that are not images by header or content sniffing are rejected.
func (f *fetcher) getImage(ctx context.Context, rawURL string) ([]byte, string, error) {
	if f.cache != nil {
		if body, mime, ok := f.cache.get(rawURL); ok && strings.HasPrefix(mime, "image/") {
			return body, mime, nil
		}
	}

	resp, err := f.do(ctx, rawURL, "image/webp,image/png,image/jpeg,*/*;q=0.8")
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	data, err := readLimited(resp.Body, maxResponseBytes)
	if err != nil {
		return nil, "", fmt.Errorf("reading image: %w", err)
	}

	mime := resp.Header.Get("Content-Type")
	if i := strings.Index(mime, ";"); i >= 0 {
		mime = mime[:i]
	}
	mime = strings.TrimSpace(mime)
	if mime == "" || mime == "application/octet-stream" {
		mime = http.DetectContentType(data)
		if i := strings.Index(mime, ";"); i >= 0 {
			mime = mime[:i]
		}
	}
	if !strings.HasPrefix(mime, "image/") {
		return nil, "", fmt.Errorf("%s did not return an image (Content-Type %s)", rawURL, mime)
	}

	if f.cache != nil {
		f.cache.put(rawURL, data, mime)
	}
	return data, mime, nil
}
