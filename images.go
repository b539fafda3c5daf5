// Image pipeline: every <img> in a chapter is downloaded (or decoded from
// a data URI), validated, deduplicated across the whole run, and rewritten
// to point at a content-addressed package path.
package main

import (
	"bytes"
	"context"
	"crypto/md5"
	"fmt"
	"image"
	"net/url"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"github.com/vincent-petithory/dataurl"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"
)

// minImageDim rejects tracking pixels and decorative spacers.
const minImageDim = 50

// spacerGIFPrefix is the base64 start of a 1x1 transparent GIF, which some
// lazy-load scripts leave behind as a placeholder src.
const spacerGIFPrefix = "R0lGODlh"

// imageAsset is one validated image destined for the book package.
type imageAsset struct {
	Path   string // package-relative, e.g. images/image_0a1b2c3d4e.jpg
	Format string // jpeg, png, gif, webp
	Data   []byte
}

// imageCache deduplicates images across all articles in a run. Keys are
// origin identities (cleaned absolute URL, or a hash of inline data), values
// are package paths. Each key is downloaded by exactly one worker: claim
// elects a downloader, and later claimants block until it stores or
// releases the key.
type imageCache struct {
	mu      sync.Mutex
	byKey   map[string]string
	assets  map[string]imageAsset
	pending map[string]chan struct{}
}

func newImageCache() *imageCache {
	return &imageCache{
		byKey:   make(map[string]string),
		assets:  make(map[string]imageAsset),
		pending: make(map[string]chan struct{}),
	}
}

// claim resolves an origin key, or elects the caller to download it when
// the second result is false. A caller that wins the claim must finish
// with store or release; other workers asking for the same key wait.
func (c *imageCache) claim(key string) (string, bool) {
	for {
		c.mu.Lock()
		if p, ok := c.byKey[key]; ok {
			c.mu.Unlock()
			return p, true
		}
		wait, inflight := c.pending[key]
		if !inflight {
			c.pending[key] = make(chan struct{})
			c.mu.Unlock()
			return "", false
		}
		c.mu.Unlock()
		<-wait
	}
}

// store records an asset under its origin key and wakes any workers
// waiting on the claim. If another worker stored the key first, the
// existing path wins and the new asset is discarded.
func (c *imageCache) store(key string, asset imageAsset) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.settleLocked(key)
	if p, ok := c.byKey[key]; ok {
		return p
	}
	c.byKey[key] = asset.Path
	c.assets[asset.Path] = asset
	return asset.Path
}

// release abandons a claimed key after a failed download so a waiting
// worker may retry it.
func (c *imageCache) release(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.settleLocked(key)
}

func (c *imageCache) settleLocked(key string) {
	if ch, ok := c.pending[key]; ok {
		close(ch)
		delete(c.pending, key)
	}
}

// get returns the asset stored at a package path.
func (c *imageCache) get(path string) (imageAsset, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	a, ok := c.assets[path]
	return a, ok
}

var extByFormat = map[string]string{
	"jpeg": "jpg",
	"png":  "png",
	"gif":  "gif",
	"webp": "webp",
}

// packagePath builds the content-addressed path for image bytes.
func packagePath(data []byte, format string, featured bool) string {
	sum := fmt.Sprintf("%x", md5.Sum(data))
	prefix := "image"
	if featured {
		prefix = "featured_image"
	}
	return fmt.Sprintf("images/%s_%s.%s", prefix, sum[:10], extByFormat[format])
}

// validateImage decodes the header and rejects undersized or unsupported
// images. Returns the normalized format name.
func validateImage(data []byte) (string, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("decoding image header: %w", err)
	}
	if _, ok := extByFormat[format]; !ok {
		return "", fmt.Errorf("unsupported image format %q", format)
	}
	if cfg.Width < minImageDim || cfg.Height < minImageDim {
		return "", fmt.Errorf("image too small (%dx%d)", cfg.Width, cfg.Height)
	}
	return format, nil
}

// lazySrcAttrs are alternate src attributes used by lazy-load scripts,
// in preference order.
var lazySrcAttrs = []string{"data-src", "data-lazy-src", "data-original", "data-url"}

// promoteLazySrc copies lazy-load attribute values into src so extraction
// sees real image URLs. Placeholder spacer GIFs in src are always replaced.
func promoteLazySrc(doc *goquery.Document) {
	doc.Find("img").Each(func(_ int, img *goquery.Selection) {
		src := img.AttrOr("src", "")
		placeholder := src == "" || strings.Contains(src, spacerGIFPrefix)
		if !placeholder {
			return
		}
		for _, attr := range lazySrcAttrs {
			if v, ok := img.Attr(attr); ok && v != "" {
				img.SetAttr("src", v)
				return
			}
		}
	})
}

// junkImgAttrs are stripped from every kept <img>; they either confuse
// readers or point back at the live site.
var junkImgAttrs = []string{
	"srcset", "sizes", "loading", "decoding",
	"data-src", "data-srcset", "data-lazy-src", "data-original", "data-url",
	"lowsrc", "longdesc", "style",
}

// fetchImage resolves one image reference to a stored asset path. The key
// identifies the origin for dedup; data URIs are keyed by content hash.
func fetchImage(ctx context.Context, f *fetcher, cache *imageCache, rawSrc string, base *url.URL, featured bool) (string, error) {
	if strings.HasPrefix(rawSrc, "data:") {
		du, err := dataurl.DecodeString(rawSrc)
		if err != nil {
			return "", fmt.Errorf("decoding data URI: %w", err)
		}
		key := fmt.Sprintf("data:%x", md5.Sum(du.Data))
		if p, done := cache.claim(key); done {
			return p, nil
		}
		format, err := validateImage(du.Data)
		if err != nil {
			cache.release(key)
			return "", err
		}
		return cache.store(key, imageAsset{
			Path:   packagePath(du.Data, format, featured),
			Format: format,
			Data:   du.Data,
		}), nil
	}

	abs, err := normalizeURL(cleanImageURL(rawSrc), base)
	if err != nil {
		return "", fmt.Errorf("resolving image URL: %w", err)
	}
	if shouldIgnoreImage(abs) {
		return "", fmt.Errorf("image on ignore list")
	}
	if p, done := cache.claim(abs); done {
		return p, nil
	}
	data, _, err := f.getImage(ctx, abs)
	if err != nil {
		cache.release(abs)
		return "", err
	}
	format, err := validateImage(data)
	if err != nil {
		cache.release(abs)
		return "", err
	}
	return cache.store(abs, imageAsset{
		Path:   packagePath(data, format, featured),
		Format: format,
		Data:   data,
	}), nil
}

// processImages rewrites every <img> in an HTML fragment to a package path,
// downloading and caching as needed. Failed images are removed from the
// markup entirely so no broken reference ships. Returns the rewritten
// fragment and the package paths it references.
func processImages(ctx context.Context, f *fetcher, cache *imageCache, fragment string, base *url.URL) (string, []string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return "", nil, fmt.Errorf("parsing content for images: %w", err)
	}

	var paths []string
	seen := map[string]bool{}
	doc.Find("img").Each(func(_ int, img *goquery.Selection) {
		src := img.AttrOr("src", "")
		if src == "" || strings.Contains(src, spacerGIFPrefix) {
			img.Remove()
			return
		}
		path, err := fetchImage(ctx, f, cache, src, base, false)
		if err != nil {
			logf("  skipping image %s: %v\n", truncateURL(src), err)
			img.Remove()
			return
		}
		img.SetAttr("src", path)
		for _, attr := range junkImgAttrs {
			img.RemoveAttr(attr)
		}
		if img.AttrOr("alt", "") == "" {
			img.SetAttr("alt", "Image")
		}
		if !seen[path] {
			seen[path] = true
			paths = append(paths, path)
		}
	})

	html, err := doc.Find("body").Html()
	if err != nil {
		return "", nil, fmt.Errorf("serializing content: %w", err)
	}
	return html, paths, nil
}

// truncateURL keeps log lines readable when srcs are data URIs.
func truncateURL(s string) string {
	if len(s) > 80 {
		return s[:77] + "..."
	}
	return s
}
