// Article link discovery: walks a section's paginated index and collects
// unique article URLs until the listing is exhausted.
package main

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
)

// linkSet is the cumulative, deduplicated set of discovered article URLs.
type linkSet struct {
	mu sync.Mutex
	m  map[string]struct{}
}

func newLinkSet() *linkSet {
	return &linkSet{m: map[string]struct{}{}}
}

// add inserts a URL and reports whether it was new.
func (s *linkSet) add(u string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.m[u]; ok {
		return false
	}
	s.m[u] = struct{}{}
	return true
}

func (s *linkSet) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.m)
}

func (s *linkSet) slice() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.m))
	for u := range s.m {
		out = append(out, u)
	}
	return out
}

// discoverOptions tunes a discovery run.
type discoverOptions struct {
	MaxPages  int // pages per section; 0 means unlimited
	Stability int // consecutive empty pages (scaled by BatchSize) before stopping
	BatchSize int // index pages fetched concurrently
	Progress  func(pagesDone, linksFound int)
}

// indexPageURL builds the URL for the nth index page of a section.
// The site serves page 1 at the bare URL and pages 2+ as ?page=N-1
// (its pagination parameter is zero-based and off by one).
func indexPageURL(base string, n int) string {
	if n <= 1 {
		return base
	}
	return fmt.Sprintf("%s?page=%d", base, n-1)
}

// pageArticleLinks extracts candidate article URLs from one index page.
// Primary query: <article> containers, taking the title anchor inside an
// h2/h3 title element, else the container's first anchor. Fallback: a broad
// anchor scan over the main content area keeping only URLs that belong to a
// known section.
func pageArticleLinks(body []byte, base *url.URL) []string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil
	}

	var links []string
	seen := map[string]bool{}
	keep := func(href string) {
		if !isContentLink(href) {
			return
		}
		abs, err := normalizeURL(href, base)
		if err != nil {
			return
		}
		if !seen[abs] {
			seen[abs] = true
			links = append(links, abs)
		}
	}

	articles := doc.Find("article")
	if articles.Length() > 0 {
		articles.Each(func(_ int, art *goquery.Selection) {
			title := art.Find(`h2[class*="title"] a[href], h3[class*="title"] a[href]`).First()
			if title.Length() == 0 {
				title = art.Find("a[href]").First()
			}
			if href, ok := title.Attr("href"); ok {
				keep(href)
			}
		})
		return links
	}

	// Fallback: broad anchor scan restricted to known-section URLs.
	scope := doc.Find("main").First()
	if scope.Length() == 0 {
		scope = doc.Find("div#content").First()
	}
	if scope.Length() == 0 {
		scope = doc.Find("body").First()
	}
	scope.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		if !isContentLink(href) {
			return
		}
		abs, err := normalizeURL(href, base)
		if err != nil {
			return
		}
		if belongsToSection(abs, base) && !seen[abs] {
			seen[abs] = true
			links = append(links, abs)
		}
	})
	return links
}

// belongsToSection reports whether a URL sits on the index's host under one
// of the known section path prefixes.
func belongsToSection(abs string, base *url.URL) bool {
	u, err := url.Parse(abs)
	if err != nil || u.Host != base.Host {
		return false
	}
	for _, sec := range sectionURLs {
		su, err := url.Parse(sec)
		if err != nil {
			continue
		}
		if strings.HasPrefix(u.Path, su.Path+"/") {
			return true
		}
	}
	return false
}

// pageOutcome is the result of fetching and parsing one index page.
type pageOutcome struct {
	newLinks int
	err      error
}

// discoverSection paginates one section index until it is exhausted.
//
// Pages are fetched in bounded concurrent batches and merged in completion
// order; the link set is unordered, so merge order does not matter. The
// stopping heuristic counts consecutive empty outcomes rather than strictly
// sequential page numbers: a page that happens to complete early with zero
// new links cannot end the section alone, because a later-numbered page in
// the same batch may still contribute links and reset the counter. The
// window is therefore stability × batch, so one fully-empty batch at the
// configured stability of 1 is still required to stop.
func discoverSection(ctx context.Context, f *fetcher, indexURL string, links *linkSet, opts discoverOptions) error {
	batch := opts.BatchSize
	if batch < 1 {
		batch = 1
	}
	window := opts.Stability * batch
	if window < 1 {
		window = 1
	}

	emptyRun := 0
	pagesDone := 0
	nextPage := 1

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if opts.MaxPages > 0 && pagesDone >= opts.MaxPages {
			return nil
		}

		n := batch
		if opts.MaxPages > 0 && pagesDone+n > opts.MaxPages {
			n = opts.MaxPages - pagesDone
		}

		outcomes := make([]pageOutcome, n)
		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			pageNum := nextPage + i
			wg.Add(1)
			go func(i, pageNum int) {
				defer wg.Done()
				pageURL := indexPageURL(indexURL, pageNum)
				body, base, err := f.getHTML(ctx, pageURL)
				if err != nil {
					outcomes[i] = pageOutcome{err: err}
					return
				}
				count := 0
				for _, link := range pageArticleLinks(body, base) {
					if links.add(link) {
						count++
					}
				}
				outcomes[i] = pageOutcome{newLinks: count}
			}(i, pageNum)
		}
		wg.Wait()

		nextPage += n
		pagesDone += n
		if opts.Progress != nil {
			opts.Progress(pagesDone, links.len())
		}

		for _, out := range outcomes {
			if out.err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				logf("Warning: index page fetch failed: %v\n", out.err)
				return nil // a failed page ends this section's discovery
			}
			if out.newLinks == 0 {
				emptyRun++
			} else {
				emptyRun = 0
			}
		}
		if emptyRun >= window {
			logf("No new links for %d consecutive pages, section exhausted.\n", emptyRun)
			return nil
		}
	}
}

// discoverLinks walks every section in turn and returns the union of
// discovered article URLs. A failure in one section does not abort the
// others; cancellation aborts everything.
func discoverLinks(ctx context.Context, f *fetcher, indexURLs []string, opts discoverOptions) ([]string, error) {
	links := newLinkSet()
	for _, indexURL := range indexURLs {
		logf("Discovering links from %s\n", indexURL)
		if err := discoverSection(ctx, f, indexURL, links, opts); err != nil {
			if ctx.Err() != nil {
				return links.slice(), err
			}
			logf("Warning: discovery failed for %s: %v\n", indexURL, err)
		}
	}
	logf("Discovery finished: %d unique article links.\n", links.len())
	return links.slice(), nil
}
