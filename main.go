// wire2epub: Scrape Mises Institute article sections and bundle them into
// EPUB books for e-readers.
//
// Section mode (default):
//
//	wire2epub [options] -include wire+powermarket
//
// Single article mode:
//
//	wire2epub [options] -url https://mises.org/wire/some-article
//
// Explicit list mode:
//
//	wire2epub [options] -input-file urls.txt
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"
)

// readURLFile reads a file with one article URL per line, skipping blanks
// and # comments.
func readURLFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var urls []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if !isValidURL(line) {
			logf("Warning: skipping invalid URL in %s: %s\n", path, line)
			continue
		}
		urls = append(urls, line)
	}
	return urls, scanner.Err()
}

// collectURLs resolves the configured URL source: explicit single article,
// URL file, or section index discovery.
func collectURLs(ctx context.Context, f *fetcher, cfg *config) ([]string, error) {
	switch {
	case cfg.SingleURL != "":
		return []string{cfg.SingleURL}, nil
	case cfg.InputFile != "":
		urls, err := readURLFile(cfg.InputFile)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", cfg.InputFile, err)
		}
		if len(urls) == 0 {
			return nil, fmt.Errorf("no URLs in %s", cfg.InputFile)
		}
		return urls, nil
	default:
		return discoverLinks(ctx, f, cfg.sectionIndexURLs(), discoverOptions{
			MaxPages:  cfg.MaxPages,
			Stability: cfg.Stability,
			BatchSize: cfg.Threads,
			Progress: func(pages, links int) {
				logf("  %d pages scanned, %d links found\n", pages, links)
			},
		})
	}
}

// runStats counts article outcomes for the end-of-run summary.
type runStats struct {
	attempted int
	succeeded int
	skipped   int
	failed    int
}

// processAll runs the article pipeline over all URLs with a bounded worker
// pool. Results keep input order; failures and skips leave nil slots.
func processAll(ctx context.Context, f *fetcher, imgCache *imageCache, cfg *config, urls []string) ([]*chapter, runStats) {
	reporter := newProgressReporter(logOut)
	defer reporter.close()

	results := make([]*chapter, len(urls))
	var (
		wg sync.WaitGroup
		mu sync.Mutex
		st runStats
	)
	sem := make(chan struct{}, cfg.Threads)

	for i, rawURL := range urls {
		wg.Add(1)
		go func(i int, rawURL string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			if ctx.Err() != nil {
				return
			}

			reporter.printf("[%d/%d] %s\n", i+1, len(urls), rawURL)
			ch, err := processArticle(ctx, f, imgCache, cfg, rawURL)

			mu.Lock()
			defer mu.Unlock()
			st.attempted++
			switch {
			case err == nil:
				results[i] = ch
				st.succeeded++
			case isSkip(err):
				st.skipped++
				reporter.printf("  Skipped: %v\n", err)
			case errors.Is(err, context.Canceled):
				// counted as attempted only
			default:
				st.failed++
				reporter.printf("  Error: %v\n", err)
			}
		}(i, rawURL)
	}
	wg.Wait()

	var chapters []*chapter
	for _, ch := range results {
		if ch != nil {
			chapters = append(chapters, ch)
		}
	}
	return chapters, st
}

func run(ctx context.Context, cfg *config) error {
	f, err := newFetcher(cfg)
	if err != nil {
		return err
	}

	urls, err := collectURLs(ctx, f, cfg)
	if err != nil {
		return err
	}
	if len(urls) == 0 {
		return fmt.Errorf("no article URLs found")
	}
	if cfg.MaxArticles > 0 && len(urls) > cfg.MaxArticles {
		urls = urls[:cfg.MaxArticles]
	}
	logf("Processing %d articles with %d workers...\n", len(urls), cfg.Threads)

	imgCache := newImageCache()
	chapters, st := processAll(ctx, f, imgCache, cfg, urls)
	logf("Done: %d succeeded, %d skipped, %d failed (of %d).\n",
		st.succeeded, st.skipped, st.failed, st.attempted)

	if err := ctx.Err(); err != nil && len(chapters) == 0 {
		return err
	}
	if len(chapters) == 0 {
		return fmt.Errorf("no articles could be processed")
	}

	if cfg.Markdown {
		md, err := chaptersToMarkdown(chapters)
		if err != nil {
			return err
		}
		outPath := filepath.Join(cfg.SaveDir, sanitizeFilename(cfg.Title)+".md")
		if err := os.WriteFile(outPath, []byte(md), 0644); err != nil {
			return fmt.Errorf("writing markdown: %w", err)
		}
		logf("Wrote %s (%d articles)\n", outPath, len(chapters))
		return nil
	}

	outputs, err := assembleBooks(chapters, imgCache, cfg)
	if err != nil {
		return err
	}
	logf("✓ %d book(s) written to %s\n", len(outputs), cfg.SaveDir)
	return nil
}

func main() {
	include := flag.String("include", "wire", "Sections to scrape, joined with + (wire, powermarket)")
	singleURL := flag.String("url", "", "Process a single article URL instead of scraping sections")
	inputFile := flag.String("input-file", "", "File with one article URL per line")
	pages := flag.Int("pages", 10, "Max index pages per section")
	allPages := flag.Bool("all-pages", false, "Paginate until the section is exhausted")
	maxArticles := flag.Int("max-articles", 0, "Cap the number of articles processed (0 = no cap)")
	startDate := flag.String("start-date", "", "Only include articles published on or after this date (YYYY-MM-DD)")
	endDate := flag.String("end-date", "", "Only include articles published on or before this date (YYYY-MM-DD)")
	saveDir := flag.String("save-dir", ".", "Output directory")
	title := flag.String("epub-title", "Mises Wire", "Base book title")
	split := flag.Int("split", 0, "Split output into N books (0 or 1 = single book)")
	cover := flag.String("cover", "", "Cover image file")
	skipImages := flag.Bool("skip-images", false, "Build without images")
	markdown := flag.Bool("markdown", false, "Write a Markdown digest instead of EPUB")
	threads := flag.Int("threads", 5, "Concurrent article workers")
	timeout := flag.Duration("timeout", 30*time.Second, "HTTP fetch timeout")
	delay := flag.Duration("delay", 750*time.Millisecond, "Minimum delay between requests to the same host")
	retries := flag.Int("retries", 3, "Fetch attempts per URL")
	proxy := flag.String("proxy", "", "HTTP proxy address")
	insecure := flag.Bool("insecure", false, "Skip TLS certificate verification")
	useCache := flag.Bool("cache", false, "Cache fetched pages on disk")
	cacheDir := flag.String("cache-dir", ".wire2epub-cache", "Response cache directory")
	clearCache := flag.Bool("clear-cache", false, "Clear the response cache before running")
	stability := flag.Int("stability", 3, "Consecutive empty index pages before a section is considered exhausted")
	configPath := flag.String("config", "", "YAML config file")
	silent := flag.Bool("silent", false, "Suppress all output except errors")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: wire2epub [options]\n")
		fmt.Fprintf(os.Stderr, "       wire2epub [options] -url <article URL>\n")
		fmt.Fprintf(os.Stderr, "       wire2epub [options] -input-file urls.txt\n\n")
		fmt.Fprintf(os.Stderr, "Scrape Mises Institute articles and bundle them into EPUB books.\n\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if *silent {
		logOut = io.Discard
	}

	fail := func(err error) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	sections, err := parseSections(*include)
	if err != nil {
		fail(err)
	}
	start, err := parseDateArg(*startDate)
	if err != nil {
		fail(err)
	}
	end, err := parseDateArg(*endDate)
	if err != nil {
		fail(err)
	}

	cfg := &config{
		Sections:    sections,
		SingleURL:   *singleURL,
		InputFile:   *inputFile,
		MaxPages:    *pages,
		MaxArticles: *maxArticles,
		Stability:   *stability,
		StartDate:   start,
		EndDate:     end,
		SaveDir:     *saveDir,
		Title:       *title,
		Split:       *split,
		CoverPath:   *cover,
		SkipImages:  *skipImages,
		Markdown:    *markdown,
		Threads:     *threads,
		Timeout:     *timeout,
		Delay:       *delay,
		Retries:     *retries,
		Proxy:       *proxy,
		Insecure:    *insecure,
		UseCache:    *useCache,
		CacheDir:    *cacheDir,
		ClearCache:  *clearCache,
	}
	if *allPages {
		cfg.MaxPages = 0
	}

	fc, err := loadFileConfig(*configPath)
	if err != nil {
		fail(err)
	}
	defaults := config{
		SaveDir: ".", CacheDir: ".wire2epub-cache",
		Threads: 5, Retries: 3,
		Timeout: 30 * time.Second, Delay: 750 * time.Millisecond,
	}
	if err := cfg.applyFileConfig(fc, defaults); err != nil {
		fail(err)
	}
	if err := cfg.validate(); err != nil {
		fail(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
