// Per-article pipeline: fetch, extract metadata and body, resolve images,
// and assemble the chapter markup that goes into the book.
package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// chapter is one fully processed article, ready for book assembly.
type chapter struct {
	URL      string
	Title    string
	Filename string // sanitized, .xhtml
	Content  string // chapter HTML fragment: header block + body + footer
	Meta     articleMeta
	Images   []string // package paths referenced by Content
}

// skipError marks an article intentionally excluded (date filter, no
// content) as opposed to a fetch or parse failure.
type skipError struct {
	reason string
}

func (e skipError) Error() string { return e.reason }

// isSkip reports whether err represents an intentional skip.
func isSkip(err error) bool {
	var s skipError
	return errors.As(err, &s)
}

var (
	headingRe       = regexp.MustCompile(`(?i)<(/?)h([1-6])([^>]*)>`)
	unsafeFileRe    = regexp.MustCompile(`[^\w.\-]`)
	multiUnderscore = regexp.MustCompile(`_+`)
)

// shiftHeadings demotes all headings one level so the chapter title can own
// h1 without clashing with the article's internal structure.
func shiftHeadings(text string) string {
	return headingRe.ReplaceAllStringFunc(text, func(match string) string {
		parts := headingRe.FindStringSubmatch(match)
		if parts == nil {
			return match
		}
		level, _ := strconv.Atoi(parts[2])
		if level < 6 {
			level++
		}
		if parts[1] == "/" {
			return fmt.Sprintf("</h%d>", level)
		}
		return fmt.Sprintf("<h%d%s>", level, parts[3])
	})
}

// sanitizeFilename turns a chapter title into a safe filename stem.
func sanitizeFilename(title string) string {
	s := strings.TrimSpace(title)
	s = strings.ReplaceAll(s, " ", "_")
	s = unsafeFileRe.ReplaceAllString(s, "")
	s = multiUnderscore.ReplaceAllString(s, "_")
	s = strings.Trim(s, "_.")
	if len(s) > 200 {
		s = s[:200]
	}
	if s == "" {
		s = "untitled"
	}
	return s
}

// chapterHeader renders the title block shown at the top of each chapter.
// Metadata lines are omitted individually when empty.
func chapterHeader(meta articleMeta) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<h1>%s</h1>\n", html.EscapeString(meta.Title))
	if meta.Author != "" {
		fmt.Fprintf(&b, "<p class='author'>By %s</p>\n", html.EscapeString(meta.Author))
	}
	if meta.Published != nil {
		fmt.Fprintf(&b, "<p class='date'>%s</p>\n", meta.Published.Format("January 2, 2006"))
	} else if meta.RawDate != "" {
		fmt.Fprintf(&b, "<p class='date'>%s</p>\n", html.EscapeString(meta.RawDate))
	}
	if meta.Summary != "" {
		fmt.Fprintf(&b, "<p class='summary'><em>%s</em></p>\n", html.EscapeString(meta.Summary))
	}
	if len(meta.Tags) > 0 {
		fmt.Fprintf(&b, "<p class='tags'>Tags: %s</p>\n", html.EscapeString(strings.Join(meta.Tags, ", ")))
	}
	b.WriteString("<hr/>\n")
	return b.String()
}

// chapterFooter renders the source attribution at the bottom of a chapter.
func chapterFooter(pageURL string) string {
	display := pageURL
	for _, prefix := range []string{"https://", "http://"} {
		display = strings.TrimPrefix(display, prefix)
	}
	return fmt.Sprintf("<hr/>\n<p class='source'>Source: <a href=\"%s\">%s</a></p>\n",
		html.EscapeString(pageURL), html.EscapeString(strings.TrimSuffix(display, "/")))
}

// dateInRange applies the configured date window. Articles with no
// parseable date are excluded whenever a window is active.
func dateInRange(published *time.Time, cfg *config) bool {
	if cfg.StartDate == nil && cfg.EndDate == nil {
		return true
	}
	if published == nil {
		return false
	}
	if cfg.StartDate != nil && published.Before(*cfg.StartDate) {
		return false
	}
	if cfg.EndDate != nil && published.After(*cfg.EndDate) {
		return false
	}
	return true
}

// processArticle runs the full pipeline for one article URL.
func processArticle(ctx context.Context, f *fetcher, cache *imageCache, cfg *config, rawURL string) (*chapter, error) {
	body, finalURL, err := f.getHTML(ctx, rawURL)
	if err != nil {
		return nil, fmt.Errorf("fetching article: %w", err)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parsing article: %w", err)
	}
	promoteLazySrc(doc)

	meta := extractMetadata(doc, finalURL)
	if !dateInRange(meta.Published, cfg) {
		return nil, skipError{reason: fmt.Sprintf("outside date range (published %s)", meta.RawDate)}
	}

	// Re-serialize after lazy-src promotion so readability sees real URLs.
	pageHTML, err := doc.Html()
	if err != nil {
		return nil, fmt.Errorf("serializing page: %w", err)
	}
	content, err := extractContent([]byte(pageHTML), doc, finalURL)
	if err != nil {
		return nil, skipError{reason: fmt.Sprintf("no extractable content: %v", err)}
	}

	var images []string
	if cfg.SkipImages {
		content = stripImages(content)
	} else {
		var paths []string
		content, paths, err = processImages(ctx, f, cache, content, finalURL)
		if err != nil {
			return nil, fmt.Errorf("processing images: %w", err)
		}
		images = paths
		// The figure goes in after body images are rewritten; its src is
		// already a package path and must not be resolved as a remote URL.
		if meta.FeaturedImage != "" {
			if fig, path, err := featuredFigure(ctx, f, cache, meta.FeaturedImage, finalURL); err == nil {
				content = fig + content
				images = appendUnique([]string{path}, images)
			} else {
				logf("  skipping featured image: %v\n", err)
			}
		}
	}

	full := chapterHeader(meta) + shiftHeadings(content) + chapterFooter(finalURL.String())

	return &chapter{
		URL:      finalURL.String(),
		Title:    meta.Title,
		Filename: sanitizeFilename(meta.Title) + ".xhtml",
		Content:  full,
		Meta:     meta,
		Images:   images,
	}, nil
}

// featuredFigure downloads the featured image and wraps it in a figure
// placed before the article body.
func featuredFigure(ctx context.Context, f *fetcher, cache *imageCache, imgURL string, base *url.URL) (string, string, error) {
	path, err := fetchImage(ctx, f, cache, imgURL, base, true)
	if err != nil {
		return "", "", err
	}
	fig := fmt.Sprintf("<figure class='featured'><img src=\"%s\" alt=\"Featured image\"/></figure>\n", path)
	return fig, path, nil
}

// stripImages removes every <img> from a fragment for image-free builds.
func stripImages(fragment string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return fragment
	}
	doc.Find("img, figure").Remove()
	out, err := doc.Find("body").Html()
	if err != nil {
		return fragment
	}
	return out
}

// appendUnique appends items from extra not already in base.
func appendUnique(base []string, extra []string) []string {
	seen := make(map[string]bool, len(base))
	for _, p := range base {
		seen[p] = true
	}
	for _, p := range extra {
		if !seen[p] {
			seen[p] = true
			base = append(base, p)
		}
	}
	return base
}
