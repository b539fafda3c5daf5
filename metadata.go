// Article metadata extraction. Each field is derived by an ordered cascade
// of selector strategies; the first strategy that yields a value wins.
// Tags are the exception: no single source is authoritative, so they
// accumulate from every source.
package main

import (
	"net/url"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/araddon/dateparse"
)

// defaultAuthor is the sentinel used when no author strategy resolves.
const defaultAuthor = "Mises Institute"

// articleMeta holds everything extracted about an article besides its body.
type articleMeta struct {
	Title         string
	Author        string
	RawDate       string     // date text as found, for display when parsing fails
	Published     *time.Time // nil when no strategy produced a parseable date
	Tags          []string
	Summary       string
	FeaturedImage string // absolute URL, already past the ignore filter; "" when none
}

var (
	bylinePrefixRe  = regexp.MustCompile(`(?i)^(By|Authored by)\s+`)
	bylineTrailerRe = regexp.MustCompile(`\s+on\s+|\s+-\s+`)
	siteSuffixRe    = regexp.MustCompile(`\s*\|\s*Mises Institute`)
	dateLikeRe      = regexp.MustCompile(`\d{1,2}/\d{1,2}/\d{2,4}|\w+ \d{1,2}, \d{4}|\d{4}-\d{2}-\d{2}`)
	titleSepRe      = regexp.MustCompile(`\s*[|\x{2013}\x{2014}]\s*|\s+-\s+`)
)

// fieldStrategy is one step of a cascade: it inspects the document and
// returns a value or "".
type fieldStrategy func(doc *goquery.Document) string

// firstOf applies strategies in order and returns the first non-empty result.
func firstOf(doc *goquery.Document, strategies ...fieldStrategy) string {
	for _, s := range strategies {
		if v := strings.TrimSpace(s(doc)); v != "" {
			return v
		}
	}
	return ""
}

// metaContent returns the content attribute of the first matching meta tag.
func metaContent(doc *goquery.Document, selector string) string {
	return doc.Find(selector).First().AttrOr("content", "")
}

func extractTitle(doc *goquery.Document, pageURL *url.URL) string {
	title := firstOf(doc,
		func(d *goquery.Document) string {
			return metaContent(d, `meta[property="og:title"]`)
		},
		func(d *goquery.Document) string {
			return d.Find(`h1.page-header__title, h1.entry-title, h1[itemprop="headline"], h1[class*="title"]`).First().Text()
		},
		func(d *goquery.Document) string {
			t := d.Find("title").First().Text()
			// <title> usually carries a " | Site Name" suffix.
			parts := titleSepRe.Split(t, 2)
			return parts[0]
		},
	)
	if title != "" {
		return title
	}
	// URL-derived default: last path segment, dashes to spaces.
	slug := strings.Trim(pageURL.Path, "/")
	if i := strings.LastIndex(slug, "/"); i >= 0 {
		slug = slug[i+1:]
	}
	if slug == "" {
		return "Untitled Article"
	}
	words := strings.Split(strings.ReplaceAll(slug, "-", " "), " ")
	for i, w := range words {
		if w != "" {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}

func extractAuthor(doc *goquery.Document) string {
	author := firstOf(doc,
		func(d *goquery.Document) string {
			for _, sel := range []string{
				`meta[property="article:author"]`,
				`meta[property="og:article:author"]`,
				`meta[property="author"]`,
				`meta[name="author"]`,
			} {
				if v := metaContent(d, sel); v != "" {
					return v
				}
			}
			return ""
		},
		func(d *goquery.Document) string {
			return d.Find(`a[rel="author"]`).First().Text()
		},
		func(d *goquery.Document) string {
			// Site-specific article-details block with a profile link.
			details := d.Find(`div[data-component-id="mises:element-article-details"]`)
			return details.Find(`a[href*="/profile/"]`).First().Text()
		},
		func(d *goquery.Document) string {
			byline := d.Find(`[class*="byline"], [class*="author-name"], [class*="submitted"]`).First().Text()
			byline = bylinePrefixRe.ReplaceAllString(strings.TrimSpace(byline), "")
			// "Jane Doe on March 3, 2024" -> "Jane Doe"
			return bylineTrailerRe.Split(byline, 2)[0]
		},
	)
	if author == "" {
		return defaultAuthor
	}
	return strings.TrimSpace(siteSuffixRe.ReplaceAllString(author, ""))
}

// extractDate returns the raw date string found by the cascade, or "".
func extractDate(doc *goquery.Document) string {
	return firstOf(doc,
		func(d *goquery.Document) string {
			for _, sel := range []string{
				`meta[property="article:published_time"]`,
				`meta[property="og:article:published_time"]`,
				`meta[itemprop="datePublished"]`,
				`meta[name="dcterms.date"]`,
			} {
				if v := metaContent(d, sel); v != "" {
					return v
				}
			}
			return ""
		},
		func(d *goquery.Document) string {
			t := d.Find("time[datetime]").First()
			return t.AttrOr("datetime", "")
		},
		func(d *goquery.Document) string {
			return d.Find("time").First().Text()
		},
		func(d *goquery.Document) string {
			// Last resort: visible date-shaped text.
			text := d.Find(`[class*="date"], [class*="published"], [class*="submitted"]`).First().Text()
			if dateLikeRe.MatchString(text) {
				return dateLikeRe.FindString(text)
			}
			return ""
		},
	)
}

// parseFlexibleDate parses a human date string permissively. Naive results
// are assumed UTC. Returns nil when the string cannot be parsed.
func parseFlexibleDate(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	t, err := dateparse.ParseIn(s, time.UTC)
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}

// extractTags unions tag values from meta tags, rel=tag links, topic links
// and tag containers, deduplicated and sorted.
func extractTags(doc *goquery.Document) []string {
	tags := map[string]bool{}
	keep := func(s string) {
		s = strings.TrimSpace(s)
		if s != "" {
			tags[s] = true
		}
	}

	doc.Find(`meta[property="article:tag"], meta[name="keywords"]`).Each(func(_ int, s *goquery.Selection) {
		for _, t := range strings.Split(s.AttrOr("content", ""), ",") {
			keep(t)
		}
	})
	doc.Find(`a[rel="tag"], a[href*="/topics/"], a[href*="/tags/"]`).Each(func(_ int, s *goquery.Selection) {
		keep(s.Text())
	})
	doc.Find(`[class*="tags"] a, [class*="taxonomy"] a`).Each(func(_ int, s *goquery.Selection) {
		keep(s.Text())
	})

	out := make([]string, 0, len(tags))
	for t := range tags {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// minSummaryLen filters out fragments that are not genuine prose.
const minSummaryLen = 50

func extractSummary(doc *goquery.Document) string {
	if v := metaContent(doc, `meta[property="og:description"]`); v != "" {
		return strings.TrimSpace(v)
	}
	if v := metaContent(doc, `meta[name="description"]`); v != "" {
		return strings.TrimSpace(v)
	}
	// Fallback: first paragraph of the content container, accepted only if
	// long enough and ending like a sentence.
	container := findContentContainer(doc)
	if container == nil {
		return ""
	}
	text := strings.TrimSpace(container.Find("p").First().Text())
	if len(text) > minSummaryLen && strings.ContainsAny(text, ".!?") {
		return text
	}
	return ""
}

// extractFeaturedImage resolves the featured image URL for an article, or
// returns "" when there is none or it is deny-listed.
func extractFeaturedImage(doc *goquery.Document, pageURL *url.URL) string {
	raw := firstOf(doc,
		func(d *goquery.Document) string {
			return metaContent(d, `meta[property="og:image"]`)
		},
		func(d *goquery.Document) string {
			return metaContent(d, `meta[name="twitter:image"]`)
		},
		func(d *goquery.Document) string {
			fig := d.Find(`figure[class*="thumbnail"] img[src], figure[class*="featured"] img[src], div[class*="featured-image"] img[src]`).First()
			return fig.AttrOr("src", "")
		},
		func(d *goquery.Document) string {
			return d.Find(`header img[src], div.article-header img[src]`).First().AttrOr("src", "")
		},
	)
	if raw == "" {
		return ""
	}
	abs, err := normalizeURL(cleanImageURL(raw), pageURL)
	if err != nil || shouldIgnoreImage(abs) {
		return ""
	}
	return abs
}

// extractMetadata runs every cascade against a parsed article document.
func extractMetadata(doc *goquery.Document, pageURL *url.URL) articleMeta {
	rawDate := extractDate(doc)
	return articleMeta{
		Title:         extractTitle(doc, pageURL),
		Author:        extractAuthor(doc),
		RawDate:       rawDate,
		Published:     parseFlexibleDate(rawDate),
		Tags:          extractTags(doc),
		Summary:       extractSummary(doc),
		FeaturedImage: extractFeaturedImage(doc, pageURL),
	}
}
