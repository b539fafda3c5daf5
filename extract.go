// Article body extraction. Readability does the heavy lifting; when its
// output is implausibly small we fall back to pulling a known content
// container out of the raw document and scrubbing it by hand.
package main

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	readability "codeberg.org/readeck/go-readability"
	"github.com/PuerkitoBio/goquery"
)

// contentSelectors are tried in order by the manual fallback. Ordered from
// most specific (site theme classes) to most generic.
var contentSelectors = []string{
	"div.article--full__content",
	"div.field--name-body",
	"div.post-entry",
	"div.entry-content",
	"article.node",
	"article",
	"div#content",
	"main#main-content",
	"div.content",
	"div.main",
}

// noiseSelectors are removed from extracted content wholesale.
var noiseSelectors = []string{
	".social-share", ".social-links", ".related-posts", ".jp-relatedposts",
	".comments", "#comments", ".comment-respond",
	"div.tags", ".post-tags",
	".author-box", ".article-footer", ".breadcrumb",
	"nav", "script", "style", "aside", "form",
	".newsletter", ".sidebar", ".advertisement", ".ad-container",
}

// minReadableLen is the smallest readability output we trust. Anything
// shorter is usually a cookie banner or a login wall.
const minReadableLen = 200

// findContentContainer returns the first matching content container
// selection, or nil when the page has none we recognize.
func findContentContainer(doc *goquery.Document) *goquery.Selection {
	for _, sel := range contentSelectors {
		if s := doc.Find(sel).First(); s.Length() > 0 {
			return s
		}
	}
	return nil
}

// manualExtract pulls article HTML out of a raw page without readability.
func manualExtract(doc *goquery.Document) (string, error) {
	container := findContentContainer(doc)
	if container == nil {
		return "", fmt.Errorf("no content container found")
	}
	scrubContent(container)
	html, err := container.Html()
	if err != nil {
		return "", fmt.Errorf("serializing content: %w", err)
	}
	return html, nil
}

// scrubContent strips boilerplate elements and empty paragraphs in place.
func scrubContent(s *goquery.Selection) {
	s.Find(strings.Join(noiseSelectors, ", ")).Remove()
	s.Find("p").Each(func(_ int, p *goquery.Selection) {
		if strings.TrimSpace(p.Text()) == "" && p.Find("img").Length() == 0 {
			p.Remove()
		}
	})
}

// extractContent returns the article body as an HTML fragment. The raw page
// bytes feed readability; doc is the already-parsed document used by the
// fallback so the page is only parsed once outside this function.
func extractContent(body []byte, doc *goquery.Document, pageURL *url.URL) (string, error) {
	art, err := readability.FromReader(bytes.NewReader(body), pageURL)
	if err == nil {
		content := strings.TrimSpace(art.Content)
		if len(content) >= minReadableLen && strings.Contains(content, "<p") {
			return scrubHTML(content)
		}
	}
	return manualExtract(doc)
}

// scrubHTML re-parses an HTML fragment and applies the same boilerplate
// scrub the manual path gets.
func scrubHTML(fragment string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return "", fmt.Errorf("parsing extracted content: %w", err)
	}
	sel := doc.Find("body")
	scrubContent(sel)
	html, err := sel.Html()
	if err != nil {
		return "", fmt.Errorf("serializing content: %w", err)
	}
	return html, nil
}
