// URL validation and image ignore filtering.
//
// mises.org reuses a handful of placeholder "featured" images across
// hundreds of unrelated articles; embedding them produces bloated,
// visually meaningless books. The deny list and patterns below identify
// those assets so the image pipeline can drop them up front.
package main

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// ignoredImageURLs are exact image URLs that are never embedded.
var ignoredImageURLs = map[string]bool{
	"https://cdn.mises.org/styles/social_media/s3/images/2025-03/25_Loot%26Lobby_QUOTE_4K_20250311.jpg?itok=IkGXwPjO": true,
	"https://mises.org/wire/images/featured_image.jpeg":                  true,
	"https://mises.org/mises-wire/images/featured_image.jpeg":            true,
	"https://mises.org/power-market/images/featured_image.jpeg":          true,
	"https://mises.org/power-market/images/featured_image.webp":          true,
	"https://mises.org/podcasts/radio-rothbard/images/featured_image.jpeg":      true,
	"https://mises.org/podcasts/loot-and-lobby/images/featured_image.jpeg":      true,
	"https://mises.org/friday-philosophy/images/featured_image.jpeg":            true,
	"https://mises.org/articles-interest/images/featured_image.jpeg":            true,
	"https://mises.org/articles-interest/images/featured_image.webp":            true,
	"https://mises.org/podcasts/human-action-podcast/images/featured_image.jpeg": true,
}

// ignoredImagePatterns match image URLs that are generic or malformed:
// reused featured-image filenames, podcast artwork directories, and a bare
// domain artifact the site's templates sometimes emit.
var ignoredImagePatterns = []*regexp.Regexp{
	regexp.MustCompile(`featured_image\.(jpeg|jpg|png|webp)$`),
	regexp.MustCompile(`/podcasts/.*/images/`),
	regexp.MustCompile(`/mises\.org$`),
}

// cleanImageURL strips scraping artifacts from an image URL: a literal
// JS-concatenation suffix ("' + og_image:...") that leaks out of inline
// scripts, and surrounding quote characters.
func cleanImageURL(rawURL string) string {
	if i := strings.Index(rawURL, "' + og_image:"); i >= 0 {
		rawURL = rawURL[:i]
	}
	rawURL = strings.Trim(rawURL, `'"`)
	return strings.TrimSpace(rawURL)
}

// shouldIgnoreImage reports whether an image URL is deny-listed, either by
// exact match or by pattern. Empty URLs are always ignored.
func shouldIgnoreImage(rawURL string) bool {
	rawURL = cleanImageURL(rawURL)
	if rawURL == "" {
		return true
	}
	if ignoredImageURLs[rawURL] {
		return true
	}
	for _, re := range ignoredImagePatterns {
		if re.MatchString(rawURL) {
			return true
		}
	}
	return false
}

// isValidURL reports whether s parses as an absolute URL with a scheme and host.
func isValidURL(s string) bool {
	u, err := url.Parse(s)
	return err == nil && u.Scheme != "" && u.Host != ""
}

// normalizeURL resolves href against base and validates the result.
func normalizeURL(href string, base *url.URL) (string, error) {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return "", fmt.Errorf("invalid URL %q: %w", href, err)
	}
	abs := base.ResolveReference(ref)
	if abs.Scheme == "" || abs.Host == "" {
		return "", fmt.Errorf("URL %q has no scheme or host after resolution", href)
	}
	return abs.String(), nil
}

// isContentLink reports whether href could point at an article page.
// Anchors, javascript: pseudo-links and feed endpoints never do.
func isContentLink(href string) bool {
	if href == "" || strings.HasPrefix(href, "#") {
		return false
	}
	if strings.Contains(href, "javascript:") {
		return false
	}
	if strings.Contains(href, "rss.xml") {
		return false
	}
	return true
}
