package main

import (
	"net/url"
	"testing"
)

func TestShouldIgnoreImage(t *testing.T) {
	tests := []struct {
		name string
		url  string
		want bool
	}{
		{"empty", "", true},
		{"exact deny list", "https://mises.org/wire/images/featured_image.jpeg", true},
		{"generic featured filename", "https://mises.org/some/path/featured_image.webp", true},
		{"podcast artwork dir", "https://mises.org/podcasts/radio-rothbard/images/episode.jpg", true},
		{"bare domain artifact", "https://mises.org", true},
		{"normal article image", "https://cdn.mises.org/styles/responsive/s3/static-page/img/chart1.png", false},
		{"quoted url cleaned first", `'https://mises.org/wire/images/featured_image.jpeg'`, true},
		{"regular photo", "https://cdn.mises.org/photo.jpg", false},
		{"featured in middle of path only", "https://cdn.mises.org/featured_image.jpeg/real.png", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := shouldIgnoreImage(tt.url); got != tt.want {
				t.Errorf("shouldIgnoreImage(%q) = %v, want %v", tt.url, got, tt.want)
			}
		})
	}
}

func TestCleanImageURL(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain", "https://cdn.mises.org/a.jpg", "https://cdn.mises.org/a.jpg"},
		{"js concat artifact", "https://cdn.mises.org/a.jpg' + og_image:url", "https://cdn.mises.org/a.jpg"},
		{"single quotes", "'https://cdn.mises.org/a.jpg'", "https://cdn.mises.org/a.jpg"},
		{"double quotes", `"https://cdn.mises.org/a.jpg"`, "https://cdn.mises.org/a.jpg"},
		{"whitespace", "  https://cdn.mises.org/a.jpg ", "https://cdn.mises.org/a.jpg"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := cleanImageURL(tt.input); got != tt.want {
				t.Errorf("cleanImageURL(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestNormalizeURL(t *testing.T) {
	base, _ := url.Parse("https://mises.org/wire")
	tests := []struct {
		name    string
		href    string
		want    string
		wantErr bool
	}{
		{"absolute", "https://mises.org/wire/article-1", "https://mises.org/wire/article-1", false},
		{"root relative", "/wire/article-2", "https://mises.org/wire/article-2", false},
		{"protocol relative", "//cdn.mises.org/img.png", "https://cdn.mises.org/img.png", false},
		{"schemeless relative of bare word", "wire", "https://mises.org/wire", false},
		{"unparseable", "http://%zz", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := normalizeURL(tt.href, base)
			if (err != nil) != tt.wantErr {
				t.Fatalf("normalizeURL(%q) error = %v, wantErr %v", tt.href, err, tt.wantErr)
			}
			if err == nil && got != tt.want {
				t.Errorf("normalizeURL(%q) = %q, want %q", tt.href, got, tt.want)
			}
		})
	}
}

func TestIsContentLink(t *testing.T) {
	tests := []struct {
		href string
		want bool
	}{
		{"", false},
		{"#comments", false},
		{"javascript:void(0)", false},
		{"/wire/rss.xml", false},
		{"/wire/an-article", true},
		{"https://mises.org/power-market/another", true},
	}
	for _, tt := range tests {
		if got := isContentLink(tt.href); got != tt.want {
			t.Errorf("isContentLink(%q) = %v, want %v", tt.href, got, tt.want)
		}
	}
}

func TestIsValidURL(t *testing.T) {
	tests := []struct {
		s    string
		want bool
	}{
		{"https://mises.org/wire", true},
		{"http://example.com", true},
		{"mises.org/wire", false},
		{"/wire/article", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := isValidURL(tt.s); got != tt.want {
			t.Errorf("isValidURL(%q) = %v, want %v", tt.s, got, tt.want)
		}
	}
}
