// Markdown export: renders processed chapters as a single CommonMark
// digest instead of an EPUB.
package main

import (
	"fmt"
	"strings"
	"sync"

	"github.com/JohannesKaufmann/dom"
	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"golang.org/x/net/html"
)

var (
	mdConverter     *converter.Converter
	mdConverterOnce sync.Once
)

// getMarkdownConverter returns a shared converter. Chapter images point at
// book package paths that mean nothing outside an EPUB, so the img renderer
// replaces them with alt-text placeholders.
func getMarkdownConverter() *converter.Converter {
	mdConverterOnce.Do(func() {
		mdConverter = converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
			),
		)
		mdConverter.Register.RendererFor("img", converter.TagTypeInline,
			func(ctx converter.Context, w converter.Writer, n *html.Node) converter.RenderStatus {
				src := dom.GetAttributeOr(n, "src", "")
				if !strings.HasPrefix(src, "data:") && !strings.HasPrefix(src, "images/") {
					return converter.RenderTryNext
				}
				if alt := strings.TrimSpace(dom.GetAttributeOr(n, "alt", "")); alt != "" {
					w.WriteString("[Image: " + alt + "]")
				}
				return converter.RenderSuccess
			},
			converter.PriorityEarly,
		)
	})
	return mdConverter
}

// chapterToMarkdown converts one chapter's HTML to Markdown.
func chapterToMarkdown(ch *chapter) (string, error) {
	md, err := getMarkdownConverter().ConvertString(ch.Content)
	if err != nil {
		return "", fmt.Errorf("markdown conversion: %w", err)
	}
	return strings.TrimSpace(md), nil
}

// chaptersToMarkdown joins all chapters into one document separated by
// horizontal rules, newest first.
func chaptersToMarkdown(chapters []*chapter) (string, error) {
	sortChapters(chapters)
	var parts []string
	for _, ch := range chapters {
		md, err := chapterToMarkdown(ch)
		if err != nil {
			logf("Warning: markdown conversion failed for %q: %v\n", ch.Title, err)
			continue
		}
		parts = append(parts, md)
	}
	if len(parts) == 0 {
		return "", fmt.Errorf("no articles converted to markdown")
	}
	return strings.Join(parts, "\n\n---\n\n") + "\n", nil
}
