// Book assembly: sorts processed chapters, splits them across volumes,
// and writes each volume as an EPUB 3 file via go-epub.
package main

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"html"
	"image"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	epub "github.com/go-shiori/go-epub"
	"github.com/google/uuid"
	"github.com/vincent-petithory/dataurl"
	xdraw "golang.org/x/image/draw"
)

// maxCoverDim bounds cover dimensions; many readers choke on very large
// cover images.
const maxCoverDim = 2400

const bookCSS = `body { margin: 1em; line-height: 1.5; }
img { max-width: 100%; height: auto; }
pre, code { font-size: 0.85em; }
blockquote { margin-left: 1em; padding-left: 0.5em; border-left: 2px solid #999; }
.author { font-size: 0.9em; color: #444; margin-top: -0.5em; }
.date { font-size: 0.85em; color: #666; }
.summary { font-size: 0.95em; color: #333; }
.tags { font-size: 0.8em; color: #888; }
.source { font-size: 0.8em; color: #666; }
figure.featured { margin: 0 0 1em 0; text-align: center; }`

// mimeByFormat maps decoded image formats to data URI media types.
var mimeByFormat = map[string]string{
	"jpeg": "image/jpeg",
	"png":  "image/png",
	"gif":  "image/gif",
	"webp": "image/webp",
}

// sortChapters orders newest first. Undated chapters keep their relative
// order and sort after every dated one.
func sortChapters(chapters []*chapter) {
	sort.SliceStable(chapters, func(i, j int) bool {
		a, b := chapters[i].Meta.Published, chapters[j].Meta.Published
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return a.After(*b)
		}
	})
}

// splitChapters divides chapters into n contiguous parts. Every part but
// the last holds exactly ceil(total/n) chapters, the last holds the
// remainder, and no part is empty.
func splitChapters(chapters []*chapter, n int) [][]*chapter {
	if n <= 1 || len(chapters) <= 1 {
		return [][]*chapter{chapters}
	}
	size := (len(chapters) + n - 1) / n
	var parts [][]*chapter
	for start := 0; start < len(chapters); start += size {
		end := start + size
		if end > len(chapters) {
			end = len(chapters)
		}
		parts = append(parts, chapters[start:end])
	}
	return parts
}

// deriveTitle builds a volume title from its contents when no explicit
// title covers it.
func deriveTitle(base string, chapters []*chapter, multiVolume bool) string {
	if len(chapters) == 1 && !multiVolume {
		return chapters[0].Title
	}
	var first, last string
	for _, ch := range chapters {
		if ch.Meta.Published == nil {
			continue
		}
		m := ch.Meta.Published.Format("2006-01")
		if last == "" || m > last {
			last = m
		}
		if first == "" || m < first {
			first = m
		}
	}
	switch {
	case first == "":
		return fmt.Sprintf("%s (%d Articles)", base, len(chapters))
	case first == last:
		return fmt.Sprintf("%s (%s)", base, first)
	default:
		// Ranges read oldest-to-newest even though chapters sort newest
		// first.
		return fmt.Sprintf("%s (%s to %s)", base, first, last)
	}
}

// assembleBooks writes chapters as one or more EPUB files and returns the
// output paths.
func assembleBooks(chapters []*chapter, imgCache *imageCache, cfg *config) ([]string, error) {
	if len(chapters) == 0 {
		return nil, fmt.Errorf("no articles to assemble")
	}
	sortChapters(chapters)

	parts := splitChapters(chapters, cfg.Split)
	var outputs []string
	failed := 0
	for i, part := range parts {
		title := deriveTitle(cfg.Title, part, len(parts) > 1)
		stem := sanitizeFilename(title)
		if len(parts) > 1 {
			title = fmt.Sprintf("%s - Part %d", title, i+1)
			stem = fmt.Sprintf("%s_vol%d", sanitizeFilename(cfg.Title), i+1)
		}
		outPath := filepath.Join(cfg.SaveDir, stem+".epub")

		// One part failing to serialize must not abandon the rest.
		if err := buildBook(part, imgCache, title, outPath, cfg); err != nil {
			logf("Error: could not write %s: %v\n", outPath, err)
			failed++
			continue
		}
		logf("Wrote %s (%d articles)\n", outPath, len(part))
		outputs = append(outputs, outPath)
	}
	if len(outputs) == 0 {
		return nil, fmt.Errorf("all %d book(s) failed to write", failed)
	}
	if failed > 0 {
		logf("Warning: %d of %d book(s) failed to write.\n", failed, len(parts))
	}
	return outputs, nil
}

// introPage renders the front-matter page listing what the volume holds.
func introPage(title string, chapters []*chapter) string {
	var b strings.Builder
	b.WriteString("<h1>About This Collection</h1>\n")
	fmt.Fprintf(&b, "<p><em>%s</em> collects %d articles from the Mises Institute.</p>\n",
		html.EscapeString(title), len(chapters))
	fmt.Fprintf(&b, "<p class=\"date\">Generated on %s.</p>\n", time.Now().Format("January 2, 2006"))
	b.WriteString("<ol class=\"toc\">\n")
	for _, ch := range chapters {
		fmt.Fprintf(&b, "<li><a href=\"%s\">%s</a>", ch.Filename, html.EscapeString(ch.Title))
		if ch.Meta.Published != nil {
			fmt.Fprintf(&b, " <span class=\"date\">(%s)</span>", ch.Meta.Published.Format("January 2, 2006"))
		}
		b.WriteString("</li>\n")
	}
	b.WriteString("</ol>\n")
	return b.String()
}

// buildBook writes one EPUB volume.
func buildBook(chapters []*chapter, imgCache *imageCache, title, outPath string, cfg *config) error {
	e, err := epub.NewEpub(title)
	if err != nil {
		return fmt.Errorf("creating book: %w", err)
	}
	e.SetLang("en")
	e.SetAuthor(defaultAuthor)
	e.SetIdentifier("urn:uuid:" + uuid.NewString())
	e.SetDescription(fmt.Sprintf("A collection of %d articles from the Mises Institute.", len(chapters)))

	cssDataURI := "data:text/css;base64," + base64.StdEncoding.EncodeToString([]byte(bookCSS))
	cssPath, err := e.AddCSS(cssDataURI, "styles.css")
	if err != nil {
		logf("Warning: could not add CSS: %v\n", err)
		cssPath = ""
	}

	if cfg.CoverPath != "" {
		if err := setCover(e, cfg.CoverPath); err != nil {
			logf("Warning: could not set cover: %v\n", err)
		}
	}

	// Filename collisions are settled before the intro renders so its
	// links point at the files that actually hold the chapters.
	usedNames := map[string]bool{}
	for _, ch := range chapters {
		filename := ch.Filename
		for i := 2; usedNames[filename]; i++ {
			stem := strings.TrimSuffix(ch.Filename, ".xhtml")
			filename = fmt.Sprintf("%s_%d.xhtml", stem, i)
		}
		usedNames[filename] = true
		ch.Filename = filename
	}

	// Register each referenced image once per volume and remember the
	// internal path go-epub assigned to it.
	internal := map[string]string{}
	addImage := func(pkgPath string) (string, error) {
		if p, ok := internal[pkgPath]; ok {
			return p, nil
		}
		asset, ok := imgCache.get(pkgPath)
		if !ok {
			return "", fmt.Errorf("no data for %s", pkgPath)
		}
		uri := dataurl.New(asset.Data, mimeByFormat[asset.Format]).String()
		p, err := e.AddImage(uri, filepath.Base(pkgPath))
		if err != nil {
			return "", err
		}
		internal[pkgPath] = p
		return p, nil
	}

	if _, err := e.AddSection(introPage(title, chapters), "About This Collection", "intro.xhtml", cssPath); err != nil {
		logf("Warning: could not add intro page: %v\n", err)
	}

	for _, ch := range chapters {
		body := ch.Content
		for _, pkgPath := range ch.Images {
			p, err := addImage(pkgPath)
			if err != nil {
				logf("Warning: dropping image %s: %v\n", pkgPath, err)
				continue
			}
			body = strings.ReplaceAll(body, `src="`+pkgPath+`"`, `src="`+p+`"`)
		}
		body = sanitizeForXHTML(body)

		if _, err := e.AddSection(body, ch.Title, ch.Filename, cssPath); err != nil {
			logf("Warning: could not add %q: %v\n", ch.Title, err)
		}
	}

	if err := e.Write(outPath); err != nil {
		return fmt.Errorf("writing book: %w", err)
	}
	return nil
}

// setCover loads a cover image from disk, downscales it when oversized, and
// installs it on the book.
func setCover(e *epub.Epub, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading cover: %w", err)
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("decoding cover: %w", err)
	}

	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w > maxCoverDim || h > maxCoverDim {
		scale := float64(maxCoverDim) / float64(w)
		if h > w {
			scale = float64(maxCoverDim) / float64(h)
		}
		nw, nh := int(float64(w)*scale), int(float64(h)*scale)
		dst := image.NewNRGBA(image.Rect(0, 0, nw, nh))
		xdraw.BiLinear.Scale(dst, dst.Bounds(), img, b, xdraw.Over, nil)
		img = dst
	}

	var buf bytes.Buffer
	name := "cover.png"
	mime := "image/png"
	if format == "jpeg" {
		name = "cover.jpg"
		mime = "image/jpeg"
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90})
	} else {
		err = png.Encode(&buf, img)
	}
	if err != nil {
		return fmt.Errorf("encoding cover: %w", err)
	}

	uri := dataurl.New(buf.Bytes(), mime).String()
	internalPath, err := e.AddImage(uri, name)
	if err != nil {
		return fmt.Errorf("adding cover image: %w", err)
	}
	return e.SetCover(internalPath, "")
}
