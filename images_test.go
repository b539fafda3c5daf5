package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// makePNG creates a solid-color PNG image at the given dimensions.
func makePNG(w, h int, c color.Color) []byte {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	png.Encode(&buf, img)
	return buf.Bytes()
}

// makeJPEG creates a solid-color JPEG image at the given dimensions.
func makeJPEG(w, h int, c color.Color) []byte {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90})
	return buf.Bytes()
}

func dataURI(mime string, data []byte) string {
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}

func TestValidateImage(t *testing.T) {
	tests := []struct {
		name    string
		data    []byte
		want    string
		wantErr bool
	}{
		{"big png", makePNG(100, 100, color.White), "png", false},
		{"big jpeg", makeJPEG(200, 60, color.Black), "jpeg", false},
		{"too small", makePNG(10, 10, color.White), "", true},
		{"small on one axis", makePNG(300, 20, color.White), "", true},
		{"not an image", []byte("plain text"), "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			format, err := validateImage(tt.data)
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && format != tt.want {
				t.Errorf("format = %q, want %q", format, tt.want)
			}
		})
	}
}

func TestPackagePath(t *testing.T) {
	data := makePNG(60, 60, color.White)
	p := packagePath(data, "png", false)
	if !strings.HasPrefix(p, "images/image_") || !strings.HasSuffix(p, ".png") {
		t.Errorf("path %q", p)
	}
	fp := packagePath(data, "png", true)
	if !strings.HasPrefix(fp, "images/featured_image_") {
		t.Errorf("featured path %q", fp)
	}
	// Same bytes, same path: content addressing.
	if p != packagePath(data, "png", false) {
		t.Error("identical data produced different paths")
	}
	if p == packagePath(makePNG(61, 61, color.White), "png", false) {
		t.Error("different data produced identical paths")
	}
}

func TestPromoteLazySrc(t *testing.T) {
	doc := parseDoc(t, `<html><body>
	<img data-src="/real1.png">
	<img src="data:image/gif;base64,R0lGODlhAQABAAAAACw=" data-src="/real2.png">
	<img src="/already.png" data-src="/ignored.png">
	</body></html>`)

	promoteLazySrc(doc)

	var srcs []string
	doc.Find("img").Each(func(_ int, s *goquery.Selection) {
		srcs = append(srcs, s.AttrOr("src", ""))
	})
	want := []string{"/real1.png", "/real2.png", "/already.png"}
	if len(srcs) != len(want) {
		t.Fatalf("srcs = %v", srcs)
	}
	for i := range want {
		if srcs[i] != want[i] {
			t.Errorf("img %d src = %q, want %q", i, srcs[i], want[i])
		}
	}
}

func TestFetchImage_DedupAcrossCalls(t *testing.T) {
	var hits int32
	imgData := makePNG(80, 80, color.NRGBA{0, 0, 255, 255})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Header().Set("Content-Type", "image/png")
		w.Write(imgData)
	}))
	defer srv.Close()

	f := newTestFetcher(t, &config{})
	cache := newImageCache()
	base, _ := url.Parse(srv.URL)
	ctx := context.Background()

	p1, err := fetchImage(ctx, f, cache, srv.URL+"/pic.png", base, false)
	if err != nil {
		t.Fatal(err)
	}
	p2, err := fetchImage(ctx, f, cache, srv.URL+"/pic.png", base, false)
	if err != nil {
		t.Fatal(err)
	}
	if p1 != p2 {
		t.Errorf("same origin produced different paths: %q vs %q", p1, p2)
	}
	if n := atomic.LoadInt32(&hits); n != 1 {
		t.Errorf("image fetched %d times, want 1", n)
	}
	if _, ok := cache.get(p1); !ok {
		t.Error("asset missing from cache")
	}
}

func TestFetchImage_ConcurrentWorkersSingleDownload(t *testing.T) {
	var hits int32
	imgData := makePNG(80, 80, color.NRGBA{10, 10, 10, 255})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		// Hold the response so other workers pile up on the same key.
		time.Sleep(100 * time.Millisecond)
		w.Header().Set("Content-Type", "image/png")
		w.Write(imgData)
	}))
	defer srv.Close()

	f := newTestFetcher(t, &config{})
	cache := newImageCache()
	base, _ := url.Parse(srv.URL)

	const workers = 8
	paths := make([]string, workers)
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			paths[i], errs[i] = fetchImage(context.Background(), f, cache, srv.URL+"/shared.png", base, false)
		}(i)
	}
	wg.Wait()

	for i := 0; i < workers; i++ {
		if errs[i] != nil {
			t.Fatalf("worker %d: %v", i, errs[i])
		}
		if paths[i] != paths[0] {
			t.Errorf("worker %d got path %q, want %q", i, paths[i], paths[0])
		}
	}
	if n := atomic.LoadInt32(&hits); n != 1 {
		t.Errorf("image downloaded %d times, want 1", n)
	}
}

func TestFetchImage_DataURI(t *testing.T) {
	cache := newImageCache()
	base, _ := url.Parse("https://mises.org/wire/x")
	uri := dataURI("image/png", makePNG(64, 64, color.White))

	p, err := fetchImage(context.Background(), nil, cache, uri, base, false)
	if err != nil {
		t.Fatal(err)
	}
	asset, ok := cache.get(p)
	if !ok {
		t.Fatal("asset not stored")
	}
	if asset.Format != "png" {
		t.Errorf("format = %q", asset.Format)
	}
}

func TestProcessImages(t *testing.T) {
	good := makePNG(80, 80, color.NRGBA{255, 0, 0, 255})
	tiny := makePNG(8, 8, color.White)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		switch r.URL.Path {
		case "/good.png":
			w.Write(good)
		case "/tiny.png":
			w.Write(tiny)
		default:
			w.WriteHeader(404)
		}
	}))
	defer srv.Close()

	fragment := `<p>text</p>
	<img src="` + srv.URL + `/good.png" srcset="a 1x" loading="lazy">
	<img src="` + srv.URL + `/tiny.png">
	<img src="` + srv.URL + `/missing.png">
	<img src="data:image/gif;base64,R0lGODlhAQABAAAAACw=">
	<img src="` + srv.URL + `/good.png" alt="again">`

	f := newTestFetcher(t, &config{})
	cache := newImageCache()
	base, _ := url.Parse(srv.URL)

	out, paths, err := processImages(context.Background(), f, cache, fragment, base)
	if err != nil {
		t.Fatal(err)
	}

	if len(paths) != 1 {
		t.Fatalf("paths = %v, want exactly one deduplicated asset", paths)
	}
	if strings.Count(out, `src="`+paths[0]+`"`) != 2 {
		t.Errorf("both good img tags should point at %q:\n%s", paths[0], out)
	}
	for _, gone := range []string{"/tiny.png", "/missing.png", "R0lGODlh"} {
		if strings.Contains(out, gone) {
			t.Errorf("output still references %s", gone)
		}
	}
	if strings.Contains(out, "srcset") || strings.Contains(out, "loading") {
		t.Error("junk attributes survived")
	}
	if !strings.Contains(out, `alt="Image"`) {
		t.Error("missing default alt text")
	}
}
