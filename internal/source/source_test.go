package source

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"golang.org/x/image/tiff"

	"github.com/kiesman99/zoomtile/pkg/tile"
)

var (
	_ tile.ImageSource = (*Memory)(nil)
	_ tile.ImageSource = (*Pattern)(nil)
	_ tile.ImageSource = (*Delayed)(nil)
)

// quadrants returns a w x h image with a distinct colour per quadrant.
func quadrants(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := color.NRGBA{A: 255}
			if x >= w/2 {
				c.R = 255
			}
			if y >= h/2 {
				c.G = 255
			}
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

func TestMemoryDecodeRegion(t *testing.T) {
	m := NewMemory(quadrants(400, 200), "image/png")
	ctx := context.Background()

	info, err := m.Info(ctx)
	if err != nil || info.Width != 400 || info.Height != 200 {
		t.Fatalf("Info = %+v, %v", info, err)
	}

	img, err := m.DecodeRegion(ctx, image.Rect(200, 100, 400, 200), 1)
	if err != nil {
		t.Fatal(err)
	}
	if b := img.Bounds(); b.Dx() != 200 || b.Dy() != 100 {
		t.Errorf("full-res region = %v", b)
	}
	if r, g, _, _ := img.At(img.Bounds().Min.X+10, img.Bounds().Min.Y+10).RGBA(); r>>8 != 255 || g>>8 != 255 {
		t.Errorf("bottom-right quadrant colour = %d,%d", r>>8, g>>8)
	}

	img, err = m.DecodeRegion(ctx, image.Rect(0, 0, 400, 200), 4)
	if err != nil {
		t.Fatal(err)
	}
	if b := img.Bounds(); b.Dx() != 100 || b.Dy() != 50 {
		t.Errorf("sampled region = %v, want 100x50", b)
	}
}

func TestMemorySubsamplesInPlace(t *testing.T) {
	src := quadrants(2048, 2048)
	m := NewMemory(src, "")
	region := image.Rect(1024, 0, 2048, 1024)

	var before, after runtime.MemStats
	runtime.ReadMemStats(&before)
	img, err := m.DecodeRegion(context.Background(), region, 8)
	runtime.ReadMemStats(&after)
	if err != nil {
		t.Fatal(err)
	}

	if b := img.Bounds(); b != image.Rect(0, 0, 128, 128) {
		t.Errorf("bounds = %v, want 128x128 at the origin", b)
	}
	if r, g, _, _ := img.At(64, 64).RGBA(); r>>8 != 255 || g>>8 != 0 {
		t.Errorf("top-right quadrant colour = %d,%d", r>>8, g>>8)
	}
	// A full-resolution copy of the region alone would be 4 MiB.
	if alloc := after.TotalAlloc - before.TotalAlloc; alloc >= 2<<20 {
		t.Errorf("allocated %d bytes for a 128x128 tile", alloc)
	}
}

func TestMemoryClipsEdgeRegions(t *testing.T) {
	m := NewMemory(quadrants(300, 300), "")
	img, err := m.DecodeRegion(context.Background(), image.Rect(256, 256, 512, 512), 2)
	if err != nil {
		t.Fatal(err)
	}
	if b := img.Bounds(); b.Dx() != 22 || b.Dy() != 22 {
		t.Errorf("edge region = %v, want 22x22", b)
	}
	if _, err := m.DecodeRegion(context.Background(), image.Rect(400, 400, 500, 500), 1); err == nil {
		t.Error("region outside the image should fail")
	}
}

func TestMemoryHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m := NewMemory(quadrants(10, 10), "")
	if _, err := m.DecodeRegion(ctx, image.Rect(0, 0, 10, 10), 1); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestSampledSize(t *testing.T) {
	tests := []struct {
		rect         image.Rectangle
		sample, w, h int
	}{
		{image.Rect(0, 0, 256, 256), 1, 256, 256},
		{image.Rect(0, 0, 256, 256), 4, 64, 64},
		{image.Rect(0, 0, 101, 3), 4, 26, 1},
		{image.Rect(0, 0, 1, 1), 8, 1, 1},
		{image.Rect(0, 0, 10, 10), 0, 10, 10},
	}
	for _, tt := range tests {
		w, h := SampledSize(tt.rect, tt.sample)
		if w != tt.w || h != tt.h {
			t.Errorf("SampledSize(%v, %d) = %dx%d, want %dx%d", tt.rect, tt.sample, w, h, tt.w, tt.h)
		}
	}
}

func TestOpenFiles(t *testing.T) {
	dir := t.TempDir()
	img := quadrants(64, 32)

	var pngBuf, tiffBuf bytes.Buffer
	if err := png.Encode(&pngBuf, img); err != nil {
		t.Fatal(err)
	}
	if err := tiff.Encode(&tiffBuf, img, nil); err != nil {
		t.Fatal(err)
	}
	files := map[string][]byte{"a.png": pngBuf.Bytes(), "b.tiff": tiffBuf.Bytes()}
	for name, data := range files {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, data, 0o644); err != nil {
			t.Fatal(err)
		}
		m, err := Open(path)
		if err != nil {
			t.Fatalf("Open(%s): %v", name, err)
		}
		info, _ := m.Info(context.Background())
		if info.Width != 64 || info.Height != 32 {
			t.Errorf("%s: size %dx%d", name, info.Width, info.Height)
		}
		if info.MimeType == "" {
			t.Errorf("%s: no mime type", name)
		}
	}

	if _, err := Open(filepath.Join(dir, "missing.png")); err == nil {
		t.Error("missing file should fail")
	}
}

func TestFetch(t *testing.T) {
	var pngBuf bytes.Buffer
	if err := png.Encode(&pngBuf, quadrants(40, 20)); err != nil {
		t.Fatal(err)
	}
	var gotUA, gotHeader string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotHeader = r.Header.Get("X-Api-Key")
		switch r.URL.Path {
		case "/image.png":
			w.Header().Set("Content-Type", "image/png")
			w.Write(pngBuf.Bytes())
		case "/garbage":
			w.Write([]byte("not an image"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	f := NewFetcher(srv.Client())
	f.Headers = map[string]string{"X-Api-Key": "secret"}
	ctx := context.Background()

	m, err := f.Fetch(ctx, srv.URL+"/image.png")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if b := m.Image().Bounds(); b.Dx() != 40 || b.Dy() != 20 {
		t.Errorf("fetched size = %v", b)
	}
	if gotUA != DefaultUserAgent || gotHeader != "secret" {
		t.Errorf("headers = %q, %q", gotUA, gotHeader)
	}

	_, err = f.Fetch(ctx, srv.URL+"/missing")
	var fe *FetchError
	if !errors.As(err, &fe) || fe.StatusCode == nil || *fe.StatusCode != http.StatusNotFound {
		t.Errorf("missing image err = %v", err)
	}

	if _, err := f.Fetch(ctx, srv.URL+"/garbage"); !errors.As(err, &fe) {
		t.Errorf("garbage err = %v, want FetchError", err)
	}
}

func TestPattern(t *testing.T) {
	p := NewPattern(100000, 50000)
	ctx := context.Background()

	img, err := p.DecodeRegion(ctx, image.Rect(0, 0, 4096, 4096), 16)
	if err != nil {
		t.Fatal(err)
	}
	if b := img.Bounds(); b.Dx() != 256 || b.Dy() != 256 {
		t.Errorf("sampled pattern = %v", b)
	}
	if got, want := img.At(3, 5), p.At(3*16, 5*16); got != want {
		t.Errorf("pixel = %v, want %v", got, want)
	}

	again, _ := p.DecodeRegion(ctx, image.Rect(0, 0, 4096, 4096), 16)
	if !bytes.Equal(img.(*image.NRGBA).Pix, again.(*image.NRGBA).Pix) {
		t.Error("pattern decode is not deterministic")
	}
}

func TestDelayedHonoursCancellation(t *testing.T) {
	d := &Delayed{ImageSource: NewPattern(10, 10), Latency: time.Hour}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := d.DecodeRegion(ctx, image.Rect(0, 0, 10, 10), 1); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
}

func TestResolve(t *testing.T) {
	ctx := context.Background()
	src, err := Resolve(ctx, "pattern:2000x1000", nil)
	if err != nil {
		t.Fatal(err)
	}
	info, _ := src.Info(ctx)
	if info.Width != 2000 || info.Height != 1000 {
		t.Errorf("pattern info = %+v", info)
	}
	for _, bad := range []string{"", "pattern:12", "pattern:0x5", "pattern:axb"} {
		if _, err := Resolve(ctx, bad, nil); err == nil {
			t.Errorf("Resolve(%q) should fail", bad)
		}
	}
}
