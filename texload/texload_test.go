package texload

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"sync"
	"sync/atomic"
	"testing"
)

func pngBytes(t *testing.T, c color.Color) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 2, 2))
	for i := 0; i < 4; i++ {
		img.Set(i%2, i/2, c)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestIsImagePath(t *testing.T) {
	for _, tc := range []struct {
		path string
		want bool
	}{
		{"a.png", true}, {"dir/b.JPG", true}, {"c.jpeg", true}, {"d.webp", true},
		{"e.tiff", true}, {"f.bmp", true}, {"rgb", false}, {"a", false}, {"g.txt", false},
	} {
		if got := IsImagePath(tc.path); got != tc.want {
			t.Errorf("IsImagePath(%q)=%v, want %v", tc.path, got, tc.want)
		}
	}
}

func TestLoadImageShared(t *testing.T) {
	data := pngBytes(t, color.NRGBA{G: 255, A: 255})
	var opens atomic.Int32
	l := New(Config{
		Workers: 4,
		Open: func(path string) (io.ReadCloser, error) {
			opens.Add(1)
			if path == "missing.png" {
				return nil, errors.New("not found")
			}
			return io.NopCloser(bytes.NewReader(data)), nil
		},
	})
	var mu sync.Mutex
	var imgs []image.Image
	var errs []error
	const n = 8
	for i := 0; i < n; i++ {
		l.LoadImage("green.png", func(img image.Image, err error) {
			mu.Lock()
			defer mu.Unlock()
			imgs = append(imgs, img)
			errs = append(errs, err)
		})
	}
	l.LoadImage("missing.png", func(img image.Image, err error) {
		mu.Lock()
		defer mu.Unlock()
		if err == nil || img != nil {
			t.Error("expected load error for missing file")
		}
	})
	l.Wait()
	if len(imgs) != n {
		t.Fatalf("expected %d callbacks, got %d", n, len(imgs))
	}
	for i, img := range imgs {
		if errs[i] != nil {
			t.Fatal(errs[i])
		}
		r, g, b, a := img.At(0, 0).RGBA()
		if r != 0 || g != 0xffff || b != 0 || a != 0xffff {
			t.Errorf("unexpected pixel %v", img.At(0, 0))
		}
	}
	if got := opens.Load(); got > n+1 {
		t.Errorf("too many opens: %d", got)
	}
}

func TestLoadUnsupported(t *testing.T) {
	l := New(Config{})
	_, err := l.Load("image.txt")
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("want ErrUnsupportedFormat, got %v", err)
	}
}

func TestToNRGBA(t *testing.T) {
	src := image.NewRGBA(image.Rect(3, 3, 5, 6))
	src.Set(3, 3, color.RGBA{R: 255, A: 255})
	dst := ToNRGBA(src)
	if dst.Bounds() != image.Rect(0, 0, 2, 3) {
		t.Fatalf("unexpected bounds %v", dst.Bounds())
	}
	if got := dst.NRGBAAt(0, 0); got != (color.NRGBA{R: 255, A: 255}) {
		t.Errorf("unexpected pixel %v", got)
	}
	if ToNRGBA(dst) != dst {
		t.Error("expected packed image to be returned as is")
	}
}
