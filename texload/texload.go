// Package texload decodes texture images off the render thread.
//
// Loads run on a bounded worker pool and concurrent requests for the same path
// share a single decode. Results are delivered through a callback which may
// run on any goroutine; callers must hand the decoded image back to the thread
// owning the graphics context before uploading it.
package texload

import (
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Carmen-Shannon/automation/tools/worker"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
	"golang.org/x/sync/singleflight"
)

// ErrUnsupportedFormat is returned when a path does not name a decodable image file.
var ErrUnsupportedFormat = errors.New("texload: unsupported image format")

var extensions = []string{".png", ".jpg", ".jpeg", ".gif", ".bmp", ".tif", ".tiff", ".webp"}

// IsImagePath reports whether path has the extension of an image format this package can decode.
func IsImagePath(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range extensions {
		if ext == e {
			return true
		}
	}
	return false
}

// Config configures a [Loader].
type Config struct {
	// Workers is the maximum number of concurrent decodes. Defaults to 4.
	Workers int
	// Open opens the file at path. Defaults to [os.Open].
	Open func(path string) (io.ReadCloser, error)
	// Logger receives load diagnostics. Nil discards them.
	Logger *slog.Logger
}

// Loader decodes images asynchronously.
type Loader struct {
	pool   worker.DynamicWorkerPool
	group  singleflight.Group
	wg     sync.WaitGroup
	nextID atomic.Int64
	open   func(path string) (io.ReadCloser, error)
	log    *slog.Logger
}

// New returns a ready to use Loader.
func New(cfg Config) *Loader {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.Open == nil {
		cfg.Open = func(path string) (io.ReadCloser, error) { return os.Open(path) }
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	return &Loader{
		// Queue size of 256 covers the textures of several large material trees.
		pool: worker.NewDynamicWorkerPool(cfg.Workers, 256, time.Second),
		open: cfg.Open,
		log:  cfg.Logger,
	}
}

// LoadImage starts decoding the image at path and calls done with the result
// once finished. done is called exactly once, from a worker goroutine.
func (l *Loader) LoadImage(path string, done func(img image.Image, err error)) {
	l.wg.Add(1)
	id := int(l.nextID.Add(1))
	l.pool.SubmitTask(worker.Task{
		ID: id,
		Do: func() (any, error) {
			defer l.wg.Done()
			start := time.Now()
			v, err, shared := l.group.Do(path, func() (any, error) {
				return l.Load(path)
			})
			if err != nil {
				l.log.Warn("texture load failed", slog.String("path", path), slog.String("err", err.Error()))
				done(nil, err)
				return nil, nil
			}
			img := v.(image.Image)
			l.log.Debug("texture loaded", slog.String("path", path), slog.Bool("shared", shared),
				slog.Duration("elapsed", time.Since(start)), slog.Any("bounds", img.Bounds()))
			done(img, nil)
			return nil, nil
		},
	})
}

// Load synchronously opens and decodes the image at path.
func (l *Loader) Load(path string) (image.Image, error) {
	if !IsImagePath(path) {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, path)
	}
	fp, err := l.open(path)
	if err != nil {
		return nil, err
	}
	defer fp.Close()
	img, err := Decode(fp)
	if err != nil {
		return nil, fmt.Errorf("decoding %q: %w", path, err)
	}
	return img, nil
}

// Wait blocks until all loads started before the call have delivered their result.
func (l *Loader) Wait() { l.wg.Wait() }

// Decode decodes an image in any of the registered formats.
func Decode(r io.Reader) (image.Image, error) {
	img, _, err := image.Decode(r)
	return img, err
}

// ToNRGBA converts img to a tightly packed non-premultiplied 8-bit image with
// its origin at (0, 0). Images already in that layout are returned as is.
func ToNRGBA(img image.Image) *image.NRGBA {
	if dst, ok := img.(*image.NRGBA); ok && dst.Rect.Min == (image.Point{}) && dst.Stride == 4*dst.Rect.Dx() {
		return dst
	}
	b := img.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}
