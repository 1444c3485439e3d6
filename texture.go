package fabric

import (
	"errors"
	"image"
	"image/color"
	"log/slog"
	"sync"
)

// texState tracks the asynchronous load of an image or cube map uniform.
// Load callbacks only write ready; everything else is touched on the
// goroutine binding the material. A failed load leaves the placeholder bound.
type texState struct {
	mu sync.Mutex
	// gen changes whenever the uniform's source changes so results of
	// stale loads are dropped.
	gen     uint64
	started bool
	ready   []image.Image

	tex     Texture
	cube    CubeMap
	current bool // tex or cube was created from gen.
}

func (s *texState) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	s.started = false
	s.ready = nil
	s.current = false
}

func (s *texState) deliver(gen uint64, imgs []image.Image, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen || err != nil {
		return
	}
	s.ready = imgs
}

// take returns decoded images awaiting upload and whether a load must be started.
func (s *texState) take() (ready []image.Image, start bool, gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ready = s.ready
	s.ready = nil
	start = !s.started
	s.started = true
	return ready, start, s.gen
}

func (s *texState) destroy() error {
	var errs []error
	if s.tex != nil {
		errs = append(errs, s.tex.Destroy())
		s.tex = nil
	}
	if s.cube != nil {
		errs = append(errs, s.cube.Destroy())
		s.cube = nil
	}
	s.current = false
	return errors.Join(errs...)
}

func whiteImage() image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, 1, 1))
	img.SetNRGBA(0, 0, color.NRGBA{R: 255, G: 255, B: 255, A: 255})
	return img
}

func (r *materialRoot) placeholder() (Texture, error) {
	if r.white == nil {
		tex, err := r.ctx.CreateTexture(whiteImage())
		if err != nil {
			return nil, err
		}
		r.white = tex
	}
	return r.white, nil
}

func (r *materialRoot) placeholderCube() (CubeMap, error) {
	if r.whiteCube == nil {
		white := whiteImage()
		cube, err := r.ctx.CreateCubeMap([6]image.Image{white, white, white, white, white, white})
		if err != nil {
			return nil, err
		}
		r.whiteCube = cube
	}
	return r.whiteCube, nil
}

// texture returns the texture to bind for a sampler2D uniform. Until the
// image at the uniform's path is decoded the placeholder is returned.
func (r *materialRoot) texture(u *Uniform) (Texture, error) {
	v := &u.value
	if v.Texture != nil {
		return v.Texture, nil
	} else if v.Path == DefaultImage {
		return r.placeholder()
	}
	s := &u.tex
	if s.current {
		return s.tex, nil
	}
	ready, start, gen := s.take()
	switch {
	case ready != nil:
		tex, err := r.ctx.CreateTexture(ready[0])
		if err != nil {
			return nil, err
		}
		if err := s.destroy(); err != nil {
			Logger().Warn("destroying stale texture", slog.String("uniform", u.name), slog.String("err", err.Error()))
		}
		s.tex = tex
		s.current = true
		Logger().Debug("texture uploaded", slog.String("uniform", u.name), slog.String("path", v.Path))
		return tex, nil
	case start:
		path := v.Path
		r.loader.LoadImage(path, func(img image.Image, err error) {
			if err != nil {
				Logger().Warn("image load failed, keeping placeholder", slog.String("uniform", u.name), slog.String("path", path), slog.String("err", err.Error()))
			}
			s.deliver(gen, []image.Image{img}, err)
		})
	}
	return r.placeholder()
}

// cubeMap returns the cube map to bind for a samplerCube uniform. Until all six
// faces are decoded the placeholder is returned.
func (r *materialRoot) cubeMap(u *Uniform) (CubeMap, error) {
	v := &u.value
	if v.CubeMap != nil {
		return v.CubeMap, nil
	} else if v.Path == DefaultCubeMap {
		return r.placeholderCube()
	}
	s := &u.tex
	if s.current {
		return s.cube, nil
	}
	ready, start, gen := s.take()
	switch {
	case ready != nil:
		cube, err := r.ctx.CreateCubeMap([6]image.Image(ready))
		if err != nil {
			return nil, err
		}
		if err := s.destroy(); err != nil {
			Logger().Warn("destroying stale cube map", slog.String("uniform", u.name), slog.String("err", err.Error()))
		}
		s.cube = cube
		s.current = true
		Logger().Debug("cube map uploaded", slog.String("uniform", u.name))
		return cube, nil
	case start:
		r.loadFaces(u, v.Faces, gen)
	}
	return r.placeholderCube()
}

func (r *materialRoot) loadFaces(u *Uniform, faces CubeFaces, gen uint64) {
	var (
		mu        sync.Mutex
		imgs      = make([]image.Image, 6)
		remaining int
		firstErr  error
	)
	paths := faces.Paths()
	for i, p := range paths {
		if p == DefaultImage {
			imgs[i] = whiteImage()
		} else {
			remaining++
		}
	}
	if remaining == 0 {
		u.tex.deliver(gen, imgs, nil)
		return
	}
	for i, p := range paths {
		if p == DefaultImage {
			continue
		}
		r.loader.LoadImage(p, func(img image.Image, err error) {
			mu.Lock()
			defer mu.Unlock()
			imgs[i] = img
			if err != nil && firstErr == nil {
				firstErr = err
				Logger().Warn("cube face load failed, keeping placeholder", slog.String("uniform", u.name), slog.String("path", p), slog.String("err", err.Error()))
			}
			remaining--
			if remaining == 0 {
				u.tex.deliver(gen, imgs, firstErr)
			}
		})
	}
}
