package fabric

import (
	"errors"
	"fmt"
	"image"
	"strings"
	"sync"
	"testing"
)

// fakeContext records every resource created and every uniform bound.
type fakeContext struct {
	programs []*fakeProgram
	textures []*fakeTexture
	cubes    []*fakeCube
	current  *fakeProgram
	// compileErr fails every CompileProgram call when set.
	compileErr error
}

type fakeProgram struct {
	vertex, fragment string
	destroyed        bool
	// bound holds the values of the last bind of each uniform.
	bound map[string]UniformValue
}

type fakeTexture struct {
	img       image.Image
	destroyed bool
}

type fakeCube struct {
	faces     [6]image.Image
	destroyed bool
}

var errFakeDestroyed = errors.New("resource already destroyed")

func (t *fakeTexture) Bounds() image.Rectangle { return t.img.Bounds() }
func (t *fakeTexture) Destroy() error {
	if t.destroyed {
		return errFakeDestroyed
	}
	t.destroyed = true
	return nil
}

func (c *fakeCube) FaceSize() int { return c.faces[0].Bounds().Dx() }
func (c *fakeCube) Destroy() error {
	if c.destroyed {
		return errFakeDestroyed
	}
	c.destroyed = true
	return nil
}

func (p *fakeProgram) Destroy() error {
	if p.destroyed {
		return errFakeDestroyed
	}
	p.destroyed = true
	return nil
}

func (ctx *fakeContext) CreateTexture(img image.Image) (Texture, error) {
	if img == nil {
		return nil, errors.New("nil image")
	}
	tex := &fakeTexture{img: img}
	ctx.textures = append(ctx.textures, tex)
	return tex, nil
}

func (ctx *fakeContext) CreateCubeMap(faces [6]image.Image) (CubeMap, error) {
	for i, f := range faces {
		if f == nil {
			return nil, fmt.Errorf("nil cube face %d", i)
		}
	}
	cube := &fakeCube{faces: faces}
	ctx.cubes = append(ctx.cubes, cube)
	return cube, nil
}

func (ctx *fakeContext) CompileProgram(vertex, fragment string) (Program, error) {
	if ctx.compileErr != nil {
		return nil, ctx.compileErr
	}
	if n := strings.Count(fragment, "fab_material fab_getMaterial("); n != 1 {
		return nil, fmt.Errorf("want one entry point, got %d", n)
	}
	prog := &fakeProgram{vertex: vertex, fragment: fragment, bound: make(map[string]UniformValue)}
	ctx.programs = append(ctx.programs, prog)
	return prog, nil
}

func (ctx *fakeContext) UseProgram(prog Program) error {
	p := prog.(*fakeProgram)
	if p.destroyed {
		return errFakeDestroyed
	}
	ctx.current = p
	return nil
}

func (ctx *fakeContext) BindUniform(prog Program, name string, v UniformValue) error {
	p := prog.(*fakeProgram)
	if p != ctx.current {
		return errors.New("binding uniform of program not in use")
	}
	decl := "uniform " + v.Type.String() + " " + name + ";\n"
	if !strings.Contains(p.fragment, decl) {
		return fmt.Errorf("program does not declare %q", decl)
	}
	switch v.Type {
	case UniformSampler2D:
		if v.Texture == nil {
			return errors.New("nil texture bound")
		}
	case UniformSamplerCube:
		if v.CubeMap == nil {
			return errors.New("nil cube map bound")
		}
	}
	p.bound[name] = v
	return nil
}

// syncLoader delivers images synchronously from memory.
type syncLoader struct {
	mu    sync.Mutex
	imgs  map[string]image.Image
	calls map[string]int
}

func newSyncLoader(imgs map[string]image.Image) *syncLoader {
	return &syncLoader{imgs: imgs, calls: make(map[string]int)}
}

func (l *syncLoader) LoadImage(path string, done func(image.Image, error)) {
	l.mu.Lock()
	l.calls[path]++
	img, ok := l.imgs[path]
	l.mu.Unlock()
	if !ok {
		done(nil, fmt.Errorf("%s: not found", path))
		return
	}
	done(img, nil)
}

func mustMaterial(t *testing.T, cfg Config) *Material {
	t.Helper()
	m, err := NewMaterial(cfg)
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func mustBind(t *testing.T, m *Material) {
	t.Helper()
	if err := m.Bind(); err != nil {
		t.Fatalf("%v\n%s", err, m.FragmentSource())
	}
}

func wantErr(t *testing.T, err, target error) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Fatalf("want error %q, got %v", target, err)
	}
}
