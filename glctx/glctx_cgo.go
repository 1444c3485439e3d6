//go:build !tinygo && cgo

package glctx

import (
	"errors"
	"fmt"
	"image"
	"log/slog"

	"github.com/go-gl/gl/v4.6-core/gl"
	"github.com/go-gl/glfw/v3.3/glfw"
	"github.com/soypat/fabric"
	"github.com/soypat/fabric/texload"
	"github.com/soypat/glgl/v4.6-core/glgl"
)

var (
	errForeignHandle = errors.New("glctx: handle was not created by this context")
	errDeleted       = errors.New("glctx: resource already deleted")
)

// Init creates a hidden GLFW window with a current OpenGL 4.6 core context and
// returns a Context rendering to a width by height framebuffer. terminate
// releases the window and must be called when done.
func Init(width, height int) (ctx *Context, terminate func(), err error) {
	if err := glfw.Init(); err != nil {
		return nil, nil, fmt.Errorf("glctx: initializing GLFW: %w", err)
	}
	glfw.WindowHint(glfw.ContextVersionMajor, 4)
	glfw.WindowHint(glfw.ContextVersionMinor, 6)
	glfw.WindowHint(glfw.OpenGLProfile, glfw.OpenGLCoreProfile)
	glfw.WindowHint(glfw.Resizable, glfw.False)
	glfw.WindowHint(glfw.Visible, glfw.False)
	window, err := glfw.CreateWindow(width, height, "fabric", nil, nil)
	if err != nil {
		glfw.Terminate()
		return nil, nil, fmt.Errorf("glctx: creating window: %w", err)
	}
	window.MakeContextCurrent()
	if err := gl.Init(); err != nil {
		window.Destroy()
		glfw.Terminate()
		return nil, nil, fmt.Errorf("glctx: initializing OpenGL: %w", err)
	}
	ctx, err = New(width, height)
	if err != nil {
		window.Destroy()
		glfw.Terminate()
		return nil, nil, err
	}
	terminate = func() {
		ctx.Delete()
		window.Destroy()
		glfw.Terminate()
	}
	return ctx, terminate, nil
}

// Context renders materials on the OpenGL context current when it was created.
type Context struct {
	width, height int32
	vao, vbo      uint32
	fbo, color    uint32

	current *program
	// nextUnit is the next free texture unit of the current program.
	nextUnit int32
}

var _ fabric.Context = (*Context)(nil)

// New returns a Context on the current GL context rendering to an offscreen
// framebuffer of the given size.
func New(width, height int) (*Context, error) {
	if width <= 0 || height <= 0 {
		return nil, errors.New("glctx: framebuffer size must be positive")
	}
	ctx := &Context{width: int32(width), height: int32(height)}

	gl.GenVertexArrays(1, &ctx.vao)
	gl.BindVertexArray(ctx.vao)
	gl.GenBuffers(1, &ctx.vbo)
	gl.BindBuffer(gl.ARRAY_BUFFER, ctx.vbo)
	vertices := []float32{
		-1.0, -1.0,
		1.0, -1.0,
		-1.0, 1.0,
		-1.0, 1.0,
		1.0, -1.0,
		1.0, 1.0,
	}
	gl.BufferData(gl.ARRAY_BUFFER, 4*len(vertices), gl.Ptr(vertices), gl.STATIC_DRAW)
	gl.EnableVertexAttribArray(0) // layout(location = 0) in vec2 aPos;
	gl.VertexAttribPointer(0, 2, gl.FLOAT, false, 0, gl.PtrOffset(0))

	gl.GenTextures(1, &ctx.color)
	gl.BindTexture(gl.TEXTURE_2D, ctx.color)
	gl.TexImage2D(gl.TEXTURE_2D, 0, gl.RGBA8, ctx.width, ctx.height, 0, gl.RGBA, gl.UNSIGNED_BYTE, nil)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_MIN_FILTER, gl.NEAREST)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_MAG_FILTER, gl.NEAREST)
	gl.GenFramebuffers(1, &ctx.fbo)
	gl.BindFramebuffer(gl.FRAMEBUFFER, ctx.fbo)
	gl.FramebufferTexture2D(gl.FRAMEBUFFER, gl.COLOR_ATTACHMENT0, gl.TEXTURE_2D, ctx.color, 0)
	if status := gl.CheckFramebufferStatus(gl.FRAMEBUFFER); status != gl.FRAMEBUFFER_COMPLETE {
		ctx.Delete()
		return nil, fmt.Errorf("glctx: incomplete framebuffer status %#x", status)
	}
	if err := glgl.Err(); err != nil {
		ctx.Delete()
		return nil, fmt.Errorf("glctx: creating framebuffer: %w", err)
	}
	return ctx, nil
}

// Delete releases the quad and framebuffer of the context.
func (ctx *Context) Delete() {
	gl.DeleteFramebuffers(1, &ctx.fbo)
	gl.DeleteTextures(1, &ctx.color)
	gl.DeleteBuffers(1, &ctx.vbo)
	gl.DeleteVertexArrays(1, &ctx.vao)
	ctx.fbo, ctx.color, ctx.vbo, ctx.vao = 0, 0, 0, 0
}

// Size returns the framebuffer dimensions.
func (ctx *Context) Size() (width, height int) { return int(ctx.width), int(ctx.height) }

type texture struct {
	id     uint32
	bounds image.Rectangle
}

func (t *texture) Bounds() image.Rectangle { return t.bounds }

func (t *texture) Destroy() error {
	if t.id == 0 {
		return errDeleted
	}
	gl.DeleteTextures(1, &t.id)
	t.id = 0
	return glgl.Err()
}

type cubeMap struct {
	id   uint32
	size int
}

func (c *cubeMap) FaceSize() int { return c.size }

func (c *cubeMap) Destroy() error {
	if c.id == 0 {
		return errDeleted
	}
	gl.DeleteTextures(1, &c.id)
	c.id = 0
	return glgl.Err()
}

type program struct {
	prog glgl.Program
	locs map[string]int32
}

func (p *program) Destroy() error {
	if p.prog.ID() == 0 {
		return errDeleted
	}
	p.prog.Delete()
	p.prog = glgl.Program{}
	return glgl.Err()
}

// location returns the uniform location of name or -1 when the linker
// discarded the uniform.
func (p *program) location(name string) int32 {
	loc, ok := p.locs[name]
	if !ok {
		loc = gl.GetUniformLocation(p.prog.ID(), gl.Str(name+"\x00"))
		p.locs[name] = loc
	}
	return loc
}

// CreateTexture uploads img as a repeating, linearly filtered RGBA8 texture.
func (ctx *Context) CreateTexture(img image.Image) (fabric.Texture, error) {
	if img == nil {
		return nil, errors.New("glctx: nil image")
	}
	pix := uploadable(img)
	tex := &texture{bounds: pix.Rect}
	gl.GenTextures(1, &tex.id)
	gl.BindTexture(gl.TEXTURE_2D, tex.id)
	gl.PixelStorei(gl.UNPACK_ALIGNMENT, 1)
	gl.TexImage2D(gl.TEXTURE_2D, 0, gl.RGBA8, int32(pix.Rect.Dx()), int32(pix.Rect.Dy()), 0, gl.RGBA, gl.UNSIGNED_BYTE, gl.Ptr(pix.Pix))
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_WRAP_S, gl.REPEAT)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_WRAP_T, gl.REPEAT)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_MIN_FILTER, gl.LINEAR)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_MAG_FILTER, gl.LINEAR)
	if err := glgl.Err(); err != nil {
		gl.DeleteTextures(1, &tex.id)
		return nil, fmt.Errorf("glctx: uploading texture: %w", err)
	}
	return tex, nil
}

// CreateCubeMap uploads six square faces of equal size, ordered +X, -X, +Y, -Y, +Z, -Z.
func (ctx *Context) CreateCubeMap(faces [6]image.Image) (fabric.CubeMap, error) {
	size := -1
	for i, f := range faces {
		if f == nil {
			return nil, fmt.Errorf("glctx: nil cube face %d", i)
		}
		b := f.Bounds()
		if b.Dx() != b.Dy() || (size >= 0 && b.Dx() != size) {
			return nil, fmt.Errorf("glctx: cube face %d is %dx%d, faces must be square and of equal size", i, b.Dx(), b.Dy())
		}
		size = b.Dx()
	}
	cube := &cubeMap{size: size}
	gl.GenTextures(1, &cube.id)
	gl.BindTexture(gl.TEXTURE_CUBE_MAP, cube.id)
	gl.PixelStorei(gl.UNPACK_ALIGNMENT, 1)
	for i, f := range faces {
		pix := texload.ToNRGBA(f)
		gl.TexImage2D(gl.TEXTURE_CUBE_MAP_POSITIVE_X+uint32(i), 0, gl.RGBA8, int32(size), int32(size), 0, gl.RGBA, gl.UNSIGNED_BYTE, gl.Ptr(pix.Pix))
	}
	gl.TexParameteri(gl.TEXTURE_CUBE_MAP, gl.TEXTURE_WRAP_S, gl.CLAMP_TO_EDGE)
	gl.TexParameteri(gl.TEXTURE_CUBE_MAP, gl.TEXTURE_WRAP_T, gl.CLAMP_TO_EDGE)
	gl.TexParameteri(gl.TEXTURE_CUBE_MAP, gl.TEXTURE_WRAP_R, gl.CLAMP_TO_EDGE)
	gl.TexParameteri(gl.TEXTURE_CUBE_MAP, gl.TEXTURE_MIN_FILTER, gl.LINEAR)
	gl.TexParameteri(gl.TEXTURE_CUBE_MAP, gl.TEXTURE_MAG_FILTER, gl.LINEAR)
	if err := glgl.Err(); err != nil {
		gl.DeleteTextures(1, &cube.id)
		return nil, fmt.Errorf("glctx: uploading cube map: %w", err)
	}
	return cube, nil
}

// uploadable returns a copy of img converted to NRGBA with the bottom row first.
func uploadable(img image.Image) *image.NRGBA {
	pix := texload.ToNRGBA(img)
	if pix == img {
		clone := *pix
		clone.Pix = append([]byte(nil), pix.Pix...)
		pix = &clone
	}
	flipRows(pix)
	return pix
}

// CompileProgram compiles and links vertex and fragment GLSL sources.
func (ctx *Context) CompileProgram(vertex, fragment string) (fabric.Program, error) {
	prog, err := glgl.CompileProgram(glgl.ShaderSource{
		Vertex:   vertex + "\x00",
		Fragment: fragment + "\x00",
	})
	if err != nil {
		return nil, err
	}
	fabric.Logger().Debug("glctx: program linked", slog.Uint64("id", uint64(prog.ID())))
	return &program{prog: prog, locs: make(map[string]int32)}, nil
}

// UseProgram makes prog current and resets texture unit assignment.
func (ctx *Context) UseProgram(prog fabric.Program) error {
	p, ok := prog.(*program)
	if !ok {
		return errForeignHandle
	} else if p.prog.ID() == 0 {
		return errDeleted
	}
	p.prog.Bind()
	ctx.current = p
	ctx.nextUnit = 0
	return glgl.Err()
}

// BindUniform sets a uniform of the current program. Samplers are assigned
// consecutive texture units in bind order.
func (ctx *Context) BindUniform(prog fabric.Program, name string, v fabric.UniformValue) error {
	p, ok := prog.(*program)
	if !ok {
		return errForeignHandle
	} else if p != ctx.current {
		return fmt.Errorf("glctx: binding %q of a program that is not in use", name)
	}
	loc := p.location(name)
	if loc < 0 {
		return nil // Optimized out by the linker.
	}
	d := &v.Data
	switch v.Type {
	case fabric.UniformFloat:
		gl.Uniform1f(loc, d[0])
	case fabric.UniformVec2:
		gl.Uniform2f(loc, d[0], d[1])
	case fabric.UniformVec3:
		gl.Uniform3f(loc, d[0], d[1], d[2])
	case fabric.UniformVec4:
		gl.Uniform4f(loc, d[0], d[1], d[2], d[3])
	case fabric.UniformBool:
		var b int32
		if v.Bool {
			b = 1
		}
		gl.Uniform1i(loc, b)
	case fabric.UniformMat2:
		gl.UniformMatrix2fv(loc, 1, false, &d[0])
	case fabric.UniformMat3:
		gl.UniformMatrix3fv(loc, 1, false, &d[0])
	case fabric.UniformMat4:
		gl.UniformMatrix4fv(loc, 1, false, &d[0])
	case fabric.UniformSampler2D:
		tex, ok := v.Texture.(*texture)
		if !ok {
			return errForeignHandle
		}
		ctx.bindUnit(loc, gl.TEXTURE_2D, tex.id)
	case fabric.UniformSamplerCube:
		cube, ok := v.CubeMap.(*cubeMap)
		if !ok {
			return errForeignHandle
		}
		ctx.bindUnit(loc, gl.TEXTURE_CUBE_MAP, cube.id)
	default:
		return fmt.Errorf("glctx: uniform %q has no GL representation for %s", name, v.Type)
	}
	if err := glgl.Err(); err != nil {
		return fmt.Errorf("glctx: binding %s %q: %w", v.Type, name, err)
	}
	return nil
}

func (ctx *Context) bindUnit(loc int32, target, id uint32) {
	unit := ctx.nextUnit
	ctx.nextUnit++
	gl.ActiveTexture(gl.TEXTURE0 + uint32(unit))
	gl.BindTexture(target, id)
	gl.Uniform1i(loc, unit)
}

// Draw binds m and shades the whole framebuffer with it.
func (ctx *Context) Draw(m *fabric.Material) error {
	gl.BindFramebuffer(gl.FRAMEBUFFER, ctx.fbo)
	gl.Viewport(0, 0, ctx.width, ctx.height)
	gl.ClearColor(0, 0, 0, 0)
	gl.Clear(gl.COLOR_BUFFER_BIT)
	if err := m.Bind(); err != nil {
		return err
	}
	gl.BindVertexArray(ctx.vao)
	gl.DrawArrays(gl.TRIANGLES, 0, 6)
	if err := glgl.Err(); err != nil {
		return fmt.Errorf("glctx: drawing: %w", err)
	}
	return nil
}

// ReadImage returns the framebuffer contents with the origin at the top left.
func (ctx *Context) ReadImage() (*image.NRGBA, error) {
	img := image.NewNRGBA(image.Rect(0, 0, int(ctx.width), int(ctx.height)))
	gl.BindFramebuffer(gl.FRAMEBUFFER, ctx.fbo)
	gl.PixelStorei(gl.PACK_ALIGNMENT, 1)
	gl.ReadPixels(0, 0, ctx.width, ctx.height, gl.RGBA, gl.UNSIGNED_BYTE, gl.Ptr(img.Pix))
	if err := glgl.Err(); err != nil {
		return nil, fmt.Errorf("glctx: reading framebuffer: %w", err)
	}
	flipRows(img)
	return img, nil
}
