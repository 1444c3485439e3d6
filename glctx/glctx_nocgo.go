//go:build tinygo || !cgo

package glctx

import (
	"errors"
	"image"

	"github.com/soypat/fabric"
)

var errNoCGO = errors.New("glctx: OpenGL rendering requires CGo and is not supported on TinyGo")

// Init fails without CGo.
func Init(width, height int) (ctx *Context, terminate func(), err error) {
	return nil, nil, errNoCGO
}

// Context is unusable without CGo.
type Context struct{}

var _ fabric.Context = (*Context)(nil)

func New(width, height int) (*Context, error) { return nil, errNoCGO }

func (ctx *Context) Delete() {}

func (ctx *Context) Size() (width, height int) { return 0, 0 }

func (ctx *Context) CreateTexture(img image.Image) (fabric.Texture, error) { return nil, errNoCGO }

func (ctx *Context) CreateCubeMap(faces [6]image.Image) (fabric.CubeMap, error) {
	return nil, errNoCGO
}

func (ctx *Context) CompileProgram(vertex, fragment string) (fabric.Program, error) {
	return nil, errNoCGO
}

func (ctx *Context) UseProgram(prog fabric.Program) error { return errNoCGO }

func (ctx *Context) BindUniform(prog fabric.Program, name string, v fabric.UniformValue) error {
	return errNoCGO
}

func (ctx *Context) Draw(m *fabric.Material) error { return errNoCGO }

func (ctx *Context) ReadImage() (*image.NRGBA, error) { return nil, errNoCGO }
