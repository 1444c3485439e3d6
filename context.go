package fabric

import "image"

// Context is the rendering device a material allocates GPU resources on.
// Implementations are not required to be safe for concurrent use; all calls
// are made from the goroutine constructing, binding or destroying materials.
//
// The glctx package provides an OpenGL implementation.
type Context interface {
	// CreateTexture uploads img as a 2D texture.
	CreateTexture(img image.Image) (Texture, error)
	// CreateCubeMap uploads six faces ordered +X, -X, +Y, -Y, +Z, -Z as a cube map.
	CreateCubeMap(faces [6]image.Image) (CubeMap, error)
	// CompileProgram compiles and links a program from GLSL source.
	CompileProgram(vertex, fragment string) (Program, error)
	// UseProgram makes prog the active program for subsequent uniform binds and draws.
	UseProgram(prog Program) error
	// BindUniform sets the value of the uniform named name on prog.
	// Sampler values carry the Texture or CubeMap to bind.
	BindUniform(prog Program, name string, v UniformValue) error
}

// Texture is a 2D texture handle created by a [Context].
type Texture interface {
	Bounds() image.Rectangle
	Destroy() error
}

// CubeMap is a cube map texture handle created by a [Context].
type CubeMap interface {
	FaceSize() int
	Destroy() error
}

// Program is a linked shader program handle created by a [Context].
type Program interface {
	Destroy() error
}

// ImageLoader decodes images for image and cube map uniforms. LoadImage must
// not block; done is called exactly once, possibly from another goroutine.
//
// The texload package provides an implementation backed by a worker pool.
type ImageLoader interface {
	LoadImage(path string, done func(img image.Image, err error))
}
