package fabric

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/soypat/fabric/progcache"
)

// Config configures [NewMaterial]. The zero value builds a permissive
// passthrough material with no rendering context.
type Config struct {
	// Context allocates programs and textures. Without a context the material
	// only holds generated source and cannot be bound, and image or cube map
	// uniforms fail with [ErrMissingContext].
	Context Context
	// Strict fails construction on unused uniforms, materials and channel selectors.
	Strict bool
	// Fabric is the material description.
	Fabric *Template
	// Loader decodes texture images. Defaults to a shared texload.Loader.
	Loader ImageLoader
	// Programs is the program cache to acquire the material's program from.
	// Defaults to a cache shared by all materials of Context.
	Programs *ProgramCache
}

// Material is a compiled material bound to a rendering context.
//
// Uniform values of the material and of its sub-materials may be changed after
// construction through Uniforms and Materials; names and types are fixed.
// A Material must not be used from multiple goroutines concurrently.
type Material struct {
	// Uniforms maps the material's declared uniform names to their handles.
	Uniforms map[string]*Uniform
	// Materials maps local names of sub-materials to their handles.
	Materials map[string]*Material

	typ    string
	path   string
	source string
	root   *materialRoot
}

// materialRoot holds resources shared by a material tree.
type materialRoot struct {
	ctx       Context
	loader    ImageLoader
	programs  *ProgramCache
	handle    *progcache.Handle[Program]
	compiled  *Compiled
	white     Texture
	whiteCube CubeMap
	destroyed bool
}

// NewMaterial compiles cfg.Fabric and acquires its program from the program cache.
// Construction either fully succeeds or returns an error wrapping one of the
// package's sentinel errors and leaves nothing allocated.
func NewMaterial(cfg Config) (*Material, error) {
	compiled, err := Compile(cfg.Fabric, CompileOptions{
		Strict:              cfg.Strict,
		TexturesUnavailable: cfg.Context == nil,
	})
	if err != nil {
		return nil, err
	}
	r := &materialRoot{
		ctx:      cfg.Context,
		loader:   cfg.Loader,
		programs: cfg.Programs,
		compiled: compiled,
	}
	if r.ctx != nil {
		if r.programs == nil {
			r.programs = programCacheFor(r.ctx)
		}
		if r.loader == nil {
			r.loader = defaultLoader()
		}
		hits, _ := r.programs.Stats()
		r.handle, err = r.programs.Acquire(compiled.Vertex, compiled.Fragment)
		if err != nil {
			return nil, fmt.Errorf("fabric: building program: %w\n\n%s", err, compiled.Fragment)
		}
		newHits, _ := r.programs.Stats()
		Logger().Debug("material program acquired", slog.Uint64("key", r.handle.Key()), slog.Bool("shared", newHits > hits))
	}
	compiled.defineTypes()
	return newMaterialNode(compiled.root, r), nil
}

// FromType builds a permissive material of a registered type with its default uniforms.
func FromType(ctx Context, typ string) (*Material, error) {
	return NewMaterial(Config{
		Context: ctx,
		Fabric:  &Template{Type: typ},
	})
}

func newMaterialNode(n *node, r *materialRoot) *Material {
	m := &Material{
		Uniforms:  make(map[string]*Uniform, len(n.uniforms)),
		Materials: make(map[string]*Material, len(n.children)),
		typ:       n.desc.Type,
		path:      n.path,
		source:    string(n.source),
		root:      r,
	}
	for _, u := range n.uniforms {
		m.Uniforms[u.name] = u
	}
	for _, child := range n.children {
		m.Materials[child.local] = newMaterialNode(child, r)
	}
	return m
}

// Type returns the type named by the material's description, or the empty string.
func (m *Material) Type() string { return m.typ }

// ShaderSource returns the generated material code. For the root material it
// holds every declaration and the fab_getMaterial entry point. For
// sub-materials it is the material's own function.
func (m *Material) ShaderSource() string {
	if m.path == "" {
		return m.root.compiled.Source
	}
	return m.source
}

// FragmentSource returns the complete fragment program of the material tree.
func (m *Material) FragmentSource() string { return m.root.compiled.Fragment }

// VertexSource returns the vertex program paired with FragmentSource.
func (m *Material) VertexSource() string { return m.root.compiled.Vertex }

// Program returns the material's compiled program, nil without a context.
func (m *Material) Program() Program {
	if m.root.handle == nil {
		return nil
	}
	return m.root.handle.Program()
}

// UniformTable returns the flattened uniforms of the whole material tree,
// sub-materials first. Inactive uniforms are included.
func (m *Material) UniformTable() []*Uniform { return m.root.compiled.Uniforms }

// Bind makes the material's program current and pushes every active uniform
// of the tree. Image uniforms bind a placeholder until their image is loaded.
// A value set with [Uniform.Set] whose shape does not match the uniform type
// fails with [ErrInvalidUniformType].
func (m *Material) Bind() error {
	r := m.root
	if r.destroyed {
		return errDestroyed
	} else if r.ctx == nil {
		return ErrMissingContext
	}
	prog := r.handle.Program()
	err := r.ctx.UseProgram(prog)
	if err != nil {
		return err
	}
	var errs []error
	for _, u := range r.compiled.Uniforms {
		if err := r.bindUniform(prog, u); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *materialRoot) bindUniform(prog Program, u *Uniform) (err error) {
	if err = u.applyPending(); err != nil {
		return err
	}
	if !u.active || u.typ == UniformChannels {
		return nil
	}
	v := u.value
	switch u.typ {
	case UniformSampler2D:
		v.Texture, err = r.texture(u)
	case UniformSamplerCube:
		v.CubeMap, err = r.cubeMap(u)
	}
	if err != nil {
		return fmt.Errorf("%suniform %q: %w", pathPrefix(u.path), u.name, err)
	}
	return r.ctx.BindUniform(prog, u.glName, v)
}

// Destroy releases the textures, cube maps and program reference of the whole
// material tree. Texture handles supplied as uniform values are not destroyed.
// The material must not be used after Destroy. Sub-materials are owned by
// their root and calling Destroy on one fails without releasing anything.
func (m *Material) Destroy() error {
	r := m.root
	if m.path != "" {
		return fmt.Errorf("%w: %s", errSubMaterialDestroy, m.path)
	} else if r.destroyed {
		return nil
	}
	r.destroyed = true
	var errs []error
	for _, u := range r.compiled.Uniforms {
		errs = append(errs, u.tex.destroy())
	}
	if r.white != nil {
		errs = append(errs, r.white.Destroy())
		r.white = nil
	}
	if r.whiteCube != nil {
		errs = append(errs, r.whiteCube.Destroy())
		r.whiteCube = nil
	}
	if r.handle != nil {
		errs = append(errs, r.programs.Release(r.handle))
		r.handle = nil
	}
	err := errors.Join(errs...)
	if err != nil {
		Logger().Warn("material destroy", slog.String("err", err.Error()))
	}
	return err
}
