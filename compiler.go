package fabric

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/soypat/fabric/glbuild"
	"github.com/soypat/fabric/glbuild/glsllib"
)

// Shading components of a material, in the order they are assigned.
var componentOrder = []string{"diffuse", "specular", "shininess", "normal", "emission", "alpha"}

func isComponent(name string) bool { return slices.Contains(componentOrder, name) }

// Names which may not be used for uniforms and sub-materials.
var reservedNames = map[string]bool{
	"material": true, "materialInput": true, "main": true,
	"attribute": true, "const": true, "uniform": true, "varying": true, "buffer": true, "shared": true,
	"break": true, "continue": true, "do": true, "for": true, "while": true, "switch": true, "case": true, "default": true,
	"if": true, "else": true, "in": true, "out": true, "inout": true, "return": true, "discard": true, "struct": true,
	"true": true, "false": true, "void": true, "float": true, "int": true, "uint": true, "bool": true,
	"vec2": true, "vec3": true, "vec4": true, "bvec2": true, "bvec3": true, "bvec4": true,
	"ivec2": true, "ivec3": true, "ivec4": true, "mat2": true, "mat3": true, "mat4": true,
	"sampler2D": true, "samplerCube": true, "texture": true, "precision": true, "highp": true, "mediump": true, "lowp": true,
}

// Names which may not be used for channel selectors since they would replace
// member accesses of materials and of fab_materialInput.
var inputFields = map[string]bool{
	"s": true, "st": true, "str": true, "tangentToEyeMatrix": true, "positionToEyeEC": true, "normalEC": true,
}

const maxDepth = 32

// CompileOptions configures [Compile].
type CompileOptions struct {
	// Strict fails compilation on uniforms, sub-materials and channel selectors
	// that the generated shader never references. When false they are kept in
	// the uniform table as inactive and left out of the generated code.
	Strict bool
	// TexturesUnavailable is set when there is no rendering context. Any image
	// or cube map uniform then fails with [ErrMissingContext].
	TexturesUnavailable bool
}

// Compiled is the validated result of compiling a material description.
type Compiled struct {
	// Source holds the uniform declarations, helper and material functions and
	// the fab_getMaterial entry point.
	Source string
	// Fragment is the complete fragment program shading a surface with Source.
	Fragment string
	// Vertex is the vertex program paired with Fragment.
	Vertex string
	// Uniforms is the flattened uniform table, sub-materials first.
	Uniforms []*Uniform

	root *node
}

// Tree returns a compact representation of the generated function tree.
func (c *Compiled) Tree() string { return glbuild.FormatShader(c.root) }

// node is a compiled material of a tree. It implements [glbuild.Shader].
type node struct {
	path string
	desc *Template // as declared
	tmpl *Template // after type resolution
	// id is the mangled function name of the material.
	id []byte

	uniforms      []*Uniform // sorted by name
	uniformByName map[string]*Uniform
	usedUniforms  map[string]bool
	// funcs maps helper functions of a source to their per material names.
	funcs map[string][]byte
	children      []*node // sorted by local name
	childByName   map[string]*node
	local         string

	used      bool // referenced by the parent's code, always true for the root
	reachable bool // used and all ancestors are used
	defines   bool // defines the user type desc.Type
	source    []byte
	libs      []glbuild.ShaderObject
}

var _ glbuild.Shader = (*node)(nil)

func (n *node) AppendShaderName(b []byte) []byte   { return append(b, n.id...) }
func (n *node) AppendShaderSource(b []byte) []byte { return append(b, n.source...) }

func (n *node) AppendShaderObjects(objs []glbuild.ShaderObject) []glbuild.ShaderObject {
	for _, u := range n.uniforms {
		if !u.active || u.typ == UniformChannels {
			continue
		}
		obj, err := glbuild.MakeUniform([]byte(u.glName), u.typ.String())
		if err != nil {
			panic(err) // Names and types are validated during compilation.
		}
		objs = append(objs, obj)
	}
	return append(objs, n.libs...)
}

func (n *node) ForEachChild(userData any, fn func(userData any, s glbuild.Shader) error) error {
	for _, child := range n.children {
		if !child.used {
			continue
		}
		if err := fn(userData, child); err != nil {
			return err
		}
	}
	return nil
}

func (n *node) addLib(obj glbuild.ShaderObject) {
	for _, lib := range n.libs {
		if bytes.Equal(lib.NamePtr, obj.NamePtr) {
			return
		}
	}
	n.libs = append(n.libs, obj)
}

type compiler struct {
	opts CompileOptions
	errs []error
}

func (c *compiler) errorf(format string, args ...any) {
	c.errs = append(c.errs, fmt.Errorf(format, args...))
}

// Compile validates a material description and generates its shader source
// and uniform table. All independent validation errors of the tree are
// returned joined. Types defined by desc are registered by [NewMaterial] once
// the material is constructed, not by Compile.
func Compile(desc *Template, opts CompileOptions) (*Compiled, error) {
	if desc == nil {
		desc = &Template{}
	}
	c := compiler{opts: opts}
	root := c.compileNode("", "", []byte("fab_m"), desc, 0)
	if len(c.errs) > 0 {
		return nil, errors.Join(c.errs...)
	}
	root.used = true
	markReachable(root, true)
	if opts.TexturesUnavailable {
		if u := firstSampler(root); u != nil {
			return nil, fmt.Errorf("%w: %s%s uniform %q", ErrMissingContext, pathPrefix(u.path), u.typ, u.name)
		}
	}

	programmer := glbuild.NewDefaultProgrammer()
	var decl, frag bytes.Buffer
	_, _, err := programmer.WriteMaterialDecl(&decl, root)
	if err != nil {
		return nil, fmt.Errorf("fabric: generating shader: %w", err)
	}
	_, err = programmer.WriteFragment(&frag, decl.Bytes())
	if err != nil {
		return nil, fmt.Errorf("fabric: generating shader: %w", err)
	}
	compiled := &Compiled{
		Source:   decl.String(),
		Fragment: frag.String(),
		Vertex:   glbuild.VertexSource(),
		Uniforms: appendUniforms(nil, root),
		root:     root,
	}
	return compiled, nil
}

// defineTypes registers the user types declared by the compiled description.
// It is called once the material built from c is fully constructed.
func (c *Compiled) defineTypes() { defineUserTypes(c.root) }

func (c *compiler) compileNode(path, local string, id []byte, desc *Template, depth int) *node {
	n := &node{
		path:          path,
		local:         local,
		desc:          desc,
		id:            id,
		uniformByName: make(map[string]*Uniform),
		usedUniforms:  make(map[string]bool),
		childByName:   make(map[string]*node),
	}
	if depth > maxDepth {
		c.errorf("%w: %s", errTooDeep, path)
		return n
	}
	nerrs := len(c.errs)
	if desc.Source != "" && desc.Components != nil {
		c.errorf("%w: %sfound both", ErrSourceComponentConflict, pathPrefix(path))
	}
	tmpl, defines, err := resolveType(desc)
	if err != nil {
		c.errorf("%s%w", pathPrefix(path), err)
		return n
	}
	n.tmpl = tmpl
	n.defines = defines

	for _, name := range slices.Sorted(maps.Keys(tmpl.Uniforms)) {
		if _, ok := tmpl.Materials[name]; ok {
			c.errorf("%w: %s%q", ErrNameCollision, pathPrefix(path), name)
		}
	}
	for _, name := range slices.Sorted(maps.Keys(tmpl.Components)) {
		if !isComponent(name) {
			c.errorf("%w: %s%q is not one of %v", ErrUnknownComponent, pathPrefix(path), name, componentOrder)
		}
	}

	for _, name := range slices.Sorted(maps.Keys(tmpl.Uniforms)) {
		if err := validateName(name); err != nil {
			c.errorf("%w: %suniform %q %s", ErrInvalidName, pathPrefix(path), name, err)
			continue
		}
		v, err := ClassifyUniform(tmpl.Uniforms[name])
		if err != nil {
			c.errorf("%suniform %q: %w", pathPrefix(path), name, err)
			continue
		} else if v.Type == UniformChannels && (isComponent(name) || inputFields[name] || isChannelSelector(name)) {
			c.errorf("%w: %schannel selector %q shadows a member name", ErrInvalidName, pathPrefix(path), name)
			continue
		}
		u := &Uniform{
			name:   name,
			glName: string(mangle(id, 'u', name)),
			path:   path,
			typ:    v.Type,
			value:  v,
		}
		n.uniforms = append(n.uniforms, u)
		n.uniformByName[name] = u
	}

	for _, name := range slices.Sorted(maps.Keys(tmpl.Materials)) {
		if err := validateName(name); err != nil {
			c.errorf("%w: %smaterial %q %s", ErrInvalidName, pathPrefix(path), name, err)
			continue
		}
		sub := tmpl.Materials[name]
		if sub == nil {
			sub = &Template{}
		}
		child := c.compileNode(joinPath(path, name), name, mangle(id, 0, name), sub, depth+1)
		n.children = append(n.children, child)
		n.childByName[name] = child
	}
	if len(c.errs) > nerrs {
		return n // Do not generate code for invalid materials.
	}

	if tmpl.Source != "" {
		n.source, err = c.rewriteSource(n, tmpl.Source)
	} else {
		n.source, err = c.generateComponents(n)
	}
	if err != nil {
		c.errs = append(c.errs, err)
		return n
	}
	c.checkUnused(n)
	return n
}

// resolveType merges the description over its named type. The description's
// components or source replace the type's entirely while uniforms and
// materials are merged key by key with the description taking precedence.
func resolveType(desc *Template) (tmpl *Template, defines bool, err error) {
	if desc.Type == "" {
		return desc, false, nil
	}
	base, ok := LookupType(desc.Type)
	if !ok {
		if desc.hasBody() {
			return desc, true, nil
		}
		return nil, false, fmt.Errorf("%w: %q", ErrUnknownType, desc.Type)
	}
	base.Type = desc.Type
	if desc.hasBody() {
		base.Source = desc.Source
		base.Components = maps.Clone(desc.Components)
	}
	if len(desc.Uniforms) > 0 && base.Uniforms == nil {
		base.Uniforms = make(map[string]any, len(desc.Uniforms))
	}
	maps.Copy(base.Uniforms, desc.Uniforms)
	if len(desc.Materials) > 0 && base.Materials == nil {
		base.Materials = make(map[string]*Template, len(desc.Materials))
	}
	maps.Copy(base.Materials, desc.Materials)
	return base, false, nil
}

func validateName(name string) error {
	switch {
	case !glbuild.IsIdent([]byte(name)):
		return errors.New("is not a GLSL identifier")
	case strings.Contains(name, "__"):
		return errors.New("contains a double underscore")
	case strings.HasPrefix(name, "fab_") || strings.HasPrefix(name, "gl_"):
		return errors.New("uses a reserved prefix")
	case reservedNames[name]:
		return errors.New("is reserved")
	}
	return nil
}

// mangle appends a local name to a parent identifier. The name length is
// written before the name so distinct paths never produce the same identifier:
//
//	fab_m + first  -> fab_m5first
//	fab_m + color  -> fab_mu5color (uniform)
func mangle(parent []byte, kind byte, name string) []byte {
	id := make([]byte, 0, len(parent)+len(name)+4)
	id = append(id, parent...)
	if kind != 0 {
		id = append(id, kind)
	}
	id = strconv.AppendInt(id, int64(len(name)), 10)
	id = append(id, name...)
	return id
}

func (c *compiler) generateComponents(n *node) ([]byte, error) {
	b := append([]byte("fab_material "), n.id...)
	b = append(b, "(fab_materialInput materialInput)\n{\n\tfab_material material = fab_getDefaultMaterial(materialInput);\n"...)
	for _, comp := range componentOrder {
		expr, ok := n.tmpl.Components[comp]
		if !ok {
			continue
		}
		b = append(b, "\tmaterial."...)
		b = append(b, comp...)
		b = append(b, " = "...)
		var err error
		b, err = c.rewrite(b, n, []byte(expr), nil)
		if err != nil {
			return nil, fmt.Errorf("%scomponent %q: %w", pathPrefix(n.path), comp, err)
		}
		b = append(b, ";\n"...)
	}
	b = append(b, "\treturn material;\n}"...)
	return b, nil
}

func (c *compiler) rewriteSource(n *node, src string) ([]byte, error) {
	text := bytes.TrimSpace([]byte(src))
	for _, fn := range glbuild.AppendFunctionNames(nil, text) {
		name := string(fn)
		switch {
		case name == glbuild.EntryPoint:
			continue
		case n.uniformByName[name] != nil || n.childByName[name] != nil:
			return nil, fmt.Errorf("%w: %sfunction %q", ErrNameCollision, pathPrefix(n.path), name)
		}
		if n.funcs == nil {
			n.funcs = make(map[string][]byte)
		}
		n.funcs[name] = mangle(n.id, 'f', name)
	}
	sawEntry := false
	b, err := c.rewrite(nil, n, text, &sawEntry)
	if err != nil {
		return nil, fmt.Errorf("%ssource: %w", pathPrefix(n.path), err)
	}
	if !sawEntry {
		return nil, fmt.Errorf("%w: %s", ErrMissingEntryPoint, strings.TrimSuffix(pathPrefix(n.path), ": "))
	}
	return b, nil
}

// rewrite appends src to dst replacing the material's names with their
// generated identifiers. Uniforms become their mangled names, boolean uniforms
// are cast to float, channel selectors following a '.' are replaced by their
// value and sub-material components become calls to the sub-material function.
// When sawEntry is not nil the fab_getMaterial function and the source's
// helper functions are renamed.
func (c *compiler) rewrite(dst []byte, n *node, src []byte, sawEntry *bool) ([]byte, error) {
	return glbuild.AppendRewritten(dst, src, func(dst []byte, tok glbuild.Token) ([]byte, bool, error) {
		name := string(tok.Ident)
		u, isUniform := n.uniformByName[name]
		if isUniform && u.typ == UniformChannels {
			if !tok.AfterDot {
				return dst, false, fmt.Errorf("%w: channel selector %q must follow a '.'", ErrInvalidUniformType, name)
			}
			n.usedUniforms[name] = true
			return append(dst, u.value.Channels...), true, nil
		} else if tok.AfterDot {
			return dst, false, nil
		}
		switch {
		case isUniform:
			n.usedUniforms[name] = true
			if u.typ == UniformBool {
				dst = append(dst, "float("...)
				dst = append(dst, u.glName...)
				return append(dst, ')'), true, nil
			}
			return append(dst, u.glName...), true, nil

		case n.childByName[name] != nil:
			child := n.childByName[name]
			member := string(tok.Member)
			if !isComponent(member) {
				return dst, false, fmt.Errorf("%w: material %q exposes only %v, got %q", ErrUnknownComponent, name, componentOrder, member)
			}
			child.used = true
			dst = append(dst, child.id...)
			return append(dst, "(materialInput)"...), true, nil

		case sawEntry != nil && name == glbuild.EntryPoint:
			*sawEntry = true
			return append(dst, n.id...), true, nil

		case n.funcs[name] != nil:
			return append(dst, n.funcs[name]...), true, nil
		}
		if obj, ok := glsllib.Lookup(name); ok {
			n.addLib(obj)
		}
		return dst, false, nil
	})
}

func (c *compiler) checkUnused(n *node) {
	hasSampler := false
	for _, u := range n.uniforms {
		hasSampler = hasSampler || u.typ.IsSampler()
	}
	for _, u := range n.uniforms {
		switch {
		case !n.usedUniforms[u.name]:
			if c.opts.Strict {
				c.errorf("%w: %suniform %q", ErrUnusedDeclaration, pathPrefix(n.path), u.name)
			} else {
				Logger().Debug("dropping unused uniform", slog.String("material", n.path), slog.String("uniform", u.name))
			}
		case u.typ == UniformChannels && !hasSampler && c.opts.Strict:
			c.errorf("%w: %schannel selector %q has no image or cube map to apply to", ErrUnusedDeclaration, pathPrefix(n.path), u.name)
		}
	}
	for _, child := range n.children {
		if child.used {
			continue
		}
		if c.opts.Strict {
			c.errorf("%w: %smaterial %q", ErrUnusedDeclaration, pathPrefix(n.path), child.local)
		} else {
			Logger().Debug("dropping unused material", slog.String("material", n.path), slog.String("child", child.local))
		}
	}
}

func markReachable(n *node, parentReachable bool) {
	n.reachable = parentReachable && n.used
	for _, u := range n.uniforms {
		u.active = n.reachable && n.usedUniforms[u.name]
	}
	for _, child := range n.children {
		markReachable(child, n.reachable)
	}
}

func firstSampler(n *node) *Uniform {
	for _, child := range n.children {
		if u := firstSampler(child); u != nil {
			return u
		}
	}
	for _, u := range n.uniforms {
		if u.typ.IsSampler() {
			return u
		}
	}
	return nil
}

func appendUniforms(dst []*Uniform, n *node) []*Uniform {
	for _, child := range n.children {
		dst = appendUniforms(dst, child)
	}
	return append(dst, n.uniforms...)
}

func defineUserTypes(n *node) {
	for _, child := range n.children {
		defineUserTypes(child)
	}
	if n.defines {
		defineType(n.desc.Type, n.tmpl)
		Logger().Debug("defined material type", slog.String("type", n.desc.Type))
	}
}
