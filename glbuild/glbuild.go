package glbuild

import (
	"bytes"
	_ "embed"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"
)

const VersionStr = "#version 430\n"

// EntryPoint is the name of the single top-level shading function consumed by
// the rendering pipeline.
const EntryPoint = "fab_getMaterial"

// Shader stores information for automatically generating material shading functions.
type Shader interface {
	// AppendShaderName appends the name of the GL shading function
	// to the buffer and returns the result. It should be unique to that shader.
	AppendShaderName(b []byte) []byte
	// AppendShaderSource appends the complete definition of the shading function
	// to the buffer and returns the result.
	AppendShaderSource(b []byte) []byte
	// AppendShaderObjects appends "objects" needed to evaluate the shader
	// correctly. See [ShaderObject] for more information on what an object can represent.
	AppendShaderObjects(objs []ShaderObject) []ShaderObject
	// ForEachChild iterates over the Shader's direct children which
	// must be declared before the Shader itself.
	ForEachChild(userData any, fn func(userData any, s Shader) error) error
}

// ShaderObject is a handle to a declaration needed to evaluate a [Shader] correctly.
// A ShaderObject could represent any of the following:
//   - Shader uniform. Is a single typed value set before each draw.
//   - Function. A helper GLSL function shared between shaders.
type ShaderObject struct {
	// NamePtr is a pointer to the name of the object inside of the [Shader].
	NamePtr []byte
	// Typename is the GLSL type of a uniform, i.e: "vec3" or "sampler2D".
	Typename string
	// for function shaders.
	funcSource []byte
}

// Programmer implements shader generation logic for Shader type.
type Programmer struct {
	scratchNodes []Shader
	scratch      []byte
	objsScratch  []ShaderObject
	// names maps shader names to body hashes for checking duplicates.
	names map[uint64]uint64
}

func MakeShaderFunction(shaderDef []byte) (sf ShaderObject, err error) {
	shaderDef = bytes.TrimSpace(shaderDef)
	fnNameEnd := bytes.IndexByte(shaderDef, '(')
	fnNameStart := bytes.IndexByte(shaderDef, ' ')
	if fnNameEnd < 0 || fnNameStart < 0 || fnNameStart > fnNameEnd {
		return ShaderObject{}, errors.New("unable to parse function name")
	}
	name := shaderDef[fnNameStart:fnNameEnd]
	name = bytes.TrimSpace(name)
	if len(name) == 0 {
		return ShaderObject{}, errors.New("empty function name")
	}
	sf = ShaderObject{
		NamePtr:    name,
		funcSource: shaderDef,
	}
	return sf, nil
}

// MakeUniform returns a uniform declaration object for the GLSL typename.
func MakeUniform(name []byte, typename string) (ShaderObject, error) {
	obj := ShaderObject{
		NamePtr:  name,
		Typename: typename,
	}
	err := obj.Validate()
	if err != nil {
		return ShaderObject{}, err
	}
	return obj, nil
}

func (obj ShaderObject) IsFunction() bool { return len(obj.funcSource) > 0 }
func (obj ShaderObject) IsUniform() bool  { return !obj.IsFunction() }

// NewDefaultProgrammer returns a Programmer with reasonable default parameters.
func NewDefaultProgrammer() *Programmer {
	return &Programmer{
		scratchNodes: make([]Shader, 64),
		scratch:      make([]byte, 1024),
		names:        make(map[uint64]uint64),
	}
}

//go:embed prelude.glsl
var preludeSrc []byte

//go:embed fragment_footer.glsl
var fragmentFooter []byte

//go:embed vertex.glsl
var vertexSrc string

// VertexSource returns the surface vertex shader which feeds the st coordinates
// interpolated by the fragment shader written by [Programmer.WriteFragment].
func VertexSource() string { return vertexSrc }

// AppendPrelude appends the material struct declarations and default material function.
func AppendPrelude(b []byte) []byte { return append(b, preludeSrc...) }

// WriteMaterialDecl writes declarations of all objects and shading functions
// of the tree rooted at root followed by the [EntryPoint] function.
func (p *Programmer) WriteMaterialDecl(w io.Writer, root Shader) (n int, objs []ShaderObject, err error) {
	baseName, nodes, err := ParseAppendNodes(p.scratchNodes[:0], root)
	if err != nil {
		return 0, nil, err
	}
	n, objs, err = p.writeShaders(w, nodes)
	if err != nil {
		return n, objs, err
	}
	ngot, err := fmt.Fprintf(w, "fab_material %s(fab_materialInput materialInput)\n{\n\treturn %s(materialInput);\n}\n", EntryPoint, baseName)
	n += ngot
	return n, objs, err
}

// WriteFragment writes a complete fragment program that shades a surface with
// the material declarations written by [Programmer.WriteMaterialDecl].
func (p *Programmer) WriteFragment(w io.Writer, materialDecl []byte) (int, error) {
	p.scratch = append(p.scratch[:0], VersionStr...)
	p.scratch = AppendPrelude(p.scratch)
	p.scratch = append(p.scratch, '\n')
	p.scratch = append(p.scratch, materialDecl...)
	p.scratch = append(p.scratch, '\n')
	p.scratch = append(p.scratch, fragmentFooter...)
	return w.Write(p.scratch)
}

func (p *Programmer) writeShaders(w io.Writer, nodes []Shader) (n int, objs []ShaderObject, err error) {
	clear(p.names)
	p.scratch = p.scratch[:0]
	p.objsScratch = p.objsScratch[:0]
	objIdx := 0
	for i := len(nodes) - 1; i >= 0; i-- {
		// Start by generating all Shader Objects.
		node := nodes[i]
		p.objsScratch = node.AppendShaderObjects(p.objsScratch)
		newObjs := p.objsScratch[objIdx:]
		kept := newObjs[:0]
	OBJWRITE:
		for i := range newObjs {
			obj := newObjs[i]
			err = obj.Validate()
			if err != nil {
				return n, nil, err
			}
			nameHash := hash(obj.NamePtr, 0)
			_, nameConflict := p.names[nameHash]
			if nameConflict {
				oldObjs := p.objsScratch[:objIdx+len(kept)]
				for _, old := range oldObjs {
					if !bytes.Equal(obj.NamePtr, old.NamePtr) {
						continue
					}
					if obj.IsFunction() && bytes.Equal(obj.funcSource, old.funcSource) {
						continue OBJWRITE // Skip this function, is duplicate.
					} else if obj.IsUniform() && old.IsUniform() && obj.Typename == old.Typename {
						continue OBJWRITE // Skip this uniform, is duplicate and already has been declared.
					}
					break // Conflict is not identical.
				}
				return n, nil, fmt.Errorf("shader object name conflict: %s has object with conflicting name %q", nodeName(node), obj.NamePtr)
			}
			p.names[nameHash] = nameHash
			p.scratch, err = AppendObjectDecl(p.scratch, obj)
			if err != nil {
				return n, nil, err
			}
			kept = append(kept, obj)
		}
		p.objsScratch = p.objsScratch[:objIdx+len(kept)]
		objIdx += len(kept)
	}

	if len(p.scratch) > 0 {
		// Write object declarations if any.
		p.scratch = append(p.scratch, '\n')
		ngot, err := w.Write(p.scratch)
		n += ngot
		if err != nil {
			return n, nil, err
		}
	}

	for i := len(nodes) - 1; i >= 0; i-- {
		node := nodes[i]
		var name, body []byte
		p.scratch, name, body = AppendShaderSource(p.scratch[:0], node)
		nameHash := hash(name, 0)
		bodyHash := hash(body, nameHash) // Body hash mixes name as well.
		gotBodyHash, nameConflict := p.names[nameHash]
		if nameConflict {
			// Name already exists in tree, check if bodies are identical.
			if bodyHash == gotBodyHash {
				continue // Shader already written and is identical, skip.
			}
			return n, nil, fmt.Errorf("duplicate shader name %q w/ source:\n%s\n\nconflicts with distinct shader or object of same name", name, body)
		}
		p.names[nameHash] = bodyHash // Not found, add it.
		ngot, err := w.Write(p.scratch)
		n += ngot
		if err != nil {
			return n, nil, err
		}
	}
	objs = append(objs[:0], p.objsScratch...) // Clone slice and return it.
	return n, objs, err
}

// ParseAppendNodes parses the shader object tree and appends all nodes in Breadth First order
// to the dst Shader argument buffer and returns the result.
func ParseAppendNodes(dst []Shader, root Shader) (baseName string, nodes []Shader, err error) {
	if root == nil {
		return "", nil, errors.New("nil shader object")
	}
	baseName = string(root.AppendShaderName([]byte{}))
	if baseName == "" {
		return "", nil, errors.New("empty shader name")
	} else if baseName == EntryPoint {
		return "", nil, errors.New("root shader may not be named as the entry point " + EntryPoint)
	}
	dst, err = AppendAllNodes(dst, root)
	if err != nil {
		return "", nil, err
	}
	return baseName, dst, nil
}

// AppendObjectDecl appends the GLSL declaration of the [ShaderObject].
//
//	uniform <obj.Typename> <obj.NamePtr>;
func AppendObjectDecl(dst []byte, obj ShaderObject) ([]byte, error) {
	err := obj.Validate()
	if err != nil {
		return dst, err
	} else if obj.IsFunction() {
		dst = append(dst, '\n')
		dst = append(dst, obj.funcSource...)
		dst = append(dst, '\n')
		return dst, nil
	}
	dst = append(dst, "uniform "...)
	dst = append(dst, obj.Typename...)
	dst = append(dst, ' ')
	dst = append(dst, obj.NamePtr...)
	dst = append(dst, ";\n"...)
	return dst, nil
}

func (obj ShaderObject) Validate() error {
	if len(obj.NamePtr) == 0 {
		return errors.New("shader object zero-length name")
	} else if len(obj.funcSource) > 0 {
		return nil // Functions only have one required field besides NamePtr
	} else if !IsIdent(obj.NamePtr) {
		return fmt.Errorf("shader object name %q is not a valid identifier", obj.NamePtr)
	}
	switch obj.Typename {
	case "float", "vec2", "vec3", "vec4", "bool", "mat2", "mat3", "mat4", "sampler2D", "samplerCube":
	case "":
		return fmt.Errorf("uniform %q has no type", obj.NamePtr)
	default:
		return fmt.Errorf("uniform %q has unsupported type %q", obj.NamePtr, obj.Typename)
	}
	return nil
}

// AppendShaderSource appends the GL code of a single shader to the dst byte buffer. If dst's
// capacity is grown during the writing the buffer with augmented capacity is returned. If not the same input dst is returned.
// name and body byte slices pointing to the result buffer's backing array are also returned for convenience.
// name lies past the end of result and is only valid until the buffer is appended to.
func AppendShaderSource(dst []byte, s Shader) (result, name, body []byte) {
	bodyStart := len(dst)
	dst = s.AppendShaderSource(dst)
	bodyEnd := len(dst)
	dst = append(dst, '\n')
	textEnd := len(dst)
	dst = s.AppendShaderName(dst)
	return dst[:textEnd], dst[textEnd:], dst[bodyStart:bodyEnd]
}

// AppendAllNodes BFS iterates over all of root's descendants and appends all nodes
// found to dst.
//
// To generate shaders one must iterate over nodes in reverse order to ensure
// the first iterated nodes are the nodes with no dependencies on other nodes.
func AppendAllNodes(dst []Shader, root Shader) ([]Shader, error) {
	var userData any
	children := []Shader{root}
	nextChild := 0
	nilChild := errors.New("got nil child in AppendAllNodes")
	for len(children[nextChild:]) > 0 {
		newChildren := children[nextChild:]
		for _, obj := range newChildren {
			nextChild++
			err := obj.ForEachChild(userData, func(userData any, s Shader) error {
				if s == nil {
					return nilChild
				}
				children = append(children, s)
				return nil
			})
			if err != nil {
				return nil, err
			}
		}
	}
	dst = append(dst, children...)
	return dst, nil
}

func forEachNodeDFS(obj Shader, fnEnter, fnExit func(s Shader) error) (err error) {
	err = fnEnter(obj)
	if err != nil {
		return err
	}
	err = obj.ForEachChild(nil, func(userData any, s Shader) error {
		return forEachNodeDFS(s, fnEnter, fnExit)
	})
	if err != nil {
		return err
	}
	return fnExit(obj)
}

func countDirectChildren(obj Shader) (directChildren int) {
	obj.ForEachChild(nil, func(userData any, s Shader) error {
		directChildren++
		return nil
	})
	return directChildren
}

func hash(b []byte, in uint64) uint64 {
	x := in
	for len(b) >= 8 {
		x ^= binary.LittleEndian.Uint64(b)
		x = (x ^ (x >> 30)) * 0xbf58476d1ce4e5b9
		x = (x ^ (x >> 27)) * 0x94d049bb133111eb
		x ^= x >> 31
		b = b[8:]

	}
	if len(b) > 0 {
		var buf [8]byte
		copy(buf[:], b)
		x ^= binary.LittleEndian.Uint64(buf[:])
		x = (x ^ (x >> 30)) * 0xbf58476d1ce4e5b9
		x = (x ^ (x >> 27)) * 0x94d049bb133111eb
		x ^= x >> 31
	}
	return x
}

func nodeName(s Shader) string {
	return string(s.AppendShaderName(nil))
}

// FormatShader returns a compact representation of the shader tree rooted at sh
// using shader names, i.e: "fab_m(fab_m5first(fab_m5first6second),fab_m1d)".
func FormatShader(sh Shader) string {
	if sh == nil {
		panic("nil shader")
	}
	prevWasLeaf := false
	var sb strings.Builder
	err := forEachNodeDFS(sh, func(s Shader) error {
		if prevWasLeaf {
			sb.WriteByte(',')
		}
		prevWasLeaf = false
		sb.Write(s.AppendShaderName(nil))
		if countDirectChildren(s) > 0 {
			sb.WriteByte('(')
		}
		return nil
	}, func(s Shader) error {
		if countDirectChildren(s) > 0 {
			sb.WriteByte(')')
		}
		prevWasLeaf = true
		return nil
	})
	if err != nil {
		return err.Error()
	}
	return sb.String()
}
