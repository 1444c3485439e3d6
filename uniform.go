package fabric

import (
	"fmt"
	"image/color"
	"maps"
	"slices"
	"strings"

	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/soypat/fabric/texload"
	"github.com/soypat/geometry/ms2"
	"github.com/soypat/geometry/ms3"
)

// Uniform values which bind a 1x1 opaque white placeholder without loading a file.
const (
	DefaultImage   = "fab_defaultImage"
	DefaultCubeMap = "fab_defaultCubeMap"
)

// UniformType is the shader side type of a uniform.
type UniformType uint8

const (
	UniformFloat UniformType = iota + 1
	UniformVec2
	UniformVec3
	UniformVec4
	UniformBool
	UniformMat2
	UniformMat3
	UniformMat4
	UniformSampler2D
	UniformSamplerCube
	// UniformChannels is a channel selector string such as "rgb". It is
	// substituted into the generated source and has no GLSL declaration.
	UniformChannels
)

// String returns the GLSL typename.
func (t UniformType) String() string {
	switch t {
	case UniformFloat:
		return "float"
	case UniformVec2:
		return "vec2"
	case UniformVec3:
		return "vec3"
	case UniformVec4:
		return "vec4"
	case UniformBool:
		return "bool"
	case UniformMat2:
		return "mat2"
	case UniformMat3:
		return "mat3"
	case UniformMat4:
		return "mat4"
	case UniformSampler2D:
		return "sampler2D"
	case UniformSamplerCube:
		return "samplerCube"
	case UniformChannels:
		return "channels"
	}
	return "UniformType(" + fmt.Sprint(uint8(t)) + ")"
}

// Len returns the number of floats a value of type t holds.
func (t UniformType) Len() int {
	switch t {
	case UniformFloat:
		return 1
	case UniformVec2:
		return 2
	case UniformVec3:
		return 3
	case UniformVec4, UniformMat2:
		return 4
	case UniformMat3:
		return 9
	case UniformMat4:
		return 16
	}
	return 0
}

// IsSampler reports whether t is a texture type.
func (t UniformType) IsSampler() bool { return t == UniformSampler2D || t == UniformSamplerCube }

// CubeFaces names the six image files of a cube map.
type CubeFaces struct {
	PositiveX, NegativeX string
	PositiveY, NegativeY string
	PositiveZ, NegativeZ string
}

// Paths returns the faces ordered +X, -X, +Y, -Y, +Z, -Z.
func (cf CubeFaces) Paths() [6]string {
	return [6]string{cf.PositiveX, cf.NegativeX, cf.PositiveY, cf.NegativeY, cf.PositiveZ, cf.NegativeZ}
}

func (cf CubeFaces) validate() error {
	for i, p := range cf.Paths() {
		if p != DefaultImage && !texload.IsImagePath(p) {
			return fmt.Errorf("cube face %s %q is not an image path", cubeFaceKeys[i], p)
		}
	}
	return nil
}

var cubeFaceKeys = [6]string{"positiveX", "negativeX", "positiveY", "negativeY", "positiveZ", "negativeZ"}

// UniformValue is a classified uniform value.
type UniformValue struct {
	Type UniformType
	// Data holds numeric values. Matrices are stored column-major.
	Data [16]float32
	Bool bool
	// Path is the image file of a 2D sampler, or DefaultImage/DefaultCubeMap.
	Path string
	// Faces are the image files of a cube map loaded from disk.
	Faces CubeFaces
	// Channels is the selector of a channels uniform.
	Channels string
	// Texture and CubeMap hold the texture bound to a sampler. They are set
	// by the caller for pre-existing handles and by the material while binding.
	Texture Texture
	CubeMap CubeMap
}

// Floats returns the numeric values of v.
func (v UniformValue) Floats() []float32 { return v.Data[:v.Type.Len()] }

func (v *UniformValue) sameSource(other *UniformValue) bool {
	return v.Path == other.Path && v.Faces == other.Faces && v.Texture == other.Texture && v.CubeMap == other.CubeMap
}

// ClassifyUniform deduces the shader type of a uniform value. Accepted values are:
//   - Numbers: float.
//   - bool: bool, used in expressions as float(name).
//   - [ms2.Vec], [ms3.Vec], mgl32 vectors, [2]/[3]/[4]float32 and objects with
//     keys {x,y}, {x,y,z}, {x,y,z,w} or {red,green,blue,alpha}: vec2, vec3 and vec4.
//   - [color.Color]: vec4 with non-premultiplied components in [0, 1].
//   - Numeric slices of length 2 or 3: vec2 or vec3. Length 4, 9 and 16: mat2,
//     mat3 and mat4 in column-major order.
//   - mgl32 and geometry matrices: mat2, mat3 and mat4.
//   - Image file paths, [DefaultImage] and [Texture] handles: sampler2D.
//   - [CubeFaces], objects with the six cube face keys, [DefaultCubeMap] and [CubeMap] handles: samplerCube.
//   - Strings of one to four swizzle characters from a single set of rgba, xyzw or stpq: channel selector.
func ClassifyUniform(v any) (uv UniformValue, err error) {
	setFloats := func(typ UniformType, f ...float32) {
		uv.Type = typ
		copy(uv.Data[:], f)
	}
	switch x := v.(type) {
	case nil:
		return uv, fmt.Errorf("%w: nil value", ErrInvalidUniformType)
	case float32, float64, int, int32, int64:
		f, _ := toFloat(x)
		setFloats(UniformFloat, f)
	case bool:
		uv.Type = UniformBool
		uv.Bool = x
	case string:
		return classifyString(x)
	case Texture:
		uv.Type = UniformSampler2D
		uv.Texture = x
	case CubeMap:
		uv.Type = UniformSamplerCube
		uv.CubeMap = x
	case CubeFaces:
		if err := x.validate(); err != nil {
			return uv, fmt.Errorf("%w: %w", ErrInvalidUniformType, err)
		}
		uv.Type = UniformSamplerCube
		uv.Faces = x
	case *CubeFaces:
		if x == nil {
			return uv, fmt.Errorf("%w: nil cube faces", ErrInvalidUniformType)
		}
		return ClassifyUniform(*x)

	case ms2.Vec:
		setFloats(UniformVec2, x.X, x.Y)
	case ms3.Vec:
		setFloats(UniformVec3, x.X, x.Y, x.Z)
	case mgl32.Vec2:
		setFloats(UniformVec2, x[:]...)
	case mgl32.Vec3:
		setFloats(UniformVec3, x[:]...)
	case mgl32.Vec4:
		setFloats(UniformVec4, x[:]...)
	case [2]float32:
		setFloats(UniformVec2, x[:]...)
	case [3]float32:
		setFloats(UniformVec3, x[:]...)
	case [4]float32:
		setFloats(UniformVec4, x[:]...)

	case mgl32.Mat2:
		setFloats(UniformMat2, x[:]...)
	case mgl32.Mat3:
		setFloats(UniformMat3, x[:]...)
	case mgl32.Mat4:
		setFloats(UniformMat4, x[:]...)
	case [9]float32:
		setFloats(UniformMat3, x[:]...)
	case [16]float32:
		setFloats(UniformMat4, x[:]...)
	case ms2.Mat2:
		arr := x.Array()
		setFloats(UniformMat2, transpose(arr[:], 2)...)
	case ms3.Mat3:
		arr := x.Array()
		setFloats(UniformMat3, transpose(arr[:], 3)...)
	case ms3.Mat4:
		arr := x.Array()
		setFloats(UniformMat4, transpose(arr[:], 4)...)

	case []float32:
		return classifySlice(x)
	case []float64:
		return classifySlice(convertFloats(x))
	case []int:
		return classifySlice(convertFloats(x))
	case []any:
		f := make([]float32, len(x))
		for i := range x {
			var ok bool
			f[i], ok = toFloat(x[i])
			if !ok {
				return uv, fmt.Errorf("%w: element %d of array is %T, want number", ErrInvalidUniformType, i, x[i])
			}
		}
		return classifySlice(f)

	case map[string]any:
		return classifyObject(x)
	case map[string]float64:
		m := make(map[string]any, len(x))
		for k, f := range x {
			m[k] = f
		}
		return classifyObject(m)
	case map[string]string:
		m := make(map[string]any, len(x))
		for k, s := range x {
			m[k] = s
		}
		return classifyObject(m)

	case color.Color:
		c := color.NRGBA64Model.Convert(x).(color.NRGBA64)
		const norm = 0xffff
		setFloats(UniformVec4, float32(c.R)/norm, float32(c.G)/norm, float32(c.B)/norm, float32(c.A)/norm)

	default:
		return uv, fmt.Errorf("%w: unsupported value of type %T", ErrInvalidUniformType, v)
	}
	for _, f := range uv.Floats() {
		if math32.IsNaN(f) || math32.IsInf(f, 0) {
			return UniformValue{}, fmt.Errorf("%w: non-finite value %v", ErrInvalidUniformType, f)
		}
	}
	return uv, nil
}

func classifyString(s string) (uv UniformValue, err error) {
	switch {
	case s == DefaultImage:
		uv.Type = UniformSampler2D
		uv.Path = s
	case s == DefaultCubeMap:
		uv.Type = UniformSamplerCube
		uv.Path = s
	case isChannelSelector(s):
		uv.Type = UniformChannels
		uv.Channels = s
	case texload.IsImagePath(s):
		uv.Type = UniformSampler2D
		uv.Path = s
	default:
		return uv, fmt.Errorf("%w: string %q is neither an image path nor a channel selector", ErrInvalidUniformType, s)
	}
	return uv, nil
}

var swizzleSets = [...]string{"rgba", "xyzw", "stpq"}

func isChannelSelector(s string) bool {
	if len(s) == 0 || len(s) > 4 {
		return false
	}
	for _, set := range swizzleSets {
		ok := true
		for i := 0; i < len(s) && ok; i++ {
			ok = strings.IndexByte(set, s[i]) >= 0
		}
		if ok {
			return true
		}
	}
	return false
}

func classifySlice(f []float32) (uv UniformValue, err error) {
	switch len(f) {
	case 2:
		uv.Type = UniformVec2
	case 3:
		uv.Type = UniformVec3
	case 4:
		uv.Type = UniformMat2
	case 9:
		uv.Type = UniformMat3
	case 16:
		uv.Type = UniformMat4
	default:
		return uv, fmt.Errorf("%w: array of length %d, want 2, 3, 4, 9 or 16", ErrInvalidUniformType, len(f))
	}
	copy(uv.Data[:], f)
	for _, v := range f {
		if math32.IsNaN(v) || math32.IsInf(v, 0) {
			return UniformValue{}, fmt.Errorf("%w: non-finite value %v", ErrInvalidUniformType, v)
		}
	}
	return uv, nil
}

var objectShapes = []struct {
	keys []string // field order
	typ  UniformType
}{
	{keys: []string{"x", "y"}, typ: UniformVec2},
	{keys: []string{"x", "y", "z"}, typ: UniformVec3},
	{keys: []string{"x", "y", "z", "w"}, typ: UniformVec4},
	{keys: []string{"red", "green", "blue", "alpha"}, typ: UniformVec4},
}

func classifyObject(m map[string]any) (uv UniformValue, err error) {
	keys := slices.Sorted(maps.Keys(m))
	for _, shape := range objectShapes {
		if len(shape.keys) != len(keys) || !sameKeys(m, shape.keys) {
			continue
		}
		uv.Type = shape.typ
		for i, k := range shape.keys {
			f, ok := toFloat(m[k])
			if !ok {
				return UniformValue{}, fmt.Errorf("%w: field %q is %T, want number", ErrInvalidUniformType, k, m[k])
			} else if math32.IsNaN(f) || math32.IsInf(f, 0) {
				return UniformValue{}, fmt.Errorf("%w: field %q non-finite", ErrInvalidUniformType, k)
			}
			uv.Data[i] = f
		}
		return uv, nil
	}
	if len(keys) == len(cubeFaceKeys) && sameKeys(m, cubeFaceKeys[:]) {
		var paths [6]string
		for i, k := range cubeFaceKeys {
			s, ok := m[k].(string)
			if !ok {
				return uv, fmt.Errorf("%w: cube face %q is %T, want image path", ErrInvalidUniformType, k, m[k])
			}
			paths[i] = s
		}
		return ClassifyUniform(CubeFaces{
			PositiveX: paths[0], NegativeX: paths[1],
			PositiveY: paths[2], NegativeY: paths[3],
			PositiveZ: paths[4], NegativeZ: paths[5],
		})
	}
	return uv, fmt.Errorf("%w: object with keys %v matches no uniform shape", ErrInvalidUniformType, keys)
}

func sameKeys(m map[string]any, keys []string) bool {
	for _, k := range keys {
		if _, ok := m[k]; !ok {
			return false
		}
	}
	return true
}

func toFloat(v any) (float32, bool) {
	switch x := v.(type) {
	case float32:
		return x, true
	case float64:
		return float32(x), true
	case int:
		return float32(x), true
	case int32:
		return float32(x), true
	case int64:
		return float32(x), true
	}
	return 0, false
}

func convertFloats[T float64 | int](s []T) []float32 {
	f := make([]float32, len(s))
	for i := range s {
		f[i] = float32(s[i])
	}
	return f
}

// transpose converts a row-major n by n matrix to column-major.
func transpose(rowMajor []float32, n int) []float32 {
	colMajor := make([]float32, n*n)
	for row := 0; row < n; row++ {
		for col := 0; col < n; col++ {
			colMajor[col*n+row] = rowMajor[row*n+col]
		}
	}
	return colMajor
}

// Uniform is a named uniform of a material. Its type is fixed at construction,
// its value may be changed with [Uniform.Set] and [Uniform.SetField] and is
// pushed to the program on the next [Material.Bind].
type Uniform struct {
	name   string
	glName string
	path   string // owning material path, for errors
	typ    UniformType
	active bool
	value  UniformValue

	pending    any
	hasPending bool

	tex texState
}

// Name returns the uniform name as declared in its template.
func (u *Uniform) Name() string { return u.name }

// ShaderName returns the mangled GLSL identifier of the uniform.
func (u *Uniform) ShaderName() string { return u.glName }

// Type returns the shader type fixed at construction.
func (u *Uniform) Type() UniformType { return u.typ }

// Active reports whether the generated shader references the uniform.
// Unused uniforms of permissive materials are inactive.
func (u *Uniform) Active() bool { return u.active }

// Value returns the last value applied to the uniform.
func (u *Uniform) Value() UniformValue { return u.value }

// Set replaces the uniform's value. The value is classified on the next bind
// which fails with [ErrInvalidUniformType] if its shape differs from the
// uniform's type.
func (u *Uniform) Set(v any) {
	u.pending = v
	u.hasPending = true
}

var fieldIndex = map[string]int{
	"x": 0, "r": 0, "red": 0, "s": 0,
	"y": 1, "g": 1, "green": 1, "t": 1,
	"z": 2, "b": 2, "blue": 2, "p": 2,
	"w": 3, "a": 3, "alpha": 3, "q": 3,
}

// SetField sets a single component of a vector uniform, i.e: "x" or "red".
func (u *Uniform) SetField(field string, v float32) error {
	if err := u.applyPending(); err != nil {
		return err
	}
	idx, ok := fieldIndex[field]
	switch {
	case u.typ < UniformVec2 || u.typ > UniformVec4:
		return fmt.Errorf("%w: field %q of %s uniform %q", ErrInvalidUniformType, field, u.typ, u.name)
	case !ok || idx >= u.typ.Len():
		return fmt.Errorf("%w: %s uniform %q has no field %q", ErrInvalidUniformType, u.typ, u.name, field)
	case math32.IsNaN(v) || math32.IsInf(v, 0):
		return fmt.Errorf("%w: non-finite value for %s.%s", ErrInvalidUniformType, u.name, field)
	}
	u.value.Data[idx] = v
	return nil
}

// applyPending classifies a value set with Set and checks it keeps the uniform's shape.
func (u *Uniform) applyPending() error {
	if !u.hasPending {
		return nil
	}
	v, err := ClassifyUniform(u.pending)
	if err != nil {
		return fmt.Errorf("%suniform %q: %w", pathPrefix(u.path), u.name, err)
	}
	if v.Type != u.typ {
		return fmt.Errorf("%w: %suniform %q is %s, got %s value", ErrInvalidUniformType, pathPrefix(u.path), u.name, u.typ, v.Type)
	}
	if v.Type == UniformChannels && v.Channels != u.value.Channels {
		return fmt.Errorf("%w: %schannel selector %q is compiled into the shader and cannot change to %q", ErrInvalidUniformType, pathPrefix(u.path), u.value.Channels, v.Channels)
	}
	if v.Type.IsSampler() && !u.value.sameSource(&v) {
		u.tex.reset()
	}
	u.value = v
	u.pending = nil
	u.hasPending = false
	return nil
}
