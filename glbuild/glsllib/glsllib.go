package glsllib

import (
	_ "embed"

	"github.com/soypat/fabric/glbuild"
)

//go:embed snoise.glsl
var snoiseSrc []byte

// Noise2D is a smooth gradient noise in the range [-1, 1]:
//
//	float fab_snoise(vec2 v)
func Noise2D() glbuild.ShaderObject {
	obj, _ := glbuild.MakeShaderFunction(snoiseSrc)
	return obj
}

//go:embed cellular.glsl
var cellularSrc []byte

// Cellular2D is Worley noise returning the distances to the nearest and second nearest feature points:
//
//	vec2 fab_cellular(vec2 P)
func Cellular2D() glbuild.ShaderObject {
	obj, _ := glbuild.MakeShaderFunction(cellularSrc)
	return obj
}

//go:embed luminance.glsl
var luminanceSrc []byte

// Luminance returns the relative luminance of a linear RGB color:
//
//	float fab_luminance(vec3 rgb)
func Luminance() glbuild.ShaderObject {
	obj, _ := glbuild.MakeShaderFunction(luminanceSrc)
	return obj
}

var library = map[string]func() glbuild.ShaderObject{
	"fab_snoise":    Noise2D,
	"fab_cellular":  Cellular2D,
	"fab_luminance": Luminance,
}

// Lookup returns the library function named name. Material sources that call a
// library function get its definition declared automatically.
func Lookup(name string) (glbuild.ShaderObject, bool) {
	fn, ok := library[name]
	if !ok {
		return glbuild.ShaderObject{}, false
	}
	return fn(), true
}
