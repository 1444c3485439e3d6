package fabric

import (
	"embed"
	"maps"
	"slices"
	"sync"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/soypat/geometry/ms2"
)

// Built-in material types.
const (
	ColorType        = "Color"
	ImageType        = "Image"
	DiffuseMapType   = "DiffuseMap"
	AlphaMapType     = "AlphaMap"
	SpecularMapType  = "SpecularMap"
	EmissionMapType  = "EmissionMap"
	BumpMapType      = "BumpMap"
	NormalMapType    = "NormalMap"
	ReflectionType   = "Reflection"
	RefractionType   = "Refraction"
	FresnelType      = "Fresnel"
	BrickType        = "Brick"
	WoodType         = "Wood"
	AsphaltType      = "Asphalt"
	CementType       = "Cement"
	GrassType        = "Grass"
	StripeType       = "Stripe"
	CheckerboardType = "Checkerboard"
	DotType          = "Dot"
	TieDyeType       = "TieDye"
	FacetType        = "Facet"
	BlobType         = "Blob"
)

//go:embed builtins/*.glsl
var builtinFS embed.FS

func builtinSource(typ string) string {
	b, err := builtinFS.ReadFile("builtins/" + typ + ".glsl")
	if err != nil {
		panic(err)
	}
	return string(b)
}

const textureLookup = "texture(image, fract(repeat * materialInput.st))"

func rgba(r, g, b, a float32) mgl32.Vec4 { return mgl32.Vec4{r, g, b, a} }

func makeBuiltins() map[string]*Template {
	repeat := ms2.Vec{X: 1, Y: 1}
	imageMap := func(component, channelsName, channels string) *Template {
		return &Template{
			Uniforms: map[string]any{
				"image":      DefaultImage,
				channelsName: channels,
				"repeat":     repeat,
			},
			Components: map[string]string{
				component: textureLookup + "." + channelsName,
			},
		}
	}
	patterned := func(light, dark mgl32.Vec4, extra map[string]any) map[string]any {
		m := map[string]any{"lightColor": light, "darkColor": dark}
		maps.Copy(m, extra)
		return m
	}
	sourced := func(typ string, uniforms map[string]any) *Template {
		return &Template{Source: builtinSource(typ), Uniforms: uniforms}
	}
	return map[string]*Template{
		ColorType: {
			Uniforms:   map[string]any{"color": rgba(1, 0, 0, 0.5)},
			Components: map[string]string{"diffuse": "color.rgb", "alpha": "color.a"},
		},
		ImageType: {
			Uniforms: map[string]any{"image": DefaultImage, "repeat": repeat},
			Components: map[string]string{
				"diffuse": textureLookup + ".rgb",
				"alpha":   textureLookup + ".a",
			},
		},
		DiffuseMapType:  imageMap("diffuse", "channels", "rgb"),
		AlphaMapType:    imageMap("alpha", "channel", "a"),
		SpecularMapType: imageMap("specular", "channel", "r"),
		EmissionMapType: imageMap("emission", "channels", "rgb"),
		BumpMapType: sourced(BumpMapType, map[string]any{
			"image":    DefaultImage,
			"channel":  "r",
			"strength": float32(0.8),
			"repeat":   repeat,
		}),
		NormalMapType: {
			Uniforms: map[string]any{
				"image":    DefaultImage,
				"channels": "rgb",
				"strength": float32(0.8),
				"repeat":   repeat,
			},
			Components: map[string]string{
				"normal": "normalize(materialInput.tangentToEyeMatrix * mix(vec3(0.0, 0.0, 1.0), " + textureLookup + ".channels * 2.0 - 1.0, strength))",
			},
		},
		ReflectionType: sourced(ReflectionType, map[string]any{
			"cubeMap":  DefaultCubeMap,
			"channels": "rgb",
		}),
		RefractionType: sourced(RefractionType, map[string]any{
			"cubeMap":                DefaultCubeMap,
			"channels":               "rgb",
			"indexOfRefractionRatio": float32(0.9),
		}),
		FresnelType: {
			Materials: map[string]*Template{
				"reflection": {Type: ReflectionType},
				"refraction": {Type: RefractionType},
			},
			Components: map[string]string{
				"diffuse": "mix(refraction.diffuse, reflection.diffuse, clamp(1.0 - dot(normalize(materialInput.positionToEyeEC), materialInput.normalEC), 0.0, 1.0))",
			},
		},
		BrickType: sourced(BrickType, map[string]any{
			"brickColor":      rgba(0.6, 0.3, 0.1, 1),
			"mortarColor":     rgba(0.8, 0.8, 0.7, 1),
			"brickSize":       ms2.Vec{X: 0.3, Y: 0.15},
			"brickPct":        ms2.Vec{X: 0.9, Y: 0.85},
			"brickRoughness":  float32(0.2),
			"mortarRoughness": float32(0.1),
		}),
		WoodType: sourced(WoodType, map[string]any{
			"lightWoodColor": rgba(0.6, 0.3, 0.1, 1),
			"darkWoodColor":  rgba(0.4, 0.2, 0.07, 1),
			"ringFrequency":  float32(3),
			"noiseScale":     ms2.Vec{X: 0.7, Y: 0.5},
			"grainFrequency": float32(27),
		}),
		AsphaltType: sourced(AsphaltType, map[string]any{
			"asphaltColor": rgba(0.15, 0.15, 0.15, 1),
			"bumpSize":     float32(0.02),
			"roughness":    float32(0.2),
		}),
		CementType: sourced(CementType, map[string]any{
			"cementColor": rgba(0.95, 0.95, 0.85, 1),
			"grainScale":  float32(0.01),
			"roughness":   float32(0.3),
		}),
		GrassType: sourced(GrassType, map[string]any{
			"grassColor": rgba(0.25, 0.4, 0.1, 1),
			"dirtColor":  rgba(0.1, 0.1, 0.1, 1),
			"patchiness": float32(1.5),
		}),
		StripeType: sourced(StripeType, patterned(rgba(1, 1, 1, 0.5), rgba(0, 0, 1, 0.5), map[string]any{
			"horizontal": true,
			"offset":     float32(0),
			"repeat":     float32(5),
		})),
		CheckerboardType: sourced(CheckerboardType, patterned(rgba(1, 1, 1, 0.5), rgba(0, 0, 0, 0.5), map[string]any{
			"repeat": ms2.Vec{X: 5, Y: 5},
		})),
		DotType: sourced(DotType, patterned(rgba(1, 1, 0, 0.75), rgba(0, 1, 1, 0.75), map[string]any{
			"repeat": ms2.Vec{X: 5, Y: 5},
		})),
		TieDyeType: sourced(TieDyeType, patterned(rgba(1, 1, 0, 0.75), rgba(1, 0, 0, 0.75), map[string]any{
			"frequency": float32(5),
		})),
		FacetType: sourced(FacetType, patterned(rgba(0.25, 0.25, 0.25, 0.75), rgba(0.75, 0.75, 0.75, 0.75), map[string]any{
			"frequency": float32(10),
		})),
		BlobType: sourced(BlobType, patterned(rgba(1, 1, 1, 0.5), rgba(0, 0, 1, 0.5), map[string]any{
			"frequency": float32(10),
		})),
	}
}

// builtins is immutable after package initialization.
var builtins = makeBuiltins()

// userTypes holds material types defined by descriptions naming an
// unregistered type together with their own source or components.
var userTypes = struct {
	mu sync.RWMutex
	m  map[string]*Template
}{m: make(map[string]*Template)}

// LookupType returns a copy of the template registered under name.
// Built-in types take precedence over user defined types.
func LookupType(name string) (*Template, bool) {
	if t, ok := builtins[name]; ok {
		return t.Clone(), true
	}
	userTypes.mu.RLock()
	defer userTypes.mu.RUnlock()
	t, ok := userTypes.m[name]
	if !ok {
		return nil, false
	}
	return t.Clone(), true
}

// BuiltinTypes returns the sorted names of the built-in material types.
func BuiltinTypes() []string {
	return slices.Sorted(maps.Keys(builtins))
}

// IsBuiltinType reports whether name is a built-in material type.
func IsBuiltinType(name string) bool {
	_, ok := builtins[name]
	return ok
}

func defineType(name string, t *Template) {
	t = t.Clone()
	t.Type = ""
	userTypes.mu.Lock()
	defer userTypes.mu.Unlock()
	userTypes.m[name] = t
}
