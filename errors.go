package fabric

import "errors"

// Errors returned while constructing or rendering a material. Returned errors
// wrap these with the material path and the offending key so they can be
// tested with [errors.Is].
var (
	// ErrMissingContext is returned when an image or cube map uniform is
	// declared but there is no rendering context to create textures with.
	ErrMissingContext = errors.New("fabric: image uniform requires a rendering context")
	// ErrInvalidTemplateKey is returned for description keys outside of
	// type, source, components, uniforms and materials.
	ErrInvalidTemplateKey = errors.New("fabric: invalid template key")
	// ErrSourceComponentConflict is returned when a description declares both source and components.
	ErrSourceComponentConflict = errors.New("fabric: source and components are mutually exclusive")
	// ErrUnknownComponent is returned for component names outside of the shading model.
	ErrUnknownComponent = errors.New("fabric: unknown component")
	// ErrNameCollision is returned when a name is declared both as uniform and material.
	ErrNameCollision = errors.New("fabric: name declared as both uniform and material")
	// ErrInvalidUniformType is returned when a uniform value has no shader type or
	// when a value set after construction changes the uniform's shape.
	ErrInvalidUniformType = errors.New("fabric: invalid uniform type")
	// ErrUnusedDeclaration is returned in strict mode for uniforms, materials
	// and channel selectors that the generated shader never references.
	ErrUnusedDeclaration = errors.New("fabric: unused declaration")
	// ErrUnknownType is returned for material types that are not registered.
	ErrUnknownType = errors.New("fabric: unknown material type")
	// ErrInvalidName is returned for uniform and material names that are not
	// valid GLSL identifiers or are reserved.
	ErrInvalidName = errors.New("fabric: invalid name")
	// ErrMissingEntryPoint is returned when a material source does not define fab_getMaterial.
	ErrMissingEntryPoint = errors.New("fabric: source does not define fab_getMaterial")
)

var (
	errDestroyed          = errors.New("fabric: material destroyed")
	errTooDeep            = errors.New("fabric: material nesting too deep")
	errSubMaterialDestroy = errors.New("fabric: only the root material can be destroyed")
)
