package fabric

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
)

// Template is a declarative material description, also called a fabric.
//
// A Template either extends a named Type, defines a raw GLSL Source implementing
// fab_getMaterial, or assigns GLSL expressions to shading Components. Source and
// Components are mutually exclusive. Names in Uniforms and Materials are visible
// to the template's expressions: uniforms by name, sub-materials through
// their components, i.e: "first.diffuse".
type Template struct {
	Type       string               `json:"type,omitempty"`
	Source     string               `json:"source,omitempty"`
	Components map[string]string    `json:"components,omitempty"`
	Uniforms   map[string]any       `json:"uniforms,omitempty"`
	Materials  map[string]*Template `json:"materials,omitempty"`
}

// Template keys accepted by [DecodeTemplate].
const (
	keyType       = "type"
	keySource     = "source"
	keyComponents = "components"
	keyUniforms   = "uniforms"
	keyMaterials  = "materials"
)

// ParseTemplate decodes a JSON fabric description.
func ParseTemplate(data []byte) (*Template, error) {
	var m map[string]any
	err := json.Unmarshal(data, &m)
	if err != nil {
		return nil, fmt.Errorf("fabric: decoding JSON: %w", err)
	}
	return DecodeTemplate(m)
}

// DecodeTemplate converts a generic JSON-like description into a Template.
// Unrecognized keys fail with [ErrInvalidTemplateKey].
func DecodeTemplate(m map[string]any) (*Template, error) {
	var errs []error
	t := decodeTemplate("", m, &errs)
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return t, nil
}

func decodeTemplate(path string, m map[string]any, errs *[]error) *Template {
	t := new(Template)
	for _, key := range slices.Sorted(maps.Keys(m)) {
		v := m[key]
		switch key {
		case keyType, keySource:
			s, ok := v.(string)
			if !ok {
				*errs = append(*errs, fmt.Errorf("%w: %s%q must be a string, got %T", ErrInvalidTemplateKey, pathPrefix(path), key, v))
				continue
			}
			if key == keyType {
				t.Type = s
			} else {
				t.Source = s
			}

		case keyComponents:
			comps, ok := v.(map[string]any)
			if !ok {
				*errs = append(*errs, fmt.Errorf("%w: %s%q must be an object, got %T", ErrInvalidTemplateKey, pathPrefix(path), key, v))
				continue
			}
			t.Components = make(map[string]string, len(comps))
			for name, expr := range comps {
				s, ok := expr.(string)
				if !ok {
					*errs = append(*errs, fmt.Errorf("%w: %scomponent %q must be a GLSL expression string, got %T", ErrInvalidTemplateKey, pathPrefix(path), name, expr))
					continue
				}
				t.Components[name] = s
			}

		case keyUniforms:
			uniforms, ok := v.(map[string]any)
			if !ok {
				*errs = append(*errs, fmt.Errorf("%w: %s%q must be an object, got %T", ErrInvalidTemplateKey, pathPrefix(path), key, v))
				continue
			}
			t.Uniforms = maps.Clone(uniforms)

		case keyMaterials:
			materials, ok := v.(map[string]any)
			if !ok {
				*errs = append(*errs, fmt.Errorf("%w: %s%q must be an object, got %T", ErrInvalidTemplateKey, pathPrefix(path), key, v))
				continue
			}
			t.Materials = make(map[string]*Template, len(materials))
			for _, name := range slices.Sorted(maps.Keys(materials)) {
				sub, ok := materials[name].(map[string]any)
				if !ok {
					*errs = append(*errs, fmt.Errorf("%w: %smaterial %q must be an object, got %T", ErrInvalidTemplateKey, pathPrefix(path), name, materials[name]))
					continue
				}
				t.Materials[name] = decodeTemplate(joinPath(path, name), sub, errs)
			}

		default:
			*errs = append(*errs, fmt.Errorf("%w: %s%q", ErrInvalidTemplateKey, pathPrefix(path), key))
		}
	}
	return t
}

// Clone returns a deep copy of the template tree. Uniform values are copied shallowly.
func (t *Template) Clone() *Template {
	if t == nil {
		return nil
	}
	c := &Template{
		Type:       t.Type,
		Source:     t.Source,
		Components: maps.Clone(t.Components),
		Uniforms:   maps.Clone(t.Uniforms),
	}
	if t.Materials != nil {
		c.Materials = make(map[string]*Template, len(t.Materials))
		for name, sub := range t.Materials {
			c.Materials[name] = sub.Clone()
		}
	}
	return c
}

// hasBody reports whether the template defines shading code of its own.
func (t *Template) hasBody() bool {
	return t.Source != "" || t.Components != nil
}

func joinPath(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "." + name
}

func pathPrefix(path string) string {
	if path == "" {
		return ""
	}
	return "material " + path + ": "
}
