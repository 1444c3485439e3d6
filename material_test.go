package fabric

import (
	"errors"
	"image"
	"image/color"
	"strings"
	"testing"

	"github.com/soypat/geometry/ms3"
)

func TestBuiltinTypesBind(t *testing.T) {
	for _, typ := range BuiltinTypes() {
		ctx := &fakeContext{}
		m, err := NewMaterial(Config{
			Context: ctx,
			Strict:  true,
			Fabric:  &Template{Type: typ},
		})
		if err != nil {
			t.Errorf("%s: %v", typ, err)
			continue
		}
		if m.Type() != typ {
			t.Errorf("want type %q, got %q", typ, m.Type())
		}
		if err := m.Bind(); err != nil {
			t.Errorf("%s: %v", typ, err)
		}
		if len(ctx.programs) != 1 {
			t.Errorf("%s: want one program, got %d", typ, len(ctx.programs))
		}
		for _, u := range m.UniformTable() {
			if !u.Active() {
				t.Errorf("%s: strict material with inactive uniform %q", typ, u.Name())
			}
		}
		if err := m.Destroy(); err != nil {
			t.Error(err)
		}
		for _, p := range ctx.programs {
			if !p.destroyed {
				t.Errorf("%s: program not released", typ)
			}
		}
	}
	if n := len(BuiltinTypes()); n != 22 {
		t.Errorf("want 22 built-in types, got %d", n)
	}
}

func TestFromType(t *testing.T) {
	ctx := &fakeContext{}
	m, err := FromType(ctx, ColorType)
	if err != nil {
		t.Fatal(err)
	}
	mustBind(t, m)
	v := ctx.programs[0].bound["fab_mu5color"]
	if v.Type != UniformVec4 || v.Data[0] != 1 || v.Data[3] != 0.5 {
		t.Errorf("unexpected default color %v", v.Floats())
	}
	_, err = FromType(ctx, "Nothing")
	wantErr(t, err, ErrUnknownType)
}

func TestSameTypeSharesProgram(t *testing.T) {
	ctx := &fakeContext{}
	colored := func(c color.Color) *Material {
		return mustMaterial(t, Config{
			Context: ctx,
			Strict:  true,
			Fabric:  &Template{Type: ColorType, Uniforms: map[string]any{"color": c}},
		})
	}
	green := colored(color.RGBA{G: 255, A: 255})
	blue := colored(color.RGBA{B: 255, A: 255})
	if green.ShaderSource() != blue.ShaderSource() {
		t.Fatal("same type with different values must generate identical source")
	}
	if green.Program() != blue.Program() || len(ctx.programs) != 1 {
		t.Fatal("identical source must share a single program")
	}
	prog := ctx.programs[0]
	mustBind(t, green)
	if got := prog.bound["fab_mu5color"].Floats(); !equalFloats(got, []float32{0, 1, 0, 1}) {
		t.Errorf("green bound %v", got)
	}
	mustBind(t, blue)
	if got := prog.bound["fab_mu5color"].Floats(); !equalFloats(got, []float32{0, 0, 1, 1}) {
		t.Errorf("blue bound %v", got)
	}

	if err := green.Destroy(); err != nil {
		t.Fatal(err)
	}
	if prog.destroyed {
		t.Fatal("program destroyed while still in use")
	}
	if err := blue.Destroy(); err != nil {
		t.Fatal(err)
	}
	if !prog.destroyed {
		t.Error("program not destroyed after last material")
	}
}

func TestSubMaterialsSum(t *testing.T) {
	ctx := &fakeContext{}
	m := mustMaterial(t, Config{
		Context: ctx,
		Strict:  true,
		Fabric: &Template{
			Materials: map[string]*Template{
				"color1": {Type: ColorType, Uniforms: map[string]any{"color": color.RGBA{G: 255, A: 255}}},
				"color2": {Type: ColorType, Uniforms: map[string]any{"color": color.RGBA{B: 255, A: 255}}},
			},
			Components: map[string]string{"diffuse": "color1.diffuse + color2.diffuse"},
		},
	})
	src := m.ShaderSource()
	const want = "material.diffuse = fab_m6color1(materialInput).diffuse + fab_m6color2(materialInput).diffuse;"
	if !strings.Contains(src, want) {
		t.Errorf("missing %q in\n%s", want, src)
	}
	mustBind(t, m)
	bound := ctx.programs[0].bound
	if !equalFloats(bound["fab_m6color1u5color"].Floats(), []float32{0, 1, 0, 1}) ||
		!equalFloats(bound["fab_m6color2u5color"].Floats(), []float32{0, 0, 1, 1}) {
		t.Errorf("unexpected sub-material uniforms %v", bound)
	}
}

func TestNestedMaterials(t *testing.T) {
	ctx := &fakeContext{}
	m := mustMaterial(t, Config{
		Context: ctx,
		Strict:  true,
		Fabric: &Template{
			Materials: map[string]*Template{
				"first": {
					Materials: map[string]*Template{
						"second": {
							Materials: map[string]*Template{
								"third": {Type: ColorType},
							},
							Components: map[string]string{"diffuse": "third.diffuse"},
						},
					},
					Components: map[string]string{"diffuse": "second.diffuse"},
				},
			},
			Components: map[string]string{"diffuse": "first.diffuse"},
		},
	})
	mustBind(t, m)
	src := m.ShaderSource()
	for _, want := range []string{
		"fab_material fab_m5first6second5third(fab_materialInput materialInput)",
		"uniform vec4 fab_m5first6second5thirdu5color;",
		"material.diffuse = fab_m5first6second(materialInput).diffuse;",
	} {
		if !strings.Contains(src, want) {
			t.Errorf("missing %q in\n%s", want, src)
		}
	}
	iThird := strings.Index(src, "fab_material fab_m5first6second5third(")
	iFirst := strings.Index(src, "fab_material fab_m5first(")
	iRoot := strings.Index(src, "fab_material fab_m(")
	if !(iThird < iFirst && iFirst < iRoot) {
		t.Error("sub-materials must be declared before their parents")
	}
	third := m.Materials["first"].Materials["second"].Materials["third"]
	if third == nil || third.Type() != ColorType {
		t.Fatal("nested material handle not found")
	}
	if !strings.HasPrefix(third.ShaderSource(), "fab_material fab_m5first6second5third(") {
		t.Errorf("unexpected sub-material source:\n%s", third.ShaderSource())
	}
	// Post construction edits of nested uniforms.
	if err := third.Uniforms["color"].SetField("red", 0); err != nil {
		t.Fatal(err)
	}
	mustBind(t, m)
	if got := ctx.programs[0].bound["fab_m5first6second5thirdu5color"].Data[0]; got != 0 {
		t.Errorf("nested edit not bound, got red=%v", got)
	}
}

func TestSameNameDifferentDepth(t *testing.T) {
	m := mustMaterial(t, Config{
		Context: &fakeContext{},
		Strict:  true,
		Fabric: &Template{
			Materials: map[string]*Template{
				"first": {
					Materials:  map[string]*Template{"first": {Type: ColorType}},
					Components: map[string]string{"diffuse": "first.diffuse"},
				},
			},
			Components: map[string]string{"diffuse": "first.diffuse"},
		},
	})
	mustBind(t, m)
	src := m.ShaderSource()
	if !strings.Contains(src, "fab_material fab_m5first5first(") || !strings.Contains(src, "fab_material fab_m5first(") {
		t.Errorf("expected independent identifiers:\n%s", src)
	}
}

func TestSetShapeMismatch(t *testing.T) {
	ctx := &fakeContext{}
	m := mustMaterial(t, Config{
		Context: ctx,
		Strict:  true,
		Fabric: &Template{
			Uniforms:   map[string]any{"value": 0.5},
			Components: map[string]string{"diffuse": "vec3(value)"},
		},
	})
	value := m.Uniforms["value"]
	value.Set(map[string]any{"x": 0.5, "y": 0.5}) // Assignment succeeds.
	wantErr(t, m.Bind(), ErrInvalidUniformType)
	value.Set(0.25)
	mustBind(t, m)
	if got := ctx.programs[0].bound["fab_mu5value"].Data[0]; got != 0.25 {
		t.Errorf("want 0.25 bound, got %v", got)
	}
}

func TestSetField(t *testing.T) {
	ctx := &fakeContext{}
	m := mustMaterial(t, Config{
		Context: ctx,
		Strict:  true,
		Fabric: &Template{
			Uniforms:   map[string]any{"value": ms3.Vec{}, "f": float32(1)},
			Components: map[string]string{"diffuse": "value * f"},
		},
	})
	value := m.Uniforms["value"]
	if err := value.SetField("x", 1); err != nil {
		t.Fatal(err)
	}
	if err := value.SetField("b", 0.5); err != nil {
		t.Fatal(err)
	}
	wantErr(t, value.SetField("w", 1), ErrInvalidUniformType)
	wantErr(t, m.Uniforms["f"].SetField("x", 1), ErrInvalidUniformType)
	mustBind(t, m)
	if got := ctx.programs[0].bound["fab_mu5value"].Floats(); !equalFloats(got, []float32{1, 0, 0.5}) {
		t.Errorf("unexpected value %v", got)
	}
}

func TestUnusedDeclarations(t *testing.T) {
	tests := []struct {
		name   string
		fabric func() *Template
		check  func(t *testing.T, m *Material)
	}{
		{
			name: "uniform",
			fabric: func() *Template {
				return &Template{
					Uniforms:   map[string]any{"value": 0.5},
					Components: map[string]string{"diffuse": "vec3(0.0)"},
				}
			},
			check: func(t *testing.T, m *Material) {
				if m.Uniforms["value"].Active() {
					t.Error("unused uniform is active")
				}
				if strings.Contains(m.ShaderSource(), "fab_mu5value") {
					t.Error("unused uniform declared")
				}
			},
		},
		{
			name: "material",
			fabric: func() *Template {
				return &Template{
					Materials:  map[string]*Template{"nested": {Type: ColorType}},
					Components: map[string]string{"diffuse": "vec3(0.0)"},
				}
			},
			check: func(t *testing.T, m *Material) {
				nested := m.Materials["nested"]
				if nested == nil || nested.Uniforms["color"] == nil {
					t.Fatal("unused material must be kept")
				}
				if nested.Uniforms["color"].Active() {
					t.Error("uniform of unused material is active")
				}
				if strings.Contains(m.ShaderSource(), "fab_m6nested") {
					t.Error("unused material generated")
				}
			},
		},
		{
			name: "channels",
			fabric: func() *Template {
				return &Template{
					Uniforms:   map[string]any{"nonexistant": "rgb"},
					Components: map[string]string{"diffuse": "vec3(0.0)"},
				}
			},
		},
		{
			name: "channels without image",
			fabric: func() *Template {
				return &Template{
					Uniforms:   map[string]any{"c": "rgb", "v": ms3.Vec{X: 1}},
					Components: map[string]string{"diffuse": "v.c"},
				}
			},
			check: func(t *testing.T, m *Material) {
				if !strings.Contains(m.ShaderSource(), "material.diffuse = fab_mu1v.rgb;") {
					t.Errorf("channel selector not substituted:\n%s", m.ShaderSource())
				}
			},
		},
		{
			name: "type override",
			fabric: func() *Template {
				return &Template{
					Type:       DiffuseMapType,
					Components: map[string]string{"diffuse": "vec3(0.0)"},
				}
			},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewMaterial(Config{Context: &fakeContext{}, Strict: true, Fabric: tc.fabric()})
			wantErr(t, err, ErrUnusedDeclaration)
			m := mustMaterial(t, Config{Context: &fakeContext{}, Strict: false, Fabric: tc.fabric()})
			mustBind(t, m)
			if tc.check != nil {
				tc.check(t, m)
			}
		})
	}
}

func TestConstructionErrors(t *testing.T) {
	tests := []struct {
		name   string
		fabric *Template
		strict bool
		want   error
	}{
		{
			name:   "source and components",
			fabric: &Template{Source: "fab_material fab_getMaterial(fab_materialInput materialInput) { return fab_getDefaultMaterial(materialInput); }", Components: map[string]string{"diffuse": "vec3(0.0)"}},
			want:   ErrSourceComponentConflict,
		},
		{
			name: "uniform and material name",
			fabric: &Template{
				Uniforms:   map[string]any{"second": 0.5},
				Materials:  map[string]*Template{"second": {Type: ColorType}},
				Components: map[string]string{"diffuse": "second.diffuse * second"},
			},
			want: ErrNameCollision,
		},
		{
			name:   "misspelled component",
			fabric: &Template{Components: map[string]string{"difuse": "vec3(0.0)"}},
			want:   ErrUnknownComponent,
		},
		{
			name: "sub-material uniform access",
			fabric: &Template{
				Materials:  map[string]*Template{"first": {Type: ColorType}},
				Components: map[string]string{"diffuse": "first.color.rgb"},
			},
			want: ErrUnknownComponent,
		},
		{
			name: "object uniform",
			fabric: &Template{
				Uniforms:   map[string]any{"value": map[string]any{"x": 0.0, "y": 0.0, "z": 0.0, "w": 0.0, "t": 0.0}},
				Components: map[string]string{"diffuse": "value.xyz"},
			},
			want: ErrInvalidUniformType,
		},
		{
			name: "array of length 5",
			fabric: &Template{
				Uniforms:   map[string]any{"value": []any{1.0, 2.0, 3.0, 4.0, 5.0}},
				Components: map[string]string{"diffuse": "vec3(0.0)"},
			},
			want: ErrInvalidUniformType,
		},
		{
			name:   "unknown type",
			fabric: &Template{Type: "DoesNotExist"},
			want:   ErrUnknownType,
		},
		{
			name: "reserved uniform name",
			fabric: &Template{
				Uniforms:   map[string]any{"fab_value": 1.0},
				Components: map[string]string{"diffuse": "vec3(fab_value)"},
			},
			want: ErrInvalidName,
		},
		{
			name:   "missing entry point",
			fabric: &Template{Source: "float notMaterial() { return 1.0; }"},
			want:   ErrMissingEntryPoint,
		},
	}
	for _, tc := range tests {
		for _, strict := range []bool{true, false} {
			_, err := NewMaterial(Config{Context: &fakeContext{}, Strict: strict, Fabric: tc.fabric})
			if err == nil {
				t.Fatalf("%s (strict=%v): expected error", tc.name, strict)
			}
			wantErr(t, err, tc.want)
		}
	}
}

func TestMissingContext(t *testing.T) {
	_, err := NewMaterial(Config{Fabric: &Template{Type: DiffuseMapType}})
	wantErr(t, err, ErrMissingContext)
	// Materials with no textures compile without context but cannot be bound.
	m, err := NewMaterial(Config{Fabric: &Template{Type: ColorType}})
	if err != nil {
		t.Fatal(err)
	}
	if m.ShaderSource() == "" || m.Program() != nil {
		t.Error("context free material must have source and no program")
	}
	wantErr(t, m.Bind(), ErrMissingContext)
}

func TestUnusualNames(t *testing.T) {
	m := mustMaterial(t, Config{
		Context: &fakeContext{},
		Strict:  true,
		Fabric: &Template{
			Uniforms: map[string]any{"i": 0.4},
			Materials: map[string]*Template{
				"d":       {Type: ColorType},
				"diffuse": {Type: ColorType},
			},
			Components: map[string]string{
				"diffuse":  "(d.diffuse + diffuse.diffuse)*i",
				"specular": "i",
			},
		},
	})
	mustBind(t, m)
	src := m.ShaderSource()
	for _, want := range []string{
		"material.diffuse = (fab_m1d(materialInput).diffuse + fab_m7diffuse(materialInput).diffuse)*fab_mu1i;",
		"material.specular = fab_mu1i;",
	} {
		if !strings.Contains(src, want) {
			t.Errorf("missing %q in\n%s", want, src)
		}
	}
}

func TestBoolUniform(t *testing.T) {
	ctx := &fakeContext{}
	m := mustMaterial(t, Config{
		Context: ctx,
		Strict:  true,
		Fabric: &Template{
			Uniforms:   map[string]any{"value": true},
			Components: map[string]string{"diffuse": "float(value) * vec3(1.0)"},
		},
	})
	src := m.ShaderSource()
	if !strings.Contains(src, "uniform bool fab_mu5value;") || !strings.Contains(src, "float(float(fab_mu5value))") {
		t.Errorf("unexpected bool handling:\n%s", src)
	}
	mustBind(t, m)
	if v := ctx.programs[0].bound["fab_mu5value"]; v.Type != UniformBool || !v.Bool {
		t.Errorf("unexpected bound value %+v", v)
	}
}

func TestMatrixUniforms(t *testing.T) {
	for _, tc := range []struct {
		json string
		typ  UniformType
		last int
	}{
		{`{"uniforms":{"value":[0,0,0,1]},"components":{"diffuse":"vec3(value[1][1])"}}`, UniformMat2, 3},
		{`{"uniforms":{"value":[0,0,0,0,0,0,0,0,1]},"components":{"diffuse":"vec3(value[2][2])"}}`, UniformMat3, 8},
		{`{"uniforms":{"value":[0,0,0,0,0,0,0,0,0,0,0,0,0,0,0,1]},"components":{"diffuse":"vec3(value[3][3])"}}`, UniformMat4, 15},
	} {
		fab, err := ParseTemplate([]byte(tc.json))
		if err != nil {
			t.Fatal(err)
		}
		ctx := &fakeContext{}
		m := mustMaterial(t, Config{Context: ctx, Strict: true, Fabric: fab})
		u := m.Uniforms["value"]
		if u.Type() != tc.typ {
			t.Errorf("want %s, got %s", tc.typ, u.Type())
		}
		mustBind(t, m)
		v := ctx.programs[0].bound["fab_mu5value"]
		if v.Data[tc.last] != 1 {
			t.Errorf("%s: want last element 1, got %v", tc.typ, v.Floats())
		}
	}
}

func TestUserDefinedType(t *testing.T) {
	const typ = "TestUserDefinedTypeNew"
	ctx := &fakeContext{}
	mustMaterial(t, Config{
		Context: ctx,
		Strict:  true,
		Fabric: &Template{
			Type:       typ,
			Uniforms:   map[string]any{"tint": ms3.Vec{X: 1}},
			Components: map[string]string{"diffuse": "tint"},
		},
	})
	if _, ok := LookupType(typ); !ok {
		t.Fatal("type not defined")
	}
	m := mustMaterial(t, Config{
		Context: ctx,
		Strict:  true,
		Fabric: &Template{
			Materials:  map[string]*Template{"first": {Type: typ}},
			Components: map[string]string{"diffuse": "first.diffuse"},
		},
	})
	mustBind(t, m)
	if m.Materials["first"].Type() != typ || m.Materials["first"].Uniforms["tint"] == nil {
		t.Error("sub-material does not build off the new type")
	}
}

func TestUserTypeFailedBuild(t *testing.T) {
	const typ = "TestUserTypeFailedBuild"
	broken := &fakeContext{compileErr: errors.New("link failed")}
	_, err := NewMaterial(Config{
		Context: broken,
		Fabric:  &Template{Type: typ, Components: map[string]string{"diffuse": "vec3(0.0"}},
	})
	if err == nil {
		t.Fatal("expected program build error")
	}
	if _, ok := LookupType(typ); ok {
		t.Fatal("type of failed material registered")
	}
	// A corrected description defines the type.
	m := mustMaterial(t, Config{
		Context: &fakeContext{},
		Strict:  true,
		Fabric:  &Template{Type: typ, Uniforms: map[string]any{"tint": ms3.Vec{Y: 1}}, Components: map[string]string{"diffuse": "tint"}},
	})
	mustBind(t, m)
	got, ok := LookupType(typ)
	if !ok {
		t.Fatal("type not defined")
	} else if got.Components["diffuse"] != "tint" {
		t.Errorf("registered wrong definition %+v", got)
	}
}

func TestSourceHelperFunctions(t *testing.T) {
	const src = `float halve(float x); // prototype
float halve(float x) { return 0.5 * x; }
fab_material fab_getMaterial(fab_materialInput materialInput)
{
    fab_material material = fab_getDefaultMaterial(materialInput);
    material.diffuse = vec3(halve(tint));
    return material;
}`
	m := mustMaterial(t, Config{
		Context: &fakeContext{},
		Strict:  true,
		Fabric: &Template{
			Materials: map[string]*Template{
				"a": {Source: src, Uniforms: map[string]any{"tint": 1.0}},
				"b": {Source: src, Uniforms: map[string]any{"tint": 0.5}},
			},
			Components: map[string]string{"diffuse": "a.diffuse + b.diffuse"},
		},
	})
	mustBind(t, m)
	got := m.ShaderSource()
	for _, want := range []string{
		"float fab_m1af5halve(float x) { return 0.5 * x; }",
		"float fab_m1bf5halve(float x) { return 0.5 * x; }",
		"material.diffuse = vec3(fab_m1af5halve(fab_m1au4tint));",
		"material.diffuse = vec3(fab_m1bf5halve(fab_m1bu4tint));",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("missing %q in\n%s", want, got)
		}
	}
	if strings.Contains(got, "float halve(") {
		t.Errorf("helper function not renamed:\n%s", got)
	}
	_, err := NewMaterial(Config{
		Context: &fakeContext{},
		Fabric:  &Template{Source: src, Uniforms: map[string]any{"tint": 1.0, "halve": 1.0}},
	})
	wantErr(t, err, ErrNameCollision)
}

func TestChannelSelectorNames(t *testing.T) {
	for _, name := range []string{"alpha", "diffuse", "st", "normalEC", "rgb", "x"} {
		_, err := NewMaterial(Config{
			Context: &fakeContext{},
			Fabric: &Template{
				Uniforms:   map[string]any{"image": DefaultImage, name: "rgb"},
				Components: map[string]string{"diffuse": "texture(image, materialInput.st)." + name},
			},
		})
		if !errors.Is(err, ErrInvalidName) {
			t.Errorf("%s: want invalid name error, got %v", name, err)
		}
	}
	// Member accesses keep their names.
	m := mustMaterial(t, Config{
		Context: &fakeContext{},
		Strict:  true,
		Fabric: &Template{
			Uniforms:  map[string]any{"image": DefaultImage, "sel": "rgb"},
			Materials: map[string]*Template{"first": {Type: ColorType}},
			Components: map[string]string{
				"diffuse": "texture(image, materialInput.st).sel",
				"alpha":   "first.alpha",
			},
		},
	})
	src := m.ShaderSource()
	for _, want := range []string{
		"material.diffuse = texture(fab_mu5image, materialInput.st).rgb;",
		"material.alpha = fab_m5first(materialInput).alpha;",
	} {
		if !strings.Contains(src, want) {
			t.Errorf("missing %q in\n%s", want, src)
		}
	}
	_, err := NewMaterial(Config{
		Context: &fakeContext{},
		Fabric: &Template{
			Uniforms:   map[string]any{"image": DefaultImage, "sel": "rgb"},
			Components: map[string]string{"diffuse": "texture(image, materialInput.st).rgb * sel"},
		},
	})
	wantErr(t, err, ErrInvalidUniformType)
}

func TestDestroySubMaterial(t *testing.T) {
	ctx := &fakeContext{}
	m := mustMaterial(t, Config{
		Context: ctx,
		Strict:  true,
		Fabric: &Template{
			Materials:  map[string]*Template{"first": {Type: ColorType}},
			Components: map[string]string{"diffuse": "first.diffuse"},
		},
	})
	wantErr(t, m.Materials["first"].Destroy(), errSubMaterialDestroy)
	if ctx.programs[0].destroyed {
		t.Fatal("sub-material destroyed the root's program")
	}
	mustBind(t, m)
	if err := m.Destroy(); err != nil {
		t.Fatal(err)
	}
	if !ctx.programs[0].destroyed {
		t.Error("program not released")
	}
}

func TestSourceMaterial(t *testing.T) {
	m := mustMaterial(t, Config{
		Context: &fakeContext{},
		Strict:  true,
		Fabric: &Template{
			Uniforms: map[string]any{"tint": ms3.Vec{X: 1}},
			Source: `fab_material fab_getMaterial(fab_materialInput materialInput)
{
    fab_material m = fab_getDefaultMaterial(materialInput);
    m.diffuse = tint; // tint is not rewritten in comments
    return m;
}`,
		},
	})
	src := m.ShaderSource()
	for _, want := range []string{
		"fab_material fab_m(fab_materialInput materialInput)",
		"m.diffuse = fab_mu4tint; // tint is not rewritten in comments",
		"return fab_m(materialInput);",
	} {
		if !strings.Contains(src, want) {
			t.Errorf("missing %q in\n%s", want, src)
		}
	}
}

func TestLibraryFunctions(t *testing.T) {
	brick, err := NewMaterial(Config{Context: &fakeContext{}, Fabric: &Template{Type: BrickType}})
	if err != nil {
		t.Fatal(err)
	}
	if n := strings.Count(brick.ShaderSource(), "float fab_snoise(vec2 v)"); n != 1 {
		t.Errorf("want fab_snoise declared once, got %d", n)
	}
	col, err := NewMaterial(Config{Context: &fakeContext{}, Fabric: &Template{Type: ColorType}})
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(col.ShaderSource(), "fab_snoise") {
		t.Error("unreferenced library function declared")
	}
}

func solidImage(w, h int, c color.Color) image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < w*h; i++ {
		img.Set(i%w, i/w, c)
	}
	return img
}

func TestImageUniformLoad(t *testing.T) {
	ctx := &fakeContext{}
	loader := newSyncLoader(map[string]image.Image{
		"green.png": solidImage(2, 2, color.NRGBA{G: 255, A: 255}),
	})
	m := mustMaterial(t, Config{
		Context: ctx,
		Strict:  true,
		Loader:  loader,
		Fabric:  &Template{Type: DiffuseMapType, Uniforms: map[string]any{"image": "green.png"}},
	})
	if !strings.Contains(m.ShaderSource(), ".rgb;") || strings.Contains(m.ShaderSource(), "channels") {
		t.Errorf("channel selector not substituted:\n%s", m.ShaderSource())
	}
	bound := func() Texture {
		mustBind(t, m)
		return ctx.programs[0].bound["fab_mu5image"].Texture
	}
	if tex := bound(); tex.Bounds().Dx() != 1 {
		t.Error("expected placeholder before load completes")
	}
	loaded := bound()
	if loaded.Bounds().Dx() != 2 {
		t.Fatal("expected loaded texture")
	}
	if bound() != loaded || len(ctx.textures) != 2 || loader.calls["green.png"] != 1 {
		t.Error("loaded texture must be reused")
	}

	// Failed loads keep the placeholder.
	m.Uniforms["image"].Set("missing.png")
	for i := 0; i < 3; i++ {
		if tex := bound(); tex.Bounds().Dx() != 1 {
			t.Error("expected placeholder after failed load")
		}
	}
	if loader.calls["missing.png"] != 1 {
		t.Errorf("failed load retried %d times", loader.calls["missing.png"])
	}
	m.Uniforms["image"].Set(1.0)
	wantErr(t, m.Bind(), ErrInvalidUniformType)
	m.Uniforms["image"].Set("green.png")

	if err := m.Destroy(); err != nil {
		t.Fatal(err)
	}
	for _, tex := range ctx.textures {
		if !tex.destroyed {
			t.Error("owned texture not destroyed")
		}
	}
	if !ctx.programs[0].destroyed {
		t.Error("program not released")
	}
	wantErr(t, m.Bind(), errDestroyed)
}

func TestTextureHandleUniform(t *testing.T) {
	ctx := &fakeContext{}
	tex, _ := ctx.CreateTexture(solidImage(4, 4, color.White))
	m := mustMaterial(t, Config{
		Context: ctx,
		Strict:  true,
		Fabric:  &Template{Type: ImageType, Uniforms: map[string]any{"image": tex}},
	})
	mustBind(t, m)
	if ctx.programs[0].bound["fab_mu5image"].Texture != tex {
		t.Error("texture handle not bound")
	}
	if err := m.Destroy(); err != nil {
		t.Fatal(err)
	}
	if tex.(*fakeTexture).destroyed {
		t.Error("caller owned texture destroyed")
	}
}

func TestCubeMapUniformLoad(t *testing.T) {
	ctx := &fakeContext{}
	faces := map[string]image.Image{}
	cube := map[string]any{}
	for _, k := range cubeFaceKeys {
		faces[k+".png"] = solidImage(2, 2, color.White)
		cube[k] = k + ".png"
	}
	loader := newSyncLoader(faces)
	m := mustMaterial(t, Config{
		Context: ctx,
		Strict:  true,
		Loader:  loader,
		Fabric:  &Template{Type: ReflectionType, Uniforms: map[string]any{"cubeMap": cube}},
	})
	if u := m.Uniforms["cubeMap"]; u.Type() != UniformSamplerCube {
		t.Fatalf("want samplerCube, got %s", u.Type())
	}
	mustBind(t, m)
	if got := ctx.programs[0].bound["fab_mu7cubeMap"].CubeMap; got.FaceSize() != 1 {
		t.Error("expected placeholder cube map")
	}
	mustBind(t, m)
	if got := ctx.programs[0].bound["fab_mu7cubeMap"].CubeMap; got.FaceSize() != 2 {
		t.Error("expected loaded cube map")
	}
	if len(ctx.cubes) != 2 {
		t.Errorf("want 2 cube maps, got %d", len(ctx.cubes))
	}
	if err := m.Destroy(); err != nil {
		t.Fatal(err)
	}
	for _, c := range ctx.cubes {
		if !c.destroyed {
			t.Error("cube map not destroyed")
		}
	}
}

func TestChannelSelectorFixed(t *testing.T) {
	m := mustMaterial(t, Config{Context: &fakeContext{}, Strict: true, Fabric: &Template{Type: DiffuseMapType}})
	ch := m.Uniforms["channels"]
	ch.Set("rgb")
	mustBind(t, m)
	ch.Set("gbr")
	wantErr(t, m.Bind(), ErrInvalidUniformType)
}

func TestProgramCacheOption(t *testing.T) {
	ctx := &fakeContext{}
	cache := NewProgramCache(ctx)
	m1 := mustMaterial(t, Config{Context: ctx, Programs: cache, Fabric: &Template{Type: ColorType}})
	m2 := mustMaterial(t, Config{Context: ctx, Programs: cache, Fabric: &Template{Type: ColorType}})
	hits, misses := cache.Stats()
	if hits != 1 || misses != 1 || cache.Len() != 1 {
		t.Errorf("unexpected cache stats hits=%d misses=%d len=%d", hits, misses, cache.Len())
	}
	m1.Destroy()
	m2.Destroy()
	if cache.Len() != 0 {
		t.Error("cache not emptied")
	}
	ForgetContext(ctx)
}

func equalFloats(a, b []float32) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
