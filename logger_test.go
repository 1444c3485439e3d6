package fabric

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestLoggerDropsUnused(t *testing.T) {
	var buf bytes.Buffer
	SetLogger(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	defer SetLogger(nil)
	_, err := NewMaterial(Config{
		Context: &fakeContext{},
		Fabric: &Template{
			Uniforms:   map[string]any{"unused": 1.0},
			Components: map[string]string{"diffuse": "vec3(0.0)"},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "dropping unused uniform") || !strings.Contains(buf.String(), "uniform=unused") {
		t.Errorf("missing debug record:\n%s", buf.String())
	}
}
