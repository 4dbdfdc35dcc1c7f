package render

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sceneData struct {
	Intention       string
	DurationSeconds int
	BackgroundTheme string
	SceneTime       string
	Seed            int64
	BPM             int
	Root            string
}

func TestRenderScene(t *testing.T) {
	engine, err := New()
	require.NoError(t, err)

	out, err := engine.Render("scene.js.tmpl", sceneData{
		Intention:       `quiet "harbor"`,
		DurationSeconds: 30,
		BackgroundTheme: "winter",
		SceneTime:       "night",
		Seed:            7,
	})
	require.NoError(t, err)
	assert.Contains(t, out, "// Winter night scene")
	assert.Contains(t, out, `quiet \"harbor\"`)
	assert.Contains(t, out, "const durationMs = 30000;")
	assert.Contains(t, out, "#0b1026")
}

func TestRenderMusic(t *testing.T) {
	engine, err := New()
	require.NoError(t, err)

	out, err := engine.Render("music.js.tmpl", sceneData{
		Intention:       "sunrise",
		DurationSeconds: 120,
		BackgroundTheme: "summer",
		SceneTime:       "morning",
		BPM:             96,
		Root:            "C",
	})
	require.NoError(t, err)
	assert.Contains(t, out, "const bpm = 96;")
	assert.Contains(t, out, "const bars = 48;")
}

func TestRenderUnknownTemplate(t *testing.T) {
	engine, err := New()
	require.NoError(t, err)

	_, err = engine.Render("missing.tmpl", nil)
	assert.Error(t, err)

	var nilEngine *Engine
	_, err = nilEngine.Render("scene.js.tmpl", nil)
	assert.Error(t, err)
}
