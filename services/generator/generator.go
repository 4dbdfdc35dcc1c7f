// Package generator produces scene and music code for a generation request.
// Model-backed generators live outside this module; Simulated renders
// deterministic placeholder content from embedded templates.
package generator

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"

	"snapshotd/pkg/render"
	"snapshotd/services/snapshots"
)

// Request is a normalized generation request.
type Request struct {
	Intention       string
	DurationSeconds int
	BackgroundTheme string
	SceneTime       string
}

// Result is the generated content and the prompts that produced it.
type Result struct {
	SceneCode  string
	MusicCode  string
	Prompts    snapshots.Prompts
	SceneModel string
	MusicModel string
	Simulation bool
}

type Generator interface {
	Generate(ctx context.Context, req Request) (Result, error)
}

// Func adapts a function to Generator.
type Func func(ctx context.Context, req Request) (Result, error)

func (f Func) Generate(ctx context.Context, req Request) (Result, error) { return f(ctx, req) }

const simulatedModel = "simulated"

var roots = []string{"C", "D", "Eb", "F", "G", "A", "Bb"}

// Simulated renders content without calling a model.
type Simulated struct {
	engine *render.Engine
}

func NewSimulated(engine *render.Engine) (*Simulated, error) {
	if engine == nil {
		return nil, errors.New("renderer is required")
	}
	return &Simulated{engine: engine}, nil
}

type templateData struct {
	Request
	Seed int64
	BPM  int
	Root string
}

func (s *Simulated) Generate(ctx context.Context, req Request) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	h := fnv.New64a()
	_, _ = fmt.Fprintf(h, "%s|%s|%s|%d", req.Intention, req.BackgroundTheme, req.SceneTime, req.DurationSeconds)
	seed := int64(h.Sum64() >> 1)

	data := templateData{
		Request: req,
		Seed:    seed,
		BPM:     96,
		Root:    roots[seed%int64(len(roots))],
	}
	if req.SceneTime == "night" {
		data.BPM = 72
	}

	var res Result
	var err error
	for _, step := range []struct {
		name string
		dest *string
	}{
		{"scene_prompt.tmpl", &res.Prompts.ScenePrompt},
		{"music_prompt.tmpl", &res.Prompts.MusicPrompt},
		{"scene.js.tmpl", &res.SceneCode},
		{"music.js.tmpl", &res.MusicCode},
	} {
		if *step.dest, err = s.engine.Render(step.name, data); err != nil {
			return Result{}, fmt.Errorf("render %s: %w", step.name, err)
		}
	}

	res.SceneModel = simulatedModel
	res.MusicModel = simulatedModel
	res.Simulation = true
	return res, nil
}
