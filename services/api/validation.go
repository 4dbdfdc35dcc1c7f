package api

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"slices"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"snapshotd/services/snapshots"
)

//go:embed schemas/*.json
var schemaFS embed.FS

const schemaBase = "https://snapshotd.local/schemas/"

type schemas struct {
	snapshot   *jsonschema.Schema
	generation *jsonschema.Schema
	thumbnail  *jsonschema.Schema
	process    *jsonschema.Schema
}

func loadSchemas() (*schemas, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020

	names := []string{"snapshot.json", "generation.json", "thumbnail.json", "process.json"}
	for _, name := range names {
		data, err := schemaFS.ReadFile("schemas/" + name)
		if err != nil {
			return nil, err
		}
		if err := c.AddResource(schemaBase+name, bytes.NewReader(data)); err != nil {
			return nil, fmt.Errorf("add schema %s: %w", name, err)
		}
	}

	compiled := make([]*jsonschema.Schema, len(names))
	for i, name := range names {
		s, err := c.Compile(schemaBase + name)
		if err != nil {
			return nil, fmt.Errorf("compile schema %s: %w", name, err)
		}
		compiled[i] = s
	}
	return &schemas{snapshot: compiled[0], generation: compiled[1], thumbnail: compiled[2], process: compiled[3]}, nil
}

// validate decodes raw into a generic document and checks it against s.
func validate(s *jsonschema.Schema, raw []byte) error {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return &snapshots.ValidationError{Message: "request body must be valid JSON"}
	}
	if err := s.Validate(doc); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			for len(ve.Causes) > 0 {
				ve = ve.Causes[0]
			}
			return &snapshots.ValidationError{
				Field:   strings.TrimPrefix(strings.ReplaceAll(ve.InstanceLocation, "/", "."), "."),
				Message: ve.Message,
			}
		}
		return err
	}
	return nil
}

const (
	defaultTheme     = "spring"
	defaultSceneTime = "morning"
)

var (
	themes     = []string{"spring", "summer", "autumn", "winter"}
	sceneTimes = []string{"morning", "night"}
)

// option is a string field that tolerates any JSON value. Anything that is
// not a string decodes as empty and falls back to the default.
type option string

func (o *option) UnmarshalJSON(b []byte) error {
	var s string
	if json.Unmarshal(b, &s) != nil {
		*o = ""
		return nil
	}
	*o = option(s)
	return nil
}

// oneOf returns v when it is one of allowed and def otherwise.
func oneOf(v option, allowed []string, def string) option {
	if slices.Contains(allowed, string(v)) {
		return v
	}
	return option(def)
}

type snapshotPayload struct {
	Intention       string             `json:"intention"`
	SceneCode       string             `json:"sceneCode"`
	MusicCode       string             `json:"musicCode"`
	DurationSeconds float64            `json:"durationSeconds"`
	BackgroundTheme option             `json:"backgroundTheme"`
	SceneTime       option             `json:"sceneTime"`
	Prompts         *snapshots.Prompts `json:"prompts,omitempty"`
	Simulation      bool               `json:"simulation"`
	GeneratedAt     *float64           `json:"generatedAt,omitempty"`
}

// normalizeSnapshot validates a snapshot document and returns its stored
// form: trimmed intention, whole-second duration, and theme/time coerced to
// a known value.
// Unknown fields are dropped.
func (s *schemas) normalizeSnapshot(raw []byte) (json.RawMessage, error) {
	if err := validate(s.snapshot, raw); err != nil {
		return nil, err
	}
	var p snapshotPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, &snapshots.ValidationError{Message: "request body must be valid JSON"}
	}

	intention, err := normalizeIntention(p.Intention)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(p.SceneCode) == "" {
		return nil, &snapshots.ValidationError{Field: "sceneCode", Message: "must not be blank"}
	}
	if strings.TrimSpace(p.MusicCode) == "" {
		return nil, &snapshots.ValidationError{Field: "musicCode", Message: "must not be blank"}
	}

	p.Intention = intention
	p.DurationSeconds = math.Floor(p.DurationSeconds)
	p.BackgroundTheme = oneOf(p.BackgroundTheme, themes, defaultTheme)
	p.SceneTime = oneOf(p.SceneTime, sceneTimes, defaultSceneTime)

	return json.Marshal(p)
}

type generationRequest struct {
	Intention       string  `json:"intention"`
	DurationSeconds float64 `json:"durationSeconds"`
	BackgroundTheme option  `json:"backgroundTheme"`
	SceneTime       option  `json:"sceneTime"`
}

func (s *schemas) parseGeneration(raw []byte) (generationRequest, error) {
	if err := validate(s.generation, raw); err != nil {
		return generationRequest{}, err
	}
	var req generationRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return generationRequest{}, &snapshots.ValidationError{Message: "request body must be valid JSON"}
	}
	intention, err := normalizeIntention(req.Intention)
	if err != nil {
		return generationRequest{}, err
	}
	req.Intention = intention
	req.DurationSeconds = math.Floor(req.DurationSeconds)
	req.BackgroundTheme = oneOf(req.BackgroundTheme, themes, defaultTheme)
	req.SceneTime = oneOf(req.SceneTime, sceneTimes, defaultSceneTime)
	return req, nil
}

func (s *schemas) parseThumbnail(raw []byte) (string, error) {
	if err := validate(s.thumbnail, raw); err != nil {
		return "", err
	}
	var body struct {
		ThumbnailDataURL string `json:"thumbnailDataUrl"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return "", &snapshots.ValidationError{Message: "request body must be valid JSON"}
	}
	return body.ThumbnailDataURL, nil
}

func normalizeIntention(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", &snapshots.ValidationError{Field: "intention", Message: "must not be blank"}
	}
	if len([]rune(s)) > 1200 {
		return "", &snapshots.ValidationError{Field: "intention", Message: "must be at most 1200 characters"}
	}
	return s, nil
}

// unwrapSnapshot accepts either a bare snapshot or {"snapshot": {...}}.
func unwrapSnapshot(raw []byte) []byte {
	var wrapper map[string]json.RawMessage
	if err := json.Unmarshal(raw, &wrapper); err != nil {
		return raw
	}
	inner, ok := wrapper["snapshot"]
	if !ok {
		return raw
	}
	if _, bare := wrapper["sceneCode"]; bare {
		return raw
	}
	return inner
}

var idempotencyKeyPattern = regexp.MustCompile(`^[A-Za-z0-9:_-]{8,200}$`)

// errInvalidIdempotencyKey is reported with its own error code.
var errInvalidIdempotencyKey = errors.New("idempotency key must be 8-200 characters of [A-Za-z0-9:_-]")
