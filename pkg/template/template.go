// Package template implements A5: a pure-function render/validate contract
// for deployment-object templates, backed by text/template for rendering
// and google/jsonschema-go for parameter validation. It deliberately does
// not persist or fetch templates itself — a Registry is populated by the
// caller (app wiring) and consulted read-only by deploymentlog.
package template

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"
	"text/template"

	"github.com/google/jsonschema-go/jsonschema"
)

// Template is one named, versioned rendering unit: a text/template body
// plus the JSON Schema its instantiation parameters must satisfy.
type Template struct {
	ID         string
	Version    string
	Body       string
	SchemaJSON []byte

	parsed   *template.Template
	resolved *jsonschema.Resolved
}

// compile parses the template body and resolves its parameter schema once,
// at registration time, so render/validate never pay parse cost per call.
func compile(t Template) (Template, error) {
	parsed, err := template.New(t.ID).Option("missingkey=error").Parse(t.Body)
	if err != nil {
		return Template{}, fmt.Errorf("parsing template %q: %w", t.ID, err)
	}
	t.parsed = parsed

	if len(t.SchemaJSON) > 0 {
		var schema jsonschema.Schema
		if err := json.Unmarshal(t.SchemaJSON, &schema); err != nil {
			return Template{}, fmt.Errorf("parsing schema for template %q: %w", t.ID, err)
		}
		resolved, err := schema.Resolve(nil)
		if err != nil {
			return Template{}, fmt.Errorf("resolving schema for template %q: %w", t.ID, err)
		}
		t.resolved = resolved
	}

	return t, nil
}

// ValidateParams validates params against the template's JSON Schema,
// returning the validation error as a single message (nil when params
// pass). A template without a schema
// accepts any params.
func (t Template) ValidateParams(params map[string]any) []string {
	if t.resolved == nil {
		return nil
	}
	if err := t.resolved.Validate(params); err != nil {
		return []string{err.Error()}
	}
	return nil
}

// Render executes the template body against params.
func (t Template) Render(params map[string]any) (string, error) {
	var buf bytes.Buffer
	if err := t.parsed.Execute(&buf, params); err != nil {
		return "", fmt.Errorf("executing template %q: %w", t.ID, err)
	}
	return buf.String(), nil
}

// Engine is the read-only registry of compiled templates consulted by
// append_from_template.
type Engine struct {
	mu    sync.RWMutex
	byID  map[string]Template
}

// NewEngine creates an empty template Engine.
func NewEngine() *Engine {
	return &Engine{byID: make(map[string]Template)}
}

// Register compiles and registers a template, replacing any prior version
// under the same id.
func (e *Engine) Register(t Template) error {
	compiled, err := compile(t)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.byID[t.ID] = compiled
	return nil
}

// Lookup returns the registered template by id.
func (e *Engine) Lookup(id string) (Template, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	t, ok := e.byID[id]
	if !ok {
		return Template{}, fmt.Errorf("unknown template %q", id)
	}
	return t, nil
}
