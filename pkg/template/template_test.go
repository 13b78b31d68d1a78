package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngine_RegisterAndLookup(t *testing.T) {
	e := NewEngine()

	err := e.Register(Template{
		ID:      "deployment",
		Version: "v1",
		Body:    "name: {{.Name}}\nreplicas: {{.Replicas}}",
	})
	require.NoError(t, err)

	got, err := e.Lookup("deployment")
	require.NoError(t, err)
	assert.Equal(t, "deployment", got.ID)
	assert.Equal(t, "v1", got.Version)
}

func TestEngine_Lookup_Unknown(t *testing.T) {
	e := NewEngine()
	_, err := e.Lookup("missing")
	assert.Error(t, err)
}

func TestEngine_Register_ParseError(t *testing.T) {
	e := NewEngine()
	err := e.Register(Template{ID: "broken", Body: "{{ .Unterminated"})
	assert.Error(t, err)
}

func TestEngine_Register_ReplacesPriorVersion(t *testing.T) {
	e := NewEngine()
	require.NoError(t, e.Register(Template{ID: "t", Version: "v1", Body: "v1 body"}))
	require.NoError(t, e.Register(Template{ID: "t", Version: "v2", Body: "v2 body"}))

	got, err := e.Lookup("t")
	require.NoError(t, err)
	assert.Equal(t, "v2", got.Version)
}

func TestTemplate_Render(t *testing.T) {
	e := NewEngine()
	require.NoError(t, e.Register(Template{
		ID:   "greeting",
		Body: "hello {{.Name}}",
	}))

	tmpl, err := e.Lookup("greeting")
	require.NoError(t, err)

	out, err := tmpl.Render(map[string]any{"Name": "world"})
	require.NoError(t, err)
	assert.Equal(t, "hello world", out)
}

func TestTemplate_Render_MissingKeyErrors(t *testing.T) {
	e := NewEngine()
	require.NoError(t, e.Register(Template{
		ID:   "strict",
		Body: "hello {{.Name}}",
	}))

	tmpl, err := e.Lookup("strict")
	require.NoError(t, err)

	_, err = tmpl.Render(map[string]any{})
	assert.Error(t, err)
}

func TestTemplate_ValidateParams_NoSchemaAcceptsAnything(t *testing.T) {
	e := NewEngine()
	require.NoError(t, e.Register(Template{ID: "open", Body: "{{.Anything}}"}))

	tmpl, err := e.Lookup("open")
	require.NoError(t, err)

	errs := tmpl.ValidateParams(map[string]any{"whatever": 1})
	assert.Nil(t, errs)
}

func TestTemplate_ValidateParams_WithSchema(t *testing.T) {
	e := NewEngine()
	schema := []byte(`{
		"type": "object",
		"required": ["replicas"],
		"properties": {
			"replicas": {"type": "integer", "minimum": 1}
		}
	}`)
	require.NoError(t, e.Register(Template{
		ID:         "scaled",
		Body:       "replicas: {{.replicas}}",
		SchemaJSON: schema,
	}))

	tmpl, err := e.Lookup("scaled")
	require.NoError(t, err)

	assert.Empty(t, tmpl.ValidateParams(map[string]any{"replicas": float64(3)}))
	assert.NotEmpty(t, tmpl.ValidateParams(map[string]any{}))
}

func TestEngine_Register_InvalidSchema(t *testing.T) {
	e := NewEngine()
	err := e.Register(Template{
		ID:         "badschema",
		Body:       "x",
		SchemaJSON: []byte(`not valid json`),
	})
	assert.Error(t, err)
}
