package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractTemplateArguments(t *testing.T) {
	templates := []PromptTemplate{
		User("Review this {{language}} code: {{code}}"),
		Assistant("Focusing on {{language}} best practices."),
	}

	args := extractTemplateArguments(templates)
	require.Len(t, args, 2)

	// Deduplicated and sorted for a stable definition.
	assert.Equal(t, "code", args[0].Name)
	assert.Equal(t, "language", args[1].Name)
	assert.True(t, args[0].Required)
	assert.True(t, args[1].Required)
}

func TestTemplateRendering(t *testing.T) {
	h := &templatePromptHandler{
		name:      "review",
		templates: []PromptTemplate{User("Review {{file}} carefully"), Assistant("Reviewing {{file}} now.")},
		arguments: extractTemplateArguments([]PromptTemplate{User("{{file}}")}),
	}

	messages, err := h.Messages(map[string]string{"file": "main.go"})
	require.NoError(t, err)
	require.Len(t, messages, 2)

	assert.Equal(t, "user", messages[0].Role)
	assert.Equal(t, "Review main.go carefully", messages[0].Content.Text)
	assert.Equal(t, "assistant", messages[1].Role)
	assert.Equal(t, "Reviewing main.go now.", messages[1].Content.Text)
}

func TestTemplateRenderingWhitespaceVariants(t *testing.T) {
	h := &templatePromptHandler{
		templates: []PromptTemplate{User("{{ name }} and {{name}}")},
		arguments: extractTemplateArguments([]PromptTemplate{User("{{ name }}")}),
	}

	messages, err := h.Messages(map[string]string{"name": "Go"})
	require.NoError(t, err)
	assert.Equal(t, "Go and Go", messages[0].Content.Text)
}

func TestTemplateMissingArgument(t *testing.T) {
	templates := []PromptTemplate{User("Hello {{name}}, welcome to {{place}}")}
	h := &templatePromptHandler{
		templates: templates,
		arguments: extractTemplateArguments(templates),
	}

	_, err := h.Messages(map[string]string{"name": "Ada"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "place")
}

func TestPromptDefinition(t *testing.T) {
	s := NewServer("p", WithLogger(discardLogger())).
		Prompt("greet", "Greets people", User("Hi {{who}}")).
		GetServer()

	handlers, err := s.static.LoadPrompts()
	require.NoError(t, err)
	require.Len(t, handlers, 1)

	def := handlers[0].Definition()
	assert.Equal(t, "greet", def.Name)
	assert.Equal(t, "Greets people", def.Description)
	require.Len(t, def.Arguments, 1)
	assert.Equal(t, "who", def.Arguments[0].Name)
}

func TestPromptRejectsInvalidRole(t *testing.T) {
	s := NewServer("p", WithLogger(discardLogger())).
		Prompt("bad", "Invalid role", PromptTemplate{Role: "system", Content: "x"}).
		GetServer()

	has, err := s.static.HasPrompts()
	require.NoError(t, err)
	assert.False(t, has, "invalid prompt must not be registered")
}

func TestPromptRequiresTemplates(t *testing.T) {
	s := NewServer("p", WithLogger(discardLogger())).
		Prompt("empty", "No templates").
		GetServer()

	has, err := s.static.HasPrompts()
	require.NoError(t, err)
	assert.False(t, has)
}
