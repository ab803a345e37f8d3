package server

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectCapabilitiesToolsAlwaysPresent(t *testing.T) {
	s := NewServer("bare", WithLogger(discardLogger())).GetServer()

	caps, err := s.detectCapabilities()
	require.NoError(t, err)
	assert.True(t, caps.Tools)
	assert.False(t, caps.Prompts)
	assert.False(t, caps.Resources)
}

func TestDetectCapabilitiesFromRegistrations(t *testing.T) {
	s := NewServer("full", WithLogger(discardLogger())).
		Prompt("p", "A prompt", User("hi")).
		Resource("r://x", "A resource", func(ctx *Context, args map[string]interface{}) (interface{}, error) {
			return "x", nil
		}).
		GetServer()

	caps, err := s.detectCapabilities()
	require.NoError(t, err)
	assert.True(t, caps.Tools)
	assert.True(t, caps.Prompts)
	assert.True(t, caps.Resources)
}

func TestDetectCapabilitiesProbeFailureAborts(t *testing.T) {
	s := NewServer("broken",
		WithLogger(discardLogger()),
		WithPromptLoader(failingPromptLoader{}),
	).GetServer()

	_, err := s.detectCapabilities()
	assert.Error(t, err)
}

type failingPromptLoader struct{}

func (failingPromptLoader) LoadPrompts() ([]PromptHandler, error) {
	return nil, errors.New("probe failed")
}

func (failingPromptLoader) HasPrompts() (bool, error) {
	return false, errors.New("probe failed")
}

func TestCapabilitiesWireShape(t *testing.T) {
	wire := Capabilities{Tools: true, Resources: true}.wire()

	assert.Contains(t, wire, "tools")
	assert.NotContains(t, wire, "prompts")

	resources := wire["resources"].(map[string]interface{})
	assert.Equal(t, true, resources["subscribe"])
}
