package server

import (
	"fmt"
	"log/slog"

	"github.com/localrivet/wilduri"

	"github.com/tidewater/gomcp/mcp"
)

// registry holds the three independent capability mappings for one session.
// It is populated once during startup and read-only afterwards, so lookups
// need no locking. Registration order is preserved for listing responses.
type registry struct {
	tools     map[string]ToolHandler
	toolOrder []string

	prompts     map[string]PromptHandler
	promptOrder []string

	resources     map[string]*resourceEntry
	resourceOrder []string
}

// resourceEntry pairs a resource handler with its parsed URI template.
type resourceEntry struct {
	handler  ResourceHandler
	template *wilduri.Template
}

func newRegistry() *registry {
	return &registry{
		tools:     make(map[string]ToolHandler),
		prompts:   make(map[string]PromptHandler),
		resources: make(map[string]*resourceEntry),
	}
}

// populate fills the registry from the supplied loaders. Duplicate keys are
// overwritten, last write wins; the overwrite is logged since a loader
// yielding duplicates usually indicates a configuration mistake.
func (r *registry) populate(logger *slog.Logger, toolLoaders []ToolLoader, promptLoaders []PromptLoader, resourceLoaders []ResourceLoader) error {
	for _, loader := range toolLoaders {
		handlers, err := loader.LoadTools()
		if err != nil {
			return fmt.Errorf("loading tools: %w", err)
		}
		for _, h := range handlers {
			r.registerTool(logger, h)
		}
	}

	for _, loader := range promptLoaders {
		handlers, err := loader.LoadPrompts()
		if err != nil {
			return fmt.Errorf("loading prompts: %w", err)
		}
		for _, h := range handlers {
			r.registerPrompt(logger, h)
		}
	}

	for _, loader := range resourceLoaders {
		handlers, err := loader.LoadResources()
		if err != nil {
			return fmt.Errorf("loading resources: %w", err)
		}
		for _, h := range handlers {
			if err := r.registerResource(logger, h); err != nil {
				return err
			}
		}
	}

	logger.Info("registry populated",
		"tools", len(r.tools),
		"prompts", len(r.prompts),
		"resources", len(r.resources))
	return nil
}

func (r *registry) registerTool(logger *slog.Logger, h ToolHandler) {
	name := h.Name()
	if _, exists := r.tools[name]; exists {
		logger.Warn("duplicate tool registration, last write wins", "name", name)
	} else {
		r.toolOrder = append(r.toolOrder, name)
	}
	r.tools[name] = h
}

func (r *registry) registerPrompt(logger *slog.Logger, h PromptHandler) {
	name := h.Name()
	if _, exists := r.prompts[name]; exists {
		logger.Warn("duplicate prompt registration, last write wins", "name", name)
	} else {
		r.promptOrder = append(r.promptOrder, name)
	}
	r.prompts[name] = h
}

func (r *registry) registerResource(logger *slog.Logger, h ResourceHandler) error {
	uri := h.URI()
	template, err := wilduri.New(uri)
	if err != nil {
		return fmt.Errorf("invalid resource uri template %q: %w", uri, err)
	}
	if _, exists := r.resources[uri]; exists {
		logger.Warn("duplicate resource registration, last write wins", "uri", uri)
	} else {
		r.resourceOrder = append(r.resourceOrder, uri)
	}
	r.resources[uri] = &resourceEntry{handler: h, template: template}
	return nil
}

// lookupTool returns the handler registered under name.
func (r *registry) lookupTool(name string) (ToolHandler, bool) {
	h, ok := r.tools[name]
	return h, ok
}

// lookupPrompt returns the handler registered under name.
func (r *registry) lookupPrompt(name string) (PromptHandler, bool) {
	h, ok := r.prompts[name]
	return h, ok
}

// lookupResource resolves a URI against the resource registry: exact matches
// first, then URI templates in registration order. Matched template
// parameters are returned alongside the handler.
func (r *registry) lookupResource(uri string) (ResourceHandler, map[string]string, bool) {
	if entry, ok := r.resources[uri]; ok {
		return entry.handler, map[string]string{}, true
	}

	for _, key := range r.resourceOrder {
		entry := r.resources[key]
		matches, matched := entry.template.Match(uri)
		if !matched || matches == nil {
			continue
		}
		params := make(map[string]string, len(matches))
		for k, v := range matches {
			params[k] = fmt.Sprintf("%v", v)
		}
		return entry.handler, params, true
	}
	return nil, nil, false
}

// toolNames returns the registered tool names in registration order.
func (r *registry) toolNames() []string {
	return append([]string(nil), r.toolOrder...)
}

// listTools returns tool definitions in registration order.
func (r *registry) listTools() []mcp.Tool {
	out := make([]mcp.Tool, 0, len(r.toolOrder))
	for _, name := range r.toolOrder {
		out = append(out, r.tools[name].Definition())
	}
	return out
}

// listPrompts returns prompt definitions in registration order.
func (r *registry) listPrompts() []mcp.Prompt {
	out := make([]mcp.Prompt, 0, len(r.promptOrder))
	for _, name := range r.promptOrder {
		out = append(out, r.prompts[name].Definition())
	}
	return out
}

// listResources returns resource definitions in registration order.
func (r *registry) listResources() []mcp.Resource {
	out := make([]mcp.Resource, 0, len(r.resourceOrder))
	for _, uri := range r.resourceOrder {
		out = append(out, r.resources[uri].handler.Definition())
	}
	return out
}
