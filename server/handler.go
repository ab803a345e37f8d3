package server

import "github.com/tidewater/gomcp/mcp"

// ToolHandler is the implementation backing one registered tool.
type ToolHandler interface {
	// Name returns the tool's unique identifier.
	Name() string

	// Definition returns the tool descriptor sent in tools/list responses.
	Definition() mcp.Tool

	// Call invokes the tool with the request's arguments. A returned error
	// is wrapped into an error response; it never crashes the router.
	Call(ctx *Context, args map[string]interface{}) (interface{}, error)
}

// PromptHandler is the implementation backing one registered prompt.
type PromptHandler interface {
	// Name returns the prompt's unique identifier.
	Name() string

	// Definition returns the prompt descriptor sent in prompts/list responses.
	Definition() mcp.Prompt

	// Messages renders the prompt with the supplied argument values.
	Messages(args map[string]string) ([]mcp.PromptMessage, error)
}

// ResourceHandler is the implementation backing one registered resource.
// The URI may be a template containing parameters in {braces}; matched
// parameter values are available from the Context passed to Read.
type ResourceHandler interface {
	// URI returns the resource's URI or URI template.
	URI() string

	// Definition returns the resource descriptor sent in resources/list
	// responses.
	Definition() mcp.Resource

	// Read produces the resource's current contents.
	Read(ctx *Context) ([]mcp.ResourceContents, error)
}

// ResourceSubscriber is implemented by resource handlers that support change
// subscriptions. Subscription support is per-handler: a resources/subscribe
// request for a handler without this interface fails with a descriptive
// error.
type ResourceSubscriber interface {
	Subscribe() error
	Unsubscribe() error
}

// ToolLoader supplies tool handlers during startup. Failures abort Run.
type ToolLoader interface {
	LoadTools() ([]ToolHandler, error)
}

// PromptLoader supplies prompt handlers during startup, plus the presence
// probe consulted by capability detection before the registry is populated.
type PromptLoader interface {
	LoadPrompts() ([]PromptHandler, error)
	HasPrompts() (bool, error)
}

// ResourceLoader supplies resource handlers during startup, plus the
// presence probe consulted by capability detection.
type ResourceLoader interface {
	LoadResources() ([]ResourceHandler, error)
	HasResources() (bool, error)
}
