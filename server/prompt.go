package server

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"time"

	"github.com/tidewater/gomcp/events"
	"github.com/tidewater/gomcp/mcp"
)

// PromptTemplate is a single message template within a prompt. Variables
// are written as {{name}} and substituted from the request arguments.
type PromptTemplate struct {
	Role    string
	Content string
}

// User builds a user-role message template.
func User(content string) PromptTemplate {
	return PromptTemplate{Role: "user", Content: content}
}

// Assistant builds an assistant-role message template.
func Assistant(content string) PromptTemplate {
	return PromptTemplate{Role: "assistant", Content: content}
}

var templateVarPattern = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_]+)\s*\}\}`)

// Prompt registers a prompt built from one or more message templates.
// The prompt's argument list is derived from the variables the templates
// reference; every referenced variable becomes a required argument.
func (s *serverImpl) Prompt(name, description string, templates ...PromptTemplate) Server {
	if len(templates) == 0 {
		s.logger.Error("invalid prompt", "prompt", name, "error", "at least one template is required")
		return s
	}
	for _, t := range templates {
		if t.Role != "user" && t.Role != "assistant" {
			s.logger.Error("invalid prompt", "prompt", name, "error",
				fmt.Sprintf("unsupported role %q, must be user or assistant", t.Role))
			return s
		}
	}

	s.static.addPrompt(&templatePromptHandler{
		name:        name,
		description: description,
		templates:   templates,
		arguments:   extractTemplateArguments(templates),
	})
	s.logger.Debug("registered prompt", "prompt", name)

	_ = events.Publish[events.PromptRegisteredEvent](s.events, events.TopicPromptRegistered, events.PromptRegisteredEvent{
		PromptName:   name,
		Description:  description,
		RegisteredAt: time.Now(),
	})
	return s
}

// extractTemplateArguments collects the distinct {{variable}} names used
// across the templates, sorted for a stable definition.
func extractTemplateArguments(templates []PromptTemplate) []mcp.PromptArgument {
	seen := map[string]bool{}
	var names []string
	for _, t := range templates {
		for _, match := range templateVarPattern.FindAllStringSubmatch(t.Content, -1) {
			if !seen[match[1]] {
				seen[match[1]] = true
				names = append(names, match[1])
			}
		}
	}
	sort.Strings(names)

	args := make([]mcp.PromptArgument, 0, len(names))
	for _, n := range names {
		args = append(args, mcp.PromptArgument{Name: n, Required: true})
	}
	return args
}

// templatePromptHandler implements PromptHandler for template-defined
// prompts.
type templatePromptHandler struct {
	name        string
	description string
	templates   []PromptTemplate
	arguments   []mcp.PromptArgument
}

func (h *templatePromptHandler) Name() string { return h.name }

func (h *templatePromptHandler) Definition() mcp.Prompt {
	return mcp.Prompt{
		Name:        h.name,
		Description: h.description,
		Arguments:   h.arguments,
	}
}

// Messages renders the templates with the given arguments. A referenced
// variable with no supplied value is an error.
func (h *templatePromptHandler) Messages(args map[string]string) ([]mcp.PromptMessage, error) {
	var missing []string
	for _, arg := range h.arguments {
		if _, ok := args[arg.Name]; !ok {
			missing = append(missing, arg.Name)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required arguments: %v", missing)
	}

	messages := make([]mcp.PromptMessage, 0, len(h.templates))
	for _, t := range h.templates {
		rendered := templateVarPattern.ReplaceAllStringFunc(t.Content, func(m string) string {
			name := templateVarPattern.FindStringSubmatch(m)[1]
			return args[name]
		})
		messages = append(messages, mcp.PromptMessage{
			Role:    t.Role,
			Content: mcp.Content{Type: "text", Text: rendered},
		})
	}
	return messages, nil
}

// promptListResult is the typed result of prompts/list.
type promptListResult struct {
	Prompts []mcp.Prompt `json:"prompts"`
}

func (s *serverImpl) processPromptList(_ *Context) (interface{}, error) {
	return promptListResult{Prompts: s.registry.listPrompts()}, nil
}

// promptGetParams are the typed parameters of prompts/get.
type promptGetParams struct {
	Name      string            `json:"name"`
	Arguments map[string]string `json:"arguments"`
}

// promptGetResult is the typed result of prompts/get.
type promptGetResult struct {
	Description string              `json:"description,omitempty"`
	Messages    []mcp.PromptMessage `json:"messages"`
}

func (s *serverImpl) processPromptGet(ctx *Context) (interface{}, error) {
	var params promptGetParams
	if err := json.Unmarshal(ctx.Request.Params, &params); err != nil {
		return nil, newProtocolError(mcp.CodeInvalidParams, "Invalid params", err.Error())
	}
	if params.Name == "" {
		return nil, newProtocolError(mcp.CodeInvalidParams, "Invalid params", "missing prompt name")
	}

	handler, ok := s.registry.lookupPrompt(params.Name)
	if !ok {
		return nil, &handlerError{capability: "prompt", key: params.Name, err: fmt.Errorf("prompt not found")}
	}

	if params.Arguments == nil {
		params.Arguments = map[string]string{}
	}
	messages, err := handler.Messages(params.Arguments)
	if err != nil {
		return nil, &handlerError{capability: "prompt", key: params.Name, err: err}
	}

	_ = events.Publish[events.PromptExecutedEvent](s.events, events.TopicPromptExecuted, events.PromptExecutedEvent{
		PromptName: params.Name,
		ExecutedAt: time.Now(),
	})

	return promptGetResult{
		Description: handler.Definition().Description,
		Messages:    messages,
	}, nil
}
