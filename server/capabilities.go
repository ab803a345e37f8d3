package server

import "fmt"

// Capabilities is the set of capability flags negotiated for a session.
// It is computed once by detectCapabilities before the handshake and held
// immutable for the session's lifetime; the initialize response embeds it
// verbatim.
type Capabilities struct {
	Tools     bool
	Prompts   bool
	Resources bool
}

// wire returns the protocol shape of the capabilities object for the
// initialize response. Only present capabilities are declared.
func (c Capabilities) wire() map[string]interface{} {
	caps := map[string]interface{}{}
	if c.Tools {
		caps["tools"] = map[string]interface{}{}
	}
	if c.Prompts {
		caps["prompts"] = map[string]interface{}{}
	}
	if c.Resources {
		caps["resources"] = map[string]interface{}{
			"subscribe": true,
		}
	}
	return caps
}

// detectCapabilities probes the configured loaders and computes the
// session's capability flags. Tools are always advertised; prompts and
// resources only when some loader reports content. Probe failures propagate
// and abort startup, since the handshake response depends on the result.
func (s *serverImpl) detectCapabilities() (Capabilities, error) {
	caps := Capabilities{Tools: true}

	for _, loader := range s.promptLoaders {
		has, err := loader.HasPrompts()
		if err != nil {
			return Capabilities{}, fmt.Errorf("probing prompts: %w", err)
		}
		if has {
			caps.Prompts = true
			break
		}
	}

	for _, loader := range s.resourceLoaders {
		has, err := loader.HasResources()
		if err != nil {
			return Capabilities{}, fmt.Errorf("probing resources: %w", err)
		}
		if has {
			caps.Resources = true
			break
		}
	}

	return caps, nil
}
