package agent

import (
	"fmt"
	"log/slog"
	"sync"
)

// Registry is the threadsafe store of agent definitions for one
// gateway process. Registration order is preserved so that tool lists
// are stable across calls.
type Registry struct {
	mu       sync.RWMutex
	language string
	agents   map[string]*Definition
	order    []string
	rootID   string
}

// NewRegistry creates an empty registry. language is substituted for
// the {language} placeholder in system messages at registration time.
func NewRegistry(language string) *Registry {
	return &Registry{
		language: language,
		agents:   make(map[string]*Definition),
	}
}

// Register inserts or overwrites the definition under def.ID.
// Re-registering an existing id replaces it in place and keeps its
// position in the registration order.
func (r *Registry) Register(def Definition) error {
	if err := r.validate(def); err != nil {
		return err
	}
	if !IsSwitchName(def.ID) {
		slog.Warn("Agent id does not match the switch pattern, peers will not be able to hand over to it", "agent", def.ID)
	}

	expanded := def.expandLanguage(r.language)

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.agents[expanded.ID]; !exists {
		r.order = append(r.order, expanded.ID)
	}
	r.agents[expanded.ID] = &expanded
	return nil
}

// RegisterRoot registers def and binds the root alias to it. The
// alias follows the most recent RegisterRoot call.
func (r *Registry) RegisterRoot(def Definition) error {
	if err := r.Register(def); err != nil {
		return err
	}
	r.mu.Lock()
	r.rootID = def.ID
	r.mu.Unlock()
	return nil
}

func (r *Registry) validate(def Definition) error {
	if def.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidAgent)
	}
	if def.ID == RootAlias {
		return fmt.Errorf("%w: id %q is reserved, use RegisterRoot on the real agent", ErrDuplicateAgent, RootAlias)
	}
	seen := make(map[string]struct{}, len(def.Tools))
	for _, tool := range def.Tools {
		if tool.Name == "" {
			return fmt.Errorf("%w: agent %q has a tool with no name", ErrInvalidAgent, def.ID)
		}
		if _, dup := seen[tool.Name]; dup {
			return fmt.Errorf("%w: agent %q declares tool %q twice", ErrInvalidAgent, def.ID, tool.Name)
		}
		seen[tool.Name] = struct{}{}
		if tool.Name == def.ID {
			return fmt.Errorf("%w: agent %q owns a tool named after itself", ErrInvalidAgent, def.ID)
		}
		if _, isSwitch := tool.Handler.(AgentSwitch); IsSwitchName(tool.Name) && !isSwitch {
			return fmt.Errorf("%w: tool %q matches the switch pattern and must carry an AgentSwitch handler", ErrInvalidAgent, tool.Name)
		}
	}
	return nil
}

// Get resolves id, honoring the root alias.
func (r *Registry) Get(id string) (*Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.getLocked(id)
}

func (r *Registry) getLocked(id string) (*Definition, error) {
	if id == RootAlias {
		if r.rootID == "" {
			return nil, fmt.Errorf("%w: no root agent registered", ErrAgentNotFound)
		}
		id = r.rootID
	}
	def, ok := r.agents[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAgentNotFound, id)
	}
	return def, nil
}

// RootID returns the real id behind the root alias, or "" when no
// root agent has been registered.
func (r *Registry) RootID() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rootID
}

// ToolsFor builds the upstream tool list for the given agent: its own
// tools first, then one generated switch tool per other registered
// agent. The switch tools are computed on every call so late
// registrations show up without invalidation. The agent itself never
// appears in its own list, and an own tool shadows a peer of the same
// name.
func (r *Registry) ToolsFor(id string) ([]map[string]any, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	def, err := r.getLocked(id)
	if err != nil {
		return nil, err
	}

	tools := make([]map[string]any, 0, len(def.Tools)+len(r.order))
	seen := make(map[string]struct{}, len(def.Tools))
	for _, tool := range def.Tools {
		tools = append(tools, tool.Payload())
		seen[tool.Name] = struct{}{}
	}
	for _, peerID := range r.order {
		if peerID == def.ID {
			continue
		}
		if _, taken := seen[peerID]; taken {
			continue
		}
		peer := r.agents[peerID]
		tools = append(tools, switchToolFor(peer).Payload())
	}
	return tools, nil
}

func switchToolFor(peer *Definition) ToolDefinition {
	return ToolDefinition{
		Name:        peer.ID,
		Description: peer.Description,
		Parameters:  emptyParameters(),
		Handler:     AgentSwitch{TargetID: peer.ID},
	}
}

// Find locates a concrete tool by name across all agents, scanning
// agents in registration order. Generated switch tools are not
// concrete and are never returned here.
func (r *Registry) Find(name string) (ToolDefinition, string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, id := range r.order {
		for _, tool := range r.agents[id].Tools {
			if tool.Name == name {
				return tool, id, true
			}
		}
	}
	return ToolDefinition{}, "", false
}

// AllTools enumerates every concrete tool across all agents followed
// by the canonical switch tool of each agent.
func (r *Registry) AllTools() []ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []ToolDefinition
	for _, id := range r.order {
		out = append(out, r.agents[id].Tools...)
	}
	for _, id := range r.order {
		out = append(out, switchToolFor(r.agents[id]))
	}
	return out
}

// IDs returns the registered agent ids in registration order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Len reports the number of registered agents.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}
