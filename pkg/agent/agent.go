// Package agent holds the agent registry and the tool dispatcher that
// sit behind a realtime session. An agent is a named persona with its
// own instructions and tool set; exactly one agent is active per
// session, and the others are reachable through generated switch tools.
package agent

import (
	"context"
	"regexp"
	"strings"
)

// RootAlias is the reserved registry key that always resolves to the
// root agent, whatever its real id is.
const RootAlias = "root"

// switchNamePattern matches agent ids that participate in the switch
// protocol. A tool call whose name matches this pattern is treated as
// a request to hand the session over to the agent of that name.
var switchNamePattern = regexp.MustCompile(`(?i)assistant`)

// IsSwitchName reports whether name is reserved for agent switching.
func IsSwitchName(name string) bool {
	return switchNamePattern.MatchString(name)
}

// Definition describes a registered agent.
type Definition struct {
	// ID is the registry key and, for switchable agents, the name of
	// the switch tool peers expose for it.
	ID string

	// Description is surfaced as the description of the generated
	// switch tool so the model knows when to hand over.
	Description string

	// SystemMessage carries the agent instructions. Occurrences of
	// {language} are expanded at registration time.
	SystemMessage string

	// Tools are the agent's own callable tools.
	Tools []ToolDefinition
}

// ToolDefinition is a single callable tool owned by an agent.
type ToolDefinition struct {
	Name        string
	Description string

	// Parameters is a JSON Schema object describing the arguments.
	// May be nil for tools that take no input.
	Parameters map[string]any

	Handler Handler
}

// Payload renders the tool in the flat shape the upstream realtime
// API expects inside session.tools.
func (t ToolDefinition) Payload() map[string]any {
	params := t.Parameters
	if params == nil {
		params = emptyParameters()
	}
	return map[string]any{
		"type":        "function",
		"name":        t.Name,
		"description": t.Description,
		"parameters":  params,
	}
}

func emptyParameters() map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": map[string]any{},
	}
}

// Handler is the execution strategy of a tool. Exactly three
// implementations exist: SyncHandler, AsyncHandler and AgentSwitch.
type Handler interface {
	isHandler()
}

// SyncHandler runs inline on the dispatch goroutine.
type SyncHandler func(params map[string]any) (any, error)

// AsyncHandler runs with a context and is awaited by the dispatcher.
type AsyncHandler func(ctx context.Context, params map[string]any) (any, error)

// AgentSwitch hands the session over to another registered agent
// instead of computing a result.
type AgentSwitch struct {
	TargetID string
}

func (SyncHandler) isHandler()  {}
func (AsyncHandler) isHandler() {}
func (AgentSwitch) isHandler()  {}

// expandLanguage substitutes the {language} placeholder in the system
// message.
func (d Definition) expandLanguage(language string) Definition {
	d.SystemMessage = strings.ReplaceAll(d.SystemMessage, "{language}", language)
	return d
}
