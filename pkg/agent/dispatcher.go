package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// DefaultToolTimeout bounds a single tool invocation when the
// dispatcher is built without an explicit timeout.
const DefaultToolTimeout = 15 * time.Second

// Envelope is the outcome of a dispatch. Exactly two implementations
// exist: SessionUpdate and FunctionOutput.
type Envelope interface {
	isEnvelope()
}

// SessionUpdate instructs the bridge to reconfigure the upstream
// session for a different agent.
type SessionUpdate struct {
	// TargetAgentID is the real id of the agent taking over.
	TargetAgentID string

	Instructions  string
	Tools         []map[string]any
	TurnDetection map[string]any
}

// FunctionOutput carries a tool result, or a tool error, back to the
// model as a function_call_output item.
type FunctionOutput struct {
	CallID string

	// Body is the serialized result string for successful calls and a
	// {"error": ...} object for failures.
	Body any
}

func (*SessionUpdate) isEnvelope()  {}
func (*FunctionOutput) isEnvelope() {}

// Dispatcher resolves tool calls against a registry and executes
// them under a per-call timeout.
type Dispatcher struct {
	registry *Registry
	timeout  time.Duration
}

// NewDispatcher builds a dispatcher over registry. A non-positive
// timeout falls back to DefaultToolTimeout.
func NewDispatcher(registry *Registry, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultToolTimeout
	}
	return &Dispatcher{registry: registry, timeout: timeout}
}

// Timeout returns the per-call execution bound.
func (d *Dispatcher) Timeout() time.Duration {
	return d.timeout
}

// Invoke resolves toolName and produces the envelope for it. Switch
// names take precedence over concrete tools when the named agent is
// registered; a switch name without a registered target falls through
// to concrete lookup and ultimately to a not-available error, so a
// misfired handover never reconfigures the session.
func (d *Dispatcher) Invoke(ctx context.Context, toolName string, params map[string]any, callID string) Envelope {
	if IsSwitchName(toolName) {
		if target, err := d.registry.Get(toolName); err == nil {
			return d.switchTo(target, callID)
		}
	}

	tool, ownerID, ok := d.registry.Find(toolName)
	if !ok {
		slog.Warn("Tool call for unknown tool", "tool", toolName)
		return errorOutput(callID, fmt.Sprintf("Tool %s is not available", toolName))
	}

	if sw, isSwitch := tool.Handler.(AgentSwitch); isSwitch {
		target, err := d.registry.Get(sw.TargetID)
		if err != nil {
			slog.Warn("Switch tool names an unregistered agent", "tool", toolName, "target", sw.TargetID)
			return errorOutput(callID, fmt.Sprintf("Tool %s is not available", toolName))
		}
		return d.switchTo(target, callID)
	}

	slog.Debug("Executing tool", "tool", toolName, "agent", ownerID, "call_id", callID)
	return d.execute(ctx, tool, params, callID)
}

func (d *Dispatcher) switchTo(target *Definition, callID string) Envelope {
	tools, err := d.registry.ToolsFor(target.ID)
	if err != nil {
		return errorOutput(callID, fmt.Sprintf("Tool %s is not available", target.ID))
	}
	slog.Info("Switching active agent", "agent", target.ID)
	return &SessionUpdate{
		TargetAgentID: target.ID,
		Instructions:  target.SystemMessage,
		Tools:         tools,
		TurnDetection: map[string]any{"type": "server_vad"},
	}
}

type invokeResult struct {
	value any
	err   error
}

func (d *Dispatcher) execute(ctx context.Context, tool ToolDefinition, params map[string]any, callID string) Envelope {
	invokeCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	results := make(chan invokeResult, 1)
	go func() {
		switch h := tool.Handler.(type) {
		case SyncHandler:
			value, err := h(params)
			results <- invokeResult{value: value, err: err}
		case AsyncHandler:
			value, err := h(invokeCtx, params)
			results <- invokeResult{value: value, err: err}
		default:
			results <- invokeResult{err: fmt.Errorf("tool %s has no executable handler", tool.Name)}
		}
	}()

	select {
	case res := <-results:
		if res.err != nil {
			slog.Warn("Tool returned an error", "tool", tool.Name, "error", res.err)
			return errorOutput(callID, res.err.Error())
		}
		return &FunctionOutput{CallID: callID, Body: serializeResult(tool.Name, res.value)}
	case <-invokeCtx.Done():
		if errors.Is(invokeCtx.Err(), context.DeadlineExceeded) {
			slog.Warn("Tool timed out", "tool", tool.Name, "timeout", d.timeout)
			return errorOutput(callID, fmt.Sprintf("Tool %s timed out.", tool.Name))
		}
		return errorOutput(callID, fmt.Sprintf("Tool %s cancelled", tool.Name))
	}
}

// serializeResult turns a handler result into the string the model
// receives. Strings pass through untouched, everything else is JSON
// encoded with a debug-format fallback.
func serializeResult(toolName string, value any) string {
	if s, ok := value.(string); ok {
		return s
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		slog.Warn("Tool result not JSON encodable, using debug format", "tool", toolName, "error", err)
		return fmt.Sprintf("%v", value)
	}
	return string(encoded)
}

func errorOutput(callID, message string) *FunctionOutput {
	return &FunctionOutput{
		CallID: callID,
		Body:   map[string]any{"error": message},
	}
}
