package bridge

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/HaoZhang615/Realtime-Synthetic-Call-Center-Agents-sub000/pkg/agent"
	"github.com/HaoZhang615/Realtime-Synthetic-Call-Center-Agents-sub000/pkg/observability"
)

// handleFunctionCall runs one intercepted tool call end to end: parse
// the call, dispatch it, push the engineered frames upstream and nudge
// the model with response.create. The original event is still
// forwarded to the client by the pump afterwards.
func (b *Bridge) handleFunctionCall(ctx context.Context, frame map[string]any) error {
	callID, _ := frame["call_id"].(string)
	name, _ := frame["name"].(string)

	params := parseArguments(frame["arguments"])

	if name == "" {
		slog.Warn("Function call without a tool name", "session_id", b.sess.ID, "call_id", callID)
		if err := b.sendFunctionOutput(callID, map[string]any{"error": "Tool name missing"}); err != nil {
			return err
		}
		return b.sendResponseCreate()
	}

	start := time.Now()
	envelope := b.dispatcher.Invoke(ctx, name, params, callID)
	elapsed := time.Since(start)

	switch env := envelope.(type) {
	case *agent.SessionUpdate:
		b.sess.SetActiveAgent(env.TargetAgentID)
		observability.GetGlobalMetrics().RecordAgentSwitch(ctx, env.TargetAgentID)
		observability.GetGlobalMetrics().RecordToolCall(ctx, name, "switch", elapsed)

		composed := b.layerComposed(env)
		if err := b.sess.Upstream.WriteJSON(map[string]any{
			"type":    "session.update",
			"session": composed,
		}); err != nil {
			return err
		}

	case *agent.FunctionOutput:
		b.sess.RecordToolCall(name)
		observability.GetGlobalMetrics().RecordToolCall(ctx, name, outcomeOf(env), elapsed)

		if err := b.sendFunctionOutput(env.CallID, env.Body); err != nil {
			return err
		}
	}

	return b.sendResponseCreate()
}

// parseArguments decodes the upstream arguments string. Empty strings
// and unparseable payloads both become an empty parameter map.
func parseArguments(raw any) map[string]any {
	text, _ := raw.(string)
	if text == "" {
		return map[string]any{}
	}
	var params map[string]any
	if err := json.Unmarshal([]byte(text), &params); err != nil {
		slog.Warn("Unparseable tool arguments, using empty set", "error", err)
		return map[string]any{}
	}
	if params == nil {
		return map[string]any{}
	}
	return params
}

// sendFunctionOutput delivers a tool result to the model as a
// function_call_output conversation item. Non-string bodies are JSON
// encoded first.
func (b *Bridge) sendFunctionOutput(callID string, body any) error {
	output, ok := body.(string)
	if !ok {
		encoded, err := json.Marshal(body)
		if err != nil {
			slog.Warn("Tool output not JSON encodable, sending debug format", "call_id", callID, "error", err)
			output = "output unavailable"
		} else {
			output = string(encoded)
		}
	}

	return b.sess.Upstream.WriteJSON(map[string]any{
		"type": "conversation.item.create",
		"item": map[string]any{
			"type":    "function_call_output",
			"call_id": callID,
			"output":  output,
		},
	})
}

func (b *Bridge) sendResponseCreate() error {
	return b.sess.Upstream.WriteJSON(map[string]any{"type": "response.create"})
}

func outcomeOf(output *agent.FunctionOutput) string {
	if _, failed := output.Body.(map[string]any); failed {
		return "error"
	}
	return "ok"
}
