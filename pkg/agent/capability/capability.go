// Package capability builds typed tool definitions. The parameters
// schema is reflected from the Go argument struct so handlers never
// parse raw maps themselves.
package capability

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"

	"github.com/HaoZhang615/Realtime-Synthetic-Call-Center-Agents-sub000/pkg/agent"
)

// New builds a context-aware tool whose arguments are decoded into
// Args before the function runs. Use jsonschema tags on Args fields to
// mark required parameters.
func New[Args any](name, description string, fn func(ctx context.Context, args Args) (any, error)) agent.ToolDefinition {
	return agent.ToolDefinition{
		Name:        name,
		Description: description,
		Parameters:  schemaFor[Args](),
		Handler: agent.AsyncHandler(func(ctx context.Context, params map[string]any) (any, error) {
			args, err := decode[Args](params)
			if err != nil {
				return nil, fmt.Errorf("invalid arguments for %s: %w", name, err)
			}
			return fn(ctx, args)
		}),
	}
}

// NewSync builds an inline tool for handlers that never block.
func NewSync[Args any](name, description string, fn func(args Args) (any, error)) agent.ToolDefinition {
	return agent.ToolDefinition{
		Name:        name,
		Description: description,
		Parameters:  schemaFor[Args](),
		Handler: agent.SyncHandler(func(params map[string]any) (any, error) {
			args, err := decode[Args](params)
			if err != nil {
				return nil, fmt.Errorf("invalid arguments for %s: %w", name, err)
			}
			return fn(args)
		}),
	}
}

// schemaFor reflects Args into a plain JSON Schema map.
func schemaFor[Args any]() map[string]any {
	reflector := jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		ExpandedStruct:             true,
		DoNotReference:             true,
	}
	var v Args
	schema := reflector.Reflect(v)

	data, err := json.Marshal(schema)
	if err != nil {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}
	delete(out, "$schema")
	delete(out, "$id")
	if _, ok := out["properties"]; !ok {
		out["properties"] = map[string]any{}
	}
	return out
}

// decode maps loosely typed tool arguments onto the Args struct via a
// JSON round trip.
func decode[Args any](params map[string]any) (Args, error) {
	var args Args
	if params == nil {
		params = map[string]any{}
	}
	data, err := json.Marshal(params)
	if err != nil {
		return args, err
	}
	if err := json.Unmarshal(data, &args); err != nil {
		return args, err
	}
	return args, nil
}
