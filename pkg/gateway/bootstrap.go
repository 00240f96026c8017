package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/HaoZhang615/Realtime-Synthetic-Call-Center-Agents-sub000/pkg/agent"
	"github.com/HaoZhang615/Realtime-Synthetic-Call-Center-Agents-sub000/pkg/config"
	"github.com/HaoZhang615/Realtime-Synthetic-Call-Center-Agents-sub000/pkg/tools/customerdata"
	"github.com/HaoZhang615/Realtime-Synthetic-Call-Center-Agents-sub000/pkg/tools/mcptoolset"
)

// RegisterBuiltins seeds the registry with the concierge root and the
// specialist agents. The database agent starts unbound; subject
// initialization rebinds it to the caller.
func RegisterBuiltins(registry *agent.Registry, store customerdata.Store) error {
	if err := registry.RegisterRoot(customerdata.Concierge()); err != nil {
		return fmt.Errorf("register concierge: %w", err)
	}
	if store == nil {
		return nil
	}
	if err := registry.Register(customerdata.DatabaseAgent(store, "")); err != nil {
		return fmt.Errorf("register database agent: %w", err)
	}
	if err := registry.Register(customerdata.ProductAgent(store)); err != nil {
		return fmt.Errorf("register product agent: %w", err)
	}
	return nil
}

// Catalog resolves the capability names that agents-file declarations
// reference.
type Catalog struct {
	mu    sync.RWMutex
	tools map[string]agent.ToolDefinition
	order []string
}

// NewCatalog returns an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{tools: make(map[string]agent.ToolDefinition)}
}

// Add registers a capability under its tool name. Re-adding a name
// replaces the previous capability.
func (c *Catalog) Add(tool agent.ToolDefinition) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.tools[tool.Name]; !exists {
		c.order = append(c.order, tool.Name)
	}
	c.tools[tool.Name] = tool
}

// Resolve maps capability names to their definitions. An unknown name
// fails the whole resolution.
func (c *Catalog) Resolve(names []string) ([]agent.ToolDefinition, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	tools := make([]agent.ToolDefinition, 0, len(names))
	for _, name := range names {
		tool, ok := c.tools[name]
		if !ok {
			return nil, fmt.Errorf("unknown capability %q (have: %v)", name, c.order)
		}
		tools = append(tools, tool)
	}
	return tools, nil
}

// Names lists the registered capability names in registration order.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.order...)
}

// BuildCatalog assembles the capability catalog from the built-in
// subject-free tools and, when configured, the MCP toolset. MCP
// failures degrade to a warning so a dead tool server cannot keep the
// gateway from starting.
func BuildCatalog(ctx context.Context, store customerdata.Store, mcp *mcptoolset.Toolset) *Catalog {
	catalog := NewCatalog()
	if store != nil {
		for _, tool := range customerdata.CatalogTools(store) {
			catalog.Add(tool)
		}
	}
	if mcp != nil {
		tools, err := mcp.Tools(ctx)
		if err != nil {
			slog.Warn("MCP toolset unavailable, its capabilities are not in the catalog", "error", err)
		} else {
			for _, tool := range tools {
				catalog.Add(tool)
			}
		}
	}
	return catalog
}

// ApplyAgentsFile registers every agent the file declares, resolving
// tool names against the catalog first so a bad declaration leaves
// the registry untouched. Returns the declared agent ids.
func ApplyAgentsFile(registry *agent.Registry, catalog *Catalog, file *config.AgentsFile) ([]string, error) {
	type declared struct {
		def  agent.Definition
		root bool
	}

	defs := make([]declared, 0, len(file.Agents))
	for _, spec := range file.Agents {
		tools, err := catalog.Resolve(spec.Tools)
		if err != nil {
			return nil, fmt.Errorf("agent %s: %w", spec.ID, err)
		}
		defs = append(defs, declared{
			def: agent.Definition{
				ID:            spec.ID,
				Description:   spec.Description,
				SystemMessage: spec.SystemMessage,
				Tools:         tools,
			},
			root: spec.Root,
		})
	}

	ids := make([]string, 0, len(defs))
	for _, d := range defs {
		var err error
		if d.root {
			err = registry.RegisterRoot(d.def)
		} else {
			err = registry.Register(d.def)
		}
		if err != nil {
			return ids, fmt.Errorf("agent %s: %w", d.def.ID, err)
		}
		ids = append(ids, d.def.ID)
	}
	return ids, nil
}

// WatchAgentsFile re-applies the agents file after every change.
// Reload failures keep the previous registration and are logged.
func WatchAgentsFile(ctx context.Context, registry *agent.Registry, catalog *Catalog, path string) (*config.Watcher, error) {
	watcher, err := config.NewWatcher(path)
	if err != nil {
		return nil, err
	}

	changes, err := watcher.Watch(ctx)
	if err != nil {
		return nil, err
	}

	go func() {
		for range changes {
			file, err := config.LoadAgentsFile(watcher.Path())
			if err != nil {
				slog.Error("Agents file reload failed", "path", watcher.Path(), "error", err)
				continue
			}
			ids, err := ApplyAgentsFile(registry, catalog, file)
			if err != nil {
				slog.Error("Agents file re-registration failed", "path", watcher.Path(), "error", err)
				continue
			}
			slog.Info("Agents file reloaded", "agents", ids)
		}
	}()

	return watcher, nil
}
