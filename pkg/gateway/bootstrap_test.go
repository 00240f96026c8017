package gateway

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HaoZhang615/Realtime-Synthetic-Call-Center-Agents-sub000/pkg/agent"
	"github.com/HaoZhang615/Realtime-Synthetic-Call-Center-Agents-sub000/pkg/config"
	"github.com/HaoZhang615/Realtime-Synthetic-Call-Center-Agents-sub000/pkg/tools/customerdata"
)

func TestRegisterBuiltins_SeedsRootAndSpecialists(t *testing.T) {
	registry := agent.NewRegistry("English")
	require.NoError(t, RegisterBuiltins(registry, fakeStore{}))

	assert.Equal(t, customerdata.ConciergeID, registry.RootID())
	assert.Equal(t, 3, registry.Len())

	tools, err := registry.ToolsFor(customerdata.ConciergeID)
	require.NoError(t, err)

	var names []string
	for _, tool := range tools {
		names = append(names, tool["name"].(string))
	}
	assert.Contains(t, names, customerdata.DatabaseAgentID)
	assert.Contains(t, names, customerdata.ProductAgentID)
}

func TestRegisterBuiltins_NoStoreRegistersOnlyRoot(t *testing.T) {
	registry := agent.NewRegistry("English")
	require.NoError(t, RegisterBuiltins(registry, nil))
	assert.Equal(t, 1, registry.Len())
}

func TestCatalog_ResolveKnownNames(t *testing.T) {
	catalog := BuildCatalog(context.Background(), fakeStore{}, nil)
	assert.Equal(t, []string{"search_products"}, catalog.Names())

	tools, err := catalog.Resolve([]string{"search_products"})
	require.NoError(t, err)
	require.Len(t, tools, 1)
	assert.Equal(t, "search_products", tools[0].Name)
}

func TestCatalog_ResolveUnknownNameFails(t *testing.T) {
	catalog := BuildCatalog(context.Background(), fakeStore{}, nil)
	_, err := catalog.Resolve([]string{"frobnicate"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown capability "frobnicate"`)
}

const salesAgentYAML = `
agents:
  - id: Assistant_Sales_Agent
    description: Sales questions about the catalog
    system_message: You sell products. Respond in {language}.
    tools:
      - search_products
`

func TestApplyAgentsFile_RegistersDeclaredAgents(t *testing.T) {
	registry := agent.NewRegistry("English")
	require.NoError(t, RegisterBuiltins(registry, fakeStore{}))
	catalog := BuildCatalog(context.Background(), fakeStore{}, nil)

	file, err := config.ParseAgentsFile([]byte(salesAgentYAML))
	require.NoError(t, err)

	ids, err := ApplyAgentsFile(registry, catalog, file)
	require.NoError(t, err)
	assert.Equal(t, []string{"Assistant_Sales_Agent"}, ids)

	def, err := registry.Get("Assistant_Sales_Agent")
	require.NoError(t, err)
	assert.Equal(t, "You sell products. Respond in English.", def.SystemMessage)
	require.Len(t, def.Tools, 1)
	assert.Equal(t, "search_products", def.Tools[0].Name)
}

func TestApplyAgentsFile_UnknownToolLeavesRegistryUntouched(t *testing.T) {
	registry := agent.NewRegistry("English")
	require.NoError(t, RegisterBuiltins(registry, fakeStore{}))
	catalog := BuildCatalog(context.Background(), fakeStore{}, nil)

	file, err := config.ParseAgentsFile([]byte(`
agents:
  - id: Assistant_Good_Agent
    system_message: I am fine.
  - id: Assistant_Bad_Agent
    system_message: I reference a ghost.
    tools: [does_not_exist]
`))
	require.NoError(t, err)

	before := registry.Len()
	_, err = ApplyAgentsFile(registry, catalog, file)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Assistant_Bad_Agent")
	assert.Equal(t, before, registry.Len())
}

func TestApplyAgentsFile_RootDeclarationSwapsRoot(t *testing.T) {
	registry := agent.NewRegistry("English")
	require.NoError(t, RegisterBuiltins(registry, fakeStore{}))
	catalog := NewCatalog()

	file, err := config.ParseAgentsFile([]byte(`
agents:
  - id: Assistant_Receptionist
    system_message: You are the new front desk.
    root: true
`))
	require.NoError(t, err)

	_, err = ApplyAgentsFile(registry, catalog, file)
	require.NoError(t, err)

	assert.Equal(t, "Assistant_Receptionist", registry.RootID())
	root, err := registry.Get(agent.RootAlias)
	require.NoError(t, err)
	assert.Equal(t, "Assistant_Receptionist", root.ID)
}

func TestWatchAgentsFile_ReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agents.yaml")
	require.NoError(t, os.WriteFile(path, []byte("agents: []\n"), 0o644))

	registry := agent.NewRegistry("English")
	require.NoError(t, RegisterBuiltins(registry, fakeStore{}))
	catalog := BuildCatalog(context.Background(), fakeStore{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	watcher, err := WatchAgentsFile(ctx, registry, catalog, path)
	require.NoError(t, err)
	defer watcher.Close()

	require.NoError(t, os.WriteFile(path, []byte(salesAgentYAML), 0o644))

	require.Eventually(t, func() bool {
		_, err := registry.Get("Assistant_Sales_Agent")
		return err == nil
	}, 3*time.Second, 50*time.Millisecond, "declared agent was not registered after the file changed")
}
