package customerdata

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HaoZhang615/Realtime-Synthetic-Call-Center-Agents-sub000/pkg/agent"
)

type fakeStore struct {
	customer      map[string]any
	updatedID     string
	updatedFields map[string]any
	purchases     []map[string]any
	products      []map[string]any
	gotQuery      string
	gotLimit      int64
}

func (f *fakeStore) GetCustomer(ctx context.Context, customerID string) (map[string]any, error) {
	return f.customer, nil
}

func (f *fakeStore) UpdateCustomer(ctx context.Context, customerID string, fields map[string]any) error {
	f.updatedID = customerID
	f.updatedFields = fields
	return nil
}

func (f *fakeStore) PurchaseHistory(ctx context.Context, customerID string, limit int64) ([]map[string]any, error) {
	f.gotLimit = limit
	return f.purchases, nil
}

func (f *fakeStore) SearchProducts(ctx context.Context, query string, limit int64) ([]map[string]any, error) {
	f.gotQuery = query
	f.gotLimit = limit
	return f.products, nil
}

func invoke(t *testing.T, tool agent.ToolDefinition, params map[string]any) (any, error) {
	t.Helper()
	handler, ok := tool.Handler.(agent.AsyncHandler)
	require.True(t, ok)
	return handler(context.Background(), params)
}

func findTool(t *testing.T, def agent.Definition, name string) agent.ToolDefinition {
	t.Helper()
	for _, tool := range def.Tools {
		if tool.Name == name {
			return tool
		}
	}
	t.Fatalf("tool %s not found on %s", name, def.ID)
	return agent.ToolDefinition{}
}

func TestAgentIDs_MatchSwitchPattern(t *testing.T) {
	assert.True(t, agent.IsSwitchName(ConciergeID))
	assert.True(t, agent.IsSwitchName(DatabaseAgentID))
	assert.True(t, agent.IsSwitchName(ProductAgentID))
}

func TestConcierge_HasNoConcreteTools(t *testing.T) {
	assert.Empty(t, Concierge().Tools)
	assert.Contains(t, Concierge().SystemMessage, "{language}")
}

func TestGetCustomerRecord_UsesBoundSubject(t *testing.T) {
	store := &fakeStore{customer: map[string]any{"id": "c42", "name": "Ada"}}
	def := DatabaseAgent(store, "c42")

	result, err := invoke(t, findTool(t, def, "get_customer_record"), map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"id": "c42", "name": "Ada"}, result)
}

func TestGetCustomerRecord_NoSubject(t *testing.T) {
	def := DatabaseAgent(&fakeStore{}, "")

	_, err := invoke(t, findTool(t, def, "get_customer_record"), map[string]any{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no customer is linked")
}

func TestUpdateCustomerRecord_BuildsFieldSet(t *testing.T) {
	store := &fakeStore{}
	def := DatabaseAgent(store, "c42")

	result, err := invoke(t, findTool(t, def, "update_customer_record"), map[string]any{
		"email": "ada@example.com",
		"phone": "+4711223344",
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"updated": true}, result)
	assert.Equal(t, "c42", store.updatedID)
	assert.Equal(t, map[string]any{"email": "ada@example.com", "phone": "+4711223344"}, store.updatedFields)
}

func TestUpdateCustomerRecord_NothingToUpdate(t *testing.T) {
	def := DatabaseAgent(&fakeStore{}, "c42")

	_, err := invoke(t, findTool(t, def, "update_customer_record"), map[string]any{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nothing to update")
}

func TestGetPurchaseHistory_DefaultLimit(t *testing.T) {
	store := &fakeStore{purchases: []map[string]any{{"item": "router"}}}
	def := DatabaseAgent(store, "c42")

	result, err := invoke(t, findTool(t, def, "get_purchase_history"), map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, store.purchases, result)
	assert.EqualValues(t, defaultHistoryLimit, store.gotLimit)
}

func TestGetPurchaseHistory_EmptyResult(t *testing.T) {
	def := DatabaseAgent(&fakeStore{}, "c42")

	result, err := invoke(t, findTool(t, def, "get_purchase_history"), map[string]any{"limit": 3})
	require.NoError(t, err)
	assert.Equal(t, "No purchases on record.", result)
}

func TestSearchProducts_PassesQuery(t *testing.T) {
	store := &fakeStore{products: []map[string]any{{"name": "WiFi Router"}}}
	def := ProductAgent(store)

	result, err := invoke(t, findTool(t, def, "search_products"), map[string]any{"query": "router", "limit": 5})
	require.NoError(t, err)
	assert.Equal(t, store.products, result)
	assert.Equal(t, "router", store.gotQuery)
	assert.EqualValues(t, 5, store.gotLimit)
}

func TestSearchProducts_RequiresQuery(t *testing.T) {
	def := ProductAgent(&fakeStore{})

	_, err := invoke(t, findTool(t, def, "search_products"), map[string]any{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "query is required")
}

func TestDatabaseAgent_RegistersCleanly(t *testing.T) {
	registry := agent.NewRegistry("English")
	require.NoError(t, registry.RegisterRoot(Concierge()))
	require.NoError(t, registry.Register(DatabaseAgent(&fakeStore{}, "c42")))
	require.NoError(t, registry.Register(ProductAgent(&fakeStore{})))

	tools, err := registry.ToolsFor(agent.RootAlias)
	require.NoError(t, err)

	var names []string
	for _, tool := range tools {
		names = append(names, tool["name"].(string))
	}
	assert.Equal(t, []string{DatabaseAgentID, ProductAgentID}, names)
}
