// Package customerdata defines the built-in call-center agents and
// their document store backed tools. The database agent is bound to
// the session subject, so its tools work without the model passing a
// customer id.
package customerdata

import (
	"context"
	"fmt"

	"github.com/HaoZhang615/Realtime-Synthetic-Call-Center-Agents-sub000/pkg/agent"
	"github.com/HaoZhang615/Realtime-Synthetic-Call-Center-Agents-sub000/pkg/agent/capability"
)

// Agent ids. They all match the switch pattern so peers can hand
// calls over to them.
const (
	ConciergeID     = "Assistant_Concierge"
	DatabaseAgentID = "Assistant_Database_Agent"
	ProductAgentID  = "Assistant_Product_Agent"
)

const defaultHistoryLimit = 10

// Store is the slice of the document store these tools need,
// satisfied by docstore.Store.
type Store interface {
	GetCustomer(ctx context.Context, customerID string) (map[string]any, error)
	UpdateCustomer(ctx context.Context, customerID string, fields map[string]any) error
	PurchaseHistory(ctx context.Context, customerID string, limit int64) ([]map[string]any, error)
	SearchProducts(ctx context.Context, query string, limit int64) ([]map[string]any, error)
}

const conciergePrompt = `You are the friendly concierge of a call center, speaking with a customer over voice.
Respond in {language}. Keep answers short and conversational, this is a phone call.
Greet the caller, find out what they need, and hand the call to the specialist agent that can help:
the database agent for anything about the caller's own records or purchases, the product agent for questions about the catalog.
Never invent customer data yourself.`

const databasePrompt = `You are the customer database specialist of a call center, speaking with a customer over voice.
Respond in {language}. Keep answers short, this is a phone call.
Use your tools to read and update the caller's own record and to list their purchases.
If a tool reports that no customer is linked to the call, ask the caller to sign in and hand the call back to the concierge.
Hand the call back to the concierge for anything outside customer data.`

const productPrompt = `You are the product catalog specialist of a call center, speaking with a customer over voice.
Respond in {language}. Keep answers short, this is a phone call.
Use the search tool to find products and answer questions about them.
Hand the call back to the concierge for anything outside the catalog.`

// Concierge is the root agent. It owns no data tools; its job is
// routing, so its tool list is just the generated switch tools.
func Concierge() agent.Definition {
	return agent.Definition{
		ID:            ConciergeID,
		Description:   "General assistant that greets callers and routes them to a specialist",
		SystemMessage: conciergePrompt,
	}
}

// DatabaseAgent builds the customer record specialist bound to
// subjectID. Pass an empty subject for sessions without a signed-in
// customer; the tools then refuse with a spoken-friendly error.
func DatabaseAgent(store Store, subjectID string) agent.Definition {
	return agent.Definition{
		ID:            DatabaseAgentID,
		Description:   "Assistant for the caller's own customer record and purchase history",
		SystemMessage: databasePrompt,
		Tools: []agent.ToolDefinition{
			getCustomerRecord(store, subjectID),
			updateCustomerRecord(store, subjectID),
			getPurchaseHistory(store, subjectID),
		},
	}
}

// ProductAgent builds the catalog specialist.
func ProductAgent(store Store) agent.Definition {
	return agent.Definition{
		ID:            ProductAgentID,
		Description:   "Assistant for questions about the product catalog",
		SystemMessage: productPrompt,
		Tools: []agent.ToolDefinition{
			searchProducts(store),
		},
	}
}

// CatalogTools lists the subject-free tools that agents declared in
// the agents file may reference by name.
func CatalogTools(store Store) []agent.ToolDefinition {
	return []agent.ToolDefinition{
		searchProducts(store),
	}
}

type noArgs struct{}

func getCustomerRecord(store Store, subjectID string) agent.ToolDefinition {
	return capability.New("get_customer_record",
		"Returns the record of the customer on the call",
		func(ctx context.Context, _ noArgs) (any, error) {
			if subjectID == "" {
				return nil, fmt.Errorf("no customer is linked to this call")
			}
			return store.GetCustomer(ctx, subjectID)
		})
}

type updateArgs struct {
	Email   string `json:"email,omitempty" jsonschema_description:"New email address"`
	Phone   string `json:"phone,omitempty" jsonschema_description:"New phone number"`
	Address string `json:"address,omitempty" jsonschema_description:"New postal address"`
}

func updateCustomerRecord(store Store, subjectID string) agent.ToolDefinition {
	return capability.New("update_customer_record",
		"Updates contact details on the record of the customer on the call",
		func(ctx context.Context, args updateArgs) (any, error) {
			if subjectID == "" {
				return nil, fmt.Errorf("no customer is linked to this call")
			}
			fields := map[string]any{}
			if args.Email != "" {
				fields["email"] = args.Email
			}
			if args.Phone != "" {
				fields["phone"] = args.Phone
			}
			if args.Address != "" {
				fields["address"] = args.Address
			}
			if len(fields) == 0 {
				return nil, fmt.Errorf("nothing to update, provide email, phone or address")
			}
			if err := store.UpdateCustomer(ctx, subjectID, fields); err != nil {
				return nil, err
			}
			return map[string]any{"updated": true}, nil
		})
}

type historyArgs struct {
	Limit int `json:"limit,omitempty" jsonschema_description:"Maximum number of purchases to return"`
}

func getPurchaseHistory(store Store, subjectID string) agent.ToolDefinition {
	return capability.New("get_purchase_history",
		"Lists the most recent purchases of the customer on the call",
		func(ctx context.Context, args historyArgs) (any, error) {
			if subjectID == "" {
				return nil, fmt.Errorf("no customer is linked to this call")
			}
			limit := int64(args.Limit)
			if limit <= 0 {
				limit = defaultHistoryLimit
			}
			purchases, err := store.PurchaseHistory(ctx, subjectID, limit)
			if err != nil {
				return nil, err
			}
			if len(purchases) == 0 {
				return "No purchases on record.", nil
			}
			return purchases, nil
		})
}

type searchArgs struct {
	Query string `json:"query" jsonschema:"required" jsonschema_description:"Words to search for in product name, category or description"`
	Limit int    `json:"limit,omitempty" jsonschema_description:"Maximum number of products to return"`
}

func searchProducts(store Store) agent.ToolDefinition {
	return capability.New("search_products",
		"Searches the product catalog",
		func(ctx context.Context, args searchArgs) (any, error) {
			if args.Query == "" {
				return nil, fmt.Errorf("query is required")
			}
			limit := int64(args.Limit)
			if limit <= 0 {
				limit = defaultHistoryLimit
			}
			products, err := store.SearchProducts(ctx, args.Query, limit)
			if err != nil {
				return nil, err
			}
			if len(products) == 0 {
				return "No matching products.", nil
			}
			return products, nil
		})
}
