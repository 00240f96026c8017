// Package config loads gateway configuration from the environment and the
// optional agents file. Values come from the process environment, with
// .env / .env.local files loaded first so local development matches the
// deployed layout.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ErrMissing marks a required configuration value that was not provided.
// Fatal at startup; wrapped errors name the variable.
var ErrMissing = errors.New("missing required configuration")

const (
	DefaultToolCallTimeout = 15 * time.Second
	DefaultCredentialScope = "https://cognitiveservices.azure.com/.default"
	DefaultListenAddr      = ":8080"
	DefaultLanguage        = "English"

	DefaultConversationsCollection = "ai_conversations"
	DefaultCustomersCollection     = "customers"
	DefaultPurchasesCollection     = "purchases"
	DefaultProductsCollection      = "products"
)

// UpstreamConfig addresses the realtime provider.
type UpstreamConfig struct {
	// Endpoint is the provider URL base, e.g. https://myres.openai.azure.com.
	Endpoint   string
	APIVersion string
	Deployment string

	// TitleDeployment enables conversation title derivation when set.
	TitleDeployment string
}

// CredentialConfig selects how bearer tokens are obtained: a static API
// key, or an OAuth2 client-credentials grant against TokenURL.
type CredentialConfig struct {
	Scope        string
	APIKey       string
	TokenURL     string
	ClientID     string
	ClientSecret string
}

// DocstoreConfig addresses the MongoDB document store.
type DocstoreConfig struct {
	Endpoint string
	Database string

	ConversationsCollection string
	CustomersCollection     string
	PurchasesCollection     string
	ProductsCollection      string
}

// ServerConfig configures the client-facing HTTP/WebSocket server.
type ServerConfig struct {
	ListenAddr string

	// FrontendOrigins lists origins allowed to upgrade /realtime.
	// A single "*" allows all origins.
	FrontendOrigins []string
}

// MCPConfig optionally attaches an external MCP tool server.
type MCPConfig struct {
	URL     string
	Command string
}

// Config is the full gateway configuration.
type Config struct {
	Upstream   UpstreamConfig
	Credential CredentialConfig
	Docstore   DocstoreConfig
	Server     ServerConfig
	MCP        MCPConfig

	// ToolCallTimeout bounds every tool invocation.
	ToolCallTimeout time.Duration

	// Language replaces {language} placeholders in agent system messages.
	Language string

	// AgentsFile is an optional YAML file declaring additional agents.
	AgentsFile string
}

// Load reads the configuration from the environment. It does not validate;
// call Validate before serving.
func Load() (*Config, error) {
	if err := LoadEnvFiles(); err != nil {
		return nil, err
	}

	timeout := DefaultToolCallTimeout
	if raw := os.Getenv("TOOL_CALL_TIMEOUT_SECONDS"); raw != "" {
		secs, err := strconv.Atoi(raw)
		if err != nil || secs <= 0 {
			return nil, fmt.Errorf("invalid TOOL_CALL_TIMEOUT_SECONDS %q", raw)
		}
		timeout = time.Duration(secs) * time.Second
	}

	cfg := &Config{
		Upstream: UpstreamConfig{
			Endpoint:        os.Getenv("UPSTREAM_ENDPOINT"),
			APIVersion:      os.Getenv("UPSTREAM_API_VERSION"),
			Deployment:      os.Getenv("UPSTREAM_DEPLOYMENT"),
			TitleDeployment: os.Getenv("TITLE_MODEL_DEPLOYMENT"),
		},
		Credential: CredentialConfig{
			Scope:        getenvDefault("CREDENTIAL_SCOPE", DefaultCredentialScope),
			APIKey:       os.Getenv("UPSTREAM_API_KEY"),
			TokenURL:     os.Getenv("CREDENTIAL_TOKEN_URL"),
			ClientID:     os.Getenv("CREDENTIAL_CLIENT_ID"),
			ClientSecret: os.Getenv("CREDENTIAL_CLIENT_SECRET"),
		},
		Docstore: DocstoreConfig{
			Endpoint:                os.Getenv("DOCSTORE_ENDPOINT"),
			Database:                os.Getenv("DOCSTORE_DATABASE"),
			ConversationsCollection: getenvDefault("DOCSTORE_AI_CONVERSATIONS_CONTAINER", DefaultConversationsCollection),
			CustomersCollection:     getenvDefault("DOCSTORE_CUSTOMERS_CONTAINER", DefaultCustomersCollection),
			PurchasesCollection:     getenvDefault("DOCSTORE_PURCHASES_CONTAINER", DefaultPurchasesCollection),
			ProductsCollection:      getenvDefault("DOCSTORE_PRODUCTS_CONTAINER", DefaultProductsCollection),
		},
		Server: ServerConfig{
			ListenAddr:      getenvDefault("GATEWAY_LISTEN_ADDR", DefaultListenAddr),
			FrontendOrigins: splitOrigins(getenvDefault("FRONTEND_ORIGINS", "*")),
		},
		MCP: MCPConfig{
			URL:     os.Getenv("MCP_SERVER_URL"),
			Command: os.Getenv("MCP_SERVER_COMMAND"),
		},
		ToolCallTimeout: timeout,
		Language:        getenvDefault("GATEWAY_LANGUAGE", DefaultLanguage),
		AgentsFile:      os.Getenv("AGENTS_CONFIG"),
	}

	return cfg, nil
}

// Validate checks that everything the serve path needs is present.
func (c *Config) Validate() error {
	required := []struct {
		name  string
		value string
	}{
		{"UPSTREAM_ENDPOINT", c.Upstream.Endpoint},
		{"UPSTREAM_API_VERSION", c.Upstream.APIVersion},
		{"UPSTREAM_DEPLOYMENT", c.Upstream.Deployment},
		{"DOCSTORE_ENDPOINT", c.Docstore.Endpoint},
		{"DOCSTORE_DATABASE", c.Docstore.Database},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return fmt.Errorf("%w: %s", ErrMissing, r.name)
		}
	}

	if c.Credential.APIKey == "" {
		if c.Credential.TokenURL == "" || c.Credential.ClientID == "" || c.Credential.ClientSecret == "" {
			return fmt.Errorf("%w: UPSTREAM_API_KEY or CREDENTIAL_TOKEN_URL/CREDENTIAL_CLIENT_ID/CREDENTIAL_CLIENT_SECRET", ErrMissing)
		}
	}

	if c.ToolCallTimeout <= 0 {
		return fmt.Errorf("tool call timeout must be positive, got %s", c.ToolCallTimeout)
	}

	return nil
}

func getenvDefault(name, def string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return def
}

func splitOrigins(raw string) []string {
	parts := strings.Split(raw, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}
