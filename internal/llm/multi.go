package llm

import (
	"context"
	"fmt"
)

// MultiClient routes completion requests to the provider responsible
// for the requested model. Providers are registered by name ("anthropic",
// "bedrock") and models are mapped onto them; a model with no mapping
// goes to the fallback provider.
type MultiClient struct {
	clients  map[string]Client // provider name to client
	models   map[string]string // model name to provider name
	fallback Client
}

// NewMultiClient creates a routing client with the given fallback.
func NewMultiClient(fallback Client) *MultiClient {
	return &MultiClient{
		clients:  make(map[string]Client),
		models:   make(map[string]string),
		fallback: fallback,
	}
}

// AddProvider registers a client under a provider name.
func (m *MultiClient) AddProvider(name string, client Client) {
	m.clients[name] = client
}

// AddModel maps a model name to a registered provider.
func (m *MultiClient) AddModel(modelName, providerName string) {
	m.models[modelName] = providerName
}

func (m *MultiClient) clientFor(model string) Client {
	provider, ok := m.models[model]
	if !ok {
		return m.fallback
	}
	client, ok := m.clients[provider]
	if !ok {
		return m.fallback
	}
	return client
}

// Chat routes the request to the provider serving the model.
func (m *MultiClient) Chat(ctx context.Context, model string, messages []Message, tools []map[string]any) (*ChatResponse, error) {
	client := m.clientFor(model)
	if client == nil {
		return nil, fmt.Errorf("no provider configured for model %q", model)
	}
	return client.Chat(ctx, model, messages, tools)
}

// ChatStream routes the streaming request to the provider serving the
// model.
func (m *MultiClient) ChatStream(ctx context.Context, model string, messages []Message, tools []map[string]any, callback StreamCallback) (*ChatResponse, error) {
	client := m.clientFor(model)
	if client == nil {
		return nil, fmt.Errorf("no provider configured for model %q", model)
	}
	return client.ChatStream(ctx, model, messages, tools, callback)
}

// Ping checks the fallback provider.
func (m *MultiClient) Ping(ctx context.Context) error {
	if m.fallback == nil {
		return fmt.Errorf("no fallback client configured")
	}
	return m.fallback.Ping(ctx)
}
