package ai

import "context"

// summaryLabel marks a compressed-history turn for providers that have no
// summary role.
const summaryLabel = "Summary of the earlier conversation: "

// Message is the role/content pair spoken by the HTTP chat providers.
type Message struct {
	Role    string
	Content string
}

// Provider is a stateless chat completion endpoint.
type Provider interface {
	Chat(ctx context.Context, messages []Message) (string, error)
}

// Sampling holds generation parameters shared by every provider.
type Sampling struct {
	Temperature     float32
	TopP            float32
	TopK            float32
	MaxOutputTokens int32
}
