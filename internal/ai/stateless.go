package ai

import (
	"context"
	"fmt"

	"github.com/suPer8Hu/aether/internal/chat"
)

// StatelessBackend adapts a Provider to chat.Backend. Every exchange replays
// the full effective transcript, so the handle itself carries no state.
type StatelessBackend struct {
	Provider Provider
}

func NewStatelessBackend(p Provider) *StatelessBackend {
	return &StatelessBackend{Provider: p}
}

func (b *StatelessBackend) StartChat(ctx context.Context, prefix []chat.Message) (chat.Exchanger, error) {
	_ = ctx
	_ = prefix
	if b.Provider == nil {
		return nil, fmt.Errorf("stateless backend: provider is nil")
	}
	return statelessChat{provider: b.Provider}, nil
}

func (b *StatelessBackend) Generate(ctx context.Context, prompt string) (string, error) {
	return b.Provider.Chat(ctx, []Message{{Role: "user", Content: prompt}})
}

type statelessChat struct {
	provider Provider
}

func (c statelessChat) Send(ctx context.Context, transcript []chat.Message, text string) (string, error) {
	_ = text // already the last transcript entry
	return c.provider.Chat(ctx, toProviderMessages(transcript))
}

func toProviderMessages(in []chat.Message) []Message {
	out := make([]Message, 0, len(in))
	for _, m := range in {
		content := m.Content
		if m.Role == chat.RoleSummary {
			content = summaryLabel + content
		}
		out = append(out, Message{Role: providerRole(m.Role), Content: content})
	}
	return out
}

func providerRole(r chat.Role) string {
	switch r {
	case chat.RoleModel:
		return "assistant"
	case chat.RoleSystem, chat.RoleSummary:
		return "system"
	default:
		return "user"
	}
}
