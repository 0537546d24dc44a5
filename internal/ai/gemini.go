package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/suPer8Hu/aether/internal/chat"
	"google.golang.org/genai"
)

// GeminiBackend talks to Gemini through the official SDK. Each session gets
// its own stateful SDK chat seeded with the persona prefix; summaries use
// the stateless GenerateContent call.
type GeminiBackend struct {
	client   *genai.Client
	model    string
	sampling Sampling
}

func NewGeminiBackend(ctx context.Context, apiKey, model string, sampling Sampling) (*GeminiBackend, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("gemini: api key is required")
	}
	if model == "" {
		model = "gemini-2.5-flash"
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: init client: %w", err)
	}
	return &GeminiBackend{client: client, model: model, sampling: sampling}, nil
}

func (b *GeminiBackend) generationConfig(system string) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{}
	s := b.sampling
	if s.Temperature > 0 {
		cfg.Temperature = genai.Ptr(s.Temperature)
	}
	if s.TopP > 0 {
		cfg.TopP = genai.Ptr(s.TopP)
	}
	if s.TopK > 0 {
		cfg.TopK = genai.Ptr(s.TopK)
	}
	if s.MaxOutputTokens > 0 {
		cfg.MaxOutputTokens = s.MaxOutputTokens
	}
	if system != "" {
		cfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	return cfg
}

func (b *GeminiBackend) StartChat(ctx context.Context, prefix []chat.Message) (chat.Exchanger, error) {
	history, system := geminiHistory(prefix)
	c, err := b.client.Chats.Create(ctx, b.model, b.generationConfig(system), history)
	if err != nil {
		return nil, fmt.Errorf("gemini: create chat: %w", err)
	}
	return &geminiChat{session: c}, nil
}

func (b *GeminiBackend) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := b.client.Models.GenerateContent(ctx, b.model, genai.Text(prompt), b.generationConfig(""))
	if err != nil {
		return "", fmt.Errorf("gemini: generate: %w", err)
	}
	return replyText(resp)
}

type geminiSession interface {
	SendMessage(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

type geminiChat struct {
	session geminiSession
}

// Send ignores the transcript: the SDK chat keeps its own history.
func (c *geminiChat) Send(ctx context.Context, transcript []chat.Message, text string) (string, error) {
	_ = transcript
	resp, err := c.session.SendMessage(ctx, genai.Part{Text: text})
	if err != nil {
		return "", fmt.Errorf("gemini: send message: %w", err)
	}
	return replyText(resp)
}

func replyText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil {
		return "", errors.New("gemini: nil response")
	}
	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return "", errors.New("gemini: empty response")
	}
	return text, nil
}

// geminiHistory converts a prefix into SDK history. System turns become the
// system instruction; summaries are replayed as labelled user turns.
func geminiHistory(prefix []chat.Message) ([]*genai.Content, string) {
	var history []*genai.Content
	var system []string
	for _, m := range prefix {
		switch m.Role {
		case chat.RoleSystem:
			system = append(system, m.Content)
		case chat.RoleModel:
			history = append(history, genai.NewContentFromText(m.Content, genai.RoleModel))
		case chat.RoleSummary:
			history = append(history, genai.NewContentFromText(summaryLabel+m.Content, genai.RoleUser))
		default:
			history = append(history, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}
	return history, strings.Join(system, "\n")
}
