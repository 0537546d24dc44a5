package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

type OpenRouterProvider struct {
	BaseURL  string
	APIKey   string
	Model    string
	SiteURL  string
	AppName  string
	Sampling Sampling
	Client   *http.Client
}

type openRouterMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openRouterChatReq struct {
	Model       string          `json:"model"`
	Messages    []openRouterMsg `json:"messages"`
	Stream      bool            `json:"stream"`
	Temperature *float32        `json:"temperature,omitempty"`
	TopP        *float32        `json:"top_p,omitempty"`
	TopK        *int            `json:"top_k,omitempty"`
	MaxTokens   *int32          `json:"max_tokens,omitempty"`
}

type openRouterChatResp struct {
	Choices []struct {
		Message openRouterMsg `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func NewOpenRouterProvider(baseURL, apiKey, model, siteURL, appName string, sampling Sampling) *OpenRouterProvider {
	if baseURL == "" {
		baseURL = "https://openrouter.ai/api/v1"
	}
	return &OpenRouterProvider{
		BaseURL:  baseURL,
		APIKey:   apiKey,
		Model:    model,
		SiteURL:  siteURL,
		AppName:  appName,
		Sampling: sampling,
		Client:   &http.Client{Timeout: 90 * time.Second},
	}
}

func (p *OpenRouterProvider) applySampling(req *openRouterChatReq) {
	s := p.Sampling
	if s.Temperature > 0 {
		req.Temperature = &s.Temperature
	}
	if s.TopP > 0 {
		req.TopP = &s.TopP
	}
	if s.TopK > 0 {
		k := int(s.TopK)
		req.TopK = &k
	}
	if s.MaxOutputTokens > 0 {
		req.MaxTokens = &s.MaxOutputTokens
	}
}

func (p *OpenRouterProvider) Chat(ctx context.Context, messages []Message) (string, error) {
	if p.Client == nil {
		return "", errors.New("openrouter: http client is nil")
	}
	if strings.TrimSpace(p.APIKey) == "" {
		return "", errors.New("openrouter: api key is required")
	}
	model := strings.TrimSpace(p.Model)
	if model == "" {
		return "", errors.New("openrouter: model is required")
	}

	reqBody := openRouterChatReq{
		Model:  model,
		Stream: false,
		Messages: func() []openRouterMsg {
			out := make([]openRouterMsg, 0, len(messages))
			for _, m := range messages {
				out = append(out, openRouterMsg{Role: m.Role, Content: m.Content})
			}
			return out
		}(),
	}
	p.applySampling(&reqBody)

	b, err := json.Marshal(reqBody)
	if err != nil {
		return "", err
	}

	url := fmt.Sprintf("%s/chat/completions", strings.TrimRight(p.BaseURL, "/"))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.APIKey)
	if p.SiteURL != "" {
		req.Header.Set("HTTP-Referer", p.SiteURL)
	}
	if p.AppName != "" {
		req.Header.Set("X-Title", p.AppName)
	}

	resp, err := p.Client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
		msg := strings.TrimSpace(string(body))
		if msg == "" {
			msg = fmt.Sprintf("status %d", resp.StatusCode)
		}
		return "", fmt.Errorf("openrouter: %s", msg)
	}

	var decoded openRouterChatResp
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", err
	}
	if decoded.Error != nil && decoded.Error.Message != "" {
		return "", errors.New(decoded.Error.Message)
	}
	if len(decoded.Choices) == 0 || decoded.Choices[0].Message.Content == "" {
		return "", errors.New("openrouter: empty response")
	}
	return decoded.Choices[0].Message.Content, nil
}
