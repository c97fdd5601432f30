// Package llm provides a provider-neutral completion client used by the
// ontology manager (AI proposals, metadata descriptions) and the semantic
// engine (natural-language queries). The AI paths are optional decorators:
// every caller has a heuristic fallback and treats any error here as
// "no AI available".
package llm

import (
	"context"
	"fmt"

	"github.com/liushuangls/go-anthropic/v2"
	"github.com/sashabaranov/go-openai"
)

// Client sends one prompt and returns the raw completion text.
type Client interface {
	Complete(ctx context.Context, prompt string, maxTokens int) (string, error)
}

// Config selects a provider and carries its key.
type Config struct {
	Provider        string // "anthropic" or "openai"
	AnthropicAPIKey string
	OpenAIAPIKey    string
}

// New returns a Client for the configured provider, or nil when no key is
// set. Callers treat a nil client as "heuristics only".
func New(cfg Config) Client {
	switch cfg.Provider {
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			return nil
		}
		return &openAIClient{client: openai.NewClient(cfg.OpenAIAPIKey)}
	default:
		if cfg.AnthropicAPIKey == "" {
			return nil
		}
		return &anthropicClient{client: anthropic.NewClient(cfg.AnthropicAPIKey)}
	}
}

type anthropicClient struct {
	client *anthropic.Client
}

func (c *anthropicClient) Complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	resp, err := c.client.CreateMessages(ctx, anthropic.MessagesRequest{
		Model:     "claude-sonnet-4-5-20250929",
		MaxTokens: maxTokens,
		Messages: []anthropic.Message{
			{Role: anthropic.RoleUser, Content: []anthropic.MessageContent{
				{Type: "text", Text: &prompt},
			}},
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic completion: %w", err)
	}
	for _, block := range resp.Content {
		if block.Type == "text" && block.Text != nil {
			return *block.Text, nil
		}
	}
	return "", fmt.Errorf("anthropic completion: empty response")
}

type openAIClient struct {
	client *openai.Client
}

func (c *openAIClient) Complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     openai.GPT4oMini,
		MaxTokens: maxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", fmt.Errorf("openai completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai completion: empty response")
	}
	return resp.Choices[0].Message.Content, nil
}
