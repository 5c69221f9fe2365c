// Package llmprovider adapts iris chat providers to the narrow client
// interface the script capabilities need.
package llmprovider

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/petal-labs/iris/core"
	"github.com/petal-labs/iris/providers"
	// Auto-register common providers.
	_ "github.com/petal-labs/iris/providers/anthropic"
	_ "github.com/petal-labs/iris/providers/ollama"
	_ "github.com/petal-labs/iris/providers/openai"
)

// Message is one turn of conversation history.
type Message struct {
	Role    string // "system", "user", "assistant"
	Content string
}

// Request is a single completion request. History runs first, then Prompt
// as the final user message; System, when set, leads as the system message.
type Request struct {
	Model       string
	System      string
	History     []Message
	Prompt      string
	Temperature *float64
	MaxTokens   *int

	// JSONMode asks the model for a bare JSON object response. When set the
	// Response carries the parsed object in JSON.
	JSONMode bool
}

// TokenUsage reports token consumption for one completion.
type TokenUsage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

// Response is the provider's answer to a Request.
type Response struct {
	Text     string
	JSON     map[string]any // parsed output when JSONMode was requested
	Provider string
	Model    string
	Usage    TokenUsage
}

// Client sends completion requests to a language model provider.
type Client interface {
	Complete(ctx context.Context, req Request) (Response, error)
}

// NewClient creates a Client for the named provider via the iris provider
// registry.
func NewClient(name, apiKey string) (Client, error) {
	provider, err := providers.Create(name, apiKey)
	if err != nil {
		return nil, fmt.Errorf("creating provider %q: %w", name, err)
	}
	return &irisClient{provider: provider}, nil
}

type irisClient struct {
	provider core.Provider
}

func (c *irisClient) Complete(ctx context.Context, req Request) (Response, error) {
	chatReq := toChatRequest(req)

	chatResp, err := c.provider.Chat(ctx, chatReq)
	if err != nil {
		return Response{}, fmt.Errorf("provider chat failed: %w", err)
	}

	return c.fromChatResponse(chatResp, req), nil
}

func toChatRequest(req Request) *core.ChatRequest {
	messages := make([]core.Message, 0, len(req.History)+2)
	if req.System != "" {
		messages = append(messages, core.Message{
			Role:    core.RoleSystem,
			Content: req.System,
		})
	}
	for _, m := range req.History {
		messages = append(messages, core.Message{
			Role:    toRole(m.Role),
			Content: m.Content,
		})
	}
	messages = append(messages, core.Message{
		Role:    core.RoleUser,
		Content: req.Prompt,
	})

	chatReq := &core.ChatRequest{
		Model:    core.ModelID(req.Model),
		Messages: messages,
	}

	if req.Temperature != nil {
		temp := float32(*req.Temperature)
		chatReq.Temperature = &temp
	}
	if req.MaxTokens != nil {
		chatReq.MaxTokens = req.MaxTokens
	}

	return chatReq
}

func (c *irisClient) fromChatResponse(resp *core.ChatResponse, req Request) Response {
	result := Response{
		Text:     resp.Output,
		Provider: c.provider.ID(),
		Model:    string(resp.Model),
		Usage: TokenUsage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
			TotalTokens:  resp.Usage.TotalTokens,
		},
	}

	if req.JSONMode && resp.Output != "" {
		var jsonOutput map[string]any
		if err := json.Unmarshal([]byte(extractJSON(resp.Output)), &jsonOutput); err == nil {
			result.JSON = jsonOutput
		}
	}

	return result
}

func toRole(role string) core.Role {
	switch role {
	case "system":
		return core.RoleSystem
	case "user":
		return core.RoleUser
	case "assistant":
		return core.RoleAssistant
	default:
		return core.RoleUser
	}
}

// extractJSON strips markdown code fences some models wrap JSON output in.
func extractJSON(text string) string {
	start := -1
	depth := 0
	for i, r := range text {
		switch r {
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			depth--
			if depth == 0 && start >= 0 {
				return text[start : i+1]
			}
		}
	}
	return text
}
