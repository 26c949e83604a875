package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// OpenAIConfig configures OpenAIClient. BaseURL may point at any OpenAI-compatible server.
type OpenAIConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	HTTPClient *http.Client
}

// OpenAIClient calls an OpenAI-compatible chat completions API through langchaingo.
type OpenAIClient struct {
	llm   *openai.LLM
	model string
}

// NewOpenAIClient creates the client. A key is optional for local compatible servers.
func NewOpenAIClient(cfg OpenAIConfig) (*OpenAIClient, error) {
	model := cfg.Model
	if model == "" {
		model = "gpt-4o"
	}
	token := cfg.APIKey
	if token == "" {
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("openai: %w", ErrNoAPIKey)
		}
		// langchaingo requires a token even when the server ignores it.
		token = "placeholder"
	}

	opts := []openai.Option{openai.WithToken(token), openai.WithModel(model)}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, openai.WithHTTPClient(cfg.HTTPClient))
	}

	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating openai client: %w", err)
	}
	return &OpenAIClient{llm: llm, model: model}, nil
}

func (o *OpenAIClient) Name() string { return "openai:" + o.model }

// Complete sends the conversation with images as binary parts of the final user turn.
func (o *OpenAIClient) Complete(ctx context.Context, req *Request) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}

	opts := []llms.CallOption{llms.WithTemperature(req.Temperature)}
	if req.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(req.MaxTokens))
	}
	if req.Model != "" {
		opts = append(opts, llms.WithModel(req.Model))
	}

	resp, err := o.llm.GenerateContent(ctx, toLangchainMessages(req), opts...)
	if err != nil {
		return "", fmt.Errorf("openai completion: %w", err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Content) == "" {
		return "", ErrEmptyResponse
	}
	return resp.Choices[0].Content, nil
}

func toLangchainMessages(req *Request) []llms.MessageContent {
	var out []llms.MessageContent
	if req.System != "" {
		out = append(out, llms.TextParts(llms.ChatMessageTypeSystem, req.System))
	}
	last := len(req.Messages) - 1
	for i, m := range req.Messages {
		role := llms.ChatMessageTypeHuman
		if m.Role == RoleAssistant {
			role = llms.ChatMessageTypeAI
		}
		msg := llms.MessageContent{Role: role}
		if i == last {
			for _, img := range req.Images {
				msg.Parts = append(msg.Parts, llms.BinaryPart(img.MediaType, img.Data))
			}
		}
		msg.Parts = append(msg.Parts, llms.TextContent{Text: m.Content})
		out = append(out, msg)
	}
	return out
}
