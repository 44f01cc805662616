package clients

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	goopenai "github.com/sashabaranov/go-openai"
	"github.com/tmc/langchaingo/llms"

	"github.com/mikeboe/deep-researcher/pkg/config"
)

// ChatModel is an llms.Model for OpenAI-compatible chat-completion servers
// (LM Studio, llama.cpp, vLLM, ...). It sends max_tokens rather than
// max_completion_tokens, which local servers do not honor, and tolerates
// malformed frames in streamed responses.
type ChatModel struct {
	client *goopenai.Client
	model  string
}

var _ llms.Model = (*ChatModel)(nil)

func NewChatModel(cfg *config.Config) (*ChatModel, error) {
	if cfg.LLMBaseURL == "" {
		return nil, fmt.Errorf("llm base url is not set")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("llm model is not set")
	}

	clientCfg := goopenai.DefaultConfig(cfg.LLMApiKey)
	clientCfg.BaseURL = cfg.LLMBaseURL

	return &ChatModel{
		client: goopenai.NewClientWithConfig(clientCfg),
		model:  cfg.Model,
	}, nil
}

// GenerateContent issues one chat completion. When a streaming function is
// set the request is streamed and the function receives every content
// delta; returning an error from it stops the stream.
func (m *ChatModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	opts := llms.CallOptions{Model: m.model}
	for _, opt := range options {
		opt(&opts)
	}

	chatMsgs, err := toChatMessages(messages)
	if err != nil {
		return nil, err
	}

	req := goopenai.ChatCompletionRequest{
		Model:       opts.Model,
		Messages:    chatMsgs,
		MaxTokens:   opts.MaxTokens,
		Temperature: float32(opts.Temperature),
		Stop:        opts.StopWords,
	}

	if opts.StreamingFunc != nil {
		return m.stream(ctx, req, opts.StreamingFunc)
	}

	resp, err := m.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("chat completion failed: %w", err)
	}

	choices := make([]*llms.ContentChoice, 0, len(resp.Choices))
	for _, c := range resp.Choices {
		choices = append(choices, &llms.ContentChoice{
			Content:    c.Message.Content,
			StopReason: string(c.FinishReason),
			GenerationInfo: map[string]any{
				"CompletionTokens": resp.Usage.CompletionTokens,
				"PromptTokens":     resp.Usage.PromptTokens,
				"TotalTokens":      resp.Usage.TotalTokens,
			},
		})
	}
	return &llms.ContentResponse{Choices: choices}, nil
}

func (m *ChatModel) stream(ctx context.Context, req goopenai.ChatCompletionRequest, fn func(context.Context, []byte) error) (*llms.ContentResponse, error) {
	stream, err := m.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("chat completion stream failed: %w", err)
	}
	defer stream.Close()

	var full strings.Builder
	for {
		raw, err := stream.RecvRaw()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("chat completion stream interrupted: %w", err)
		}

		var chunk goopenai.ChatCompletionStreamResponse
		if err := json.Unmarshal(raw, &chunk); err != nil {
			continue
		}
		if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
			continue
		}

		delta := chunk.Choices[0].Delta.Content
		full.WriteString(delta)
		if err := fn(ctx, []byte(delta)); err != nil {
			return nil, err
		}
	}

	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{Content: full.String(), StopReason: "stop"}},
	}, nil
}

// Call implements the single-prompt shortcut of llms.Model.
func (m *ChatModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

func toChatMessages(messages []llms.MessageContent) ([]goopenai.ChatCompletionMessage, error) {
	out := make([]goopenai.ChatCompletionMessage, 0, len(messages))
	for _, mc := range messages {
		var role string
		switch mc.Role {
		case llms.ChatMessageTypeSystem:
			role = goopenai.ChatMessageRoleSystem
		case llms.ChatMessageTypeHuman, llms.ChatMessageTypeGeneric:
			role = goopenai.ChatMessageRoleUser
		case llms.ChatMessageTypeAI:
			role = goopenai.ChatMessageRoleAssistant
		default:
			return nil, fmt.Errorf("role %v not supported", mc.Role)
		}

		var text strings.Builder
		for _, part := range mc.Parts {
			tc, ok := part.(llms.TextContent)
			if !ok {
				return nil, fmt.Errorf("only text parts are supported, got %T", part)
			}
			text.WriteString(tc.Text)
		}

		out = append(out, goopenai.ChatCompletionMessage{Role: role, Content: text.String()})
	}
	return out, nil
}
