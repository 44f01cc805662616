package research

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms"
)

// Chat answers a query directly with a single user message.
func (e *Engine) Chat(ctx context.Context, query string) (string, error) {
	reply, err := e.generate(ctx, "chat", e.cfg().ChatTimeout, []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeHuman, query),
	})
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	return reply, nil
}
