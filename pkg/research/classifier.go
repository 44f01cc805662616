package research

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
)

// Classify returns the intent of query. Queries containing a planning
// keyword are classified locally; everything else costs one model call
// whose upper-cased reply is returned as-is.
func (e *Engine) Classify(ctx context.Context, query string) (Intent, error) {
	if HasPlanKeyword(query) {
		return IntentPlan, nil
	}

	reply, err := e.generate(ctx, "classify", e.cfg().LLMTimeout, []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, classifierPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, query),
	})
	if err != nil {
		return "", fmt.Errorf("intent classification failed: %w", err)
	}
	return Intent(strings.ToUpper(reply)), nil
}

// HasPlanKeyword reports whether query mentions one of the planning
// keywords. Matching is substring based, so "use" also matches "because".
func HasPlanKeyword(query string) bool {
	q := strings.ToLower(query)
	for _, kw := range planKeywords {
		if strings.Contains(q, kw) {
			return true
		}
	}
	return false
}
