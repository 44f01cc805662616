package research

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tmc/langchaingo/llms"
)

// WriteSections drafts one section per entry, sequentially, for at most
// Config.MaxSections entries. A failed call yields an inline warning for
// that section and writing continues.
func (e *Engine) WriteSections(ctx context.Context, results SearchResults, onProgress ProgressFunc) []string {
	cfg := e.cfg()

	entries := results
	if len(entries) > cfg.MaxSections {
		entries = entries[:cfg.MaxSections]
	}

	sections := make([]string, 0, len(entries))
	for i, qe := range entries {
		onProgress.emit(Event{
			Stage:   StageWriting,
			Message: fmt.Sprintf(msgWriting, i+1, len(entries)),
			Current: i + 1,
			Total:   len(entries),
		})
		sections = append(sections, e.writeSection(ctx, qe, cfg))
	}
	return sections
}

func (e *Engine) writeSection(ctx context.Context, qe QuestionEvidence, cfg Config) string {
	evidence := qe.Evidence
	if evidence == nil {
		evidence = []Evidence{}
	}
	raw, err := json.Marshal(evidence)
	if err != nil {
		return fmt.Sprintf(msgSectionError, err)
	}

	input := fmt.Sprintf("Question:\n%s\n\nEvidence:\n%s", qe.Question, truncateRunes(string(raw), cfg.EvidenceChars))
	text, err := e.generate(ctx, "section", cfg.SectionTimeout, []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, sectionPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, input),
	}, llms.WithMaxTokens(cfg.SectionTokens))

	switch {
	case errors.Is(err, ErrNoChoices):
		e.log().Warn("Section writer got no choices", "question", qe.Question)
		return msgSectionUnavailable
	case err != nil:
		e.log().Error("Section writer failed", "question", qe.Question, "error", err)
		return fmt.Sprintf(msgSectionError, err)
	}
	return text
}

// truncateRunes keeps the first n characters of s.
func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
