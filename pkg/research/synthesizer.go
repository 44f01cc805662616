package research

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"sync/atomic"
	"time"

	"github.com/tmc/langchaingo/llms"

	"github.com/mikeboe/deep-researcher/pkg/metrics"
)

// ErrStreamConsumed is yielded when a report stream is ranged over twice.
var ErrStreamConsumed = errors.New("report stream already consumed")

var errStreamStopped = errors.New("consumer stopped reading the report stream")

const timeoutReport = `## Introduction
This report examines the topic using synthesized research findings derived from multiple analytical sections.

## Key Findings
%s

## Implications and Challenges
The findings reveal significant opportunities alongside ethical, technical, and practical challenges that must be addressed.

## Conclusion
Overall, the analysis highlights meaningful impact while emphasizing the need for responsible and well-governed adoption.`

// Synthesize merges the drafted sections into one report with a single
// blocking call. It never fails: a timed out call yields a structured
// report built around the notes, any other failure an inline warning.
func (e *Engine) Synthesize(ctx context.Context, sections []string) string {
	cfg := e.cfg()
	notes := e.notes(sections)

	report, err := e.generate(ctx, "synthesize", cfg.LLMTimeout, []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, reportPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, notes),
	}, llms.WithMaxTokens(cfg.ReportTokens))

	switch {
	case errors.Is(err, ErrTimeout):
		e.log().Warn("Synthesis timed out, returning notes report")
		return TimeoutReport(notes)
	case err != nil:
		e.log().Error("Synthesis failed", "error", err)
		return fmt.Sprintf(msgReportError, err)
	}
	return report
}

// TimeoutReport is the four-part report returned when synthesis times out.
func TimeoutReport(notes string) string {
	return fmt.Sprintf(timeoutReport, notes)
}

// Stream synthesizes the report as a streamed completion. Each value is
// the whole text accumulated so far. Breaking out of the range loop closes
// the underlying response. On failure the last pair carries the partial
// text and the error. The sequence can be ranged over once.
func (e *Engine) Stream(ctx context.Context, sections []string) iter.Seq2[string, error] {
	var used atomic.Bool
	return func(yield func(string, error) bool) {
		if used.Swap(true) {
			yield("", ErrStreamConsumed)
			return
		}

		cfg := e.cfg()
		notes := e.notes(sections)
		ctx, cancel := context.WithTimeout(ctx, cfg.StreamTimeout)
		defer cancel()

		var acc strings.Builder
		stopped := false
		start := time.Now()
		_, err := e.LLM.GenerateContent(ctx, []llms.MessageContent{
			llms.TextParts(llms.ChatMessageTypeSystem, streamReportPrompt),
			llms.TextParts(llms.ChatMessageTypeHuman, notes),
		},
			llms.WithMaxTokens(cfg.ReportTokens),
			llms.WithStreamingFunc(func(_ context.Context, chunk []byte) error {
				if len(chunk) == 0 {
					return nil
				}
				acc.Write(chunk)
				if !yield(acc.String(), nil) {
					stopped = true
					return errStreamStopped
				}
				return nil
			}),
		)
		metrics.LLMRequestDuration.WithLabelValues("stream").Observe(time.Since(start).Seconds())

		switch {
		case stopped:
			metrics.LLMRequestsTotal.WithLabelValues("stream", "stopped").Inc()
		case err != nil:
			status := "error"
			if isTimeout(ctx, err) {
				status = "timeout"
			}
			metrics.LLMRequestsTotal.WithLabelValues("stream", status).Inc()
			yield(acc.String(), err)
		default:
			metrics.LLMRequestsTotal.WithLabelValues("stream", "success").Inc()
		}
	}
}

// SynthesizeStream drives Stream and calls onUpdate with every accumulated
// snapshot. The returned text equals the last snapshot; on failure it is
// the partial text received before the error.
func (e *Engine) SynthesizeStream(ctx context.Context, sections []string, onUpdate func(string)) (string, error) {
	var report string
	for snapshot, err := range e.Stream(ctx, sections) {
		if err != nil {
			e.log().Error("Report stream failed", "error", err, "received", len(snapshot))
			return report, err
		}
		report = snapshot
		if onUpdate != nil {
			onUpdate(snapshot)
		}
	}
	return report, nil
}

func (e *Engine) notes(sections []string) string {
	return truncateRunes(strings.Join(sections, "\n\n"), e.cfg().NotesChars)
}
