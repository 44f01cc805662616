package research

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"

	"github.com/mikeboe/deep-researcher/pkg/clients"
	"github.com/mikeboe/deep-researcher/pkg/config"
	"github.com/mikeboe/deep-researcher/pkg/metrics"
	"github.com/mikeboe/deep-researcher/pkg/research/tools"
)

var (
	// ErrNoChoices is returned when the model answers without any choice.
	ErrNoChoices = errors.New("llm returned no choices")
	// ErrTimeout marks a model call that ran past its own deadline.
	ErrTimeout = errors.New("llm call timed out")
)

// WebSearcher runs one web search. tools.TavilyClient implements it.
type WebSearcher interface {
	Search(ctx context.Context, query string, maxResults int) ([]tools.SearchResult, error)
}

// Engine runs the research pipeline. It holds no per-run state, so one
// Engine can serve concurrent runs.
type Engine struct {
	Config   Config
	LLM      llms.Model
	Searcher WebSearcher
	Logger   *slog.Logger
}

// New builds an Engine from already constructed collaborators.
func New(llm llms.Model, searcher WebSearcher, cfg Config) *Engine {
	return &Engine{
		Config:   cfg.withDefaults(),
		LLM:      llm,
		Searcher: searcher,
		Logger:   slog.Default(),
	}
}

// NewEngine wires the OpenAI-compatible chat model and the Tavily client
// from application config.
func NewEngine(cfg *config.Config) (*Engine, error) {
	llm, err := clients.NewChatModel(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to init LLM: %w", err)
	}

	rc := DefaultConfig()
	rc.MaxResults = cfg.SearchMaxResults
	rc.SearchWorkers = cfg.SearchWorkers
	rc.SearchTimeout = cfg.SearchTimeout
	rc.SectionTimeout = cfg.SectionTimeout
	rc.LLMTimeout = cfg.LLMTimeout
	rc.StreamTimeout = cfg.StreamTimeout
	rc.ChatTimeout = cfg.ChatTimeout

	searcher := tools.NewTavilyClient(cfg.SearchApiKey, cfg.SearchURL, cfg.SearchDepth)
	return New(llm, searcher, rc), nil
}

// WithLogger returns a copy of the engine that logs to l.
func (e *Engine) WithLogger(l *slog.Logger) *Engine {
	c := *e
	c.Logger = l
	return &c
}

func (e *Engine) log() *slog.Logger {
	if e.Logger == nil {
		return slog.Default()
	}
	return e.Logger
}

func (e *Engine) cfg() Config {
	return e.Config.withDefaults()
}

// generate issues one blocking model call under its own timeout and returns
// the trimmed text of the first choice.
func (e *Engine) generate(ctx context.Context, stage string, timeout time.Duration, msgs []llms.MessageContent, opts ...llms.CallOption) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	resp, err := e.LLM.GenerateContent(callCtx, msgs, opts...)
	metrics.LLMRequestDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())

	if err != nil {
		if isTimeout(callCtx, err) {
			metrics.LLMRequestsTotal.WithLabelValues(stage, "timeout").Inc()
			return "", fmt.Errorf("%w: %w", ErrTimeout, err)
		}
		metrics.LLMRequestsTotal.WithLabelValues(stage, "error").Inc()
		return "", err
	}
	if resp == nil || len(resp.Choices) == 0 {
		metrics.LLMRequestsTotal.WithLabelValues(stage, "empty").Inc()
		return "", ErrNoChoices
	}

	metrics.LLMRequestsTotal.WithLabelValues(stage, "success").Inc()
	return strings.TrimSpace(resp.Choices[0].Content), nil
}

func isTimeout(callCtx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func observeStage(stage Stage, start time.Time) {
	metrics.StageDuration.WithLabelValues(string(stage)).Observe(time.Since(start).Seconds())
}

// Run turns a query into a report. PLAN queries go through the full
// plan/search/write/synthesize pipeline, calculator queries are evaluated
// locally and everything else is answered by a single chat call.
//
// Classifier, search and chat failures are returned; the other stages
// degrade to fallback text instead.
func (e *Engine) Run(ctx context.Context, query string, onProgress ProgressFunc) (Result, error) {
	cfg := e.cfg()
	e.log().Info("Starting pipeline run", "query", query)

	onProgress.emit(Event{Stage: StagePlanning, Message: msgPlanning})
	intent, err := e.Classify(ctx, query)
	if err != nil {
		metrics.RunsTotal.WithLabelValues("unknown", "error").Inc()
		return Result{}, fmt.Errorf("classification failed: %w", err)
	}
	e.log().Info("Classified query", "intent", intent)

	result := Result{Intent: intent, Sources: []string{}, SubQuestions: []string{}}

	switch {
	case intent == IntentPlan:
		start := time.Now()
		plan := e.Plan(ctx, query)
		observeStage(StagePlanning, start)
		if plan.Error != "" {
			e.log().Warn("Plan carries an error marker, returning an empty result", "error", plan.Error)
			metrics.RunsTotal.WithLabelValues(string(intent), "empty").Inc()
			return result, nil
		}

		questions := uniqueQuestions(plan.SubQuestions)
		if len(questions) > cfg.MaxSubQuestions {
			questions = questions[:cfg.MaxSubQuestions]
		}

		onProgress.emit(Event{Stage: StageSearching, Message: msgSearching})
		start = time.Now()
		found, err := e.Search(ctx, questions, cfg.MaxResults)
		observeStage(StageSearching, start)
		if err != nil {
			metrics.RunsTotal.WithLabelValues(string(intent), "error").Inc()
			return Result{}, fmt.Errorf("search failed: %w", err)
		}

		start = time.Now()
		sections := e.WriteSections(ctx, found, onProgress)
		observeStage(StageWriting, start)

		onProgress.emit(Event{Stage: StageSynthesizing, Message: msgSynthesizing})
		start = time.Now()
		result.Report = e.Synthesize(ctx, sections)
		observeStage(StageSynthesizing, start)

		result.Sources = CollectSources(found)
		result.SubQuestions = questions
		onProgress.emit(Event{Stage: StageDone, Message: msgDone})

	case intent == IntentCalculate && LooksLikeMath(query):
		result.Report = Calculate(query)

	default:
		answer, err := e.Chat(ctx, query)
		if err != nil {
			metrics.RunsTotal.WithLabelValues(string(intent), "error").Inc()
			return Result{}, fmt.Errorf("chat failed: %w", err)
		}
		result.Report = answer
	}

	metrics.RunsTotal.WithLabelValues(string(intent), "success").Inc()
	e.log().Info("Pipeline run finished", "intent", intent, "sources", len(result.Sources))
	return result, nil
}

// Report builds a report from a reviewed question list: the list is
// trimmed and deduplicated, then the top questions for the mode are
// searched, drafted and synthesized with the streaming synthesizer.
// onUpdate receives every accumulated snapshot.
func (e *Engine) Report(ctx context.Context, questions []string, mode Mode, onProgress ProgressFunc, onUpdate func(string)) (ReportResult, error) {
	cfg := e.cfg()
	questions = uniqueQuestions(questions)
	if limit := mode.QuestionLimit(); len(questions) > limit {
		questions = questions[:limit]
	}
	e.log().Info("Generating report", "mode", mode, "questions", len(questions))

	onProgress.emit(Event{Stage: StageSearching, Message: msgSearching})
	start := time.Now()
	found, err := e.Search(ctx, questions, cfg.MaxResults)
	observeStage(StageSearching, start)
	if err != nil {
		return ReportResult{}, fmt.Errorf("search failed: %w", err)
	}

	result := ReportResult{
		Sources:      CollectSources(found),
		SubQuestions: questions,
	}

	start = time.Now()
	sections := e.WriteSections(ctx, found, onProgress)
	observeStage(StageWriting, start)

	onProgress.emit(Event{Stage: StageSynthesizing, Message: msgSynthesizing})
	start = time.Now()
	report, err := e.SynthesizeStream(ctx, sections, onUpdate)
	observeStage(StageSynthesizing, start)
	result.Report = report
	if err != nil {
		return result, fmt.Errorf("streaming synthesis failed: %w", err)
	}

	onProgress.emit(Event{Stage: StageDone, Message: msgDone})
	return result, nil
}
