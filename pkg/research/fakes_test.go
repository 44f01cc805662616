package research

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tmc/langchaingo/llms"

	"github.com/mikeboe/deep-researcher/pkg/research/tools"
)

// errEmptyResponse makes fakeLLM answer with zero choices.
var errEmptyResponse = errors.New("empty response")

type fakeCall struct {
	System    string
	User      string
	MaxTokens int
	Streaming bool
}

// fakeLLM answers blocking calls through respond and streamed calls by
// replaying chunks.
type fakeLLM struct {
	respond   func(ctx context.Context, system, user string) (string, error)
	chunks    []string
	streamErr error

	mu    sync.Mutex
	calls []fakeCall
}

func (f *fakeLLM) GenerateContent(ctx context.Context, msgs []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	var opts llms.CallOptions
	for _, o := range options {
		o(&opts)
	}

	var system, user string
	for _, m := range msgs {
		text := m.Parts[0].(llms.TextContent).Text
		switch m.Role {
		case llms.ChatMessageTypeSystem:
			system = text
		case llms.ChatMessageTypeHuman:
			user = text
		}
	}

	f.mu.Lock()
	f.calls = append(f.calls, fakeCall{System: system, User: user, MaxTokens: opts.MaxTokens, Streaming: opts.StreamingFunc != nil})
	f.mu.Unlock()

	if opts.StreamingFunc != nil {
		var full strings.Builder
		for _, c := range f.chunks {
			full.WriteString(c)
			if err := opts.StreamingFunc(ctx, []byte(c)); err != nil {
				return nil, err
			}
		}
		if f.streamErr != nil {
			return nil, f.streamErr
		}
		return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: full.String()}}}, nil
	}

	if f.respond == nil {
		return nil, fmt.Errorf("unexpected model call")
	}
	text, err := f.respond(ctx, system, user)
	if errors.Is(err, errEmptyResponse) {
		return &llms.ContentResponse{}, nil
	}
	if err != nil {
		return nil, err
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: text}}}, nil
}

func (f *fakeLLM) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, f, prompt, options...)
}

func (f *fakeLLM) Calls() []fakeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]fakeCall(nil), f.calls...)
}

// blockUntilDone waits for the call deadline, like a model that never
// answers in time.
func blockUntilDone(ctx context.Context, _, _ string) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

// fakeSearcher returns canned hits per query, or three generated hits for
// unknown queries.
type fakeSearcher struct {
	results map[string][]tools.SearchResult
	fail    map[string]error
	delay   time.Duration

	mu          sync.Mutex
	queries     []string
	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func (s *fakeSearcher) Search(ctx context.Context, query string, maxResults int) ([]tools.SearchResult, error) {
	n := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		peak := s.maxInFlight.Load()
		if n <= peak || s.maxInFlight.CompareAndSwap(peak, n) {
			break
		}
	}

	s.mu.Lock()
	s.queries = append(s.queries, query)
	s.mu.Unlock()

	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if err := s.fail[query]; err != nil {
		return nil, err
	}
	if hits, ok := s.results[query]; ok {
		return hits, nil
	}

	var hits []tools.SearchResult
	for i := 0; i < 5; i++ {
		hits = append(hits, tools.SearchResult{
			URL:     fmt.Sprintf("https://example.com/%s/%d", strings.ReplaceAll(query, " ", "-"), i),
			Content: fmt.Sprintf("content %d for %s", i, query),
		})
	}
	return hits, nil
}

func (s *fakeSearcher) Queries() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.queries...)
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.SearchTimeout = time.Second
	cfg.SectionTimeout = time.Second
	cfg.LLMTimeout = time.Second
	cfg.StreamTimeout = time.Second
	cfg.ChatTimeout = time.Second
	return cfg
}
