package research

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"

	"github.com/mikeboe/deep-researcher/pkg/research/tools"
)

func TestSearch_OneEntryPerDistinctQuestion(t *testing.T) {
	defer goleak.VerifyNone(t)

	searcher := &fakeSearcher{}
	e := New(&fakeLLM{}, searcher, testConfig())

	questions := []string{"Q1", "Q2", "Q1", "  ", "Q3", "Q2"}
	got, err := e.Search(context.Background(), questions, 2)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}

	var keys []string
	for _, qe := range got {
		keys = append(keys, qe.Question)
		if len(qe.Evidence) > 2 {
			t.Errorf("%s: %d evidence items, want at most 2", qe.Question, len(qe.Evidence))
		}
		for _, ev := range qe.Evidence {
			if want := fmt.Sprintf("for %s", qe.Question); len(ev.Content) < len(want) || ev.Content[len(ev.Content)-len(want):] != want {
				t.Errorf("%s: evidence %q belongs to another question", qe.Question, ev.Content)
			}
		}
	}
	if diff := cmp.Diff([]string{"Q1", "Q2", "Q3"}, keys); diff != "" {
		t.Errorf("questions mismatch (-want +got):\n%s", diff)
	}
	if n := len(searcher.Queries()); n != 3 {
		t.Errorf("searcher called %d times, want 3", n)
	}
}

func TestSearch_SubmissionOrder(t *testing.T) {
	defer goleak.VerifyNone(t)

	// Q1 is the slowest to answer; it must still come first.
	searcher := &slowFirstSearcher{fakeSearcher: &fakeSearcher{}}
	e := New(&fakeLLM{}, searcher, testConfig())

	got, err := e.Search(context.Background(), []string{"Q1", "Q2", "Q3"}, 1)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	for i, want := range []string{"Q1", "Q2", "Q3"} {
		if got[i].Question != want {
			t.Errorf("entry %d = %q, want %q", i, got[i].Question, want)
		}
	}
}

type slowFirstSearcher struct {
	*fakeSearcher
}

func (s *slowFirstSearcher) Search(ctx context.Context, query string, maxResults int) ([]tools.SearchResult, error) {
	if query == "Q1" {
		time.Sleep(20 * time.Millisecond)
	}
	return s.fakeSearcher.Search(ctx, query, maxResults)
}

func TestSearch_DefaultMaxResults(t *testing.T) {
	defer goleak.VerifyNone(t)

	e := New(&fakeLLM{}, &fakeSearcher{}, testConfig())
	got, err := e.Search(context.Background(), []string{"Q1"}, 0)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if n := len(got[0].Evidence); n != 3 {
		t.Errorf("got %d evidence items, want 3", n)
	}
}

func TestSearch_BoundedWorkers(t *testing.T) {
	defer goleak.VerifyNone(t)

	searcher := &fakeSearcher{delay: 10 * time.Millisecond}
	e := New(&fakeLLM{}, searcher, testConfig())

	var questions []string
	for i := 0; i < 12; i++ {
		questions = append(questions, fmt.Sprintf("Q%d", i))
	}
	if _, err := e.Search(context.Background(), questions, 3); err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if peak := searcher.maxInFlight.Load(); peak > 4 {
		t.Errorf("%d searches in flight, want at most 4", peak)
	}
}

func TestSearch_FailureFailsPhase(t *testing.T) {
	defer goleak.VerifyNone(t)

	boom := fmt.Errorf("%w: 401 Unauthorized", tools.ErrSearchStatus)
	searcher := &fakeSearcher{fail: map[string]error{"Q2": boom}}
	e := New(&fakeLLM{}, searcher, testConfig())

	got, err := e.Search(context.Background(), []string{"Q1", "Q2", "Q3"}, 3)
	if !errors.Is(err, tools.ErrSearchStatus) {
		t.Fatalf("Search() error = %v, want ErrSearchStatus", err)
	}
	if got != nil {
		t.Errorf("Search() returned %v alongside an error", got)
	}
}

func TestSearch_PerRequestTimeout(t *testing.T) {
	defer goleak.VerifyNone(t)

	cfg := testConfig()
	cfg.SearchTimeout = 10 * time.Millisecond
	e := New(&fakeLLM{}, &fakeSearcher{delay: time.Second}, cfg)

	_, err := e.Search(context.Background(), []string{"Q1"}, 3)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Search() error = %v, want deadline exceeded", err)
	}
}
