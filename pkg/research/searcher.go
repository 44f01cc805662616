package research

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mikeboe/deep-researcher/pkg/metrics"
)

// Search looks up evidence for every distinct question, with at most
// Config.SearchWorkers requests in flight. The result follows submission
// order regardless of completion order. The first failing request fails
// the whole phase and cancels the requests still running.
func (e *Engine) Search(ctx context.Context, questions []string, maxResults int) (SearchResults, error) {
	cfg := e.cfg()
	if maxResults <= 0 {
		maxResults = DefaultConfig().MaxResults
	}

	unique := uniqueQuestions(questions)
	results := make(SearchResults, len(unique))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.SearchWorkers)

	for i, q := range unique {
		g.Go(func() error {
			evidence, err := e.searchOne(gctx, q, maxResults, cfg.SearchTimeout)
			if err != nil {
				return fmt.Errorf("search for %q: %w", q, err)
			}
			results[i] = QuestionEvidence{Question: q, Evidence: evidence}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		e.log().Error("Search phase failed", "error", err)
		return nil, err
	}

	e.log().Info("Search phase complete", "questions", len(results))
	return results, nil
}

func (e *Engine) searchOne(ctx context.Context, query string, maxResults int, timeout time.Duration) ([]Evidence, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	hits, err := e.Searcher.Search(ctx, query, maxResults)
	metrics.SearchRequestDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.SearchRequestsTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	metrics.SearchRequestsTotal.WithLabelValues("success").Inc()

	if len(hits) > maxResults {
		hits = hits[:maxResults]
	}
	evidence := make([]Evidence, len(hits))
	copy(evidence, hits)
	return evidence, nil
}

func uniqueQuestions(questions []string) []string {
	seen := make(map[string]bool, len(questions))
	out := make([]string, 0, len(questions))
	for _, q := range questions {
		q = strings.TrimSpace(q)
		if q == "" || seen[q] {
			continue
		}
		seen[q] = true
		out = append(out, q)
	}
	return out
}
