// Package resolver turns a stream title and season hint into a catalog
// anime id, trying season-qualified query variants before falling back
// to the bare title.
package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/vualdirr/Hyak-Tracker/internal/hyakanime"
	"github.com/vualdirr/Hyak-Tracker/internal/match"
)

// DefaultLimit is how many ranked candidates a resolution keeps.
const DefaultLimit = 6

// Searcher is the catalog search dependency.
type Searcher interface {
	SearchAnime(ctx context.Context, query string) ([]hyakanime.AnimeSummary, error)
}

// Request describes one resolution attempt.
type Request struct {
	Title  string
	Season int // 0 or 1 = no season qualification
	Limit  int // 0 = DefaultLimit
}

// QueryAttempt records the outcome of a single search query for
// diagnostics.
type QueryAttempt struct {
	Query string
	Hits  int
	Err   error
}

// Result is the outcome of a resolution.
type Result struct {
	// Found is the best candidate, nil when nothing matched.
	Found  *match.Ranked
	Ranked []match.Ranked
	Tried  []QueryAttempt
}

// Resolver runs multi-query catalog resolution.
type Resolver struct {
	search Searcher
	logger *slog.Logger
}

// New creates a resolver.
func New(search Searcher, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{search: search, logger: logger}
}

// Resolve searches the catalog with the query plan for the request and
// ranks the merged candidate pool against the plain title. Individual
// query failures are soft; Resolve errors only when every query failed
// and no candidate was collected.
func (r *Resolver) Resolve(ctx context.Context, req Request) (*Result, error) {
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return nil, fmt.Errorf("resolver: empty title")
	}

	limit := req.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}

	res := &Result{}
	seen := make(map[int]bool)
	var pool []hyakanime.AnimeSummary
	failures := 0

	queries := buildQueries(title, req.Season)
	for _, q := range queries {
		hits, err := r.search.SearchAnime(ctx, q)
		res.Tried = append(res.Tried, QueryAttempt{Query: q, Hits: len(hits), Err: err})
		if err != nil {
			failures++
			r.logger.Warn("search query failed", "query", q, "error", err)
			continue
		}

		// First occurrence of an id wins so season-qualified queries,
		// which run first, keep their match provenance.
		for _, h := range hits {
			if seen[h.ID] {
				continue
			}
			seen[h.ID] = true
			pool = append(pool, h)
		}
	}

	if len(pool) == 0 {
		if failures == len(queries) && failures > 0 {
			return nil, fmt.Errorf("resolver: all %d queries failed", failures)
		}
		return res, nil
	}

	// Truncate before the season re-sort: only candidates that made the
	// cut on score are eligible for promotion, so a weak match that
	// merely names the season cannot jump in from beyond the cutoff.
	ranked := match.Rank(pool, title)
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	ranked = reorderForSeason(ranked, title, req.Season)
	res.Ranked = ranked
	if len(ranked) > 0 {
		res.Found = &ranked[0]
	}

	return res, nil
}

// buildQueries returns the search plan. Season 2 and above get
// season-qualified variants first; the bare title is always the last
// fallback.
func buildQueries(title string, season int) []string {
	if season <= 1 {
		return []string{title}
	}
	return []string{
		fmt.Sprintf("%s saison %d", title, season),
		fmt.Sprintf("%s season %d", title, season),
		fmt.Sprintf("%s s%d", title, season),
		title,
	}
}

// reorderForSeason promotes entries whose matched variant names the
// wanted season, then drops entries matching the bare root title. The
// drop is skipped when it would leave nothing, so a franchise with no
// per-season catalog entries still resolves.
func reorderForSeason(ranked []match.Ranked, title string, season int) []match.Ranked {
	if season <= 1 || len(ranked) == 0 {
		return ranked
	}

	markers := []string{
		fmt.Sprintf("saison %d", season),
		fmt.Sprintf("season %d", season),
		fmt.Sprintf("s%d", season),
	}

	var seasonal, rest []match.Ranked
	for _, e := range ranked {
		nm := match.Normalize(e.MatchedOn)
		if containsAny(nm, markers) {
			seasonal = append(seasonal, e)
		} else {
			rest = append(rest, e)
		}
	}
	ordered := append(seasonal, rest...)

	root := match.Normalize(title)
	filtered := ordered[:0:0]
	for _, e := range ordered {
		if match.Normalize(e.MatchedOn) == root {
			continue
		}
		filtered = append(filtered, e)
	}
	if len(filtered) == 0 {
		return ordered
	}
	return filtered
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
