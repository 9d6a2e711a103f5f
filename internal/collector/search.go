package collector

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/kurihiro0119/github-contrib-collector/internal/aggregator"
	"github.com/kurihiro0119/github-contrib-collector/internal/domain"
	apperrors "github.com/kurihiro0119/github-contrib-collector/internal/errors"
	"github.com/kurihiro0119/github-contrib-collector/internal/fetcher"
	"github.com/kurihiro0119/github-contrib-collector/internal/logger"
)

const (
	searchPerPage = 100
	// the search API returns at most this many results per query
	searchWindow   = 1000
	searchAttempts = 5
	MaxDiscovered  = 1000
)

// Searcher resolves entity ids through the search API
type Searcher struct {
	fetcher *fetcher.Fetcher
	logger  logger.Logger
	backoff time.Duration
	sleep   fetcher.SleepFunc
}

// NewSearcher creates a new searcher
func NewSearcher(f *fetcher.Fetcher, log logger.Logger) *Searcher {
	if log == nil {
		log = logger.Discard{}
	}
	return &Searcher{fetcher: f, logger: log, backoff: time.Second, sleep: fetcher.Sleep}
}

// PullNumbers returns every pull request number of repo in the given state, newest first.
// Once a query has paged through the 1000-result window it is narrowed with
// created:<=oldest-seen, so pull requests sharing the boundary second are not lost,
// and paging starts over. A narrowed pass that finds nothing new switches to a
// strict created:< bound to make progress.
func (s *Searcher) PullNumbers(ctx context.Context, repo domain.Repository, st domain.PullState) ([]int, error) {
	base := fmt.Sprintf("is:pr %s repo:%s", st.Qualifier(), repo.FullName())
	query := base
	strict := false

	seen := make(map[int]bool)
	var numbers []int
	for {
		var oldest time.Time
		added, returned := 0, 0
		exhausted := false
		for page := 1; page <= searchWindow/searchPerPage; page++ {
			params := url.Values{}
			params.Set("q", query)
			params.Set("sort", "created")
			params.Set("order", "desc")
			params.Set("per_page", strconv.Itoa(searchPerPage))
			params.Set("page", strconv.Itoa(page))

			body, err := s.get(ctx, "search/issues", params)
			if err != nil {
				return nil, err
			}
			found, created, total, err := aggregator.ParseSearchNumbers(body)
			if err != nil {
				return nil, apperrors.NewTransientError("search "+query, err)
			}

			for i, n := range found {
				if !seen[n] {
					seen[n] = true
					numbers = append(numbers, n)
					added++
				}
				oldest = created[i]
			}
			returned += len(found)
			// a short page or a query whose every match was returned ends the search
			if len(found) < searchPerPage || (total > 0 && returned >= total) {
				exhausted = true
				break
			}
		}

		if exhausted || oldest.IsZero() {
			break
		}
		if added == 0 {
			if strict {
				break
			}
			strict = true
		} else {
			strict = false
		}

		op := "<="
		if strict {
			op = "<"
		}
		query = base + " created:" + op + oldest.UTC().Format(time.RFC3339)
		s.logger.Info(ctx, "%s: search window full at %d results, narrowing to %s", repo, len(numbers), query)
	}

	s.logger.Info(ctx, "%s: %d %s pull requests", repo, len(numbers), st.DirName())
	return numbers, nil
}

// TopRepositories returns up to limit repositories with at least minStars stars, most starred first
func (s *Searcher) TopRepositories(ctx context.Context, minStars, limit int) ([]domain.Repository, error) {
	if limit <= 0 || limit > MaxDiscovered {
		limit = MaxDiscovered
	}

	var repos []domain.Repository
	for page := 1; len(repos) < limit && page <= searchWindow/searchPerPage; page++ {
		params := url.Values{}
		params.Set("q", fmt.Sprintf("stars:>=%d", minStars))
		params.Set("sort", "stars")
		params.Set("order", "desc")
		params.Set("per_page", strconv.Itoa(searchPerPage))
		params.Set("page", strconv.Itoa(page))

		body, err := s.get(ctx, "search/repositories", params)
		if err != nil {
			return nil, err
		}
		found, _, err := aggregator.ParseRepositorySearch(body)
		if err != nil {
			return nil, apperrors.NewTransientError("search repositories", err)
		}
		repos = append(repos, found...)
		if len(found) < searchPerPage {
			break
		}
	}

	if len(repos) > limit {
		repos = repos[:limit]
	}
	return repos, nil
}

// get fetches one search page, retrying retryable failures with a doubling backoff
func (s *Searcher) get(ctx context.Context, path string, params url.Values) ([]byte, error) {
	wait := s.backoff
	var lastErr error
	for attempt := 1; attempt <= searchAttempts; attempt++ {
		resp, err := s.fetcher.Fetch(ctx, path, s.fetcher.Rotator().Current(), params)
		if err == nil {
			return resp.Body, nil
		}
		lastErr = err
		if !apperrors.IsRetryable(err) || attempt == searchAttempts {
			break
		}
		s.logger.Warn(ctx, "search %q failed (attempt %d/%d): %v", params.Get("q"), attempt, searchAttempts, err)
		if serr := s.sleep(ctx, wait); serr != nil {
			return nil, apperrors.NewCanceledError(serr)
		}
		wait *= 2
	}
	return nil, lastErr
}
