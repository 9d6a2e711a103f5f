package collector

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/kurihiro0119/github-contrib-collector/internal/domain"
	apperrors "github.com/kurihiro0119/github-contrib-collector/internal/errors"
	"github.com/kurihiro0119/github-contrib-collector/internal/layout"
	"github.com/kurihiro0119/github-contrib-collector/internal/logger"
	"github.com/kurihiro0119/github-contrib-collector/internal/report"
	"github.com/kurihiro0119/github-contrib-collector/internal/storage"
)

// Runner drives a set of collectors over a list of repositories and records each
// collector run as a batch when a store is configured.
type Runner struct {
	Collectors []Collector
	Store      storage.Storage // optional
	Logger     logger.Logger
	Now        func() time.Time

	// Fresh deletes a repository's existing tree under Target before collecting it
	Fresh  bool
	Target *layout.Target
}

// Summary counts the outcome of a run
type Summary struct {
	Repos        int
	Batches      int
	Failed       int
	Fetched      int
	DeadLettered int
	Rows         int
}

// Run collects every repository with every collector in order. A failing repository
// is logged and skipped; only cancellation stops the run.
func (r *Runner) Run(ctx context.Context, repos []domain.Repository) (*Summary, error) {
	return r.each(ctx, repos, true)
}

// Aggregate re-derives the CSV files of every repository from JSON already on disk
func (r *Runner) Aggregate(ctx context.Context, repos []domain.Repository) (*Summary, error) {
	return r.each(ctx, repos, false)
}

func (r *Runner) each(ctx context.Context, repos []domain.Repository, fetch bool) (*Summary, error) {
	log := r.logger()
	sum := &Summary{}

	for _, repo := range repos {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		sum.Repos++
		log.Info(ctx, "%s: start", repo)

		if fetch && r.Fresh && r.Target != nil && r.Target.RepoExists(repo) {
			if err := r.Target.DeleteRepo(repo); err != nil {
				sum.Failed++
				log.Error(ctx, "%s: %v", repo, err)
				continue
			}
			log.Info(ctx, "%s: removed the previous download", repo)
		}

		for _, c := range r.Collectors {
			batch := &domain.CollectionBatch{
				ID:        uuid.New().String(),
				Repo:      repo.FullName(),
				Collector: c.Name(),
				Status:    domain.BatchStatusInProgress,
				StartedAt: r.now(),
			}
			r.saveBatch(ctx, batch)

			var res *Result
			var err error
			if fetch {
				res, err = c.Collect(ctx, repo)
			} else {
				res, err = c.Aggregate(ctx, repo)
			}

			r.finish(ctx, batch, res, err)
			sum.Batches++
			if res != nil {
				sum.Fetched += res.Fetched()
				sum.DeadLettered += len(res.DeadLetters())
				sum.Rows += res.Rows
			}

			if err != nil {
				sum.Failed++
				if ctx.Err() != nil {
					return sum, ctx.Err()
				}
				log.Error(ctx, "%s: %s failed: %v", repo, c.Name(), err)
				// later collectors read what this one wrote
				break
			}
		}
		log.Info(ctx, "%s: done", repo)
	}
	return sum, nil
}

// finish closes the batch and stores its dead letters and pull request rows
func (r *Runner) finish(ctx context.Context, batch *domain.CollectionBatch, res *Result, runErr error) {
	finished := r.now()
	batch.FinishedAt = &finished

	switch {
	case runErr != nil:
		batch.Status = domain.BatchStatusFailed
		batch.Error = runErr.Error()
	case len(res.DeadLetters()) > 0:
		batch.Status = domain.BatchStatusPartial
	default:
		batch.Status = domain.BatchStatusCompleted
	}
	if res != nil {
		batch.Jobs = res.Jobs
		batch.Fetched = res.Fetched()
		batch.DeadLettered = len(res.DeadLetters())
	}

	if r.Store == nil {
		return
	}
	// history writes must survive a canceled run
	ctx = context.WithoutCancel(ctx)
	log := r.logger()

	r.saveBatch(ctx, batch)

	if res == nil {
		return
	}
	if letters := res.DeadLetters(); len(letters) > 0 {
		rows := make([]*domain.DeadLetter, 0, len(letters))
		for _, dl := range letters {
			rows = append(rows, &domain.DeadLetter{
				ID:          uuid.New().String(),
				BatchID:     batch.ID,
				Repo:        batch.Repo,
				Kind:        dl.Job.Kind,
				EntityID:    dl.Job.EntityID,
				URL:         dl.Job.URL,
				Destination: dl.Job.Destination,
				Attempts:    dl.Attempts,
				Code:        string(apperrors.CodeOf(dl.Err)),
				Error:       errString(dl.Err),
				CreatedAt:   finished,
			})
		}
		if err := r.Store.SaveDeadLetters(ctx, rows); err != nil {
			log.Error(ctx, "failed to save dead letters of batch %s: %v", batch.ID, err)
		}
	}
	if runErr == nil && batch.Collector == NamePulls {
		if err := r.Store.SavePullRequests(ctx, res.Repo, res.Records); err != nil {
			log.Error(ctx, "failed to save pull requests of %s: %v", batch.Repo, err)
		}
	}
}

func (r *Runner) saveBatch(ctx context.Context, batch *domain.CollectionBatch) {
	if r.Store == nil {
		return
	}
	if err := r.Store.SaveBatch(ctx, batch); err != nil {
		r.logger().Error(ctx, "failed to save batch %s: %v", batch.ID, err)
	}
}

func (r *Runner) logger() logger.Logger {
	if r.Logger == nil {
		return logger.Discard{}
	}
	return r.Logger
}

func (r *Runner) now() time.Time {
	if r.Now != nil {
		return r.Now().UTC()
	}
	return time.Now().UTC()
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// Discover writes collected_repos.txt with the most starred repositories
func Discover(ctx context.Context, s *Searcher, target *layout.Target, minStars, repoCap int) ([]domain.Repository, error) {
	if err := target.EnsureBase(); err != nil {
		return nil, apperrors.NewFatalError("failed to prepare target directory", err)
	}
	repos, err := s.TopRepositories(ctx, minStars, repoCap)
	if err != nil {
		return nil, err
	}
	if err := target.WriteCollectedRepos(repoCap, repos); err != nil {
		return nil, apperrors.NewFatalError("failed to write repository list", err)
	}
	s.logger.Info(ctx, "discovered %d repositories with at least %d stars", len(repos), minStars)
	return repos, nil
}

// Combine concatenates every stage-1 file in the tree into the combined pull request file
func Combine(target *layout.Target) (int, error) {
	files, err := target.StageFiles()
	if err != nil {
		return 0, err
	}
	if err := target.EnsureBase(); err != nil {
		return 0, err
	}
	return report.CombinePullRequests(target.CombinedPullsPath(), files)
}
