package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kurihiro0119/github-contrib-collector/internal/domain"
	apperrors "github.com/kurihiro0119/github-contrib-collector/internal/errors"
	"github.com/kurihiro0119/github-contrib-collector/internal/fetcher"
	"github.com/kurihiro0119/github-contrib-collector/internal/layout"
	"github.com/kurihiro0119/github-contrib-collector/internal/logger"
	"github.com/kurihiro0119/github-contrib-collector/internal/pool"
)

// Collector names
const (
	NamePulls   = "pulls"
	NameUsers   = "users"
	NameCommits = "commits"
)

// Collector defines the interface for collecting one entity kind of a repository
type Collector interface {
	// Name returns the collector name used in batches and --only
	Name() string

	// Collect fetches the raw JSON of the repository and derives its CSV files
	Collect(ctx context.Context, repo domain.Repository) (*Result, error)

	// Aggregate re-derives the CSV files from JSON already on disk
	Aggregate(ctx context.Context, repo domain.Repository) (*Result, error)
}

// Result describes one collector run
type Result struct {
	Collector string
	Repo      domain.Repository
	Jobs      int
	Report    *pool.Report // nil when nothing was fetched
	Records   []domain.PullRequestRecord
	Rows      int
}

// Fetched returns the number of jobs that succeeded
func (r *Result) Fetched() int {
	if r == nil || r.Report == nil {
		return 0
	}
	return r.Report.Succeeded
}

// DeadLetters returns the abandoned jobs
func (r *Result) DeadLetters() []pool.DeadLetter {
	if r == nil || r.Report == nil {
		return nil
	}
	return r.Report.DeadLetters
}

// Deps are the collaborators every collector shares
type Deps struct {
	Fetcher      *fetcher.Fetcher
	Target       *layout.Target
	Logger       logger.Logger
	Pool         pool.Options
	SkipExisting bool
}

func (d *Deps) logger() logger.Logger {
	if d.Logger == nil {
		return logger.Discard{}
	}
	return d.Logger
}

// fetchToFile is the pool handler shared by all collectors: GET the job URL with the
// credential currently in use and store the body at the job destination.
func (d *Deps) fetchToFile(ctx context.Context, job domain.FetchJob) error {
	resp, err := d.Fetcher.Fetch(ctx, job.URL, d.Fetcher.Rotator().Current(), nil)
	if err != nil {
		return err
	}
	if !json.Valid(resp.Body) {
		return apperrors.NewTransientError(fmt.Sprintf("GET %s: malformed JSON body", job.URL), nil)
	}
	if err := writeFileAtomic(job.Destination, resp.Body); err != nil {
		// a tree that cannot be written fails every later job too
		return apperrors.NewFatalError("failed to store "+job.Destination, err)
	}
	return nil
}

// run executes jobs on the pool and logs the outcome
func (d *Deps) run(ctx context.Context, name string, repo domain.Repository, jobs []domain.FetchJob) (*pool.Report, error) {
	log := d.logger()
	log.Info(ctx, "%s: fetching %d %s", repo, len(jobs), name)

	rep, err := pool.Run(ctx, jobs, d.fetchToFile, d.Pool)
	if rep != nil {
		log.Info(ctx, "%s: %s done, %d fetched, %d dead-lettered, %d attempts",
			repo, name, rep.Succeeded, len(rep.DeadLetters), rep.Attempts)
		for _, dl := range rep.DeadLetters {
			if apperrors.CodeOf(dl.Err) == apperrors.ErrCodeCanceled {
				continue
			}
			log.Error(ctx, "%s: gave up on %s after %d attempt(s): %v", repo, dl.Job.URL, dl.Attempts, dl.Err)
		}
	}
	return rep, err
}

// writeFileAtomic writes data next to path and renames it into place, so a file that
// exists is always complete. The parent directory must exist.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".fetch-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return nil
}
