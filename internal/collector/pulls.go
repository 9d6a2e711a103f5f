package collector

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/kurihiro0119/github-contrib-collector/internal/aggregator"
	"github.com/kurihiro0119/github-contrib-collector/internal/domain"
	apperrors "github.com/kurihiro0119/github-contrib-collector/internal/errors"
	"github.com/kurihiro0119/github-contrib-collector/internal/layout"
	"github.com/kurihiro0119/github-contrib-collector/internal/report"
)

// PullRequestCollector downloads every pull request of a repository and writes the
// stage 1 to 3 and drive-by files of each state.
type PullRequestCollector struct {
	deps     *Deps
	searcher *Searcher
}

// NewPullRequestCollector creates a new pull request collector
func NewPullRequestCollector(deps *Deps, searcher *Searcher) *PullRequestCollector {
	return &PullRequestCollector{deps: deps, searcher: searcher}
}

// Name returns "pulls"
func (c *PullRequestCollector) Name() string { return NamePulls }

// Collect resolves, fetches and aggregates the pull requests of repo
func (c *PullRequestCollector) Collect(ctx context.Context, repo domain.Repository) (*Result, error) {
	target := c.deps.Target
	if err := target.EnsureRepo(repo); err != nil {
		return nil, apperrors.NewFatalError("failed to prepare directories", err)
	}

	numbers := make(map[domain.PullState][]int)
	for _, st := range domain.AllPullStates() {
		found, err := c.searcher.PullNumbers(ctx, repo, st)
		if err != nil {
			if ctx.Err() != nil {
				return nil, apperrors.NewCanceledError(ctx.Err())
			}
			return nil, apperrors.NewFatalError(fmt.Sprintf("failed to resolve %s pull requests", st.DirName()), err)
		}
		numbers[st] = found
	}

	if err := c.removeMoved(ctx, repo, numbers); err != nil {
		return nil, apperrors.NewFatalError("failed to remove moved pull requests", err)
	}
	// open pull requests change between runs
	if err := target.ResetPullState(repo, domain.PullOpen); err != nil {
		return nil, apperrors.NewFatalError("failed to reset open pull requests", err)
	}

	var jobs []domain.FetchJob
	for _, st := range domain.AllPullStates() {
		if err := target.CreatePullDirs(repo, st, numbers[st]); err != nil {
			return nil, apperrors.NewFatalError("failed to create pull request folders", err)
		}
		for _, n := range numbers[st] {
			dest := target.PullFile(repo, st, n)
			if c.deps.SkipExisting && st != domain.PullOpen && layout.FileExists(dest) {
				continue
			}
			jobs = append(jobs, domain.FetchJob{
				Kind:        domain.EntityPull,
				EntityID:    strconv.Itoa(n),
				URL:         fmt.Sprintf("repos/%s/%s/pulls/%d", repo.Owner, repo.Name, n),
				Destination: dest,
			})
		}
	}

	rep, err := c.deps.run(ctx, "pull requests", repo, jobs)
	if err != nil {
		return &Result{Collector: c.Name(), Repo: repo, Jobs: len(jobs), Report: rep}, err
	}

	res, err := c.Aggregate(ctx, repo)
	if err != nil {
		return nil, err
	}
	res.Jobs = len(jobs)
	res.Report = rep
	return res, nil
}

// Aggregate builds the pull request CSV files from main_pull.json files on disk
func (c *PullRequestCollector) Aggregate(ctx context.Context, repo domain.Repository) (*Result, error) {
	target := c.deps.Target
	log := c.deps.logger()
	res := &Result{Collector: c.Name(), Repo: repo}

	for _, st := range domain.AllPullStates() {
		numbers, err := target.PullNumbers(repo, st)
		if err != nil {
			return nil, apperrors.NewFatalError("failed to list pull requests", err)
		}

		var records []domain.PullRequestRecord
		for _, n := range numbers {
			path := target.PullFile(repo, st, n)
			data, err := os.ReadFile(path)
			if err != nil {
				if !os.IsNotExist(err) {
					log.Warn(ctx, "%s: skipping %s: %v", repo, path, err)
				}
				continue
			}
			rec, err := aggregator.ParsePullRequest(data, repo, st)
			if err != nil {
				log.Warn(ctx, "%s: skipping %s: %v", repo, path, err)
				continue
			}
			records = append(records, rec)
		}
		if len(records) == 0 {
			if err := target.RemovePullReports(repo, st); err != nil {
				return nil, apperrors.NewFatalError("failed to remove stale pull request reports", err)
			}
			continue
		}

		if err := writePullReports(target, repo, st, records); err != nil {
			return nil, apperrors.NewFatalError("failed to write pull request reports", err)
		}
		res.Records = append(res.Records, records...)
		res.Rows += len(records)
		log.Info(ctx, "%s: wrote %d %s pull requests", repo, len(records), st.DirName())
	}
	return res, nil
}

// removeMoved deletes folders left in a state the pull request no longer has,
// such as a closed pull request that was reopened and merged since the last run.
func (c *PullRequestCollector) removeMoved(ctx context.Context, repo domain.Repository, resolved map[domain.PullState][]int) error {
	target := c.deps.Target
	current := make(map[int]domain.PullState)
	for st, numbers := range resolved {
		for _, n := range numbers {
			current[n] = st
		}
	}

	for _, st := range domain.AllPullStates() {
		existing, err := target.PullNumbers(repo, st)
		if err != nil {
			return err
		}
		for _, n := range existing {
			now, ok := current[n]
			if !ok || now == st {
				continue
			}
			if err := target.RemovePull(repo, st, n); err != nil {
				return err
			}
			c.deps.logger().Info(ctx, "%s: pull request %d moved from %s to %s", repo, n, st.DirName(), now.DirName())
		}
	}
	return nil
}

// ReadAuthors returns the stage-2 rows written for a state by the last aggregation
func ReadAuthors(target *layout.Target, repo domain.Repository, st domain.PullState) ([]domain.AuthorCount, error) {
	path := target.StageFile(repo, st, 2)
	if !layout.FileExists(path) {
		return nil, apperrors.NewNotFoundError(path)
	}
	return report.ReadAuthorCounts(path)
}

// ReadSummary counts the stage-1 rows on disk per state
func ReadSummary(target *layout.Target, repo domain.Repository) ([]domain.StateSummary, error) {
	var records []domain.PullRequestRecord
	for _, st := range domain.AllPullStates() {
		path := target.StageFile(repo, st, 1)
		if !layout.FileExists(path) {
			continue
		}
		rows, err := report.ReadPullRequests(path)
		if err != nil {
			return nil, err
		}
		records = append(records, rows...)
	}
	return aggregator.Summarize(records), nil
}

func writePullReports(target *layout.Target, repo domain.Repository, st domain.PullState, records []domain.PullRequestRecord) error {
	stage2 := aggregator.Stage2(records)

	if err := report.WritePullRequests(target.StageFile(repo, st, 1), records); err != nil {
		return err
	}
	if err := report.WriteAuthorCounts(target.StageFile(repo, st, 2), stage2); err != nil {
		return err
	}
	if err := report.WriteHistogram(target.StageFile(repo, st, 3), aggregator.Stage3(stage2)); err != nil {
		return err
	}
	return report.WriteDriveBy(target.DriveByFile(repo, st), aggregator.DriveBy(stage2))
}
