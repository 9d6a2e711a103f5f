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

// CommitCollector downloads the commit list of every collected pull request
type CommitCollector struct {
	deps *Deps
}

// NewCommitCollector creates a new commit collector
func NewCommitCollector(deps *Deps) *CommitCollector {
	return &CommitCollector{deps: deps}
}

// Name returns "commits"
func (c *CommitCollector) Name() string { return NameCommits }

// Collect fetches commit_level.json for every pull request folder of repo
func (c *CommitCollector) Collect(ctx context.Context, repo domain.Repository) (*Result, error) {
	target := c.deps.Target
	if err := target.EnsureRepo(repo); err != nil {
		return nil, apperrors.NewFatalError("failed to prepare directories", err)
	}

	var jobs []domain.FetchJob
	for _, st := range domain.AllPullStates() {
		numbers, err := target.PullNumbers(repo, st)
		if err != nil {
			return nil, apperrors.NewFatalError("failed to list pull requests", err)
		}
		if err := target.CreateCommitDirs(repo, st, numbers); err != nil {
			return nil, apperrors.NewFatalError("failed to create commit folders", err)
		}
		for _, n := range numbers {
			dest := target.CommitFile(repo, st, n)
			if c.deps.SkipExisting && st != domain.PullOpen && layout.FileExists(dest) {
				continue
			}
			jobs = append(jobs, domain.FetchJob{
				Kind:        domain.EntityCommit,
				EntityID:    strconv.Itoa(n),
				URL:         fmt.Sprintf("repos/%s/%s/pulls/%d/commits?per_page=100", repo.Owner, repo.Name, n),
				Destination: dest,
			})
		}
	}

	rep, err := c.deps.run(ctx, "pull request commits", repo, jobs)
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

// Aggregate writes the commit author files from commit_level.json files on disk
func (c *CommitCollector) Aggregate(ctx context.Context, repo domain.Repository) (*Result, error) {
	target := c.deps.Target
	log := c.deps.logger()

	var commits []domain.CommitRecord
	for _, st := range domain.AllPullStates() {
		numbers, err := target.PullNumbers(repo, st)
		if err != nil {
			return nil, apperrors.NewFatalError("failed to list pull requests", err)
		}
		for _, n := range numbers {
			path := target.CommitFile(repo, st, n)
			data, err := os.ReadFile(path)
			if err != nil {
				if !os.IsNotExist(err) {
					log.Warn(ctx, "%s: skipping %s: %v", repo, path, err)
				}
				continue
			}
			parsed, err := aggregator.ParseCommits(data, n, st)
			if err != nil {
				log.Warn(ctx, "%s: skipping %s: %v", repo, path, err)
				continue
			}
			commits = append(commits, parsed...)
		}
	}

	res := &Result{Collector: c.Name(), Repo: repo}
	if len(commits) == 0 {
		return res, nil
	}

	authors := aggregator.CommitAuthors(commits)
	if err := report.WriteCommitAuthors(target.CommitAuthorsFile(repo), authors); err != nil {
		return nil, apperrors.NewFatalError("failed to write commit authors", err)
	}
	if err := report.WriteCommitAuthors(target.DriveByCommitsFile(repo), aggregator.DriveByCommitAuthors(authors)); err != nil {
		return nil, apperrors.NewFatalError("failed to write drive-by commit authors", err)
	}
	res.Rows = len(authors)
	log.Info(ctx, "%s: wrote %d commit authors from %d commits", repo, len(authors), len(commits))
	return res, nil
}
