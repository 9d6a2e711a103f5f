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

// UserCollector downloads the profile of every pull request author
type UserCollector struct {
	deps *Deps
}

// NewUserCollector creates a new user collector
func NewUserCollector(deps *Deps) *UserCollector {
	return &UserCollector{deps: deps}
}

// Name returns "users"
func (c *UserCollector) Name() string { return NameUsers }

// Collect fetches the authors found in the stage-1 files of repo
func (c *UserCollector) Collect(ctx context.Context, repo domain.Repository) (*Result, error) {
	target := c.deps.Target
	if err := target.EnsureRepo(repo); err != nil {
		return nil, apperrors.NewFatalError("failed to prepare directories", err)
	}

	ids, err := c.userIDs(repo)
	if err != nil {
		return nil, apperrors.NewFatalError("failed to read pull request authors", err)
	}

	var jobs []domain.FetchJob
	for _, id := range ids {
		dest := target.UserFile(repo, id)
		if c.deps.SkipExisting && layout.FileExists(dest) {
			continue
		}
		jobs = append(jobs, domain.FetchJob{
			Kind:        domain.EntityUser,
			EntityID:    strconv.FormatInt(id, 10),
			URL:         fmt.Sprintf("user/%d", id),
			Destination: dest,
		})
	}

	rep, err := c.deps.run(ctx, "users", repo, jobs)
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

// Aggregate writes users_data.csv from the user files on disk
func (c *UserCollector) Aggregate(ctx context.Context, repo domain.Repository) (*Result, error) {
	target := c.deps.Target
	log := c.deps.logger()

	ids, err := c.userIDs(repo)
	if err != nil {
		return nil, apperrors.NewFatalError("failed to read pull request authors", err)
	}

	var users []domain.UserRecord
	for _, id := range ids {
		path := target.UserFile(repo, id)
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				log.Warn(ctx, "%s: skipping %s: %v", repo, path, err)
			}
			continue
		}
		u, err := aggregator.ParseUser(data)
		if err != nil {
			log.Warn(ctx, "%s: skipping %s: %v", repo, path, err)
			continue
		}
		users = append(users, u)
	}

	res := &Result{Collector: c.Name(), Repo: repo}
	if len(users) == 0 {
		return res, nil
	}
	if err := report.WriteUsers(target.UsersCSVFile(repo), users); err != nil {
		return nil, apperrors.NewFatalError("failed to write users report", err)
	}
	res.Rows = len(users)
	log.Info(ctx, "%s: wrote %d users", repo, len(users))
	return res, nil
}

// userIDs reads the distinct author ids from the stage-1 files of every state
func (c *UserCollector) userIDs(repo domain.Repository) ([]int64, error) {
	var all []domain.PullRequestRecord
	for _, st := range domain.AllPullStates() {
		path := c.deps.Target.StageFile(repo, st, 1)
		if !layout.FileExists(path) {
			continue
		}
		records, err := report.ReadPullRequests(path)
		if err != nil {
			return nil, err
		}
		all = append(all, records...)
	}
	return aggregator.UserIDs(all), nil
}
