package aggregator

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/go-github/v55/github"

	"github.com/kurihiro0119/github-contrib-collector/internal/domain"
)

// ParsePullRequest builds a stage-1 row from a main_pull.json body
func ParsePullRequest(data []byte, repo domain.Repository, st domain.PullState) (domain.PullRequestRecord, error) {
	var pr github.PullRequest
	if err := json.Unmarshal(data, &pr); err != nil {
		return domain.PullRequestRecord{}, fmt.Errorf("failed to decode pull request: %w", err)
	}
	if pr.Number == nil {
		return domain.PullRequestRecord{}, fmt.Errorf("pull request has no number")
	}

	return domain.PullRequestRecord{
		Login:          pr.GetUser().GetLogin(),
		UserID:         pr.GetUser().GetID(),
		Repo:           repo.Slug(),
		Number:         pr.GetNumber(),
		State:          st.Label(),
		CreatedAt:      formatTime(pr.CreatedAt),
		ClosedAt:       formatTime(pr.ClosedAt),
		ReviewComments: pr.GetReviewComments(),
		Commits:        pr.GetCommits(),
		Additions:      pr.GetAdditions(),
		Deletions:      pr.GetDeletions(),
		ChangedFiles:   pr.GetChangedFiles(),
	}, nil
}

// ParseUser builds a users_data.csv row from a user body
func ParseUser(data []byte) (domain.UserRecord, error) {
	var u github.User
	if err := json.Unmarshal(data, &u); err != nil {
		return domain.UserRecord{}, fmt.Errorf("failed to decode user: %w", err)
	}
	if u.ID == nil {
		return domain.UserRecord{}, fmt.Errorf("user has no id")
	}

	return domain.UserRecord{
		Login:       u.GetLogin(),
		ID:          u.GetID(),
		PublicRepos: u.GetPublicRepos(),
		PublicGists: u.GetPublicGists(),
		Followers:   u.GetFollowers(),
		Following:   u.GetFollowing(),
		CreatedAt:   formatTime(u.CreatedAt),
	}, nil
}

// ParseCommits reads a commit_level.json body (the commits of one pull request)
func ParseCommits(data []byte, number int, st domain.PullState) ([]domain.CommitRecord, error) {
	var commits []*github.RepositoryCommit
	if err := json.Unmarshal(data, &commits); err != nil {
		return nil, fmt.Errorf("failed to decode commits: %w", err)
	}

	records := make([]domain.CommitRecord, 0, len(commits))
	for _, c := range commits {
		author := c.GetCommit().GetAuthor()
		records = append(records, domain.CommitRecord{
			Email:      author.GetEmail(),
			Name:       author.GetName(),
			AuthorID:   c.GetAuthor().GetID(),
			SHA:        c.GetSHA(),
			PullNumber: number,
			State:      st,
		})
	}
	return records, nil
}

// ParseSearchNumbers returns the issue numbers and creation times of a search page
func ParseSearchNumbers(data []byte) (numbers []int, created []time.Time, total int, err error) {
	var result github.IssuesSearchResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, nil, 0, fmt.Errorf("failed to decode search result: %w", err)
	}
	for _, issue := range result.Issues {
		numbers = append(numbers, issue.GetNumber())
		created = append(created, issue.GetCreatedAt().Time)
	}
	return numbers, created, result.GetTotal(), nil
}

// ParseRepositorySearch returns the repositories of a repository search page
func ParseRepositorySearch(data []byte) ([]domain.Repository, int, error) {
	var result github.RepositoriesSearchResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, 0, fmt.Errorf("failed to decode search result: %w", err)
	}
	repos := make([]domain.Repository, 0, len(result.Repositories))
	for _, r := range result.Repositories {
		repos = append(repos, domain.Repository{Owner: r.GetOwner().GetLogin(), Name: r.GetName()})
	}
	return repos, result.GetTotal(), nil
}

func formatTime(ts *github.Timestamp) string {
	if ts == nil || ts.Time.IsZero() {
		return ""
	}
	return ts.Time.UTC().Format(time.RFC3339)
}
