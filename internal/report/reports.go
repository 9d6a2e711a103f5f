package report

import (
	"fmt"
	"strconv"

	"github.com/kurihiro0119/github-contrib-collector/internal/domain"
)

// Report headers
var (
	StageOneHeader = []string{
		"GITHUB USERNAME", "GITHUB ID", "REPO", "PR#", "PR STATE", "DATE CREATED", "DATE CLOSED",
		"# REVIEW COMMENTS", "# COMMITS", "# ADDITIONS", "# DELETIONS", "# FILES CHANGED",
	}
	StageTwoHeader      = []string{"DEVELOPER", "GITHUB ID", "#PULLS"}
	StageThreeHeader    = []string{"#DEVS", "#PULLS"}
	DriveByHeader       = []string{"DEVELOPER", "GITHUB ID"}
	UsersHeader         = []string{"GITHUB USERNAME", "GITHUB ID", "# OF PUBLIC REPOS", "# OF PUBLIC GISTS", "# OF FOLLOWERS", "# OF USER IS FOLLOWING", "CREATED DATE"}
	CommitAuthorsHeader = []string{"EMAIL", "NAME", "GITHUB ID", "# COMMITS"}
)

func itoa(n int) string     { return strconv.Itoa(n) }
func i64toa(n int64) string { return strconv.FormatInt(n, 10) }

// WritePullRequests writes a stage-1 file
func WritePullRequests(path string, records []domain.PullRequestRecord) error {
	rows := make([][]string, 0, len(records))
	for _, r := range records {
		rows = append(rows, []string{
			r.Login, i64toa(r.UserID), r.Repo, itoa(r.Number), r.State, r.CreatedAt, r.ClosedAt,
			itoa(r.ReviewComments), itoa(r.Commits), itoa(r.Additions), itoa(r.Deletions), itoa(r.ChangedFiles),
		})
	}
	return WriteFile(path, StageOneHeader, rows)
}

// ReadPullRequests reads a stage-1 file
func ReadPullRequests(path string) ([]domain.PullRequestRecord, error) {
	_, rows, err := ReadFile(path)
	if err != nil {
		return nil, err
	}
	records := make([]domain.PullRequestRecord, 0, len(rows))
	for i, row := range rows {
		rec, err := parsePullRequest(row)
		if err != nil {
			return nil, fmt.Errorf("%s line %d: %w", path, i+2, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

func parsePullRequest(row []string) (domain.PullRequestRecord, error) {
	if len(row) != len(StageOneHeader) {
		return domain.PullRequestRecord{}, fmt.Errorf("expected %d fields, got %d", len(StageOneHeader), len(row))
	}
	p := &parser{}
	rec := domain.PullRequestRecord{
		Login:          row[0],
		UserID:         p.atoi64(row[1]),
		Repo:           row[2],
		Number:         p.atoi(row[3]),
		State:          row[4],
		CreatedAt:      row[5],
		ClosedAt:       row[6],
		ReviewComments: p.atoi(row[7]),
		Commits:        p.atoi(row[8]),
		Additions:      p.atoi(row[9]),
		Deletions:      p.atoi(row[10]),
		ChangedFiles:   p.atoi(row[11]),
	}
	return rec, p.err
}

// WriteAuthorCounts writes a stage-2 file
func WriteAuthorCounts(path string, counts []domain.AuthorCount) error {
	rows := make([][]string, 0, len(counts))
	for _, c := range counts {
		rows = append(rows, []string{c.Author, i64toa(c.ID), itoa(c.Count)})
	}
	return WriteFile(path, StageTwoHeader, rows)
}

// ReadAuthorCounts reads a stage-2 file
func ReadAuthorCounts(path string) ([]domain.AuthorCount, error) {
	_, rows, err := ReadFile(path)
	if err != nil {
		return nil, err
	}
	counts := make([]domain.AuthorCount, 0, len(rows))
	for i, row := range rows {
		if len(row) != len(StageTwoHeader) {
			return nil, fmt.Errorf("%s line %d: expected %d fields, got %d", path, i+2, len(StageTwoHeader), len(row))
		}
		p := &parser{}
		c := domain.AuthorCount{Author: row[0], ID: p.atoi64(row[1]), Count: p.atoi(row[2])}
		if p.err != nil {
			return nil, fmt.Errorf("%s line %d: %w", path, i+2, p.err)
		}
		counts = append(counts, c)
	}
	return counts, nil
}

// WriteHistogram writes a stage-3 file
func WriteHistogram(path string, buckets []domain.HistogramBucket) error {
	rows := make([][]string, 0, len(buckets))
	for _, b := range buckets {
		rows = append(rows, []string{itoa(b.Developers), itoa(b.Count)})
	}
	return WriteFile(path, StageThreeHeader, rows)
}

// WriteDriveBy writes a drive-by file
func WriteDriveBy(path string, authors []domain.DriveByAuthor) error {
	rows := make([][]string, 0, len(authors))
	for _, a := range authors {
		rows = append(rows, []string{a.Author, i64toa(a.ID)})
	}
	return WriteFile(path, DriveByHeader, rows)
}

// WriteUsers writes users_data.csv
func WriteUsers(path string, users []domain.UserRecord) error {
	rows := make([][]string, 0, len(users))
	for _, u := range users {
		rows = append(rows, []string{
			u.Login, i64toa(u.ID), itoa(u.PublicRepos), itoa(u.PublicGists), itoa(u.Followers), itoa(u.Following), u.CreatedAt,
		})
	}
	return WriteFile(path, UsersHeader, rows)
}

// WriteCommitAuthors writes a commit author file
func WriteCommitAuthors(path string, authors []domain.CommitAuthor) error {
	rows := make([][]string, 0, len(authors))
	for _, a := range authors {
		rows = append(rows, []string{a.Email, a.Name, i64toa(a.ID), itoa(a.Commits)})
	}
	return WriteFile(path, CommitAuthorsHeader, rows)
}

// parser collects the first conversion error
type parser struct {
	err error
}

func (p *parser) atoi(s string) int {
	if s == "" {
		return 0
	}
	n, err := strconv.Atoi(s)
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("invalid number %q", s)
	}
	return n
}

func (p *parser) atoi64(s string) int64 {
	if s == "" {
		return 0
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("invalid number %q", s)
	}
	return n
}

// CombinePullRequests concatenates stage-1 files into one file with a single header
// and returns the number of rows written.
func CombinePullRequests(dst string, files []string) (int, error) {
	var all []domain.PullRequestRecord
	for _, path := range files {
		records, err := ReadPullRequests(path)
		if err != nil {
			return 0, err
		}
		all = append(all, records...)
	}
	if err := WritePullRequests(dst, all); err != nil {
		return 0, err
	}
	return len(all), nil
}
