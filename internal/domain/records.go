package domain

// PullState is the lifecycle bucket a pull request is collected under
type PullState string

const (
	PullOpen           PullState = "open"
	PullClosedMerged   PullState = "closed_merged"
	PullClosedUnmerged PullState = "closed_unmerged"
)

// AllPullStates returns every state in collection order
func AllPullStates() []PullState {
	return []PullState{PullClosedMerged, PullClosedUnmerged, PullOpen}
}

// ParsePullState accepts both the state name and its directory name
func ParsePullState(s string) (PullState, bool) {
	for _, st := range AllPullStates() {
		if s == string(st) || s == st.DirName() {
			return st, true
		}
	}
	return "", false
}

// DirName returns the folder name used for the state
func (s PullState) DirName() string {
	switch s {
	case PullClosedMerged:
		return "closed-merged"
	case PullClosedUnmerged:
		return "closed-unmerged"
	default:
		return "open"
	}
}

// Qualifier returns the search qualifiers selecting the state
func (s PullState) Qualifier() string {
	switch s {
	case PullClosedMerged:
		return "is:closed is:merged"
	case PullClosedUnmerged:
		return "is:closed is:unmerged"
	default:
		return "is:open"
	}
}

// Label returns the PR STATE column value for a pull request in the state
func (s PullState) Label() string {
	switch s {
	case PullClosedMerged:
		return "closed-merged"
	case PullClosedUnmerged:
		return "closed-unmerged"
	default:
		return "open"
	}
}

// PullRequestRecord is a stage-1 row
type PullRequestRecord struct {
	Login          string
	UserID         int64
	Repo           string // slug
	Number         int
	State          string
	CreatedAt      string
	ClosedAt       string
	ReviewComments int
	Commits        int
	Additions      int
	Deletions      int
	ChangedFiles   int
}

// AuthorCount is a stage-2 row
type AuthorCount struct {
	Author string
	ID     int64
	Count  int
}

// HistogramBucket is a stage-3 row: Developers authors opened Count pulls each
type HistogramBucket struct {
	Developers int
	Count      int
}

// DriveByAuthor is an author with exactly one contribution
type DriveByAuthor struct {
	Author string
	ID     int64
}

// StateSummary counts the pull requests, authors and drive-by authors of one state
type StateSummary struct {
	State   PullState
	Pulls   int
	Authors int
	DriveBy int
}

// UserRecord is a users_data.csv row
type UserRecord struct {
	Login       string
	ID          int64
	PublicRepos int
	PublicGists int
	Followers   int
	Following   int
	CreatedAt   string
}

// CommitRecord is one commit found under a pull request
type CommitRecord struct {
	Email      string
	Name       string
	AuthorID   int64 // 0 when the email is not linked to an account
	SHA        string
	PullNumber int
	State      PullState
}

// CommitAuthor aggregates commits by lower-cased email
type CommitAuthor struct {
	Email   string
	Name    string
	ID      int64
	Commits int
}
