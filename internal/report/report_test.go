package report

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kurihiro0119/github-contrib-collector/internal/domain"
)

func TestPipeRoundTrip(t *testing.T) {
	rows := [][]string{
		{"alice", "1", "golang-go"},
		{"Smith, John", "a|b", `back\slash`},
		{"multi\nline", "", "tail\r"},
		{"", "", ""},
	}

	var buf bytes.Buffer
	require.NoError(t, NewWriter(&buf).WriteAll(rows))

	got, err := NewReader(&buf).ReadAll()
	require.NoError(t, err)
	assert.Equal(t, rows, got)
}

func TestWriterEscapes(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	require.NoError(t, w.Write([]string{"a,b", "c|d", `e\f`, "g\nh"}))
	require.NoError(t, w.Flush())

	assert.Equal(t, "a,b|c\\|d|e\\\\f|g\\nh\n", buf.String())
}

func TestReaderRejectsDanglingEscape(t *testing.T) {
	_, err := NewReader(bytes.NewBufferString("a|b\\\n")).Read()
	assert.Error(t, err)
}

func TestPullRequestFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stage_01.csv")
	records := []domain.PullRequestRecord{
		{
			Login: "alice", UserID: 1, Repo: "golang-go", Number: 42, State: "closed-merged",
			CreatedAt: "2020-01-01T00:00:00Z", ClosedAt: "2020-01-02T00:00:00Z",
			ReviewComments: 3, Commits: 2, Additions: 10, Deletions: 4, ChangedFiles: 1,
		},
		{Login: "bob|builder", UserID: 2, Repo: "golang-go", Number: 43, State: "open", CreatedAt: "2020-02-01T00:00:00Z"},
	}
	require.NoError(t, WritePullRequests(path, records))

	header, rows, err := ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, StageOneHeader, header)
	assert.Len(t, rows, 2)

	got, err := ReadPullRequests(path)
	require.NoError(t, err)
	assert.Equal(t, records, got)
}

func TestReadPullRequestsRejectsBadRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.csv")
	require.NoError(t, os.WriteFile(path, []byte("h\nalice|x|r|1|open|||0|0|0|0|0\n"), 0o644))
	_, err := ReadPullRequests(path)
	assert.ErrorContains(t, err, "line 2")

	require.NoError(t, os.WriteFile(path, []byte("h\nalice|1\n"), 0o644))
	_, err = ReadPullRequests(path)
	assert.Error(t, err)
}

func TestAuthorCountsRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stage_02.csv")
	counts := []domain.AuthorCount{{Author: "alice", ID: 1, Count: 3}, {Author: "bob", ID: 2, Count: 1}}
	require.NoError(t, WriteAuthorCounts(path, counts))

	got, err := ReadAuthorCounts(path)
	require.NoError(t, err)
	assert.Equal(t, counts, got)
}

func TestSmallReports(t *testing.T) {
	dir := t.TempDir()

	histogram := filepath.Join(dir, "stage_03.csv")
	require.NoError(t, WriteHistogram(histogram, []domain.HistogramBucket{{Developers: 2, Count: 1}}))
	data, err := os.ReadFile(histogram)
	require.NoError(t, err)
	assert.Equal(t, "#DEVS|#PULLS\n2|1\n", string(data))

	driveBy := filepath.Join(dir, "drive_by.csv")
	require.NoError(t, WriteDriveBy(driveBy, []domain.DriveByAuthor{{Author: "bob", ID: 2}}))
	data, err = os.ReadFile(driveBy)
	require.NoError(t, err)
	assert.Equal(t, "DEVELOPER|GITHUB ID\nbob|2\n", string(data))

	users := filepath.Join(dir, "users_data.csv")
	require.NoError(t, WriteUsers(users, []domain.UserRecord{{Login: "bob", ID: 2, PublicRepos: 5, Followers: 1, CreatedAt: "2011-01-25T18:44:36Z"}}))
	_, rows, err := ReadFile(users)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"bob", "2", "5", "0", "1", "0", "2011-01-25T18:44:36Z"}}, rows)

	commits := filepath.Join(dir, "commit_authors.csv")
	require.NoError(t, WriteCommitAuthors(commits, []domain.CommitAuthor{{Email: "a@x.io", Name: "A", ID: 0, Commits: 2}}))
	header, rows, err := ReadFile(commits)
	require.NoError(t, err)
	assert.Equal(t, CommitAuthorsHeader, header)
	assert.Equal(t, [][]string{{"a@x.io", "A", "0", "2"}}, rows)
}

func TestWriteFileNeedsParent(t *testing.T) {
	err := WriteFile(filepath.Join(t.TempDir(), "missing", "x.csv"), DriveByHeader, nil)
	assert.Error(t, err)
}

func TestCombinePullRequests(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.csv")
	b := filepath.Join(dir, "b.csv")
	require.NoError(t, WritePullRequests(a, []domain.PullRequestRecord{{Login: "alice", UserID: 1, Repo: "o-a", Number: 1, State: "open"}}))
	require.NoError(t, WritePullRequests(b, []domain.PullRequestRecord{
		{Login: "bob", UserID: 2, Repo: "o-b", Number: 1, State: "closed-merged"},
		{Login: "carol", UserID: 3, Repo: "o-b", Number: 2, State: "closed-merged"},
	}))

	dst := filepath.Join(dir, "combined.csv")
	n, err := CombinePullRequests(dst, []string{a, b})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	header, rows, err := ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, StageOneHeader, header)
	assert.Len(t, rows, 3)
	assert.Equal(t, "carol", rows[2][0])
}
