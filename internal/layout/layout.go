package layout

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/kurihiro0119/github-contrib-collector/internal/domain"
)

const (
	targetDir = "Target"
	jsonDir   = "json_files"
	textDir   = "text_files"
	csvDir    = "csv_files"

	importantCSVDir  = "_important-csv-files"
	importantJSONDir = "_important-json-files"
	importantTextDir = "_important-text-files"
	collectedDir     = "_collected-repos"

	pullRequestsDir = "pull_requests"
	commitsDir      = "commits"
	usersDir        = "github-users"
	pullLevelDir    = "pull-request-level"
	commitLevelDir  = "commit-level"

	mainPullName       = "main_pull.json"
	commitLevelName    = "commit_level.json"
	usersCSVName       = "users_data.csv"
	commitAuthorsName  = "commit_authors.csv"
	driveByCommitsName = "drive_by_commit_authors.csv"
	combinedPullsName  = "combined_pull_request_data.csv"
	collectedReposName = "collected_repos.txt"
	dirPerm            = 0o755
)

// Target owns the on-disk tree every collector writes into
type Target struct {
	root string
}

// New creates a target rooted at <home>/Target
func New(home string) *Target {
	return &Target{root: filepath.Join(home, targetDir)}
}

// Root returns the Target directory
func (t *Target) Root() string { return t.root }

func (t *Target) jsonRoot() string { return filepath.Join(t.root, jsonDir) }
func (t *Target) textRoot() string { return filepath.Join(t.root, textDir) }
func (t *Target) csvRoot() string  { return filepath.Join(t.root, csvDir) }

// ImportantCSVDir holds cross-repository CSV files
func (t *Target) ImportantCSVDir() string { return filepath.Join(t.csvRoot(), importantCSVDir) }

// ImportantTextDir holds the log files
func (t *Target) ImportantTextDir() string { return filepath.Join(t.textRoot(), importantTextDir) }

// CollectedReposPath is the repository list written by discovery
func (t *Target) CollectedReposPath() string {
	return filepath.Join(t.textRoot(), collectedDir, collectedReposName)
}

// CombinedPullsPath is the CSV combining every repository's stage-1 rows
func (t *Target) CombinedPullsPath() string {
	return filepath.Join(t.ImportantCSVDir(), combinedPullsName)
}

// LogPaths returns the info and error log files for the given day
func (t *Target) LogPaths(day time.Time) (info, errs string) {
	stamp := day.Format("2006-01-02")
	return filepath.Join(t.ImportantTextDir(), "INFO_LOG_"+stamp+".log"),
		filepath.Join(t.ImportantTextDir(), "ERROR_LOG_"+stamp+".log")
}

// EnsureBase creates the top-level directories
func (t *Target) EnsureBase() error {
	for _, dir := range []string{
		filepath.Join(t.jsonRoot(), importantJSONDir),
		filepath.Join(t.textRoot(), collectedDir),
		t.ImportantTextDir(),
		t.ImportantCSVDir(),
	} {
		if err := os.MkdirAll(dir, dirPerm); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}

// RepoJSONDir returns json_files/<slug>
func (t *Target) RepoJSONDir(repo domain.Repository) string {
	return filepath.Join(t.jsonRoot(), repo.Slug())
}

// RepoCSVDir returns csv_files/<slug>
func (t *Target) RepoCSVDir(repo domain.Repository) string {
	return filepath.Join(t.csvRoot(), repo.Slug())
}

// RepoTextDir returns text_files/<slug>
func (t *Target) RepoTextDir(repo domain.Repository) string {
	return filepath.Join(t.textRoot(), repo.Slug())
}

// EnsureRepo creates the per-repository directory skeleton
func (t *Target) EnsureRepo(repo domain.Repository) error {
	dirs := []string{
		t.RepoTextDir(repo),
		t.UsersJSONDir(repo),
		t.UsersCSVDir(repo),
		t.CommitCSVDir(repo),
	}
	for _, st := range domain.AllPullStates() {
		dirs = append(dirs, t.PullStateDir(repo, st), t.CommitStateDir(repo, st), t.PullCSVDir(repo, st))
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, dirPerm); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}

// RepoExists reports whether the repository has a JSON or CSV tree
func (t *Target) RepoExists(repo domain.Repository) bool {
	return exists(t.RepoJSONDir(repo)) || exists(t.RepoCSVDir(repo))
}

// DeleteRepo removes every directory belonging to the repository
func (t *Target) DeleteRepo(repo domain.Repository) error {
	for _, dir := range []string{t.RepoJSONDir(repo), t.RepoCSVDir(repo), t.RepoTextDir(repo)} {
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("failed to delete %s: %w", dir, err)
		}
	}
	return nil
}

// PullStateDir returns json_files/<slug>/pull_requests/<state>
func (t *Target) PullStateDir(repo domain.Repository, st domain.PullState) string {
	return filepath.Join(t.RepoJSONDir(repo), pullRequestsDir, st.DirName())
}

// PullFile returns the main_pull.json path of one pull request
func (t *Target) PullFile(repo domain.Repository, st domain.PullState, number int) string {
	return filepath.Join(t.PullStateDir(repo, st), strconv.Itoa(number), mainPullName)
}

// CommitStateDir returns json_files/<slug>/commits/<state>
func (t *Target) CommitStateDir(repo domain.Repository, st domain.PullState) string {
	return filepath.Join(t.RepoJSONDir(repo), commitsDir, st.DirName())
}

// CommitFile returns the commit_level.json path of one pull request
func (t *Target) CommitFile(repo domain.Repository, st domain.PullState, number int) string {
	return filepath.Join(t.CommitStateDir(repo, st), strconv.Itoa(number), commitLevelName)
}

// UsersJSONDir returns json_files/<slug>/github-users
func (t *Target) UsersJSONDir(repo domain.Repository) string {
	return filepath.Join(t.RepoJSONDir(repo), usersDir)
}

// UserFile returns the JSON path of one user
func (t *Target) UserFile(repo domain.Repository, id int64) string {
	return filepath.Join(t.UsersJSONDir(repo), strconv.FormatInt(id, 10)+"_user.json")
}

// PullCSVDir returns csv_files/<slug>/pull-request-level/<state>
func (t *Target) PullCSVDir(repo domain.Repository, st domain.PullState) string {
	return filepath.Join(t.RepoCSVDir(repo), pullLevelDir, st.DirName())
}

// StageFile returns the stage-N CSV path for a state (stage 1 to 3)
func (t *Target) StageFile(repo domain.Repository, st domain.PullState, stage int) string {
	name := fmt.Sprintf("stage_%02d_pull_requests_%s.csv", stage, st)
	return filepath.Join(t.PullCSVDir(repo, st), name)
}

// DriveByFile returns the drive-by CSV path for a state
func (t *Target) DriveByFile(repo domain.Repository, st domain.PullState) string {
	return filepath.Join(t.PullCSVDir(repo, st), fmt.Sprintf("drive_by_pull_requests_%s.csv", st))
}

// UsersCSVDir returns csv_files/<slug>/github-users
func (t *Target) UsersCSVDir(repo domain.Repository) string {
	return filepath.Join(t.RepoCSVDir(repo), usersDir)
}

// UsersCSVFile returns users_data.csv
func (t *Target) UsersCSVFile(repo domain.Repository) string {
	return filepath.Join(t.UsersCSVDir(repo), usersCSVName)
}

// CommitCSVDir returns csv_files/<slug>/commit-level
func (t *Target) CommitCSVDir(repo domain.Repository) string {
	return filepath.Join(t.RepoCSVDir(repo), commitLevelDir)
}

// CommitAuthorsFile returns commit_authors.csv
func (t *Target) CommitAuthorsFile(repo domain.Repository) string {
	return filepath.Join(t.CommitCSVDir(repo), commitAuthorsName)
}

// DriveByCommitsFile returns drive_by_commit_authors.csv
func (t *Target) DriveByCommitsFile(repo domain.Repository) string {
	return filepath.Join(t.CommitCSVDir(repo), driveByCommitsName)
}

// ResetPullState deletes and recreates a state's pull folders.
// Open pull requests change between runs, so their folders are rebuilt every time.
func (t *Target) ResetPullState(repo domain.Repository, st domain.PullState) error {
	dir := t.PullStateDir(repo, st)
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to delete %s: %w", dir, err)
	}
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}
	return nil
}

// RemovePull deletes the pull and commit folders of one pull request in a state
func (t *Target) RemovePull(repo domain.Repository, st domain.PullState, number int) error {
	for _, dir := range []string{
		filepath.Join(t.PullStateDir(repo, st), strconv.Itoa(number)),
		filepath.Join(t.CommitStateDir(repo, st), strconv.Itoa(number)),
	} {
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("failed to delete %s: %w", dir, err)
		}
	}
	return nil
}

// RemovePullReports deletes the stage and drive-by files of a state
func (t *Target) RemovePullReports(repo domain.Repository, st domain.PullState) error {
	paths := []string{t.DriveByFile(repo, st)}
	for stage := 1; stage <= 3; stage++ {
		paths = append(paths, t.StageFile(repo, st, stage))
	}
	for _, path := range paths {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to delete %s: %w", path, err)
		}
	}
	return nil
}

// CreatePullDirs creates one folder per pull request number
func (t *Target) CreatePullDirs(repo domain.Repository, st domain.PullState, numbers []int) error {
	return createNumbered(t.PullStateDir(repo, st), numbers)
}

// CreateCommitDirs creates one commit folder per pull request number
func (t *Target) CreateCommitDirs(repo domain.Repository, st domain.PullState, numbers []int) error {
	return createNumbered(t.CommitStateDir(repo, st), numbers)
}

func createNumbered(parent string, numbers []int) error {
	for _, n := range numbers {
		dir := filepath.Join(parent, strconv.Itoa(n))
		if err := os.MkdirAll(dir, dirPerm); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}

// PullNumbers lists the pull request folders of a state, ascending
func (t *Target) PullNumbers(repo domain.Repository, st domain.PullState) ([]int, error) {
	entries, err := os.ReadDir(t.PullStateDir(repo, st))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list pull folders: %w", err)
	}

	var numbers []int
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		n, err := strconv.Atoi(e.Name())
		if err != nil {
			continue
		}
		numbers = append(numbers, n)
	}
	sort.Ints(numbers)
	return numbers, nil
}

// WriteCollectedRepos writes the discovery list: the cap, one "/owner/name" per line,
// then the number of repositories.
func (t *Target) WriteCollectedRepos(repoCap int, repos []domain.Repository) error {
	var b strings.Builder
	fmt.Fprintf(&b, "%d\n", repoCap)
	for _, r := range repos {
		fmt.Fprintf(&b, "/%s\n", r.FullName())
	}
	fmt.Fprintf(&b, "%d\n", len(repos))

	path := t.CollectedReposPath()
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// ReadCollectedRepos reads the repositories from the discovery list.
// Numeric lines (the cap and the count) are skipped.
func (t *Target) ReadCollectedRepos() ([]domain.Repository, error) {
	path := t.CollectedReposPath()
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	var repos []domain.Repository
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if _, err := strconv.Atoi(line); err == nil {
			continue
		}
		repo, err := domain.ParseRepository(line)
		if err != nil {
			return nil, err
		}
		repos = append(repos, repo)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return repos, nil
}

// StageFiles returns every existing stage-1 CSV in the tree, sorted
func (t *Target) StageFiles() ([]string, error) {
	pattern := filepath.Join(t.csvRoot(), "*", pullLevelDir, "*", "stage_01_pull_requests_*.csv")
	files, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to glob %s: %w", pattern, err)
	}
	sort.Strings(files)
	return files, nil
}

// FileExists reports whether path exists and is not empty
func FileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir() && info.Size() > 0
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
