package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/kurihiro0119/github-contrib-collector/internal/aggregator"
	"github.com/kurihiro0119/github-contrib-collector/internal/collector"
	"github.com/kurihiro0119/github-contrib-collector/internal/config"
	"github.com/kurihiro0119/github-contrib-collector/internal/domain"
	"github.com/kurihiro0119/github-contrib-collector/internal/layout"
	"github.com/kurihiro0119/github-contrib-collector/internal/storage"
	"github.com/kurihiro0119/github-contrib-collector/pkg/client"
)

var (
	batchRepo  string
	batchLimit int
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Show stored run history and results",
	Long: `Display collection batches, dead letters and pull request aggregates from storage or from a running API server (--remote).
With STORAGE_TYPE=none the pull request views read the CSV files under the target directory.`,
}

var showBatchesCmd = &cobra.Command{
	Use:   "batches",
	Short: "Show recent collection batches",
	Args:  cobra.NoArgs,
	RunE:  runShowBatches,
}

var showDeadLettersCmd = &cobra.Command{
	Use:   "dead-letters [owner/repo]",
	Short: "Show jobs abandoned for a repository",
	Args:  cobra.ExactArgs(1),
	RunE:  runShowDeadLetters,
}

var showAuthorsCmd = &cobra.Command{
	Use:   "authors [owner/repo] [state]",
	Short: "Show pull requests per author",
	Long:  `Display the stage-2 rows of a repository. State is closed-merged, closed-unmerged or open.`,
	Args:  cobra.ExactArgs(2),
	RunE:  runShowAuthors,
}

var showHistogramCmd = &cobra.Command{
	Use:   "histogram [owner/repo] [state]",
	Short: "Show how many authors opened how many pull requests",
	Args:  cobra.ExactArgs(2),
	RunE:  runShowHistogram,
}

var showSummaryCmd = &cobra.Command{
	Use:   "summary [owner/repo]",
	Short: "Show pull request, author and drive-by counts per state",
	Args:  cobra.ExactArgs(1),
	RunE:  runShowSummary,
}

var showDriveByCmd = &cobra.Command{
	Use:   "drive-by [owner/repo] [state]",
	Short: "Show authors with a single pull request",
	Args:  cobra.ExactArgs(2),
	RunE:  runShowDriveBy,
}

func init() {
	showCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "output in JSON format")
	showCmd.PersistentFlags().BoolVar(&remote, "remote", false, "query the API server at API_ENDPOINT instead of local storage")
	showBatchesCmd.Flags().StringVar(&batchRepo, "repo", "", "only batches of this repository")
	showBatchesCmd.Flags().IntVar(&batchLimit, "limit", 20, "maximum number of batches")

	showCmd.AddCommand(showBatchesCmd)
	showCmd.AddCommand(showDeadLettersCmd)
	showCmd.AddCommand(showAuthorsCmd)
	showCmd.AddCommand(showHistogramCmd)
	showCmd.AddCommand(showDriveByCmd)
	showCmd.AddCommand(showSummaryCmd)
}

// source answers show queries from the API server, local storage or, when storage
// is disabled, the CSV files of the target tree
type source struct {
	store  storage.Storage
	client *client.Client
	target *layout.Target
}

func openSource(cfg *config.Config) (*source, error) {
	if remote {
		return &source{client: client.NewClient(cfg.APIEndpoint)}, nil
	}
	if err := cfg.ValidateStorage(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	store, err := getStorage(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	if store == nil {
		return &source{target: layout.New(cfg.TargetDir)}, nil
	}
	return &source{store: store}, nil
}

func (s *source) Close() {
	if s.store != nil {
		s.store.Close()
	}
}

// requireHistory fails for the file-backed source, which has no run history
func (s *source) requireHistory() error {
	if s.client == nil && s.store == nil {
		return fmt.Errorf("storage is disabled (STORAGE_TYPE=none); use --remote or enable storage")
	}
	return nil
}

func (s *source) authors(ctx context.Context, repo domain.Repository, st domain.PullState) ([]domain.AuthorCount, error) {
	switch {
	case s.client != nil:
		return s.client.GetAuthors(repo, st)
	case s.store != nil:
		records, err := s.store.GetPullRequests(ctx, repo, st)
		if err != nil {
			return nil, err
		}
		return aggregator.Stage2(records), nil
	default:
		return collector.ReadAuthors(s.target, repo, st)
	}
}

func (s *source) summary(ctx context.Context, repo domain.Repository) ([]domain.StateSummary, error) {
	switch {
	case s.client != nil:
		return s.client.GetSummary(repo)
	case s.store != nil:
		records, err := s.store.GetPullRequests(ctx, repo, "")
		if err != nil {
			return nil, err
		}
		return aggregator.Summarize(records), nil
	default:
		return collector.ReadSummary(s.target, repo)
	}
}

func runShowBatches(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	src, err := openSource(cfg)
	if err != nil {
		return err
	}
	defer src.Close()
	if err := src.requireHistory(); err != nil {
		return err
	}

	repo := batchRepo
	if repo != "" {
		parsed, err := domain.ParseRepository(repo)
		if err != nil {
			return err
		}
		repo = parsed.FullName()
	}

	var batches []*domain.CollectionBatch
	if src.client != nil {
		batches, err = src.client.GetBatches(repo, batchLimit)
	} else {
		batches, err = src.store.GetBatches(cmd.Context(), repo, batchLimit)
	}
	if err != nil {
		return fmt.Errorf("failed to get batches: %w", err)
	}

	if outputJSON {
		return printJSON(batches)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Started", "Repository", "Collector", "Status", "Jobs", "Fetched", "Dead", "Duration"})
	for _, b := range batches {
		duration := "-"
		if b.FinishedAt != nil {
			duration = b.FinishedAt.Sub(b.StartedAt).Round(time.Second).String()
		}
		table.Append([]string{
			b.StartedAt.Local().Format("2006-01-02 15:04"),
			b.Repo,
			b.Collector,
			b.Status,
			strconv.Itoa(b.Jobs),
			strconv.Itoa(b.Fetched),
			strconv.Itoa(b.DeadLettered),
			duration,
		})
	}
	table.Render()
	return nil
}

func runShowDeadLetters(cmd *cobra.Command, args []string) error {
	repo, err := domain.ParseRepository(args[0])
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	src, err := openSource(cfg)
	if err != nil {
		return err
	}
	defer src.Close()
	if err := src.requireHistory(); err != nil {
		return err
	}

	var letters []*domain.DeadLetter
	if src.client != nil {
		letters, err = src.client.GetDeadLetters(repo)
	} else {
		letters, err = src.store.GetDeadLetters(cmd.Context(), repo.FullName())
	}
	if err != nil {
		return fmt.Errorf("failed to get dead letters: %w", err)
	}

	if outputJSON {
		return printJSON(letters)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Kind", "Entity", "Attempts", "Code", "Error"})
	for _, dl := range letters {
		table.Append([]string{
			string(dl.Kind),
			dl.EntityID,
			strconv.Itoa(dl.Attempts),
			dl.Code,
			dl.Error,
		})
	}
	table.Render()
	return nil
}

func runShowAuthors(cmd *cobra.Command, args []string) error {
	src, repo, st, err := openPullQuery(args)
	if err != nil {
		return err
	}
	defer src.Close()

	counts, err := src.authors(cmd.Context(), repo, st)
	if err != nil {
		return fmt.Errorf("failed to get authors: %w", err)
	}

	if outputJSON {
		return printJSON(counts)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Developer", "GitHub ID", "Pulls"})
	for _, c := range counts {
		table.Append([]string{c.Author, strconv.FormatInt(c.ID, 10), strconv.Itoa(c.Count)})
	}
	table.Render()
	return nil
}

func runShowHistogram(cmd *cobra.Command, args []string) error {
	src, repo, st, err := openPullQuery(args)
	if err != nil {
		return err
	}
	defer src.Close()

	var buckets []domain.HistogramBucket
	if src.client != nil {
		buckets, err = src.client.GetHistogram(repo, st)
	} else {
		var counts []domain.AuthorCount
		counts, err = src.authors(cmd.Context(), repo, st)
		buckets = aggregator.Stage3(counts)
	}
	if err != nil {
		return fmt.Errorf("failed to get histogram: %w", err)
	}

	if outputJSON {
		return printJSON(buckets)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Developers", "Pulls Each"})
	for _, b := range buckets {
		table.Append([]string{strconv.Itoa(b.Developers), strconv.Itoa(b.Count)})
	}
	table.Render()
	return nil
}

func runShowDriveBy(cmd *cobra.Command, args []string) error {
	src, repo, st, err := openPullQuery(args)
	if err != nil {
		return err
	}
	defer src.Close()

	var authors []domain.DriveByAuthor
	if src.client != nil {
		authors, err = src.client.GetDriveBy(repo, st)
	} else {
		var counts []domain.AuthorCount
		counts, err = src.authors(cmd.Context(), repo, st)
		authors = aggregator.DriveBy(counts)
	}
	if err != nil {
		return fmt.Errorf("failed to get drive-by authors: %w", err)
	}

	if outputJSON {
		return printJSON(authors)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Developer", "GitHub ID"})
	for _, a := range authors {
		table.Append([]string{a.Author, strconv.FormatInt(a.ID, 10)})
	}
	table.Render()
	return nil
}

func runShowSummary(cmd *cobra.Command, args []string) error {
	repo, err := domain.ParseRepository(args[0])
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	src, err := openSource(cfg)
	if err != nil {
		return err
	}
	defer src.Close()

	summary, err := src.summary(cmd.Context(), repo)
	if err != nil {
		return fmt.Errorf("failed to get summary: %w", err)
	}

	if outputJSON {
		return printJSON(summary)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"State", "Pulls", "Authors", "Drive-by"})
	for _, row := range summary {
		table.Append([]string{
			row.State.DirName(),
			strconv.Itoa(row.Pulls),
			strconv.Itoa(row.Authors),
			strconv.Itoa(row.DriveBy),
		})
	}
	table.Render()
	return nil
}

// openPullQuery parses the [owner/repo] [state] arguments and opens the source
func openPullQuery(args []string) (*source, domain.Repository, domain.PullState, error) {
	repo, err := domain.ParseRepository(args[0])
	if err != nil {
		return nil, domain.Repository{}, "", err
	}
	st, ok := domain.ParsePullState(args[1])
	if !ok {
		return nil, domain.Repository{}, "", fmt.Errorf("unknown state %q (want closed-merged, closed-unmerged or open)", args[1])
	}

	cfg, err := loadConfig()
	if err != nil {
		return nil, domain.Repository{}, "", err
	}
	src, err := openSource(cfg)
	if err != nil {
		return nil, domain.Repository{}, "", err
	}
	return src, repo, st, nil
}
