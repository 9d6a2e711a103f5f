package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/kurihiro0119/github-contrib-collector/internal/collector"
	"github.com/kurihiro0119/github-contrib-collector/internal/config"
	"github.com/kurihiro0119/github-contrib-collector/internal/credentials"
	"github.com/kurihiro0119/github-contrib-collector/internal/domain"
	"github.com/kurihiro0119/github-contrib-collector/internal/fetcher"
	"github.com/kurihiro0119/github-contrib-collector/internal/layout"
	"github.com/kurihiro0119/github-contrib-collector/internal/logger"
	"github.com/kurihiro0119/github-contrib-collector/internal/pool"
	"github.com/kurihiro0119/github-contrib-collector/internal/storage"
	"github.com/kurihiro0119/github-contrib-collector/internal/storage/postgres"
	"github.com/kurihiro0119/github-contrib-collector/internal/storage/sqlite"
)

var (
	cfgFile    string
	outputJSON bool
	remote     bool
)

var rootCmd = &cobra.Command{
	Use:   "contrib-collector",
	Short: "GitHub contribution data collector",
	Long: `A CLI tool for collecting pull request, commit and user data from GitHub
repositories into a local directory tree of JSON and pipe-delimited CSV files.

Collection spreads requests over a pool of credentials and rotates to the next
one when a credential's hourly quota runs low.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .env)")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(discoverCmd)
	rootCmd.AddCommand(collectCmd)
	rootCmd.AddCommand(aggregateCmd)
	rootCmd.AddCommand(combineCmd)
	rootCmd.AddCommand(showCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// getStorage returns nil when STORAGE_TYPE is "none"
func getStorage(cfg *config.Config) (storage.Storage, error) {
	switch cfg.StorageType {
	case "none":
		return nil, nil
	case "postgres":
		return postgres.NewPostgresStorage(cfg.PostgresURL)
	default:
		return sqlite.NewSQLiteStorage(cfg.SQLitePath)
	}
}

// openTarget creates the base tree and the day's log files under it
func openTarget(cfg *config.Config) (*layout.Target, *logger.FileLogger, error) {
	target := layout.New(cfg.TargetDir)
	if err := target.EnsureBase(); err != nil {
		return nil, nil, fmt.Errorf("failed to prepare target directory: %w", err)
	}
	infoPath, errPath := target.LogPaths(time.Now())
	log, err := logger.NewFileLogger(infoPath, errPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log files: %w", err)
	}
	return target, log, nil
}

func newFetcher(cfg *config.Config, log logger.Logger) (*fetcher.Fetcher, error) {
	creds, err := cfg.Credentials()
	if err != nil {
		return nil, err
	}
	rotator, err := credentials.NewRotator(creds)
	if err != nil {
		return nil, err
	}
	return fetcher.New(rotator, fetcher.Options{
		BaseURL:      cfg.GitHubAPIURL,
		Reserve:      cfg.RateLimitReserve,
		Cooldown:     cfg.Cooldown,
		MaxCooldowns: cfg.MaxCooldowns,
		Timeout:      cfg.RequestTimeout,
		MinDelay:     cfg.MinRequestDelay,
		Logger:       log,
	})
}

func poolOptions(cfg *config.Config) pool.Options {
	return pool.Options{
		Workers:         cfg.WorkerCount,
		MaxAttempts:     cfg.MaxAttempts,
		RetryBackoff:    cfg.RetryBackoff,
		MaxRetryBackoff: cfg.MaxRetryBackoff,
		OnProgress:      printProgress,
	}
}

// printProgress prints a line at every tenth of the jobs
func printProgress(done, total int) {
	step := total / 10
	if step == 0 {
		step = 1
	}
	if done%step == 0 || done == total {
		pterm.Info.Printfln("Progress: %d/%d (%.0f%%)", done, total, float64(done)*100/float64(total))
	}
}

// selectCollectors builds the collectors named in only, in pulls, users, commits order
func selectCollectors(only []string, deps *collector.Deps, searcher *collector.Searcher) ([]collector.Collector, error) {
	all := []collector.Collector{
		collector.NewPullRequestCollector(deps, searcher),
		collector.NewUserCollector(deps),
		collector.NewCommitCollector(deps),
	}
	if len(only) == 0 {
		return all, nil
	}

	wanted := make(map[string]bool)
	for _, name := range only {
		name = strings.TrimSpace(strings.ToLower(name))
		switch name {
		case collector.NamePulls, collector.NameUsers, collector.NameCommits:
			wanted[name] = true
		default:
			return nil, fmt.Errorf("unknown collector %q (want pulls, users or commits)", name)
		}
	}

	var selected []collector.Collector
	for _, c := range all {
		if wanted[c.Name()] {
			selected = append(selected, c)
		}
	}
	return selected, nil
}

// resolveRepos parses the repository arguments, falling back to collected_repos.txt
func resolveRepos(target *layout.Target, args []string) ([]domain.Repository, error) {
	if len(args) == 0 {
		repos, err := target.ReadCollectedRepos()
		if err != nil {
			return nil, fmt.Errorf("no repositories given and no discovery list: %w", err)
		}
		return repos, nil
	}

	repos := make([]domain.Repository, 0, len(args))
	for _, arg := range args {
		repo, err := domain.ParseRepository(arg)
		if err != nil {
			return nil, err
		}
		repos = append(repos, repo)
	}
	return repos, nil
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

func printSummary(action string, sum *collector.Summary) {
	pterm.Success.Printfln("%s %d repositories: %d batches, %d failed, %d fetched, %d dead-lettered, %d rows",
		action, sum.Repos, sum.Batches, sum.Failed, sum.Fetched, sum.DeadLettered, sum.Rows)
}
