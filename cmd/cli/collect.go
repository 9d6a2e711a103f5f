package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/kurihiro0119/github-contrib-collector/internal/collector"
)

var (
	onlyCollectors []string
	refresh        bool
	fresh          bool
	minStars       int
	repoCap        int
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the target directory tree",
	Long:  `Create the Target directory skeleton and, when storage is enabled, the run-history tables.`,
	Args:  cobra.NoArgs,
	RunE:  runInit,
}

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Find the most starred repositories",
	Long:  `Search GitHub for repositories above a star threshold and write them to collected_repos.txt.`,
	Args:  cobra.NoArgs,
	RunE:  runDiscover,
}

var collectCmd = &cobra.Command{
	Use:   "collect [owner/repo...]",
	Short: "Collect data from GitHub",
	Long: `Download pull requests, their authors and their commits for each repository and
derive the CSV files. Without arguments the repositories in collected_repos.txt are used.`,
	RunE: runCollect,
}

var aggregateCmd = &cobra.Command{
	Use:   "aggregate [owner/repo...]",
	Short: "Rebuild CSV files from downloaded JSON",
	Long:  `Re-derive every CSV file from the JSON already on disk without calling GitHub.`,
	RunE:  runAggregate,
}

var combineCmd = &cobra.Command{
	Use:   "combine",
	Short: "Combine every stage-1 file into one",
	Args:  cobra.NoArgs,
	RunE:  runCombine,
}

func init() {
	collectCmd.Flags().StringSliceVar(&onlyCollectors, "only", nil, "collectors to run (pulls, users, commits)")
	collectCmd.Flags().BoolVar(&refresh, "refresh", false, "download again files that already exist")
	collectCmd.Flags().BoolVar(&fresh, "fresh", false, "delete each repository's downloaded tree before collecting it")
	aggregateCmd.Flags().StringSliceVar(&onlyCollectors, "only", nil, "collectors to run (pulls, users, commits)")

	discoverCmd.Flags().IntVar(&minStars, "min-stars", 0, "minimum stars (default DISCOVER_MIN_STARS)")
	discoverCmd.Flags().IntVar(&repoCap, "cap", 0, "maximum repositories, at most 1000 (default REPO_CAP)")
}

func runInit(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.ValidateStorage(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	target, log, err := openTarget(cfg)
	if err != nil {
		return err
	}
	defer log.Close()

	store, err := getStorage(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	if store != nil {
		defer store.Close()
	}

	pterm.Success.Printfln("Target tree ready at %s (storage: %s)", target.Root(), cfg.StorageType)
	return nil
}

func runDiscover(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if !cmd.Flags().Changed("min-stars") {
		minStars = cfg.DiscoverMinStars
	}
	if !cmd.Flags().Changed("cap") {
		repoCap = cfg.RepoCap
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	target, log, err := openTarget(cfg)
	if err != nil {
		return err
	}
	defer log.Close()

	f, err := newFetcher(cfg, log)
	if err != nil {
		return err
	}

	repos, err := collector.Discover(ctx, collector.NewSearcher(f, log), target, minStars, repoCap)
	if err != nil {
		return fmt.Errorf("discovery failed: %w", err)
	}
	pterm.Success.Printfln("Wrote %d repositories to %s", len(repos), target.CollectedReposPath())
	return nil
}

func runCollect(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	target, log, err := openTarget(cfg)
	if err != nil {
		return err
	}
	defer log.Close()

	repos, err := resolveRepos(target, args)
	if err != nil {
		return err
	}

	store, err := getStorage(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	if store != nil {
		defer store.Close()
	}

	f, err := newFetcher(cfg, log)
	if err != nil {
		return err
	}

	deps := &collector.Deps{
		Fetcher:      f,
		Target:       target,
		Logger:       log,
		Pool:         poolOptions(cfg),
		SkipExisting: cfg.SkipExisting && !refresh,
	}
	collectors, err := selectCollectors(onlyCollectors, deps, collector.NewSearcher(f, log))
	if err != nil {
		return err
	}
	if fresh && collectors[0].Name() != collector.NamePulls {
		return fmt.Errorf("--fresh deletes the pull requests the other collectors read; include pulls in --only")
	}

	log.Info(ctx, "collecting %d repositories with %d credential(s), %d workers",
		len(repos), f.Rotator().Size(), cfg.WorkerCount)

	runner := &collector.Runner{Collectors: collectors, Store: store, Logger: log, Fresh: fresh, Target: target}
	sum, err := runner.Run(ctx, repos)
	if sum != nil {
		printSummary("Collected", sum)
	}
	if err != nil {
		return fmt.Errorf("collection interrupted: %w", err)
	}
	return nil
}

func runAggregate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.ValidateStorage(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	target, log, err := openTarget(cfg)
	if err != nil {
		return err
	}
	defer log.Close()

	repos, err := resolveRepos(target, args)
	if err != nil {
		return err
	}

	store, err := getStorage(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	if store != nil {
		defer store.Close()
	}

	// aggregation reads the tree only, no fetcher needed
	deps := &collector.Deps{Target: target, Logger: log}
	collectors, err := selectCollectors(onlyCollectors, deps, nil)
	if err != nil {
		return err
	}

	runner := &collector.Runner{Collectors: collectors, Store: store, Logger: log}
	sum, err := runner.Aggregate(ctx, repos)
	if sum != nil {
		printSummary("Aggregated", sum)
	}
	if err != nil {
		return fmt.Errorf("aggregation interrupted: %w", err)
	}
	return nil
}

func runCombine(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	target, log, err := openTarget(cfg)
	if err != nil {
		return err
	}
	defer log.Close()

	n, err := collector.Combine(target)
	if err != nil {
		return fmt.Errorf("failed to combine pull requests: %w", err)
	}
	log.Info(cmd.Context(), "combined %d pull requests into %s", n, target.CombinedPullsPath())
	return nil
}
