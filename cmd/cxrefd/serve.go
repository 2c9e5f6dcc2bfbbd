package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"cxref/internal/analyzer"
	"cxref/internal/analyzer/treesitter"
	"cxref/internal/cachestore"
	"cxref/internal/config"
	"cxref/internal/delta"
	"cxref/internal/indexer"
	"cxref/internal/indexqueue"
	"cxref/internal/logging"
	"cxref/internal/paths"
	"cxref/internal/project"
	"cxref/internal/querydb"
	"cxref/internal/version"
	"cxref/internal/vfs"
	"cxref/internal/watcher"
)

var serveRoot string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Watch a workspace and keep its cross-reference index current",
	Long: `serve resolves the workspace's compile_commands.json, starts the
indexer worker pool and its single apply-loop writer, and watches the tree
for on-disk changes, folding every reparse into the in-memory query index
until the process is interrupted.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveRoot, "root", ".", "Workspace root (a directory containing compile_commands.json)")
}

func runServe(cmd *cobra.Command, args []string) error {
	repoRoot, err := paths.FindWorkspaceRoot(serveRoot)
	if err != nil {
		return fmt.Errorf("resolving workspace root: %w", err)
	}

	loaded, configErr := config.LoadConfigWithDetails(repoRoot)
	if configErr != nil {
		loaded = &config.LoadResult{Config: config.DefaultConfig(), UsedDefaults: true}
	}
	cfg := loaded.Config
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger := logging.NewLogger(logging.Config{
		Format: logging.Format(cfg.Logging.Format),
		Level:  logging.LogLevel(cfg.Logging.Level),
	})
	defer logger.Sync()

	fmt.Printf("cxrefd %s watching %s\n", version.Version, repoRoot)
	if configErr != nil {
		logger.Warn("config could not be loaded, using defaults", map[string]interface{}{"error": configErr.Error()})
	} else if loaded.UsedDefaults {
		logger.Info("no config file found, using defaults", nil)
	} else {
		logger.Info("loaded config", map[string]interface{}{"path": loaded.ConfigPath})
	}

	proj := project.NewModel()
	if ccPath := project.FindCompileCommands(repoRoot); ccPath != "" {
		if err := proj.LoadCompileCommands(ccPath); err != nil {
			logger.Warn("failed to load compile_commands.json", map[string]interface{}{"error": err.Error()})
		}
	} else {
		logger.Warn("no compile_commands.json found under workspace root", map[string]interface{}{"root": repoRoot})
	}
	proj.MultiVersion = multiVersionMatcher(cfg.MultiVersion)

	store := cachestore.New(cachestore.Config{
		Directory:        cfg.Cache.Directory,
		Format:           cacheFormat(cfg.Cache.Format),
		HierarchicalPath: cfg.Cache.HierarchicalPath,
		RetainInMemory:   cachestore.Retention(cfg.Cache.RetainInMemory),
		WorkspacePrefix:  repoRoot,
	})

	an := treesitter.New()
	v := vfs.New()
	db := querydb.New()

	requests := indexqueue.NewQueue[indexer.IndexRequest](0)
	onIndexed := indexqueue.NewQueue[*delta.IndexUpdate](0)
	forStdout := indexqueue.NewQueue[indexer.OutgoingMessage](0)
	waiter := indexqueue.NewWaiter()

	numWorkers := cfg.Index.Threads
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU() / 2
		if numWorkers < 1 {
			numWorkers = 1
		}
	}

	pool := indexer.New(indexer.Config{
		NumWorkers:      numWorkers,
		IndexOnChange:   cfg.Index.OnChange,
		Comments:        commentPolicy(cfg.Index.Comments),
		NoLinkage:       cfg.Index.InitialNoLinkage,
		TrackDependency: cfg.Index.TrackDependency,
		SessionMaxNum:   cfg.Session.MaxNum,
	}, v, proj, store, an, logger, requests, onIndexed, forStdout, waiter)

	applyLoop := indexer.NewApplyLoop(db, onIndexed, logger)
	applyLoop.OnFatal = func(reason string) {
		logger.Error("invariant violation in apply loop, shutting down", map[string]interface{}{"reason": reason})
		os.Exit(1)
	}

	wcfg := watcher.DefaultConfig()
	wcfg.IgnorePatterns = append(wcfg.IgnorePatterns, cfg.Index.Excludes...)
	if cfg.Diagnostics.OnChange > 0 {
		wcfg.DebounceMs = cfg.Diagnostics.OnChange
	}

	fsWatcher, err := watcher.New(wcfg, logger, func(root string, events []watcher.Event) {
		for _, ev := range events {
			mode := indexer.OnChange
			if ev.Type == watcher.EventDelete {
				mode = indexer.Delete
			}
			requests.Push(indexer.IndexRequest{Path: ev.Path, Mode: mode})
		}
	})
	if err != nil {
		return fmt.Errorf("starting watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := pool.Run(ctx); err != nil {
			logger.Error("indexer pool exited with error", map[string]interface{}{"error": err.Error()})
		}
	}()
	go func() {
		defer wg.Done()
		applyLoop.Run(ctx)
	}()

	if err := fsWatcher.Start(); err != nil {
		return fmt.Errorf("starting watcher: %w", err)
	}
	if err := fsWatcher.WatchRoot(repoRoot); err != nil {
		return fmt.Errorf("watching %s: %w", repoRoot, err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down", nil)
	fsWatcher.Stop()
	requests.Close()
	cancel()
	wg.Wait()
	return nil
}

func cacheFormat(s string) cachestore.Format {
	if s == "json" {
		return cachestore.FormatTextual
	}
	return cachestore.FormatBinary
}

// multiVersionMatcher converts the config-level multi-version rule list into
// the project model's matcher type (SPEC_FULL §4, ccls `multiVersion`).
func multiVersionMatcher(rules []config.MultiVersionRule) project.MultiVersionMatcher {
	out := make(project.MultiVersionMatcher, 0, len(rules))
	for _, r := range rules {
		out = append(out, project.MultiVersionRule{PathGlob: r.PathGlob, ExtraArgs: r.ExtraArgs})
	}
	return out
}

func commentPolicy(n int) analyzer.CommentPolicy {
	switch n {
	case 1:
		return analyzer.CommentsDoxygenOnly
	case 2:
		return analyzer.CommentsAll
	default:
		return analyzer.CommentsNone
	}
}
