package main

import (
	"context"
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"

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
	"cxref/internal/vfs"
)

var indexRoot string

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Run one full pass over the workspace and report symbol counts",
	Long: `index loads compile_commands.json, runs every translation unit
through the analyzer once, applies the resulting deltas, and prints a
summary of the resulting query index. Unlike serve, it exits once the
initial pass completes instead of watching for further changes.`,
	RunE: runIndex,
}

func init() {
	rootCmd.AddCommand(indexCmd)
	indexCmd.Flags().StringVar(&indexRoot, "root", ".", "Workspace root (a directory containing compile_commands.json)")
}

func runIndex(cmd *cobra.Command, args []string) error {
	repoRoot, err := paths.FindWorkspaceRoot(indexRoot)
	if err != nil {
		return fmt.Errorf("resolving workspace root: %w", err)
	}

	// On a load error LoadConfig returns the defaults alongside it.
	cfg, cfgErr := config.LoadConfig(repoRoot)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger := logging.NewLogger(logging.Config{
		Format: logging.Format(cfg.Logging.Format),
		Level:  logging.LogLevel(cfg.Logging.Level),
	})
	defer logger.Sync()
	if cfgErr != nil {
		logger.Warn("config could not be loaded, using defaults", map[string]interface{}{"error": cfgErr.Error()})
	}

	proj := project.NewModel()
	ccPath := project.FindCompileCommands(repoRoot)
	if ccPath == "" {
		return fmt.Errorf("no compile_commands.json found under %s", repoRoot)
	}
	if err := proj.LoadCompileCommands(ccPath); err != nil {
		return fmt.Errorf("loading %s: %w", ccPath, err)
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

	tuPaths := proj.Paths()

	requests := indexqueue.NewQueue[indexer.IndexRequest](len(tuPaths))
	onIndexed := indexqueue.NewQueue[*delta.IndexUpdate](len(tuPaths) + 1)
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
		IndexOnChange:   false,
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

	ctx, cancel := context.WithCancel(context.Background())
	applyDone := make(chan struct{})
	go func() {
		applyLoop.Run(ctx)
		close(applyDone)
	}()

	for _, p := range tuPaths {
		requests.Push(indexer.IndexRequest{Path: p, Mode: indexer.Background})
	}
	requests.Close()

	if err := pool.Run(ctx); err != nil {
		cancel()
		return fmt.Errorf("indexer pool: %w", err)
	}
	onIndexed.Close()
	<-applyDone
	cancel()

	fmt.Printf("indexed %d translation units: %d functions, %d types, %d vars\n",
		len(tuPaths), len(db.FuncUsr), len(db.TypeUsr), len(db.VarUsr))
	return nil
}
