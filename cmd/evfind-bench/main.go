// Package main provides evfind-bench, a throughput harness for
// build_index and search_files against a large seeded tree, exercising
// spec.md's §8.5 scenario: 1,000,000 indexed entries, 50,000 matches for
// a plain-token query, completed within the soft deadline.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/evfind/evfind/internal/engine"
)

// Config holds benchmark configuration.
type Config struct {
	Root    string
	DataDir string
	Query   string
	Limit   int
	Runs    int
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := Config{}

	flag.StringVar(&cfg.Root, "root", filepath.Join(os.TempDir(), "evfind-bench", "1000000"), "Root directory to index (see evfind-seed)")
	flag.StringVar(&cfg.DataDir, "data-dir", filepath.Join(os.TempDir(), "evfind-bench-data"), "Data directory for the metadata store and search index")
	flag.StringVar(&cfg.Query, "query", "log", "Query string to benchmark")
	flag.IntVar(&cfg.Limit, "limit", 1000, "Result limit per search")
	flag.IntVar(&cfg.Runs, "runs", 10, "Number of search runs to average")

	flag.Usage = func() {
		fmt.Fprint(os.Stderr, "Usage: evfind-bench [flags]\n\n")
		fmt.Fprint(os.Stderr, "Builds an index over -root, then benchmarks search_files(-query).\n\n")
		fmt.Fprint(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
	}

	flag.Parse()

	if _, err := os.Stat(cfg.Root); err != nil {
		return fmt.Errorf("root not found, run evfind-seed first: %w", err)
	}

	_ = os.RemoveAll(cfg.DataDir)

	e, err := engine.New(engine.Options{DataDir: cfg.DataDir, Roots: []string{cfg.Root}})
	if err != nil {
		return fmt.Errorf("open engine: %w", err)
	}

	defer func() { _ = e.Close() }()

	ctx := context.Background()

	if err := e.Start(ctx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}

	buildStart := time.Now()
	e.BuildIndex(ctx, nil, false)

	for {
		status := e.GetIndexStatus()
		if status.Err != nil {
			return fmt.Errorf("build_index failed: %w", status.Err)
		}

		if status.IsReady && !status.IndexingInProgress {
			break
		}

		time.Sleep(10 * time.Millisecond)
	}

	buildElapsed := time.Since(buildStart)
	status := e.GetIndexStatus()

	fmt.Printf("build_index: %d entries in %v (%.0f entries/sec)\n",
		status.TotalFiles, buildElapsed.Round(time.Millisecond), float64(status.TotalFiles)/buildElapsed.Seconds())

	var totalElapsed time.Duration

	var lastTotalFound int

	var truncatedRuns int

	for i := 0; i < cfg.Runs; i++ {
		result, err := e.SearchFiles(ctx, cfg.Query, false, cfg.Limit)
		if err != nil {
			return fmt.Errorf("search_files: %w", err)
		}

		totalElapsed += time.Duration(result.ElapsedMs) * time.Millisecond
		lastTotalFound = result.TotalFound

		if result.Truncated {
			truncatedRuns++
		}
	}

	avg := totalElapsed / time.Duration(cfg.Runs)

	fmt.Printf("search_files(%q): total_found=%d, avg=%v over %d runs (%d truncated)\n",
		cfg.Query, lastTotalFound, avg, cfg.Runs, truncatedRuns)

	return nil
}
