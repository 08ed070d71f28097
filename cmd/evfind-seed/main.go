// Package main provides evfind-seed, a tool to generate synthetic file
// trees for exercising and benchmarking evfind.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"
	"time"
)

func main() {
	counts := []int{1000, 50000, 1000000}
	baseDir := filepath.Join(os.TempDir(), "evfind-bench")

	for _, count := range counts {
		dir := filepath.Join(baseDir, strconv.Itoa(count))
		start := time.Now()

		err := seedTree(dir, count)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error seeding %d: %v\n", count, err)
			os.Exit(1)
		}

		fmt.Printf("Created %d files in %s -> %s\n", count, time.Since(start), dir)
	}
}

// seedTree populates dir with count files spread across a handful of
// subdirectories, with a name distribution that guarantees a known
// number of "log" matches (roughly 5% of entries), useful for exercising
// spec.md's 1M-entry/50K-match scenario.
func seedTree(dir string, count int) error {
	_ = os.RemoveAll(dir)

	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}

	const numSubdirs = 20

	for i := range numSubdirs {
		sub := filepath.Join(dir, fmt.Sprintf("folder%03d", i))
		if err := os.MkdirAll(sub, 0o750); err != nil {
			return fmt.Errorf("creating subdir: %w", err)
		}
	}

	numWorkers := runtime.NumCPU()
	indices := make(chan int, numWorkers*2)

	var wg sync.WaitGroup

	for range numWorkers {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for i := range indices {
				writeSeedFile(dir, i)
			}
		}()
	}

	for i := 1; i <= count; i++ {
		indices <- i
	}

	close(indices)

	wg.Wait()

	return nil
}

func writeSeedFile(dir string, i int) {
	sub := filepath.Join(dir, fmt.Sprintf("folder%03d", i%20))

	exts := []string{".txt", ".pdf", ".go", ".json", ".md"}
	ext := exts[i%len(exts)]

	name := fmt.Sprintf("file%07d%s", i, ext)

	// Roughly 5% of names contain "log", matching spec.md's
	// 1,000,000-entry / 50,000-match search_files scenario.
	if i%20 == 0 {
		name = fmt.Sprintf("log%07d%s", i, ext)
	}

	path := filepath.Join(sub, name)

	content := fmt.Sprintf("seed entry %d\n", i)

	_ = os.WriteFile(path, []byte(content), 0o600)
}
