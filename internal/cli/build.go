package cli

import (
	"context"
	"errors"
	"time"

	flag "github.com/spf13/pflag"
)

var errBuildFailed = errors.New("build failed")

// BuildCmd returns the build command: crawl the configured roots and
// block until the index reaches Ready (or Error).
func BuildCmd(deps cmdDeps) *Command {
	fs := flag.NewFlagSet("build", flag.ContinueOnError)
	force := fs.Bool("force", false, "Rebuild even if the index already has content")

	return &Command{
		Flags: fs,
		Usage: "build [flags]",
		Short: "Crawl the configured roots and build the index",
		Long:  "Crawl the configured roots into the metadata store and search index, blocking until complete.",
		Exec: func(ctx context.Context, o *IO, _ []string) error {
			return execBuild(ctx, o, deps, *force)
		},
	}
}

func execBuild(ctx context.Context, o *IO, deps cmdDeps, force bool) error {
	e, cfg, err := deps.openEngine()
	if err != nil {
		return err
	}

	defer func() { _ = e.Close() }()

	if err := e.Start(ctx); err != nil {
		return err
	}

	progress, cancel := e.SubscribeProgress()
	defer cancel()

	e.BuildIndex(ctx, cfg.Roots, force)

	var lastPrinted time.Time

	for {
		select {
		case p, ok := <-progress:
			if !ok {
				continue
			}

			if time.Since(lastPrinted) >= 250*time.Millisecond {
				o.Printf("indexed %d/%d entries\n", p.Processed, p.Total)
				lastPrinted = time.Now()
			}

		case <-time.After(50 * time.Millisecond):
		}

		status := e.GetIndexStatus()
		if status.Err != nil {
			return errors.Join(errBuildFailed, status.Err)
		}

		if status.IsReady && !status.IndexingInProgress {
			o.Printf("done: %d entries indexed\n", status.TotalFiles)
			return nil
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}
