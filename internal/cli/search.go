package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"

	"github.com/evfind/evfind/internal/entry"
	"github.com/evfind/evfind/internal/query"

	flag "github.com/spf13/pflag"
)

// SearchCmd returns the search command: a single batch query, or an
// --interactive REPL that re-queries on every line.
func SearchCmd(deps cmdDeps) *Command {
	fs := flag.NewFlagSet("search", flag.ContinueOnError)
	useRegex := fs.Bool("regex", false, "Treat the query as a whole-string regex")
	limit := fs.Int("limit", query.DefaultLimit, "Maximum results to return")
	interactive := fs.BoolP("interactive", "i", false, "Start an interactive search REPL")

	return &Command{
		Flags: fs,
		Usage: "search <query> [flags]",
		Short: "Search the index",
		Long:  "Search the index for entries matching query. See internal/query's grammar for ext:/folder:/regex: fields.",
		Exec: func(ctx context.Context, o *IO, args []string) error {
			if *interactive {
				return execSearchREPL(ctx, o, deps, *useRegex, *limit)
			}

			if len(args) == 0 {
				return errSearchQueryRequired
			}

			return execSearchOnce(ctx, o, deps, strings.Join(args, " "), *useRegex, *limit)
		},
	}
}

var errSearchQueryRequired = errors.New("search: query argument required (or pass --interactive)")

func execSearchOnce(ctx context.Context, o *IO, deps cmdDeps, q string, useRegex bool, limit int) error {
	e, _, err := deps.openEngine()
	if err != nil {
		return err
	}

	defer func() { _ = e.Close() }()

	result, err := e.SearchFiles(ctx, q, useRegex, limit)
	if err != nil {
		return err
	}

	printResult(o, result)

	return nil
}

func printResult(o *IO, result query.Result) {
	for _, hit := range result.Hits {
		o.Println(formatHit(hit))
	}

	if result.Truncated {
		o.Warn("search hit its deadline before finishing the scan; total_found is a lower bound")
	}

	o.Printf("%d shown, %d total, %dms\n", len(result.Hits), result.TotalFound, result.ElapsedMs)
}

func formatHit(e entry.Entry) string {
	kind := "file"
	if e.IsFolder {
		kind = "dir"
	}

	return fmt.Sprintf("[%s] %s", kind, e.Path)
}

func execSearchREPL(ctx context.Context, o *IO, deps cmdDeps, useRegex bool, limit int) error {
	e, _, err := deps.openEngine()
	if err != nil {
		return err
	}

	defer func() { _ = e.Close() }()

	line := liner.NewLiner()
	defer line.Close()

	line.SetCtrlCAborts(true)

	if f, err := os.Open(searchHistoryFile()); err == nil {
		line.ReadHistory(f)
		_ = f.Close()
	}

	o.Println("evfind interactive search. Type a query and press enter; empty line to exit.")

	for {
		q, err := line.Prompt("search> ")
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				break
			}

			return fmt.Errorf("reading input: %w", err)
		}

		q = strings.TrimSpace(q)
		if q == "" {
			break
		}

		line.AppendHistory(q)

		result, err := e.SearchFiles(ctx, q, useRegex, limit)
		if err != nil {
			o.Printf("error: %v\n", err)
			continue
		}

		printResult(o, result)
	}

	if f, err := os.Create(searchHistoryFile()); err == nil {
		line.WriteHistory(f)
		_ = f.Close()
	}

	return nil
}

func searchHistoryFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	return filepath.Join(home, ".evfind_search_history")
}
