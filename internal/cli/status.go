package cli

import (
	"context"

	flag "github.com/spf13/pflag"
)

// StatusCmd returns the status command: report get_index_status.
func StatusCmd(deps cmdDeps) *Command {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)

	return &Command{
		Flags: fs,
		Usage: "status",
		Short: "Show the current index status",
		Exec: func(_ context.Context, o *IO, _ []string) error {
			return execStatus(o, deps)
		},
	}
}

func execStatus(o *IO, deps cmdDeps) error {
	e, _, err := deps.openEngine()
	if err != nil {
		return err
	}

	defer func() { _ = e.Close() }()

	status := e.GetIndexStatus()

	o.Printf("ready:              %v\n", status.IsReady)
	o.Printf("total_files:        %d\n", status.TotalFiles)
	o.Printf("indexing_in_progress: %v\n", status.IndexingInProgress)

	if !status.LastUpdated.IsZero() {
		o.Printf("last_updated:       %s\n", status.LastUpdated.Format("2006-01-02T15:04:05Z07:00"))
	}

	if status.Err != nil {
		o.Printf("error:              %v\n", status.Err)
	}

	return nil
}
