package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"
	"time"

	"github.com/livinlefevreloca/pulse/internal/db"
	"github.com/livinlefevreloca/pulse/internal/task"
)

type runPruner interface {
	PruneTaskRuns(before time.Time) (int64, error)
}

// pruneTask deletes history older than retention each time it runs
func pruneTask(store runPruner, retention time.Duration, logger *slog.Logger) task.Func {
	return func(ctx context.Context) error {
		removed, err := store.PruneTaskRuns(time.Now().Add(-retention))
		if err != nil {
			return fmt.Errorf("prune task runs: %w", err)
		}
		if removed > 0 {
			logger.Info("pruned task history", "removed", removed, "retention", retention)
		}
		return nil
	}
}

type historyReader interface {
	SummarizeTaskRuns() ([]db.TaskRunSummary, error)
	ListTaskRunsByName(name string, limit int) ([]*db.TaskRun, error)
}

// printHistory writes a per task summary, or the latest runs of one task
func printHistory(store historyReader, name string, limit int, out io.Writer) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)

	if name == "" {
		summaries, err := store.SummarizeTaskRuns()
		if err != nil {
			return err
		}
		fmt.Fprintln(tw, "TASK\tSUCCEEDED\tFAILED")
		for _, s := range summaries {
			fmt.Fprintf(tw, "%s\t%d\t%d\n", s.TaskName, s.Succeeded, s.Failed)
		}
		return tw.Flush()
	}

	runs, err := store.ListTaskRunsByName(name, limit)
	if err != nil {
		return err
	}
	fmt.Fprintln(tw, "STARTED\tDURATION\tRESULT\tERROR")
	for _, r := range runs {
		result, msg := "ok", ""
		if !r.Success {
			result = "failed"
			if r.Error != nil {
				msg = *r.Error
			}
		}
		fmt.Fprintf(tw, "%s\t%v\t%s\t%s\n",
			r.StartedAt.Local().Format(time.DateTime),
			time.Duration(r.DurationMS)*time.Millisecond,
			result,
			msg)
	}
	return tw.Flush()
}
