package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"jobqueue/internal/state"
	"jobqueue/internal/worker"
)

func (a *app) statusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show queue counts and active workers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			stats, err := a.deps.Queue.Stats(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "=== Queue Status ===")
			fmt.Fprintf(out, "Total jobs: %d\n", stats.Total)
			for _, s := range state.AllStatuses {
				fmt.Fprintf(out, "%s: %d\n", title(s.String()), stats.Count(s))
			}

			fmt.Fprintln(out)
			fmt.Fprintln(out, "=== Worker Status ===")
			status, err := worker.ReadStatusFile(a.deps.Config.StatusFilePath())
			switch {
			case errors.Is(err, worker.ErrNoStatus):
				fmt.Fprintln(out, "Active workers: 0")
				return nil
			case err != nil:
				return err
			}
			if !processAlive(status.PID) {
				fmt.Fprintf(out, "Active workers: 0 (stale status from pid %d)\n", status.PID)
				return nil
			}
			printWorkers(out, status)
			return nil
		},
	}
}

func printWorkers(out io.Writer, status worker.PoolStatus) {
	fmt.Fprintf(out, "Active workers: %d (pid %d, started %s)\n",
		status.ActiveWorkers, status.PID, status.StartedAt.Local().Format("2006-01-02 15:04:05"))
	for _, w := range status.Workers {
		fmt.Fprintf(out, "  %s: %s\n", w.ID, w.CurrentJob)
	}
}

func title(s string) string {
	if s == "" {
		return s
	}
	return string(s[0]-'a'+'A') + s[1:]
}
