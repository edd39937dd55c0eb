package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func (a *app) dlqCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dlq",
		Short: "Inspect and retry dead jobs",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List jobs in the dead letter queue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			jobs, err := a.deps.Queue.DeadLetters(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(jobs) == 0 {
				fmt.Fprintln(out, "No jobs in Dead Letter Queue")
				return nil
			}
			for _, j := range jobs {
				fmt.Fprintf(out, "%s: %s\n", j.ID, j.Command)
				fmt.Fprintf(out, "  Last error: %s\n", j.LastErrorText())
				fmt.Fprintf(out, "  Attempts: %d/%d\n\n", j.Attempts, j.MaxRetries)
			}
			return nil
		},
	}

	retry := &cobra.Command{
		Use:   "retry <job-id>",
		Short: "Move a dead job back to pending with its attempts reset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			ok, err := a.deps.Queue.RetryDeadJob(cmd.Context(), id)
			if err != nil {
				return err
			}
			if !ok {
				fmt.Fprintf(cmd.ErrOrStderr(), "Job %s not found in DLQ or not dead\n", id)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Job %s moved back to pending queue\n", id)
			return nil
		},
	}

	cmd.AddCommand(list, retry)
	return cmd
}
