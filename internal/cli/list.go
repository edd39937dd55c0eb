package cli

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"jobqueue/internal/models"
	"jobqueue/internal/state"
	"jobqueue/internal/store"
)

func (a *app) listCommand() *cobra.Command {
	var stateFlag string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs, optionally filtered by state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var filter *state.JobStatus
			if stateFlag != "" {
				s, err := state.Parse(stateFlag)
				if err != nil {
					return err
				}
				filter = &s
			}

			jobs, err := a.deps.Queue.List(cmd.Context(), filter)
			if err != nil {
				return err
			}
			if len(jobs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No jobs found.")
				return nil
			}
			return printJobs(cmd, jobs)
		},
	}
	cmd.Flags().StringVar(&stateFlag, "state", "", "only list jobs in this state (pending, processing, completed, failed, dead)")
	return cmd
}

func printJobs(cmd *cobra.Command, jobs []models.Job) error {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATE\tATTEMPTS\tCREATED\tCOMMAND")
	for _, j := range jobs {
		fmt.Fprintf(w, "%s\t%s\t%d/%d\t%s\t%s\n",
			j.ID, j.State, j.Attempts, j.MaxRetries, j.CreatedAt.Local().Format("2006-01-02 15:04:05"), j.Command)
	}
	return w.Flush()
}

func (a *app) removeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <job-id>",
		Short: "Delete a job in any state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			err := a.deps.Queue.Remove(cmd.Context(), id)
			if errors.Is(err, store.ErrJobNotFound) {
				fmt.Fprintf(cmd.ErrOrStderr(), "Job %s not found\n", id)
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed job %s\n", id)
			return nil
		},
	}
}
