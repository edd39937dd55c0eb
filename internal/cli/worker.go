package cli

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"jobqueue/internal/worker"
)

func (a *app) workerCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Manage worker processes",
	}
	cmd.AddCommand(
		a.startCommand("start", "Start worker processes in the foreground"),
		a.stopCommand("stop", "Stop the running worker pool"),
	)
	return cmd
}

func (a *app) startCommand(use, short string) *cobra.Command {
	var count int
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if !cmd.Flags().Changed("count") {
				count = a.deps.WorkerCount(ctx)
			}
			if count < 1 {
				return fmt.Errorf("--count must be at least 1, got %d", count)
			}

			if status, err := worker.ReadStatusFile(a.deps.Config.StatusFilePath()); err == nil && processAlive(status.PID) {
				a.deps.Logger.Warn("another worker pool appears to be running", "pid", status.PID)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Starting %d worker(s). Press Ctrl+C to stop.\n", count)
			pool := a.deps.NewPool(ctx)
			if err := pool.Start(ctx, count); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "All workers stopped.")
			return nil
		},
	}
	cmd.Flags().IntVarP(&count, "count", "c", 1, "number of workers (default: the worker_count setting)")
	return cmd
}

func (a *app) stopCommand(use, short string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			path := a.deps.Config.StatusFilePath()

			status, err := worker.ReadStatusFile(path)
			if errors.Is(err, worker.ErrNoStatus) {
				fmt.Fprintln(out, "No running workers found.")
				return nil
			}
			if err != nil {
				return err
			}

			if err := signalProcess(status.PID, syscall.SIGTERM); err != nil {
				a.deps.Logger.Debug("signal worker pool", "pid", status.PID, "error", err)
				if rmErr := worker.RemoveStatusFile(path); rmErr != nil {
					return rmErr
				}
				fmt.Fprintln(out, "No running workers found; removed a stale status file.")
				return nil
			}
			fmt.Fprintf(out, "Sent stop signal to worker pool (pid %d). Running jobs finish before it exits.\n", status.PID)
			return nil
		},
	}
}

func signalProcess(pid int, sig os.Signal) error {
	if pid <= 0 {
		return fmt.Errorf("invalid pid %d", pid)
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return p.Signal(sig)
}

// processAlive probes pid with signal 0.
func processAlive(pid int) bool {
	return signalProcess(pid, syscall.Signal(0)) == nil
}
