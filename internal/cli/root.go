// Package cli is the jobqueue command line. Every command opens the
// configured store once, runs one queue operation and exits.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"jobqueue/internal/config"
	"jobqueue/internal/jobqueue"
)

type app struct {
	storeName string
	dataDir   string
	logLevel  string

	stderr io.Writer
	deps   *jobqueue.Dependencies
}

// Execute runs the command line and returns the process exit code.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	a := &app{stderr: stderr}
	root := a.rootCommand()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if a.deps != nil {
		if closeErr := a.deps.Close(); closeErr != nil {
			a.deps.Logger.Warn("close store", "error", closeErr)
		}
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func (a *app) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "jobqueue",
		Short:         "A local background job queue for shell commands",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if !needsStore(cmd) {
				return nil
			}
			return a.setup(cmd.Context())
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.storeName, "store", "", "storage backend: file, sqlite, postgres or redis (default file, or $"+config.EnvStorageDriver+")")
	flags.StringVar(&a.dataDir, "data-dir", "", "directory for local data (default "+config.DefaultDataDir+", or $"+config.EnvDataDir+")")
	flags.StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn or error (or $"+config.EnvLogLevel+")")

	root.AddCommand(
		a.enqueueCommand(),
		a.workerCommand(),
		a.startCommand("start", "Start worker processes in the foreground"),
		a.stopCommand("stop", "Stop the running worker pool"),
		a.statusCommand(),
		a.listCommand(),
		a.removeCommand(),
		a.dlqCommand(),
		a.configCommand(),
	)
	return root
}

func needsStore(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		switch c.Name() {
		case "help", "completion", cobra.ShellCompRequestCmd, cobra.ShellCompNoDescRequestCmd:
			return false
		}
	}
	return true
}

func (a *app) setup(ctx context.Context) error {
	var opts []config.Option
	if a.storeName != "" {
		d, err := config.ParseStorageDriver(a.storeName)
		if err != nil {
			return err
		}
		opts = append(opts, config.WithStorageDriver(d))
	}
	if a.dataDir != "" {
		opts = append(opts, config.WithDataDir(a.dataDir))
	}
	if a.logLevel != "" {
		opts = append(opts, config.WithLogLevel(a.logLevel))
	}

	cfg, err := config.FromEnv(opts...)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := slog.New(slog.NewTextHandler(a.stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	deps, err := jobqueue.NewDependencies(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.StorageDriver, err)
	}
	a.deps = deps
	return nil
}
