package cli

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

func (a *app) configCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Read and change queue settings",
		Long: `Read and change queue settings stored next to the jobs.

Known keys: max_retries, backoff_base, job_timeout (seconds),
poll_interval (seconds), worker_count, shutdown_timeout (seconds),
id_scheme (typeid or legacy).`,
	}

	set := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a setting; true/false and numbers are stored typed",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := a.deps.Settings.Set(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Set %s = %v\n", args[0], v)
			return nil
		},
	}

	get := &cobra.Command{
		Use:   "get <key>",
		Short: "Print one setting",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := a.deps.Settings.Get(cmd.Context(), args[0], nil)
			if err != nil {
				return err
			}
			if v == nil {
				fmt.Fprintf(cmd.OutOrStdout(), "%s is not set\n", args[0])
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s = %v\n", args[0], v)
			return nil
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "Print every setting",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			all, err := a.deps.Settings.GetAll(cmd.Context())
			if err != nil {
				return err
			}
			keys := make([]string, 0, len(all))
			for k := range all {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Fprintf(cmd.OutOrStdout(), "%s = %v\n", k, all[k])
			}
			return nil
		},
	}

	cmd.AddCommand(set, get, list)
	return cmd
}
