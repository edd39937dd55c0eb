package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"jobqueue/internal/queue"
)

// jobSpec is the JSON form accepted by enqueue. A spec that does not start
// with "{" is taken as the command itself.
type jobSpec struct {
	ID         string `json:"id"`
	Command    string `json:"command"`
	MaxRetries *int   `json:"max_retries"`
}

func parseJobSpec(raw string) (jobSpec, error) {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "{") {
		return jobSpec{Command: raw}, nil
	}

	var spec jobSpec
	if err := json.Unmarshal([]byte(trimmed), &spec); err != nil {
		return jobSpec{}, fmt.Errorf("invalid job JSON: %w", err)
	}
	if spec.Command == "" {
		return jobSpec{}, errors.New("job JSON has no command")
	}
	return spec, nil
}

func (s jobSpec) options() []queue.EnqueueOption {
	var opts []queue.EnqueueOption
	if s.ID != "" {
		opts = append(opts, queue.WithID(s.ID))
	}
	if s.MaxRetries != nil {
		opts = append(opts, queue.WithMaxRetries(*s.MaxRetries))
	}
	return opts
}

func (a *app) enqueueCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "enqueue <job>",
		Short: "Add a job to the queue",
		Long: `Add a job to the queue. The job is either a JSON object such as
{"id":"backup","command":"tar czf /tmp/b.tgz .","max_retries":5}
or a plain shell command.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			spec, err := parseJobSpec(args[0])
			if err != nil {
				return fmt.Errorf("enqueue job: %w", err)
			}
			job, err := a.deps.Queue.Enqueue(cmd.Context(), spec.Command, spec.options()...)
			if err != nil {
				return fmt.Errorf("enqueue job: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Enqueued job: %s\n", job.ID)
			fmt.Fprintf(out, "Command: %s\n", job.Command)
			fmt.Fprintf(out, "State: %s\n", job.State)
			return nil
		},
	}
}
