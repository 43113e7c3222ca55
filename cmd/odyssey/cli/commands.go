// Package cli holds operational subcommands of the odyssey binary.
package cli

import (
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"
)

// ExitError carries a non-zero exit code out of a command.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit status %d", e.Code)
}

// NewPluginsCommand builds "plugins validate DIR".
func NewPluginsCommand(p *PluginsCLI) *cobra.Command {
	var jsonOutput bool
	validate := &cobra.Command{
		Use:   "validate DIR",
		Short: "Dry-run every plugin manifest under DIR",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			code := p.ValidateCommand(cmd.Context(), PluginsValidateOptions{
				Dir:        args[0],
				JSONOutput: jsonOutput,
				Stdout:     cmd.OutOrStdout(),
				Stderr:     cmd.ErrOrStderr(),
			})
			if code != 0 {
				return &ExitError{Code: code}
			}
			return nil
		},
	}
	validate.Flags().BoolVar(&jsonOutput, "json", false, "print the summary as JSON")

	root := &cobra.Command{Use: "plugins", Short: "Plugin manifest tooling"}
	root.AddCommand(validate)
	return root
}

// NewJobsCommand builds "jobs stats" and "jobs notify CHANNEL MESSAGE".
// redisOpts is resolved lazily so help output works without configuration.
func NewJobsCommand(redisOpts func() (asynq.RedisClientOpt, error)) *cobra.Command {
	open := func() (*JobsCLI, error) {
		opts, err := redisOpts()
		if err != nil {
			return nil, err
		}
		return NewJobsCLI(opts), nil
	}

	stats := &cobra.Command{
		Use:   "stats",
		Short: "Show notification queue statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := open()
			if err != nil {
				return err
			}
			defer c.Close()
			s, err := c.InspectQueue(cmd.Context())
			if err != nil {
				return err
			}
			return json.NewEncoder(cmd.OutOrStdout()).Encode(s)
		},
	}

	notify := &cobra.Command{
		Use:   "notify CHANNEL MESSAGE",
		Short: "Enqueue a test notification for a channel",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := open()
			if err != nil {
				return err
			}
			defer c.Close()
			info, err := c.NotifyTest(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "enqueued %s on %s\n", info.ID, info.Queue)
			return nil
		},
	}

	root := &cobra.Command{Use: "jobs", Short: "Background job tooling"}
	root.AddCommand(stats, notify)
	return root
}
