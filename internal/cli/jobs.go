package cli

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/bulk-loader/internal/bulk"
	"github.com/bulk-loader/internal/errors"
	"github.com/bulk-loader/internal/service"
)

// StatusReport is what status prints
type StatusReport struct {
	Job     *bulk.JobInfo      `json:"job"`
	Batches []bulk.BatchReport `json:"batches"`
}

func newStatusCmd(connect Connector) *cobra.Command {
	return &cobra.Command{
		Use:   "status JOB_ID",
		Short: "Show a job and its batches as the platform reports them",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runner, release, err := connectRunner(cmd, connect)
			if err != nil {
				return err
			}
			defer release()

			info, batches, err := runner.Inspect(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			report := StatusReport{Job: info, Batches: make([]bulk.BatchReport, 0, len(batches))}
			for _, b := range batches {
				report.Batches = append(report.Batches, b.Report())
			}
			return writeJSON(cmd.OutOrStdout(), report)
		},
	}
}

func newCloseCmd(connect Connector) *cobra.Command {
	return &cobra.Command{
		Use:   "close JOB_ID",
		Short: "Close a job so the platform stops accepting batches for it",
		Long:  "Closing a job that is already closed succeeds.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runner, release, err := connectRunner(cmd, connect)
			if err != nil {
				return err
			}
			defer release()

			info, err := runner.Close(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), info)
		},
	}
}

func newResumeCmd(connect Connector) *cobra.Command {
	var timeout, pollInterval time.Duration
	cmd := &cobra.Command{
		Use:   "resume JOB_ID",
		Short: "Wait for an existing job's batches and collect their results",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runner, release, err := connectRunner(cmd, connect)
			if err != nil {
				return err
			}
			defer release()

			var opts []service.Option
			if timeout > 0 {
				opts = append(opts, service.WithTimeout(timeout))
			}
			if pollInterval > 0 {
				opts = append(opts, service.WithPollInterval(pollInterval))
			}

			out, runErr := runner.Resume(cmd.Context(), args[0], opts...)
			if out == nil && runErr != nil {
				return runErr
			}
			summary := summarize(out, runner.Counters())
			if runErr != nil {
				summary.Error = runErr.Error()
				summary.Outstanding = errors.OutstandingBatchIDs(runErr)
			}
			if err := writeJSON(cmd.OutOrStdout(), summary); err != nil {
				return err
			}
			return runErr
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "how long to wait for the batches")
	cmd.Flags().DurationVar(&pollInterval, "poll-interval", 0, "pause between status checks")
	return cmd
}
