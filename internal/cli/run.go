package cli

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/bulk-loader/internal/errors"
	"github.com/bulk-loader/internal/service"
)

type runFlags struct {
	manifest     string
	results      bool
	batchSize    int
	timeout      time.Duration
	pollInterval time.Duration
}

func newRunCmd(connect Connector) *cobra.Command {
	var flags runFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the bulk job described by a manifest",
		Long: `Creates a job, submits the manifest's records (or query) in batches and
closes the job. With --results, or results: true in the manifest, it waits
for every batch and prints the per-record outcomes or query rows.

If the wait times out the job keeps running remotely; the output lists
the outstanding batches and "bulkload resume" picks it up later.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runJob(cmd, connect, flags)
		},
	}

	cmd.Flags().StringVarP(&flags.manifest, "file", "f", "", "path to the job manifest (required)")
	cmd.Flags().BoolVar(&flags.results, "results", false, "wait for the batches and collect their results")
	cmd.Flags().IntVar(&flags.batchSize, "batch-size", 0, "records per batch (overrides the manifest)")
	cmd.Flags().DurationVar(&flags.timeout, "timeout", 0, "how long to wait for results (overrides the manifest)")
	cmd.Flags().DurationVar(&flags.pollInterval, "poll-interval", 0, "pause between status checks")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

func runJob(cmd *cobra.Command, connect Connector, flags runFlags) error {
	m, err := LoadManifest(flags.manifest)
	if err != nil {
		return err
	}

	runner, release, err := connectRunner(cmd, connect)
	if err != nil {
		return err
	}
	defer release()

	out, runErr := runner.Run(cmd.Context(), m.OperationType(), m.Object, m.ExternalKey, m.Input(), manifestOptions(m, flags)...)
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
}

func manifestOptions(m *Manifest, flags runFlags) []service.Option {
	var opts []service.Option

	batchSize := m.BatchSize
	if flags.batchSize > 0 {
		batchSize = flags.batchSize
	}
	if batchSize > 0 {
		opts = append(opts, service.WithBatchSize(batchSize))
	}

	timeout := m.Timeout
	if flags.timeout > 0 {
		timeout = flags.timeout
	}
	if timeout > 0 {
		opts = append(opts, service.WithTimeout(timeout))
	}

	interval := m.PollInterval
	if flags.pollInterval > 0 {
		interval = flags.pollInterval
	}
	if interval > 0 {
		opts = append(opts, service.WithPollInterval(interval))
	}

	if m.SendNulls {
		opts = append(opts, service.WithSendNulls(m.NullExclusions...))
	}
	if m.Serial {
		opts = append(opts, service.WithSerial())
	}
	if m.Results || flags.results {
		opts = append(opts, service.WithResults())
	}
	return opts
}
