// Package cli implements the bulkload command line: run a job described by
// a YAML manifest, then inspect, close or resume jobs by id.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/bulk-loader/internal/bulk"
	"github.com/bulk-loader/internal/service"
	"github.com/bulk-loader/internal/types"
)

// Runner is the part of service.Client the commands use
type Runner interface {
	Run(ctx context.Context, op types.Operation, object, externalKey string, input interface{}, opts ...service.Option) (*bulk.Outcome, error)
	Resume(ctx context.Context, jobID string, opts ...service.Option) (*bulk.Outcome, error)
	Inspect(ctx context.Context, jobID string) (*bulk.JobInfo, []*bulk.Batch, error)
	Close(ctx context.Context, jobID string) (*bulk.JobInfo, error)
	Counters() service.Counters
}

// Connector builds a Runner when a command needs one; the returned func
// releases whatever it opened
type Connector func(ctx context.Context) (Runner, func(), error)

// NewRootCmd creates the root command. connect is called lazily so that
// --help and argument errors work without configuration.
func NewRootCmd(ver string, connect Connector) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "bulkload",
		Short:         "Load and query records through the asynchronous bulk API",
		Version:       ver,
		SilenceUsage:  true,
		SilenceErrors: true,
		Example: `  # Run the job described in a manifest and wait for its results
  bulkload run -f accounts.yaml --results

  # Show what the platform reports for a job
  bulkload status 750x0000000001

  # Wait for a job that an earlier run gave up on
  bulkload resume 750x0000000001 --timeout 30m`,
	}

	cmd.AddCommand(
		newRunCmd(connect),
		newStatusCmd(connect),
		newCloseCmd(connect),
		newResumeCmd(connect),
	)
	return cmd
}

// Summary is what run and resume print
type Summary struct {
	JobID    string             `json:"jobId"`
	RunID    string             `json:"runId,omitempty"`
	State    types.JobState     `json:"state,omitempty"`
	Batches  []bulk.BatchReport `json:"batches,omitempty"`
	Counters service.Counters   `json:"counters"`
	Error    string             `json:"error,omitempty"`
	// Outstanding lists batches still running when the wait timed out
	Outstanding []string `json:"outstanding,omitempty"`
}

func summarize(out *bulk.Outcome, counters service.Counters) *Summary {
	s := &Summary{Counters: counters}
	if out == nil || out.Job == nil {
		return s
	}
	s.JobID = out.Job.ID()
	s.RunID = out.Job.RunID
	if out.Close != nil {
		s.State = out.Close.State
	}
	for _, b := range out.Batches {
		s.Batches = append(s.Batches, b.Report())
	}
	return s
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func connectRunner(cmd *cobra.Command, connect Connector) (Runner, func(), error) {
	runner, release, err := connect(cmd.Context())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect: %w", err)
	}
	if release == nil {
		release = func() {}
	}
	return runner, release, nil
}
