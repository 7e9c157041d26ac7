package bulk

import (
	"context"
	"time"

	"github.com/bulk-loader/internal/errors"
	"github.com/bulk-loader/internal/logging"
	"github.com/bulk-loader/internal/types"
)

// Default polling parameters
const (
	DefaultPollTimeout  = 1500 * time.Second
	DefaultPollInterval = 5 * time.Second
)

// PollOptions bounds Wait
type PollOptions struct {
	// Timeout is the wall-clock budget for the whole wait (default: 1500s)
	Timeout time.Duration
	// Interval is the pause between rounds (default: 5s)
	Interval time.Duration
}

func (o PollOptions) withDefaults() PollOptions {
	if o.Timeout == 0 {
		o.Timeout = DefaultPollTimeout
	}
	if o.Interval == 0 {
		o.Interval = DefaultPollInterval
	}
	return o
}

// Wait polls the job's batches until every one is terminal and returns the
// terminal batches in submission order.
//
// Each round first checks the job itself. A job that is not Closed can
// still receive batches, so Wait stops and returns what is known without
// error. When the budget runs out Wait returns a timeout error listing the
// batches still outstanding, alongside the batches that did finish.
func (j *Job) Wait(ctx context.Context, opts PollOptions) ([]*Batch, error) {
	if j.id == "" {
		return nil, errors.NewValidationError("job", "has no id")
	}
	opts = opts.withDefaults()
	if opts.Timeout < 0 || opts.Interval < 0 {
		return nil, errors.NewValidationError("poll options", "durations must be positive")
	}

	logger := logging.FromContext(ctx).WithField("jobId", j.id)
	start := j.now()
	round := 0

	for {
		round++
		info, err := j.Status(ctx)
		if err != nil {
			return j.terminalBatches(), err
		}
		if info.State != types.JobStateClosed {
			logger.WithField("state", string(info.State)).Info("Job is not closed, stopping wait")
			return j.terminalBatches(), nil
		}

		for _, b := range j.outstandingBatches() {
			if _, err := j.BatchStatus(ctx, b.id); err != nil {
				return j.terminalBatches(), err
			}
		}

		outstanding := j.outstandingBatches()
		if len(outstanding) == 0 {
			logger.WithField("rounds", round).Info("All batches finished")
			return j.terminalBatches(), nil
		}

		elapsed := j.now().Sub(start)
		if elapsed >= opts.Timeout {
			ids := make([]string, 0, len(outstanding))
			for _, b := range outstanding {
				ids = append(ids, b.id)
			}
			logger.WithFields(map[string]interface{}{
				"outstanding": len(ids),
				"elapsed":     elapsed.String(),
			}).Warn("Timed out waiting for batches")
			return j.terminalBatches(), errors.NewTimeoutError(j.id, ids)
		}

		logger.WithFields(map[string]interface{}{
			"round":       round,
			"outstanding": len(outstanding),
		}).Debug("Batches still running")

		pause := opts.Interval
		if remaining := opts.Timeout - elapsed; remaining < pause {
			pause = remaining
		}
		timer := time.NewTimer(pause)
		select {
		case <-ctx.Done():
			timer.Stop()
			return j.terminalBatches(), ctx.Err()
		case <-timer.C:
		}
	}
}

func (j *Job) outstandingBatches() []*Batch {
	var out []*Batch
	for _, b := range j.Batches {
		if !b.state.IsTerminal() {
			out = append(out, b)
		}
	}
	return out
}

func (j *Job) terminalBatches() []*Batch {
	var out []*Batch
	for _, b := range j.Batches {
		if b.state.IsTerminal() {
			out = append(out, b)
		}
	}
	return out
}
