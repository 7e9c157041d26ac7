package cli_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bulk-loader/internal/bulktest"
	"github.com/bulk-loader/internal/cli"
	"github.com/bulk-loader/internal/config"
	"github.com/bulk-loader/internal/errors"
	"github.com/bulk-loader/internal/retry"
	"github.com/bulk-loader/internal/service"
	"github.com/bulk-loader/internal/transport"
	"github.com/bulk-loader/internal/types"
)

func connector(t *testing.T, srv *bulktest.Server) cli.Connector {
	t.Helper()
	return func(ctx context.Context) (cli.Runner, func(), error) {
		conn, err := transport.NewConnection(transport.Config{
			InstanceURL: srv.InstanceURL(),
			SessionID:   bulktest.SessionID,
			APIVersion:  config.DefaultAPIVersion,
			RateLimit:   1000,
			RateBurst:   1000,
			Retry:       &retry.RetryConfig{MaxAttempts: 1, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1},
		})
		if err != nil {
			return nil, nil, err
		}
		client := service.NewClient(conn, service.Defaults{PollInterval: 2 * time.Millisecond, Timeout: 5 * time.Second})
		return client, nil, nil
	}
}

func execute(t *testing.T, connect cli.Connector, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := cli.NewRootCmd("test", connect)
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeManifest(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "job.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

const insertManifest = `
operation: insert
object: Account
batchSize: 2
records:
  - Name: Acme
  - Name: Globex
  - Name: Initech
`

func TestRun_WithResults(t *testing.T) {
	srv := bulktest.NewServer()
	defer srv.Close()

	output, err := execute(t, connector(t, srv), "run", "-f", writeManifest(t, insertManifest), "--results")
	require.NoError(t, err, output)

	var summary cli.Summary
	require.NoError(t, json.Unmarshal([]byte(output), &summary))
	assert.NotEmpty(t, summary.JobID)
	assert.NotEmpty(t, summary.RunID)
	assert.Equal(t, types.JobStateClosed, summary.State)
	require.Len(t, summary.Batches, 2)
	assert.Len(t, summary.Batches[0].Results, 2)
	assert.Len(t, summary.Batches[1].Results, 1)
	assert.Equal(t, int64(1), summary.Counters.Operations[types.OperationInsert])
	assert.Len(t, srv.Rows("Account"), 3)
}

func TestRun_Query(t *testing.T) {
	srv := bulktest.NewServer(bulktest.WithRows("Account",
		types.NewRecord().Set("Id", types.Text("001A")).Set("Name", types.Text("Acme")),
	))
	defer srv.Close()

	path := writeManifest(t, "operation: query\nobject: Account\nquery: SELECT Id, Name FROM Account\nresults: true\n")
	output, err := execute(t, connector(t, srv), "run", "-f", path)
	require.NoError(t, err, output)

	var summary cli.Summary
	require.NoError(t, json.Unmarshal([]byte(output), &summary))
	require.Len(t, summary.Batches, 1)
	require.Len(t, summary.Batches[0].Rows, 1)
	assert.Equal(t, "Acme", summary.Batches[0].Rows[0]["Name"])
}

func TestRun_TimeoutThenResume(t *testing.T) {
	srv := bulktest.NewServer(bulktest.WithPollsToFinish(-1))
	defer srv.Close()
	connect := connector(t, srv)

	output, err := execute(t, connect, "run", "-f", writeManifest(t, insertManifest), "--results", "--timeout", "20ms")
	require.Error(t, err)
	assert.True(t, errors.IsTimeout(err))

	var summary cli.Summary
	require.NoError(t, json.Unmarshal([]byte(output), &summary))
	assert.Len(t, summary.Outstanding, 2)
	assert.NotEmpty(t, summary.Error)

	output, err = execute(t, connect, "status", summary.JobID)
	require.NoError(t, err, output)
	var report cli.StatusReport
	require.NoError(t, json.Unmarshal([]byte(output), &report))
	assert.Equal(t, types.JobStateClosed, report.Job.State)
	require.Len(t, report.Batches, 2)

	srv.SetPollsToFinish(0)
	output, err = execute(t, connect, "resume", summary.JobID, "--poll-interval", "1ms")
	require.NoError(t, err, output)

	var resumed cli.Summary
	require.NoError(t, json.Unmarshal([]byte(output), &resumed))
	assert.Equal(t, summary.JobID, resumed.JobID)
	require.Len(t, resumed.Batches, 2)
	for _, b := range resumed.Batches {
		assert.Equal(t, types.BatchStateCompleted, b.State)
		assert.NotEmpty(t, b.Results)
	}
}

func TestClose(t *testing.T) {
	srv := bulktest.NewServer()
	defer srv.Close()
	connect := connector(t, srv)

	output, err := execute(t, connect, "run", "-f", writeManifest(t, insertManifest))
	require.NoError(t, err, output)
	var summary cli.Summary
	require.NoError(t, json.Unmarshal([]byte(output), &summary))

	output, err = execute(t, connect, "close", summary.JobID)
	require.NoError(t, err, "closing a closed job succeeds: %s", output)
	assert.Contains(t, output, `"state": "Closed"`)
}

func TestRun_InvalidManifestNeverConnects(t *testing.T) {
	connected := false
	connect := func(ctx context.Context) (cli.Runner, func(), error) {
		connected = true
		return nil, nil, fmt.Errorf("should not connect")
	}

	_, err := execute(t, connect, "run", "-f", writeManifest(t, "operation: merge\nobject: Account\n"))
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))
	assert.False(t, connected)

	_, err = execute(t, connect, "run")
	assert.Error(t, err, "--file is required")
	assert.False(t, connected)
}

func TestConnectFailure(t *testing.T) {
	connect := func(ctx context.Context) (cli.Runner, func(), error) {
		return nil, nil, fmt.Errorf("BULK_SESSION_ID is required")
	}

	_, err := execute(t, connect, "status", "750A")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BULK_SESSION_ID")

	_, err = execute(t, connect, "status")
	assert.Error(t, err, "job id is required")
}
