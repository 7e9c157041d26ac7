package bulktest_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bulk-loader/internal/bulk"
	"github.com/bulk-loader/internal/bulktest"
	"github.com/bulk-loader/internal/errors"
	"github.com/bulk-loader/internal/retry"
	"github.com/bulk-loader/internal/transport"
	"github.com/bulk-loader/internal/types"
)

var fastPoll = bulk.PollOptions{Timeout: 5 * time.Second, Interval: 2 * time.Millisecond}

func connect(t *testing.T, srv *bulktest.Server, session string) *transport.Connection {
	t.Helper()
	conn, err := transport.NewConnection(transport.Config{
		InstanceURL: srv.InstanceURL(),
		SessionID:   session,
		APIVersion:  "32.0",
		RateLimit:   1000,
		RateBurst:   1000,
		Retry:       &retry.RetryConfig{MaxAttempts: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1},
	})
	require.NoError(t, err)
	return conn
}

func contacts(n int) []*types.Record {
	out := make([]*types.Record, n)
	for i := range out {
		out[i] = types.NewRecord().
			Set("LastName", types.Text(fmt.Sprintf("Contact %02d", i))).
			Set("Email", types.Null())
	}
	return out
}

func TestEndToEnd_InsertThenQuery(t *testing.T) {
	srv := bulktest.NewServer(bulktest.WithPollsToFinish(1), bulktest.WithResultSetSize(10))
	defer srv.Close()
	conn := connect(t, srv, bulktest.SessionID)
	driver := bulk.NewDriver(conn)
	ctx := context.Background()

	out, err := driver.Run(ctx, bulk.RunOptions{
		Job:        bulk.JobOptions{Operation: types.OperationInsert, Object: "Contact", BatchSize: 10, SendNulls: true},
		Input:      contacts(25),
		GetResults: true,
		Poll:       fastPoll,
	})
	require.NoError(t, err)

	require.Len(t, out.Batches, 3)
	assert.Len(t, out.Batches[0].Results, 10)
	assert.Len(t, out.Batches[1].Results, 10)
	assert.Len(t, out.Batches[2].Results, 5)
	for _, b := range out.Batches {
		assert.Equal(t, types.BatchStateCompleted, b.State())
		for _, r := range b.Results {
			assert.True(t, r.Success)
			assert.True(t, r.Created)
		}
	}
	assert.Equal(t, types.JobStateClosed, srv.JobState(out.Job.ID()))
	assert.Equal(t, "Contact 10", srv.Rows("Contact")[10].Get("LastName").String())

	out, err = driver.Run(ctx, bulk.RunOptions{
		Job:        bulk.JobOptions{Operation: types.OperationQuery, Object: "Contact"},
		Input:      "SELECT Id, LastName, Email FROM Contact",
		GetResults: true,
		Poll:       fastPoll,
	})
	require.NoError(t, err)
	require.Len(t, out.Batches, 1)

	rows := out.Batches[0].Rows
	require.Len(t, rows, 25, "three result sets are concatenated")
	assert.Equal(t, "Contact 00", rows[0].Get("LastName").String())
	assert.Equal(t, "Contact 24", rows[24].Get("LastName").String())
	assert.Equal(t, types.KindNull, rows[0].Get("Email").Kind())
	assert.NotEmpty(t, rows[0].Get("Id").String())

	counters := conn.Counters()
	assert.Positive(t, counters.Get)
	assert.Positive(t, counters.Post)
}

func TestEndToEnd_UpsertAndDelete(t *testing.T) {
	srv := bulktest.NewServer(bulktest.WithRows("Account",
		types.NewRecord().Set("Id", types.Text("001EXISTING")).Set("Ext__c", types.Text("A-1")).Set("Name", types.Text("Old")),
	))
	defer srv.Close()
	driver := bulk.NewDriver(connect(t, srv, bulktest.SessionID))
	ctx := context.Background()

	out, err := driver.Run(ctx, bulk.RunOptions{
		Job: bulk.JobOptions{Operation: types.OperationUpsert, Object: "Account", ExternalKeyField: "Ext__c"},
		Input: []map[string]interface{}{
			{"Ext__c": "A-1", "Name": "Renamed"},
			{"Ext__c": "A-2", "Name": "Fresh"},
		},
		GetResults: true,
		Poll:       fastPoll,
	})
	require.NoError(t, err)
	results := out.Batches[0].Results
	require.Len(t, results, 2)
	assert.Equal(t, "001EXISTING", results[0].ID)
	assert.False(t, results[0].Created)
	assert.True(t, results[1].Created)

	rows := srv.Rows("Account")
	require.Len(t, rows, 2)
	assert.Equal(t, "Renamed", rows[0].Get("Name").String())

	out, err = driver.Run(ctx, bulk.RunOptions{
		Job:        bulk.JobOptions{Operation: types.OperationDelete, Object: "Account"},
		Input:      []map[string]interface{}{{"Id": "001EXISTING"}, {"Id": "001MISSING"}},
		GetResults: true,
		Poll:       fastPoll,
	})
	require.NoError(t, err)
	results = out.Batches[0].Results
	assert.True(t, results[0].Success)
	assert.False(t, results[1].Success)
	assert.Equal(t, "ENTITY_IS_DELETED", results[1].Errors[0].StatusCode)
	assert.Len(t, srv.Rows("Account"), 1)
}

func TestEndToEnd_RecordFailuresAreOutcomes(t *testing.T) {
	srv := bulktest.NewServer(bulktest.WithRequiredField("LastName"))
	defer srv.Close()
	driver := bulk.NewDriver(connect(t, srv, bulktest.SessionID))

	out, err := driver.Run(context.Background(), bulk.RunOptions{
		Job: bulk.JobOptions{Operation: types.OperationInsert, Object: "Contact"},
		Input: []map[string]interface{}{
			{"LastName": "Doe"},
			{"FirstName": "Nameless"},
		},
		GetResults: true,
		Poll:       fastPoll,
	})
	require.NoError(t, err)
	results := out.Batches[0].Results
	require.Len(t, results, 2)
	assert.True(t, results[0].Success)
	assert.False(t, results[1].Success)
	assert.Equal(t, []string{"LastName"}, results[1].Errors[0].Fields)
	assert.Equal(t, 1, out.Batches[0].RecordsFailed)
}

func TestEndToEnd_FailedBatches(t *testing.T) {
	srv := bulktest.NewServer(bulktest.WithFinalState(types.BatchStateFailed))
	defer srv.Close()
	driver := bulk.NewDriver(connect(t, srv, bulktest.SessionID))

	out, err := driver.Run(context.Background(), bulk.RunOptions{
		Job:        bulk.JobOptions{Operation: types.OperationInsert, Object: "Contact"},
		Input:      contacts(2),
		GetResults: true,
		Poll:       fastPoll,
	})
	require.NoError(t, err)
	require.Len(t, out.Batches, 1)
	assert.Equal(t, types.BatchStateFailed, out.Batches[0].State())
	assert.NotEmpty(t, out.Batches[0].StateMessage)
	assert.Nil(t, out.Batches[0].Results)
}

func TestEndToEnd_InvalidSession(t *testing.T) {
	srv := bulktest.NewServer()
	defer srv.Close()
	driver := bulk.NewDriver(connect(t, srv, "expired"))

	_, err := driver.Run(context.Background(), bulk.RunOptions{
		Job:   bulk.JobOptions{Operation: types.OperationInsert, Object: "Contact"},
		Input: contacts(1),
	})
	require.Error(t, err)
	assert.True(t, errors.IsProtocol(err))
	assert.Equal(t, "InvalidSessionId", errors.Categorize(err).Code)
}

func TestEndToEnd_TimeoutThenResume(t *testing.T) {
	srv := bulktest.NewServer(bulktest.WithPollsToFinish(-1))
	defer srv.Close()
	conn := connect(t, srv, bulktest.SessionID)
	ctx := context.Background()

	out, err := bulk.NewDriver(conn).Run(ctx, bulk.RunOptions{
		Job:        bulk.JobOptions{Operation: types.OperationInsert, Object: "Contact", BatchSize: 2},
		Input:      contacts(3),
		GetResults: true,
		Poll:       bulk.PollOptions{Timeout: 30 * time.Millisecond, Interval: 5 * time.Millisecond},
	})
	require.Error(t, err)
	require.True(t, errors.IsTimeout(err))
	assert.Len(t, errors.OutstandingBatchIDs(err), 2)

	srv.SetPollsToFinish(0)
	job := bulk.JobFromID(conn, out.Job.ID(), types.OperationInsert)
	require.NoError(t, job.LoadBatches(ctx))
	batches, err := job.Wait(ctx, fastPoll)
	require.NoError(t, err)
	require.NoError(t, job.FetchResults(ctx, batches))
	require.Len(t, batches, 2)
	assert.Len(t, batches[0].Results, 2)
	assert.Len(t, batches[1].Results, 1)
}

func TestEndToEnd_CloseTwice(t *testing.T) {
	srv := bulktest.NewServer()
	defer srv.Close()
	conn := connect(t, srv, bulktest.SessionID)
	ctx := context.Background()

	job, err := bulk.NewJob(conn, bulk.JobOptions{Operation: types.OperationInsert, Object: "Contact"})
	require.NoError(t, err)
	require.NoError(t, job.Create(ctx))
	_, err = job.Close(ctx)
	require.NoError(t, err)

	info, err := job.Close(ctx)
	require.NoError(t, err)
	assert.Equal(t, types.JobStateClosed, info.State)
}

func TestEndToEnd_RelationshipReference(t *testing.T) {
	srv := bulktest.NewServer()
	defer srv.Close()
	driver := bulk.NewDriver(connect(t, srv, bulktest.SessionID))

	contact := types.NewRecord().
		Set("LastName", types.Text("Doe")).
		Set("Account", types.Nested(types.NewRecord().Set("External_Id__c", types.Text("EXT-1"))))

	out, err := driver.Run(context.Background(), bulk.RunOptions{
		Job:        bulk.JobOptions{Operation: types.OperationInsert, Object: "Contact"},
		Input:      []*types.Record{contact},
		GetResults: true,
		Poll:       fastPoll,
	})
	require.NoError(t, err)
	require.Len(t, out.Batches, 1)
	assert.Equal(t, types.BatchStateCompleted, out.Batches[0].State())

	rows := srv.Rows("Contact")
	require.Len(t, rows, 1)
	account := rows[0].Get("Account")
	require.True(t, account.IsNested())
	assert.Equal(t, "EXT-1", account.Record().Get("External_Id__c").String())
}
