package storage

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bulk-loader/internal/config"
	apperrors "github.com/bulk-loader/internal/errors"
	"github.com/bulk-loader/internal/models"
)

func testPostgresConfig() *config.PostgresConfig {
	return &config.PostgresConfig{
		Host:           getenv("POSTGRES_HOST", "localhost"),
		Port:           getenv("POSTGRES_PORT", "5432"),
		Database:       getenv("POSTGRES_DB", "bulk_loader"),
		User:           getenv("POSTGRES_USER", "bulk"),
		Password:       getenv("POSTGRES_PASSWORD", "bulk_dev_password"),
		MaxConnections: 4,
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// openTestDB connects and migrates, skipping when Postgres is not available
func openTestDB(t *testing.T) *PostgresDB {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	cfg := testPostgresConfig()
	db, err := NewPostgresDB(cfg)
	if err != nil {
		t.Skipf("Skipping test - Postgres not available: %v", err)
	}
	t.Cleanup(db.Close)

	require.NoError(t, RunMigrations(cfg.URL(), "../../migrations/postgres"))
	return db
}

func TestNewPostgresDB(t *testing.T) {
	db := openTestDB(t)
	assert.NoError(t, db.Ping(testContext(t)))
	assert.NotNil(t, db.Pool())
}

func TestMigrationVersion(t *testing.T) {
	openTestDB(t)
	cfg := testPostgresConfig()

	version, dirty, err := MigrationVersion(cfg.URL(), "../../migrations/postgres")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, version, uint(1))
	assert.False(t, dirty)
}

func TestJobRepository_SaveAndGet(t *testing.T) {
	db := openTestDB(t)
	repo := NewJobRepository(db)
	ctx := testContext(t)

	jobID := "750T" + time.Now().Format("150405.000000")
	created := time.Now().UTC().Truncate(time.Millisecond)
	key := "External_Id__c"

	job := &models.JobRecord{
		JobID:            jobID,
		RunID:            "run-1",
		Operation:        "upsert",
		Object:           "Account",
		ExternalKeyField: &key,
		ConcurrencyMode:  "Parallel",
		State:            "Closed",
		BatchCount:       2,
		RecordCount:      15,
		CreatedAt:        created,
		UpdatedAt:        created,
	}
	require.NoError(t, repo.SaveJob(ctx, job))

	batches := []*models.BatchRecord{
		{BatchID: jobID + "-b1", Position: 1, State: "Queued", RecordCount: 5, UpdatedAt: created},
		{BatchID: jobID + "-b0", Position: 0, State: "Queued", RecordCount: 10, UpdatedAt: created},
	}
	require.NoError(t, repo.SaveBatches(ctx, jobID, batches))

	// A resumed run knows less about the job but more about its progress
	finished := created.Add(time.Minute)
	resumed := &models.JobRecord{
		JobID:            jobID,
		Operation:        "upsert",
		ConcurrencyMode:  "Parallel",
		State:            "Closed",
		BatchCount:       2,
		RecordsProcessed: 15,
		RecordsFailed:    1,
		CreatedAt:        finished,
		UpdatedAt:        finished,
		FinishedAt:       &finished,
	}
	require.NoError(t, repo.SaveJob(ctx, resumed))
	require.NoError(t, repo.SaveBatches(ctx, jobID, []*models.BatchRecord{
		{BatchID: jobID + "-b0", Position: 0, State: "Completed", RecordsProcessed: 10, ResultsFetched: true, UpdatedAt: finished},
	}))

	got, err := repo.GetJob(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, "run-1", got.RunID)
	assert.Equal(t, "Account", got.Object)
	assert.Equal(t, 15, got.RecordCount)
	assert.Equal(t, 15, got.RecordsProcessed)
	assert.True(t, created.Equal(got.CreatedAt))
	require.NotNil(t, got.FinishedAt)
	require.NotNil(t, got.ExternalKeyField)
	assert.Equal(t, key, *got.ExternalKeyField)

	list, err := repo.ListBatches(ctx, jobID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, jobID+"-b0", list[0].BatchID)
	assert.Equal(t, "Completed", list[0].State)
	assert.Equal(t, 10, list[0].RecordCount)
	assert.True(t, list[0].ResultsFetched)

	jobs, err := repo.ListJobs(ctx, JobFilter{Object: "Account", Operation: "upsert", Limit: 500})
	require.NoError(t, err)
	var found bool
	for _, j := range jobs {
		found = found || j.JobID == jobID
	}
	assert.True(t, found)
}

func TestJobRepository_GetJobNotFound(t *testing.T) {
	db := openTestDB(t)
	repo := NewJobRepository(db)

	_, err := repo.GetJob(testContext(t), "750DOESNOTEXIST")
	require.Error(t, err)
	assert.Equal(t, 404, apperrors.GetHTTPStatusCode(err))
}
