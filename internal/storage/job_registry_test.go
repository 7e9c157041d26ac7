package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bulk-loader/internal/models"
)

func TestJobRegistry_RegisterAndListOpen(t *testing.T) {
	registry, _ := newTestRegistry(t)
	ctx := testContext(t)
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, registry.Register(ctx, openJob("750B", base.Add(time.Minute))))
	require.NoError(t, registry.Register(ctx, openJob("750A", base)))
	require.NoError(t, registry.Register(ctx, openJob("750C", base.Add(2*time.Minute))))

	jobs, err := registry.ListOpen(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 3)
	assert.Equal(t, "750A", jobs[0].JobID, "oldest first")
	assert.Equal(t, "750B", jobs[1].JobID)
	assert.Equal(t, "750C", jobs[2].JobID)
	assert.Equal(t, "run-750A", jobs[0].RunID)
	assert.Equal(t, "Account", jobs[0].Object)
	assert.True(t, base.Equal(jobs[0].CreatedAt))
}

func TestJobRegistry_Complete(t *testing.T) {
	registry, _ := newTestRegistry(t)
	ctx := testContext(t)

	require.NoError(t, registry.Register(ctx, openJob("750A", time.Now())))
	open, err := registry.IsOpen(ctx, "750A")
	require.NoError(t, err)
	assert.True(t, open)

	require.NoError(t, registry.Complete(ctx, "750A"))
	require.NoError(t, registry.Complete(ctx, "750A"), "completing twice is fine")

	open, err = registry.IsOpen(ctx, "750A")
	require.NoError(t, err)
	assert.False(t, open)

	jobs, err := registry.ListOpen(ctx)
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestJobRegistry_RegisterTwiceKeepsOneEntry(t *testing.T) {
	registry, _ := newTestRegistry(t)
	ctx := testContext(t)

	job := openJob("750A", time.Now())
	require.NoError(t, registry.Register(ctx, job))
	job.Object = "Contact"
	require.NoError(t, registry.Register(ctx, job))

	jobs, err := registry.ListOpen(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "Contact", jobs[0].Object)
}

func TestJobRegistry_RejectsMissingID(t *testing.T) {
	registry, _ := newTestRegistry(t)
	assert.Error(t, registry.Register(testContext(t), &models.OpenJob{}))
	assert.Error(t, registry.Register(testContext(t), nil))
}

func TestJobRegistry_EntriesExpire(t *testing.T) {
	registry, mr := newTestRegistry(t)
	ctx := testContext(t)

	require.NoError(t, registry.Register(ctx, openJob("750A", time.Now())))
	mr.FastForward(DefaultRegistryTTL + time.Second)

	jobs, err := registry.ListOpen(ctx)
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestJobRegistry_RedisDown(t *testing.T) {
	registry, mr := newTestRegistry(t)
	mr.Close()

	assert.Error(t, registry.Register(testContext(t), openJob("750A", time.Now())))
	_, err := registry.ListOpen(testContext(t))
	assert.Error(t, err)
}
