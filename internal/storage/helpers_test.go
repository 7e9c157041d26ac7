package storage

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/bulk-loader/internal/models"
)

// testContext bounds a storage call made from a test
func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// newTestRegistry returns a registry over a fresh in-memory Redis
func newTestRegistry(t *testing.T) (*JobRegistry, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewJobRegistry(NewRedisCacheFromClient(client)), mr
}

func openJob(id string, created time.Time) *models.OpenJob {
	return &models.OpenJob{
		JobID:     id,
		RunID:     "run-" + id,
		Operation: "insert",
		Object:    "Account",
		CreatedAt: created,
	}
}
