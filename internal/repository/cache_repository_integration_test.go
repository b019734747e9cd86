//go:build integration

package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	appErrors "github.com/noah-isme/qbank-api/pkg/errors"
)

func setupRedis(t *testing.T) *redis.Client {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "docker.io/redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("terminate redis container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: fmt.Sprintf("%s:%s", host, port.Port())})
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.Ping(ctx).Err())
	return client
}

func TestCacheRepositoryIntegration(t *testing.T) {
	client := setupRedis(t)
	repo := NewCacheRepository(client, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, repo.Set(ctx, "files:completeness:10", map[string]bool{"hasAnswerKey": true}, time.Minute))
	require.NoError(t, repo.Set(ctx, "files:stats:10", []int{1, 2}, time.Minute))
	require.NoError(t, repo.Set(ctx, "files:stats:11", []int{3}, time.Minute))

	var got map[string]bool
	require.NoError(t, repo.Get(ctx, "files:completeness:10", &got))
	assert.True(t, got["hasAnswerKey"])

	exists, err := client.Exists(ctx, CacheNamespace+"files:stats:10").Result()
	require.NoError(t, err)
	assert.EqualValues(t, 1, exists)

	require.NoError(t, repo.DeleteByPattern(ctx, "files:*:10"))
	assert.ErrorIs(t, repo.Get(ctx, "files:completeness:10", &got), appErrors.ErrCacheMiss)
	var other []int
	require.NoError(t, repo.Get(ctx, "files:stats:11", &other))
	assert.Equal(t, []int{3}, other)

	// Entries that no longer decode are dropped.
	require.NoError(t, client.Set(ctx, CacheNamespace+"files:stats:12", "not-json", time.Minute).Err())
	assert.ErrorIs(t, repo.Get(ctx, "files:stats:12", &other), appErrors.ErrCacheMiss)
	exists, err = client.Exists(ctx, CacheNamespace+"files:stats:12").Result()
	require.NoError(t, err)
	assert.Zero(t, exists)
}
