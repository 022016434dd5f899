package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/noah-isme/spire-automator/pkg/errors"
)

func TestSnapshotCacheRepositoryWithoutClient(t *testing.T) {
	repo := NewSnapshotCacheRepository(nil, "", nil)
	ctx := context.Background()

	var dest map[string]string
	err := repo.Get(ctx, "status:latest", &dest)
	assert.True(t, errors.Is(err, appErrors.ErrCacheMiss))

	assert.NoError(t, repo.Set(ctx, "status:latest", map[string]string{"a": "b"}, time.Minute))
	assert.NoError(t, repo.DeleteByPattern(ctx, "status:*"))
	assert.NoError(t, repo.Close())
	assert.Equal(t, "spire-automator:status:latest", repo.key("status:latest"))
}

func TestSnapshotCacheRepositoryUnreachableRedis(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond, MaxRetries: -1})
	repo := NewSnapshotCacheRepository(client, "test", nil)
	defer repo.Close()

	var dest map[string]string
	err := repo.Get(context.Background(), "status:latest", &dest)
	require.Error(t, err)
	assert.False(t, errors.Is(err, appErrors.ErrCacheMiss))

	err = repo.Set(context.Background(), "status:latest", map[string]string{}, time.Minute)
	assert.Error(t, err)
}
