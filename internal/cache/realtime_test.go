package cache

import (
	"context"
	"testing"
	"time"

	"fleet-core/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client, *RealtimeCache) {
	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	cache := NewRealtimeCache(redisClient, zap.NewNop())

	return mr, redisClient, cache
}

func TestSetAndGetSnapshot(t *testing.T) {
	mr, redisClient, cache := setupTestRedis(t)
	defer redisClient.Close()

	robot := &models.Robot{
		SerialNumber: "R-100",
		Model:        models.ModelGMW100,
		Status:       models.StatusActive,
		Health:       models.Health{Battery: 87, Temperature: 41.5, MotorHealth: 92},
		LastSeen:     time.Now().UTC().Truncate(time.Second),
	}

	ctx := context.Background()
	require.NoError(t, cache.SetSnapshot(ctx, robot))

	// 快照键带 TTL
	assert.True(t, mr.Exists("fleet:robot:R-100:realtime"))
	assert.Greater(t, mr.TTL("fleet:robot:R-100:realtime"), time.Duration(0))

	got, err := cache.GetSnapshot(ctx, "R-100")
	require.NoError(t, err)
	assert.Equal(t, robot.SerialNumber, got.SerialNumber)
	assert.Equal(t, robot.Health.Battery, got.Health.Battery)
	assert.Equal(t, robot.Status, got.Status)
}

func TestGetSnapshot_Miss(t *testing.T) {
	_, redisClient, cache := setupTestRedis(t)
	defer redisClient.Close()

	_, err := cache.GetSnapshot(context.Background(), "R-404")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestSetSnapshot_Overwrites(t *testing.T) {
	_, redisClient, cache := setupTestRedis(t)
	defer redisClient.Close()

	ctx := context.Background()
	robot := &models.Robot{SerialNumber: "R-100", Health: models.Health{Battery: 87}}
	require.NoError(t, cache.SetSnapshot(ctx, robot))

	robot.Health.Battery = 62
	require.NoError(t, cache.SetSnapshot(ctx, robot))

	got, err := cache.GetSnapshot(ctx, "R-100")
	require.NoError(t, err)
	assert.Equal(t, 62.0, got.Health.Battery)
}

func TestAppendTelemetry(t *testing.T) {
	_, redisClient, cache := setupTestRedis(t)
	defer redisClient.Close()

	battery := 87.0
	record := &models.Telemetry{
		RobotID:    "R-100",
		Battery:    &battery,
		ReceivedAt: time.Now(),
	}

	ctx := context.Background()
	id, err := cache.AppendTelemetry(ctx, record)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	// 流中能读回同一条记录
	entries, err := redisClient.XRange(ctx, "fleet:telemetry:stream", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "R-100", entries[0].Values["robot_id"])
}
