package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"fleet-core/internal/models"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// ErrMiss 缓存未命中
var ErrMiss = errors.New("cache miss")

// 缓存键格式与遥测流名称
const (
	realtimeKeyPrefix = "fleet:robot:"
	realtimeKeySuffix = ":realtime"
	telemetryStream   = "fleet:telemetry:stream"
	realtimeTTL       = 10 * time.Minute
)

// RealtimeCache 实时快照缓存
// 每个机器人保留最新一条遥测合并结果，供读取端免查库；
// 同时把每条遥测追加到 Redis Stream，供下游历史服务消费
type RealtimeCache struct {
	redisClient *redis.Client
	logger      *zap.Logger
}

// NewRealtimeCache 创建实时快照缓存
func NewRealtimeCache(redisClient *redis.Client, logger *zap.Logger) *RealtimeCache {
	return &RealtimeCache{
		redisClient: redisClient,
		logger:      logger,
	}
}

// SetSnapshot 写入机器人最新遥测快照（带 TTL）
func (c *RealtimeCache) SetSnapshot(ctx context.Context, robot *models.Robot) error {
	key := snapshotKey(robot.SerialNumber)

	jsonData, err := json.Marshal(robot)
	if err != nil {
		return fmt.Errorf("failed to marshal robot snapshot: %w", err)
	}

	if err := c.redisClient.Set(ctx, key, jsonData, realtimeTTL).Err(); err != nil {
		return fmt.Errorf("failed to set robot snapshot: %w", err)
	}

	c.logger.Debug("Updated realtime snapshot",
		zap.String("robot_id", robot.SerialNumber),
		zap.String("key", key),
	)

	return nil
}

// GetSnapshot 读取机器人最新遥测快照
func (c *RealtimeCache) GetSnapshot(ctx context.Context, robotID string) (*models.Robot, error) {
	key := snapshotKey(robotID)

	val, err := c.redisClient.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, fmt.Errorf("%w: robot_id=%s", ErrMiss, robotID)
		}
		return nil, fmt.Errorf("failed to get robot snapshot: %w", err)
	}

	var robot models.Robot
	if err := json.Unmarshal([]byte(val), &robot); err != nil {
		return nil, fmt.Errorf("failed to unmarshal robot snapshot: %w", err)
	}

	return &robot, nil
}

// AppendTelemetry 把遥测记录追加到历史流（XADD）
// 失败只记录日志由调用方决定，不影响主流程
func (c *RealtimeCache) AppendTelemetry(ctx context.Context, record *models.Telemetry) (string, error) {
	jsonData, err := json.Marshal(record)
	if err != nil {
		return "", fmt.Errorf("failed to marshal telemetry: %w", err)
	}

	id, err := c.redisClient.XAdd(ctx, &redis.XAddArgs{
		Stream: telemetryStream,
		Values: map[string]interface{}{
			"robot_id":  record.RobotID,
			"data":      string(jsonData),
			"timestamp": record.ReceivedAt.Unix(),
		},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("failed to append to telemetry stream: %w", err)
	}

	return id, nil
}

func snapshotKey(robotID string) string {
	return realtimeKeyPrefix + robotID + realtimeKeySuffix
}
