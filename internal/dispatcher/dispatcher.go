package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"fleet-core/internal/config"
	"fleet-core/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// 命令下发错误
var (
	// ErrTargetOffline 目标离线：命令不排队，立即失败，由调用方决定是否重试
	ErrTargetOffline = errors.New("target robot is offline")
	// ErrCommandNotFound 命令不存在
	ErrCommandNotFound = errors.New("command not found")
)

// Registry 在线判定所需的注册表视图
type Registry interface {
	GetBySerialNumber(ctx context.Context, serialNumber string) (*models.Robot, error)
}

// Publisher 总线发布原语
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
}

// Dispatcher 命令下发器
// 下发即返回（不等机器人回执），后续由 command-ack 入站路径
// 和超时巡检把 pending 记录推进到终态
type Dispatcher struct {
	config    *config.Config
	registry  Registry
	publisher Publisher
	store     *CommandStore
	logger    *zap.Logger
	now       func() time.Time
}

// NewDispatcher 创建命令下发器
func NewDispatcher(
	cfg *config.Config,
	registry Registry,
	publisher Publisher,
	logger *zap.Logger,
) *Dispatcher {
	return &Dispatcher{
		config:    cfg,
		registry:  registry,
		publisher: publisher,
		store:     NewCommandStore(),
		logger:    logger,
		now:       time.Now,
	}
}

// Send 下发命令
// 在线检查基于注册表单次读取的 lastSeen 派生值（单点原子判断，
// 避免"先查状态再分支"的竞态窗口）。目标离线时不登记命令记录。
// 成功时返回关联ID，不阻塞等待回执
func (d *Dispatcher) Send(ctx context.Context, robotID, command string, parameters map[string]any, issuer string) (string, error) {
	if command == "" {
		return "", fmt.Errorf("command is required")
	}

	lookupCtx, cancel := context.WithTimeout(ctx, d.config.Fleet.RegistryTimeout)
	defer cancel()

	robot, err := d.registry.GetBySerialNumber(lookupCtx, robotID)
	if err != nil {
		return "", err
	}

	now := d.now()
	if !robot.IsOnline(now) {
		return "", fmt.Errorf("%w: robot_id=%s last_seen=%s", ErrTargetOffline, robotID, robot.LastSeen.Format(time.RFC3339))
	}

	if parameters == nil {
		parameters = map[string]any{}
	}

	cmd := &models.Command{
		CommandID:  uuid.New().String(),
		RobotID:    robotID,
		Command:    command,
		Parameters: parameters,
		IssuedBy:   issuer,
		IssuedAt:   now,
		Status:     models.CommandStatusPending,
		UpdatedAt:  now,
	}

	payload, err := json.Marshal(models.CommandPayload{
		Command:    command,
		Parameters: parameters,
		Timestamp:  now,
		CommandID:  cmd.CommandID,
		IssuedBy:   issuer,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal command payload: %w", err)
	}

	d.store.Put(cmd)

	topic := fmt.Sprintf("%s/%s/commands", d.config.Fleet.TopicNamespace, robotID)
	if err := d.publisher.Publish(topic, d.config.MQTT.QoS, false, payload); err != nil {
		// 发布失败直接置为 failed，调用方显式重发
		d.store.CompareAndTransition(cmd.CommandID, models.CommandStatusPending, models.CommandStatusFailed)
		return "", fmt.Errorf("failed to publish command: %w", err)
	}

	d.logger.Info("Command sent",
		zap.String("command_id", cmd.CommandID),
		zap.String("robot_id", robotID),
		zap.String("command", command),
		zap.String("issued_by", issuer),
	)

	return cmd.CommandID, nil
}

// Status 查询命令状态
func (d *Dispatcher) Status(commandID string) (*models.Command, error) {
	cmd, ok := d.store.Get(commandID)
	if !ok {
		return nil, fmt.Errorf("%w: command_id=%s", ErrCommandNotFound, commandID)
	}
	return cmd, nil
}

// HandleAck 处理 command-ack 通道的回执
// pending → acknowledged/failed 由 CAS 保证只生效一次；
// 巡检已抢先置为 timed_out 的命令，迟到的回执是空操作
func (d *Dispatcher) HandleAck(robotID string, payload []byte) error {
	var ack models.CommandAck
	if err := json.Unmarshal(payload, &ack); err != nil {
		return fmt.Errorf("failed to unmarshal command ack: %w", err)
	}
	if ack.CommandID == "" {
		return fmt.Errorf("command ack missing commandId")
	}

	cmd, ok := d.store.Get(ack.CommandID)
	if !ok {
		d.logger.Warn("Ack for unknown command",
			zap.String("command_id", ack.CommandID),
			zap.String("robot_id", robotID),
		)
		return nil
	}
	if cmd.RobotID != robotID {
		d.logger.Warn("Ack robot mismatch, ignoring",
			zap.String("command_id", ack.CommandID),
			zap.String("expected_robot", cmd.RobotID),
			zap.String("actual_robot", robotID),
		)
		return nil
	}

	target := models.CommandStatusAcknowledged
	if ack.Status == "failed" {
		target = models.CommandStatusFailed
	}

	if d.store.CompareAndTransition(ack.CommandID, models.CommandStatusPending, target) {
		d.logger.Info("Command acknowledged",
			zap.String("command_id", ack.CommandID),
			zap.String("robot_id", robotID),
			zap.String("status", target),
		)
	} else {
		d.logger.Debug("Ack after terminal state, ignored",
			zap.String("command_id", ack.CommandID),
			zap.String("status", cmd.Status),
		)
	}

	return nil
}

// RunSweep 超时巡检循环：无回执的 pending 命令在超时后置为 timed_out
func (d *Dispatcher) RunSweep(ctx context.Context) {
	ticker := time.NewTicker(d.config.Fleet.Command.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.sweepOnce()
		}
	}
}

// sweepOnce 单次巡检
func (d *Dispatcher) sweepOnce() {
	cutoff := d.now().Add(-d.config.Fleet.Command.AckTimeout)
	for _, id := range d.store.PendingOlderThan(cutoff) {
		if d.store.CompareAndTransition(id, models.CommandStatusPending, models.CommandStatusTimedOut) {
			d.logger.Warn("Command timed out",
				zap.String("command_id", id),
			)
		}
	}
}
