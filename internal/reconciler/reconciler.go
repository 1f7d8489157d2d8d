package reconciler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"fleet-core/internal/config"
	"fleet-core/internal/models"

	"go.uber.org/zap"
)

// Registry 机器人注册表接口（外部协作方，便于测试替换）
type Registry interface {
	GetBySerialNumber(ctx context.Context, serialNumber string) (*models.Robot, error)
	UpdateTelemetry(ctx context.Context, robot *models.Robot) error
	UpdateStatus(ctx context.Context, serialNumber, status string) error
	UpdateMotorHealth(ctx context.Context, serialNumber string, motorHealth float64) error
	ListStale(ctx context.Context, cutoff time.Time) ([]*models.Robot, error)
}

// Snapshots 实时快照写入接口（失败不阻断主流程）
type Snapshots interface {
	SetSnapshot(ctx context.Context, robot *models.Robot) error
	AppendTelemetry(ctx context.Context, record *models.Telemetry) (string, error)
}

// Reconciler 实体状态调和器
// 把单条遥测记录合并进机器人实体，计算派生字段并检测阈值穿越
type Reconciler struct {
	config   *config.Config
	registry Registry
	cache    Snapshots
	logger   *zap.Logger
	now      func() time.Time
}

// NewReconciler 创建实体状态调和器
func NewReconciler(
	cfg *config.Config,
	registry Registry,
	snapshots Snapshots,
	logger *zap.Logger,
) *Reconciler {
	return &Reconciler{
		config:   cfg,
		registry: registry,
		cache:    snapshots,
		logger:   logger,
		now:      time.Now,
	}
}

// ApplyTelemetry 应用单条遥测记录
// 返回本次更新产生的阈值穿越条件集合和合并后的实体快照。
// 机器人不存在时返回 repository.ErrRobotNotFound（调用方丢弃该消息，
// 注册完成后的后续遥测会被正常接收）
func (r *Reconciler) ApplyTelemetry(ctx context.Context, record *models.Telemetry) (*models.Robot, []models.Condition, error) {
	lookupCtx, cancel := context.WithTimeout(ctx, r.config.Fleet.RegistryTimeout)
	defer cancel()

	robot, err := r.registry.GetBySerialNumber(lookupCtx, record.RobotID)
	if err != nil {
		return nil, nil, err
	}

	wasOnline := robot.IsOnline(record.ReceivedAt)
	prevHealth := robot.Health

	// 部分更新语义：只合并本条消息携带的字段
	r.merge(robot, record)

	var conditions []models.Condition

	// 离线恢复：上一条状态为不在线，本条把 lastSeen 拉回窗口内
	if !wasOnline {
		conditions = append(conditions, models.Condition{
			RobotID:  robot.SerialNumber,
			Type:     models.AlertConnectionLost,
			Severity: models.SeverityInfo,
			Message:  fmt.Sprintf("Robot %s reconnected", robot.SerialNumber),
		})
		if robot.Status == models.StatusOffline {
			robot.Status = models.StatusIdle
		}
	}

	robot.LastSeen = record.ReceivedAt

	// 幂等写入（有界超时 + 退避重试）
	if err := r.persist(ctx, robot); err != nil {
		return nil, nil, fmt.Errorf("failed to persist robot %s: %w", robot.SerialNumber, err)
	}

	// 快照与历史流写入有界超时，失败只降级为日志
	cacheCtx, cacheCancel := context.WithTimeout(ctx, r.config.Fleet.RegistryTimeout)
	defer cacheCancel()

	if err := r.cache.SetSnapshot(cacheCtx, robot); err != nil {
		r.logger.Warn("Failed to update realtime snapshot",
			zap.String("robot_id", robot.SerialNumber),
			zap.Error(err),
		)
	}
	if _, err := r.cache.AppendTelemetry(cacheCtx, record); err != nil {
		r.logger.Warn("Failed to append telemetry to stream",
			zap.String("robot_id", robot.SerialNumber),
			zap.Error(err),
		)
	}

	conditions = append(conditions, r.detectCrossings(robot.SerialNumber, prevHealth, robot.Health)...)
	conditions = append(conditions, r.detectErrors(robot.SerialNumber, record.Errors)...)

	return robot, conditions, nil
}

// merge 合并遥测记录中携带的字段（缺省字段保持原值）
func (r *Reconciler) merge(robot *models.Robot, record *models.Telemetry) {
	if record.Battery != nil {
		robot.Health.Battery = *record.Battery
	}
	if record.Temperature != nil {
		robot.Health.Temperature = *record.Temperature
	}
	if record.MotorHealth != nil {
		robot.Health.MotorHealth = *record.MotorHealth
	}
	if record.Coordinates != nil {
		robot.Location.Coordinates = record.Coordinates
	}
	if record.TasksDelta != nil {
		robot.Performance.TasksCompleted += *record.TasksDelta
	}
	if record.Efficiency != nil {
		robot.Performance.Efficiency = *record.Efficiency
	}
	if len(record.Errors) > 0 && robot.Status != models.StatusMaintenance {
		robot.Status = models.StatusError
	}
}

// persist 有界超时写入注册表，失败按配置退避重试（写入按序列号幂等）
func (r *Reconciler) persist(ctx context.Context, robot *models.Robot) error {
	var lastErr error
	delay := r.config.Fleet.RegistryRetryDelay

	for attempt := 0; attempt <= r.config.Fleet.RegistryRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}

		writeCtx, cancel := context.WithTimeout(ctx, r.config.Fleet.RegistryTimeout)
		lastErr = r.registry.UpdateTelemetry(writeCtx, robot)
		cancel()

		if lastErr == nil {
			return nil
		}

		r.logger.Warn("Registry write failed, retrying",
			zap.String("robot_id", robot.SerialNumber),
			zap.Int("attempt", attempt+1),
			zap.Error(lastErr),
		)
	}

	return lastErr
}

// detectCrossings 阈值穿越检测
// 只在旧值和新值跨过边界时触发，持续低于阈值不重复触发
func (r *Reconciler) detectCrossings(robotID string, prev, curr models.Health) []models.Condition {
	t := r.config.Fleet.Thresholds
	var conditions []models.Condition

	// 电量：一次更新同时穿过两条线时只报更严重的一条
	if prev.Battery >= t.BatteryCritical && curr.Battery < t.BatteryCritical {
		conditions = append(conditions, models.Condition{
			RobotID:  robotID,
			Type:     models.AlertBatteryLow,
			Severity: models.SeverityCritical,
			Message:  fmt.Sprintf("Battery critically low: %.1f%%", curr.Battery),
		})
	} else if prev.Battery >= t.BatteryLow && curr.Battery < t.BatteryLow {
		conditions = append(conditions, models.Condition{
			RobotID:  robotID,
			Type:     models.AlertBatteryLow,
			Severity: models.SeverityWarning,
			Message:  fmt.Sprintf("Battery low: %.1f%%", curr.Battery),
		})
	}

	if prev.Temperature <= t.TemperatureHigh && curr.Temperature > t.TemperatureHigh {
		conditions = append(conditions, models.Condition{
			RobotID:  robotID,
			Type:     models.AlertTemperatureHigh,
			Severity: models.SeverityError,
			Message:  fmt.Sprintf("Temperature high: %.1f°C", curr.Temperature),
		})
	}

	if prev.MotorHealth >= t.MotorHealthFloor && curr.MotorHealth < t.MotorHealthFloor {
		conditions = append(conditions, models.Condition{
			RobotID:  robotID,
			Type:     models.AlertMotorFailure,
			Severity: models.SeverityCritical,
			Message:  fmt.Sprintf("Motor health critical: %.1f%%", curr.MotorHealth),
		})
	}

	return conditions
}

// detectErrors 遥测错误列表检测（目前只识别碰撞）
func (r *Reconciler) detectErrors(robotID string, errs []string) []models.Condition {
	var conditions []models.Condition
	for _, e := range errs {
		if strings.Contains(strings.ToLower(e), "collision") {
			conditions = append(conditions, models.Condition{
				RobotID:  robotID,
				Type:     models.AlertCollisionDetected,
				Severity: models.SeverityError,
				Message:  fmt.Sprintf("Collision reported: %s", e),
			})
			break
		}
	}
	return conditions
}

// ScanOffline 离线扫描：把 lastSeen 超窗且未标记离线的机器人置为 offline，
// 并产出 connection_lost 条件（没有入站消息可携带这种穿越，只能周期扫描）
func (r *Reconciler) ScanOffline(ctx context.Context) ([]models.Condition, error) {
	cutoff := r.now().Add(-models.OnlineWindow)

	listCtx, cancel := context.WithTimeout(ctx, r.config.Fleet.RegistryTimeout)
	defer cancel()

	stale, err := r.registry.ListStale(listCtx, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale robots: %w", err)
	}

	var conditions []models.Condition
	for _, robot := range stale {
		updateCtx, cancel := context.WithTimeout(ctx, r.config.Fleet.RegistryTimeout)
		err := r.registry.UpdateStatus(updateCtx, robot.SerialNumber, models.StatusOffline)
		cancel()
		if err != nil {
			r.logger.Error("Failed to mark robot offline",
				zap.String("robot_id", robot.SerialNumber),
				zap.Error(err),
			)
			continue
		}

		conditions = append(conditions, models.Condition{
			RobotID:  robot.SerialNumber,
			Type:     models.AlertConnectionLost,
			Severity: models.SeverityError,
			Message:  fmt.Sprintf("Robot %s has not reported for over %s", robot.SerialNumber, models.OnlineWindow),
		})

		r.logger.Info("Robot marked offline",
			zap.String("robot_id", robot.SerialNumber),
			zap.Time("last_seen", robot.LastSeen),
		)
	}

	return conditions, nil
}

// StartMaintenance 进入维护状态（显式状态流转，外部协作方触发）
func (r *Reconciler) StartMaintenance(ctx context.Context, robotID string) error {
	return r.transitionStatus(ctx, robotID, models.StatusMaintenance)
}

// EndMaintenance 结束维护：状态回到 idle，电机健康度复位为100
func (r *Reconciler) EndMaintenance(ctx context.Context, robotID string) error {
	if err := r.transitionStatus(ctx, robotID, models.StatusIdle); err != nil {
		return err
	}

	updateCtx, cancel := context.WithTimeout(ctx, r.config.Fleet.RegistryTimeout)
	defer cancel()

	if err := r.registry.UpdateMotorHealth(updateCtx, robotID, 100); err != nil {
		return fmt.Errorf("failed to reset motor health: %w", err)
	}
	return nil
}

// Decommission 退役（终态，之后拒绝一切状态变更）
func (r *Reconciler) Decommission(ctx context.Context, robotID string) error {
	return r.transitionStatus(ctx, robotID, models.StatusDecommissioned)
}

func (r *Reconciler) transitionStatus(ctx context.Context, robotID, status string) error {
	lookupCtx, cancel := context.WithTimeout(ctx, r.config.Fleet.RegistryTimeout)
	defer cancel()

	robot, err := r.registry.GetBySerialNumber(lookupCtx, robotID)
	if err != nil {
		return err
	}

	if robot.Status == models.StatusDecommissioned {
		return fmt.Errorf("robot %s is decommissioned", robotID)
	}

	updateCtx, cancel := context.WithTimeout(ctx, r.config.Fleet.RegistryTimeout)
	defer cancel()

	if err := r.registry.UpdateStatus(updateCtx, robotID, status); err != nil {
		return fmt.Errorf("failed to update robot status: %w", err)
	}

	r.logger.Info("Robot status changed",
		zap.String("robot_id", robotID),
		zap.String("status", status),
	)

	return nil
}
