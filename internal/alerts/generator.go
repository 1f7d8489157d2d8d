package alerts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fleet-core/internal/models"
	"fleet-core/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrInvalidTransition 报警状态机违例
// 上抛给调用方而不是静默忽略：这通常意味着并发竞争或重复操作
var ErrInvalidTransition = errors.New("invalid alert transition")

// Sink 报警存储接口（外部协作方）
type Sink interface {
	FindActive(ctx context.Context, robotID, alertType string) (*models.Alert, error)
	GetByID(ctx context.Context, alertID string) (*models.Alert, error)
	Create(ctx context.Context, alert *models.Alert) error
	Update(ctx context.Context, alert *models.Alert) error
}

// 未显式配置时的存储调用超时兜底
const defaultSinkTimeout = 3 * time.Second

// Generator 报警生成器
// 负责去重不变式（同一 (robot_id, type) 至多一条 active 报警）
// 和状态机 active → acknowledged → resolved（允许 active → resolved 直达）
type Generator struct {
	sink        Sink
	sinkTimeout time.Duration
	logger      *zap.Logger
	now         func() time.Time
}

// NewGenerator 创建报警生成器
// sinkTimeout 约束单次操作内的全部存储调用：
// 生成器运行在分片工作协程上，挂死的存储连接不能拖住整个分片
func NewGenerator(sink Sink, sinkTimeout time.Duration, logger *zap.Logger) *Generator {
	if sinkTimeout <= 0 {
		sinkTimeout = defaultSinkTimeout
	}
	return &Generator{
		sink:        sink,
		sinkTimeout: sinkTimeout,
		logger:      logger,
		now:         time.Now,
	}
}

// Raise 处理一个阈值穿越条件
// 已有活跃报警时不新建：级别升级则只上调级别并追加 re-triggered 动作
// （级别只升不降）。info 级的 connection_lost 条件表示恢复连接，
// 自动解决对应的活跃报警。
// 返回因本条件新建或变更的报警；无变更时返回 nil
func (g *Generator) Raise(ctx context.Context, condition models.Condition) (*models.Alert, error) {
	ctx, cancel := context.WithTimeout(ctx, g.sinkTimeout)
	defer cancel()

	// 恢复连接：自动解决活跃的 connection_lost 报警
	if condition.Type == models.AlertConnectionLost && condition.Severity == models.SeverityInfo {
		return g.autoResolve(ctx, condition)
	}

	existing, err := g.sink.FindActive(ctx, condition.RobotID, condition.Type)
	if err != nil && !errors.Is(err, repository.ErrAlertNotFound) {
		return nil, fmt.Errorf("failed to look up active alert: %w", err)
	}

	now := g.now()

	if existing != nil {
		// 去重：不创建第二条活跃报警
		if models.SeverityRank(condition.Severity) <= models.SeverityRank(existing.Severity) {
			g.logger.Debug("Active alert already exists, condition suppressed",
				zap.String("robot_id", condition.RobotID),
				zap.String("type", condition.Type),
				zap.String("alert_id", existing.AlertID),
			)
			return nil, nil
		}

		// 级别升级：上调级别并留下审计动作
		existing.Severity = condition.Severity
		existing.Message = condition.Message
		existing.Actions = append(existing.Actions, models.AlertAction{
			Action:      "re-triggered",
			PerformedBy: "system",
			PerformedAt: now,
			Notes:       strPtr(fmt.Sprintf("severity escalated to %s", condition.Severity)),
		})
		existing.UpdatedAt = now

		if err := g.sink.Update(ctx, existing); err != nil {
			return nil, fmt.Errorf("failed to escalate alert: %w", err)
		}

		g.logger.Info("Alert severity escalated",
			zap.String("alert_id", existing.AlertID),
			zap.String("robot_id", existing.RobotID),
			zap.String("type", existing.Type),
			zap.String("severity", existing.Severity),
		)
		return existing, nil
	}

	alert := &models.Alert{
		AlertID:     uuid.New().String(),
		RobotID:     condition.RobotID,
		Type:        condition.Type,
		Severity:    condition.Severity,
		Status:      models.AlertStatusActive,
		Message:     condition.Message,
		TriggeredAt: now,
		Actions: []models.AlertAction{
			{
				Action:      "created",
				PerformedBy: "system",
				PerformedAt: now,
			},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := g.sink.Create(ctx, alert); err != nil {
		return nil, fmt.Errorf("failed to create alert: %w", err)
	}

	g.logger.Info("Alert raised",
		zap.String("alert_id", alert.AlertID),
		zap.String("robot_id", alert.RobotID),
		zap.String("type", alert.Type),
		zap.String("severity", alert.Severity),
	)

	return alert, nil
}

// autoResolve 恢复连接时解决活跃的 connection_lost 报警
func (g *Generator) autoResolve(ctx context.Context, condition models.Condition) (*models.Alert, error) {
	existing, err := g.sink.FindActive(ctx, condition.RobotID, condition.Type)
	if err != nil {
		if errors.Is(err, repository.ErrAlertNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to look up active alert: %w", err)
	}

	now := g.now()
	by := "system"
	existing.Status = models.AlertStatusResolved
	existing.ResolvedAt = &now
	existing.ResolvedBy = &by
	existing.Actions = append(existing.Actions, models.AlertAction{
		Action:      "resolved",
		PerformedBy: by,
		PerformedAt: now,
		Notes:       strPtr(condition.Message),
	})
	existing.UpdatedAt = now

	if err := g.sink.Update(ctx, existing); err != nil {
		return nil, fmt.Errorf("failed to auto-resolve alert: %w", err)
	}

	g.logger.Info("Alert auto-resolved on reconnect",
		zap.String("alert_id", existing.AlertID),
		zap.String("robot_id", existing.RobotID),
	)

	return existing, nil
}

// Acknowledge 确认报警（仅允许 active → acknowledged）
func (g *Generator) Acknowledge(ctx context.Context, alertID, actor string) (*models.Alert, error) {
	if actor == "" {
		return nil, fmt.Errorf("actor is required")
	}

	ctx, cancel := context.WithTimeout(ctx, g.sinkTimeout)
	defer cancel()

	alert, err := g.sink.GetByID(ctx, alertID)
	if err != nil {
		return nil, err
	}

	if alert.Status != models.AlertStatusActive {
		return nil, fmt.Errorf("%w: cannot acknowledge alert in status %s", ErrInvalidTransition, alert.Status)
	}

	now := g.now()
	alert.Status = models.AlertStatusAcknowledged
	alert.AcknowledgedAt = &now
	alert.AcknowledgedBy = &actor
	alert.Actions = append(alert.Actions, models.AlertAction{
		Action:      "acknowledged",
		PerformedBy: actor,
		PerformedAt: now,
	})
	alert.UpdatedAt = now

	if err := g.sink.Update(ctx, alert); err != nil {
		return nil, fmt.Errorf("failed to acknowledge alert: %w", err)
	}

	return alert, nil
}

// Resolve 解决报警（允许 active → resolved 和 acknowledged → resolved）
func (g *Generator) Resolve(ctx context.Context, alertID, actor string, notes *string) (*models.Alert, error) {
	if actor == "" {
		return nil, fmt.Errorf("actor is required")
	}

	ctx, cancel := context.WithTimeout(ctx, g.sinkTimeout)
	defer cancel()

	alert, err := g.sink.GetByID(ctx, alertID)
	if err != nil {
		return nil, err
	}

	if alert.Status == models.AlertStatusResolved {
		return nil, fmt.Errorf("%w: alert already resolved", ErrInvalidTransition)
	}

	now := g.now()
	alert.Status = models.AlertStatusResolved
	alert.ResolvedAt = &now
	alert.ResolvedBy = &actor
	alert.Actions = append(alert.Actions, models.AlertAction{
		Action:      "resolved",
		PerformedBy: actor,
		PerformedAt: now,
		Notes:       notes,
	})
	alert.UpdatedAt = now

	if err := g.sink.Update(ctx, alert); err != nil {
		return nil, fmt.Errorf("failed to resolve alert: %w", err)
	}

	return alert, nil
}

// Escalate 手动升级报警级别（仅对非终态报警有效，级别只升不降）
func (g *Generator) Escalate(ctx context.Context, alertID, actor, reason string) (*models.Alert, error) {
	if actor == "" {
		return nil, fmt.Errorf("actor is required")
	}

	ctx, cancel := context.WithTimeout(ctx, g.sinkTimeout)
	defer cancel()

	alert, err := g.sink.GetByID(ctx, alertID)
	if err != nil {
		return nil, err
	}

	if alert.Status == models.AlertStatusResolved {
		return nil, fmt.Errorf("%w: cannot escalate resolved alert", ErrInvalidTransition)
	}

	next := nextSeverity(alert.Severity)
	if next == alert.Severity {
		return nil, fmt.Errorf("%w: alert already at %s", ErrInvalidTransition, alert.Severity)
	}

	now := g.now()
	alert.Severity = next
	alert.Actions = append(alert.Actions, models.AlertAction{
		Action:      "escalated",
		PerformedBy: actor,
		PerformedAt: now,
		Notes:       strPtr(reason),
	})
	alert.UpdatedAt = now

	if err := g.sink.Update(ctx, alert); err != nil {
		return nil, fmt.Errorf("failed to escalate alert: %w", err)
	}

	return alert, nil
}

// nextSeverity 返回上一级报警级别，critical 已是顶级
func nextSeverity(severity string) string {
	switch severity {
	case models.SeverityInfo:
		return models.SeverityWarning
	case models.SeverityWarning:
		return models.SeverityError
	case models.SeverityError:
		return models.SeverityCritical
	}
	return severity
}

func strPtr(s string) *string {
	return &s
}
